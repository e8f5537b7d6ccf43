package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"golang.org/x/sync/errgroup"

	"github.com/codefionn/tcpchat/internal/config"
	"github.com/codefionn/tcpchat/internal/consts"
	"github.com/codefionn/tcpchat/internal/logger"
	"github.com/codefionn/tcpchat/internal/pidfile"
	"github.com/codefionn/tcpchat/internal/pprof"
	"github.com/codefionn/tcpchat/internal/securemem"
	"github.com/codefionn/tcpchat/internal/server"
	"github.com/codefionn/tcpchat/internal/transport"
)

type options struct {
	configPath string
	cpuProfile string
	overrides  func(cfg *config.ServerConfig)
}

func main() {
	code, err := run()
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(code)
}

func parseFlags(args []string) (*options, error) {
	fs := flag.NewFlagSet("tcpchat-server", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		configPath     string
		listen         string
		wsListen       string
		wsPath         string
		keySize        int
		maxConnections int
		logLevel       string
		logPath        string
		pidFile        string
		debugListen    string
		cpuProfile     string
	)
	fs.StringVar(&configPath, "config", config.ServerConfigPath(), "Path to the server config file")
	fs.StringVar(&listen, "listen", "", "TCP address to accept clients on")
	fs.StringVar(&wsListen, "ws-listen", "", "Address for the WebSocket endpoint (disabled when empty)")
	fs.StringVar(&wsPath, "ws-path", "", "URL path of the WebSocket endpoint")
	fs.IntVar(&keySize, "key-size", 0, "RSA key size in bits every client must use")
	fs.IntVar(&maxConnections, "max-connections", 0, "Maximum concurrent connections")
	fs.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error, none)")
	fs.StringVar(&logPath, "log-path", "", "Log file, or \"stderr\"")
	fs.StringVar(&pidFile, "pid-file", "", "PID file guarding against a second server")
	fs.StringVar(&debugListen, "debug-listen", "", "Address for pprof, /healthz and /stats (disabled when empty)")
	fs.StringVar(&cpuProfile, "cpuprofile", "", "Write a CPU profile to this file until shutdown")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [options]\n\nOptions:\n", fs.Name())
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	return &options{
		configPath: configPath,
		cpuProfile: cpuProfile,
		overrides: func(cfg *config.ServerConfig) {
			if set["listen"] {
				cfg.Listen = listen
			}
			if set["ws-listen"] {
				cfg.WebSocketListen = wsListen
			}
			if set["ws-path"] {
				cfg.WebSocketPath = wsPath
			}
			if set["key-size"] {
				cfg.KeySize = keySize
			}
			if set["max-connections"] {
				cfg.MaxConnections = maxConnections
			}
			if set["log-level"] {
				cfg.LogLevel = logLevel
			}
			if set["log-path"] {
				cfg.LogPath = logPath
			}
			if set["pid-file"] {
				cfg.PIDFile = pidFile
			}
			if set["debug-listen"] {
				cfg.DebugListen = debugListen
			}
		},
	}, nil
}

func run() (int, error) {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		return 1, err
	}

	cfg, err := config.LoadServer(opts.configPath)
	if err != nil {
		return 1, fmt.Errorf("failed to load config: %w", err)
	}
	opts.overrides(cfg)
	if err := cfg.Validate(); err != nil {
		return 1, err
	}

	level, ok := logger.ParseLevel(cfg.LogLevel)
	if !ok {
		fmt.Fprintf(os.Stderr, "Warning: unknown log level %q, using info\n", cfg.LogLevel)
	}
	if err := logger.Init(level, cfg.LogPath); err != nil {
		return 1, fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()
	slog.SetDefault(slog.New(logger.NewSlogHandler(logger.Global())))
	log := logger.Global().WithPrefix("main")

	if cfg.PIDFile != "" {
		pf := pidfile.New(cfg.PIDFile)
		if err := pf.Acquire(); err != nil {
			return 1, err
		}
		defer func() {
			if err := pf.Release(); err != nil {
				log.Warn("failed to remove pid file: %v", err)
			}
		}()
	}

	hub := transport.NewHub()
	chat := server.New(hub, server.Options{KeySize: cfg.KeySize})
	ts := transport.NewServer(chat, hub, transport.Options{
		MaxConnections: cfg.MaxConnections,
		MaxFrameSize:   cfg.MaxFrameSize,
		CommandRate:    cfg.CommandRate,
		CommandBurst:   cfg.CommandBurst,
	})

	debug := pprof.NewHandler(pprof.Config{HTTPAddr: cfg.DebugListen, CPUProfile: opts.cpuProfile}, func() any {
		return struct {
			server.Stats
			Connections int `json:"connections"`
		}{chat.Stats(), hub.Count()}
	})
	if err := debug.Start(); err != nil {
		return 1, err
	}

	tcpLn, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		debug.Stop(context.Background())
		return 1, fmt.Errorf("listen on %s: %w", cfg.Listen, err)
	}
	var wsLn net.Listener
	if cfg.WebSocketListen != "" {
		wsLn, err = net.Listen("tcp", cfg.WebSocketListen)
		if err != nil {
			tcpLn.Close()
			debug.Stop(context.Background())
			return 1, fmt.Errorf("listen on %s: %w", cfg.WebSocketListen, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ts.Serve(gctx, tcpLn) })
	if wsLn != nil {
		g.Go(func() error { return ts.ServeWebSocket(gctx, wsLn, cfg.WebSocketPath) })
	}
	go func() {
		if err := g.Wait(); err != nil {
			log.Error("listener failed: %v", err)
			interruptSelf()
		}
	}()

	if dir := filepath.Dir(opts.configPath); dirExists(dir) {
		go func() {
			err := config.WatchServer(ctx, opts.configPath, func(reloaded *config.ServerConfig) {
				opts.overrides(reloaded)
				if lvl, ok := logger.ParseLevel(reloaded.LogLevel); ok && lvl != logger.Global().GetLevel() {
					logger.Global().SetLevel(lvl)
					log.Info("log level changed to %s", lvl)
				}
			})
			if err != nil {
				log.Warn("config watcher stopped: %v", err)
			}
		}()
	}

	fmt.Fprintf(os.Stderr, "tcpchat-server listening on %s\n", tcpLn.Addr())
	if wsLn != nil {
		fmt.Fprintf(os.Stderr, "websocket endpoint on %s%s\n", wsLn.Addr(), cfg.WebSocketPath)
	}

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		consts.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"tcpchat-server": func(ctx context.Context) error {
				log.Info("shutting down")
				cancel()
				err := ts.Shutdown(ctx)
				chat.Stop()
				return errors.Join(err, debug.Stop(ctx))
			},
		},
	)
	code := <-wait
	securemem.Purge()
	log.Info("exited with code %d", code)
	return code, nil
}

func dirExists(dir string) bool {
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// interruptSelf triggers the same shutdown path as Ctrl+C.
func interruptSelf() {
	if p, err := os.FindProcess(os.Getpid()); err == nil {
		_ = p.Signal(os.Interrupt)
	}
}
