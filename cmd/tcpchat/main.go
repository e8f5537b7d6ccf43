package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/codefionn/tcpchat/internal/client"
	"github.com/codefionn/tcpchat/internal/config"
	"github.com/codefionn/tcpchat/internal/logger"
	"github.com/codefionn/tcpchat/internal/securemem"
	"github.com/codefionn/tcpchat/internal/transport"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(args []string) (*config.ClientConfig, error) {
	fs := flag.NewFlagSet("tcpchat", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		configPath string
		serverAddr string
		nick       string
		color      string
		keySize    int
		noColor    bool
		logLevel   string
		logPath    string
	)
	fs.StringVar(&configPath, "config", config.ClientConfigPath(), "Path to the client config file")
	fs.StringVar(&serverAddr, "server", "", "Server address (host:port, or ws:// URL)")
	fs.StringVar(&nick, "nick", "", "Register with this nickname on connect")
	fs.StringVar(&color, "color", "", "Nickname color as #rrggbb")
	fs.IntVar(&keySize, "key-size", 0, "RSA key size in bits (must match the server)")
	fs.BoolVar(&noColor, "no-color", false, "Disable colored output")
	fs.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error, none)")
	fs.StringVar(&logPath, "log-path", "", "Log file")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [options]\n\nOptions:\n", fs.Name())
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := config.LoadClient(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "server":
			cfg.Server = serverAddr
		case "nick":
			cfg.Nick = nick
		case "color":
			cfg.Color = color
		case "key-size":
			cfg.KeySize = keySize
		case "no-color":
			cfg.NoColor = noColor
		case "log-level":
			cfg.LogLevel = logLevel
		case "log-path":
			cfg.LogPath = logPath
		}
	})
	return cfg, nil
}

func dial(ctx context.Context, addr string) (*transport.Conn, error) {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		return transport.DialWebSocket(ctx, addr, transport.DialOptions{})
	}
	return transport.Dial(ctx, addr, transport.DialOptions{})
}

func run() error {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		return err
	}

	// The prompt owns the terminal, so logs never go to stderr by default.
	level, _ := logger.ParseLevel(cfg.LogLevel)
	if err := logger.Init(level, cfg.LogPath); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Global().Close()
	defer securemem.Purge()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := dial(ctx, cfg.Server)
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Fprintf(os.Stderr, "Generating %d-bit key pair...\n", cfg.KeySize)
	cl, err := client.New(conn, client.Options{KeySize: cfg.KeySize})
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer cl.Close()

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	color := !cfg.NoColor && os.Getenv("NO_COLOR") == "" && term.IsTerminal(int(os.Stdout.Fd()))
	out := newPrinter(os.Stdout, color)
	r := newREPL(cl, out)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	rendered := r.startEvents(ctx)

	runErr := make(chan error, 1)
	go func() {
		runErr <- conn.Run(ctx, cl)
		cancel()
	}()

	out.info("connected to %s", cfg.Server)
	if cfg.Nick != "" {
		if err := cl.Register(cfg.Nick, cfg.Color); err != nil {
			out.error(err)
		}
	} else {
		out.info("type /register <nick> to join, /help for commands")
	}

	prompt := ""
	if interactive {
		prompt = "> "
	}
	loopErr := r.loop(ctx, os.Stdin, prompt)

	cancel()
	conn.Close()
	<-rendered
	if err := <-runErr; err != nil {
		return fmt.Errorf("connection lost: %w", err)
	}
	return loopErr
}
