// Package pprof runs the server's debug listener: runtime profiles under
// /debug/pprof/, a liveness probe and a JSON view of the chat state.
package pprof

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	netpprof "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/codefionn/tcpchat/internal/logger"
)

// Config holds the debug listener configuration
type Config struct {
	HTTPAddr   string // e.g. "localhost:6060"; empty disables the listener
	CPUProfile string // written from Start until Stop
}

// Stats is called for every /stats request.
type Stats func() any

// Handler manages the debug listener and the optional CPU profile
type Handler struct {
	config  Config
	stats   Stats
	started time.Time
	log     *logger.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cpuFile  *os.File
	stopping bool
}

// NewHandler creates a handler. stats may be nil.
func NewHandler(config Config, stats Stats) *Handler {
	return &Handler{
		config: config,
		stats:  stats,
		log:    logger.Global().WithPrefix("debug"),
	}
}

// Mux returns the routes served by the debug listener.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", netpprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", netpprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", netpprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", netpprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", netpprof.Trace)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/stats", h.serveStats)
	return mux
}

func (h *Handler) serveStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body := map[string]any{
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	}
	if h.stats != nil {
		body["chat"] = h.stats()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Debug("write stats: %v", err)
	}
}

// Start begins CPU profiling and binds the listener, whichever is configured.
func (h *Handler) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = time.Now()

	if h.config.CPUProfile != "" {
		if err := os.MkdirAll(filepath.Dir(h.config.CPUProfile), 0755); err != nil {
			return fmt.Errorf("failed to create directory for CPU profile: %w", err)
		}
		f, err := os.Create(h.config.CPUProfile)
		if err != nil {
			return fmt.Errorf("failed to create CPU profile file: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return fmt.Errorf("failed to start CPU profiling: %w", err)
		}
		h.cpuFile = f
	}

	if h.config.HTTPAddr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", h.config.HTTPAddr)
	if err != nil {
		h.stopCPU()
		return fmt.Errorf("failed to bind debug listener: %w", err)
	}
	h.listener = ln
	h.server = &http.Server{
		Handler:           h.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          logger.StdLogger(h.log, slog.LevelWarn),
	}
	srv := h.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error("debug listener: %v", err)
		}
	}()
	h.log.Info("debug listener on %s", ln.Addr())
	return nil
}

// Addr is the bound listener address, or nil when none is running.
func (h *Handler) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

func (h *Handler) stopCPU() error {
	if h.cpuFile == nil {
		return nil
	}
	pprof.StopCPUProfile()
	err := h.cpuFile.Close()
	h.cpuFile = nil
	if err != nil {
		return fmt.Errorf("failed to close CPU profile: %w", err)
	}
	return nil
}

// Stop finishes the CPU profile and shuts the listener down. Calling it again
// is a no-op.
func (h *Handler) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopping {
		return nil
	}
	h.stopping = true

	var errs []error
	if err := h.stopCPU(); err != nil {
		errs = append(errs, err)
	}
	if h.server != nil {
		if err := h.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown debug listener: %w", err))
		}
		h.server = nil
		h.listener = nil
	}
	return errors.Join(errs...)
}
