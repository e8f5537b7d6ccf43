package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/codefionn/tcpchat/internal/consts"
	"github.com/codefionn/tcpchat/internal/logger"
)

// WebSocketHandler upgrades requests to WebSocket connections that speak the
// same frames as TCP, one frame body per binary message.
func (s *Server) WebSocketHandler() http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// Browser clients may be served from anywhere; identity is the nick.
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.closing.Load() {
			http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
			return
		}
		if s.atCapacity() {
			s.log.Warn("connection limit reached, rejecting websocket from %s", r.RemoteAddr)
			http.Error(w, "too many connections", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the HTTP error.
			s.log.Debug("websocket upgrade from %s: %v", r.RemoteAddr, err)
			return
		}
		s.attach(newWSLink(conn, s.opts.MaxFrameSize, s.opts.ReadIdle))
	})
}

// ListenAndServeWebSocket listens on addr and calls ServeWebSocket.
func (s *Server) ListenAndServeWebSocket(ctx context.Context, addr, path string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.ServeWebSocket(ctx, ln, path)
}

// ServeWebSocket serves WebSocketHandler on ln under path until ctx is
// cancelled or Shutdown is called. It takes ownership of ln.
func (s *Server) ServeWebSocket(ctx context.Context, ln net.Listener, path string) error {
	if path == "" {
		path = "/"
	}
	mux := http.NewServeMux()
	mux.Handle(path, s.WebSocketHandler())

	hs := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: consts.Timeout10Seconds,
		ErrorLog:          logger.StdLogger(s.log, slog.LevelWarn),
	}

	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.httpServers = append(s.httpServers, hs)
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), consts.Timeout5Seconds)
		defer cancel()
		_ = hs.Shutdown(shutdownCtx)
	}()

	s.log.Info("websocket endpoint listening on %s%s", ln.Addr(), path)
	if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket listener on %s: %w", ln.Addr(), err)
	}
	return nil
}
