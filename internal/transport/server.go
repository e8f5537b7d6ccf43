package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/codefionn/tcpchat/internal/apierr"
	"github.com/codefionn/tcpchat/internal/consts"
	"github.com/codefionn/tcpchat/internal/logger"
	"github.com/codefionn/tcpchat/internal/protocol"
)

// Handler consumes what the transport reads. *server.Server implements it.
type Handler interface {
	Dispatch(ctx context.Context, connID string, id uint16, payload []byte) error
	OnDisconnect(connID string)
}

// Options tunes a Server. Zero values select the defaults in consts.
type Options struct {
	MaxConnections int
	MaxFrameSize   int
	// CommandRate is the sustained number of commands per second a single
	// connection may send. Negative disables limiting.
	CommandRate  float64
	CommandBurst int
	// ReadIdle drops connections that stay silent this long.
	ReadIdle   time.Duration
	PingPeriod time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = consts.MaxFrameSize
	}
	if o.CommandRate == 0 {
		o.CommandRate = consts.DefaultCommandRate
	}
	if o.CommandBurst <= 0 {
		o.CommandBurst = consts.DefaultCommandBurst
	}
	if o.ReadIdle <= 0 {
		o.ReadIdle = consts.ReadIdle
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.ReadIdle {
		o.PingPeriod = (o.ReadIdle * 9) / 10
	}
	return o
}

// Server accepts connections and pumps frames between them and a Handler.
type Server struct {
	handler Handler
	hub     *Hub
	opts    Options
	log     *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	listeners   []net.Listener
	httpServers []*http.Server

	wg       sync.WaitGroup
	closing  atomic.Bool
	stopOnce sync.Once
}

// NewServer creates a server that reads into handler and writes through hub.
// The same hub must be the Sender of the handler's model.
func NewServer(handler Handler, hub *Hub, opts Options) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		handler: handler,
		hub:     hub,
		opts:    opts.withDefaults(),
		log:     logger.Global().WithPrefix("transport"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Hub returns the connection hub.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) trackListener(ln net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.Load() {
		return false
	}
	s.listeners = append(s.listeners, ln)
	return true
}

func (s *Server) atCapacity() bool {
	return s.opts.MaxConnections > 0 && s.hub.Count() >= s.opts.MaxConnections
}

// ListenAndServe listens on the TCP address addr and serves until ctx is
// cancelled or Shutdown is called.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections from ln until ctx is cancelled or Shutdown is
// called. It takes ownership of ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if !s.trackListener(ln) {
		ln.Close()
		return net.ErrClosed
	}
	s.log.Info("listening on %s (max connections: %d)", ln.Addr(), s.opts.MaxConnections)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-done:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closing.Load() || ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		if s.atCapacity() {
			s.log.Warn("connection limit reached, rejecting %s", conn.RemoteAddr())
			conn.Close()
			continue
		}
		s.attach(newTCPLink(conn))
	}
}

func (s *Server) newLimiter() *rate.Limiter {
	if s.opts.CommandRate < 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(s.opts.CommandRate), s.opts.CommandBurst)
}

// attach starts the pumps for a new connection.
func (s *Server) attach(l link) *peer {
	if s.closing.Load() {
		l.Close()
		return nil
	}
	p := newPeer(uuid.New().String(), l, s.newLimiter())
	s.hub.add(p)
	s.log.Info("connection %s accepted from %s (total: %d)", p.id, l.RemoteAddr(), s.hub.Count())

	s.wg.Add(2)
	go s.readPump(p)
	go s.writePump(p)
	return p
}

// drop closes p and tells the handler, once.
func (s *Server) drop(p *peer) {
	p.close()
	if s.hub.remove(p) {
		s.handler.OnDisconnect(p.id)
		s.log.Info("connection %s closed", p.id)
	}
}

func (s *Server) readPump(p *peer) {
	defer s.wg.Done()
	defer s.drop(p)

	for {
		if err := p.link.ExtendRead(s.opts.ReadIdle); err != nil {
			return
		}
		f, err := p.link.ReadFrame(s.opts.MaxFrameSize)
		if err != nil {
			switch {
			case isClosed(err):
				s.log.Debug("connection %s: peer closed", p.id)
			case apierr.KindOf(err) == apierr.KindProtocol:
				s.log.Warn("connection %s: %v", p.id, err)
			default:
				s.log.Debug("connection %s: read: %v", p.id, err)
			}
			return
		}

		if !p.limiter.Allow() {
			s.log.Debug("connection %s: rate limit exceeded, dropped %s", p.id, protocol.ServerCommandName(f.Command))
			_ = p.enqueue(protocol.MustFrame(protocol.ClientOutSystemMessage,
				protocol.SystemMessage{Message: "rate limit exceeded, command dropped"}))
			continue
		}

		// Handler errors are already reported to the user where that makes sense.
		_ = s.handler.Dispatch(s.ctx, p.id, f.Command, f.Payload)
	}
}

func (s *Server) writePump(p *peer) {
	ticker := time.NewTicker(s.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		p.close()
		s.wg.Done()
	}()

	for {
		select {
		case <-p.stop:
			return
		case f := <-p.send:
			if err := p.link.WriteFrame(f); err != nil {
				s.log.Debug("connection %s: write: %v", p.id, err)
				return
			}
		case <-ticker.C:
			if err := p.link.Keepalive(); err != nil {
				s.log.Debug("connection %s: keepalive: %v", p.id, err)
				return
			}
		}
	}
}

// Shutdown stops accepting, closes every connection and waits for the pumps
// to exit or ctx to expire. Calling it again is a no-op.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closing.Store(true)
		listeners, servers := s.listeners, s.httpServers
		s.listeners, s.httpServers = nil, nil
		s.mu.Unlock()

		for _, ln := range listeners {
			ln.Close()
		}
		for _, hs := range servers {
			if shutdownErr := hs.Shutdown(ctx); shutdownErr != nil {
				err = errors.Join(err, shutdownErr)
			}
		}
		s.hub.closeAll()
		s.cancel()

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			s.log.Info("transport stopped")
		case <-ctx.Done():
			err = errors.Join(err, fmt.Errorf("waiting for connections: %w", ctx.Err()))
		}
	})
	return err
}
