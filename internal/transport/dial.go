package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codefionn/tcpchat/internal/apierr"
	"github.com/codefionn/tcpchat/internal/consts"
	"github.com/codefionn/tcpchat/internal/logger"
	"github.com/codefionn/tcpchat/internal/protocol"
)

// Dispatcher consumes frames received by a client connection.
// *client.Client implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, id uint16, payload []byte) error
}

// DialOptions tunes a client connection. Zero values select defaults.
type DialOptions struct {
	MaxFrameSize int
	// PingPeriod is how often a Ping command is sent to keep the server from
	// dropping an idle connection. Negative disables pings.
	PingPeriod time.Duration
	Timeout    time.Duration
}

func (o DialOptions) withDefaults() DialOptions {
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = consts.MaxFrameSize
	}
	if o.PingPeriod == 0 {
		o.PingPeriod = consts.PingPeriod
	}
	if o.Timeout <= 0 {
		o.Timeout = consts.Timeout10Seconds
	}
	return o
}

// Conn is the client end of a chat connection. It implements client.Sender.
type Conn struct {
	link link
	opts DialOptions
	send chan protocol.Frame
	log  *logger.Logger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Dial connects to a chat server over TCP.
func Dial(ctx context.Context, addr string, opts DialOptions) (*Conn, error) {
	opts = opts.withDefaults()
	d := net.Dialer{Timeout: opts.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return newConn(newTCPLink(conn), opts), nil
}

// DialWebSocket connects to a chat server's WebSocket endpoint, e.g.
// ws://host:4423/ws.
func DialWebSocket(ctx context.Context, url string, opts DialOptions) (*Conn, error) {
	opts = opts.withDefaults()
	d := websocket.Dialer{HandshakeTimeout: opts.Timeout}
	conn, _, err := d.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", url, err)
	}
	return newConn(newWSLink(conn, opts.MaxFrameSize, consts.ReadIdle), opts), nil
}

func newConn(l link, opts DialOptions) *Conn {
	c := &Conn{
		link: l,
		opts: opts,
		send: make(chan protocol.Frame, consts.SendQueueSize),
		log:  logger.Global().WithPrefix("conn"),
		stop: make(chan struct{}),
	}
	c.wg.Add(1)
	go c.writePump()
	return c
}

// Send queues f for the server without blocking.
func (c *Conn) Send(f protocol.Frame) error {
	select {
	case <-c.stop:
		return net.ErrClosed
	default:
	}
	select {
	case c.send <- f:
		return nil
	case <-c.stop:
		return net.ErrClosed
	default:
		return ErrQueueFull
	}
}

// Run reads frames and hands them to d until the connection closes or ctx
// is cancelled. A normal close returns nil. Dispatch errors are logged and
// do not stop the loop.
func (c *Conn) Run(ctx context.Context, d Dispatcher) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-done:
		}
	}()

	for {
		f, err := c.link.ReadFrame(c.opts.MaxFrameSize)
		if err != nil {
			c.Close()
			if isClosed(err) || ctx.Err() != nil || c.closed() {
				return nil
			}
			return fmt.Errorf("read from server: %w", err)
		}
		if err := d.Dispatch(ctx, f.Command, f.Payload); err != nil {
			if apierr.KindOf(err) == apierr.KindProtocol {
				c.log.Warn("%s: %v", protocol.ClientCommandName(f.Command), err)
			} else {
				c.log.Debug("%s: %v", protocol.ClientCommandName(f.Command), err)
			}
		}
	}
}

func (c *Conn) writePump() {
	defer c.wg.Done()

	var tick <-chan time.Time
	if c.opts.PingPeriod > 0 {
		ticker := time.NewTicker(c.opts.PingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}
	ping := protocol.MustFrame(protocol.ServerPing, protocol.Empty{})

	for {
		select {
		case <-c.stop:
			return
		case f := <-c.send:
			if err := c.link.WriteFrame(f); err != nil {
				c.log.Debug("write: %v", err)
				c.Close()
				return
			}
		case <-tick:
			if err := c.link.WriteFrame(ping); err != nil {
				c.log.Debug("ping: %v", err)
				c.Close()
				return
			}
		}
	}
}

func (c *Conn) closed() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.stop }

// Close closes the connection. Frames still queued are dropped.
func (c *Conn) Close() error {
	var err error
	c.stopOnce.Do(func() {
		close(c.stop)
		if closeErr := c.link.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
			err = closeErr
		}
	})
	return err
}

// Wait blocks until the write pump has exited.
func (c *Conn) Wait() { c.wg.Wait() }
