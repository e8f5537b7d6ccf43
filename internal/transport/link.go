// Package transport moves protocol frames between chat models and the
// network. The server side accepts TCP and WebSocket connections and runs a
// read pump and a write pump per connection; the client side dials a server
// and feeds received frames to a dispatcher.
package transport

import (
	"bufio"
	"errors"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codefionn/tcpchat/internal/apierr"
	"github.com/codefionn/tcpchat/internal/consts"
	"github.com/codefionn/tcpchat/internal/protocol"
)

// link is one framed connection. ReadFrame is called from a single reader
// goroutine and WriteFrame/Keepalive from a single writer goroutine.
type link interface {
	ReadFrame(maxSize int) (protocol.Frame, error)
	WriteFrame(f protocol.Frame) error
	// Keepalive sends a transport-level ping where the transport has one.
	Keepalive() error
	ExtendRead(d time.Duration) error
	Close() error
	RemoteAddr() string
}

type tcpLink struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
}

func newTCPLink(conn net.Conn) *tcpLink {
	return &tcpLink{conn: conn, r: bufio.NewReader(conn), w: bufio.NewWriter(conn)}
}

func (l *tcpLink) ReadFrame(maxSize int) (protocol.Frame, error) {
	return protocol.ReadFrame(l.r, maxSize)
}

func (l *tcpLink) WriteFrame(f protocol.Frame) error {
	if err := l.conn.SetWriteDeadline(time.Now().Add(consts.WriteWait)); err != nil {
		return err
	}
	if err := protocol.WriteFrame(l.w, f); err != nil {
		return err
	}
	return l.w.Flush()
}

// Keepalive is a no-op; TCP peers send Ping commands instead.
func (l *tcpLink) Keepalive() error { return nil }

func (l *tcpLink) ExtendRead(d time.Duration) error {
	return l.conn.SetReadDeadline(time.Now().Add(d))
}

func (l *tcpLink) Close() error       { return l.conn.Close() }
func (l *tcpLink) RemoteAddr() string { return l.conn.RemoteAddr().String() }

// wsLink carries one frame body per binary WebSocket message, without the
// length prefix.
type wsLink struct {
	conn *websocket.Conn
}

func newWSLink(conn *websocket.Conn, maxSize int, idle time.Duration) *wsLink {
	conn.SetReadLimit(int64(maxSize))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idle))
	})
	return &wsLink{conn: conn}
}

func (l *wsLink) ReadFrame(maxSize int) (protocol.Frame, error) {
	mt, body, err := l.conn.ReadMessage()
	if err != nil {
		return protocol.Frame{}, err
	}
	if mt != websocket.BinaryMessage {
		return protocol.Frame{}, apierr.Protocol("expected a binary message, got type %d", mt)
	}
	return protocol.ParseBody(body, maxSize)
}

func (l *wsLink) WriteFrame(f protocol.Frame) error {
	if err := l.conn.SetWriteDeadline(time.Now().Add(consts.WriteWait)); err != nil {
		return err
	}
	return l.conn.WriteMessage(websocket.BinaryMessage, f.Body())
}

func (l *wsLink) Keepalive() error {
	return l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(consts.WriteWait))
}

func (l *wsLink) ExtendRead(d time.Duration) error {
	return l.conn.SetReadDeadline(time.Now().Add(d))
}

func (l *wsLink) Close() error {
	_ = l.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return l.conn.Close()
}

func (l *wsLink) RemoteAddr() string { return l.conn.RemoteAddr().String() }

// isClosed reports errors that mean the peer went away normally.
func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
