package transport

import (
	"context"
	"encoding/binary"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/codefionn/tcpchat/internal/chat"
	"github.com/codefionn/tcpchat/internal/client"
	"github.com/codefionn/tcpchat/internal/consts"
	"github.com/codefionn/tcpchat/internal/protocol"
	"github.com/codefionn/tcpchat/internal/server"
)

const (
	testKeySize = 1024
	waitFor     = 5 * time.Second
)

// echoHandler answers Ping with Pong and records everything else.
type echoHandler struct {
	hub          *Hub
	mu           sync.Mutex
	dispatched   []uint16
	disconnected []string
}

func (h *echoHandler) Dispatch(_ context.Context, connID string, id uint16, _ []byte) error {
	h.mu.Lock()
	h.dispatched = append(h.dispatched, id)
	h.mu.Unlock()
	if id == protocol.ServerPing {
		return h.hub.Send(connID, protocol.MustFrame(protocol.ClientPong, protocol.Empty{}))
	}
	return nil
}

func (h *echoHandler) OnDisconnect(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnected = append(h.disconnected, connID)
}

func (h *echoHandler) dispatchCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.dispatched)
}

func (h *echoHandler) disconnectCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.disconnected)
}

func startServer(t *testing.T, handler Handler, hub *Hub, opts Options) (*Server, string) {
	t.Helper()
	ts := NewServer(handler, hub, opts)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- ts.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), waitFor)
		defer done()
		assert.NoError(t, ts.Shutdown(shutdownCtx))
		assert.NoError(t, <-served)
	})
	return ts, ln.Addr().String()
}

func startEcho(t *testing.T, opts Options) (*echoHandler, string) {
	t.Helper()
	hub := NewHub()
	h := &echoHandler{hub: hub}
	_, addr := startServer(t, h, hub, opts)
	return h, addr
}

func rawDial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn net.Conn) (protocol.Frame, error) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	return protocol.ReadFrame(conn, consts.MaxFrameSize)
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(waitFor):
		t.Fatalf("timed out waiting for %T", *new(T))
		var zero T
		return zero
	}
}

func TestPingPong(t *testing.T) {
	_, addr := startEcho(t, Options{})
	conn := rawDial(t, addr)

	require.NoError(t, protocol.WriteFrame(conn, protocol.MustFrame(protocol.ServerPing, nil)))
	f, err := readFrame(t, conn)
	require.NoError(t, err)
	assert.Equal(t, protocol.ClientPong, f.Command)
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	h, addr := startEcho(t, Options{MaxFrameSize: 64})
	conn := rawDial(t, addr)

	var header [consts.FrameHeaderSize]byte
	binary.BigEndian.PutUint32(header[:], 1<<20)
	_, err := conn.Write(header[:])
	require.NoError(t, err)

	_, err = readFrame(t, conn)
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return h.disconnectCount() == 1 }, waitFor, 10*time.Millisecond)
	assert.Zero(t, h.dispatchCount())
}

func TestRateLimitDropsFlood(t *testing.T) {
	h, addr := startEcho(t, Options{CommandRate: 0.001, CommandBurst: 2})
	conn := rawDial(t, addr)

	for range 5 {
		require.NoError(t, protocol.WriteFrame(conn, protocol.MustFrame(protocol.ServerRegister, nil)))
	}

	var notices int
	for range 3 {
		f, err := readFrame(t, conn)
		require.NoError(t, err)
		if f.Command == protocol.ClientOutSystemMessage {
			notices++
		}
	}
	assert.Equal(t, 3, notices)
	assert.Equal(t, 2, h.dispatchCount())
}

func TestMaxConnections(t *testing.T) {
	_, addr := startEcho(t, Options{MaxConnections: 1})
	first := rawDial(t, addr)

	// Make sure the first connection is registered before dialing again.
	require.NoError(t, protocol.WriteFrame(first, protocol.MustFrame(protocol.ServerPing, nil)))
	_, err := readFrame(t, first)
	require.NoError(t, err)

	second := rawDial(t, addr)
	_, err = readFrame(t, second)
	assert.Error(t, err)
}

func TestHubSendUnknownConnection(t *testing.T) {
	hub := NewHub()
	err := hub.Send("nope", protocol.MustFrame(protocol.ClientPong, nil))
	assert.ErrorIs(t, err, ErrUnknownConnection)
	assert.ErrorIs(t, hub.Disconnect("nope"), ErrUnknownConnection)
}

func TestHubFullQueueClosesPeer(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	hub := NewHub()
	p := newPeer("p1", newTCPLink(a), rate.NewLimiter(rate.Inf, 0))
	hub.add(p)

	pong := protocol.MustFrame(protocol.ClientPong, nil)
	for range consts.SendQueueSize {
		require.NoError(t, hub.Send("p1", pong))
	}
	assert.ErrorIs(t, hub.Send("p1", pong), ErrQueueFull)

	select {
	case <-p.stop:
	default:
		t.Fatal("peer was not closed")
	}
	assert.ErrorIs(t, hub.Send("p1", pong), ErrUnknownConnection)
}

func TestShutdownDisconnectsEveryone(t *testing.T) {
	hub := NewHub()
	h := &echoHandler{hub: hub}
	ts := NewServer(h, hub, Options{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go ts.Serve(context.Background(), ln)

	for range 2 {
		conn := rawDial(t, ln.Addr().String())
		require.NoError(t, protocol.WriteFrame(conn, protocol.MustFrame(protocol.ServerPing, nil)))
		_, err := readFrame(t, conn)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, ts.Shutdown(ctx))
	require.NoError(t, ts.Shutdown(ctx))
	assert.Equal(t, 2, h.disconnectCount())
	assert.Zero(t, hub.Count())
}

type chatPeer struct {
	conn   *Conn
	client *client.Client
}

func connectChat(t *testing.T, dial func() (*Conn, error)) chatPeer {
	t.Helper()
	conn, err := dial()
	require.NoError(t, err)
	cl, err := client.New(conn, client.Options{KeySize: testKeySize})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = conn.Run(ctx, cl)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		conn.Wait()
		cl.Close()
	})
	return chatPeer{conn: conn, client: cl}
}

func (p chatPeer) register(t *testing.T, nick string) {
	t.Helper()
	regs, cancel := p.client.Events().Registration.Subscribe(1)
	defer cancel()
	require.NoError(t, p.client.Register(nick, ""))
	ev := recv(t, regs)
	require.True(t, ev.Registered, ev.Message)
}

func startChat(t *testing.T) (*Server, string) {
	t.Helper()
	hub := NewHub()
	srv := server.New(hub, server.Options{KeySize: testKeySize})
	t.Cleanup(srv.Stop)
	return startServer(t, srv, hub, Options{})
}

func TestChatOverTCP(t *testing.T) {
	_, addr := startChat(t)
	dial := func() (*Conn, error) { return Dial(context.Background(), addr, DialOptions{}) }

	alice := connectChat(t, dial)
	bob := connectChat(t, dial)
	alice.register(t, "alice")
	bob.register(t, "bob")

	msgs, cancel := bob.client.Events().Message.Subscribe(consts.EventBufferSize)
	defer cancel()

	require.NoError(t, alice.client.SendPrivateMessage("bob", "over the wire"))
	ev := recv(t, msgs)
	assert.Equal(t, client.MessagePrivate, ev.Kind)
	assert.Equal(t, "alice", ev.Sender)
	assert.Equal(t, "over the wire", ev.Text)
}

func TestChatOverWebSocket(t *testing.T) {
	hub := NewHub()
	srv := server.New(hub, server.Options{KeySize: testKeySize})
	ts := NewServer(srv, hub, Options{})
	httpSrv := httptest.NewServer(ts.WebSocketHandler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = ts.Shutdown(ctx)
		httpSrv.Close()
		srv.Stop()
	})

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	dial := func() (*Conn, error) { return DialWebSocket(context.Background(), url, DialOptions{}) }

	alice := connectChat(t, dial)
	bob := connectChat(t, dial)
	alice.register(t, "alice")
	bob.register(t, "bob")

	msgs, cancel := bob.client.Events().Message.Subscribe(consts.EventBufferSize)
	defer cancel()

	require.NoError(t, alice.client.SendRoomMessage(chat.MainRoomName, "hello everyone"))
	ev := recv(t, msgs)
	assert.Equal(t, client.MessageRoom, ev.Kind)
	assert.Equal(t, "hello everyone", ev.Text)
}

func TestConnSendAfterClose(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	c := newConn(newTCPLink(a), DialOptions{PingPeriod: -1}.withDefaults())
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	c.Wait()
	assert.ErrorIs(t, c.Send(protocol.MustFrame(protocol.ServerPing, nil)), net.ErrClosed)
}
