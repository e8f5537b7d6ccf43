package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/tcpchat/internal/apierr"
	"github.com/codefionn/tcpchat/internal/chat"
	"github.com/codefionn/tcpchat/internal/crypter"
	"github.com/codefionn/tcpchat/internal/protocol"
	"github.com/codefionn/tcpchat/internal/server"
)

const testKeySize = 1024

type delivery struct {
	toServer bool
	connID   string
	frame    protocol.Frame
}

// loopback connects one server and several clients in memory. Frames are
// queued and delivered by pump, so handlers never re-enter each other.
type loopback struct {
	t       *testing.T
	mu      sync.Mutex
	queue   []delivery
	srv     *server.Server
	clients map[string]*Client
	errs    map[string][]error
}

func newLoopback(t *testing.T) *loopback {
	lb := &loopback{t: t, clients: make(map[string]*Client), errs: make(map[string][]error)}
	lb.srv = server.New(lb, server.Options{KeySize: testKeySize})
	return lb
}

func (lb *loopback) enqueue(d delivery) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.queue = append(lb.queue, d)
}

// Send implements server.Sender.
func (lb *loopback) Send(connID string, f protocol.Frame) error {
	lb.enqueue(delivery{connID: connID, frame: f})
	return nil
}

// Disconnect implements server.Sender.
func (lb *loopback) Disconnect(string) error { return nil }

func (lb *loopback) pending() int {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return len(lb.queue)
}

func (lb *loopback) pump() {
	for {
		lb.mu.Lock()
		if len(lb.queue) == 0 {
			lb.mu.Unlock()
			return
		}
		d := lb.queue[0]
		lb.queue = lb.queue[1:]
		lb.mu.Unlock()

		var err error
		if d.toServer {
			err = lb.srv.Dispatch(context.Background(), d.connID, d.frame.Command, d.frame.Payload)
		} else if c, ok := lb.clients[d.connID]; ok {
			err = c.Dispatch(context.Background(), d.frame.Command, d.frame.Payload)
		}
		if err != nil {
			lb.errs[d.connID] = append(lb.errs[d.connID], err)
		}
	}
}

type conn struct {
	lb *loopback
	id string
}

func (c conn) Send(f protocol.Frame) error {
	c.lb.enqueue(delivery{toServer: true, connID: c.id, frame: f})
	return nil
}

func (lb *loopback) newClient(connID string) *Client {
	lb.t.Helper()
	kp, err := crypter.GenerateKeyPair(testKeySize)
	require.NoError(lb.t, err)
	c, err := New(conn{lb: lb, id: connID}, Options{KeySize: testKeySize, Keys: kp})
	require.NoError(lb.t, err)
	lb.clients[connID] = c
	lb.t.Cleanup(c.Close)
	return c
}

func (lb *loopback) registered(connID, nick string) *Client {
	lb.t.Helper()
	c := lb.newClient(connID)
	require.NoError(lb.t, c.Register(nick, ""))
	lb.pump()
	mc := c.Model().Acquire()
	defer mc.Release()
	require.True(lb.t, mc.Registered())
	return c
}

func next[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	default:
		t.Fatalf("expected an event of type %T", *new(T))
		var zero T
		return zero
	}
}

func assertNoEvent[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected event %+v", v)
	default:
	}
}

func TestRegisterOpensMainRoom(t *testing.T) {
	lb := newLoopback(t)
	alice := lb.newClient("c1")
	regs, cancel := alice.Events().Registration.Subscribe(4)
	defer cancel()
	opened, cancelOpened := alice.Events().RoomOpened.Subscribe(4)
	defer cancelOpened()

	require.NoError(t, alice.Register("alice", "#ff0000"))
	lb.pump()

	assert.True(t, next(t, regs).Registered)
	assert.Equal(t, chat.MainRoomName, next(t, opened).Room.Name)

	mc := alice.Model().Acquire()
	defer mc.Release()
	user, ok := mc.User()
	require.True(t, ok)
	assert.Equal(t, "alice", user.Nick)
	assert.Equal(t, []string{chat.MainRoomName}, mc.RoomNames())
	known, ok := mc.KnownUser("alice")
	require.True(t, ok)
	assert.True(t, known.IsClient)
}

func TestRegisterTakenNickIsRejected(t *testing.T) {
	lb := newLoopback(t)
	lb.registered("c1", "alice")

	other := lb.newClient("c2")
	regs, cancel := other.Events().Registration.Subscribe(4)
	defer cancel()

	require.NoError(t, other.Register("alice", ""))
	lb.pump()

	ev := next(t, regs)
	assert.False(t, ev.Registered)
	assert.NotEmpty(t, ev.Message)

	mc := other.Model().Acquire()
	defer mc.Release()
	_, ok := mc.User()
	assert.False(t, ok)
	assert.Empty(t, mc.RoomNames())
}

func TestRegisterValidatesLocally(t *testing.T) {
	lb := newLoopback(t)
	c := lb.newClient("c1")

	err := c.Register("", "")
	assert.ErrorIs(t, err, apierr.ErrValidation)
	err = c.Register("alice", "red")
	assert.ErrorIs(t, err, apierr.ErrValidation)
	assert.Zero(t, lb.pending())
}

func TestCallsRequireRegistration(t *testing.T) {
	lb := newLoopback(t)
	c := lb.newClient("c1")

	assert.ErrorIs(t, c.CreateRoom("games"), apierr.ErrForbidden)
	assert.ErrorIs(t, c.SendRoomMessage(chat.MainRoomName, "hi"), apierr.ErrForbidden)
	assert.ErrorIs(t, c.SendPrivateMessage("bob", "hi"), apierr.ErrForbidden)
	assert.Zero(t, lb.pending())
}

func TestPrivateMessageEndToEnd(t *testing.T) {
	lb := newLoopback(t)
	alice := lb.registered("c1", "alice")
	bob := lb.registered("c2", "bob")

	msgs, cancel := bob.Events().Message.Subscribe(4)
	defer cancel()

	require.NoError(t, alice.SendPrivateMessage("bob", "meet at noon"))
	lb.pump()

	ev := next(t, msgs)
	assert.Equal(t, MessagePrivate, ev.Kind)
	assert.Equal(t, "alice", ev.Sender)
	assert.Equal(t, "meet at noon", ev.Text)

	mc := alice.Model().Acquire()
	assert.False(t, mc.IsWaiting("bob"))
	mc.Release()
	assert.Empty(t, lb.errs)
}

func TestSecondKeyReplyHasNoEffect(t *testing.T) {
	lb := newLoopback(t)
	alice := lb.registered("c1", "alice")
	bob := lb.registered("c2", "bob")

	require.NoError(t, alice.SendPrivateMessage("bob", "once"))
	lb.pump()

	reply := protocol.MustFrame(protocol.ClientReceiveUserOpenKey,
		protocol.UserOpenKey{Nick: "bob", OpenKey: bob.keys.OpenKey()})
	require.NoError(t, alice.Dispatch(context.Background(), reply.Command, reply.Payload))
	assert.Zero(t, lb.pending())
}

func TestSecondPendingPrivateMessageConflicts(t *testing.T) {
	lb := newLoopback(t)
	alice := lb.registered("c1", "alice")
	bob := lb.registered("c2", "bob")

	msgs, cancel := bob.Events().Message.Subscribe(4)
	defer cancel()

	require.NoError(t, alice.SendPrivateMessage("bob", "first"))
	err := alice.SendPrivateMessage("bob", "second")
	assert.ErrorIs(t, err, apierr.ErrConflict)

	lb.pump()
	assert.Equal(t, "first", next(t, msgs).Text)
	assertNoEvent(t, msgs)
}

func TestPrivateMessageToUnknownUser(t *testing.T) {
	lb := newLoopback(t)
	alice := lb.registered("c1", "alice")
	msgs, cancel := alice.Events().Message.Subscribe(4)
	defer cancel()

	require.NoError(t, alice.SendPrivateMessage("nobody", "hello?"))
	lb.pump()

	ev := next(t, msgs)
	assert.Equal(t, MessageSystem, ev.Kind)
	assert.Contains(t, ev.Text, "nobody")

	// No key will ever come; the entry stays until it expires.
	mc := alice.Model().Acquire()
	assert.True(t, mc.IsWaiting("nobody"))
	mc.Release()

	errs, cancelErrs := alice.Events().AsyncError.Subscribe(4)
	defer cancelErrs()
	assert.Equal(t, []string{"nobody"}, alice.ExpireWaiting(0))
	assert.ErrorIs(t, next(t, errs).Err, apierr.ErrNotFound)
}

func TestBadOpenKeyIsCryptoError(t *testing.T) {
	lb := newLoopback(t)
	alice := lb.registered("c1", "alice")
	lb.registered("c2", "bob")

	errs, cancel := alice.Events().AsyncError.Subscribe(4)
	defer cancel()

	mc := alice.Model().Acquire()
	require.NoError(t, mc.AddWaiting("bob", "secret"))
	mc.Release()

	reply := protocol.MustFrame(protocol.ClientReceiveUserOpenKey, protocol.UserOpenKey{
		Nick:    "bob",
		OpenKey: crypter.OpenKey{Modulus: []byte{0x01}, Exponent: []byte{0x01, 0x00, 0x01}},
	})
	err := alice.Dispatch(context.Background(), reply.Command, reply.Payload)
	assert.ErrorIs(t, err, apierr.ErrCrypto)
	assert.ErrorIs(t, next(t, errs).Err, apierr.ErrCrypto)
	assert.Zero(t, lb.pending())

	mc = alice.Model().Acquire()
	assert.False(t, mc.IsWaiting("bob"))
	mc.Release()
}

func TestUndecryptablePrivateMessage(t *testing.T) {
	lb := newLoopback(t)
	bob := lb.registered("c2", "bob")
	errs, cancel := bob.Events().AsyncError.Subscribe(4)
	defer cancel()

	f := protocol.MustFrame(protocol.ClientOutPrivateMessage, protocol.PrivateMessage{
		Sender:  "mallory",
		Key:     []byte("not a wrapped key"),
		Message: make([]byte, 32),
	})
	err := bob.Dispatch(context.Background(), f.Command, f.Payload)
	assert.ErrorIs(t, err, apierr.ErrCrypto)
	assert.ErrorIs(t, next(t, errs).Err, apierr.ErrCrypto)
}

func TestRoomLifecycle(t *testing.T) {
	lb := newLoopback(t)
	alice := lb.registered("c1", "alice")
	bob := lb.registered("c2", "bob")

	bobOpened, cancelOpened := bob.Events().RoomOpened.Subscribe(4)
	defer cancelOpened()
	bobMsgs, cancelMsgs := bob.Events().Message.Subscribe(4)
	defer cancelMsgs()
	bobClosed, cancelClosed := bob.Events().RoomClosed.Subscribe(4)
	defer cancelClosed()

	require.NoError(t, alice.CreateRoom("games"))
	require.NoError(t, alice.InviteUsers("games", "bob"))
	lb.pump()
	assert.Equal(t, "games", next(t, bobOpened).Room.Name)

	require.NoError(t, alice.SendRoomMessage("games", "hi bob"))
	lb.pump()
	ev := next(t, bobMsgs)
	assert.Equal(t, MessageRoom, ev.Kind)
	assert.Equal(t, "games", ev.RoomName)
	assert.Equal(t, "alice", ev.Sender)
	assert.False(t, ev.Edited)

	// bob cannot edit alice's message; the check happens before sending.
	err := bob.EditRoomMessage("games", ev.ID, "hijacked")
	assert.ErrorIs(t, err, apierr.ErrForbidden)
	assert.Zero(t, lb.pending())

	require.NoError(t, alice.EditRoomMessage("games", ev.ID, "hi bob!"))
	lb.pump()
	edited := next(t, bobMsgs)
	assert.True(t, edited.Edited)
	assert.Equal(t, "hi bob!", edited.Text)

	mc := bob.Model().Acquire()
	r, ok := mc.Room("games")
	require.True(t, ok)
	msg, ok := r.GetMessage(ev.ID)
	require.True(t, ok)
	assert.Equal(t, "hi bob!", msg.Text)
	mc.Release()

	require.NoError(t, alice.DeleteRoom("games"))
	lb.pump()
	assert.Equal(t, "games", next(t, bobClosed).Room.Name)

	mc = bob.Model().Acquire()
	assert.Equal(t, []string{chat.MainRoomName}, mc.RoomNames())
	mc.Release()
}

func TestMainRoomGuards(t *testing.T) {
	lb := newLoopback(t)
	alice := lb.registered("c1", "alice")

	assert.ErrorIs(t, alice.DeleteRoom(chat.MainRoomName), apierr.ErrForbidden)
	assert.ErrorIs(t, alice.ExitFromRoom(chat.MainRoomName), apierr.ErrForbidden)
	assert.Zero(t, lb.pending())
}

func TestKnownUsersFollowMainRoom(t *testing.T) {
	lb := newLoopback(t)
	alice := lb.registered("c1", "alice")
	bob := lb.registered("c2", "bob")

	mc := alice.Model().Acquire()
	_, ok := mc.KnownUser("bob")
	mc.Release()
	assert.True(t, ok)

	require.NoError(t, bob.Unregister())
	lb.pump()

	mc = alice.Model().Acquire()
	_, ok = mc.KnownUser("bob")
	mc.Release()
	assert.False(t, ok)
}

func TestResetIsIdempotent(t *testing.T) {
	lb := newLoopback(t)
	alice := lb.registered("c1", "alice")

	alice.Reset()
	alice.Reset()

	mc := alice.Model().Acquire()
	defer mc.Release()
	_, ok := mc.User()
	assert.False(t, ok)
	assert.False(t, mc.Registered())
	assert.Empty(t, mc.RoomNames())
}

func TestKeyPairMustMatchKeySize(t *testing.T) {
	kp, err := crypter.GenerateKeyPair(testKeySize)
	require.NoError(t, err)
	defer kp.Destroy()

	_, err = New(failingSender{}, Options{KeySize: 2 * testKeySize, Keys: kp})
	assert.ErrorIs(t, err, apierr.ErrValidation)
}

func TestCloseClosesEvents(t *testing.T) {
	lb := newLoopback(t)
	c := lb.newClient("c1")
	msgs, _ := c.Events().Message.Subscribe(1)

	c.Close()
	c.Close()

	_, open := <-msgs
	assert.False(t, open)
}

type failingSender struct{ err error }

func (f failingSender) Send(protocol.Frame) error { return f.err }

func TestSendFailureDropsWaitingEntry(t *testing.T) {
	kp, err := crypter.GenerateKeyPair(testKeySize)
	require.NoError(t, err)
	broken := errors.New("connection reset")
	c, err := New(failingSender{err: broken}, Options{KeySize: testKeySize, Keys: kp})
	require.NoError(t, err)
	defer c.Close()

	mc := c.Model().Acquire()
	mc.m.user = &chat.User{Nick: "alice", IsClient: true}
	mc.m.registered = true
	mc.Release()

	err = c.SendPrivateMessage("bob", "hi")
	assert.ErrorIs(t, err, broken)

	mc = c.Model().Acquire()
	assert.False(t, mc.IsWaiting("bob"))
	mc.Release()
}

func TestDropStaleWaiting(t *testing.T) {
	lb := newLoopback(t)
	c := lb.newClient("c1")

	mc := c.Model().Acquire()
	defer mc.Release()
	require.NoError(t, mc.AddWaiting("bob", "a"))
	require.NoError(t, mc.AddWaiting("carol", "b"))

	assert.Empty(t, mc.DropStaleWaiting(time.Now().Add(-time.Hour)))
	assert.Equal(t, []string{"bob", "carol"}, mc.DropStaleWaiting(time.Now().Add(time.Second)))
	assert.False(t, mc.IsWaiting("bob"))
}
