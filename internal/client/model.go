// Package client implements the chat client state: the local user, the rooms
// it has open, and the private messages waiting for a recipient's key.
package client

import (
	"slices"
	"sync"
	"time"

	"github.com/codefionn/tcpchat/internal/apierr"
	"github.com/codefionn/tcpchat/internal/chat"
	"github.com/codefionn/tcpchat/internal/protocol"
)

// Sender delivers frames to the server.
type Sender interface {
	Send(f protocol.Frame) error
}

type waitingMessage struct {
	text   string
	queued time.Time
}

// Model is the client state. Access goes through Acquire.
type Model struct {
	mu         sync.Mutex
	user       *chat.User
	registered bool
	rooms      map[string]*chat.Room
	users      map[string]chat.User
	waiting    map[string]waitingMessage

	sender Sender
	events *Events
}

func newModel(sender Sender, events *Events) *Model {
	m := &Model{sender: sender, events: events}
	m.clear()
	return m
}

func (m *Model) clear() {
	m.user = nil
	m.registered = false
	m.rooms = make(map[string]*chat.Room)
	m.users = make(map[string]chat.User)
	m.waiting = make(map[string]waitingMessage)
}

// Acquire locks the model. Frames and events queued on the returned Context
// are sent and published by Release once the lock is dropped.
func (m *Model) Acquire() *Context {
	m.mu.Lock()
	return &Context{m: m}
}

// Context is an exclusive handle on a client Model.
type Context struct {
	m        *Model
	outbox   []protocol.Frame
	publish  []func()
	released bool
}

// Release unlocks the model and flushes the queue. The first send error is
// returned; remaining frames are not sent after a failure.
func (c *Context) Release() error {
	if c.released {
		return nil
	}
	c.released = true
	outbox, publish := c.outbox, c.publish
	c.outbox, c.publish = nil, nil
	c.m.mu.Unlock()

	for _, fn := range publish {
		fn()
	}
	for _, f := range outbox {
		if err := c.m.sender.Send(f); err != nil {
			return err
		}
	}
	return nil
}

// Send queues a frame for the server.
func (c *Context) Send(f protocol.Frame) { c.outbox = append(c.outbox, f) }

func (c *Context) emit(fn func()) { c.publish = append(c.publish, fn) }

// User returns the local user, if Register has been called.
func (c *Context) User() (chat.User, bool) {
	if c.m.user == nil {
		return chat.User{}, false
	}
	return *c.m.user, true
}

// Registered reports whether the server accepted the registration.
func (c *Context) Registered() bool { return c.m.registered }

func (c *Context) requireRegistered() (chat.User, error) {
	if c.m.user == nil || !c.m.registered {
		return chat.User{}, apierr.Forbidden("not registered")
	}
	return *c.m.user, nil
}

// Room returns an open room.
func (c *Context) Room(name string) (*chat.Room, bool) {
	r, ok := c.m.rooms[name]
	return r, ok
}

// RoomNames lists open rooms in name order.
func (c *Context) RoomNames() []string {
	out := make([]string, 0, len(c.m.rooms))
	for name := range c.m.rooms {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// KnownUser returns a profile seen in a room event.
func (c *Context) KnownUser(nick string) (chat.User, bool) {
	u, ok := c.m.users[nick]
	return u, ok
}

// AddWaiting queues text for nick. Only one message per recipient may wait
// for a key; a second one is a ConflictError and the first stays queued.
func (c *Context) AddWaiting(nick, text string) error {
	if _, ok := c.m.waiting[nick]; ok {
		return apierr.Conflict("a private message to %q is already waiting for its key", nick)
	}
	c.m.waiting[nick] = waitingMessage{text: text, queued: time.Now()}
	return nil
}

// TakeWaiting removes and returns the message waiting for nick.
func (c *Context) TakeWaiting(nick string) (string, bool) {
	w, ok := c.m.waiting[nick]
	if !ok {
		return "", false
	}
	delete(c.m.waiting, nick)
	return w.text, true
}

// IsWaiting reports whether a message for nick is queued.
func (c *Context) IsWaiting(nick string) bool {
	_, ok := c.m.waiting[nick]
	return ok
}

// DropStaleWaiting removes entries queued before cutoff and returns their recipients.
func (c *Context) DropStaleWaiting(cutoff time.Time) []string {
	var dropped []string
	for nick, w := range c.m.waiting {
		if w.queued.Before(cutoff) {
			delete(c.m.waiting, nick)
			dropped = append(dropped, nick)
		}
	}
	slices.Sort(dropped)
	return dropped
}

func (c *Context) putRoom(ev protocol.RoomEvent) *chat.Room {
	r := chat.RoomFromSnapshot(ev.Room)
	c.m.rooms[r.Name()] = r
	for _, u := range ev.Users {
		if c.m.user != nil && u.Nick == c.m.user.Nick {
			u.IsClient = true
		}
		c.m.users[u.Nick] = u
	}
	if r.Name() == chat.MainRoomName {
		// The main room holds everyone online, so it defines who is known.
		online := make(map[string]chat.User, len(ev.Users))
		for _, nick := range r.Users() {
			if u, ok := c.m.users[nick]; ok {
				online[nick] = u
			}
		}
		c.m.users = online
	}
	return r
}
