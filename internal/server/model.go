// Package server implements the authoritative chat state and the handlers
// for every server-bound command.
package server

import (
	"slices"
	"sync"

	"github.com/codefionn/tcpchat/internal/apierr"
	"github.com/codefionn/tcpchat/internal/chat"
	"github.com/codefionn/tcpchat/internal/crypter"
	"github.com/codefionn/tcpchat/internal/logger"
	"github.com/codefionn/tcpchat/internal/protocol"
)

// Sender delivers frames to connections. The transport implements it.
// Send must not block on the network.
type Sender interface {
	Send(connID string, f protocol.Frame) error
	Disconnect(connID string) error
}

type member struct {
	user    chat.User
	connID  string
	openKey crypter.OpenKey
}

// Model is the server's room and user state. All access goes through the
// Context returned by Acquire.
type Model struct {
	mu      sync.Mutex
	rooms   map[string]*chat.Room
	users   map[string]*member
	conns   map[string]string
	stopped bool

	sender Sender
	log    *logger.Logger
}

// NewModel creates a model holding only the main room.
func NewModel(sender Sender) *Model {
	m := &Model{
		rooms:  make(map[string]*chat.Room),
		users:  make(map[string]*member),
		conns:  make(map[string]string),
		sender: sender,
		log:    logger.Global().WithPrefix("model"),
	}
	m.rooms[chat.MainRoomName] = chat.NewRoom(chat.MainRoomName, "")
	return m
}

// Acquire blocks until the caller has exclusive access. The returned
// Context must be released, normally with defer.
func (m *Model) Acquire() *Context {
	m.mu.Lock()
	return &Context{m: m}
}

type outbound struct {
	connID string
	frame  protocol.Frame
}

// Context is an exclusive handle on a Model. Sends and disconnects requested
// through it are queued and performed by Release after the lock is dropped.
type Context struct {
	m           *Model
	outbox      []outbound
	disconnects []string
	released    bool
}

// Release unlocks the model, then flushes queued sends. Safe to call twice.
func (c *Context) Release() {
	if c.released {
		return
	}
	c.released = true
	outbox, disconnects := c.outbox, c.disconnects
	c.outbox, c.disconnects = nil, nil
	c.m.mu.Unlock()

	for _, o := range outbox {
		if err := c.m.sender.Send(o.connID, o.frame); err != nil {
			c.m.log.Debug("send %s to %s: %v", protocol.ClientCommandName(o.frame.Command), o.connID, err)
		}
	}
	for _, id := range disconnects {
		if err := c.m.sender.Disconnect(id); err != nil {
			c.m.log.Debug("disconnect %s: %v", id, err)
		}
	}
}

// Stopped reports whether the model has been torn down.
func (c *Context) Stopped() bool { return c.m.stopped }

func (c *Context) RoomExists(name string) bool {
	_, ok := c.m.rooms[name]
	return ok
}

// GetRoom returns the named room or a NotFoundError.
func (c *Context) GetRoom(name string) (*chat.Room, error) {
	r, ok := c.m.rooms[name]
	if !ok {
		return nil, apierr.NotFound("room %q does not exist", name)
	}
	return r, nil
}

// AddRoom creates a room administered by admin.
func (c *Context) AddRoom(name, admin string) (*chat.Room, error) {
	if _, ok := c.m.rooms[name]; ok {
		return nil, apierr.Conflict("room %q already exists", name)
	}
	r := chat.NewRoom(name, admin)
	c.m.rooms[name] = r
	return r, nil
}

// RemoveRoom deletes a room. The main room can never be removed.
func (c *Context) RemoveRoom(name string) (*chat.Room, error) {
	if name == chat.MainRoomName {
		return nil, apierr.Forbidden("the main room cannot be removed")
	}
	r, ok := c.m.rooms[name]
	if !ok {
		return nil, apierr.NotFound("room %q does not exist", name)
	}
	delete(c.m.rooms, name)
	return r, nil
}

// Rooms returns every room ordered by name.
func (c *Context) Rooms() []*chat.Room {
	out := make([]*chat.Room, 0, len(c.m.rooms))
	for _, r := range c.m.rooms {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b *chat.Room) int {
		switch {
		case a.Name() < b.Name():
			return -1
		case a.Name() > b.Name():
			return 1
		}
		return 0
	})
	return out
}

// AddMessage appends a message to the named room.
func (c *Context) AddMessage(roomName, author, text string) (chat.Message, error) {
	r, err := c.GetRoom(roomName)
	if err != nil {
		return chat.Message{}, err
	}
	return r.AddMessage(author, text), nil
}

// EditMessage replaces the text of a message written by author.
func (c *Context) EditMessage(roomName string, id int64, author, text string) (chat.Message, error) {
	r, err := c.GetRoom(roomName)
	if err != nil {
		return chat.Message{}, err
	}
	return r.EditMessage(id, author, text)
}

// AddUser registers user on connID.
func (c *Context) AddUser(connID string, user chat.User, openKey crypter.OpenKey) error {
	if nick, ok := c.m.conns[connID]; ok {
		return apierr.Conflict("connection is already registered as %q", nick)
	}
	if _, ok := c.m.users[user.Nick]; ok {
		return apierr.Conflict("nickname %q is already taken", user.Nick)
	}
	c.m.users[user.Nick] = &member{user: user, connID: connID, openKey: openKey}
	c.m.conns[connID] = user.Nick
	return nil
}

// RemoveUser forgets nick and drops it from every room. It returns the rooms
// the user was removed from, ordered by name.
func (c *Context) RemoveUser(nick string) []*chat.Room {
	mem, ok := c.m.users[nick]
	if !ok {
		return nil
	}
	delete(c.m.users, nick)
	delete(c.m.conns, mem.connID)

	var left []*chat.Room
	for _, r := range c.Rooms() {
		if r.RemoveUser(nick) {
			left = append(left, r)
		}
	}
	return left
}

// GetUser looks a user up by nickname.
func (c *Context) GetUser(nick string) (chat.User, bool) {
	mem, ok := c.m.users[nick]
	if !ok {
		return chat.User{}, false
	}
	return mem.user, true
}

// UserByConnection returns the user registered on connID.
func (c *Context) UserByConnection(connID string) (chat.User, bool) {
	nick, ok := c.m.conns[connID]
	if !ok {
		return chat.User{}, false
	}
	return c.GetUser(nick)
}

// RequireUser is UserByConnection returning a ForbiddenError for
// unregistered connections.
func (c *Context) RequireUser(connID string) (chat.User, error) {
	u, ok := c.UserByConnection(connID)
	if !ok {
		return chat.User{}, apierr.Forbidden("register before using the chat")
	}
	return u, nil
}

// OpenKey returns the key nick published at registration.
func (c *Context) OpenKey(nick string) (crypter.OpenKey, error) {
	mem, ok := c.m.users[nick]
	if !ok {
		return crypter.OpenKey{}, apierr.NotFound("user %q is not online", nick)
	}
	return mem.openKey, nil
}

// Profiles returns the user records of nicks that are still registered.
func (c *Context) Profiles(nicks []string) []chat.User {
	out := make([]chat.User, 0, len(nicks))
	for _, nick := range nicks {
		if mem, ok := c.m.users[nick]; ok {
			out = append(out, mem.user)
		}
	}
	return out
}

// UserCount returns the number of registered users.
func (c *Context) UserCount() int { return len(c.m.users) }

// Send queues f for the connection of nick. Unknown nicks are skipped.
func (c *Context) Send(nick string, f protocol.Frame) {
	if mem, ok := c.m.users[nick]; ok {
		c.outbox = append(c.outbox, outbound{connID: mem.connID, frame: f})
	}
}

// SendToConnection queues f for connID whether or not it is registered.
func (c *Context) SendToConnection(connID string, f protocol.Frame) {
	c.outbox = append(c.outbox, outbound{connID: connID, frame: f})
}

// Broadcast queues f for every member of r, once each, in name order.
func (c *Context) Broadcast(r *chat.Room, f protocol.Frame) {
	for _, nick := range r.Users() {
		c.Send(nick, f)
	}
}

// Disconnect queues closing connID.
func (c *Context) Disconnect(connID string) {
	c.disconnects = append(c.disconnects, connID)
}

// stop evicts every room, forgets every user and
// queues a disconnect for each connection. Returns false if already stopped.
func (c *Context) stop() bool {
	if c.m.stopped {
		return false
	}
	c.m.stopped = true
	conns := make([]string, 0, len(c.m.conns))
	for id := range c.m.conns {
		conns = append(conns, id)
	}
	slices.Sort(conns)
	for _, id := range conns {
		c.Disconnect(id)
	}
	c.m.rooms = make(map[string]*chat.Room)
	c.m.users = make(map[string]*member)
	c.m.conns = make(map[string]string)
	return true
}
