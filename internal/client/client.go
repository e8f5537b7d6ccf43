package client

import (
	"context"
	"sync"
	"time"

	"github.com/codefionn/tcpchat/internal/apierr"
	"github.com/codefionn/tcpchat/internal/chat"
	"github.com/codefionn/tcpchat/internal/command"
	"github.com/codefionn/tcpchat/internal/consts"
	"github.com/codefionn/tcpchat/internal/crypter"
	"github.com/codefionn/tcpchat/internal/logger"
	"github.com/codefionn/tcpchat/internal/protocol"
)

// Options configures a Client.
type Options struct {
	// KeySize is the RSA modulus size shared by all participants.
	KeySize int
	// Keys is the local key pair. Generated when nil.
	Keys *crypter.KeyPair
}

// Client is the UI-facing side of a chat connection.
type Client struct {
	model    *Model
	registry *command.Registry
	events   *Events
	keys     *crypter.KeyPair
	keySize  int
	log      *logger.Logger

	closeOnce sync.Once
}

// New creates a client that sends frames through sender.
func New(sender Sender, opts Options) (*Client, error) {
	if opts.KeySize == 0 {
		opts.KeySize = consts.DefaultKeySize
	}
	keys := opts.Keys
	if keys != nil && keys.Bits() != opts.KeySize {
		return nil, apierr.Validation("key pair is %d bits, want %d", keys.Bits(), opts.KeySize)
	}
	if keys == nil {
		var err error
		keys, err = crypter.GenerateKeyPair(opts.KeySize)
		if err != nil {
			return nil, err
		}
	}

	events := newEvents()
	c := &Client{
		model:    newModel(sender, events),
		registry: command.NewRegistry("client", protocol.ClientCommandName),
		events:   events,
		keys:     keys,
		keySize:  opts.KeySize,
		log:      logger.Global().WithPrefix("client"),
	}
	c.registerHandlers()
	return c, nil
}

// Events returns the topics the UI subscribes to.
func (c *Client) Events() *Events { return c.events }

// Model exposes the state model.
func (c *Client) Model() *Model { return c.model }

// Registry exposes the client-bound command registry.
func (c *Client) Registry() *command.Registry { return c.registry }

// Dispatch handles a frame received from the server.
func (c *Client) Dispatch(ctx context.Context, id uint16, payload []byte) error {
	return c.registry.Dispatch(ctx, "", id, payload)
}

// call queues a single frame under the model lock after check passes.
func (c *Client) call(check func(mc *Context) error, command uint16, payload any) error {
	f, err := protocol.NewFrame(command, payload)
	if err != nil {
		return err
	}
	mc := c.model.Acquire()
	if check != nil {
		if err := check(mc); err != nil {
			mc.Release()
			return err
		}
	}
	mc.Send(f)
	return mc.Release()
}

func registered(mc *Context) error {
	_, err := mc.requireRegistered()
	return err
}

// Register asks the server for nick. The answer arrives as a RegistrationEvent.
func (c *Client) Register(nick, color string) error {
	p := protocol.Register{Nick: nick, Color: color, OpenKey: c.keys.OpenKey()}
	if err := p.Validate(); err != nil {
		return err
	}
	return c.call(func(mc *Context) error {
		if mc.m.user != nil {
			return apierr.Conflict("already registered as %q", mc.m.user.Nick)
		}
		mc.m.user = &chat.User{Nick: nick, Color: color, IsClient: true}
		return nil
	}, protocol.ServerRegister, p)
}

// Unregister leaves the chat and clears local state. The connection stays up.
func (c *Client) Unregister() error {
	if err := c.call(registered, protocol.ServerUnregister, protocol.Empty{}); err != nil {
		return err
	}
	c.Reset()
	return nil
}

// CreateRoom creates a room administered by the local user.
func (c *Client) CreateRoom(name string) error {
	p := protocol.RoomRequest{RoomName: name}
	if err := p.Validate(); err != nil {
		return err
	}
	return c.call(registered, protocol.ServerCreateRoom, p)
}

// DeleteRoom deletes a room the local user administers.
func (c *Client) DeleteRoom(name string) error {
	p := protocol.RoomRequest{RoomName: name}
	if err := p.Validate(); err != nil {
		return err
	}
	if name == chat.MainRoomName {
		return apierr.Forbidden("the main room cannot be deleted")
	}
	return c.call(registered, protocol.ServerDeleteRoom, p)
}

// JoinRoom joins an existing room.
func (c *Client) JoinRoom(name string) error {
	p := protocol.RoomRequest{RoomName: name}
	if err := p.Validate(); err != nil {
		return err
	}
	return c.call(registered, protocol.ServerJoinRoom, p)
}

// ExitFromRoom leaves a room.
func (c *Client) ExitFromRoom(name string) error {
	p := protocol.RoomRequest{RoomName: name}
	if err := p.Validate(); err != nil {
		return err
	}
	if name == chat.MainRoomName {
		return apierr.Forbidden("you cannot leave the main room")
	}
	return c.call(registered, protocol.ServerExitFromRoom, p)
}

// InviteUsers adds users to a room the local user administers.
func (c *Client) InviteUsers(room string, users ...string) error {
	p := protocol.RoomUsersRequest{RoomName: room, Users: users}
	if err := p.Validate(); err != nil {
		return err
	}
	return c.call(registered, protocol.ServerInviteUsers, p)
}

// KickUsers removes users from a room the local user administers.
func (c *Client) KickUsers(room string, users ...string) error {
	p := protocol.RoomUsersRequest{RoomName: room, Users: users}
	if err := p.Validate(); err != nil {
		return err
	}
	return c.call(registered, protocol.ServerKickUsers, p)
}

// SendRoomMessage posts text to a room.
func (c *Client) SendRoomMessage(room, text string) error {
	p := protocol.SendRoomMessage{Message: text, RoomName: room}
	if err := p.Validate(); err != nil {
		return err
	}
	return c.call(registered, protocol.ServerSendRoomMessage, p)
}

// EditRoomMessage replaces the text of one of the local user's messages.
func (c *Client) EditRoomMessage(room string, id int64, text string) error {
	p := protocol.SendRoomMessage{Message: text, RoomName: room, MessageID: &id}
	if err := p.Validate(); err != nil {
		return err
	}
	return c.call(func(mc *Context) error {
		user, err := mc.requireRegistered()
		if err != nil {
			return err
		}
		if r, ok := mc.Room(room); ok {
			if _, exists := r.GetMessage(id); exists && !r.IsMessageAuthor(id, user.Nick) {
				return apierr.Forbidden("message %d belongs to another user", id)
			}
		}
		return nil
	}, protocol.ServerSendRoomMessage, p)
}

// SendPrivateMessage queues text for nick and requests nick's open key. The
// message is encrypted and sent when the key arrives. Only one message per
// recipient waits at a time: another one fails with ConflictError until the
// key arrives, ExpireWaiting drops the entry or the client is reset. A
// recipient that is offline never answers, so its entry stays until expiry.
func (c *Client) SendPrivateMessage(nick, text string) error {
	if nick == "" {
		return apierr.Validation("receiver is empty")
	}
	if err := chat.ValidateText(text); err != nil {
		return err
	}
	err := c.call(func(mc *Context) error {
		if _, err := mc.requireRegistered(); err != nil {
			return err
		}
		return mc.AddWaiting(nick, text)
	}, protocol.ServerGetUserOpenKey, protocol.GetUserOpenKey{Nick: nick})
	if err != nil && apierr.KindOf(err) == apierr.KindUnknown {
		// The key request never left; do not leave the message stranded.
		mc := c.model.Acquire()
		mc.TakeWaiting(nick)
		mc.Release()
	}
	return err
}

// ExpireWaiting drops private messages that have waited longer than maxAge
// and reports each one on the AsyncError topic.
func (c *Client) ExpireWaiting(maxAge time.Duration) []string {
	mc := c.model.Acquire()
	dropped := mc.DropStaleWaiting(time.Now().Add(-maxAge))
	for _, nick := range dropped {
		err := apierr.NotFound("no key received from %q, private message dropped", nick)
		mc.emit(func() { c.events.AsyncError.Publish(AsyncErrorEvent{Err: err}) })
	}
	mc.Release()
	return dropped
}

// Reset clears all local state. Resetting twice is a no-op.
func (c *Client) Reset() {
	mc := c.model.Acquire()
	c.model.clear()
	mc.Release()
}

// Close resets the client, wipes the key pair and closes the event topics.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.Reset()
		c.keys.Destroy()
		c.events.close()
	})
}
