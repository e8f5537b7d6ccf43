package client

import (
	"context"

	"github.com/codefionn/tcpchat/internal/apierr"
	"github.com/codefionn/tcpchat/internal/command"
	"github.com/codefionn/tcpchat/internal/crypter"
	"github.com/codefionn/tcpchat/internal/protocol"
)

func (c *Client) registerHandlers() {
	c.registry.Register(protocol.ClientRegistrationResponse, c.handleRegistrationResponse)
	c.registry.Register(protocol.ClientOutSystemMessage, c.handleSystemMessage)
	c.registry.Register(protocol.ClientOutRoomMessage, c.handleRoomMessage)
	c.registry.Register(protocol.ClientOutPrivateMessage, c.handlePrivateMessage)
	c.registry.Register(protocol.ClientReceiveUserOpenKey, c.handleReceiveUserOpenKey)
	c.registry.Register(protocol.ClientRoomOpened, c.handleRoomOpened)
	c.registry.Register(protocol.ClientRoomClosed, c.handleRoomClosed)
	c.registry.Register(protocol.ClientRoomRefreshed, c.handleRoomRefreshed)
	c.registry.Register(protocol.ClientPong, c.handlePong)
}

func (c *Client) asyncError(err error) {
	c.log.Warn("%v", err)
	c.events.AsyncError.Publish(AsyncErrorEvent{Err: err})
}

func (c *Client) handleRegistrationResponse(_ context.Context, args command.Args) error {
	p, err := protocol.Decode[protocol.RegistrationResponse](args.Payload)
	if err != nil {
		return err
	}

	mc := c.model.Acquire()
	if mc.m.user == nil {
		mc.Release()
		return apierr.Protocol("registration response without a pending registration")
	}
	if p.Registered {
		mc.m.registered = true
	} else {
		c.model.clear()
	}
	mc.emit(func() {
		c.events.Registration.Publish(RegistrationEvent{Registered: p.Registered, Message: p.Message})
	})
	return mc.Release()
}

func (c *Client) handleSystemMessage(_ context.Context, args command.Args) error {
	p, err := protocol.Decode[protocol.SystemMessage](args.Payload)
	if err != nil {
		return err
	}
	c.events.Message.Publish(MessageEvent{Kind: MessageSystem, Text: p.Message})
	return nil
}

func (c *Client) handleRoomMessage(_ context.Context, args command.Args) error {
	p, err := protocol.Decode[protocol.RoomMessage](args.Payload)
	if err != nil {
		return err
	}

	mc := c.model.Acquire()
	r, ok := mc.Room(p.RoomName)
	if !ok {
		mc.Release()
		return apierr.NotFound("message for unknown room %q", p.RoomName)
	}
	r.PutMessage(p.Message)
	mc.emit(func() {
		c.events.Message.Publish(MessageEvent{
			Kind:     MessageRoom,
			RoomName: p.RoomName,
			Sender:   p.Message.Author,
			ID:       p.Message.ID,
			Edited:   p.Message.Edited,
			Text:     p.Message.Text,
		})
	})
	return mc.Release()
}

func (c *Client) handlePrivateMessage(_ context.Context, args command.Args) error {
	p, err := protocol.Decode[protocol.PrivateMessage](args.Payload)
	if err != nil {
		return err
	}

	plaintext, err := c.keys.Open(crypter.Sealed{Key: p.Key, Message: p.Message})
	if err != nil {
		err = apierr.Crypto("private message from "+p.Sender+" could not be decrypted", err)
		c.asyncError(err)
		return err
	}
	c.events.Message.Publish(MessageEvent{Kind: MessagePrivate, Sender: p.Sender, Text: string(plaintext)})
	return nil
}

// handleReceiveUserOpenKey encrypts and sends the private message waiting
// for the key's owner. A key nobody is waiting for is ignored.
func (c *Client) handleReceiveUserOpenKey(_ context.Context, args command.Args) error {
	p, err := protocol.Decode[protocol.UserOpenKey](args.Payload)
	if err != nil {
		return err
	}

	mc := c.model.Acquire()
	text, ok := mc.TakeWaiting(p.Nick)
	mc.Release()
	if !ok {
		c.log.Debug("open key of %s arrived with nothing waiting", p.Nick)
		return nil
	}

	sealed, err := crypter.Seal(p.OpenKey, c.keySize, []byte(text))
	if err != nil {
		err = apierr.Crypto("private message to "+p.Nick+" was not sent", err)
		c.asyncError(err)
		return err
	}

	f, err := protocol.NewFrame(protocol.ServerSendPrivateMessage, protocol.SendPrivateMessage{
		Receiver: p.Nick,
		Key:      sealed.Key,
		Message:  sealed.Message,
	})
	if err != nil {
		return err
	}
	mc = c.model.Acquire()
	mc.Send(f)
	return mc.Release()
}

func (c *Client) handleRoomOpened(_ context.Context, args command.Args) error {
	p, err := protocol.Decode[protocol.RoomEvent](args.Payload)
	if err != nil {
		return err
	}

	mc := c.model.Acquire()
	mc.putRoom(p)
	mc.emit(func() { c.events.RoomOpened.Publish(RoomEvent{Room: p.Room, Users: p.Users}) })
	return mc.Release()
}

func (c *Client) handleRoomClosed(_ context.Context, args command.Args) error {
	p, err := protocol.Decode[protocol.RoomEvent](args.Payload)
	if err != nil {
		return err
	}

	mc := c.model.Acquire()
	delete(mc.m.rooms, p.Room.Name)
	mc.emit(func() { c.events.RoomClosed.Publish(RoomEvent{Room: p.Room, Users: p.Users}) })
	return mc.Release()
}

func (c *Client) handleRoomRefreshed(_ context.Context, args command.Args) error {
	p, err := protocol.Decode[protocol.RoomEvent](args.Payload)
	if err != nil {
		return err
	}

	mc := c.model.Acquire()
	if _, ok := mc.Room(p.Room.Name); !ok {
		mc.Release()
		return apierr.NotFound("refresh for unknown room %q", p.Room.Name)
	}
	mc.putRoom(p)
	mc.emit(func() { c.events.RoomRefreshed.Publish(RoomEvent{Room: p.Room, Users: p.Users}) })
	return mc.Release()
}

func (c *Client) handlePong(context.Context, command.Args) error {
	c.log.Debug("pong")
	return nil
}
