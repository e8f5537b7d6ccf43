package server

import (
	"context"

	"github.com/codefionn/tcpchat/internal/apierr"
	"github.com/codefionn/tcpchat/internal/chat"
	"github.com/codefionn/tcpchat/internal/command"
	"github.com/codefionn/tcpchat/internal/protocol"
)

func (s *Server) roomEvent(mc *Context, r *chat.Room) protocol.RoomEvent {
	snap := r.Snapshot()
	return protocol.RoomEvent{Room: snap, Users: mc.Profiles(snap.Users)}
}

// refresh sends the current state of r to every member.
func (s *Server) refresh(mc *Context, r *chat.Room) {
	mc.Broadcast(r, protocol.MustFrame(protocol.ClientRoomRefreshed, s.roomEvent(mc, r)))
}

// removeUser drops nick from the model and refreshes every room it left.
func (s *Server) removeUser(mc *Context, nick string) {
	for _, r := range mc.RemoveUser(nick) {
		s.refresh(mc, r)
	}
}

func (s *Server) handleRegister(_ context.Context, args command.Args) error {
	p, err := protocol.Decode[protocol.Register](args.Payload)
	if err != nil {
		return err
	}

	mc := s.model.Acquire()
	defer mc.Release()

	reject := func(err error) error {
		mc.SendToConnection(args.ConnectionID, protocol.MustFrame(protocol.ClientRegistrationResponse,
			protocol.RegistrationResponse{Registered: false, Message: apierr.MessageOf(err)}))
		return err
	}

	if err := p.OpenKey.Validate(s.keySize); err != nil {
		return reject(err)
	}
	user := chat.User{Nick: p.Nick, Color: p.Color}
	if err := mc.AddUser(args.ConnectionID, user, p.OpenKey); err != nil {
		return reject(err)
	}

	main, err := mc.GetRoom(chat.MainRoomName)
	if err != nil {
		return err
	}
	main.AddUser(user.Nick)

	mc.Send(user.Nick, protocol.MustFrame(protocol.ClientRegistrationResponse,
		protocol.RegistrationResponse{Registered: true}))
	mc.Send(user.Nick, protocol.MustFrame(protocol.ClientRoomOpened, s.roomEvent(mc, main)))
	refreshed := protocol.MustFrame(protocol.ClientRoomRefreshed, s.roomEvent(mc, main))
	for _, nick := range main.Users() {
		if nick != user.Nick {
			mc.Send(nick, refreshed)
		}
	}

	s.log.Info("%s registered (%s)", user.Nick, args.ConnectionID)
	return nil
}

func (s *Server) handleUnregister(_ context.Context, args command.Args) error {
	mc := s.model.Acquire()
	defer mc.Release()

	user, err := mc.RequireUser(args.ConnectionID)
	if err != nil {
		return err
	}
	s.removeUser(mc, user.Nick)
	s.log.Info("%s unregistered", user.Nick)
	return nil
}

func (s *Server) handleCreateRoom(_ context.Context, args command.Args) error {
	p, err := protocol.Decode[protocol.RoomRequest](args.Payload)
	if err != nil {
		return err
	}

	mc := s.model.Acquire()
	defer mc.Release()

	user, err := mc.RequireUser(args.ConnectionID)
	if err != nil {
		return err
	}
	r, err := mc.AddRoom(p.RoomName, user.Nick)
	if err != nil {
		return err
	}
	mc.Send(user.Nick, protocol.MustFrame(protocol.ClientRoomOpened, s.roomEvent(mc, r)))
	return nil
}

func (s *Server) handleDeleteRoom(_ context.Context, args command.Args) error {
	p, err := protocol.Decode[protocol.RoomRequest](args.Payload)
	if err != nil {
		return err
	}

	mc := s.model.Acquire()
	defer mc.Release()

	user, err := mc.RequireUser(args.ConnectionID)
	if err != nil {
		return err
	}
	if p.RoomName == chat.MainRoomName {
		return apierr.Forbidden("the main room cannot be deleted")
	}
	r, err := mc.GetRoom(p.RoomName)
	if err != nil {
		return err
	}
	if !r.IsAdmin(user.Nick) {
		return apierr.Forbidden("only the admin of %q can delete it", r.Name())
	}

	closed := protocol.MustFrame(protocol.ClientRoomClosed, s.roomEvent(mc, r))
	if _, err := mc.RemoveRoom(r.Name()); err != nil {
		return err
	}
	mc.Broadcast(r, closed)
	return nil
}

func (s *Server) handleJoinRoom(_ context.Context, args command.Args) error {
	p, err := protocol.Decode[protocol.RoomRequest](args.Payload)
	if err != nil {
		return err
	}

	mc := s.model.Acquire()
	defer mc.Release()

	user, err := mc.RequireUser(args.ConnectionID)
	if err != nil {
		return err
	}
	r, err := mc.GetRoom(p.RoomName)
	if err != nil {
		return err
	}
	if !r.AddUser(user.Nick) {
		return apierr.Conflict("you are already in %q", r.Name())
	}
	s.announceJoin(mc, r, []string{user.Nick})
	return nil
}

// announceJoin opens r for every joined nick and refreshes everyone else.
func (s *Server) announceJoin(mc *Context, r *chat.Room, joined []string) {
	ev := s.roomEvent(mc, r)
	opened := protocol.MustFrame(protocol.ClientRoomOpened, ev)
	refreshed := protocol.MustFrame(protocol.ClientRoomRefreshed, ev)

	isNew := make(map[string]bool, len(joined))
	for _, nick := range joined {
		isNew[nick] = true
	}
	for _, nick := range r.Users() {
		if isNew[nick] {
			mc.Send(nick, opened)
		} else {
			mc.Send(nick, refreshed)
		}
	}
}

func (s *Server) handleExitFromRoom(_ context.Context, args command.Args) error {
	p, err := protocol.Decode[protocol.RoomRequest](args.Payload)
	if err != nil {
		return err
	}

	mc := s.model.Acquire()
	defer mc.Release()

	user, err := mc.RequireUser(args.ConnectionID)
	if err != nil {
		return err
	}
	if p.RoomName == chat.MainRoomName {
		return apierr.Forbidden("you cannot leave the main room")
	}
	r, err := mc.GetRoom(p.RoomName)
	if err != nil {
		return err
	}
	if !r.RemoveUser(user.Nick) {
		return apierr.Forbidden("you are not a member of %q", r.Name())
	}
	mc.Send(user.Nick, protocol.MustFrame(protocol.ClientRoomClosed, s.roomEvent(mc, r)))
	s.refresh(mc, r)
	return nil
}

// adminRoom resolves a room the caller must administer.
func (s *Server) adminRoom(mc *Context, connID, roomName string) (*chat.Room, chat.User, error) {
	user, err := mc.RequireUser(connID)
	if err != nil {
		return nil, chat.User{}, err
	}
	if roomName == chat.MainRoomName {
		return nil, chat.User{}, apierr.Forbidden("membership of the main room cannot be changed")
	}
	r, err := mc.GetRoom(roomName)
	if err != nil {
		return nil, chat.User{}, err
	}
	if !r.IsAdmin(user.Nick) {
		return nil, chat.User{}, apierr.Forbidden("only the admin of %q can change its members", r.Name())
	}
	return r, user, nil
}

func (s *Server) handleInviteUsers(_ context.Context, args command.Args) error {
	p, err := protocol.Decode[protocol.RoomUsersRequest](args.Payload)
	if err != nil {
		return err
	}

	mc := s.model.Acquire()
	defer mc.Release()

	r, _, err := s.adminRoom(mc, args.ConnectionID, p.RoomName)
	if err != nil {
		return err
	}
	for _, nick := range p.Users {
		if _, ok := mc.GetUser(nick); !ok {
			return apierr.NotFound("user %q is not online", nick)
		}
	}

	var joined []string
	for _, nick := range p.Users {
		if r.AddUser(nick) {
			joined = append(joined, nick)
		}
	}
	if len(joined) == 0 {
		return nil
	}
	s.announceJoin(mc, r, joined)
	return nil
}

func (s *Server) handleKickUsers(_ context.Context, args command.Args) error {
	p, err := protocol.Decode[protocol.RoomUsersRequest](args.Payload)
	if err != nil {
		return err
	}

	mc := s.model.Acquire()
	defer mc.Release()

	r, admin, err := s.adminRoom(mc, args.ConnectionID, p.RoomName)
	if err != nil {
		return err
	}
	for _, nick := range p.Users {
		if nick == admin.Nick {
			return apierr.Forbidden("the admin cannot be kicked")
		}
		if !r.ContainsUser(nick) {
			return apierr.NotFound("%q is not a member of %q", nick, r.Name())
		}
	}

	var kicked []string
	for _, nick := range p.Users {
		if r.RemoveUser(nick) {
			kicked = append(kicked, nick)
		}
	}
	closed := protocol.MustFrame(protocol.ClientRoomClosed, s.roomEvent(mc, r))
	for _, nick := range kicked {
		mc.Send(nick, closed)
	}
	s.refresh(mc, r)
	return nil
}

func (s *Server) handleSendRoomMessage(_ context.Context, args command.Args) error {
	p, err := protocol.Decode[protocol.SendRoomMessage](args.Payload)
	if err != nil {
		return err
	}

	mc := s.model.Acquire()
	defer mc.Release()

	user, err := mc.RequireUser(args.ConnectionID)
	if err != nil {
		return err
	}
	r, err := mc.GetRoom(p.RoomName)
	if err != nil {
		return err
	}
	if !r.ContainsUser(user.Nick) {
		return apierr.Forbidden("you are not a member of %q", r.Name())
	}

	var msg chat.Message
	if p.MessageID == nil {
		msg, err = mc.AddMessage(r.Name(), user.Nick, p.Message)
	} else {
		msg, err = mc.EditMessage(r.Name(), *p.MessageID, user.Nick, p.Message)
	}
	if err != nil {
		return err
	}

	mc.Broadcast(r, protocol.MustFrame(protocol.ClientOutRoomMessage,
		protocol.RoomMessage{RoomName: r.Name(), Message: msg}))
	return nil
}

func (s *Server) handleSendPrivateMessage(_ context.Context, args command.Args) error {
	p, err := protocol.Decode[protocol.SendPrivateMessage](args.Payload)
	if err != nil {
		return err
	}

	mc := s.model.Acquire()
	defer mc.Release()

	sender, err := mc.RequireUser(args.ConnectionID)
	if err != nil {
		return err
	}
	if _, ok := mc.GetUser(p.Receiver); !ok {
		return apierr.NotFound("user %q is not online", p.Receiver)
	}
	mc.Send(p.Receiver, protocol.MustFrame(protocol.ClientOutPrivateMessage,
		protocol.PrivateMessage{Sender: sender.Nick, Key: p.Key, Message: p.Message}))
	return nil
}

func (s *Server) handleGetUserOpenKey(_ context.Context, args command.Args) error {
	p, err := protocol.Decode[protocol.GetUserOpenKey](args.Payload)
	if err != nil {
		return err
	}

	mc := s.model.Acquire()
	defer mc.Release()

	if _, err := mc.RequireUser(args.ConnectionID); err != nil {
		return err
	}
	key, err := mc.OpenKey(p.Nick)
	if err != nil {
		return err
	}
	mc.SendToConnection(args.ConnectionID, protocol.MustFrame(protocol.ClientReceiveUserOpenKey,
		protocol.UserOpenKey{Nick: p.Nick, OpenKey: key}))
	return nil
}

func (s *Server) handlePing(_ context.Context, args command.Args) error {
	mc := s.model.Acquire()
	defer mc.Release()
	mc.SendToConnection(args.ConnectionID, protocol.MustFrame(protocol.ClientPong, protocol.Empty{}))
	return nil
}
