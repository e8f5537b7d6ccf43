package server

import (
	"context"

	"github.com/codefionn/tcpchat/internal/apierr"
	"github.com/codefionn/tcpchat/internal/command"
	"github.com/codefionn/tcpchat/internal/consts"
	"github.com/codefionn/tcpchat/internal/logger"
	"github.com/codefionn/tcpchat/internal/protocol"
)

// Options configures a Server.
type Options struct {
	// KeySize is the RSA modulus size every participant must use.
	KeySize int
}

// Server owns a Model and the registry of server-bound command handlers.
type Server struct {
	model    *Model
	registry *command.Registry
	keySize  int
	log      *logger.Logger
}

// New creates a server whose outbound traffic goes to sender.
func New(sender Sender, opts Options) *Server {
	if opts.KeySize == 0 {
		opts.KeySize = consts.DefaultKeySize
	}
	s := &Server{
		model:    NewModel(sender),
		registry: command.NewRegistry("server", protocol.ServerCommandName),
		keySize:  opts.KeySize,
		log:      logger.Global().WithPrefix("server"),
	}
	s.registerHandlers()
	return s
}

func (s *Server) registerHandlers() {
	s.registry.Register(protocol.ServerRegister, s.handleRegister)
	s.registry.Register(protocol.ServerUnregister, s.handleUnregister)
	s.registry.Register(protocol.ServerSendRoomMessage, s.handleSendRoomMessage)
	s.registry.Register(protocol.ServerSendPrivateMessage, s.handleSendPrivateMessage)
	s.registry.Register(protocol.ServerGetUserOpenKey, s.handleGetUserOpenKey)
	s.registry.Register(protocol.ServerCreateRoom, s.handleCreateRoom)
	s.registry.Register(protocol.ServerDeleteRoom, s.handleDeleteRoom)
	s.registry.Register(protocol.ServerJoinRoom, s.handleJoinRoom)
	s.registry.Register(protocol.ServerExitFromRoom, s.handleExitFromRoom)
	s.registry.Register(protocol.ServerInviteUsers, s.handleInviteUsers)
	s.registry.Register(protocol.ServerKickUsers, s.handleKickUsers)
	s.registry.Register(protocol.ServerPing, s.handlePing)
}

// Model exposes the state model, mainly for tests and diagnostics.
func (s *Server) Model() *Model { return s.model }

// Registry exposes the command registry.
func (s *Server) Registry() *command.Registry { return s.registry }

// Dispatch runs the handler for id on behalf of connID.
//
// Validation, NotFound, Forbidden and Conflict failures are reported to the
// originating connection as a system message. Every failure is also returned
// so the transport can log it; none of them should close the connection.
func (s *Server) Dispatch(ctx context.Context, connID string, id uint16, payload []byte) error {
	mc := s.model.Acquire()
	stopped := mc.Stopped()
	mc.Release()
	if stopped {
		return apierr.Protocol("server is stopped")
	}

	err := s.registry.Dispatch(ctx, connID, id, payload)
	if err == nil {
		return nil
	}

	if apierr.IsUserFacing(err) {
		mc = s.model.Acquire()
		mc.SendToConnection(connID, protocol.MustFrame(protocol.ClientOutSystemMessage,
			protocol.SystemMessage{Message: apierr.MessageOf(err)}))
		mc.Release()
		s.log.Debug("%s from %s rejected: %v", protocol.ServerCommandName(id), connID, err)
	} else {
		s.log.Warn("%s from %s failed: %v", protocol.ServerCommandName(id), connID, err)
	}
	return err
}

// Stats is a point-in-time summary of the chat state.
type Stats struct {
	Rooms int `json:"rooms"`
	Users int `json:"users"`
}

// Stats counts rooms and registered users.
func (s *Server) Stats() Stats {
	mc := s.model.Acquire()
	defer mc.Release()
	return Stats{Rooms: len(mc.Rooms()), Users: mc.UserCount()}
}

// OnDisconnect removes the user on connID from every room and refreshes the
// rooms it left.
func (s *Server) OnDisconnect(connID string) {
	mc := s.model.Acquire()
	defer mc.Release()

	user, ok := mc.UserByConnection(connID)
	if !ok {
		return
	}
	s.removeUser(mc, user.Nick)
	s.log.Info("%s disconnected (%s)", user.Nick, connID)
}

// Stop tears the model down and disconnects every registered connection.
// Calling it again is a no-op.
func (s *Server) Stop() {
	mc := s.model.Acquire()
	defer mc.Release()
	if mc.stop() {
		s.log.Info("server state stopped")
	}
}
