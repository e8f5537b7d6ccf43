package client

import (
	"github.com/codefionn/tcpchat/internal/chat"
	"github.com/codefionn/tcpchat/internal/event"
)

// MessageKind tells apart the three kinds of received message.
type MessageKind int

const (
	MessageSystem MessageKind = iota
	MessagePrivate
	MessageRoom
)

func (k MessageKind) String() string {
	switch k {
	case MessageSystem:
		return "system"
	case MessagePrivate:
		return "private"
	case MessageRoom:
		return "room"
	default:
		return "unknown"
	}
}

// MessageEvent is published for every received message.
type MessageEvent struct {
	Kind     MessageKind
	RoomName string // room messages only
	Sender   string // empty for system messages
	ID       int64  // room messages only
	Edited   bool
	Text     string
}

// RoomEvent is published when a room is opened, closed or refreshed.
type RoomEvent struct {
	Room  chat.RoomSnapshot
	Users []chat.User
}

// RegistrationEvent reports the server's answer to Register.
type RegistrationEvent struct {
	Registered bool
	Message    string
}

// AsyncErrorEvent reports a failure that happened outside a UI call, such as
// a private message that could not be encrypted once the key arrived.
type AsyncErrorEvent struct {
	Err error
}

// Events are the topics a UI subscribes to.
type Events struct {
	RoomOpened    *event.Topic[RoomEvent]
	RoomClosed    *event.Topic[RoomEvent]
	RoomRefreshed *event.Topic[RoomEvent]
	Message       *event.Topic[MessageEvent]
	Registration  *event.Topic[RegistrationEvent]
	AsyncError    *event.Topic[AsyncErrorEvent]
}

func newEvents() *Events {
	return &Events{
		RoomOpened:    event.NewTopic[RoomEvent](),
		RoomClosed:    event.NewTopic[RoomEvent](),
		RoomRefreshed: event.NewTopic[RoomEvent](),
		Message:       event.NewTopic[MessageEvent](),
		Registration:  event.NewTopic[RegistrationEvent](),
		AsyncError:    event.NewTopic[AsyncErrorEvent](),
	}
}

func (e *Events) close() {
	e.RoomOpened.Close()
	e.RoomClosed.Close()
	e.RoomRefreshed.Close()
	e.Message.Close()
	e.Registration.Close()
	e.AsyncError.Close()
}
