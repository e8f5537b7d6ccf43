package protocol

import (
	"github.com/codefionn/tcpchat/internal/apierr"
	"github.com/codefionn/tcpchat/internal/chat"
	"github.com/codefionn/tcpchat/internal/crypter"
)

// Validator is implemented by payloads that check their own required fields.
type Validator interface {
	Validate() error
}

// Empty is the payload of commands that carry no data.
type Empty struct{}

// Register asks the server to register the connection under Nick.
type Register struct {
	Nick    string          `json:"nick"`
	Color   string          `json:"color,omitempty"`
	OpenKey crypter.OpenKey `json:"openKey"`
}

func (p Register) Validate() error {
	if err := chat.ValidateNick(p.Nick); err != nil {
		return err
	}
	if err := chat.ValidateColor(p.Color); err != nil {
		return err
	}
	if len(p.OpenKey.Modulus) == 0 || len(p.OpenKey.Exponent) == 0 {
		return apierr.Validation("open key is missing")
	}
	return nil
}

// SendRoomMessage posts Message to RoomName, or edits MessageID when set.
type SendRoomMessage struct {
	Message   string `json:"message"`
	RoomName  string `json:"roomName"`
	MessageID *int64 `json:"messageId,omitempty"`
}

func (p SendRoomMessage) Validate() error {
	if p.Message == "" {
		return apierr.Validation("message is empty")
	}
	if p.RoomName == "" {
		return apierr.Validation("room name is empty")
	}
	if p.MessageID != nil && *p.MessageID <= 0 {
		return apierr.Validation("message id %d is invalid", *p.MessageID)
	}
	return chat.ValidateText(p.Message)
}

// SendPrivateMessage carries an encrypted message for Receiver. The server
// relays Key and Message without interpreting them.
type SendPrivateMessage struct {
	Receiver string `json:"receiver"`
	Key      []byte `json:"key"`
	Message  []byte `json:"message"`
}

func (p SendPrivateMessage) Validate() error {
	if p.Receiver == "" {
		return apierr.Validation("receiver is empty")
	}
	if len(p.Key) == 0 || len(p.Message) == 0 {
		return apierr.Validation("private message is missing key or body")
	}
	return nil
}

// GetUserOpenKey requests the open key of Nick.
type GetUserOpenKey struct {
	Nick string `json:"nick"`
}

func (p GetUserOpenKey) Validate() error {
	if p.Nick == "" {
		return apierr.Validation("nick is empty")
	}
	return nil
}

// RoomRequest names a room. Used by create, delete, join and exit.
type RoomRequest struct {
	RoomName string `json:"roomName"`
}

func (p RoomRequest) Validate() error {
	return chat.ValidateRoomName(p.RoomName)
}

// RoomUsersRequest names a room and a set of users. Used by invite and kick.
type RoomUsersRequest struct {
	RoomName string   `json:"roomName"`
	Users    []string `json:"users"`
}

func (p RoomUsersRequest) Validate() error {
	if err := chat.ValidateRoomName(p.RoomName); err != nil {
		return err
	}
	if len(p.Users) == 0 {
		return apierr.Validation("user list is empty")
	}
	for _, nick := range p.Users {
		if nick == "" {
			return apierr.Validation("user list contains an empty nick")
		}
	}
	return nil
}

// RegistrationResponse answers Register.
type RegistrationResponse struct {
	Registered bool   `json:"registered"`
	Message    string `json:"message,omitempty"`
}

// SystemMessage is a server notice addressed to one connection.
type SystemMessage struct {
	Message string `json:"message"`
}

// RoomMessage delivers a new or edited room message.
type RoomMessage struct {
	RoomName string       `json:"roomName"`
	Message  chat.Message `json:"message"`
}

// PrivateMessage delivers a relayed private message.
type PrivateMessage struct {
	Sender  string `json:"sender"`
	Key     []byte `json:"key"`
	Message []byte `json:"message"`
}

func (p PrivateMessage) Validate() error {
	if p.Sender == "" {
		return apierr.Validation("sender is empty")
	}
	if len(p.Key) == 0 {
		return apierr.Validation("private message key is empty")
	}
	return nil
}

// UserOpenKey answers GetUserOpenKey.
type UserOpenKey struct {
	Nick    string          `json:"nick"`
	OpenKey crypter.OpenKey `json:"openKey"`
}

func (p UserOpenKey) Validate() error {
	if p.Nick == "" {
		return apierr.Validation("nick is empty")
	}
	return nil
}

// RoomEvent carries a room snapshot plus the profiles of its members.
// Used for opened, closed and refreshed notifications.
type RoomEvent struct {
	Room  chat.RoomSnapshot `json:"room"`
	Users []chat.User       `json:"users,omitempty"`
}

func (p RoomEvent) Validate() error {
	if p.Room.Name == "" {
		return apierr.Validation("room name is empty")
	}
	return nil
}
