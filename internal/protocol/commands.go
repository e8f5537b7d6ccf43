// Package protocol defines the chat wire protocol: command identifiers for
// both directions, their payload records, and the length-prefixed frame codec.
package protocol

import "fmt"

// Server-bound command identifiers. Values are stable and never reused.
const (
	ServerRegister           uint16 = 1
	ServerUnregister         uint16 = 2
	ServerSendRoomMessage    uint16 = 3
	ServerSendPrivateMessage uint16 = 4
	ServerGetUserOpenKey     uint16 = 5
	ServerCreateRoom         uint16 = 6
	ServerDeleteRoom         uint16 = 7
	ServerJoinRoom           uint16 = 8
	ServerExitFromRoom       uint16 = 9
	ServerInviteUsers        uint16 = 10
	ServerKickUsers          uint16 = 11
	ServerPing               uint16 = 12
)

// Client-bound command identifiers. A separate namespace from the server-bound ones.
const (
	ClientRegistrationResponse uint16 = 1
	ClientOutSystemMessage     uint16 = 2
	ClientOutRoomMessage       uint16 = 3
	ClientOutPrivateMessage    uint16 = 4
	ClientReceiveUserOpenKey   uint16 = 5
	ClientRoomOpened           uint16 = 6
	ClientRoomClosed           uint16 = 7
	ClientRoomRefreshed        uint16 = 8
	ClientPong                 uint16 = 9
)

var serverCommandNames = map[uint16]string{
	ServerRegister:           "register",
	ServerUnregister:         "unregister",
	ServerSendRoomMessage:    "send_room_message",
	ServerSendPrivateMessage: "send_private_message",
	ServerGetUserOpenKey:     "get_user_open_key",
	ServerCreateRoom:         "create_room",
	ServerDeleteRoom:         "delete_room",
	ServerJoinRoom:           "join_room",
	ServerExitFromRoom:       "exit_from_room",
	ServerInviteUsers:        "invite_users",
	ServerKickUsers:          "kick_users",
	ServerPing:               "ping",
}

var clientCommandNames = map[uint16]string{
	ClientRegistrationResponse: "registration_response",
	ClientOutSystemMessage:     "system_message",
	ClientOutRoomMessage:       "room_message",
	ClientOutPrivateMessage:    "private_message",
	ClientReceiveUserOpenKey:   "receive_user_open_key",
	ClientRoomOpened:           "room_opened",
	ClientRoomClosed:           "room_closed",
	ClientRoomRefreshed:        "room_refreshed",
	ClientPong:                 "pong",
}

// ServerCommandName returns a log-friendly name for a server-bound id.
func ServerCommandName(id uint16) string {
	if name, ok := serverCommandNames[id]; ok {
		return name
	}
	return fmt.Sprintf("server_command_%d", id)
}

// ClientCommandName returns a log-friendly name for a client-bound id.
func ClientCommandName(id uint16) string {
	if name, ok := clientCommandNames[id]; ok {
		return name
	}
	return fmt.Sprintf("client_command_%d", id)
}
