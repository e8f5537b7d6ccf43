// Package chat holds the entities shared by server and client: users, rooms
// and their messages.
package chat

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/codefionn/tcpchat/internal/apierr"
	"github.com/codefionn/tcpchat/internal/consts"
)

// MainRoomName is the room every registered user belongs to.
const MainRoomName = "Main room"

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// User is a registered participant. Two users are the same user when their
// nicknames are equal.
type User struct {
	Nick  string `json:"nick"`
	Color string `json:"color"`
	// IsClient marks the local user in the client model. Never serialized.
	IsClient bool `json:"-"`
}

// Equal compares users by nickname.
func (u User) Equal(other User) bool {
	return u.Nick == other.Nick
}

// ValidateNick checks that nick is usable as a unique identifier.
func ValidateNick(nick string) error {
	if strings.TrimSpace(nick) == "" {
		return apierr.Validation("nickname is empty")
	}
	if utf8.RuneCountInString(nick) > consts.MaxNickLength {
		return apierr.Validation("nickname exceeds %d characters", consts.MaxNickLength)
	}
	if strings.ContainsAny(nick, "\r\n\t") {
		return apierr.Validation("nickname contains control characters")
	}
	return nil
}

// ValidateColor accepts "" or a #rrggbb color.
func ValidateColor(color string) error {
	if color == "" || colorPattern.MatchString(color) {
		return nil
	}
	return apierr.Validation("color %q is not #rrggbb", color)
}

// ValidateRoomName checks a room name for creation or lookup.
func ValidateRoomName(name string) error {
	if strings.TrimSpace(name) == "" {
		return apierr.Validation("room name is empty")
	}
	if utf8.RuneCountInString(name) > consts.MaxRoomNameLength {
		return apierr.Validation("room name exceeds %d characters", consts.MaxRoomNameLength)
	}
	return nil
}

// ValidateText checks message text bounds.
func ValidateText(text string) error {
	if text == "" {
		return apierr.Validation("message is empty")
	}
	if len(text) > consts.MaxMessageLength {
		return apierr.Validation("message exceeds %d bytes", consts.MaxMessageLength)
	}
	return nil
}
