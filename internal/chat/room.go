package chat

import (
	"slices"

	"github.com/codefionn/tcpchat/internal/apierr"
)

// Message is a room message. IDs are assigned by the room, start at 1, grow
// strictly and are never reused.
type Message struct {
	ID     int64  `json:"id"`
	Author string `json:"author"`
	Text   string `json:"text"`
	Edited bool   `json:"edited,omitempty"`
}

// Room is a named group of users with a message history.
// A Room is not safe for concurrent use; the owning model serializes access.
type Room struct {
	name     string
	admin    string
	users    map[string]struct{}
	messages map[int64]*Message
	lastID   int64
}

// NewRoom creates a room whose only member is admin. The main room is created
// with an empty admin and no members.
func NewRoom(name, admin string) *Room {
	r := &Room{
		name:     name,
		admin:    admin,
		users:    make(map[string]struct{}),
		messages: make(map[int64]*Message),
	}
	if admin != "" {
		r.users[admin] = struct{}{}
	}
	return r
}

// RoomFromSnapshot rebuilds a room from its wire form.
func RoomFromSnapshot(s RoomSnapshot) *Room {
	r := NewRoom(s.Name, "")
	r.admin = s.Admin
	for _, nick := range s.Users {
		r.users[nick] = struct{}{}
	}
	for _, m := range s.Messages {
		r.PutMessage(m)
	}
	return r
}

func (r *Room) Name() string  { return r.name }
func (r *Room) Admin() string { return r.admin }

// IsAdmin reports whether nick administers the room. The main room has no admin.
func (r *Room) IsAdmin(nick string) bool {
	return r.admin != "" && r.admin == nick
}

// AddUser adds nick and reports whether it was not already a member.
func (r *Room) AddUser(nick string) bool {
	if _, ok := r.users[nick]; ok {
		return false
	}
	r.users[nick] = struct{}{}
	return true
}

// RemoveUser removes nick and reports whether it was a member.
func (r *Room) RemoveUser(nick string) bool {
	if _, ok := r.users[nick]; !ok {
		return false
	}
	delete(r.users, nick)
	return true
}

func (r *Room) ContainsUser(nick string) bool {
	_, ok := r.users[nick]
	return ok
}

// Users returns member nicknames in ascending order.
func (r *Room) Users() []string {
	out := make([]string, 0, len(r.users))
	for nick := range r.users {
		out = append(out, nick)
	}
	slices.Sort(out)
	return out
}

func (r *Room) UserCount() int { return len(r.users) }

// AddMessage appends a message authored by author and returns it.
func (r *Room) AddMessage(author, text string) Message {
	r.lastID++
	m := &Message{ID: r.lastID, Author: author, Text: text}
	r.messages[m.ID] = m
	return *m
}

// PutMessage inserts or replaces a message received from elsewhere, keeping
// the id counter ahead of every stored id.
func (r *Room) PutMessage(m Message) {
	cp := m
	r.messages[m.ID] = &cp
	if m.ID > r.lastID {
		r.lastID = m.ID
	}
}

func (r *Room) GetMessage(id int64) (Message, bool) {
	m, ok := r.messages[id]
	if !ok {
		return Message{}, false
	}
	return *m, true
}

// IsMessageAuthor reports whether message id exists and was written by nick.
func (r *Room) IsMessageAuthor(id int64, nick string) bool {
	m, ok := r.messages[id]
	return ok && m.Author == nick
}

// EditMessage replaces the text of message id. Only the author may edit; on
// failure the stored text is left as it was.
func (r *Room) EditMessage(id int64, author, text string) (Message, error) {
	m, ok := r.messages[id]
	if !ok {
		return Message{}, apierr.NotFound("message %d not found in room %q", id, r.name)
	}
	if m.Author != author {
		return Message{}, apierr.Forbidden("message %d belongs to another user", id)
	}
	m.Text = text
	m.Edited = true
	return *m, nil
}

// Messages returns the history ordered by id.
func (r *Room) Messages() []Message {
	out := make([]Message, 0, len(r.messages))
	for _, m := range r.messages {
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b Message) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Snapshot returns a detached copy suitable for sending to a client.
func (r *Room) Snapshot() RoomSnapshot {
	return RoomSnapshot{
		Name:     r.name,
		Admin:    r.admin,
		Users:    r.Users(),
		Messages: r.Messages(),
	}
}

// RoomSnapshot is the wire form of a room.
type RoomSnapshot struct {
	Name     string    `json:"name"`
	Admin    string    `json:"admin,omitempty"`
	Users    []string  `json:"users"`
	Messages []Message `json:"messages,omitempty"`
}
