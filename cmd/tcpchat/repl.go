package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/codefionn/tcpchat/internal/apierr"
	"github.com/codefionn/tcpchat/internal/chat"
	"github.com/codefionn/tcpchat/internal/client"
	"github.com/codefionn/tcpchat/internal/consts"
)

// waitingTimeout drops private messages whose recipient never answered.
const waitingTimeout = consts.Timeout60Seconds

var errQuit = errors.New("quit")

const helpText = `Commands:
  /register <nick> [#rrggbb]   join the chat under nick
  /unregister                  leave the chat, keep the connection
  /create <room>               create a room
  /delete [room]               delete a room you administer
  /join <room>                 join an existing room
  /leave [room]                leave a room
  /room <room>                 switch the room plain text goes to
  /invite <nick>...            add users to the current room
  /kick <nick>...              remove users from the current room
  /edit <id> <text>            replace the text of one of your messages
  /msg <nick> <text>           send an end-to-end encrypted private message
  /rooms                       list your rooms
  /users                       list online users
  /quit                        exit
Opening a room makes it current. Anything else is sent to the current room.`

type repl struct {
	cl  *client.Client
	out *printer

	mu      sync.Mutex
	current string
}

func newREPL(cl *client.Client, out *printer) *repl {
	return &repl{cl: cl, out: out, current: chat.MainRoomName}
}

func (r *repl) currentRoom() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *repl) setCurrentRoom(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = name
}

// splitArgs takes n whitespace separated words off s and returns them with
// the trimmed remainder.
func splitArgs(s string, n int) ([]string, string) {
	words := make([]string, 0, n)
	rest := strings.TrimSpace(s)
	for len(words) < n && rest != "" {
		i := strings.IndexFunc(rest, func(r rune) bool { return r == ' ' || r == '\t' })
		if i < 0 {
			words = append(words, rest)
			rest = ""
			break
		}
		words = append(words, rest[:i])
		rest = strings.TrimSpace(rest[i:])
	}
	return words, rest
}

func usage(format string) error {
	return fmt.Errorf("usage: %s", format)
}

// execute runs one input line. It returns errQuit for /quit.
func (r *repl) execute(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return r.cl.SendRoomMessage(r.currentRoom(), line)
	}

	words, rest := splitArgs(line, 1)
	cmd := strings.ToLower(strings.TrimPrefix(words[0], "/"))

	switch cmd {
	case "help", "?":
		r.out.line("%s", helpText)
		return nil

	case "quit", "q":
		return errQuit

	case "register":
		args, extra := splitArgs(rest, 2)
		if len(args) == 0 || extra != "" {
			return usage("/register <nick> [#rrggbb]")
		}
		color := ""
		if len(args) == 2 {
			color = args[1]
		}
		return r.cl.Register(args[0], color)

	case "unregister":
		if err := r.cl.Unregister(); err != nil {
			return err
		}
		r.setCurrentRoom(chat.MainRoomName)
		r.out.info("unregistered")
		return nil

	case "create":
		if rest == "" {
			return usage("/create <room>")
		}
		return r.cl.CreateRoom(rest)

	case "delete":
		return r.cl.DeleteRoom(r.roomArg(rest))

	case "join":
		if rest == "" {
			return usage("/join <room>")
		}
		return r.cl.JoinRoom(rest)

	case "leave":
		return r.cl.ExitFromRoom(r.roomArg(rest))

	case "room":
		if rest == "" {
			r.out.info("current room: %s", r.currentRoom())
			return nil
		}
		if !r.hasRoom(rest) {
			return fmt.Errorf("you are not in %q", rest)
		}
		r.setCurrentRoom(rest)
		return nil

	case "invite", "kick":
		nicks := strings.Fields(rest)
		if len(nicks) == 0 {
			return usage("/" + cmd + " <nick>...")
		}
		if cmd == "invite" {
			return r.cl.InviteUsers(r.currentRoom(), nicks...)
		}
		return r.cl.KickUsers(r.currentRoom(), nicks...)

	case "edit":
		args, text := splitArgs(rest, 1)
		if len(args) == 0 || text == "" {
			return usage("/edit <id> <text>")
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
		if err != nil {
			return fmt.Errorf("message id %q is not a number", args[0])
		}
		return r.cl.EditRoomMessage(r.currentRoom(), id, text)

	case "msg", "pm":
		args, text := splitArgs(rest, 1)
		if len(args) == 0 || text == "" {
			return usage("/msg <nick> <text>")
		}
		err := r.cl.SendPrivateMessage(args[0], text)
		if errors.Is(err, apierr.ErrConflict) {
			return fmt.Errorf("%w; it is sent once %s's key arrives, or dropped after %s", err, args[0], waitingTimeout)
		}
		return err

	case "rooms":
		r.listRooms()
		return nil

	case "users":
		r.listUsers()
		return nil

	default:
		return fmt.Errorf("unknown command /%s, try /help", cmd)
	}
}

func (r *repl) roomArg(rest string) string {
	if rest != "" {
		return rest
	}
	return r.currentRoom()
}

func (r *repl) hasRoom(name string) bool {
	mc := r.cl.Model().Acquire()
	defer mc.Release()
	_, ok := mc.Room(name)
	return ok
}

func (r *repl) colorOf(nick string) string {
	mc := r.cl.Model().Acquire()
	defer mc.Release()
	if u, ok := mc.KnownUser(nick); ok {
		return u.Color
	}
	return ""
}

func (r *repl) listRooms() {
	mc := r.cl.Model().Acquire()
	names := mc.RoomNames()
	counts := make([]int, len(names))
	for i, name := range names {
		if room, ok := mc.Room(name); ok {
			counts[i] = room.UserCount()
		}
	}
	mc.Release()

	current := r.currentRoom()
	for i, name := range names {
		marker := " "
		if name == current {
			marker = "*"
		}
		r.out.line("%s %s (%d users)", marker, name, counts[i])
	}
}

func (r *repl) listUsers() {
	mc := r.cl.Model().Acquire()
	main, ok := mc.Room(chat.MainRoomName)
	var nicks []string
	if ok {
		nicks = main.Users()
	}
	users := make([]chat.User, 0, len(nicks))
	for _, nick := range nicks {
		u, _ := mc.KnownUser(nick)
		u.Nick = nick
		users = append(users, u)
	}
	mc.Release()

	for _, u := range users {
		r.out.line("  %s", r.out.nick(u.Nick, u.Color))
	}
}

// startEvents subscribes to the client events and renders them in the
// background until ctx is done or the topics close. The returned channel is
// closed when rendering stops.
func (r *repl) startEvents(ctx context.Context) <-chan struct{} {
	ev := r.cl.Events()
	msgs, c1 := ev.Message.Subscribe(consts.EventBufferSize)
	opened, c2 := ev.RoomOpened.Subscribe(consts.EventBufferSize)
	closed, c3 := ev.RoomClosed.Subscribe(consts.EventBufferSize)
	regs, c4 := ev.Registration.Subscribe(consts.EventBufferSize)
	errs, c5 := ev.AsyncError.Subscribe(consts.EventBufferSize)

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() { c1(); c2(); c3(); c4(); c5() }()
		r.render(ctx, msgs, opened, closed, regs, errs)
	}()
	return done
}

func (r *repl) render(
	ctx context.Context,
	msgs <-chan client.MessageEvent,
	opened, closed <-chan client.RoomEvent,
	regs <-chan client.RegistrationEvent,
	errs <-chan client.AsyncErrorEvent,
) {
	expire := time.NewTicker(waitingTimeout / 4)
	defer expire.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			r.out.message(m, r.colorOf)
		case o, ok := <-opened:
			if !ok {
				return
			}
			r.out.info("room %s opened (admin %s, %d users)", o.Room.Name, adminName(o.Room.Admin), len(o.Room.Users))
			if o.Room.Name != chat.MainRoomName {
				r.setCurrentRoom(o.Room.Name)
			}
			for _, m := range o.Room.Messages {
				r.out.message(client.MessageEvent{
					Kind: client.MessageRoom, RoomName: o.Room.Name,
					Sender: m.Author, ID: m.ID, Edited: m.Edited, Text: m.Text,
				}, r.colorOf)
			}
		case c, ok := <-closed:
			if !ok {
				return
			}
			r.out.info("room %s closed", c.Room.Name)
			if r.currentRoom() == c.Room.Name {
				r.setCurrentRoom(chat.MainRoomName)
			}
		case reg, ok := <-regs:
			if !ok {
				return
			}
			if reg.Registered {
				r.out.info("registered, type /help for commands")
			} else {
				r.out.error(fmt.Errorf("registration refused: %s", reg.Message))
			}
		case e, ok := <-errs:
			if !ok {
				return
			}
			r.out.error(e.Err)
		case <-expire.C:
			r.cl.ExpireWaiting(waitingTimeout)
		}
	}
}

func adminName(admin string) string {
	if admin == "" {
		return "nobody"
	}
	return admin
}

// loop reads lines from in until EOF, /quit, or ctx is done.
func (r *repl) loop(ctx context.Context, in io.Reader, prompt string) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 4096), consts.MaxMessageLength+1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		if prompt != "" {
			r.out.mu.Lock()
			fmt.Fprint(r.out.w, prompt)
			r.out.mu.Unlock()
		}
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			if err := r.execute(line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				r.out.error(err)
			}
		}
	}
}
