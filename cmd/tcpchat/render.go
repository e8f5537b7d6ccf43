package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/codefionn/tcpchat/internal/client"
)

// printer serializes output from the prompt loop and the event loop.
type printer struct {
	mu     sync.Mutex
	w      io.Writer
	color  bool
	system lipgloss.Style
	errs   lipgloss.Style
	room   lipgloss.Style
	pm     lipgloss.Style
}

func newPrinter(w io.Writer, color bool) *printer {
	return &printer{
		w:      w,
		color:  color,
		system: lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true),
		errs:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		room:   lipgloss.NewStyle().Foreground(lipgloss.Color("86")),
		pm:     lipgloss.NewStyle().Foreground(lipgloss.Color("170")).Bold(true),
	}
}

func (p *printer) render(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

// nick renders a nickname in the user's chosen color, if any.
func (p *printer) nick(name, color string) string {
	if !p.color || color == "" {
		return name
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Bold(true).Render(name)
}

func (p *printer) line(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) info(format string, args ...any) {
	p.line("%s", p.render(p.system, "* "+fmt.Sprintf(format, args...)))
}

func (p *printer) error(err error) {
	p.line("%s", p.render(p.errs, "! "+err.Error()))
}

// message formats a received message. colorOf looks up a sender's color.
func (p *printer) message(ev client.MessageEvent, colorOf func(string) string) {
	switch ev.Kind {
	case client.MessageSystem:
		p.info("%s", ev.Text)
	case client.MessagePrivate:
		p.line("%s %s: %s", p.render(p.pm, "[private]"), p.nick(ev.Sender, colorOf(ev.Sender)), ev.Text)
	case client.MessageRoom:
		suffix := ""
		if ev.Edited {
			suffix = p.render(p.system, " (edited)")
		}
		p.line("%s #%d %s: %s%s",
			p.render(p.room, "["+ev.RoomName+"]"), ev.ID,
			p.nick(ev.Sender, colorOf(ev.Sender)), ev.Text, suffix)
	}
}
