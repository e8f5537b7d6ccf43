package main

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/tcpchat/internal/apierr"
	"github.com/codefionn/tcpchat/internal/client"
	"github.com/codefionn/tcpchat/internal/crypter"
	"github.com/codefionn/tcpchat/internal/protocol"
)

type recordingSender struct {
	mu     sync.Mutex
	frames []protocol.Frame
}

func (s *recordingSender) Send(f protocol.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

func newTestREPL(t *testing.T) (*repl, *recordingSender, *bytes.Buffer) {
	t.Helper()
	kp, err := crypter.GenerateKeyPair(1024)
	require.NoError(t, err)
	sender := &recordingSender{}
	cl, err := client.New(sender, client.Options{KeySize: 1024, Keys: kp})
	require.NoError(t, err)
	t.Cleanup(cl.Close)

	var buf bytes.Buffer
	return newREPL(cl, newPrinter(&buf, false)), sender, &buf
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		in    string
		n     int
		words []string
		rest  string
	}{
		{"", 1, []string{}, ""},
		{"alice", 1, []string{"alice"}, ""},
		{"alice  hello there ", 1, []string{"alice"}, "hello there"},
		{"alice #ff0000", 2, []string{"alice", "#ff0000"}, ""},
		{"a b c d", 2, []string{"a", "b"}, "c d"},
		{"\tspaced\tout", 1, []string{"spaced"}, "out"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			words, rest := splitArgs(tt.in, tt.n)
			assert.Equal(t, tt.words, words)
			assert.Equal(t, tt.rest, rest)
		})
	}
}

func TestExecuteRegisterSendsFrame(t *testing.T) {
	r, sender, _ := newTestREPL(t)

	require.NoError(t, r.execute("/register alice #ff0000"))
	require.Len(t, sender.frames, 1)
	assert.Equal(t, protocol.ServerRegister, sender.frames[0].Command)

	p, err := protocol.Decode[protocol.Register](sender.frames[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Nick)
	assert.Equal(t, "#ff0000", p.Color)
}

func TestExecuteErrors(t *testing.T) {
	r, sender, _ := newTestREPL(t)

	assert.ErrorIs(t, r.execute("/quit"), errQuit)
	assert.ErrorContains(t, r.execute("/register"), "usage")
	assert.ErrorContains(t, r.execute("/edit x hello"), "not a number")
	assert.ErrorContains(t, r.execute("/frobnicate"), "unknown command")
	assert.ErrorIs(t, r.execute("/msg bob hi"), apierr.ErrForbidden)
	assert.ErrorIs(t, r.execute("hello"), apierr.ErrForbidden)
	assert.ErrorContains(t, r.execute("/room nowhere"), "not in")
	assert.NoError(t, r.execute("   "))
	assert.Empty(t, sender.frames)
}

func TestHelpAndRoomsOutput(t *testing.T) {
	r, _, buf := newTestREPL(t)

	require.NoError(t, r.execute("/help"))
	assert.Contains(t, buf.String(), "/msg <nick> <text>")

	buf.Reset()
	require.NoError(t, r.execute("/room"))
	assert.Contains(t, buf.String(), "current room: Main room")
}

func TestPrinterFormatsMessages(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf, false)
	noColor := func(string) string { return "" }

	p.message(client.MessageEvent{Kind: client.MessageRoom, RoomName: "games", Sender: "alice", ID: 3, Text: "hi", Edited: true}, noColor)
	p.message(client.MessageEvent{Kind: client.MessagePrivate, Sender: "bob", Text: "psst"}, noColor)
	p.message(client.MessageEvent{Kind: client.MessageSystem, Text: "server notice"}, noColor)

	assert.Equal(t, "[games] #3 alice: hi (edited)\n[private] bob: psst\n* server notice\n", buf.String())
}

func TestRepeatedPrivateMessageExplainsWait(t *testing.T) {
	r, sender, _ := newTestREPL(t)
	require.NoError(t, r.execute("/register alice"))
	resp, err := protocol.NewFrame(protocol.ClientRegistrationResponse, protocol.RegistrationResponse{Registered: true})
	require.NoError(t, err)
	require.NoError(t, r.cl.Dispatch(context.Background(), resp.Command, resp.Payload))

	require.NoError(t, r.execute("/msg bob first"))
	err = r.execute("/msg bob second")
	assert.ErrorIs(t, err, apierr.ErrConflict)
	assert.ErrorContains(t, err, "once bob's key arrives")
	assert.Len(t, sender.frames, 2, "register and one key request")
}
