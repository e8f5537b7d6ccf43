package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		ok       bool
	}{
		{"debug", LevelDebug, true},
		{"DEBUG", LevelDebug, true},
		{"info", LevelInfo, true},
		{"warn", LevelWarn, true},
		{"Warning", LevelWarn, true},
		{"error", LevelError, true},
		{"none", LevelNone, true},
		{" off ", LevelNone, true},
		{"invalid", LevelInfo, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, ok := ParseLevel(tt.input)
			assert.Equal(t, tt.expected, level)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "NONE", LevelNone.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func TestFileLogger(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "server.log")

	l, err := New(LevelInfo, logPath, "server")
	require.NoError(t, err)

	l.Info("listening on %s", ":5000")
	l.Debug("should not appear")
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	// Writes after Close are discarded.
	l.Error("after close")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "[INFO] [server] listening on :5000")
	assert.NotContains(t, content, "should not appear")
	assert.NotContains(t, content, "after close")
}

func TestPrefixedLoggersShareLevel(t *testing.T) {
	var buf bytes.Buffer
	root := NewWriter(LevelWarn, &buf, "")
	child := root.WithPrefix("transport").WithPrefix("conn")

	child.Info("hidden")
	root.SetLevel(LevelDebug)
	child.Debug("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[DEBUG] [transport:conn] visible")
	assert.Equal(t, LevelDebug, child.GetLevel())
}

func TestDisabledLogger(t *testing.T) {
	l, err := New(LevelDebug, "", "")
	require.NoError(t, err)
	assert.False(t, l.Enabled(LevelError))

	var buf bytes.Buffer
	none := NewWriter(LevelNone, &buf, "")
	none.Error("nothing")
	assert.Empty(t, buf.String())
}

func TestGlobalBeforeInit(t *testing.T) {
	// Must not panic and must not write anywhere.
	Global().Info("ignored")
	Info("ignored")
}

func TestSlogHandler(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(LevelInfo, &buf, "ws")
	sl := slog.New(NewSlogHandler(l)).With("remote", "10.0.0.1").WithGroup("req")

	sl.Debug("skipped")
	sl.Warn("upgrade failed", "status", 400, slog.Group("hdr", "origin", "x"))

	out := buf.String()
	assert.NotContains(t, out, "skipped")
	assert.Contains(t, out, "[WARN] [ws] upgrade failed remote=10.0.0.1 req.status=400 req.hdr.origin=x")

	assert.Nil(t, NewSlogHandler(nil))
}

func TestStdLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(LevelInfo, &buf, "http")
	StdLogger(l, slog.LevelError).Printf("tls handshake error")
	assert.True(t, strings.Contains(buf.String(), "[ERROR] [http] tls handshake error"))
}
