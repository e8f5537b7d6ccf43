package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	p := New(filepath.Join(t.TempDir(), "run", "server.pid"))

	require.NoError(t, p.Acquire())
	pid, err := p.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	// Re-acquiring our own file is fine.
	require.NoError(t, p.Acquire())

	require.NoError(t, p.Release())
	_, err = os.Stat(p.Path())
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, p.Release())
}

func TestAcquireReplacesStaleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.pid")
	// PIDs this large are not handed out on common systems.
	require.NoError(t, os.WriteFile(path, []byte("2147483646"), 0644))

	p := New(path)
	require.NoError(t, p.Acquire())
	pid, err := p.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestAcquireRefusesLiveProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getppid())), 0644))

	err := New(path).Acquire()
	assert.ErrorIs(t, err, ErrRunning)
}

func TestReleaseLeavesForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.pid")
	require.NoError(t, os.WriteFile(path, []byte("12345678"), 0644))

	require.NoError(t, New(path).Release())
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestReadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.pid")
	require.NoError(t, os.WriteFile(path, []byte("nope"), 0644))
	_, err := New(path).Read()
	assert.Error(t, err)
}
