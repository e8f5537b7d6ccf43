package pprof

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsEndpoint(t *testing.T) {
	h := NewHandler(Config{}, func() any { return map[string]int{"rooms": 2} })
	require.NoError(t, h.Start())
	defer h.Stop(context.Background())

	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Uptime int64          `json:"uptime_seconds"`
		Chat   map[string]int `json:"chat"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.GreaterOrEqual(t, body.Uptime, int64(0))
	assert.Equal(t, 2, body.Chat["rooms"])

	rec = httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stats", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestListenerServesHealthz(t *testing.T) {
	h := NewHandler(Config{HTTPAddr: "127.0.0.1:0"}, nil)
	require.NoError(t, h.Start())
	addr := h.Addr()
	require.NotNil(t, addr)

	resp, err := http.Get("http://" + addr.String() + "/healthz")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "ok\n", string(body))

	require.NoError(t, h.Stop(context.Background()))
	assert.Nil(t, h.Addr())
	assert.NoError(t, h.Stop(context.Background()))
}

func TestCPUProfileWrittenOnStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prof", "cpu.out")
	h := NewHandler(Config{CPUProfile: path}, nil)
	require.NoError(t, h.Start())
	require.NoError(t, h.Stop(context.Background()))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}
