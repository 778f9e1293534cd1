package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reset(t *testing.T) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() {
		_ = Close()
		mu.Lock()
		current, allowed = nil, nil
		mu.Unlock()
		slog.SetDefault(prev)
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestInitializeConsole(t *testing.T) {
	reset(t)
	var buf bytes.Buffer
	require.NoError(t, Initialize(Config{Level: "warn", Console: &buf}))

	Get().Info("hidden")
	Get().Warn("shown", "seq", 7)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "seq=7")
	assert.Same(t, Get(), slog.Default())
}

func TestInitializeRejectsBadLevel(t *testing.T) {
	reset(t)
	assert.Error(t, Initialize(Config{Level: "verbose"}))
	assert.Error(t, Initialize(Config{FileLevel: "verbose"}))
}

func TestFileUsesOwnLevel(t *testing.T) {
	reset(t)
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "dapper.log")
	require.NoError(t, Initialize(Config{Level: "info", FileLevel: "debug", File: path, JSON: true, Console: &buf}))

	Get().Debug("frame", "command", "threads")
	Get().Info("started")
	require.NoError(t, Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"command":"threads"`)
	assert.Contains(t, string(data), `"msg":"started"`)
	assert.NotContains(t, buf.String(), "frame")
	assert.Contains(t, buf.String(), "started")
}

func TestWithComponentFilter(t *testing.T) {
	reset(t)
	var buf bytes.Buffer
	require.NoError(t, Initialize(Config{Level: "debug", Components: []string{"session"}, Console: &buf}))

	WithComponent("session").Info("kept")
	WithComponent("dap").With("seq", 1).Info("dropped")

	assert.Contains(t, buf.String(), "component=session")
	assert.NotContains(t, buf.String(), "dropped")
}

func TestWithSession(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	WithSession(base, "abc").Info("hello")
	assert.Contains(t, buf.String(), "session_id=abc")
	assert.Nil(t, WithSession(nil, "abc"))
}

func TestCloseWithoutFile(t *testing.T) {
	reset(t)
	assert.NoError(t, Close())
}
