package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEnvLoader(env ...string) *EnvLoader {
	l := NewEnvLoader("DAPPER_")
	l.environ = func() []string { return env }
	return l
}

func TestEnvLoaderDerivedPaths(t *testing.T) {
	l := newTestEnvLoader(
		"DAPPER_LOG_LEVEL=debug",
		"DAPPER_CLIENT_REQUEST_TIMEOUT=3s",
		"DAPPER_SESSION_EVENT_BUFFER=1",
		"DAPPER_LOG_JSON=yes",
		"HOME=/root",
		"DAPPER_NOSECTION=1",
	)

	config, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"log":     map[string]any{"level": "debug", "json": true},
		"client":  map[string]any{"request_timeout": "3s"},
		"session": map[string]any{"event_buffer": int64(1)},
	}, config)
}

func TestEnvLoaderMappingAndSkip(t *testing.T) {
	l := newTestEnvLoader(
		"DAPPER_ADAPTERS_DELVE_PATH=/opt/dlv",
		"DAPPER_ADAPTERS_DELVE_ARGS=[\"dap\",\"--log\"]",
		"DAPPER_CONFIG=/etc/dapper.toml",
	)
	l.AddMapping("DAPPER_ADAPTERS_DELVE_PATH", "adapters.delve.path")
	l.AddMapping("DAPPER_ADAPTERS_DELVE_ARGS", "adapters.delve.args")
	l.Skip("DAPPER_CONFIG")

	config, err := l.Load()
	require.NoError(t, err)

	delve := config["adapters"].(map[string]any)["delve"].(map[string]any)
	assert.Equal(t, "/opt/dlv", delve["path"])
	assert.Equal(t, []any{"dap", "--log"}, delve["args"])
	assert.NotContains(t, config, "config")
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"", ""},
		{"true", true},
		{"Off", false},
		{"42", int64(42)},
		{"1.5", 1.5},
		{"10s", "10s"},
		{"{broken", "{broken"},
		{`{"a":1}`, map[string]any{"a": float64(1)}},
		{"localhost", "localhost"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseValue(tt.in), tt.in)
	}
}
