package config

import (
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/dapper/internal/config/loader"
	"github.com/dshills/dapper/internal/integration/debug"
	"github.com/dshills/dapper/internal/integration/debug/adapters"
)

const projectConfig = `
[log]
level = "debug"

[client]
request_timeout = "5s"

[adapters.go]
path = "/opt/dlv"
args = ["dap", "--check-go-version=false"]

[[launch]]
name = "api"
type = "go"
program = "./cmd/api"
args = ["--port", "8080"]

[[launch]]
name = "own"
type = "delve"
program = "./cmd/own"
adapter_path = "/usr/local/bin/dlv"

[[launch]]
name = "script"
type = "python"
program = "main.py"

[launch.extra]
justMyCode = false
`

func load(t *testing.T, fsys fstest.MapFS, env []string, opts ...Option) (*Config, error) {
	t.Helper()
	opts = append([]Option{WithFS(fsys), withEnviron(func() []string { return env })}, opts...)
	return Load(opts...)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	cfg, err := load(t, fstest.MapFS{}, nil)
	require.NoError(t, err)

	def := debug.DefaultOptions()
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, def.RequestTimeout, cfg.Client.RequestTimeout.Duration)
	assert.Equal(t, def.RestartGrace, cfg.Session.RestartGrace.Duration)
	assert.Equal(t, debug.DefaultEventBuffer, cfg.Session.EventBuffer)
	assert.Empty(t, cfg.Launch)
	assert.Empty(t, cfg.Sources)
}

func TestLoadFileAndEnv(t *testing.T) {
	fsys := fstest.MapFS{"proj/dapper.toml": {Data: []byte(projectConfig)}}
	env := []string{
		"DAPPER_CLIENT_INITIALIZED_TIMEOUT=3s",
		"DAPPER_SESSION_EVENT_BUFFER=16",
		"DAPPER_ADAPTERS_DEBUGPY_PATH=/venv/bin/python",
		"PATH=/usr/bin",
	}

	cfg, err := load(t, fsys, env, WithFile("proj/dapper.toml"))
	require.NoError(t, err)

	assert.Equal(t, []string{"proj/dapper.toml"}, cfg.Sources)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 5*time.Second, cfg.Client.RequestTimeout.Duration)
	assert.Equal(t, 3*time.Second, cfg.Client.InitializedTimeout.Duration)
	assert.Equal(t, 16, cfg.Session.EventBuffer)
	assert.Equal(t, "/venv/bin/python", cfg.Adapters["debugpy"].Path)
	assert.Equal(t, []string{"api", "own", "script"}, cfg.LaunchNames())
	assert.Equal(t, false, cfg.Launch[2].Extra["justMyCode"])
}

func TestLoadLayering(t *testing.T) {
	fsys := fstest.MapFS{
		"user.toml": {Data: []byte("[log]\nlevel = \"warn\"\njson = true\n[session]\nrestart_grace = \"1s\"\n")},
		"proj.toml": {Data: []byte("[log]\nlevel = \"error\"\n")},
	}
	env := []string{"DAPPER_SESSION_RESTART_GRACE=250ms"}

	cfg, err := load(t, fsys, env, WithFile("user.toml"), WithFile("proj.toml"))
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, 250*time.Millisecond, cfg.Session.RestartGrace.Duration)

	cfg, err = load(t, fsys, env, WithFile("user.toml"), WithoutEnv())
	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.Session.RestartGrace.Duration)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := load(t, fstest.MapFS{}, nil, WithFile("nope.toml"))
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestLoadBadDuration(t *testing.T) {
	fsys := fstest.MapFS{"d.toml": {Data: []byte("[client]\nrequest_timeout = \"soon\"\n")}}
	_, err := load(t, fsys, nil, WithFile("d.toml"))
	var pe *loader.ParseError
	assert.ErrorAs(t, err, &pe)
}

func TestValidate(t *testing.T) {
	fsys := fstest.MapFS{"bad.toml": {Data: []byte(`
[log]
level = "chatty"

[client]
request_timeout = "-1s"

[adapters.cobol]
path = "/bin/cobol"

[[launch]]
name = "a"
program = "main.go"

[[launch]]
name = "a"
program = "other.go"

[[launch]]
program = "x.rb"
type = "ruby"
`)}}

	_, err := load(t, fsys, nil, WithFile("bad.toml"))
	require.ErrorIs(t, err, ErrValidationFailed)
	msg := err.Error()
	for _, want := range []string{
		"log.level",
		"client.request_timeout",
		"adapters.cobol",
		"launch[1].name: is not unique",
		"launch[2].name: is required",
		"launch[2].type",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestLaunchConfigAppliesAdapterSection(t *testing.T) {
	fsys := fstest.MapFS{"proj/dapper.toml": {Data: []byte(projectConfig)}}
	cfg, err := load(t, fsys, nil, WithFile("proj/dapper.toml"))
	require.NoError(t, err)

	api, err := cfg.LaunchConfig("api")
	require.NoError(t, err)
	assert.Equal(t, "/opt/dlv", api.AdapterPath)
	assert.Equal(t, []string{"dap", "--check-go-version=false"}, api.AdapterArgs)

	own, err := cfg.LaunchConfig("own")
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/dlv", own.AdapterPath)
	assert.Equal(t, []string{"dap", "--check-go-version=false"}, own.AdapterArgs)

	script, err := cfg.LaunchConfig("script")
	require.NoError(t, err)
	assert.Empty(t, script.AdapterPath)

	_, err = cfg.LaunchConfig("missing")
	assert.ErrorIs(t, err, ErrLaunchNotFound)
}

func TestLaunchConfigValidates(t *testing.T) {
	cfg := Default()
	cfg.Launch = []adapters.Config{{Name: "attach", Type: "go", Request: "attach"}}

	_, err := cfg.LaunchConfig("attach")
	assert.ErrorIs(t, err, adapters.ErrInvalidConfig)
}

func TestLoadLaunchJSON(t *testing.T) {
	fsys := fstest.MapFS{
		"proj/dapper.toml": {Data: []byte(`launch_json = ".vscode/launch.json"

[[launch]]
name = "api"
type = "go"
program = "./cmd/api"
`)},
		"proj/.vscode/launch.json": {Data: []byte(`{
	// editor configurations
	"configurations": [
		{"name": "api", "type": "go", "request": "launch", "program": "${workspaceFolder}/other"},
		{"name": "tests", "type": "go", "request": "launch", "mode": "test", "program": "${workspaceFolder}/pkg"},
		{"name": "chrome", "type": "chrome", "request": "launch"},
	]
}`)},
	}

	cfg, err := load(t, fsys, nil, WithFile("proj/dapper.toml"))
	require.NoError(t, err)

	assert.Equal(t, []string{"api", "tests"}, cfg.LaunchNames())
	assert.Equal(t, "./cmd/api", cfg.Launch[0].Program)
	assert.Equal(t, "proj/pkg", cfg.Launch[1].Program)
	assert.Equal(t, "test", cfg.Launch[1].Extra["mode"])
	require.Len(t, cfg.Skipped, 1)
	assert.Contains(t, cfg.Skipped[0], "chrome")
	assert.Contains(t, cfg.Sources, "proj/.vscode/launch.json")
}

func TestLoadLaunchJSONMissing(t *testing.T) {
	fsys := fstest.MapFS{"dapper.toml": {Data: []byte(`launch_json = "launch.json"`)}}
	_, err := load(t, fsys, nil, WithFile("dapper.toml"))
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestDerivedOptions(t *testing.T) {
	cfg := Default()
	cfg.Client.RequestTimeout = Duration{3 * time.Second}
	cfg.Client.DialTimeout = Duration{time.Second}
	cfg.Session.RestartGrace = Duration{500 * time.Millisecond}
	cfg.Log.File = "/tmp/d.log"
	cfg.Log.Components = []string{"session"}

	opts := cfg.SessionOptions(nil)
	assert.Equal(t, 3*time.Second, opts.RequestTimeout)
	assert.Equal(t, 500*time.Millisecond, opts.RestartGrace)
	assert.Equal(t, "dapper", opts.ClientID)

	assert.Equal(t, time.Second, cfg.DialOptions(nil).MaxElapsed)

	lc := cfg.Logging()
	assert.Equal(t, "/tmp/d.log", lc.File)
	assert.Equal(t, []string{"session"}, lc.Components)
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration)
	b, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(b))
	assert.Error(t, d.UnmarshalText([]byte("later")))
}
