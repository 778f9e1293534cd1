package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/dapper/internal/config"
	"github.com/dshills/dapper/internal/integration/debug"
	"github.com/dshills/dapper/internal/integration/debug/adapters"
)

func TestParseBreakpoints(t *testing.T) {
	got, err := parseBreakpoints([]string{"main.go:10", "pkg/a.go:3", "main.go:20", `C:\src\x.go:7`})
	require.NoError(t, err)
	assert.Equal(t, []debug.SourceBreakpoint{{Line: 10}, {Line: 20}}, got["main.go"])
	assert.Equal(t, []debug.SourceBreakpoint{{Line: 3}}, got["pkg/a.go"])
	assert.Equal(t, []debug.SourceBreakpoint{{Line: 7}}, got[`C:\src\x.go`])
	assert.Equal(t, []string{"C:\\src\\x.go", "main.go", "pkg/a.go"}, sortedKeys(got))

	for _, bad := range []string{"main.go", ":10", "main.go:0", "main.go:ten"} {
		_, err := parseBreakpoints([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestLaunchConfigSelection(t *testing.T) {
	cfg := config.Default()
	cfg.Adapters["delve"] = config.AdapterConfig{Path: "/opt/dlv"}
	cfg.Launch = []adapters.Config{
		{Name: "api", Type: "go", Program: "./cmd/api"},
		{Name: "worker", Type: "go", Program: "./cmd/worker", Args: []string{"-q"}},
	}
	a := &app{cfg: cfg}

	got, err := a.launchConfig("worker", runOptions{args: []string{"-v"}, stopOnEntry: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"-v"}, got.Args)
	assert.True(t, got.StopOnEntry)
	assert.Equal(t, "/opt/dlv", got.AdapterPath)

	_, err = a.launchConfig("", runOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api, worker")

	_, err = a.launchConfig("nope", runOptions{})
	assert.ErrorIs(t, err, config.ErrLaunchNotFound)

	adhoc, err := a.launchConfig("", runOptions{program: "./cmd/tool", kind: "go"})
	require.NoError(t, err)
	assert.Equal(t, "tool", adhoc.Name)
	assert.Equal(t, "/opt/dlv", adhoc.AdapterPath)
	assert.Len(t, cfg.Launch, 2)

	_, err = a.launchConfig("", runOptions{program: "main.cbl", kind: "cobol"})
	assert.ErrorIs(t, err, adapters.ErrUnknownKind)

	a.cfg.Launch = a.cfg.Launch[:1]
	only, err := a.launchConfig("", runOptions{})
	require.NoError(t, err)
	assert.Equal(t, "api", only.Name)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dapper.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(strings.NewReader(""), &out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestListCommand(t *testing.T) {
	path := writeConfig(t, `
[[launch]]
name = "api"
type = "go"
program = "./cmd/api"

[[launch]]
name = "remote"
type = "python"
request = "attach"
host = "10.0.0.2"
port = 5678
`)

	out, err := execute(t, "--config", path, "--no-color", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Regexp(t, `api\s+delve\s+launch\s+\./cmd/api`, out)
	assert.Regexp(t, `remote\s+debugpy\s+attach\s+10\.0\.0\.2:5678`, out)
}

func TestListCommandEmpty(t *testing.T) {
	out, err := execute(t, "--config", writeConfig(t, ""), "list")
	require.NoError(t, err)
	assert.Contains(t, out, "no launch configurations")
}

func TestAdaptersCommand(t *testing.T) {
	out, err := execute(t, "--config", writeConfig(t, ""), "--no-color", "adapters")
	require.NoError(t, err)
	for _, kind := range []string{"delve", "debugpy", "node", "lldb", "gdb", "generic"} {
		assert.Contains(t, out, kind)
	}
}

func TestBadConfigFails(t *testing.T) {
	_, err := execute(t, "--config", writeConfig(t, "[log]\nlevel = \"shout\"\n"), "list")
	assert.ErrorIs(t, err, config.ErrValidationFailed)
}

func TestRunUnknownConfig(t *testing.T) {
	_, err := execute(t, "--config", writeConfig(t, ""), "run", "missing")
	assert.ErrorIs(t, err, config.ErrLaunchNotFound)
}
