package adapters

import (
	"errors"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// fakePath makes only the named executables resolvable.
func fakePath(t *testing.T, names ...string) {
	t.Helper()
	orig := lookPath
	t.Cleanup(func() { lookPath = orig })
	lookPath = func(file string) (string, error) {
		for _, n := range names {
			if n == file {
				if strings.HasPrefix(file, "/") {
					return file, nil
				}
				return "/usr/bin/" + file, nil
			}
		}
		return "", exec.ErrNotFound
	}
}

func TestParseKind(t *testing.T) {
	tests := map[string]Kind{
		"delve":    KindDelve,
		"go":       KindDelve,
		"Python":   KindDebugpy,
		"pwa-node": KindNode,
		"codelldb": KindLLDB,
		"gdb":      KindGDB,
		" generic": KindGeneric,
	}
	for in, want := range tests {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseKind("cobol")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestInfer(t *testing.T) {
	assert.Equal(t, KindDelve, Infer("./cmd/server/main.go"))
	assert.Equal(t, KindDebugpy, Infer("app.PY"))
	assert.Equal(t, KindNode, Infer("index.mjs"))
	assert.Equal(t, KindLLDB, Infer("src/main.rs"))
	assert.Equal(t, KindGeneric, Infer("a.out"))
	assert.Equal(t, KindGeneric, Infer("Makefile"))
}

func TestProfilesComplete(t *testing.T) {
	kinds := []Kind{KindDebugpy, KindDelve, KindGDB, KindGeneric, KindLLDB, KindNode}
	ps := Profiles()
	require.Len(t, ps, len(kinds))
	for i, p := range ps {
		assert.Equal(t, kinds[i], p.Kind)
		assert.NotEmpty(t, p.AdapterID, p.Kind)
		assert.NotEmpty(t, p.PIDKey, p.Kind)
		assert.NotEmpty(t, p.StopOnEntryKey, p.Kind)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"launch", Config{Program: "main.go"}, true},
		{"launch without program", Config{Type: "delve"}, false},
		{"program in extra", Config{Type: "delve", Extra: map[string]any{"program": "."}}, true},
		{"attach pid", Config{Type: "delve", Request: "attach", ProcessID: 42}, true},
		{"attach nothing", Config{Type: "delve", Request: "attach"}, false},
		{"bad request", Config{Program: "main.go", Request: "observe"}, false},
		{"generic without command", Config{Program: "a.out"}, false},
		{"generic with command", Config{Program: "a.out", AdapterCommand: "my-dap --stdio"}, true},
		{"unknown type", Config{Type: "cobol", Program: "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestResolveDefaults(t *testing.T) {
	fakePath(t, "dlv")

	r, err := Resolve(Config{Name: "api", Program: "./cmd/api", Type: "go", Cwd: "/src"})
	require.NoError(t, err)
	assert.Equal(t, KindDelve, r.Profile.Kind)
	assert.Equal(t, "/usr/bin/dlv", r.Path)
	assert.Equal(t, []string{"dap"}, r.Args)
	assert.Empty(t, r.Address)

	cmd := r.Command()
	assert.Equal(t, "/src", cmd.Dir)
	assert.Equal(t, []string{"/usr/bin/dlv", "dap"}, cmd.Args)
}

func TestResolveFallbackExecutable(t *testing.T) {
	fakePath(t, "python")

	r, err := Resolve(Config{Program: "app.py"})
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/python", r.Path)
	assert.Equal(t, []string{"-m", "debugpy.adapter"}, r.Args)
}

func TestResolveNotFound(t *testing.T) {
	fakePath(t)

	_, err := Resolve(Config{Program: "main.go"})
	require.ErrorIs(t, err, ErrAdapterNotFound)
	assert.Contains(t, err.Error(), "go install")
}

func TestResolveAdapterCommand(t *testing.T) {
	fakePath(t, "/opt/dap/bin/adapter")

	r, err := Resolve(Config{
		Program:        "a.out",
		AdapterCommand: `/opt/dap/bin/adapter --log "/tmp/my logs" --stdio`,
	})
	require.NoError(t, err)
	assert.Equal(t, KindGeneric, r.Profile.Kind)
	assert.Equal(t, "/opt/dap/bin/adapter", r.Path)
	assert.Equal(t, []string{"--log", "/tmp/my logs", "--stdio"}, r.Args)
}

func TestResolveOverrides(t *testing.T) {
	fakePath(t, "/home/me/go/bin/dlv")

	r, err := Resolve(Config{
		Program:     "main.go",
		AdapterPath: "/home/me/go/bin/dlv",
		AdapterArgs: []string{"dap", "--log"},
	})
	require.NoError(t, err)
	assert.Equal(t, "/home/me/go/bin/dlv", r.Path)
	assert.Equal(t, []string{"dap", "--log"}, r.Args)
}

func TestResolveSocketAdapter(t *testing.T) {
	fakePath(t, "js-debug-adapter")

	r, err := Resolve(Config{Program: "server.js"})
	require.NoError(t, err)
	assert.Equal(t, TransportSocket, r.Profile.Transport)
	require.Len(t, r.Args, 2)
	assert.NotEqual(t, PortPlaceholder, r.Args[0])
	assert.Equal(t, "127.0.0.1", r.Args[1])
	assert.Equal(t, "127.0.0.1:"+r.Args[0], r.Address)

	// The table itself is untouched.
	p, _ := Lookup(KindNode)
	assert.Equal(t, PortPlaceholder, p.Args[0])
}

func TestLaunchArguments(t *testing.T) {
	cfg := Config{
		Type:        "delve",
		Program:     "./cmd/api",
		Args:        []string{"-v", "--port=8080"},
		Cwd:         "/src",
		Env:         map[string]string{"GOFLAGS": "-mod=mod"},
		StopOnEntry: true,
		Console:     "integratedTerminal",
		Extra:       map[string]any{"buildFlags": "-tags=dev", "program": "ignored"},
	}
	raw, err := LaunchArguments(cfg)
	require.NoError(t, err)

	body := gjson.ParseBytes(raw)
	assert.Equal(t, "debug", body.Get("mode").String())
	assert.Equal(t, "./cmd/api", body.Get("program").String())
	assert.Equal(t, "--port=8080", body.Get("args.1").String())
	assert.Equal(t, "/src", body.Get("cwd").String())
	assert.Equal(t, "-mod=mod", body.Get("env.GOFLAGS").String())
	assert.True(t, body.Get("stopOnEntry").Bool())
	assert.Equal(t, "-tags=dev", body.Get("buildFlags").String())
	// Delve has no console field.
	assert.False(t, body.Get("console").Exists())
}

func TestLaunchArgumentsKeepsExtraMode(t *testing.T) {
	raw, err := LaunchArguments(Config{Type: "delve", Program: ".", Extra: map[string]any{"mode": "test"}})
	require.NoError(t, err)
	assert.Equal(t, "test", gjson.GetBytes(raw, "mode").String())
}

func TestLaunchArgumentsEnvList(t *testing.T) {
	raw, err := LaunchArguments(Config{
		Type:    "lldb",
		Program: "target/debug/app",
		Env:     map[string]string{"B": "2", "A": "1"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `["A=1","B=2"]`, gjson.GetBytes(raw, "env").Raw)
}

func TestLaunchArgumentsGDBStopKey(t *testing.T) {
	raw, err := LaunchArguments(Config{Type: "gdb", Program: "a.out", StopOnEntry: true})
	require.NoError(t, err)
	assert.True(t, gjson.GetBytes(raw, "stopAtBeginningOfMainSubprogram").Bool())
	assert.False(t, gjson.GetBytes(raw, "stopOnEntry").Exists())
}

func TestAttachArguments(t *testing.T) {
	raw, err := AttachArguments(Config{Type: "delve", Request: "attach", ProcessID: 4242})
	require.NoError(t, err)
	assert.Equal(t, "local", gjson.GetBytes(raw, "mode").String())
	assert.Equal(t, int64(4242), gjson.GetBytes(raw, "processId").Int())

	raw, err = Arguments(Config{Type: "debugpy", Request: "attach", Host: "10.0.0.5", Port: 5678})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", gjson.GetBytes(raw, "connect.host").String())
	assert.Equal(t, int64(5678), gjson.GetBytes(raw, "connect.port").Int())

	raw, err = Arguments(Config{Type: "gdb", Request: "attach", Port: 1234})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:1234", gjson.GetBytes(raw, "target").String())

	raw, err = Arguments(Config{Type: "delve", Request: "attach", Port: 2345})
	require.NoError(t, err)
	assert.Equal(t, "remote", gjson.GetBytes(raw, "mode").String())
}

func TestArgumentsUnknownKind(t *testing.T) {
	_, err := Arguments(Config{Type: "cobol"})
	assert.True(t, errors.Is(err, ErrUnknownKind))
}
