package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/dapper/internal/integration/debug"
	"github.com/dshills/dapper/internal/integration/debug/adapters"
	"github.com/dshills/dapper/internal/integration/debug/dap"
	"github.com/dshills/dapper/internal/integration/debug/daptest"
)

const mainPath = "/src/app/main.go"

// syncBuffer is a bytes.Buffer safe for the printer and the test to share.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

func programHandlers(a *daptest.Adapter) {
	a.Handle("stackTrace", func(a *daptest.Adapter, req daptest.Request) {
		a.Respond(req, map[string]any{
			"stackFrames": []map[string]any{
				{"id": 100, "name": "main.main", "line": 10, "source": map[string]any{"path": mainPath}},
				{"id": 101, "name": "runtime.main", "line": 250},
			},
			"totalFrames": 2,
		})
	})
	a.Handle("scopes", func(a *daptest.Adapter, req daptest.Request) {
		a.Respond(req, map[string]any{
			"scopes": []map[string]any{{"name": "Locals", "variablesReference": 5}},
		})
	})
	a.Handle("variables", func(a *daptest.Adapter, req daptest.Request) {
		var vars []map[string]any
		switch req.Arguments.Get("variablesReference").Int() {
		case 5:
			vars = []map[string]any{
				{"name": "x", "value": "1", "type": "int"},
				{"name": "cfg", "value": "main.Config {...}", "variablesReference": 7},
			}
		case 7:
			vars = []map[string]any{{"name": "Port", "value": "8080"}}
		}
		a.Respond(req, map[string]any{"variables": vars})
	})
	a.Handle("evaluate", func(a *daptest.Adapter, req daptest.Request) {
		a.Respond(req, map[string]any{"result": "42", "variablesReference": 0})
	})
}

type fixture struct {
	s    *debug.Session
	fake *daptest.Adapter
	out  *syncBuffer
	r    *repl
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{out: &syncBuffer{}}
	connect := func(context.Context, adapters.Config) (*debug.Connection, error) {
		f.fake = daptest.New()
		programHandlers(f.fake)
		return &debug.Connection{Transport: dap.NewRawTransport(f.fake.Conn()), AdapterID: "fake"}, nil
	}
	opts := debug.Options{
		RequestTimeout:     2 * time.Second,
		LongRequestTimeout: 2 * time.Second,
		InitializedTimeout: time.Second,
		RestartGrace:       20 * time.Millisecond,
		Logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	cfg := adapters.Config{Name: "app", Type: "delve", Program: "./cmd/app"}
	f.s = debug.NewSession("cli", cfg, connect, opts)
	require.NoError(t, f.s.Start(context.Background()))
	t.Cleanup(func() {
		_ = f.s.Stop(context.Background(), true)
		f.fake.Close()
	})
	f.r = newREPL(f.s, newPrinter(f.out, true))
	return f
}

func (f *fixture) stop(t *testing.T) {
	t.Helper()
	f.fake.Stop("breakpoint", 1)
	require.Eventually(t, func() bool { return f.s.State() == debug.StateStopped }, 2*time.Second, 5*time.Millisecond)
}

func (f *fixture) exec(t *testing.T, line string) string {
	t.Helper()
	f.out.Reset()
	require.NoError(t, f.r.exec(context.Background(), line), line)
	return f.out.String()
}

func TestREPLUnknownCommand(t *testing.T) {
	f := newFixture(t)

	err := f.r.exec(context.Background(), "frobnicate now")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")

	assert.NoError(t, f.r.exec(context.Background(), "   "))
	assert.NoError(t, f.r.exec(context.Background(), "# comment"))
}

func TestREPLHelpListsCommands(t *testing.T) {
	f := newFixture(t)
	out := f.exec(t, "help")
	for _, want := range []string{"continue, c", "break, b", "quit, q"} {
		assert.Contains(t, out, want)
	}
}

func TestREPLInspection(t *testing.T) {
	f := newFixture(t)
	f.stop(t)

	out := f.exec(t, "bt")
	assert.Contains(t, out, "#0  main.main at main.go:10")
	assert.Contains(t, out, "#1  runtime.main at runtime.main")

	assert.Contains(t, f.exec(t, "frame 1"), "#1 runtime.main")
	f.exec(t, "frame 0")

	out = f.exec(t, "vars")
	assert.Contains(t, out, "Locals")
	assert.Contains(t, out, "[0] x int = 1")
	assert.Contains(t, out, "[1] cfg = main.Config {...} +")

	assert.Contains(t, f.exec(t, "expand 1"), "[0] Port = 8080")
	assert.Contains(t, f.exec(t, "eval x + 41"), "= 42")
	req := f.fake.WaitFor("evaluate", 1, time.Second)
	require.Len(t, req, 1)
	assert.Equal(t, "x + 41", req[0].Arguments.Get("expression").String())

	err := f.r.exec(context.Background(), "frame 9")
	assert.ErrorContains(t, err, "no frame 9")
	err = f.r.exec(context.Background(), "expand 0")
	assert.ErrorContains(t, err, "no children")
}

func TestREPLInspectionWhileRunning(t *testing.T) {
	f := newFixture(t)
	err := f.r.exec(context.Background(), "bt")
	assert.ErrorIs(t, err, debug.ErrPreconditionFailed)
}

func TestREPLBreakpoints(t *testing.T) {
	f := newFixture(t)

	assert.Contains(t, f.exec(t, "break "+mainPath+":12"), mainPath+":12")
	assert.Contains(t, f.exec(t, "break "+mainPath+":20 if i > 3"), "if i > 3")
	out := f.exec(t, "bps")
	assert.Contains(t, out, mainPath+":12")
	assert.Contains(t, out, mainPath+":20 if i > 3")

	assert.Contains(t, f.exec(t, "break "+mainPath+":12"), "removed breakpoint")
	assert.Len(t, f.s.Breakpoints(mainPath), 1)

	f.exec(t, "clear "+mainPath)
	assert.Empty(t, f.s.AllBreakpoints())

	assert.Contains(t, f.exec(t, "fbreak main.handle"), "main.handle (verified)")

	assert.ErrorContains(t, f.r.exec(context.Background(), "break nowhere"), "invalid location")
	assert.ErrorContains(t, f.r.exec(context.Background(), "break main.go:x"), "invalid line")
}

func TestREPLBareLineUsesCurrentFile(t *testing.T) {
	f := newFixture(t)
	f.stop(t)

	f.exec(t, "break 33")
	require.Len(t, f.s.Breakpoints(mainPath), 1)
	assert.Equal(t, 33, f.s.Breakpoints(mainPath)[0].Line)
}

func TestREPLStepping(t *testing.T) {
	f := newFixture(t)
	f.stop(t)

	f.exec(t, "next")
	assert.Len(t, f.fake.WaitFor("next", 1, time.Second), 1)
	assert.Equal(t, debug.StateRunning, f.s.State())

	f.stop(t)
	f.exec(t, "c")
	assert.Len(t, f.fake.WaitFor("continue", 1, time.Second), 1)

	assert.ErrorIs(t, f.r.exec(context.Background(), "next"), debug.ErrPreconditionFailed)
}

func TestREPLWatches(t *testing.T) {
	f := newFixture(t)
	f.stop(t)

	f.exec(t, "watch len(items)")
	assert.Contains(t, f.exec(t, "watches"), "[0] len(items) = 42")
	f.exec(t, "unwatch 0")
	assert.Empty(t, f.s.Watches())
}

func TestREPLRunQuits(t *testing.T) {
	f := newFixture(t)
	done := make(chan error, 1)
	go func() {
		done <- f.r.run(context.Background(), strings.NewReader("threads\nquit\nthreads\n"), nil)
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return on quit")
	}
	assert.Equal(t, 1, f.fake.Count("threads"))
}

func TestREPLRunReturnsWhenSessionEnds(t *testing.T) {
	f := newFixture(t)
	ended := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- f.r.run(context.Background(), strings.NewReader(""), ended)
	}()

	f.fake.Close()
	require.Eventually(t, func() bool { return f.s.State() == debug.StateEnded }, 2*time.Second, 5*time.Millisecond)
	ended <- struct{}{}

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after the session ended")
	}
}

func TestREPLRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	defer pw.Close()

	done := make(chan error, 1)
	go func() { done <- f.r.run(ctx, pr, nil) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return on cancel")
	}
}
