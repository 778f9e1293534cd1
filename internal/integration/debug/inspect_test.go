package debug

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/dapper/internal/integration/debug/daptest"
)

func TestStackTraceAndSelectFrame(t *testing.T) {
	s, h := stoppedSession(t, nil)
	ctx := context.Background()

	frames, total, err := s.StackTrace(ctx, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, frames, 2)
	assert.Equal(t, "main.go:10", frames[0].FormatLocation())
	assert.Equal(t, "runtime.main", frames[1].FormatLocation())

	require.NoError(t, s.SelectFrame(101))
	_, err = s.Scopes(ctx)
	require.NoError(t, err)
	scopes := h.fake().WaitFor("scopes", 1, time.Second)
	require.Len(t, scopes, 1)
	assert.Equal(t, int64(101), scopes[0].Arguments.Get("frameId").Int())

	assert.ErrorIs(t, s.SelectFrame(999), ErrFrameNotFound)
	assert.ErrorIs(t, s.SelectFrame(999), ErrNotFound)
}

func TestSelectUnknownThread(t *testing.T) {
	s, _ := stoppedSession(t, nil)
	_, err := s.Threads(context.Background())
	require.NoError(t, err)

	assert.ErrorIs(t, s.SelectThread(7), ErrThreadNotFound)
	assert.NoError(t, s.SelectThread(1))
}

func TestInspectionWithoutStop(t *testing.T) {
	s, h := startedSession(t, inspectHandlers)
	ctx := context.Background()

	_, err := s.Scopes(ctx)
	assert.ErrorIs(t, err, ErrNoActiveFrame)
	_, err = s.ResolveVariables(ctx)
	assert.ErrorIs(t, err, ErrPreconditionFailed)
	_, _, err = s.StackTrace(ctx, 1, 0, 0)
	assert.ErrorIs(t, err, ErrPreconditionFailed)
	assert.Equal(t, 0, h.fake().Count("stackTrace"))
}

func TestResolveVariables(t *testing.T) {
	s, h := stoppedSession(t, nil)
	sub := s.Subscribe(32)

	vars, err := s.ResolveVariables(context.Background())
	require.NoError(t, err)
	require.Len(t, vars, 3)
	assert.Equal(t, "x", vars[0].Name)
	assert.Equal(t, "Locals", vars[0].Scope)
	assert.False(t, vars[0].HasChildren())
	assert.Equal(t, "cfg", vars[1].Name)
	assert.True(t, vars[1].HasChildren())
	assert.Equal(t, "version", vars[2].Name)
	assert.Equal(t, "Globals", vars[2].Scope)

	ev := waitEvent(t, sub, EventVariablesUpdated)
	assert.Len(t, ev.Variables, 3)

	// The active frame is the top frame of the stopped thread.
	scopes := h.fake().WaitFor("scopes", 1, time.Second)
	assert.Equal(t, int64(100), scopes[0].Arguments.Get("frameId").Int())
	stack := h.fake().WaitFor("stackTrace", 1, time.Second)
	assert.Equal(t, int64(1), stack[0].Arguments.Get("levels").Int())
}

func TestExpandAndPaging(t *testing.T) {
	s, h := stoppedSession(t, nil)
	ctx := context.Background()

	vars, err := s.ResolveVariables(ctx)
	require.NoError(t, err)

	children, err := s.Expand(ctx, vars[1].Ref, Page{})
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "Port", children[0].Name)

	_, err = s.Expand(ctx, vars[1].Ref, Page{Start: 1, Count: 1, Filter: "named"})
	require.NoError(t, err)
	reqs := h.fake().WaitFor("variables", 4, time.Second)
	require.Len(t, reqs, 4)
	last := reqs[3].Arguments
	assert.Equal(t, int64(7), last.Get("variablesReference").Int())
	assert.Equal(t, int64(1), last.Get("start").Int())
	assert.Equal(t, int64(1), last.Get("count").Int())
	assert.Equal(t, "named", last.Get("filter").String())

	none, err := s.Expand(ctx, vars[0].Ref, Page{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStaleReference(t *testing.T) {
	s, h := stoppedSession(t, func(a *daptest.Adapter) {
		a.Handle("continue", func(a *daptest.Adapter, req daptest.Request) {
			a.Respond(req, nil)
			a.Stop("breakpoint", 1)
		})
	})
	ctx := context.Background()

	vars, err := s.ResolveVariables(ctx)
	require.NoError(t, err)
	cfg := vars[1]

	require.NoError(t, s.Continue(ctx))
	waitState(t, s, StateStopped)

	before := h.fake().Count("variables")
	_, err = s.Expand(ctx, cfg.Ref, Page{})
	assert.ErrorIs(t, err, ErrStaleReference)
	_, err = s.SetVariable(ctx, cfg.Ref, "Port", "9090")
	assert.ErrorIs(t, err, ErrStaleReference)
	assert.Equal(t, before, h.fake().Count("variables"))
	assert.Equal(t, 0, h.fake().Count("setVariable"))

	fresh, err := s.ResolveVariables(ctx)
	require.NoError(t, err)
	_, err = s.Expand(ctx, fresh[1].Ref, Page{})
	assert.NoError(t, err)
}

func TestReferencesFromFrameBeforeResume(t *testing.T) {
	var once sync.Once
	s, h := stoppedSession(t, func(a *daptest.Adapter) {
		a.Handle("stackTrace", func(a *daptest.Adapter, req daptest.Request) {
			a.Respond(req, map[string]any{
				"stackFrames": []map[string]any{{"id": 100, "name": "main.main", "line": 10}},
				"totalFrames": 1,
			})
			once.Do(func() {
				a.Emit("continued", map[string]any{"threadId": 1})
				a.Stop("breakpoint", 1)
			})
		})
	})
	ctx := context.Background()
	before := s.currentEpoch()

	scopes, err := s.Scopes(ctx)
	require.Eventually(t, func() bool {
		return s.currentEpoch() == before+1 && s.State() == StateStopped
	}, 2*time.Second, 5*time.Millisecond)

	if err != nil {
		assert.ErrorIs(t, err, ErrNoActiveFrame)
		return
	}
	calls := h.fake().Count("variables")
	for _, sc := range scopes {
		_, err := s.Expand(ctx, sc.Ref, Page{})
		assert.ErrorIs(t, err, ErrStaleReference)
	}
	assert.Equal(t, calls, h.fake().Count("variables"))
}

func TestSetVariable(t *testing.T) {
	s, h := stoppedSession(t, func(a *daptest.Adapter) {
		a.Handle("setVariable", func(a *daptest.Adapter, req daptest.Request) {
			a.Respond(req, map[string]any{"value": req.Arguments.Get("value").String(), "type": "int"})
		})
	})
	ctx := context.Background()

	vars, err := s.ResolveVariables(ctx)
	require.NoError(t, err)
	v, err := s.SetVariable(ctx, vars[1].Ref, "Port", "9090")
	require.NoError(t, err)
	assert.Equal(t, "9090", v.Value)
	assert.Equal(t, "int", v.Type)

	req := h.fake().WaitFor("setVariable", 1, time.Second)[0]
	assert.Equal(t, int64(7), req.Arguments.Get("variablesReference").Int())
	assert.Equal(t, "Port", req.Arguments.Get("name").String())
}

func TestEvaluate(t *testing.T) {
	s, h := stoppedSession(t, func(a *daptest.Adapter) {
		a.Handle("evaluate", func(a *daptest.Adapter, req daptest.Request) {
			if req.Arguments.Get("expression").String() == "bad(" {
				a.Fail(req, "syntax error")
				return
			}
			a.Respond(req, map[string]any{"result": "42", "type": "int", "variablesReference": 0})
		})
	})
	ctx := context.Background()

	v, err := s.Evaluate(ctx, "x * 42", "repl")
	require.NoError(t, err)
	assert.Equal(t, "42", v.Value)

	req := h.fake().WaitFor("evaluate", 1, time.Second)[0]
	assert.Equal(t, int64(100), req.Arguments.Get("frameId").Int())
	assert.Equal(t, "repl", req.Arguments.Get("context").String())

	_, err = s.Evaluate(ctx, "bad(", "repl")
	assert.ErrorContains(t, err, "syntax error")
}

func TestWatches(t *testing.T) {
	s, _ := stoppedSession(t, func(a *daptest.Adapter) {
		a.Handle("evaluate", func(a *daptest.Adapter, req daptest.Request) {
			if req.Arguments.Get("expression").String() == "missing" {
				a.Fail(req, "undefined: missing")
				return
			}
			a.Respond(req, map[string]any{"result": "1"})
		})
	})

	s.AddWatch("x")
	s.AddWatch("missing")
	s.AddWatch("len(items)")
	require.NoError(t, s.RemoveWatch(2))
	assert.ErrorIs(t, s.RemoveWatch(5), ErrNotFound)
	assert.Equal(t, []string{"x", "missing"}, s.Watches())

	results := s.EvaluateWatches(context.Background())
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, "1", results[0].Value.Value)
	assert.Error(t, results[1].Err)
}

func TestMemory(t *testing.T) {
	s, h := stoppedSession(t, func(a *daptest.Adapter) {
		a.Handle("readMemory", func(a *daptest.Adapter, req daptest.Request) {
			a.Respond(req, map[string]any{
				"address":         "0x1000",
				"data":            base64.StdEncoding.EncodeToString([]byte("hello")),
				"unreadableBytes": 3,
			})
		})
		a.Handle("writeMemory", func(a *daptest.Adapter, req daptest.Request) {
			a.Respond(req, map[string]any{"bytesWritten": 2})
		})
		a.Handle("disassemble", func(a *daptest.Adapter, req daptest.Request) {
			a.Respond(req, map[string]any{"instructions": []map[string]any{
				{"address": "0x1000", "instruction": "mov rax, rbx", "instructionBytes": "48 89 d8", "symbol": "main.main", "line": 10, "location": map[string]any{"path": mainPath}},
				{"address": "0x1003", "instruction": "ret"},
			}})
		})
	})
	ctx := context.Background()

	block, err := s.ReadMemory(ctx, "0x1000", 0, 8)
	require.NoError(t, err)
	assert.Equal(t, "0x1000", block.Address)
	assert.Equal(t, []byte("hello"), block.Data)
	assert.Equal(t, 3, block.Unreadable)

	n, err := s.WriteMemory(ctx, "0x1000", 4, []byte{0xde, 0xad, 0xbe}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	w := h.fake().WaitFor("writeMemory", 1, time.Second)[0].Arguments
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{0xde, 0xad, 0xbe}), w.Get("data").String())
	assert.True(t, w.Get("allowPartial").Bool())
	assert.Equal(t, int64(4), w.Get("offset").Int())

	ins, err := s.Disassemble(ctx, "0x1000", 0, 0, 2, true)
	require.NoError(t, err)
	require.Len(t, ins, 2)
	assert.Equal(t, "mov rax, rbx", ins[0].Text)
	assert.Equal(t, mainPath, ins[0].Path)
	assert.Equal(t, "ret", ins[1].Text)
}

func TestMemoryUnsupported(t *testing.T) {
	s, h := startedSession(t, func(a *daptest.Adapter) {
		a.Handle("initialize", func(a *daptest.Adapter, req daptest.Request) {
			a.Respond(req, map[string]any{"supportsConfigurationDoneRequest": true})
		})
	})
	ctx := context.Background()

	_, err := s.ReadMemory(ctx, "0x1000", 0, 8)
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = s.WriteMemory(ctx, "0x1000", 0, []byte{1}, false)
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = s.Disassemble(ctx, "0x1000", 0, 0, 1, false)
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.ErrorIs(t, s.Cancel(ctx, 3, ""), ErrUnsupported)
	assert.Equal(t, 0, h.fake().Count("readMemory"))
}

func TestGotoAndStepInTargets(t *testing.T) {
	s, h := stoppedSession(t, func(a *daptest.Adapter) {
		a.Handle("gotoTargets", func(a *daptest.Adapter, req daptest.Request) {
			a.Respond(req, map[string]any{"targets": []map[string]any{
				{"id": 9, "label": "main.go:20", "line": 20},
			}})
		})
		a.Handle("stepInTargets", func(a *daptest.Adapter, req daptest.Request) {
			a.Respond(req, map[string]any{"targets": []map[string]any{
				{"id": 1, "label": "parse()"},
				{"id": 2, "label": "validate()"},
			}})
		})
	})
	ctx := context.Background()

	targets, err := s.GotoTargets(ctx, mainPath, 20, 0)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, 20, targets[0].Line)
	gt := h.fake().WaitFor("gotoTargets", 1, time.Second)[0].Arguments
	assert.Equal(t, mainPath, gt.Get("source.path").String())

	steps, err := s.StepInTargets(ctx, 0)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	sit := h.fake().WaitFor("stepInTargets", 1, time.Second)[0].Arguments
	assert.Equal(t, int64(100), sit.Get("frameId").Int())

	require.NoError(t, s.StepInTarget(ctx, 2))
	in := h.fake().WaitFor("stepIn", 1, time.Second)[0].Arguments
	assert.Equal(t, int64(2), in.Get("targetId").Int())
	assert.Equal(t, StateRunning, s.State())

	h.fake().Stop("step", 1)
	waitState(t, s, StateStopped)
	require.NoError(t, s.Goto(ctx, 9))
	g := h.fake().WaitFor("goto", 1, time.Second)[0].Arguments
	assert.Equal(t, int64(9), g.Get("targetId").Int())
	assert.Equal(t, int64(1), g.Get("threadId").Int())

	_, err = s.GotoTargets(ctx, mainPath, 20, 0)
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}
