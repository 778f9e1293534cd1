package cmd

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dshills/dapper/internal/integration/debug"
)

func TestPrinterEvents(t *testing.T) {
	tests := []struct {
		name string
		ev   debug.Event
		want string
	}{
		{"state", debug.Event{Kind: debug.EventStateChanged, State: debug.StateRunning}, "[running]\n"},
		{"stopped", debug.Event{Kind: debug.EventStopped, Reason: "breakpoint", ThreadID: 3}, "stopped: breakpoint (thread 3)\n"},
		{"exception", debug.Event{Kind: debug.EventStopped, Reason: "exception", Description: "nil map"}, "stopped: exception: nil map\n"},
		{"stdout", debug.Event{Kind: debug.EventOutput, Category: "stdout", Output: "hello"}, "hello\n"},
		{"stderr", debug.Event{Kind: debug.EventOutput, Category: "stderr", Output: "oops\n"}, "oops\n"},
		{"thread", debug.Event{Kind: debug.EventThreadChanged, ThreadID: 7, Reason: "started"}, "thread 7 started\n"},
		{"exited", debug.Event{Kind: debug.EventExited, ExitCode: 2}, "process exited with code 2\n"},
		{"ended", debug.Event{Kind: debug.EventEnded}, "session ended\n"},
		{"ended with error", debug.Event{Kind: debug.EventEnded, Err: errors.New("adapter crashed")}, "session ended: adapter crashed\n"},
		{"variables", debug.Event{Kind: debug.EventVariablesUpdated}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &syncBuffer{}
			newPrinter(out, true).event(tt.ev)
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestDescribeBreakpointChange(t *testing.T) {
	bp := debug.Breakpoint{ID: 4, Path: "/src/app/main.go", Line: 11, RequestedLine: 10, Verified: true}
	assert.Equal(t, "breakpoint 4 moved from line 10 to main.go:11", describeBreakpointChange("changed", bp))

	bp = debug.Breakpoint{ID: 5, Path: "/src/app/main.go", Line: 10, RequestedLine: 10, Message: "no code"}
	assert.Equal(t, "breakpoint 5 at main.go:10 unverified: no code", describeBreakpointChange("changed", bp))

	assert.Equal(t, "breakpoint 5 removed", describeBreakpointChange("removed", bp))

	bp = debug.Breakpoint{ID: 6, Path: "/src/app/gen.go", Line: 3, RequestedLine: 3, Verified: true}
	assert.Equal(t, "breakpoint 6 new at gen.go:3", describeBreakpointChange("new", bp))
}
