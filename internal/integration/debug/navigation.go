package debug

import (
	"context"
	"fmt"
	"path/filepath"

	godap "github.com/google/go-dap"

	"github.com/dshills/dapper/internal/integration/debug/dap"
)

// Target is a goto or step-in target.
type Target struct {
	ID    int
	Label string
	Line  int
}

// GotoTargets lists the locations the active thread can jump to on line.
func (s *Session) GotoTargets(ctx context.Context, path string, line, column int) ([]Target, error) {
	client, caps, err := s.require("gotoTargets", StateStopped)
	if err != nil {
		return nil, err
	}
	if !caps.SupportsGotoTargetsRequest {
		return nil, unsupported("gotoTargets")
	}
	path = normalizePath(path)
	resp, err := client.GotoTargets(ctx, godap.GotoTargetsArguments{
		Source: godap.Source{Name: filepath.Base(path), Path: path},
		Line:   line,
		Column: column,
	})
	if err != nil {
		return nil, fmt.Errorf("goto targets: %w", err)
	}
	out := make([]Target, len(resp))
	for i, t := range resp {
		out[i] = Target{ID: t.Id, Label: t.Label, Line: t.Line}
	}
	return out, nil
}

// Goto moves the active thread to a target from GotoTargets. The adapter
// reports the new location with a stopped event.
func (s *Session) Goto(ctx context.Context, targetID int) error {
	check := func(caps godap.Capabilities) error {
		if !caps.SupportsGotoTargetsRequest {
			return unsupported("goto")
		}
		return nil
	}
	return s.resume(ctx, "goto", check, func(c *dap.Client, thread int) error {
		return c.Goto(ctx, godap.GotoArguments{ThreadId: thread, TargetId: targetID})
	})
}

// StepInTargets lists the calls that StepInTarget can enter from a frame;
// frame 0 means the active frame.
func (s *Session) StepInTargets(ctx context.Context, frameID int) ([]Target, error) {
	client, caps, err := s.require("stepInTargets", StateStopped)
	if err != nil {
		return nil, err
	}
	if !caps.SupportsStepInTargetsRequest {
		return nil, unsupported("stepInTargets")
	}
	if frameID == 0 {
		f, err := s.ActiveFrame(ctx)
		if err != nil {
			return nil, err
		}
		frameID = f.ID
	}
	resp, err := client.StepInTargets(ctx, godap.StepInTargetsArguments{FrameId: frameID})
	if err != nil {
		return nil, fmt.Errorf("step in targets: %w", err)
	}
	out := make([]Target, len(resp))
	for i, t := range resp {
		out[i] = Target{ID: t.Id, Label: t.Label, Line: t.Line}
	}
	return out, nil
}

// StepInTarget steps into the call selected from StepInTargets.
func (s *Session) StepInTarget(ctx context.Context, targetID int) error {
	check := func(caps godap.Capabilities) error {
		if !caps.SupportsStepInTargetsRequest {
			return unsupported("stepInTargets")
		}
		return nil
	}
	return s.resume(ctx, "stepIn", check, func(c *dap.Client, thread int) error {
		return c.StepIn(ctx, godap.StepInArguments{ThreadId: thread, TargetId: targetID})
	})
}
