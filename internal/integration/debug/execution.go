package debug

import (
	"context"
	"fmt"

	godap "github.com/google/go-dap"

	"github.com/dshills/dapper/internal/integration/debug/dap"
)

// resume marks the session running before the request is sent, so a stopped
// event racing the response is never overwritten. If the adapter rejects
// the request the stop is restored.
func (s *Session) resume(ctx context.Context, op string, check func(godap.Capabilities) error,
	send func(c *dap.Client, thread int) error) error {

	s.mu.Lock()
	client, caps, err := s.requireLocked(op, StateStopped)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if check != nil {
		if err := check(caps); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	thread := s.activeThread
	if thread == 0 {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", op, ErrNoActiveThread)
	}
	reason := s.stopReason
	s.state = StateRunning
	s.resumeLocked()
	epoch := s.epoch
	s.mu.Unlock()
	s.publishState(StateStopped, StateRunning)
	s.publish(Event{Kind: EventContinued, ThreadID: thread})

	if err := send(client, thread); err != nil {
		s.mu.Lock()
		restored := s.state == StateRunning && s.epoch == epoch
		if restored {
			s.state = StateStopped
			s.stopReason = reason
		}
		s.mu.Unlock()
		if restored {
			s.publishState(StateRunning, StateStopped)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Continue resumes the active thread.
func (s *Session) Continue(ctx context.Context) error {
	return s.resume(ctx, "continue", nil, func(c *dap.Client, thread int) error {
		_, err := c.Continue(ctx, godap.ContinueArguments{ThreadId: thread})
		return err
	})
}

// Next steps over the current line.
func (s *Session) Next(ctx context.Context) error {
	return s.resume(ctx, "next", nil, func(c *dap.Client, thread int) error {
		return c.Next(ctx, godap.NextArguments{ThreadId: thread})
	})
}

// StepIn steps into the call on the current line.
func (s *Session) StepIn(ctx context.Context) error {
	return s.resume(ctx, "stepIn", nil, func(c *dap.Client, thread int) error {
		return c.StepIn(ctx, godap.StepInArguments{ThreadId: thread})
	})
}

// StepOut runs until the current function returns.
func (s *Session) StepOut(ctx context.Context) error {
	return s.resume(ctx, "stepOut", nil, func(c *dap.Client, thread int) error {
		return c.StepOut(ctx, godap.StepOutArguments{ThreadId: thread})
	})
}

// StepInstruction steps over one machine instruction.
func (s *Session) StepInstruction(ctx context.Context) error {
	check := func(caps godap.Capabilities) error {
		if !caps.SupportsSteppingGranularity {
			return unsupported("stepInstruction")
		}
		return nil
	}
	return s.resume(ctx, "stepInstruction", check, func(c *dap.Client, thread int) error {
		return c.Next(ctx, godap.NextArguments{ThreadId: thread, Granularity: "instruction"})
	})
}

// StepBack steps backwards, on adapters that record execution.
func (s *Session) StepBack(ctx context.Context) error {
	return s.resume(ctx, "stepBack", requireStepBack, func(c *dap.Client, thread int) error {
		return c.StepBack(ctx, godap.StepBackArguments{ThreadId: thread})
	})
}

// ReverseContinue runs backwards to the previous breakpoint.
func (s *Session) ReverseContinue(ctx context.Context) error {
	return s.resume(ctx, "reverseContinue", requireStepBack, func(c *dap.Client, thread int) error {
		return c.ReverseContinue(ctx, godap.ReverseContinueArguments{ThreadId: thread})
	})
}

func requireStepBack(caps godap.Capabilities) error {
	if !caps.SupportsStepBack {
		return unsupported("stepBack")
	}
	return nil
}

// Pause interrupts the active thread, or the first known thread when none
// is active. The session moves to Stopped when the adapter reports it.
func (s *Session) Pause(ctx context.Context) error {
	s.mu.Lock()
	client, _, err := s.requireLocked("pause", StateRunning)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	thread := s.activeThread
	if thread == 0 && len(s.threads) > 0 {
		thread = s.threads[0].ID
	}
	s.mu.Unlock()

	if thread == 0 {
		threads, err := s.Threads(ctx)
		if err != nil {
			return fmt.Errorf("pause: %w", err)
		}
		if len(threads) == 0 {
			return fmt.Errorf("pause: %w", ErrNoActiveThread)
		}
		thread = threads[0].ID
	}

	if err := client.Pause(ctx, godap.PauseArguments{ThreadId: thread}); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	return nil
}

// Terminate asks the adapter to end the debuggee gracefully. The session
// stays connected until the adapter reports termination.
func (s *Session) Terminate(ctx context.Context) error {
	client, caps, err := s.require("terminate", StateRunning, StateStopped)
	if err != nil {
		return err
	}
	if !caps.SupportsTerminateRequest {
		return unsupported("terminate")
	}
	if err := client.Terminate(ctx, godap.TerminateArguments{}); err != nil {
		return fmt.Errorf("terminate: %w", err)
	}
	return nil
}

// Cancel asks the adapter to cancel an outstanding request or progress. The
// original request still completes normally, usually with an error.
func (s *Session) Cancel(ctx context.Context, requestSeq int, progressID string) error {
	client, err := s.live()
	if err != nil {
		return err
	}
	s.mu.Lock()
	supported := s.caps.SupportsCancelRequest
	s.mu.Unlock()
	if !supported {
		return unsupported("cancel")
	}
	return client.Cancel(ctx, godap.CancelArguments{RequestId: requestSeq, ProgressId: progressID})
}
