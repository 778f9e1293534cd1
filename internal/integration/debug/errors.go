package debug

import (
	"errors"
	"fmt"
)

// Error kinds. Specific errors below wrap one of these so callers can match
// either the kind or the exact condition with errors.Is.
var (
	// ErrNotFound is returned for unknown session, thread, frame or
	// breakpoint ids.
	ErrNotFound = errors.New("not found")

	// ErrPreconditionFailed is returned when an operation is not valid in
	// the session's current state. Nothing is sent to the adapter.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrStaleReference is returned for a variables reference issued before
	// the debuggee last resumed.
	ErrStaleReference = errors.New("stale variables reference")

	// ErrUnsupported is returned when the adapter did not advertise the
	// capability an operation needs.
	ErrUnsupported = errors.New("not supported by debug adapter")
)

var (
	ErrSessionNotFound    = fmt.Errorf("session %w", ErrNotFound)
	ErrThreadNotFound     = fmt.Errorf("thread %w", ErrNotFound)
	ErrFrameNotFound      = fmt.Errorf("stack frame %w", ErrNotFound)
	ErrBreakpointNotFound = fmt.Errorf("breakpoint %w", ErrNotFound)

	ErrNotStarted     = fmt.Errorf("%w: session not started", ErrPreconditionFailed)
	ErrAlreadyStarted = fmt.Errorf("%w: session already started", ErrPreconditionFailed)
	ErrNoActiveThread = fmt.Errorf("%w: no active thread", ErrPreconditionFailed)
	ErrNoActiveFrame  = fmt.Errorf("%w: no active frame", ErrPreconditionFailed)

	// ErrManagerClosed is returned by Create after Shutdown.
	ErrManagerClosed = errors.New("session manager is shut down")
)
