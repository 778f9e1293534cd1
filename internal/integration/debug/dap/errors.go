package dap

import (
	"errors"
	"fmt"
	"time"

	godap "github.com/google/go-dap"
)

// Sentinel errors for the dap package.
var (
	// ErrDisconnected is returned when the adapter stream closed while a
	// request was outstanding or before a frame was complete.
	ErrDisconnected = errors.New("debug adapter disconnected")

	// ErrTimeout is matched by every *TimeoutError.
	ErrTimeout = errors.New("debug adapter request timed out")

	// ErrClientClosed is returned for requests issued after Close.
	ErrClientClosed = errors.New("dap client is closed")

	// ErrNotInitialized is returned when initialize failed and later
	// requests cannot proceed.
	ErrNotInitialized = errors.New("dap client not initialized")
)

// FramingError reports a malformed frame header or body.
type FramingError struct {
	// Recoverable is true when the whole frame was consumed and the stream
	// is still aligned on the next header.
	Recoverable bool
	Err         error
}

func (e *FramingError) Error() string {
	if e.Recoverable {
		return fmt.Sprintf("dap framing: skipped frame: %v", e.Err)
	}
	return fmt.Sprintf("dap framing: %v", e.Err)
}

func (e *FramingError) Unwrap() error {
	return e.Err
}

// ProtocolError is an adapter-reported failure for one command.
type ProtocolError struct {
	Command string
	Seq     int
	Message string
	// Detail is the structured error from the response body, if any.
	Detail *godap.ErrorMessage
}

func (e *ProtocolError) Error() string {
	msg := e.Message
	if e.Detail != nil && e.Detail.Format != "" {
		if msg != "" {
			msg += ": "
		}
		msg += e.Detail.Format
	}
	if msg == "" {
		msg = "request failed"
	}
	return fmt.Sprintf("%s failed: %s", e.Command, msg)
}

// TimeoutError is returned when no response arrived within the bound.
type TimeoutError struct {
	Command string
	Seq     int
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s (seq %d) timed out after %s", e.Command, e.Seq, e.After)
}

// Is makes errors.Is(err, ErrTimeout) true for any *TimeoutError.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// IsConnectionFatal reports whether err means the connection is unusable.
func IsConnectionFatal(err error) bool {
	if errors.Is(err, ErrDisconnected) || errors.Is(err, ErrClientClosed) {
		return true
	}
	var fe *FramingError
	return errors.As(err, &fe) && !fe.Recoverable
}
