// Package dap implements the Debug Adapter Protocol client.
package dap

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	godap "github.com/google/go-dap"
	"github.com/tidwall/gjson"
)

// Transport moves framed DAP messages to and from a debug adapter.
type Transport interface {
	// Send writes one message. Concurrent calls never interleave frames.
	Send(msg godap.Message) error

	// Receive reads the next message. Only the client's reader calls it.
	Receive() (godap.Message, error)

	// Close releases the underlying stream.
	Close() error
}

// RawResponse is a response whose command has no typed body in go-dap.
type RawResponse struct {
	godap.Response
	Body json.RawMessage `json:"body,omitempty"`
}

// RawRequest is a request whose command has no typed arguments in go-dap.
type RawRequest struct {
	godap.Request
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// RawEvent is an event whose name has no typed body in go-dap.
type RawEvent struct {
	godap.Event
	Body json.RawMessage `json:"body,omitempty"`
}

// Encode writes msg as a Content-Length framed JSON message.
func Encode(w io.Writer, msg godap.Message) error {
	if err := godap.WriteProtocolMessage(w, msg); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Decode reads exactly one frame from r.
//
// A malformed header leaves the stream position unknown and is returned as a
// non-recoverable *FramingError. A body that cannot be decoded has already
// been consumed in full, so it is returned as a recoverable *FramingError and
// the next call reads the following frame. End of stream, including in the
// middle of a frame, is reported as ErrDisconnected.
func Decode(r *bufio.Reader) (godap.Message, error) {
	content, err := godap.ReadBaseMessage(r)
	if err != nil {
		if isStreamClosed(err) {
			return nil, fmt.Errorf("%w: %v", ErrDisconnected, err)
		}
		return nil, &FramingError{Err: err}
	}

	msg, err := godap.DecodeProtocolMessage(content)
	if err == nil {
		return msg, nil
	}

	// Unknown commands and events still carry a routable envelope.
	switch gjson.GetBytes(content, "type").String() {
	case "request":
		var req RawRequest
		if jerr := json.Unmarshal(content, &req); jerr == nil {
			return &req, nil
		}
	case "response":
		var resp RawResponse
		if jerr := json.Unmarshal(content, &resp); jerr == nil {
			return &resp, nil
		}
	case "event":
		var evt RawEvent
		if jerr := json.Unmarshal(content, &evt); jerr == nil {
			return &evt, nil
		}
	}
	return nil, &FramingError{Recoverable: true, Err: err}
}

func isStreamClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrClosed)
}

// StreamTransport implements Transport over a byte stream pair, typically the
// stdout and stdin pipes of an adapter process.
type StreamTransport struct {
	reader  *bufio.Reader
	writer  io.Writer
	closers []io.Closer

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewStreamTransport reads frames from r and writes frames to w. Closers are
// closed in order by Close.
func NewStreamTransport(r io.Reader, w io.Writer, closers ...io.Closer) *StreamTransport {
	return &StreamTransport{
		reader:  bufio.NewReader(r),
		writer:  w,
		closers: closers,
	}
}

// NewRawTransport creates a transport from any ReadWriteCloser.
func NewRawTransport(rwc io.ReadWriteCloser) *StreamTransport {
	return NewStreamTransport(rwc, rwc, rwc)
}

// Send writes one framed message.
func (t *StreamTransport) Send(msg godap.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := Encode(t.writer, msg); err != nil {
		if isStreamClosed(err) {
			return fmt.Errorf("%w: %v", ErrDisconnected, err)
		}
		return err
	}
	return nil
}

// Receive reads the next framed message.
func (t *StreamTransport) Receive() (godap.Message, error) {
	return Decode(t.reader)
}

// Close closes every underlying stream once.
func (t *StreamTransport) Close() error {
	t.closeOnce.Do(func() {
		var errs []error
		for _, c := range t.closers {
			if err := c.Close(); err != nil && !isStreamClosed(err) {
				errs = append(errs, err)
			}
		}
		t.closeErr = errors.Join(errs...)
	})
	return t.closeErr
}

// DialOptions bounds the retry loop used by Dial.
type DialOptions struct {
	// InitialInterval is the first retry delay.
	InitialInterval time.Duration
	// MaxInterval caps a single retry delay.
	MaxInterval time.Duration
	// MaxElapsed gives up after this much total time.
	MaxElapsed time.Duration
	Logger     *slog.Logger
}

// DefaultDialOptions suits adapters that need a moment to open their port.
func DefaultDialOptions() DialOptions {
	return DialOptions{
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
		MaxElapsed:      10 * time.Second,
	}
}

// Dial connects to an adapter running in server mode. The connection is
// retried with exponential backoff until the adapter accepts it.
func Dial(ctx context.Context, address string, opts DialOptions) (*StreamTransport, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.InitialInterval
	b.MaxInterval = opts.MaxInterval
	b.MaxElapsedTime = opts.MaxElapsed
	b.Reset()

	var conn net.Conn
	var dialer net.Dialer
	op := func() error {
		c, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, next time.Duration) {
		if opts.Logger != nil {
			opts.Logger.Debug("adapter not accepting connections yet",
				"address", address, "retry_in", next, "error", err)
		}
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return NewRawTransport(conn), nil
}
