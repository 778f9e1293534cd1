package dap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	godap "github.com/google/go-dap"
)

// EventHandler receives adapter events in emission order. It runs on the
// client's reader goroutine and must not issue requests or block.
type EventHandler func(godap.EventMessage)

// CloseHandler is called once when the connection ends, before Done is
// closed. err wraps ErrDisconnected for unexpected closure or is
// ErrClientClosed after Close. It must not call Close.
type CloseHandler func(err error)

// closeWait bounds how long Close waits for the reader to observe closure.
const closeWait = 5 * time.Second

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithEventHandler sets the event sink.
func WithEventHandler(h EventHandler) Option {
	return func(c *Client) { c.onEvent = h }
}

// WithCloseHandler sets the connection-closed callback.
func WithCloseHandler(h CloseHandler) Option {
	return func(c *Client) { c.onClose = h }
}

// WithTimeouts overrides the default and long request timeouts. A zero value
// keeps the current setting.
func WithTimeouts(standard, long time.Duration) Option {
	return func(c *Client) {
		if standard > 0 {
			c.timeout = standard
		}
		if long > 0 {
			c.longTimeout = long
		}
	}
}

// Client is a DAP client that communicates with a debug adapter.
//
// Requests may be issued from any goroutine and may be in flight
// concurrently. A dedicated reader goroutine owns the receive side of the
// transport for the lifetime of the client.
type Client struct {
	transport Transport
	logger    *slog.Logger
	onEvent   EventHandler
	onClose   CloseHandler

	timeout     time.Duration
	longTimeout time.Duration

	// pendingMu guards seq, pending and closed.
	pendingMu sync.Mutex
	seq       int
	pending   map[int]*pendingRequest
	closed    bool
	closeErr  error

	ready     chan struct{}
	readyOnce sync.Once
	initErr   error

	capsMu sync.RWMutex
	caps   *godap.Capabilities

	done      chan struct{}
	closeOnce sync.Once
	closing   chan struct{}
}

type result struct {
	msg godap.ResponseMessage
	err error
}

// pendingRequest is a single-use completion slot.
type pendingRequest struct {
	command string
	ch      chan result
}

// NewClient creates a client over transport and starts its reader.
func NewClient(transport Transport, opts ...Option) *Client {
	c := &Client{
		transport:   transport,
		logger:      slog.Default(),
		timeout:     DefaultRequestTimeout,
		longTimeout: LongRequestTimeout,
		pending:     make(map[int]*pendingRequest),
		ready:       make(chan struct{}),
		done:        make(chan struct{}),
		closing:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "dap")

	go c.readLoop()
	return c
}

// Done is closed when the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, or nil while it is alive.
func (c *Client) Err() error {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return c.closeErr
}

// Capabilities returns the adapter capabilities from initialize, or nil.
func (c *Client) Capabilities() *godap.Capabilities {
	c.capsMu.RLock()
	defer c.capsMu.RUnlock()
	return c.caps
}

// PendingCount reports the number of requests awaiting a response.
func (c *Client) PendingCount() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}

// Close shuts the connection down. Outstanding requests fail with
// ErrDisconnected.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.closing) })
	err := c.transport.Close()
	select {
	case <-c.done:
	case <-time.After(closeWait):
		c.logger.Warn("reader did not stop after transport close")
	}
	return err
}

// readLoop receives messages until the transport fails.
func (c *Client) readLoop() {
	for {
		msg, err := c.transport.Receive()
		if err != nil {
			var fe *FramingError
			if errors.As(err, &fe) && fe.Recoverable {
				c.logger.Warn("discarding undecodable message", "error", err)
				continue
			}
			c.shutdown(err)
			return
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg godap.Message) {
	switch m := msg.(type) {
	case godap.ResponseMessage:
		c.deliver(m)
	case godap.EventMessage:
		if c.onEvent != nil {
			c.onEvent(m)
		}
	case godap.RequestMessage:
		// Reverse requests (runInTerminal, startDebugging) are not served.
		go c.rejectReverseRequest(m)
	default:
		c.logger.Debug("ignoring message", "type", fmt.Sprintf("%T", msg))
	}
}

func (c *Client) deliver(m godap.ResponseMessage) {
	resp := m.GetResponse()

	c.pendingMu.Lock()
	p, ok := c.pending[resp.RequestSeq]
	if ok {
		delete(c.pending, resp.RequestSeq)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Debug("response without pending request",
			"request_seq", resp.RequestSeq, "command", resp.Command)
		return
	}

	if !resp.Success {
		perr := &ProtocolError{
			Command: resp.Command,
			Seq:     resp.RequestSeq,
			Message: resp.Message,
		}
		if er, ok := m.(*godap.ErrorResponse); ok {
			perr.Detail = er.Body.Error
		}
		p.ch <- result{err: perr}
		return
	}
	p.ch <- result{msg: m}
}

func (c *Client) rejectReverseRequest(m godap.RequestMessage) {
	req := m.GetRequest()
	c.logger.Debug("rejecting reverse request", "command", req.Command, "seq", req.Seq)

	c.pendingMu.Lock()
	if c.closed {
		c.pendingMu.Unlock()
		return
	}
	c.seq++
	seq := c.seq
	c.pendingMu.Unlock()

	resp := &godap.ErrorResponse{
		Response: godap.Response{
			ProtocolMessage: godap.ProtocolMessage{Seq: seq, Type: "response"},
			RequestSeq:      req.Seq,
			Success:         false,
			Command:         req.Command,
			Message:         "not supported",
		},
	}
	if err := c.transport.Send(resp); err != nil {
		c.logger.Debug("reply to reverse request failed", "error", err)
	}
}

// shutdown fails every pending request and runs the close handler once.
func (c *Client) shutdown(cause error) {
	var reported error
	select {
	case <-c.closing:
		reported = ErrClientClosed
	default:
		if errors.Is(cause, ErrDisconnected) {
			reported = cause
		} else {
			reported = fmt.Errorf("%w: %v", ErrDisconnected, cause)
		}
		c.logger.Warn("adapter connection lost", "error", cause)
	}

	c.pendingMu.Lock()
	c.closed = true
	c.closeErr = reported
	pending := c.pending
	c.pending = make(map[int]*pendingRequest)
	c.pendingMu.Unlock()

	for seq, p := range pending {
		p.ch <- result{err: fmt.Errorf("%s (seq %d): %w", p.command, seq, ErrDisconnected)}
	}

	c.markReady(reported)
	_ = c.transport.Close()

	if c.onClose != nil {
		c.onClose(reported)
	}
	close(c.done)
}

func (c *Client) markReady(err error) {
	c.readyOnce.Do(func() {
		c.initErr = err
		close(c.ready)
	})
}

// waitReady blocks until initialize has completed, at most for the long
// request timeout.
func (c *Client) waitReady(ctx context.Context) error {
	t := time.NewTimer(c.longTimeout)
	defer t.Stop()

	select {
	case <-c.ready:
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return &TimeoutError{Command: CommandInitialize, After: c.longTimeout}
	}
	if c.initErr != nil {
		return fmt.Errorf("%w: %w", ErrNotInitialized, c.initErr)
	}
	return nil
}

// timeoutFor returns the bound applied to command.
func (c *Client) timeoutFor(command string) time.Duration {
	if longRunning[command] {
		return c.longTimeout
	}
	return c.timeout
}

// Send issues req and waits for its response. The request's sequence number
// is assigned here. Any request other than initialize waits until
// initialize has completed.
func (c *Client) Send(ctx context.Context, req godap.RequestMessage) (godap.ResponseMessage, error) {
	r := req.GetRequest()
	if r.Command != CommandInitialize {
		if err := c.waitReady(ctx); err != nil {
			return nil, fmt.Errorf("%s: %w", r.Command, err)
		}
	}

	seq, p, err := c.register(req)
	if err != nil {
		return nil, err
	}

	if err := c.transport.Send(req); err != nil {
		c.removePending(seq)
		return nil, fmt.Errorf("send %s: %w", r.Command, err)
	}

	return c.await(ctx, seq, p)
}

// register allocates the next sequence number and its completion slot.
func (c *Client) register(req godap.RequestMessage) (int, *pendingRequest, error) {
	r := req.GetRequest()
	p := &pendingRequest{command: r.Command, ch: make(chan result, 1)}

	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	if c.closed {
		return 0, nil, fmt.Errorf("%s: %w", r.Command, c.closeErr)
	}
	c.seq++
	r.Seq = c.seq
	r.Type = "request"
	c.pending[r.Seq] = p
	return r.Seq, p, nil
}

func (c *Client) await(ctx context.Context, seq int, p *pendingRequest) (godap.ResponseMessage, error) {
	var timer <-chan time.Time
	limit := c.timeoutFor(p.command)
	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline && limit > 0 {
		t := time.NewTimer(limit)
		defer t.Stop()
		timer = t.C
	}
	sent := time.Now()

	select {
	case res := <-p.ch:
		return res.msg, res.err
	case <-timer:
		if !c.removePending(seq) {
			res := <-p.ch
			return res.msg, res.err
		}
		return nil, &TimeoutError{Command: p.command, Seq: seq, After: limit}
	case <-ctx.Done():
		if !c.removePending(seq) {
			res := <-p.ch
			return res.msg, res.err
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			after := deadline.Sub(sent)
			if after < 0 {
				after = 0
			}
			return nil, &TimeoutError{Command: p.command, Seq: seq, After: after}
		}
		return nil, fmt.Errorf("%s: %w", p.command, ctx.Err())
	}
}

// removePending removes seq and reports whether it was still pending.
func (c *Client) removePending(seq int) bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if _, ok := c.pending[seq]; !ok {
		return false
	}
	delete(c.pending, seq)
	return true
}

// roundtrip sends req and asserts the typed response.
func roundtrip[T godap.ResponseMessage](ctx context.Context, c *Client, req godap.RequestMessage) (T, error) {
	var zero T
	resp, err := c.Send(ctx, req)
	if err != nil {
		return zero, err
	}
	typed, ok := resp.(T)
	if !ok {
		return zero, fmt.Errorf("%s: unexpected response type %T", req.GetRequest().Command, resp)
	}
	return typed, nil
}

// Initialize sends the initialize request and unblocks other requests.
func (c *Client) Initialize(ctx context.Context, args godap.InitializeRequestArguments) (*godap.Capabilities, error) {
	req := &godap.InitializeRequest{Request: newRequest(CommandInitialize), Arguments: args}
	resp, err := c.Send(ctx, req)
	if err != nil {
		c.markReady(err)
		return nil, fmt.Errorf("initialize: %w", err)
	}

	caps := &godap.Capabilities{}
	if ir, ok := resp.(*godap.InitializeResponse); ok {
		body := ir.Body
		caps = &body
	}

	c.capsMu.Lock()
	c.caps = caps
	c.capsMu.Unlock()

	c.markReady(nil)
	c.logger.Debug("adapter initialized")
	return caps, nil
}
