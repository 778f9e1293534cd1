package debug

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	godap "github.com/google/go-dap"

	"github.com/dshills/dapper/internal/integration/debug/adapters"
	"github.com/dshills/dapper/internal/integration/debug/dap"
	"github.com/dshills/dapper/internal/integration/process"
)

// State represents the lifecycle state of a debug session.
type State int

const (
	// StateIdle means the session was created but never started.
	StateIdle State = iota
	// StateInitializing means the adapter is starting and being initialized.
	StateInitializing
	// StateConfiguring means breakpoints and exception filters are being
	// sent before configurationDone.
	StateConfiguring
	// StateRunning means the debuggee is executing.
	StateRunning
	// StateStopped means the debuggee is paused.
	StateStopped
	// StateTerminated means the debuggee exited; the adapter may still be
	// connected.
	StateTerminated
	// StateEnded means the adapter connection is closed.
	StateEnded
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateConfiguring:
		return "configuring"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateTerminated:
		return "terminated"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Options configures a session.
type Options struct {
	// ClientID and ClientName are sent in the initialize request.
	ClientID   string
	ClientName string

	// RequestTimeout bounds ordinary requests; LongRequestTimeout bounds
	// launch, attach, disconnect and terminate.
	RequestTimeout     time.Duration
	LongRequestTimeout time.Duration

	// InitializedTimeout bounds the wait for the adapter's initialized
	// event during Start.
	InitializedTimeout time.Duration

	// RestartGrace bounds the wait for the old adapter to exit on Restart
	// and Stop.
	RestartGrace time.Duration

	Logger *slog.Logger
}

// DefaultOptions returns the default session options.
func DefaultOptions() Options {
	return Options{
		ClientID:           "dapper",
		ClientName:         "dapper",
		RequestTimeout:     dap.DefaultRequestTimeout,
		LongRequestTimeout: dap.LongRequestTimeout,
		InitializedTimeout: 10 * time.Second,
		RestartGrace:       2 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ClientID == "" {
		o.ClientID = d.ClientID
	}
	if o.ClientName == "" {
		o.ClientName = d.ClientName
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = d.RequestTimeout
	}
	if o.LongRequestTimeout <= 0 {
		o.LongRequestTimeout = d.LongRequestTimeout
	}
	if o.InitializedTimeout <= 0 {
		o.InitializedTimeout = d.InitializedTimeout
	}
	if o.RestartGrace <= 0 {
		o.RestartGrace = d.RestartGrace
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// run is one adapter connection, from Start until the session ends.
type run struct {
	client      *dap.Client
	proc        *process.Process
	initialized chan struct{}
	initOnce    sync.Once
	stopping    atomic.Bool
	endOnce     sync.Once
}

// Session is one debugging session against one debug adapter.
//
// All methods are safe for concurrent use. Start, Stop and Restart are
// serialized; other operations may run concurrently with each other and
// with adapter events.
type Session struct {
	id      string
	cfg     adapters.Config
	opts    Options
	connect ConnectFunc
	logger  *slog.Logger
	events  *broadcaster
	sink    func(Event)
	created time.Time

	// lifecycle serializes Start, Stop and Restart. It is a channel so
	// waiters can give up with their context.
	lifecycle chan struct{}

	mu           sync.Mutex
	state        State
	run          *run
	cancelStart  context.CancelCauseFunc
	caps         godap.Capabilities
	stopReason   string
	activeThread int
	activeFrame  int
	epoch        uint64
	threads      []Thread
	frames       map[int]StackFrame
	exitCode     int
	exited       bool
	watches      []string

	bps *breakpointRegistry
}

// NewSession creates an idle session. connect establishes the adapter
// connection on every Start.
func NewSession(id string, cfg adapters.Config, connect ConnectFunc, opts Options) *Session {
	opts = opts.withDefaults()
	logger := opts.Logger.With("component", "session", "session_id", id)
	return &Session{
		id:      id,
		cfg:     cfg,
		opts:    opts,
		connect: connect,
		logger:  logger,
		events:  newBroadcaster(logger),
		created:   time.Now(),
		bps:       newBreakpointRegistry(),
		lifecycle: make(chan struct{}, 1),
	}
}

// errStopRequested is the cause of a start interrupted by Stop.
var errStopRequested = errors.New("session stop requested")

func (s *Session) lock(ctx context.Context) error {
	select {
	case s.lifecycle <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) unlock() {
	<-s.lifecycle
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Config returns the launch configuration.
func (s *Session) Config() adapters.Config {
	return s.cfg
}

// Name returns the configuration name, or the program when unnamed.
func (s *Session) Name() string {
	if s.cfg.Name != "" {
		return s.cfg.Name
	}
	return s.cfg.Program
}

// Created returns when the session was created.
func (s *Session) Created() time.Time {
	return s.created
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StopReason returns the reason of the last stop, or "".
func (s *Session) StopReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopReason
}

// ActiveThread returns the active thread id, or 0.
func (s *Session) ActiveThread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeThread
}

// ExitCode returns the debuggee exit code, if the adapter reported one.
func (s *Session) ExitCode() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode, s.exited
}

// Capabilities returns the adapter capabilities of the current run.
func (s *Session) Capabilities() godap.Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

// Subscribe returns a subscription to this session's events.
func (s *Session) Subscribe(buffer int) *Subscription {
	return s.events.subscribe(buffer)
}

// Start connects to the adapter and runs the initialization sequence. It
// returns once the launch or attach request has succeeded.
//
// Stop interrupts a Start that is still in progress; Start then fails with
// an error matching context.Canceled.
func (s *Session) Start(ctx context.Context) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()
	return s.start(ctx)
}

func (s *Session) start(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer func() {
		s.mu.Lock()
		s.cancelStart = nil
		s.mu.Unlock()
		cancel(nil)
	}()

	s.mu.Lock()
	if s.state != StateIdle && s.state != StateEnded {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrAlreadyStarted, state)
	}
	s.cancelStart = cancel
	prev := s.state
	s.state = StateInitializing
	s.stopReason = ""
	s.activeThread, s.activeFrame = 0, 0
	s.threads, s.frames = nil, nil
	s.exitCode, s.exited = 0, false
	s.caps = godap.Capabilities{}
	s.epoch++
	s.mu.Unlock()
	s.publishState(prev, StateInitializing)

	s.logger.Info("starting debug session", "name", s.Name(), "type", s.cfg.Type, "request", s.cfg.RequestType())

	conn, err := s.connect(ctx, s.cfg)
	if err != nil {
		s.failStart(ctx, err)
		return fmt.Errorf("start session %s: %w", s.id, err)
	}

	r := &run{proc: conn.Process, initialized: make(chan struct{})}
	s.mu.Lock()
	s.run = r
	s.mu.Unlock()

	client := dap.NewClient(conn.Transport,
		dap.WithLogger(s.logger),
		dap.WithTimeouts(s.opts.RequestTimeout, s.opts.LongRequestTimeout),
		dap.WithEventHandler(func(m godap.EventMessage) { s.handleEvent(r, m) }),
		dap.WithCloseHandler(func(err error) { s.handleClose(r, err) }),
	)
	s.mu.Lock()
	r.client = client
	s.mu.Unlock()

	caps, err := client.Initialize(ctx, godap.InitializeRequestArguments{
		ClientID:                 s.opts.ClientID,
		ClientName:               s.opts.ClientName,
		AdapterID:                conn.AdapterID,
		Locale:                   "en-US",
		LinesStartAt1:            true,
		ColumnsStartAt1:          true,
		PathFormat:               "path",
		SupportsVariableType:     true,
		SupportsVariablePaging:   true,
		SupportsMemoryReferences: true,
	})
	if err != nil {
		return s.abort(ctx, r, err)
	}

	s.mu.Lock()
	s.caps = *caps
	s.mu.Unlock()
	s.transition(StateInitializing, StateConfiguring)

	args, err := adapters.Arguments(s.cfg)
	if err != nil {
		return s.abort(ctx, r, err)
	}

	// The launch response may only arrive after configurationDone.
	launched := make(chan error, 1)
	go func() {
		if s.cfg.RequestType() == adapters.RequestAttach {
			launched <- client.Attach(ctx, args)
		} else {
			launched <- client.Launch(ctx, args)
		}
	}()

	launchDone := false
	pending := launched
	timer := time.NewTimer(s.opts.InitializedTimeout)
	defer timer.Stop()
wait:
	for {
		select {
		case <-r.initialized:
			break wait
		case err := <-pending:
			if err != nil {
				return s.abort(ctx, r, err)
			}
			launchDone = true
			pending = nil
		case <-timer.C:
			s.logger.Warn("no initialized event from adapter, configuring anyway",
				"waited", s.opts.InitializedTimeout)
			break wait
		case <-client.Done():
			return s.abort(ctx, r, client.Err())
		case <-ctx.Done():
			return s.abort(ctx, r, ctx.Err())
		}
	}

	s.syncBreakpoints(ctx, client, *caps)

	if caps.SupportsConfigurationDoneRequest {
		if err := client.ConfigurationDone(ctx); err != nil {
			return s.abort(ctx, r, err)
		}
	}

	if !launchDone {
		select {
		case err := <-launched:
			if err != nil {
				return s.abort(ctx, r, err)
			}
		case <-client.Done():
			return s.abort(ctx, r, client.Err())
		case <-ctx.Done():
			return s.abort(ctx, r, ctx.Err())
		}
	}

	// A stopped event during configuration (stop on entry) already moved
	// the session on.
	s.transition(StateConfiguring, StateRunning)
	s.logger.Info("debug session started", "state", s.State())
	return nil
}

// stopRequested reports whether Stop interrupted the start running under ctx.
func stopRequested(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), errStopRequested)
}

// failStart ends a session whose adapter could not be reached.
func (s *Session) failStart(ctx context.Context, err error) {
	s.mu.Lock()
	prev := s.state
	s.state = StateEnded
	s.mu.Unlock()
	if stopRequested(ctx) {
		s.logger.Info("start interrupted by stop")
		err = nil
	} else {
		s.logger.Error("failed to start debug session", "error", err)
	}
	s.publishState(prev, StateEnded)
	s.publish(Event{Kind: EventEnded, Err: err})
}

// abort ends r after a failed initialization step.
func (s *Session) abort(ctx context.Context, r *run, cause error) error {
	if cause == nil {
		cause = dap.ErrDisconnected
	}
	if stopRequested(ctx) {
		s.logger.Info("start interrupted by stop", "error", cause)
		r.stopping.Store(true)
		s.finish(r, nil)
	} else {
		s.logger.Error("debug session failed to start", "error", cause)
		s.finish(r, cause)
	}
	s.teardown(r)
	return fmt.Errorf("start session %s: %w", s.id, cause)
}

// Stop disconnects from the adapter, optionally terminating the debuggee,
// and leaves the session Ended. A Start in progress is interrupted first.
// Disconnect failures are logged, not returned; the only error is ctx's,
// when it expires before the session could be torn down.
func (s *Session) Stop(ctx context.Context, terminateDebuggee bool) error {
	s.mu.Lock()
	cancel := s.cancelStart
	s.mu.Unlock()
	if cancel != nil {
		cancel(errStopRequested)
	}

	if err := s.lock(ctx); err != nil {
		s.logger.Warn("stop gave up waiting for session", "error", err)
		return err
	}
	defer s.unlock()
	s.stop(ctx, terminateDebuggee)
	return nil
}

func (s *Session) stop(ctx context.Context, terminateDebuggee bool) {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()

	if r == nil {
		s.transition(s.State(), StateEnded)
		return
	}

	r.stopping.Store(true)
	select {
	case <-r.client.Done():
	default:
		err := r.client.Disconnect(ctx, godap.DisconnectArguments{TerminateDebuggee: terminateDebuggee})
		if err != nil && !dap.IsConnectionFatal(err) {
			s.logger.Warn("disconnect failed", "error", err)
		}
	}

	s.teardown(r)
	s.finish(r, nil)
	s.logger.Info("debug session stopped")
}

// Restart stops the session, waits for the old adapter process to exit and
// starts again with the same configuration and breakpoints.
func (s *Session) Restart(ctx context.Context) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	s.mu.Lock()
	r := s.run
	s.mu.Unlock()

	s.stop(ctx, true)

	if r != nil {
		var exited <-chan struct{}
		if r.proc != nil {
			exited = r.proc.Done()
		}
		grace := time.NewTimer(s.opts.RestartGrace)
		defer grace.Stop()
		select {
		case <-exited:
		case <-grace.C:
			if exited != nil {
				s.logger.Warn("old adapter still running, restarting anyway", "pid", r.proc.PID())
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.start(ctx)
}

// teardown closes r's connection and reaps the adapter process.
func (s *Session) teardown(r *run) {
	r.stopping.Store(true)
	s.mu.Lock()
	client := r.client
	s.mu.Unlock()
	if client != nil {
		_ = client.Close()
	}
	s.reap(r.proc)
}

func (s *Session) reap(p *process.Process) {
	if p == nil {
		return
	}
	if p.Wait(s.opts.RestartGrace) {
		return
	}
	s.logger.Warn("adapter did not exit, killing it", "pid", p.PID())
	if err := p.Kill(); err != nil && !errors.Is(err, process.ErrProcessNotRunning) {
		s.logger.Warn("kill adapter failed", "error", err)
	}
	p.Wait(time.Second)
}

// finish moves the session to Ended and publishes EventEnded, once per run.
func (s *Session) finish(r *run, err error) {
	r.endOnce.Do(func() {
		s.mu.Lock()
		if s.run != r {
			s.mu.Unlock()
			return
		}
		prev := s.state
		s.state = StateEnded
		s.run = nil
		s.activeFrame = 0
		s.frames = nil
		s.epoch++
		s.mu.Unlock()

		s.publishState(prev, StateEnded)
		s.publish(Event{Kind: EventEnded, Err: err})
	})
}

// handleClose runs on the client's reader when the connection ends.
func (s *Session) handleClose(r *run, err error) {
	if r.stopping.Load() || errors.Is(err, dap.ErrClientClosed) {
		err = nil
	}
	if err != nil {
		s.logger.Error("adapter connection lost", "error", err)
	}
	s.finish(r, err)
	if err != nil && r.proc != nil {
		go s.reap(r.proc)
	}
}

// handleEvent runs on the client's reader and must not block or send
// requests.
func (s *Session) handleEvent(r *run, m godap.EventMessage) {
	s.mu.Lock()
	current := s.run == r
	s.mu.Unlock()
	if !current {
		return
	}

	switch e := m.(type) {
	case *godap.InitializedEvent:
		r.initOnce.Do(func() { close(r.initialized) })

	case *godap.StoppedEvent:
		s.mu.Lock()
		prev := s.state
		s.state = StateStopped
		s.stopReason = e.Body.Reason
		if e.Body.ThreadId != 0 {
			s.activeThread = e.Body.ThreadId
		}
		s.activeFrame = 0
		s.frames = nil
		s.mu.Unlock()
		s.publishState(prev, StateStopped)
		s.publish(Event{
			Kind:           EventStopped,
			Reason:         e.Body.Reason,
			ThreadID:       e.Body.ThreadId,
			AllThreads:     e.Body.AllThreadsStopped,
			HitBreakpoints: e.Body.HitBreakpointIds,
			Description:    e.Body.Description,
		})

	case *godap.ContinuedEvent:
		s.mu.Lock()
		prev := s.state
		if prev == StateStopped {
			s.state = StateRunning
			s.resumeLocked()
		}
		s.mu.Unlock()
		s.publishState(prev, s.State())
		s.publish(Event{Kind: EventContinued, ThreadID: e.Body.ThreadId, AllThreads: e.Body.AllThreadsContinued})

	case *godap.ExitedEvent:
		s.mu.Lock()
		s.exitCode, s.exited = e.Body.ExitCode, true
		s.mu.Unlock()
		s.publish(Event{Kind: EventExited, ExitCode: e.Body.ExitCode})

	case *godap.TerminatedEvent:
		s.mu.Lock()
		prev := s.state
		if prev != StateEnded {
			s.state = StateTerminated
		}
		s.activeFrame = 0
		s.frames = nil
		s.mu.Unlock()
		s.publishState(prev, s.State())

	case *godap.ThreadEvent:
		s.mu.Lock()
		switch e.Body.Reason {
		case "started":
			if !hasThread(s.threads, e.Body.ThreadId) {
				s.threads = append(s.threads, Thread{ID: e.Body.ThreadId})
			}
		case "exited":
			s.threads = removeThread(s.threads, e.Body.ThreadId)
			if s.activeThread == e.Body.ThreadId {
				s.activeThread, s.activeFrame = 0, 0
			}
		}
		s.mu.Unlock()
		s.publish(Event{Kind: EventThreadChanged, Reason: e.Body.Reason, ThreadID: e.Body.ThreadId})

	case *godap.OutputEvent:
		if e.Body.Category == "telemetry" {
			return
		}
		s.publish(Event{Kind: EventOutput, Category: e.Body.Category, Output: e.Body.Output})

	case *godap.BreakpointEvent:
		if bp, ok := s.bps.applyEvent(e.Body.Reason, e.Body.Breakpoint); ok {
			s.publish(Event{Kind: EventBreakpointChanged, Reason: e.Body.Reason, Breakpoint: &bp})
		}

	case *godap.CapabilitiesEvent:
		s.mu.Lock()
		mergeCapabilities(&s.caps, e.Body.Capabilities)
		s.mu.Unlock()

	default:
		s.logger.Debug("ignoring adapter event", "event", dap.EventName(m))
	}
}

// mergeCapabilities applies the boolean capabilities an adapter turned on
// after initialize.
func mergeCapabilities(dst *godap.Capabilities, src godap.Capabilities) {
	dst.SupportsStepBack = dst.SupportsStepBack || src.SupportsStepBack
	dst.SupportsGotoTargetsRequest = dst.SupportsGotoTargetsRequest || src.SupportsGotoTargetsRequest
	dst.SupportsStepInTargetsRequest = dst.SupportsStepInTargetsRequest || src.SupportsStepInTargetsRequest
	dst.SupportsReadMemoryRequest = dst.SupportsReadMemoryRequest || src.SupportsReadMemoryRequest
	dst.SupportsWriteMemoryRequest = dst.SupportsWriteMemoryRequest || src.SupportsWriteMemoryRequest
	dst.SupportsDisassembleRequest = dst.SupportsDisassembleRequest || src.SupportsDisassembleRequest
	dst.SupportsCancelRequest = dst.SupportsCancelRequest || src.SupportsCancelRequest
	dst.SupportsTerminateRequest = dst.SupportsTerminateRequest || src.SupportsTerminateRequest
}

// resumeLocked invalidates everything tied to the last stop.
func (s *Session) resumeLocked() {
	s.epoch++
	s.activeFrame = 0
	s.frames = nil
	s.stopReason = ""
}

// transition moves from one state to another if the session is still in
// from.
func (s *Session) transition(from, to State) {
	s.mu.Lock()
	if s.state != from {
		s.mu.Unlock()
		return
	}
	s.state = to
	s.mu.Unlock()
	s.publishState(from, to)
}

func (s *Session) publishState(prev, next State) {
	if prev == next {
		return
	}
	s.logger.Debug("session state changed", "from", prev, "to", next)
	s.publish(Event{Kind: EventStateChanged, Previous: prev, State: next})
}

func (s *Session) publish(e Event) {
	e.SessionID = s.id
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	s.events.publish(e)
	if s.sink != nil {
		s.sink(e)
	}
}

// live returns the client of the current run.
func (s *Session) live() (*dap.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil || s.run.client == nil {
		return nil, ErrNotStarted
	}
	return s.run.client, nil
}

// require returns the current client if the session is in one of states.
func (s *Session) require(op string, states ...State) (*dap.Client, godap.Capabilities, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requireLocked(op, states...)
}

func (s *Session) requireLocked(op string, states ...State) (*dap.Client, godap.Capabilities, error) {
	ok := false
	for _, st := range states {
		if s.state == st {
			ok = true
			break
		}
	}
	if !ok {
		names := make([]string, len(states))
		for i, st := range states {
			names[i] = st.String()
		}
		return nil, s.caps, fmt.Errorf("%w: %s requires state %s, session is %s",
			ErrPreconditionFailed, op, strings.Join(names, " or "), s.state)
	}
	if s.run == nil || s.run.client == nil {
		return nil, s.caps, ErrNotStarted
	}
	return s.run.client, s.caps, nil
}

func unsupported(op string) error {
	return fmt.Errorf("%s: %w", op, ErrUnsupported)
}
