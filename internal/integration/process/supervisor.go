package process

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for the process package.
var (
	// ErrProcessNotRunning is returned when signalling a process that is not running.
	ErrProcessNotRunning = errors.New("process not running")

	// ErrProcessAlreadyStarted is returned when starting a process twice.
	ErrProcessAlreadyStarted = errors.New("process already started")

	// ErrSupervisorShutdown is returned when the supervisor is shutting down.
	ErrSupervisorShutdown = errors.New("supervisor is shutting down")
)

// Supervisor starts debug adapter processes and tracks them until they exit.
//
// Supervisor is safe for concurrent use.
type Supervisor struct {
	mu        sync.RWMutex
	processes map[string]*Process
	wg        sync.WaitGroup
	closed    atomic.Bool

	logger *slog.Logger
	onExit func(p *Process)
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithLogger sets the logger used for process output.
func WithLogger(logger *slog.Logger) SupervisorOption {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithExitCallback sets a callback run after a process exits.
func WithExitCallback(fn func(p *Process)) SupervisorOption {
	return func(s *Supervisor) {
		s.onExit = fn
	}
}

// NewSupervisor creates a process supervisor.
func NewSupervisor(opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		processes: make(map[string]*Process),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "process")
	return s
}

// Start starts cmd with its protocol streams piped.
//
// Stdout and stderr use OS pipes owned by the caller rather than exec's copy
// goroutines, so the protocol stream stays readable until the adapter closes
// it and Wait never blocks on an unread pipe.
func (s *Supervisor) Start(name string, cmd *exec.Cmd) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, ErrSupervisorShutdown
	}

	id := uuid.NewString()
	proc := newProcess(id, name, cmd, s.logger.With("process", name, "process_id", id))

	var parentEnds, childEnds []*os.File
	cleanup := func() {
		for _, f := range append(parentEnds, childEnds...) {
			_ = f.Close()
		}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	proc.Stdin = stdin

	outR, outW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	parentEnds, childEnds = append(parentEnds, outR), append(childEnds, outW)
	cmd.Stdout = outW
	proc.Stdout = outR

	if cmd.Stderr == nil {
		errR, errW, err := os.Pipe()
		if err != nil {
			_ = stdin.Close()
			cleanup()
			return nil, fmt.Errorf("create stderr pipe: %w", err)
		}
		parentEnds, childEnds = append(parentEnds, errR), append(childEnds, errW)
		cmd.Stderr = errW
		proc.stderr = errR
	}

	if err := proc.start(); err != nil {
		_ = stdin.Close()
		cleanup()
		return nil, err
	}
	// The child holds its own copies now.
	for _, f := range childEnds {
		_ = f.Close()
	}

	s.processes[id] = proc
	s.wg.Add(1)
	go s.monitor(proc)

	s.logger.Debug("adapter started", "process", name, "pid", proc.PID(), "path", cmd.Path)
	return proc, nil
}

func (s *Supervisor) monitor(proc *Process) {
	defer s.wg.Done()
	<-proc.Done()

	if s.onExit != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("exit callback panicked", "process", proc.Name, "panic", r)
				}
			}()
			s.onExit(proc)
		}()
	}

	s.mu.Lock()
	delete(s.processes, proc.ID)
	s.mu.Unlock()
}

// Get returns a process by ID, or nil.
func (s *Supervisor) Get(id string) *Process {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processes[id]
}

// List returns all running processes.
func (s *Supervisor) List() []*Process {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Process, 0, len(s.processes))
	for _, p := range s.processes {
		result = append(result, p)
	}
	return result
}

// Count returns the number of tracked processes.
func (s *Supervisor) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.processes)
}

// Shutdown terminates every process, waits up to grace for them to exit and
// kills the rest. It blocks until all of them have been reaped.
func (s *Supervisor) Shutdown(grace time.Duration) {
	if s.closed.Swap(true) {
		s.wg.Wait()
		return
	}

	procs := s.List()
	for _, p := range procs {
		_ = p.Terminate()
	}

	deadline := time.Now().Add(grace)
	for _, p := range procs {
		if !p.Wait(time.Until(deadline)) {
			s.logger.Warn("adapter ignored SIGTERM, killing", "process", p.Name, "pid", p.PID())
			_ = p.Kill()
		}
	}
	s.wg.Wait()
}

// IsShuttingDown reports whether Shutdown has been called.
func (s *Supervisor) IsShuttingDown() bool {
	return s.closed.Load()
}
