package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// stderrTail is the number of stderr lines kept for error reports.
const stderrTail = 20

// State represents the state of a process.
type State int

const (
	// StateCreated indicates the process has been created but not started.
	StateCreated State = iota
	// StateRunning indicates the process is currently running.
	StateRunning
	// StateExited indicates the process has exited on its own.
	StateExited
	// StateKilled indicates the process was killed by a signal.
	StateKilled
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Process is a debug adapter child process.
//
// The adapter's stdin and stdout carry the protocol; stderr is drained into
// the debug log so a chatty adapter can never block on a full pipe. The
// process runs in its own process group and Kill takes the whole group down,
// including debuggees the adapter spawned.
type Process struct {
	// ID is the unique identifier for this process.
	ID string

	// Name is a human-readable name, usually the adapter kind.
	Name string

	// Cmd is the underlying exec.Cmd.
	Cmd *exec.Cmd

	// Stdin is the adapter's input stream.
	Stdin io.WriteCloser

	// Stdout is the adapter's output stream.
	Stdout io.ReadCloser

	// Started is the time the process was started.
	Started time.Time

	logger *slog.Logger
	stderr io.ReadCloser

	done     chan struct{}
	state    atomic.Int32
	exitCode atomic.Int32

	mu      sync.RWMutex
	exitErr error
	tail    []string

	waitOnce sync.Once
}

func newProcess(id, name string, cmd *exec.Cmd, logger *slog.Logger) *Process {
	p := &Process{
		ID:     id,
		Name:   name,
		Cmd:    cmd,
		logger: logger,
		done:   make(chan struct{}),
	}
	p.state.Store(int32(StateCreated))
	p.exitCode.Store(-1)
	return p
}

// State returns the current process state.
func (p *Process) State() State {
	return State(p.state.Load())
}

// ExitCode returns the process exit code, or -1 if it has not exited.
func (p *Process) ExitCode() int {
	return int(p.exitCode.Load())
}

// ExitError returns the error from waiting on the process, if any.
func (p *Process) ExitError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitErr
}

// Done returns a channel that is closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// IsRunning reports whether the process is running.
func (p *Process) IsRunning() bool {
	return p.State() == StateRunning
}

// PID returns the process ID, or -1 if not started.
func (p *Process) PID() int {
	if p.Cmd.Process == nil {
		return -1
	}
	return p.Cmd.Process.Pid
}

// StderrTail returns the last lines the adapter wrote to stderr.
func (p *Process) StderrTail() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return strings.Join(p.tail, "\n")
}

// Kill sends SIGKILL to the process group.
func (p *Process) Kill() error {
	return p.signal(syscall.SIGKILL)
}

// Terminate sends SIGTERM to the process group.
func (p *Process) Terminate() error {
	return p.signal(syscall.SIGTERM)
}

func (p *Process) signal(sig syscall.Signal) error {
	if !p.IsRunning() || p.Cmd.Process == nil {
		return ErrProcessNotRunning
	}
	err := signalGroup(p.Cmd.Process, sig)
	if err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("signal %s: %w", p.Name, err)
	}
	return nil
}

// Wait blocks until the process exits or timeout elapses. It reports whether
// the process exited.
func (p *Process) Wait(timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-p.done:
		return true
	case <-t.C:
		return false
	}
}

// Close closes the protocol streams. It does not kill the process.
func (p *Process) Close() error {
	var errs []error
	if p.Stdin != nil {
		if err := p.Stdin.Close(); err != nil && !isClosed(err) {
			errs = append(errs, fmt.Errorf("close stdin: %w", err))
		}
	}
	if p.Stdout != nil {
		if err := p.Stdout.Close(); err != nil && !isClosed(err) {
			errs = append(errs, fmt.Errorf("close stdout: %w", err))
		}
	}
	return errors.Join(errs...)
}

func isClosed(err error) bool {
	return errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed)
}

func (p *Process) start() error {
	if p.State() != StateCreated {
		return ErrProcessAlreadyStarted
	}

	setProcessGroup(p.Cmd)
	if err := p.Cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.Name, err)
	}

	p.Started = time.Now()
	p.state.Store(int32(StateRunning))

	if p.stderr != nil {
		go p.drainStderr()
	}
	go p.waitLoop()
	return nil
}

// drainStderr logs each stderr line and keeps the most recent ones.
func (p *Process) drainStderr() {
	defer p.stderr.Close()
	scanner := bufio.NewScanner(p.stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		p.logger.Debug("adapter stderr", "line", line)

		p.mu.Lock()
		p.tail = append(p.tail, line)
		if len(p.tail) > stderrTail {
			p.tail = p.tail[len(p.tail)-stderrTail:]
		}
		p.mu.Unlock()
	}
}

func (p *Process) waitLoop() {
	p.waitOnce.Do(func() {
		err := p.Cmd.Wait()

		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()

		exitCode := 0
		state := StateExited
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				exitCode = exitErr.ExitCode()
				if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
					state = StateKilled
				}
			} else {
				exitCode = -1
			}
		}

		p.exitCode.Store(int32(exitCode))
		p.state.Store(int32(state))
		p.logger.Debug("adapter exited", "exit_code", exitCode, "state", state.String())
		close(p.done)
	})
}

// Runtime returns how long the process has been running.
func (p *Process) Runtime() time.Duration {
	if p.Started.IsZero() {
		return 0
	}
	return time.Since(p.Started)
}
