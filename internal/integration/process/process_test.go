//go:build unix

package process

import (
	"bufio"
	"io"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateString(t *testing.T) {
	assert.Equal(t, "created", StateCreated.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "exited", StateExited.String())
	assert.Equal(t, "killed", StateKilled.String())
	assert.Equal(t, "unknown(99)", State(99).String())
}

func TestProcessExitCode(t *testing.T) {
	s := NewSupervisor()
	proc, err := s.Start("exit3", exec.Command("sh", "-c", "exit 3"))
	require.NoError(t, err)

	require.True(t, proc.Wait(5*time.Second))
	assert.Equal(t, StateExited, proc.State())
	assert.Equal(t, 3, proc.ExitCode())
	assert.Error(t, proc.ExitError())
	assert.False(t, proc.IsRunning())
}

func TestProcessStdio(t *testing.T) {
	s := NewSupervisor()
	proc, err := s.Start("cat", exec.Command("cat"))
	require.NoError(t, err)
	defer func() { _ = proc.Kill() }()

	_, err = io.WriteString(proc.Stdin, "ping\n")
	require.NoError(t, err)

	line, err := bufio.NewReader(proc.Stdout).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "ping\n", line)

	require.NoError(t, proc.Stdin.Close())
	require.True(t, proc.Wait(5*time.Second))
	assert.Equal(t, 0, proc.ExitCode())
}

func TestProcessStderrTail(t *testing.T) {
	s := NewSupervisor()
	script := `i=0; while [ $i -lt 30 ]; do echo "line $i" >&2; i=$((i+1)); done`
	proc, err := s.Start("noisy", exec.Command("sh", "-c", script))
	require.NoError(t, err)
	require.True(t, proc.Wait(5*time.Second))

	assert.Eventually(t, func() bool {
		return strings.HasSuffix(proc.StderrTail(), "line 29")
	}, 2*time.Second, 10*time.Millisecond)
	assert.NotContains(t, proc.StderrTail(), "line 9\n")
}

func TestProcessKillGroup(t *testing.T) {
	s := NewSupervisor()
	// The child sleeps in a grandchild; killing the group ends both.
	proc, err := s.Start("tree", exec.Command("sh", "-c", "sleep 30 & wait"))
	require.NoError(t, err)

	require.NoError(t, proc.Kill())
	require.True(t, proc.Wait(5*time.Second))
	assert.Equal(t, StateKilled, proc.State())

	assert.ErrorIs(t, proc.Kill(), ErrProcessNotRunning)
}

func TestProcessStdoutEOFOnExit(t *testing.T) {
	s := NewSupervisor()
	proc, err := s.Start("echo", exec.Command("sh", "-c", "printf done"))
	require.NoError(t, err)

	out, err := io.ReadAll(proc.Stdout)
	require.NoError(t, err)
	assert.Equal(t, "done", string(out))
	require.True(t, proc.Wait(5*time.Second))
	assert.NoError(t, proc.Close())
}
