//go:build unix

package process

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcessGroup puts the child in a new process group.
func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// signalGroup signals every process in p's group.
func signalGroup(p *os.Process, sig syscall.Signal) error {
	pgid, err := unix.Getpgid(p.Pid)
	if err != nil {
		return p.Signal(sig)
	}
	return unix.Kill(-pgid, sig)
}
