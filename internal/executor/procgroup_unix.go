//go:build !windows

package executor

import (
	"fmt"
	"os/exec"
	"syscall"
)

// shellCommand wraps a composed command line for the platform shell
func shellCommand(line string) *exec.Cmd {
	return exec.Command("/bin/sh", "-c", line)
}

// configureProcessGroup runs the command in its own process group so that
// signals reach the entire tree (parent + children), not just the parent.
func configureProcessGroup(cmd *exec.Cmd) {
	if cmd == nil {
		return
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func processGroupID(cmd *exec.Cmd) int {
	if cmd == nil || cmd.Process == nil {
		return 0
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		return 0
	}
	return pgid
}

// signalProcessGroup delivers SIGTERM (or SIGKILL when force) to the whole
// group, falling back to the parent process when no group id is known.
func signalProcessGroup(cmd *exec.Cmd, pgid int, force bool) error {
	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}

	if pgid > 0 {
		return syscall.Kill(-pgid, sig)
	}
	if cmd != nil && cmd.Process != nil {
		if force {
			return cmd.Process.Kill()
		}
		return cmd.Process.Signal(sig)
	}
	return fmt.Errorf("no process to signal")
}
