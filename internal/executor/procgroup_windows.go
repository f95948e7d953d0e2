//go:build windows

package executor

import (
	"fmt"
	"os/exec"
)

func shellCommand(line string) *exec.Cmd {
	return exec.Command("cmd", "/C", line)
}

func configureProcessGroup(cmd *exec.Cmd) {
	// Process groups are handled differently on Windows.
	// We leave the command configuration untouched.
	_ = cmd
}

func processGroupID(cmd *exec.Cmd) int {
	return 0
}

func signalProcessGroup(cmd *exec.Cmd, pgid int, force bool) error {
	_ = pgid
	_ = force
	if cmd != nil && cmd.Process != nil {
		return cmd.Process.Kill()
	}
	return fmt.Errorf("no process to signal")
}
