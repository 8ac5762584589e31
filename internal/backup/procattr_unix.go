//go:build !windows

package backup

import (
	"errors"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

// setProcessGroup puts the transfer in its own process group so that a
// terminal interrupt reaches only this program; transfers are stopped through
// the drain instead.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
}

// killProcess sends SIGKILL to the whole process group of cmd.
func killProcess(cmd *exec.Cmd) error {
	err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return os.ErrProcessDone
	}
	if err != nil {
		return cmd.Process.Kill()
	}
	return nil
}
