//go:build windows

package backup

import (
	"os/exec"

	"golang.org/x/sys/windows"
)

// awaitExit blocks until the process of cmd exits. The open handle keeps
// the process object alive until cmd.Wait releases it.
func awaitExit(cmd *exec.Cmd) error {
	h, err := windows.OpenProcess(windows.SYNCHRONIZE, false, uint32(cmd.Process.Pid))
	if err != nil {
		return err
	}
	defer windows.CloseHandle(h)

	_, err = windows.WaitForSingleObject(h, windows.INFINITE)
	return err
}
