//go:build !linux && !windows && !darwin && !dragonfly && !freebsd && !netbsd && !openbsd

package backup

import "os/exec"

func awaitExit(cmd *exec.Cmd) error {
	return errAwaitUnsupported
}
