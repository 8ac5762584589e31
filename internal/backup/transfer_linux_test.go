//go:build linux

package backup

import (
	"errors"
	"os/exec"
	"sync/atomic"
	"testing"

	"golang.org/x/sys/unix"
)

func TestAwaitExitLeavesProcessUnreaped(t *testing.T) {
	h := startHandle(t, "exit 3")
	cmd := h.procs[0].cmd

	if err := awaitExit(cmd); err != nil {
		t.Fatalf("awaitExit failed: %v", err)
	}
	// the zombie still holds its pid
	if err := unix.Kill(cmd.Process.Pid, 0); err != nil {
		t.Fatalf("expected pid %d to stay reserved until reaped: %v", cmd.Process.Pid, err)
	}

	// a kill landing here only reaches the zombie
	if _, err := h.Kill(); err != nil {
		t.Fatalf("kill of an unreaped process failed: %v", err)
	}

	var exitErr *exec.ExitError
	if err := h.Wait(); !errors.As(err, &exitErr) || exitErr.ExitCode() != 3 {
		t.Fatalf("expected the original exit status 3, got %v", err)
	}

	killed, err := h.Kill()
	if err != nil || killed {
		t.Fatalf("expected no-op kill after reap, got %v, %v", killed, err)
	}
}

func TestTransferHandleKillNeverTargetsReapedPid(t *testing.T) {
	var stale atomic.Int32

	for i := 0; i < 50; i++ {
		h := startHandle(t, "exit 0")
		h.kill = func(cmd *exec.Cmd) error {
			if err := unix.Kill(cmd.Process.Pid, 0); errors.Is(err, unix.ESRCH) {
				stale.Add(1)
			}
			return killProcess(cmd)
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			h.Wait()
		}()
		for !h.Exited() {
			if _, err := h.Kill(); err != nil {
				t.Fatalf("kill failed: %v", err)
			}
		}
		<-done

		if killed, err := h.Kill(); err != nil || killed {
			t.Fatalf("expected no-op kill after Wait, got %v, %v", killed, err)
		}
	}

	if n := stale.Load(); n != 0 {
		t.Fatalf("kill was issued %d time(s) for an already reaped pid", n)
	}
}
