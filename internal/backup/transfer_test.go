package backup

import (
	"os/exec"
	"strings"
	"testing"
	"time"
)

func startHandle(t *testing.T, script string) *TransferHandle {
	t.Helper()
	cmd := exec.Command("sh", "-c", script)
	stderr := newTailBuffer(maxCapturedStderr)
	cmd.Stderr = stderr
	setProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start %q: %v", script, err)
	}
	return newTransferHandle("Backup to destination test", cmd, stderr, nil, nil)
}

func TestTransferHandleKillRunning(t *testing.T) {
	h := startHandle(t, "sleep 30")

	done := make(chan error, 1)
	go func() { done <- h.Wait() }()

	killed, err := h.Kill()
	if err != nil || !killed {
		t.Fatalf("expected kill to succeed, got %v, %v", killed, err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("a killed transfer must not report success")
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("killed transfer did not exit")
	}
	if !h.Killed() || !h.Exited() {
		t.Fatalf("expected killed and exited flags")
	}
}

func TestTransferHandleKillAfterExit(t *testing.T) {
	h := startHandle(t, "exit 0")
	if err := h.Wait(); err != nil {
		t.Fatalf("wait failed: %v", err)
	}

	killed, err := h.Kill()
	if err != nil || killed {
		t.Fatalf("expected no-op kill after exit, got %v, %v", killed, err)
	}
	if h.Killed() {
		t.Fatalf("kill flag must stay unset")
	}
}

func TestTransferHandleKillsWholeGroup(t *testing.T) {
	// the shell stays alive as the parent of a background sleep
	h := startHandle(t, "sleep 30 & wait")

	done := make(chan error, 1)
	go func() { done <- h.Wait() }()

	time.Sleep(100 * time.Millisecond)
	if _, err := h.Kill(); err != nil {
		t.Fatalf("kill failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("process group was not killed")
	}
}

func TestTransferHandleStderr(t *testing.T) {
	h := startHandle(t, "echo 'disk full' >&2; exit 1")
	if err := h.Wait(); err == nil {
		t.Fatalf("expected failure")
	}
	stderr, ok := h.Stderr()
	if !ok || strings.TrimSpace(stderr) != "disk full" {
		t.Fatalf("unexpected stderr %q (ok=%v)", stderr, ok)
	}
	if h.Elapsed() <= 0 {
		t.Fatalf("expected positive elapsed time")
	}
}

func TestTailBufferKeepsTail(t *testing.T) {
	b := newTailBuffer(8)
	b.Write([]byte("0123456789"))
	b.Write([]byte("ab"))
	if got := b.String(); got != "456789ab" {
		t.Fatalf("expected last 8 bytes, got %q", got)
	}
}
