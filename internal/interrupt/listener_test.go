package interrupt

import (
	"bytes"
	"os"
	"sync"
	"testing"
	"time"
)

type recordedExit struct {
	mu    sync.Mutex
	codes []int
}

func (r *recordedExit) exit(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes = append(r.codes, code)
}

func (r *recordedExit) calls() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.codes...)
}

func startTestListener(t *testing.T) (*Listener, chan os.Signal, *recordedExit) {
	t.Helper()
	signals := make(chan os.Signal, 4)
	exits := &recordedExit{}
	l := newListener(signals, exits.exit, &bytes.Buffer{})
	go l.loop()
	t.Cleanup(l.Stop)
	return l, signals, exits
}

func waitRequested(t *testing.T, l *Listener) {
	t.Helper()
	select {
	case <-l.Requested():
	case <-time.After(2 * time.Second):
		t.Fatalf("expected cancellation to be requested")
	}
}

func TestFirstSignalRequestsCancellation(t *testing.T) {
	l, signals, exits := startTestListener(t)

	if l.Cancelled() {
		t.Fatalf("expected no cancellation before a signal")
	}

	signals <- os.Interrupt
	waitRequested(t, l)

	if len(exits.calls()) != 0 {
		t.Fatalf("first signal must not exit, got %v", exits.calls())
	}
}

func TestSecondSignalForcesExit(t *testing.T) {
	l, signals, exits := startTestListener(t)

	signals <- os.Interrupt
	waitRequested(t, l)
	signals <- os.Interrupt

	deadline := time.Now().Add(2 * time.Second)
	for len(exits.calls()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := exits.calls(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected a single exit(1), got %v", got)
	}
}

func TestForceOnNextExitsOnFirstSignal(t *testing.T) {
	l, signals, exits := startTestListener(t)
	l.ForceOnNext()

	signals <- os.Interrupt

	deadline := time.Now().Add(2 * time.Second)
	for len(exits.calls()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if len(exits.calls()) != 1 {
		t.Fatalf("expected exit after forced signal, got %v", exits.calls())
	}
	if l.Cancelled() {
		t.Fatalf("forced exit must not request a drain")
	}
}
