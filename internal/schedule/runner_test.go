package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestNextRun(t *testing.T) {
	from := time.Date(2024, 1, 2, 1, 0, 0, 0, time.UTC)

	cases := []struct {
		expr string
		want time.Time
	}{
		{"0 3 * * *", time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)},
		{"30 0 3 * * *", time.Date(2024, 1, 2, 3, 0, 30, 0, time.UTC)},
		{"@daily", time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)},
		{"@every 1h", time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, err := NextRun(tc.expr, from)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.expr, err)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("%s: expected %s, got %s", tc.expr, tc.want, got)
		}
	}
}

func TestInvalidSchedule(t *testing.T) {
	if _, err := NewRunner("every tuesday", func(context.Context) {}); err == nil {
		t.Fatalf("expected parse error")
	}
	if err := Validate("61 * * * *"); err == nil {
		t.Fatalf("expected parse error for out of range minute")
	}
	if err := Validate("*/5 * * * *"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunnerRunsUntilCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	var active atomic.Int32
	r, err := NewRunner("@every 1s", func(context.Context) {
		if active.Add(1) > 1 {
			t.Errorf("runs overlapped")
		}
		defer active.Add(-1)
		if runs.Add(1) == 2 {
			cancel()
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("runner did not stop")
	}
	if runs.Load() != 2 {
		t.Fatalf("expected 2 runs, got %d", runs.Load())
	}
}

func TestMissedActivations(t *testing.T) {
	r, err := NewRunner("*/5 * * * *", func(context.Context) {})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	from := time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)
	if got := r.missed(from, from.Add(17*time.Minute)); got != 3 {
		t.Fatalf("expected 3 missed activations, got %d", got)
	}
	if got := r.missed(from, from.Add(time.Minute)); got != 0 {
		t.Fatalf("expected no missed activations, got %d", got)
	}
}
