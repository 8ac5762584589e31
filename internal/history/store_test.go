package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/yourusername/docker-volume-backup/internal/backup"
)

func newReport(runID string, started time.Time, outcomes ...backup.Outcome) *backup.RunReport {
	return &backup.RunReport{
		RunID:        runID,
		Destinations: len(outcomes),
		Outcomes:     outcomes,
		StartedAt:    started,
		FinishedAt:   started.Add(time.Minute),
	}
}

func TestRecordAndRecent(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)

	first := newReport("2024-1-2", base,
		backup.Succeeded("/backup", "Backup to destination /backup completed successfully in 00:01:00", time.Minute),
	)
	if _, err := store.Record(ctx, Entry{Report: first, VolumeRoot: "/var/lib/docker/volumes", Consumers: []string{"db", "web"}}); err != nil {
		t.Fatalf("failed to record first run: %v", err)
	}

	spaceErr := &backup.Error{Kind: backup.KindInsufficientSpace, Destination: "nas:/b", Message: "Not enough space", Required: 100, Available: 10}
	second := newReport("2024-1-3", base.Add(24*time.Hour),
		backup.Succeeded("/backup", "ok", 2*time.Second),
		backup.Failed("nas:/b", spaceErr),
	)
	id, err := store.Record(ctx, Entry{Report: second, VolumeRoot: "/var/lib/docker/volumes", ConsumerError: errors.New("docker start failed")})
	if err != nil {
		t.Fatalf("failed to record second run: %v", err)
	}
	if id == "" {
		t.Fatalf("expected a record id")
	}

	runs, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}

	latest := runs[0]
	if latest.ID != id || latest.RunID != "2024-1-3" || latest.Status != "failed" {
		t.Fatalf("unexpected latest run %+v", latest)
	}
	if latest.Succeeded != 1 || latest.Destinations != 2 || latest.ConsumerError != "docker start failed" {
		t.Fatalf("unexpected counters %+v", latest)
	}
	if len(latest.Outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(latest.Outcomes))
	}
	failed := latest.Outcomes[1]
	if failed.Kind != "InsufficientSpace" || failed.Required != 100 || failed.Available != 10 {
		t.Fatalf("unexpected failed outcome %+v", failed)
	}
	if latest.Outcomes[0].Elapsed != 2*time.Second {
		t.Fatalf("expected elapsed to round-trip, got %v", latest.Outcomes[0].Elapsed)
	}

	if runs[1].Status != "success" || len(runs[1].Consumers) != 2 {
		t.Fatalf("unexpected first run %+v", runs[1])
	}

	limited, err := store.Recent(ctx, 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("expected one run with limit 1, got %d, %v", len(limited), err)
	}
}

func TestRecordInterruptedRun(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	report := newReport("2024-1-2", time.Now(), backup.Failed("", &backup.Error{Kind: backup.KindInterrupted, Message: "Backup interrupted"}))
	report.Interrupted = true
	report.Destinations = 2

	if _, err := store.Record(context.Background(), Entry{Report: report}); err != nil {
		t.Fatalf("failed to record: %v", err)
	}
	runs, err := store.Recent(context.Background(), 5)
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != "interrupted" || !runs[0].Interrupted {
		t.Fatalf("unexpected runs %+v", runs)
	}
	if runs[0].Outcomes[0].Kind != "InterruptedError" {
		t.Fatalf("unexpected outcome kind %q", runs[0].Outcomes[0].Kind)
	}
}

func TestRecordRequiresReport(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	if _, err := store.Record(context.Background(), Entry{}); err == nil {
		t.Fatalf("expected error without a report")
	}
}

func TestPruneKeepsNewestRuns(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC)
	for day := 0; day < 5; day++ {
		started := base.AddDate(0, 0, day)
		report := newReport(backup.NewRunID(started), started,
			backup.Succeeded("/backup", "done", time.Minute),
		)
		if _, err := store.Record(ctx, Entry{Report: report, VolumeRoot: "/v"}); err != nil {
			t.Fatalf("failed to record run: %v", err)
		}
	}

	if deleted, err := store.Prune(ctx, 0); err != nil || deleted != 0 {
		t.Fatalf("keep 0 must be a no-op, got %d, %v", deleted, err)
	}

	deleted, err := store.Prune(ctx, 2)
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("expected 3 pruned runs, got %d", deleted)
	}

	runs, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "2024-1-5" || runs[1].RunID != "2024-1-4" {
		t.Fatalf("unexpected remaining runs %+v", runs)
	}

	var orphans int
	if err := store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outcomes WHERE run_uuid NOT IN (SELECT id FROM runs)`).Scan(&orphans); err != nil {
		t.Fatalf("failed to count outcomes: %v", err)
	}
	if orphans != 0 {
		t.Fatalf("expected outcomes to be pruned with their runs, found %d", orphans)
	}
}
