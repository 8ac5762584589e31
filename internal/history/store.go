package history

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yourusername/docker-volume-backup/internal/backup"
	"github.com/yourusername/docker-volume-backup/internal/database"
)

// RunRecord is one stored run with its outcomes
type RunRecord struct {
	ID            string
	RunID         string
	VolumeRoot    string
	Destinations  int
	Succeeded     int
	Interrupted   bool
	Status        string
	Consumers     []string
	ConsumerError string
	StartedAt     time.Time
	FinishedAt    time.Time
	Outcomes      []OutcomeRecord
}

// OutcomeRecord is one stored destination outcome
type OutcomeRecord struct {
	Destination string
	Status      string
	Kind        string
	Message     string
	Elapsed     time.Duration
	Required    uint64
	Available   uint64
}

// Entry is what the CLI hands to Record after a run
type Entry struct {
	Report        *backup.RunReport
	VolumeRoot    string
	Consumers     []string
	ConsumerError error
}

// Store persists run reports in SQLite
type Store struct {
	db *database.DB
}

// Open opens (and migrates) the history database at path.
func Open(path string) (*Store, error) {
	db, err := database.Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a run and its outcomes in one transaction and returns the
// generated record id.
func (s *Store) Record(ctx context.Context, entry Entry) (string, error) {
	report := entry.Report
	if report == nil {
		return "", fmt.Errorf("report is required")
	}

	id := uuid.New().String()
	succeeded := 0
	for _, outcome := range report.Outcomes {
		if outcome.IsSuccess() {
			succeeded++
		}
	}

	consumerError := ""
	if entry.ConsumerError != nil {
		consumerError = entry.ConsumerError.Error()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, run_id, volume_root, destinations, succeeded, interrupted, status, started_at, finished_at, consumers, consumer_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, report.RunID, entry.VolumeRoot, report.Destinations, succeeded, report.Interrupted, runStatus(report),
		report.StartedAt.UTC(), report.FinishedAt.UTC(), strings.Join(entry.Consumers, ","), consumerError)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	for i, outcome := range report.Outcomes {
		kind := ""
		if !outcome.IsSuccess() {
			kind = outcome.Kind.String()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO outcomes (run_uuid, position, destination, status, kind, message, elapsed_ms, required_bytes, available_bytes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, i, outcome.Destination, string(outcome.Status), kind, outcome.Message,
			outcome.Elapsed.Milliseconds(), int64(outcome.Required), int64(outcome.Available))
		if err != nil {
			return "", fmt.Errorf("failed to insert outcome: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit run: %w", err)
	}
	return id, nil
}

// Recent returns the last limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, volume_root, destinations, succeeded, interrupted, status, started_at, finished_at, consumers, consumer_error
		FROM runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var record RunRecord
		var consumers string
		if err := rows.Scan(&record.ID, &record.RunID, &record.VolumeRoot, &record.Destinations, &record.Succeeded,
			&record.Interrupted, &record.Status, &record.StartedAt, &record.FinishedAt, &consumers, &record.ConsumerError); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if consumers != "" {
			record.Consumers = strings.Split(consumers, ",")
		}
		runs = append(runs, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range runs {
		outcomes, err := s.outcomes(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Outcomes = outcomes
	}
	return runs, nil
}

func (s *Store) outcomes(ctx context.Context, runUUID string) ([]OutcomeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT destination, status, kind, message, elapsed_ms, required_bytes, available_bytes
		FROM outcomes
		WHERE run_uuid = ?
		ORDER BY position
	`, runUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []OutcomeRecord
	for rows.Next() {
		var record OutcomeRecord
		var elapsedMs, required, available sql.NullInt64
		if err := rows.Scan(&record.Destination, &record.Status, &record.Kind, &record.Message, &elapsedMs, &required, &available); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		record.Elapsed = time.Duration(elapsedMs.Int64) * time.Millisecond
		record.Required = uint64(required.Int64)
		record.Available = uint64(available.Int64)
		outcomes = append(outcomes, record)
	}
	return outcomes, rows.Err()
}

func runStatus(report *backup.RunReport) string {
	switch {
	case report.Interrupted:
		return "interrupted"
	case report.Succeeded():
		return "success"
	default:
		return "failed"
	}
}

// Prune keeps the newest keep runs and deletes the rest with their
// outcomes. keep <= 0 keeps everything.
func (s *Store) Prune(ctx context.Context, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	const stale = `
		SELECT id FROM runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT -1 OFFSET ?
	`
	if _, err := tx.ExecContext(ctx, `DELETE FROM outcomes WHERE run_uuid IN (`+stale+`)`, keep); err != nil {
		return 0, fmt.Errorf("failed to prune outcomes: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id IN (`+stale+`)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	if deleted > 0 {
		log.Printf("[History] Pruned %d run(s), keeping %d", deleted, keep)
	}
	return int(deleted), nil
}
