package schedule

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Job is one scheduled backup run
type Job func(ctx context.Context)

// Runner triggers a job on a cron schedule. Runs never overlap: ticks that
// pass while a run is in progress are skipped.
type Runner struct {
	expr     string
	schedule cron.Schedule
	job      Job
	now      func() time.Time
}

// NewRunner parses expr (5 or 6 fields, or a descriptor such as @daily)
func NewRunner(expr string, job Job) (*Runner, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return &Runner{
		expr:     expr,
		schedule: schedule,
		job:      job,
		now:      time.Now,
	}, nil
}

// Validate checks a cron expression without building a runner.
func Validate(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return nil
}

// NextRun returns the first activation of expr after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(from), nil
}

// Run blocks, executing the job at every activation until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	log.Printf("[Schedule] Running backups on schedule %q", r.expr)

	for {
		now := r.now()
		next := r.schedule.Next(now)
		if next.IsZero() {
			return fmt.Errorf("schedule %q has no future activation", r.expr)
		}
		log.Printf("[Schedule] Next backup at %s", next.Format(time.RFC3339))

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Printf("[Schedule] Stopping scheduler")
			return nil
		case <-timer.C:
		}

		started := r.now()
		r.job(ctx)
		if missed := r.missed(next, r.now()); missed > 0 {
			log.Printf("[Schedule] Run started at %s overran %d activation(s), skipping them", started.Format(time.RFC3339), missed)
		}
	}
}

// missed counts activations strictly between from and to.
func (r *Runner) missed(from, to time.Time) int {
	count := 0
	for next := r.schedule.Next(from); !next.IsZero() && next.Before(to); next = r.schedule.Next(next) {
		count++
		if count > 1000 {
			break
		}
	}
	return count
}
