package notify

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/yourusername/docker-volume-backup/internal/backup"
)

// Message is one notification: a status and a human readable text
type Message struct {
	Success bool
	Text    string
}

// Notifier delivers messages to one channel. Retry policy belongs to the
// implementation.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, msg Message) error
}

// FromOutcome builds the per-destination message
func FromOutcome(outcome backup.Outcome) Message {
	return Message{Success: outcome.IsSuccess(), Text: outcome.String()}
}

// FromReport builds the final run-level message
func FromReport(report *backup.RunReport) Message {
	succeeded := 0
	for _, outcome := range report.Outcomes {
		if outcome.IsSuccess() {
			succeeded++
		}
	}

	var text string
	switch {
	case report.Interrupted:
		text = fmt.Sprintf("Backup %s interrupted (%d/%d destinations succeeded)", report.RunID, succeeded, report.Destinations)
	case report.Succeeded():
		text = fmt.Sprintf("Backup %s completed successfully in %s", report.RunID, backup.FormatElapsed(report.FinishedAt.Sub(report.StartedAt)))
	default:
		text = fmt.Sprintf("Backup %s failed (%d/%d destinations succeeded)", report.RunID, succeeded, report.Destinations)
	}
	return Message{Success: report.Succeeded(), Text: text}
}

// Dispatcher fans messages out to every configured notifier
type Dispatcher struct {
	notifiers []Notifier
}

// NewDispatcher creates a dispatcher; nil notifiers are skipped.
func NewDispatcher(notifiers ...Notifier) *Dispatcher {
	d := &Dispatcher{}
	for _, n := range notifiers {
		if n != nil {
			d.notifiers = append(d.notifiers, n)
		}
	}
	return d
}

// Enabled reports whether any notifier is configured
func (d *Dispatcher) Enabled() bool {
	return len(d.notifiers) > 0
}

// Send delivers msg to every notifier. Failures are logged and returned
// joined; callers treat them as non-fatal.
func (d *Dispatcher) Send(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range d.notifiers {
		if err := n.Notify(ctx, msg); err != nil {
			log.Printf("[Notify] %s delivery failed: %v", n.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// SendReport sends one message per outcome followed by the run-level status.
func (d *Dispatcher) SendReport(ctx context.Context, report *backup.RunReport) error {
	if !d.Enabled() {
		return nil
	}

	var errs []error
	for _, outcome := range report.Outcomes {
		if err := d.Send(ctx, FromOutcome(outcome)); err != nil {
			errs = append(errs, err)
		}
	}
	if err := d.Send(ctx, FromReport(report)); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
