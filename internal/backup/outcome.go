package backup

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the terminal state of one destination
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Outcome is the terminal result for one destination
type Outcome struct {
	Destination string
	Status      Status
	Kind        Kind
	Message     string
	Required    uint64
	Available   uint64
	Elapsed     time.Duration
	Err         error
}

// Succeeded builds a success outcome.
func Succeeded(destination, message string, elapsed time.Duration) Outcome {
	return Outcome{
		Destination: destination,
		Status:      StatusSuccess,
		Message:     message,
		Elapsed:     elapsed,
	}
}

// Failed builds an error outcome from err, keeping its kind and space figures.
func Failed(destination string, err error) Outcome {
	outcome := Outcome{
		Destination: destination,
		Status:      StatusError,
		Kind:        KindOf(err),
		Err:         err,
	}
	if err != nil {
		outcome.Message = err.Error()
	}

	var be *Error
	if errors.As(err, &be) {
		outcome.Required = be.Required
		outcome.Available = be.Available
		if outcome.Destination == "" {
			outcome.Destination = be.Destination
		}
	}
	return outcome
}

// IsSuccess reports whether the destination completed.
func (o Outcome) IsSuccess() bool {
	return o.Status == StatusSuccess
}

func (o Outcome) String() string {
	if o.IsSuccess() {
		return o.Message
	}
	if o.Destination == "" {
		return fmt.Sprintf("%s: %s", o.Kind, o.Message)
	}
	return fmt.Sprintf("%s (%s): %s", o.Destination, o.Kind, o.Message)
}

// RunReport collects the outcomes of one run in completion order
type RunReport struct {
	RunID        string
	Destinations int
	Outcomes     []Outcome
	Interrupted  bool
	StartedAt    time.Time
	FinishedAt   time.Time
}

func (r *RunReport) add(outcome Outcome) {
	r.Outcomes = append(r.Outcomes, outcome)
}

// Succeeded is true when every destination completed and nothing was interrupted.
func (r *RunReport) Succeeded() bool {
	if r.Interrupted || len(r.Outcomes) != r.Destinations {
		return false
	}
	for _, outcome := range r.Outcomes {
		if !outcome.IsSuccess() {
			return false
		}
	}
	return true
}

// Failures returns the error outcomes.
func (r *RunReport) Failures() []Outcome {
	var failures []Outcome
	for _, outcome := range r.Outcomes {
		if !outcome.IsSuccess() {
			failures = append(failures, outcome)
		}
	}
	return failures
}

// Summary renders the run-level status line followed by one line per outcome.
func (r *RunReport) Summary() string {
	succeeded := 0
	for _, outcome := range r.Outcomes {
		if outcome.IsSuccess() {
			succeeded++
		}
	}

	var b strings.Builder
	switch {
	case r.Interrupted:
		fmt.Fprintf(&b, "Backup %s interrupted: %d/%d destinations succeeded", r.RunID, succeeded, r.Destinations)
	case r.Succeeded():
		fmt.Fprintf(&b, "Backup %s completed: %d/%d destinations succeeded", r.RunID, succeeded, r.Destinations)
	default:
		fmt.Fprintf(&b, "Backup %s failed: %d/%d destinations succeeded", r.RunID, succeeded, r.Destinations)
	}
	for _, outcome := range r.Outcomes {
		b.WriteString("\n- ")
		b.WriteString(outcome.String())
	}
	return b.String()
}

// FormatElapsed renders d as HH:MM:SS.
func FormatElapsed(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs%3600/60, secs%60)
}
