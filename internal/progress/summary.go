package progress

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/yourusername/docker-volume-backup/internal/backup"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	warnColor = color.New(color.FgYellow, color.Bold)
)

// PrintSummary writes the run-level status and one line per outcome.
func PrintSummary(w io.Writer, report *backup.RunReport) {
	succeeded := 0
	for _, outcome := range report.Outcomes {
		if outcome.IsSuccess() {
			succeeded++
		}
	}

	switch {
	case report.Interrupted:
		warnColor.Fprintf(w, "Backup %s interrupted", report.RunID)
	case report.Succeeded():
		okColor.Fprintf(w, "Backup %s completed", report.RunID)
	default:
		failColor.Fprintf(w, "Backup %s failed", report.RunID)
	}
	fmt.Fprintf(w, ": %d/%d destinations succeeded in %s\n", succeeded, report.Destinations,
		backup.FormatElapsed(report.FinishedAt.Sub(report.StartedAt)))

	for _, outcome := range report.Outcomes {
		if outcome.IsSuccess() {
			fmt.Fprintf(w, "  %s %s\n", okColor.Sprint("ok"), outcome.Message)
			continue
		}
		fmt.Fprintf(w, "  %s %s\n", failColor.Sprint("error"), outcome.String())
		if outcome.Kind == backup.KindInsufficientSpace {
			fmt.Fprintf(w, "        required %s, available %s\n",
				humanize.IBytes(outcome.Required), humanize.IBytes(outcome.Available))
		}
	}
}
