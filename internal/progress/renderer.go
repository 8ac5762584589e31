package progress

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/yourusername/docker-volume-backup/internal/backup"
)

// DefaultLogEvery is how often a non-interactive renderer logs a slot.
const DefaultLogEvery = 30 * time.Second

// Renderer displays one elapsed-time line per running transfer. On a
// terminal the lines are redrawn in place; otherwise it falls back to
// periodic log lines.
type Renderer struct {
	mu          sync.Mutex
	out         io.Writer
	interactive bool
	logEvery    time.Duration
	logf        func(format string, args ...any)

	lines      []string
	drawn      int
	lastLogged map[int]time.Duration
}

// New returns a renderer for f, interactive when f is a terminal.
func New(f *os.File) *Renderer {
	return NewRenderer(f, IsTerminal(f))
}

// NewRenderer creates a renderer writing to out
func NewRenderer(out io.Writer, interactive bool) *Renderer {
	return &Renderer{
		out:         out,
		interactive: interactive,
		logEvery:    DefaultLogEvery,
		logf:        log.Printf,
		lastLogged:  make(map[int]time.Duration),
	}
}

// IsTerminal reports whether f is attached to a terminal
func IsTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Progress implements backup.ProgressSink.
func (r *Renderer) Progress(slot int, label string, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.interactive {
		last, seen := r.lastLogged[slot]
		if seen && elapsed-last < r.logEvery {
			return
		}
		r.lastLogged[slot] = elapsed
		r.logf("[Progress] %s running: %s", label, backup.FormatElapsed(elapsed))
		return
	}

	for len(r.lines) <= slot {
		r.lines = append(r.lines, "")
	}
	r.lines[slot] = fmt.Sprintf("%s running: %s", color.CyanString(label), backup.FormatElapsed(elapsed))
	r.redraw()
}

// Done implements backup.ProgressSink. It leaves the last frame on screen
// and resets state for the next run.
func (r *Renderer) Done(slots int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lines = nil
	r.drawn = 0
	r.lastLogged = make(map[int]time.Duration)
}

func (r *Renderer) redraw() {
	if r.drawn > 0 {
		fmt.Fprintf(r.out, "\x1b[%dA", r.drawn)
	}
	for _, line := range r.lines {
		fmt.Fprintf(r.out, "\r\x1b[2K%s\n", line)
	}
	r.drawn = len(r.lines)
}

var _ backup.ProgressSink = (*Renderer)(nil)
