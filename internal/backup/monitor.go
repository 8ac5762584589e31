package backup

import (
	"fmt"
	"log"
	"strings"
	"time"
)

// ProgressSink receives non-terminal elapsed-time updates from monitors.
// Slots are stable per transfer for the duration of a run.
type ProgressSink interface {
	Progress(slot int, label string, elapsed time.Duration)
	Done(slots int)
}

// message is what monitors and the cancel forwarder put on the result channel
type message struct {
	outcome Outcome
	cancel  bool
}

// monitor supervises one transfer until it exits
type monitor struct {
	slot        int
	destination string
	handle      *TransferHandle
	results     chan<- message
	progress    ProgressSink
	interval    time.Duration
}

func (m *monitor) run() {
	exited := make(chan error, 1)
	go func() {
		exited <- m.handle.Wait()
	}()

	var tick <-chan time.Time
	if m.progress != nil && m.interval > 0 {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case err := <-exited:
			m.results <- message{outcome: m.classify(err)}
			return
		case <-tick:
			m.progress.Progress(m.slot, m.handle.Label(), m.handle.Elapsed())
		}
	}
}

func (m *monitor) classify(waitErr error) Outcome {
	label := m.handle.Label()
	elapsed := m.handle.Elapsed()

	if waitErr == nil {
		msg := fmt.Sprintf("%s completed successfully in %s", label, FormatElapsed(elapsed))
		log.Printf("[Monitor] %s", msg)
		return Succeeded(m.destination, msg, elapsed)
	}

	stderr, ok := m.handle.Stderr()
	stderr = strings.TrimSpace(stderr)
	if !ok || stderr == "" {
		log.Printf("[Monitor] %s exited with %v and no diagnostic output", label, waitErr)
		stderr = fmt.Sprintf("%s backup error", label)
	}

	outcome := Failed(m.destination, &Error{
		Kind:        KindRuntime,
		Destination: m.destination,
		Message:     stderr,
		Err:         waitErr,
	})
	outcome.Message = stderr
	outcome.Elapsed = elapsed
	return outcome
}
