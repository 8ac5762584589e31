package backup

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Run is one backup invocation. It is built once and not modified afterwards.
type Run struct {
	ID                string
	VolumeRoot        string
	ExcludedVolumes   []string
	ExcludedConsumers []string
	Destinations      []Destination
}

// NewRunID derives the run directory name from the local date, e.g. 2024-3-9.
func NewRunID(now time.Time) string {
	return fmt.Sprintf("%d-%d-%d", now.Year(), int(now.Month()), now.Day())
}

type state int

const (
	stateIdle state = iota
	statePreparing
	stateRunning
	stateDraining
	stateCompleted
)

func (s state) String() string {
	switch s {
	case statePreparing:
		return "preparing"
	case stateRunning:
		return "running"
	case stateDraining:
		return "draining"
	case stateCompleted:
		return "completed"
	default:
		return "idle"
	}
}

// Orchestrator runs one transfer per destination in parallel and collects
// exactly one outcome per destination, or a partial report on cancellation.
type Orchestrator struct {
	estimate         EstimateFunc
	progress         ProgressSink
	progressInterval time.Duration
	now              func() time.Time

	// test hook, called on the run goroutine after each collected outcome
	onOutcome func(Outcome)
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithEstimator replaces EstimateSize.
func WithEstimator(fn EstimateFunc) Option {
	return func(o *Orchestrator) {
		o.estimate = fn
	}
}

// WithProgress reports elapsed time of every running transfer to sink each interval.
func WithProgress(sink ProgressSink, interval time.Duration) Option {
	return func(o *Orchestrator) {
		o.progress = sink
		o.progressInterval = interval
	}
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		estimate:         EstimateSize,
		progressInterval: time.Second,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type spawned struct {
	destination string
	handle      *TransferHandle
}

// Run executes the backup. interrupts is closed by the
// interrupt listener; a cancelled ctx is treated the same way. The report
// holds every outcome collected before cancellation plus one
// InterruptedError entry when the run was cancelled.
func (o *Orchestrator) Run(ctx context.Context, run *Run, interrupts <-chan struct{}) *RunReport {
	report := &RunReport{
		RunID:        run.ID,
		Destinations: len(run.Destinations),
		StartedAt:    o.now(),
	}
	defer func() {
		report.FinishedAt = o.now()
	}()

	current := stateIdle
	transition := func(next state) {
		slog.Debug("backup_state", "run_id", run.ID, "from", current.String(), "to", next.String())
		current = next
	}

	transition(statePreparing)
	required, err := o.estimate(ctx, run.VolumeRoot, run.ExcludedVolumes)
	if cancelled(ctx, interrupts) {
		log.Printf("[Orchestrator] Cancellation requested before any transfer started")
		return interruptedReport(report)
	}
	if err != nil {
		log.Printf("[Orchestrator] Size estimation failed: %v", err)
		report.add(Failed("", err))
		return report
	}
	log.Printf("[Orchestrator] Run %s: %s to back up to %d destination(s)", run.ID, humanize.IBytes(required), len(run.Destinations))

	var transfers []spawned
	for _, dest := range run.Destinations {
		// Later destinations are not prepared once cancelled; transfers
		// already spawned are drained below.
		if cancelled(ctx, interrupts) {
			break
		}
		handle, err := o.launch(ctx, dest, run, required)
		if err != nil {
			log.Printf("[Orchestrator] %s: %v", dest.DisplayName(), err)
			report.add(Failed(dest.DisplayName(), err))
			continue
		}
		transfers = append(transfers, spawned{destination: dest.DisplayName(), handle: handle})
	}

	if len(transfers) == 0 {
		if cancelled(ctx, interrupts) {
			return interruptedReport(report)
		}
		transition(stateCompleted)
		return report
	}

	// Sized so that no sender ever blocks, even after the loop below returns.
	results := make(chan message, len(transfers)+1)

	var monitors sync.WaitGroup
	for slot, t := range transfers {
		m := &monitor{
			slot:        slot,
			destination: t.destination,
			handle:      t.handle,
			results:     results,
			progress:    o.progress,
			interval:    o.progressInterval,
		}
		monitors.Add(1)
		go func() {
			defer monitors.Done()
			m.run()
		}()
	}

	stop := make(chan struct{})
	forwarderDone := make(chan struct{})
	go func() {
		defer close(forwarderDone)
		forwardCancel(ctx, interrupts, results, stop)
	}()
	defer func() {
		close(stop)
		<-forwarderDone
	}()

	transition(stateRunning)
	for msg := range results {
		if msg.cancel {
			transition(stateDraining)
			log.Printf("[Orchestrator] Cancellation requested, stopping %d transfer(s)", len(transfers))
			o.drain(transfers, report)
			monitors.Wait()
			o.finishProgress(len(transfers))
			return interruptedReport(report)
		}

		report.add(msg.outcome)
		if o.onOutcome != nil {
			o.onOutcome(msg.outcome)
		}
		if len(report.Outcomes) == report.Destinations {
			transition(stateCompleted)
			monitors.Wait()
			o.finishProgress(len(transfers))
			return report
		}
	}
	return report
}

// launch runs the per-destination preconditions and spawns the transfer.
func (o *Orchestrator) launch(ctx context.Context, dest Destination, run *Run, required uint64) (*TransferHandle, error) {
	if err := dest.CheckAvailableSpace(ctx, required); err != nil {
		return nil, err
	}
	if err := dest.Prepare(run.ID); err != nil {
		return nil, err
	}

	handle, err := dest.SpawnTransfer(run.VolumeRoot, run.ExcludedVolumes, run.ID)
	if err != nil {
		return nil, err
	}
	slog.Info("transfer_spawned", "run_id", run.ID, "destination", dest.DisplayName(), "pid", handle.Pid())
	return handle, nil
}

// drain kills every transfer that has not exited. A failed kill becomes an
// extra report entry and does not stop the drain.
func (o *Orchestrator) drain(transfers []spawned, report *RunReport) {
	for _, t := range transfers {
		killed, err := t.handle.Kill()
		if err != nil {
			log.Printf("[Orchestrator] Failed to kill transfer to %s: %v", t.destination, err)
			report.add(Failed(t.destination, wrapError(KindRuntime, t.destination, err, "failed to stop %s", t.handle.Label())))
			continue
		}
		if killed {
			slog.Info("transfer_killed", "destination", t.destination, "pid", t.handle.Pid())
		}
	}
}

func (o *Orchestrator) finishProgress(slots int) {
	if o.progress != nil {
		o.progress.Done(slots)
	}
}

// cancelled reports, without blocking, whether an interrupt arrived or ctx
// is done.
func cancelled(ctx context.Context, interrupts <-chan struct{}) bool {
	select {
	case <-interrupts:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func interruptedReport(report *RunReport) *RunReport {
	report.Interrupted = true
	report.add(Failed("", newError(KindInterrupted, "", "Backup interrupted")))
	return report
}

// forwardCancel turns the first interrupt (or ctx cancellation) into a single
// cancel message on results.
func forwardCancel(ctx context.Context, interrupts <-chan struct{}, results chan<- message, stop <-chan struct{}) {
	select {
	case <-interrupts:
	case <-ctx.Done():
	case <-stop:
		return
	}

	select {
	case results <- message{cancel: true}:
	case <-stop:
	}
}
