package backup

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

const maxCapturedStderr = 64 * 1024

var errAwaitUnsupported = errors.New("no non-reaping wait on this platform")

// TransferHandle owns one spawned transfer: a single process, or a
// downstream process fed by upstream processes through a pipe. The monitor
// waits on it and reads its stderr; the orchestrator may kill it. A process
// is marked exited under mu before it is reaped, so a kill never targets a
// pid the kernel has already released.
type TransferHandle struct {
	label     string
	startedAt time.Time
	kill      func(*exec.Cmd) error

	mu             sync.Mutex
	procs          []*transferProcess
	stderr         *tailBuffer
	upstreamStderr *tailBuffer
	killed         bool
	waitErr        error
}

// transferProcess is one process of a transfer. exited is guarded by the
// handle's mu.
type transferProcess struct {
	cmd    *exec.Cmd
	exited bool
}

func newTransferHandle(label string, primary *exec.Cmd, stderr *tailBuffer, upstream []*exec.Cmd, upstreamStderr *tailBuffer) *TransferHandle {
	procs := []*transferProcess{{cmd: primary}}
	for _, cmd := range upstream {
		procs = append(procs, &transferProcess{cmd: cmd})
	}
	return &TransferHandle{
		label:          label,
		startedAt:      time.Now(),
		kill:           killProcess,
		procs:          procs,
		stderr:         stderr,
		upstreamStderr: upstreamStderr,
	}
}

// Label is the human readable transfer name, e.g. "Backup to destination /backup".
func (h *TransferHandle) Label() string {
	return h.label
}

// Elapsed is the wall-clock time since spawn.
func (h *TransferHandle) Elapsed() time.Duration {
	return time.Since(h.startedAt)
}

// Pid returns the downstream process id.
func (h *TransferHandle) Pid() int {
	primary := h.procs[0].cmd
	if primary == nil || primary.Process == nil {
		return 0
	}
	return primary.Process.Pid
}

// Wait blocks until the downstream process and every upstream process exit.
// The downstream exit status decides the result; an upstream failure is only
// reported when the downstream process succeeded.
func (h *TransferHandle) Wait() error {
	var err error
	for i, p := range h.procs {
		procErr := h.reap(p)
		switch {
		case i == 0:
			err = procErr
		case procErr != nil && err == nil:
			err = &upstreamError{name: filepath.Base(p.cmd.Path), err: procErr}
		}
	}

	h.mu.Lock()
	h.waitErr = err
	h.mu.Unlock()
	return err
}

// reap waits for p to exit without releasing its pid, marks it exited and
// then collects it. Between the two steps p is a zombie, so a concurrent
// kill still addresses this process and no other.
func (h *TransferHandle) reap(p *transferProcess) error {
	err := awaitExit(p.cmd)
	if errors.Is(err, errAwaitUnsupported) {
		waitErr := p.cmd.Wait()
		h.mu.Lock()
		p.exited = true
		h.mu.Unlock()
		return waitErr
	}
	if err != nil {
		log.Printf("[Transfer] Waiting on %s (pid %d) failed, reaping under lock: %v", filepath.Base(p.cmd.Path), p.cmd.Process.Pid, err)
		h.mu.Lock()
		defer h.mu.Unlock()
		p.exited = true
		return p.cmd.Wait()
	}

	h.mu.Lock()
	p.exited = true
	h.mu.Unlock()
	return p.cmd.Wait()
}

// Kill terminates every process of the transfer that is still running.
// It returns false without error when the transfer already exited.
func (h *TransferHandle) Kill() (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var (
		errs    []error
		running bool
	)
	for _, p := range h.procs {
		if p.exited || p.cmd == nil || p.cmd.Process == nil {
			continue
		}
		running = true
		if err := h.kill(p.cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
			errs = append(errs, fmt.Errorf("kill %s (pid %d): %w", filepath.Base(p.cmd.Path), p.cmd.Process.Pid, err))
		}
	}
	if !running {
		return false, nil
	}
	h.killed = true
	return true, errors.Join(errs...)
}

// Killed reports whether a kill was issued.
func (h *TransferHandle) Killed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.killed
}

// Exited reports whether every process of the transfer has exited.
func (h *TransferHandle) Exited() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range h.procs {
		if !p.exited {
			return false
		}
	}
	return true
}

// Stderr returns the captured diagnostic text. ok is false when nothing
// could be captured for this transfer.
func (h *TransferHandle) Stderr() (text string, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var upErr *upstreamError
	if errors.As(h.waitErr, &upErr) && h.upstreamStderr != nil {
		return h.upstreamStderr.String(), true
	}
	if h.stderr == nil {
		return "", false
	}
	return h.stderr.String(), true
}

type upstreamError struct {
	name string
	err  error
}

func (e *upstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.name, e.err)
}

func (e *upstreamError) Unwrap() error {
	return e.err
}

// tailBuffer is a goroutine-safe writer that keeps the last max bytes.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
