// Package interrupt turns SIGINT/SIGTERM into a two-phase cancellation:
// the first signal closes Requested, any later one exits the process.
package interrupt

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
)

// Listener observes process signals on a dedicated goroutine
type Listener struct {
	signals   chan os.Signal
	requested chan struct{}
	once      sync.Once
	force     atomic.Bool
	exit      func(code int)
	out       io.Writer
	stop      chan struct{}
	done      chan struct{}
	notify    bool
}

// Listen subscribes to SIGINT and SIGTERM.
func Listen() *Listener {
	l := newListener(make(chan os.Signal, 2), os.Exit, os.Stderr)
	l.notify = true
	signal.Notify(l.signals, os.Interrupt, syscall.SIGTERM)
	go l.loop()
	return l
}

func newListener(signals chan os.Signal, exit func(int), out io.Writer) *Listener {
	return &Listener{
		signals:   signals,
		requested: make(chan struct{}),
		exit:      exit,
		out:       out,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Requested is closed when the first signal arrives.
func (l *Listener) Requested() <-chan struct{} {
	return l.requested
}

// Cancelled reports whether a cancellation was requested.
func (l *Listener) Cancelled() bool {
	select {
	case <-l.requested:
		return true
	default:
		return false
	}
}

// ForceOnNext makes the next signal exit immediately. It is used once the
// transfers are over and there is nothing left to drain.
func (l *Listener) ForceOnNext() {
	l.force.Store(true)
}

// Stop unsubscribes from signals and waits for the listener goroutine.
func (l *Listener) Stop() {
	if l.notify {
		signal.Stop(l.signals)
	}
	close(l.stop)
	<-l.done
}

func (l *Listener) loop() {
	defer close(l.done)
	for {
		select {
		case <-l.stop:
			return
		case sig := <-l.signals:
			l.handle(sig)
		}
	}
}

func (l *Listener) handle(sig os.Signal) {
	if l.force.Load() || l.Cancelled() {
		fmt.Fprintln(l.out, "Forcing exit...")
		l.exit(1)
		return
	}

	l.once.Do(func() {
		fmt.Fprintln(l.out)
		fmt.Fprintf(l.out, "Backup interrupted (%v), press Ctrl+C again to force exit\n", sig)
		close(l.requested)
	})
}
