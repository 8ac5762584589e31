package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/yourusername/docker-volume-backup/internal/backup"
	"github.com/yourusername/docker-volume-backup/internal/config"
	"github.com/yourusername/docker-volume-backup/internal/consumers"
	"github.com/yourusername/docker-volume-backup/internal/history"
	"github.com/yourusername/docker-volume-backup/internal/notify"
	"github.com/yourusername/docker-volume-backup/internal/progress"
	"github.com/yourusername/docker-volume-backup/internal/schedule"
	"github.com/yourusername/docker-volume-backup/internal/ssh"
)

// App wires the collaborators around one orchestrator run: consumers are
// stopped first and restarted afterwards, then the report is printed,
// sent and recorded.
type App struct {
	cfg          *config.Config
	destinations []backup.Destination
	consumers    consumers.Manager
	orchestrator *backup.Orchestrator
	notifier     *notify.Dispatcher
	history      *history.Store
	pool         *ssh.ConnectionPool
	out          io.Writer
	now          func() time.Time
}

// Result is what one pipeline execution produced
type Result struct {
	Report      *backup.RunReport
	Stopped     []string
	ConsumerErr error
}

// Succeeded is true when every destination completed. A failure to restart
// consumers is reported but does not fail the run.
func (r *Result) Succeeded() bool {
	return r.Report != nil && r.Report.Succeeded()
}

// NewApp builds every collaborator from a validated configuration.
func NewApp(cfg *config.Config, out io.Writer) (*App, error) {
	app := &App{cfg: cfg, out: out, now: time.Now}

	if cfg.SSH.NativeProbe {
		app.pool = ssh.NewConnectionPool(ssh.ClientConfig{
			Port:            cfg.SSH.Port,
			KeyPath:         cfg.SSH.IdentityFile,
			Timeout:         cfg.ConnectTimeout(),
			KnownHostsPath:  cfg.SSH.KnownHostsPath,
			TrustOnFirstUse: cfg.SSH.TrustOnFirstUse,
		})
	}

	destinations, err := buildDestinations(cfg, app.pool)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.destinations = destinations

	manager, err := consumers.New(cfg.Consumers.Type, cfg.Consumers.Units)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.consumers = manager

	var opts []backup.Option
	if cfg.Progress.Enabled {
		opts = append(opts, backup.WithProgress(newRenderer(out), cfg.ProgressInterval()))
	}
	app.orchestrator = backup.NewOrchestrator(opts...)

	var notifiers []notify.Notifier
	if cfg.Notifications.Gotify.URL != "" {
		notifiers = append(notifiers, notify.NewGotify(cfg.Notifications.Gotify.URL, cfg.Notifications.Gotify.Attempts, cfg.GotifyBackoff()))
	}
	if cfg.Notifications.Discord.URL != "" {
		notifiers = append(notifiers, notify.NewDiscord(cfg.Notifications.Discord.URL))
	}
	app.notifier = notify.NewDispatcher(notifiers...)

	if cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.history = store
	}

	return app, nil
}

// buildDestinations turns the configured destination strings into
// destinations. With a connection pool, remote space probes run over the
// native client and unix hosts are asked for statvfs first.
func buildDestinations(cfg *config.Config, pool *ssh.ConnectionPool) ([]backup.Destination, error) {
	specs, err := config.ParseDestinations(cfg.Destinations)
	if err != nil {
		return nil, err
	}

	sshOptions := backup.SSHOptions{
		Binary:       cfg.SSH.Binary,
		Port:         cfg.SSH.Port,
		IdentityFile: cfg.SSH.IdentityFile,
		Options:      cfg.SSH.Options,
	}

	destinations := make([]backup.Destination, 0, len(specs))
	for _, spec := range specs {
		if !spec.Remote {
			destinations = append(destinations, backup.NewLocalDestination(spec.Path))
			continue
		}

		opts := []backup.RemoteOption{backup.WithSSHOptions(sshOptions)}
		if pool != nil {
			opts = append(opts, backup.WithRunner(pool))
			if spec.TargetOS == backup.TargetUnix {
				opts = append(opts, backup.WithProbes(ssh.NewStatVFSProbe(pool)))
			}
		}
		destinations = append(destinations, backup.NewRemoteDestination(spec.Host, spec.Path, spec.TargetOS, opts...))
	}
	return destinations, nil
}

// Execute runs the pipeline once. forceOnNext is called as soon as the
// transfers are over.
func (a *App) Execute(ctx context.Context, interrupts <-chan struct{}, forceOnNext func()) *Result {
	run := &backup.Run{
		ID:                backup.NewRunID(a.now()),
		VolumeRoot:        a.cfg.Volumes.Root,
		ExcludedVolumes:   a.cfg.Volumes.Exclude,
		ExcludedConsumers: a.cfg.Consumers.Exclude,
		Destinations:      a.destinations,
	}
	result := &Result{}

	stopped, err := consumers.StopRunning(ctx, a.consumers, run.ExcludedConsumers)
	if err != nil {
		log.Printf("[App] %v", err)
		started := a.now()
		result.Report = &backup.RunReport{
			RunID:        run.ID,
			Destinations: len(run.Destinations),
			Outcomes:     []backup.Outcome{backup.Failed("", err)},
			StartedAt:    started,
			FinishedAt:   started,
		}
		result.ConsumerErr = err
		if forceOnNext != nil {
			forceOnNext()
		}
		a.finish(ctx, run, result)
		return result
	}
	result.Stopped = stopped

	result.Report = a.orchestrator.Run(ctx, run, interrupts)
	if forceOnNext != nil {
		forceOnNext()
	}

	// Consumers come back even when the run was cancelled.
	if err := consumers.StartStopped(context.WithoutCancel(ctx), a.consumers, stopped); err != nil {
		log.Printf("[App] %v", err)
		result.ConsumerErr = err
	}

	a.finish(ctx, run, result)
	return result
}

func (a *App) finish(ctx context.Context, run *backup.Run, result *Result) {
	ctx = context.WithoutCancel(ctx)
	report := result.Report

	progress.PrintSummary(a.out, report)
	if result.ConsumerErr != nil {
		fmt.Fprintf(a.out, "  %v\n", result.ConsumerErr)
	}

	if err := a.notifier.SendReport(ctx, report); err != nil {
		log.Printf("[App] Some notifications were not delivered")
	}
	if result.ConsumerErr != nil {
		_ = a.notifier.Send(ctx, notify.Message{Text: result.ConsumerErr.Error()})
	}

	if a.history != nil {
		id, err := a.history.Record(ctx, history.Entry{
			Report:        report,
			VolumeRoot:    run.VolumeRoot,
			Consumers:     result.Stopped,
			ConsumerError: result.ConsumerErr,
		})
		if err != nil {
			log.Printf("[History] Failed to record run %s: %v", report.RunID, err)
		} else {
			log.Printf("[History] Recorded run %s as %s", report.RunID, id)
		}
		if _, err := a.history.Prune(ctx, a.cfg.History.Keep); err != nil {
			log.Printf("[History] Failed to prune: %v", err)
		}
	}
}

// Daemon executes the pipeline on a cron schedule until interrupts fires or
// ctx is done. A signal during a run cancels it and stops the daemon.
func (a *App) Daemon(ctx context.Context, expr string, interrupts <-chan struct{}) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-interrupts:
			cancel()
		case <-ctx.Done():
		}
	}()

	runner, err := schedule.NewRunner(expr, func(ctx context.Context) {
		result := a.Execute(ctx, interrupts, nil)
		if a.pool != nil {
			a.pool.CloseAll()
		}
		if !result.Succeeded() {
			log.Printf("[Schedule] Run %s did not succeed", result.Report.RunID)
		}
	})
	if err != nil {
		return err
	}
	return runner.Run(ctx)
}

// Close releases the history database, ssh connections and the consumer
// manager's bus connection.
func (a *App) Close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			log.Printf("[History] Failed to close database: %v", err)
		}
	}
	if a.pool != nil {
		a.pool.CloseAll()
	}
	if closer, ok := a.consumers.(io.Closer); ok {
		closer.Close()
	}
}

func newRenderer(out io.Writer) *progress.Renderer {
	if f, ok := out.(*os.File); ok {
		return progress.New(f)
	}
	return progress.NewRenderer(out, false)
}

func writeHistory(out io.Writer, runs []history.RunRecord) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded")
		return
	}
	for _, run := range runs {
		fmt.Fprintf(out, "%s  %-11s %d/%d  %s  (%s)\n",
			run.RunID, run.Status, run.Succeeded, run.Destinations,
			backup.FormatElapsed(run.FinishedAt.Sub(run.StartedAt)), humanize.Time(run.StartedAt))
		if len(run.Consumers) > 0 {
			fmt.Fprintf(out, "    consumers: %s\n", strings.Join(run.Consumers, ", "))
		}
		if run.ConsumerError != "" {
			fmt.Fprintf(out, "    consumer error: %s\n", run.ConsumerError)
		}
		for _, outcome := range run.Outcomes {
			if outcome.Status == string(backup.StatusSuccess) {
				fmt.Fprintf(out, "    ok    %s (%s)\n", outcome.Destination, backup.FormatElapsed(outcome.Elapsed))
				continue
			}
			fmt.Fprintf(out, "    error %s %s: %s\n", outcome.Destination, outcome.Kind, outcome.Message)
		}
	}
}
