package consumers

import (
	"context"
	"fmt"
	"log"
	"slices"
	"strings"

	"github.com/yourusername/docker-volume-backup/internal/backup"
)

// Manager controls the workloads that write to the volumes being backed up
type Manager interface {
	Name() string
	// Check verifies the manager can be used at all
	Check(ctx context.Context) error
	// Running lists the consumers that are currently up
	Running(ctx context.Context) ([]string, error)
	Stop(ctx context.Context, names []string) error
	Start(ctx context.Context, names []string) error
}

// New builds the manager for a consumers.type value.
func New(kind string, units []string) (Manager, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "docker", "":
		return NewDockerManager(DefaultCommandExecutor{}), nil
	case "systemd":
		return NewSystemdManager(units, nil), nil
	case "none":
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("unsupported consumer manager %q", kind)
	}
}

// StopRunning stops every running consumer not listed in excluded and
// returns the names it stopped. Any failure is a ConsumerError.
func StopRunning(ctx context.Context, m Manager, excluded []string) ([]string, error) {
	if err := m.Check(ctx); err != nil {
		return nil, backup.NewConsumerError(err, "%s is not available", m.Name())
	}

	running, err := m.Running(ctx)
	if err != nil {
		return nil, backup.NewConsumerError(err, "failed to list running %s consumers", m.Name())
	}

	var targets []string
	for _, name := range running {
		if !slices.Contains(excluded, name) {
			targets = append(targets, name)
		}
	}

	if len(targets) == 0 {
		log.Printf("[Consumers] No running %s consumers to stop", m.Name())
		return nil, nil
	}

	log.Printf("[Consumers] Stopping %d %s consumer(s): %s", len(targets), m.Name(), strings.Join(targets, ", "))
	if err := m.Stop(ctx, targets); err != nil {
		return nil, backup.NewConsumerError(err, "Error stopping %s consumers", m.Name())
	}
	return targets, nil
}

// StartStopped restarts what StopRunning stopped.
func StartStopped(ctx context.Context, m Manager, names []string) error {
	if len(names) == 0 {
		return nil
	}

	log.Printf("[Consumers] Starting %d %s consumer(s)", len(names), m.Name())
	if err := m.Start(ctx, names); err != nil {
		return backup.NewConsumerError(err, "Error starting %s consumers", m.Name())
	}
	return nil
}

// Noop manages nothing
type Noop struct{}

func (Noop) Name() string {
	return "none"
}

func (Noop) Check(ctx context.Context) error {
	return nil
}

func (Noop) Running(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (Noop) Stop(ctx context.Context, names []string) error {
	return nil
}

func (Noop) Start(ctx context.Context, names []string) error {
	return nil
}
