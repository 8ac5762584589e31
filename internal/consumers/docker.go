package consumers

import (
	"context"
	"strings"
)

// DockerManager stops and starts containers through the docker CLI
type DockerManager struct {
	executor CommandExecutor
	binary   string
}

// NewDockerManager creates a docker manager
func NewDockerManager(executor CommandExecutor) *DockerManager {
	return &DockerManager{executor: executor, binary: "docker"}
}

func (d *DockerManager) Name() string {
	return "docker"
}

// Check runs docker --version
func (d *DockerManager) Check(ctx context.Context) error {
	_, err := d.executor.Execute(ctx, d.binary, "--version")
	return err
}

// Running lists container names from docker ps
func (d *DockerManager) Running(ctx context.Context) ([]string, error) {
	output, err := d.executor.Execute(ctx, d.binary, "ps", "--format", "{{.Names}}")
	if err != nil {
		return nil, err
	}

	var names []string
	for _, line := range strings.Split(output, "\n") {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// Stop stops all names with a single docker stop
func (d *DockerManager) Stop(ctx context.Context, names []string) error {
	return d.run(ctx, "stop", names)
}

// Start starts all names with a single docker start
func (d *DockerManager) Start(ctx context.Context, names []string) error {
	return d.run(ctx, "start", names)
}

func (d *DockerManager) run(ctx context.Context, action string, names []string) error {
	if len(names) == 0 {
		return nil
	}
	_, err := d.executor.Execute(ctx, d.binary, append([]string{action}, names...)...)
	return err
}
