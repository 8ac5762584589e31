package consumers

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// CommandExecutor abstracts running the docker CLI
type CommandExecutor interface {
	Execute(ctx context.Context, name string, args ...string) (string, error)
}

// DefaultCommandExecutor runs commands on the local host
type DefaultCommandExecutor struct{}

func (DefaultCommandExecutor) Execute(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s failed: %w (stderr: %s)", name, err, strings.TrimSpace(stderr.String()))
	}

	return strings.TrimSpace(stdout.String()), nil
}

// MockCommandExecutor for testing
type MockCommandExecutor struct {
	MockOutput string
	MockError  error
	Handlers   map[string]func(command string) (string, error)

	mu    sync.Mutex
	calls []string
}

func (m *MockCommandExecutor) Execute(ctx context.Context, name string, args ...string) (string, error) {
	command := strings.TrimSpace(name + " " + strings.Join(args, " "))

	m.mu.Lock()
	m.calls = append(m.calls, command)
	m.mu.Unlock()

	if m.Handlers != nil {
		for prefix, handler := range m.Handlers {
			if strings.HasPrefix(command, prefix) {
				return handler(command)
			}
		}
	}
	return m.MockOutput, m.MockError
}

// Calls returns every command line executed so far
func (m *MockCommandExecutor) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}
