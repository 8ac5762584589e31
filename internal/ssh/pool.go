package ssh

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
)

// ConnectionPool keeps one native SSH connection per user@host for the
// duration of a run. It satisfies the remote runner used by space probes.
type ConnectionPool struct {
	base        ClientConfig
	connections map[string]*Client
	mu          sync.Mutex
	dial        func(*ClientConfig) (*Client, error)
}

// NewConnectionPool creates a pool whose connections share base settings.
// Host and Username are taken from each user@host.
func NewConnectionPool(base ClientConfig) *ConnectionPool {
	return &ConnectionPool{
		base:        base,
		connections: make(map[string]*Client),
		dial:        NewClient,
	}
}

// GetConnection gets or creates a connection for user@host
func (p *ConnectionPool) GetConnection(target string) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, exists := p.connections[target]; exists {
		if conn.IsConnected() {
			return conn, nil
		}

		log.Printf("[Pool] Connection to %s is dead, removing", target)
		conn.Close()
		delete(p.connections, target)
	}

	user, host, err := splitTarget(target)
	if err != nil {
		return nil, err
	}

	config := p.base
	config.Username = user
	config.Host = host

	conn, err := p.dial(&config)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSH client for %s: %w", target, err)
	}

	p.connections[target] = conn
	log.Printf("[Pool] Created new connection to %s", target)
	return conn, nil
}

// Run executes command on user@host and returns its stdout
func (p *ConnectionPool) Run(ctx context.Context, target, command string) (string, error) {
	conn, err := p.GetConnection(target)
	if err != nil {
		return "", err
	}
	return conn.RunCommand(ctx, command)
}

// CloseAll closes all connections
func (p *ConnectionPool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for target, conn := range p.connections {
		conn.Close()
		log.Printf("[Pool] Closed connection to %s", target)
	}

	p.connections = make(map[string]*Client)
}

// GetConnectionCount returns the number of open connections
func (p *ConnectionPool) GetConnectionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.connections)
}

func splitTarget(target string) (string, string, error) {
	user, host, ok := strings.Cut(target, "@")
	if !ok || user == "" || host == "" {
		return "", "", fmt.Errorf("invalid SSH target %q (expected user@host)", target)
	}
	return user, host, nil
}
