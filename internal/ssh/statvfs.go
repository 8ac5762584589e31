package ssh

import (
	"context"
	"fmt"

	"github.com/yourusername/docker-volume-backup/internal/backup"
)

// StatVFSProbe reads free space with the statvfs@openssh.com SFTP extension.
// It ignores the runner it is handed and uses the pool's connections.
type StatVFSProbe struct {
	pool *ConnectionPool
}

// NewStatVFSProbe creates a probe backed by pool
func NewStatVFSProbe(pool *ConnectionPool) *StatVFSProbe {
	return &StatVFSProbe{pool: pool}
}

func (p *StatVFSProbe) Name() string {
	return "sftp statvfs"
}

func (p *StatVFSProbe) Probe(ctx context.Context, _ backup.RemoteRunner, host, path string) (uint64, error) {
	conn, err := p.pool.GetConnection(host)
	if err != nil {
		return 0, err
	}

	client, err := conn.NewSFTP()
	if err != nil {
		return 0, fmt.Errorf("failed to start sftp session: %w", err)
	}
	defer client.Close()

	type result struct {
		available uint64
		err       error
	}
	done := make(chan result, 1)
	go func() {
		stat, err := client.StatVFS(path)
		if err != nil {
			done <- result{err: fmt.Errorf("statvfs %s: %w", path, err)}
			return
		}
		done <- result{available: stat.Frsize * stat.Bavail}
	}()

	select {
	case res := <-done:
		return res.available, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

var (
	_ backup.SpaceProbe   = (*StatVFSProbe)(nil)
	_ backup.RemoteRunner = (*ConnectionPool)(nil)
)
