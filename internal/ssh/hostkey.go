package ssh

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/yourusername/docker-volume-backup/internal/logging"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultKnownHostsPath is the file the ssh binary used for transfers reads,
// so hosts trusted here are trusted there as well.
func DefaultKnownHostsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ssh", "known_hosts")
}

// knownHosts verifies host keys against a known_hosts file and, with
// trust-on-first-use, records keys of hosts it has never seen.
type knownHosts struct {
	path            string
	trustOnFirstUse bool

	mu       sync.Mutex
	check    ssh.HostKeyCallback
	accepted map[string]ssh.PublicKey
}

// NewHostKeyCallback builds a host key callback backed by knownHostsPath
// (DefaultKnownHostsPath when empty). Unknown hosts are rejected unless
// trustOnFirstUse is set; a changed key is always rejected.
func NewHostKeyCallback(knownHostsPath string, trustOnFirstUse bool) (ssh.HostKeyCallback, error) {
	path := strings.TrimSpace(knownHostsPath)
	if path == "" {
		path = DefaultKnownHostsPath()
	}
	if path == "" {
		return nil, errors.New("no known_hosts path configured and no home directory")
	}

	if err := ensureKnownHostsFile(path); err != nil {
		return nil, err
	}

	check, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read known_hosts %s: %w", path, err)
	}

	kh := &knownHosts{
		path:            path,
		trustOnFirstUse: trustOnFirstUse,
		check:           check,
		accepted:        make(map[string]ssh.PublicKey),
	}
	return kh.verify, nil
}

func (kh *knownHosts) verify(hostname string, remote net.Addr, key ssh.PublicKey) error {
	kh.mu.Lock()
	defer kh.mu.Unlock()

	// Keys accepted earlier in this process are not in check's snapshot.
	if known, ok := kh.accepted[hostname]; ok {
		if bytes.Equal(known.Marshal(), key.Marshal()) {
			return nil
		}
		return kh.changed(hostname, key)
	}

	err := kh.check(hostname, remote, key)
	if err == nil {
		return nil
	}

	var keyErr *knownhosts.KeyError
	if !errors.As(err, &keyErr) {
		return err
	}
	if len(keyErr.Want) > 0 {
		return kh.changed(hostname, key)
	}

	if !kh.trustOnFirstUse {
		return fmt.Errorf("unknown SSH host key for %s (add it to %s)", hostname, kh.path)
	}

	if err := appendKnownHost(kh.path, hostname, remote, key); err != nil {
		return err
	}
	kh.accepted[hostname] = key

	log.Printf("[SSH] Trusted new host key for %s", hostname)
	logging.L().Info("ssh_host_key_accepted",
		"host", hostname,
		"fingerprint", ssh.FingerprintSHA256(key),
		"known_hosts", kh.path,
	)
	return nil
}

func (kh *knownHosts) changed(hostname string, key ssh.PublicKey) error {
	logging.L().Warn("ssh_host_key_changed",
		"host", hostname,
		"fingerprint", ssh.FingerprintSHA256(key),
	)
	return fmt.Errorf("SSH host key changed for %s", hostname)
}

func ensureKnownHostsFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create known_hosts directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create known_hosts file: %w", err)
	}
	return file.Close()
}

func appendKnownHost(path, hostname string, remote net.Addr, key ssh.PublicKey) error {
	line := knownhosts.Line(knownHostsAddresses(hostname, remote), key) + "\n"

	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open known_hosts file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(line); err != nil {
		return fmt.Errorf("failed to write known_hosts entry: %w", err)
	}
	return nil
}

// knownHostsAddresses lists the dialed name and, when different, the remote
// IP, both normalized the way knownhosts expects ([host]:port off port 22).
func knownHostsAddresses(hostname string, remote net.Addr) []string {
	var addresses []string
	if hostname != "" {
		addresses = append(addresses, knownhosts.Normalize(hostname))
	}
	if remote != nil {
		ip := knownhosts.Normalize(remote.String())
		if len(addresses) == 0 || ip != addresses[0] {
			addresses = append(addresses, ip)
		}
	}
	return addresses
}
