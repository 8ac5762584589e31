package ssh

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// Client wraps an SSH connection
type Client struct {
	config    *ClientConfig
	client    *ssh.Client
	agentConn net.Conn
}

// ClientConfig holds SSH connection configuration
type ClientConfig struct {
	Host            string
	Port            int
	Username        string
	KeyPath         string
	Timeout         time.Duration
	KnownHostsPath  string
	TrustOnFirstUse bool
}

// NewClient creates a new SSH client
func NewClient(config *ClientConfig) (*Client, error) {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Port == 0 {
		config.Port = 22
	}

	client := &Client{
		config: config,
	}

	if err := client.Connect(); err != nil {
		return nil, err
	}

	return client, nil
}

// Connect establishes the SSH connection. Authentication uses the configured
// key, then the ssh agent, then the default identities in ~/.ssh.
func (c *Client) Connect() error {
	authMethods, err := c.authMethods()
	if err != nil {
		return err
	}

	hostKeyCallback, err := NewHostKeyCallback(c.config.KnownHostsPath, c.config.TrustOnFirstUse)
	if err != nil {
		return fmt.Errorf("failed to configure host key verification: %w", err)
	}

	sshConfig := &ssh.ClientConfig{
		User:            c.config.Username,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.config.Timeout,
	}

	address := net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))
	client, err := ssh.Dial("tcp", address, sshConfig)
	if err != nil {
		c.closeAgent()
		return fmt.Errorf("failed to dial SSH: %w", err)
	}

	c.client = client
	return nil
}

func (c *Client) authMethods() ([]ssh.AuthMethod, error) {
	if c.config.KeyPath != "" {
		signer, err := LoadSigner(c.config.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load private key: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}

	var methods []ssh.AuthMethod
	if socket := os.Getenv("SSH_AUTH_SOCK"); socket != "" {
		conn, err := net.Dial("unix", socket)
		if err != nil {
			log.Printf("[SSH] Agent unavailable at %s: %v", socket, err)
		} else {
			c.agentConn = conn
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	var signers []ssh.Signer
	for _, path := range defaultIdentities() {
		signer, err := LoadSigner(path)
		if err != nil {
			continue
		}
		signers = append(signers, signer)
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no SSH identity available (set ssh.identity_file or start an ssh agent)")
	}
	return methods, nil
}

func defaultIdentities() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	var paths []string
	for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
		path := filepath.Join(home, ".ssh", name)
		if _, err := os.Stat(path); err == nil {
			paths = append(paths, path)
		}
	}
	return paths
}

// Close closes the SSH connection
func (c *Client) Close() error {
	c.closeAgent()
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *Client) closeAgent() {
	if c.agentConn != nil {
		c.agentConn.Close()
		c.agentConn = nil
	}
}

// IsConnected checks if the connection is still active
func (c *Client) IsConnected() bool {
	if c.client == nil {
		return false
	}

	_, _, err := c.client.SendRequest("keepalive@openssh.com", true, nil)
	return err == nil
}

// RunCommand executes a command and returns its stdout. The session is
// closed when ctx is cancelled.
func (c *Client) RunCommand(ctx context.Context, command string) (string, error) {
	if c.client == nil {
		return "", fmt.Errorf("not connected")
	}

	session, err := c.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case err := <-done:
		if err != nil {
			return stdout.String(), fmt.Errorf("command failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
		}
		return stdout.String(), nil
	case <-ctx.Done():
		session.Close()
		<-done
		return "", ctx.Err()
	}
}

// NewSFTP creates a new SFTP client
func (c *Client) NewSFTP() (*sftp.Client, error) {
	if c.client == nil {
		return nil, fmt.Errorf("not connected")
	}
	return sftp.NewClient(c.client)
}

// GetConfig returns the client configuration
func (c *Client) GetConfig() *ClientConfig {
	return c.config
}
