package backup

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"
)

// RemoteRunner runs a command on a remote host and returns its stdout
type RemoteRunner interface {
	Run(ctx context.Context, host, command string) (string, error)
}

// SpaceProbe is one strategy for reading free space on a remote path.
// Remote destinations try their probes in order and use the first that works.
type SpaceProbe interface {
	Name() string
	Probe(ctx context.Context, runner RemoteRunner, host, path string) (uint64, error)
}

// CommandProbe runs a shell command remotely and parses its output
type CommandProbe struct {
	ProbeName string
	Build     func(path string) string
	Parse     func(stdout string) (uint64, error)
}

func (p CommandProbe) Name() string {
	return p.ProbeName
}

func (p CommandProbe) Probe(ctx context.Context, runner RemoteRunner, host, path string) (uint64, error) {
	stdout, err := runner.Run(ctx, host, p.Build(path))
	if err != nil {
		return 0, err
	}
	return p.Parse(stdout)
}

// GNUDFProbe uses coreutils df with byte blocks and a single avail column.
var GNUDFProbe = CommandProbe{
	ProbeName: "df --output=avail",
	Build: func(path string) string {
		return shellquote.Join("df", "-B1", "--output=avail", path)
	},
	Parse: func(stdout string) (uint64, error) {
		return parseDFColumn(stdout, 0, 1)
	},
}

// POSIXDFProbe uses portable df output (busybox, BSD): avail is the fourth
// column in KiB.
var POSIXDFProbe = CommandProbe{
	ProbeName: "df -Pk",
	Build: func(path string) string {
		return shellquote.Join("df", "-Pk", path)
	},
	Parse: func(stdout string) (uint64, error) {
		return parseDFColumn(stdout, 3, 1024)
	},
}

// PowerShellVolumeProbe asks Get-Volume for the remaining size.
var PowerShellVolumeProbe = CommandProbe{
	ProbeName: "Get-Volume",
	Build: func(path string) string {
		escaped := strings.ReplaceAll(path, "'", "''")
		return fmt.Sprintf("powershell -Command \"Get-Volume -FilePath '%s' | Select-Object -ExpandProperty SizeRemaining\"", escaped)
	},
	Parse: func(stdout string) (uint64, error) {
		value, err := strconv.ParseUint(strings.TrimSpace(stdout), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("failed to parse available space %q", strings.TrimSpace(stdout))
		}
		return value, nil
	},
}

// DefaultProbes returns the probe order used for a target OS.
func DefaultProbes(target TargetOS) []SpaceProbe {
	if target == TargetWindows {
		return []SpaceProbe{PowerShellVolumeProbe}
	}
	return []SpaceProbe{GNUDFProbe, POSIXDFProbe}
}

// parseDFColumn reads column from the first data line after the header and
// multiplies it by unit.
func parseDFColumn(stdout string, column int, unit uint64) (uint64, error) {
	var lines []string
	for _, line := range strings.Split(stdout, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) < 2 {
		return 0, fmt.Errorf("invalid df output")
	}

	fields := strings.Fields(lines[1])
	if column >= len(fields) {
		return 0, fmt.Errorf("invalid df output: missing column %d", column+1)
	}

	value, err := strconv.ParseUint(fields[column], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse available space %q", fields[column])
	}
	return value * unit, nil
}

// SSHOptions configures the external ssh client
type SSHOptions struct {
	Binary       string
	Port         int
	IdentityFile string
	Options      []string
}

// Args returns the ssh arguments that precede the host.
func (o SSHOptions) Args() []string {
	var args []string
	for _, opt := range o.Options {
		args = append(args, "-o", opt)
	}
	if o.Port != 0 {
		args = append(args, "-p", strconv.Itoa(o.Port))
	}
	if o.IdentityFile != "" {
		args = append(args, "-i", o.IdentityFile)
	}
	return args
}

func (o SSHOptions) binary() string {
	if o.Binary == "" {
		return "ssh"
	}
	return o.Binary
}

// ExecRunner runs remote commands through the external ssh binary
type ExecRunner struct {
	Options SSHOptions
}

func (r *ExecRunner) Run(ctx context.Context, host, command string) (string, error) {
	args := append(r.Options.Args(), host, command)
	cmd := exec.CommandContext(ctx, r.Options.binary(), args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("ssh command failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
