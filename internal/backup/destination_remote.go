package backup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"

	"github.com/kballard/go-shellquote"
)

// RemoteDestination streams volumes to a host over ssh: a local tar is piped
// into ssh, which creates the run directory and unpacks into it.
type RemoteDestination struct {
	host     string
	path     string
	targetOS TargetOS
	ssh      SSHOptions
	runner   RemoteRunner
	probes   []SpaceProbe
	command  commandFunc
}

// RemoteOption customizes a RemoteDestination
type RemoteOption func(*RemoteDestination)

// WithSSHOptions sets the external ssh client options.
func WithSSHOptions(opts SSHOptions) RemoteOption {
	return func(rd *RemoteDestination) {
		rd.ssh = opts
	}
}

// WithRunner replaces the runner used for space probes.
func WithRunner(runner RemoteRunner) RemoteOption {
	return func(rd *RemoteDestination) {
		rd.runner = runner
	}
}

// WithProbes puts extra probes ahead of the defaults for the target OS.
func WithProbes(probes ...SpaceProbe) RemoteOption {
	return func(rd *RemoteDestination) {
		rd.probes = append(append([]SpaceProbe{}, probes...), rd.probes...)
	}
}

// NewRemoteDestination creates a destination for host (user@host) and path.
func NewRemoteDestination(host, path string, targetOS TargetOS, opts ...RemoteOption) *RemoteDestination {
	rd := &RemoteDestination{
		host:     host,
		path:     path,
		targetOS: targetOS,
		probes:   DefaultProbes(targetOS),
		command:  exec.Command,
	}
	for _, opt := range opts {
		opt(rd)
	}
	if rd.runner == nil {
		rd.runner = &ExecRunner{Options: rd.ssh}
	}
	return rd
}

// AvailableSpace tries each probe in order and returns the first result
func (rd *RemoteDestination) AvailableSpace(ctx context.Context) (uint64, error) {
	var errs []error
	for _, probe := range rd.probes {
		available, err := probe.Probe(ctx, rd.runner, rd.host, rd.path)
		if err == nil {
			return available, nil
		}
		log.Printf("[RemoteDest] Space probe %q failed for %s: %v", probe.Name(), rd.DisplayName(), err)
		errs = append(errs, fmt.Errorf("%s: %w", probe.Name(), err))
	}

	if len(errs) == 0 {
		return 0, newError(KindProbe, rd.DisplayName(), "no space probe configured for %s", rd.DisplayName())
	}
	return 0, wrapError(KindProbe, rd.DisplayName(), errors.Join(errs...), "failed to probe available space on %s", rd.DisplayName())
}

func (rd *RemoteDestination) CheckAvailableSpace(ctx context.Context, required uint64) error {
	return checkAvailableSpace(ctx, rd, required)
}

// Prepare is a no-op: the run directory is created by the transfer command
func (rd *RemoteDestination) Prepare(runID string) error {
	return nil
}

// SpawnTransfer starts tar | ssh. The handle follows the ssh process.
func (rd *RemoteDestination) SpawnTransfer(volumeRoot string, excluded []string, runID string) (*TransferHandle, error) {
	excludeArgs, err := validateExclusions(rd.DisplayName(), volumeRoot, excluded)
	if err != nil {
		return nil, err
	}

	tarArgs := append([]string{"-cf-", "-C", cleanVolumeRoot(volumeRoot)}, excludeArgs...)
	tarArgs = append(tarArgs, ".")
	tar := rd.command("tar", tarArgs...)

	sshArgs := append(rd.ssh.Args(), rd.host, rd.unpackCommand(runID))
	ssh := rd.command(rd.ssh.binary(), sshArgs...)

	reader, writer, err := os.Pipe()
	if err != nil {
		return nil, wrapError(KindSpawn, rd.DisplayName(), err, "Failed to create transfer pipe")
	}

	tarStderr := newTailBuffer(maxCapturedStderr)
	tar.Stdout = writer
	tar.Stderr = tarStderr
	setProcessGroup(tar)

	sshStderr := newTailBuffer(maxCapturedStderr)
	ssh.Stdin = reader
	ssh.Stderr = sshStderr
	setProcessGroup(ssh)

	if err := tar.Start(); err != nil {
		reader.Close()
		writer.Close()
		return nil, wrapError(KindSpawn, rd.DisplayName(), err, "Failed to spawn tar")
	}

	if err := ssh.Start(); err != nil {
		reader.Close()
		writer.Close()
		if killErr := killProcess(tar); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
			log.Printf("[RemoteDest] Failed to kill tar after ssh spawn failure: %v", killErr)
		}
		_ = tar.Wait()
		return nil, wrapError(KindSpawn, rd.DisplayName(), err, "Failed to spawn ssh")
	}

	// Both children hold their own copies of the pipe ends.
	reader.Close()
	writer.Close()

	log.Printf("[RemoteDest] Spawned tar (pid %d) | ssh (pid %d) to %s", tar.Process.Pid, ssh.Process.Pid, rd.RunPath(runID))
	return newTransferHandle(transferLabel(rd), ssh, sshStderr, []*exec.Cmd{tar}, tarStderr), nil
}

// unpackCommand creates the run directory and unpacks stdin into it. mkdir
// without -p fails on an existing directory, so a run never overwrites.
func (rd *RemoteDestination) unpackCommand(runID string) string {
	target := rd.RunPath(runID)
	if rd.targetOS == TargetWindows {
		quoted := windowsQuote(target)
		return fmt.Sprintf("mkdir %s && tar -C %s -xf-", quoted, quoted)
	}
	return shellquote.Join("mkdir", target) + " && " + shellquote.Join("tar", "-C", target, "-xf-")
}

// RunPath joins the remote path and run id with the target OS separator.
func (rd *RemoteDestination) RunPath(runID string) string {
	if rd.targetOS == TargetWindows {
		return fmt.Sprintf("%s\\%s", rd.path, runID)
	}
	return fmt.Sprintf("%s/%s", rd.path, runID)
}

func (rd *RemoteDestination) DisplayName() string {
	return fmt.Sprintf("%s:%s", rd.host, rd.path)
}

// Host returns the user@host part.
func (rd *RemoteDestination) Host() string {
	return rd.host
}

// TargetOS returns the remote operating system.
func (rd *RemoteDestination) TargetOS() TargetOS {
	return rd.targetOS
}

func windowsQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
