package backup

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
	"os/exec"
	"path/filepath"
)

// LocalDestination copies volumes into a directory on a local filesystem
type LocalDestination struct {
	basePath  string
	command   commandFunc
	freeSpace func(path string) (uint64, error)
}

// NewLocalDestination creates a new local destination
func NewLocalDestination(basePath string) *LocalDestination {
	return &LocalDestination{
		basePath:  basePath,
		command:   exec.Command,
		freeSpace: freeSpace,
	}
}

// AvailableSpace reads filesystem statistics for the mount holding basePath
func (ld *LocalDestination) AvailableSpace(ctx context.Context) (uint64, error) {
	available, err := ld.freeSpace(ld.basePath)
	if err != nil {
		return 0, wrapError(KindProbe, ld.DisplayName(), err, "failed to read filesystem statistics for %s", ld.basePath)
	}
	return available, nil
}

func (ld *LocalDestination) CheckAvailableSpace(ctx context.Context, required uint64) error {
	return checkAvailableSpace(ctx, ld, required)
}

// Prepare creates basePath/runID and refuses to reuse an existing directory
func (ld *LocalDestination) Prepare(runID string) error {
	dir := ld.RunPath(runID)
	if err := os.Mkdir(dir, 0755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return newError(KindAlreadyExists, ld.DisplayName(), "Directory already exists: %s", dir)
		}
		return wrapError(KindIO, ld.DisplayName(), err, "failed to create backup directory")
	}
	log.Printf("[LocalDest] Created %s", dir)
	return nil
}

// SpawnTransfer starts one rsync into basePath/runID
func (ld *LocalDestination) SpawnTransfer(volumeRoot string, excluded []string, runID string) (*TransferHandle, error) {
	excludeArgs, err := validateExclusions(ld.DisplayName(), volumeRoot, excluded)
	if err != nil {
		return nil, err
	}

	args := append([]string{"-aW"}, excludeArgs...)
	args = append(args, cleanVolumeRoot(volumeRoot), ld.RunPath(runID))

	cmd := ld.command("rsync", args...)
	stderr := newTailBuffer(maxCapturedStderr)
	cmd.Stderr = stderr
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, wrapError(KindSpawn, ld.DisplayName(), err, "Failed to spawn rsync")
	}

	log.Printf("[LocalDest] Spawned rsync (pid %d) to %s", cmd.Process.Pid, ld.RunPath(runID))
	return newTransferHandle(transferLabel(ld), cmd, stderr, nil, nil), nil
}

func (ld *LocalDestination) DisplayName() string {
	return ld.basePath
}

// RunPath is the directory a run writes into.
func (ld *LocalDestination) RunPath(runID string) string {
	return filepath.Join(ld.basePath, runID)
}
