package backup

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

// Destination is one configured backup target
type Destination interface {
	// AvailableSpace probes the free bytes of the destination's storage
	AvailableSpace(ctx context.Context) (uint64, error)

	// CheckAvailableSpace fails with KindInsufficientSpace when fewer than
	// required bytes are available
	CheckAvailableSpace(ctx context.Context, required uint64) error

	// Prepare readies the run directory; it never reuses an existing one
	Prepare(runID string) error

	// SpawnTransfer starts copying volumeRoot to the run directory
	SpawnTransfer(volumeRoot string, excluded []string, runID string) (*TransferHandle, error)

	// DisplayName identifies the destination in logs and outcomes
	DisplayName() string
}

// TargetOS is the operating system of a remote destination
type TargetOS int

const (
	TargetUnix TargetOS = iota
	TargetWindows
)

// ParseTargetOS accepts "unix" or "windows", case-insensitively.
func ParseTargetOS(s string) (TargetOS, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unix":
		return TargetUnix, nil
	case "windows":
		return TargetWindows, nil
	default:
		return TargetUnix, NewConfigError("unsupported target os %q (expected unix or windows)", s)
	}
}

func (t TargetOS) String() string {
	if t == TargetWindows {
		return "windows"
	}
	return "unix"
}

// PolicyExclusions are always skipped and never validated against the volume root.
var PolicyExclusions = []string{"backingFsBlockDev"}

// commandFunc builds an unstarted command; tests swap it for scripted ones.
type commandFunc func(name string, args ...string) *exec.Cmd

func transferLabel(d Destination) string {
	return "Backup to destination " + d.DisplayName()
}

func checkAvailableSpace(ctx context.Context, d Destination, required uint64) error {
	available, err := d.AvailableSpace(ctx)
	if err != nil {
		return err
	}

	if available < required {
		return &Error{
			Kind:        KindInsufficientSpace,
			Destination: d.DisplayName(),
			Message: fmt.Sprintf("Not enough space on destination %s. Required: %d bytes (%s), Available: %d bytes (%s)",
				d.DisplayName(), required, humanize.IBytes(required), available, humanize.IBytes(available)),
			Required:  required,
			Available: available,
		}
	}
	return nil
}

// validateExclusions checks that every excluded name matches, by suffix, an
// immediate child of volumeRoot and returns the --exclude arguments for both
// the user and the policy exclusions.
func validateExclusions(dest, volumeRoot string, excluded []string) ([]string, error) {
	entries, err := os.ReadDir(volumeRoot)
	if err != nil {
		return nil, wrapError(KindIO, dest, err, "failed to read volume directory %s", volumeRoot)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}

	args := make([]string, 0, len(excluded)+len(PolicyExclusions))
	for _, volume := range excluded {
		if !matchesAnySuffix(names, volume) {
			return nil, newError(KindUnknownExclusion, dest, "Excluded volume '%s' does not exist", volume)
		}
		args = append(args, "--exclude="+volume)
	}
	for _, volume := range PolicyExclusions {
		args = append(args, "--exclude="+volume)
	}
	return args, nil
}

func matchesAnySuffix(names []string, suffix string) bool {
	if suffix == "" {
		return false
	}
	for _, name := range names {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

func cleanVolumeRoot(volumeRoot string) string {
	if volumeRoot == "" {
		return volumeRoot
	}
	return filepath.Clean(volumeRoot)
}
