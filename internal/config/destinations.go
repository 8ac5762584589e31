package config

import (
	"os"
	"strings"

	"github.com/yourusername/docker-volume-backup/internal/backup"
)

// DestinationSpec is a parsed destination argument
type DestinationSpec struct {
	Raw      string
	Remote   bool
	Path     string
	Host     string // user@host, remote only
	TargetOS backup.TargetOS
}

// ParseDestination accepts either an existing local directory or
// user@host:path,<unix|windows>. Anything containing '@' is treated as remote.
func ParseDestination(raw string) (DestinationSpec, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return DestinationSpec{}, backup.NewConfigError("destination must not be empty")
	}

	if !strings.Contains(value, "@") {
		info, err := os.Stat(value)
		if err != nil {
			return DestinationSpec{}, backup.NewConfigError("Local path does not exist: %s", value)
		}
		if !info.IsDir() {
			return DestinationSpec{}, backup.NewConfigError("Local path is not a directory: %s", value)
		}
		return DestinationSpec{Raw: raw, Path: value, TargetOS: backup.TargetUnix}, nil
	}

	location, osName, ok := strings.Cut(value, ",")
	if !ok {
		return DestinationSpec{}, backup.NewConfigError("Destination path and target os must be provided: %s", value)
	}

	host, path, ok := strings.Cut(location, ":")
	if !ok || !strings.Contains(host, "@") || strings.HasPrefix(host, "@") || strings.HasSuffix(host, "@") || path == "" {
		return DestinationSpec{}, backup.NewConfigError("SSH path must be in the format user@host:path: %s", location)
	}

	targetOS, err := backup.ParseTargetOS(osName)
	if err != nil {
		return DestinationSpec{}, err
	}

	return DestinationSpec{
		Raw:      raw,
		Remote:   true,
		Path:     path,
		Host:     host,
		TargetOS: targetOS,
	}, nil
}

// ParseDestinations parses every entry and stops at the first invalid one.
func ParseDestinations(raw []string) ([]DestinationSpec, error) {
	specs := make([]DestinationSpec, 0, len(raw))
	for _, entry := range raw {
		spec, err := ParseDestination(entry)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// User returns the login part of a remote host.
func (d DestinationSpec) User() string {
	user, _, _ := strings.Cut(d.Host, "@")
	return user
}

// Hostname returns the host part of a remote host.
func (d DestinationSpec) Hostname() string {
	_, hostname, _ := strings.Cut(d.Host, "@")
	return hostname
}
