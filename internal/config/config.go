package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/yourusername/docker-volume-backup/internal/schedule"
	"gopkg.in/yaml.v3"
)

// DefaultVolumeRoot is where docker keeps named volumes
const DefaultVolumeRoot = "/var/lib/docker/volumes"

// Config represents the application configuration
type Config struct {
	Volumes       VolumesConfig       `yaml:"volumes" json:"volumes"`
	Consumers     ConsumersConfig     `yaml:"consumers" json:"consumers"`
	Destinations  []string            `yaml:"destinations" json:"destinations"`
	SSH           SSHConfig           `yaml:"ssh" json:"ssh"`
	Notifications NotificationsConfig `yaml:"notifications" json:"notifications"`
	Progress      ProgressConfig      `yaml:"progress" json:"progress"`
	History       HistoryConfig       `yaml:"history" json:"history"`
	Schedule      ScheduleConfig      `yaml:"schedule" json:"schedule"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
}

// VolumesConfig selects what gets backed up
type VolumesConfig struct {
	Root    string   `yaml:"root" json:"root"`
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// ConsumersConfig describes the workloads stopped for the duration of a run
type ConsumersConfig struct {
	Type    string   `yaml:"type" json:"type"` // docker, systemd or none
	Exclude []string `yaml:"exclude" json:"exclude"`
	Units   []string `yaml:"units" json:"units"`
}

// SSHConfig contains settings for remote destinations
type SSHConfig struct {
	Binary          string   `yaml:"binary" json:"binary"`
	Options         []string `yaml:"options" json:"options"`
	Port            int      `yaml:"port" json:"port"`
	IdentityFile    string   `yaml:"identity_file" json:"identity_file"`
	KnownHostsPath  string   `yaml:"known_hosts_path" json:"known_hosts_path"`
	TrustOnFirstUse bool     `yaml:"trust_on_first_use" json:"trust_on_first_use"`
	NativeProbe     bool     `yaml:"native_probe" json:"native_probe"`
	ConnectTimeout  string   `yaml:"connect_timeout" json:"connect_timeout"`
}

// NotificationsConfig contains the notification channels
type NotificationsConfig struct {
	Gotify  GotifyConfig  `yaml:"gotify" json:"gotify"`
	Discord DiscordConfig `yaml:"discord" json:"discord"`
}

// GotifyConfig contains Gotify delivery settings
type GotifyConfig struct {
	URL      string `yaml:"url" json:"url"`
	Attempts int    `yaml:"attempts" json:"attempts"`
	Backoff  string `yaml:"backoff" json:"backoff"`
}

// DiscordConfig contains the Discord webhook
type DiscordConfig struct {
	URL string `yaml:"url" json:"url"`
}

// ProgressConfig controls elapsed-time reporting
type ProgressConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Interval string `yaml:"interval" json:"interval"`
}

// HistoryConfig enables the run history database when Path is set
type HistoryConfig struct {
	Path string `yaml:"path" json:"path"`
	Keep int    `yaml:"keep" json:"keep"` // runs to retain, 0 keeps all
}

// ScheduleConfig enables daemon mode when Cron is set
type ScheduleConfig struct {
	Cron string `yaml:"cron" json:"cron"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		Volumes: VolumesConfig{
			Root: DefaultVolumeRoot,
		},
		Consumers: ConsumersConfig{
			Type: "docker",
		},
		SSH: SSHConfig{
			Binary:          "ssh",
			Options:         []string{"BatchMode=yes"},
			KnownHostsPath:  "",
			TrustOnFirstUse: true,
			ConnectTimeout:  "15s",
		},
		Notifications: NotificationsConfig{
			Gotify: GotifyConfig{
				Attempts: 10,
				Backoff:  "10s",
			},
		},
		Progress: ProgressConfig{
			Enabled:  true,
			Interval: "1s",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			File:       "",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
		},
	}
}

// Load loads configuration from path (or the resolved default path) and
// environment variables. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	configPath := path
	if configPath == "" {
		configPath = GetConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if path != "" {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.normalizePaths(configPath)
	return cfg, nil
}

// applyEnv overrides file values with environment variables
func (c *Config) applyEnv() error {
	if root := os.Getenv("DOCKER_BACKUP_VOLUMES"); root != "" {
		c.Volumes.Root = root
	}

	if exclude := os.Getenv("DOCKER_BACKUP_EXCLUDE"); exclude != "" {
		c.Volumes.Exclude = splitList(exclude)
	}

	if dests := os.Getenv("DOCKER_BACKUP_DESTINATIONS"); dests != "" {
		c.Destinations = splitDestinations(dests)
	}

	if consumerType := os.Getenv("DOCKER_BACKUP_CONSUMERS"); consumerType != "" {
		c.Consumers.Type = consumerType
	}

	if gotifyURL := os.Getenv("DOCKER_BACKUP_GOTIFY_URL"); gotifyURL != "" {
		c.Notifications.Gotify.URL = gotifyURL
	}

	if discordURL := os.Getenv("DOCKER_BACKUP_DISCORD_URL"); discordURL != "" {
		c.Notifications.Discord.URL = discordURL
	}

	if historyPath := os.Getenv("DOCKER_BACKUP_HISTORY_PATH"); historyPath != "" {
		c.History.Path = historyPath
	}

	if schedule := os.Getenv("DOCKER_BACKUP_SCHEDULE"); schedule != "" {
		c.Schedule.Cron = schedule
	}

	if identity := os.Getenv("DOCKER_BACKUP_SSH_IDENTITY"); identity != "" {
		c.SSH.IdentityFile = identity
	}

	if port := os.Getenv("DOCKER_BACKUP_SSH_PORT"); port != "" {
		value, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid DOCKER_BACKUP_SSH_PORT %q: %w", port, err)
		}
		c.SSH.Port = value
	}

	if knownHostsPath := os.Getenv("KNOWN_HOSTS_PATH"); knownHostsPath != "" {
		c.SSH.KnownHostsPath = knownHostsPath
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.Destinations) == 0 {
		return fmt.Errorf("at least one destination is required")
	}

	for _, raw := range c.Destinations {
		if _, err := ParseDestination(raw); err != nil {
			return err
		}
	}

	if strings.TrimSpace(c.Volumes.Root) == "" {
		return fmt.Errorf("volumes.root must not be empty")
	}

	switch strings.ToLower(c.Consumers.Type) {
	case "docker", "systemd", "none", "":
	default:
		return fmt.Errorf("unsupported consumers.type %q (expected docker, systemd or none)", c.Consumers.Type)
	}

	if strings.EqualFold(c.Consumers.Type, "systemd") && len(c.Consumers.Units) == 0 {
		return fmt.Errorf("consumers.units is required when consumers.type is systemd")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text", "":
	default:
		return fmt.Errorf("unsupported logging.format %q", c.Logging.Format)
	}

	if c.SSH.Port < 0 || c.SSH.Port > 65535 {
		return fmt.Errorf("ssh.port must be between 0 and 65535")
	}

	if c.History.Keep < 0 {
		return fmt.Errorf("history.keep must not be negative")
	}

	if c.Notifications.Gotify.Attempts < 0 {
		return fmt.Errorf("notifications.gotify.attempts must not be negative")
	}

	if c.Schedule.Cron != "" {
		if err := schedule.Validate(c.Schedule.Cron); err != nil {
			return err
		}
	}

	for name, value := range map[string]string{
		"notifications.gotify.backoff": c.Notifications.Gotify.Backoff,
		"progress.interval":            c.Progress.Interval,
		"ssh.connect_timeout":          c.SSH.ConnectTimeout,
	} {
		if _, err := parseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	return nil
}

// GotifyBackoff returns the delay between Gotify attempts
func (c *Config) GotifyBackoff() time.Duration {
	d, _ := parseDuration(c.Notifications.Gotify.Backoff)
	return d
}

// ProgressInterval returns the progress refresh interval
func (c *Config) ProgressInterval() time.Duration {
	d, _ := parseDuration(c.Progress.Interval)
	if d <= 0 {
		return time.Second
	}
	return d
}

// ConnectTimeout returns the native SSH dial timeout
func (c *Config) ConnectTimeout() time.Duration {
	d, _ := parseDuration(c.SSH.ConnectTimeout)
	if d <= 0 {
		return 15 * time.Second
	}
	return d
}

func parseDuration(value string) (time.Duration, error) {
	if strings.TrimSpace(value) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must not be negative")
	}
	return d, nil
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// splitDestinations splits on ';' because remote destinations contain a comma.
func splitDestinations(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ";") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

func resolveConfigPath() string {
	candidates := []string{"./configs/config.yaml", "/etc/docker-backup/config.yaml"}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return "./configs/config.yaml"
}

// GetConfigPath returns the resolved config path
func GetConfigPath() string {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = resolveConfigPath()
	}
	return configPath
}

// Save writes the configuration back to disk
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// normalizePaths resolves relative file paths against the config location
func (c *Config) normalizePaths(configPath string) {
	baseDir := filepath.Dir(configPath)
	if !filepath.IsAbs(baseDir) {
		if absBase, err := filepath.Abs(baseDir); err == nil {
			baseDir = absBase
		}
	}

	rootDir := baseDir
	if filepath.Base(baseDir) == "configs" {
		rootDir = filepath.Dir(baseDir)
	}

	resolvePath := func(value string) string {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return ""
		}
		if filepath.IsAbs(trimmed) {
			return filepath.Clean(trimmed)
		}
		return filepath.Clean(filepath.Join(rootDir, trimmed))
	}

	c.History.Path = resolvePath(c.History.Path)
	c.Logging.File = resolvePath(c.Logging.File)
	c.SSH.KnownHostsPath = resolvePath(c.SSH.KnownHostsPath)
}
