package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/yourusername/docker-volume-backup/internal/config"
	"github.com/yourusername/docker-volume-backup/internal/crypto"
	"github.com/yourusername/docker-volume-backup/internal/history"
	"github.com/yourusername/docker-volume-backup/internal/interrupt"
	"github.com/yourusername/docker-volume-backup/internal/logging"
	"github.com/yourusername/docker-volume-backup/internal/ssh"
)

var version = "dev"

// stringList is a repeatable string flag
type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ",")
}

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}

type options struct {
	configPath       string
	volumes          string
	destinations     stringList
	excludes         stringList
	excludeConsumers stringList
	consumers        string
	gotifyURL        string
	discordURL       string
	schedule         string
	historyPath      string
	history          int
	logLevel         string
	noProgress       bool
	encryptKey       string
	generateKey      bool
	showVersion      bool
}

func parseFlags(args []string, output io.Writer) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("docker-backup", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&opts.configPath, "config", "", "Path to config file")
	fs.StringVar(&opts.volumes, "volumes", "", "Docker volume root (default "+config.DefaultVolumeRoot+")")
	fs.Var(&opts.destinations, "d", "Backup destination: a local path or user@host:path,<unix|windows> (repeatable)")
	fs.Var(&opts.destinations, "destination", "Alias for -d")
	fs.Var(&opts.excludes, "e", "Volume to exclude (repeatable)")
	fs.Var(&opts.excludes, "exclude", "Alias for -e")
	fs.Var(&opts.excludeConsumers, "exclude-consumer", "Container or unit to keep running (repeatable)")
	fs.StringVar(&opts.consumers, "consumers", "", "Consumer manager: docker, systemd or none")
	fs.StringVar(&opts.gotifyURL, "gotify", "", "Gotify message URL including token")
	fs.StringVar(&opts.discordURL, "discord", "", "Discord webhook URL")
	fs.StringVar(&opts.schedule, "schedule", "", "Cron expression; run as a daemon")
	fs.StringVar(&opts.historyPath, "history-db", "", "Path to the run history database")
	fs.IntVar(&opts.history, "history", 0, "Print the last N recorded runs and exit")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	fs.BoolVar(&opts.noProgress, "no-progress", false, "Disable elapsed time display")
	fs.StringVar(&opts.encryptKey, "encrypt-key", "", "Seal a private key file with ENCRYPTION_KEY for use as ssh.identity_file and print it")
	fs.BoolVar(&opts.generateKey, "generate-key", false, "Print a new random ENCRYPTION_KEY and exit")
	fs.BoolVar(&opts.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return opts, nil
}

// apply lets flags override file and environment values.
func (o *options) apply(cfg *config.Config) {
	if o.volumes != "" {
		cfg.Volumes.Root = o.volumes
	}
	if len(o.destinations) > 0 {
		cfg.Destinations = o.destinations
	}
	if len(o.excludes) > 0 {
		cfg.Volumes.Exclude = o.excludes
	}
	if len(o.excludeConsumers) > 0 {
		cfg.Consumers.Exclude = o.excludeConsumers
	}
	if o.consumers != "" {
		cfg.Consumers.Type = o.consumers
	}
	if o.gotifyURL != "" {
		cfg.Notifications.Gotify.URL = o.gotifyURL
	}
	if o.discordURL != "" {
		cfg.Notifications.Discord.URL = o.discordURL
	}
	if o.schedule != "" {
		cfg.Schedule.Cron = o.schedule
	}
	if o.historyPath != "" {
		cfg.History.Path = o.historyPath
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.noProgress {
		cfg.Progress.Enabled = false
	}
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := parseFlags(args, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	if opts.showVersion {
		fmt.Println(version)
		return 0
	}

	if opts.generateKey {
		key, err := crypto.GenerateKey()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate key: %v\n", err)
			return 1
		}
		fmt.Println(key)
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	opts.apply(cfg)

	if _, err := logging.Init(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		return 1
	}
	defer logging.Close()

	if opts.encryptKey != "" {
		return encryptKey(opts.encryptKey, os.Stdout)
	}

	if opts.history > 0 {
		return printHistory(cfg, opts.history, os.Stdout)
	}

	if err := cfg.Validate(); err != nil {
		log.Printf("[Config] %v", err)
		return 1
	}

	app, err := NewApp(cfg, os.Stdout)
	if err != nil {
		log.Printf("[App] %v", err)
		return 1
	}
	defer app.Close()

	listener := interrupt.Listen()
	defer listener.Stop()

	if cfg.Schedule.Cron != "" {
		if err := app.Daemon(context.Background(), cfg.Schedule.Cron, listener.Requested()); err != nil {
			log.Printf("[App] %v", err)
			return 1
		}
		return 0
	}

	result := app.Execute(context.Background(), listener.Requested(), listener.ForceOnNext)
	if !result.Succeeded() {
		return 1
	}
	return 0
}

func encryptKey(path string, out io.Writer) int {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[Keys] Failed to read %s: %v", path, err)
		return 1
	}
	sealed, err := ssh.SealIdentity(pemBytes)
	if err != nil {
		log.Printf("[Keys] %v", err)
		return 1
	}
	fmt.Fprint(out, string(sealed))
	return 0
}

func printHistory(cfg *config.Config, limit int, out io.Writer) int {
	if cfg.History.Path == "" {
		log.Printf("[History] No history database configured (history.path)")
		return 1
	}

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		log.Printf("[History] %v", err)
		return 1
	}
	defer store.Close()

	runs, err := store.Recent(context.Background(), limit)
	if err != nil {
		log.Printf("[History] %v", err)
		return 1
	}
	writeHistory(out, runs)
	return 0
}
