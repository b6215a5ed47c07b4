package cli

// This file contains the project config file and how it combines with
// command-line flags into the settings of a test run.

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/perfgo/semitest/history"
	"github.com/perfgo/semitest/orchestrator"
	"github.com/perfgo/semitest/probe/openocd"
	"github.com/perfgo/semitest/session"
)

const configFileName = ".semitest.yaml"

// Config is the on-disk project configuration. Durations are strings such
// as "60s".
type Config struct {
	Probe        string `yaml:"probe"`
	ProbeAddr    string `yaml:"probe_addr"`
	Arch         string `yaml:"arch"`
	Timeout      string `yaml:"timeout"`
	BootTimeout  string `yaml:"boot_timeout"`
	PollInterval string `yaml:"poll_interval"`
	RemoteHost   string `yaml:"remote_host"`
	NoHistory    bool   `yaml:"no_history"`
	// SSHIdentity and SSHOptions configure the connection to RemoteHost.
	SSHIdentity string   `yaml:"ssh_identity"`
	SSHOptions  []string `yaml:"ssh_options"`
}

// settings are the resolved options of a test run.
type settings struct {
	Probe        string
	ProbeAddr    string
	Arch         string
	Timeout      time.Duration
	BootTimeout  time.Duration
	PollInterval time.Duration
	RemoteHost   string
	NoHistory    bool
	SSHIdentity  string
	SSHOptions   []string
}

func defaultSettings() settings {
	return settings{
		ProbeAddr:    openocd.DefaultAddr,
		Timeout:      orchestrator.DefaultTimeout,
		BootTimeout:  orchestrator.DefaultBootTimeout,
		PollInterval: session.DefaultPollInterval,
	}
}

// readConfig parses the config file at path.
func readConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// findConfig returns the config file in dir or, failing that, in the git
// root. It returns "" when there is none.
func findConfig(dir string) string {
	candidates := []string{filepath.Join(dir, configFileName)}
	if root, err := history.RepoRoot(); err == nil {
		candidates = append(candidates, filepath.Join(root, configFileName))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func parseDuration(field, value string, dst *time.Duration) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("config field %s: %w", field, err)
	}
	if d <= 0 {
		return fmt.Errorf("config field %s: must be positive, got %s", field, value)
	}
	*dst = d
	return nil
}

// apply overlays the fields set in cfg onto s.
func (cfg Config) apply(s *settings) error {
	if cfg.Probe != "" {
		s.Probe = cfg.Probe
	}
	if cfg.ProbeAddr != "" {
		s.ProbeAddr = cfg.ProbeAddr
	}
	if cfg.Arch != "" {
		s.Arch = cfg.Arch
	}
	if cfg.RemoteHost != "" {
		s.RemoteHost = cfg.RemoteHost
	}
	if cfg.NoHistory {
		s.NoHistory = true
	}
	if cfg.SSHIdentity != "" {
		s.SSHIdentity = cfg.SSHIdentity
	}
	s.SSHOptions = append(s.SSHOptions, cfg.SSHOptions...)
	return errors.Join(
		parseDuration("timeout", cfg.Timeout, &s.Timeout),
		parseDuration("boot_timeout", cfg.BootTimeout, &s.BootTimeout),
		parseDuration("poll_interval", cfg.PollInterval, &s.PollInterval),
	)
}

// validate checks the combination of settings.
func (s settings) validate() error {
	switch s.Probe {
	case "", probeSim, probeOpenOCD:
	default:
		return fmt.Errorf("unknown probe %q (known: %s, %s)", s.Probe, probeSim, probeOpenOCD)
	}
	if s.Probe == probeSim && s.RemoteHost != "" {
		return fmt.Errorf("the %s probe runs in-process and cannot use --remote-host", probeSim)
	}
	if s.Timeout <= 0 || s.BootTimeout <= 0 || s.PollInterval <= 0 {
		return fmt.Errorf("timeouts and the poll interval must be positive")
	}
	return nil
}

// loadSettings resolves defaults, then the config file, then flags that were
// set explicitly.
func (a *App) loadSettings(ctx *cli.Context) (settings, error) {
	s := defaultSettings()

	path := ctx.String("config")
	if path == "" {
		if cwd, err := os.Getwd(); err == nil {
			path = findConfig(cwd)
		}
	}
	if path != "" {
		cfg, err := readConfig(path)
		if err != nil {
			return s, err
		}
		if err := cfg.apply(&s); err != nil {
			return s, err
		}
		a.logger.Debug().Str("path", path).Msg("Loaded config")
	}

	if ctx.IsSet("probe") {
		s.Probe = ctx.String("probe")
	}
	if ctx.IsSet("probe-addr") {
		s.ProbeAddr = ctx.String("probe-addr")
	}
	if ctx.IsSet("arch") {
		s.Arch = ctx.String("arch")
	}
	if ctx.IsSet("timeout") {
		s.Timeout = ctx.Duration("timeout")
	}
	if ctx.IsSet("boot-timeout") {
		s.BootTimeout = ctx.Duration("boot-timeout")
	}
	if ctx.IsSet("poll-interval") {
		s.PollInterval = ctx.Duration("poll-interval")
	}
	if ctx.IsSet("remote-host") {
		s.RemoteHost = ctx.String("remote-host")
	}
	if ctx.IsSet("no-history") {
		s.NoHistory = ctx.Bool("no-history")
	}

	return s, s.validate()
}
