package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete flashdesk configuration
type Config struct {
	Session   SessionConfig   `mapstructure:"session" yaml:"session"`
	Readiness ReadinessConfig `mapstructure:"readiness" yaml:"readiness"`
	Catalog   CatalogConfig   `mapstructure:"catalog" yaml:"catalog"`
	TUI       TUIConfig       `mapstructure:"tui" yaml:"tui"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Sim       SimConfig       `mapstructure:"sim" yaml:"sim"`
}

// SessionConfig controls the session lifecycle
type SessionConfig struct {
	// MaxActiveResources is the ceiling on concurrently running desktops
	// across the whole backend account (default: 2)
	MaxActiveResources int `mapstructure:"max_active_resources" yaml:"max_active_resources"`
	// DurationSeconds is the auto-termination countdown once ready (default: 600)
	DurationSeconds int `mapstructure:"duration_seconds" yaml:"duration_seconds"`
	// OuterPollIntervalMs is how often readiness is checked (default: 5000)
	OuterPollIntervalMs int `mapstructure:"outer_poll_interval_ms" yaml:"outer_poll_interval_ms"`
	// InnerPollIntervalMs is how often a diagnostic command's result is polled (default: 1000)
	InnerPollIntervalMs int `mapstructure:"inner_poll_interval_ms" yaml:"inner_poll_interval_ms"`
	// CommandTimeoutSeconds bounds one diagnostic command (default: 30)
	CommandTimeoutSeconds int `mapstructure:"command_timeout_seconds" yaml:"command_timeout_seconds"`
	// MaxAwaitReadySeconds bounds the wait for readiness (default: 900, 0 = unbounded)
	MaxAwaitReadySeconds int `mapstructure:"max_await_ready_seconds" yaml:"max_await_ready_seconds"`
	// MinSecretLength is the shortest accepted credential (default: 8)
	MinSecretLength int `mapstructure:"min_secret_length" yaml:"min_secret_length"`
	// AddressFormat derives the desktop URL; {address} is replaced by the
	// resource address (default: "https://{address}:6901")
	AddressFormat string `mapstructure:"address_format" yaml:"address_format"`
	// OpenBrowser opens the desktop URL once it is ready (default: true)
	OpenBrowser bool `mapstructure:"open_browser" yaml:"open_browser"`
}

// ReadinessConfig controls the diagnostic that detects a running desktop service
type ReadinessConfig struct {
	// Document is the command document run on the resource (default: "AWS-RunShellScript")
	Document string `mapstructure:"document" yaml:"document"`
	// Commands are the shell commands the document runs (default: ["sudo docker ps"])
	Commands []string `mapstructure:"commands" yaml:"commands"`
	// Marker must appear in the command output (default: "kasmweb")
	Marker string `mapstructure:"marker" yaml:"marker"`
}

// CatalogConfig lists the allowed launch parameters. Entries are glob patterns.
type CatalogConfig struct {
	ResourceClasses []string `mapstructure:"resource_classes" yaml:"resource_classes"`
	Images          []string `mapstructure:"images" yaml:"images"`
}

// TUIConfig controls the dashboard
type TUIConfig struct {
	// Theme is the color theme name or a path to a YAML theme file (default: "default")
	Theme string `mapstructure:"theme" yaml:"theme"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether logging to a file is enabled (default: true)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Dir is the log directory. Empty means the config directory.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level" yaml:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 5)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
	// Compress gzips rotated files (default: false)
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// SimConfig shapes the in-memory backend used by --sim
type SimConfig struct {
	// BootDelayMs is how long a new resource stays pending (default: 2000)
	BootDelayMs int `mapstructure:"boot_delay_ms" yaml:"boot_delay_ms"`
	// ServiceDelayMs is how long after boot the desktop service appears (default: 3000)
	ServiceDelayMs int `mapstructure:"service_delay_ms" yaml:"service_delay_ms"`
	// LatencyMs is added to every backend call (default: 50)
	LatencyMs int `mapstructure:"latency_ms" yaml:"latency_ms"`
	// ForeignActive is a baseline of resources owned by other users (default: 0)
	ForeignActive int `mapstructure:"foreign_active" yaml:"foreign_active"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			MaxActiveResources:    2,
			DurationSeconds:       600, // 10 minutes
			OuterPollIntervalMs:   5000,
			InnerPollIntervalMs:   1000,
			CommandTimeoutSeconds: 30,
			MaxAwaitReadySeconds:  900, // 15 minutes
			MinSecretLength:       8,
			AddressFormat:         "https://{address}:6901",
			OpenBrowser:           true,
		},
		Readiness: ReadinessConfig{
			Document: "AWS-RunShellScript",
			Commands: []string{"sudo docker ps"},
			Marker:   "kasmweb",
		},
		Catalog: CatalogConfig{
			ResourceClasses: []string{"t2.micro", "t2.small", "t2.large"},
			Images: []string{
				"ubuntu-focal-desktop",
				"centos-7-desktop",
				"core-kali-rolling",
				"chrome",
				"brave",
				"firefox",
				"vivaldi",
			},
		},
		TUI: TUIConfig{
			Theme: "default",
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  5,
			MaxBackups: 3,
		},
		Sim: SimConfig{
			BootDelayMs:    2000,
			ServiceDelayMs: 3000,
			LatencyMs:      50,
		},
	}
}

// OuterPollInterval returns the readiness check cadence as a time.Duration
func (c *SessionConfig) OuterPollInterval() time.Duration {
	return time.Duration(c.OuterPollIntervalMs) * time.Millisecond
}

// InnerPollInterval returns the command result polling cadence as a time.Duration
func (c *SessionConfig) InnerPollInterval() time.Duration {
	return time.Duration(c.InnerPollIntervalMs) * time.Millisecond
}

// CommandTimeout returns the diagnostic command timeout as a time.Duration
func (c *SessionConfig) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSeconds) * time.Second
}

// MaxAwaitReady returns the readiness deadline (0 means unbounded)
func (c *SessionConfig) MaxAwaitReady() time.Duration {
	return time.Duration(c.MaxAwaitReadySeconds) * time.Second
}

// BootDelay returns the simulated boot time
func (c *SimConfig) BootDelay() time.Duration {
	return time.Duration(c.BootDelayMs) * time.Millisecond
}

// ServiceDelay returns the simulated desktop service start time
func (c *SimConfig) ServiceDelay() time.Duration {
	return time.Duration(c.ServiceDelayMs) * time.Millisecond
}

// Latency returns the simulated per-call latency
func (c *SimConfig) Latency() time.Duration {
	return time.Duration(c.LatencyMs) * time.Millisecond
}

// ResolveLogDir returns the directory log files are written to, or "" when
// file logging is disabled.
func (c *LoggingConfig) ResolveLogDir() string {
	if !c.Enabled {
		return ""
	}
	if c.Dir != "" {
		return c.Dir
	}
	return ConfigDir()
}

// SetDefaults registers default values with viper
func SetDefaults() {
	SetDefaultsOn(viper.GetViper())
}

// SetDefaultsOn registers default values on v
func SetDefaultsOn(v *viper.Viper) {
	defaults := Default()

	// Session defaults
	v.SetDefault("session.max_active_resources", defaults.Session.MaxActiveResources)
	v.SetDefault("session.duration_seconds", defaults.Session.DurationSeconds)
	v.SetDefault("session.outer_poll_interval_ms", defaults.Session.OuterPollIntervalMs)
	v.SetDefault("session.inner_poll_interval_ms", defaults.Session.InnerPollIntervalMs)
	v.SetDefault("session.command_timeout_seconds", defaults.Session.CommandTimeoutSeconds)
	v.SetDefault("session.max_await_ready_seconds", defaults.Session.MaxAwaitReadySeconds)
	v.SetDefault("session.min_secret_length", defaults.Session.MinSecretLength)
	v.SetDefault("session.address_format", defaults.Session.AddressFormat)
	v.SetDefault("session.open_browser", defaults.Session.OpenBrowser)

	// Readiness defaults
	v.SetDefault("readiness.document", defaults.Readiness.Document)
	v.SetDefault("readiness.commands", defaults.Readiness.Commands)
	v.SetDefault("readiness.marker", defaults.Readiness.Marker)

	// Catalog defaults
	v.SetDefault("catalog.resource_classes", defaults.Catalog.ResourceClasses)
	v.SetDefault("catalog.images", defaults.Catalog.Images)

	// TUI defaults
	v.SetDefault("tui.theme", defaults.TUI.Theme)

	// Logging defaults
	v.SetDefault("logging.enabled", defaults.Logging.Enabled)
	v.SetDefault("logging.dir", defaults.Logging.Dir)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	v.SetDefault("logging.compress", defaults.Logging.Compress)

	// Sim defaults
	v.SetDefault("sim.boot_delay_ms", defaults.Sim.BootDelayMs)
	v.SetDefault("sim.service_delay_ms", defaults.Sim.ServiceDelayMs)
	v.SetDefault("sim.latency_ms", defaults.Sim.LatencyMs)
	v.SetDefault("sim.foreign_active", defaults.Sim.ForeignActive)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads and validates the configuration held by v
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "flashdesk")
	}
	// Fall back to ~/.config/flashdesk
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flashdesk"
	}
	return filepath.Join(home, ".config", "flashdesk")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
