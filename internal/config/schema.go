// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for baton.
package config

import (
	"path/filepath"
	"time"
)

// Persist policies. Always keeps whatever session the job left behind
// even when the command failed; on_success only persists clean runs.
const (
	PersistAlways    = "always"
	PersistOnSuccess = "on_success"
)

// Artifact store backends.
const (
	StoreBackendFS     = "fs"
	StoreBackendSQLite = "sqlite"
)

// Notification policies.
const (
	NotifyAll      = "all"
	NotifyFailures = "failures"
)

const (
	defaultTimeout       = time.Hour
	defaultRetentionDays = 7
	defaultKeepDays      = 90
	defaultBind          = "127.0.0.1:8080"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// DataDir is where baton keeps artifacts, history, locks, and job
	// workspaces. Defaults to the XDG data directory.
	DataDir string `yaml:"data_dir,omitempty"`

	// Jobs maps job names to their definitions.
	Jobs map[string]*JobConfig `yaml:"jobs"`

	Store   StoreConfig   `yaml:"store,omitempty"`
	History HistoryConfig `yaml:"history,omitempty"`
	Gateway GatewayConfig `yaml:"gateway,omitempty"`
	Notify  NotifyConfig  `yaml:"notify,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
	Tracing TracingConfig `yaml:"tracing,omitempty"`
}

// JobConfig defines one scheduled job.
type JobConfig struct {
	// Schedule is a 5-field cron expression. Required unless ManualOnly.
	Schedule string `yaml:"schedule,omitempty"`

	// ManualOnly jobs never fire on a schedule; they run only through the
	// CLI, the API, or a webhook.
	ManualOnly bool `yaml:"manual_only,omitempty"`

	// Command is the work unit, run through `sh -c`.
	Command string `yaml:"command"`

	// Workdir is the job working directory. Defaults to
	// <data_dir>/jobs/<name>/workspace.
	Workdir string `yaml:"workdir,omitempty"`

	// Setup commands run sequentially before the session restore, each
	// with a sanitized environment and without credentials. Any non-zero
	// exit aborts the run.
	Setup []string `yaml:"setup,omitempty"`

	// Credentials lists environment variable names whose values are read
	// from the daemon's own environment at startup and injected into the
	// command. The values never appear in config, argv, or logs.
	Credentials []string `yaml:"credentials,omitempty"`

	Session SessionConfig `yaml:"session"`

	// Timeout bounds one execution, e.g. "30m". Default 1h.
	Timeout string `yaml:"timeout,omitempty"`

	// Persist is "always" or "on_success". Default "always": a failed
	// run may still have rotated the session, and losing that rotation
	// forces a fresh login next time.
	Persist string `yaml:"persist,omitempty"`

	Disabled bool `yaml:"disabled,omitempty"`
}

// ParsedTimeout returns the timeout as a time.Duration, falling back to
// the default when unset or unparseable (Validate reports the latter).
func (j *JobConfig) ParsedTimeout() time.Duration {
	d, err := time.ParseDuration(j.Timeout)
	if err != nil || d <= 0 {
		return defaultTimeout
	}
	return d
}

// SessionConfig describes the session files a job carries between runs.
type SessionConfig struct {
	// Artifact is the store slot name. Defaults to "<job>-session".
	Artifact string `yaml:"artifact,omitempty"`

	// Files is a glob, relative to the workdir, selecting the files to
	// persist after a run (e.g. "*_uuid_and_cookie.json").
	Files string `yaml:"files"`

	// RetentionDays bounds how long a stored session stays restorable.
	RetentionDays int `yaml:"retention_days,omitempty"`
}

// Retention returns the retention window as a duration.
func (s SessionConfig) Retention() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

// StoreConfig selects and locates the artifact store backend.
type StoreConfig struct {
	// Backend is "fs" or "sqlite".
	Backend string `yaml:"backend,omitempty"`

	// Path is the store root directory (fs) or database file (sqlite).
	Path string `yaml:"path,omitempty"`
}

func (c *StoreConfig) defaults(dataDir string) {
	if c.Backend == "" {
		c.Backend = StoreBackendFS
	}
	if c.Path == "" {
		switch c.Backend {
		case StoreBackendSQLite:
			c.Path = filepath.Join(dataDir, "artifacts.db")
		default:
			c.Path = filepath.Join(dataDir, "artifacts")
		}
	}
}

// HistoryConfig locates the run history database.
type HistoryConfig struct {
	Path string `yaml:"path,omitempty"`

	// KeepDays is how long finished runs stay queryable.
	KeepDays int `yaml:"keep_days,omitempty"`
}

func (c *HistoryConfig) defaults(dataDir string) {
	if c.Path == "" {
		c.Path = filepath.Join(dataDir, "history.db")
	}
	if c.KeepDays == 0 {
		c.KeepDays = defaultKeepDays
	}
}

// GatewayConfig holds HTTP gateway configuration.
type GatewayConfig struct {
	Bind string     `yaml:"bind,omitempty"`
	Auth AuthConfig `yaml:"auth,omitempty"`

	// WebhookSecret signs manual-trigger webhooks (HMAC-SHA256). The
	// webhook endpoint is not mounted when empty.
	WebhookSecret string `yaml:"webhook_secret,omitempty"`

	ReadTimeout     string `yaml:"read_timeout,omitempty"`
	WriteTimeout    string `yaml:"write_timeout,omitempty"`
	ShutdownTimeout string `yaml:"shutdown_timeout,omitempty"`
}

func (c *GatewayConfig) defaults() {
	if c.Bind == "" {
		c.Bind = defaultBind
	}
}

// ParsedReadTimeout returns the read timeout, default 10s.
func (c GatewayConfig) ParsedReadTimeout() time.Duration {
	return parseDurationOr(c.ReadTimeout, 10*time.Second)
}

// ParsedWriteTimeout returns the write timeout, default 30s.
func (c GatewayConfig) ParsedWriteTimeout() time.Duration {
	return parseDurationOr(c.WriteTimeout, 30*time.Second)
}

// ParsedShutdownTimeout returns the graceful shutdown budget, default 5s.
func (c GatewayConfig) ParsedShutdownTimeout() time.Duration {
	return parseDurationOr(c.ShutdownTimeout, 5*time.Second)
}

// AuthConfig configures authentication for admin endpoints.
type AuthConfig struct {
	BearerToken string `yaml:"bearer_token,omitempty"`
	BasicUser   string `yaml:"basic_user,omitempty"`
	BasicPass   string `yaml:"basic_pass,omitempty"`
}

// IsConfigured returns true if any auth method is configured.
func (a AuthConfig) IsConfigured() bool {
	return a.BearerToken != "" || (a.BasicUser != "" && a.BasicPass != "")
}

// NotifyConfig configures the outcome webhook notifier. Disabled when
// URL is empty.
type NotifyConfig struct {
	URL    string `yaml:"url,omitempty"`
	Secret string `yaml:"secret,omitempty"`

	// NotifyOn is "all" or "failures".
	NotifyOn string `yaml:"notify_on,omitempty"`

	// QuietHours is a "HH:MM-HH:MM" window (midnight wrap allowed)
	// during which non-failure notifications are suppressed.
	QuietHours string `yaml:"quiet_hours,omitempty"`

	// Timezone is an IANA name the quiet window is evaluated in.
	// Defaults to UTC.
	Timezone string `yaml:"timezone,omitempty"`

	Timeout string `yaml:"timeout,omitempty"`
}

func (c *NotifyConfig) defaults() {
	if c.NotifyOn == "" {
		c.NotifyOn = NotifyAll
	}
}

// ParsedTimeout returns the delivery timeout, default 10s.
func (c NotifyConfig) ParsedTimeout() time.Duration {
	return parseDurationOr(c.Timeout, 10*time.Second)
}

// LoggingConfig controls the slog setup.
type LoggingConfig struct {
	// Level is debug, info, warn, or error. Default info.
	Level string `yaml:"level,omitempty"`

	// Format is auto (tint on a TTY, text otherwise), text, or json.
	Format string `yaml:"format,omitempty"`

	// File enables an additional rotating JSON log file when Path is set.
	File FileLogConfig `yaml:"file,omitempty"`
}

func (c *LoggingConfig) defaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "auto"
	}
	c.File.defaults()
}

// FileLogConfig holds rotating log file settings (lumberjack).
type FileLogConfig struct {
	Path       string `yaml:"path,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
}

func (c *FileLogConfig) defaults() {
	if c.Path == "" {
		return
	}
	if c.MaxSizeMB == 0 {
		c.MaxSizeMB = 50
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = 3
	}
	if c.MaxAgeDays == 0 {
		c.MaxAgeDays = 28
	}
}

// TracingConfig enables OTLP trace export when Endpoint is set.
type TracingConfig struct {
	// Endpoint is the collector host:port (no scheme).
	Endpoint string `yaml:"endpoint,omitempty"`
	Insecure bool   `yaml:"insecure,omitempty"`
}

// ApplyDefaults fills zero values with their documented defaults. Call
// after Load and before Validate.
func (c *Config) ApplyDefaults() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}

	for name, j := range c.Jobs {
		if j == nil {
			j = &JobConfig{}
			c.Jobs[name] = j
		}
		if j.Session.Artifact == "" {
			j.Session.Artifact = name + "-session"
		}
		if j.Session.RetentionDays == 0 {
			j.Session.RetentionDays = defaultRetentionDays
		}
		if j.Timeout == "" {
			j.Timeout = "1h"
		}
		if j.Persist == "" {
			j.Persist = PersistAlways
		}
		if j.Workdir == "" {
			j.Workdir = filepath.Join(c.DataDir, "jobs", name, "workspace")
		}
	}

	c.Store.defaults(c.DataDir)
	c.History.defaults(c.DataDir)
	c.Gateway.defaults()
	c.Notify.defaults()
	c.Logging.defaults()
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
