package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/robfig/cron/v3"

	"github.com/flemzord/baton/internal/notify"
	"github.com/flemzord/baton/internal/security"
)

// envNamePattern matches portable environment variable names, the only
// form accepted in a job's credentials list.
var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks the structural validity of a Config. Call it after
// ApplyDefaults. It verifies the version field, every job definition,
// and the store, history, gateway, notify, logging, and tracing
// sections, and reports all problems at once.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if len(cfg.Jobs) == 0 {
		errs = append(errs, errors.New("config: at least one job must be configured"))
	}

	// Sorted iteration keeps the error list stable across runs.
	names := make([]string, 0, len(cfg.Jobs))
	for name := range cfg.Jobs {
		names = append(names, name)
	}
	slices.Sort(names)

	owners := make(map[string]string, len(cfg.Jobs))
	for _, name := range names {
		errs = append(errs, validateJob(name, cfg.Jobs[name])...)

		slot := cfg.Jobs[name].Session.Artifact
		if slot == "" {
			continue
		}
		if owner, taken := owners[slot]; taken {
			errs = append(errs, fmt.Errorf("config: job %q: artifact %q is already used by job %q", name, slot, owner))
			continue
		}
		owners[slot] = name
	}

	errs = append(errs, validateStore(cfg.Store)...)
	errs = append(errs, validateHistory(cfg.History)...)
	errs = append(errs, validateGateway(cfg.Gateway)...)
	errs = append(errs, validateNotify(cfg.Notify)...)
	errs = append(errs, validateLogging(cfg.Logging)...)
	errs = append(errs, validateTracing(cfg.Tracing)...)

	return errors.Join(errs...)
}

func validateJob(name string, j *JobConfig) []error {
	var errs []error

	if err := security.ValidateName(name); err != nil {
		errs = append(errs, fmt.Errorf("config: job name %q: %w", name, err))
	}

	if j.Command == "" {
		errs = append(errs, fmt.Errorf("config: job %q: command is required", name))
	}

	switch {
	case j.ManualOnly && j.Schedule != "":
		errs = append(errs, fmt.Errorf("config: job %q: schedule and manual_only are mutually exclusive", name))
	case !j.ManualOnly && j.Schedule == "":
		errs = append(errs, fmt.Errorf("config: job %q: schedule is required unless manual_only is set", name))
	case j.Schedule != "":
		if _, err := cron.ParseStandard(j.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("config: job %q: invalid schedule %q: %w", name, j.Schedule, err))
		}
	}

	if j.Session.Files == "" {
		errs = append(errs, fmt.Errorf("config: job %q: session.files glob is required", name))
	} else if !doublestar.ValidatePattern(j.Session.Files) {
		errs = append(errs, fmt.Errorf("config: job %q: invalid session.files glob %q", name, j.Session.Files))
	}

	if j.Session.Artifact != "" {
		if err := security.ValidateName(j.Session.Artifact); err != nil {
			errs = append(errs, fmt.Errorf("config: job %q: session.artifact: %w", name, err))
		}
	}

	if j.Session.RetentionDays < 1 {
		errs = append(errs, fmt.Errorf("config: job %q: session.retention_days must be at least 1", name))
	}

	if j.Timeout != "" {
		if d, err := time.ParseDuration(j.Timeout); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("config: job %q: invalid timeout %q", name, j.Timeout))
		}
	}

	if j.Persist != "" && j.Persist != PersistAlways && j.Persist != PersistOnSuccess {
		errs = append(errs, fmt.Errorf("config: job %q: persist must be %q or %q, got %q", name, PersistAlways, PersistOnSuccess, j.Persist))
	}

	for i, cmd := range j.Setup {
		if strings.TrimSpace(cmd) == "" {
			errs = append(errs, fmt.Errorf("config: job %q: setup[%d] is empty", name, i))
		}
	}

	for _, cred := range j.Credentials {
		if !envNamePattern.MatchString(cred) {
			errs = append(errs, fmt.Errorf("config: job %q: invalid credential name %q", name, cred))
		}
	}

	return errs
}

func validateStore(c StoreConfig) []error {
	var errs []error
	if c.Backend != "" && c.Backend != StoreBackendFS && c.Backend != StoreBackendSQLite {
		errs = append(errs, fmt.Errorf("config: store.backend must be %q or %q, got %q", StoreBackendFS, StoreBackendSQLite, c.Backend))
	}
	return errs
}

func validateHistory(c HistoryConfig) []error {
	var errs []error
	if c.KeepDays < 1 {
		errs = append(errs, errors.New("config: history.keep_days must be at least 1"))
	}
	return errs
}

func validateGateway(c GatewayConfig) []error {
	var errs []error

	if c.Bind != "" {
		if _, _, err := net.SplitHostPort(c.Bind); err != nil {
			errs = append(errs, fmt.Errorf("config: gateway.bind %q: %w", c.Bind, err))
		}
	}

	check := func(field, value string) {
		if value == "" {
			return
		}
		if d, err := time.ParseDuration(value); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("config: %s: invalid duration %q", field, value))
		}
	}
	check("gateway.read_timeout", c.ReadTimeout)
	check("gateway.write_timeout", c.WriteTimeout)
	check("gateway.shutdown_timeout", c.ShutdownTimeout)

	return errs
}

func validateNotify(c NotifyConfig) []error {
	var errs []error

	if c.URL != "" {
		u, err := url.Parse(c.URL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("config: notify.url %q must be an http or https URL", c.URL))
		}
	}

	if c.NotifyOn != "" && c.NotifyOn != NotifyAll && c.NotifyOn != NotifyFailures {
		errs = append(errs, fmt.Errorf("config: notify.notify_on must be %q or %q, got %q", NotifyAll, NotifyFailures, c.NotifyOn))
	}

	if c.QuietHours != "" {
		if _, err := notify.ParseQuietHours(c.QuietHours); err != nil {
			errs = append(errs, fmt.Errorf("config: notify.quiet_hours: %w", err))
		}
	}

	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("config: notify.timezone %q: %w", c.Timezone, err))
		}
	}

	if c.Timeout != "" {
		if d, err := time.ParseDuration(c.Timeout); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("config: notify.timeout: invalid duration %q", c.Timeout))
		}
	}

	return errs
}

func validateLogging(c LoggingConfig) []error {
	var errs []error

	switch c.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("config: logging.level must be debug, info, warn, or error, got %q", c.Level))
	}

	switch c.Format {
	case "", "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config: logging.format must be auto, text, or json, got %q", c.Format))
	}

	if c.File.Path != "" {
		if c.File.MaxSizeMB < 1 {
			errs = append(errs, errors.New("config: logging.file.max_size_mb must be at least 1"))
		}
		if c.File.MaxBackups < 0 {
			errs = append(errs, errors.New("config: logging.file.max_backups must not be negative"))
		}
		if c.File.MaxAgeDays < 0 {
			errs = append(errs, errors.New("config: logging.file.max_age_days must not be negative"))
		}
	}

	return errs
}

func validateTracing(c TracingConfig) []error {
	var errs []error

	if c.Endpoint != "" {
		if strings.Contains(c.Endpoint, "://") {
			errs = append(errs, fmt.Errorf("config: tracing.endpoint %q must be host:port without a scheme", c.Endpoint))
		} else if _, _, err := net.SplitHostPort(c.Endpoint); err != nil {
			errs = append(errs, fmt.Errorf("config: tracing.endpoint %q: %w", c.Endpoint, err))
		}
	}

	return errs
}
