package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/flemzord/baton/internal/artifact"
	"github.com/flemzord/baton/internal/artifact/fsstore"
	"github.com/flemzord/baton/internal/artifact/sqlitestore"
	"github.com/flemzord/baton/internal/config"
	"github.com/flemzord/baton/internal/cron"
	"github.com/flemzord/baton/internal/engine"
	"github.com/flemzord/baton/internal/event"
	"github.com/flemzord/baton/internal/metrics"
	"github.com/flemzord/baton/internal/notify"
	"github.com/flemzord/baton/internal/security"
)

// credentialNames returns the union of every job's credential list,
// sorted and de-duplicated.
func credentialNames(cfg *config.Config) []string {
	var names []string
	for _, j := range cfg.Jobs {
		names = append(names, j.Credentials...)
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// buildLogger assembles the daemon logger: a console handler chosen by
// the format setting, optionally teed into a rotating JSON log file.
// Every record passes through the redactor before either destination.
func buildLogger(cfg config.LoggingConfig, redactor *security.Redactor) (*slog.Logger, func() error) {
	level := parseLevel(cfg.Level)
	handler := consoleHandler(cfg.Format, level)

	closeFile := func() error { return nil }
	if cfg.File.Path != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
		}
		handler = newTeeHandler(handler, slog.NewJSONHandler(lj, &slog.HandlerOptions{Level: level}))
		closeFile = lj.Close
	}

	return slog.New(security.NewRedactingHandler(handler, redactor)), closeFile
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// consoleHandler picks the stderr handler: under "auto", tint with colors
// when stderr is a terminal; "text" and "json" force plain handlers for
// service managers and log shippers.
func consoleHandler(format string, level slog.Level) slog.Handler {
	switch format {
	case "json":
		return slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	case "text":
		return slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	default:
		return tint.NewHandler(os.Stderr, &tint.Options{
			NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
			TimeFormat: time.Kitchen,
			Level:      level,
		})
	}
}

// teeHandler fans each record out to the console and the log file.
type teeHandler struct {
	handlers []slog.Handler
}

func newTeeHandler(handlers ...slog.Handler) *teeHandler {
	return &teeHandler{handlers: handlers}
}

func (t *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t *teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, h := range t.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		errs = append(errs, h.Handle(ctx, record.Clone()))
	}
	return errors.Join(errs...)
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &teeHandler{handlers: next}
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		next[i] = h.WithGroup(name)
	}
	return &teeHandler{handlers: next}
}

// openStore opens the configured artifact store backend. The returned
// close func releases backend resources; the fs backend has none.
func openStore(cfg config.StoreConfig) (artifact.Store, func() error, error) {
	switch cfg.Backend {
	case config.StoreBackendSQLite:
		s, err := sqlitestore.Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		s, err := fsstore.New(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { return nil }, nil
	}
}

// schedulerJobs builds the complete scheduler job set for a config: one
// trigger job per scheduled job plus the artifact and history pruners.
// The reload handler calls this too, so a config edit swaps the whole
// set consistently.
func schedulerJobs(cfg *config.Config, eng *engine.Engine, hub *event.Hub, m *metrics.Metrics, logger *slog.Logger) []cron.Job {
	jobs := make([]cron.Job, 0, len(cfg.Jobs)+2)
	for _, name := range config.ScheduledJobs(cfg) {
		jobs = append(jobs, &cron.TriggerJob{
			JobName:      name,
			ScheduleExpr: cfg.Jobs[name].Schedule,
			Engine:       eng,
			Hub:          hub,
			Metrics:      m,
			Logger:       logger,
		})
	}
	jobs = append(jobs,
		&cron.ArtifactPruneJob{Engine: eng, Logger: logger},
		&cron.HistoryPruneJob{
			Engine: eng,
			Keep:   time.Duration(cfg.History.KeepDays) * 24 * time.Hour,
			Logger: logger,
		},
	)
	return jobs
}

// notifierConfig maps the YAML notify section onto the notifier config.
// Validate has already checked the quiet hours and timezone, so errors
// here mean the config changed underneath us.
func notifierConfig(cfg config.NotifyConfig, logger *slog.Logger) (notify.Config, error) {
	nc := notify.Config{
		URL:          cfg.URL,
		Secret:       cfg.Secret,
		FailuresOnly: cfg.NotifyOn == config.NotifyFailures,
		Timeout:      cfg.ParsedTimeout(),
		Logger:       logger,
	}
	if cfg.QuietHours != "" {
		q, err := notify.ParseQuietHours(cfg.QuietHours)
		if err != nil {
			return notify.Config{}, fmt.Errorf("app: notify.quiet_hours: %w", err)
		}
		nc.Quiet = &q
	}
	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return notify.Config{}, fmt.Errorf("app: notify.timezone: %w", err)
		}
		nc.Timezone = loc
	}
	return nc, nil
}
