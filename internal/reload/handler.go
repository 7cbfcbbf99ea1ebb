package reload

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/flemzord/baton/internal/config"
	"github.com/flemzord/baton/internal/cron"
	"github.com/flemzord/baton/internal/event"
	"github.com/flemzord/baton/internal/security"
)

// JobTable is the engine-side surface of a reload: swapping the job
// definitions used by future triggers.
type JobTable interface {
	UpdateJobs(jobs map[string]*config.JobConfig)
}

// JobScheduler swaps the scheduled job set.
type JobScheduler interface {
	Reload(jobs []cron.Job) error
}

// HandlerParams configures a Handler.
type HandlerParams struct {
	Engine    JobTable
	Scheduler JobScheduler

	// Jobs builds the complete scheduler job set for a config, including
	// the maintenance jobs. The scheduler replaces its whole set on
	// reload, so a partial list would silently drop jobs.
	Jobs func(cfg *config.Config) []cron.Job

	Hub    *event.Hub
	Audit  *security.AuditLogger
	Logger *slog.Logger

	// Current is the config the daemon booted with, used to warn about
	// edits a running daemon cannot apply.
	Current *config.Config
}

// Handler applies an edited config file to a running daemon. Only the
// job set is hot-swappable; changes to the gateway, stores, logging, or
// tracing sections are reported as needing a restart.
type Handler struct {
	engine    JobTable
	scheduler JobScheduler
	jobs      func(cfg *config.Config) []cron.Job
	hub       *event.Hub
	audit     *security.AuditLogger
	logger    *slog.Logger

	mu      sync.Mutex
	current *config.Config
}

// NewHandler creates a reload handler.
func NewHandler(p HandlerParams) *Handler {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		engine:    p.Engine,
		scheduler: p.Scheduler,
		jobs:      p.Jobs,
		hub:       p.Hub,
		audit:     p.Audit,
		logger:    logger,
		current:   p.Current,
	}
}

// HandleReload loads path, validates it, and swaps the daemon's job set.
// A config that fails to load or validate leaves the running set
// untouched.
func (h *Handler) HandleReload(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("reload: %w", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	cfg.ApplyDefaults()
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("reload: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// The scheduler validates the replacement set before swapping, so a
	// rejected reload keeps the old schedule ticking.
	if err := h.scheduler.Reload(h.jobs(cfg)); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	h.engine.UpdateJobs(cfg.Jobs)

	for _, section := range restartRequired(h.current, cfg) {
		h.logger.Warn("reload: section changed but a restart is needed to apply it", "section", section)
	}
	h.current = cfg

	if h.hub != nil {
		h.hub.Publish(event.Event{Type: event.TypeConfigReloaded, Detail: path})
	}
	if h.audit != nil {
		h.audit.Log(security.AuditEvent{Type: security.EventConfigReload, Detail: path})
	}

	h.logger.Info("configuration reloaded", "jobs", len(cfg.Jobs))
	return nil
}

// restartRequired names the config sections that changed but are wired
// once at startup.
func restartRequired(old, cur *config.Config) []string {
	if old == nil {
		return nil
	}

	var sections []string
	if old.DataDir != cur.DataDir {
		sections = append(sections, "data_dir")
	}
	if old.Store != cur.Store {
		sections = append(sections, "store")
	}
	if old.History != cur.History {
		sections = append(sections, "history")
	}
	if old.Gateway != cur.Gateway {
		sections = append(sections, "gateway")
	}
	if old.Notify != cur.Notify {
		sections = append(sections, "notify")
	}
	if old.Logging != cur.Logging {
		sections = append(sections, "logging")
	}
	if old.Tracing != cur.Tracing {
		sections = append(sections, "tracing")
	}
	return sections
}
