// Package app provides the shared entry point for the baton daemon.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/flemzord/baton/internal/config"
	"github.com/flemzord/baton/internal/cron"
	"github.com/flemzord/baton/internal/engine"
	"github.com/flemzord/baton/internal/event"
	"github.com/flemzord/baton/internal/flock"
	"github.com/flemzord/baton/internal/gateway"
	"github.com/flemzord/baton/internal/history"
	"github.com/flemzord/baton/internal/metrics"
	"github.com/flemzord/baton/internal/notify"
	"github.com/flemzord/baton/internal/observability"
	"github.com/flemzord/baton/internal/reload"
	"github.com/flemzord/baton/internal/security"
	"github.com/flemzord/baton/internal/workunit"
)

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, config.Locate searches the standard locations.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// DataDir overrides the configured persistent data directory.
	DataDir string
}

// Run loads configuration, starts the scheduler and gateway, and blocks
// until a shutdown signal is received. SIGHUP and config file edits
// trigger a live reload of the job table; in-flight runs finish under
// the definition they started with.
func Run(params RunParams) error {
	cfgPath, err := config.Locate(params.ConfigPath)
	if err != nil {
		return err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if params.DataDir != "" {
		cfg.DataDir = params.DataDir
	}
	cfg.ApplyDefaults()
	if err := config.Validate(cfg); err != nil {
		return err
	}

	// Load credentials before anything can run. A scheduled job firing
	// with half its credentials missing would burn the session it was
	// supposed to keep alive, so a missing variable is fatal at startup.
	creds, missing := security.FromEnv(credentialNames(cfg))
	if len(missing) > 0 {
		return fmt.Errorf("app: missing credential variables: %s", strings.Join(missing, ", "))
	}

	redactor := security.NewRedactor()
	redactor.SyncCredentials(creds)

	logger, closeLogs := buildLogger(cfg.Logging, redactor)
	defer closeLogs()

	logger.Info("baton starting",
		"version", params.Version,
		"config", cfgPath,
		"data_dir", cfg.DataDir,
	)

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("app: create data dir: %w", err)
	}

	// One daemon per data dir. Two schedulers sharing an artifact store
	// would clobber each other's sessions.
	lock, err := flock.Acquire(filepath.Join(cfg.DataDir, "baton.lock"))
	if err != nil {
		return err
	}
	defer lock.Release()

	if cfg.Tracing.Endpoint != "" {
		shutdown, err := observability.Setup(context.Background(), observability.Params{
			Endpoint: cfg.Tracing.Endpoint,
			Insecure: cfg.Tracing.Insecure,
			Service:  "baton",
			Version:  params.Version,
		})
		if err != nil {
			return fmt.Errorf("app: tracing: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				logger.Warn("tracing shutdown", "error", err)
			}
		}()
	}

	auditFile, err := os.OpenFile(filepath.Join(cfg.DataDir, "audit.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("app: open audit log: %w", err)
	}
	defer auditFile.Close()
	audit := security.NewAuditLogger(security.AuditLoggerConfig{
		Writer:   auditFile,
		Redactor: redactor,
	})

	store, closeStore, err := openStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("app: open artifact store: %w", err)
	}
	defer closeStore()

	hist, err := history.Open(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("app: open history: %w", err)
	}
	defer hist.Close()

	hub := event.NewHub()
	defer hub.Close()
	m := metrics.New()

	eng, err := engine.New(engine.Params{
		DataDir:     cfg.DataDir,
		Jobs:        cfg.Jobs,
		Store:       store,
		History:     hist,
		Credentials: creds,
		Unit:        &workunit.Exec{},
		Hub:         hub,
		Metrics:     m,
		Audit:       audit,
		Redactor:    redactor,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	sched := cron.NewScheduler(logger)
	for _, j := range schedulerJobs(cfg, eng, hub, m, logger) {
		if err := sched.RegisterJob(j); err != nil {
			return err
		}
	}

	// runCtx parents every triggered run; cancel on shutdown aborts
	// whatever is still executing.
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	var notifier *notify.Notifier
	if cfg.Notify.URL != "" {
		nc, err := notifierConfig(cfg.Notify, logger)
		if err != nil {
			return err
		}
		notifier, err = notify.New(nc, hub)
		if err != nil {
			return err
		}
		if err := notifier.Start(runCtx); err != nil {
			return err
		}
		defer notifier.Stop(context.Background())
	}

	gw, err := gateway.New(gateway.Params{
		Config:     cfg.Gateway,
		DataDir:    cfg.DataDir,
		Engine:     eng,
		Store:      store,
		History:    hist,
		Hub:        hub,
		Metrics:    m,
		Audit:      audit,
		Limiter:    security.NewRateLimiter(0, 0),
		Logger:     logger,
		RunContext: runCtx,
	})
	if err != nil {
		return err
	}

	if err := sched.Start(); err != nil {
		return err
	}
	if err := gw.Start(); err != nil {
		sched.Stop(context.Background())
		return err
	}

	handler := reload.NewHandler(reload.HandlerParams{
		Engine:    eng,
		Scheduler: sched,
		Jobs: func(next *config.Config) []cron.Job {
			return schedulerJobs(next, eng, hub, m, logger)
		},
		Hub:     hub,
		Audit:   audit,
		Logger:  logger,
		Current: cfg,
	})

	// --- signal handling ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	// --- file watcher ---
	watcher := reload.NewWatcher(cfgPath, 0)
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	watcher.Start(watchCtx)
	defer watcher.Stop()

	logger.Info("baton ready", "jobs", len(cfg.Jobs), "bind", cfg.Gateway.Bind)

	// --- main event loop ---
	for {
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				logger.Info("SIGHUP received, reloading configuration")
				if err := handler.HandleReload(watchCtx, cfgPath); err != nil {
					logger.Error("reload failed", "error", err)
				}
			default:
				logger.Info("shutdown signal received", "signal", sig.String())
				if err := gw.Stop(context.Background()); err != nil {
					logger.Warn("gateway stop", "error", err)
				}
				if err := sched.Stop(context.Background()); err != nil {
					logger.Warn("scheduler stop", "error", err)
				}
				cancelRuns()
				logger.Info("shutdown complete")
				return nil
			}
		case evt := <-watcher.Changes():
			logger.Info("config file changed, reloading", "path", evt.Path)
			if err := handler.HandleReload(watchCtx, cfgPath); err != nil {
				logger.Error("reload failed", "error", err)
			}
		}
	}
}
