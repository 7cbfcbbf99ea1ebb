package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/flemzord/baton/internal/engine"
	"github.com/flemzord/baton/internal/history"
	"github.com/flemzord/baton/internal/run"
	"github.com/flemzord/baton/internal/security"
	"github.com/flemzord/baton/internal/workunit"
)

// runCmd executes one job in-process and blocks until it finishes. It
// shares the artifact store and per-job lock files with a running
// daemon, so a manual run cannot overlap a scheduled one.
func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <job>",
		Short: "Run one job now and wait for it to finish",
		Long: `Run executes a single job immediately, restoring its session artifact
first and persisting it afterwards, exactly as a scheduled tick would.

The exit code mirrors the outcome: 0 when the run succeeded, 1 when the
job command failed, 2 when the run aborted before the command started.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := args[0]
			cfg, _, err := loadConfig(configFlags(cmd))
			if err != nil {
				return err
			}

			jc, ok := cfg.Jobs[job]
			if !ok {
				return fmt.Errorf("unknown job %q", job)
			}

			// Only this job's credentials are required; the other jobs'
			// variables may stay unset for a one-shot run.
			creds, missing := security.FromEnv(jc.Credentials)
			if len(missing) > 0 {
				return fmt.Errorf("missing credential variables: %s", strings.Join(missing, ", "))
			}
			redactor := security.NewRedactor()
			redactor.SyncCredentials(creds)

			logger := slog.New(security.NewRedactingHandler(
				slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}),
				redactor,
			))

			if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}

			auditFile, err := os.OpenFile(filepath.Join(cfg.DataDir, "audit.log"),
				os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
			if err != nil {
				return fmt.Errorf("open audit log: %w", err)
			}
			defer auditFile.Close()
			audit := security.NewAuditLogger(security.AuditLoggerConfig{
				Writer:   auditFile,
				Redactor: redactor,
			})

			store, closeStore, err := openArtifactStore(cfg.Store)
			if err != nil {
				return fmt.Errorf("open artifact store: %w", err)
			}
			defer closeStore()

			hist, err := history.Open(cfg.History.Path)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer hist.Close()

			eng, err := engine.New(engine.Params{
				DataDir:     cfg.DataDir,
				Jobs:        cfg.Jobs,
				Store:       store,
				History:     hist,
				Credentials: creds,
				Unit:        &workunit.Exec{},
				Audit:       audit,
				Redactor:    redactor,
				Logger:      logger,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			r, err := eng.Trigger(ctx, job, run.ReasonManual)
			if err != nil {
				return err
			}

			printRunSummary(r)
			switch r.Outcome {
			case run.OutcomeSucceeded:
				return nil
			case run.OutcomeFailed:
				return &exitError{code: 1}
			default:
				return &exitError{code: 2}
			}
		},
	}
	addConfigFlags(cmd)
	return cmd
}

func printRunSummary(r *run.Run) {
	fmt.Printf("%s %s %s\n",
		outcomeStyle(r.Outcome).Sprint(strings.ToUpper(string(r.Outcome))),
		boldStyle.Sprint(r.Job),
		faintStyle.Sprintf("(%s)", r.ID),
	)
	fmt.Printf("  duration: %s\n", r.Duration().Round(time.Millisecond))
	if r.ColdStart {
		fmt.Printf("  session:  %s\n", warnStyle.Sprint("cold start, no stored session"))
	} else {
		fmt.Printf("  session:  restored %d files\n", r.Restored)
	}
	if r.Persisted > 0 {
		fmt.Printf("  persisted: %d files (%s)\n", r.Persisted, formatBytes(r.PersistedBytes))
	}
	if r.ExitCode >= 0 {
		fmt.Printf("  exit code: %d\n", r.ExitCode)
	}
	if r.Error != "" {
		fmt.Printf("  %s\n", failStyle.Sprint(r.Error))
	}
}

func outcomeStyle(o run.Outcome) *color.Color {
	switch o {
	case run.OutcomeSucceeded:
		return okStyle
	case run.OutcomeFailed:
		return failStyle
	default:
		return warnStyle
	}
}
