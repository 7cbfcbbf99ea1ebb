package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/baton/internal/engine"
	"github.com/flemzord/baton/internal/event"
	"github.com/flemzord/baton/internal/metrics"
	"github.com/flemzord/baton/internal/run"
)

// Runner is the subset of the engine needed to fire a scheduled run.
// Defined here so job tests can run against a stub instead of a full
// engine with its stores.
type Runner interface {
	Trigger(ctx context.Context, job string, reason run.Reason) (*run.Run, error)
}

// TriggerJob fires one configured job on its schedule. Overlap is the
// engine's call: a tick that finds the previous run still in progress is
// recorded as skipped, not queued.
type TriggerJob struct {
	JobName      string
	ScheduleExpr string
	Engine       Runner
	Hub          *event.Hub
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// Compile-time interface check.
var _ Job = (*TriggerJob)(nil)

// Name implements Job. The prefix keeps configured job names from
// colliding with the maintenance jobs.
func (j *TriggerJob) Name() string {
	return "job:" + j.JobName
}

// Schedule implements Job.
func (j *TriggerJob) Schedule() string {
	return j.ScheduleExpr
}

// Run triggers the job through the engine. A run rejected because the
// previous one is still in flight counts as a skipped tick; the run's own
// outcome is not a scheduler error.
func (j *TriggerJob) Run(ctx context.Context) error {
	_, err := j.Engine.Trigger(ctx, j.JobName, run.ReasonScheduled)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, engine.ErrRunInProgress):
		j.Logger.Warn("cron: previous run still in progress, skipping tick",
			"job", j.JobName,
		)
		if j.Metrics != nil {
			j.Metrics.RunSkipped(j.JobName)
		}
		if j.Hub != nil {
			j.Hub.Publish(event.Event{
				Type:   event.TypeRunSkipped,
				Job:    j.JobName,
				Detail: "previous run still in progress",
			})
		}
		return nil
	default:
		return fmt.Errorf("cron: trigger %s: %w", j.JobName, err)
	}
}

// ArtifactPruner is the subset of the engine used to expire old session
// artifacts.
type ArtifactPruner interface {
	PruneArtifacts(ctx context.Context) (int, error)
}

// ArtifactPruneJob removes session artifacts past their retention window.
type ArtifactPruneJob struct {
	Engine       ArtifactPruner
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "0 * * * *"
}

// Compile-time interface check.
var _ Job = (*ArtifactPruneJob)(nil)

// Name implements Job.
func (j *ArtifactPruneJob) Name() string {
	return "artifact_prune"
}

// Schedule implements Job.
func (j *ArtifactPruneJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "0 * * * *"
}

// Run prunes expired artifacts.
func (j *ArtifactPruneJob) Run(ctx context.Context) error {
	pruned, err := j.Engine.PruneArtifacts(ctx)
	if err != nil {
		return fmt.Errorf("cron: prune artifacts: %w", err)
	}
	if pruned > 0 {
		j.Logger.Info("cron: pruned expired session artifacts", "count", pruned)
	}
	return nil
}

// HistoryPruner is the subset of the engine used to trim old run records.
type HistoryPruner interface {
	PruneHistory(ctx context.Context, keep time.Duration) (int, error)
}

// HistoryPruneJob deletes run history older than the keep window.
type HistoryPruneJob struct {
	Engine       HistoryPruner
	Keep         time.Duration
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "30 3 * * *"
}

// Compile-time interface check.
var _ Job = (*HistoryPruneJob)(nil)

// Name implements Job.
func (j *HistoryPruneJob) Name() string {
	return "history_prune"
}

// Schedule implements Job.
func (j *HistoryPruneJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "30 3 * * *"
}

// Run trims old run records.
func (j *HistoryPruneJob) Run(ctx context.Context) error {
	pruned, err := j.Engine.PruneHistory(ctx, j.Keep)
	if err != nil {
		return fmt.Errorf("cron: prune history: %w", err)
	}
	if pruned > 0 {
		j.Logger.Info("cron: pruned old run records", "count", pruned)
	}
	return nil
}
