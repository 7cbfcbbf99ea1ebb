package cron

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/flemzord/baton/internal/engine"
	"github.com/flemzord/baton/internal/event"
	"github.com/flemzord/baton/internal/metrics"
	"github.com/flemzord/baton/internal/run"
)

// stubRunner implements Runner for job tests.
type stubRunner struct {
	calls  []string
	reason run.Reason
	err    error
}

func (s *stubRunner) Trigger(_ context.Context, job string, reason run.Reason) (*run.Run, error) {
	s.calls = append(s.calls, job)
	s.reason = reason
	if s.err != nil {
		return nil, s.err
	}
	return run.New(job, reason, time.Now()), nil
}

func TestTriggerJob_Name(t *testing.T) {
	t.Parallel()
	j := &TriggerJob{JobName: "checkin", Logger: slog.Default()}
	if j.Name() != "job:checkin" {
		t.Errorf("name = %q, want %q", j.Name(), "job:checkin")
	}
}

func TestTriggerJob_Run(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{}
	j := &TriggerJob{JobName: "checkin", ScheduleExpr: "30 7 * * *", Engine: runner, Logger: slog.Default()}

	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runner.calls) != 1 || runner.calls[0] != "checkin" {
		t.Errorf("calls = %v", runner.calls)
	}
	if runner.reason != run.ReasonScheduled {
		t.Errorf("reason = %s, want scheduled", runner.reason)
	}
}

func TestTriggerJob_SkipsWhenRunInProgress(t *testing.T) {
	t.Parallel()

	hub := event.NewHub()
	events, cancel := hub.Subscribe(4)
	defer cancel()
	m := metrics.New()

	runner := &stubRunner{err: engine.ErrRunInProgress}
	j := &TriggerJob{
		JobName: "checkin",
		Engine:  runner,
		Hub:     hub,
		Metrics: m,
		Logger:  slog.Default(),
	}

	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("a busy job is a skip, not an error: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Type != event.TypeRunSkipped || ev.Job != "checkin" {
			t.Errorf("event = %+v", ev)
		}
	default:
		t.Error("no skip event published")
	}
	if m.Snapshot().RunsSkipped != 1 {
		t.Errorf("skipped = %d, want 1", m.Snapshot().RunsSkipped)
	}
}

func TestTriggerJob_PropagatesTriggerError(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{err: engine.ErrUnknownJob}
	j := &TriggerJob{JobName: "ghost", Engine: runner, Logger: slog.Default()}

	if err := j.Run(context.Background()); !errors.Is(err, engine.ErrUnknownJob) {
		t.Errorf("error = %v, want ErrUnknownJob", err)
	}
}

// stubPruner implements ArtifactPruner and HistoryPruner.
type stubPruner struct {
	pruned int
	keep   time.Duration
	err    error
}

func (s *stubPruner) PruneArtifacts(_ context.Context) (int, error) {
	return s.pruned, s.err
}

func (s *stubPruner) PruneHistory(_ context.Context, keep time.Duration) (int, error) {
	s.keep = keep
	return s.pruned, s.err
}

func TestArtifactPruneJob_Name(t *testing.T) {
	t.Parallel()
	j := &ArtifactPruneJob{Logger: slog.Default()}
	if j.Name() != "artifact_prune" {
		t.Errorf("name = %q", j.Name())
	}
}

func TestArtifactPruneJob_Schedule(t *testing.T) {
	t.Parallel()
	j := &ArtifactPruneJob{Logger: slog.Default()}
	if j.Schedule() != "0 * * * *" {
		t.Errorf("schedule = %q, want hourly default", j.Schedule())
	}
	j.ScheduleExpr = "*/30 * * * *"
	if j.Schedule() != "*/30 * * * *" {
		t.Errorf("schedule = %q", j.Schedule())
	}
}

func TestArtifactPruneJob_Run(t *testing.T) {
	t.Parallel()

	j := &ArtifactPruneJob{Engine: &stubPruner{pruned: 3}, Logger: slog.Default()}
	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	j = &ArtifactPruneJob{Engine: &stubPruner{err: errors.New("disk gone")}, Logger: slog.Default()}
	if err := j.Run(context.Background()); err == nil {
		t.Fatal("expected error from failing store")
	}
}

func TestHistoryPruneJob_Name(t *testing.T) {
	t.Parallel()
	j := &HistoryPruneJob{Logger: slog.Default()}
	if j.Name() != "history_prune" {
		t.Errorf("name = %q", j.Name())
	}
}

func TestHistoryPruneJob_Schedule(t *testing.T) {
	t.Parallel()
	j := &HistoryPruneJob{Logger: slog.Default()}
	if j.Schedule() != "30 3 * * *" {
		t.Errorf("schedule = %q, want nightly default", j.Schedule())
	}
}

func TestHistoryPruneJob_Run(t *testing.T) {
	t.Parallel()

	pruner := &stubPruner{pruned: 12}
	j := &HistoryPruneJob{Engine: pruner, Keep: 90 * 24 * time.Hour, Logger: slog.Default()}

	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pruner.keep != 90*24*time.Hour {
		t.Errorf("keep = %v, want 90 days", pruner.keep)
	}
}
