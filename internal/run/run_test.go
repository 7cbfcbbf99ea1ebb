package run

import (
	"errors"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := New("daily-sync", ReasonScheduled, now)

	if r.ID == "" {
		t.Error("expected a generated run ID")
	}
	if r.Job != "daily-sync" {
		t.Errorf("job = %q, want daily-sync", r.Job)
	}
	if r.Phase != PhasePending {
		t.Errorf("phase = %q, want pending", r.Phase)
	}
	if r.ExitCode != -1 {
		t.Errorf("exit code = %d, want -1 before execution", r.ExitCode)
	}
	if !r.ScheduledAt.Equal(now) {
		t.Errorf("scheduled_at = %v, want %v", r.ScheduledAt, now)
	}
	if r.Done() {
		t.Error("fresh run should not be done")
	}
}

func TestNew_UniqueIDs(t *testing.T) {
	t.Parallel()

	now := time.Now()
	a := New("j", ReasonManual, now)
	b := New("j", ReasonManual, now)
	if a.ID == b.ID {
		t.Errorf("two runs share ID %q", a.ID)
	}
}

func TestParseReason(t *testing.T) {
	t.Parallel()

	if got, err := ParseReason("scheduled"); err != nil || got != ReasonScheduled {
		t.Errorf("ParseReason(scheduled) = %q, %v", got, err)
	}
	if got, err := ParseReason("manual"); err != nil || got != ReasonManual {
		t.Errorf("ParseReason(manual) = %q, %v", got, err)
	}
	if got, err := ParseReason("webhook"); err != nil || got != ReasonWebhook {
		t.Errorf("ParseReason(webhook) = %q, %v", got, err)
	}
	if _, err := ParseReason("cron"); err == nil {
		t.Error("expected error for unknown reason")
	}
}

func TestIsValidTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to Phase
		want     bool
	}{
		{PhasePending, PhaseSetup, true},
		{PhasePending, PhaseDone, true},
		{PhaseSetup, PhaseRestoring, true},
		{PhaseSetup, PhaseDone, true},
		{PhaseRestoring, PhaseExecuting, true},
		{PhaseRestoring, PhaseDone, true},
		{PhaseExecuting, PhasePersisting, true},
		{PhaseExecuting, PhaseDone, true},
		{PhasePersisting, PhaseDone, true},

		{PhasePending, PhaseExecuting, false}, // restore may not be skipped
		{PhasePending, PhaseRestoring, false}, // setup always runs first
		{PhaseSetup, PhaseExecuting, false},
		{PhaseRestoring, PhasePersisting, false},
		{PhaseDone, PhaseSetup, false},
		{PhaseDone, PhaseDone, false},
		{PhaseExecuting, PhaseExecuting, false},
		{PhaseExecuting, PhaseRestoring, false}, // no going back
	}

	for _, tt := range tests {
		if got := IsValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("IsValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	t.Parallel()

	if !IsTerminal(PhaseDone) {
		t.Error("done should be terminal")
	}
	for _, p := range []Phase{PhasePending, PhaseSetup, PhaseRestoring, PhaseExecuting, PhasePersisting} {
		if IsTerminal(p) {
			t.Errorf("%s should not be terminal", p)
		}
	}
}

func TestRun_AdvanceRecordsDurations(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := New("j", ReasonScheduled, now)

	now = now.Add(100 * time.Millisecond)
	if err := r.Advance(PhaseSetup, now); err != nil {
		t.Fatalf("to setup: %v", err)
	}
	if !r.StartedAt.Equal(now) {
		t.Errorf("started_at = %v, want %v (set on leaving pending)", r.StartedAt, now)
	}

	now = now.Add(2 * time.Second)
	if err := r.Advance(PhaseRestoring, now); err != nil {
		t.Fatalf("to restoring: %v", err)
	}

	if got := r.Durations[PhasePending]; got != 100*time.Millisecond {
		t.Errorf("pending duration = %v, want 100ms", got)
	}
	if got := r.Durations[PhaseSetup]; got != 2*time.Second {
		t.Errorf("setup duration = %v, want 2s", got)
	}
}

func TestRun_AdvanceRejectsInvalid(t *testing.T) {
	t.Parallel()

	r := New("j", ReasonScheduled, time.Now())
	err := r.Advance(PhaseExecuting, time.Now())
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("got %v, want ErrInvalidTransition", err)
	}
	if r.Phase != PhasePending {
		t.Errorf("phase changed to %q on rejected transition", r.Phase)
	}
}

func TestRun_Finish(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := New("j", ReasonManual, start)

	step := start.Add(time.Second)
	if err := r.Advance(PhaseSetup, step); err != nil {
		t.Fatal(err)
	}

	end := start.Add(10 * time.Second)
	if err := r.Finish(OutcomeAborted, end); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	if r.Phase != PhaseDone {
		t.Errorf("phase = %q, want done", r.Phase)
	}
	if r.Outcome != OutcomeAborted {
		t.Errorf("outcome = %q, want aborted", r.Outcome)
	}
	if !r.Done() {
		t.Error("finished run should be done")
	}
	if got := r.Duration(); got != 9*time.Second {
		t.Errorf("duration = %v, want 9s (finish minus started)", got)
	}
}

func TestRun_FinishTwiceFails(t *testing.T) {
	t.Parallel()

	r := New("j", ReasonManual, time.Now())
	if err := r.Finish(OutcomeCanceled, time.Now()); err != nil {
		t.Fatalf("first Finish: %v", err)
	}
	if err := r.Finish(OutcomeSucceeded, time.Now()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second Finish = %v, want ErrInvalidTransition", err)
	}
	if r.Outcome != OutcomeCanceled {
		t.Errorf("outcome overwritten to %q", r.Outcome)
	}
}

func TestRun_DurationZeroWhileLive(t *testing.T) {
	t.Parallel()

	r := New("j", ReasonScheduled, time.Now())
	if got := r.Duration(); got != 0 {
		t.Errorf("duration = %v for live run, want 0", got)
	}
}

func TestRun_Clone(t *testing.T) {
	t.Parallel()

	now := time.Now()
	r := New("j", ReasonScheduled, now)
	_ = r.Advance(PhaseSetup, now.Add(time.Second))

	cp := r.Clone()
	cp.Durations[PhaseSetup] = 42 * time.Second
	cp.Job = "other"

	if r.Job == "other" {
		t.Error("clone shares scalar fields")
	}
	if r.Durations[PhaseSetup] == 42*time.Second {
		t.Error("clone shares the durations map")
	}
}

func TestRun_FullLifecycle(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	r := New("nightly", ReasonScheduled, now)

	phases := []Phase{PhaseSetup, PhaseRestoring, PhaseExecuting, PhasePersisting}
	for _, p := range phases {
		now = now.Add(time.Second)
		if err := r.Advance(p, now); err != nil {
			t.Fatalf("to %s: %v", p, err)
		}
	}

	now = now.Add(time.Second)
	if err := r.Finish(OutcomeSucceeded, now); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	for _, p := range append(phases, PhasePending) {
		if _, ok := r.Durations[p]; !ok {
			t.Errorf("missing duration for phase %s", p)
		}
	}
}
