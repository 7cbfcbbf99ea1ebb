// Package run defines the run model shared by the engine, history store,
// gateway, and CLI. A run is one execution of a job: a walk through the
// phase state machine with a recorded outcome.
package run

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Reason says what triggered a run.
type Reason string

// Trigger reasons. API triggers count as manual; webhook calls carry
// their own reason so history shows which external system fired them.
const (
	ReasonScheduled Reason = "scheduled"
	ReasonManual    Reason = "manual"
	ReasonWebhook   Reason = "webhook"
)

// ParseReason validates a trigger reason from external input.
func ParseReason(s string) (Reason, error) {
	switch Reason(s) {
	case ReasonScheduled, ReasonManual, ReasonWebhook:
		return Reason(s), nil
	}
	return "", fmt.Errorf("unknown trigger reason %q", s)
}

// Phase is a stage in the run lifecycle.
type Phase string

// Run phases in execution order.
const (
	PhasePending    Phase = "pending"
	PhaseSetup      Phase = "setup"
	PhaseRestoring  Phase = "restoring"
	PhaseExecuting  Phase = "executing"
	PhasePersisting Phase = "persisting"
	PhaseDone       Phase = "done"
)

// Outcome classifies a finished run.
type Outcome string

// Run outcomes. Aborted means the run never reached the job command
// (setup or restore failed); failed means the command ran and exited
// non-zero or timed out; canceled means the daemon shut down mid-run.
const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeAborted   Outcome = "aborted"
	OutcomeCanceled  Outcome = "canceled"
)

// ValidTransitions defines the allowed phase transitions. Every live
// phase may jump straight to done, which is how aborts and skipped
// persists terminate a run.
var ValidTransitions = map[Phase][]Phase{
	PhasePending:    {PhaseSetup, PhaseDone},
	PhaseSetup:      {PhaseRestoring, PhaseDone},
	PhaseRestoring:  {PhaseExecuting, PhaseDone},
	PhaseExecuting:  {PhasePersisting, PhaseDone},
	PhasePersisting: {PhaseDone},
}

// ErrInvalidTransition is returned when a phase transition is not allowed.
var ErrInvalidTransition = errors.New("invalid phase transition")

// IsValidTransition checks whether a phase transition is allowed.
// Same-phase transitions are not.
func IsValidTransition(from, to Phase) bool {
	for _, target := range ValidTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the phase admits no further transitions.
func IsTerminal(p Phase) bool {
	_, live := ValidTransitions[p]
	return !live
}

// Run is one execution of a job.
type Run struct {
	ID      string  `json:"id"`
	Job     string  `json:"job"`
	Reason  Reason  `json:"reason"`
	Phase   Phase   `json:"phase"`
	Outcome Outcome `json:"outcome,omitempty"`

	// ColdStart is true when no persisted artifact existed at restore
	// time and the job had to start from scratch.
	ColdStart bool `json:"cold_start"`

	// Restored and Persisted count session files materialized into and
	// collected out of the working directory.
	Restored       int   `json:"restored"`
	Persisted      int   `json:"persisted"`
	PersistedBytes int64 `json:"persisted_bytes,omitempty"`

	// ExitCode is the job command's exit code, or -1 if it never ran.
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`

	ScheduledAt time.Time `json:"scheduled_at"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`

	// Durations records wall time spent in each completed phase.
	Durations map[Phase]time.Duration `json:"durations,omitempty"`

	phaseEnteredAt time.Time
}

// New creates a pending run for the given job. now should be the moment
// the trigger fired; lock acquisition time shows up as the pending
// phase's duration.
func New(job string, reason Reason, now time.Time) *Run {
	now = now.UTC()
	return &Run{
		ID:             uuid.NewString(),
		Job:            job,
		Reason:         reason,
		Phase:          PhasePending,
		ExitCode:       -1,
		ScheduledAt:    now,
		Durations:      make(map[Phase]time.Duration),
		phaseEnteredAt: now,
	}
}

// Advance moves the run to the next phase, recording how long the
// previous phase took. Leaving pending stamps StartedAt.
func (r *Run) Advance(to Phase, now time.Time) error {
	if !IsValidTransition(r.Phase, to) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, r.Phase, to)
	}
	now = now.UTC()

	r.Durations[r.Phase] += now.Sub(r.phaseEnteredAt)
	if r.Phase == PhasePending && r.StartedAt.IsZero() {
		r.StartedAt = now
	}
	r.Phase = to
	r.phaseEnteredAt = now
	return nil
}

// Finish moves the run to done and records the outcome. Finishing is
// valid from every live phase.
func (r *Run) Finish(outcome Outcome, now time.Time) error {
	if err := r.Advance(PhaseDone, now); err != nil {
		return err
	}
	r.Outcome = outcome
	r.FinishedAt = now.UTC()
	return nil
}

// Done reports whether the run has finished.
func (r *Run) Done() bool {
	return IsTerminal(r.Phase)
}

// Duration returns total wall time from start to finish, or zero while
// the run is still live.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	start := r.StartedAt
	if start.IsZero() {
		start = r.ScheduledAt
	}
	return r.FinishedAt.Sub(start)
}

// Clone returns a deep copy safe to hand to other goroutines while the
// engine keeps mutating the original.
func (r *Run) Clone() *Run {
	cp := *r
	cp.Durations = make(map[Phase]time.Duration, len(r.Durations))
	for k, v := range r.Durations {
		cp.Durations[k] = v
	}
	return &cp
}
