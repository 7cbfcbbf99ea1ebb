// Package engine runs jobs through the session pipeline: setup, restore,
// execute, persist. One engine serves every trigger source; overlap
// control and credential injection live here so the scheduler, the CLI,
// and the gateway cannot disagree about them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/baton/internal/artifact"
	"github.com/flemzord/baton/internal/config"
	"github.com/flemzord/baton/internal/event"
	"github.com/flemzord/baton/internal/flock"
	"github.com/flemzord/baton/internal/history"
	"github.com/flemzord/baton/internal/metrics"
	"github.com/flemzord/baton/internal/run"
	"github.com/flemzord/baton/internal/security"
	"github.com/flemzord/baton/internal/workunit"
)

// Sentinel errors for trigger requests.
var (
	ErrUnknownJob    = errors.New("engine: unknown job")
	ErrJobDisabled   = errors.New("engine: job is disabled")
	ErrRunInProgress = errors.New("engine: run already in progress")
)

// Params collects the engine's dependencies. Store and Unit are
// required; everything else defaults to a working no-op.
type Params struct {
	DataDir string
	Jobs    map[string]*config.JobConfig

	Store       artifact.Store
	History     *history.Store
	Credentials *security.CredentialStore
	Unit        workunit.Unit

	Hub      *event.Hub
	Metrics  *metrics.Metrics
	Audit    *security.AuditLogger
	Redactor *security.Redactor
	Logger   *slog.Logger
	Now      func() time.Time
}

// Engine executes runs. Safe for concurrent use.
type Engine struct {
	dataDir  string
	store    artifact.Store
	history  *history.Store
	creds    *security.CredentialStore
	unit     workunit.Unit
	hub      *event.Hub
	metrics  *metrics.Metrics
	audit    *security.AuditLogger
	redactor *security.Redactor
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time

	// mu guards the job table, the live map, and every field of the runs
	// inside it, so Running snapshots never observe a half-written record.
	mu        sync.Mutex
	jobs      map[string]*config.JobConfig
	credNames []string
	live      map[string]*run.Run
}

// New creates an engine for the given job table.
func New(p Params) (*Engine, error) {
	if p.Store == nil {
		return nil, errors.New("engine: nil artifact store")
	}
	if p.Unit == nil {
		return nil, errors.New("engine: nil work unit")
	}
	if p.DataDir == "" {
		return nil, errors.New("engine: data dir is required")
	}
	if err := os.MkdirAll(filepath.Join(p.DataDir, "locks"), 0o750); err != nil {
		return nil, fmt.Errorf("engine: create locks dir: %w", err)
	}

	if p.Credentials == nil {
		p.Credentials = security.NewCredentialStore()
	}
	if p.Hub == nil {
		p.Hub = event.NewHub()
	}
	if p.Metrics == nil {
		p.Metrics = metrics.New()
	}
	if p.Audit == nil {
		p.Audit = security.NewAuditLogger(security.AuditLoggerConfig{})
	}
	if p.Redactor == nil {
		p.Redactor = security.NewRedactor()
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Now == nil {
		p.Now = time.Now
	}

	return &Engine{
		dataDir:   p.DataDir,
		store:     p.Store,
		history:   p.History,
		creds:     p.Credentials,
		unit:      p.Unit,
		hub:       p.Hub,
		metrics:   p.Metrics,
		audit:     p.Audit,
		redactor:  p.Redactor,
		logger:    p.Logger,
		tracer:    otel.Tracer("baton/engine"),
		now:       p.Now,
		jobs:      p.Jobs,
		credNames: credentialNames(p.Jobs),
		live:      make(map[string]*run.Run),
	}, nil
}

// credentialNames returns the sorted union of every credential name any
// job declares. SanitizedEnv drops them all, so a credential reaches a
// job only through its own declared list.
func credentialNames(jobs map[string]*config.JobConfig) []string {
	seen := make(map[string]struct{})
	for _, j := range jobs {
		for _, name := range j.Credentials {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// UpdateJobs swaps the job table after a config reload. Live runs keep
// the definition they started with.
func (e *Engine) UpdateJobs(jobs map[string]*config.JobConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.jobs = jobs
	e.credNames = credentialNames(jobs)
}

// Jobs returns a snapshot of the current job table. Callers treat the
// definitions as read-only.
func (e *Engine) Jobs() map[string]*config.JobConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]*config.JobConfig, len(e.jobs))
	for name, jc := range e.jobs {
		out[name] = jc
	}
	return out
}

// Trigger runs the named job and blocks until it finishes. The returned
// run is a snapshot taken at completion.
func (e *Engine) Trigger(ctx context.Context, job string, reason run.Reason) (*run.Run, error) {
	h, err := e.begin(job, reason)
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, h), nil
}

// TriggerAsync starts the named job and returns a snapshot of the
// pending run immediately. ctx governs the whole run, so callers pass
// the daemon context rather than a request context.
func (e *Engine) TriggerAsync(ctx context.Context, job string, reason run.Reason) (*run.Run, error) {
	h, err := e.begin(job, reason)
	if err != nil {
		return nil, err
	}
	snapshot := h.run.Clone()
	go e.execute(ctx, h)
	return snapshot, nil
}

// handle carries one accepted run through the pipeline.
type handle struct {
	run  *run.Run
	cfg  *config.JobConfig
	drop []string // every configured credential name, for env sanitizing
	lock *flock.Lock
	log  io.Writer
}

// begin admits a trigger: it resolves the job, claims the in-process
// slot, and takes the cross-process lock. The flock is the hard
// guarantee; the live map is the fast path that also backs Running.
func (e *Engine) begin(job string, reason run.Reason) (*handle, error) {
	e.mu.Lock()
	jc, ok := e.jobs[job]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, job)
	}
	if jc.Disabled {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobDisabled, job)
	}
	if _, busy := e.live[job]; busy {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, job)
	}
	r := run.New(job, reason, e.now())
	e.live[job] = r
	drop := e.credNames
	e.mu.Unlock()

	lock, err := flock.Acquire(filepath.Join(e.dataDir, "locks", job+".lock"))
	if err != nil {
		e.mu.Lock()
		delete(e.live, job)
		e.mu.Unlock()
		if errors.Is(err, flock.ErrLocked) {
			return nil, fmt.Errorf("%w: %s (held by another process)", ErrRunInProgress, job)
		}
		return nil, fmt.Errorf("engine: lock %s: %w", job, err)
	}

	return &handle{run: r, cfg: jc, drop: drop, lock: lock}, nil
}

// execute drives one admitted run to completion and returns the final
// snapshot.
func (e *Engine) execute(ctx context.Context, h *handle) *run.Run {
	r := h.run
	defer func() {
		_ = h.lock.Release()
		e.mu.Lock()
		delete(e.live, r.Job)
		e.mu.Unlock()
	}()

	ctx, span := e.tracer.Start(ctx, "run "+r.Job,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("job", r.Job),
			attribute.String("run_id", r.ID),
			attribute.String("reason", string(r.Reason)),
		),
	)
	defer span.End()

	e.metrics.RunStarted()
	e.hub.Publish(event.Event{Type: event.TypeRunStarted, Job: r.Job, RunID: r.ID})
	e.audit.Log(security.AuditEvent{
		Type:   security.EventRunStarted,
		Job:    r.Job,
		RunID:  r.ID,
		Reason: string(r.Reason),
	})
	e.logger.Info("run started", "job", r.Job, "run_id", r.ID, "reason", r.Reason)

	closeLog := e.openRunLog(h)

	outcome := e.pipeline(ctx, h)

	if err := closeLog(); err != nil {
		e.logger.Warn("closing run log failed", "job", r.Job, "run_id", r.ID, "error", err)
	}

	e.mu.Lock()
	finishErr := r.Finish(outcome, e.now())
	e.mu.Unlock()
	if finishErr != nil {
		e.logger.Error("finish transition rejected", "job", r.Job, "run_id", r.ID, "error", finishErr)
	}

	if outcome == run.OutcomeSucceeded {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, r.Error)
	}
	span.SetAttributes(
		attribute.String("outcome", string(outcome)),
		attribute.Int("exit_code", r.ExitCode),
		attribute.Bool("cold_start", r.ColdStart),
	)

	e.metrics.RunFinished(r)

	// Record before announcing, so anyone reacting to the finished event
	// already finds the run in history.
	if e.history != nil {
		if err := e.history.Record(context.Background(), r); err != nil {
			e.logger.Error("recording run failed", "job", r.Job, "run_id", r.ID, "error", err)
		}
	}

	e.audit.Log(security.AuditEvent{
		Type:   security.EventRunFinished,
		Job:    r.Job,
		RunID:  r.ID,
		Detail: string(outcome),
	})
	e.hub.Publish(event.Event{
		Type:    event.TypeRunFinished,
		Job:     r.Job,
		RunID:   r.ID,
		Outcome: outcome,
		Detail:  r.Error,
	})

	e.logger.Info("run finished",
		"job", r.Job,
		"run_id", r.ID,
		"outcome", outcome,
		"exit_code", r.ExitCode,
		"cold_start", r.ColdStart,
		"persisted", r.Persisted,
		"duration", r.Duration(),
	)

	return r.Clone()
}

// pipeline walks the live phases and classifies the result. The phase
// methods own their own spans; pipeline owns the outcome rules.
func (e *Engine) pipeline(ctx context.Context, h *handle) run.Outcome {
	r := h.run

	e.advance(r, run.PhaseSetup)
	if err := e.runSetup(ctx, h); err != nil {
		return e.abort(ctx, r, err)
	}

	e.advance(r, run.PhaseRestoring)
	if err := e.restore(ctx, h); err != nil {
		return e.abort(ctx, r, err)
	}

	// Resolve credentials before entering the executing phase; a missing
	// credential means the command never ran.
	pairs, err := e.creds.Pairs(h.cfg.Credentials...)
	if err != nil {
		return e.abort(ctx, r, err)
	}

	e.advance(r, run.PhaseExecuting)
	execErr := e.runCommand(ctx, h, pairs)

	if ctx.Err() != nil {
		e.setError(r, "daemon shutting down: "+ctx.Err().Error())
		return run.OutcomeCanceled
	}

	failed := execErr != nil || r.ExitCode != 0
	switch {
	case execErr != nil:
		e.setError(r, execErr.Error())
	case r.ExitCode != 0:
		e.setError(r, fmt.Sprintf("command exited with status %d", r.ExitCode))
	}

	if failed && h.cfg.Persist == config.PersistOnSuccess {
		e.logger.Info("persist skipped for failed run", "job", r.Job, "run_id", r.ID)
		return run.OutcomeFailed
	}

	e.advance(r, run.PhasePersisting)
	if err := e.persist(ctx, h); err != nil {
		e.appendError(r, err.Error())
		return run.OutcomeFailed
	}

	if failed {
		return run.OutcomeFailed
	}
	return run.OutcomeSucceeded
}

// abort terminates a run that never reached the job command. A daemon
// shutdown during setup or restore counts as canceled, not aborted.
func (e *Engine) abort(ctx context.Context, r *run.Run, err error) run.Outcome {
	e.setError(r, err.Error())
	if ctx.Err() != nil {
		return run.OutcomeCanceled
	}
	return run.OutcomeAborted
}

// runSetup prepares the working directory and runs the setup commands.
// Setup runs with a sanitized environment and no credentials.
func (e *Engine) runSetup(ctx context.Context, h *handle) error {
	if err := os.MkdirAll(h.cfg.Workdir, 0o750); err != nil {
		return fmt.Errorf("create workdir: %w", err)
	}
	if len(h.cfg.Setup) == 0 {
		return nil
	}

	ctx, span := e.tracer.Start(ctx, "setup", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	env := security.SanitizedEnv(e.creds, h.drop...)
	for i, cmd := range h.cfg.Setup {
		res, err := e.unit.Run(ctx, workunit.Invocation{
			Command: cmd,
			Dir:     h.cfg.Workdir,
			Env:     env,
			Stdout:  h.log,
			Stderr:  h.log,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if res.ExitCode != 0 {
			err := fmt.Errorf("setup[%d] exited with status %d", i, res.ExitCode)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// restore materializes the persisted session into the working directory.
// A missing artifact is a cold start, not an error.
func (e *Engine) restore(ctx context.Context, h *handle) error {
	ctx, span := e.tracer.Start(ctx, "restore", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	slot := h.cfg.Session.Artifact
	files, err := e.store.Restore(ctx, slot)
	if errors.Is(err, artifact.ErrNotFound) {
		e.mu.Lock()
		h.run.ColdStart = true
		e.mu.Unlock()
		e.logger.Info("no session to restore, cold start", "job", h.run.Job, "artifact", slot)
		span.SetAttributes(attribute.Bool("cold_start", true))
		span.SetStatus(codes.Ok, "")
		return nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("restore session: %w", err)
	}

	if err := artifact.Materialize(h.cfg.Workdir, files); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("materialize session: %w", err)
	}

	e.mu.Lock()
	h.run.Restored = len(files)
	e.mu.Unlock()
	span.SetAttributes(attribute.Int("files", len(files)))
	span.SetStatus(codes.Ok, "")
	return nil
}

// runCommand executes the job command with credentials injected. The
// returned error covers spawn failures, timeouts, and shutdown; a
// non-zero exit is reported through the run's ExitCode instead.
func (e *Engine) runCommand(ctx context.Context, h *handle, pairs []string) error {
	ctx, span := e.tracer.Start(ctx, "execute", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	r := h.run
	env := security.SanitizedEnv(e.creds, h.drop...)
	env = append(env, pairs...)
	env = append(env,
		"BATON_JOB="+r.Job,
		"BATON_RUN_ID="+r.ID,
		"BATON_TRIGGER="+string(r.Reason),
	)

	timeout := h.cfg.ParsedTimeout()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := e.unit.Run(runCtx, workunit.Invocation{
		Command: h.cfg.Command,
		Dir:     h.cfg.Workdir,
		Env:     env,
		Stdout:  h.log,
		Stderr:  h.log,
	})

	e.mu.Lock()
	r.ExitCode = res.ExitCode
	e.mu.Unlock()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("command timed out after %s", timeout)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetAttributes(attribute.Int("exit_code", res.ExitCode))
	if res.ExitCode != 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("exit status %d", res.ExitCode))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return nil
}

// persist collects the session files and replaces the artifact slot.
// Collecting nothing keeps the previous snapshot. A shutdown arriving
// mid-persist does not interrupt the write; a half-replaced session is
// worse than a late exit.
func (e *Engine) persist(ctx context.Context, h *handle) error {
	ctx, span := e.tracer.Start(ctx, "persist", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	r := h.run
	files, err := artifact.Collect(h.cfg.Workdir, h.cfg.Session.Files)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("collect session files: %w", err)
	}
	if len(files) == 0 {
		e.logger.Warn("no session files matched, keeping previous snapshot",
			"job", r.Job,
			"run_id", r.ID,
			"glob", h.cfg.Session.Files,
		)
		span.SetStatus(codes.Ok, "nothing to persist")
		return nil
	}

	persistCtx := context.WithoutCancel(ctx)
	if err := e.store.Persist(persistCtx, h.cfg.Session.Artifact, files, h.cfg.Session.Retention()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("persist session: %w", err)
	}

	e.mu.Lock()
	r.Persisted = len(files)
	r.PersistedBytes = artifact.TotalBytes(files)
	e.mu.Unlock()

	e.audit.Log(security.AuditEvent{
		Type:   security.EventArtifactPersisted,
		Job:    r.Job,
		RunID:  r.ID,
		Detail: fmt.Sprintf("%s: %d files, %d bytes", h.cfg.Session.Artifact, len(files), artifact.TotalBytes(files)),
	})
	span.SetAttributes(
		attribute.Int("files", r.Persisted),
		attribute.Int64("bytes", r.PersistedBytes),
	)
	span.SetStatus(codes.Ok, "")
	return nil
}

// advance moves a live run forward and announces the phase.
func (e *Engine) advance(r *run.Run, to run.Phase) {
	e.mu.Lock()
	err := r.Advance(to, e.now())
	e.mu.Unlock()
	if err != nil {
		e.logger.Error("phase transition rejected", "job", r.Job, "run_id", r.ID, "error", err)
		return
	}
	e.hub.Publish(event.Event{Type: event.TypeRunPhase, Job: r.Job, RunID: r.ID, Phase: to})
}

// setError records the run error. The message is redacted here, at the
// single point where error text enters the run record, so history, the
// gateway, the CLI, and notifications all inherit the scrubbed form.
func (e *Engine) setError(r *run.Run, msg string) {
	msg = e.redactor.Redact(msg)
	e.mu.Lock()
	r.Error = msg
	e.mu.Unlock()
}

func (e *Engine) appendError(r *run.Run, msg string) {
	msg = e.redactor.Redact(msg)
	e.mu.Lock()
	if r.Error == "" {
		r.Error = msg
	} else {
		r.Error += "; " + msg
	}
	e.mu.Unlock()
}

// openRunLog attaches the per-run log file to the handle and returns its
// closer. Output passes through the redactor so credential values never
// reach disk. Log trouble never stops a run; the handle falls back to
// discarding output.
func (e *Engine) openRunLog(h *handle) func() error {
	dir := filepath.Join(e.dataDir, "jobs", h.run.Job, "logs")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		e.logger.Warn("creating run log dir failed", "job", h.run.Job, "error", err)
		h.log = io.Discard
		return func() error { return nil }
	}

	f, err := os.OpenFile(LogPath(e.dataDir, h.run.Job, h.run.ID), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		e.logger.Warn("creating run log failed", "job", h.run.Job, "run_id", h.run.ID, "error", err)
		h.log = io.Discard
		return func() error { return nil }
	}

	w := security.NewRedactingWriter(f, e.redactor)
	h.log = w
	return func() error {
		flushErr := w.Flush()
		closeErr := f.Close()
		if flushErr != nil {
			return flushErr
		}
		return closeErr
	}
}

// LogPath returns where a run's combined output lands on disk.
func LogPath(dataDir, job, runID string) string {
	return filepath.Join(dataDir, "jobs", job, "logs", runID+".log")
}

// Running returns snapshots of the live runs, sorted by job name.
func (e *Engine) Running() []*run.Run {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*run.Run, 0, len(e.live))
	for _, r := range e.live {
		out = append(out, r.Clone())
	}
	slices.SortFunc(out, func(a, b *run.Run) int {
		return strings.Compare(a.Job, b.Job)
	})
	return out
}

// Find returns a snapshot of a live run by id.
func (e *Engine) Find(id string) (*run.Run, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.live {
		if r.ID == id {
			return r.Clone(), true
		}
	}
	return nil, false
}

// PruneArtifacts removes expired session snapshots.
func (e *Engine) PruneArtifacts(ctx context.Context) (int, error) {
	return e.store.Prune(ctx, e.now())
}

// PruneHistory removes finished runs older than the keep window.
func (e *Engine) PruneHistory(ctx context.Context, keep time.Duration) (int, error) {
	if e.history == nil {
		return 0, nil
	}
	return e.history.Prune(ctx, e.now().Add(-keep))
}
