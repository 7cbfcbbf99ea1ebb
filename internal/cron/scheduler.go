package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// ErrNotStarted is returned by Reload when the scheduler is not running.
var ErrNotStarted = errors.New("cron: scheduler not started")

// Scheduler manages periodic job execution using cron expressions.
// Each job is protected by a per-job mutex to prevent parallel execution
// of the same job (uses TryLock — atomic, no race).
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	jobs   []Job
	names  map[string]struct{}
	locks  map[string]*sync.Mutex
	logger *slog.Logger
	runCtx context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler. Jobs must be registered before Start().
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		names:  make(map[string]struct{}),
		locks:  make(map[string]*sync.Mutex),
		logger: logger,
	}
}

// RegisterJob adds a job to the scheduler. Must be called before Start().
// Returns an error if a job with the same name is already registered.
func (s *Scheduler) RegisterJob(j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := j.Name()
	if _, exists := s.names[name]; exists {
		return fmt.Errorf("cron: duplicate job name %q", name)
	}

	s.names[name] = struct{}{}
	s.locks[name] = &sync.Mutex{}
	s.jobs = append(s.jobs, j)
	return nil
}

// Start begins executing registered jobs. Returns an error if any job has
// an invalid schedule expression. Job contexts stay live until Stop, so a
// daemon shutdown cancels in-flight runs.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	s.runCtx = ctx
	s.cancel = cancel

	c, err := s.schedule(s.jobs, s.locks)
	if err != nil {
		cancel()
		return err
	}
	s.cron = c
	s.cron.Start()
	s.logger.Info("cron: scheduler started", "jobs", len(s.jobs))
	return nil
}

// Reload replaces the job set and restarts the ticker. In-flight runs keep
// their context and finish on their own; only future ticks see the new set.
// A bad schedule leaves the running set untouched.
func (s *Scheduler) Reload(jobs []Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return ErrNotStarted
	}

	names := make(map[string]struct{}, len(jobs))
	locks := make(map[string]*sync.Mutex, len(jobs))
	for _, j := range jobs {
		name := j.Name()
		if _, exists := names[name]; exists {
			return fmt.Errorf("cron: duplicate job name %q", name)
		}
		names[name] = struct{}{}
		// Carry the old lock forward so a run still holding it keeps
		// blocking ticks of the reloaded job.
		if lock, ok := s.locks[name]; ok {
			locks[name] = lock
		} else {
			locks[name] = &sync.Mutex{}
		}
	}

	c, err := s.schedule(jobs, locks)
	if err != nil {
		return err
	}

	s.cron.Stop()
	s.jobs = jobs
	s.names = names
	s.locks = locks
	s.cron = c
	s.cron.Start()
	s.logger.Info("cron: scheduler reloaded", "jobs", len(s.jobs))
	return nil
}

// schedule builds a cron instance from the given jobs. Caller holds s.mu
// and starts the returned instance only when every expression parsed.
func (s *Scheduler) schedule(jobs []Job, locks map[string]*sync.Mutex) (*cron.Cron, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser))
	ctx := s.runCtx

	for _, j := range jobs {
		job := j // capture loop variable
		lock := locks[job.Name()]

		_, err := c.AddFunc(job.Schedule(), func() {
			// TryLock is atomic — no race between check and acquire.
			// If the previous tick is still running, skip this one.
			if !lock.TryLock() {
				s.logger.Warn("cron: job still running, skipping tick",
					"job", job.Name(),
				)
				return
			}
			defer lock.Unlock()

			s.logger.Debug("cron: job started", "job", job.Name())
			if err := job.Run(ctx); err != nil {
				s.logger.Error("cron: job failed",
					"job", job.Name(),
					"error", err,
				)
			} else {
				s.logger.Debug("cron: job completed", "job", job.Name())
			}
		})
		if err != nil {
			return nil, fmt.Errorf("cron: invalid schedule for job %q: %w", job.Name(), err)
		}
	}
	return c, nil
}

// Stop gracefully shuts down the scheduler, waiting for in-flight jobs.
// Canceling the job context first turns still-running job commands into
// canceled runs instead of leaving them to finish against a dead daemon.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		// Wait for running jobs to complete.
		<-s.cron.Stop().Done()
		s.logger.Info("cron: scheduler stopped")
	}
	return nil
}
