package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"freshtrack-cloud/internal/observability/metrics"
)

// ErrUnknownJob is returned by Trigger for unregistered names.
var ErrUnknownJob = errors.New("scheduler: unknown job")

// Job is one periodic task.
type Job func(ctx context.Context) error

// Scheduler runs named jobs on cron specs in UTC. A job never overlaps with
// its own previous run and a panic inside a job is recovered and logged.
type Scheduler struct {
	cron    *cron.Cron
	logger  *log.Logger
	timeout time.Duration

	mu   sync.RWMutex
	base context.Context
	jobs map[string]Job
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithTimeout bounds a single job run; zero disables the bound.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Scheduler) {
		if timeout >= 0 {
			s.timeout = timeout
		}
	}
}

// New constructs a scheduler.
func New(logger *log.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	cronLogger := cron.PrintfLogger(logger)
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		logger:  logger,
		timeout: 10 * time.Minute,
		base:    context.Background(),
		jobs:    make(map[string]Job),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a job. An empty spec leaves the job disabled but still
// reachable through Trigger.
func (s *Scheduler) Register(name, spec string, job Job) error {
	if name == "" || job == nil {
		return errors.New("scheduler: name and job required")
	}
	s.mu.Lock()
	if _, exists := s.jobs[name]; exists {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: duplicate job %s", name)
	}
	s.jobs[name] = job
	s.mu.Unlock()

	if spec == "" {
		s.logger.Printf("scheduler: job disabled: name=%s", name)
		return nil
	}
	if _, err := s.cron.AddFunc(spec, func() { _ = s.run(s.context(), name, job) }); err != nil {
		return fmt.Errorf("scheduler: job %s spec %q: %w", name, spec, err)
	}
	s.logger.Printf("scheduler: job registered: name=%s spec=%q", name, spec)
	return nil
}

// Trigger runs a registered job immediately on the caller's goroutine.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	s.mu.RLock()
	job, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, name, job)
}

// Start begins firing jobs. Runs are cancelled when ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()
	s.cron.Start()
}

// Stop halts the schedule and waits for running jobs up to ctx's deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) context() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base
}

func (s *Scheduler) run(ctx context.Context, name string, job Job) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	err := job(ctx)
	elapsed := time.Since(start)
	if err != nil {
		metrics.ObserveScheduledJob(name, metrics.ResultError, elapsed)
		s.logger.Printf("scheduler: job failed: name=%s elapsed=%s err=%v", name, elapsed, err)
		return err
	}
	metrics.ObserveScheduledJob(name, metrics.ResultSuccess, elapsed)
	return nil
}
