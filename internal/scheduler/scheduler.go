// Package scheduler runs the engine's background work: builds and deferred
// cleanup dispatched off the caller's goroutine, and periodic sweeps.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	foundation "git.home.luguber.info/inful/prebake/internal/foundation/errors"
	"git.home.luguber.info/inful/prebake/internal/logfields"
)

// Scheduler is the shared executor. Tasks dispatched with Go run
// concurrently; periodic jobs run on a gocron scheduler and never overlap
// themselves.
type Scheduler struct {
	cron    gocron.Scheduler
	workers taskGroup
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]gocron.Job
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.logger = l } }

// New creates a scheduler. Periodic jobs start running after Start.
func New(opts ...Option) (*Scheduler, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{cron: cron, logger: slog.Default(), ctx: ctx, cancel: cancel, jobs: map[string]gocron.Job{}}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Go runs fn on a worker goroutine with the scheduler's context, which is
// canceled by Stop. It reports false once the scheduler is stopping.
func (s *Scheduler) Go(fn func(ctx context.Context)) bool {
	ok := s.workers.spawn(func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Task panicked", slog.Any("panic", r))
			}
		}()
		fn(s.ctx)
	})
	if !ok {
		s.logger.Debug("Scheduler stopping; task dropped")
	}
	return ok
}

// ScheduleEvery runs fn every interval. Runs of one job never overlap.
func (s *Scheduler) ScheduleEvery(name string, interval time.Duration, fn func(ctx context.Context)) (string, error) {
	if interval <= 0 {
		return "", foundation.ValidationError("interval must be positive").WithContext("job", name).Build()
	}
	return s.schedule(name, gocron.DurationJob(interval), fn)
}

// ScheduleCron runs fn on a cron schedule.
func (s *Scheduler) ScheduleCron(name, expr string, fn func(ctx context.Context)) (string, error) {
	return s.schedule(name, gocron.CronJob(expr, false), fn)
}

func (s *Scheduler) schedule(name string, def gocron.JobDefinition, fn func(ctx context.Context)) (string, error) {
	job, err := s.cron.NewJob(def,
		gocron.NewTask(func() { s.runJob(name, fn) }),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return "", foundation.ConfigError("failed to create periodic job").WithCause(err).WithContext("job", name).Build()
	}
	s.mu.Lock()
	s.jobs[name] = job
	s.mu.Unlock()
	return job.ID().String(), nil
}

func (s *Scheduler) runJob(name string, fn func(ctx context.Context)) {
	start := time.Now()
	s.logger.Debug("Running periodic job", logfields.Job(name))
	fn(s.ctx)
	s.logger.Debug("Periodic job finished", logfields.Job(name), logfields.Duration(time.Since(start)))
}

// RunNow triggers the named periodic job immediately.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return foundation.NotFoundError("no such job").WithContext("job", name).Build()
	}
	return job.RunNow()
}

// Start begins running periodic jobs.
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler")
	s.cron.Start()
}

// Stop shuts down periodic jobs, cancels running tasks' context and waits
// for them to return, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.logger.Info("Stopping scheduler")
	err := s.cron.Shutdown()
	s.cancel()
	if werr := s.workers.closeAndWait(ctx); werr != nil {
		return werr
	}
	return err
}

// Drain waits for dispatched tasks without cancelling them, then keeps
// accepting none. Periodic jobs are shut down too.
func (s *Scheduler) Drain(ctx context.Context) error {
	err := s.cron.Shutdown()
	if werr := s.workers.closeAndWait(ctx); werr != nil {
		return werr
	}
	s.cancel()
	return err
}
