// Package scheduler runs periodic maintenance jobs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/kjstillabower/msn-weather-service/internal/observability"
)

// DefaultJobTimeout bounds a single job run.
const DefaultJobTimeout = 2 * time.Minute

// Job is a unit of scheduled work. It must return promptly once ctx is done.
type Job func(ctx context.Context) error

// Scheduler wraps a cron runner. Overlapping runs of the same job are skipped.
type Scheduler struct {
	cron           *cron.Cron
	logger         *zap.Logger
	jobTimeout     time.Duration
	activeJobs     sync.WaitGroup
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
}

// New returns a stopped Scheduler. jobTimeout <= 0 uses DefaultJobTimeout.
func New(logger *zap.Logger, jobTimeout time.Duration) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if jobTimeout <= 0 {
		jobTimeout = DefaultJobTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.Named("cron")))
	return &Scheduler{
		cron:           cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger))),
		logger:         logger,
		jobTimeout:     jobTimeout,
		shutdownCtx:    ctx,
		shutdownCancel: cancel,
	}
}

// Every schedules job at a fixed interval.
func (s *Scheduler) Every(name string, interval time.Duration, job Job) error {
	if interval <= 0 {
		return fmt.Errorf("schedule %s: interval must be positive", name)
	}
	return s.Add(name, "@every "+interval.String(), job)
}

// Add schedules job with a cron spec ("@every 1m", "*/5 * * * *").
func (s *Scheduler) Add(name, spec string, job Job) error {
	if _, err := s.cron.AddFunc(spec, s.wrap(name, job)); err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.logger.Info("job scheduled", zap.String("job", name), zap.String("spec", spec))
	return nil
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling, cancels running jobs and waits for them until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	s.shutdownCancel()

	done := make(chan struct{})
	go func() {
		s.activeJobs.Wait()
		<-stopped.Done()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out with jobs still running")
		return ctx.Err()
	}
}

// Entries returns the number of scheduled jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// wrap adds timeout, panic recovery, logging and metrics around job.
func (s *Scheduler) wrap(name string, job Job) func() {
	return func() {
		s.activeJobs.Add(1)
		defer s.activeJobs.Done()
		s.run(name, job)
	}
}

func (s *Scheduler) run(name string, job Job) {
	ctx, cancel := context.WithTimeout(s.shutdownCtx, s.jobTimeout)
	defer cancel()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			observability.ScheduledJobsTotal.WithLabelValues(name, "panic").Inc()
			s.logger.Error("job panicked", zap.String("job", name), zap.Any("panic", r))
		}
	}()

	err := job(ctx)
	duration := time.Since(start)
	switch {
	case err != nil && ctx.Err() == context.DeadlineExceeded:
		observability.ScheduledJobsTotal.WithLabelValues(name, "timeout").Inc()
		s.logger.Warn("job timed out", zap.String("job", name), zap.Duration("timeout", s.jobTimeout), zap.Error(err))
	case err != nil:
		observability.ScheduledJobsTotal.WithLabelValues(name, "error").Inc()
		s.logger.Error("job failed", zap.String("job", name), zap.Duration("duration", duration), zap.Error(err))
	default:
		observability.ScheduledJobsTotal.WithLabelValues(name, "success").Inc()
		s.logger.Debug("job completed", zap.String("job", name), zap.Duration("duration", duration))
	}
}
