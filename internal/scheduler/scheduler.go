package scheduler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"tradeguard/internal/logger"
)

// Job is one named periodic task. Task errors are logged, never fatal; a
// broken sweep must not take the process down.
type Job struct {
	Name           string
	Interval       time.Duration
	RunImmediately bool
	Task           func(ctx context.Context) error
}

// Scheduler runs a fixed set of periodic jobs until its context ends.
type Scheduler struct {
	jobs []Job
}

func New() *Scheduler {
	return &Scheduler{}
}

// Add registers a job. Jobs with a non-positive interval are dropped with a
// warning so a disabled config entry is visible in the log.
func (s *Scheduler) Add(job Job) {
	if job.Task == nil {
		logger.Warnf("scheduler: job %s has no task, skipped", job.Name)
		return
	}
	if job.Interval <= 0 {
		logger.Warnf("scheduler: job %s disabled (interval=%s)", job.Name, job.Interval)
		return
	}
	s.jobs = append(s.jobs, job)
}

// Run blocks until ctx ends, driving every registered job on its own
// cadence.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		job := job
		g.Go(func() error {
			return s.runJob(gctx, job)
		})
	}
	return g.Wait()
}

func (s *Scheduler) runJob(ctx context.Context, job Job) error {
	logger.Infof("scheduler: job %s every %s", job.Name, job.Interval)
	if job.RunImmediately {
		s.execute(ctx, job)
	}
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Infof("scheduler: job %s stopped", job.Name)
			return ctx.Err()
		case <-ticker.C:
			s.execute(ctx, job)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, job Job) {
	started := time.Now()
	if err := job.Task(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Warnf("scheduler: job %s failed after %s: %v", job.Name, time.Since(started).Truncate(time.Millisecond), err)
		return
	}
	logger.Debugf("scheduler: job %s done in %s", job.Name, time.Since(started).Truncate(time.Millisecond))
}
