// Package scheduler runs periodic maintenance jobs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a named maintenance task.
type Job struct {
	Name     string
	Schedule string // cron spec or descriptor such as "@every 1m"
	Run      func(ctx context.Context) error
}

type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger
	jobs   []Job
}

func New(log zerolog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}
}

// Add registers a job. It fails on an invalid schedule.
func (s *Scheduler) Add(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("job %s has no run function", job.Name)
	}
	_, err := s.cron.AddFunc(job.Schedule, func() {
		start := time.Now()
		if err := job.Run(s.ctx); err != nil {
			s.log.Error().Err(err).Str("job", job.Name).Msg("scheduled job failed")
			return
		}
		s.log.Debug().Str("job", job.Name).Dur("took", time.Since(start)).Msg("scheduled job finished")
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", job.Name, job.Schedule, err)
	}
	s.jobs = append(s.jobs, job)
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.jobs)).Msg("scheduler started")
}

// Stop waits for running jobs to finish, then cancels their context.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}
