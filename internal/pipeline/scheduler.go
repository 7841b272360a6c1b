package pipeline

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/rewired-gh/scanalert/internal/logger"
)

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// Scheduler runs jobs on cron schedules. A job still running when its next tick arrives is
// skipped for that tick.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

func NewScheduler() *Scheduler {
	log := logger.With("scheduler")
	cl := cron.PrintfLogger(&log)
	return &Scheduler{
		cron: cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		log:  log,
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a job under a standard cron spec or descriptor such as "@every 1m".
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.log.Debug().Str("job", job.Name()).Msg("Running job")
		if err := job.Run(); err != nil {
			s.log.Error().Err(err).Str("job", job.Name()).Msg("Job failed")
			return
		}
		s.log.Debug().Str("job", job.Name()).Msg("Job completed")
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("schedule", schedule).Str("job", job.Name()).Msg("Job registered")
	return nil
}

// RunNow runs a job immediately, outside its schedule.
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return job.Run()
}

// PollJob evaluates all sources and dispatches alerts.
type PollJob struct {
	Ctx    context.Context
	Runner *Runner
}

func (j PollJob) Name() string { return "poll" }
func (j PollJob) Run() error   { return j.Runner.Poll(j.Ctx) }

// MaintenanceJob prunes and rotates alert records.
type MaintenanceJob struct {
	Ctx    context.Context
	Runner *Runner
}

func (j MaintenanceJob) Name() string { return "maintenance" }
func (j MaintenanceJob) Run() error   { return j.Runner.Maintain(j.Ctx) }
