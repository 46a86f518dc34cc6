package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
)

var (
	ErrFailedToCreateScheduler = errors.New("failed to create scheduler")
	ErrJobAlreadyExists        = errors.New("job already registered")
	ErrFailedToCreateJob       = errors.New("failed to create job")
)

// Runner hosts the engine's periodic jobs (the two cache refreshers) on a
// gocron scheduler. Singleton job mode keeps a slow reload from
// overlapping its own next tick.
type Runner struct {
	scheduler gocron.Scheduler
	jobs      map[string]gocron.Job
	mu        sync.RWMutex
}

// NewRunner creates a new scheduler runner.
func NewRunner() (*Runner, error) {
	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithGlobalJobOptions(
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		),
	)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create scheduler")
		return nil, ErrFailedToCreateScheduler
	}

	return &Runner{
		scheduler: scheduler,
		jobs:      make(map[string]gocron.Job),
	}, nil
}

// ScheduleEvery registers a fixed-interval job under a unique name.
func (r *Runner) ScheduleEvery(name string, interval time.Duration, task func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[name]; exists {
		log.Error().Str("job", name).Msg("Job already registered")
		return ErrJobAlreadyExists
	}

	job, err := r.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithName(name),
		gocron.WithTags("refresh", name),
	)
	if err != nil {
		log.Error().Err(err).Str("job", name).Msg("Failed to schedule job")
		return ErrFailedToCreateJob
	}

	r.jobs[name] = job

	log.Info().
		Str("job", name).
		Dur("interval", interval).
		Msg("Job registered with scheduler")

	return nil
}

// Start begins the scheduler.
func (r *Runner) Start() {
	r.scheduler.Start()

	r.mu.RLock()
	defer r.mu.RUnlock()
	log.Info().Int("jobs", len(r.jobs)).Msg("Scheduler started")
}

// Stop halts the scheduler, waiting for in-flight jobs.
func (r *Runner) Stop(ctx context.Context) error {
	return r.scheduler.Shutdown()
}

// NextRun returns the next scheduled run for a job.
func (r *Runner) NextRun(name string) (time.Time, error) {
	r.mu.RLock()
	job, exists := r.jobs[name]
	r.mu.RUnlock()

	if !exists {
		return time.Time{}, ErrFailedToCreateJob
	}

	return job.NextRun()
}
