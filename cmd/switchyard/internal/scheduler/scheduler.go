package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/repository"
	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/services"
)

// Options tunes the polling worker.
type Options struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	RetryBase    time.Duration
	RetryCap     time.Duration
}

// Worker fires scheduled enable/disable transitions. The durable timer is a
// scheduled_jobs row written in the same transaction as the overlay's
// schedule field; the worker polls for due rows and fires each through one
// store transaction. Multiple workers can run at once: the fire path locks
// with SKIP LOCKED, so a job fires exactly once per handle.
type Worker struct {
	schedules *repository.ScheduleRepository
	outbox    *services.OutboxService
	opts      Options
	logger    zerolog.Logger
}

// New creates a scheduler worker
func New(schedules *repository.ScheduleRepository, outbox *services.OutboxService, opts Options, logger zerolog.Logger) *Worker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 2 * time.Second
	}
	if opts.RetryCap <= 0 {
		opts.RetryCap = 5 * time.Minute
	}
	return &Worker{
		schedules: schedules,
		outbox:    outbox,
		opts:      opts,
		logger:    logger.With().Str("component", "scheduler").Logger(),
	}
}

// Run polls for due transitions until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	w.logger.Info().Dur("poll_interval", w.opts.PollInterval).Msg("Scheduler started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Scheduler stopped")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	jobs, err := w.schedules.Due(ctx, time.Now(), w.opts.BatchSize)
	if err != nil {
		return
	}
	for _, job := range jobs {
		w.fire(ctx, job)
	}
}

func (w *Worker) fire(ctx context.Context, job *repository.ScheduledJob) {
	event, err := w.schedules.Fire(ctx, job.ID)
	if err == nil {
		w.logger.Info().
			Str("job_id", job.ID.String()).
			Str("kind", job.Kind).
			Time("fire_at", job.FireAt).
			Msg("Scheduled transition fired")
		w.outbox.Drain(ctx, []*repository.OutboxEvent{event})
		return
	}

	// A vanished handle means the schedule was cancelled, superseded, or
	// claimed by another worker; nothing to do.
	if errors.Is(err, repository.ErrNotFound) {
		return
	}

	attempt := job.Attempts + 1
	if attempt >= w.opts.MaxAttempts {
		w.logger.Error().Err(err).
			Str("job_id", job.ID.String()).
			Int("attempts", attempt).
			Msg("Scheduled transition failed terminally")
		if aerr := w.schedules.Abandon(ctx, job.ID, err.Error()); aerr != nil && !errors.Is(aerr, repository.ErrNotFound) {
			w.logger.Error().Err(aerr).Str("job_id", job.ID.String()).Msg("Failed to abandon job")
		}
		return
	}

	delay := Backoff(w.opts.RetryBase, w.opts.RetryCap, job.Attempts)
	w.logger.Warn().Err(err).
		Str("job_id", job.ID.String()).
		Int("attempt", attempt).
		Dur("retry_in", delay).
		Msg("Scheduled transition failed, retrying")
	if rerr := w.schedules.Retry(ctx, job.ID, time.Now().Add(delay)); rerr != nil {
		w.logger.Error().Err(rerr).Str("job_id", job.ID.String()).Msg("Failed to reschedule job")
	}
}

// Backoff returns the exponential retry delay for a job that has already
// failed `attempts` times: base doubled per failure, capped at ceiling.
func Backoff(base, ceiling time.Duration, attempts int) time.Duration {
	d := base
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	if d > ceiling {
		return ceiling
	}
	return d
}
