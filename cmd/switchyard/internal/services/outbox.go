package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/bus"
	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/cache"
	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/repository"
)

// OutboxService drains committed outbox rows: invalidate the snapshot cache,
// publish the change event, then mark the row processed. The mark comes
// last, so a crash mid-drain replays the row on the next sweep; subscribers
// see at-least-once delivery and the cache tolerates a second delete.
type OutboxService struct {
	outbox *repository.OutboxRepository
	cache  *cache.SnapshotCache
	bus    *bus.ChangeBus
	logger zerolog.Logger
}

// NewOutboxService creates a new outbox service
func NewOutboxService(outbox *repository.OutboxRepository, snapshotCache *cache.SnapshotCache, changeBus *bus.ChangeBus, logger zerolog.Logger) *OutboxService {
	return &OutboxService{
		outbox: outbox,
		cache:  snapshotCache,
		bus:    changeBus,
		logger: logger.With().Str("service", "outbox").Logger(),
	}
}

// Drain processes rows the caller just committed. Write paths call this
// right after their transaction returns, which is what makes invalidation
// effective on the writing process before the write call returns to the
// client.
func (s *OutboxService) Drain(ctx context.Context, events []*repository.OutboxEvent) {
	if len(events) == 0 {
		return
	}

	processed := make([]int64, 0, len(events))
	for _, ev := range events {
		s.cache.Invalidate(ctx, ev.ProjectKey, ev.FlagKey, ev.EnvKey)

		if err := s.bus.Publish(ev.ProjectKey, bus.ChangeEvent{
			Action:         ev.Action,
			FlagKey:        ev.FlagKey,
			EnvironmentKey: ev.EnvKey,
			Enabled:        ev.Enabled,
			Timestamp:      ev.OccurredAt,
		}); err != nil {
			// Leave the row unprocessed; the sweeper retries it.
			continue
		}
		processed = append(processed, ev.ID)
	}

	if err := s.outbox.MarkProcessed(ctx, processed); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to mark drained outbox rows, sweep will redeliver")
	}
}

// Sweep runs the crash-recovery loop: it picks up unprocessed rows whose
// post-commit drain was lost and periodically prunes old processed rows. It
// blocks until ctx is cancelled.
func (s *OutboxService) Sweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pruneEvery := 60
	ticks := 0

	s.logger.Info().Dur("interval", interval).Msg("Outbox sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Outbox sweeper stopped")
			return
		case <-ticker.C:
			events, err := s.outbox.Unprocessed(ctx, 200)
			if err != nil {
				continue
			}
			if len(events) > 0 {
				s.logger.Info().Int("count", len(events)).Msg("Sweeping unprocessed outbox rows")
				s.Drain(ctx, events)
			}

			ticks++
			if ticks%pruneEvery == 0 {
				if n, err := s.outbox.DeleteProcessed(ctx, time.Now().Add(-24*time.Hour)); err == nil && n > 0 {
					s.logger.Debug().Int64("count", n).Msg("Pruned processed outbox rows")
				}
			}
		}
	}
}
