package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// OutboxEvent is one pending change notification. Rows are written in the
// same transaction as the mutation they describe and processed after commit:
// cache invalidation first, then bus publish, then the processed mark.
type OutboxEvent struct {
	ID          int64      `json:"id"`
	ProjectKey  string     `json:"project_key"`
	EnvKey      string     `json:"env_key"`
	FlagKey     string     `json:"flag_key"`
	Action      string     `json:"action"`
	Enabled     bool       `json:"enabled"`
	OccurredAt  time.Time  `json:"occurred_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// OutboxRepository handles outbox data access
type OutboxRepository struct {
	db     *pgxpool.Pool
	logger zerolog.Logger
}

// NewOutboxRepository creates a new outbox repository
func NewOutboxRepository(db *pgxpool.Pool, logger zerolog.Logger) *OutboxRepository {
	return &OutboxRepository{db: db, logger: logger.With().Str("repository", "outbox").Logger()}
}

// Unprocessed returns pending events in insertion order. The background
// sweeper uses this to pick up rows whose post-commit drain was lost to a
// crash.
func (r *OutboxRepository) Unprocessed(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.Query(ctx, `SELECT id, project_key, env_key, flag_key, action, enabled, occurred_at, processed_at
		FROM outbox WHERE processed_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to list unprocessed outbox events")
		return nil, err
	}
	defer rows.Close()
	return scanOutboxRows(rows)
}

// MarkProcessed stamps events as drained.
func (r *OutboxRepository) MarkProcessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `UPDATE outbox SET processed_at=NOW() WHERE id = ANY($1)`, ids)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to mark outbox events processed")
	}
	return err
}

// DeleteProcessed prunes drained rows older than the cutoff.
func (r *OutboxRepository) DeleteProcessed(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.Exec(ctx, `DELETE FROM outbox WHERE processed_at IS NOT NULL AND processed_at < $1`, before)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to prune outbox")
		return 0, err
	}
	return res.RowsAffected(), nil
}

// insertOutbox enqueues one change notification inside the surrounding write
// transaction and returns the stored row for the post-commit drain.
func insertOutbox(ctx context.Context, tx pgx.Tx, projectKey, envKey, flagKey, action string, enabled bool) (*OutboxEvent, error) {
	ev := &OutboxEvent{
		ProjectKey: projectKey,
		EnvKey:     envKey,
		FlagKey:    flagKey,
		Action:     action,
		Enabled:    enabled,
	}
	err := tx.QueryRow(ctx, `INSERT INTO outbox (project_key, env_key, flag_key, action, enabled)
		VALUES ($1,$2,$3,$4,$5) RETURNING id, occurred_at`,
		projectKey, envKey, flagKey, action, enabled).Scan(&ev.ID, &ev.OccurredAt)
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func scanOutboxRows(rows pgx.Rows) ([]*OutboxEvent, error) {
	var events []*OutboxEvent
	for rows.Next() {
		ev := &OutboxEvent{}
		if err := rows.Scan(&ev.ID, &ev.ProjectKey, &ev.EnvKey, &ev.FlagKey, &ev.Action, &ev.Enabled, &ev.OccurredAt, &ev.ProcessedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
