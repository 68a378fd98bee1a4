package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ScheduledJob is the durable handle for one pending enable/disable
// transition. Handles are written in the same transaction as the overlay
// field they mirror; a missing handle at fire time means the schedule was
// superseded or cancelled.
type ScheduledJob struct {
	ID        uuid.UUID `json:"id"`
	FlagEnvID uuid.UUID `json:"flag_env_id"`
	FlagID    uuid.UUID `json:"flag_id"`
	EnvID     uuid.UUID `json:"env_id"`
	Kind      string    `json:"kind"`
	FireAt    time.Time `json:"fire_at"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
}

// ScheduleRepository handles scheduled job data access
type ScheduleRepository struct {
	db     *pgxpool.Pool
	logger zerolog.Logger
}

// NewScheduleRepository creates a new schedule repository
func NewScheduleRepository(db *pgxpool.Pool, logger zerolog.Logger) *ScheduleRepository {
	return &ScheduleRepository{db: db, logger: logger.With().Str("repository", "schedule").Logger()}
}

// Due returns jobs whose fire time has passed, oldest first. The rows are
// not locked; Fire re-checks under a lock, so two workers racing on the same
// job resolve to one firing and one no-op.
func (r *ScheduleRepository) Due(ctx context.Context, now time.Time, limit int) ([]*ScheduledJob, error) {
	rows, err := r.db.Query(ctx, `SELECT id, flag_env_id, flag_id, env_id, kind, fire_at, attempts, created_at
		FROM scheduled_jobs WHERE fire_at <= $1 ORDER BY fire_at LIMIT $2`, now, limit)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to list due jobs")
		return nil, err
	}
	defer rows.Close()

	var jobs []*ScheduledJob
	for rows.Next() {
		j := &ScheduledJob{}
		if err := rows.Scan(&j.ID, &j.FlagEnvID, &j.FlagID, &j.EnvID, &j.Kind, &j.FireAt, &j.Attempts, &j.CreatedAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Fire applies one scheduled transition: set the overlay's enabled bit from
// the job kind, clear the fired timestamp field, consume the handle, and
// write the audit and outbox rows, all in one transaction.
//
// Firing is idempotent through the handle: success deletes the job row, so
// a second fire finds nothing and returns ErrNotFound. A job already locked
// by a concurrent worker is skipped the same way. The overlay state is
// applied unconditionally; a manual toggle between scheduling and firing
// already deleted the handle, so the stale fire never runs.
func (r *ScheduleRepository) Fire(ctx context.Context, jobID uuid.UUID) (*OutboxEvent, error) {
	var event *OutboxEvent

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		j := &ScheduledJob{}
		err := tx.QueryRow(ctx, `SELECT id, flag_env_id, flag_id, env_id, kind, fire_at, attempts, created_at
			FROM scheduled_jobs WHERE id=$1 FOR UPDATE SKIP LOCKED`, jobID).
			Scan(&j.ID, &j.FlagEnvID, &j.FlagID, &j.EnvID, &j.Kind, &j.FireAt, &j.Attempts, &j.CreatedAt)
		if err != nil {
			return err
		}

		scope, err := lockOverlay(ctx, tx, j.FlagID, j.EnvID)
		if err != nil {
			return err
		}
		o := scope.Overlay

		enabled := j.Kind == ScheduleEnable
		field := "enable_at"
		if j.Kind == ScheduleDisable {
			field = "disable_at"
		}
		if _, err := tx.Exec(ctx, `UPDATE flag_environments SET enabled=$2, `+field+`=NULL, updated_at=NOW()
			WHERE id=$1`, o.ID, enabled); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM scheduled_jobs WHERE id=$1`, j.ID); err != nil {
			return err
		}

		event, err = insertOutbox(ctx, tx, scope.ProjectKey, scope.EnvKey, scope.Flag.Key, ActionScheduleFired, enabled)
		if err != nil {
			return err
		}

		return insertAudit(ctx, tx, scope.Flag.ProjectID, "scheduler", "schedule_fired", "flag", scope.Flag.Key, map[string]any{
			"environment": scope.EnvKey, "kind": j.Kind, "enabled": enabled,
		})
	})
	if err != nil {
		return nil, translateError(err)
	}
	return event, nil
}

// Retry pushes a failed job's fire time forward and counts the attempt.
func (r *ScheduleRepository) Retry(ctx context.Context, jobID uuid.UUID, nextFireAt time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE scheduled_jobs SET fire_at=$2, attempts=attempts+1 WHERE id=$1`, jobID, nextFireAt)
	if err != nil {
		r.logger.Error().Err(err).Str("job_id", jobID.String()).Msg("Failed to reschedule job")
	}
	return err
}

// Abandon drops a job that exhausted its retries and records the terminal
// failure in the audit log. The overlay keeps its schedule timestamp; an
// operator clears or re-schedules it from the admin surface.
func (r *ScheduleRepository) Abandon(ctx context.Context, jobID uuid.UUID, cause string) error {
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		j := &ScheduledJob{}
		var projectID uuid.UUID
		var flagKey, envKey string
		err := tx.QueryRow(ctx, `SELECT sj.id, sj.flag_env_id, sj.flag_id, sj.env_id, sj.kind, sj.fire_at, sj.attempts, sj.created_at,
				f.project_id, f.key, e.key
			FROM scheduled_jobs sj
			JOIN flags f ON f.id = sj.flag_id
			JOIN environments e ON e.id = sj.env_id
			WHERE sj.id=$1 FOR UPDATE SKIP LOCKED`, jobID).
			Scan(&j.ID, &j.FlagEnvID, &j.FlagID, &j.EnvID, &j.Kind, &j.FireAt, &j.Attempts, &j.CreatedAt,
				&projectID, &flagKey, &envKey)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM scheduled_jobs WHERE id=$1`, j.ID); err != nil {
			return err
		}
		return insertAudit(ctx, tx, projectID, "scheduler", "schedule_abandoned", "flag", flagKey, map[string]any{
			"environment": envKey, "kind": j.Kind, "attempts": j.Attempts, "cause": cause,
		})
	})
	if err != nil {
		r.logger.Error().Err(err).Str("job_id", jobID.String()).Msg("Failed to abandon job")
		return translateError(err)
	}
	return nil
}
