package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Environment represents one deployment target within a project
type Environment struct {
	ID         uuid.UUID `json:"id"`
	ProjectID  uuid.UUID `json:"project_id"`
	Key        string    `json:"key"`
	Name       string    `json:"name"`
	Production bool      `json:"production"`
	Position   int       `json:"position"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// EnvironmentRepository handles environment data access
type EnvironmentRepository struct {
	db     *pgxpool.Pool
	logger zerolog.Logger
}

// NewEnvironmentRepository creates a new environment repository
func NewEnvironmentRepository(db *pgxpool.Pool, logger zerolog.Logger) *EnvironmentRepository {
	return &EnvironmentRepository{db: db, logger: logger.With().Str("repository", "environment").Logger()}
}

const environmentColumns = `id, project_id, key, name, production, position, created_at, updated_at`

func scanEnvironment(row pgx.Row) (*Environment, error) {
	e := &Environment{}
	if err := row.Scan(&e.ID, &e.ProjectID, &e.Key, &e.Name, &e.Production, &e.Position, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, translateError(err)
	}
	return e, nil
}

// Create inserts an environment and materializes one overlay per existing
// flag, disabled at 0%, in the same transaction. Variant flags get their
// first variant as the overlay default.
func (r *EnvironmentRepository) Create(ctx context.Context, projectID uuid.UUID, key, name string, production bool, actor string) (*Environment, error) {
	e := &Environment{ID: uuid.New(), ProjectID: projectID, Key: key, Name: name, Production: production}

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `INSERT INTO environments (id, project_id, key, name, production, position)
			VALUES ($1,$2,$3,$4,$5,
				(SELECT COALESCE(MAX(position),0)+1 FROM environments WHERE project_id=$2))
			RETURNING position, created_at, updated_at`,
			e.ID, projectID, key, name, production).Scan(&e.Position, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `INSERT INTO flag_environments (id, flag_id, env_id, enabled, percentage, default_variant)
			SELECT gen_random_uuid(), f.id, $1, false, 0,
				CASE WHEN f.type='variant' THEN
					(SELECT v.key FROM flag_variants v WHERE v.flag_id=f.id ORDER BY v.position LIMIT 1)
				END
			FROM flags f WHERE f.project_id=$2`, e.ID, projectID); err != nil {
			return err
		}

		return insertAudit(ctx, tx, projectID, actor, "environment_created", "environment", key, map[string]any{
			"name": name, "production": production,
		})
	})
	if err != nil {
		r.logger.Error().Err(err).Str("key", key).Msg("Failed to create environment")
		return nil, translateError(err)
	}
	return e, nil
}

// GetByKey returns an environment by project and key
func (r *EnvironmentRepository) GetByKey(ctx context.Context, projectID uuid.UUID, key string) (*Environment, error) {
	return scanEnvironment(r.db.QueryRow(ctx,
		`SELECT `+environmentColumns+` FROM environments WHERE project_id=$1 AND key=$2`, projectID, key))
}

// List returns a project's environments in position order
func (r *EnvironmentRepository) List(ctx context.Context, projectID uuid.UUID) ([]*Environment, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+environmentColumns+` FROM environments WHERE project_id=$1 ORDER BY position`, projectID)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to list environments")
		return nil, err
	}
	defer rows.Close()

	var envs []*Environment
	for rows.Next() {
		e := &Environment{}
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Key, &e.Name, &e.Production, &e.Position, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		envs = append(envs, e)
	}
	return envs, rows.Err()
}

// Update renames an environment or changes its production marker
func (r *EnvironmentRepository) Update(ctx context.Context, id uuid.UUID, name string, production bool, actor string) (*Environment, error) {
	var e *Environment
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var scanErr error
		e, scanErr = scanEnvironment(tx.QueryRow(ctx, `UPDATE environments SET name=$2, production=$3, updated_at=NOW()
			WHERE id=$1 RETURNING `+environmentColumns, id, name, production))
		if scanErr != nil {
			return scanErr
		}
		return insertAudit(ctx, tx, e.ProjectID, actor, "environment_updated", "environment", e.Key, map[string]any{
			"name": name, "production": production,
		})
	})
	if err != nil {
		r.logger.Error().Err(err).Str("environment_id", id.String()).Msg("Failed to update environment")
		return nil, translateError(err)
	}
	return e, nil
}

// Delete removes an environment; overlays, rules and schedules cascade.
func (r *EnvironmentRepository) Delete(ctx context.Context, id uuid.UUID, actor string) error {
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		e, scanErr := scanEnvironment(tx.QueryRow(ctx, `SELECT `+environmentColumns+` FROM environments WHERE id=$1`, id))
		if scanErr != nil {
			return scanErr
		}
		if _, err := tx.Exec(ctx, `DELETE FROM environments WHERE id=$1`, id); err != nil {
			return err
		}
		return insertAudit(ctx, tx, e.ProjectID, actor, "environment_deleted", "environment", e.Key, nil)
	})
	if err != nil {
		r.logger.Error().Err(err).Str("environment_id", id.String()).Msg("Failed to delete environment")
		return translateError(err)
	}
	return nil
}
