package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Project is the tenant boundary: environments, flags, segments and the SDK
// credential all hang off a project. The credential is stored as a clear
// lookup prefix plus a bcrypt hash; the full key is never persisted.
type Project struct {
	ID           uuid.UUID `json:"id"`
	Key          string    `json:"key"`
	Name         string    `json:"name"`
	SDKKeyPrefix string    `json:"sdk_key_prefix"`
	SDKKeyHash   string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ProjectRepository handles project data access
type ProjectRepository struct {
	db     *pgxpool.Pool
	logger zerolog.Logger
}

// NewProjectRepository creates a new project repository
func NewProjectRepository(db *pgxpool.Pool, logger zerolog.Logger) *ProjectRepository {
	return &ProjectRepository{db: db, logger: logger.With().Str("repository", "project").Logger()}
}

const projectColumns = `id, key, name, sdk_key_prefix, sdk_key_hash, created_at, updated_at`

func scanProject(row pgx.Row) (*Project, error) {
	p := &Project{}
	if err := row.Scan(&p.ID, &p.Key, &p.Name, &p.SDKKeyPrefix, &p.SDKKeyHash, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, translateError(err)
	}
	return p, nil
}

// Create inserts a new project with its SDK credential and the audit row in
// one transaction.
func (r *ProjectRepository) Create(ctx context.Context, key, name, sdkPrefix, sdkHash, actor string) (*Project, error) {
	p := &Project{ID: uuid.New(), Key: key, Name: name, SDKKeyPrefix: sdkPrefix, SDKKeyHash: sdkHash}

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `INSERT INTO projects (id, key, name, sdk_key_prefix, sdk_key_hash)
			VALUES ($1,$2,$3,$4,$5) RETURNING created_at, updated_at`,
			p.ID, p.Key, p.Name, p.SDKKeyPrefix, p.SDKKeyHash).Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
			return err
		}
		return insertAudit(ctx, tx, p.ID, actor, "project_created", "project", p.Key, map[string]string{"name": name})
	})
	if err != nil {
		r.logger.Error().Err(err).Str("key", key).Msg("Failed to create project")
		return nil, translateError(err)
	}
	return p, nil
}

// GetByKey returns a project by its key
func (r *ProjectRepository) GetByKey(ctx context.Context, key string) (*Project, error) {
	return scanProject(r.db.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE key=$1`, key))
}

// GetByID returns a project by ID
func (r *ProjectRepository) GetByID(ctx context.Context, id uuid.UUID) (*Project, error) {
	return scanProject(r.db.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=$1`, id))
}

// GetBySDKKeyPrefix returns the project owning an SDK credential with the
// given lookup prefix. The caller still has to verify the full key against
// the stored hash.
func (r *ProjectRepository) GetBySDKKeyPrefix(ctx context.Context, prefix string) (*Project, error) {
	return scanProject(r.db.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE sdk_key_prefix=$1`, prefix))
}

// List returns all projects
func (r *ProjectRepository) List(ctx context.Context) ([]*Project, error) {
	rows, err := r.db.Query(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY key`)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to list projects")
		return nil, err
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p := &Project{}
		if err := rows.Scan(&p.ID, &p.Key, &p.Name, &p.SDKKeyPrefix, &p.SDKKeyHash, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// RotateSDKKey replaces the project's SDK credential. The old key stops
// verifying the moment the transaction commits.
func (r *ProjectRepository) RotateSDKKey(ctx context.Context, id uuid.UUID, sdkPrefix, sdkHash, actor string) (*Project, error) {
	var p *Project
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var scanErr error
		p, scanErr = scanProject(tx.QueryRow(ctx, `UPDATE projects SET sdk_key_prefix=$2, sdk_key_hash=$3, updated_at=NOW()
			WHERE id=$1 RETURNING `+projectColumns, id, sdkPrefix, sdkHash))
		if scanErr != nil {
			return scanErr
		}
		return insertAudit(ctx, tx, p.ID, actor, "sdk_key_rotated", "project", p.Key, nil)
	})
	if err != nil {
		r.logger.Error().Err(err).Str("project_id", id.String()).Msg("Failed to rotate SDK key")
		return nil, translateError(err)
	}
	return p, nil
}
