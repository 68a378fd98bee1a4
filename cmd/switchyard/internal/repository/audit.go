package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// AuditEntry records one accepted mutation: who did what to which entity.
type AuditEntry struct {
	ID         uuid.UUID       `json:"id"`
	ProjectID  uuid.UUID       `json:"project_id"`
	Actor      string          `json:"actor"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Details    json.RawMessage `json:"details,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// AuditLogRepository handles audit log data access
type AuditLogRepository struct {
	db     *pgxpool.Pool
	logger zerolog.Logger
}

// NewAuditLogRepository creates a new audit log repository
func NewAuditLogRepository(db *pgxpool.Pool, logger zerolog.Logger) *AuditLogRepository {
	return &AuditLogRepository{db: db, logger: logger.With().Str("repository", "audit_log").Logger()}
}

// List returns audit entries for a project, newest first
func (r *AuditLogRepository) List(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]*AuditEntry, error) {
	rows, err := r.db.Query(ctx, `SELECT id, project_id, actor, action, entity_type, entity_id, details, created_at
		FROM audit_log WHERE project_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, projectID, limit, offset)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to list audit entries")
		return nil, err
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		e := &AuditEntry{}
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Actor, &e.Action, &e.EntityType, &e.EntityID, &e.Details, &e.CreatedAt); err != nil {
			r.logger.Error().Err(err).Msg("Failed to scan audit entry")
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// insertAudit writes an audit row inside the surrounding write transaction.
// Audit rows commit or roll back with the mutation they describe.
func insertAudit(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, actor, action, entityType, entityID string, details any) error {
	var payload []byte
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			return err
		}
		payload = b
	}
	_, err := tx.Exec(ctx, `INSERT INTO audit_log (id, project_id, actor, action, entity_type, entity_id, details)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		uuid.New(), projectID, actor, action, entityType, entityID, payload)
	return err
}
