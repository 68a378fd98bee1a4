package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Segment is a named, reusable rule set referenced by flag rules.
type Segment struct {
	ID        uuid.UUID      `json:"id"`
	ProjectID uuid.UUID      `json:"project_id"`
	Key       string         `json:"key"`
	Name      string         `json:"name"`
	MatchType string         `json:"match_type"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Rules     []*SegmentRule `json:"rules,omitempty"`
}

// SegmentRule is one attribute condition inside a segment, ordered by
// position.
type SegmentRule struct {
	ID        uuid.UUID `json:"id"`
	SegmentID uuid.UUID `json:"segment_id"`
	Attribute string    `json:"attribute"`
	Operator  string    `json:"operator"`
	Value     string    `json:"value"`
	Position  int       `json:"position"`
}

// SegmentRuleParams describes one rule on create or replace.
type SegmentRuleParams struct {
	Attribute string `json:"attribute"`
	Operator  string `json:"operator"`
	Value     string `json:"value"`
}

// SegmentRepository handles segment data access
type SegmentRepository struct {
	db     *pgxpool.Pool
	logger zerolog.Logger
}

// NewSegmentRepository creates a new segment repository
func NewSegmentRepository(db *pgxpool.Pool, logger zerolog.Logger) *SegmentRepository {
	return &SegmentRepository{db: db, logger: logger.With().Str("repository", "segment").Logger()}
}

const segmentColumns = `id, project_id, key, name, match_type, created_at, updated_at`

func scanSegment(row pgx.Row) (*Segment, error) {
	s := &Segment{}
	if err := row.Scan(&s.ID, &s.ProjectID, &s.Key, &s.Name, &s.MatchType, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, translateError(err)
	}
	return s, nil
}

func insertSegmentRules(ctx context.Context, tx pgx.Tx, segmentID uuid.UUID, params []SegmentRuleParams) ([]*SegmentRule, error) {
	rules := make([]*SegmentRule, 0, len(params))
	for i, rp := range params {
		rule := &SegmentRule{ID: uuid.New(), SegmentID: segmentID, Attribute: rp.Attribute, Operator: rp.Operator, Value: rp.Value, Position: i}
		if _, err := tx.Exec(ctx, `INSERT INTO segment_rules (id, segment_id, attribute, operator, value, position)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			rule.ID, rule.SegmentID, rule.Attribute, rule.Operator, rule.Value, rule.Position); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// referencingOverlays returns one row per (flag, environment) whose rules
// reference the segment. Segment changes fan out invalidations and bus
// events to exactly these pairs.
func referencingOverlays(ctx context.Context, tx pgx.Tx, segmentID uuid.UUID) ([]*OutboxEvent, error) {
	rows, err := tx.Query(ctx, `SELECT DISTINCT p.key, e.key, f.key, fe.enabled
		FROM flag_rules r
		JOIN flag_environments fe ON fe.id = r.flag_env_id
		JOIN flags f ON f.id = fe.flag_id
		JOIN environments e ON e.id = fe.env_id
		JOIN projects p ON p.id = f.project_id
		WHERE r.segment_id=$1`, segmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type ref struct {
		projectKey, envKey, flagKey string
		enabled                     bool
	}
	var refs []ref
	for rows.Next() {
		var rf ref
		if err := rows.Scan(&rf.projectKey, &rf.envKey, &rf.flagKey, &rf.enabled); err != nil {
			return nil, err
		}
		refs = append(refs, rf)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var events []*OutboxEvent
	for _, rf := range refs {
		ev, err := insertOutbox(ctx, tx, rf.projectKey, rf.envKey, rf.flagKey, ActionSegmentUpdated, rf.enabled)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// Create inserts a segment with its rules and the audit row in one
// transaction. A brand new segment has no referencing flags, so nothing
// needs invalidating.
func (r *SegmentRepository) Create(ctx context.Context, projectID uuid.UUID, key, name, matchType string, rules []SegmentRuleParams, actor string) (*Segment, error) {
	s := &Segment{ID: uuid.New(), ProjectID: projectID, Key: key, Name: name, MatchType: matchType}

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `INSERT INTO segments (id, project_id, key, name, match_type)
			VALUES ($1,$2,$3,$4,$5) RETURNING created_at, updated_at`,
			s.ID, s.ProjectID, s.Key, s.Name, s.MatchType).Scan(&s.CreatedAt, &s.UpdatedAt); err != nil {
			return err
		}
		inserted, err := insertSegmentRules(ctx, tx, s.ID, rules)
		if err != nil {
			return err
		}
		s.Rules = inserted
		return insertAudit(ctx, tx, projectID, actor, "segment_created", "segment", key, map[string]any{
			"match_type": matchType, "rules": len(rules),
		})
	})
	if err != nil {
		r.logger.Error().Err(err).Str("key", key).Msg("Failed to create segment")
		return nil, translateError(err)
	}
	return s, nil
}

// GetByKey returns a segment by project and key, rules included
func (r *SegmentRepository) GetByKey(ctx context.Context, projectID uuid.UUID, key string) (*Segment, error) {
	s, err := scanSegment(r.db.QueryRow(ctx, `SELECT `+segmentColumns+` FROM segments WHERE project_id=$1 AND key=$2`, projectID, key))
	if err != nil {
		return nil, err
	}
	if err := r.loadRules(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// GetByID returns a segment by ID, rules included
func (r *SegmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*Segment, error) {
	s, err := scanSegment(r.db.QueryRow(ctx, `SELECT `+segmentColumns+` FROM segments WHERE id=$1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadRules(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *SegmentRepository) loadRules(ctx context.Context, s *Segment) error {
	rows, err := r.db.Query(ctx, `SELECT id, segment_id, attribute, operator, value, position
		FROM segment_rules WHERE segment_id=$1 ORDER BY position`, s.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		rule := &SegmentRule{}
		if err := rows.Scan(&rule.ID, &rule.SegmentID, &rule.Attribute, &rule.Operator, &rule.Value, &rule.Position); err != nil {
			return err
		}
		s.Rules = append(s.Rules, rule)
	}
	return rows.Err()
}

// List returns a project's segments, rules included
func (r *SegmentRepository) List(ctx context.Context, projectID uuid.UUID) ([]*Segment, error) {
	rows, err := r.db.Query(ctx, `SELECT `+segmentColumns+` FROM segments WHERE project_id=$1 ORDER BY key`, projectID)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to list segments")
		return nil, err
	}
	defer rows.Close()

	var segments []*Segment
	byID := map[uuid.UUID]*Segment{}
	for rows.Next() {
		s := &Segment{}
		if err := rows.Scan(&s.ID, &s.ProjectID, &s.Key, &s.Name, &s.MatchType, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		segments = append(segments, s)
		byID[s.ID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rrows, err := r.db.Query(ctx, `SELECT r.id, r.segment_id, r.attribute, r.operator, r.value, r.position
		FROM segment_rules r JOIN segments s ON s.id = r.segment_id
		WHERE s.project_id=$1 ORDER BY r.segment_id, r.position`, projectID)
	if err != nil {
		return nil, err
	}
	defer rrows.Close()
	for rrows.Next() {
		rule := &SegmentRule{}
		if err := rrows.Scan(&rule.ID, &rule.SegmentID, &rule.Attribute, &rule.Operator, &rule.Value, &rule.Position); err != nil {
			return nil, err
		}
		if s, ok := byID[rule.SegmentID]; ok {
			s.Rules = append(s.Rules, rule)
		}
	}
	return segments, rrows.Err()
}

// Update renames a segment and replaces its rule set. Because segment
// definitions are embedded in flag snapshots at build time, the change fans
// out one outbox row per (flag, environment) referencing this segment.
func (r *SegmentRepository) Update(ctx context.Context, segmentID uuid.UUID, name, matchType string, rules []SegmentRuleParams, actor string) (*Segment, []*OutboxEvent, error) {
	var s *Segment
	var events []*OutboxEvent

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var scanErr error
		s, scanErr = scanSegment(tx.QueryRow(ctx, `UPDATE segments SET name=$2, match_type=$3, updated_at=NOW()
			WHERE id=$1 RETURNING `+segmentColumns, segmentID, name, matchType))
		if scanErr != nil {
			return scanErr
		}

		if _, err := tx.Exec(ctx, `DELETE FROM segment_rules WHERE segment_id=$1`, segmentID); err != nil {
			return err
		}
		inserted, err := insertSegmentRules(ctx, tx, segmentID, rules)
		if err != nil {
			return err
		}
		s.Rules = inserted

		events, err = referencingOverlays(ctx, tx, segmentID)
		if err != nil {
			return err
		}

		return insertAudit(ctx, tx, s.ProjectID, actor, "segment_updated", "segment", s.Key, map[string]any{
			"match_type": matchType, "rules": len(rules),
		})
	})
	if err != nil {
		r.logger.Error().Err(err).Str("segment_id", segmentID.String()).Msg("Failed to update segment")
		return nil, nil, translateError(err)
	}
	return s, events, nil
}

// Delete removes a segment. Deletion is rejected with a conflict while any
// flag rule still references the segment.
func (r *SegmentRepository) Delete(ctx context.Context, segmentID uuid.UUID, actor string) error {
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		s, scanErr := scanSegment(tx.QueryRow(ctx, `SELECT `+segmentColumns+` FROM segments WHERE id=$1 FOR UPDATE`, segmentID))
		if scanErr != nil {
			return scanErr
		}

		var referenced bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM flag_rules WHERE segment_id=$1)`, segmentID).Scan(&referenced); err != nil {
			return err
		}
		if referenced {
			return ErrConflict
		}

		if _, err := tx.Exec(ctx, `DELETE FROM segments WHERE id=$1`, segmentID); err != nil {
			return err
		}
		return insertAudit(ctx, tx, s.ProjectID, actor, "segment_deleted", "segment", s.Key, nil)
	})
	if err != nil {
		r.logger.Error().Err(err).Str("segment_id", segmentID.String()).Msg("Failed to delete segment")
		return translateError(err)
	}
	return nil
}
