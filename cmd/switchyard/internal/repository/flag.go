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

// Flag represents a feature flag record. Rollout state lives in the
// per-environment overlays, not here.
type Flag struct {
	ID          uuid.UUID      `json:"id"`
	ProjectID   uuid.UUID      `json:"project_id"`
	Key         string         `json:"key"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Type        string         `json:"type"`
	Tags        []string       `json:"tags"`
	Archived    bool           `json:"archived"`
	Permanent   bool           `json:"permanent"`
	OwnerEmail  string         `json:"owner_email,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Variants    []*FlagVariant `json:"variants,omitempty"`
}

// FlagVariant is one weighted arm of a variant flag, shared across
// environments.
type FlagVariant struct {
	ID       uuid.UUID       `json:"id"`
	FlagID   uuid.UUID       `json:"flag_id"`
	Key      string          `json:"key"`
	Name     string          `json:"name"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Weight   int             `json:"weight"`
	Position int             `json:"position"`
}

// FlagEnvironment is the per-environment overlay: the rollout state of one
// flag in one environment.
type FlagEnvironment struct {
	ID             uuid.UUID       `json:"id"`
	FlagID         uuid.UUID       `json:"flag_id"`
	EnvID          uuid.UUID       `json:"env_id"`
	Enabled        bool            `json:"enabled"`
	Percentage     int             `json:"percentage"`
	DefaultVariant *string         `json:"default_variant,omitempty"`
	EnableAt       *time.Time      `json:"enable_at,omitempty"`
	DisableAt      *time.Time      `json:"disable_at,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// FlagRule is one targeting rule attached to an overlay. Exactly one of the
// rule_type field groups is populated.
type FlagRule struct {
	ID        uuid.UUID  `json:"id"`
	FlagEnvID uuid.UUID  `json:"flag_env_id"`
	RuleType  string     `json:"rule_type"`
	Position  int        `json:"position"`
	SegmentID *uuid.UUID `json:"segment_id,omitempty"`
	Attribute string     `json:"attribute,omitempty"`
	Operator  string     `json:"operator,omitempty"`
	Value     string     `json:"value,omitempty"`
	UserIDs   []string   `json:"user_ids,omitempty"`

	ServeEnabled    bool    `json:"serve_enabled"`
	ServeVariant    *string `json:"serve_variant,omitempty"`
	ServePercentage *int    `json:"serve_percentage,omitempty"`
}

// VariantParams describes one variant on create or replace.
type VariantParams struct {
	Key     string          `json:"key"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Weight  int             `json:"weight"`
}

// RuleParams describes one rule on replace.
type RuleParams struct {
	RuleType  string     `json:"rule_type"`
	SegmentID *uuid.UUID `json:"segment_id,omitempty"`
	Attribute string     `json:"attribute,omitempty"`
	Operator  string     `json:"operator,omitempty"`
	Value     string     `json:"value,omitempty"`
	UserIDs   []string   `json:"user_ids,omitempty"`

	ServeEnabled    bool    `json:"serve_enabled"`
	ServeVariant    *string `json:"serve_variant,omitempty"`
	ServePercentage *int    `json:"serve_percentage,omitempty"`
}

// CreateFlagParams input for creating a flag
type CreateFlagParams struct {
	ProjectID   uuid.UUID
	Key         string
	Name        string
	Description string
	Type        string
	Tags        []string
	Permanent   bool
	OwnerEmail  string
	Variants    []VariantParams
	Actor       string
}

// UpdateFlagParams input for updating flag metadata
type UpdateFlagParams struct {
	Name        string
	Description string
	Tags        []string
	Permanent   bool
	OwnerEmail  string
	Actor       string
}

// OverlayParams input for updating an overlay. Nil fields keep their current
// values.
type OverlayParams struct {
	Percentage     *int
	DefaultVariant *string
	Metadata       json.RawMessage
	Actor          string
}

// Schedule kinds.
const (
	ScheduleEnable  = "enable"
	ScheduleDisable = "disable"
)

// FlagRepository handles flag data access
type FlagRepository struct {
	db     *pgxpool.Pool
	logger zerolog.Logger
}

// NewFlagRepository creates a new flag repository
func NewFlagRepository(db *pgxpool.Pool, logger zerolog.Logger) *FlagRepository {
	return &FlagRepository{db: db, logger: logger.With().Str("repository", "flag").Logger()}
}

const flagColumns = `id, project_id, key, name, description, type, tags, archived, permanent, owner_email, created_at, updated_at`

func scanFlag(row pgx.Row) (*Flag, error) {
	f := &Flag{}
	if err := row.Scan(&f.ID, &f.ProjectID, &f.Key, &f.Name, &f.Description, &f.Type, &f.Tags, &f.Archived, &f.Permanent, &f.OwnerEmail, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, translateError(err)
	}
	return f, nil
}

type envRef struct {
	ID  uuid.UUID
	Key string
}

func listEnvRefs(ctx context.Context, tx pgx.Tx, projectID uuid.UUID) ([]envRef, error) {
	rows, err := tx.Query(ctx, `SELECT id, key FROM environments WHERE project_id=$1 ORDER BY position`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []envRef
	for rows.Next() {
		var ref envRef
		if err := rows.Scan(&ref.ID, &ref.Key); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// flagScope loads a flag together with its project key, locking the flag row
// for the duration of the transaction.
func flagScope(ctx context.Context, tx pgx.Tx, flagID uuid.UUID) (*Flag, string, error) {
	f := &Flag{}
	var projectKey string
	err := tx.QueryRow(ctx, `SELECT f.id, f.project_id, f.key, f.name, f.description, f.type, f.tags, f.archived, f.permanent, f.owner_email, f.created_at, f.updated_at, p.key
		FROM flags f JOIN projects p ON p.id = f.project_id
		WHERE f.id=$1 FOR UPDATE OF f`, flagID).
		Scan(&f.ID, &f.ProjectID, &f.Key, &f.Name, &f.Description, &f.Type, &f.Tags, &f.Archived, &f.Permanent, &f.OwnerEmail, &f.CreatedAt, &f.UpdatedAt, &projectKey)
	if err != nil {
		return nil, "", err
	}
	return f, projectKey, nil
}

// overlayScope loads an overlay together with the flag and the project/env
// keys, locking the overlay row.
type overlayScope struct {
	Overlay    *FlagEnvironment
	Flag       *Flag
	ProjectKey string
	EnvKey     string
}

func lockOverlay(ctx context.Context, tx pgx.Tx, flagID, envID uuid.UUID) (*overlayScope, error) {
	s := &overlayScope{Overlay: &FlagEnvironment{}, Flag: &Flag{}}
	o, f := s.Overlay, s.Flag
	err := tx.QueryRow(ctx, `SELECT fe.id, fe.flag_id, fe.env_id, fe.enabled, fe.percentage, fe.default_variant, fe.enable_at, fe.disable_at, fe.metadata, fe.updated_at,
			f.id, f.project_id, f.key, f.type, f.archived, f.permanent, p.key, e.key
		FROM flag_environments fe
		JOIN flags f ON f.id = fe.flag_id
		JOIN projects p ON p.id = f.project_id
		JOIN environments e ON e.id = fe.env_id
		WHERE fe.flag_id=$1 AND fe.env_id=$2 FOR UPDATE OF fe`, flagID, envID).
		Scan(&o.ID, &o.FlagID, &o.EnvID, &o.Enabled, &o.Percentage, &o.DefaultVariant, &o.EnableAt, &o.DisableAt, &o.Metadata, &o.UpdatedAt,
			&f.ID, &f.ProjectID, &f.Key, &f.Type, &f.Archived, &f.Permanent, &s.ProjectKey, &s.EnvKey)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func insertVariants(ctx context.Context, tx pgx.Tx, flagID uuid.UUID, params []VariantParams) ([]*FlagVariant, error) {
	variants := make([]*FlagVariant, 0, len(params))
	for i, vp := range params {
		v := &FlagVariant{ID: uuid.New(), FlagID: flagID, Key: vp.Key, Name: vp.Name, Payload: vp.Payload, Weight: vp.Weight, Position: i}
		if _, err := tx.Exec(ctx, `INSERT INTO flag_variants (id, flag_id, key, name, payload, weight, position)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			v.ID, v.FlagID, v.Key, v.Name, v.Payload, v.Weight, v.Position); err != nil {
			return nil, err
		}
		variants = append(variants, v)
	}
	return variants, nil
}

// Create inserts a flag, its variants, one disabled overlay per existing
// environment, the audit row, and one outbox row per environment, all in one
// transaction. Variant flags with variants get the first variant as every
// overlay's default.
func (r *FlagRepository) Create(ctx context.Context, params *CreateFlagParams) (*Flag, []*OutboxEvent, error) {
	f := &Flag{
		ID: uuid.New(), ProjectID: params.ProjectID, Key: params.Key,
		Name: params.Name, Description: params.Description, Type: params.Type,
		Tags: params.Tags, Permanent: params.Permanent, OwnerEmail: params.OwnerEmail,
	}
	if f.Tags == nil {
		f.Tags = []string{}
	}
	var events []*OutboxEvent

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var projectKey string
		if err := tx.QueryRow(ctx, `SELECT key FROM projects WHERE id=$1`, params.ProjectID).Scan(&projectKey); err != nil {
			return err
		}

		if err := tx.QueryRow(ctx, `INSERT INTO flags (id, project_id, key, name, description, type, tags, permanent, owner_email)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING created_at, updated_at`,
			f.ID, f.ProjectID, f.Key, f.Name, f.Description, f.Type, f.Tags, f.Permanent, f.OwnerEmail).
			Scan(&f.CreatedAt, &f.UpdatedAt); err != nil {
			return err
		}

		variants, err := insertVariants(ctx, tx, f.ID, params.Variants)
		if err != nil {
			return err
		}
		f.Variants = variants

		var defaultVariant *string
		if f.Type == "variant" && len(variants) > 0 {
			defaultVariant = &variants[0].Key
		}

		envs, err := listEnvRefs(ctx, tx, params.ProjectID)
		if err != nil {
			return err
		}
		for _, env := range envs {
			if _, err := tx.Exec(ctx, `INSERT INTO flag_environments (id, flag_id, env_id, enabled, percentage, default_variant)
				VALUES ($1,$2,$3,false,0,$4)`, uuid.New(), f.ID, env.ID, defaultVariant); err != nil {
				return err
			}
			ev, err := insertOutbox(ctx, tx, projectKey, env.Key, f.Key, ActionFlagCreated, false)
			if err != nil {
				return err
			}
			events = append(events, ev)
		}

		return insertAudit(ctx, tx, f.ProjectID, params.Actor, "flag_created", "flag", f.Key, map[string]any{
			"type": f.Type, "variants": len(variants),
		})
	})
	if err != nil {
		r.logger.Error().Err(err).Str("key", params.Key).Msg("Failed to create flag")
		return nil, nil, translateError(err)
	}
	return f, events, nil
}

// GetByKey returns a flag by project and key, variants included
func (r *FlagRepository) GetByKey(ctx context.Context, projectID uuid.UUID, key string) (*Flag, error) {
	f, err := scanFlag(r.db.QueryRow(ctx, `SELECT `+flagColumns+` FROM flags WHERE project_id=$1 AND key=$2`, projectID, key))
	if err != nil {
		return nil, err
	}
	if err := r.loadVariants(ctx, f); err != nil {
		r.logger.Error().Err(err).Str("key", key).Msg("Failed to load variants")
		return nil, err
	}
	return f, nil
}

// GetByID returns a flag by ID, variants included
func (r *FlagRepository) GetByID(ctx context.Context, id uuid.UUID) (*Flag, error) {
	f, err := scanFlag(r.db.QueryRow(ctx, `SELECT `+flagColumns+` FROM flags WHERE id=$1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadVariants(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

func (r *FlagRepository) loadVariants(ctx context.Context, f *Flag) error {
	rows, err := r.db.Query(ctx, `SELECT id, flag_id, key, name, payload, weight, position
		FROM flag_variants WHERE flag_id=$1 ORDER BY position`, f.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		v := &FlagVariant{}
		if err := rows.Scan(&v.ID, &v.FlagID, &v.Key, &v.Name, &v.Payload, &v.Weight, &v.Position); err != nil {
			return err
		}
		f.Variants = append(f.Variants, v)
	}
	return rows.Err()
}

// List returns a project's flags, variants included. Archived flags are
// filtered out unless asked for.
func (r *FlagRepository) List(ctx context.Context, projectID uuid.UUID, includeArchived bool) ([]*Flag, error) {
	q := `SELECT ` + flagColumns + ` FROM flags WHERE project_id=$1`
	if !includeArchived {
		q += ` AND NOT archived`
	}
	q += ` ORDER BY key`

	rows, err := r.db.Query(ctx, q, projectID)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to list flags")
		return nil, err
	}
	defer rows.Close()

	var flags []*Flag
	byID := map[uuid.UUID]*Flag{}
	for rows.Next() {
		f := &Flag{}
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.Key, &f.Name, &f.Description, &f.Type, &f.Tags, &f.Archived, &f.Permanent, &f.OwnerEmail, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		flags = append(flags, f)
		byID[f.ID] = f
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	vrows, err := r.db.Query(ctx, `SELECT v.id, v.flag_id, v.key, v.name, v.payload, v.weight, v.position
		FROM flag_variants v JOIN flags f ON f.id = v.flag_id
		WHERE f.project_id=$1 ORDER BY v.flag_id, v.position`, projectID)
	if err != nil {
		return nil, err
	}
	defer vrows.Close()
	for vrows.Next() {
		v := &FlagVariant{}
		if err := vrows.Scan(&v.ID, &v.FlagID, &v.Key, &v.Name, &v.Payload, &v.Weight, &v.Position); err != nil {
			return nil, err
		}
		if f, ok := byID[v.FlagID]; ok {
			f.Variants = append(f.Variants, v)
		}
	}
	return flags, vrows.Err()
}

// Update changes flag metadata
func (r *FlagRepository) Update(ctx context.Context, flagID uuid.UUID, params *UpdateFlagParams) (*Flag, []*OutboxEvent, error) {
	var f *Flag
	var events []*OutboxEvent

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		locked, projectKey, err := flagScope(ctx, tx, flagID)
		if err != nil {
			return err
		}

		tags := params.Tags
		if tags == nil {
			tags = []string{}
		}
		var scanErr error
		f, scanErr = scanFlag(tx.QueryRow(ctx, `UPDATE flags SET name=$2, description=$3, tags=$4, permanent=$5, owner_email=$6, updated_at=NOW()
			WHERE id=$1 RETURNING `+flagColumns,
			flagID, params.Name, params.Description, tags, params.Permanent, params.OwnerEmail))
		if scanErr != nil {
			return scanErr
		}

		envs, err := listEnvRefs(ctx, tx, locked.ProjectID)
		if err != nil {
			return err
		}
		for _, env := range envs {
			var enabled bool
			if err := tx.QueryRow(ctx, `SELECT enabled FROM flag_environments WHERE flag_id=$1 AND env_id=$2`, flagID, env.ID).Scan(&enabled); err != nil {
				return err
			}
			ev, err := insertOutbox(ctx, tx, projectKey, env.Key, f.Key, ActionFlagUpdated, enabled)
			if err != nil {
				return err
			}
			events = append(events, ev)
		}

		return insertAudit(ctx, tx, f.ProjectID, params.Actor, "flag_updated", "flag", f.Key, nil)
	})
	if err != nil {
		r.logger.Error().Err(err).Str("flag_id", flagID.String()).Msg("Failed to update flag")
		return nil, nil, translateError(err)
	}

	if err := r.loadVariants(ctx, f); err != nil {
		return nil, nil, err
	}
	return f, events, nil
}

// ReplaceVariants swaps a flag's variant set. Removal is rejected while any
// rule still serves a removed variant; overlay defaults are repaired to keep
// variant flags pointing at an existing variant.
func (r *FlagRepository) ReplaceVariants(ctx context.Context, flagID uuid.UUID, params []VariantParams, actor string) (*Flag, []*OutboxEvent, error) {
	var f *Flag
	var events []*OutboxEvent

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		locked, projectKey, err := flagScope(ctx, tx, flagID)
		if err != nil {
			return err
		}
		f = locked

		keys := make([]string, len(params))
		for i, vp := range params {
			keys[i] = vp.Key
		}

		var serving int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM flag_rules r
			JOIN flag_environments fe ON fe.id = r.flag_env_id
			WHERE fe.flag_id=$1 AND r.serve_variant IS NOT NULL AND r.serve_variant <> ALL($2)`,
			flagID, keys).Scan(&serving); err != nil {
			return err
		}
		if serving > 0 {
			return ErrConflict
		}

		if _, err := tx.Exec(ctx, `DELETE FROM flag_variants WHERE flag_id=$1`, flagID); err != nil {
			return err
		}
		variants, err := insertVariants(ctx, tx, flagID, params)
		if err != nil {
			return err
		}
		f.Variants = variants

		// Keep overlay defaults consistent: no variants means no default; a
		// default naming a removed variant falls back to the first one.
		if len(variants) == 0 {
			if _, err := tx.Exec(ctx, `UPDATE flag_environments SET default_variant=NULL WHERE flag_id=$1`, flagID); err != nil {
				return err
			}
		} else if f.Type == "variant" {
			if _, err := tx.Exec(ctx, `UPDATE flag_environments SET default_variant=$2
				WHERE flag_id=$1 AND (default_variant IS NULL OR default_variant <> ALL($3))`,
				flagID, variants[0].Key, keys); err != nil {
				return err
			}
		}

		envs, err := listEnvRefs(ctx, tx, f.ProjectID)
		if err != nil {
			return err
		}
		for _, env := range envs {
			var enabled bool
			if err := tx.QueryRow(ctx, `SELECT enabled FROM flag_environments WHERE flag_id=$1 AND env_id=$2`, flagID, env.ID).Scan(&enabled); err != nil {
				return err
			}
			ev, err := insertOutbox(ctx, tx, projectKey, env.Key, f.Key, ActionVariantsReplaced, enabled)
			if err != nil {
				return err
			}
			events = append(events, ev)
		}

		return insertAudit(ctx, tx, f.ProjectID, actor, "variants_replaced", "flag", f.Key, map[string]any{
			"variants": keys,
		})
	})
	if err != nil {
		r.logger.Error().Err(err).Str("flag_id", flagID.String()).Msg("Failed to replace variants")
		return nil, nil, translateError(err)
	}
	return f, events, nil
}

// GetOverlay returns the overlay for one flag in one environment
func (r *FlagRepository) GetOverlay(ctx context.Context, flagID, envID uuid.UUID) (*FlagEnvironment, error) {
	o := &FlagEnvironment{}
	err := r.db.QueryRow(ctx, `SELECT id, flag_id, env_id, enabled, percentage, default_variant, enable_at, disable_at, metadata, updated_at
		FROM flag_environments WHERE flag_id=$1 AND env_id=$2`, flagID, envID).
		Scan(&o.ID, &o.FlagID, &o.EnvID, &o.Enabled, &o.Percentage, &o.DefaultVariant, &o.EnableAt, &o.DisableAt, &o.Metadata, &o.UpdatedAt)
	if err != nil {
		return nil, translateError(err)
	}
	return o, nil
}

// GetRules returns an overlay's rules in position order
func (r *FlagRepository) GetRules(ctx context.Context, flagEnvID uuid.UUID) ([]*FlagRule, error) {
	rows, err := r.db.Query(ctx, `SELECT id, flag_env_id, rule_type, position, segment_id, attribute, operator, value, user_ids, serve_enabled, serve_variant, serve_percentage
		FROM flag_rules WHERE flag_env_id=$1 ORDER BY position`, flagEnvID)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to list rules")
		return nil, err
	}
	defer rows.Close()

	var rules []*FlagRule
	for rows.Next() {
		rule := &FlagRule{}
		if err := rows.Scan(&rule.ID, &rule.FlagEnvID, &rule.RuleType, &rule.Position, &rule.SegmentID, &rule.Attribute, &rule.Operator, &rule.Value, &rule.UserIDs, &rule.ServeEnabled, &rule.ServeVariant, &rule.ServePercentage); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// UpdateOverlay changes rollout fields of one overlay. Nil params keep the
// stored values.
func (r *FlagRepository) UpdateOverlay(ctx context.Context, flagID, envID uuid.UUID, params *OverlayParams) (*FlagEnvironment, []*OutboxEvent, error) {
	var overlay *FlagEnvironment
	var events []*OutboxEvent

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		scope, err := lockOverlay(ctx, tx, flagID, envID)
		if err != nil {
			return err
		}
		o := scope.Overlay

		if params.Percentage != nil {
			o.Percentage = *params.Percentage
		}
		if params.DefaultVariant != nil {
			if *params.DefaultVariant == "" {
				o.DefaultVariant = nil
			} else {
				if scope.Flag.Type != "variant" {
					return ErrInvalidInput
				}
				var exists bool
				if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM flag_variants WHERE flag_id=$1 AND key=$2)`,
					flagID, *params.DefaultVariant).Scan(&exists); err != nil {
					return err
				}
				if !exists {
					return ErrInvalidInput
				}
				o.DefaultVariant = params.DefaultVariant
			}
		}
		if params.Metadata != nil {
			o.Metadata = params.Metadata
		}

		if err := tx.QueryRow(ctx, `UPDATE flag_environments SET percentage=$2, default_variant=$3, metadata=$4, updated_at=NOW()
			WHERE id=$1 RETURNING updated_at`,
			o.ID, o.Percentage, o.DefaultVariant, o.Metadata).Scan(&o.UpdatedAt); err != nil {
			return err
		}
		overlay = o

		ev, err := insertOutbox(ctx, tx, scope.ProjectKey, scope.EnvKey, scope.Flag.Key, ActionOverlayUpdated, o.Enabled)
		if err != nil {
			return err
		}
		events = append(events, ev)

		return insertAudit(ctx, tx, scope.Flag.ProjectID, params.Actor, "overlay_updated", "flag", scope.Flag.Key, map[string]any{
			"environment": scope.EnvKey, "percentage": o.Percentage,
		})
	})
	if err != nil {
		r.logger.Error().Err(err).Str("flag_id", flagID.String()).Msg("Failed to update overlay")
		return nil, nil, translateError(err)
	}
	return overlay, events, nil
}

// ReplaceRules swaps an overlay's rule list, positions assigned from slice
// order. Serve variants must exist on the flag, and segment rules must
// reference segments of the same project.
func (r *FlagRepository) ReplaceRules(ctx context.Context, flagID, envID uuid.UUID, params []RuleParams, actor string) ([]*FlagRule, []*OutboxEvent, error) {
	var rules []*FlagRule
	var events []*OutboxEvent

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		scope, err := lockOverlay(ctx, tx, flagID, envID)
		if err != nil {
			return err
		}

		for _, rp := range params {
			if rp.ServeVariant != nil {
				var exists bool
				if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM flag_variants WHERE flag_id=$1 AND key=$2)`,
					flagID, *rp.ServeVariant).Scan(&exists); err != nil {
					return err
				}
				if !exists {
					return ErrInvalidInput
				}
			}
			if rp.RuleType == "segment" {
				if rp.SegmentID == nil {
					return ErrInvalidInput
				}
				var sameProject bool
				if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM segments WHERE id=$1 AND project_id=$2)`,
					rp.SegmentID, scope.Flag.ProjectID).Scan(&sameProject); err != nil {
					return err
				}
				if !sameProject {
					return ErrInvalidInput
				}
			}
		}

		if _, err := tx.Exec(ctx, `DELETE FROM flag_rules WHERE flag_env_id=$1`, scope.Overlay.ID); err != nil {
			return err
		}
		for i, rp := range params {
			rule := &FlagRule{
				ID: uuid.New(), FlagEnvID: scope.Overlay.ID, RuleType: rp.RuleType, Position: i,
				SegmentID: rp.SegmentID, Attribute: rp.Attribute, Operator: rp.Operator, Value: rp.Value,
				UserIDs: rp.UserIDs, ServeEnabled: rp.ServeEnabled, ServeVariant: rp.ServeVariant, ServePercentage: rp.ServePercentage,
			}
			if _, err := tx.Exec(ctx, `INSERT INTO flag_rules (id, flag_env_id, rule_type, position, segment_id, attribute, operator, value, user_ids, serve_enabled, serve_variant, serve_percentage)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
				rule.ID, rule.FlagEnvID, rule.RuleType, rule.Position, rule.SegmentID, rule.Attribute, rule.Operator, rule.Value, rule.UserIDs, rule.ServeEnabled, rule.ServeVariant, rule.ServePercentage); err != nil {
				return err
			}
			rules = append(rules, rule)
		}

		ev, err := insertOutbox(ctx, tx, scope.ProjectKey, scope.EnvKey, scope.Flag.Key, ActionRulesReplaced, scope.Overlay.Enabled)
		if err != nil {
			return err
		}
		events = append(events, ev)

		return insertAudit(ctx, tx, scope.Flag.ProjectID, actor, "rules_replaced", "flag", scope.Flag.Key, map[string]any{
			"environment": scope.EnvKey, "rules": len(params),
		})
	})
	if err != nil {
		r.logger.Error().Err(err).Str("flag_id", flagID.String()).Msg("Failed to replace rules")
		return nil, nil, translateError(err)
	}
	return rules, events, nil
}

// Toggle flips an overlay's enabled value. A manual toggle clears both
// schedule timestamps and cancels their handles.
func (r *FlagRepository) Toggle(ctx context.Context, flagID, envID uuid.UUID, enabled bool, actor string) (*FlagEnvironment, []*OutboxEvent, error) {
	var overlay *FlagEnvironment
	var events []*OutboxEvent

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		scope, err := lockOverlay(ctx, tx, flagID, envID)
		if err != nil {
			return err
		}
		o := scope.Overlay

		if err := tx.QueryRow(ctx, `UPDATE flag_environments SET enabled=$2, enable_at=NULL, disable_at=NULL, updated_at=NOW()
			WHERE id=$1 RETURNING updated_at`, o.ID, enabled).Scan(&o.UpdatedAt); err != nil {
			return err
		}
		o.Enabled = enabled
		o.EnableAt, o.DisableAt = nil, nil
		overlay = o

		if _, err := tx.Exec(ctx, `DELETE FROM scheduled_jobs WHERE flag_env_id=$1`, o.ID); err != nil {
			return err
		}

		ev, err := insertOutbox(ctx, tx, scope.ProjectKey, scope.EnvKey, scope.Flag.Key, ActionFlagToggled, enabled)
		if err != nil {
			return err
		}
		events = append(events, ev)

		return insertAudit(ctx, tx, scope.Flag.ProjectID, actor, "flag_toggled", "flag", scope.Flag.Key, map[string]any{
			"environment": scope.EnvKey, "enabled": enabled,
		})
	})
	if err != nil {
		r.logger.Error().Err(err).Str("flag_id", flagID.String()).Msg("Failed to toggle flag")
		return nil, nil, translateError(err)
	}
	return overlay, events, nil
}

// Schedule sets an enable_at or disable_at on an overlay and registers the
// durable timer. A new schedule for the same (overlay, kind) supersedes the
// previous handle.
func (r *FlagRepository) Schedule(ctx context.Context, flagID, envID uuid.UUID, kind string, at time.Time, actor string) (*FlagEnvironment, []*OutboxEvent, error) {
	if kind != ScheduleEnable && kind != ScheduleDisable {
		return nil, nil, ErrInvalidInput
	}

	var overlay *FlagEnvironment
	var events []*OutboxEvent

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		scope, err := lockOverlay(ctx, tx, flagID, envID)
		if err != nil {
			return err
		}
		o := scope.Overlay

		field := "enable_at"
		if kind == ScheduleDisable {
			field = "disable_at"
		}
		if err := tx.QueryRow(ctx, `UPDATE flag_environments SET `+field+`=$2, updated_at=NOW()
			WHERE id=$1 RETURNING updated_at`, o.ID, at).Scan(&o.UpdatedAt); err != nil {
			return err
		}
		if kind == ScheduleEnable {
			o.EnableAt = &at
		} else {
			o.DisableAt = &at
		}
		overlay = o

		// Supersede any previous handle for this (overlay, kind).
		if _, err := tx.Exec(ctx, `DELETE FROM scheduled_jobs WHERE flag_env_id=$1 AND kind=$2`, o.ID, kind); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO scheduled_jobs (id, flag_env_id, flag_id, env_id, kind, fire_at)
			VALUES ($1,$2,$3,$4,$5,$6)`, uuid.New(), o.ID, flagID, envID, kind, at); err != nil {
			return err
		}

		ev, err := insertOutbox(ctx, tx, scope.ProjectKey, scope.EnvKey, scope.Flag.Key, ActionScheduleSet, o.Enabled)
		if err != nil {
			return err
		}
		events = append(events, ev)

		return insertAudit(ctx, tx, scope.Flag.ProjectID, actor, "schedule_set", "flag", scope.Flag.Key, map[string]any{
			"environment": scope.EnvKey, "kind": kind, "at": at,
		})
	})
	if err != nil {
		r.logger.Error().Err(err).Str("flag_id", flagID.String()).Msg("Failed to schedule flag change")
		return nil, nil, translateError(err)
	}
	return overlay, events, nil
}

// ClearSchedule drops both schedule timestamps and their handles.
func (r *FlagRepository) ClearSchedule(ctx context.Context, flagID, envID uuid.UUID, actor string) (*FlagEnvironment, []*OutboxEvent, error) {
	var overlay *FlagEnvironment
	var events []*OutboxEvent

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		scope, err := lockOverlay(ctx, tx, flagID, envID)
		if err != nil {
			return err
		}
		o := scope.Overlay

		if err := tx.QueryRow(ctx, `UPDATE flag_environments SET enable_at=NULL, disable_at=NULL, updated_at=NOW()
			WHERE id=$1 RETURNING updated_at`, o.ID).Scan(&o.UpdatedAt); err != nil {
			return err
		}
		o.EnableAt, o.DisableAt = nil, nil
		overlay = o

		if _, err := tx.Exec(ctx, `DELETE FROM scheduled_jobs WHERE flag_env_id=$1`, o.ID); err != nil {
			return err
		}

		ev, err := insertOutbox(ctx, tx, scope.ProjectKey, scope.EnvKey, scope.Flag.Key, ActionScheduleCleared, o.Enabled)
		if err != nil {
			return err
		}
		events = append(events, ev)

		return insertAudit(ctx, tx, scope.Flag.ProjectID, actor, "schedule_cleared", "flag", scope.Flag.Key, map[string]any{
			"environment": scope.EnvKey,
		})
	})
	if err != nil {
		r.logger.Error().Err(err).Str("flag_id", flagID.String()).Msg("Failed to clear schedule")
		return nil, nil, translateError(err)
	}
	return overlay, events, nil
}

// Archive marks a flag archived and forces it off everywhere: every overlay
// is disabled, schedules are cleared, handles cancelled, one transaction.
func (r *FlagRepository) Archive(ctx context.Context, flagID uuid.UUID, actor string) (*Flag, []*OutboxEvent, error) {
	var f *Flag
	var events []*OutboxEvent

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		locked, projectKey, err := flagScope(ctx, tx, flagID)
		if err != nil {
			return err
		}
		f = locked

		if _, err := tx.Exec(ctx, `UPDATE flags SET archived=true, updated_at=NOW() WHERE id=$1`, flagID); err != nil {
			return err
		}
		f.Archived = true

		if _, err := tx.Exec(ctx, `UPDATE flag_environments SET enabled=false, enable_at=NULL, disable_at=NULL, updated_at=NOW()
			WHERE flag_id=$1`, flagID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM scheduled_jobs WHERE flag_id=$1`, flagID); err != nil {
			return err
		}

		envs, err := listEnvRefs(ctx, tx, f.ProjectID)
		if err != nil {
			return err
		}
		for _, env := range envs {
			ev, err := insertOutbox(ctx, tx, projectKey, env.Key, f.Key, ActionFlagArchived, false)
			if err != nil {
				return err
			}
			events = append(events, ev)
		}

		return insertAudit(ctx, tx, f.ProjectID, actor, "flag_archived", "flag", f.Key, nil)
	})
	if err != nil {
		r.logger.Error().Err(err).Str("flag_id", flagID.String()).Msg("Failed to archive flag")
		return nil, nil, translateError(err)
	}
	return f, events, nil
}

// Delete removes a flag entirely. Permanent flags are not destructible;
// archive is their only terminal state.
func (r *FlagRepository) Delete(ctx context.Context, flagID uuid.UUID, actor string) ([]*OutboxEvent, error) {
	var events []*OutboxEvent

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		f, projectKey, err := flagScope(ctx, tx, flagID)
		if err != nil {
			return err
		}
		if f.Permanent {
			return ErrConflict
		}

		envs, err := listEnvRefs(ctx, tx, f.ProjectID)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM flags WHERE id=$1`, flagID); err != nil {
			return err
		}

		for _, env := range envs {
			ev, err := insertOutbox(ctx, tx, projectKey, env.Key, f.Key, ActionFlagDeleted, false)
			if err != nil {
				return err
			}
			events = append(events, ev)
		}

		return insertAudit(ctx, tx, f.ProjectID, actor, "flag_deleted", "flag", f.Key, nil)
	})
	if err != nil {
		r.logger.Error().Err(err).Str("flag_id", flagID.String()).Msg("Failed to delete flag")
		return nil, translateError(err)
	}
	return events, nil
}
