package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/repository"
	"github.com/switchyard-io/switchyard/pkg/evaluation"
)

// FlagService owns flag mutations: validation, the store write, and the
// post-commit outbox drain that turns the write into cache invalidations and
// bus events.
type FlagService struct {
	repos  *repository.Repositories
	outbox *OutboxService
	logger zerolog.Logger
}

// NewFlagService creates a new flag service
func NewFlagService(repos *repository.Repositories, outbox *OutboxService, logger zerolog.Logger) *FlagService {
	return &FlagService{
		repos:  repos,
		outbox: outbox,
		logger: logger.With().Str("service", "flag").Logger(),
	}
}

// resolve maps (projectKey, flagKey) onto store identifiers.
func (s *FlagService) resolve(ctx context.Context, projectKey, flagKey string) (*repository.Project, *repository.Flag, error) {
	project, err := s.repos.Project.GetByKey(ctx, projectKey)
	if err != nil {
		return nil, nil, err
	}
	flag, err := s.repos.Flag.GetByKey(ctx, project.ID, flagKey)
	if err != nil {
		return nil, nil, err
	}
	return project, flag, nil
}

func (s *FlagService) resolveEnv(ctx context.Context, projectID uuid.UUID, envKey string) (*repository.Environment, error) {
	return s.repos.Environment.GetByKey(ctx, projectID, envKey)
}

// Create validates and creates a flag. New flags come up disabled at 0% in
// every environment.
func (s *FlagService) Create(ctx context.Context, projectKey string, params *repository.CreateFlagParams) (*repository.Flag, error) {
	if err := validateKey("flag key", params.Key); err != nil {
		return nil, err
	}
	if !evaluation.ValidFlagType(evaluation.FlagType(params.Type)) {
		return nil, fmt.Errorf("%w: unknown flag type %q", repository.ErrInvalidInput, params.Type)
	}
	if err := validateVariants(params.Variants); err != nil {
		return nil, err
	}
	if evaluation.FlagType(params.Type) != evaluation.FlagVariant && len(params.Variants) > 0 {
		return nil, fmt.Errorf("%w: only variant flags carry variants", repository.ErrInvalidInput)
	}

	project, err := s.repos.Project.GetByKey(ctx, projectKey)
	if err != nil {
		return nil, err
	}
	params.ProjectID = project.ID

	flag, events, err := s.repos.Flag.Create(ctx, params)
	if err != nil {
		return nil, err
	}
	s.outbox.Drain(ctx, events)
	return flag, nil
}

// Get returns one flag by key
func (s *FlagService) Get(ctx context.Context, projectKey, flagKey string) (*repository.Flag, error) {
	_, flag, err := s.resolve(ctx, projectKey, flagKey)
	return flag, err
}

// List returns a project's flags
func (s *FlagService) List(ctx context.Context, projectKey string, includeArchived bool) ([]*repository.Flag, error) {
	project, err := s.repos.Project.GetByKey(ctx, projectKey)
	if err != nil {
		return nil, err
	}
	return s.repos.Flag.List(ctx, project.ID, includeArchived)
}

// Update changes flag metadata
func (s *FlagService) Update(ctx context.Context, projectKey, flagKey string, params *repository.UpdateFlagParams) (*repository.Flag, error) {
	_, flag, err := s.resolve(ctx, projectKey, flagKey)
	if err != nil {
		return nil, err
	}
	updated, events, err := s.repos.Flag.Update(ctx, flag.ID, params)
	if err != nil {
		return nil, err
	}
	s.outbox.Drain(ctx, events)
	return updated, nil
}

// ReplaceVariants swaps a flag's variant set
func (s *FlagService) ReplaceVariants(ctx context.Context, projectKey, flagKey string, params []repository.VariantParams, actor string) (*repository.Flag, error) {
	if err := validateVariants(params); err != nil {
		return nil, err
	}
	_, flag, err := s.resolve(ctx, projectKey, flagKey)
	if err != nil {
		return nil, err
	}
	updated, events, err := s.repos.Flag.ReplaceVariants(ctx, flag.ID, params, actor)
	if err != nil {
		return nil, err
	}
	s.outbox.Drain(ctx, events)
	return updated, nil
}

// GetOverlay returns one flag's per-environment state, rules included.
func (s *FlagService) GetOverlay(ctx context.Context, projectKey, flagKey, envKey string) (*repository.FlagEnvironment, []*repository.FlagRule, error) {
	project, flag, err := s.resolve(ctx, projectKey, flagKey)
	if err != nil {
		return nil, nil, err
	}
	env, err := s.resolveEnv(ctx, project.ID, envKey)
	if err != nil {
		return nil, nil, err
	}
	overlay, err := s.repos.Flag.GetOverlay(ctx, flag.ID, env.ID)
	if err != nil {
		return nil, nil, err
	}
	rules, err := s.repos.Flag.GetRules(ctx, overlay.ID)
	if err != nil {
		return nil, nil, err
	}
	return overlay, rules, nil
}

// UpdateOverlay changes an overlay's rollout fields
func (s *FlagService) UpdateOverlay(ctx context.Context, projectKey, flagKey, envKey string, params *repository.OverlayParams) (*repository.FlagEnvironment, error) {
	if params.Percentage != nil {
		if err := validatePercentage("percentage", *params.Percentage); err != nil {
			return nil, err
		}
	}
	project, flag, err := s.resolve(ctx, projectKey, flagKey)
	if err != nil {
		return nil, err
	}
	env, err := s.resolveEnv(ctx, project.ID, envKey)
	if err != nil {
		return nil, err
	}
	overlay, events, err := s.repos.Flag.UpdateOverlay(ctx, flag.ID, env.ID, params)
	if err != nil {
		return nil, err
	}
	s.outbox.Drain(ctx, events)
	return overlay, nil
}

// ReplaceRules swaps an overlay's ordered rule list. Segment rules may name
// segments by key; the service resolves them before handing off to the
// store.
func (s *FlagService) ReplaceRules(ctx context.Context, projectKey, flagKey, envKey string, params []repository.RuleParams, actor string) ([]*repository.FlagRule, error) {
	if err := validateRules(params); err != nil {
		return nil, err
	}
	project, flag, err := s.resolve(ctx, projectKey, flagKey)
	if err != nil {
		return nil, err
	}
	env, err := s.resolveEnv(ctx, project.ID, envKey)
	if err != nil {
		return nil, err
	}
	rules, events, err := s.repos.Flag.ReplaceRules(ctx, flag.ID, env.ID, params, actor)
	if err != nil {
		return nil, err
	}
	s.outbox.Drain(ctx, events)
	return rules, nil
}

// ResolveSegmentKey turns a segment key into its id for rule payloads that
// address segments by key.
func (s *FlagService) ResolveSegmentKey(ctx context.Context, projectKey, segmentKey string) (uuid.UUID, error) {
	project, err := s.repos.Project.GetByKey(ctx, projectKey)
	if err != nil {
		return uuid.Nil, err
	}
	seg, err := s.repos.Segment.GetByKey(ctx, project.ID, segmentKey)
	if err != nil {
		return uuid.Nil, err
	}
	return seg.ID, nil
}

// Toggle flips an overlay's enabled bit, clearing any schedule.
func (s *FlagService) Toggle(ctx context.Context, projectKey, flagKey, envKey string, enabled bool, actor string) (*repository.FlagEnvironment, error) {
	project, flag, err := s.resolve(ctx, projectKey, flagKey)
	if err != nil {
		return nil, err
	}
	env, err := s.resolveEnv(ctx, project.ID, envKey)
	if err != nil {
		return nil, err
	}
	overlay, events, err := s.repos.Flag.Toggle(ctx, flag.ID, env.ID, enabled, actor)
	if err != nil {
		return nil, err
	}
	s.outbox.Drain(ctx, events)
	return overlay, nil
}

// Schedule registers a future enable or disable transition.
func (s *FlagService) Schedule(ctx context.Context, projectKey, flagKey, envKey, kind string, at time.Time, actor string) (*repository.FlagEnvironment, error) {
	if kind != repository.ScheduleEnable && kind != repository.ScheduleDisable {
		return nil, fmt.Errorf("%w: unknown schedule kind %q", repository.ErrInvalidInput, kind)
	}
	if !at.After(time.Now()) {
		return nil, fmt.Errorf("%w: schedule time must be in the future", repository.ErrInvalidInput)
	}
	project, flag, err := s.resolve(ctx, projectKey, flagKey)
	if err != nil {
		return nil, err
	}
	env, err := s.resolveEnv(ctx, project.ID, envKey)
	if err != nil {
		return nil, err
	}
	overlay, events, err := s.repos.Flag.Schedule(ctx, flag.ID, env.ID, kind, at.UTC(), actor)
	if err != nil {
		return nil, err
	}
	s.outbox.Drain(ctx, events)
	return overlay, nil
}

// ClearSchedule drops both pending transitions for an overlay.
func (s *FlagService) ClearSchedule(ctx context.Context, projectKey, flagKey, envKey, actor string) (*repository.FlagEnvironment, error) {
	project, flag, err := s.resolve(ctx, projectKey, flagKey)
	if err != nil {
		return nil, err
	}
	env, err := s.resolveEnv(ctx, project.ID, envKey)
	if err != nil {
		return nil, err
	}
	overlay, events, err := s.repos.Flag.ClearSchedule(ctx, flag.ID, env.ID, actor)
	if err != nil {
		return nil, err
	}
	s.outbox.Drain(ctx, events)
	return overlay, nil
}

// Archive retires a flag, forcing it off in every environment.
func (s *FlagService) Archive(ctx context.Context, projectKey, flagKey, actor string) (*repository.Flag, error) {
	_, flag, err := s.resolve(ctx, projectKey, flagKey)
	if err != nil {
		return nil, err
	}
	archived, events, err := s.repos.Flag.Archive(ctx, flag.ID, actor)
	if err != nil {
		return nil, err
	}
	s.outbox.Drain(ctx, events)
	return archived, nil
}

// Delete destroys a flag. Permanent flags refuse with a conflict.
func (s *FlagService) Delete(ctx context.Context, projectKey, flagKey, actor string) error {
	_, flag, err := s.resolve(ctx, projectKey, flagKey)
	if err != nil {
		return err
	}
	events, err := s.repos.Flag.Delete(ctx, flag.ID, actor)
	if err != nil {
		return err
	}
	s.outbox.Drain(ctx, events)
	return nil
}
