package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/repository"
	"github.com/switchyard-io/switchyard/pkg/evaluation"
)

// SnapshotService projects store state into self-contained evaluation
// snapshots. Segment definitions are resolved and embedded at build time, so
// a snapshot never reaches back to the store; segment edits instead fan out
// invalidations to every referencing flag. It is the cache's Loader.
type SnapshotService struct {
	repos  *repository.Repositories
	logger zerolog.Logger
}

// NewSnapshotService creates a new snapshot service
func NewSnapshotService(repos *repository.Repositories, logger zerolog.Logger) *SnapshotService {
	return &SnapshotService{
		repos:  repos,
		logger: logger.With().Str("service", "snapshot").Logger(),
	}
}

// LoadFlag builds the snapshot for one flag in one environment.
func (s *SnapshotService) LoadFlag(ctx context.Context, projectKey, flagKey, envKey string) (*evaluation.FlagSnapshot, error) {
	project, err := s.repos.Project.GetByKey(ctx, projectKey)
	if err != nil {
		return nil, err
	}
	env, err := s.repos.Environment.GetByKey(ctx, project.ID, envKey)
	if err != nil {
		return nil, err
	}
	flag, err := s.repos.Flag.GetByKey(ctx, project.ID, flagKey)
	if err != nil {
		return nil, err
	}
	return s.build(ctx, projectKey, envKey, env.ID, flag)
}

// LoadEnvironment builds the bootstrap list: one snapshot per non-archived
// flag in the environment.
func (s *SnapshotService) LoadEnvironment(ctx context.Context, projectKey, envKey string) ([]*evaluation.FlagSnapshot, error) {
	project, err := s.repos.Project.GetByKey(ctx, projectKey)
	if err != nil {
		return nil, err
	}
	env, err := s.repos.Environment.GetByKey(ctx, project.ID, envKey)
	if err != nil {
		return nil, err
	}
	flags, err := s.repos.Flag.List(ctx, project.ID, false)
	if err != nil {
		return nil, err
	}

	snaps := make([]*evaluation.FlagSnapshot, 0, len(flags))
	for _, flag := range flags {
		snap, err := s.build(ctx, projectKey, envKey, env.ID, flag)
		if err != nil {
			return nil, fmt.Errorf("failed to build snapshot for %s: %w", flag.Key, err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

func (s *SnapshotService) build(ctx context.Context, projectKey, envKey string, envID uuid.UUID, flag *repository.Flag) (*evaluation.FlagSnapshot, error) {
	overlay, err := s.repos.Flag.GetOverlay(ctx, flag.ID, envID)
	if err != nil {
		return nil, err
	}
	rules, err := s.repos.Flag.GetRules(ctx, overlay.ID)
	if err != nil {
		return nil, err
	}

	snap := &evaluation.FlagSnapshot{
		ProjectKey: projectKey,
		FlagKey:    flag.Key,
		EnvKey:     envKey,
		Type:       evaluation.FlagType(flag.Type),
		Enabled:    overlay.Enabled,
		Percentage: overlay.Percentage,
	}
	if overlay.DefaultVariant != nil {
		snap.DefaultVariant = *overlay.DefaultVariant
	}

	for _, v := range flag.Variants {
		snap.Variants = append(snap.Variants, evaluation.SnapshotVariant{
			Key:     v.Key,
			Weight:  v.Weight,
			Payload: v.Payload,
		})
	}

	// Segment definitions are denormalized once per referenced segment.
	segments := map[uuid.UUID]*repository.Segment{}
	for _, rule := range rules {
		sr := evaluation.SnapshotRule{
			ID:              rule.ID.String(),
			Kind:            evaluation.RuleKind(rule.RuleType),
			ServeEnabled:    rule.ServeEnabled,
			ServePercentage: rule.ServePercentage,
		}
		if rule.ServeVariant != nil {
			sr.ServeVariant = *rule.ServeVariant
		}

		switch evaluation.RuleKind(rule.RuleType) {
		case evaluation.RuleAttribute:
			sr.Attribute = rule.Attribute
			sr.Operator = evaluation.Operator(rule.Operator)
			sr.Value = rule.Value

		case evaluation.RuleUserID:
			sr.UserIDs = rule.UserIDs

		case evaluation.RuleSegment:
			if rule.SegmentID == nil {
				continue
			}
			seg, ok := segments[*rule.SegmentID]
			if !ok {
				seg, err = s.repos.Segment.GetByID(ctx, *rule.SegmentID)
				if err != nil {
					return nil, err
				}
				segments[*rule.SegmentID] = seg
			}
			sr.SegmentKey = seg.Key
			sr.SegmentMatch = evaluation.MatchType(seg.MatchType)
			for _, sc := range seg.Rules {
				sr.SegmentClauses = append(sr.SegmentClauses, evaluation.SegmentClause{
					Attribute: sc.Attribute,
					Operator:  evaluation.Operator(sc.Operator),
					Value:     sc.Value,
				})
			}
		}

		snap.Rules = append(snap.Rules, sr)
	}

	return snap, nil
}
