package services

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/repository"
)

// SegmentService owns segment mutations. Segment edits invalidate every
// flag snapshot embedding the segment, which the repository expresses as
// fanned-out outbox rows.
type SegmentService struct {
	repos  *repository.Repositories
	outbox *OutboxService
	logger zerolog.Logger
}

// NewSegmentService creates a new segment service
func NewSegmentService(repos *repository.Repositories, outbox *OutboxService, logger zerolog.Logger) *SegmentService {
	return &SegmentService{
		repos:  repos,
		outbox: outbox,
		logger: logger.With().Str("service", "segment").Logger(),
	}
}

// Create validates and creates a segment
func (s *SegmentService) Create(ctx context.Context, projectKey, key, name, matchType string, rules []repository.SegmentRuleParams, actor string) (*repository.Segment, error) {
	if err := validateKey("segment key", key); err != nil {
		return nil, err
	}
	if err := validateSegmentRules(matchType, rules); err != nil {
		return nil, err
	}
	project, err := s.repos.Project.GetByKey(ctx, projectKey)
	if err != nil {
		return nil, err
	}
	return s.repos.Segment.Create(ctx, project.ID, key, name, matchType, rules, actor)
}

// Get returns one segment by key
func (s *SegmentService) Get(ctx context.Context, projectKey, segmentKey string) (*repository.Segment, error) {
	project, err := s.repos.Project.GetByKey(ctx, projectKey)
	if err != nil {
		return nil, err
	}
	return s.repos.Segment.GetByKey(ctx, project.ID, segmentKey)
}

// List returns a project's segments
func (s *SegmentService) List(ctx context.Context, projectKey string) ([]*repository.Segment, error) {
	project, err := s.repos.Project.GetByKey(ctx, projectKey)
	if err != nil {
		return nil, err
	}
	return s.repos.Segment.List(ctx, project.ID)
}

// Update replaces a segment's name, combinator and rule set.
func (s *SegmentService) Update(ctx context.Context, projectKey, segmentKey, name, matchType string, rules []repository.SegmentRuleParams, actor string) (*repository.Segment, error) {
	if err := validateSegmentRules(matchType, rules); err != nil {
		return nil, err
	}
	seg, err := s.Get(ctx, projectKey, segmentKey)
	if err != nil {
		return nil, err
	}
	updated, events, err := s.repos.Segment.Update(ctx, seg.ID, name, matchType, rules, actor)
	if err != nil {
		return nil, err
	}
	s.outbox.Drain(ctx, events)
	return updated, nil
}

// Delete removes a segment; refused with a conflict while any flag rule
// references it.
func (s *SegmentService) Delete(ctx context.Context, projectKey, segmentKey, actor string) error {
	seg, err := s.Get(ctx, projectKey, segmentKey)
	if err != nil {
		return err
	}
	return s.repos.Segment.Delete(ctx, seg.ID, actor)
}
