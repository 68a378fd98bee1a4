package services

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/repository"
)

// EnvironmentService owns environment CRUD. Creating an environment
// materializes a disabled overlay for every existing flag.
type EnvironmentService struct {
	repos  *repository.Repositories
	logger zerolog.Logger
}

// NewEnvironmentService creates a new environment service
func NewEnvironmentService(repos *repository.Repositories, logger zerolog.Logger) *EnvironmentService {
	return &EnvironmentService{
		repos:  repos,
		logger: logger.With().Str("service", "environment").Logger(),
	}
}

// Create validates and creates an environment
func (s *EnvironmentService) Create(ctx context.Context, projectKey, key, name string, production bool, actor string) (*repository.Environment, error) {
	if err := validateKey("environment key", key); err != nil {
		return nil, err
	}
	project, err := s.repos.Project.GetByKey(ctx, projectKey)
	if err != nil {
		return nil, err
	}
	return s.repos.Environment.Create(ctx, project.ID, key, name, production, actor)
}

// Get returns one environment by key
func (s *EnvironmentService) Get(ctx context.Context, projectKey, envKey string) (*repository.Environment, error) {
	project, err := s.repos.Project.GetByKey(ctx, projectKey)
	if err != nil {
		return nil, err
	}
	return s.repos.Environment.GetByKey(ctx, project.ID, envKey)
}

// List returns a project's environments in position order
func (s *EnvironmentService) List(ctx context.Context, projectKey string) ([]*repository.Environment, error) {
	project, err := s.repos.Project.GetByKey(ctx, projectKey)
	if err != nil {
		return nil, err
	}
	return s.repos.Environment.List(ctx, project.ID)
}

// Update renames an environment or changes its production marker
func (s *EnvironmentService) Update(ctx context.Context, projectKey, envKey, name string, production bool, actor string) (*repository.Environment, error) {
	env, err := s.Get(ctx, projectKey, envKey)
	if err != nil {
		return nil, err
	}
	return s.repos.Environment.Update(ctx, env.ID, name, production, actor)
}

// Delete removes an environment
func (s *EnvironmentService) Delete(ctx context.Context, projectKey, envKey, actor string) error {
	env, err := s.Get(ctx, projectKey, envKey)
	if err != nil {
		return err
	}
	return s.repos.Environment.Delete(ctx, env.ID, actor)
}
