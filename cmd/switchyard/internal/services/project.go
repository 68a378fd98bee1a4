package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/repository"
	"github.com/switchyard-io/switchyard/pkg/auth"
)

// ProjectService owns project CRUD and the SDK credential lifecycle. The
// clear credential is returned exactly once, at creation or rotation; the
// store only ever holds its prefix and bcrypt hash.
type ProjectService struct {
	repos   *repository.Repositories
	sdkKeys *auth.SDKKeyManager
	logger  zerolog.Logger
}

// NewProjectService creates a new project service
func NewProjectService(repos *repository.Repositories, sdkKeys *auth.SDKKeyManager, logger zerolog.Logger) *ProjectService {
	return &ProjectService{
		repos:   repos,
		sdkKeys: sdkKeys,
		logger:  logger.With().Str("service", "project").Logger(),
	}
}

// Create validates and creates a project. The second return is the clear SDK
// key, shown to the caller this one time.
func (s *ProjectService) Create(ctx context.Context, key, name, actor string) (*repository.Project, string, error) {
	if err := validateKey("project key", key); err != nil {
		return nil, "", err
	}
	sdkKey, err := s.sdkKeys.Generate()
	if err != nil {
		return nil, "", err
	}
	hash, err := s.sdkKeys.Hash(sdkKey)
	if err != nil {
		return nil, "", err
	}
	project, err := s.repos.Project.Create(ctx, key, name, auth.Prefix(sdkKey), hash, actor)
	if err != nil {
		return nil, "", err
	}
	return project, sdkKey, nil
}

// Get returns one project by key
func (s *ProjectService) Get(ctx context.Context, key string) (*repository.Project, error) {
	return s.repos.Project.GetByKey(ctx, key)
}

// List returns all projects
func (s *ProjectService) List(ctx context.Context) ([]*repository.Project, error) {
	return s.repos.Project.List(ctx)
}

// RotateSDKKey replaces a project's SDK credential and returns the new clear
// key once.
func (s *ProjectService) RotateSDKKey(ctx context.Context, projectKey, actor string) (string, error) {
	project, err := s.repos.Project.GetByKey(ctx, projectKey)
	if err != nil {
		return "", err
	}
	sdkKey, err := s.sdkKeys.Generate()
	if err != nil {
		return "", err
	}
	hash, err := s.sdkKeys.Hash(sdkKey)
	if err != nil {
		return "", err
	}
	if _, err := s.repos.Project.RotateSDKKey(ctx, project.ID, auth.Prefix(sdkKey), hash, actor); err != nil {
		return "", err
	}
	return sdkKey, nil
}

// VerifySDKKey resolves a presented SDK credential to its project. The
// prefix narrows the lookup to one row; bcrypt settles it.
func (s *ProjectService) VerifySDKKey(ctx context.Context, sdkKey string) (*repository.Project, error) {
	if !auth.WellFormed(sdkKey) {
		return nil, fmt.Errorf("%w: malformed SDK key", repository.ErrNotFound)
	}
	project, err := s.repos.Project.GetBySDKKeyPrefix(ctx, auth.Prefix(sdkKey))
	if err != nil {
		return nil, err
	}
	if err := s.sdkKeys.Verify(sdkKey, project.SDKKeyHash); err != nil {
		return nil, repository.ErrNotFound
	}
	return project, nil
}
