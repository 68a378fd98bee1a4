package cache

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/repository"
	"github.com/switchyard-io/switchyard/pkg/evaluation"
)

type fakeLoader struct {
	flagCalls int
	envCalls  int
	err       error
}

func (l *fakeLoader) LoadFlag(ctx context.Context, projectKey, flagKey, envKey string) (*evaluation.FlagSnapshot, error) {
	l.flagCalls++
	if l.err != nil {
		return nil, l.err
	}
	return &evaluation.FlagSnapshot{
		ProjectKey: projectKey,
		FlagKey:    flagKey,
		EnvKey:     envKey,
		Type:       evaluation.FlagBoolean,
		Enabled:    true,
	}, nil
}

func (l *fakeLoader) LoadEnvironment(ctx context.Context, projectKey, envKey string) ([]*evaluation.FlagSnapshot, error) {
	l.envCalls++
	if l.err != nil {
		return nil, l.err
	}
	return []*evaluation.FlagSnapshot{
		{ProjectKey: projectKey, FlagKey: "a", EnvKey: envKey, Type: evaluation.FlagBoolean},
		{ProjectKey: projectKey, FlagKey: "b", EnvKey: envKey, Type: evaluation.FlagBoolean},
	}, nil
}

func newTestCache(t *testing.T, loader Loader) *SnapshotCache {
	t.Helper()
	c, err := New(nil, loader, Options{TTL: time.Minute}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestKeyConstruction(t *testing.T) {
	assert.Equal(t, "flag:web:checkout:prod", FlagKey("web", "checkout", "prod"))
	assert.Equal(t, "flags:web:prod", EnvKey("web", "prod"))
}

func TestGetFlagLoadsOnMiss(t *testing.T) {
	loader := &fakeLoader{}
	c := newTestCache(t, loader)

	snap, err := c.GetFlag(context.Background(), "web", "checkout", "prod")
	require.NoError(t, err)
	assert.Equal(t, "checkout", snap.FlagKey)
	assert.Equal(t, 1, loader.flagCalls)
}

func TestGetFlagServesFromL1(t *testing.T) {
	loader := &fakeLoader{}
	c := newTestCache(t, loader)

	_, err := c.GetFlag(context.Background(), "web", "checkout", "prod")
	require.NoError(t, err)
	c.l1.Wait()

	_, err = c.GetFlag(context.Background(), "web", "checkout", "prod")
	require.NoError(t, err)
	assert.Equal(t, 1, loader.flagCalls)
}

func TestGetFlagPropagatesNotFound(t *testing.T) {
	loader := &fakeLoader{err: repository.ErrNotFound}
	c := newTestCache(t, loader)

	_, err := c.GetFlag(context.Background(), "web", "missing", "prod")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestGetEnvironmentLoadsAndCaches(t *testing.T) {
	loader := &fakeLoader{}
	c := newTestCache(t, loader)

	snaps, err := c.GetEnvironment(context.Background(), "web", "prod")
	require.NoError(t, err)
	assert.Len(t, snaps, 2)
	c.l1.Wait()

	_, err = c.GetEnvironment(context.Background(), "web", "prod")
	require.NoError(t, err)
	assert.Equal(t, 1, loader.envCalls)
}

func TestInvalidateDropsFlagAndBootstrapList(t *testing.T) {
	loader := &fakeLoader{}
	c := newTestCache(t, loader)

	_, err := c.GetFlag(context.Background(), "web", "checkout", "prod")
	require.NoError(t, err)
	_, err = c.GetEnvironment(context.Background(), "web", "prod")
	require.NoError(t, err)
	c.l1.Wait()

	c.Invalidate(context.Background(), "web", "checkout", "prod")

	_, err = c.GetFlag(context.Background(), "web", "checkout", "prod")
	require.NoError(t, err)
	_, err = c.GetEnvironment(context.Background(), "web", "prod")
	require.NoError(t, err)
	assert.Equal(t, 2, loader.flagCalls)
	assert.Equal(t, 2, loader.envCalls)
}

func TestInvalidateLeavesOtherEnvironments(t *testing.T) {
	loader := &fakeLoader{}
	c := newTestCache(t, loader)

	_, err := c.GetFlag(context.Background(), "web", "checkout", "staging")
	require.NoError(t, err)
	c.l1.Wait()

	c.Invalidate(context.Background(), "web", "checkout", "prod")

	_, err = c.GetFlag(context.Background(), "web", "checkout", "staging")
	require.NoError(t, err)
	assert.Equal(t, 1, loader.flagCalls)
}
