package services

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/repository"
	"github.com/switchyard-io/switchyard/pkg/evaluation"
)

type fakeSnapshots struct {
	flag  *evaluation.FlagSnapshot
	flags []*evaluation.FlagSnapshot
	err   error
}

func (f *fakeSnapshots) GetFlag(ctx context.Context, projectKey, flagKey, envKey string) (*evaluation.FlagSnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.flag, nil
}

func (f *fakeSnapshots) GetEnvironment(ctx context.Context, projectKey, envKey string) ([]*evaluation.FlagSnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.flags, nil
}

func newDecisionService(src SnapshotSource) *DecisionService {
	return NewDecisionService(src, nil, zerolog.Nop())
}

func TestEvaluateEnabledFlag(t *testing.T) {
	svc := newDecisionService(&fakeSnapshots{flag: &evaluation.FlagSnapshot{
		ProjectKey: "web",
		FlagKey:    "checkout",
		EnvKey:     "prod",
		Type:       evaluation.FlagBoolean,
		Enabled:    true,
	}})

	d := svc.Evaluate(context.Background(), "web", "prod", "checkout", map[string]any{"user_id": "alice"}, false)
	assert.True(t, d.Enabled)
	assert.Equal(t, evaluation.ReasonDefault, d.Reason)
	assert.Equal(t, "alice", d.SubjectID)
}

func TestEvaluateMissingFlagDegradesClosed(t *testing.T) {
	svc := newDecisionService(&fakeSnapshots{err: repository.ErrNotFound})

	d := svc.Evaluate(context.Background(), "web", "prod", "ghost", nil, false)
	assert.False(t, d.Enabled)
	assert.Equal(t, "ghost", d.Key)
	assert.Equal(t, evaluation.ReasonFlagNotFound, d.Reason)
}

func TestEvaluateStoreFailureDegradesClosed(t *testing.T) {
	svc := newDecisionService(&fakeSnapshots{err: errors.New("connection refused")})

	d := svc.Evaluate(context.Background(), "web", "prod", "checkout", nil, false)
	assert.False(t, d.Enabled)
	assert.Equal(t, evaluation.ReasonError, d.Reason)
}

func TestEvaluateAll(t *testing.T) {
	svc := newDecisionService(&fakeSnapshots{flags: []*evaluation.FlagSnapshot{
		{FlagKey: "a", EnvKey: "prod", Type: evaluation.FlagBoolean, Enabled: true},
		{FlagKey: "b", EnvKey: "prod", Type: evaluation.FlagBoolean, Enabled: false},
	}})

	decisions := svc.EvaluateAll(context.Background(), "web", "prod", map[string]any{"user_id": "alice"})
	assert.Len(t, decisions, 2)
	assert.True(t, decisions[0].Enabled)
	assert.False(t, decisions[1].Enabled)
	assert.Equal(t, evaluation.ReasonFlagDisabled, decisions[1].Reason)
}

func TestEvaluateAllStoreFailureReturnsNothing(t *testing.T) {
	svc := newDecisionService(&fakeSnapshots{err: errors.New("timeout")})

	decisions := svc.EvaluateAll(context.Background(), "web", "prod", nil)
	assert.Empty(t, decisions)
}
