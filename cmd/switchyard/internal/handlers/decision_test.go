package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchyard-io/switchyard/pkg/evaluation"
)

type fakeDecisions struct {
	decision    evaluation.Decision
	bulk        []evaluation.Decision
	lastEnv     string
	lastFlag    string
	lastContext map[string]any
	lastLog     bool
}

func (f *fakeDecisions) Evaluate(ctx context.Context, projectKey, envKey, flagKey string, raw map[string]any, logDecision bool) evaluation.Decision {
	f.lastEnv, f.lastFlag, f.lastContext, f.lastLog = envKey, flagKey, raw, logDecision
	return f.decision
}

func (f *fakeDecisions) EvaluateAll(ctx context.Context, projectKey, envKey string, raw map[string]any) []evaluation.Decision {
	f.lastEnv = envKey
	return f.bulk
}

func (f *fakeDecisions) Bootstrap(ctx context.Context, projectKey, envKey string) ([]*evaluation.FlagSnapshot, error) {
	return nil, nil
}

func newDecisionRouter(fake *fakeDecisions) *chi.Mux {
	h := NewDecisionHandler(fake, zerolog.Nop())
	r := chi.NewRouter()
	r.Get("/v1/projects/{projectKey}/evaluate/{flagKey}", h.Evaluate)
	r.Post("/v1/projects/{projectKey}/evaluations/bulk", h.EvaluateBulk)
	return r
}

func TestEvaluateEndpoint(t *testing.T) {
	variant := "treatment"
	fake := &fakeDecisions{decision: evaluation.Decision{
		Key:     "checkout",
		Enabled: true,
		Variant: &variant,
		Reason:  evaluation.ReasonRuleMatch,
	}}
	r := newDecisionRouter(fake)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, `/v1/projects/web/evaluate/checkout?environment=prod&context={"user_id":"alice"}`, nil)
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp decisionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "checkout", resp.Key)
	assert.True(t, resp.Enabled)
	require.NotNil(t, resp.Variant)
	assert.Equal(t, "treatment", *resp.Variant)
	assert.Equal(t, "rule_match", resp.Reason)

	assert.Equal(t, "prod", fake.lastEnv)
	assert.Equal(t, "checkout", fake.lastFlag)
	assert.Equal(t, map[string]any{"user_id": "alice"}, fake.lastContext)
	assert.True(t, fake.lastLog)
}

func TestEvaluateEndpointDegradedDecisionIs200(t *testing.T) {
	fake := &fakeDecisions{decision: evaluation.Decision{
		Key:    "ghost",
		Reason: evaluation.ReasonFlagNotFound,
	}}
	r := newDecisionRouter(fake)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/projects/web/evaluate/ghost?environment=prod", nil)
	r.ServeHTTP(rec, req)

	// Decisions degrade closed instead of erroring at the HTTP layer.
	require.Equal(t, http.StatusOK, rec.Code)

	var resp decisionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Enabled)
	assert.Equal(t, "flag_not_found", resp.Reason)
}

func TestEvaluateEndpointRequiresEnvironment(t *testing.T) {
	r := newDecisionRouter(&fakeDecisions{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/projects/web/evaluate/checkout", nil)
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvaluateEndpointRejectsMalformedContext(t *testing.T) {
	r := newDecisionRouter(&fakeDecisions{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/projects/web/evaluate/checkout?environment=prod&context=notjson", nil)
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvaluateEndpointLogOptOut(t *testing.T) {
	fake := &fakeDecisions{}
	r := newDecisionRouter(fake)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/projects/web/evaluate/checkout?environment=prod&log=false", nil)
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, fake.lastLog)
}

func TestEvaluateBulkEndpoint(t *testing.T) {
	variant := "control"
	fake := &fakeDecisions{bulk: []evaluation.Decision{
		{Key: "a", Enabled: true, Variant: &variant},
		{Key: "b", Enabled: false},
	}}
	r := newDecisionRouter(fake)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/projects/web/evaluations/bulk",
		strings.NewReader(`{"environment":"prod","context":{"user_id":"alice"}}`))
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Flags []bulkFlagResponse `json:"flags"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Flags, 2)
	assert.Equal(t, "a", resp.Flags[0].Key)
	assert.True(t, resp.Flags[0].Enabled)
	require.NotNil(t, resp.Flags[0].Variant)
	assert.Equal(t, "control", *resp.Flags[0].Variant)
	assert.False(t, resp.Flags[1].Enabled)
}

func TestEvaluateBulkEndpointRequiresEnvironment(t *testing.T) {
	r := newDecisionRouter(&fakeDecisions{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/projects/web/evaluations/bulk", strings.NewReader(`{}`))
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
