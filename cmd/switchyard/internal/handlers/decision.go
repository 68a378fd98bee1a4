package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/switchyard-io/switchyard/pkg/evaluation"
)

// DecisionProvider is the decision service as seen by the wire layer.
type DecisionProvider interface {
	Evaluate(ctx context.Context, projectKey, envKey, flagKey string, raw map[string]any, logDecision bool) evaluation.Decision
	EvaluateAll(ctx context.Context, projectKey, envKey string, raw map[string]any) []evaluation.Decision
	Bootstrap(ctx context.Context, projectKey, envKey string) ([]*evaluation.FlagSnapshot, error)
}

// DecisionHandler serves the decision RPCs. Decisions always answer 200: a
// missing flag or a broken store degrade to a disabled decision with the
// matching reason, never to an error status.
type DecisionHandler struct {
	decisions DecisionProvider
	logger    zerolog.Logger
}

// NewDecisionHandler creates a new decision handler
func NewDecisionHandler(decisions DecisionProvider, logger zerolog.Logger) *DecisionHandler {
	return &DecisionHandler{
		decisions: decisions,
		logger:    logger.With().Str("handler", "decision").Logger(),
	}
}

// decisionResponse is the wire shape of a single decision.
type decisionResponse struct {
	Key     string          `json:"key"`
	Enabled bool            `json:"enabled"`
	Variant *string         `json:"variant"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Reason  string          `json:"reason"`
}

func toResponse(d evaluation.Decision) decisionResponse {
	return decisionResponse{
		Key:     d.Key,
		Enabled: d.Enabled,
		Variant: d.Variant,
		Payload: d.Payload,
		Reason:  string(d.Reason),
	}
}

// bulkFlagResponse is one entry of the bulk decision response.
type bulkFlagResponse struct {
	Key     string  `json:"key"`
	Enabled bool    `json:"enabled"`
	Variant *string `json:"variant"`
}

// Evaluate handles GET .../evaluate/{flagKey}?environment=&context=&log=
func (h *DecisionHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	projectKey := chi.URLParam(r, "projectKey")
	flagKey := chi.URLParam(r, "flagKey")
	envKey := r.URL.Query().Get("environment")
	if envKey == "" {
		sendError(w, http.StatusBadRequest, "missing_environment", "environment query parameter is required")
		return
	}

	raw := map[string]any{}
	if contextParam := r.URL.Query().Get("context"); contextParam != "" {
		if err := json.Unmarshal([]byte(contextParam), &raw); err != nil {
			sendError(w, http.StatusBadRequest, "invalid_context", "context must be a JSON object")
			return
		}
	}

	logDecision := r.URL.Query().Get("log") != "false"

	d := h.decisions.Evaluate(r.Context(), projectKey, envKey, flagKey, raw, logDecision)
	sendJSON(w, http.StatusOK, toResponse(d))
}

type bulkRequest struct {
	Environment string         `json:"environment"`
	Context     map[string]any `json:"context"`
}

// EvaluateBulk handles POST .../evaluations/bulk
func (h *DecisionHandler) EvaluateBulk(w http.ResponseWriter, r *http.Request) {
	projectKey := chi.URLParam(r, "projectKey")

	var req bulkRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Environment == "" {
		sendError(w, http.StatusBadRequest, "missing_environment", "environment is required")
		return
	}

	decisions := h.decisions.EvaluateAll(r.Context(), projectKey, req.Environment, req.Context)
	flags := make([]bulkFlagResponse, 0, len(decisions))
	for _, d := range decisions {
		flags = append(flags, bulkFlagResponse{Key: d.Key, Enabled: d.Enabled, Variant: d.Variant})
	}
	sendJSON(w, http.StatusOK, map[string]any{"flags": flags})
}
