package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/middleware"
	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/repository"
	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/services"
)

// FlagHandler handles flag endpoints
type FlagHandler struct {
	flags  *services.FlagService
	logger zerolog.Logger
}

// NewFlagHandler creates a new flag handler
func NewFlagHandler(flags *services.FlagService, logger zerolog.Logger) *FlagHandler {
	return &FlagHandler{
		flags:  flags,
		logger: logger.With().Str("handler", "flag").Logger(),
	}
}

type createFlagRequest struct {
	Key         string                     `json:"key"`
	Name        string                     `json:"name"`
	Description string                     `json:"description"`
	Type        string                     `json:"type"`
	Tags        []string                   `json:"tags"`
	Permanent   bool                       `json:"permanent"`
	OwnerEmail  string                     `json:"owner_email"`
	Variants    []repository.VariantParams `json:"variants"`
}

// Create handles POST /v1/projects/{projectKey}/flags
func (h *FlagHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createFlagRequest
	if !decodeBody(w, r, &req) {
		return
	}

	flag, err := h.flags.Create(r.Context(), chi.URLParam(r, "projectKey"), &repository.CreateFlagParams{
		Key:         req.Key,
		Name:        req.Name,
		Description: req.Description,
		Type:        req.Type,
		Tags:        req.Tags,
		Permanent:   req.Permanent,
		OwnerEmail:  req.OwnerEmail,
		Variants:    req.Variants,
		Actor:       middleware.ActorFrom(r.Context()),
	})
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, http.StatusCreated, flag)
}

// List handles GET /v1/projects/{projectKey}/flags?archived=
func (h *FlagHandler) List(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("archived") == "true"
	flags, err := h.flags.List(r.Context(), chi.URLParam(r, "projectKey"), includeArchived)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"flags": flags})
}

// Get handles GET /v1/projects/{projectKey}/flags/{flagKey}
func (h *FlagHandler) Get(w http.ResponseWriter, r *http.Request) {
	flag, err := h.flags.Get(r.Context(), chi.URLParam(r, "projectKey"), chi.URLParam(r, "flagKey"))
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, flag)
}

type updateFlagRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Permanent   bool     `json:"permanent"`
	OwnerEmail  string   `json:"owner_email"`
}

// Update handles PUT /v1/projects/{projectKey}/flags/{flagKey}
func (h *FlagHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateFlagRequest
	if !decodeBody(w, r, &req) {
		return
	}
	flag, err := h.flags.Update(r.Context(), chi.URLParam(r, "projectKey"), chi.URLParam(r, "flagKey"), &repository.UpdateFlagParams{
		Name:        req.Name,
		Description: req.Description,
		Tags:        req.Tags,
		Permanent:   req.Permanent,
		OwnerEmail:  req.OwnerEmail,
		Actor:       middleware.ActorFrom(r.Context()),
	})
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, flag)
}

// Delete handles DELETE /v1/projects/{projectKey}/flags/{flagKey}. Permanent
// flags answer 409; archive is their terminal state.
func (h *FlagHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.flags.Delete(r.Context(), chi.URLParam(r, "projectKey"), chi.URLParam(r, "flagKey"), middleware.ActorFrom(r.Context())); err != nil {
		sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Archive handles POST /v1/projects/{projectKey}/flags/{flagKey}/archive
func (h *FlagHandler) Archive(w http.ResponseWriter, r *http.Request) {
	flag, err := h.flags.Archive(r.Context(), chi.URLParam(r, "projectKey"), chi.URLParam(r, "flagKey"), middleware.ActorFrom(r.Context()))
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, flag)
}

type replaceVariantsRequest struct {
	Variants []repository.VariantParams `json:"variants"`
}

// ReplaceVariants handles PUT /v1/projects/{projectKey}/flags/{flagKey}/variants
func (h *FlagHandler) ReplaceVariants(w http.ResponseWriter, r *http.Request) {
	var req replaceVariantsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	flag, err := h.flags.ReplaceVariants(r.Context(), chi.URLParam(r, "projectKey"), chi.URLParam(r, "flagKey"), req.Variants, middleware.ActorFrom(r.Context()))
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, flag)
}

// GetOverlay handles GET .../flags/{flagKey}/environments/{envKey}
func (h *FlagHandler) GetOverlay(w http.ResponseWriter, r *http.Request) {
	overlay, rules, err := h.flags.GetOverlay(r.Context(), chi.URLParam(r, "projectKey"), chi.URLParam(r, "flagKey"), chi.URLParam(r, "envKey"))
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"environment": overlay, "rules": rules})
}

type updateOverlayRequest struct {
	Percentage     *int            `json:"percentage"`
	DefaultVariant *string         `json:"default_variant"`
	Metadata       json.RawMessage `json:"metadata"`
}

// UpdateOverlay handles PUT .../flags/{flagKey}/environments/{envKey}
func (h *FlagHandler) UpdateOverlay(w http.ResponseWriter, r *http.Request) {
	var req updateOverlayRequest
	if !decodeBody(w, r, &req) {
		return
	}
	overlay, err := h.flags.UpdateOverlay(r.Context(), chi.URLParam(r, "projectKey"), chi.URLParam(r, "flagKey"), chi.URLParam(r, "envKey"), &repository.OverlayParams{
		Percentage:     req.Percentage,
		DefaultVariant: req.DefaultVariant,
		Metadata:       req.Metadata,
		Actor:          middleware.ActorFrom(r.Context()),
	})
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, overlay)
}

// ruleRequest is one rule in a replace payload. Segment rules address their
// segment by key; the handler resolves it before the store sees the rule.
type ruleRequest struct {
	RuleType   string   `json:"rule_type"`
	SegmentKey string   `json:"segment_key,omitempty"`
	Attribute  string   `json:"attribute,omitempty"`
	Operator   string   `json:"operator,omitempty"`
	Value      string   `json:"value,omitempty"`
	UserIDs    []string `json:"user_ids,omitempty"`

	ServeEnabled    bool    `json:"serve_enabled"`
	ServeVariant    *string `json:"serve_variant,omitempty"`
	ServePercentage *int    `json:"serve_percentage,omitempty"`
}

type replaceRulesRequest struct {
	Rules []ruleRequest `json:"rules"`
}

// ReplaceRules handles PUT .../flags/{flagKey}/environments/{envKey}/rules
func (h *FlagHandler) ReplaceRules(w http.ResponseWriter, r *http.Request) {
	projectKey := chi.URLParam(r, "projectKey")

	var req replaceRulesRequest
	if !decodeBody(w, r, &req) {
		return
	}

	params := make([]repository.RuleParams, 0, len(req.Rules))
	for _, rr := range req.Rules {
		rp := repository.RuleParams{
			RuleType:        rr.RuleType,
			Attribute:       rr.Attribute,
			Operator:        rr.Operator,
			Value:           rr.Value,
			UserIDs:         rr.UserIDs,
			ServeEnabled:    rr.ServeEnabled,
			ServeVariant:    rr.ServeVariant,
			ServePercentage: rr.ServePercentage,
		}
		if rr.SegmentKey != "" {
			segmentID, err := h.flags.ResolveSegmentKey(r.Context(), projectKey, rr.SegmentKey)
			if err != nil {
				sendServiceError(w, err)
				return
			}
			rp.SegmentID = &segmentID
		}
		params = append(params, rp)
	}

	rules, err := h.flags.ReplaceRules(r.Context(), projectKey, chi.URLParam(r, "flagKey"), chi.URLParam(r, "envKey"), params, middleware.ActorFrom(r.Context()))
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

// Toggle handles POST .../flags/{flagKey}/environments/{envKey}/toggle
func (h *FlagHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	overlay, err := h.flags.Toggle(r.Context(), chi.URLParam(r, "projectKey"), chi.URLParam(r, "flagKey"), chi.URLParam(r, "envKey"), req.Enabled, middleware.ActorFrom(r.Context()))
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, overlay)
}

type scheduleRequest struct {
	Kind string    `json:"kind"`
	At   time.Time `json:"at"`
}

// Schedule handles POST .../flags/{flagKey}/environments/{envKey}/schedule
func (h *FlagHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	overlay, err := h.flags.Schedule(r.Context(), chi.URLParam(r, "projectKey"), chi.URLParam(r, "flagKey"), chi.URLParam(r, "envKey"), req.Kind, req.At, middleware.ActorFrom(r.Context()))
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, overlay)
}

// ClearSchedule handles DELETE .../flags/{flagKey}/environments/{envKey}/schedule
func (h *FlagHandler) ClearSchedule(w http.ResponseWriter, r *http.Request) {
	overlay, err := h.flags.ClearSchedule(r.Context(), chi.URLParam(r, "projectKey"), chi.URLParam(r, "flagKey"), chi.URLParam(r, "envKey"), middleware.ActorFrom(r.Context()))
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, overlay)
}
