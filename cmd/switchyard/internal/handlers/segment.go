package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/middleware"
	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/repository"
	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/services"
)

// SegmentHandler handles segment endpoints
type SegmentHandler struct {
	segments *services.SegmentService
	logger   zerolog.Logger
}

// NewSegmentHandler creates a new segment handler
func NewSegmentHandler(segments *services.SegmentService, logger zerolog.Logger) *SegmentHandler {
	return &SegmentHandler{
		segments: segments,
		logger:   logger.With().Str("handler", "segment").Logger(),
	}
}

type segmentRequest struct {
	Key       string                         `json:"key"`
	Name      string                         `json:"name"`
	MatchType string                         `json:"match_type"`
	Rules     []repository.SegmentRuleParams `json:"rules"`
}

// Create handles POST /v1/projects/{projectKey}/segments
func (h *SegmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req segmentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	seg, err := h.segments.Create(r.Context(), chi.URLParam(r, "projectKey"), req.Key, req.Name, req.MatchType, req.Rules, middleware.ActorFrom(r.Context()))
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, http.StatusCreated, seg)
}

// List handles GET /v1/projects/{projectKey}/segments
func (h *SegmentHandler) List(w http.ResponseWriter, r *http.Request) {
	segs, err := h.segments.List(r.Context(), chi.URLParam(r, "projectKey"))
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"segments": segs})
}

// Get handles GET /v1/projects/{projectKey}/segments/{segmentKey}
func (h *SegmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	seg, err := h.segments.Get(r.Context(), chi.URLParam(r, "projectKey"), chi.URLParam(r, "segmentKey"))
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, seg)
}

// Update handles PUT /v1/projects/{projectKey}/segments/{segmentKey}
func (h *SegmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req segmentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	seg, err := h.segments.Update(r.Context(), chi.URLParam(r, "projectKey"), chi.URLParam(r, "segmentKey"), req.Name, req.MatchType, req.Rules, middleware.ActorFrom(r.Context()))
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, seg)
}

// Delete handles DELETE /v1/projects/{projectKey}/segments/{segmentKey}.
// Answers 409 while any flag rule still references the segment.
func (h *SegmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.segments.Delete(r.Context(), chi.URLParam(r, "projectKey"), chi.URLParam(r, "segmentKey"), middleware.ActorFrom(r.Context())); err != nil {
		sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
