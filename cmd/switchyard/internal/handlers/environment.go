package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/middleware"
	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/services"
)

// EnvironmentHandler handles environment endpoints
type EnvironmentHandler struct {
	environments *services.EnvironmentService
	logger       zerolog.Logger
}

// NewEnvironmentHandler creates a new environment handler
func NewEnvironmentHandler(environments *services.EnvironmentService, logger zerolog.Logger) *EnvironmentHandler {
	return &EnvironmentHandler{
		environments: environments,
		logger:       logger.With().Str("handler", "environment").Logger(),
	}
}

type environmentRequest struct {
	Key        string `json:"key"`
	Name       string `json:"name"`
	Production bool   `json:"production"`
}

// Create handles POST /v1/projects/{projectKey}/environments
func (h *EnvironmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req environmentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	env, err := h.environments.Create(r.Context(), chi.URLParam(r, "projectKey"), req.Key, req.Name, req.Production, middleware.ActorFrom(r.Context()))
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, http.StatusCreated, env)
}

// List handles GET /v1/projects/{projectKey}/environments
func (h *EnvironmentHandler) List(w http.ResponseWriter, r *http.Request) {
	envs, err := h.environments.List(r.Context(), chi.URLParam(r, "projectKey"))
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"environments": envs})
}

// Get handles GET /v1/projects/{projectKey}/environments/{envKey}
func (h *EnvironmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	env, err := h.environments.Get(r.Context(), chi.URLParam(r, "projectKey"), chi.URLParam(r, "envKey"))
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, env)
}

// Update handles PUT /v1/projects/{projectKey}/environments/{envKey}
func (h *EnvironmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req environmentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	env, err := h.environments.Update(r.Context(), chi.URLParam(r, "projectKey"), chi.URLParam(r, "envKey"), req.Name, req.Production, middleware.ActorFrom(r.Context()))
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, env)
}

// Delete handles DELETE /v1/projects/{projectKey}/environments/{envKey}
func (h *EnvironmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.environments.Delete(r.Context(), chi.URLParam(r, "projectKey"), chi.URLParam(r, "envKey"), middleware.ActorFrom(r.Context())); err != nil {
		sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
