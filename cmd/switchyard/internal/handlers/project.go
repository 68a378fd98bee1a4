package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/evallog"
	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/middleware"
	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/services"
)

// ProjectHandler handles project endpoints, including the evaluation log
// read surface.
type ProjectHandler struct {
	projects *services.ProjectService
	sink     *evallog.Sink
	logger   zerolog.Logger
}

// NewProjectHandler creates a new project handler
func NewProjectHandler(projects *services.ProjectService, sink *evallog.Sink, logger zerolog.Logger) *ProjectHandler {
	return &ProjectHandler{
		projects: projects,
		sink:     sink,
		logger:   logger.With().Str("handler", "project").Logger(),
	}
}

type createProjectRequest struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Create handles POST /v1/projects
func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if !decodeBody(w, r, &req) {
		return
	}

	project, sdkKey, err := h.projects.Create(r.Context(), req.Key, req.Name, middleware.ActorFrom(r.Context()))
	if err != nil {
		sendServiceError(w, err)
		return
	}
	// The clear SDK key appears in this response and nowhere else.
	sendJSON(w, http.StatusCreated, map[string]any{
		"project": project,
		"sdk_key": sdkKey,
	})
}

// List handles GET /v1/projects
func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	projects, err := h.projects.List(r.Context())
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

// Get handles GET /v1/projects/{projectKey}
func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	project, err := h.projects.Get(r.Context(), chi.URLParam(r, "projectKey"))
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, project)
}

// RotateSDKKey handles POST /v1/projects/{projectKey}/sdk-key/rotate
func (h *ProjectHandler) RotateSDKKey(w http.ResponseWriter, r *http.Request) {
	sdkKey, err := h.projects.RotateSDKKey(r.Context(), chi.URLParam(r, "projectKey"), middleware.ActorFrom(r.Context()))
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"sdk_key": sdkKey})
}

// Evaluations handles GET /v1/projects/{projectKey}/evaluations?environment=&from=&to=&limit=
func (h *ProjectHandler) Evaluations(w http.ResponseWriter, r *http.Request) {
	projectKey := chi.URLParam(r, "projectKey")
	envKey := r.URL.Query().Get("environment")
	if envKey == "" {
		sendError(w, http.StatusBadRequest, "missing_environment", "environment query parameter is required")
		return
	}

	to := time.Now().UTC()
	from := to.Add(-time.Hour)
	if s := r.URL.Query().Get("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			sendError(w, http.StatusBadRequest, "invalid_from", "from must be RFC 3339")
			return
		}
		from = t
	}
	if s := r.URL.Query().Get("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			sendError(w, http.StatusBadRequest, "invalid_to", "to must be RFC 3339")
			return
		}
		to = t
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 1000 {
		limit = 100
	}

	records, err := h.sink.Recent(r.Context(), projectKey, envKey, from, to, limit)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	if records == nil {
		records = []evallog.Record{}
	}
	sendJSON(w, http.StatusOK, map[string]any{"evaluations": records})
}
