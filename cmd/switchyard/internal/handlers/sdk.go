package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/launchdarkly/eventsource"
	"github.com/rs/zerolog"

	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/bus"
	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/middleware"
)

// SDKHandler serves the SDK surfaces: bootstrap, fast evaluate, and the
// change stream. The project is resolved by the SDK-key middleware before
// any of these run.
type SDKHandler struct {
	decisions DecisionProvider
	bus       *bus.ChangeBus
	sse       *eventsource.Server
	logger    zerolog.Logger

	// One NATS subscription per streamed project, shared by its SSE clients.
	mu      sync.Mutex
	streams map[string]*projectStream
}

type projectStream struct {
	cancel func()
	refs   int
}

// NewSDKHandler creates a new SDK handler
func NewSDKHandler(decisions DecisionProvider, changeBus *bus.ChangeBus, logger zerolog.Logger) *SDKHandler {
	sse := eventsource.NewServer()
	sse.Gzip = false
	sse.AllowCORS = true
	return &SDKHandler{
		decisions: decisions,
		bus:       changeBus,
		sse:       sse,
		logger:    logger.With().Str("handler", "sdk").Logger(),
		streams:   map[string]*projectStream{},
	}
}

// Close shuts down the SSE server and drops all bus subscriptions.
func (h *SDKHandler) Close() {
	h.mu.Lock()
	for key, ps := range h.streams {
		ps.cancel()
		delete(h.streams, key)
	}
	h.mu.Unlock()
	h.sse.Close()
}

// Bootstrap handles GET /v1/sdk/bootstrap?environment=
func (h *SDKHandler) Bootstrap(w http.ResponseWriter, r *http.Request) {
	project := middleware.ProjectFrom(r.Context())
	envKey := r.URL.Query().Get("environment")
	if envKey == "" {
		sendError(w, http.StatusBadRequest, "missing_environment", "environment query parameter is required")
		return
	}

	snaps, err := h.decisions.Bootstrap(r.Context(), project.Key, envKey)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{
		"flags":       snaps,
		"server_time": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

type sdkEvaluateRequest struct {
	Flag        string         `json:"flag"`
	Environment string         `json:"environment"`
	Context     map[string]any `json:"context"`
	Log         *bool          `json:"log,omitempty"`
}

// Evaluate handles POST /v1/sdk/evaluate
func (h *SDKHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	project := middleware.ProjectFrom(r.Context())

	var req sdkEvaluateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Flag == "" || req.Environment == "" {
		sendError(w, http.StatusBadRequest, "missing_fields", "flag and environment are required")
		return
	}

	logDecision := req.Log == nil || *req.Log
	d := h.decisions.Evaluate(r.Context(), project.Key, req.Environment, req.Flag, req.Context, logDecision)
	sendJSON(w, http.StatusOK, toResponse(d))
}

// Stream handles GET /v1/sdk/stream: a long-lived SSE channel carrying the
// project's change events. There is no replay buffer; a reconnecting client
// re-bootstraps and then resumes streaming.
func (h *SDKHandler) Stream(w http.ResponseWriter, r *http.Request) {
	project := middleware.ProjectFrom(r.Context())

	if err := h.acquireStream(project.Key); err != nil {
		h.logger.Error().Err(err).Str("project", project.Key).Msg("Failed to subscribe project stream")
		sendError(w, http.StatusServiceUnavailable, "transient", "change stream unavailable")
		return
	}
	defer h.releaseStream(project.Key)

	h.sse.Handler(project.Key).ServeHTTP(w, r)
}

// acquireStream ensures a bus subscription feeds the project's SSE channel,
// shared across its connected clients.
func (h *SDKHandler) acquireStream(projectKey string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ps, ok := h.streams[projectKey]; ok {
		ps.refs++
		return nil
	}

	cancel, err := h.bus.Subscribe(projectKey, func(ev bus.ChangeEvent) {
		h.sse.Publish([]string{projectKey}, changeFrame{ev})
	})
	if err != nil {
		return err
	}
	h.streams[projectKey] = &projectStream{cancel: cancel, refs: 1}
	return nil
}

func (h *SDKHandler) releaseStream(projectKey string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ps, ok := h.streams[projectKey]
	if !ok {
		return
	}
	ps.refs--
	if ps.refs <= 0 {
		ps.cancel()
		delete(h.streams, projectKey)
	}
}

// changeFrame adapts a bus event to the SSE wire format.
type changeFrame struct {
	ev bus.ChangeEvent
}

func (f changeFrame) Id() string {
	return strconv.FormatInt(f.ev.Timestamp.UnixNano(), 10)
}

func (f changeFrame) Event() string { return "change" }

func (f changeFrame) Data() string {
	data, err := json.Marshal(f.ev)
	if err != nil {
		return "{}"
	}
	return string(data)
}
