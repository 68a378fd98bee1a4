package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/bus"
	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/evallog"
	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/repository"
	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/services"
)

// Handlers holds all HTTP handlers
type Handlers struct {
	Decision    *DecisionHandler
	SDK         *SDKHandler
	Project     *ProjectHandler
	Environment *EnvironmentHandler
	Flag        *FlagHandler
	Segment     *SegmentHandler
}

// New creates a new handlers collection
func New(svcs *services.Services, changeBus *bus.ChangeBus, sink *evallog.Sink, logger zerolog.Logger) *Handlers {
	return &Handlers{
		Decision:    NewDecisionHandler(svcs.Decision, logger),
		SDK:         NewSDKHandler(svcs.Decision, changeBus, logger),
		Project:     NewProjectHandler(svcs.Project, sink, logger),
		Environment: NewEnvironmentHandler(svcs.Environment, logger),
		Flag:        NewFlagHandler(svcs.Flag, logger),
		Segment:     NewSegmentHandler(svcs.Segment, logger),
	}
}

func sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func sendError(w http.ResponseWriter, status int, code, message string) {
	sendJSON(w, status, map[string]string{"error": code, "message": message})
}

// sendServiceError maps repository sentinels onto admin-surface statuses.
// Anything unrecognized is presumed a transient store failure and reported
// retryable.
func sendServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		sendError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, repository.ErrConflict), errors.Is(err, repository.ErrForeignKey):
		sendError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, repository.ErrInvalidInput):
		sendError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
	default:
		sendError(w, http.StatusServiceUnavailable, "transient", "temporarily unable to serve the request")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		sendError(w, http.StatusBadRequest, "invalid_body", "Invalid JSON body")
		return false
	}
	return true
}
