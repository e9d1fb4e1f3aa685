package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ralphctl/coordinator/internal/coordinator"
	"github.com/ralphctl/coordinator/pkg/logging"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn(serverSubsystem, "failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeCoordinatorError maps a Coordinator error to an HTTP status: 404
// for an unknown run, 400 for a validation failure, 500 for anything else.
func writeCoordinatorError(w http.ResponseWriter, err error) {
	if errors.Is(err, coordinator.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	var coordErr *coordinator.CoordinatorError
	if errors.As(err, &coordErr) && coordErr.Kind == coordinator.ErrKindValidation {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("malformed request body: "+err.Error()))
		return
	}

	result, err := s.coord.StartRun(r.Context(), req.toCoordinator())
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	run, err := s.coord.GetRun(runID)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleStopRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	result, err := s.coord.StopRun(r.Context(), runID)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleListRuns reports every run the Coordinator currently holds in
// memory, terminal or not. The Coordinator already tracks exactly this
// set for the janitor's sweep, and a CLI offering `get`/`stop`/`stream`
// with no way to discover run IDs in the first place would be an odd gap
// in a real deployment.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.ListRuns())
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	tags := s.coord.Providers()
	infos := make([]providerInfo, len(tags))
	for i, tag := range tags {
		infos[i] = providerInfo{Provider: tag, Configured: len(s.creds.Env(tag)) > 0}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
