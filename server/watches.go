package server

import (
	"net/http"

	"github.com/veritas-nexus/veritas/pipeline"
	"github.com/veritas-nexus/veritas/pulse/schedule"
)

const (
	defaultWatchLimit     = 50
	maxWatchLimit         = 200
	defaultExecutionLimit = 20
	maxExecutionLimit     = 100
)

// watchRequest is the wire shape for creating a watch. The run request
// becomes the payload enqueued on every fire.
type watchRequest struct {
	Label           string              `json:"label,omitempty"`
	IntervalSeconds int                 `json:"interval_seconds"`
	Request         pipeline.RunRequest `json:"request"`
}

// HandleWatches handles /api/pulse/watches: GET lists, POST creates.
func (s *Server) HandleWatches(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListWatches(w, r)
	case http.MethodPost:
		s.handleCreateWatch(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleListWatches(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQueryParam(r, "limit", defaultWatchLimit, 1, maxWatchLimit)

	watches, err := s.watches.ListWatches(limit)
	if err != nil {
		handleError(w, s.logger, err, "failed to list watches")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"watches": watches,
		"count":   len(watches),
	})
}

func (s *Server) handleCreateWatch(w http.ResponseWriter, r *http.Request) {
	var req watchRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	req.Request.ApplyDefaults()
	if err := req.Request.Validate(); err != nil {
		handleError(w, s.logger, err, "invalid watch run request")
		return
	}

	payload, err := req.Request.Payload()
	if err != nil {
		handleError(w, s.logger, err, "failed to serialize watch payload")
		return
	}

	watch, err := schedule.NewWatch(req.Label, pipeline.HandlerName, req.Request.Target, payload, req.IntervalSeconds)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.watches.CreateWatch(watch); err != nil {
		handleError(w, s.logger, err, "failed to create watch")
		return
	}

	s.logger.Infow("Watch created",
		"watch_id", shortID(watch.ID),
		"source", watch.Source,
		"interval_seconds", watch.IntervalSeconds,
	)

	writeJSON(w, http.StatusOK, watch)
}

// HandleWatch handles /api/pulse/watches/{id} and its sub-resources:
//
//	GET    /api/pulse/watches/{id}             watch details
//	PATCH  /api/pulse/watches/{id}             update state or interval
//	DELETE /api/pulse/watches/{id}             soft-delete
//	GET    /api/pulse/watches/{id}/executions  fire history
func (s *Server) HandleWatch(w http.ResponseWriter, r *http.Request) {
	pathParts := extractPathParts(r.URL.Path, "/api/pulse/watches/")
	if len(pathParts) == 0 || pathParts[0] == "" {
		writeError(w, http.StatusBadRequest, "Missing watch ID")
		return
	}
	watchID := pathParts[0]

	if len(pathParts) > 1 && pathParts[1] == "executions" {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		s.handleListExecutions(w, r, watchID)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetWatch(w, r, watchID)
	case http.MethodPatch:
		s.handleUpdateWatch(w, r, watchID)
	case http.MethodDelete:
		s.handleDeleteWatch(w, r, watchID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleGetWatch(w http.ResponseWriter, r *http.Request, watchID string) {
	watch, err := s.watches.GetWatch(watchID)
	if err != nil {
		handleError(w, s.logger, err, "failed to get watch")
		return
	}
	writeJSON(w, http.StatusOK, watch)
}

func (s *Server) handleUpdateWatch(w http.ResponseWriter, r *http.Request, watchID string) {
	var patch struct {
		State           *string `json:"state,omitempty"`
		IntervalSeconds *int    `json:"interval_seconds,omitempty"`
	}
	if err := readJSON(w, r, &patch); err != nil {
		return
	}
	if patch.State == nil && patch.IntervalSeconds == nil {
		writeError(w, http.StatusBadRequest, "nothing to update: provide state or interval_seconds")
		return
	}

	if patch.State != nil {
		if !schedule.IsValidState(*patch.State) {
			writeError(w, http.StatusBadRequest, "unknown watch state: "+*patch.State)
			return
		}
		if err := s.watches.UpdateState(watchID, *patch.State); err != nil {
			handleError(w, s.logger, err, "failed to update watch state")
			return
		}
	}

	if patch.IntervalSeconds != nil {
		if err := s.watches.UpdateInterval(watchID, *patch.IntervalSeconds); err != nil {
			handleError(w, s.logger, err, "failed to update watch interval")
			return
		}
	}

	s.handleGetWatch(w, r, watchID)
}

func (s *Server) handleDeleteWatch(w http.ResponseWriter, r *http.Request, watchID string) {
	if err := s.watches.UpdateState(watchID, schedule.StateDeleted); err != nil {
		handleError(w, s.logger, err, "failed to delete watch")
		return
	}

	s.logger.Infow("Watch deleted", "watch_id", shortID(watchID))
	writeJSON(w, http.StatusOK, map[string]string{"id": watchID, "state": schedule.StateDeleted})
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request, watchID string) {
	if _, err := s.watches.GetWatch(watchID); err != nil {
		handleError(w, s.logger, err, "failed to get watch")
		return
	}

	limit := parseIntQueryParam(r, "limit", defaultExecutionLimit, 1, maxExecutionLimit)
	offset := parseIntQueryParam(r, "offset", 0, 0, 1<<30)
	statusFilter := r.URL.Query().Get("status")

	executions, total, err := s.executions.ListExecutions(watchID, limit, offset, statusFilter)
	if err != nil {
		handleError(w, s.logger, err, "failed to list executions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"executions": executions,
		"count":      len(executions),
		"total":      total,
	})
}
