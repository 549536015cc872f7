package server

import (
	"net/http"

	"github.com/veritas-nexus/veritas/internal/version"
)

// HandleHealth handles GET /health. It reports degraded rather than failing
// when the queue cannot be read, so load balancers see the process state
// separately from the database state.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	status := "ok"
	response := map[string]interface{}{
		"version": version.Get(),
		"state":   stateString(s.getState()),
	}

	queued, running, err := s.Queue().GetJobCounts()
	if err != nil {
		status = "degraded"
		response["queue_error"] = err.Error()
	} else {
		response["jobs_queued"] = queued
		response["jobs_running"] = running
	}

	s.mu.RLock()
	response["ws_clients"] = len(s.clients)
	s.mu.RUnlock()

	response["status"] = status
	writeJSON(w, http.StatusOK, response)
}

// HandleConfig handles GET /api/config, returning the effective runtime
// configuration. The config carries no secrets; connectors read credentials
// from their own environments.
func (s *Server) HandleConfig(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.cfg)
}
