package server

import (
	"net/http"
)

// setupHTTPRoutes builds the server's mux. Kept separate from Start so
// tests can mount the routes on an httptest server.
func (s *Server) setupHTTPRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Core job API
	mux.HandleFunc("/jobs", s.corsMiddleware(s.HandleJobs))  // Submit (POST) / list (GET)
	mux.HandleFunc("/jobs/", s.corsMiddleware(s.HandleJob))  // Status, results, events, pause/resume
	mux.HandleFunc("/ws/jobs", s.corsMiddleware(s.HandleJobsWebSocket)) // Live job updates
	mux.HandleFunc("/queue/stats", s.corsMiddleware(s.HandleQueueStats)) // Counts by state (GET)

	// Pulse daemon surface
	mux.HandleFunc("/api/pulse/stats", s.corsMiddleware(s.HandlePulseStats))    // Queue + budget stats (GET)
	mux.HandleFunc("/api/pulse/watches", s.corsMiddleware(s.HandleWatches))     // List/create watches (GET/POST)
	mux.HandleFunc("/api/pulse/watches/", s.corsMiddleware(s.HandleWatch))      // Watch CRUD + executions

	// Operational surface
	mux.HandleFunc("/health", s.corsMiddleware(s.HandleHealth))
	mux.HandleFunc("/api/config", s.corsMiddleware(s.HandleConfig))

	return mux
}

// corsMiddleware adds CORS headers using the configured allowed origins.
// Origin validation is shared with the WebSocket upgrader.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" && s.checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}
