// -----------------------------------------------------------------------
// Routes - HTTP route table and job sub-route dispatch
// -----------------------------------------------------------------------

package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Jobs
	mux.HandleFunc("/api/jobs", s.handleJobsRoute)
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes) // Handles /api/jobs/{id} and subpaths

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleJobsRoute routes /api/jobs requests (list and submit)
func (s *Server) handleJobsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		s.app.JobHandler.ListJobsHandler(w, r)
	case "POST":
		s.app.JobHandler.SubmitJobHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobRoutes routes /api/jobs/{id} and subpaths to the appropriate handler
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	pathSuffix := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if pathSuffix == "" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	// GET /api/jobs/{id}/status
	if jobID, ok := strings.CutSuffix(pathSuffix, "/status"); ok {
		s.app.JobHandler.GetJobStatusHandler(w, r, jobID)
		return
	}

	// GET /api/jobs/{id}/results
	if jobID, ok := strings.CutSuffix(pathSuffix, "/results"); ok {
		s.app.JobHandler.GetJobResultsHandler(w, r, jobID)
		return
	}

	if strings.Contains(pathSuffix, "/") {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	// GET or DELETE /api/jobs/{id}
	switch r.Method {
	case "GET":
		s.app.JobHandler.GetJobHandler(w, r, pathSuffix)
	case "DELETE":
		s.app.JobHandler.CancelJobHandler(w, r, pathSuffix)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
