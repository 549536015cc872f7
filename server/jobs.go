package server

import (
	"net/http"

	"github.com/veritas-nexus/veritas/errors"
	"github.com/veritas-nexus/veritas/pipeline"
	"github.com/veritas-nexus/veritas/pulse/async"
	"github.com/veritas-nexus/veritas/runstore"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 200
)

// jobStatusResponse is the wire shape of a job's status snapshot.
type jobStatusResponse struct {
	JobID    string             `json:"job_id"`
	State    async.JobStatus    `json:"state"`
	Stage    string             `json:"stage"`
	Progress float64            `json:"progress"`
	Metrics  map[string]float64 `json:"metrics"`
	Message  string             `json:"message,omitempty"`
}

func jobStatus(job *async.Job) jobStatusResponse {
	metrics := job.Metrics
	if metrics == nil {
		metrics = map[string]float64{}
	}
	return jobStatusResponse{
		JobID:    job.ID,
		State:    job.Status,
		Stage:    job.Stage,
		Progress: job.Progress,
		Metrics:  metrics,
		Message:  job.Error,
	}
}

// HandleJobs handles /jobs: POST submits a run, GET lists jobs.
func (s *Server) HandleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleSubmitJob validates the run request, persists the run directory,
// and enqueues the job. The response is the initial status snapshot.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	req, err := pipeline.ParseRunRequest(r.Body)
	if err != nil {
		handleError(w, s.logger, err, "failed to parse run request")
		return
	}

	payload, err := req.Payload()
	if err != nil {
		handleError(w, s.logger, err, "failed to serialize run request")
		return
	}

	job, err := async.NewJob(pipeline.HandlerName, req.Target, payload, req.BudgetUSD())
	if err != nil {
		handleError(w, s.logger, err, "failed to build job")
		return
	}

	// The run directory is created at the API boundary so a client that
	// polls immediately after submit already sees the queued snapshot.
	if err := s.runs.CreateRun(job.ID, req); err != nil {
		handleError(w, s.logger, err, "failed to create run directory")
		return
	}

	// Event append is best-effort: the status snapshot rules the run, the
	// event stream narrates it.
	if ev, evErr := runstore.NewEvent(pipeline.StageQueued, "queued", 0.0, "Job accepted"); evErr != nil {
		s.logger.Warnw("Failed to build queued event", "job_id", job.ID, "error", evErr)
	} else if evErr := s.runs.AppendEvent(job.ID, ev); evErr != nil {
		s.logger.Warnw("Failed to append queued event", "job_id", job.ID, "error", evErr)
	}

	if err := s.Queue().Enqueue(job); err != nil {
		handleError(w, s.logger, err, "failed to enqueue job")
		return
	}

	s.logger.Infow("Job submitted",
		"job_id", shortID(job.ID),
		"target", req.Target,
		"connectors", req.Connectors,
		"max_items", req.MaxItems,
	)

	writeJSON(w, http.StatusOK, jobStatus(job))
}

// handleListJobs lists jobs, optionally filtered by state.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQueryParam(r, "limit", defaultJobLimit, 1, maxJobLimit)

	var status *async.JobStatus
	if raw := r.URL.Query().Get("state"); raw != "" {
		if !async.IsValidStatus(raw) {
			writeError(w, http.StatusBadRequest, "unknown state filter: "+raw)
			return
		}
		st := async.JobStatus(raw)
		status = &st
	}

	jobs, err := s.Queue().ListJobs(status, limit)
	if err != nil {
		handleError(w, s.logger, err, "failed to list jobs")
		return
	}

	statuses := make([]jobStatusResponse, 0, len(jobs))
	for _, job := range jobs {
		statuses = append(statuses, jobStatus(job))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  statuses,
		"count": len(statuses),
	})
}

// HandleJob handles /jobs/{id} and its sub-resources:
//
//	GET  /jobs/{id}          status snapshot
//	GET  /jobs/{id}/results  final results (404 until done)
//	GET  /jobs/{id}/events   telemetry event stream
//	POST /jobs/{id}/pause    pause a queued or running job
//	POST /jobs/{id}/resume   requeue a paused job
func (s *Server) HandleJob(w http.ResponseWriter, r *http.Request) {
	pathParts := extractPathParts(r.URL.Path, "/jobs/")
	if len(pathParts) == 0 || pathParts[0] == "" {
		writeError(w, http.StatusBadRequest, "Missing job ID")
		return
	}
	jobID := pathParts[0]

	if len(pathParts) > 1 && pathParts[1] != "" {
		switch pathParts[1] {
		case "results":
			if !requireMethod(w, r, http.MethodGet) {
				return
			}
			s.handleJobResults(w, r, jobID)
		case "events":
			if !requireMethod(w, r, http.MethodGet) {
				return
			}
			s.handleJobEvents(w, r, jobID)
		case "pause":
			if !requireMethod(w, r, http.MethodPost) {
				return
			}
			s.handleJobPause(w, r, jobID)
		case "resume":
			if !requireMethod(w, r, http.MethodPost) {
				return
			}
			s.handleJobResume(w, r, jobID)
		default:
			writeError(w, http.StatusNotFound, "unknown job sub-resource: "+pathParts[1])
		}
		return
	}

	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	s.handleJobStatus(w, r, jobID)
}

func (s *Server) getJob(jobID string) (*async.Job, error) {
	job, err := s.Queue().GetJob(jobID)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return nil, errors.NewNotFoundError("job not found")
		}
		return nil, err
	}
	return job, nil
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := s.getJob(jobID)
	if err != nil {
		handleError(w, s.logger, err, "failed to get job")
		return
	}
	writeJSON(w, http.StatusOK, jobStatus(job))
}

// handleJobResults serves the terminal results object. Until the job is
// done the results do not exist, which is a 404 on this sub-resource even
// though the job itself is known.
func (s *Server) handleJobResults(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := s.getJob(jobID)
	if err != nil {
		handleError(w, s.logger, err, "failed to get job")
		return
	}

	if job.Status != async.JobStatusDone {
		writeError(w, http.StatusNotFound, "results not available")
		return
	}

	results, err := s.runs.ReadResults(jobID)
	if err != nil {
		if errors.IsNotFoundError(err) {
			writeError(w, http.StatusNotFound, "results not available")
			return
		}
		handleError(w, s.logger, err, "failed to read results")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(results)
}

func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request, jobID string) {
	if _, err := s.getJob(jobID); err != nil {
		handleError(w, s.logger, err, "failed to get job")
		return
	}

	events, err := s.runs.ReadEvents(jobID)
	if err != nil {
		handleError(w, s.logger, err, "failed to read events")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

func (s *Server) handleJobPause(w http.ResponseWriter, r *http.Request, jobID string) {
	if err := s.Queue().PauseJob(jobID, "user_requested"); err != nil {
		handleError(w, s.logger, err, "failed to pause job")
		return
	}

	s.logger.Infow("Job paused by user", "job_id", shortID(jobID))
	s.handleJobStatus(w, r, jobID)
}

func (s *Server) handleJobResume(w http.ResponseWriter, r *http.Request, jobID string) {
	if err := s.Queue().ResumeJob(jobID); err != nil {
		handleError(w, s.logger, err, "failed to resume job")
		return
	}

	s.logger.Infow("Job resumed by user", "job_id", shortID(jobID))
	s.handleJobStatus(w, r, jobID)
}
