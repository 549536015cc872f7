package async

import (
	"database/sql"
	"time"

	"github.com/veritas-nexus/veritas/errors"
)

// Store handles persistence of async ingest jobs
type Store struct {
	db *sql.DB
}

// NewStore creates a new async job store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateJob inserts a new job into the database
func (s *Store) CreateJob(job *Job) error {
	pulseStateJSON, err := MarshalPulseState(job.PulseState)
	if err != nil {
		return errors.Wrap(err, "failed to marshal pulse state")
	}

	metricsJSON, err := MarshalMetrics(job.Metrics)
	if err != nil {
		return errors.Wrap(err, "failed to marshal metrics")
	}

	query := `
		INSERT INTO ingest_jobs (
			id, handler_name, source, status, stage,
			progress, metrics,
			cost_estimate, cost_actual,
			pulse_state, payload,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	handlerName := sql.NullString{String: job.HandlerName, Valid: job.HandlerName != ""}
	payload := sql.NullString{String: string(job.Payload), Valid: len(job.Payload) > 0}

	_, err = s.db.Exec(query,
		job.ID,
		handlerName,
		job.Source,
		job.Status,
		job.Stage,
		job.Progress,
		metricsJSON,
		job.CostEstimate,
		job.CostActual,
		pulseStateJSON,
		payload,
		job.CreatedAt,
		job.UpdatedAt,
	)

	if err != nil {
		return errors.Wrap(err, "failed to create job")
	}

	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(id string) (*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + ` FROM ingest_jobs WHERE id = ?`

	var job Job
	args := GetJobScanArgs()
	targets := GetJobScanTargets(&job, args)

	err := s.db.QueryRow(query, id).Scan(targets...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}

	if err := ProcessJobScanArgs(&job, args); err != nil {
		return nil, err
	}

	return &job, nil
}

// UpdateJob updates an existing job in the database
func (s *Store) UpdateJob(job *Job) error {
	pulseStateJSON, err := MarshalPulseState(job.PulseState)
	if err != nil {
		return errors.Wrap(err, "failed to marshal pulse state")
	}

	metricsJSON, err := MarshalMetrics(job.Metrics)
	if err != nil {
		return errors.Wrap(err, "failed to marshal metrics")
	}

	query := `
		UPDATE ingest_jobs
		SET handler_name = ?,
		    payload = ?,
		    status = ?,
		    stage = ?,
		    progress = ?,
		    metrics = ?,
		    cost_actual = ?,
		    pulse_state = ?,
		    error = ?,
		    started_at = ?,
		    completed_at = ?,
		    updated_at = ?
		WHERE id = ?
	`

	handlerName := sql.NullString{String: job.HandlerName, Valid: job.HandlerName != ""}
	payload := sql.NullString{String: string(job.Payload), Valid: len(job.Payload) > 0}

	_, err = s.db.Exec(query,
		handlerName,
		payload,
		job.Status,
		job.Stage,
		job.Progress,
		metricsJSON,
		job.CostActual,
		pulseStateJSON,
		job.Error,
		job.StartedAt,
		job.CompletedAt,
		job.UpdatedAt,
		job.ID,
	)

	if err != nil {
		return errors.Wrap(err, "failed to update job")
	}

	return nil
}

// NextQueuedJob returns the oldest queued job, or nil when the queue is
// empty. Jobs created in the same instant tie-break on id so the order is
// still deterministic.
func (s *Store) NextQueuedJob() (*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + `
		FROM ingest_jobs
		WHERE status = 'queued'
		ORDER BY created_at ASC, id ASC
		LIMIT 1`

	var job Job
	args := GetJobScanArgs()
	targets := GetJobScanTargets(&job, args)

	err := s.db.QueryRow(query).Scan(targets...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Empty queue is not an error
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get next queued job")
	}

	if err := ProcessJobScanArgs(&job, args); err != nil {
		return nil, err
	}

	return &job, nil
}

// ClaimJob transitions a job from queued to running only if the row is still
// queued. Returns false when another process claimed the job first.
func (s *Store) ClaimJob(job *Job) (bool, error) {
	query := `
		UPDATE ingest_jobs
		SET status = ?,
		    started_at = ?,
		    updated_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := s.db.Exec(query,
		job.Status,
		job.StartedAt,
		job.UpdatedAt,
		job.ID,
		JobStatusQueued,
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to claim job")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read claim result")
	}

	return affected == 1, nil
}

// ListJobs returns all jobs, optionally filtered by status
func (s *Store) ListJobs(status *JobStatus, limit int) ([]*Job, error) {
	var query string
	var args []interface{}

	baseQuery := `SELECT ` + StandardJobSelectColumns() + ` FROM ingest_jobs`
	if status != nil {
		query = baseQuery + ` WHERE status = ? ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{*status, limit}
	} else {
		query = baseQuery + ` ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{limit}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "jobs")
}

// ListActiveJobs returns all jobs that are currently queued, running, or paused
func (s *Store) ListActiveJobs(limit int) ([]*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + `
		FROM ingest_jobs
		WHERE status IN ('queued', 'running', 'paused')
		ORDER BY created_at DESC
		LIMIT ?`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "active jobs")
}

// FindActiveJobBySource returns the newest queued/running/paused job for a
// source and handler, or nil when none exists. The scheduler uses this to
// avoid stacking a second ingest of a source the pool is still working on.
func (s *Store) FindActiveJobBySource(source, handlerName string) (*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + `
		FROM ingest_jobs
		WHERE source = ?
		  AND handler_name = ?
		  AND status IN ('queued', 'running', 'paused')
		ORDER BY created_at DESC
		LIMIT 1`

	var job Job
	args := GetJobScanArgs()
	targets := GetJobScanTargets(&job, args)

	err := s.db.QueryRow(query, source, handlerName).Scan(targets...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // No active job for this source
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find active job by source")
	}

	if err := ProcessJobScanArgs(&job, args); err != nil {
		return nil, err
	}

	return &job, nil
}

// CountJobsByStatus returns the number of jobs in each status
func (s *Store) CountJobsByStatus() (map[JobStatus]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM ingest_jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs by status")
	}
	defer rows.Close()

	counts := make(map[JobStatus]int)
	for rows.Next() {
		var status JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan job count")
		}
		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating job counts")
	}

	return counts, nil
}

// scanJobs is a helper that scans multiple jobs from query rows
// Reduces repetition across ListJobs and ListActiveJobs
func scanJobs(rows *sql.Rows, context string) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		var job Job
		if err := ScanJobFromRows(rows, &job); err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, &job)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", context)
	}

	return jobs, nil
}

// DeleteJob removes a job from the database
func (s *Store) DeleteJob(id string) error {
	query := `DELETE FROM ingest_jobs WHERE id = ?`

	result, err := s.db.Exec(query, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete job")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}

	if rows == 0 {
		return errors.NewNotFoundError("job not found: %s", id)
	}

	return nil
}

// CleanupOldJobs removes done/error jobs older than the specified duration.
// The run directories on disk are left alone; retention of artifacts is an
// external concern.
func (s *Store) CleanupOldJobs(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	query := `
		DELETE FROM ingest_jobs
		WHERE status IN ('done', 'error')
		  AND updated_at < ?
	`

	result, err := s.db.Exec(query, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old jobs")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}

	return int(rows), nil
}
