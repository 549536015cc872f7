package schedule

import (
	"database/sql"
	"time"

	"github.com/veritas-nexus/veritas/errors"
)

// ExecutionStore handles persistence of watch fire history.
type ExecutionStore struct {
	db *sql.DB
}

// NewExecutionStore creates a new execution store
func NewExecutionStore(db *sql.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

const executionColumns = `id, watch_id, job_id, status,
	started_at, completed_at, duration_ms,
	result_summary, error_message,
	created_at, updated_at`

// scanExecution reads one watch_executions row in executionColumns order.
func scanExecution(row rowScanner) (*Execution, error) {
	var exec Execution
	var jobID, resultSummary, errorMessage sql.NullString
	var completedAt sql.NullTime
	var durationMs sql.NullInt64

	err := row.Scan(
		&exec.ID,
		&exec.WatchID,
		&jobID,
		&exec.Status,
		&exec.StartedAt,
		&completedAt,
		&durationMs,
		&resultSummary,
		&errorMessage,
		&exec.CreatedAt,
		&exec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if jobID.Valid {
		exec.JobID = &jobID.String
	}
	if completedAt.Valid {
		exec.CompletedAt = &completedAt.Time
	}
	if durationMs.Valid {
		duration := int(durationMs.Int64)
		exec.DurationMs = &duration
	}
	if resultSummary.Valid {
		exec.ResultSummary = &resultSummary.String
	}
	if errorMessage.Valid {
		exec.ErrorMessage = &errorMessage.String
	}

	return &exec, nil
}

// CreateExecution inserts a new execution record
func (s *ExecutionStore) CreateExecution(exec *Execution) error {
	query := `
		INSERT INTO watch_executions (
			id, watch_id, job_id, status,
			started_at, completed_at, duration_ms,
			result_summary, error_message,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		exec.ID,
		exec.WatchID,
		nullableString(exec.JobID),
		exec.Status,
		exec.StartedAt,
		exec.CompletedAt,
		nullableInt(exec.DurationMs),
		nullableString(exec.ResultSummary),
		nullableString(exec.ErrorMessage),
		exec.CreatedAt,
		exec.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create execution")
	}

	return nil
}

// UpdateExecution updates an existing execution record
func (s *ExecutionStore) UpdateExecution(exec *Execution) error {
	query := `
		UPDATE watch_executions
		SET job_id = ?,
		    status = ?,
		    completed_at = ?,
		    duration_ms = ?,
		    result_summary = ?,
		    error_message = ?,
		    updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(query,
		nullableString(exec.JobID),
		exec.Status,
		exec.CompletedAt,
		nullableInt(exec.DurationMs),
		nullableString(exec.ResultSummary),
		nullableString(exec.ErrorMessage),
		exec.UpdatedAt,
		exec.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update execution")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if rowsAffected == 0 {
		return errors.NewNotFoundError("execution not found: %s", exec.ID)
	}

	return nil
}

// GetExecution retrieves an execution by ID
func (s *ExecutionStore) GetExecution(id string) (*Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM watch_executions WHERE id = ?`

	exec, err := scanExecution(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("execution not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get execution")
	}

	return exec, nil
}

// ListExecutions retrieves the fire history for a watch, newest first, with
// pagination and an optional status filter. The second return value is the
// total matching count before pagination.
func (s *ExecutionStore) ListExecutions(watchID string, limit, offset int, statusFilter string) ([]*Execution, int, error) {
	baseQuery := ` FROM watch_executions WHERE watch_id = ?`
	args := []interface{}{watchID}

	if statusFilter != "" {
		baseQuery += " AND status = ?"
		args = append(args, statusFilter)
	}

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*)"+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count executions")
	}

	query := `SELECT ` + executionColumns + baseQuery + `
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list executions")
	}
	defer rows.Close()

	var executions []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan execution")
		}
		executions = append(executions, exec)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "error iterating executions")
	}

	return executions, total, nil
}

// CleanupOldExecutions deletes execution records older than the retention
// period and returns how many were removed. Keeps the fire history from
// growing without bound; 90 days is a reasonable production retention.
func (s *ExecutionStore) CleanupOldExecutions(retentionDays int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	result, err := s.db.Exec(`DELETE FROM watch_executions WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old executions")
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}

	return int(deleted), nil
}

func nullableString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func nullableInt(i *int) interface{} {
	if i == nil {
		return nil
	}
	return *i
}
