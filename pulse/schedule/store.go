package schedule

import (
	"context"
	"database/sql"
	"time"

	"github.com/veritas-nexus/veritas/errors"
)

// Store handles persistence of watches in the ingest_watches table.
type Store struct {
	db *sql.DB
}

// NewStore creates a new watch store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const watchColumns = `id, label, handler_name, payload, source,
	interval_seconds, next_run_at, last_run_at, last_job_id, state,
	created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanWatch reads one ingest_watches row in watchColumns order.
func scanWatch(row rowScanner) (*Watch, error) {
	var w Watch
	var payload, lastJobID sql.NullString
	var lastRunAt sql.NullTime

	err := row.Scan(
		&w.ID,
		&w.Label,
		&w.HandlerName,
		&payload,
		&w.Source,
		&w.IntervalSeconds,
		&w.NextRunAt,
		&lastRunAt,
		&lastJobID,
		&w.State,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if payload.Valid {
		w.Payload = []byte(payload.String)
	}
	if lastRunAt.Valid {
		w.LastRunAt = &lastRunAt.Time
	}
	if lastJobID.Valid {
		w.LastJobID = lastJobID.String
	}

	return &w, nil
}

// CreateWatch inserts a new watch
func (s *Store) CreateWatch(w *Watch) error {
	query := `
		INSERT INTO ingest_watches (
			id, label, handler_name, payload, source,
			interval_seconds, next_run_at, last_run_at, last_job_id, state,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	payload := sql.NullString{String: string(w.Payload), Valid: len(w.Payload) > 0}
	lastJobID := sql.NullString{String: w.LastJobID, Valid: w.LastJobID != ""}

	_, err := s.db.Exec(query,
		w.ID,
		w.Label,
		w.HandlerName,
		payload,
		w.Source,
		w.IntervalSeconds,
		w.NextRunAt,
		w.LastRunAt,
		lastJobID,
		w.State,
		w.CreatedAt,
		w.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create watch")
	}

	return nil
}

// GetWatch retrieves a watch by ID
func (s *Store) GetWatch(id string) (*Watch, error) {
	query := `SELECT ` + watchColumns + ` FROM ingest_watches WHERE id = ?`

	w, err := scanWatch(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("watch not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get watch")
	}

	return w, nil
}

// ListDue returns active watches whose next fire time has passed, oldest
// first. Capped per tick so a backlog drains over several ticks instead of
// dumping everything on the queue at once.
func (s *Store) ListDue(ctx context.Context, now time.Time) ([]*Watch, error) {
	query := `SELECT ` + watchColumns + `
		FROM ingest_watches
		WHERE state = ? AND next_run_at <= ?
		ORDER BY next_run_at ASC
		LIMIT 100`

	rows, err := s.db.QueryContext(ctx, query, StateActive, now)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due watches")
	}
	defer rows.Close()

	return collectWatches(rows)
}

// ListWatches returns all watches except soft-deleted ones, newest first.
func (s *Store) ListWatches(limit int) ([]*Watch, error) {
	query := `SELECT ` + watchColumns + `
		FROM ingest_watches
		WHERE state != ?
		ORDER BY created_at DESC
		LIMIT ?`

	rows, err := s.db.Query(query, StateDeleted, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list watches")
	}
	defer rows.Close()

	return collectWatches(rows)
}

func collectWatches(rows *sql.Rows) ([]*Watch, error) {
	var watches []*Watch
	for rows.Next() {
		w, err := scanWatch(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan watch")
		}
		watches = append(watches, w)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating watches")
	}

	return watches, nil
}

// UpdateState moves a watch between active/paused/deleted.
func (s *Store) UpdateState(id, newState string) error {
	if !IsValidState(newState) {
		return errors.Newf("invalid watch state: %s", newState)
	}

	query := `
		UPDATE ingest_watches
		SET state = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(query, newState, time.Now(), id)
	if err != nil {
		return errors.Wrap(err, "failed to update watch state")
	}

	return requireWatchRow(result, id)
}

// UpdateInterval changes how often a watch fires. The new interval takes
// effect from the next fire; next_run_at is left where it is.
func (s *Store) UpdateInterval(id string, intervalSeconds int) error {
	if intervalSeconds < MinIntervalSeconds {
		return errors.Newf("interval must be at least %d seconds, got %d", MinIntervalSeconds, intervalSeconds)
	}

	query := `
		UPDATE ingest_watches
		SET interval_seconds = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(query, intervalSeconds, time.Now(), id)
	if err != nil {
		return errors.Wrap(err, "failed to update watch interval")
	}

	return requireWatchRow(result, id)
}

// UpdateAfterFire records a successful fire: the enqueued job id, the fire
// time, and the next scheduled fire.
func (s *Store) UpdateAfterFire(id string, firedAt time.Time, jobID string, nextRunAt time.Time) error {
	query := `
		UPDATE ingest_watches
		SET last_run_at = ?,
		    last_job_id = ?,
		    next_run_at = ?,
		    updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(query, firedAt, jobID, nextRunAt, time.Now(), id)
	if err != nil {
		return errors.Wrap(err, "failed to update watch after fire")
	}

	return requireWatchRow(result, id)
}

// NextDue returns the active watch that fires soonest, or nil when no watch
// is active. Feeds the ticker's countdown log line.
func (s *Store) NextDue() (*Watch, error) {
	query := `SELECT ` + watchColumns + `
		FROM ingest_watches
		WHERE state = ?
		ORDER BY next_run_at ASC
		LIMIT 1`

	w, err := scanWatch(s.db.QueryRow(query, StateActive))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Nothing scheduled
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get next due watch")
	}

	return w, nil
}

func requireWatchRow(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("watch not found: %s", id)
	}
	return nil
}
