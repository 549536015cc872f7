// Package schedule provides recurring re-ingestion of watched sources.
// A Watch names a source, an async handler, and an interval; the Ticker
// fires due watches by enqueueing ingest jobs on the async queue and keeps
// a fire history in watch_executions.
package schedule

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/veritas-nexus/veritas/errors"
)

// Watch states
const (
	StateActive  = "active"  // Fires on schedule
	StatePaused  = "paused"  // Temporarily suspended by the user
	StateDeleted = "deleted" // Soft-deleted; kept for execution history
)

// MinIntervalSeconds bounds how often a watch may fire. One minute keeps a
// misconfigured watch from flooding the queue faster than runs complete.
const MinIntervalSeconds = 60

// Watch is a recurring re-ingest of one source. Payload is the run request
// enqueued on every fire; Source mirrors the async job's source column so
// the ticker can skip a fire while a previous run is still active.
type Watch struct {
	ID              string          `json:"id"`
	Label           string          `json:"label,omitempty"` // Human handle for listings
	HandlerName     string          `json:"handler_name"`    // Async handler to invoke (e.g. "ingest.run")
	Payload         json.RawMessage `json:"payload,omitempty"`
	Source          string          `json:"source"`
	IntervalSeconds int             `json:"interval_seconds"`
	NextRunAt       time.Time       `json:"next_run_at"`
	LastRunAt       *time.Time      `json:"last_run_at,omitempty"`
	LastJobID       string          `json:"last_job_id,omitempty"` // Most recent async job enqueued
	State           string          `json:"state"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NewWatch creates an active watch whose first fire is one interval from
// now. Validation mirrors what the store schema enforces.
func NewWatch(label, handlerName, source string, payload json.RawMessage, intervalSeconds int) (*Watch, error) {
	if handlerName == "" {
		return nil, errors.New("handlerName cannot be empty")
	}
	if source == "" {
		return nil, errors.New("source cannot be empty")
	}
	if intervalSeconds < MinIntervalSeconds {
		return nil, errors.Newf("interval must be at least %d seconds, got %d", MinIntervalSeconds, intervalSeconds)
	}

	now := time.Now()
	return &Watch{
		ID:              uuid.NewString(),
		Label:           label,
		HandlerName:     handlerName,
		Payload:         payload,
		Source:          source,
		IntervalSeconds: intervalSeconds,
		NextRunAt:       now.Add(time.Duration(intervalSeconds) * time.Second),
		State:           StateActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// IsValidState reports whether s is a recognized watch state.
func IsValidState(s string) bool {
	switch s {
	case StateActive, StatePaused, StateDeleted:
		return true
	default:
		return false
	}
}

// Interval returns the watch's firing interval as a Duration.
func (w *Watch) Interval() time.Duration {
	return time.Duration(w.IntervalSeconds) * time.Second
}
