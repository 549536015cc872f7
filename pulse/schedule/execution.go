package schedule

import "time"

// Execution status constants
const (
	ExecutionStatusRunning   = "running"
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
)

// Execution records one fire of a watch: when it happened, whether the
// enqueue succeeded, and which async job it produced. The fire history is
// what distinguishes "the watch is broken" from "the watch is idle".
type Execution struct {
	ID      string  `json:"id"`
	WatchID string  `json:"watch_id"`
	JobID   *string `json:"job_id,omitempty"` // Async job enqueued by this fire

	Status string `json:"status"` // running, completed, failed

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMs  *int       `json:"duration_ms,omitempty"`

	ResultSummary *string `json:"result_summary,omitempty"`
	ErrorMessage  *string `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
