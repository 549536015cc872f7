// Package async provides asynchronous ingest job processing with pulse control.
package async

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/veritas-nexus/veritas/errors"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusPaused  JobStatus = "paused"
	JobStatusDone    JobStatus = "done"
	JobStatusError   JobStatus = "error"
)

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusQueued, JobStatusRunning, JobStatusPaused,
		JobStatusDone, JobStatusError:
		return true
	default:
		return false
	}
}

// Terminal returns true for states a job never leaves.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusError
}

// PulseState represents the rate limiting and budget state for a job
type PulseState struct {
	CallsThisHour   int     `json:"calls_this_hour,omitempty"`
	CallsRemaining  int     `json:"calls_remaining,omitempty"`
	SpendToday      float64 `json:"spend_today,omitempty"`
	SpendThisMonth  float64 `json:"spend_this_month,omitempty"`
	BudgetRemaining float64 `json:"budget_remaining,omitempty"`
	IsPaused        bool    `json:"is_paused,omitempty"`
	PauseReason     string  `json:"pause_reason,omitempty"` // "budget_exceeded", "rate_limited", "user_requested"
}

// Job represents an async ingest operation
//
// ARCHITECTURE: Generic job system with handler-based execution
// - Infrastructure (pulse/async) is domain-agnostic
// - Domain packages provide handlers and payloads
// - HandlerName identifies which handler executes the job
// - Payload contains handler-specific data (domain logic controls structure)
//
// The row doubles as the latest status snapshot: Stage names the pipeline
// step currently executing, Progress is a fraction in [0,1], and Metrics
// accumulates counters over the run.
type Job struct {
	ID           string             `json:"id"`
	HandlerName  string             `json:"handler_name"`      // "ingest.run"
	Payload      json.RawMessage    `json:"payload,omitempty"` // Handler-specific data (domain-owned)
	Source       string             `json:"source"`            // Request target, for listing and logging
	Status       JobStatus          `json:"status"`
	Stage        string             `json:"stage"`
	Progress     float64            `json:"progress"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
	CostEstimate float64            `json:"cost_estimate,omitempty"`
	CostActual   float64            `json:"cost_actual,omitempty"`
	PulseState   *PulseState        `json:"pulse_state,omitempty"`
	Error        string             `json:"error,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	StartedAt    *time.Time         `json:"started_at,omitempty"`
	CompletedAt  *time.Time         `json:"completed_at,omitempty"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// NewJob creates a new generic job with handler name and typed payload.
//
// Example:
//
//	payload := ingest.RunRequest{Target: "https://...", MaxItems: 10}
//	payloadJSON, _ := json.Marshal(payload)
//	job, _ := async.NewJob("ingest.run", "https://...", payloadJSON, 0.50)
func NewJob(handlerName string, source string, payload json.RawMessage, estimatedCost float64) (*Job, error) {
	if handlerName == "" {
		return nil, errors.New("handlerName cannot be empty")
	}

	now := time.Now()
	return &Job{
		ID:           uuid.NewString(),
		HandlerName:  handlerName,
		Payload:      payload,
		Source:       source,
		Status:       JobStatusQueued,
		Stage:        "queued",
		Progress:     0,
		CostEstimate: estimatedCost,
		CostActual:   0.0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Start marks the job as running
func (j *Job) Start() {
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.UpdatedAt = now
}

// Pause marks the job as paused
func (j *Job) Pause(reason string) {
	j.Status = JobStatusPaused
	j.UpdatedAt = time.Now()
	if j.PulseState == nil {
		j.PulseState = &PulseState{}
	}
	j.PulseState.IsPaused = true
	j.PulseState.PauseReason = reason
}

// Resume puts the job back on the queue. A resumed job waits for a worker
// like any other queued job rather than jumping straight to running.
func (j *Job) Resume() {
	j.Status = JobStatusQueued
	j.UpdatedAt = time.Now()
	if j.PulseState != nil {
		j.PulseState.IsPaused = false
		j.PulseState.PauseReason = ""
	}
}

// Complete marks the job as done
func (j *Job) Complete() {
	now := time.Now()
	j.Status = JobStatusDone
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Fail marks the job as errored with the failure's message
func (j *Job) Fail(err error) {
	now := time.Now()
	j.Status = JobStatusError
	j.Error = err.Error()
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// AdvanceStage records entry into a pipeline stage. Progress is
// monotonically non-decreasing for a job's lifetime, so a value below the
// current one moves the stage label but leaves progress where it is.
func (j *Job) AdvanceStage(stage string, progress float64) {
	j.Stage = stage
	if progress > j.Progress {
		j.Progress = progress
	}
	j.UpdatedAt = time.Now()
}

// SetMetric records a named counter on the job
func (j *Job) SetMetric(name string, value float64) {
	if j.Metrics == nil {
		j.Metrics = make(map[string]float64)
	}
	j.Metrics[name] = value
	j.UpdatedAt = time.Now()
}

// RecordCost adds to the actual cost incurred
func (j *Job) RecordCost(cost float64) {
	j.CostActual += cost
	j.UpdatedAt = time.Now()
}

// UpdatePulseState updates the pulse state
func (j *Job) UpdatePulseState(state *PulseState) {
	j.PulseState = state
	j.UpdatedAt = time.Now()
}

// MarshalPulseState converts PulseState to JSON string
func MarshalPulseState(state *PulseState) (string, error) {
	if state == nil {
		return "", nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal pulse state")
	}
	return string(data), nil
}

// UnmarshalPulseState converts JSON string to PulseState
func UnmarshalPulseState(data string) (*PulseState, error) {
	if data == "" {
		return nil, nil
	}
	var state PulseState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal pulse state")
	}
	return &state, nil
}

// MarshalMetrics converts a metrics map to a JSON string
func MarshalMetrics(metrics map[string]float64) (string, error) {
	if len(metrics) == 0 {
		return "", nil
	}
	data, err := json.Marshal(metrics)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal metrics")
	}
	return string(data), nil
}

// UnmarshalMetrics converts a JSON string to a metrics map
func UnmarshalMetrics(data string) (map[string]float64, error) {
	if data == "" {
		return nil, nil
	}
	var metrics map[string]float64
	if err := json.Unmarshal([]byte(data), &metrics); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal metrics")
	}
	return metrics, nil
}
