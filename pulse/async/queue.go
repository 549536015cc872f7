package async

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/veritas-nexus/veritas/errors"
)

const (
	// MaxJobsLimit is the maximum number of jobs returned by an unbounded listing
	MaxJobsLimit = 10000
	// SubscriberChannelBufferSize is the buffer size for subscriber channels
	SubscriberChannelBufferSize = 100
)

type Queue struct {
	store       *Store
	mu          sync.RWMutex
	subscribers []chan *Job // Channels to notify of job updates
}

// NewQueue creates a new job queue
func NewQueue(db *sql.DB) *Queue {
	return &Queue{
		store:       NewStore(db),
		subscribers: make([]chan *Job, 0),
	}
}

// Enqueue adds a new job to the queue
func (q *Queue) Enqueue(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.CreateJob(job); err != nil {
		err = errors.Wrap(err, "failed to enqueue job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", job.HandlerName))
		err = errors.WithDetail(err, fmt.Sprintf("Source: %s", job.Source))
		return err
	}

	// Notify subscribers of new job
	q.notifySubscribers(job)

	return nil
}

// Dequeue takes the oldest queued job and marks it as running. Returns nil
// when the queue is empty. The claim is a guarded UPDATE on status, so a job
// is handed to at most one worker even when several processes share the
// database.
func (q *Queue) Dequeue() (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		job, err := q.store.NextQueuedJob()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get next queued job")
		}

		if job == nil {
			return nil, nil // No jobs available
		}

		job.Start()

		claimed, err := q.store.ClaimJob(job)
		if err != nil {
			err = errors.Wrap(err, "failed to mark job as running")
			err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
			err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", job.HandlerName))
			err = errors.WithDetail(err, fmt.Sprintf("Source: %s", job.Source))
			return nil, err
		}

		if !claimed {
			// Another process took this job between the select and the
			// claim. Try the next row.
			continue
		}

		// Notify subscribers of job update
		q.notifySubscribers(job)

		return job, nil
	}
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(id string) (*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.store.GetJob(id)
}

// UpdateJob updates a job's state
func (q *Queue) UpdateJob(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.UpdateJob(job); err != nil {
		err = errors.Wrap(err, "failed to update job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", job.HandlerName))
		err = errors.WithDetail(err, fmt.Sprintf("Status: %s", job.Status))
		return err
	}

	// Notify subscribers of job update
	q.notifySubscribers(job)

	return nil
}

// PauseJob pauses a queued or running job. Pausing a job in any other state
// is a conflict.
func (q *Queue) PauseJob(id string, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if err != nil {
		err = errors.Wrapf(err, "failed to pause job %s", id)
		err = errors.WithDetail(err, fmt.Sprintf("Pause reason: %s", reason))
		return err
	}

	if job.Status != JobStatusQueued && job.Status != JobStatusRunning {
		err := errors.Wrapf(errors.ErrConflict, "job %s cannot be paused (status: %s)", id, job.Status)
		err = errors.WithDetail(err, fmt.Sprintf("Current status: %s", job.Status))
		err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", job.HandlerName))
		return err
	}

	job.Pause(reason)

	if err := q.store.UpdateJob(job); err != nil {
		err = errors.Wrap(err, "failed to pause job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", job.HandlerName))
		err = errors.WithDetail(err, fmt.Sprintf("Pause reason: %s", reason))
		return err
	}

	// Notify subscribers of job update
	q.notifySubscribers(job)

	return nil
}

// ResumeJob puts a paused job back on the queue. Resuming a job in any
// other state is a conflict.
func (q *Queue) ResumeJob(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if err != nil {
		return errors.Wrapf(err, "failed to resume job %s", id)
	}

	if job.Status != JobStatusPaused {
		err := errors.Wrapf(errors.ErrConflict, "job %s is not paused (status: %s)", id, job.Status)
		err = errors.WithDetail(err, fmt.Sprintf("Current status: %s", job.Status))
		err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", job.HandlerName))
		return err
	}

	job.Resume()

	if err := q.store.UpdateJob(job); err != nil {
		err = errors.Wrap(err, "failed to resume job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", job.HandlerName))
		return err
	}

	// Notify subscribers of job update
	q.notifySubscribers(job)

	return nil
}

// CompleteJob marks a job as done
func (q *Queue) CompleteJob(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if err != nil {
		return errors.Wrapf(err, "failed to complete job %s", id)
	}

	job.Complete()

	if err := q.store.UpdateJob(job); err != nil {
		err = errors.Wrap(err, "failed to complete job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", job.HandlerName))
		err = errors.WithDetail(err, fmt.Sprintf("Source: %s", job.Source))
		return err
	}

	// Notify subscribers of job update
	q.notifySubscribers(job)

	return nil
}

// FailJob marks a job as errored with the failure's message
func (q *Queue) FailJob(id string, jobErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if err != nil {
		return errors.Wrapf(err, "failed to mark job %s as errored", id)
	}

	job.Fail(jobErr)

	if err := q.store.UpdateJob(job); err != nil {
		err = errors.Wrap(err, "failed to mark job as errored")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", job.HandlerName))
		err = errors.WithDetail(err, fmt.Sprintf("Source: %s", job.Source))
		err = errors.WithDetail(err, fmt.Sprintf("Job error: %s", jobErr.Error()))
		return err
	}

	// Notify subscribers of job update
	q.notifySubscribers(job)

	return nil
}

// DeleteJob removes a job record
func (q *Queue) DeleteJob(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.store.DeleteJob(id)
}

// ListJobs returns jobs, optionally filtered by status
func (q *Queue) ListJobs(status *JobStatus, limit int) ([]*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.store.ListJobs(status, limit)
}

// ListActiveJobs returns all active (queued, running, paused) jobs
func (q *Queue) ListActiveJobs(limit int) ([]*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.store.ListActiveJobs(limit)
}

// FindActiveJobBySource returns the newest non-terminal job for a source and
// handler, or nil when none exists.
func (q *Queue) FindActiveJobBySource(source, handlerName string) (*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.store.FindActiveJobBySource(source, handlerName)
}

// Subscribe returns a channel that receives job updates.
// The caller is responsible for calling Unsubscribe when done.
// The returned channel is buffered to prevent blocking the notifier.
func (q *Queue) Subscribe() chan *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan *Job, SubscriberChannelBufferSize) // Buffered to avoid blocking
	q.subscribers = append(q.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel from the queue.
// The channel is NOT closed by this method - callers should close it themselves
// after unsubscribing if needed. This prevents double-close panics.
func (q *Queue) Unsubscribe(ch chan *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, sub := range q.subscribers {
		if sub == ch {
			// Remove from slice without closing - caller manages channel lifecycle
			q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
			return
		}
	}
}

// notifySubscribers sends job updates to all subscribers.
// REQUIRES: q.mu must be held by caller (either Lock or RLock).
// Uses non-blocking send to avoid stalling if a subscriber is slow.
func (q *Queue) notifySubscribers(job *Job) {
	for _, ch := range q.subscribers {
		select {
		case ch <- job:
			// Sent successfully
		default:
			// Channel full, skip (non-blocking)
		}
	}
}

// Cleanup removes old done/error jobs
func (q *Queue) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.store.CleanupOldJobs(olderThan)
}

// QueueStats returns statistics about the queue
type QueueStats struct {
	Queued  int `json:"queued"`
	Running int `json:"running"`
	Paused  int `json:"paused"`
	Done    int `json:"done"`
	Error   int `json:"error"`
	Total   int `json:"total"`
}

// GetStats returns queue statistics
func (q *Queue) GetStats() (*QueueStats, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	counts, err := q.store.CountJobsByStatus()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get queue stats")
	}

	stats := &QueueStats{
		Queued:  counts[JobStatusQueued],
		Running: counts[JobStatusRunning],
		Paused:  counts[JobStatusPaused],
		Done:    counts[JobStatusDone],
		Error:   counts[JobStatusError],
	}
	for _, count := range counts {
		stats.Total += count
	}

	return stats, nil
}

// GetJobCounts returns quick counts of queued and running jobs (for system metrics)
func (q *Queue) GetJobCounts() (queued int, running int, err error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	counts, err := q.store.CountJobsByStatus()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to count jobs")
	}

	return counts[JobStatusQueued], counts[JobStatusRunning], nil
}
