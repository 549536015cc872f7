package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/veritas-nexus/veritas/errors"
)

// Limiter enforces max job executions per hour using a sliding window
type Limiter struct {
	maxPerHour int
	window     time.Duration
	mu         sync.Mutex
	callTimes  []time.Time
	timeNow    func() time.Time // Injectable for testing
}

// NewLimiter creates a rate limiter with real time.
// maxPerHour <= 0 disables limiting.
func NewLimiter(maxPerHour int) *Limiter {
	return NewLimiterWithClock(maxPerHour, time.Now)
}

// NewLimiterWithClock creates a rate limiter with injectable clock (for testing)
func NewLimiterWithClock(maxPerHour int, timeNow func() time.Time) *Limiter {
	capacity := maxPerHour
	if capacity < 0 {
		capacity = 0
	}
	return &Limiter{
		maxPerHour: maxPerHour,
		window:     time.Hour,
		callTimes:  make([]time.Time, 0, capacity),
		timeNow:    timeNow,
	}
}

// Allow checks if an execution is allowed under the hourly cap and records
// it when allowed. Returns an error wrapping errors.ErrRateLimited when the
// cap is hit.
func (r *Limiter) Allow() error {
	if r.maxPerHour <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.timeNow()

	// Remove expired call timestamps (outside the window)
	r.removeExpiredCalls(now)

	// Check if we're at the limit
	if len(r.callTimes) >= r.maxPerHour {
		err := errors.Wrapf(errors.ErrRateLimited,
			"%d executions in the last hour (limit: %d)",
			len(r.callTimes), r.maxPerHour)
		err = errors.WithDetail(err, fmt.Sprintf("Executions in window: %d", len(r.callTimes)))
		err = errors.WithDetail(err, fmt.Sprintf("Max executions per hour: %d", r.maxPerHour))
		return err
	}

	// Record this execution
	r.callTimes = append(r.callTimes, now)

	return nil
}

// Wait blocks until an execution is allowed under the hourly cap.
// Returns error if context is cancelled.
func (r *Limiter) Wait(ctx context.Context) error {
	for {
		if err := r.Allow(); err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			// Retry after short delay
		}
	}
}

// removeExpiredCalls removes call timestamps that are outside the sliding window
// Must be called with lock held
func (r *Limiter) removeExpiredCalls(now time.Time) {
	cutoff := now.Add(-r.window)

	// Count expired calls from front (timestamps are ordered)
	expired := 0
	for _, callTime := range r.callTimes {
		if !callTime.After(cutoff) {
			expired++
		} else {
			break
		}
	}

	r.callTimes = r.callTimes[expired:]
}

// Reset clears the rate limiter state
func (r *Limiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.callTimes = r.callTimes[:0]
}

// Stats returns current rate limiter statistics. For an unlimited limiter
// both values are zero.
func (r *Limiter) Stats() (callsInWindow int, remaining int) {
	if r.maxPerHour <= 0 {
		return 0, 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.timeNow()
	r.removeExpiredCalls(now)

	callsInWindow = len(r.callTimes)
	remaining = r.maxPerHour - callsInWindow
	if remaining < 0 {
		remaining = 0
	}

	return callsInWindow, remaining
}
