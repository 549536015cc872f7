package async

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veritas-nexus/veritas/errors"
	"github.com/veritas-nexus/veritas/pulse/budget"
)

const (
	// MaxOrphanedJobsToRecover limits how many orphaned jobs we'll attempt to recover
	// on startup to prevent overwhelming the system after a crash
	MaxOrphanedJobsToRecover = 1000
)

// BudgetTracker interface defines budget gate operations
type BudgetTracker interface {
	CheckBudget(estimatedCostUSD float64) error
	RecordSpend(jobID string, costUSD float64, success bool) error
	GetStatus() (*budget.Status, error)
}

// RateLimiter interface defines rate limiting operations
type RateLimiter interface {
	Allow() error
	Stats() (callsInWindow int, callsRemaining int)
}

// pulseLogger wraps zap.SugaredLogger with special methods for Pulse operations
// Uses different log levels to create visual distinction:
// - DEBUG level → STARTING (✿ Opening operations)
// - WARN level → CLOSING (❀ Closing operations)
// - INFO level → PULSE (general worker/daemon operations)
type pulseLogger struct {
	*zap.SugaredLogger
}

// Starting logs an Opening (✿) event - uses DEBUG level for "STARTING" appearance
func (l pulseLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw("✿ "+msg, keysAndValues...)
}

// Closing logs a Closing (❀) event - uses WARN level for "CLOSING" appearance
func (l pulseLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Warnw("❀ "+msg, keysAndValues...)
}

// Pulse logs general Pulse/worker operations - uses INFO level
func (l pulseLogger) Pulse(msg string, keysAndValues ...interface{}) {
	l.Infow(msg, keysAndValues...)
}

type JobExecutor interface {
	Execute(ctx context.Context, job *Job) error
}

// WorkerPool manages a pool of workers that process async ingest jobs
type WorkerPool struct {
	queue         *Queue
	budgetTracker BudgetTracker // Budget gate (optional - can be nil for tests)
	rateLimiter   RateLimiter   // Rate limiting (optional - can be nil for tests)
	db            *sql.DB
	poolConfig    WorkerPoolConfig // Store pool configuration for graceful start timing
	workers       int
	parentCtx     context.Context // Parent context from which worker context is derived
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	executor      JobExecutor
	jobsProcessed int         // Track jobs processed for gradual startup
	activeWorkers int         // Track currently active workers (executing jobs)
	startTime     time.Time   // Track when daemon started
	logger        pulseLogger // Structured logger for Pulse operations (shows STARTING/CLOSING levels)
	mu            sync.Mutex
}

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	Workers            int           `json:"workers"`              // Number of concurrent workers
	PollInterval       time.Duration `json:"poll_interval"`        // How often to check for new jobs
	PauseOnBudget      bool          `json:"pause_on_budget"`      // Pause jobs when budget exceeded
	GracefulStartPhase time.Duration `json:"graceful_start_phase"` // Duration of each graceful start phase (default: 5min, test: 10s)
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:            1,               // Single worker to avoid race conditions initially
		PollInterval:       5 * time.Second, // Check for jobs every 5 seconds
		PauseOnBudget:      true,            // Pause when budget exceeded
		GracefulStartPhase: 5 * time.Minute, // 5min per phase = 15min total graceful start
	}
}

// NewWorkerPool creates a new worker pool with an empty handler registry.
// IMPORTANT: Callers must register handlers before calling Start().
func NewWorkerPool(db *sql.DB, poolCfg WorkerPoolConfig, logger *zap.SugaredLogger) *WorkerPool {
	return NewWorkerPoolWithContext(context.Background(), db, poolCfg, logger)
}

// NewWorkerPoolWithContext creates a worker pool with a custom context.
// The pool derives its worker context from the given parent, so cancelling
// the parent (server shutdown) stops the workers too.
// Uses nil budget/rate limiters - callers can use NewWorkerPoolWithRegistry for full control.
func NewWorkerPoolWithContext(ctx context.Context, db *sql.DB, poolCfg WorkerPoolConfig, logger *zap.SugaredLogger) *WorkerPool {
	registry := NewHandlerRegistry()
	return NewWorkerPoolWithRegistry(ctx, db, poolCfg, logger, registry, nil, nil)
}

// NewWorkerPoolWithRegistry creates a worker pool with a custom handler registry.
// Use this when you need to:
// - Register custom job handlers
// - Gate execution on a budget tracker or rate limiter
//
// Note: budgetTracker and rateLimiter can be nil for simple setups or tests.
func NewWorkerPoolWithRegistry(ctx context.Context, db *sql.DB, poolCfg WorkerPoolConfig, logger *zap.SugaredLogger, registry *HandlerRegistry, budgetTracker BudgetTracker, rateLimiter RateLimiter) *WorkerPool {
	// Create child context so we can cancel workers independently if needed
	// But cancellation of parent context will also cancel child
	workerCtx, cancel := context.WithCancel(ctx)

	// Wrap logger with pulse-specific methods
	pLogger := pulseLogger{logger.Named("pulse")}

	// Create executor backed by handler registry
	executor := NewRegistryExecutor(registry, nil) // No fallback - all job types should be registered

	return &WorkerPool{
		queue:         NewQueue(db),
		budgetTracker: budgetTracker,
		rateLimiter:   rateLimiter,
		db:            db,
		poolConfig:    poolCfg, // Store for graceful start timing
		workers:       poolCfg.Workers,
		parentCtx:     ctx, // Store parent context for context recreation
		ctx:           workerCtx,
		cancel:        cancel,
		executor:      executor,
		logger:        pLogger,
	}
}

// Start begins processing jobs with the worker pool
// ✿ Opening: Recover orphaned jobs before starting workers
func (wp *WorkerPool) Start() {
	wp.mu.Lock()

	// Check if context was cancelled (after Stop()) - if so, create new one
	// This must happen BEFORE spawning workers to avoid races
	select {
	case <-wp.ctx.Done():
		// Context cancelled - create new child context from parent
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
		wp.logger.Starting("Recreated worker context after previous shutdown")
	default:
		// Context still active
	}

	wp.startTime = time.Now()
	wp.jobsProcessed = 0

	// Clamp the worker count to what this host's memory can carry
	if safe := wp.safeWorkerCount(); wp.workers > safe {
		wp.logger.Closing("Clamping worker count to available memory",
			"configured", wp.workers, "clamped", safe)
		wp.workers = safe
	}
	workers := wp.workers
	wp.mu.Unlock()

	// ✿ Opening: Graceful start - recover jobs orphaned by server crash
	if err := wp.recoverOrphanedJobs(); err != nil {
		wp.logger.SugaredLogger.Warnw("Failed to recover orphaned jobs", "error", err)
		// Continue starting workers even if recovery fails
	}

	for i := 0; i < workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// recoverOrphanedJobs finds jobs stuck in "running" state and re-queues them gradually
// This handles ungraceful shutdowns (crash, kill -9, power loss)
//
// ✿ Opening Strategy:
// - Re-queue orphaned jobs gradually (not all at once)
// - Respects pulse budgets and rate limits during recovery
// - Prevents system overload after crash
//
// A re-run starts from the first stage again; the job keeps its progress
// high-water mark, since progress never decreases for a given job.
func (wp *WorkerPool) recoverOrphanedJobs() error {
	// Find all jobs that are still marked as "running"
	runningStatus := JobStatusRunning
	orphanedJobs, err := wp.queue.store.ListJobs(&runningStatus, MaxOrphanedJobsToRecover)
	if err != nil {
		return errors.Wrap(err, "failed to list running jobs")
	}

	if len(orphanedJobs) == 0 {
		return nil // No orphaned jobs
	}

	wp.logger.Starting("Opening - found orphaned jobs from previous crash", "count", len(orphanedJobs))

	// Strategy: Super gradual warm start to avoid overwhelming the system
	// Phase 0 (Immediate): First job only
	// Phase 1 (warm): 1 job per second for the next 9 jobs
	// Phase 2 (slow): Remaining jobs spread over the slow-start window

	// Recover first job immediately
	if err := wp.requeueOrphanedJob(orphanedJobs[0]); err != nil {
		wp.logger.SugaredLogger.Warnw("Failed to recover orphaned job", "job_id", orphanedJobs[0].ID, "error", err)
	} else {
		wp.logger.Starting("Immediately recovered first job", "current", 1, "total", len(orphanedJobs))
	}

	// Gradual recovery for remaining jobs in background
	if len(orphanedJobs) > 1 {
		wp.logger.Starting("Will gradually recover remaining jobs (warm start)", "count", len(orphanedJobs)-1)
		go wp.gradualRecovery(orphanedJobs[1:])
	}

	return nil
}

// requeueOrphanedJob re-queues a single orphaned job
func (wp *WorkerPool) requeueOrphanedJob(job *Job) error {
	job.Status = JobStatusQueued
	job.Error = "" // Clear any stale error message

	if err := wp.queue.UpdateJob(job); err != nil {
		return errors.Wrapf(err, "failed to update recovered job %s", job.ID)
	}

	wp.logger.Starting("Recovered orphaned job", "job_id", job.ID, "handler", job.HandlerName)
	return nil
}

// gradualRecovery re-queues orphaned jobs gradually
// This prevents overwhelming the system after a crash
//
// Warm Start Strategy:
// - Phase 1: Jobs 2-10 at 1 job per second (9 jobs total)
// - Phase 2: Remaining jobs spread over the slow-start window
func (wp *WorkerPool) gradualRecovery(jobs []*Job) {
	if len(jobs) == 0 {
		return
	}

	startTime := time.Now()

	// Calculate phase durations (configurable for testing)
	warmStartDuration := 10 * time.Second
	slowStartDuration := 15 * time.Minute
	if wp.poolConfig.GracefulStartPhase > 0 {
		warmStartDuration = wp.poolConfig.GracefulStartPhase / 5
		slowStartDuration = wp.poolConfig.GracefulStartPhase * 3
	}

	// Warm start: first 9 jobs (or fewer if less available)
	warmStartLimit := min(9, len(jobs))
	warmStartInterval := warmStartDuration / time.Duration(warmStartLimit)
	wp.logger.Starting("Warm start phase", "count", warmStartLimit, "interval", warmStartInterval)

	warmRecovered := wp.recoverJobsWithInterval(jobs[:warmStartLimit], warmStartInterval, "warm start")
	wp.logger.Starting("Warm start complete", "recovered", warmRecovered, "duration", time.Since(startTime))

	// Slow start: remaining jobs
	remainingJobs := jobs[warmStartLimit:]
	if len(remainingJobs) == 0 {
		wp.logger.Starting("All jobs recovered during warm start")
		return
	}

	slowStartInterval := slowStartDuration / time.Duration(len(remainingJobs))
	wp.logger.Starting("Slow start phase", "count", len(remainingJobs), "interval", slowStartInterval)

	slowRecovered := wp.recoverJobsWithInterval(remainingJobs, slowStartInterval, "slow start")
	wp.logger.Starting("Gradual recovery complete", "recovered", warmRecovered+slowRecovered, "total", len(jobs), "duration", time.Since(startTime))
}

// Stop gracefully stops the worker pool
// ❀ Closing: Workers exit cleanly on context cancellation
// Uses a 30-second timeout so an in-flight job cannot block shutdown indefinitely
func (wp *WorkerPool) Stop() {
	wp.cancel()

	// Wait for workers to exit (with generous timeout)
	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	timeout := 30 * time.Second
	select {
	case <-done:
		wp.logger.Pulse("❀ WorkerPool.Stop() complete - all workers exited cleanly")
	case <-time.After(timeout):
		wp.logger.Closing("WorkerPool.Stop() timeout - workers may still be finishing", "timeout", timeout)
		// Workers will continue in background, but we return to avoid blocking shutdown
	}
}

// worker processes jobs from the queue
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	// Start with slow ramp-up: 1 second between jobs (or PollInterval if configured)
	interval := wp.getWorkerInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Error backoff state
	errorCount := 0
	const maxConsecutiveErrors = 5
	backoffDuration := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-wp.ctx.Done():
			return
		case <-ticker.C:
			// Try to dequeue and process a job
			if err := wp.processNextJob(); err != nil {
				// Check if error is due to shutdown (context cancelled or database closed)
				select {
				case <-wp.ctx.Done():
					// Context cancelled - exit silently without logging
					return
				default:
					// Check if error is due to database being closed during shutdown
					if errors.Is(err, sql.ErrConnDone) {
						// Database closed during shutdown - exit silently
						return
					}
					// Real error - log it and apply backoff
					errorCount++
					wp.logger.SugaredLogger.Errorw("Worker error processing job",
						"worker_id", id,
						"error", err,
						"consecutive_errors", errorCount)

					// Apply exponential backoff after multiple consecutive errors
					if errorCount >= maxConsecutiveErrors {
						wp.logger.SugaredLogger.Warnw("Worker backing off due to consecutive errors",
							"worker_id", id,
							"backoff", backoffDuration,
							"consecutive_errors", errorCount)
						time.Sleep(backoffDuration)
						// Exponential backoff: double each time, cap at maxBackoff
						backoffDuration = min(backoffDuration*2, maxBackoff)
					}
				}
			} else {
				// Success - reset error backoff
				if errorCount > 0 {
					wp.logger.SugaredLogger.Infow("Worker recovered from errors",
						"worker_id", id,
						"previous_error_count", errorCount)
				}
				errorCount = 0
				backoffDuration = time.Second
			}

			// Update ticker interval based on startup phase
			newInterval := wp.getWorkerInterval()
			if newInterval != interval {
				ticker.Reset(newInterval)
				interval = newInterval
			}
		}
	}
}

// getWorkerInterval returns the current worker polling interval
// Starts at 1 second for gradual ramp-up, increases to 5 seconds after warmup
// If PollInterval is explicitly configured, use that instead of gradual ramp-up
func (wp *WorkerPool) getWorkerInterval() time.Duration {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	// If PollInterval is explicitly configured (non-zero), use that for all phases
	if wp.poolConfig.PollInterval > 0 {
		return wp.poolConfig.PollInterval
	}

	// Otherwise, use gradual ramp-up logic for production
	// Warmup period: first 20 jobs OR first 2 minutes, use 1-second intervals
	elapsed := time.Since(wp.startTime)
	if wp.jobsProcessed < 20 || elapsed < 2*time.Minute {
		return 1 * time.Second // Slow startup
	}

	// After warmup, use normal 5-second interval
	return 5 * time.Second
}

// processNextJob gets the next job from the queue and processes it
func (wp *WorkerPool) processNextJob() error {
	// Check if worker pool is shutting down
	select {
	case <-wp.ctx.Done():
		return nil // Graceful shutdown - don't process new jobs
	default:
		// Continue processing
	}

	// Dequeue next job
	job, err := wp.queue.Dequeue()
	if err != nil {
		return errors.Wrap(err, "failed to dequeue job")
	}

	if job == nil {
		// No jobs available
		return nil
	}

	// Check rate limit BEFORE budget check
	// Rate limiting prevents API violations, budget prevents cost overruns
	if paused, err := wp.checkRateLimit(job); paused || err != nil {
		if err != nil {
			return errors.Wrapf(err, "rate limit check failed for job %s", job.ID)
		}
		return nil // Job paused, no error
	}

	// Check budget before processing
	if paused, err := wp.checkBudget(job); paused || err != nil {
		if err != nil {
			return errors.Wrapf(err, "budget check failed for job %s", job.ID)
		}
		return nil // Job paused, no error
	}

	// Update pulse state with current rate/budget stats
	wp.updateJobPulseState(job)

	// Track job for gradual startup
	wp.mu.Lock()
	wp.jobsProcessed++
	wp.mu.Unlock()

	// Track active worker count (increment before execution, decrement after)
	wp.mu.Lock()
	wp.activeWorkers++
	wp.mu.Unlock()
	defer func() {
		wp.mu.Lock()
		wp.activeWorkers--
		wp.mu.Unlock()
	}()

	// Execute the job
	if err := wp.executor.Execute(wp.ctx, job); err != nil {
		// ❀ Closing: Check if error is due to context cancellation
		select {
		case <-wp.ctx.Done():
			// Shutdown mid-job - put the job back on the queue instead of failing it
			wp.logger.Closing("Job interrupted by shutdown, re-queuing", "job_id", job.ID)
			job.Status = JobStatusQueued
			if updateErr := wp.queue.UpdateJob(job); updateErr != nil {
				wp.logger.SugaredLogger.Errorw("Failed to re-queue interrupted job", "job_id", job.ID, "error", updateErr)
			}
			return nil // Return nil to avoid logging as error
		default:
			// Real error - fail the job with the handler's message
			wp.recordSpend(job, false)
			return wp.queue.FailJob(job.ID, err)
		}
	}

	wp.recordSpend(job, true)

	// Mark job as done
	return wp.queue.CompleteJob(job.ID)
}

// checkRateLimit verifies the rate limit and pauses the job if exceeded.
// Returns true if job was paused (caller should return), false to continue.
func (wp *WorkerPool) checkRateLimit(job *Job) (paused bool, err error) {
	// If no rate limiter configured, skip rate limiting (tests, simple setups)
	if wp.rateLimiter == nil {
		return false, nil
	}

	if err := wp.rateLimiter.Allow(); err != nil {
		if !errors.IsRateLimitedError(err) {
			// Limiter failure, not a closed gate
			return false, err
		}

		if pauseErr := wp.queue.PauseJob(job.ID, "rate_limited"); pauseErr != nil {
			return false, errors.Wrapf(pauseErr, "failed to pause job %s", job.ID)
		}
		// Log rate limit status for visibility
		callsInWindow, callsRemaining := wp.rateLimiter.Stats()
		wp.logger.Pulse(fmt.Sprintf("Rate limit reached - job paused | calls:%d/%d remaining:%d | job:%s",
			callsInWindow, callsInWindow+callsRemaining, callsRemaining, job.ID[:8]),
			"job_id", job.ID,
			"calls_in_window", callsInWindow,
			"calls_remaining", callsRemaining,
			"reason", "rate_limited")
		return true, nil
	}
	return false, nil
}

// checkBudget verifies budget availability and pauses/fails the job if exceeded.
// Returns true if job was paused/failed (caller should return), false to continue.
func (wp *WorkerPool) checkBudget(job *Job) (paused bool, err error) {
	// If no budget tracker configured, skip budget checks (tests, simple setups)
	if wp.budgetTracker == nil {
		return false, nil
	}

	estimatedCost := job.CostEstimate
	if err := wp.budgetTracker.CheckBudget(estimatedCost); err != nil {
		if !errors.IsBudgetExceededError(err) {
			// Ledger failure, not a closed gate
			return false, err
		}

		// Get budget status for detailed logging
		status, statusErr := wp.budgetTracker.GetStatus()
		if statusErr == nil {
			// Calculate total limits from spend + remaining
			dailyLimit := status.DailySpend + status.DailyRemaining
			monthlyLimit := status.MonthlySpend + status.MonthlyRemaining

			outcome := "failed"
			if wp.poolConfig.PauseOnBudget {
				outcome = "paused"
			}
			wp.logger.Pulse(fmt.Sprintf("Budget exceeded - job %s | daily:$%.2f/$%.2f monthly:$%.2f/$%.2f | job:%s",
				outcome,
				status.DailySpend, dailyLimit,
				status.MonthlySpend, monthlyLimit,
				job.ID[:8]),
				"job_id", job.ID,
				"estimated_cost", estimatedCost,
				"daily_spend", status.DailySpend,
				"daily_remaining", status.DailyRemaining,
				"monthly_spend", status.MonthlySpend,
				"monthly_remaining", status.MonthlyRemaining,
				"reason", "budget_exceeded")
		}

		if wp.poolConfig.PauseOnBudget {
			if pauseErr := wp.queue.PauseJob(job.ID, "budget_exceeded"); pauseErr != nil {
				return false, errors.Wrapf(pauseErr, "failed to pause job %s", job.ID)
			}
			return true, nil
		}
		return true, wp.queue.FailJob(job.ID, err)
	}
	return false, nil
}

// updateJobPulseState updates the job with current rate limiter and budget stats.
func (wp *WorkerPool) updateJobPulseState(job *Job) {
	// If no budget/rate tracking configured, skip pulse state updates (tests, simple setups)
	if wp.budgetTracker == nil || wp.rateLimiter == nil {
		return
	}

	status, err := wp.budgetTracker.GetStatus()
	if err != nil {
		wp.logger.SugaredLogger.Warnw("Failed to get budget status", "error", err)
		return
	}

	callsInWindow, callsRemaining := wp.rateLimiter.Stats()
	job.UpdatePulseState(&PulseState{
		CallsThisHour:   callsInWindow,
		CallsRemaining:  callsRemaining,
		SpendToday:      status.DailySpend,
		SpendThisMonth:  status.MonthlySpend,
		BudgetRemaining: status.DailyRemaining,
		IsPaused:        false,
		PauseReason:     "",
	})
	if err := wp.queue.UpdateJob(job); err != nil {
		wp.logger.SugaredLogger.Warnw("Failed to update job pulse state", "error", err)
	}
}

// recordSpend writes the run's cost to the spend ledger. Handlers that do
// not meter their own cost fall back to the request's gate value.
func (wp *WorkerPool) recordSpend(job *Job, success bool) {
	if wp.budgetTracker == nil {
		return
	}

	cost := job.CostActual
	if cost == 0 {
		cost = job.CostEstimate
	}

	if err := wp.budgetTracker.RecordSpend(job.ID, cost, success); err != nil {
		wp.logger.SugaredLogger.Warnw("Failed to record spend", "job_id", job.ID, "cost", cost, "error", err)
	}
}

// recoverJobsWithInterval recovers a batch of jobs with a delay between each.
// Returns the number of jobs successfully recovered.
func (wp *WorkerPool) recoverJobsWithInterval(jobs []*Job, interval time.Duration, phase string) int {
	recovered := 0
	for i, job := range jobs {
		select {
		case <-wp.ctx.Done():
			wp.logger.Closing("Gradual recovery cancelled during "+phase, "recovered", recovered, "total", len(jobs))
			return recovered
		default:
		}

		if err := wp.requeueOrphanedJob(job); err != nil {
			wp.logger.SugaredLogger.Warnw("Failed to recover job during "+phase, "job_id", job.ID, "error", err)
			continue
		}
		recovered++

		// Progress logging every 10 jobs
		if recovered%10 == 0 {
			wp.logger.Starting("Gradual recovery progress", "current", recovered, "total", len(jobs), "phase", phase)
		}

		// Wait before next job (unless it's the last one)
		if i < len(jobs)-1 {
			time.Sleep(interval)
		}
	}
	return recovered
}

// GetQueue returns the job queue (useful for enqueuing jobs)
func (wp *WorkerPool) GetQueue() *Queue {
	return wp.queue
}

// Workers returns the number of concurrent workers configured for this pool
func (wp *WorkerPool) Workers() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.workers
}

// Registry returns the handler registry for registering custom job handlers.
// Use this to register handlers before calling Start():
//
//	pool := async.NewWorkerPool(db, poolCfg, logger)
//	pool.Registry().Register(runHandler)
//	pool.Start()
func (wp *WorkerPool) Registry() *HandlerRegistry {
	if registryExec, ok := wp.executor.(*RegistryExecutor); ok {
		return registryExec.registry
	}
	return nil
}
