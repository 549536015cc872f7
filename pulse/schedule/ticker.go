package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veritas-nexus/veritas/errors"
	"github.com/veritas-nexus/veritas/pulse/async"
)

// Ticker fires due watches. Each tick it checks for watches whose
// next_run_at has passed, enqueues one ingest job per due watch, and records
// the fire in watch_executions. A watch whose source already has an active
// job is advanced without enqueueing a duplicate.
type Ticker struct {
	store      *Store
	execs      *ExecutionStore
	queue      *async.Queue
	workerPool *async.WorkerPool // Optional; feeds system metrics into the countdown line
	interval   time.Duration
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	logger     *zap.SugaredLogger

	mu              sync.Mutex
	lastTickAt      time.Time
	ticksSinceStart int64
	lastActiveWork  int // Last queued+running count, to log only on change
}

// TickerConfig contains configuration for the watch ticker
type TickerConfig struct {
	Interval time.Duration // How often to check for due watches (default: 1 second)
}

// DefaultTickerConfig returns sensible defaults
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{
		Interval: 1 * time.Second,
	}
}

// NewTicker creates a watch ticker. workerPool may be nil; it only enriches
// the periodic log line with worker and memory figures.
func NewTicker(store *Store, execs *ExecutionStore, queue *async.Queue, workerPool *async.WorkerPool, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	return NewTickerWithContext(context.Background(), store, execs, queue, workerPool, cfg, log)
}

// NewTickerWithContext creates a ticker with a parent context
func NewTickerWithContext(ctx context.Context, store *Store, execs *ExecutionStore, queue *async.Queue, workerPool *async.WorkerPool, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	tickerCtx, cancel := context.WithCancel(ctx)

	return &Ticker{
		store:      store,
		execs:      execs,
		queue:      queue,
		workerPool: workerPool,
		interval:   cfg.Interval,
		ctx:        tickerCtx,
		cancel:     cancel,
		logger:     log.Named("schedule"),
	}
}

// Start begins the ticker loop
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.logger.Infow("Watch ticker started", "interval", t.interval)
}

// Stop gracefully stops the ticker
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.logger.Infow("Watch ticker stopped")
}

// run is the main ticker loop
func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case tickTime := <-ticker.C:
			t.mu.Lock()
			t.lastTickAt = tickTime
			t.ticksSinceStart++
			t.mu.Unlock()

			t.logNextFireInfo(tickTime)

			if err := t.checkDueWatches(tickTime); err != nil {
				// Don't spam logs - tick errors stay at warn level
				t.logger.Warnw("Watch tick error", "error", err, "tick", t.ticksSinceStart)
			}
		}
	}
}

// logNextFireInfo logs a countdown to the next watch fire, but only when
// the queue's active-work count changed since the last line.
func (t *Ticker) logNextFireInfo(now time.Time) {
	next, err := t.store.NextDue()
	if err != nil {
		t.logger.Warnw("Failed to get next due watch", "error", err)
		return
	}

	stats, err := t.queue.GetStats()
	if err != nil {
		t.logger.Warnw("Failed to get queue stats", "error", err)
		stats = &async.QueueStats{}
	}

	activeWork := stats.Queued + stats.Running

	t.mu.Lock()
	hasChanged := activeWork != t.lastActiveWork
	t.lastActiveWork = activeWork
	t.mu.Unlock()

	if !hasChanged {
		return
	}

	if next == nil {
		if activeWork > 0 {
			t.logger.Infow(fmt.Sprintf("No watches scheduled, %d jobs active", activeWork))
		} else {
			t.logger.Infow("No watches scheduled")
		}
		return
	}

	timeUntil := next.NextRunAt.Sub(now)
	if timeUntil < 0 {
		timeUntil = 0
	}

	msg := fmt.Sprintf("Next watch %q in %s", watchHandle(next), timeUntil.Round(time.Second))
	if activeWork > 0 {
		msg += fmt.Sprintf(", %d jobs active", activeWork)
	}

	if t.workerPool != nil {
		metrics := t.workerPool.GetSystemMetrics()
		msg += fmt.Sprintf(" │ Workers: %d/%d active │ Mem: %.1f/%.1fGB (%.0f%%)",
			metrics.WorkersActive, metrics.WorkersTotal,
			metrics.MemoryUsedGB, metrics.MemoryTotalGB, metrics.MemoryPercent)
	}

	t.logger.Infow(msg)
}

// watchHandle is the display name for a watch in log lines.
func watchHandle(w *Watch) string {
	if w.Label != "" {
		return w.Label
	}
	return w.Source
}

// checkDueWatches finds watches ready to fire and fires them
func (t *Ticker) checkDueWatches(now time.Time) error {
	watches, err := t.store.ListDue(t.ctx, now)
	if err != nil {
		return errors.Wrap(err, "failed to list due watches")
	}

	if len(watches) == 0 {
		return nil
	}

	for _, w := range watches {
		// Check for shutdown between fires
		select {
		case <-t.ctx.Done():
			return t.ctx.Err()
		default:
		}

		if err := t.fireWatch(w, now); err != nil {
			t.logger.Errorw("Failed to fire watch",
				"watch_id", w.ID,
				"source", w.Source,
				"error", err)
			// Continue with other watches even if one fails
			continue
		}
	}

	return nil
}

// fireWatch enqueues an ingest job for one due watch and records the fire.
func (t *Ticker) fireWatch(w *Watch, now time.Time) error {
	startTime := time.Now()

	t.logger.Infow("Watch firing",
		"watch_id", w.ID,
		"watch", watchHandle(w),
		"handler_name", w.HandlerName,
		"source", w.Source)

	execution := &Execution{
		ID:        uuid.NewString(),
		WatchID:   w.ID,
		Status:    ExecutionStatusRunning,
		StartedAt: startTime,
		CreatedAt: startTime,
		UpdatedAt: startTime,
	}
	if err := t.execs.CreateExecution(execution); err != nil {
		t.logger.Errorw("Failed to create execution record",
			"watch_id", w.ID,
			"error", err)
		// Fire anyway - the history row is not worth skipping the ingest for
	}

	jobID, err := t.enqueueJob(w)

	completedAt := time.Now()
	durationMs := int(completedAt.Sub(startTime).Milliseconds())
	execution.CompletedAt = &completedAt
	execution.DurationMs = &durationMs
	execution.UpdatedAt = completedAt

	if err != nil {
		execution.Status = ExecutionStatusFailed
		errorMsg := err.Error()
		execution.ErrorMessage = &errorMsg

		t.logger.Errorw("Watch fire FAILED",
			"watch_id", w.ID,
			"watch", watchHandle(w),
			"execution_id", execution.ID,
			"duration_ms", durationMs,
			"error", err)
	} else {
		execution.Status = ExecutionStatusCompleted
		execution.JobID = &jobID
		summary := fmt.Sprintf("Enqueued ingest job %s", jobID)
		execution.ResultSummary = &summary

		nextRun := now.Add(w.Interval())

		t.logger.Infow("Watch fired OK",
			"watch_id", w.ID,
			"watch", watchHandle(w),
			"job_id", jobID,
			"execution_id", execution.ID,
			"next_in", time.Until(nextRun).Round(time.Second),
			"duration_ms", durationMs)

		if err := t.store.UpdateAfterFire(w.ID, now, jobID, nextRun); err != nil {
			return errors.Wrap(err, "failed to update watch after fire")
		}
	}

	if err := t.execs.UpdateExecution(execution); err != nil {
		t.logger.Errorw("Failed to update execution record",
			"execution_id", execution.ID,
			"error", err)
		// Not critical - the watch itself advanced
	}

	return nil
}

// resolvePayloadSince rewrites a "since":"last_run" payload marker into the
// watch's actual last fire date (YYYYMMDD, the shape connectors date items
// with). A watch that has never fired drops the filter and ingests
// everything on its first run.
func (t *Ticker) resolvePayloadSince(w *Watch) json.RawMessage {
	if len(w.Payload) == 0 {
		return w.Payload
	}

	// Cheap check before parsing
	if !strings.Contains(string(w.Payload), `"last_run"`) {
		return w.Payload
	}

	var payloadMap map[string]interface{}
	if err := json.Unmarshal(w.Payload, &payloadMap); err != nil {
		return w.Payload
	}

	since, ok := payloadMap["since"].(string)
	if !ok || since != "last_run" {
		return w.Payload
	}

	if w.LastRunAt != nil {
		payloadMap["since"] = w.LastRunAt.Format("20060102")
		t.logger.Debugw("Resolved since=last_run",
			"watch_id", w.ID,
			"since", payloadMap["since"])
	} else {
		delete(payloadMap, "since")
		t.logger.Debugw("First fire, dropping since filter",
			"watch_id", w.ID)
	}

	resolved, err := json.Marshal(payloadMap)
	if err != nil {
		return w.Payload
	}
	return resolved
}

// enqueueJob creates and enqueues the ingest job for a watch. When an
// earlier job for the same source and handler is still queued, running, or
// paused, the existing job's id is returned instead of stacking another.
func (t *Ticker) enqueueJob(w *Watch) (string, error) {
	existing, err := t.queue.FindActiveJobBySource(w.Source, w.HandlerName)
	if err != nil {
		return "", errors.Wrap(err, "failed to check for duplicate job")
	}

	if existing != nil {
		t.logger.Debugw("Skipping duplicate job",
			"source", w.Source,
			"handler", w.HandlerName,
			"existing_job_id", existing.ID,
			"existing_status", existing.Status)
		return existing.ID, nil
	}

	payload := t.resolvePayloadSince(w)

	job, err := async.NewJob(w.HandlerName, w.Source, payload, 0.0)
	if err != nil {
		return "", errors.Wrap(err, "failed to create ingest job")
	}

	if err := t.queue.Enqueue(job); err != nil {
		return "", errors.Wrap(err, "failed to enqueue job")
	}

	t.logger.Debugw("Enqueued ingest job",
		"source", w.Source,
		"job_id", job.ID,
		"handler", w.HandlerName,
		"watch_id", w.ID)

	return job.ID, nil
}

// GetStats returns ticker statistics
func (t *Ticker) GetStats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	return map[string]interface{}{
		"last_tick_at":      t.lastTickAt,
		"ticks_since_start": t.ticksSinceStart,
		"interval":          t.interval,
	}
}
