package async

import (
	"go.uber.org/zap"
)

// JobProgressEmitter mirrors pipeline progress onto the job row so listings
// and WebSocket subscribers see stage transitions as they happen. Every
// update goes through the queue, which persists the row and notifies
// subscribers; there is no separate broadcast path.
type JobProgressEmitter struct {
	job   *Job
	queue *Queue
	log   *zap.SugaredLogger // Context-aware logger with job_id pre-configured
}

// NewJobProgressEmitter creates a new progress emitter for an async job.
// The provided logger should be the WorkerPool's logger.
func NewJobProgressEmitter(job *Job, queue *Queue, baseLogger *zap.SugaredLogger) *JobProgressEmitter {
	return &JobProgressEmitter{
		job:   job,
		queue: queue,
		log:   baseLogger.With("job_id", job.ID),
	}
}

// EmitStage records entry into a pipeline stage on the job row.
func (e *JobProgressEmitter) EmitStage(stage string, progress float64) {
	e.job.AdvanceStage(stage, progress)

	if err := e.queue.UpdateJob(e.job); err != nil {
		e.log.Warnw("Failed to update job for stage",
			"stage", stage,
			"error", err,
		)
	}
}

// EmitMetrics records run counters on the job row.
func (e *JobProgressEmitter) EmitMetrics(metrics map[string]float64) {
	for name, value := range metrics {
		e.job.SetMetric(name, value)
	}

	if err := e.queue.UpdateJob(e.job); err != nil {
		e.log.Warnw("Failed to update job metrics",
			"error", err,
		)
	}
}

// EmitError logs a stage failure with its classification. State transitions
// stay with the worker, which marks the job errored when the handler
// returns; emitting here twice would race that write.
func (e *JobProgressEmitter) EmitError(stage string, err error) {
	ctx := ClassifyError(stage, err)

	e.log.Errorw("Job error",
		"stage", stage,
		"error_code", ctx.Code,
		"error", err,
		"terminal", ctx.Terminal,
	)
}

// EmitInfo logs informational messages.
func (e *JobProgressEmitter) EmitInfo(message string) {
	e.log.Info(message)
}
