package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/veritas-nexus/veritas/errors"
	"github.com/veritas-nexus/veritas/pulse/async"
	"github.com/veritas-nexus/veritas/runstore"
)

// HandlerName routes queued ingest runs to this handler.
const HandlerName = "ingest.run"

// Handler adapts the runner to the job queue: it decodes the queued payload,
// guarantees the run directory exists, and mirrors progress onto the job row
// while the runner executes.
type Handler struct {
	runner *Runner
	store  *runstore.Store
	queue  *async.Queue
	logger *zap.SugaredLogger
}

// NewHandler wires the queue-facing side of the pipeline.
func NewHandler(runner *Runner, store *runstore.Store, queue *async.Queue, logger *zap.SugaredLogger) *Handler {
	return &Handler{
		runner: runner,
		store:  store,
		queue:  queue,
		logger: logger.Named("pipeline"),
	}
}

var _ async.JobHandler = (*Handler)(nil)

// Name implements async.JobHandler.
func (h *Handler) Name() string { return HandlerName }

// Execute implements async.JobHandler.
func (h *Handler) Execute(ctx context.Context, job *async.Job) error {
	req, err := DecodeRunRequest(job.Payload)
	if err != nil {
		return err
	}
	if req.Target == "" {
		// Watch-fired jobs carry the source on the row, not the payload.
		req.Target = job.Source
	}
	if err := req.Validate(); err != nil {
		return err
	}

	if err := h.ensureRun(job.ID, req); err != nil {
		return err
	}

	emitter := async.NewJobProgressEmitter(job, h.queue, h.logger)
	return h.runner.Run(ctx, job.ID, req, emitter)
}

// ensureRun creates the run directory for jobs that skipped the API
// boundary; watch-fired enqueues go straight to the queue.
func (h *Handler) ensureRun(jobID string, req *RunRequest) error {
	_, err := h.store.ReadStatus(jobID)
	if err == nil {
		return nil
	}
	if !errors.IsNotFoundError(err) {
		return errors.Mark(err, errors.ErrPersistence)
	}

	if err := h.store.CreateRun(jobID, req); err != nil {
		return errors.Mark(err, errors.ErrPersistence)
	}

	ev, err := runstore.NewEvent(StageQueued, stateQueued, 0.0, "Job accepted")
	if err != nil {
		h.logger.Warnw("Failed to build queued event", "job_id", jobID, "error", err)
		return nil
	}
	if err := h.store.AppendEvent(jobID, ev); err != nil {
		h.logger.Warnw("Failed to append queued event", "job_id", jobID, "error", err)
	}
	return nil
}
