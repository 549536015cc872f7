// Package pipeline executes one ingest run end to end: discover items for a
// target, fetch and canonicalize their content, commit provenance digests,
// and hand the corpus to the analysis collaborator. The runner is the single
// status writer for the job it executes; stages are strictly sequential.
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/veritas-nexus/veritas/analysis"
	"github.com/veritas-nexus/veritas/connector"
	"github.com/veritas-nexus/veritas/corpus"
	"github.com/veritas-nexus/veritas/errors"
	"github.com/veritas-nexus/veritas/provenance"
	"github.com/veritas-nexus/veritas/pulse"
	"github.com/veritas-nexus/veritas/runstore"
)

// Stage labels in execution order. The status snapshot and the event log
// both carry them.
const (
	StageQueued       = "queued"
	StageDiscover     = "discover"
	StageCanonicalize = "canonicalize"
	StageProvenance   = "provenance"
	StageAnalyze      = "analyze"
	StageDone         = "done"
)

// Progress marks at each stage transition. Monotone by construction; a
// failed stage leaves progress at its own mark.
const (
	progressDiscover     = 0.05
	progressCanonicalize = 0.35
	progressProvenance   = 0.55
	progressAnalyze      = 0.80
	progressDone         = 1.0
)

// State labels mirrored into the status snapshot.
const (
	stateQueued  = "queued"
	stateRunning = "running"
	stateDone    = "done"
	stateError   = "error"
)

// Options tunes the runner's external calls.
type Options struct {
	// FetchTimeout bounds each connector Fetch call. Zero means unbounded.
	FetchTimeout time.Duration

	// AnalysisTimeout bounds the Analyze call. Zero means unbounded.
	AnalysisTimeout time.Duration

	// MaxClaims passes through to the analyzer. Zero keeps its default.
	MaxClaims int
}

// Runner drives the stage machine for ingest runs. One Runner serves many
// jobs; per-run state lives on the stack of each Run call, so concurrent
// runs for distinct jobs are safe.
type Runner struct {
	store      *runstore.Store
	connectors *connector.Registry
	analyzer   analysis.Analyzer
	opts       Options
	logger     *zap.SugaredLogger
}

// NewRunner wires a runner against its collaborators.
func NewRunner(store *runstore.Store, connectors *connector.Registry, analyzer analysis.Analyzer, opts Options, logger *zap.SugaredLogger) *Runner {
	return &Runner{
		store:      store,
		connectors: connectors,
		analyzer:   analyzer,
		opts:       opts,
		logger:     logger.Named("pipeline"),
	}
}

// Run executes the full stage machine for one job. The run directory must
// already exist; Run assumes it is the job's single writer. A nil emitter
// disables job-row mirroring.
func (r *Runner) Run(ctx context.Context, jobID string, req *RunRequest, emitter pulse.ProgressEmitter) error {
	if emitter == nil {
		emitter = pulse.NopEmitter{}
	}

	run := &runState{
		runner:  r,
		jobID:   jobID,
		req:     req,
		emitter: emitter,
		metrics: map[string]float64{},
		log:     r.logger.With("job_id", jobID, "target", req.Target),
	}
	return run.execute(ctx)
}

// discoveredItem ties an item to the connector that can fetch it.
type discoveredItem struct {
	item connector.Item
	conn connector.Connector
}

// runState carries one run's mutable bookkeeping between stages.
type runState struct {
	runner  *Runner
	jobID   string
	req     *RunRequest
	emitter pulse.ProgressEmitter
	metrics map[string]float64
	missing []analysis.MissingItem
	log     *zap.SugaredLogger
}

func (rs *runState) execute(ctx context.Context) error {
	if err := rs.transition(StageDiscover, progressDiscover, "Discovering items for "+rs.req.Target); err != nil {
		return err
	}
	discovered, err := rs.discover(ctx)
	if err != nil {
		return rs.fail(ctx, StageDiscover, progressDiscover, err)
	}
	if len(discovered) == 0 {
		err := errors.Mark(errors.New("No videos found"), errors.ErrDiscoveryEmpty)
		return rs.fail(ctx, StageDiscover, progressDiscover, err)
	}

	// The fetch loop runs under the discover mark; canonicalize is entered
	// once the counts are known so its snapshot carries the run metrics.
	items := rs.fetch(ctx, discovered)
	if err := ctx.Err(); err != nil {
		return err
	}

	rs.metrics["videos"] = float64(len(discovered))
	rs.metrics["segments"] = float64(len(items))
	rs.metrics["missing"] = float64(len(rs.missing))
	rs.emitter.EmitMetrics(rs.metrics)

	note := fmt.Sprintf("Canonicalizing %d segments from %d items", len(items), len(discovered))
	if err := rs.transition(StageCanonicalize, progressCanonicalize, note); err != nil {
		return err
	}
	if err := rs.writeCorpus(corpus.Canonicalize(items)); err != nil {
		return rs.fail(ctx, StageCanonicalize, progressCanonicalize, err)
	}

	if err := rs.transition(StageProvenance, progressProvenance, "Committing provenance digests"); err != nil {
		return err
	}
	provRecords, err := rs.buildProvenance()
	if err != nil {
		return rs.fail(ctx, StageProvenance, progressProvenance, err)
	}

	if err := rs.transition(StageAnalyze, progressAnalyze, "Analyzing corpus"); err != nil {
		return err
	}
	results, err := rs.analyze(ctx, provRecords)
	if err != nil {
		return rs.fail(ctx, StageAnalyze, progressAnalyze, err)
	}
	if err := rs.writeResults(results); err != nil {
		return rs.fail(ctx, StageAnalyze, progressAnalyze, err)
	}

	return rs.complete()
}

// transition overwrites the status snapshot, appends the telemetry event,
// and mirrors the stage onto the job row. The single-writer invariant makes
// the three writes one logical step.
func (rs *runState) transition(stage string, progress float64, note string) error {
	status := runstore.Status{
		State:    stateRunning,
		Stage:    stage,
		Progress: progress,
		Metrics:  rs.metrics,
	}
	if err := rs.runner.store.WriteStatus(rs.jobID, status); err != nil {
		return errors.Mark(err, errors.ErrPersistence)
	}

	rs.appendEvent(stage, stateRunning, progress, note)
	rs.emitter.EmitStage(stage, progress)
	rs.log.Debugw("Stage transition", "stage", stage, "progress", progress)
	return nil
}

// fail records a terminal stage failure: error snapshot, event, emitter
// mirror. Cancellation is not a run failure; the worker requeues the job,
// so the snapshot is left at its last good state.
func (rs *runState) fail(ctx context.Context, stage string, progress float64, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return err
	}

	rs.emitter.EmitError(stage, err)

	status := runstore.Status{
		State:    stateError,
		Stage:    stage,
		Progress: progress,
		Metrics:  rs.metrics,
		Message:  err.Error(),
	}
	if werr := rs.runner.store.WriteStatus(rs.jobID, status); werr != nil {
		rs.log.Errorw("Failed to write error status", "stage", stage, "error", werr)
	}
	rs.appendEvent(stage, stateError, progress, err.Error())
	return err
}

func (rs *runState) complete() error {
	status := runstore.Status{
		State:    stateDone,
		Stage:    StageDone,
		Progress: progressDone,
		Metrics:  rs.metrics,
	}
	if err := rs.runner.store.WriteStatus(rs.jobID, status); err != nil {
		return errors.Mark(err, errors.ErrPersistence)
	}

	rs.appendEvent(StageDone, stateDone, progressDone, "Run complete")
	rs.emitter.EmitStage(StageDone, progressDone)
	rs.log.Infow("Run complete",
		"videos", rs.metrics["videos"],
		"segments", rs.metrics["segments"],
		"missing", rs.metrics["missing"],
	)
	return nil
}

// appendEvent best-effort appends to the telemetry log. The snapshot rules
// the run; a failed event append is logged and the run continues.
func (rs *runState) appendEvent(stage, state string, progress float64, note string) {
	ev, err := runstore.NewEvent(stage, state, progress, note)
	if err != nil {
		rs.log.Warnw("Failed to build event", "stage", stage, "error", err)
		return
	}
	if err := rs.runner.store.AppendEvent(rs.jobID, ev); err != nil {
		rs.log.Warnw("Failed to append event", "stage", stage, "error", err)
	}
}

// discover resolves the request into an ordered, capped item list, each item
// bound to the connector that will fetch it.
func (rs *runState) discover(ctx context.Context) ([]discoveredItem, error) {
	conns, err := rs.resolveConnectors()
	if err != nil {
		return nil, err
	}

	// Explicit override: the caller's order is the order, the first
	// enabled connector fetches.
	if len(rs.req.VideoIDs) > 0 {
		ids := rs.req.VideoIDs
		if rs.req.MaxItems > 0 && len(ids) > rs.req.MaxItems {
			ids = ids[:rs.req.MaxItems]
		}
		items := make([]discoveredItem, 0, len(ids))
		for _, id := range ids {
			items = append(items, discoveredItem{item: connector.Item{ID: id}, conn: conns[0]})
		}
		return items, nil
	}

	// Merge discovery across connectors; the first connector to report an
	// id owns its fetch.
	owners := map[string]connector.Connector{}
	var merged []connector.Item
	for _, conn := range conns {
		found, err := conn.Discover(ctx, rs.req.Target, rs.req.MaxItems, rs.req.Order)
		if err != nil {
			return nil, errors.Wrapf(err, "discover via %s", conn.Name())
		}
		for _, it := range found {
			if _, taken := owners[it.ID]; taken {
				continue
			}
			owners[it.ID] = conn
			merged = append(merged, it)
		}
	}

	merged = rs.filterSince(merged)
	connector.SortItems(merged, rs.req.Order)
	merged = connector.CapItems(merged, rs.req.MaxItems)

	out := make([]discoveredItem, 0, len(merged))
	for _, it := range merged {
		out = append(out, discoveredItem{item: it, conn: owners[it.ID]})
	}
	return out, nil
}

func (rs *runState) resolveConnectors() ([]connector.Connector, error) {
	conns := make([]connector.Connector, 0, len(rs.req.Connectors))
	for _, name := range rs.req.Connectors {
		conn := rs.runner.connectors.Get(name)
		if conn == nil {
			return nil, errors.NewInvalidRequestError("unknown connector %q", name)
		}
		if dl, ok := conn.(connector.DepthLimited); ok {
			conn = dl.WithDepth(rs.req.CrawlDepth)
		}
		conns = append(conns, conn)
	}
	return conns, nil
}

// filterSince keeps items uploaded on or after the request's since date.
// Undated items pass: dropping them would silently lose sources that never
// report a date.
func (rs *runState) filterSince(items []connector.Item) []connector.Item {
	if rs.req.Since == "" {
		return items
	}
	kept := items[:0]
	for _, it := range items {
		if it.UploadDate == "" || it.UploadDate >= rs.req.Since {
			kept = append(kept, it)
		}
	}
	return kept
}

// fetch retrieves every discovered item, absorbing per-item failures into
// the missing list. Each fetched segment becomes one corpus item.
func (rs *runState) fetch(ctx context.Context, discovered []discoveredItem) []corpus.Item {
	items := make([]corpus.Item, 0, len(discovered))

	for _, d := range discovered {
		if ctx.Err() != nil {
			return items
		}

		content, err := rs.fetchOne(ctx, d)
		if err != nil {
			if ctx.Err() != nil {
				return items
			}
			rs.missing = append(rs.missing, analysis.MissingItem{
				VideoID: d.item.ID,
				Error:   err.Error(),
			})
			rs.log.Warnw("Item fetch failed",
				"item_id", d.item.ID,
				"connector", d.conn.Name(),
				"error", err,
			)
			continue
		}

		items = append(items, rs.segmentItems(d, content)...)
	}
	return items
}

func (rs *runState) fetchOne(ctx context.Context, d discoveredItem) (*connector.Content, error) {
	fetchCtx := ctx
	if rs.runner.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, rs.runner.opts.FetchTimeout)
		defer cancel()
	}

	content, err := d.conn.Fetch(fetchCtx, d.item.ID)
	if err != nil {
		return nil, errors.Mark(err, errors.ErrItemFetch)
	}
	return content, nil
}

// segmentItems maps fetched content onto corpus items, one per segment.
// The doc id anchors each segment within its source: <item>-<start>.
func (rs *runState) segmentItems(d discoveredItem, content *connector.Content) []corpus.Item {
	url := content.URL
	if url == "" {
		url = d.item.URL
	}

	out := make([]corpus.Item, 0, len(content.Segments))
	for _, seg := range content.Segments {
		meta := map[string]any{
			"item_id":      d.item.ID,
			"timestamp_ms": seg.StartMS,
			"connector":    d.conn.Name(),
		}
		if d.item.Title != "" {
			meta["title"] = d.item.Title
		}
		if d.item.UploadDate != "" {
			meta["upload_date"] = d.item.UploadDate
		}

		out = append(out, corpus.Item{
			ID:   d.item.ID + "-" + strconv.FormatInt(seg.StartMS, 10),
			URL:  url,
			Text: seg.Text,
			Meta: meta,
		})
	}
	return out
}

func (rs *runState) writeCorpus(records []corpus.Record) error {
	w, err := rs.runner.store.CreateCorpus(rs.jobID)
	if err != nil {
		return errors.Mark(err, errors.ErrPersistence)
	}

	if err := corpus.WriteRecords(w, records); err != nil {
		_ = w.Close()
		return errors.Mark(err, errors.ErrPersistence)
	}
	if err := w.Close(); err != nil {
		return errors.Mark(errors.Wrap(err, "close corpus stream"), errors.ErrPersistence)
	}
	return nil
}

// buildProvenance streams the canonical corpus and writes the sibling
// provenance stream. The built records are returned for the analyze stage,
// so the corpus analyzed is exactly the corpus committed.
func (rs *runState) buildProvenance() ([]provenance.Record, error) {
	in, err := rs.runner.store.OpenCorpus(rs.jobID)
	if err != nil {
		return nil, errors.Mark(err, errors.ErrPersistence)
	}
	defer in.Close()

	out, err := rs.runner.store.CreateProvCorpus(rs.jobID)
	if err != nil {
		return nil, errors.Mark(err, errors.ErrPersistence)
	}

	writer := corpus.NewWriter(out)
	var built []provenance.Record
	err = corpus.ScanRecords(in, func(rec corpus.Record) error {
		pr := provenance.BuildRecord(rec)
		if err := writer.Append(pr); err != nil {
			return err
		}
		built = append(built, pr)
		return nil
	})
	if err != nil {
		_ = out.Close()
		return nil, errors.Mark(err, errors.ErrPersistence)
	}
	if err := out.Close(); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "close provenance stream"), errors.ErrPersistence)
	}
	return built, nil
}

func (rs *runState) analyze(ctx context.Context, records []provenance.Record) (*analysis.Results, error) {
	actx := ctx
	if rs.runner.opts.AnalysisTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, rs.runner.opts.AnalysisTimeout)
		defer cancel()
	}

	results, err := rs.runner.analyzer.Analyze(actx, records, analysis.Options{
		Target:    rs.req.Target,
		BudgetUSD: rs.req.BudgetUSD(),
		MaxClaims: rs.runner.opts.MaxClaims,
	})
	if err != nil {
		return nil, errors.Mark(err, errors.ErrAnalysis)
	}
	return results, nil
}

// writeResults fills the pipeline-owned fields and persists the terminal
// document. Written exactly once per run.
func (rs *runState) writeResults(results *analysis.Results) error {
	results.RunFolder = rs.runner.store.RunDir(rs.jobID)
	if len(rs.missing) > 0 {
		results.Notes = &analysis.Notes{MissingTranscripts: rs.missing}
	}

	if err := rs.runner.store.WriteResults(rs.jobID, results); err != nil {
		return errors.Mark(err, errors.ErrPersistence)
	}
	return nil
}
