package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/veritas-nexus/veritas/analysis"
	"github.com/veritas-nexus/veritas/connector"
	"github.com/veritas-nexus/veritas/corpus"
	"github.com/veritas-nexus/veritas/errors"
	"github.com/veritas-nexus/veritas/provenance"
	"github.com/veritas-nexus/veritas/runstore"
)

// fakeConnector serves canned discovery and content so runner behavior can
// be pinned without touching a real source.
type fakeConnector struct {
	name          string
	items         []connector.Item
	contents      map[string]*connector.Content
	fetchErrs     map[string]error
	discoverErr   error
	discoverCalls int
}

func (f *fakeConnector) Name() string { return f.name }

func (f *fakeConnector) Discover(ctx context.Context, target string, limit int, order connector.Order) ([]connector.Item, error) {
	f.discoverCalls++
	if f.discoverErr != nil {
		return nil, f.discoverErr
	}
	items := append([]connector.Item(nil), f.items...)
	connector.SortItems(items, order)
	return connector.CapItems(items, limit), nil
}

func (f *fakeConnector) Fetch(ctx context.Context, itemID string) (*connector.Content, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := f.fetchErrs[itemID]; ok {
		return nil, err
	}
	content, ok := f.contents[itemID]
	if !ok {
		return nil, errors.Newf("no content for %s", itemID)
	}
	return content, nil
}

// fakeAnalyzer records what it was handed and returns canned results.
type fakeAnalyzer struct {
	results    *analysis.Results
	err        error
	gotRecords []provenance.Record
	gotOpts    analysis.Options
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, records []provenance.Record, opts analysis.Options) (*analysis.Results, error) {
	f.gotRecords = records
	f.gotOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	if f.results != nil {
		return f.results, nil
	}
	return &analysis.Results{Claims: []analysis.Claim{}, UnityBridges: []analysis.Bridge{}}, nil
}

func channelFake() *fakeConnector {
	return &fakeConnector{
		name: "youtube",
		items: []connector.Item{
			{ID: "VID_B", Title: "Part two", URL: "https://youtube.com/watch?v=VID_B", UploadDate: "20240102"},
			{ID: "VID_A", Title: "Part one", URL: "https://youtube.com/watch?v=VID_A", UploadDate: "20240101"},
		},
		contents: map[string]*connector.Content{
			"VID_A": {
				ItemID: "VID_A",
				URL:    "https://youtube.com/watch?v=VID_A",
				Segments: []connector.Segment{
					{Text: "Everyone always doubts the record.", StartMS: 0},
					{Text: "The truth is in the archive.", StartMS: 2400},
				},
			},
			"VID_B": {
				ItemID: "VID_B",
				URL:    "https://youtube.com/watch?v=VID_B",
				Segments: []connector.Segment{
					{Text: "Nobody must forget this.", StartMS: 150},
				},
			},
		},
	}
}

func newTestRunner(t *testing.T, conn connector.Connector, analyzer analysis.Analyzer) (*Runner, *runstore.Store) {
	t.Helper()
	store := runstore.New(t.TempDir())
	registry := connector.NewRegistry()
	registry.Register(conn)
	return NewRunner(store, registry, analyzer, Options{}, zap.NewNop().Sugar()), store
}

func startRun(t *testing.T, store *runstore.Store, jobID string, req *RunRequest) {
	t.Helper()
	req.ApplyDefaults()
	require.NoError(t, req.Validate())
	require.NoError(t, store.CreateRun(jobID, req))
}

func readProvRecords(t *testing.T, store *runstore.Store, jobID string) []provenance.Record {
	t.Helper()
	data, err := os.ReadFile(store.ProvCorpusPath(jobID))
	require.NoError(t, err)

	var records []provenance.Record
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var rec provenance.Record
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		records = append(records, rec)
	}
	return records
}

func TestRunHappyPath(t *testing.T) {
	conn := channelFake()
	analyzer := &fakeAnalyzer{}
	runner, store := newTestRunner(t, conn, analyzer)

	req := &RunRequest{Target: "https://youtube.com/@history"}
	startRun(t, store, "job-1", req)

	err := runner.Run(context.Background(), "job-1", req, nil)
	require.NoError(t, err)

	status, err := store.ReadStatus("job-1")
	require.NoError(t, err)
	assert.Equal(t, "done", status.State)
	assert.Equal(t, "done", status.Stage)
	assert.Equal(t, 1.0, status.Progress)
	assert.Equal(t, 2.0, status.Metrics["videos"])
	assert.Equal(t, 3.0, status.Metrics["segments"])
	assert.Equal(t, 0.0, status.Metrics["missing"])

	// Oldest-first ordering puts VID_A's segments before VID_B's, and each
	// doc id anchors its segment.
	in, err := store.OpenCorpus("job-1")
	require.NoError(t, err)
	defer in.Close()
	records, err := corpus.ReadRecords(in)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "VID_A-0", records[0].DocID)
	assert.Equal(t, "VID_A-2400", records[1].DocID)
	assert.Equal(t, "VID_B-150", records[2].DocID)
	assert.Equal(t, "https://youtube.com/watch?v=VID_A", records[0].URL)
	assert.Equal(t, "VID_A", records[0].Meta["item_id"])
	assert.Equal(t, "youtube", records[0].Meta["connector"])
	assert.Equal(t, "20240101", records[0].Meta["upload_date"])
	assert.Equal(t, float64(2400), records[1].Meta["timestamp_ms"])

	provRecords := readProvRecords(t, store, "job-1")
	require.Len(t, provRecords, 3)
	for _, rec := range provRecords {
		assert.True(t, provenance.VerifyRecord(rec), "record %s fails verification", rec.DocID)
	}

	// The analyzer saw the committed corpus and the request's envelope.
	assert.Len(t, analyzer.gotRecords, 3)
	assert.Equal(t, "https://youtube.com/@history", analyzer.gotOpts.Target)

	raw, err := store.ReadResults("job-1")
	require.NoError(t, err)
	var results analysis.Results
	require.NoError(t, json.Unmarshal(raw, &results))
	assert.Equal(t, store.RunDir("job-1"), results.RunFolder)
	assert.Nil(t, results.Notes)
	assert.NotNil(t, results.Claims)

	events, err := store.ReadEvents("job-1")
	require.NoError(t, err)
	var stages []string
	lastProgress := -1.0
	for _, ev := range events {
		stages = append(stages, ev.Stage)
		assert.GreaterOrEqual(t, ev.Progress, lastProgress, "progress regressed at %s", ev.Stage)
		lastProgress = ev.Progress
	}
	assert.Equal(t, []string{"discover", "canonicalize", "provenance", "analyze", "done"}, stages)
	assert.Equal(t, "done", events[len(events)-1].State)
}

func TestRunEmptyDiscovery(t *testing.T) {
	conn := &fakeConnector{name: "youtube"}
	runner, store := newTestRunner(t, conn, &fakeAnalyzer{})

	req := &RunRequest{Target: "https://youtube.com/@silence"}
	startRun(t, store, "job-1", req)

	err := runner.Run(context.Background(), "job-1", req, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDiscoveryEmpty))
	assert.Equal(t, "No videos found", err.Error())

	status, serr := store.ReadStatus("job-1")
	require.NoError(t, serr)
	assert.Equal(t, "error", status.State)
	assert.Equal(t, "discover", status.Stage)
	assert.Equal(t, 0.05, status.Progress)
	assert.Equal(t, "No videos found", status.Message)

	_, rerr := store.ReadResults("job-1")
	assert.True(t, errors.IsNotFoundError(rerr))
}

func TestRunPartialFetchFailure(t *testing.T) {
	conn := channelFake()
	conn.fetchErrs = map[string]error{"VID_B": errors.New("transcript disabled")}
	analyzer := &fakeAnalyzer{}
	runner, store := newTestRunner(t, conn, analyzer)

	req := &RunRequest{Target: "https://youtube.com/@history"}
	startRun(t, store, "job-1", req)

	err := runner.Run(context.Background(), "job-1", req, nil)
	require.NoError(t, err, "per-item failures must not fail the run")

	status, serr := store.ReadStatus("job-1")
	require.NoError(t, serr)
	assert.Equal(t, "done", status.State)
	assert.Equal(t, 2.0, status.Metrics["videos"])
	assert.Equal(t, 2.0, status.Metrics["segments"])
	assert.Equal(t, 1.0, status.Metrics["missing"])

	raw, rerr := store.ReadResults("job-1")
	require.NoError(t, rerr)
	var results analysis.Results
	require.NoError(t, json.Unmarshal(raw, &results))
	require.NotNil(t, results.Notes)
	require.Len(t, results.Notes.MissingTranscripts, 1)
	assert.Equal(t, "VID_B", results.Notes.MissingTranscripts[0].VideoID)
	assert.Equal(t, "transcript disabled", results.Notes.MissingTranscripts[0].Error)

	in, err := store.OpenCorpus("job-1")
	require.NoError(t, err)
	defer in.Close()
	records, err := corpus.ReadRecords(in)
	require.NoError(t, err)
	for _, rec := range records {
		assert.NotContains(t, rec.DocID, "VID_B")
	}
}

func TestRunAnalyzerFailure(t *testing.T) {
	conn := channelFake()
	analyzer := &fakeAnalyzer{err: errors.New("model unavailable")}
	runner, store := newTestRunner(t, conn, analyzer)

	req := &RunRequest{Target: "https://youtube.com/@history"}
	startRun(t, store, "job-1", req)

	err := runner.Run(context.Background(), "job-1", req, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAnalysis))

	status, serr := store.ReadStatus("job-1")
	require.NoError(t, serr)
	assert.Equal(t, "error", status.State)
	assert.Equal(t, "analyze", status.Stage)
	assert.Equal(t, 0.8, status.Progress)
	assert.Contains(t, status.Message, "model unavailable")

	_, rerr := store.ReadResults("job-1")
	assert.True(t, errors.IsNotFoundError(rerr))
}

func TestRunVideoIDsOverride(t *testing.T) {
	conn := channelFake()
	conn.discoverErr = errors.New("discovery must not run")
	conn.contents["VID_X"] = &connector.Content{
		ItemID:   "VID_X",
		URL:      "https://youtube.com/watch?v=VID_X",
		Segments: []connector.Segment{{Text: "Handpicked first.", StartMS: 0}},
	}
	runner, store := newTestRunner(t, conn, &fakeAnalyzer{})

	// Explicit ids keep the caller's order, not timeline order.
	req := &RunRequest{
		Target:   "https://youtube.com/@history",
		VideoIDs: []string{"VID_X", "VID_A"},
	}
	startRun(t, store, "job-1", req)

	err := runner.Run(context.Background(), "job-1", req, nil)
	require.NoError(t, err)
	assert.Zero(t, conn.discoverCalls)

	in, err := store.OpenCorpus("job-1")
	require.NoError(t, err)
	defer in.Close()
	records, err := corpus.ReadRecords(in)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "VID_X-0", records[0].DocID)
	assert.Equal(t, "VID_A-0", records[1].DocID)
	assert.Equal(t, "VID_A-2400", records[2].DocID)
}

func TestRunSinceFilterKeepsUndated(t *testing.T) {
	conn := channelFake()
	conn.items = append(conn.items, connector.Item{ID: "PAGE_1", URL: "https://example.com/essay"})
	conn.contents["PAGE_1"] = &connector.Content{
		ItemID:   "PAGE_1",
		URL:      "https://example.com/essay",
		Segments: []connector.Segment{{Text: "Undated but kept.", StartMS: 0}},
	}
	runner, store := newTestRunner(t, conn, &fakeAnalyzer{})

	req := &RunRequest{Target: "https://youtube.com/@history", Since: "20240102"}
	startRun(t, store, "job-1", req)

	err := runner.Run(context.Background(), "job-1", req, nil)
	require.NoError(t, err)

	status, serr := store.ReadStatus("job-1")
	require.NoError(t, serr)
	assert.Equal(t, 2.0, status.Metrics["videos"], "VID_A (20240101) filtered, VID_B and undated PAGE_1 kept")

	in, err := store.OpenCorpus("job-1")
	require.NoError(t, err)
	defer in.Close()
	records, err := corpus.ReadRecords(in)
	require.NoError(t, err)
	var docIDs []string
	for _, rec := range records {
		docIDs = append(docIDs, rec.DocID)
	}
	assert.Equal(t, []string{"PAGE_1-0", "VID_B-150"}, docIDs, "undated sorts before dated, oldest order")
}

func TestRunNewestOrderWithCap(t *testing.T) {
	conn := channelFake()
	runner, store := newTestRunner(t, conn, &fakeAnalyzer{})

	req := &RunRequest{Target: "https://youtube.com/@history", MaxItems: 1, Order: connector.OrderNewest}
	startRun(t, store, "job-1", req)

	err := runner.Run(context.Background(), "job-1", req, nil)
	require.NoError(t, err)

	in, err := store.OpenCorpus("job-1")
	require.NoError(t, err)
	defer in.Close()
	records, err := corpus.ReadRecords(in)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "VID_B-150", records[0].DocID)
}

func TestRunEmptyContentIsNotMissing(t *testing.T) {
	// A reachable item with nothing behind it contributes zero segments but
	// is not a fetch failure.
	conn := &fakeConnector{
		name:  "youtube",
		items: []connector.Item{{ID: "VID_E", UploadDate: "20240101"}},
		contents: map[string]*connector.Content{
			"VID_E": {ItemID: "VID_E", URL: "https://youtube.com/watch?v=VID_E"},
		},
	}
	analyzer := &fakeAnalyzer{}
	runner, store := newTestRunner(t, conn, analyzer)

	req := &RunRequest{Target: "https://youtube.com/@history"}
	startRun(t, store, "job-1", req)

	err := runner.Run(context.Background(), "job-1", req, nil)
	require.NoError(t, err)

	status, serr := store.ReadStatus("job-1")
	require.NoError(t, serr)
	assert.Equal(t, "done", status.State)
	assert.Equal(t, 1.0, status.Metrics["videos"])
	assert.Equal(t, 0.0, status.Metrics["segments"])
	assert.Equal(t, 0.0, status.Metrics["missing"])
	assert.Empty(t, analyzer.gotRecords)
}

func TestRunUnknownConnector(t *testing.T) {
	runner, store := newTestRunner(t, channelFake(), &fakeAnalyzer{})

	req := &RunRequest{Target: "https://youtube.com/@history", Connectors: []string{"gopher"}}
	startRun(t, store, "job-1", req)

	err := runner.Run(context.Background(), "job-1", req, nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))

	status, serr := store.ReadStatus("job-1")
	require.NoError(t, serr)
	assert.Equal(t, "error", status.State)
	assert.Equal(t, "discover", status.Stage)
	assert.Contains(t, status.Message, "gopher")
}

func TestRunCancellationLeavesNoErrorState(t *testing.T) {
	conn := channelFake()
	runner, store := newTestRunner(t, conn, &fakeAnalyzer{})

	req := &RunRequest{Target: "https://youtube.com/@history"}
	startRun(t, store, "job-1", req)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := runner.Run(ctx, "job-1", req, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	// The worker requeues a cancelled job, so the snapshot must not claim
	// a terminal failure.
	status, serr := store.ReadStatus("job-1")
	require.NoError(t, serr)
	assert.Equal(t, "running", status.State)
}
