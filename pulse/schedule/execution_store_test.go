package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritas-nexus/veritas/errors"
	"github.com/veritas-nexus/veritas/internal/util"
)

// createParentWatch inserts a watch row so execution rows satisfy the
// foreign key.
func createParentWatch(t *testing.T, store *Store, id string) {
	t.Helper()
	w := testWatch(id, "https://example.com/"+id, time.Now().Add(time.Hour))
	require.NoError(t, store.CreateWatch(w))
}

func runningExecution(id, watchID string, startedAt time.Time) *Execution {
	return &Execution{
		ID:        id,
		WatchID:   watchID,
		Status:    ExecutionStatusRunning,
		StartedAt: startedAt,
		CreatedAt: startedAt,
		UpdatedAt: startedAt,
	}
}

func TestCreateAndGetExecution(t *testing.T) {
	db := createTestDB(t)
	watches := NewStore(db)
	execs := NewExecutionStore(db)

	createParentWatch(t, watches, "watch-a")

	started := time.Now()
	exec := runningExecution("exec-1", "watch-a", started)
	require.NoError(t, execs.CreateExecution(exec))

	got, err := execs.GetExecution("exec-1")
	require.NoError(t, err)

	assert.Equal(t, "exec-1", got.ID)
	assert.Equal(t, "watch-a", got.WatchID)
	assert.Equal(t, ExecutionStatusRunning, got.Status)
	assert.WithinDuration(t, started, got.StartedAt, time.Second)
	assert.Nil(t, got.JobID)
	assert.Nil(t, got.CompletedAt)
	assert.Nil(t, got.DurationMs)
	assert.Nil(t, got.ErrorMessage)
}

func TestGetExecutionNotFound(t *testing.T) {
	db := createTestDB(t)
	execs := NewExecutionStore(db)

	_, err := execs.GetExecution("no-such-execution")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestUpdateExecutionToCompleted(t *testing.T) {
	db := createTestDB(t)
	watches := NewStore(db)
	execs := NewExecutionStore(db)

	createParentWatch(t, watches, "watch-a")

	started := time.Now()
	exec := runningExecution("exec-1", "watch-a", started)
	require.NoError(t, execs.CreateExecution(exec))

	completed := started.Add(120 * time.Millisecond)
	exec.Status = ExecutionStatusCompleted
	exec.JobID = util.Ptr("job-789")
	exec.CompletedAt = &completed
	exec.DurationMs = util.Ptr(120)
	exec.ResultSummary = util.Ptr("Enqueued ingest job job-789")
	exec.UpdatedAt = completed
	require.NoError(t, execs.UpdateExecution(exec))

	got, err := execs.GetExecution("exec-1")
	require.NoError(t, err)

	assert.Equal(t, ExecutionStatusCompleted, got.Status)
	require.NotNil(t, got.JobID)
	assert.Equal(t, "job-789", *got.JobID)
	require.NotNil(t, got.DurationMs)
	assert.Equal(t, 120, *got.DurationMs)
	require.NotNil(t, got.ResultSummary)
	assert.Equal(t, "Enqueued ingest job job-789", *got.ResultSummary)
}

func TestUpdateExecutionNotFound(t *testing.T) {
	db := createTestDB(t)
	execs := NewExecutionStore(db)

	exec := runningExecution("ghost", "watch-a", time.Now())
	err := execs.UpdateExecution(exec)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestListExecutions(t *testing.T) {
	db := createTestDB(t)
	watches := NewStore(db)
	execs := NewExecutionStore(db)

	createParentWatch(t, watches, "watch-a")
	createParentWatch(t, watches, "watch-b")

	base := time.Now().Add(-time.Hour)
	for i, spec := range []struct {
		id     string
		watch  string
		status string
	}{
		{"exec-1", "watch-a", ExecutionStatusCompleted},
		{"exec-2", "watch-a", ExecutionStatusFailed},
		{"exec-3", "watch-a", ExecutionStatusCompleted},
		{"exec-other", "watch-b", ExecutionStatusCompleted},
	} {
		exec := runningExecution(spec.id, spec.watch, base.Add(time.Duration(i)*time.Minute))
		exec.Status = spec.status
		require.NoError(t, execs.CreateExecution(exec))
	}

	// All of watch-a's history, newest first
	list, total, err := execs.ListExecutions("watch-a", 10, 0, "")
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, list, 3)
	assert.Equal(t, "exec-3", list[0].ID)
	assert.Equal(t, "exec-1", list[2].ID)

	// Status filter
	failed, total, err := execs.ListExecutions("watch-a", 10, 0, ExecutionStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, failed, 1)
	assert.Equal(t, "exec-2", failed[0].ID)

	// Pagination: total counts everything, the page is capped
	page, total, err := execs.ListExecutions("watch-a", 2, 0, "")
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, page, 2)

	page, _, err = execs.ListExecutions("watch-a", 2, 2, "")
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "exec-1", page[0].ID)
}

func TestCleanupOldExecutions(t *testing.T) {
	db := createTestDB(t)
	watches := NewStore(db)
	execs := NewExecutionStore(db)

	createParentWatch(t, watches, "watch-a")

	old := runningExecution("exec-old", "watch-a", time.Now().AddDate(0, 0, -100))
	old.Status = ExecutionStatusCompleted
	recent := runningExecution("exec-recent", "watch-a", time.Now().Add(-time.Hour))
	recent.Status = ExecutionStatusCompleted

	require.NoError(t, execs.CreateExecution(old))
	require.NoError(t, execs.CreateExecution(recent))

	deleted, err := execs.CleanupOldExecutions(90)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = execs.GetExecution("exec-old")
	assert.True(t, errors.IsNotFoundError(err))

	_, err = execs.GetExecution("exec-recent")
	assert.NoError(t, err)
}

func TestDeletingWatchCascadesExecutions(t *testing.T) {
	db := createTestDB(t)
	watches := NewStore(db)
	execs := NewExecutionStore(db)

	createParentWatch(t, watches, "watch-a")
	exec := runningExecution("exec-1", "watch-a", time.Now())
	require.NoError(t, execs.CreateExecution(exec))

	// Hard delete of the parent row sweeps its history
	_, err := db.Exec(`DELETE FROM ingest_watches WHERE id = ?`, "watch-a")
	require.NoError(t, err)

	_, err = execs.GetExecution("exec-1")
	assert.True(t, errors.IsNotFoundError(err))
}
