package budget

import (
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritas-nexus/veritas/errors"
	veritastest "github.com/veritas-nexus/veritas/internal/testing"
)

// insertSpend backdates a ledger row. recorded_at is stored in UTC using
// the same format datetime('now') produces, so window comparisons are exact.
func insertSpend(t *testing.T, db *sql.DB, recordedAt time.Time, costUSD float64, success bool) {
	t.Helper()

	_, err := db.Exec(
		`INSERT INTO run_spend (job_id, cost, success, recorded_at) VALUES (?, ?, ?, ?)`,
		"job-test", costUSD, success,
		recordedAt.UTC().Format("2006-01-02 15:04:05"),
	)
	require.NoError(t, err)
}

func TestTracker_GetStatus(t *testing.T) {
	db := veritastest.CreateMigratedTestDB(t)

	config := BudgetConfig{
		DailyBudgetUSD:   10.0,
		MonthlyBudgetUSD: 100.0,
	}
	tracker := NewTracker(db, config)

	now := time.Now()
	insertSpend(t, db, now.Add(-1*time.Hour), 2.50, true)
	insertSpend(t, db, now.Add(-30*time.Minute), 1.25, true)
	insertSpend(t, db, now.Add(-10*time.Minute), 0.75, true)

	status, err := tracker.GetStatus()
	require.NoError(t, err)

	assert.Equal(t, 4.50, status.DailySpend, "Daily spend should sum to $4.50")
	assert.Equal(t, 5.50, status.DailyRemaining, "Daily remaining should be $5.50")
	assert.Equal(t, 3, status.DailyOps, "Should have 3 daily operations")

	assert.Equal(t, 4.50, status.MonthlySpend, "Monthly spend should sum to $4.50")
	assert.Equal(t, 95.50, status.MonthlyRemaining, "Monthly remaining should be $95.50")
	assert.Equal(t, 3, status.MonthlyOps, "Should have 3 monthly operations")
}

func TestTracker_GetStatus_NoSpend(t *testing.T) {
	db := veritastest.CreateMigratedTestDB(t)

	tracker := NewTracker(db, BudgetConfig{
		DailyBudgetUSD:   5.0,
		MonthlyBudgetUSD: 50.0,
	})

	status, err := tracker.GetStatus()
	require.NoError(t, err)

	assert.Equal(t, 0.0, status.DailySpend, "Daily spend should be $0")
	assert.Equal(t, 5.0, status.DailyRemaining, "Daily remaining should be full budget")
	assert.Equal(t, 0, status.DailyOps, "Should have 0 operations")

	assert.Equal(t, 0.0, status.MonthlySpend, "Monthly spend should be $0")
	assert.Equal(t, 50.0, status.MonthlyRemaining, "Monthly remaining should be full budget")
	assert.Equal(t, 0, status.MonthlyOps, "Should have 0 operations")
}

func TestTracker_CheckBudget_WithinLimits(t *testing.T) {
	db := veritastest.CreateMigratedTestDB(t)

	tracker := NewTracker(db, BudgetConfig{
		DailyBudgetUSD:   10.0,
		MonthlyBudgetUSD: 100.0,
	})

	now := time.Now()
	insertSpend(t, db, now.Add(-1*time.Hour), 2.00, true)
	insertSpend(t, db, now.Add(-30*time.Minute), 1.00, true)

	// $3.00 spent, another $5.00 would total $8.00 — within both limits
	err := tracker.CheckBudget(5.00)
	assert.NoError(t, err, "Should allow operation within budget")
}

func TestTracker_CheckBudget_ExceedsDailyLimit(t *testing.T) {
	db := veritastest.CreateMigratedTestDB(t)

	tracker := NewTracker(db, BudgetConfig{
		DailyBudgetUSD:   5.0,
		MonthlyBudgetUSD: 100.0,
	})

	now := time.Now()
	insertSpend(t, db, now.Add(-1*time.Hour), 3.00, true)
	insertSpend(t, db, now.Add(-30*time.Minute), 1.50, true)

	// $4.50 spent, another $1.00 would total $5.50 > $5.00 limit
	err := tracker.CheckBudget(1.00)
	require.Error(t, err, "Should reject operation exceeding daily budget")
	assert.True(t, errors.IsBudgetExceededError(err))
	assert.Contains(t, err.Error(), "daily budget would be exceeded")
	assert.Contains(t, err.Error(), "4.500") // Current spend
	assert.Contains(t, err.Error(), "1.000") // Estimated cost
	assert.Contains(t, err.Error(), "5.00")  // Limit
}

func TestTracker_CheckBudget_ExceedsMonthlyLimit(t *testing.T) {
	db := veritastest.CreateMigratedTestDB(t)

	tracker := NewTracker(db, BudgetConfig{
		DailyBudgetUSD:   20.0, // High daily limit
		MonthlyBudgetUSD: 50.0, // Low monthly limit
	})

	now := time.Now()
	insertSpend(t, db, now.AddDate(0, 0, -5), 15.00, true)
	insertSpend(t, db, now.AddDate(0, 0, -3), 18.00, true)
	insertSpend(t, db, now.Add(-1*time.Hour), 15.00, true)

	// Daily: $15.00 + $5.00 = $20.00, exactly at the limit — passes.
	// Monthly: $48.00 + $5.00 = $53.00 > $50.00 — fails.
	err := tracker.CheckBudget(5.00)
	require.Error(t, err, "Should reject operation exceeding monthly budget")
	assert.True(t, errors.IsBudgetExceededError(err))
	assert.Contains(t, err.Error(), "monthly budget would be exceeded")
	assert.Contains(t, err.Error(), "48.000")
	assert.Contains(t, err.Error(), "50.00")
}

func TestTracker_CheckBudget_ExactLimit(t *testing.T) {
	db := veritastest.CreateMigratedTestDB(t)

	tracker := NewTracker(db, BudgetConfig{
		DailyBudgetUSD:   10.0,
		MonthlyBudgetUSD: 100.0,
	})

	insertSpend(t, db, time.Now().Add(-1*time.Hour), 7.00, true)

	err := tracker.CheckBudget(3.00)
	assert.NoError(t, err, "Should allow operation that exactly reaches budget limit")

	err = tracker.CheckBudget(3.01)
	require.Error(t, err, "Should reject operation exceeding budget by even $0.01")
}

func TestTracker_CheckBudget_ZeroLimitsUnenforced(t *testing.T) {
	db := veritastest.CreateMigratedTestDB(t)

	tracker := NewTracker(db, BudgetConfig{})

	insertSpend(t, db, time.Now().Add(-1*time.Hour), 100.00, true)

	err := tracker.CheckBudget(1000.00)
	assert.NoError(t, err, "Zero limits should leave the gate open")

	// Status still reports spend; remaining is limit minus spend even
	// when the limit is unenforced.
	status, err := tracker.GetStatus()
	require.NoError(t, err)
	assert.Equal(t, 100.0, status.DailySpend)
	assert.Equal(t, -100.0, status.DailyRemaining)
}

func TestTracker_CheckBudget_LedgerFailureIsNotAClosedGate(t *testing.T) {
	db := veritastest.CreateMigratedTestDB(t)

	tracker := NewTracker(db, BudgetConfig{DailyBudgetUSD: 5.0})

	_, err := db.Exec(`DROP TABLE run_spend`)
	require.NoError(t, err)

	err = tracker.CheckBudget(1.00)
	require.Error(t, err)
	assert.False(t, errors.IsBudgetExceededError(err),
		"Infrastructure failures must not classify as a budget rejection")
}

func TestTracker_SlidingWindows(t *testing.T) {
	db := veritastest.CreateMigratedTestDB(t)

	tracker := NewTracker(db, BudgetConfig{
		DailyBudgetUSD:   10.0,
		MonthlyBudgetUSD: 100.0,
	})

	now := time.Now()
	insertSpend(t, db, now.AddDate(0, 0, -40), 12.00, true) // Outside both windows
	insertSpend(t, db, now.AddDate(0, 0, -2), 3.00, true)   // Monthly only
	insertSpend(t, db, now.Add(-1*time.Hour), 1.00, true)   // Both

	status, err := tracker.GetStatus()
	require.NoError(t, err)

	assert.Equal(t, 1.0, status.DailySpend)
	assert.Equal(t, 1, status.DailyOps)
	assert.Equal(t, 4.0, status.MonthlySpend)
	assert.Equal(t, 2, status.MonthlyOps)
}

func TestTracker_IgnoresFailedRuns(t *testing.T) {
	db := veritastest.CreateMigratedTestDB(t)

	tracker := NewTracker(db, BudgetConfig{
		DailyBudgetUSD:   10.0,
		MonthlyBudgetUSD: 100.0,
	})

	now := time.Now()
	insertSpend(t, db, now.Add(-2*time.Hour), 1.50, true)
	insertSpend(t, db, now.Add(-1*time.Hour), 1.50, true)
	insertSpend(t, db, now.Add(-90*time.Minute), 5.00, false)
	insertSpend(t, db, now.Add(-45*time.Minute), 3.00, false)

	status, err := tracker.GetStatus()
	require.NoError(t, err)

	assert.Equal(t, 3.0, status.DailySpend, "Should only count successful runs")
	assert.Equal(t, 2, status.DailyOps, "Should only count 2 successful runs")
	assert.Equal(t, 7.0, status.DailyRemaining)
}

func TestTracker_RecordSpend(t *testing.T) {
	db := veritastest.CreateMigratedTestDB(t)

	tracker := NewTracker(db, BudgetConfig{
		DailyBudgetUSD:   10.0,
		MonthlyBudgetUSD: 100.0,
	})

	require.NoError(t, tracker.RecordSpend("job-a", 0.25, true))
	require.NoError(t, tracker.RecordSpend("job-b", 0.50, false))

	// Both attempts land in the ledger
	var total int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM run_spend`).Scan(&total))
	assert.Equal(t, 2, total)

	// Only the successful one counts against the windows
	status, err := tracker.GetStatus()
	require.NoError(t, err)
	assert.Equal(t, 0.25, status.DailySpend)
	assert.Equal(t, 1, status.DailyOps)
}

func TestTracker_UpdateBudgets(t *testing.T) {
	db := veritastest.CreateMigratedTestDB(t)

	tracker := NewTracker(db, BudgetConfig{
		DailyBudgetUSD:   5.0,
		MonthlyBudgetUSD: 50.0,
	})

	require.NoError(t, tracker.UpdateDailyBudget(15.0))
	require.NoError(t, tracker.UpdateMonthlyBudget(200.0))

	limits := tracker.GetBudgetLimits()
	assert.Equal(t, 15.0, limits.DailyBudgetUSD)
	assert.Equal(t, 200.0, limits.MonthlyBudgetUSD)
}

func TestTracker_UpdateBudgets_NegativeValues(t *testing.T) {
	db := veritastest.CreateMigratedTestDB(t)

	tracker := NewTracker(db, BudgetConfig{
		DailyBudgetUSD:   5.0,
		MonthlyBudgetUSD: 50.0,
	})

	err := tracker.UpdateDailyBudget(-10.0)
	require.Error(t, err, "Should reject negative daily budget")
	assert.Contains(t, err.Error(), "daily budget cannot be negative")

	err = tracker.UpdateMonthlyBudget(-100.0)
	require.Error(t, err, "Should reject negative monthly budget")
	assert.Contains(t, err.Error(), "monthly budget cannot be negative")

	// Original limits unchanged
	limits := tracker.GetBudgetLimits()
	assert.Equal(t, 5.0, limits.DailyBudgetUSD)
	assert.Equal(t, 50.0, limits.MonthlyBudgetUSD)
}

func TestTracker_ConcurrentConfigAccess(t *testing.T) {
	db := veritastest.CreateMigratedTestDB(t)

	tracker := NewTracker(db, BudgetConfig{
		DailyBudgetUSD:   100.0,
		MonthlyBudgetUSD: 1000.0,
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, tracker.UpdateDailyBudget(float64(n+1)))
			limits := tracker.GetBudgetLimits()
			assert.GreaterOrEqual(t, limits.DailyBudgetUSD, 1.0)
		}(i)
	}
	wg.Wait()
}
