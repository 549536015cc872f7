// Package budget enforces spend and execution-rate limits for pulse jobs.
// Spend is summed over pure sliding windows (24h/30d) on the run_spend
// ledger so enforcement reflects recorded cost, not in-memory counters.
package budget

import (
	"database/sql"
	"fmt"

	"github.com/veritas-nexus/veritas/errors"
)

// Store handles spend queries against the run_spend table
type Store struct {
	db *sql.DB
}

// NewStore creates a new budget store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// RecordSpend appends one ledger row for a run attempt. Failed attempts are
// recorded with success=false so they stay visible in the ledger without
// counting against the budget windows.
func (s *Store) RecordSpend(jobID string, costUSD float64, success bool) error {
	_, err := s.db.Exec(
		`INSERT INTO run_spend (job_id, cost, success) VALUES (?, ?, ?)`,
		jobID, costUSD, success,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to record spend for job %s", jobID)
	}
	return nil
}

// getActualSpend sums run_spend within a sliding time window.
// Reduces repetition across GetActualDailySpend and GetActualMonthlySpend.
func (s *Store) getActualSpend(window string, period string) (totalCost float64, opCount int, err error) {
	query := fmt.Sprintf(`
		SELECT
			COALESCE(SUM(cost), 0) as total_cost,
			COUNT(*) as operation_count
		FROM run_spend
		WHERE recorded_at >= datetime('now', '%s')
			AND success = 1
	`, window)

	err = s.db.QueryRow(query).Scan(&totalCost, &opCount)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "failed to query %s spend", period)
	}

	return totalCost, opCount, nil
}

// GetActualDailySpend sums successful run spend over the last 24 hours.
// Uses a sliding 24-hour window to prevent midnight gaming.
func (s *Store) GetActualDailySpend() (totalCost float64, opCount int, err error) {
	return s.getActualSpend("-24 hours", "daily")
}

// GetActualMonthlySpend sums successful run spend over the last 30 days.
// Uses a sliding 30-day window to prevent month-boundary gaming.
func (s *Store) GetActualMonthlySpend() (totalCost float64, opCount int, err error) {
	return s.getActualSpend("-30 days", "monthly")
}
