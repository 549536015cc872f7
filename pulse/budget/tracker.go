package budget

import (
	"database/sql"
	"sync"

	"github.com/veritas-nexus/veritas/errors"
)

// BudgetConfig contains spend limits. A zero limit leaves that window
// unenforced.
type BudgetConfig struct {
	DailyBudgetUSD   float64
	MonthlyBudgetUSD float64
}

// Status represents current spend against the configured limits
type Status struct {
	DailySpend       float64
	MonthlySpend     float64
	DailyRemaining   float64
	MonthlyRemaining float64
	DailyOps         int
	MonthlyOps       int
}

// Tracker tracks and enforces budget limits
type Tracker struct {
	store  *Store
	config BudgetConfig
	mu     sync.RWMutex // Protects config from concurrent read/write
}

// NewTracker creates a new budget tracker
func NewTracker(db *sql.DB, config BudgetConfig) *Tracker {
	return &Tracker{
		store:  NewStore(db),
		config: config,
	}
}

// GetStatus returns current budget state from the recorded run spend
func (bt *Tracker) GetStatus() (*Status, error) {
	dailySpend, dailyOps, err := bt.store.GetActualDailySpend()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get daily spend")
	}

	monthlySpend, monthlyOps, err := bt.store.GetActualMonthlySpend()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get monthly spend")
	}

	bt.mu.RLock()
	dailyBudget := bt.config.DailyBudgetUSD
	monthlyBudget := bt.config.MonthlyBudgetUSD
	bt.mu.RUnlock()

	return &Status{
		DailySpend:       dailySpend,
		MonthlySpend:     monthlySpend,
		DailyRemaining:   dailyBudget - dailySpend,
		MonthlyRemaining: monthlyBudget - monthlySpend,
		DailyOps:         dailyOps,
		MonthlyOps:       monthlyOps,
	}, nil
}

// CheckBudget checks whether an operation with the given estimated cost fits
// the remaining budget. Returns an error wrapping errors.ErrBudgetExceeded
// when it does not; infrastructure failures come back unwrapped so callers
// can tell a closed gate from a broken ledger.
func (bt *Tracker) CheckBudget(estimatedCostUSD float64) error {
	status, err := bt.GetStatus()
	if err != nil {
		return errors.Wrap(err, "failed to get budget status")
	}

	bt.mu.RLock()
	dailyBudget := bt.config.DailyBudgetUSD
	monthlyBudget := bt.config.MonthlyBudgetUSD
	bt.mu.RUnlock()

	if dailyBudget > 0 && status.DailySpend+estimatedCostUSD > dailyBudget {
		return errors.Wrapf(errors.ErrBudgetExceeded,
			"daily budget would be exceeded: current $%.3f + estimated $%.3f > limit $%.2f",
			status.DailySpend, estimatedCostUSD, dailyBudget)
	}

	if monthlyBudget > 0 && status.MonthlySpend+estimatedCostUSD > monthlyBudget {
		return errors.Wrapf(errors.ErrBudgetExceeded,
			"monthly budget would be exceeded: current $%.3f + estimated $%.3f > limit $%.2f",
			status.MonthlySpend, estimatedCostUSD, monthlyBudget)
	}

	return nil
}

// RecordSpend records the cost of a completed run attempt in the ledger
func (bt *Tracker) RecordSpend(jobID string, costUSD float64, success bool) error {
	return bt.store.RecordSpend(jobID, costUSD, success)
}

// UpdateDailyBudget updates the daily budget limit at runtime. The config
// watcher calls this when the config file changes on disk.
func (bt *Tracker) UpdateDailyBudget(newBudgetUSD float64) error {
	if newBudgetUSD < 0 {
		return errors.Newf("daily budget cannot be negative: %.2f", newBudgetUSD)
	}

	bt.mu.Lock()
	bt.config.DailyBudgetUSD = newBudgetUSD
	bt.mu.Unlock()

	return nil
}

// UpdateMonthlyBudget updates the monthly budget limit at runtime
func (bt *Tracker) UpdateMonthlyBudget(newBudgetUSD float64) error {
	if newBudgetUSD < 0 {
		return errors.Newf("monthly budget cannot be negative: %.2f", newBudgetUSD)
	}

	bt.mu.Lock()
	bt.config.MonthlyBudgetUSD = newBudgetUSD
	bt.mu.Unlock()

	return nil
}

// GetBudgetLimits returns the current budget configuration limits
func (bt *Tracker) GetBudgetLimits() BudgetConfig {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return bt.config
}
