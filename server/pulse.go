package server

import (
	"net/http"
)

// HandlePulseStats handles GET /api/pulse/stats: queue depth, worker
// activity, budget spend, and rate-limit headroom in one snapshot.
func (s *Server) HandlePulseStats(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	stats, err := s.Queue().GetStats()
	if err != nil {
		handleError(w, s.logger, err, "failed to get queue stats")
		return
	}

	response := map[string]interface{}{
		"queue":   stats,
		"workers": s.daemon.Workers(),
		"ticker":  s.ticker.GetStats(),
	}

	if budgetStatus, err := s.budgetTracker.GetStatus(); err != nil {
		s.logger.Warnw("Failed to read budget status", "error", err)
	} else {
		limits := s.budgetTracker.GetBudgetLimits()
		response["budget"] = map[string]interface{}{
			"daily_spend_usd":       budgetStatus.DailySpend,
			"daily_remaining_usd":   budgetStatus.DailyRemaining,
			"daily_limit_usd":       limits.DailyBudgetUSD,
			"monthly_spend_usd":     budgetStatus.MonthlySpend,
			"monthly_remaining_usd": budgetStatus.MonthlyRemaining,
			"monthly_limit_usd":     limits.MonthlyBudgetUSD,
		}
	}

	callsInWindow, callsRemaining := s.rateLimiter.Stats()
	response["rate"] = map[string]interface{}{
		"calls_this_hour": callsInWindow,
		"calls_remaining": callsRemaining,
	}

	writeJSON(w, http.StatusOK, response)
}

// HandleQueueStats handles GET /queue/stats: job counts by state.
func (s *Server) HandleQueueStats(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	stats, err := s.Queue().GetStats()
	if err != nil {
		handleError(w, s.logger, err, "failed to get queue stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}
