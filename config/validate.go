package config

import "github.com/veritas-nexus/veritas/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Database path is optional - empty defaults to "veritas.db" per defaults.go

	// Server port: 0 is invalid (omit for default), negative is invalid
	if c.Server.Port != nil && *c.Server.Port == 0 {
		return errors.New("server.port cannot be 0 (omit for default port 8000)")
	}
	if c.Server.Port != nil && *c.Server.Port < 0 {
		return errors.Newf("server.port must be positive, got %d", *c.Server.Port)
	}

	// Pulse workers: 0 = no background workers, negative = invalid
	if c.Pulse.Workers < 0 {
		return errors.Newf("pulse.workers must be >= 0, got %d", c.Pulse.Workers)
	}

	// Poll interval: 0 = default applied at pool construction, negative = invalid
	if c.Pulse.PollIntervalMS < 0 {
		return errors.Newf("pulse.poll_interval_ms must be >= 0, got %d", c.Pulse.PollIntervalMS)
	}

	// Budget: 0 = no budget gate, negative = invalid
	if c.Pulse.DailyBudgetUSD < 0 {
		return errors.Newf("pulse.daily_budget_usd must be >= 0, got %f", c.Pulse.DailyBudgetUSD)
	}
	if c.Pulse.MonthlyBudgetUSD < 0 {
		return errors.Newf("pulse.monthly_budget_usd must be >= 0, got %f", c.Pulse.MonthlyBudgetUSD)
	}

	// Rate gate: 0 = unlimited, negative = invalid
	if c.Pulse.MaxJobsPerHour < 0 {
		return errors.Newf("pulse.max_jobs_per_hour must be >= 0, got %d", c.Pulse.MaxJobsPerHour)
	}

	// Connector tunables
	if c.Connector.FetchTimeoutSeconds < 0 {
		return errors.Newf("connector.fetch_timeout_seconds must be >= 0, got %d", c.Connector.FetchTimeoutSeconds)
	}
	if c.Connector.RetryAttempts < 1 {
		return errors.Newf("connector.retry_attempts must be >= 1, got %d", c.Connector.RetryAttempts)
	}
	if c.Connector.RetryBackoffMS < 0 {
		return errors.Newf("connector.retry_backoff_ms must be >= 0, got %d", c.Connector.RetryBackoffMS)
	}
	if c.Connector.RatePerMinute < 0 {
		return errors.Newf("connector.rate_per_minute must be >= 0, got %d", c.Connector.RatePerMinute)
	}
	if c.Connector.Web.MaxBodyBytes < 0 {
		return errors.Newf("connector.web.max_body_bytes must be >= 0, got %d", c.Connector.Web.MaxBodyBytes)
	}
	if c.Connector.Web.MaxRedirects < 0 {
		return errors.Newf("connector.web.max_redirects must be >= 0, got %d", c.Connector.Web.MaxRedirects)
	}
	if c.Connector.Document.MaxBytes < 0 {
		return errors.Newf("connector.document.max_bytes must be >= 0, got %d", c.Connector.Document.MaxBytes)
	}

	// Analysis timeout: 0 = no timeout, negative = invalid
	if c.Analysis.TimeoutSeconds < 0 {
		return errors.Newf("analysis.timeout_seconds must be >= 0, got %d", c.Analysis.TimeoutSeconds)
	}

	return nil
}
