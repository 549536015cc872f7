package config

import (
	"github.com/spf13/viper"
)

// SetDefaults registers default values for all configuration keys
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "veritas.db")

	// Store defaults
	v.SetDefault("store.root", "data")

	// Server defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Pulse (async job infrastructure) defaults
	v.SetDefault("pulse.workers", 1)
	v.SetDefault("pulse.poll_interval_ms", 1000)
	v.SetDefault("pulse.daily_budget_usd", 3.0)   // Default $3/day limit
	v.SetDefault("pulse.monthly_budget_usd", 0.0) // Unenforced
	v.SetDefault("pulse.max_jobs_per_hour", 0)    // Unlimited

	// Connector defaults
	v.SetDefault("connector.fetch_timeout_seconds", 120)
	v.SetDefault("connector.retry_attempts", 1) // No retry: missing items are recorded, not retried
	v.SetDefault("connector.retry_backoff_ms", 500)
	v.SetDefault("connector.rate_per_minute", 0)

	v.SetDefault("connector.youtube.yt_dlp_path", "yt-dlp")
	v.SetDefault("connector.youtube.langs", "en")

	v.SetDefault("connector.web.user_agent", "veritas-pipeline/1.0")
	v.SetDefault("connector.web.max_body_bytes", int64(8*1024*1024))
	v.SetDefault("connector.web.max_redirects", 5)
	v.SetDefault("connector.web.allow_private_hosts", false)

	v.SetDefault("connector.document.max_bytes", int64(32*1024*1024))

	// Analysis defaults
	v.SetDefault("analysis.timeout_seconds", 300)
}

// BindSensitiveEnvVars binds configuration values that are commonly injected
// through the environment in deployments.
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "VERITAS_DATABASE_PATH")
	v.BindEnv("store.root", "VERITAS_STORE_ROOT")
	v.BindEnv("connector.youtube.yt_dlp_path", "VERITAS_YT_DLP_PATH")
}

// GetServerPort returns the configured API port, falling back to the default
func (c *Config) GetServerPort() int {
	if c.Server.Port == nil || *c.Server.Port <= 0 {
		return DefaultServerPort
	}
	return *c.Server.Port
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "veritas.db" // Fallback default
	}
	return c.Database.Path
}

// GetServerAllowedOrigins returns the allowed CORS origins
func (c *Config) GetServerAllowedOrigins() []string {
	if len(c.Server.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	return c.Server.AllowedOrigins
}
