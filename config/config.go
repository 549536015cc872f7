package config

// Config represents the core veritas pipeline configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Store     StoreConfig     `mapstructure:"store"`
	Server    ServerConfig    `mapstructure:"server"`
	Pulse     PulseConfig     `mapstructure:"pulse"`
	Connector ConnectorConfig `mapstructure:"connector"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
}

// DatabaseConfig configures the SQLite job queue database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// StoreConfig configures the per-job artifact store
type StoreConfig struct {
	Root string `mapstructure:"root"` // Run directories live under <root>/runs/<job_id>
}

// ServerConfig configures the job API server
type ServerConfig struct {
	Port           *int     `mapstructure:"port"` // nil = default 8000, 0 is invalid (omit for default)
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Server port constants
const (
	DefaultServerPort = 8000
)

// PulseConfig configures the async job system
type PulseConfig struct {
	// Worker concurrency configuration
	Workers int `mapstructure:"workers"` // Number of concurrent job workers (default: 1)

	// How often idle workers poll the queue, in milliseconds (default: 1000)
	PollIntervalMS int `mapstructure:"poll_interval_ms"`

	// Budget gate. A job whose request carries a budget_usd_per_run gate
	// above the remaining budget is paused instead of executed.
	// 0 = that window unenforced.
	DailyBudgetUSD   float64 `mapstructure:"daily_budget_usd"`
	MonthlyBudgetUSD float64 `mapstructure:"monthly_budget_usd"`

	// Rate gate: maximum job executions per hour, 0 = unlimited
	MaxJobsPerHour int `mapstructure:"max_jobs_per_hour"`
}

// ConnectorConfig configures source connectors
type ConnectorConfig struct {
	// Per-call timeout applied to every connector fetch (default: 120)
	FetchTimeoutSeconds int `mapstructure:"fetch_timeout_seconds"`

	// Bounded retry around item fetches. 1 = no retry (default),
	// matching the recorded-not-retried missing-item semantics.
	RetryAttempts  int `mapstructure:"retry_attempts"`
	RetryBackoffMS int `mapstructure:"retry_backoff_ms"`

	// Fetch pacing across a run, 0 = unlimited
	RatePerMinute int `mapstructure:"rate_per_minute"`

	YouTube  YouTubeConfig  `mapstructure:"youtube"`
	Web      WebConfig      `mapstructure:"web"`
	Document DocumentConfig `mapstructure:"document"`
}

// YouTubeConfig configures the yt-dlp backed transcript connector
type YouTubeConfig struct {
	YtDlpPath  string `mapstructure:"yt_dlp_path"`  // Binary path (default: "yt-dlp" from PATH)
	ExtraArgs  string `mapstructure:"extra_args"`   // Extra CLI args, shell-quoted string
	MinVersion string `mapstructure:"min_version"`  // Semver floor for the binary, empty = unchecked
	Langs      string `mapstructure:"langs"`        // Subtitle language preference (default: "en")
}

// WebConfig configures the web page connector
type WebConfig struct {
	UserAgent         string `mapstructure:"user_agent"`
	MaxBodyBytes      int64  `mapstructure:"max_body_bytes"` // Response size cap (default: 8 MiB)
	MaxRedirects      int    `mapstructure:"max_redirects"`
	AllowPrivateHosts bool   `mapstructure:"allow_private_hosts"` // For tests against loopback servers
}

// DocumentConfig configures the document (PDF/plain text) connector
type DocumentConfig struct {
	MaxBytes int64 `mapstructure:"max_bytes"` // Fetched file size cap (default: 32 MiB)
}

// AnalysisConfig configures the analysis collaborator boundary
type AnalysisConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"` // Per-job analysis timeout (default: 300)
}

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)
