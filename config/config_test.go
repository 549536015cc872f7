package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestLoad_Defaults(t *testing.T) {
	// Create isolated viper instance without loading user/system config
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	if err != nil {
		t.Fatalf("LoadWithViper() failed: %v", err)
	}

	if cfg.Database.Path != "veritas.db" {
		t.Errorf("expected default database path 'veritas.db', got %q", cfg.Database.Path)
	}

	if cfg.GetServerPort() != DefaultServerPort {
		t.Errorf("expected default port %d, got %d", DefaultServerPort, cfg.GetServerPort())
	}

	if cfg.Store.Root != "data" {
		t.Errorf("expected default store root 'data', got %q", cfg.Store.Root)
	}

	if cfg.Pulse.Workers != 1 {
		t.Errorf("expected default workers 1, got %d", cfg.Pulse.Workers)
	}

	if cfg.Connector.RetryAttempts != 1 {
		t.Errorf("expected default retry_attempts 1 (no retry), got %d", cfg.Connector.RetryAttempts)
	}

	if cfg.Connector.YouTube.YtDlpPath != "yt-dlp" {
		t.Errorf("expected default yt-dlp path, got %q", cfg.Connector.YouTube.YtDlpPath)
	}

	if cfg.Connector.Web.MaxRedirects != 5 {
		t.Errorf("expected default max_redirects 5, got %d", cfg.Connector.Web.MaxRedirects)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "veritas.toml")

	content := `
[database]
path = "/tmp/test-queue.db"

[store]
root = "/tmp/test-runs"

[pulse]
workers = 4
daily_budget_usd = 12.5

[connector]
retry_attempts = 3

[connector.youtube]
yt_dlp_path = "/opt/bin/yt-dlp"
min_version = "2024.1.0"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() failed: %v", err)
	}

	if cfg.Database.Path != "/tmp/test-queue.db" {
		t.Errorf("database.path = %q", cfg.Database.Path)
	}
	if cfg.Store.Root != "/tmp/test-runs" {
		t.Errorf("store.root = %q", cfg.Store.Root)
	}
	if cfg.Pulse.Workers != 4 {
		t.Errorf("pulse.workers = %d, want 4", cfg.Pulse.Workers)
	}
	if cfg.Pulse.DailyBudgetUSD != 12.5 {
		t.Errorf("pulse.daily_budget_usd = %f, want 12.5", cfg.Pulse.DailyBudgetUSD)
	}
	if cfg.Connector.RetryAttempts != 3 {
		t.Errorf("connector.retry_attempts = %d, want 3", cfg.Connector.RetryAttempts)
	}
	if cfg.Connector.YouTube.YtDlpPath != "/opt/bin/yt-dlp" {
		t.Errorf("yt_dlp_path = %q", cfg.Connector.YouTube.YtDlpPath)
	}
	if cfg.Connector.YouTube.MinVersion != "2024.1.0" {
		t.Errorf("min_version = %q", cfg.Connector.YouTube.MinVersion)
	}

	// Defaults still fill unset keys
	if cfg.Connector.FetchTimeoutSeconds != 120 {
		t.Errorf("fetch_timeout_seconds default = %d, want 120", cfg.Connector.FetchTimeoutSeconds)
	}
}

func TestLoadFromFile_Missing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	intPtr := func(i int) *int { return &i }

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "zero workers is valid (disabled)",
			mutate:  func(c *Config) { c.Pulse.Workers = 0 },
			wantErr: false,
		},
		{
			name:    "negative workers is invalid",
			mutate:  func(c *Config) { c.Pulse.Workers = -1 },
			wantErr: true,
		},
		{
			name:    "zero port is invalid",
			mutate:  func(c *Config) { c.Server.Port = intPtr(0) },
			wantErr: true,
		},
		{
			name:    "negative port is invalid",
			mutate:  func(c *Config) { c.Server.Port = intPtr(-80) },
			wantErr: true,
		},
		{
			name:    "nil port is valid (default)",
			mutate:  func(c *Config) { c.Server.Port = nil },
			wantErr: false,
		},
		{
			name:    "zero budget is valid (no gate)",
			mutate:  func(c *Config) { c.Pulse.DailyBudgetUSD = 0 },
			wantErr: false,
		},
		{
			name:    "negative budget is invalid",
			mutate:  func(c *Config) { c.Pulse.DailyBudgetUSD = -1 },
			wantErr: true,
		},
		{
			name:    "retry attempts below one is invalid",
			mutate:  func(c *Config) { c.Connector.RetryAttempts = 0 },
			wantErr: true,
		},
		{
			name:    "negative rate is invalid",
			mutate:  func(c *Config) { c.Connector.RatePerMinute = -5 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			SetDefaults(v)
			cfg, err := LoadWithViper(v)
			if err != nil {
				t.Fatalf("LoadWithViper() failed: %v", err)
			}

			tt.mutate(cfg)

			err = cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestReset(t *testing.T) {
	Reset()
	first, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	again, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if first != again {
		t.Error("Load() should return cached config until Reset")
	}

	Reset()
	third, err := Load()
	if err != nil {
		t.Fatalf("Load() after Reset failed: %v", err)
	}
	if third == first {
		t.Error("Reset() should clear the cached config")
	}
	Reset()
}

func TestGetServerAllowedOrigins(t *testing.T) {
	cfg := &Config{}
	origins := cfg.GetServerAllowedOrigins()
	if len(origins) != 1 || origins[0] != "*" {
		t.Errorf("empty origins should default to wildcard, got %v", origins)
	}

	cfg.Server.AllowedOrigins = []string{"https://dash.example.com"}
	origins = cfg.GetServerAllowedOrigins()
	if len(origins) != 1 || origins[0] != "https://dash.example.com" {
		t.Errorf("configured origins not returned: %v", origins)
	}
}
