package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/veritas-nexus/veritas/errors"
)

// createBackup creates rotating backups (.back1, .back2, .back3) before modifying config
func createBackup(configPath string) error {
	// Check if file exists before backing up
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil // No file to backup
	}

	// Rotate backups: .back3 -> delete, .back2 -> .back3, .back1 -> .back2, current -> .back1
	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	// Delete oldest backup if exists
	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		// Log deletion failures (but don't fail config save)
		fmt.Printf("failed to delete old backup %s: %v\n", back3, err)
	}

	// Rotate .back2 to .back3
	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}

	// Rotate .back1 to .back2
	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	// Copy current to .back1
	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}

	if err := os.WriteFile(back1, content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}

	return nil
}

// GetLocalConfigPath returns the path to the operator-managed override file
// in ~/.veritas/veritas.toml.
func GetLocalConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".veritas", "veritas.toml")
}

// loadOrInitializeLocalConfig loads the override file, or starts an empty one
func loadOrInitializeLocalConfig() (map[string]interface{}, string, error) {
	configPath := GetLocalConfigPath()
	if configPath == "" {
		return nil, "", errors.New("could not determine home directory")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0750); err != nil {
		return nil, "", errors.Wrap(err, "failed to create .veritas directory")
	}

	var config map[string]interface{}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := toml.Unmarshal(data, &config); err != nil {
			return nil, "", errors.Wrap(err, "failed to parse local config")
		}
	} else {
		config = make(map[string]interface{})
	}

	return config, configPath, nil
}

// saveLocalConfig writes the config to the override file with backup
func saveLocalConfig(config map[string]interface{}, configPath string) error {
	if err := createBackup(configPath); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	data, err := toml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	// Mark this as our own write to prevent reload loops
	globalWatcherMu.Lock()
	if globalWatcher != nil {
		globalWatcher.MarkOwnWrite()
	}
	globalWatcherMu.Unlock()

	if err := os.WriteFile(configPath, data, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to write local config")
	}

	return nil
}

// setSection updates one key inside a named section of the override file
func setSection(section, key string, value interface{}) error {
	config, configPath, err := loadOrInitializeLocalConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load local config")
	}

	var sec map[string]interface{}
	if s, ok := config[section].(map[string]interface{}); ok {
		sec = s
	} else {
		sec = make(map[string]interface{})
	}

	sec[key] = value
	config[section] = sec

	return saveLocalConfig(config, configPath)
}

// UpdatePulseWorkers updates pulse.workers in the override file
func UpdatePulseWorkers(workers int) error {
	return setSection("pulse", "workers", workers)
}

// UpdatePulseDailyBudget updates pulse.daily_budget_usd in the override file
func UpdatePulseDailyBudget(dailyBudget float64) error {
	return setSection("pulse", "daily_budget_usd", dailyBudget)
}

// UpdatePulseMonthlyBudget updates pulse.monthly_budget_usd in the override file
func UpdatePulseMonthlyBudget(monthlyBudget float64) error {
	return setSection("pulse", "monthly_budget_usd", monthlyBudget)
}

// UpdateStoreRoot updates store.root in the override file
func UpdateStoreRoot(root string) error {
	return setSection("store", "root", root)
}

// UpdateConnectorRetryAttempts updates connector.retry_attempts in the override file
func UpdateConnectorRetryAttempts(attempts int) error {
	return setSection("connector", "retry_attempts", attempts)
}
