package commands

import (
	"database/sql"

	"github.com/veritas-nexus/veritas/config"
	"github.com/veritas-nexus/veritas/db"
	"github.com/veritas-nexus/veritas/errors"
	"github.com/veritas-nexus/veritas/logger"
)

// openDatabase opens and migrates a database using the specified path.
// If dbPath is empty, it resolves the path from configuration.
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		path, err := config.GetDatabasePath()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get database path")
		}
		if path == "" {
			dbPath = "veritas.db"
		} else {
			dbPath = path
		}
	}

	database, err := db.OpenWithMigrations(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}

	return database, nil
}
