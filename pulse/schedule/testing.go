package schedule

import (
	"database/sql"
	"testing"

	veritastest "github.com/veritas-nexus/veritas/internal/testing"
)

// createTestDB creates an in-memory test database with the full schema.
func createTestDB(t *testing.T) *sql.DB {
	return veritastest.CreateMigratedTestDB(t)
}
