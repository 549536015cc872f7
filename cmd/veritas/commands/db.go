package commands

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/veritas-nexus/veritas/config"
	"github.com/veritas-nexus/veritas/errors"
	"github.com/veritas-nexus/veritas/pulse/async"
	"github.com/veritas-nexus/veritas/pulse/budget"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage veritas database",
	Long: `Manage job queue database operations.

Examples:
  veritas db stats                # Show queue, watch, and budget statistics
  veritas db migrate              # Apply pending schema migrations`,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue, watch, and budget statistics",
	RunE:  runDbStats,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		// openDatabase migrates on open
		database, err := openDatabase("")
		if err != nil {
			return errors.Wrap(err, "migration failed")
		}
		defer database.Close()

		fmt.Println("✓ Database schema is up to date")
		return nil
	},
}

func init() {
	DbCmd.AddCommand(dbStatsCmd)
	DbCmd.AddCommand(dbMigrateCmd)
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	queue := async.NewQueue(database)
	stats, err := queue.GetStats()
	if err != nil {
		return fmt.Errorf("failed to query job stats: %w", err)
	}

	fmt.Printf("Database Statistics\n")
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Database Path: %s\n", cfg.GetDatabasePath())
	fmt.Printf("Store Root:    %s\n", cfg.Store.Root)
	fmt.Println()

	fmt.Printf("Jobs:\n")
	fmt.Printf("  Queued:  %d\n", stats.Queued)
	fmt.Printf("  Running: %d\n", stats.Running)
	fmt.Printf("  Paused:  %d\n", stats.Paused)
	fmt.Printf("  Done:    %d\n", stats.Done)
	fmt.Printf("  Error:   %d\n", stats.Error)
	fmt.Printf("  Total:   %d\n", stats.Total)
	fmt.Println()

	var activeWatches, totalWatches int
	err = database.QueryRow(`
		SELECT
			COUNT(CASE WHEN state = 'active' THEN 1 END),
			COUNT(*)
		FROM ingest_watches
	`).Scan(&activeWatches, &totalWatches)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to query watch stats: %w", err)
	}
	fmt.Printf("Watches:\n")
	fmt.Printf("  Active: %d\n", activeWatches)
	fmt.Printf("  Total:  %d\n", totalWatches)
	fmt.Println()

	tracker := budget.NewTracker(database, budget.BudgetConfig{
		DailyBudgetUSD:   cfg.Pulse.DailyBudgetUSD,
		MonthlyBudgetUSD: cfg.Pulse.MonthlyBudgetUSD,
	})
	status, err := tracker.GetStatus()
	if err != nil {
		return fmt.Errorf("failed to query budget status: %w", err)
	}
	fmt.Printf("Budget:\n")
	fmt.Printf("  Today:      $%.2f spent, $%.2f remaining (%d ops)\n",
		status.DailySpend, status.DailyRemaining, status.DailyOps)
	fmt.Printf("  This month: $%.2f spent, $%.2f remaining (%d ops)\n",
		status.MonthlySpend, status.MonthlyRemaining, status.MonthlyOps)

	return nil
}
