package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/veritas-nexus/veritas/analysis"
	"github.com/veritas-nexus/veritas/config"
	"github.com/veritas-nexus/veritas/logger"
	"github.com/veritas-nexus/veritas/pipeline"
	"github.com/veritas-nexus/veritas/pulse/async"
	"github.com/veritas-nexus/veritas/pulse/budget"
	"github.com/veritas-nexus/veritas/pulse/schedule"
	"github.com/veritas-nexus/veritas/runstore"
	"github.com/veritas-nexus/veritas/server"
)

// DaemonCmd runs the worker pool and scheduler without the HTTP surface
var DaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the ingest daemon (worker pool + scheduler)",
	Long: `Run the ingest daemon in foreground mode, without the job API server.

The daemon will:
- Start the worker pool that executes queued ingest runs
- Start the scheduler ticker that fires recurring watches
- Enforce budget and rate limits on job execution
- Run until interrupted (Ctrl+C) with GRACE shutdown

Jobs are picked up from the shared queue database, so runs submitted
through a separate 'veritas serve' process are executed here too.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		workers, _ := cmd.Flags().GetInt("workers")

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()

		fetchTimeout := time.Duration(cfg.Connector.FetchTimeoutSeconds) * time.Second
		registry, err := server.NewConnectorRegistry(cfg, fetchTimeout, logger.Logger)
		if err != nil {
			return err
		}

		runs := runstore.New(cfg.Store.Root)
		analyzer := analysis.NewHeuristicAnalyzer(logger.Logger)
		runner := pipeline.NewRunner(runs, registry, analyzer, pipeline.Options{
			FetchTimeout:    fetchTimeout,
			AnalysisTimeout: time.Duration(cfg.Analysis.TimeoutSeconds) * time.Second,
		}, logger.Logger)

		budgetTracker := budget.NewTracker(database, budget.BudgetConfig{
			DailyBudgetUSD:   cfg.Pulse.DailyBudgetUSD,
			MonthlyBudgetUSD: cfg.Pulse.MonthlyBudgetUSD,
		})
		rateLimiter := budget.NewLimiter(cfg.Pulse.MaxJobsPerHour)

		poolCfg := async.DefaultWorkerPoolConfig()
		if workers > 0 {
			poolCfg.Workers = workers
		}
		if cfg.Pulse.PollIntervalMS > 0 {
			poolCfg.PollInterval = time.Duration(cfg.Pulse.PollIntervalMS) * time.Millisecond
		}

		// Context for graceful shutdown
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		handlers := async.NewHandlerRegistry()
		pool := async.NewWorkerPoolWithRegistry(ctx, database, poolCfg, logger.Logger, handlers, budgetTracker, rateLimiter)
		handlers.Register(pipeline.NewHandler(runner, runs, pool.GetQueue(), logger.Logger))

		pool.Start()

		watches := schedule.NewStore(database)
		executions := schedule.NewExecutionStore(database)
		tickerCfg := schedule.DefaultTickerConfig()
		ticker := schedule.NewTickerWithContext(ctx, watches, executions, pool.GetQueue(), pool, tickerCfg, logger.Logger)
		ticker.Start()

		fmt.Printf("Ingest daemon started\n")
		fmt.Printf("  Workers: %d\n", poolCfg.Workers)
		fmt.Printf("  Poll interval: %v\n", poolCfg.PollInterval)
		fmt.Printf("  Daily budget: $%.2f\n", cfg.Pulse.DailyBudgetUSD)
		fmt.Printf("  Monthly budget: $%.2f\n", cfg.Pulse.MonthlyBudgetUSD)
		fmt.Printf("  Scheduler interval: %v\n", tickerCfg.Interval)
		fmt.Printf("\nPress Ctrl+C for graceful shutdown\n\n")

		// Wait for interrupt signal
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		fmt.Printf("\nInitiating GRACE shutdown...\n")

		// Stop components in reverse order of startup
		ticker.Stop()
		pool.Stop()

		cancel()

		fmt.Printf("Ingest daemon stopped\n")
		return nil
	},
}

func init() {
	DaemonCmd.Flags().Int("workers", 0, "Number of concurrent workers (0 = from config)")
}
