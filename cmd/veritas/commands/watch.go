package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/veritas-nexus/veritas/pipeline"
	"github.com/veritas-nexus/veritas/pulse/schedule"
)

// WatchCmd represents the watch command - recurring source watches
var WatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Manage recurring source watches",
	Long: `Manage recurring source watches.

A watch re-ingests one source on a fixed interval. The scheduler inside
'veritas serve' or 'veritas daemon' fires due watches by enqueueing
ingest jobs; a fire is skipped while a previous run of the same source
is still active.

Watch management commands:
  veritas watch ls                  # List watches
  veritas watch add ...             # Create a watch
  veritas watch pause <id>          # Suspend firing
  veritas watch resume <id>         # Resume firing
  veritas watch rm <id>             # Soft-delete a watch
  veritas watch history <id>        # Show recent executions`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var watchLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List watches",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return runWatchLs(limit)
	},
}

var watchAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a recurring watch",
	Long: `Create a watch that re-ingests a source on a fixed interval.

Examples:
  veritas watch add --target https://www.youtube.com/@somechannel --interval 3600
  veritas watch add --target https://example.com --connector web --interval 86400 --label daily-example`,
	RunE: runWatchAdd,
}

var watchPauseCmd = &cobra.Command{
	Use:   "pause <watch-id>",
	Short: "Suspend a watch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatchSetState(args[0], schedule.StatePaused, "paused")
	},
}

var watchResumeCmd = &cobra.Command{
	Use:   "resume <watch-id>",
	Short: "Resume a suspended watch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatchSetState(args[0], schedule.StateActive, "resumed")
	},
}

var watchRmCmd = &cobra.Command{
	Use:   "rm <watch-id>",
	Short: "Soft-delete a watch",
	Long:  "Soft-delete a watch. The row and its execution history are kept.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatchSetState(args[0], schedule.StateDeleted, "deleted")
	},
}

var watchHistoryCmd = &cobra.Command{
	Use:   "history <watch-id>",
	Short: "Show recent executions of a watch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return runWatchHistory(args[0], limit)
	},
}

var (
	watchAddLabel      string
	watchAddTarget     string
	watchAddConnectors []string
	watchAddInterval   int
	watchAddMaxItems   int
	watchAddBudget     float64
)

func init() {
	watchLsCmd.Flags().Int("limit", 50, "Maximum number of watches to display")
	watchHistoryCmd.Flags().Int("limit", 20, "Maximum number of executions to display")

	watchAddCmd.Flags().StringVar(&watchAddLabel, "label", "", "Human-readable handle for listings")
	watchAddCmd.Flags().StringVar(&watchAddTarget, "target", "", "Source to re-ingest")
	watchAddCmd.Flags().StringSliceVar(&watchAddConnectors, "connector", nil, "Connectors to enable, in discovery order")
	watchAddCmd.Flags().IntVar(&watchAddInterval, "interval", 3600, "Seconds between fires (minimum 60)")
	watchAddCmd.Flags().IntVar(&watchAddMaxItems, "max-items", 0, "Cap on discovered items per fire")
	watchAddCmd.Flags().Float64Var(&watchAddBudget, "budget", 0, "Per-run budget gate in USD")
	watchAddCmd.MarkFlagRequired("target")

	WatchCmd.AddCommand(watchLsCmd)
	WatchCmd.AddCommand(watchAddCmd)
	WatchCmd.AddCommand(watchPauseCmd)
	WatchCmd.AddCommand(watchResumeCmd)
	WatchCmd.AddCommand(watchRmCmd)
	WatchCmd.AddCommand(watchHistoryCmd)
}

func runWatchLs(limit int) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	store := schedule.NewStore(database)
	watches, err := store.ListWatches(limit)
	if err != nil {
		return fmt.Errorf("failed to list watches: %w", err)
	}

	if len(watches) == 0 {
		fmt.Println("No watches found")
		return nil
	}

	fmt.Printf("%-38s %-16s %-8s %-10s %-30s %s\n", "WATCH ID", "LABEL", "STATE", "INTERVAL", "SOURCE", "NEXT RUN")
	fmt.Printf("%-38s %-16s %-8s %-10s %-30s %s\n", "--------", "-----", "-----", "--------", "------", "--------")

	for _, w := range watches {
		fmt.Printf("%-38s %-16s %-8s %-10s %-30s %s\n",
			w.ID,
			truncate(w.Label, 16),
			w.State,
			w.Interval().String(),
			truncate(w.Source, 30),
			w.NextRunAt.Format("2006-01-02 15:04"))
	}

	fmt.Printf("\nTotal: %d watch(es)\n", len(watches))
	return nil
}

func runWatchAdd(cmd *cobra.Command, args []string) error {
	req := &pipeline.RunRequest{
		Target:     watchAddTarget,
		Connectors: watchAddConnectors,
		MaxItems:   watchAddMaxItems,
	}
	if watchAddBudget > 0 {
		req.Gates = map[string]float64{pipeline.BudgetGate: watchAddBudget}
	}
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid run request: %w", err)
	}

	payload, err := req.Payload()
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	w, err := schedule.NewWatch(watchAddLabel, pipeline.HandlerName, req.Target, payload, watchAddInterval)
	if err != nil {
		return fmt.Errorf("invalid watch: %w", err)
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	store := schedule.NewStore(database)
	if err := store.CreateWatch(w); err != nil {
		return fmt.Errorf("failed to create watch: %w", err)
	}

	fmt.Printf("Watch %s created\n", w.ID)
	fmt.Printf("  Source:   %s\n", w.Source)
	fmt.Printf("  Interval: %s\n", w.Interval())
	fmt.Printf("  Next run: %s\n", w.NextRunAt.Format("2006-01-02 15:04:05"))
	return nil
}

func runWatchSetState(watchID, newState, verb string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	store := schedule.NewStore(database)
	if err := store.UpdateState(watchID, newState); err != nil {
		return fmt.Errorf("failed to update watch: %w", err)
	}

	fmt.Printf("Watch %s %s\n", watchID, verb)
	return nil
}

func runWatchHistory(watchID string, limit int) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	// Resolve the watch first so an unknown id fails with a clear error
	store := schedule.NewStore(database)
	if _, err := store.GetWatch(watchID); err != nil {
		return fmt.Errorf("failed to get watch: %w", err)
	}

	executions := schedule.NewExecutionStore(database)
	execs, total, err := executions.ListExecutions(watchID, limit, 0, "")
	if err != nil {
		return fmt.Errorf("failed to list executions: %w", err)
	}

	if len(execs) == 0 {
		fmt.Println("No executions recorded")
		return nil
	}

	fmt.Printf("%-38s %-10s %-15s %s\n", "EXECUTION ID", "STATUS", "JOB ID", "FIRED")
	fmt.Printf("%-38s %-10s %-15s %s\n", "------------", "------", "------", "-----")

	for _, e := range execs {
		jobID := "-"
		if e.JobID != nil {
			jobID = *e.JobID
		}
		fmt.Printf("%-38s %-10s %-15s %s\n",
			e.ID,
			e.Status,
			truncate(jobID, 15),
			e.StartedAt.Format("2006-01-02 15:04:05"))
	}

	fmt.Printf("\nShowing %d of %d execution(s)\n", len(execs), total)
	return nil
}
