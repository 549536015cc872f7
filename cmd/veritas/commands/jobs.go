package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/veritas-nexus/veritas/config"
	"github.com/veritas-nexus/veritas/pulse/async"
	"github.com/veritas-nexus/veritas/runstore"
)

// JobsCmd represents the jobs command - async ingest job management
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage async ingest jobs",
	Long: `Manage async ingest jobs processed by the daemon.

Job management commands:
  veritas jobs ls               # List all jobs
  veritas jobs status <id>      # Show job details
  veritas jobs pause <id>       # Pause a queued or running job
  veritas jobs resume <id>      # Resume a paused job
  veritas jobs results <id>     # Print a completed job's results JSON`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// JobsLsCmd lists async jobs
var JobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List async jobs",
	Long: `List async jobs, optionally filtered by status.

Status filters:
  queued   - Jobs waiting to be processed
  running  - Jobs currently being processed
  paused   - Jobs that have been paused
  done     - Successfully completed jobs
  error    - Jobs that failed

Examples:
  veritas jobs ls                   # List all jobs
  veritas jobs ls --status running  # List only running jobs
  veritas jobs ls --limit 50        # Show up to 50 jobs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		statusFilter, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		return runJobsLs(statusFilter, limit)
	},
}

// JobsStatusCmd shows the status of an async job
var JobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show status of an async job",
	Long: `Display detailed status information for an async job:
- Job ID, stage, and source
- Current status (queued, running, paused, done, error)
- Progress fraction and run metrics
- Cost estimate and timestamps

Example:
  veritas jobs status run-abc123`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsStatus(args[0])
	},
}

// JobsPauseCmd pauses a queued or running async job
var JobsPauseCmd = &cobra.Command{
	Use:   "pause <job-id>",
	Short: "Pause a queued or running async job",
	Long: `Pause an async job. Can be resumed later with 'veritas jobs resume'.

Example:
  veritas jobs pause run-abc123`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsPause(args[0])
	},
}

// JobsResumeCmd resumes a paused async job
var JobsResumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Resume a paused async job",
	Long: `Resume a paused async job. Processing continues from where it left off.

Example:
  veritas jobs resume run-abc123`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsResume(args[0])
	},
}

// JobsResultsCmd prints a completed job's results document
var JobsResultsCmd = &cobra.Command{
	Use:   "results <job-id>",
	Short: "Print a completed job's results JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsResults(args[0])
	},
}

func init() {
	JobsLsCmd.Flags().String("status", "", "Filter by status (queued, running, paused, done, error)")
	JobsLsCmd.Flags().Int("limit", 20, "Maximum number of jobs to display")

	JobsCmd.AddCommand(JobsLsCmd)
	JobsCmd.AddCommand(JobsStatusCmd)
	JobsCmd.AddCommand(JobsPauseCmd)
	JobsCmd.AddCommand(JobsResumeCmd)
	JobsCmd.AddCommand(JobsResultsCmd)
}

// runJobsLs lists async jobs
func runJobsLs(statusFilter string, limit int) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	queue := async.NewQueue(database)

	// Convert status filter to pointer (empty string = nil = all jobs)
	var status *async.JobStatus
	if statusFilter != "" {
		if !async.IsValidStatus(statusFilter) {
			return fmt.Errorf("invalid status filter %q", statusFilter)
		}
		s := async.JobStatus(statusFilter)
		status = &s
	}

	jobs, err := queue.ListJobs(status, limit)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	// Print table header
	fmt.Printf("%-15s %-10s %-14s %-10s %-30s %s\n", "JOB ID", "STATUS", "STAGE", "PROGRESS", "SOURCE", "CREATED")
	fmt.Printf("%-15s %-10s %-14s %-10s %-30s %s\n", "------", "------", "-----", "--------", "------", "-------")

	for _, job := range jobs {
		fmt.Printf("%-15s %-10s %-14s %-10s %-30s %s\n",
			truncate(job.ID, 15),
			job.Status,
			truncate(job.Stage, 14),
			fmt.Sprintf("%.0f%%", job.Progress*100),
			truncate(job.Source, 30),
			job.CreatedAt.Format("2006-01-02 15:04"))
	}

	fmt.Printf("\nTotal: %d job(s)\n", len(jobs))
	return nil
}

// runJobsStatus displays detailed status for a job
func runJobsStatus(jobID string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	queue := async.NewQueue(database)
	job, err := queue.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}

	fmt.Printf("Job ID: %s\n", job.ID)
	fmt.Printf("  Source: %s\n", job.Source)
	fmt.Printf("  Status: %s\n", job.Status)
	fmt.Printf("  Stage:  %s\n", job.Stage)
	fmt.Printf("\n")

	fmt.Printf("Progress: %.0f%%\n", job.Progress*100)
	if len(job.Metrics) > 0 {
		fmt.Printf("Metrics:\n")
		for name, value := range job.Metrics {
			fmt.Printf("  %s: %g\n", name, value)
		}
	}
	fmt.Printf("\n")

	fmt.Printf("Cost Estimate: $%.3f\n", job.CostEstimate)
	if job.CostActual > 0 {
		fmt.Printf("Actual Cost: $%.3f\n", job.CostActual)
	}
	if job.PulseState != nil && job.PulseState.IsPaused {
		fmt.Printf("Pause Reason: %s\n", job.PulseState.PauseReason)
	}
	if job.Error != "" {
		fmt.Printf("Error: %s\n", job.Error)
	}
	fmt.Printf("\n")

	fmt.Printf("Created: %s\n", job.CreatedAt.Format("2006-01-02 15:04:05"))
	if job.StartedAt != nil {
		fmt.Printf("Started: %s\n", job.StartedAt.Format("2006-01-02 15:04:05"))
	}
	if job.CompletedAt != nil {
		fmt.Printf("Completed: %s\n", job.CompletedAt.Format("2006-01-02 15:04:05"))
	}

	return nil
}

// runJobsPause pauses a job
func runJobsPause(jobID string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	queue := async.NewQueue(database)
	if err := queue.PauseJob(jobID, "user_requested"); err != nil {
		return fmt.Errorf("failed to pause job: %w", err)
	}

	fmt.Printf("Job %s paused\n", jobID)
	return nil
}

// runJobsResume resumes a paused job
func runJobsResume(jobID string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	queue := async.NewQueue(database)
	if err := queue.ResumeJob(jobID); err != nil {
		return fmt.Errorf("failed to resume job: %w", err)
	}

	fmt.Printf("Job %s resumed\n", jobID)
	return nil
}

// runJobsResults prints the stored results document for a completed job
func runJobsResults(jobID string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	runs := runstore.New(cfg.Store.Root)
	raw, err := runs.ReadResults(jobID)
	if err != nil {
		return fmt.Errorf("results not available for %s: %w", jobID, err)
	}

	fmt.Println(string(raw))
	return nil
}

// truncate shortens s to maxLen runes, marking the cut with an ellipsis.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
