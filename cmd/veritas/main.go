package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/veritas-nexus/veritas/cmd/veritas/commands"
	"github.com/veritas-nexus/veritas/logger"
)

var rootCmd = &cobra.Command{
	Use:   "veritas",
	Short: "veritas - transcript ingest pipeline and provenance engine",
	Long: `veritas - source ingestion, canonicalization, and provenance.

veritas ingests transcripts and documents from configured source
connectors, canonicalizes them into JSONL corpora, and seals every run
with a Merkle provenance tree so downstream consumers can verify what
was analyzed.

Available commands:
  serve   - Start the job API server (HTTP + WebSocket)
  daemon  - Run the worker pool and scheduler without the HTTP surface
  run     - Execute a single ingest run synchronously
  jobs    - Manage async ingest jobs
  watch   - Manage recurring source watches
  db      - Manage the job queue database
  config  - Manage configuration

Examples:
  veritas serve                         # Start the job API server
  veritas run --target <url>            # One-shot local ingest
  veritas jobs ls --status running      # List running jobs
  veritas watch ls                      # List recurring watches
  veritas config show                   # Show effective configuration`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize global logger before any command runs.
		// Skip for commands whose stdout is machine-readable.
		if cmd.Name() != "show" && cmd.Name() != "get" {
			if err := logger.Initialize(false); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.DaemonCmd)
	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.WatchCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
