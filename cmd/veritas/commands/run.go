package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/veritas-nexus/veritas/analysis"
	"github.com/veritas-nexus/veritas/config"
	"github.com/veritas-nexus/veritas/connector"
	"github.com/veritas-nexus/veritas/logger"
	"github.com/veritas-nexus/veritas/pipeline"
	"github.com/veritas-nexus/veritas/runstore"
	"github.com/veritas-nexus/veritas/server"
)

// RunCmd executes a single ingest run synchronously
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a single ingest run synchronously",
	Long: `Execute one ingest run in the foreground, without the daemon or queue.

The run walks the full pipeline: discover items from the target,
canonicalize transcripts into a JSONL corpus, seal the corpus with a
provenance tree, and analyze the records. Artifacts land in the run
directory under the configured store root.

Examples:
  veritas run --target https://www.youtube.com/@somechannel
  veritas run --target https://example.com/page --connector web
  veritas run --target <url> --max-items 5 --budget 2.50`,
	RunE: runRun,
}

var (
	runTarget     string
	runConnectors []string
	runMaxItems   int
	runDepth      int
	runBudget     float64
	runOrder      string
	runSince      string
	runVideoIDs   []string
)

func init() {
	RunCmd.Flags().StringVar(&runTarget, "target", "", "Source to ingest (channel, playlist, page URL, or path)")
	RunCmd.Flags().StringSliceVar(&runConnectors, "connector", nil, "Connectors to enable, in discovery order (youtube, web, pdf)")
	RunCmd.Flags().IntVar(&runMaxItems, "max-items", 0, "Cap on discovered items (0 = default)")
	RunCmd.Flags().IntVar(&runDepth, "depth", 0, "Crawl depth for depth-aware connectors")
	RunCmd.Flags().Float64Var(&runBudget, "budget", 0, "Per-run budget gate in USD")
	RunCmd.Flags().StringVar(&runOrder, "order", "", "Which end of the timeline to keep (newest, oldest)")
	RunCmd.Flags().StringVar(&runSince, "since", "", "Drop items uploaded before this YYYYMMDD date")
	RunCmd.Flags().StringSliceVar(&runVideoIDs, "video-id", nil, "Explicit item IDs, bypassing discovery")
	RunCmd.MarkFlagRequired("target")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	req := &pipeline.RunRequest{
		Target:     runTarget,
		Connectors: runConnectors,
		MaxItems:   runMaxItems,
		CrawlDepth: runDepth,
		Order:      connector.Order(runOrder),
		Since:      runSince,
		VideoIDs:   runVideoIDs,
	}
	if runBudget > 0 {
		req.Gates = map[string]float64{pipeline.BudgetGate: runBudget}
	}
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid run request: %w", err)
	}

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

	jobID := "run-" + uuid.New().String()[:8]
	if err := runs.CreateRun(jobID, req); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	// Ctrl+C cancels the run; the pipeline records the interruption.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pterm.Info.Printf("Starting run %s (target %s)\n", jobID, req.Target)

	if err := runner.Run(ctx, jobID, req, nil); err != nil {
		pterm.Error.Printf("Run failed: %v\n", err)
		pterm.Info.Printf("Artifacts: %s\n", runs.RunDir(jobID))
		return err
	}

	raw, err := runs.ReadResults(jobID)
	if err != nil {
		return fmt.Errorf("run finished but results are unreadable: %w", err)
	}
	var results analysis.Results
	if err := json.Unmarshal(raw, &results); err != nil {
		return fmt.Errorf("run finished but results are unreadable: %w", err)
	}

	pterm.Success.Printf("Run %s complete\n", jobID)
	fmt.Printf("  Claims:         %d\n", len(results.Claims))
	fmt.Printf("  Fracture score: %.3f\n", results.FractureScore)
	fmt.Printf("  Unity bridges:  %d\n", len(results.UnityBridges))
	if results.Notes != nil && len(results.Notes.MissingTranscripts) > 0 {
		fmt.Printf("  Missing items:  %d\n", len(results.Notes.MissingTranscripts))
	}
	fmt.Printf("  Artifacts:      %s\n", runs.RunDir(jobID))
	return nil
}
