package commands

import (
	"fmt"

	"github.com/veritas-nexus/veritas/internal/version"
	"github.com/veritas-nexus/veritas/logger"
)

// printStartupBanner prints the user-friendly startup message
func printStartupBanner(verbosity int, dbPath, storeRoot string, port int) {
	// ANSI escape codes
	cyan := "\033[36m"
	green := "\033[32m"
	yellow := "\033[33m"
	blue := "\033[34m"
	bold := "\033[1m"
	reset := "\033[0m"

	versionInfo := version.Get()

	fmt.Printf("\n%s%s", cyan, bold)
	fmt.Printf("   ╔══════════════════════════════════════════╗\n")
	fmt.Printf("   ║                                          ║\n")
	fmt.Printf("   ║   ██    ██ ███████ ██████  ██ ████████   ║\n")
	fmt.Printf("   ║   ██    ██ ██      ██   ██ ██    ██      ║\n")
	fmt.Printf("   ║   ██    ██ █████   ██████  ██    ██      ║\n")
	fmt.Printf("   ║    ██  ██  ██      ██   ██ ██    ██      ║\n")
	fmt.Printf("   ║     ████   ███████ ██   ██ ██    ██      ║\n")
	fmt.Printf("   ║                                          ║\n")
	fmt.Printf("   ║   ingest · canonicalize · prove          ║\n")
	fmt.Printf("   ║                                          ║\n")
	fmt.Printf("   ╚══════════════════════════════════════════╝%s\n\n", reset)

	fmt.Printf("%s%s┌─ veritas Info ──────────────────────────────────────┐%s\n", green, bold, reset)
	fmt.Printf("%s│%s Version:   %s (commit %s)\n", green, reset, versionInfo.Version, versionInfo.Short())
	fmt.Printf("%s│%s Built:     %s\n", green, reset, versionInfo.BuildTime)
	fmt.Printf("%s│%s Verbosity: %s\n", green, reset, logger.LevelName(verbosity))
	if dbPath != "" {
		fmt.Printf("%s│%s Database:  %s\n", green, reset, dbPath)
	}
	if storeRoot != "" {
		fmt.Printf("%s│%s Store:     %s\n", green, reset, storeRoot)
	}
	if port > 0 {
		fmt.Printf("%s│%s Port:      %d\n", green, reset, port)
	}
	fmt.Printf("%s└─────────────────────────────────────────────────────┘%s\n", green, reset)

	fmt.Printf("\n%s%s✨ POST /jobs to start an ingest run%s\n", yellow, bold, reset)
	fmt.Printf("%s💡 Press Ctrl+C to stop%s\n\n", blue, reset)
}
