// Package analysis defines the claim-analysis boundary of the pipeline and
// ships a deterministic marker-based implementation. The pipeline depends
// only on the Analyzer interface; richer model-backed analyzers plug in
// behind it without touching the stage machine.
package analysis

import (
	"context"

	"github.com/veritas-nexus/veritas/provenance"
)

// Claim is one extracted assertion, tied to the canonical record it came
// from so its provenance hash chain stays checkable.
type Claim struct {
	DocID      string  `json:"doc_id"`
	Text       string  `json:"text"`
	Marker     string  `json:"marker"`
	Confidence float64 `json:"confidence"`
}

// Bridge links two claims from different documents that assert compatible
// things. The original fracture framing calls these unity bridges.
type Bridge struct {
	FromDocID  string  `json:"from_doc_id"`
	ToDocID    string  `json:"to_doc_id"`
	Similarity float64 `json:"similarity"`
}

// MissingItem records one item whose fetch failed during a run.
type MissingItem struct {
	VideoID string `json:"video_id"`
	Error   string `json:"error"`
}

// Notes carries the optional annotations block of a results document.
type Notes struct {
	MissingTranscripts []MissingItem `json:"missing_transcripts"`
}

// Results is the terminal output of a run. Claims and UnityBridges are
// always non-nil so the serialized form carries [] rather than null.
// RunFolder and Notes are filled by the pipeline, not the analyzer.
type Results struct {
	Claims        []Claim `json:"claims"`
	FractureScore float64 `json:"fracture_score"`
	UnityBridges  []Bridge `json:"unity_bridges"`
	RunFolder     string  `json:"run_folder"`
	Notes         *Notes  `json:"notes,omitempty"`
}

// Options narrows the run request to what analysis needs.
type Options struct {
	// Target is the run's source identifier, echoed into diagnostics.
	Target string

	// BudgetUSD is the per-run spend gate. The heuristic analyzer costs
	// nothing; model-backed analyzers bound their spend with it.
	BudgetUSD float64

	// MaxClaims caps extraction to bound the pairwise comparison work.
	// Zero means DefaultMaxClaims.
	MaxClaims int
}

// Analyzer turns a run's provenance records into results.
type Analyzer interface {
	Analyze(ctx context.Context, records []provenance.Record, opts Options) (*Results, error)
}
