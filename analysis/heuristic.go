package analysis

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/veritas-nexus/veritas/provenance"
)

const (
	// DefaultMaxClaims bounds pairwise comparison work per run.
	DefaultMaxClaims = 200

	// bridgeThreshold is the minimum token overlap for two claims to be
	// considered about the same thing.
	bridgeThreshold = 0.5
)

// claimMarkers are the cues that promote a sentence to a claim. Matching is
// case-insensitive on whole sentences.
var claimMarkers = []string{
	"always",
	"never",
	"everyone",
	"nobody",
	"must",
	"proves",
	"proof that",
	"the truth is",
	"in fact",
	"guarantee",
	"i believe",
	"we believe",
	"there is no",
	"it is certain",
}

// negationTokens flip a claim's polarity for fracture detection.
var negationTokens = map[string]bool{
	"not":    true,
	"never":  true,
	"no":     true,
	"nobody": true,
	"cannot": true,
	"isnt":   true,
	"dont":   true,
	"doesnt": true,
	"wont":   true,
}

// stopwords are excluded from overlap comparison.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "to": true,
	"of": true, "in": true, "on": true, "at": true, "and": true,
	"or": true, "it": true, "this": true, "that": true, "i": true,
	"we": true, "you": true, "they": true, "he": true, "she": true,
}

// HeuristicAnalyzer extracts claims by marker matching and scores fracture
// from polarity-opposed claim pairs. Deterministic: the same records always
// produce the same results.
type HeuristicAnalyzer struct {
	logger *zap.SugaredLogger
}

// NewHeuristicAnalyzer builds the zero-cost default analyzer.
func NewHeuristicAnalyzer(logger *zap.SugaredLogger) *HeuristicAnalyzer {
	return &HeuristicAnalyzer{logger: logger}
}

// Analyze implements Analyzer.
func (a *HeuristicAnalyzer) Analyze(ctx context.Context, records []provenance.Record, opts Options) (*Results, error) {
	maxClaims := opts.MaxClaims
	if maxClaims <= 0 {
		maxClaims = DefaultMaxClaims
	}

	claims := extractClaims(records, maxClaims)

	// Pairwise comparison drives both scores; one pass builds both.
	var bridges []Bridge
	opposed := 0
	comparable := 0

	for i := 0; i < len(claims); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tokensI := contentTokens(claims[i].Text)
		for j := i + 1; j < len(claims); j++ {
			if claims[i].DocID == claims[j].DocID {
				continue
			}
			tokensJ := contentTokens(claims[j].Text)
			similarity := jaccard(tokensI, tokensJ)
			if similarity < bridgeThreshold {
				continue
			}

			comparable++
			if hasNegation(claims[i].Text) != hasNegation(claims[j].Text) {
				opposed++
				continue
			}
			bridges = append(bridges, Bridge{
				FromDocID:  claims[i].DocID,
				ToDocID:    claims[j].DocID,
				Similarity: similarity,
			})
		}
	}

	score := 0.0
	if comparable > 0 {
		score = float64(opposed) / float64(comparable)
	}

	if bridges == nil {
		bridges = []Bridge{}
	}

	a.logger.Debugw("Heuristic analysis complete",
		"target", opts.Target,
		"records", len(records),
		"claims", len(claims),
		"bridges", len(bridges),
		"fracture_score", score,
	)

	return &Results{
		Claims:        claims,
		FractureScore: score,
		UnityBridges:  bridges,
	}, nil
}

// extractClaims scans sentences in record order so output order is stable.
func extractClaims(records []provenance.Record, maxClaims int) []Claim {
	claims := []Claim{}
	for _, rec := range records {
		for _, sentence := range rec.Sentences {
			if len(claims) >= maxClaims {
				return claims
			}
			lower := strings.ToLower(sentence.Text)

			var matched []string
			for _, marker := range claimMarkers {
				if strings.Contains(lower, marker) {
					matched = append(matched, marker)
				}
			}
			if len(matched) == 0 {
				continue
			}
			sort.Strings(matched)

			// Base confidence 0.5, +0.1 per extra marker, capped at 0.9.
			confidence := 0.5 + 0.1*float64(len(matched)-1)
			if confidence > 0.9 {
				confidence = 0.9
			}

			claims = append(claims, Claim{
				DocID:      rec.DocID,
				Text:       sentence.Text,
				Marker:     matched[0],
				Confidence: confidence,
			})
		}
	}
	return claims
}

func contentTokens(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, field := range strings.Fields(strings.ToLower(text)) {
		word := strings.Trim(field, ".,;:!?'\"()")
		word = strings.ReplaceAll(word, "'", "")
		if word == "" || stopwords[word] || negationTokens[word] {
			continue
		}
		tokens[word] = true
	}
	return tokens
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for token := range a {
		if b[token] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

func hasNegation(text string) bool {
	for _, field := range strings.Fields(strings.ToLower(text)) {
		word := strings.Trim(field, ".,;:!?'\"()")
		word = strings.ReplaceAll(word, "'", "")
		if negationTokens[word] {
			return true
		}
	}
	return false
}
