// Package provenance commits sentence lists to tamper-evident Merkle roots.
//
// Every canonical record gets one digest per sentence plus a single root
// folding those digests pairwise. The functions here are pure: same
// sentences in, same root out, no I/O and no state. Verification recomputes
// from scratch and compares.
//
// Digests are SHA-256 hex strings, and the pairing rule concatenates the
// HEX STRINGS (not the raw digest bytes) before rehashing. That choice is
// part of the wire contract: roots recorded by one run must be reproducible
// byte-for-byte by any later verifier.
package provenance

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashSentence returns the lowercase hex SHA-256 digest of a sentence text.
func HashSentence(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// HashSentences maps an ordered sentence list to its ordered digest list.
// Output length and order always match the input.
func HashSentences(texts []string) []string {
	digests := make([]string, len(texts))
	for i, t := range texts {
		digests[i] = HashSentence(t)
	}
	return digests
}

// MerkleRoot folds an ordered digest list into a single root digest.
//
// Rules, applied uniformly at every level:
//   - empty input: root is the hash of the empty string
//   - odd-length level: the last digest is duplicated before pairing
//   - pairing: next-level digest = sha256(left_hex + right_hex)
//
// A singleton list therefore folds through the same duplicate-and-pair rule
// (root = h(d+d)) rather than passing the digest through unchanged. Order
// matters: permuting the input changes the root except in degenerate cases.
func MerkleRoot(digests []string) string {
	if len(digests) == 0 {
		return HashSentence("")
	}

	layer := make([]string, len(digests))
	copy(layer, digests)

	// A singleton is a one-leaf tree: it still folds once through the
	// duplicate-and-pair rule instead of passing through unchanged.
	if len(layer) == 1 {
		layer = append(layer, layer[0])
	}

	for len(layer) > 1 {
		if len(layer)%2 == 1 {
			layer = append(layer, layer[len(layer)-1])
		}
		next := make([]string, 0, len(layer)/2)
		for i := 0; i < len(layer); i += 2 {
			next = append(next, HashSentence(layer[i]+layer[i+1]))
		}
		layer = next
	}

	return layer[0]
}
