package provenance

import (
	"github.com/veritas-nexus/veritas/corpus"
)

// Prov carries the per-sentence digests and the root that commits them.
type Prov struct {
	SentenceHashes []string `json:"sentence_hashes"`
	MerkleRoot     string   `json:"merkle_root"`
}

// Record is a canonical record augmented with its provenance commitment.
// Serialized as the canonical fields plus a "prov" object, one per line of
// the provenance corpus stream.
type Record struct {
	corpus.Record
	Prov Prov `json:"prov"`
}

// BuildRecord computes the provenance sibling of a canonical record. Pure:
// two records with identical sentence sequences yield identical output.
func BuildRecord(rec corpus.Record) Record {
	texts := make([]string, len(rec.Sentences))
	for i, s := range rec.Sentences {
		texts[i] = s.Text
	}

	hashes := HashSentences(texts)
	return Record{
		Record: rec,
		Prov: Prov{
			SentenceHashes: hashes,
			MerkleRoot:     MerkleRoot(hashes),
		},
	}
}

// VerifyRecord recomputes a record's provenance from its sentences and
// reports whether the recorded hashes and root still match.
func VerifyRecord(rec Record) bool {
	recomputed := BuildRecord(rec.Record)
	if recomputed.Prov.MerkleRoot != rec.Prov.MerkleRoot {
		return false
	}
	if len(recomputed.Prov.SentenceHashes) != len(rec.Prov.SentenceHashes) {
		return false
	}
	for i, h := range recomputed.Prov.SentenceHashes {
		if rec.Prov.SentenceHashes[i] != h {
			return false
		}
	}
	return true
}
