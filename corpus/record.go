// Package corpus normalizes fetched source items into the canonical record
// schema and reads/writes the JSON-lines corpus stream.
package corpus

// Sentence is one text span of a canonical record.
type Sentence struct {
	Text string `json:"text"`
}

// Record is the normalized representation of one fetched source item.
// Records are created in discovery order and never mutated afterwards.
type Record struct {
	DocID     string         `json:"doc_id"`
	URL       string         `json:"url"`
	Sentences []Sentence     `json:"sentences"`
	Meta      map[string]any `json:"meta"`
}

// Item is a raw fetched source item before normalization: a stable id, the
// source URL, the text payload, and arbitrary connector metadata.
type Item struct {
	ID   string
	URL  string
	Text string
	Meta map[string]any
}

// Canonicalize maps fetched items to canonical records one-to-one,
// preserving input order. An item with empty text yields a record with an
// empty sentence list; nothing is filtered or reordered. Items whose source
// provides no finer segmentation become single-sentence records.
func Canonicalize(items []Item) []Record {
	records := make([]Record, 0, len(items))
	for _, it := range items {
		rec := Record{
			DocID:     it.ID,
			URL:       it.URL,
			Sentences: []Sentence{},
			Meta:      it.Meta,
		}
		if it.Text != "" {
			rec.Sentences = []Sentence{{Text: it.Text}}
		}
		if rec.Meta == nil {
			rec.Meta = map[string]any{}
		}
		records = append(records, rec)
	}
	return records
}
