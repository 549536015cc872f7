package corpus

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/veritas-nexus/veritas/errors"
)

// maxLineBytes caps a single corpus line. Transcript segments are short but
// web and document extractions can run long.
const maxLineBytes = 4 * 1024 * 1024

// Writer appends records to a JSON-lines stream, one object per line.
type Writer struct {
	enc *json.Encoder
}

// NewWriter wraps w for record appending. The caller owns w's lifecycle.
func NewWriter(w io.Writer) *Writer {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Writer{enc: enc}
}

// Append writes one record as a single JSON line.
func (w *Writer) Append(rec any) error {
	if err := w.enc.Encode(rec); err != nil {
		return errors.Wrap(err, "append corpus record")
	}
	return nil
}

// WriteRecords appends every record to w in order.
func WriteRecords(w io.Writer, records []Record) error {
	cw := NewWriter(w)
	for _, rec := range records {
		if err := cw.Append(rec); err != nil {
			return err
		}
	}
	return nil
}

// ScanRecords streams records out of a JSON-lines reader, invoking fn for
// each in stream order. Blank lines are skipped; a malformed line aborts the
// scan with its line number.
func ScanRecords(r io.Reader, fn func(Record) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return errors.Wrapf(err, "decode corpus line %d", lineNo)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "scan corpus stream")
	}
	return nil
}

// ReadRecords loads an entire JSON-lines stream into memory. Prefer
// ScanRecords for large corpora.
func ReadRecords(r io.Reader) ([]Record, error) {
	var records []Record
	err := ScanRecords(r, func(rec Record) error {
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
