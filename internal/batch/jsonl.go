package batch

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// maxLine bounds one JSONL line.
const maxLine = 1 << 20

// ReadItems parses JSON Lines input, one Item per line. Blank lines are
// skipped; unknown fields are rejected.
func ReadItems(r io.Reader) ([]Item, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)

	var (
		items []Item
		line  int
	)
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		var it Item
		if err := dec.Decode(&it); err != nil {
			return nil, lineError(line, err)
		}
		if it.Reference == "" {
			return nil, lineError(line, errors.New("reference is required"))
		}
		items = append(items, it)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("batch: read: %w", err)
	}
	if len(items) == 0 {
		return nil, ErrEmptyBatch
	}
	return items, nil
}

// WriteOutcomes writes outcomes as JSON Lines.
func WriteOutcomes(w io.Writer, outcomes []Outcome) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, o := range outcomes {
		if err := enc.Encode(o); err != nil {
			return fmt.Errorf("batch: write: %w", err)
		}
	}
	return nil
}
