// Package transcript persists the round-by-round transcript a
// count.Engine produces (spec.md §6 "transcript store").
package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/opencount/senate-stv/count"
)

// JSONStore writes a transcript to a JSON file. In array mode (the
// default) every round is buffered in memory and the whole array is
// written atomically by Finalize, via a temp-file-then-rename, so a
// reader never observes a partially-written file. In incremental mode
// each round is appended to the file immediately as one NDJSON line,
// trading atomicity for visibility into a long-running count before it
// finishes.
type JSONStore struct {
	path        string
	incremental bool

	mu      sync.Mutex
	records []count.RoundRecord

	file *os.File
	enc  *json.Encoder
}

// NewJSONStore opens a transcript store writing to path. When
// incremental is true, rounds are flushed to disk as they arrive
// (NDJSON, one RoundRecord per line); otherwise Finalize must be called
// once the count completes to write the full JSON array.
func NewJSONStore(path string, incremental bool) (*JSONStore, error) {
	s := &JSONStore{path: path, incremental: incremental}
	if incremental {
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("transcript: creating %s: %w", path, err)
		}
		s.file = f
		s.enc = json.NewEncoder(f)
	}
	return s, nil
}

// Append records one finished round. Safe to call from outside the
// engine's call stack, after Step returns (spec.md §5).
func (s *JSONStore) Append(rec count.RoundRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, rec)
	if s.incremental {
		if err := s.enc.Encode(rec); err != nil {
			return fmt.Errorf("transcript: writing round %d: %w", rec.Number, err)
		}
	}
	return nil
}

// Finalize writes the accumulated transcript as one JSON array,
// atomically. In incremental mode this only flushes and closes the
// NDJSON file already on disk; the array is not additionally written.
func (s *JSONStore) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.incremental {
		return s.file.Close()
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".transcript-*.json.tmp")
	if err != nil {
		return fmt.Errorf("transcript: creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := json.NewEncoder(w).Encode(s.records); err != nil {
		tmp.Close()
		return fmt.Errorf("transcript: encoding transcript: %w", err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("transcript: flushing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("transcript: closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("transcript: renaming into place: %w", err)
	}
	return nil
}
