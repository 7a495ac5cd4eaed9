// Package results appends completed task records to JSON collection
// files, durably: every append rewrites the whole collection, and a
// failed rewrite falls back to a backup file so a finished task's data
// is never lost.
package results

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/veridia/adscan/extract"
	"github.com/veridia/adscan/filterspec"
)

// Record is the unit of output: everything gathered for one task.
type Record struct {
	Region      string               `json:"region"`
	Query       string               `json:"query"`
	Owner       string               `json:"owner,omitempty"`
	Filters     filterspec.Spec      `json:"filters"`
	Suggestions []extract.Suggestion `json:"suggestions,omitempty"`
	Items       []extract.Item       `json:"items"`
	CompletedAt time.Time            `json:"completed_at"`
}

// Sink writes records for output IDs under one directory.
//
// In append mode an output ID always maps to "<id>.json", accumulating
// across runs. Otherwise the first write of a run claims the next free
// "<id>NNN.json" and the run keeps appending there.
type Sink struct {
	dir        string
	appendMode bool
	log        *slog.Logger

	mu    sync.Mutex
	paths map[string]string
}

// New returns a Sink rooted at dir, creating it if needed.
func New(dir string, appendMode bool, log *slog.Logger) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("results: mkdir: %w", err)
	}
	return &Sink{
		dir:        dir,
		appendMode: appendMode,
		log:        log,
		paths:      make(map[string]string),
	}, nil
}

// Append adds rec to the collection for outputID. On primary write
// failure it writes a single-record backup file next to the primary and
// only reports an error if the backup fails too.
func (s *Sink) Append(outputID string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.pathFor(outputID)
	if err != nil {
		return err
	}

	records := s.readAll(path)
	records = append(records, rec)

	if err := writeCollection(path, records); err != nil {
		s.log.Warn("results: primary write failed, falling back to backup",
			"path", path, "error", err)
		backup := filepath.Join(s.dir, "backup_"+filepath.Base(path))
		if berr := writeCollection(backup, []Record{rec}); berr != nil {
			return fmt.Errorf("results: primary write failed (%v) and backup failed: %w", err, berr)
		}
		s.log.Warn("results: record saved to backup file", "path", backup)
		return nil
	}
	return nil
}

// Read returns the collection currently stored for outputID. A missing
// collection is an empty one.
func (s *Sink) Read(outputID string) ([]Record, error) {
	s.mu.Lock()
	path, err := s.pathFor(outputID)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("results: read %s: %w", path, err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("results: decode %s: %w", path, err)
	}
	return records, nil
}

// Path reports the file an output ID resolves to.
func (s *Sink) Path(outputID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pathFor(outputID)
}

// pathFor resolves and caches the collection file for outputID.
// Callers hold s.mu.
func (s *Sink) pathFor(outputID string) (string, error) {
	if p, ok := s.paths[outputID]; ok {
		return p, nil
	}
	if s.appendMode {
		p := filepath.Join(s.dir, outputID+".json")
		s.paths[outputID] = p
		return p, nil
	}
	for n := 0; ; n++ {
		p := filepath.Join(s.dir, fmt.Sprintf("%s%03d.json", outputID, n))
		if _, err := os.Stat(p); os.IsNotExist(err) {
			s.paths[outputID] = p
			return p, nil
		} else if err != nil {
			return "", fmt.Errorf("results: stat %s: %w", p, err)
		}
	}
}

// readAll loads the existing collection at path. Missing, unreadable or
// non-list content degrades to an empty collection with a warning, so an
// operator-mangled file costs history but never the current record.
func (s *Sink) readAll(path string) []Record {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("results: existing collection unreadable, starting empty",
				"path", path, "error", err)
		}
		return nil
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		s.log.Warn("results: existing collection not a record list, starting empty",
			"path", path, "error", err)
		return nil
	}
	return records
}

// writeCollection writes records to path via a temp file and rename.
func writeCollection(path string, records []Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("results: marshal: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".results-*.tmp")
	if err != nil {
		return fmt.Errorf("results: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("results: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("results: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("results: rename: %w", err)
	}
	return nil
}
