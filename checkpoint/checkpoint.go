// Package checkpoint persists the set of completed task keys so an
// interrupted run can resume without repeating work.
//
// The file is plain JSON. Loading never fails: a missing, unreadable or
// corrupt file degrades to an empty set with a logged warning, because a
// lost checkpoint only costs repeated work while a hard failure would
// cost the whole run.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/veridia/adscan/tasks"
)

// Store reads and writes one checkpoint file scoped to a run mode.
type Store struct {
	path string
	mode string
	log  *slog.Logger

	completed map[tasks.Key]struct{}
	order     []tasks.Key
}

type fileFormat struct {
	Mode      string      `json:"mode"`
	SavedAt   time.Time   `json:"saved_at"`
	Completed [][3]string `json:"completed"`
}

// Open loads the checkpoint at path for the given run mode. A checkpoint
// written by a different mode is ignored and the run starts fresh.
func Open(path, mode string, log *slog.Logger) *Store {
	s := &Store{
		path:      path,
		mode:      mode,
		log:       log,
		completed: make(map[tasks.Key]struct{}),
	}
	s.load()
	return s
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("checkpoint: unreadable, starting fresh", "path", s.path, "error", err)
		}
		return
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err == nil && f.Completed != nil {
		if f.Mode != "" && f.Mode != s.mode {
			s.log.Warn("checkpoint: written by another mode, starting fresh",
				"path", s.path, "file_mode", f.Mode, "run_mode", s.mode)
			return
		}
		for _, t := range f.Completed {
			s.add(tasks.Key{Region: t[0], Query: t[1], Owner: t[2]})
		}
		return
	}

	// Legacy format: a bare list of [region, query, owner] tuples where
	// the owner element may be null or absent.
	var legacy [][]*string
	if err := json.Unmarshal(data, &legacy); err != nil {
		s.log.Warn("checkpoint: corrupt, starting fresh", "path", s.path, "error", err)
		return
	}
	for _, t := range legacy {
		var k tasks.Key
		if len(t) > 0 && t[0] != nil {
			k.Region = *t[0]
		}
		if len(t) > 1 && t[1] != nil {
			k.Query = *t[1]
		}
		if len(t) > 2 && t[2] != nil {
			k.Owner = *t[2]
		}
		s.add(k)
	}
}

func (s *Store) add(k tasks.Key) {
	if _, ok := s.completed[k]; ok {
		return
	}
	s.completed[k] = struct{}{}
	s.order = append(s.order, k)
}

// Done reports whether k was completed by this or a previous run.
func (s *Store) Done(k tasks.Key) bool {
	_, ok := s.completed[k]
	return ok
}

// Completed returns the completed set keyed for tasks.Pending.
func (s *Store) Completed() map[tasks.Key]struct{} {
	out := make(map[tasks.Key]struct{}, len(s.completed))
	for k := range s.completed {
		out[k] = struct{}{}
	}
	return out
}

// Len returns the number of completed keys.
func (s *Store) Len() int { return len(s.completed) }

// Mark records k as completed and saves the checkpoint durably.
func (s *Store) Mark(k tasks.Key) error {
	s.add(k)
	return s.save()
}

// save writes the checkpoint to a temp file in the same directory and
// renames it over the destination.
func (s *Store) save() error {
	f := fileFormat{
		Mode:      s.mode,
		SavedAt:   time.Now().UTC(),
		Completed: make([][3]string, 0, len(s.order)),
	}
	for _, k := range s.order {
		f.Completed = append(f.Completed, [3]string{k.Region, k.Query, k.Owner})
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("checkpoint: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("checkpoint: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("checkpoint: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("checkpoint: rename: %w", err)
	}
	return nil
}
