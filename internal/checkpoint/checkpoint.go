// Package checkpoint persists per-forum crawl progress so an interrupted
// run can be resumed.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nao1215/darkwatch/internal/model"
)

// fileVersion is bumped when the file layout changes.
const fileVersion = 1

// ErrVersion is returned when the checkpoint file has an unknown layout.
var ErrVersion = errors.New("unsupported checkpoint file version")

// File is the on-disk layout.
type File struct {
	Version   int                          `json:"version"`
	RunID     string                       `json:"run_id"`
	UpdatedAt time.Time                    `json:"updated_at"`
	Forums    map[string]*model.Checkpoint `json:"forums"`
}

// Store keeps every forum's checkpoint in one JSON file. Each Save rewrites
// the file through a temporary file and a rename, so readers see either the
// previous or the new state. It is safe for concurrent use.
type Store struct {
	path string

	mu   sync.Mutex
	file File
}

// New returns an empty store for runID. A file already at path is
// replaced on the first Save.
func New(path, runID string) *Store {
	return &Store{
		path: path,
		file: File{Version: fileVersion, RunID: runID, Forums: make(map[string]*model.Checkpoint)},
	}
}

// Open loads the checkpoint file at path. A missing file gives an empty
// store for runID; an existing file keeps its own run ID.
func Open(path, runID string) (*Store, error) {
	s := New(path, runID)

	data, err := os.ReadFile(filepath.Clean(path))
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint %s: %w", path, err)
	}
	if f.Version != fileVersion {
		return nil, fmt.Errorf("%w: %d", ErrVersion, f.Version)
	}
	if f.Forums == nil {
		f.Forums = make(map[string]*model.Checkpoint)
	}
	s.file = f
	return s, nil
}

// RunID returns the run the checkpoints belong to.
func (s *Store) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.RunID
}

// Get returns a copy of the checkpoint of forumKey, or nil.
func (s *Store) Get(forumKey string) *model.Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.file.Forums[forumKey]
	if !ok {
		return nil
	}
	return cp.Clone()
}

// Save records cp and writes the file.
func (s *Store) Save(cp *model.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.file.Forums[cp.ForumKey] = cp.Clone()
	s.file.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(&s.file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	return writeAtomic(s.path, data)
}

// Path returns the checkpoint file path.
func (s *Store) Path() string {
	return s.path
}

func writeAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}
	return nil
}
