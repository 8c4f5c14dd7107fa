package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore writes snapshots to a JSON file. Each Save replaces the file
// with a rename, so a concurrent reader sees either the previous or the new
// snapshot, never a partial one.
type FileStore struct {
	path string
}

// NewFileStore returns a store writing to path. The parent directory is
// created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the snapshot file path.
func (s *FileStore) Path() string {
	return s.path
}

// Save atomically replaces the snapshot file.
func (s *FileStore) Save(c CountState) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal counts: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	// the temp file must live on the same filesystem for rename to be atomic
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write counts: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync counts: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}

// Load reads the snapshot file. ok is false when the file does not exist.
func (s *FileStore) Load() (CountState, bool, error) {
	return ReadSnapshot(s.path)
}

// ReadSnapshot reads a snapshot file written by FileStore. Unknown fields are
// ignored. ok is false when the file does not exist.
func ReadSnapshot(path string) (c CountState, ok bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return CountState{}, false, nil
	}
	if err != nil {
		return CountState{}, false, fmt.Errorf("failed to read counts: %w", err)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return CountState{}, false, fmt.Errorf("failed to parse counts %s: %w", path, err)
	}
	return c, true, nil
}
