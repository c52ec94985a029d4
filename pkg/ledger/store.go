package ledger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Store is durable storage for a whole ledger.
// Load returns ErrNotFound when nothing was saved yet and an error wrapping
// ErrCorrupt when the stored form cannot be parsed. Save replaces the whole
// ledger atomically.
type Store interface {
	Load(ctx context.Context) (Entries, error)
	Save(ctx context.Context, e Entries) error
	Location() string
	Close() error
}

// FileStore keeps the ledger as a JSON array in a single file.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Location returns the file path.
func (s *FileStore) Location() string {
	return s.path
}

// Load reads and parses the ledger file.
func (s *FileStore) Load(ctx context.Context) (Entries, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return decodeEntries(data)
}

// Save writes the ledger to a temp file and renames it over the target, so
// readers never see a partially written ledger.
func (s *FileStore) Save(ctx context.Context, e Entries) error {
	data, err := encodeEntries(e)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create ledger dir: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write ledger temp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename ledger temp: %w", err)
	}
	return nil
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}
