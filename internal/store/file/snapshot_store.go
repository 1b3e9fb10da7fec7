// Package file stores portfolio snapshots as a JSON document on local disk.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/alanyoungcy/paperbot/internal/domain"
	"github.com/alanyoungcy/paperbot/internal/snapshot"
)

// SnapshotStore implements domain.SnapshotStore on a single file. Writes go to
// a temporary sibling first and are renamed into place.
type SnapshotStore struct {
	path string
}

// Compile-time interface check.
var _ domain.SnapshotStore = (*SnapshotStore)(nil)

// NewSnapshotStore creates a store writing to path.
func NewSnapshotStore(path string) *SnapshotStore {
	return &SnapshotStore{path: path}
}

// Save writes snap atomically.
func (s *SnapshotStore) Save(ctx context.Context, snap domain.PortfolioSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := snapshot.Encode(snap)
	if err != nil {
		return fmt.Errorf("file: save: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("file: save: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("file: save: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("file: save: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("file: save: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file: save: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("file: save: rename: %w", err)
	}
	return nil
}

// Load reads and validates the stored snapshot.
func (s *SnapshotStore) Load(ctx context.Context) (domain.PortfolioSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.PortfolioSnapshot{}, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.PortfolioSnapshot{}, fmt.Errorf("file: load %s: %w", s.path, domain.ErrNotFound)
		}
		return domain.PortfolioSnapshot{}, fmt.Errorf("file: load: %w", err)
	}
	snap, err := snapshot.Decode(data)
	if err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("file: load %s: %w", s.path, err)
	}
	return snap, nil
}
