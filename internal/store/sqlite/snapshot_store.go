// Package sqlite keeps a history of portfolio snapshots in a local SQLite
// database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/alanyoungcy/paperbot/internal/domain"
	"github.com/alanyoungcy/paperbot/internal/snapshot"
)

const schema = `
CREATE TABLE IF NOT EXISTS portfolio_snapshots (
  id           INTEGER PRIMARY KEY AUTOINCREMENT,
  portfolio_id TEXT NOT NULL,
  saved_at     TEXT NOT NULL,
  payload      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_portfolio_snapshots_portfolio
  ON portfolio_snapshots(portfolio_id, id);
`

// SnapshotStore implements domain.SnapshotStore. Every save appends a row;
// Load returns the newest one.
type SnapshotStore struct {
	db          *sql.DB
	portfolioID string
	keep        int
}

// Compile-time interface check.
var _ domain.SnapshotStore = (*SnapshotStore)(nil)

// Open opens (or creates) the database at path and applies the schema. keep
// bounds the retained history per portfolio; zero keeps everything.
func Open(path, portfolioID string, keep int) (*SnapshotStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("sqlite: mkdir: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_fk=1")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &SnapshotStore{db: db, portfolioID: portfolioID, keep: keep}, nil
}

// Close releases the database handle.
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

// Save appends snap and prunes history beyond the retention limit.
func (s *SnapshotStore) Save(ctx context.Context, snap domain.PortfolioSnapshot) error {
	data, err := snapshot.Encode(snap)
	if err != nil {
		return fmt.Errorf("sqlite: save: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: save: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO portfolio_snapshots (portfolio_id, saved_at, payload) VALUES (?, ?, ?)`,
		s.portfolioID, snap.SavedAt.UTC().Format(time.RFC3339Nano), string(data),
	); err != nil {
		return fmt.Errorf("sqlite: save: insert: %w", err)
	}
	if s.keep > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM portfolio_snapshots
			WHERE portfolio_id = ? AND id NOT IN (
			  SELECT id FROM portfolio_snapshots WHERE portfolio_id = ? ORDER BY id DESC LIMIT ?
			)`, s.portfolioID, s.portfolioID, s.keep); err != nil {
			return fmt.Errorf("sqlite: save: prune: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: save: commit: %w", err)
	}
	return nil
}

// Load returns the newest snapshot for the portfolio.
func (s *SnapshotStore) Load(ctx context.Context) (domain.PortfolioSnapshot, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM portfolio_snapshots WHERE portfolio_id = ? ORDER BY id DESC LIMIT 1`,
		s.portfolioID,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PortfolioSnapshot{}, fmt.Errorf("sqlite: load %s: %w", s.portfolioID, domain.ErrNotFound)
		}
		return domain.PortfolioSnapshot{}, fmt.Errorf("sqlite: load: %w", err)
	}
	snap, err := snapshot.Decode([]byte(payload))
	if err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("sqlite: load %s: %w", s.portfolioID, err)
	}
	return snap, nil
}
