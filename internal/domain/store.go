package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
	// Event restricts audit queries to one event type when set.
	Event string
}

// SnapshotStore persists ledger snapshots. Load returns ErrNotFound when no
// snapshot exists and an ErrCorruptState wrap when the stored one is invalid.
type SnapshotStore interface {
	Save(ctx context.Context, snap PortfolioSnapshot) error
	Load(ctx context.Context) (PortfolioSnapshot, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// DecisionStore persists controller decisions.
type DecisionStore interface {
	Insert(ctx context.Context, d Decision) error
	ListRecent(ctx context.Context, limit int) ([]Decision, error)
}
