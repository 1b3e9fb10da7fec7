package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/alanyoungcy/paperbot/internal/domain"
	"github.com/alanyoungcy/paperbot/internal/snapshot"
)

// SnapshotStore implements domain.SnapshotStore on object storage. Each save
// writes snapshots/{portfolio}/latest.json plus a timestamped copy under
// history/, pruned to the newest keep copies when a deleter is available.
type SnapshotStore struct {
	writer  domain.BlobWriter
	reader  domain.BlobReader
	deleter domain.BlobDeleter
	id      string
	keep    int
	now     func() time.Time
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)

// NewSnapshotStore creates a SnapshotStore. deleter may be nil, in which case
// history is never pruned.
func NewSnapshotStore(w domain.BlobWriter, r domain.BlobReader, d domain.BlobDeleter, portfolioID string, keep int) *SnapshotStore {
	return &SnapshotStore{
		writer:  w,
		reader:  r,
		deleter: d,
		id:      portfolioID,
		keep:    keep,
		now:     time.Now,
	}
}

func (s *SnapshotStore) latestKey() string {
	return fmt.Sprintf("snapshots/%s/latest.json", s.id)
}

func (s *SnapshotStore) historyPrefix() string {
	return fmt.Sprintf("snapshots/%s/history/", s.id)
}

// Save uploads snap as latest and as a history entry.
func (s *SnapshotStore) Save(ctx context.Context, snap domain.PortfolioSnapshot) error {
	data, err := snapshot.Encode(snap)
	if err != nil {
		return fmt.Errorf("s3blob: save snapshot: %w", err)
	}

	histKey := s.historyPrefix() + s.now().UTC().Format("20060102T150405.000000000Z") + ".json"
	if err := s.writer.Put(ctx, histKey, bytes.NewReader(data), snapshot.ContentType); err != nil {
		return fmt.Errorf("s3blob: save snapshot history: %w", err)
	}
	if err := s.writer.Put(ctx, s.latestKey(), bytes.NewReader(data), snapshot.ContentType); err != nil {
		return fmt.Errorf("s3blob: save snapshot: %w", err)
	}

	if s.deleter != nil && s.keep > 0 {
		if err := s.prune(ctx); err != nil {
			return fmt.Errorf("s3blob: save snapshot: %w", err)
		}
	}
	return nil
}

func (s *SnapshotStore) prune(ctx context.Context) error {
	infos, err := s.reader.List(ctx, s.historyPrefix())
	if err != nil {
		return fmt.Errorf("prune list: %w", err)
	}
	if len(infos) <= s.keep {
		return nil
	}
	// History keys sort chronologically.
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	for _, info := range infos[:len(infos)-s.keep] {
		if err := s.deleter.Delete(ctx, info.Path); err != nil {
			return fmt.Errorf("prune delete: %w", err)
		}
	}
	return nil
}

// Load downloads and validates the latest snapshot.
func (s *SnapshotStore) Load(ctx context.Context) (domain.PortfolioSnapshot, error) {
	body, err := s.reader.Get(ctx, s.latestKey())
	if err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("s3blob: load snapshot: %w", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("s3blob: load snapshot read: %w", err)
	}
	snap, err := snapshot.Decode(data)
	if err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("s3blob: load snapshot: %w", err)
	}
	return snap, nil
}
