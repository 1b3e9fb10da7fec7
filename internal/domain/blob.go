package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads snapshots and archive files to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader retrieves stored snapshots.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// Archiver exports records older than a cutoff to cold storage and reports
// how many it wrote.
type Archiver interface {
	ArchiveClosedTrades(ctx context.Context, before time.Time) (int64, error)
	ArchiveDecisions(ctx context.Context, before time.Time) (int64, error)
	ArchiveAudit(ctx context.Context, before time.Time) (int64, error)
}

// BlobDeleter prunes snapshot history.
type BlobDeleter interface {
	Delete(ctx context.Context, path string) error
}
