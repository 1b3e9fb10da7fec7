package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/paperbot/internal/domain"
)

// ClosedTradeArchiveStore lists closed trades for archival.
type ClosedTradeArchiveStore interface {
	ListClosedTradesBefore(ctx context.Context, before time.Time) ([]domain.ClosedTrade, error)
}

// DecisionArchiveStore lists controller decisions for archival.
type DecisionArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Decision, error)
}

// AuditArchiveStore lists audit rows for archival.
type AuditArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error)
}

// ArchiveImpl implements domain.Archiver by serializing old rows to JSONL
// and uploading them. Rows are never deleted from the primary store here.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	trades    ClosedTradeArchiveStore
	decisions DecisionArchiveStore
	auditSrc  AuditArchiveStore
	audit     domain.AuditStore
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// NewArchiver creates an ArchiveImpl. audit records each archival run.
func NewArchiver(
	writer domain.BlobWriter,
	trades ClosedTradeArchiveStore,
	decisions DecisionArchiveStore,
	auditSrc AuditArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		trades:    trades,
		decisions: decisions,
		auditSrc:  auditSrc,
		audit:     audit,
	}
}

// ArchiveClosedTrades uploads closed trades before the cutoff to
// archive/closed_trades/YYYY-MM-DD.jsonl.
func (a *ArchiveImpl) ArchiveClosedTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListClosedTradesBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive closed trades query: %w", err)
	}
	return archive(ctx, a, "closed_trades", before, trades)
}

// ArchiveDecisions uploads decisions before the cutoff to
// archive/decisions/YYYY-MM-DD.jsonl.
func (a *ArchiveImpl) ArchiveDecisions(ctx context.Context, before time.Time) (int64, error) {
	decisions, err := a.decisions.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive decisions query: %w", err)
	}
	return archive(ctx, a, "decisions", before, decisions)
}

// ArchiveAudit uploads audit rows before the cutoff to
// archive/audit/YYYY-MM-DD.jsonl.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.auditSrc.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	return archive(ctx, a, "audit", before, entries)
}

func archive[T any](ctx context.Context, a *ArchiveImpl, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
			"path":   path,
			"count":  count,
			"before": before.UTC().Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
		}
	}
	return count, nil
}

// archivePath partitions archives by the cutoff date:
//
//	archive/closed_trades/2025-01-31.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02"))
}

// marshalJSONL writes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
