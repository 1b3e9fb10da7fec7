package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/paperbot/internal/domain"
)

// AuditStore is the append-only audit log for one portfolio.
type AuditStore struct {
	pool        *pgxpool.Pool
	portfolioID string
}

var _ domain.AuditStore = (*AuditStore)(nil)

// NewAuditStore scopes every read and write to portfolioID.
func NewAuditStore(pool *pgxpool.Pool, portfolioID string) *AuditStore {
	return &AuditStore{pool: pool, portfolioID: portfolioID}
}

// Log appends an entry with detail stored as JSONB.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: encode audit detail: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_log (portfolio_id, event, detail) VALUES ($1, $2, $3)`,
		s.portfolioID, event, raw)
	if err != nil {
		return fmt.Errorf("postgres: audit %s: %w", event, err)
	}
	return nil
}

// List returns entries newest first, filtered by opts.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	where := []string{"portfolio_id = @portfolio"}
	args := pgx.NamedArgs{"portfolio": s.portfolioID}
	if opts.Event != "" {
		where = append(where, "event = @event")
		args["event"] = opts.Event
	}
	if opts.Since != nil {
		where = append(where, "created_at >= @since")
		args["since"] = *opts.Since
	}
	if opts.Until != nil {
		where = append(where, "created_at <= @until")
		args["until"] = *opts.Until
	}

	query := `SELECT id, event, detail, created_at FROM audit_log WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if opts.Limit > 0 {
		query += ` LIMIT @limit`
		args["limit"] = opts.Limit
	}
	if opts.Offset > 0 {
		query += ` OFFSET @offset`
		args["offset"] = opts.Offset
	}

	rows, err := s.pool.Query(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanAuditEntry)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}
	return entries, nil
}

// ListBefore returns entries older than before, oldest first, for archiving.
func (s *AuditStore) ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, event, detail, created_at FROM audit_log
		 WHERE portfolio_id = $1 AND created_at < $2 ORDER BY created_at, id`,
		s.portfolioID, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: audit before %s: %w", before.Format(time.RFC3339), err)
	}
	entries, err := pgx.CollectRows(rows, scanAuditEntry)
	if err != nil {
		return nil, fmt.Errorf("postgres: audit before %s: %w", before.Format(time.RFC3339), err)
	}
	return entries, nil
}

func scanAuditEntry(row pgx.CollectableRow) (domain.AuditEntry, error) {
	var (
		e   domain.AuditEntry
		raw []byte
	)
	if err := row.Scan(&e.ID, &e.Event, &raw, &e.CreatedAt); err != nil {
		return e, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &e.Detail); err != nil {
			return e, fmt.Errorf("decode audit %d detail: %w", e.ID, err)
		}
	}
	return e, nil
}
