package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/paperbot/internal/domain"
)

// DecisionStore implements domain.DecisionStore using PostgreSQL.
type DecisionStore struct {
	pool *pgxpool.Pool
}

var _ domain.DecisionStore = (*DecisionStore)(nil)

// NewDecisionStore creates a DecisionStore.
func NewDecisionStore(pool *pgxpool.Pool) *DecisionStore {
	return &DecisionStore{pool: pool}
}

const decisionCols = `id, signal_id, symbol, signal_type, confidence, side, quantity::text,
	price::text, outcome, reason, detail, decided_at`

// Insert stores one decision.
func (s *DecisionStore) Insert(ctx context.Context, d domain.Decision) error {
	const query = `
		INSERT INTO autotrade_decisions (id, signal_id, symbol, signal_type, confidence, side,
			quantity, price, outcome, reason, detail, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, query,
		d.ID, d.SignalID, d.Symbol, string(d.SignalType), d.Confidence, string(d.Side),
		d.Quantity.String(), d.Price.String(), string(d.Outcome), d.Reason, d.Detail, d.DecidedAt,
	); err != nil {
		return fmt.Errorf("postgres: insert decision %s: %w", d.ID, err)
	}
	return nil
}

// ListRecent returns the newest decisions first.
func (s *DecisionStore) ListRecent(ctx context.Context, limit int) ([]domain.Decision, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+decisionCols+` FROM autotrade_decisions ORDER BY decided_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list decisions: %w", err)
	}
	defer rows.Close()
	return scanDecisions(rows)
}

// ListBefore returns decisions made before the cutoff, oldest first.
func (s *DecisionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Decision, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+decisionCols+` FROM autotrade_decisions WHERE decided_at < $1 ORDER BY decided_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list decisions before: %w", err)
	}
	defer rows.Close()
	return scanDecisions(rows)
}

func scanDecisions(rows pgx.Rows) ([]domain.Decision, error) {
	var out []domain.Decision
	for rows.Next() {
		var d domain.Decision
		var sigType, side, outcome, qty, price string
		if err := rows.Scan(&d.ID, &d.SignalID, &d.Symbol, &sigType, &d.Confidence, &side,
			&qty, &price, &outcome, &d.Reason, &d.Detail, &d.DecidedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan decision: %w", err)
		}
		d.SignalType = domain.SignalType(sigType)
		d.Side = domain.Side(side)
		d.Outcome = domain.DecisionOutcome(outcome)
		var err error
		if d.Quantity, err = parseDecimal("quantity", qty); err != nil {
			return nil, err
		}
		if d.Price, err = parseDecimal("price", price); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
