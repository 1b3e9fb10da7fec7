package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/paperbot/internal/domain"
)

// PortfolioStore implements domain.SnapshotStore over normalized tables.
// Numeric columns travel as text so decimals round-trip exactly.
type PortfolioStore struct {
	pool        *pgxpool.Pool
	portfolioID string
}

var _ domain.SnapshotStore = (*PortfolioStore)(nil)

// NewPortfolioStore creates a PortfolioStore for one portfolio ID.
func NewPortfolioStore(pool *pgxpool.Pool, portfolioID string) *PortfolioStore {
	return &PortfolioStore{pool: pool, portfolioID: portfolioID}
}

// Save replaces the stored portfolio with snap in one transaction.
func (s *PortfolioStore) Save(ctx context.Context, snap domain.PortfolioSnapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: save portfolio: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const upsert = `
		INSERT INTO portfolios (id, cash_balance, initial_capital, created_at, last_modified_at, saved_at)
		VALUES ($1, $2::numeric, $3::numeric, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			cash_balance = EXCLUDED.cash_balance,
			initial_capital = EXCLUDED.initial_capital,
			created_at = EXCLUDED.created_at,
			last_modified_at = EXCLUDED.last_modified_at,
			saved_at = EXCLUDED.saved_at`
	if _, err := tx.Exec(ctx, upsert,
		s.portfolioID, snap.CashBalance.String(), snap.InitialCapital.String(),
		snap.CreatedAt, snap.LastModifiedAt, snap.SavedAt,
	); err != nil {
		return fmt.Errorf("postgres: save portfolio: upsert: %w", err)
	}

	for _, table := range []string{"portfolio_positions", "closed_trades", "equity_samples"} {
		if _, err := tx.Exec(ctx, "DELETE FROM "+table+" WHERE portfolio_id = $1", s.portfolioID); err != nil {
			return fmt.Errorf("postgres: save portfolio: clear %s: %w", table, err)
		}
	}

	batch := &pgx.Batch{}
	for _, p := range snap.Positions {
		batch.Queue(`
			INSERT INTO portfolio_positions (portfolio_id, symbol, quantity, average_entry_price, opened_at)
			VALUES ($1, $2, $3::numeric, $4::numeric, $5)`,
			s.portfolioID, p.Symbol, p.Quantity.String(), p.AverageEntryPrice.String(), p.OpenedAt)
	}
	for i, t := range snap.ClosedTrades {
		batch.Queue(`
			INSERT INTO closed_trades (id, portfolio_id, seq, symbol, side, quantity, entry_price,
				exit_price, realized_pnl, opened_at, closed_at)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9::numeric, $10, $11)`,
			t.ID, s.portfolioID, i, t.Symbol, string(t.Side), t.Quantity.String(), t.EntryPrice.String(),
			t.ExitPrice.String(), t.RealizedPnL.String(), t.OpenedAt, t.ClosedAt)
	}
	for i, e := range snap.EquityHistory {
		batch.Queue(`
			INSERT INTO equity_samples (portfolio_id, seq, sampled_at, equity)
			VALUES ($1, $2, $3, $4::numeric)`,
			s.portfolioID, i, e.At, e.Equity.String())
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("postgres: save portfolio: rows: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: save portfolio: commit: %w", err)
	}
	return nil
}

// Load reads the stored portfolio. It returns domain.ErrNotFound when no row
// exists and an ErrCorruptState wrap when stored values are invalid.
func (s *PortfolioStore) Load(ctx context.Context) (domain.PortfolioSnapshot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("postgres: load portfolio: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var snap domain.PortfolioSnapshot
	var cash, capital string
	err = tx.QueryRow(ctx, `
		SELECT cash_balance::text, initial_capital::text, created_at, last_modified_at, saved_at
		FROM portfolios WHERE id = $1`, s.portfolioID,
	).Scan(&cash, &capital, &snap.CreatedAt, &snap.LastModifiedAt, &snap.SavedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PortfolioSnapshot{}, fmt.Errorf("postgres: load portfolio %s: %w", s.portfolioID, domain.ErrNotFound)
		}
		return domain.PortfolioSnapshot{}, fmt.Errorf("postgres: load portfolio: %w", err)
	}
	if snap.CashBalance, err = parseDecimal("cash_balance", cash); err != nil {
		return domain.PortfolioSnapshot{}, err
	}
	if snap.InitialCapital, err = parseDecimal("initial_capital", capital); err != nil {
		return domain.PortfolioSnapshot{}, err
	}

	if snap.Positions, err = s.loadPositions(ctx, tx); err != nil {
		return domain.PortfolioSnapshot{}, err
	}
	if snap.ClosedTrades, err = s.loadClosedTrades(ctx, tx); err != nil {
		return domain.PortfolioSnapshot{}, err
	}
	if snap.EquityHistory, err = s.loadEquity(ctx, tx); err != nil {
		return domain.PortfolioSnapshot{}, err
	}
	normalizeTimes(&snap)

	if err := snap.Validate(); err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("postgres: load portfolio %s: %w", s.portfolioID, err)
	}
	return snap, nil
}

func (s *PortfolioStore) loadPositions(ctx context.Context, tx pgx.Tx) ([]domain.Position, error) {
	rows, err := tx.Query(ctx, `
		SELECT symbol, quantity::text, average_entry_price::text, opened_at
		FROM portfolio_positions WHERE portfolio_id = $1 ORDER BY symbol`, s.portfolioID)
	if err != nil {
		return nil, fmt.Errorf("postgres: load positions: %w", err)
	}
	defer rows.Close()

	positions := []domain.Position{}
	for rows.Next() {
		var p domain.Position
		var qty, avg string
		if err := rows.Scan(&p.Symbol, &qty, &avg, &p.OpenedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		if p.Quantity, err = parseDecimal("quantity", qty); err != nil {
			return nil, err
		}
		if p.AverageEntryPrice, err = parseDecimal("average_entry_price", avg); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PortfolioStore) loadClosedTrades(ctx context.Context, tx pgx.Tx) ([]domain.ClosedTrade, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+closedTradeCols+`
		FROM closed_trades WHERE portfolio_id = $1 ORDER BY seq`, s.portfolioID)
	if err != nil {
		return nil, fmt.Errorf("postgres: load closed trades: %w", err)
	}
	defer rows.Close()
	return scanClosedTrades(rows)
}

func (s *PortfolioStore) loadEquity(ctx context.Context, tx pgx.Tx) ([]domain.EquitySample, error) {
	rows, err := tx.Query(ctx, `
		SELECT sampled_at, equity::text FROM equity_samples
		WHERE portfolio_id = $1 ORDER BY seq`, s.portfolioID)
	if err != nil {
		return nil, fmt.Errorf("postgres: load equity samples: %w", err)
	}
	defer rows.Close()

	var samples []domain.EquitySample
	for rows.Next() {
		var e domain.EquitySample
		var eq string
		if err := rows.Scan(&e.At, &eq); err != nil {
			return nil, fmt.Errorf("postgres: scan equity sample: %w", err)
		}
		if e.Equity, err = parseDecimal("equity", eq); err != nil {
			return nil, err
		}
		samples = append(samples, e)
	}
	return samples, rows.Err()
}

const closedTradeCols = `id, symbol, side, quantity::text, entry_price::text, exit_price::text,
	realized_pnl::text, opened_at, closed_at`

func scanClosedTrades(rows pgx.Rows) ([]domain.ClosedTrade, error) {
	trades := []domain.ClosedTrade{}
	for rows.Next() {
		var t domain.ClosedTrade
		var side, qty, entry, exit, pnl string
		if err := rows.Scan(&t.ID, &t.Symbol, &side, &qty, &entry, &exit, &pnl, &t.OpenedAt, &t.ClosedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan closed trade: %w", err)
		}
		t.Side = domain.CloseSide(side)
		var err error
		if t.Quantity, err = parseDecimal("quantity", qty); err != nil {
			return nil, err
		}
		if t.EntryPrice, err = parseDecimal("entry_price", entry); err != nil {
			return nil, err
		}
		if t.ExitPrice, err = parseDecimal("exit_price", exit); err != nil {
			return nil, err
		}
		if t.RealizedPnL, err = parseDecimal("realized_pnl", pnl); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ListClosedTradesBefore returns closed trades (all portfolios) closed before
// the cutoff, oldest first.
func (s *PortfolioStore) ListClosedTradesBefore(ctx context.Context, before time.Time) ([]domain.ClosedTrade, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+closedTradeCols+`
		FROM closed_trades WHERE closed_at < $1 ORDER BY closed_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed trades before: %w", err)
	}
	defer rows.Close()
	return scanClosedTrades(rows)
}

func parseDecimal(field, v string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: %w: %s %q is not a number", domain.ErrCorruptState, field, v)
	}
	return d, nil
}

// normalizeTimes converts timestamps to UTC; pgx returns them in the local
// zone.
func normalizeTimes(snap *domain.PortfolioSnapshot) {
	snap.CreatedAt = snap.CreatedAt.UTC()
	snap.LastModifiedAt = snap.LastModifiedAt.UTC()
	snap.SavedAt = snap.SavedAt.UTC()
	for i := range snap.Positions {
		snap.Positions[i].OpenedAt = snap.Positions[i].OpenedAt.UTC()
	}
	for i := range snap.ClosedTrades {
		snap.ClosedTrades[i].OpenedAt = snap.ClosedTrades[i].OpenedAt.UTC()
		snap.ClosedTrades[i].ClosedAt = snap.ClosedTrades[i].ClosedAt.UTC()
	}
	for i := range snap.EquityHistory {
		snap.EquityHistory[i].At = snap.EquityHistory[i].At.UTC()
	}
}
