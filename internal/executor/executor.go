// Package executor is the single entry point for mutating the portfolio
// ledger. Manual requests and the automated controller both go through
// Executor, which serializes every read-modify-write and every save/load
// behind one lock.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/paperbot/internal/domain"
	"github.com/alanyoungcy/paperbot/internal/ledger"
)

// Executor applies trade intents to a ledger it owns by reference.
type Executor struct {
	mu     sync.RWMutex
	ledger *ledger.Ledger
	store  domain.SnapshotStore
	now    func() time.Time
	logger *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock overrides the time source used for result and save timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// New creates an Executor around l. store may be nil, in which case Save and
// Load fail.
func New(l *ledger.Ledger, store domain.SnapshotStore, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		ledger: l,
		store:  store,
		now:    ledger.Now,
		logger: logger.With(slog.String("component", "executor")),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute validates intent and applies it to the ledger. BUY opens or adds to
// a position, SELL reduces one. Ledger errors are returned unchanged in kind.
func (e *Executor) Execute(ctx context.Context, intent domain.TradeIntent) (domain.TradeResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.TradeResult{}, err
	}
	intent.Symbol = domain.NormalizeSymbol(intent.Symbol)
	if err := intent.Validate(); err != nil {
		return domain.TradeResult{}, fmt.Errorf("executor: execute: %w", err)
	}
	if intent.Source == "" {
		intent.Source = domain.SourceManual
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	res := domain.TradeResult{
		Symbol:   intent.Symbol,
		Side:     intent.Side,
		Source:   intent.Source,
		Quantity: intent.Quantity,
		Price:    intent.Price,
	}

	switch intent.Side {
	case domain.SideBuy:
		if intent.PositionLimit > 0 && e.ledger.OpenPositions() >= intent.PositionLimit {
			return domain.TradeResult{}, fmt.Errorf("executor: execute: %w (%d)", domain.ErrPositionLimit, intent.PositionLimit)
		}
		if _, err := e.ledger.OpenOrAddPosition(intent.Symbol, intent.Quantity, intent.Price); err != nil {
			return domain.TradeResult{}, fmt.Errorf("executor: buy %s: %w", intent.Symbol, err)
		}
	case domain.SideSell:
		trade, err := e.ledger.ReducePosition(intent.Symbol, intent.Quantity, intent.Price)
		if err != nil {
			return domain.TradeResult{}, fmt.Errorf("executor: sell %s: %w", intent.Symbol, err)
		}
		pnl := trade.RealizedPnL
		res.RealizedPnL = &pnl
		res.ClosedTradeID = trade.ID
	}

	res.CashBalance = e.ledger.Cash()
	res.ExecutedAt = e.now()
	return res, nil
}

// ExecuteManual converts an operator request into a MANUAL intent and
// executes it.
func (e *Executor) ExecuteManual(ctx context.Context, req domain.ManualTradeRequest) (domain.TradeResult, error) {
	intent, err := req.Intent()
	if err != nil {
		return domain.TradeResult{}, fmt.Errorf("executor: manual: %w", err)
	}
	return e.Execute(ctx, intent)
}

// Snapshot returns a consistent deep copy of the ledger.
func (e *Executor) Snapshot() domain.PortfolioSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.Snapshot()
}

// Holding returns the held quantity of symbol.
func (e *Executor) Holding(symbol string) (decimal.Decimal, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	pos, ok := e.ledger.Position(domain.NormalizeSymbol(symbol))
	return pos.Quantity, ok
}

// OpenPositions returns the number of open positions.
func (e *Executor) OpenPositions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.OpenPositions()
}

// Equity returns total equity at the given mark prices.
func (e *Executor) Equity(prices map[string]decimal.Decimal) (decimal.Decimal, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	eq, err := e.ledger.TotalEquity(prices)
	if err != nil {
		return decimal.Zero, fmt.Errorf("executor: equity: %w", err)
	}
	return eq, nil
}

// RecordEquity appends a sample to the ledger's equity history.
func (e *Executor) RecordEquity(sample domain.EquitySample) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ledger.RecordEquity(sample)
}

// Reset wipes the ledger and funds it with capital.
func (e *Executor) Reset(capital decimal.Decimal) error {
	if !capital.IsPositive() {
		return fmt.Errorf("executor: reset: %w: capital must be positive, got %s", domain.ErrInvalidIntent, capital)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ledger.Reset(capital)
	e.logger.Info("portfolio reset", slog.String("capital", capital.String()))
	return nil
}

// Save writes a snapshot to the store. No trade can run while it is in
// progress.
func (e *Executor) Save(ctx context.Context) (domain.PortfolioSnapshot, error) {
	if e.store == nil {
		return domain.PortfolioSnapshot{}, errors.New("executor: save: no snapshot store configured")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := e.ledger.Snapshot()
	snap.SavedAt = e.now()
	if err := e.store.Save(ctx, snap); err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("executor: save: %w", err)
	}
	e.logger.DebugContext(ctx, "snapshot saved",
		slog.Int("positions", len(snap.Positions)),
		slog.Int("closed_trades", len(snap.ClosedTrades)),
	)
	return snap, nil
}

// Load replaces the ledger with the stored snapshot. A missing or corrupt
// snapshot leaves the in-memory ledger untouched.
func (e *Executor) Load(ctx context.Context) (domain.PortfolioSnapshot, error) {
	if e.store == nil {
		return domain.PortfolioSnapshot{}, errors.New("executor: load: no snapshot store configured")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := e.store.Load(ctx)
	if err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("executor: load: %w", err)
	}
	if err := e.ledger.Restore(snap); err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("executor: load: %w", err)
	}
	e.logger.InfoContext(ctx, "snapshot loaded",
		slog.String("cash", snap.CashBalance.String()),
		slog.Int("positions", len(snap.Positions)),
		slog.String("saved_at", snap.SavedAt.Format(time.RFC3339)),
	)
	return e.ledger.Snapshot(), nil
}
