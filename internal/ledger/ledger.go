// Package ledger holds the virtual portfolio: cash, open positions, closed
// trade history and a bounded equity history. It performs no I/O and no
// locking; the executor serializes every call.
package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/paperbot/internal/domain"
)

// DefaultEquityHistorySize bounds the equity history when no size is given.
const DefaultEquityHistorySize = 500

// Now returns the current UTC time at microsecond precision, the finest
// precision every snapshot backend can store.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithEquityHistorySize caps the number of retained equity samples.
func WithEquityHistorySize(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.historySize = n
		}
	}
}

// WithIDGenerator overrides closed trade ID generation.
func WithIDGenerator(gen func() string) Option {
	return func(l *Ledger) { l.newID = gen }
}

// Ledger is the portfolio aggregate.
type Ledger struct {
	cash           decimal.Decimal
	initialCapital decimal.Decimal
	positions      map[string]*domain.Position
	closed         []domain.ClosedTrade
	equity         []domain.EquitySample
	createdAt      time.Time
	modifiedAt     time.Time

	historySize int
	now         func() time.Time
	newID       func() string
}

// New creates a ledger funded with initialCapital.
func New(initialCapital decimal.Decimal, opts ...Option) (*Ledger, error) {
	if !initialCapital.IsPositive() {
		return nil, fmt.Errorf("ledger: initial capital must be positive, got %s", initialCapital)
	}
	l := &Ledger{
		historySize: DefaultEquityHistorySize,
		now:         Now,
		newID:       func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(l)
	}
	l.Reset(initialCapital)
	return l, nil
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() decimal.Decimal { return l.cash }

// InitialCapital returns the baseline used for return calculations.
func (l *Ledger) InitialCapital() decimal.Decimal { return l.initialCapital }

// OpenPositions returns the number of open positions.
func (l *Ledger) OpenPositions() int { return len(l.positions) }

// Position returns a copy of the open position for symbol.
func (l *Ledger) Position(symbol string) (domain.Position, bool) {
	p, ok := l.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// OpenOrAddPosition buys quantity at price. Adding to an existing position
// recomputes the volume-weighted average entry price.
func (l *Ledger) OpenOrAddPosition(symbol string, quantity, price decimal.Decimal) (domain.Position, error) {
	if symbol == "" || !quantity.IsPositive() || !price.IsPositive() {
		return domain.Position{}, fmt.Errorf("%w: symbol=%q quantity=%s price=%s", domain.ErrInvalidIntent, symbol, quantity, price)
	}
	cost := quantity.Mul(price)
	if cost.GreaterThan(l.cash) {
		return domain.Position{}, fmt.Errorf("%w: cost %s exceeds cash %s", domain.ErrInsufficientFunds, cost, l.cash)
	}

	now := l.now()
	pos, ok := l.positions[symbol]
	if !ok {
		pos = &domain.Position{
			Symbol:            symbol,
			Quantity:          quantity,
			AverageEntryPrice: price,
			OpenedAt:          now,
		}
		l.positions[symbol] = pos
	} else {
		newQty := pos.Quantity.Add(quantity)
		totalCost := pos.CostBasis().Add(cost)
		pos.AverageEntryPrice = totalCost.Div(newQty)
		pos.Quantity = newQty
	}
	l.cash = l.cash.Sub(cost)
	l.modifiedAt = now
	return *pos, nil
}

// ReducePosition sells quantity at price and appends a ClosedTrade. The
// average entry price of a partially closed position is unchanged.
func (l *Ledger) ReducePosition(symbol string, quantity, price decimal.Decimal) (domain.ClosedTrade, error) {
	if symbol == "" || !quantity.IsPositive() || !price.IsPositive() {
		return domain.ClosedTrade{}, fmt.Errorf("%w: symbol=%q quantity=%s price=%s", domain.ErrInvalidIntent, symbol, quantity, price)
	}
	pos, ok := l.positions[symbol]
	if !ok {
		return domain.ClosedTrade{}, fmt.Errorf("%w: %s", domain.ErrNoSuchPosition, symbol)
	}
	if quantity.GreaterThan(pos.Quantity) {
		return domain.ClosedTrade{}, fmt.Errorf("%w: selling %s of %s held %s", domain.ErrInsufficientQuantity, quantity, symbol, pos.Quantity)
	}

	now := l.now()
	trade := domain.ClosedTrade{
		ID:          l.newID(),
		Symbol:      symbol,
		Side:        domain.CloseSideSell,
		Quantity:    quantity,
		EntryPrice:  pos.AverageEntryPrice,
		ExitPrice:   price,
		RealizedPnL: price.Sub(pos.AverageEntryPrice).Mul(quantity),
		OpenedAt:    pos.OpenedAt,
		ClosedAt:    now,
	}
	l.closed = append(l.closed, trade)
	l.cash = l.cash.Add(quantity.Mul(price))

	remaining := pos.Quantity.Sub(quantity)
	if remaining.IsZero() {
		delete(l.positions, symbol)
	} else {
		pos.Quantity = remaining
	}
	l.modifiedAt = now
	return trade, nil
}

// TotalEquity returns cash plus the mark-to-market value of every open
// position. Every held symbol must have a price.
func (l *Ledger) TotalEquity(prices map[string]decimal.Decimal) (decimal.Decimal, error) {
	total := l.cash
	for sym, pos := range l.positions {
		px, ok := prices[sym]
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrMissingPrice, sym)
		}
		total = total.Add(pos.MarketValue(px))
	}
	return total, nil
}

// Reset clears positions, trade history and equity history and restores the
// cash balance to initialCapital.
func (l *Ledger) Reset(initialCapital decimal.Decimal) {
	now := l.now()
	l.cash = initialCapital
	l.initialCapital = initialCapital
	l.positions = make(map[string]*domain.Position)
	l.closed = nil
	l.equity = nil
	l.createdAt = now
	l.modifiedAt = now
}

// RecordEquity appends an equity sample, dropping the oldest beyond the cap.
func (l *Ledger) RecordEquity(sample domain.EquitySample) {
	l.equity = append(l.equity, sample)
	if over := len(l.equity) - l.historySize; over > 0 {
		l.equity = append([]domain.EquitySample(nil), l.equity[over:]...)
	}
}

// Snapshot returns a deep copy of the ledger state. Positions are sorted by
// symbol.
func (l *Ledger) Snapshot() domain.PortfolioSnapshot {
	snap := domain.PortfolioSnapshot{
		CashBalance:    l.cash,
		InitialCapital: l.initialCapital,
		Positions:      make([]domain.Position, 0, len(l.positions)),
		ClosedTrades:   append([]domain.ClosedTrade(nil), l.closed...),
		EquityHistory:  append([]domain.EquitySample(nil), l.equity...),
		CreatedAt:      l.createdAt,
		LastModifiedAt: l.modifiedAt,
	}
	for _, p := range l.positions {
		snap.Positions = append(snap.Positions, *p)
	}
	sort.Slice(snap.Positions, func(i, j int) bool {
		return snap.Positions[i].Symbol < snap.Positions[j].Symbol
	})
	return snap
}

// Restore replaces the ledger state with snap. The snapshot is validated
// first; on error the ledger is left untouched.
func (l *Ledger) Restore(snap domain.PortfolioSnapshot) error {
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("ledger: restore: %w", err)
	}
	positions := make(map[string]*domain.Position, len(snap.Positions))
	for _, p := range snap.Positions {
		p := p
		positions[p.Symbol] = &p
	}
	l.cash = snap.CashBalance
	l.initialCapital = snap.InitialCapital
	l.positions = positions
	l.closed = append([]domain.ClosedTrade(nil), snap.ClosedTrades...)
	l.equity = append([]domain.EquitySample(nil), snap.EquityHistory...)
	if over := len(l.equity) - l.historySize; over > 0 {
		l.equity = l.equity[over:]
	}
	l.createdAt = snap.CreatedAt
	l.modifiedAt = snap.LastModifiedAt
	return nil
}
