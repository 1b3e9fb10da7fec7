package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioSnapshot is a detached, deep copy of the ledger state. It is the
// unit of persistence and the input to the performance analyzer.
type PortfolioSnapshot struct {
	CashBalance    decimal.Decimal
	InitialCapital decimal.Decimal
	Positions      []Position // sorted by symbol
	ClosedTrades   []ClosedTrade
	EquityHistory  []EquitySample
	CreatedAt      time.Time
	LastModifiedAt time.Time
	SavedAt        time.Time
}

// Position returns the open position for symbol, if any.
func (s PortfolioSnapshot) Position(symbol string) (Position, bool) {
	for _, p := range s.Positions {
		if p.Symbol == symbol {
			return p, true
		}
	}
	return Position{}, false
}

// Symbols returns the symbols of all open positions.
func (s PortfolioSnapshot) Symbols() []string {
	out := make([]string, 0, len(s.Positions))
	for _, p := range s.Positions {
		out = append(out, p.Symbol)
	}
	return out
}

// Validate checks the numeric invariants a restorable snapshot must satisfy.
// Every failure wraps ErrCorruptState.
func (s PortfolioSnapshot) Validate() error {
	if s.CashBalance.IsNegative() {
		return fmt.Errorf("%w: negative cash balance %s", ErrCorruptState, s.CashBalance)
	}
	if !s.InitialCapital.IsPositive() {
		return fmt.Errorf("%w: initial capital must be positive, got %s", ErrCorruptState, s.InitialCapital)
	}
	seen := make(map[string]bool, len(s.Positions))
	for i, p := range s.Positions {
		if p.Symbol == "" {
			return fmt.Errorf("%w: position %d has no symbol", ErrCorruptState, i)
		}
		if seen[p.Symbol] {
			return fmt.Errorf("%w: duplicate position %s", ErrCorruptState, p.Symbol)
		}
		seen[p.Symbol] = true
		if !p.Quantity.IsPositive() {
			return fmt.Errorf("%w: position %s has non-positive quantity %s", ErrCorruptState, p.Symbol, p.Quantity)
		}
		if p.AverageEntryPrice.IsNegative() || p.AverageEntryPrice.IsZero() {
			return fmt.Errorf("%w: position %s has non-positive entry price %s", ErrCorruptState, p.Symbol, p.AverageEntryPrice)
		}
	}
	for i, t := range s.ClosedTrades {
		if t.Symbol == "" {
			return fmt.Errorf("%w: closed trade %d has no symbol", ErrCorruptState, i)
		}
		if !t.Quantity.IsPositive() {
			return fmt.Errorf("%w: closed trade %d has non-positive quantity", ErrCorruptState, i)
		}
		if !t.EntryPrice.IsPositive() || !t.ExitPrice.IsPositive() {
			return fmt.Errorf("%w: closed trade %d has non-positive price", ErrCorruptState, i)
		}
		if t.Side != CloseSideBuy && t.Side != CloseSideSell {
			return fmt.Errorf("%w: closed trade %d has unknown side %q", ErrCorruptState, i, t.Side)
		}
	}
	for i, e := range s.EquityHistory {
		if e.Equity.IsNegative() {
			return fmt.Errorf("%w: equity sample %d is negative", ErrCorruptState, i)
		}
	}
	return nil
}
