package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CloseSide records which way a holding was closed. The ledger is long-only,
// so reductions are always SELL_CLOSE; BUY_CLOSE is reserved for short covers.
type CloseSide string

const (
	CloseSideBuy  CloseSide = "BUY_CLOSE"
	CloseSideSell CloseSide = "SELL_CLOSE"
)

// Position is an open holding. A position with zero quantity is never stored.
type Position struct {
	Symbol            string          `json:"symbol"`
	Quantity          decimal.Decimal `json:"quantity"`
	AverageEntryPrice decimal.Decimal `json:"average_entry_price"`
	OpenedAt          time.Time       `json:"opened_at"`
}

// CostBasis returns quantity times average entry price.
func (p Position) CostBasis() decimal.Decimal {
	return p.Quantity.Mul(p.AverageEntryPrice)
}

// MarketValue returns the position value at the given mark price.
func (p Position) MarketValue(price decimal.Decimal) decimal.Decimal {
	return p.Quantity.Mul(price)
}

// UnrealizedPnL returns the mark-to-market profit at the given price.
func (p Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	return price.Sub(p.AverageEntryPrice).Mul(p.Quantity)
}

// ClosedTrade is an immutable record of a full or partial close.
type ClosedTrade struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Side        CloseSide       `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	ExitPrice   decimal.Decimal `json:"exit_price"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	OpenedAt    time.Time       `json:"opened_at"`
	ClosedAt    time.Time       `json:"closed_at"`
}

// IsWin reports whether the trade closed at a profit.
func (t ClosedTrade) IsWin() bool {
	return t.RealizedPnL.IsPositive()
}

// EquitySample is a point on the equity curve.
type EquitySample struct {
	At     time.Time       `json:"at"`
	Equity decimal.Decimal `json:"equity"`
}
