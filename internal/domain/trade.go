package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// QuantityPrecision is the number of decimal places kept when a quantity is
// derived from a notional amount.
const QuantityPrecision = 8

// Side is the direction of a trade intent.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide converts a case-insensitive string to a Side.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	default:
		return "", fmt.Errorf("%w: unknown side %q", ErrInvalidIntent, s)
	}
}

// Source identifies who submitted an intent.
type Source string

const (
	SourceManual    Source = "MANUAL"
	SourceAutomated Source = "AUTOMATED"
)

// TradeIntent is a single request to mutate the ledger.
type TradeIntent struct {
	Symbol   string
	Side     Side
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Source   Source
	// PositionLimit, when positive, rejects a BUY once the ledger already
	// holds that many positions.
	PositionLimit int
	// Reason is free text carried through to logs and events.
	Reason string
}

// NormalizeSymbol trims and upper-cases a ticker symbol.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Validate rejects intents that can never be applied.
func (i TradeIntent) Validate() error {
	if NormalizeSymbol(i.Symbol) == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidIntent)
	}
	if i.Side != SideBuy && i.Side != SideSell {
		return fmt.Errorf("%w: unknown side %q", ErrInvalidIntent, i.Side)
	}
	if !i.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive, got %s", ErrInvalidIntent, i.Quantity)
	}
	if !i.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive, got %s", ErrInvalidIntent, i.Price)
	}
	return nil
}

// TradeResult confirms an applied intent.
type TradeResult struct {
	Symbol      string
	Side        Side
	Source      Source
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	CashBalance decimal.Decimal
	// RealizedPnL and ClosedTradeID are set for SELL results only.
	RealizedPnL   *decimal.Decimal
	ClosedTradeID string
	ExecutedAt    time.Time
}

// ManualTradeRequest is a trade request from an operator. Exactly one of
// Quantity and NotionalAmount must be set.
type ManualTradeRequest struct {
	Symbol         string
	Side           Side
	Quantity       *decimal.Decimal
	NotionalAmount *decimal.Decimal
	Price          decimal.Decimal
}

// Intent converts the request into a MANUAL trade intent.
func (r ManualTradeRequest) Intent() (TradeIntent, error) {
	if !r.Price.IsPositive() {
		return TradeIntent{}, fmt.Errorf("%w: price must be positive, got %s", ErrInvalidIntent, r.Price)
	}
	var qty decimal.Decimal
	switch {
	case r.Quantity != nil && r.NotionalAmount != nil:
		return TradeIntent{}, fmt.Errorf("%w: set either quantity or notional amount, not both", ErrInvalidIntent)
	case r.Quantity != nil:
		qty = *r.Quantity
	case r.NotionalAmount != nil:
		if !r.NotionalAmount.IsPositive() {
			return TradeIntent{}, fmt.Errorf("%w: notional amount must be positive, got %s", ErrInvalidIntent, r.NotionalAmount)
		}
		qty = QuantityForNotional(*r.NotionalAmount, r.Price)
	default:
		return TradeIntent{}, fmt.Errorf("%w: quantity or notional amount is required", ErrInvalidIntent)
	}
	intent := TradeIntent{
		Symbol:   NormalizeSymbol(r.Symbol),
		Side:     r.Side,
		Quantity: qty,
		Price:    r.Price,
		Source:   SourceManual,
	}
	if err := intent.Validate(); err != nil {
		return TradeIntent{}, err
	}
	return intent, nil
}

// QuantityForNotional returns notional / price truncated to QuantityPrecision
// places, so quantity*price never exceeds the notional.
func QuantityForNotional(notional, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	return notional.DivRound(price, QuantityPrecision+4).Truncate(QuantityPrecision)
}
