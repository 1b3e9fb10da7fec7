// Package snapshot encodes portfolio snapshots to JSON and decodes them back,
// rejecting documents with missing or numerically invalid fields.
package snapshot

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/paperbot/internal/domain"
)

// Version is written into every encoded snapshot.
const Version = 1

// ContentType is the MIME type of encoded snapshots.
const ContentType = "application/json"

type wireSnapshot struct {
	Version        int                `json:"version"`
	CashBalance    *decimal.Decimal   `json:"cash_balance"`
	InitialCapital *decimal.Decimal   `json:"initial_capital"`
	Positions      *[]wirePosition    `json:"positions"`
	ClosedTrades   *[]wireClosedTrade `json:"closed_trades"`
	EquityHistory  []wireEquity       `json:"equity_history,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	LastModifiedAt time.Time          `json:"last_modified_at"`
	SavedAt        *time.Time         `json:"saved_at"`
}

type wirePosition struct {
	Symbol            string           `json:"symbol"`
	Quantity          *decimal.Decimal `json:"quantity"`
	AverageEntryPrice *decimal.Decimal `json:"average_entry_price"`
	OpenedAt          *time.Time       `json:"opened_at"`
}

type wireClosedTrade struct {
	ID          string           `json:"id"`
	Symbol      string           `json:"symbol"`
	Side        domain.CloseSide `json:"side"`
	Quantity    *decimal.Decimal `json:"quantity"`
	EntryPrice  *decimal.Decimal `json:"entry_price"`
	ExitPrice   *decimal.Decimal `json:"exit_price"`
	RealizedPnL *decimal.Decimal `json:"realized_pnl"`
	OpenedAt    time.Time        `json:"opened_at"`
	ClosedAt    time.Time        `json:"closed_at"`
}

type wireEquity struct {
	At     time.Time       `json:"at"`
	Equity decimal.Decimal `json:"equity"`
}

// Encode serializes snap.
func Encode(snap domain.PortfolioSnapshot) ([]byte, error) {
	positions := make([]wirePosition, 0, len(snap.Positions))
	for _, p := range snap.Positions {
		p := p
		positions = append(positions, wirePosition{
			Symbol:            p.Symbol,
			Quantity:          &p.Quantity,
			AverageEntryPrice: &p.AverageEntryPrice,
			OpenedAt:          &p.OpenedAt,
		})
	}
	trades := make([]wireClosedTrade, 0, len(snap.ClosedTrades))
	for _, t := range snap.ClosedTrades {
		t := t
		trades = append(trades, wireClosedTrade{
			ID:          t.ID,
			Symbol:      t.Symbol,
			Side:        t.Side,
			Quantity:    &t.Quantity,
			EntryPrice:  &t.EntryPrice,
			ExitPrice:   &t.ExitPrice,
			RealizedPnL: &t.RealizedPnL,
			OpenedAt:    t.OpenedAt,
			ClosedAt:    t.ClosedAt,
		})
	}
	var equity []wireEquity
	for _, e := range snap.EquityHistory {
		equity = append(equity, wireEquity{At: e.At, Equity: e.Equity})
	}
	w := wireSnapshot{
		Version:        Version,
		CashBalance:    &snap.CashBalance,
		InitialCapital: &snap.InitialCapital,
		Positions:      &positions,
		ClosedTrades:   &trades,
		EquityHistory:  equity,
		CreatedAt:      snap.CreatedAt,
		LastModifiedAt: snap.LastModifiedAt,
		SavedAt:        &snap.SavedAt,
	}
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode: %w", err)
	}
	return data, nil
}

// Decode parses and validates an encoded snapshot. Every failure wraps
// domain.ErrCorruptState.
func Decode(data []byte) (domain.PortfolioSnapshot, error) {
	var w wireSnapshot
	if err := json.Unmarshal(data, &w); err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("snapshot: decode: %w: %v", domain.ErrCorruptState, err)
	}
	if w.Version > Version {
		return domain.PortfolioSnapshot{}, fmt.Errorf("snapshot: decode: %w: unsupported version %d", domain.ErrCorruptState, w.Version)
	}

	missing := func(field string) error {
		return fmt.Errorf("snapshot: decode: %w: missing %s", domain.ErrCorruptState, field)
	}
	switch {
	case w.CashBalance == nil:
		return domain.PortfolioSnapshot{}, missing("cash_balance")
	case w.InitialCapital == nil:
		return domain.PortfolioSnapshot{}, missing("initial_capital")
	case w.Positions == nil:
		return domain.PortfolioSnapshot{}, missing("positions")
	case w.ClosedTrades == nil:
		return domain.PortfolioSnapshot{}, missing("closed_trades")
	case w.SavedAt == nil:
		return domain.PortfolioSnapshot{}, missing("saved_at")
	}

	snap := domain.PortfolioSnapshot{
		CashBalance:    *w.CashBalance,
		InitialCapital: *w.InitialCapital,
		Positions:      make([]domain.Position, 0, len(*w.Positions)),
		ClosedTrades:   make([]domain.ClosedTrade, 0, len(*w.ClosedTrades)),
		CreatedAt:      w.CreatedAt,
		LastModifiedAt: w.LastModifiedAt,
		SavedAt:        *w.SavedAt,
	}
	for i, p := range *w.Positions {
		if p.Quantity == nil || p.AverageEntryPrice == nil || p.OpenedAt == nil {
			return domain.PortfolioSnapshot{}, missing(fmt.Sprintf("fields in positions[%d]", i))
		}
		snap.Positions = append(snap.Positions, domain.Position{
			Symbol:            p.Symbol,
			Quantity:          *p.Quantity,
			AverageEntryPrice: *p.AverageEntryPrice,
			OpenedAt:          *p.OpenedAt,
		})
	}
	for i, t := range *w.ClosedTrades {
		if t.Quantity == nil || t.EntryPrice == nil || t.ExitPrice == nil || t.RealizedPnL == nil {
			return domain.PortfolioSnapshot{}, missing(fmt.Sprintf("fields in closed_trades[%d]", i))
		}
		snap.ClosedTrades = append(snap.ClosedTrades, domain.ClosedTrade{
			ID:          t.ID,
			Symbol:      t.Symbol,
			Side:        t.Side,
			Quantity:    *t.Quantity,
			EntryPrice:  *t.EntryPrice,
			ExitPrice:   *t.ExitPrice,
			RealizedPnL: *t.RealizedPnL,
			OpenedAt:    t.OpenedAt,
			ClosedAt:    t.ClosedAt,
		})
	}
	for _, e := range w.EquityHistory {
		snap.EquityHistory = append(snap.EquityHistory, domain.EquitySample{At: e.At, Equity: e.Equity})
	}

	if err := snap.Validate(); err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("snapshot: decode: %w", err)
	}
	return snap, nil
}
