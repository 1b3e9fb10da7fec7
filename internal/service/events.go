package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/paperbot/internal/domain"
)

// TradeEvent is published on domain.ChannelTrades and appended to
// domain.StreamTrades after every executed trade.
type TradeEvent struct {
	Event         string    `json:"event"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Source        string    `json:"source"`
	Quantity      string    `json:"quantity"`
	Price         string    `json:"price"`
	CashBalance   string    `json:"cash_balance"`
	RealizedPnL   *string   `json:"realized_pnl,omitempty"`
	ClosedTradeID string    `json:"closed_trade_id,omitempty"`
	ExecutedAt    time.Time `json:"executed_at"`
}

func newTradeEvent(res domain.TradeResult) TradeEvent {
	ev := TradeEvent{
		Event:         "trade_executed",
		Symbol:        res.Symbol,
		Side:          string(res.Side),
		Source:        string(res.Source),
		Quantity:      res.Quantity.String(),
		Price:         res.Price.String(),
		CashBalance:   res.CashBalance.String(),
		ClosedTradeID: res.ClosedTradeID,
		ExecutedAt:    res.ExecutedAt,
	}
	if res.RealizedPnL != nil {
		s := res.RealizedPnL.String()
		ev.RealizedPnL = &s
	}
	return ev
}

// PortfolioEvent is published on domain.ChannelPortfolio when the portfolio
// is reset, saved or loaded.
type PortfolioEvent struct {
	Event       string    `json:"event"`
	CashBalance string    `json:"cash_balance"`
	Positions   int       `json:"positions"`
	At          time.Time `json:"at"`
}

// markPrices returns decimal marks from the price cache for every held
// symbol. Symbols missing from the cache are left out.
func markPrices(ctx context.Context, prices domain.PriceCache, symbols []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(symbols))
	if prices == nil || len(symbols) == 0 {
		return out, nil
	}
	raw, err := prices.GetPrices(ctx, symbols)
	if err != nil {
		return out, err
	}
	for sym, p := range raw {
		if p > 0 {
			out[sym] = decimal.NewFromFloat(p)
		}
	}
	return out, nil
}

// fillAtCost marks every position without a price at its average entry.
func fillAtCost(snap domain.PortfolioSnapshot, prices map[string]decimal.Decimal) map[string]decimal.Decimal {
	for _, p := range snap.Positions {
		if _, ok := prices[p.Symbol]; !ok {
			prices[p.Symbol] = p.AverageEntryPrice
		}
	}
	return prices
}
