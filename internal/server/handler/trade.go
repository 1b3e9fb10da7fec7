package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/paperbot/internal/domain"
)

// TradeService defines the methods the trade handler requires.
type TradeService interface {
	ExecuteManual(ctx context.Context, req domain.ManualTradeRequest) (domain.TradeResult, error)
}

// TradeHandler serves manual trade requests.
type TradeHandler struct {
	trades TradeService
	prices domain.PriceCache
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler. prices may be nil; it supplies the
// fill price when a request omits one.
func NewTradeHandler(trades TradeService, prices domain.PriceCache, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, prices: prices, logger: logger}
}

type tradeRequest struct {
	Symbol         string           `json:"symbol"`
	Side           string           `json:"side"`
	Quantity       *decimal.Decimal `json:"quantity,omitempty"`
	NotionalAmount *decimal.Decimal `json:"notional_amount,omitempty"`
	Price          *decimal.Decimal `json:"price,omitempty"`
}

type tradeResponse struct {
	Symbol        string           `json:"symbol"`
	Side          domain.Side      `json:"side"`
	Source        domain.Source    `json:"source"`
	Quantity      decimal.Decimal  `json:"quantity"`
	Price         decimal.Decimal  `json:"price"`
	CashBalance   decimal.Decimal  `json:"cash_balance"`
	RealizedPnL   *decimal.Decimal `json:"realized_pnl,omitempty"`
	ClosedTradeID string           `json:"closed_trade_id,omitempty"`
	ExecutedAt    time.Time        `json:"executed_at"`
}

func newTradeResponse(res domain.TradeResult) tradeResponse {
	return tradeResponse{
		Symbol:        res.Symbol,
		Side:          res.Side,
		Source:        res.Source,
		Quantity:      res.Quantity,
		Price:         res.Price,
		CashBalance:   res.CashBalance,
		RealizedPnL:   res.RealizedPnL,
		ClosedTradeID: res.ClosedTradeID,
		ExecutedAt:    res.ExecutedAt,
	}
}

// PlaceTrade executes a manual paper trade.
// POST /api/trades {"symbol":"SOL","side":"BUY","notional_amount":"500","price":"101.2"}
func (h *TradeHandler) PlaceTrade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	side, err := domain.ParseSide(req.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	symbol := domain.NormalizeSymbol(req.Symbol)

	var price decimal.Decimal
	switch {
	case req.Price != nil:
		price = *req.Price
	case h.prices != nil && symbol != "":
		p, _, err := h.prices.GetPrice(r.Context(), symbol)
		if err != nil {
			writeError(w, http.StatusBadRequest, "price is required: no cached mark for "+symbol)
			return
		}
		price = decimal.NewFromFloat(p)
	default:
		writeError(w, http.StatusBadRequest, "price is required")
		return
	}

	res, err := h.trades.ExecuteManual(r.Context(), domain.ManualTradeRequest{
		Symbol:         symbol,
		Side:           side,
		Quantity:       req.Quantity,
		NotionalAmount: req.NotionalAmount,
		Price:          price,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to execute trade")
		return
	}
	writeJSON(w, http.StatusCreated, newTradeResponse(res))
}
