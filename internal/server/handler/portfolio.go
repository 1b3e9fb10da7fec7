package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/paperbot/internal/domain"
)

// PortfolioService defines the methods the portfolio handler requires.
type PortfolioService interface {
	Snapshot() domain.PortfolioSnapshot
	Prices(ctx context.Context) (map[string]decimal.Decimal, error)
	Save(ctx context.Context) (domain.PortfolioSnapshot, error)
	Load(ctx context.Context) (domain.PortfolioSnapshot, error)
	Reset(ctx context.Context, capital decimal.Decimal) (domain.PortfolioSnapshot, error)
}

// PortfolioHandler serves the portfolio state and persistence endpoints.
type PortfolioHandler struct {
	portfolio PortfolioService
	logger    *slog.Logger
}

// NewPortfolioHandler creates a PortfolioHandler.
func NewPortfolioHandler(portfolio PortfolioService, logger *slog.Logger) *PortfolioHandler {
	return &PortfolioHandler{portfolio: portfolio, logger: logger}
}

type positionView struct {
	Symbol            string           `json:"symbol"`
	Quantity          decimal.Decimal  `json:"quantity"`
	AverageEntryPrice decimal.Decimal  `json:"average_entry_price"`
	CostBasis         decimal.Decimal  `json:"cost_basis"`
	MarkPrice         *decimal.Decimal `json:"mark_price"`
	MarketValue       decimal.Decimal  `json:"market_value"`
	UnrealizedPnL     decimal.Decimal  `json:"unrealized_pnl"`
	OpenedAt          time.Time        `json:"opened_at"`
}

type portfolioResponse struct {
	CashBalance    decimal.Decimal `json:"cash_balance"`
	InitialCapital decimal.Decimal `json:"initial_capital"`
	Equity         decimal.Decimal `json:"equity"`
	Positions      []positionView  `json:"positions"`
	ClosedTrades   int             `json:"closed_trades"`
	CreatedAt      time.Time       `json:"created_at"`
	LastModifiedAt time.Time       `json:"last_modified_at"`
	SavedAt        *time.Time      `json:"saved_at,omitempty"`
}

// positionViews marks positions at prices, falling back to cost.
func positionViews(snap domain.PortfolioSnapshot, prices map[string]decimal.Decimal) ([]positionView, decimal.Decimal) {
	equity := snap.CashBalance
	views := make([]positionView, 0, len(snap.Positions))
	for _, p := range snap.Positions {
		v := positionView{
			Symbol:            p.Symbol,
			Quantity:          p.Quantity,
			AverageEntryPrice: p.AverageEntryPrice,
			CostBasis:         p.CostBasis(),
			MarketValue:       p.CostBasis(),
			UnrealizedPnL:     decimal.Zero,
			OpenedAt:          p.OpenedAt,
		}
		if mark, ok := prices[p.Symbol]; ok {
			m := mark
			v.MarkPrice = &m
			v.MarketValue = p.MarketValue(mark)
			v.UnrealizedPnL = p.UnrealizedPnL(mark)
		}
		equity = equity.Add(v.MarketValue)
		views = append(views, v)
	}
	return views, equity
}

func (h *PortfolioHandler) render(w http.ResponseWriter, r *http.Request, snap domain.PortfolioSnapshot) {
	prices, err := h.portfolio.Prices(r.Context())
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: read marks failed", slog.String("error", err.Error()))
		prices = nil
	}
	views, equity := positionViews(snap, prices)
	resp := portfolioResponse{
		CashBalance:    snap.CashBalance,
		InitialCapital: snap.InitialCapital,
		Equity:         equity,
		Positions:      views,
		ClosedTrades:   len(snap.ClosedTrades),
		CreatedAt:      snap.CreatedAt,
		LastModifiedAt: snap.LastModifiedAt,
	}
	if !snap.SavedAt.IsZero() {
		saved := snap.SavedAt
		resp.SavedAt = &saved
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPortfolio returns balances, equity and marked positions.
// GET /api/portfolio
func (h *PortfolioHandler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, h.portfolio.Snapshot())
}

// ListPositions returns open positions marked at cached prices.
// GET /api/portfolio/positions
func (h *PortfolioHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	prices, err := h.portfolio.Prices(r.Context())
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: read marks failed", slog.String("error", err.Error()))
	}
	views, _ := positionViews(h.portfolio.Snapshot(), prices)
	writeJSON(w, http.StatusOK, map[string]any{"positions": views})
}

// ListClosedTrades returns closed trades newest first.
// GET /api/portfolio/trades?limit=50&symbol=SOL
func (h *PortfolioHandler) ListClosedTrades(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50, 1000)
	symbol := domain.NormalizeSymbol(r.URL.Query().Get("symbol"))

	trades := h.portfolio.Snapshot().ClosedTrades
	out := make([]domain.ClosedTrade, 0, min(limit, len(trades)))
	for i := len(trades) - 1; i >= 0 && len(out) < limit; i-- {
		if symbol != "" && trades[i].Symbol != symbol {
			continue
		}
		out = append(out, trades[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": out})
}

type resetRequest struct {
	Capital *decimal.Decimal `json:"capital"`
}

// Reset wipes the portfolio. Without a capital the current initial capital
// is reused.
// POST /api/portfolio/reset {"capital": "10000"}
func (h *PortfolioHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	capital := h.portfolio.Snapshot().InitialCapital
	if req.Capital != nil {
		capital = *req.Capital
	}
	snap, err := h.portfolio.Reset(r.Context(), capital)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to reset portfolio")
		return
	}
	h.render(w, r, snap)
}

// Save persists the portfolio.
// POST /api/portfolio/save
func (h *PortfolioHandler) Save(w http.ResponseWriter, r *http.Request) {
	snap, err := h.portfolio.Save(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to save portfolio")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"saved_at":  snap.SavedAt,
		"positions": len(snap.Positions),
	})
}

// Load replaces the portfolio with the stored snapshot.
// POST /api/portfolio/load
func (h *PortfolioHandler) Load(w http.ResponseWriter, r *http.Request) {
	snap, err := h.portfolio.Load(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to load portfolio")
		return
	}
	h.render(w, r, snap)
}
