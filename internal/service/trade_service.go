package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/paperbot/internal/domain"
	"github.com/alanyoungcy/paperbot/internal/executor"
	"github.com/alanyoungcy/paperbot/internal/notify"
)

// Autosaver persists the portfolio after a trade.
type Autosaver interface {
	Autosave(ctx context.Context) error
}

// TradeService executes trades and fans the result out to the price cache,
// equity history, signal bus, audit log, notifier and snapshot store.
// Side-effect failures are logged and never fail the trade.
type TradeService struct {
	exec     *executor.Executor
	prices   domain.PriceCache
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier *notify.Notifier
	saver    Autosaver
	logger   *slog.Logger
}

// NewTradeService creates a TradeService. Every dependency except exec may
// be nil; a nil saver disables autosave.
func NewTradeService(
	exec *executor.Executor,
	prices domain.PriceCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	saver Autosaver,
	logger *slog.Logger,
) *TradeService {
	return &TradeService{
		exec:     exec,
		prices:   prices,
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		saver:    saver,
		logger:   logger.With(slog.String("component", "trade_service")),
	}
}

// Execute applies intent and runs the post-trade side effects.
func (s *TradeService) Execute(ctx context.Context, intent domain.TradeIntent) (domain.TradeResult, error) {
	res, err := s.exec.Execute(ctx, intent)
	if err != nil {
		return domain.TradeResult{}, err
	}
	// The trade is applied; finish its side effects even if the caller
	// gives up.
	s.afterTrade(context.WithoutCancel(ctx), res)
	return res, nil
}

// ExecuteManual converts req into an intent and executes it.
func (s *TradeService) ExecuteManual(ctx context.Context, req domain.ManualTradeRequest) (domain.TradeResult, error) {
	intent, err := req.Intent()
	if err != nil {
		return domain.TradeResult{}, fmt.Errorf("trade_service: manual: %w", err)
	}
	return s.Execute(ctx, intent)
}

// Holding returns the held quantity of symbol.
func (s *TradeService) Holding(symbol string) (decimal.Decimal, bool) {
	return s.exec.Holding(symbol)
}

// OpenPositions returns the number of open positions.
func (s *TradeService) OpenPositions() int {
	return s.exec.OpenPositions()
}

func (s *TradeService) afterTrade(ctx context.Context, res domain.TradeResult) {
	price, _ := res.Price.Float64()

	if s.prices != nil {
		if err := s.prices.SetPrice(ctx, res.Symbol, price, res.ExecutedAt); err != nil {
			s.warn(ctx, "price cache update failed", err)
		}
	}

	s.recordEquity(ctx, res)

	if s.bus != nil {
		payload, err := json.Marshal(newTradeEvent(res))
		if err == nil {
			if err := s.bus.Publish(ctx, domain.ChannelTrades, payload); err != nil {
				s.warn(ctx, "publish trade event failed", err)
			}
			if err := s.bus.StreamAppend(ctx, domain.StreamTrades, payload); err != nil {
				s.warn(ctx, "append trade stream failed", err)
			}
		}
	}

	if s.audit != nil {
		detail := map[string]any{
			"symbol":   res.Symbol,
			"side":     string(res.Side),
			"source":   string(res.Source),
			"quantity": res.Quantity.String(),
			"price":    res.Price.String(),
			"cash":     res.CashBalance.String(),
		}
		if res.RealizedPnL != nil {
			detail["realized_pnl"] = res.RealizedPnL.String()
			detail["closed_trade_id"] = res.ClosedTradeID
		}
		if err := s.audit.Log(ctx, "trade.executed", detail); err != nil {
			s.warn(ctx, "audit log failed", err)
		}
	}

	if s.notifier.Enabled() {
		title := fmt.Sprintf("%s %s %s", res.Source, res.Side, res.Symbol)
		msg := fmt.Sprintf("%s @ %s, cash %s", res.Quantity, res.Price, res.CashBalance.StringFixed(2))
		if res.RealizedPnL != nil {
			msg += fmt.Sprintf(", realized P&L %s", res.RealizedPnL.StringFixed(2))
		}
		if err := s.notifier.Notify(ctx, notify.EventTradeExecuted, title, msg); err != nil {
			s.warn(ctx, "notify failed", err)
		}
	}

	if s.saver != nil {
		if err := s.saver.Autosave(ctx); err != nil {
			s.warn(ctx, "autosave failed", err)
		}
	}

	s.logger.InfoContext(ctx, "trade executed",
		slog.String("symbol", res.Symbol),
		slog.String("side", string(res.Side)),
		slog.String("source", string(res.Source)),
		slog.String("quantity", res.Quantity.String()),
		slog.String("price", res.Price.String()),
	)
}

// recordEquity samples equity at cached marks, valuing unpriced holdings at
// cost.
func (s *TradeService) recordEquity(ctx context.Context, res domain.TradeResult) {
	snap := s.exec.Snapshot()
	prices, err := markPrices(ctx, s.prices, snap.Symbols())
	if err != nil {
		s.warn(ctx, "read marks failed", err)
	}
	equity, err := s.exec.Equity(fillAtCost(snap, prices))
	if err != nil {
		s.warn(ctx, "equity sample failed", err)
		return
	}
	s.exec.RecordEquity(domain.EquitySample{At: res.ExecutedAt, Equity: equity})
}

func (s *TradeService) warn(ctx context.Context, msg string, err error) {
	s.logger.WarnContext(ctx, msg, slog.String("error", err.Error()))
}
