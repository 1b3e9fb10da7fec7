package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/paperbot/internal/analytics"
	"github.com/alanyoungcy/paperbot/internal/domain"
	"github.com/alanyoungcy/paperbot/internal/executor"
	"github.com/alanyoungcy/paperbot/internal/notify"
)

const defaultLockTTL = 30 * time.Second

// PortfolioService serves read models and the persistence operations for the
// portfolio. Save and Load hold a distributed lock so only one instance
// touches the shared store at a time.
type PortfolioService struct {
	exec        *executor.Executor
	prices      domain.PriceCache
	locks       domain.LockManager
	bus         domain.SignalBus
	audit       domain.AuditStore
	notifier    *notify.Notifier
	analytics   analytics.Options
	portfolioID string
	lockTTL     time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// PortfolioDeps groups the optional collaborators of PortfolioService.
type PortfolioDeps struct {
	Prices   domain.PriceCache
	Locks    domain.LockManager
	Bus      domain.SignalBus
	Audit    domain.AuditStore
	Notifier *notify.Notifier
}

// NewPortfolioService creates a PortfolioService.
func NewPortfolioService(exec *executor.Executor, deps PortfolioDeps, portfolioID string, opts analytics.Options, logger *slog.Logger) *PortfolioService {
	return &PortfolioService{
		exec:        exec,
		prices:      deps.Prices,
		locks:       deps.Locks,
		bus:         deps.Bus,
		audit:       deps.Audit,
		notifier:    deps.Notifier,
		analytics:   opts,
		portfolioID: portfolioID,
		lockTTL:     defaultLockTTL,
		now:         time.Now,
		logger:      logger.With(slog.String("component", "portfolio_service")),
	}
}

// Snapshot returns the current portfolio state.
func (s *PortfolioService) Snapshot() domain.PortfolioSnapshot {
	return s.exec.Snapshot()
}

// Prices returns cached marks for held symbols. Unpriced symbols are absent.
func (s *PortfolioService) Prices(ctx context.Context) (map[string]decimal.Decimal, error) {
	snap := s.exec.Snapshot()
	prices, err := markPrices(ctx, s.prices, snap.Symbols())
	if err != nil {
		return nil, fmt.Errorf("portfolio_service: prices: %w", err)
	}
	return prices, nil
}

// Metrics analyzes the current portfolio at cached marks.
func (s *PortfolioService) Metrics(ctx context.Context) (domain.Metrics, error) {
	snap := s.exec.Snapshot()
	prices, err := markPrices(ctx, s.prices, snap.Symbols())
	if err != nil {
		return domain.Metrics{}, fmt.Errorf("portfolio_service: metrics: %w", err)
	}
	opts := s.analytics
	opts.Now = s.now().UTC()
	return analytics.Analyze(snap, prices, opts), nil
}

// SampleEquity records the current equity in the portfolio history.
func (s *PortfolioService) SampleEquity(ctx context.Context) (domain.EquitySample, error) {
	snap := s.exec.Snapshot()
	prices, err := markPrices(ctx, s.prices, snap.Symbols())
	if err != nil {
		s.logger.WarnContext(ctx, "read marks failed", slog.String("error", err.Error()))
	}
	equity, err := s.exec.Equity(fillAtCost(snap, prices))
	if err != nil {
		return domain.EquitySample{}, fmt.Errorf("portfolio_service: sample equity: %w", err)
	}
	sample := domain.EquitySample{At: s.now().UTC().Truncate(time.Microsecond), Equity: equity}
	s.exec.RecordEquity(sample)
	return sample, nil
}

// RunSampler records equity every interval until ctx is done.
func (s *PortfolioService) RunSampler(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.SampleEquity(ctx); err != nil {
				s.logger.WarnContext(ctx, "equity sample failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Save persists the portfolio under the portfolio lock.
func (s *PortfolioService) Save(ctx context.Context) (domain.PortfolioSnapshot, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("portfolio_service: save: %w", err)
	}
	defer unlock()

	snap, err := s.exec.Save(ctx)
	if err != nil {
		return domain.PortfolioSnapshot{}, err
	}
	s.afterChange(ctx, notify.EventPortfolioSaved, snap)
	return snap, nil
}

// Autosave persists the portfolio under the portfolio lock without
// announcing it. TradeService calls it after every trade.
func (s *PortfolioService) Autosave(ctx context.Context) error {
	unlock, err := s.lock(ctx)
	if err != nil {
		return fmt.Errorf("portfolio_service: autosave: %w", err)
	}
	defer unlock()

	if _, err := s.exec.Save(ctx); err != nil {
		return fmt.Errorf("portfolio_service: autosave: %w", err)
	}
	return nil
}

// Load replaces the portfolio with the stored snapshot under the portfolio
// lock.
func (s *PortfolioService) Load(ctx context.Context) (domain.PortfolioSnapshot, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("portfolio_service: load: %w", err)
	}
	defer unlock()

	snap, err := s.exec.Load(ctx)
	if err != nil {
		return domain.PortfolioSnapshot{}, err
	}
	s.afterChange(ctx, notify.EventPortfolioLoaded, snap)
	return snap, nil
}

// Reset wipes the portfolio and funds it with capital.
func (s *PortfolioService) Reset(ctx context.Context, capital decimal.Decimal) (domain.PortfolioSnapshot, error) {
	if err := s.exec.Reset(capital); err != nil {
		return domain.PortfolioSnapshot{}, err
	}
	snap := s.exec.Snapshot()
	s.afterChange(ctx, notify.EventPortfolioReset, snap)
	return snap, nil
}

func (s *PortfolioService) lock(ctx context.Context) (func(), error) {
	if s.locks == nil {
		return func() {}, nil
	}
	return s.locks.Acquire(ctx, "portfolio:"+s.portfolioID, s.lockTTL)
}

func (s *PortfolioService) afterChange(ctx context.Context, event string, snap domain.PortfolioSnapshot) {
	ctx = context.WithoutCancel(ctx)

	if s.bus != nil {
		payload, err := json.Marshal(PortfolioEvent{
			Event:       event,
			CashBalance: snap.CashBalance.String(),
			Positions:   len(snap.Positions),
			At:          s.now().UTC(),
		})
		if err == nil {
			if err := s.bus.Publish(ctx, domain.ChannelPortfolio, payload); err != nil {
				s.logger.WarnContext(ctx, "publish portfolio event failed", slog.String("error", err.Error()))
			}
		}
	}
	if s.audit != nil {
		if err := s.audit.Log(ctx, event, map[string]any{
			"cash":      snap.CashBalance.String(),
			"capital":   snap.InitialCapital.String(),
			"positions": len(snap.Positions),
		}); err != nil {
			s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	if event != notify.EventPortfolioSaved && s.notifier.Enabled() {
		msg := fmt.Sprintf("cash %s, %d open positions", snap.CashBalance.StringFixed(2), len(snap.Positions))
		if err := s.notifier.Notify(ctx, event, event, msg); err != nil {
			s.logger.WarnContext(ctx, "notify failed", slog.String("error", err.Error()))
		}
	}
	s.logger.InfoContext(ctx, event,
		slog.String("cash", snap.CashBalance.String()),
		slog.Int("positions", len(snap.Positions)),
	)
}
