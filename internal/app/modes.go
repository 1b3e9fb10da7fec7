package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/paperbot/internal/analytics"
	"github.com/alanyoungcy/paperbot/internal/autotrade"
	"github.com/alanyoungcy/paperbot/internal/domain"
	"github.com/alanyoungcy/paperbot/internal/executor"
	"github.com/alanyoungcy/paperbot/internal/feed"
	"github.com/alanyoungcy/paperbot/internal/ledger"
	"github.com/alanyoungcy/paperbot/internal/server"
	"github.com/alanyoungcy/paperbot/internal/server/handler"
	"github.com/alanyoungcy/paperbot/internal/server/ws"
	"github.com/alanyoungcy/paperbot/internal/service"
)

// Core holds the trading components shared by the full and server modes.
type Core struct {
	Executor  *executor.Executor
	Trades    *service.TradeService
	Portfolio *service.PortfolioService
	AutoTrade *service.AutoTradeService
	Signals   *feed.StreamPublisher
}

// buildCore creates the ledger, executor, services and controller, and
// restores the last saved snapshot. A missing snapshot starts a fresh
// portfolio; a corrupt one is an error.
func (a *App) buildCore(ctx context.Context, deps *Dependencies) (*Core, error) {
	pcfg := a.cfg.Portfolio
	l, err := ledger.New(pcfg.InitialCapital, ledger.WithEquityHistorySize(pcfg.EquityHistorySize))
	if err != nil {
		return nil, fmt.Errorf("app: ledger: %w", err)
	}
	exec := executor.New(l, deps.SnapshotStore, a.logger)

	switch _, err := exec.Load(ctx); {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		a.logger.InfoContext(ctx, "no saved portfolio, starting fresh",
			slog.String("portfolio", pcfg.ID),
			slog.String("capital", pcfg.InitialCapital.String()),
		)
	default:
		return nil, fmt.Errorf("app: restore portfolio: %w", err)
	}

	portfolio := service.NewPortfolioService(exec, service.PortfolioDeps{
		Prices:   deps.PriceCache,
		Locks:    deps.LockManager,
		Bus:      deps.SignalBus,
		Audit:    deps.AuditStore,
		Notifier: deps.Notifier,
	}, pcfg.ID, analytics.Options{
		AnnualizationFactor: a.cfg.Analytics.AnnualizationFactor,
		RiskFreeRate:        a.cfg.Analytics.RiskFreeRate,
	}, a.logger)

	// Autosave shares the portfolio lock with explicit saves.
	var saver service.Autosaver
	if pcfg.Autosave {
		saver = portfolio
	}
	trades := service.NewTradeService(exec, deps.PriceCache, deps.SignalBus, deps.AuditStore, deps.Notifier, saver, a.logger)

	at := a.cfg.AutoTrade
	source := feed.NewStreamSource(deps.SignalBus, at.SignalStream, at.BatchSize, a.logger)
	ctrl := autotrade.New(trades, source, a.logger,
		autotrade.WithRecorder(service.NewDecisionRecorder(deps.DecisionStore, deps.SignalBus, a.logger)),
		autotrade.WithDedupTTL(at.DedupTTL.Duration),
		autotrade.WithDecisionLogSize(at.DecisionLogSize),
	)
	if err := ctrl.UpdateConfig(at.Policy()); err != nil {
		return nil, fmt.Errorf("app: autotrade policy: %w", err)
	}

	return &Core{
		Executor:  exec,
		Trades:    trades,
		Portfolio: portfolio,
		AutoTrade: service.NewAutoTradeService(ctrl, deps.AuditStore, deps.Notifier, a.logger),
		Signals:   feed.NewStreamPublisher(deps.PriceCache, deps.SignalBus, at.SignalStream),
	}, nil
}

// FullMode runs the API server, the alert feed, automated trading, the equity
// sampler and, when enabled, the archiver in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	core, err := a.buildCore(ctx, deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startCore(ctx, g, core)

	if a.cfg.Feed.Enabled {
		a.startAlertFeed(ctx, g, core.Signals.Publish)
	}
	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiver(ctx, deps.Archiver)
		})
	}
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, core)
	}

	return g.Wait()
}

// ServerMode runs the API and automated trading. Alerts arrive through
// POST /api/signals or from a separate feed process sharing the stream.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	core, err := a.buildCore(ctx, deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startCore(ctx, g, core)
	a.startHTTPServer(ctx, g, deps, core)
	return g.Wait()
}

// FeedMode only ingests alerts: prices go to the cache and events to the
// signal stream for a trading process to consume.
func (a *App) FeedMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting feed mode", slog.String("stream", a.cfg.AutoTrade.SignalStream))

	pub := feed.NewStreamPublisher(deps.PriceCache, deps.SignalBus, a.cfg.AutoTrade.SignalStream)
	g, ctx := errgroup.WithContext(ctx)
	a.startAlertFeed(ctx, g, pub.Publish)
	return g.Wait()
}

// ArchiveMode periodically exports old records from Postgres to S3.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")
	if deps.Archiver == nil {
		return errors.New("archive mode: archiver requires postgres and s3")
	}
	return a.runArchiver(ctx, deps.Archiver)
}

// startCore runs the equity sampler, autostarts the controller, and on
// shutdown stops the controller and saves a final snapshot.
func (a *App) startCore(ctx context.Context, g *errgroup.Group, core *Core) {
	if a.cfg.AutoTrade.Autostart {
		if err := core.AutoTrade.Start(a.cfg.AutoTrade.Policy()); err != nil {
			a.logger.ErrorContext(ctx, "autotrade autostart failed", slog.String("error", err.Error()))
		}
	}

	g.Go(func() error {
		return core.Portfolio.RunSampler(ctx, a.cfg.Analytics.SampleInterval.Duration)
	})

	g.Go(func() error {
		<-ctx.Done()
		core.AutoTrade.StopIfRunning()
		if a.cfg.Portfolio.Autosave {
			saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := core.Executor.Save(saveCtx); err != nil {
				a.logger.Error("final snapshot save failed", slog.String("error", err.Error()))
			}
		}
		return nil
	})
}

func (a *App) startAlertFeed(ctx context.Context, g *errgroup.Group, publish feed.AlertHandler) {
	f := feed.NewWSAlertFeed(
		a.cfg.Feed.WSURL,
		publish,
		a.cfg.Feed.ReconnectDelay.Duration,
		a.cfg.Feed.ReconnectMax.Duration,
		a.logger,
	)
	g.Go(func() error {
		return f.Run(ctx)
	})
}

// runArchiver archives once immediately and then on every interval tick.
func (a *App) runArchiver(ctx context.Context, archiver domain.Archiver) error {
	ticker := time.NewTicker(a.cfg.Archive.Interval.Duration)
	defer ticker.Stop()
	for {
		a.archiveOnce(ctx, archiver)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *App) archiveOnce(ctx context.Context, archiver domain.Archiver) {
	cutoff := time.Now().UTC().Add(-a.cfg.Archive.Retention())
	runs := []struct {
		kind string
		fn   func(context.Context, time.Time) (int64, error)
	}{
		{"closed_trades", archiver.ArchiveClosedTrades},
		{"decisions", archiver.ArchiveDecisions},
		{"audit", archiver.ArchiveAudit},
	}
	for _, r := range runs {
		n, err := r.fn(ctx, cutoff)
		if err != nil {
			a.logger.WarnContext(ctx, "archive failed",
				slog.String("kind", r.kind),
				slog.String("error", err.Error()),
			)
			continue
		}
		a.logger.InfoContext(ctx, "archive complete",
			slog.String("kind", r.kind),
			slog.Int64("records", n),
			slog.Time("cutoff", cutoff),
		)
	}
}

// startHTTPServer adds the HTTP server and WebSocket hub to the errgroup. The
// server is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, core *Core) {
	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Health, a.cfg.Mode, a.logger),
		Portfolio: handler.NewPortfolioHandler(core.Portfolio, a.logger),
		Trades:    handler.NewTradeHandler(core.Trades, deps.PriceCache, a.logger),
		Metrics:   handler.NewMetricsHandler(core.Portfolio, a.logger),
		AutoTrade: handler.NewAutoTradeHandler(core.AutoTrade, a.logger),
		Signals:   handler.NewSignalHandler(core.Signals, a.logger),
	}
	if deps.AuditStore != nil {
		handlers.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}

	hub := ws.NewHub(deps.SignalBus, func() any {
		st := core.AutoTrade.Status()
		return map[string]any{
			"mode":           a.cfg.Mode,
			"autotrade":      st.State,
			"open_positions": core.Executor.OpenPositions(),
		}
	}, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
