package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/paperbot/internal/autotrade"
	"github.com/alanyoungcy/paperbot/internal/domain"
	"github.com/alanyoungcy/paperbot/internal/notify"
)

// AutoTradeService wraps the controller so lifecycle changes are audited and
// announced.
type AutoTradeService struct {
	*autotrade.Controller
	audit    domain.AuditStore
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewAutoTradeService creates an AutoTradeService. audit and notifier may be
// nil.
func NewAutoTradeService(ctrl *autotrade.Controller, audit domain.AuditStore, notifier *notify.Notifier, logger *slog.Logger) *AutoTradeService {
	return &AutoTradeService{
		Controller: ctrl,
		audit:      audit,
		notifier:   notifier,
		logger:     logger.With(slog.String("component", "autotrade_service")),
	}
}

// Start launches the controller with cfg.
func (s *AutoTradeService) Start(cfg domain.AutoTradeConfig) error {
	if err := s.Controller.Start(cfg); err != nil {
		return err
	}
	s.announce(notify.EventAutoTradeStarted, "Automated trading started",
		fmt.Sprintf("min confidence %.0f, size %s, max %d positions", cfg.MinConfidence, cfg.DefaultPositionSize, cfg.MaxOpenPositions),
		map[string]any{
			"min_confidence":        cfg.MinConfidence,
			"default_position_size": cfg.DefaultPositionSize.String(),
			"max_open_positions":    cfg.MaxOpenPositions,
			"cooldown":              cfg.Cooldown.String(),
			"poll_interval":         cfg.PollInterval.String(),
		})
	return nil
}

// Stop halts the controller and waits for the loop to exit.
func (s *AutoTradeService) Stop() error {
	if err := s.Controller.Stop(); err != nil {
		return err
	}
	st := s.Controller.Status()
	s.announce(notify.EventAutoTradeStopped, "Automated trading stopped",
		fmt.Sprintf("%d signals seen, %d trades executed", st.SignalsSeen, st.TradesExecuted),
		map[string]any{
			"signals_seen":    st.SignalsSeen,
			"trades_executed": st.TradesExecuted,
			"signals_skipped": st.SignalsSkipped,
		})
	return nil
}

// StopIfRunning stops the controller unless it is already stopped.
func (s *AutoTradeService) StopIfRunning() {
	if s.Controller.State() == domain.StateStopped {
		return
	}
	if err := s.Stop(); err != nil {
		s.logger.Warn("autotrade stop failed", slog.String("error", err.Error()))
	}
}

// announce runs detached from any request context.
func (s *AutoTradeService) announce(event, title, msg string, detail map[string]any) {
	ctx := context.Background()
	if s.audit != nil {
		if err := s.audit.Log(ctx, event, detail); err != nil {
			s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	if s.notifier.Enabled() {
		if err := s.notifier.Notify(ctx, event, title, msg); err != nil {
			s.logger.WarnContext(ctx, "notify failed", slog.String("error", err.Error()))
		}
	}
}
