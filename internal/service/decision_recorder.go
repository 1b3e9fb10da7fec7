package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/paperbot/internal/domain"
)

// DecisionRecorder persists controller decisions and publishes them on
// domain.ChannelDecisions. It satisfies autotrade.DecisionRecorder.
type DecisionRecorder struct {
	store  domain.DecisionStore
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewDecisionRecorder creates a DecisionRecorder. Either dependency may be
// nil.
func NewDecisionRecorder(store domain.DecisionStore, bus domain.SignalBus, logger *slog.Logger) *DecisionRecorder {
	return &DecisionRecorder{
		store:  store,
		bus:    bus,
		logger: logger.With(slog.String("component", "decision_recorder")),
	}
}

// Record stores and publishes d. Failures are logged only.
func (r *DecisionRecorder) Record(ctx context.Context, d domain.Decision) {
	if r.store != nil {
		if err := r.store.Insert(ctx, d); err != nil {
			r.logger.WarnContext(ctx, "decision insert failed",
				slog.String("decision_id", d.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if r.bus != nil {
		payload, err := json.Marshal(d)
		if err != nil {
			return
		}
		if err := r.bus.Publish(ctx, domain.ChannelDecisions, payload); err != nil {
			r.logger.WarnContext(ctx, "publish decision failed",
				slog.String("decision_id", d.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}
