package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/paperbot/internal/domain"
)

// MetricsService defines the methods the metrics handler requires.
type MetricsService interface {
	Metrics(ctx context.Context) (domain.Metrics, error)
}

// MetricsHandler serves performance analytics.
type MetricsHandler struct {
	metrics MetricsService
	logger  *slog.Logger
}

// NewMetricsHandler creates a MetricsHandler.
func NewMetricsHandler(metrics MetricsService, logger *slog.Logger) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, logger: logger}
}

// GetMetrics returns performance metrics. ?curve=false omits the equity
// curve.
// GET /api/metrics
func (h *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.metrics.Metrics(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to compute metrics")
		return
	}
	if r.URL.Query().Get("curve") == "false" {
		m.EquityCurve = nil
	}
	if m.EquityCurve == nil {
		m.EquityCurve = []domain.EquityPoint{}
	}
	writeJSON(w, http.StatusOK, m)
}
