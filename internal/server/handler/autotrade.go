package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/paperbot/internal/domain"
)

// AutoTradeController defines the controller methods the handler requires.
type AutoTradeController interface {
	Start(cfg domain.AutoTradeConfig) error
	Stop() error
	Config() domain.AutoTradeConfig
	UpdateConfig(cfg domain.AutoTradeConfig) error
	ClearProcessed()
	Status() domain.ControllerStatus
	Decisions(limit int) []domain.Decision
}

// AutoTradeHandler serves the automated trading controls.
type AutoTradeHandler struct {
	ctrl   AutoTradeController
	logger *slog.Logger
}

// NewAutoTradeHandler creates an AutoTradeHandler.
func NewAutoTradeHandler(ctrl AutoTradeController, logger *slog.Logger) *AutoTradeHandler {
	return &AutoTradeHandler{ctrl: ctrl, logger: logger}
}

// configPatch is a partial AutoTradeConfig; absent fields keep their value.
type configPatch struct {
	MinConfidence       *float64         `json:"min_confidence,omitempty"`
	DefaultPositionSize *decimal.Decimal `json:"default_position_size,omitempty"`
	MaxOpenPositions    *int             `json:"max_open_positions,omitempty"`
	CooldownSeconds     *float64         `json:"cooldown_seconds,omitempty"`
	PollIntervalSeconds *float64         `json:"poll_interval_seconds,omitempty"`
}

func (p configPatch) apply(cfg domain.AutoTradeConfig) domain.AutoTradeConfig {
	if p.MinConfidence != nil {
		cfg.MinConfidence = *p.MinConfidence
	}
	if p.DefaultPositionSize != nil {
		cfg.DefaultPositionSize = *p.DefaultPositionSize
	}
	if p.MaxOpenPositions != nil {
		cfg.MaxOpenPositions = *p.MaxOpenPositions
	}
	if p.CooldownSeconds != nil {
		cfg.Cooldown = time.Duration(*p.CooldownSeconds * float64(time.Second))
	}
	if p.PollIntervalSeconds != nil {
		cfg.PollInterval = time.Duration(*p.PollIntervalSeconds * float64(time.Second))
	}
	return cfg
}

type configView struct {
	MinConfidence       float64         `json:"min_confidence"`
	DefaultPositionSize decimal.Decimal `json:"default_position_size"`
	MaxOpenPositions    int             `json:"max_open_positions"`
	CooldownSeconds     float64         `json:"cooldown_seconds"`
	PollIntervalSeconds float64         `json:"poll_interval_seconds"`
}

func newConfigView(cfg domain.AutoTradeConfig) configView {
	return configView{
		MinConfidence:       cfg.MinConfidence,
		DefaultPositionSize: cfg.DefaultPositionSize,
		MaxOpenPositions:    cfg.MaxOpenPositions,
		CooldownSeconds:     cfg.Cooldown.Seconds(),
		PollIntervalSeconds: cfg.PollInterval.Seconds(),
	}
}

type statusView struct {
	State            domain.ControllerState `json:"state"`
	Config           configView             `json:"config"`
	StartedAt        *time.Time             `json:"started_at"`
	LastCycleAt      *time.Time             `json:"last_cycle_at"`
	SignalsSeen      int64                  `json:"signals_seen"`
	TradesExecuted   int64                  `json:"trades_executed"`
	SignalsSkipped   int64                  `json:"signals_skipped"`
	ProcessedSignals int                    `json:"processed_signals"`
	CooldownSymbols  []string               `json:"cooldown_symbols"`
}

func newStatusView(st domain.ControllerStatus) statusView {
	cooling := st.CooldownSymbols
	if cooling == nil {
		cooling = []string{}
	}
	return statusView{
		State:            st.State,
		Config:           newConfigView(st.Config),
		StartedAt:        st.StartedAt,
		LastCycleAt:      st.LastCycleAt,
		SignalsSeen:      st.SignalsSeen,
		TradesExecuted:   st.TradesExecuted,
		SignalsSkipped:   st.SignalsSkipped,
		ProcessedSignals: st.ProcessedSignals,
		CooldownSymbols:  cooling,
	}
}

// GetStatus returns the controller status.
// GET /api/autotrade/status
func (h *AutoTradeHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newStatusView(h.ctrl.Status()))
}

// Start launches automated trading, optionally overriding config fields.
// POST /api/autotrade/start {"min_confidence": 90}
func (h *AutoTradeHandler) Start(w http.ResponseWriter, r *http.Request) {
	var patch configPatch
	if err := decodeJSON(r, &patch, true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.ctrl.Start(patch.apply(h.ctrl.Config())); err != nil {
		writeDomainError(w, r, h.logger, err, "failed to start automated trading")
		return
	}
	writeJSON(w, http.StatusOK, newStatusView(h.ctrl.Status()))
}

// Stop halts automated trading and waits for the loop to exit.
// POST /api/autotrade/stop
func (h *AutoTradeHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Stop(); err != nil {
		writeDomainError(w, r, h.logger, err, "failed to stop automated trading")
		return
	}
	writeJSON(w, http.StatusOK, newStatusView(h.ctrl.Status()))
}

// UpdateConfig patches the active policy.
// PUT /api/autotrade/config
func (h *AutoTradeHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var patch configPatch
	if err := decodeJSON(r, &patch, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg := patch.apply(h.ctrl.Config())
	if err := h.ctrl.UpdateConfig(cfg); err != nil {
		writeDomainError(w, r, h.logger, err, "failed to update config")
		return
	}
	writeJSON(w, http.StatusOK, newConfigView(cfg))
}

// ClearProcessed forgets processed signal IDs.
// POST /api/autotrade/clear-processed
func (h *AutoTradeHandler) ClearProcessed(w http.ResponseWriter, r *http.Request) {
	h.ctrl.ClearProcessed()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// ListDecisions returns recent controller decisions, newest first.
// GET /api/autotrade/decisions?limit=50
func (h *AutoTradeHandler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	decisions := h.ctrl.Decisions(parseLimit(r, 50, 500))
	if decisions == nil {
		decisions = []domain.Decision{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": decisions})
}
