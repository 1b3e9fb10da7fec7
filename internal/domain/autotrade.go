package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ControllerState is the lifecycle state of the automated trading controller.
type ControllerState string

const (
	StateStopped  ControllerState = "STOPPED"
	StateRunning  ControllerState = "RUNNING"
	StateStopping ControllerState = "STOPPING"
)

// AutoTradeConfig holds the controller's eligibility policy.
type AutoTradeConfig struct {
	MinConfidence       float64
	DefaultPositionSize decimal.Decimal
	MaxOpenPositions    int
	Cooldown            time.Duration
	PollInterval        time.Duration
}

// DefaultAutoTradeConfig returns the stock policy: confidence 85, 500 per
// position, 10 open positions, 5 minute cooldown, 30 second poll.
func DefaultAutoTradeConfig() AutoTradeConfig {
	return AutoTradeConfig{
		MinConfidence:       85,
		DefaultPositionSize: decimal.NewFromInt(500),
		MaxOpenPositions:    10,
		Cooldown:            300 * time.Second,
		PollInterval:        30 * time.Second,
	}
}

// Validate rejects configurations the controller cannot run with.
func (c AutoTradeConfig) Validate() error {
	if c.MinConfidence < 0 || c.MinConfidence > 100 {
		return fmt.Errorf("%w: min confidence %.2f out of range [0,100]", ErrInvalidConfig, c.MinConfidence)
	}
	if !c.DefaultPositionSize.IsPositive() {
		return fmt.Errorf("%w: default position size must be positive", ErrInvalidConfig)
	}
	if c.MaxOpenPositions < 1 {
		return fmt.Errorf("%w: max open positions must be >= 1", ErrInvalidConfig)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("%w: cooldown must not be negative", ErrInvalidConfig)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidConfig)
	}
	return nil
}

// DecisionOutcome says whether a signal led to a trade.
type DecisionOutcome string

const (
	OutcomeExecuted DecisionOutcome = "executed"
	OutcomeSkipped  DecisionOutcome = "skipped"
)

// Skip reasons recorded by the controller.
const (
	ReasonMalformed       = "malformed_signal"
	ReasonDuplicate       = "duplicate_signal"
	ReasonLowConfidence   = "confidence_below_threshold"
	ReasonMaxPositions    = "max_positions_reached"
	ReasonCooldown        = "cooldown_active"
	ReasonWatch           = "watch_signal"
	ReasonNoPosition      = "no_position_to_sell"
	ReasonExecutorFailure = "executor_rejected"
)

// Decision is the controller's verdict on one signal.
type Decision struct {
	ID         string          `json:"id"`
	SignalID   string          `json:"signal_id"`
	Symbol     string          `json:"symbol"`
	SignalType SignalType      `json:"signal_type"`
	Confidence float64         `json:"confidence"`
	Side       Side            `json:"side,omitempty"` // empty when no trade was attempted
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Outcome    DecisionOutcome `json:"outcome"`
	Reason     string          `json:"reason,omitempty"`
	Detail     string          `json:"detail,omitempty"`
	DecidedAt  time.Time       `json:"decided_at"`
}

// ControllerStatus is a point-in-time view of the controller.
type ControllerStatus struct {
	State            ControllerState
	Config           AutoTradeConfig
	StartedAt        *time.Time
	LastCycleAt      *time.Time
	SignalsSeen      int64
	TradesExecuted   int64
	SignalsSkipped   int64
	ProcessedSignals int
	CooldownSymbols  []string
}
