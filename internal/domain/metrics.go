package domain

import "time"

// Metrics is the performance analyzer output. Ratios are fractions, not
// percentages: a 2% return is 0.02.
type Metrics struct {
	InitialCapital  float64       `json:"initial_capital"`
	CashBalance     float64       `json:"cash_balance"`
	CurrentEquity   float64       `json:"current_equity"`
	TotalReturn     float64       `json:"total_return"`
	RealizedPnL     float64       `json:"realized_pnl"`
	UnrealizedPnL   float64       `json:"unrealized_pnl"`
	TotalTrades     int           `json:"total_trades"`
	WinningTrades   int           `json:"winning_trades"`
	LosingTrades    int           `json:"losing_trades"`
	WinRate         float64       `json:"win_rate"`
	AverageWin      float64       `json:"average_win"`
	AverageLoss     float64       `json:"average_loss"`
	SharpeRatio     *float64      `json:"sharpe_ratio"` // nil when fewer than two return samples exist
	MaxDrawdown     float64       `json:"max_drawdown"`
	OpenPositions   int           `json:"open_positions"`
	UnpricedSymbols []string      `json:"unpriced_symbols,omitempty"`
	EquityCurve     []EquityPoint `json:"equity_curve"`
	ComputedAt      time.Time     `json:"computed_at"`
}

// EquityPoint is one observation on the equity curve.
type EquityPoint struct {
	At     time.Time `json:"at"`
	Equity float64   `json:"equity"`
}
