// Package analytics derives performance metrics from a portfolio snapshot. It
// never mutates its input and never fails: empty or malformed input produces
// zero values.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/paperbot/internal/domain"
)

// TradingDaysPerYear is the default Sharpe annualization base.
const TradingDaysPerYear = 252

// Options tunes the analyzer.
type Options struct {
	// AnnualizationFactor multiplies the per-period Sharpe ratio. Zero means
	// sqrt(252).
	AnnualizationFactor float64
	// RiskFreeRate is subtracted from each period return.
	RiskFreeRate float64
	// Now stamps the current-equity point appended to the curve.
	Now time.Time
}

// DefaultOptions returns daily-sample options.
func DefaultOptions() Options {
	return Options{AnnualizationFactor: math.Sqrt(TradingDaysPerYear)}
}

// Analyze computes metrics for snap marked at prices. Held symbols without a
// price are valued at average cost and listed in UnpricedSymbols.
func Analyze(snap domain.PortfolioSnapshot, prices map[string]decimal.Decimal, opts Options) domain.Metrics {
	if opts.AnnualizationFactor == 0 {
		opts.AnnualizationFactor = math.Sqrt(TradingDaysPerYear)
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now().UTC()
	}

	m := domain.Metrics{
		InitialCapital: snap.InitialCapital.InexactFloat64(),
		CashBalance:    snap.CashBalance.InexactFloat64(),
		OpenPositions:  len(snap.Positions),
		TotalTrades:    len(snap.ClosedTrades),
		ComputedAt:     opts.Now,
	}

	equity := snap.CashBalance
	unrealized := decimal.Zero
	for _, p := range snap.Positions {
		px, ok := prices[p.Symbol]
		if !ok || !px.IsPositive() {
			m.UnpricedSymbols = append(m.UnpricedSymbols, p.Symbol)
			px = p.AverageEntryPrice
		}
		equity = equity.Add(p.MarketValue(px))
		unrealized = unrealized.Add(p.UnrealizedPnL(px))
	}
	sort.Strings(m.UnpricedSymbols)
	m.CurrentEquity = equity.InexactFloat64()
	m.UnrealizedPnL = unrealized.InexactFloat64()
	if snap.InitialCapital.IsPositive() {
		m.TotalReturn = equity.Sub(snap.InitialCapital).Div(snap.InitialCapital).InexactFloat64()
	}

	realized := decimal.Zero
	wins, losses := decimal.Zero, decimal.Zero
	for _, t := range snap.ClosedTrades {
		realized = realized.Add(t.RealizedPnL)
		switch {
		case t.RealizedPnL.IsPositive():
			m.WinningTrades++
			wins = wins.Add(t.RealizedPnL)
		case t.RealizedPnL.IsNegative():
			m.LosingTrades++
			losses = losses.Add(t.RealizedPnL)
		}
	}
	m.RealizedPnL = realized.InexactFloat64()
	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
	}
	if m.WinningTrades > 0 {
		m.AverageWin = wins.Div(decimal.NewFromInt(int64(m.WinningTrades))).InexactFloat64()
	}
	if m.LosingTrades > 0 {
		m.AverageLoss = losses.Div(decimal.NewFromInt(int64(m.LosingTrades))).InexactFloat64()
	}

	m.EquityCurve = EquityCurve(snap, domain.EquityPoint{At: opts.Now, Equity: m.CurrentEquity})
	values := make([]float64, len(m.EquityCurve))
	for i, p := range m.EquityCurve {
		values[i] = p.Equity
	}
	m.SharpeRatio = SharpeRatio(PeriodReturns(values), opts.RiskFreeRate, opts.AnnualizationFactor)
	m.MaxDrawdown = MaxDrawdown(values)
	return m
}

// EquityCurve returns the recorded equity history when present, otherwise a
// curve rebuilt from initial capital plus cumulative realized P&L per closed
// trade. current is appended as the final point.
func EquityCurve(snap domain.PortfolioSnapshot, current domain.EquityPoint) []domain.EquityPoint {
	var curve []domain.EquityPoint
	if len(snap.EquityHistory) > 0 {
		curve = make([]domain.EquityPoint, 0, len(snap.EquityHistory)+1)
		for _, s := range snap.EquityHistory {
			curve = append(curve, domain.EquityPoint{At: s.At, Equity: s.Equity.InexactFloat64()})
		}
	} else if snap.InitialCapital.IsPositive() {
		curve = make([]domain.EquityPoint, 0, len(snap.ClosedTrades)+2)
		curve = append(curve, domain.EquityPoint{At: snap.CreatedAt, Equity: snap.InitialCapital.InexactFloat64()})
		running := snap.InitialCapital
		for _, t := range snap.ClosedTrades {
			running = running.Add(t.RealizedPnL)
			curve = append(curve, domain.EquityPoint{At: t.ClosedAt, Equity: running.InexactFloat64()})
		}
	}
	return append(curve, current)
}

// PeriodReturns converts an equity series into simple period returns.
// Periods starting from a non-positive value are dropped.
func PeriodReturns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		prev := values[i-1]
		if prev <= 0 {
			continue
		}
		out = append(out, (values[i]-prev)/prev)
	}
	return out
}

// SharpeRatio returns mean excess return over its population standard
// deviation, times annualization. It returns nil for fewer than two returns
// and zero when the returns have no dispersion.
func SharpeRatio(returns []float64, riskFree, annualization float64) *float64 {
	if len(returns) < 2 {
		return nil
	}
	var sum float64
	for _, r := range returns {
		sum += r - riskFree
	}
	mean := sum / float64(len(returns))

	var sq float64
	for _, r := range returns {
		diff := r - riskFree - mean
		sq += diff * diff
	}
	std := math.Sqrt(sq / float64(len(returns)))

	var sharpe float64
	if std > 0 {
		sharpe = mean / std * annualization
	}
	return &sharpe
}

// MaxDrawdown returns the largest peak-to-trough decline as a fraction of the
// peak.
func MaxDrawdown(values []float64) float64 {
	var peak, worst float64
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}
