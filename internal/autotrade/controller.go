// Package autotrade runs the automated trading controller: a supervised
// background loop that polls a signal source, filters signals through the
// eligibility policy and submits AUTOMATED intents to the executor.
package autotrade

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/paperbot/internal/domain"
)

// Executor is the subset of the trade executor the controller needs.
type Executor interface {
	Execute(ctx context.Context, intent domain.TradeIntent) (domain.TradeResult, error)
	Holding(symbol string) (decimal.Decimal, bool)
	OpenPositions() int
}

// DecisionRecorder receives every decision the controller makes.
type DecisionRecorder interface {
	Record(ctx context.Context, d domain.Decision)
}

const (
	defaultDedupTTL     = time.Hour
	defaultDecisionSize = 200
)

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the time source used for cooldowns and timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithRecorder attaches a DecisionRecorder.
func WithRecorder(r DecisionRecorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithDedupTTL sets how long processed signal keys are remembered.
func WithDedupTTL(ttl time.Duration) Option {
	return func(c *Controller) {
		if ttl > 0 {
			c.dedupTTL = ttl
		}
	}
}

// WithDecisionLogSize bounds the in-memory decision log.
func WithDecisionLogSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.logSize = n
		}
	}
}

// Controller is the automated trading state machine:
// STOPPED -> RUNNING -> STOPPING -> STOPPED.
type Controller struct {
	exec     Executor
	source   SignalSource
	recorder DecisionRecorder
	logger   *slog.Logger
	now      func() time.Time
	dedupTTL time.Duration
	logSize  int

	mu        sync.Mutex
	state     domain.ControllerState
	cfg       domain.AutoTradeConfig
	cancel    context.CancelFunc
	done      chan struct{}
	lastTrade map[string]time.Time
	processed *Dedup
	decisions []domain.Decision
	startedAt *time.Time
	lastCycle *time.Time
	seen      int64
	executed  int64
	skipped   int64
}

// New creates a stopped Controller.
func New(exec Executor, source SignalSource, logger *slog.Logger, opts ...Option) *Controller {
	c := &Controller{
		exec:     exec,
		source:   source,
		logger:   logger.With(slog.String("component", "autotrade")),
		now:      func() time.Time { return time.Now().UTC() },
		dedupTTL: defaultDedupTTL,
		logSize:  defaultDecisionSize,
		state:    domain.StateStopped,
		cfg:      domain.DefaultAutoTradeConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	c.processed = NewDedup(c.dedupTTL, c.now)
	c.lastTrade = make(map[string]time.Time)
	return c
}

// Start validates cfg and launches the monitoring loop. It fails with
// ErrAlreadyRunning unless the controller is STOPPED.
func (c *Controller) Start(cfg domain.AutoTradeConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("autotrade: start: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != domain.StateStopped {
		return fmt.Errorf("autotrade: start: %w (state %s)", domain.ErrAlreadyRunning, c.state)
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := c.now()
	c.state = domain.StateRunning
	c.cfg = cfg
	c.cancel = cancel
	c.done = make(chan struct{})
	c.lastTrade = make(map[string]time.Time)
	c.processed.Reset()
	c.startedAt = &now
	c.lastCycle = nil
	c.seen, c.executed, c.skipped = 0, 0, 0

	go c.run(ctx, c.done)

	c.logger.Info("automated trading started",
		slog.Float64("min_confidence", cfg.MinConfidence),
		slog.String("position_size", cfg.DefaultPositionSize.String()),
		slog.Int("max_open_positions", cfg.MaxOpenPositions),
		slog.Duration("cooldown", cfg.Cooldown),
		slog.Duration("poll_interval", cfg.PollInterval),
	)
	return nil
}

// Stop signals the loop to exit and blocks until it has. Once Stop returns no
// further intent is submitted. It fails with ErrNotRunning when STOPPED.
func (c *Controller) Stop() error {
	c.mu.Lock()
	switch c.state {
	case domain.StateStopped:
		c.mu.Unlock()
		return fmt.Errorf("autotrade: stop: %w", domain.ErrNotRunning)
	case domain.StateRunning:
		c.state = domain.StateStopping
		c.cancel()
	}
	done := c.done
	c.mu.Unlock()

	<-done
	c.logger.Info("automated trading stopped")
	return nil
}

// State returns the current lifecycle state.
func (c *Controller) State() domain.ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Config returns the active policy.
func (c *Controller) Config() domain.AutoTradeConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// UpdateConfig swaps the policy. A running loop picks it up on the next
// signal.
func (c *Controller) UpdateConfig(cfg domain.AutoTradeConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("autotrade: update config: %w", err)
	}
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	c.logger.Info("automated trading config updated",
		slog.Float64("min_confidence", cfg.MinConfidence),
		slog.Int("max_open_positions", cfg.MaxOpenPositions),
	)
	return nil
}

// ClearProcessed forgets processed signal keys so replayed signals are
// evaluated again.
func (c *Controller) ClearProcessed() {
	c.processed.Reset()
}

// Status returns a point-in-time view of the controller.
func (c *Controller) Status() domain.ControllerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var cooling []string
	for sym, ts := range c.lastTrade {
		if now.Sub(ts) < c.cfg.Cooldown {
			cooling = append(cooling, sym)
		}
	}
	sort.Strings(cooling)

	return domain.ControllerStatus{
		State:            c.state,
		Config:           c.cfg,
		StartedAt:        c.startedAt,
		LastCycleAt:      c.lastCycle,
		SignalsSeen:      c.seen,
		TradesExecuted:   c.executed,
		SignalsSkipped:   c.skipped,
		ProcessedSignals: c.processed.Len(),
		CooldownSymbols:  cooling,
	}
}

// Decisions returns up to limit recent decisions, newest first.
func (c *Controller) Decisions(limit int) []domain.Decision {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit <= 0 || limit > len(c.decisions) {
		limit = len(c.decisions)
	}
	out := make([]domain.Decision, 0, limit)
	for i := len(c.decisions) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, c.decisions[i])
	}
	return out
}

func (c *Controller) run(ctx context.Context, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		c.state = domain.StateStopped
		c.cancel = nil
		c.mu.Unlock()
		close(done)
	}()

	var wake <-chan struct{}
	if w, ok := c.source.(Waker); ok {
		wake = w.Wake()
	}

	for {
		if ctx.Err() != nil {
			return
		}
		c.cycle(ctx)

		timer := time.NewTimer(c.Config().PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		case <-wake:
			timer.Stop()
		}
	}
}

func (c *Controller) cycle(ctx context.Context) {
	events, err := c.source.Poll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.WarnContext(ctx, "signal poll failed", slog.String("error", err.Error()))
		}
		return
	}

	now := c.now()
	c.mu.Lock()
	c.lastCycle = &now
	c.mu.Unlock()

	for _, ev := range events {
		if ctx.Err() != nil {
			return
		}
		c.record(ctx, c.evaluate(ctx, ev))
	}
	c.processed.Cleanup()
}

// evaluate applies the eligibility policy to one signal. The first failing
// check produces a skip; executor errors are skips as well.
func (c *Controller) evaluate(ctx context.Context, ev domain.SignalEvent) domain.Decision {
	cfg := c.Config()
	now := c.now()
	symbol := domain.NormalizeSymbol(ev.Symbol)
	d := domain.Decision{
		ID:         uuid.NewString(),
		SignalID:   ev.ID,
		Symbol:     symbol,
		SignalType: ev.Type,
		Confidence: ev.Confidence,
		Outcome:    domain.OutcomeSkipped,
		DecidedAt:  now,
	}

	if err := ev.Validate(); err != nil {
		d.Reason, d.Detail = domain.ReasonMalformed, err.Error()
		return d
	}
	d.Price = decimal.NewFromFloat(ev.Price)

	if c.processed.IsDuplicate(ev.Key()) {
		d.Reason = domain.ReasonDuplicate
		return d
	}
	if ev.Confidence < cfg.MinConfidence {
		d.Reason = domain.ReasonLowConfidence
		d.Detail = fmt.Sprintf("%.2f < %.2f", ev.Confidence, cfg.MinConfidence)
		return d
	}
	if ev.Type.IsBuy() && c.exec.OpenPositions() >= cfg.MaxOpenPositions {
		d.Reason = domain.ReasonMaxPositions
		d.Detail = fmt.Sprintf("limit %d", cfg.MaxOpenPositions)
		return d
	}
	if last, ok := c.lastTradeAt(symbol); ok && now.Sub(last) < cfg.Cooldown {
		d.Reason = domain.ReasonCooldown
		d.Detail = fmt.Sprintf("last trade %s ago", now.Sub(last).Round(time.Second))
		return d
	}

	intent := domain.TradeIntent{
		Symbol: symbol,
		Price:  d.Price,
		Source: domain.SourceAutomated,
		Reason: fmt.Sprintf("%s signal at %.1f confidence", ev.Type, ev.Confidence),
	}
	switch {
	case ev.Type.IsBuy():
		intent.Side = domain.SideBuy
		intent.Quantity = domain.QuantityForNotional(cfg.DefaultPositionSize, d.Price)
		intent.PositionLimit = cfg.MaxOpenPositions
	case ev.Type.IsExit():
		held, ok := c.exec.Holding(symbol)
		if !ok {
			d.Reason = domain.ReasonNoPosition
			return d
		}
		intent.Side = domain.SideSell
		intent.Quantity = held
	default:
		d.Reason = domain.ReasonWatch
		return d
	}
	d.Side = intent.Side
	d.Quantity = intent.Quantity

	if _, err := c.exec.Execute(ctx, intent); err != nil {
		d.Reason, d.Detail = domain.ReasonExecutorFailure, err.Error()
		return d
	}

	c.mu.Lock()
	c.lastTrade[symbol] = now
	c.mu.Unlock()
	d.Outcome = domain.OutcomeExecuted
	return d
}

func (c *Controller) lastTradeAt(symbol string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts, ok := c.lastTrade[symbol]
	return ts, ok
}

func (c *Controller) record(ctx context.Context, d domain.Decision) {
	c.mu.Lock()
	c.seen++
	if d.Outcome == domain.OutcomeExecuted {
		c.executed++
	} else {
		c.skipped++
	}
	c.decisions = append(c.decisions, d)
	if over := len(c.decisions) - c.logSize; over > 0 {
		c.decisions = append([]domain.Decision(nil), c.decisions[over:]...)
	}
	c.mu.Unlock()

	if d.Outcome == domain.OutcomeExecuted {
		c.logger.InfoContext(ctx, "automated trade executed",
			slog.String("symbol", d.Symbol),
			slog.String("side", string(d.Side)),
			slog.String("quantity", d.Quantity.String()),
			slog.String("price", d.Price.String()),
			slog.Float64("confidence", d.Confidence),
		)
	} else {
		c.logger.DebugContext(ctx, "signal skipped",
			slog.String("symbol", d.Symbol),
			slog.String("signal_type", string(d.SignalType)),
			slog.String("reason", d.Reason),
			slog.String("detail", d.Detail),
		)
	}

	if c.recorder != nil {
		c.recorder.Record(context.WithoutCancel(ctx), d)
	}
}
