package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/paperbot/internal/analytics"
	"github.com/alanyoungcy/paperbot/internal/autotrade"
	"github.com/alanyoungcy/paperbot/internal/cache/memory"
	"github.com/alanyoungcy/paperbot/internal/domain"
	"github.com/alanyoungcy/paperbot/internal/executor"
	"github.com/alanyoungcy/paperbot/internal/ledger"
	"github.com/alanyoungcy/paperbot/internal/store/file"
)

var (
	_ autotrade.Executor         = (*TradeService)(nil)
	_ autotrade.DecisionRecorder = (*DecisionRecorder)(nil)
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memAudit struct {
	mu     sync.Mutex
	events []string
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type fixture struct {
	exec   *executor.Executor
	prices *memory.PriceCache
	bus    *memory.SignalBus
	audit  *memAudit
	store  *file.SnapshotStore
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	l, err := ledger.New(d("10000"))
	if err != nil {
		t.Fatal(err)
	}
	store := file.NewSnapshotStore(filepath.Join(t.TempDir(), "portfolio.json"))
	return fixture{
		exec:   executor.New(l, store, discardLogger()),
		prices: memory.NewPriceCache(),
		bus:    memory.NewSignalBus(0),
		audit:  &memAudit{},
		store:  store,
	}
}

func TestTradeServiceSideEffects(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t)
	saver := NewPortfolioService(f.exec, PortfolioDeps{Locks: memory.NewLockManager()}, "main", analytics.DefaultOptions(), discardLogger())
	svc := NewTradeService(f.exec, f.prices, f.bus, f.audit, nil, saver, discardLogger())

	sub, err := f.bus.Subscribe(ctx, domain.ChannelTrades)
	if err != nil {
		t.Fatal(err)
	}

	res, err := svc.Execute(ctx, domain.TradeIntent{
		Symbol: "sol", Side: domain.SideBuy, Quantity: d("10"), Price: d("100"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Symbol != "SOL" || res.Source != domain.SourceManual {
		t.Errorf("result = %+v", res)
	}

	if p, _, err := f.prices.GetPrice(ctx, "SOL"); err != nil || p != 100 {
		t.Errorf("cached price = %v, %v", p, err)
	}

	select {
	case payload := <-sub:
		var ev TradeEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			t.Fatal(err)
		}
		if ev.Symbol != "SOL" || ev.Side != "BUY" || ev.CashBalance != "9000" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no trade event published")
	}

	stream, _ := f.bus.StreamRead(ctx, domain.StreamTrades, "0", 10)
	if len(stream) != 1 {
		t.Errorf("stream entries = %d", len(stream))
	}
	if len(f.audit.events) != 1 || f.audit.events[0] != "trade.executed" {
		t.Errorf("audit = %v", f.audit.events)
	}

	snap := f.exec.Snapshot()
	if len(snap.EquityHistory) != 1 || !snap.EquityHistory[0].Equity.Equal(d("10000")) {
		t.Errorf("equity history = %+v", snap.EquityHistory)
	}

	saved, err := f.store.Load(ctx)
	if err != nil {
		t.Fatalf("autosave: %v", err)
	}
	if !saved.CashBalance.Equal(d("9000")) {
		t.Errorf("saved cash = %s", saved.CashBalance)
	}
}

func TestTradeServiceRejectionHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	saver := NewPortfolioService(f.exec, PortfolioDeps{}, "main", analytics.DefaultOptions(), discardLogger())
	svc := NewTradeService(f.exec, f.prices, f.bus, f.audit, nil, saver, discardLogger())

	_, err := svc.Execute(ctx, domain.TradeIntent{
		Symbol: "SOL", Side: domain.SideSell, Quantity: d("1"), Price: d("100"),
	})
	if !errors.Is(err, domain.ErrNoSuchPosition) {
		t.Fatalf("err = %v", err)
	}
	if len(f.audit.events) != 0 {
		t.Errorf("audit = %v", f.audit.events)
	}
	if _, _, err := f.prices.GetPrice(ctx, "SOL"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("price cached for rejected trade")
	}
	if _, err := f.store.Load(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("rejected trade was autosaved: %v", err)
	}
}

func TestTradeServiceManualNotional(t *testing.T) {
	f := newFixture(t)
	svc := NewTradeService(f.exec, nil, nil, nil, nil, nil, discardLogger())
	notional := d("500")
	res, err := svc.ExecuteManual(context.Background(), domain.ManualTradeRequest{
		Symbol: "eth", Side: domain.SideBuy, NotionalAmount: &notional, Price: d("3000"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Quantity.Equal(d("0.16666666")) {
		t.Errorf("quantity = %s", res.Quantity)
	}
	if qty, ok := svc.Holding("ETH"); !ok || !qty.Equal(res.Quantity) {
		t.Errorf("holding = %s, %v", qty, ok)
	}
	if svc.OpenPositions() != 1 {
		t.Errorf("open positions = %d", svc.OpenPositions())
	}
}

func TestPortfolioServiceMetricsAndSampling(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	trades := NewTradeService(f.exec, f.prices, nil, nil, nil, nil, discardLogger())
	svc := NewPortfolioService(f.exec, PortfolioDeps{Prices: f.prices}, "main", analytics.DefaultOptions(), discardLogger())

	if _, err := trades.Execute(ctx, domain.TradeIntent{Symbol: "SOL", Side: domain.SideBuy, Quantity: d("10"), Price: d("100")}); err != nil {
		t.Fatal(err)
	}
	_ = f.prices.SetPrice(ctx, "SOL", 110, time.Now())

	m, err := svc.Metrics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if m.CurrentEquity != 10100 || m.UnrealizedPnL != 100 || m.OpenPositions != 1 {
		t.Errorf("metrics = %+v", m)
	}
	if len(m.UnpricedSymbols) != 0 {
		t.Errorf("unpriced = %v", m.UnpricedSymbols)
	}

	sample, err := svc.SampleEquity(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !sample.Equity.Equal(d("10100")) {
		t.Errorf("sample = %s", sample.Equity)
	}
	if n := len(svc.Snapshot().EquityHistory); n != 2 {
		t.Errorf("history = %d", n)
	}
}

func TestPortfolioServiceSaveLoadReset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	locks := memory.NewLockManager()
	svc := NewPortfolioService(f.exec, PortfolioDeps{Locks: locks, Bus: f.bus, Audit: f.audit}, "main", analytics.DefaultOptions(), discardLogger())

	if _, err := f.exec.Execute(ctx, domain.TradeIntent{Symbol: "SOL", Side: domain.SideBuy, Quantity: d("5"), Price: d("100")}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Save(ctx); err != nil {
		t.Fatal(err)
	}

	snap, err := svc.Reset(ctx, d("2000"))
	if err != nil {
		t.Fatal(err)
	}
	if !snap.CashBalance.Equal(d("2000")) || len(snap.Positions) != 0 {
		t.Errorf("after reset = %+v", snap)
	}

	loaded, err := svc.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !loaded.CashBalance.Equal(d("9500")) || len(loaded.Positions) != 1 {
		t.Errorf("after load = %+v", loaded)
	}

	want := []string{"portfolio.saved", "portfolio.reset", "portfolio.loaded"}
	if len(f.audit.events) != len(want) {
		t.Fatalf("audit = %v", f.audit.events)
	}
	for i, e := range want {
		if f.audit.events[i] != e {
			t.Errorf("audit[%d] = %s, want %s", i, f.audit.events[i], e)
		}
	}
}

func TestPortfolioServiceLockHeld(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	locks := memory.NewLockManager()
	svc := NewPortfolioService(f.exec, PortfolioDeps{Locks: locks}, "main", analytics.DefaultOptions(), discardLogger())

	unlock, err := locks.Acquire(ctx, "portfolio:main", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()

	if _, err := svc.Save(ctx); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("err = %v, want ErrLockHeld", err)
	}
}

func TestTradeServiceAutosaveTakesPortfolioLock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	locks := memory.NewLockManager()
	portfolio := NewPortfolioService(f.exec, PortfolioDeps{Locks: locks, Audit: f.audit}, "main", analytics.DefaultOptions(), discardLogger())
	svc := NewTradeService(f.exec, nil, nil, nil, nil, portfolio, discardLogger())

	unlock, err := locks.Acquire(ctx, "portfolio:main", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Execute(ctx, domain.TradeIntent{Symbol: "SOL", Side: domain.SideBuy, Quantity: d("1"), Price: d("100")}); err != nil {
		t.Fatalf("trade must succeed while another instance saves: %v", err)
	}
	if _, err := f.store.Load(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("autosave bypassed the held lock: %v", err)
	}
	unlock()

	if _, err := svc.Execute(ctx, domain.TradeIntent{Symbol: "SOL", Side: domain.SideBuy, Quantity: d("1"), Price: d("100")}); err != nil {
		t.Fatal(err)
	}
	saved, err := f.store.Load(ctx)
	if err != nil {
		t.Fatalf("autosave after unlock: %v", err)
	}
	if !saved.CashBalance.Equal(d("9800")) {
		t.Errorf("saved cash = %s, want 9800", saved.CashBalance)
	}
	if len(f.audit.events) != 0 {
		t.Errorf("autosave should not audit: %v", f.audit.events)
	}
}

type memDecisions struct {
	mu   sync.Mutex
	rows []domain.Decision
}

func (m *memDecisions) Insert(_ context.Context, d domain.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, d)
	return nil
}

func (m *memDecisions) ListRecent(context.Context, int) ([]domain.Decision, error) {
	return nil, nil
}

func TestDecisionRecorder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := memory.NewSignalBus(0)
	store := &memDecisions{}
	rec := NewDecisionRecorder(store, bus, discardLogger())

	sub, _ := bus.Subscribe(ctx, domain.ChannelDecisions)
	rec.Record(ctx, domain.Decision{ID: "x", Symbol: "DOT", Outcome: domain.OutcomeSkipped, Reason: domain.ReasonLowConfidence})

	if len(store.rows) != 1 {
		t.Fatalf("rows = %d", len(store.rows))
	}
	select {
	case payload := <-sub:
		var got domain.Decision
		if err := json.Unmarshal(payload, &got); err != nil {
			t.Fatal(err)
		}
		if got.Reason != domain.ReasonLowConfidence {
			t.Errorf("decision = %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("decision not published")
	}
}

func TestAutoTradeServiceAuditsLifecycle(t *testing.T) {
	f := newFixture(t)
	trades := NewTradeService(f.exec, f.prices, f.bus, f.audit, nil, nil, discardLogger())
	ctrl := autotrade.New(trades, autotrade.NewQueueSource(), discardLogger())
	svc := NewAutoTradeService(ctrl, f.audit, nil, discardLogger())

	cfg := domain.DefaultAutoTradeConfig()
	cfg.PollInterval = 10 * time.Millisecond
	if err := svc.Start(cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := svc.Start(cfg); !errors.Is(err, domain.ErrAlreadyRunning) {
		t.Fatalf("second Start = %v, want ErrAlreadyRunning", err)
	}
	svc.StopIfRunning()
	svc.StopIfRunning()
	if err := svc.Stop(); !errors.Is(err, domain.ErrNotRunning) {
		t.Fatalf("Stop when stopped = %v, want ErrNotRunning", err)
	}

	f.audit.mu.Lock()
	defer f.audit.mu.Unlock()
	want := []string{"autotrade.started", "autotrade.stopped"}
	if len(f.audit.events) != len(want) {
		t.Fatalf("audit events = %v, want %v", f.audit.events, want)
	}
	for i, ev := range want {
		if f.audit.events[i] != ev {
			t.Fatalf("audit events = %v, want %v", f.audit.events, want)
		}
	}
}
