package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/paperbot/internal/domain"
	"github.com/alanyoungcy/paperbot/internal/ledger"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

type memStore struct {
	mu   sync.Mutex
	snap *domain.PortfolioSnapshot
	err  error
}

func (m *memStore) Save(_ context.Context, snap domain.PortfolioSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.snap = &snap
	return nil
}

func (m *memStore) Load(_ context.Context) (domain.PortfolioSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.PortfolioSnapshot{}, m.err
	}
	if m.snap == nil {
		return domain.PortfolioSnapshot{}, domain.ErrNotFound
	}
	return *m.snap, nil
}

func newExecutor(t *testing.T, capital string, store domain.SnapshotStore) *Executor {
	t.Helper()
	l, err := ledger.New(d(capital))
	if err != nil {
		t.Fatal(err)
	}
	return New(l, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestExecuteScenario(t *testing.T) {
	ctx := context.Background()
	e := newExecutor(t, "10000", nil)

	res, err := e.Execute(ctx, domain.TradeIntent{Symbol: "sol", Side: domain.SideBuy, Quantity: d("10"), Price: d("100"), Source: domain.SourceManual})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !res.CashBalance.Equal(d("9000")) || res.RealizedPnL != nil {
		t.Fatalf("buy result = %+v", res)
	}
	if qty, ok := e.Holding("SOL"); !ok || !qty.Equal(d("10")) {
		t.Fatalf("holding = %s %v", qty, ok)
	}

	res, err = e.Execute(ctx, domain.TradeIntent{Symbol: "SOL", Side: domain.SideSell, Quantity: d("10"), Price: d("120")})
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if res.RealizedPnL == nil || !res.RealizedPnL.Equal(d("200")) {
		t.Errorf("realized = %v, want 200", res.RealizedPnL)
	}
	if !res.CashBalance.Equal(d("10200")) {
		t.Errorf("cash = %s, want 10200", res.CashBalance)
	}
	if res.Source != domain.SourceManual {
		t.Errorf("source = %s, want MANUAL default", res.Source)
	}
	snap := e.Snapshot()
	if len(snap.Positions) != 0 || len(snap.ClosedTrades) != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestExecuteRejectsInvalidIntent(t *testing.T) {
	e := newExecutor(t, "1000", nil)
	tests := []struct {
		name   string
		intent domain.TradeIntent
	}{
		{"zero quantity", domain.TradeIntent{Symbol: "A", Side: domain.SideBuy, Quantity: d("0"), Price: d("1")}},
		{"negative price", domain.TradeIntent{Symbol: "A", Side: domain.SideBuy, Quantity: d("1"), Price: d("-1")}},
		{"no symbol", domain.TradeIntent{Symbol: " ", Side: domain.SideBuy, Quantity: d("1"), Price: d("1")}},
		{"bad side", domain.TradeIntent{Symbol: "A", Side: "HOLD", Quantity: d("1"), Price: d("1")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.Execute(context.Background(), tt.intent); !errors.Is(err, domain.ErrInvalidIntent) {
				t.Errorf("err = %v, want ErrInvalidIntent", err)
			}
		})
	}
}

func TestExecutePositionLimit(t *testing.T) {
	ctx := context.Background()
	e := newExecutor(t, "1000", nil)
	for _, sym := range []string{"A", "B"} {
		if _, err := e.Execute(ctx, domain.TradeIntent{Symbol: sym, Side: domain.SideBuy, Quantity: d("1"), Price: d("1"), PositionLimit: 2}); err != nil {
			t.Fatal(err)
		}
	}
	_, err := e.Execute(ctx, domain.TradeIntent{Symbol: "C", Side: domain.SideBuy, Quantity: d("1"), Price: d("1"), PositionLimit: 2})
	if !errors.Is(err, domain.ErrPositionLimit) {
		t.Fatalf("err = %v, want ErrPositionLimit", err)
	}
	if e.OpenPositions() != 2 {
		t.Errorf("open = %d", e.OpenPositions())
	}
}

func TestExecuteManualNotional(t *testing.T) {
	e := newExecutor(t, "1000", nil)
	res, err := e.ExecuteManual(context.Background(), domain.ManualTradeRequest{
		Symbol: "dot", Side: domain.SideBuy, NotionalAmount: dp("300"), Price: d("3"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Quantity.Equal(d("100")) {
		t.Errorf("quantity = %s, want 100", res.Quantity)
	}
	if !res.CashBalance.Equal(d("700")) {
		t.Errorf("cash = %s, want 700", res.CashBalance)
	}

	_, err = e.ExecuteManual(context.Background(), domain.ManualTradeRequest{
		Symbol: "dot", Side: domain.SideSell, Quantity: dp("1"), NotionalAmount: dp("3"), Price: d("3"),
	})
	if !errors.Is(err, domain.ErrInvalidIntent) {
		t.Errorf("err = %v, want ErrInvalidIntent for both quantity and notional", err)
	}
}

func TestConcurrentExecutionKeepsCashConsistent(t *testing.T) {
	ctx := context.Background()
	e := newExecutor(t, "1000", nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = e.Execute(ctx, domain.TradeIntent{Symbol: "SOL", Side: domain.SideBuy, Quantity: d("1"), Price: d("30"), Source: domain.SourceAutomated})
		}()
		go func() {
			defer wg.Done()
			_, _ = e.Execute(ctx, domain.TradeIntent{Symbol: "SOL", Side: domain.SideSell, Quantity: d("1"), Price: d("30")})
		}()
	}
	wg.Wait()

	snap := e.Snapshot()
	if snap.CashBalance.IsNegative() {
		t.Fatalf("cash went negative: %s", snap.CashBalance)
	}
	held := decimal.Zero
	if pos, ok := snap.Position("SOL"); ok {
		held = pos.Quantity
	}
	// Buys and sells happen at the same price, so equity must be conserved.
	equity := snap.CashBalance.Add(held.Mul(d("30")))
	if !equity.Equal(d("1000")) {
		t.Errorf("equity = %s, want 1000", equity)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	e := newExecutor(t, "10000", store)
	if _, err := e.Execute(ctx, domain.TradeIntent{Symbol: "SOL", Side: domain.SideBuy, Quantity: d("10"), Price: d("100")}); err != nil {
		t.Fatal(err)
	}
	saved, err := e.Save(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if saved.SavedAt.IsZero() {
		t.Error("SavedAt not set")
	}

	other := newExecutor(t, "1", store)
	loaded, err := other.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !loaded.CashBalance.Equal(d("9000")) || len(loaded.Positions) != 1 {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestLoadCorruptLeavesLedgerUntouched(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	e := newExecutor(t, "10000", store)
	if _, err := e.Execute(ctx, domain.TradeIntent{Symbol: "SOL", Side: domain.SideBuy, Quantity: d("1"), Price: d("100")}); err != nil {
		t.Fatal(err)
	}
	store.snap = &domain.PortfolioSnapshot{CashBalance: d("-5"), InitialCapital: d("10")}

	if _, err := e.Load(ctx); !errors.Is(err, domain.ErrCorruptState) {
		t.Fatalf("err = %v, want ErrCorruptState", err)
	}
	if snap := e.Snapshot(); !snap.CashBalance.Equal(d("9900")) {
		t.Errorf("cash = %s, want 9900", snap.CashBalance)
	}

	store.snap = nil
	if _, err := e.Load(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveWithoutStore(t *testing.T) {
	e := newExecutor(t, "10", nil)
	if _, err := e.Save(context.Background()); err == nil {
		t.Error("expected error without store")
	}
}
