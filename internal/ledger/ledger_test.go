package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/paperbot/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestLedger(t *testing.T, capital string) *Ledger {
	t.Helper()
	clock := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	l, err := New(d(capital), WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

func TestNewRejectsNonPositiveCapital(t *testing.T) {
	for _, c := range []string{"0", "-1"} {
		if _, err := New(d(c)); err == nil {
			t.Errorf("New(%s): expected error", c)
		}
	}
}

func TestBuyThenSellScenario(t *testing.T) {
	l := newTestLedger(t, "10000")

	pos, err := l.OpenOrAddPosition("SOL", d("10"), d("100"))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !l.Cash().Equal(d("9000")) {
		t.Fatalf("cash after buy = %s, want 9000", l.Cash())
	}
	if !pos.Quantity.Equal(d("10")) || !pos.AverageEntryPrice.Equal(d("100")) {
		t.Fatalf("position = %+v", pos)
	}

	trade, err := l.ReducePosition("SOL", d("10"), d("120"))
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if !trade.RealizedPnL.Equal(d("200")) {
		t.Errorf("realized = %s, want 200", trade.RealizedPnL)
	}
	if trade.Side != domain.CloseSideSell {
		t.Errorf("side = %s", trade.Side)
	}
	if !l.Cash().Equal(d("10200")) {
		t.Errorf("cash = %s, want 10200", l.Cash())
	}
	if l.OpenPositions() != 0 {
		t.Errorf("open positions = %d, want 0", l.OpenPositions())
	}
	if got := len(l.Snapshot().ClosedTrades); got != 1 {
		t.Errorf("closed trades = %d, want 1", got)
	}
}

func TestRoundTripAtSamePrice(t *testing.T) {
	l := newTestLedger(t, "5000")
	before := l.Cash()
	if _, err := l.OpenOrAddPosition("ETH", d("1.2345"), d("2000.5")); err != nil {
		t.Fatal(err)
	}
	trade, err := l.ReducePosition("ETH", d("1.2345"), d("2000.5"))
	if err != nil {
		t.Fatal(err)
	}
	if !trade.RealizedPnL.IsZero() {
		t.Errorf("realized = %s, want 0", trade.RealizedPnL)
	}
	if !l.Cash().Equal(before) {
		t.Errorf("cash = %s, want %s", l.Cash(), before)
	}
}

func TestAddRecomputesAverageEntry(t *testing.T) {
	l := newTestLedger(t, "10000")
	if _, err := l.OpenOrAddPosition("BTC", d("2"), d("100")); err != nil {
		t.Fatal(err)
	}
	pos, err := l.OpenOrAddPosition("BTC", d("2"), d("200"))
	if err != nil {
		t.Fatal(err)
	}
	if !pos.Quantity.Equal(d("4")) {
		t.Errorf("quantity = %s, want 4", pos.Quantity)
	}
	if !pos.AverageEntryPrice.Equal(d("150")) {
		t.Errorf("average = %s, want 150", pos.AverageEntryPrice)
	}
}

func TestPartialCloseKeepsAverage(t *testing.T) {
	l := newTestLedger(t, "10000")
	if _, err := l.OpenOrAddPosition("ADA", d("100"), d("2")); err != nil {
		t.Fatal(err)
	}
	trade, err := l.ReducePosition("ADA", d("40"), d("3"))
	if err != nil {
		t.Fatal(err)
	}
	if !trade.RealizedPnL.Equal(d("40")) {
		t.Errorf("realized = %s, want 40", trade.RealizedPnL)
	}
	pos, ok := l.Position("ADA")
	if !ok {
		t.Fatal("position removed after partial close")
	}
	if !pos.Quantity.Equal(d("60")) || !pos.AverageEntryPrice.Equal(d("2")) {
		t.Errorf("position = %s @ %s, want 60 @ 2", pos.Quantity, pos.AverageEntryPrice)
	}
}

func TestInsufficientFundsLeavesStateUnchanged(t *testing.T) {
	l := newTestLedger(t, "1000")
	before := l.Snapshot()
	_, err := l.OpenOrAddPosition("SOL", d("11"), d("100"))
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	after := l.Snapshot()
	if !after.CashBalance.Equal(before.CashBalance) || len(after.Positions) != 0 {
		t.Errorf("state changed on failed buy: %+v", after)
	}
}

func TestSpendingExactCashIsAllowed(t *testing.T) {
	l := newTestLedger(t, "1000")
	if _, err := l.OpenOrAddPosition("SOL", d("10"), d("100")); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !l.Cash().IsZero() {
		t.Errorf("cash = %s, want 0", l.Cash())
	}
}

func TestReduceErrors(t *testing.T) {
	l := newTestLedger(t, "1000")
	if _, err := l.OpenOrAddPosition("DOT", d("5"), d("10")); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name   string
		symbol string
		qty    string
		want   error
	}{
		{"unknown symbol", "XRP", "1", domain.ErrNoSuchPosition},
		{"too much", "DOT", "5.0001", domain.ErrInsufficientQuantity},
		{"zero quantity", "DOT", "0", domain.ErrInvalidIntent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.ReducePosition(tt.symbol, d(tt.qty), d("10"))
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if pos, _ := l.Position("DOT"); !pos.Quantity.Equal(d("5")) {
		t.Errorf("quantity changed to %s", pos.Quantity)
	}
}

func TestTotalEquity(t *testing.T) {
	l := newTestLedger(t, "10000")
	if _, err := l.OpenOrAddPosition("SOL", d("10"), d("100")); err != nil {
		t.Fatal(err)
	}
	eq, err := l.TotalEquity(map[string]decimal.Decimal{"SOL": d("100")})
	if err != nil {
		t.Fatal(err)
	}
	if !eq.Equal(d("10000")) {
		t.Errorf("equity at fair price = %s, want 10000", eq)
	}
	eq, err = l.TotalEquity(map[string]decimal.Decimal{"SOL": d("150")})
	if err != nil {
		t.Fatal(err)
	}
	if !eq.Equal(d("10500")) {
		t.Errorf("equity = %s, want 10500", eq)
	}
	if _, err := l.TotalEquity(nil); !errors.Is(err, domain.ErrMissingPrice) {
		t.Errorf("err = %v, want ErrMissingPrice", err)
	}
}

func TestTradesAtMarkPriceKeepEquity(t *testing.T) {
	l := newTestLedger(t, "10000")
	if _, err := l.OpenOrAddPosition("SOL", d("10"), d("100")); err != nil {
		t.Fatal(err)
	}
	mark := map[string]decimal.Decimal{"SOL": d("150")}
	equity := func() decimal.Decimal {
		t.Helper()
		eq, err := l.TotalEquity(mark)
		if err != nil {
			t.Fatal(err)
		}
		return eq
	}

	before := equity()
	if !before.Equal(d("10500")) {
		t.Fatalf("equity = %s, want 10500", before)
	}
	if _, err := l.OpenOrAddPosition("SOL", d("4"), d("150")); err != nil {
		t.Fatal(err)
	}
	if got := equity(); !got.Equal(before) {
		t.Errorf("equity after adding at mark = %s, want %s", got, before)
	}
	if _, err := l.ReducePosition("SOL", d("6"), d("150")); err != nil {
		t.Fatal(err)
	}
	if got := equity(); !got.Equal(before) {
		t.Errorf("equity after partial sell at mark = %s, want %s", got, before)
	}
	if _, err := l.ReducePosition("SOL", d("8"), d("150")); err != nil {
		t.Fatal(err)
	}
	if got := equity(); !got.Equal(before) {
		t.Errorf("equity after closing at mark = %s, want %s", got, before)
	}
	if cash := l.Snapshot().CashBalance; !cash.Equal(d("10500")) {
		t.Errorf("cash = %s, want 10500", cash)
	}
}

func TestResetClearsEverything(t *testing.T) {
	l := newTestLedger(t, "10000")
	if _, err := l.OpenOrAddPosition("SOL", d("10"), d("100")); err != nil {
		t.Fatal(err)
	}
	if _, err := l.ReducePosition("SOL", d("5"), d("100")); err != nil {
		t.Fatal(err)
	}
	l.RecordEquity(domain.EquitySample{At: time.Now(), Equity: d("10000")})

	l.Reset(d("2500"))
	snap := l.Snapshot()
	if !snap.CashBalance.Equal(d("2500")) || !snap.InitialCapital.Equal(d("2500")) {
		t.Errorf("cash/initial = %s/%s", snap.CashBalance, snap.InitialCapital)
	}
	if len(snap.Positions)+len(snap.ClosedTrades)+len(snap.EquityHistory) != 0 {
		t.Errorf("reset left state behind: %+v", snap)
	}
}

func TestRecordEquityIsBounded(t *testing.T) {
	l, err := New(d("100"), WithEquityHistorySize(3))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		l.RecordEquity(domain.EquitySample{Equity: decimal.NewFromInt(int64(i))})
	}
	hist := l.Snapshot().EquityHistory
	if len(hist) != 3 {
		t.Fatalf("history len = %d, want 3", len(hist))
	}
	if !hist[0].Equity.Equal(decimal.NewFromInt(2)) {
		t.Errorf("oldest = %s, want 2", hist[0].Equity)
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	l := newTestLedger(t, "10000")
	if _, err := l.OpenOrAddPosition("SOL", d("10"), d("100")); err != nil {
		t.Fatal(err)
	}
	snap := l.Snapshot()
	snap.Positions[0].Quantity = d("999")
	if pos, _ := l.Position("SOL"); !pos.Quantity.Equal(d("10")) {
		t.Errorf("snapshot mutation leaked into ledger: %s", pos.Quantity)
	}
}

func TestRestoreRejectsCorruptSnapshot(t *testing.T) {
	l := newTestLedger(t, "10000")
	if _, err := l.OpenOrAddPosition("SOL", d("10"), d("100")); err != nil {
		t.Fatal(err)
	}
	before := l.Snapshot()

	bad := before
	bad.CashBalance = d("-1")
	if err := l.Restore(bad); !errors.Is(err, domain.ErrCorruptState) {
		t.Fatalf("err = %v, want ErrCorruptState", err)
	}
	bad = l.Snapshot()
	bad.Positions = []domain.Position{{Symbol: "SOL", Quantity: d("-3"), AverageEntryPrice: d("1")}}
	if err := l.Restore(bad); !errors.Is(err, domain.ErrCorruptState) {
		t.Fatalf("err = %v, want ErrCorruptState", err)
	}

	after := l.Snapshot()
	if !after.CashBalance.Equal(before.CashBalance) || len(after.Positions) != 1 {
		t.Errorf("ledger modified by failed restore: %+v", after)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	src := newTestLedger(t, "10000")
	if _, err := src.OpenOrAddPosition("SOL", d("10"), d("100")); err != nil {
		t.Fatal(err)
	}
	if _, err := src.ReducePosition("SOL", d("4"), d("110")); err != nil {
		t.Fatal(err)
	}
	snap := src.Snapshot()

	dst := newTestLedger(t, "1")
	if err := dst.Restore(snap); err != nil {
		t.Fatal(err)
	}
	got := dst.Snapshot()
	if !got.CashBalance.Equal(snap.CashBalance) || !got.InitialCapital.Equal(snap.InitialCapital) {
		t.Errorf("balances differ: %+v vs %+v", got, snap)
	}
	if len(got.ClosedTrades) != 1 || got.ClosedTrades[0].ID != snap.ClosedTrades[0].ID {
		t.Errorf("closed trades differ")
	}
	if len(got.Positions) != 1 || !got.Positions[0].Quantity.Equal(d("6")) {
		t.Errorf("positions differ: %+v", got.Positions)
	}
}
