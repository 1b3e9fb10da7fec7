package snapshot

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/paperbot/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sampleSnapshot() domain.PortfolioSnapshot {
	t0 := time.Date(2024, 2, 1, 9, 30, 0, 123456789, time.UTC)
	return domain.PortfolioSnapshot{
		CashBalance:    d("9123.456789"),
		InitialCapital: d("10000"),
		Positions: []domain.Position{
			{Symbol: "SOL", Quantity: d("3.33333333"), AverageEntryPrice: d("101.25"), OpenedAt: t0},
		},
		ClosedTrades: []domain.ClosedTrade{{
			ID: "t-1", Symbol: "ETH", Side: domain.CloseSideSell,
			Quantity: d("0.5"), EntryPrice: d("2000"), ExitPrice: d("2100.1"), RealizedPnL: d("50.05"),
			OpenedAt: t0, ClosedAt: t0.Add(time.Hour),
		}},
		EquityHistory:  []domain.EquitySample{{At: t0, Equity: d("10000")}},
		CreatedAt:      t0.Add(-time.Hour),
		LastModifiedAt: t0.Add(time.Hour),
		SavedAt:        t0.Add(2 * time.Hour),
	}
}

func TestRoundTrip(t *testing.T) {
	want := sampleSnapshot()
	data, err := Encode(want)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if !got.CashBalance.Equal(want.CashBalance) || !got.InitialCapital.Equal(want.InitialCapital) {
		t.Errorf("balances: %s/%s", got.CashBalance, got.InitialCapital)
	}
	if len(got.Positions) != 1 {
		t.Fatalf("positions = %d", len(got.Positions))
	}
	gp, wp := got.Positions[0], want.Positions[0]
	if gp.Symbol != wp.Symbol || !gp.Quantity.Equal(wp.Quantity) || !gp.AverageEntryPrice.Equal(wp.AverageEntryPrice) || !gp.OpenedAt.Equal(wp.OpenedAt) {
		t.Errorf("position = %+v", gp)
	}
	if len(got.ClosedTrades) != 1 {
		t.Fatalf("trades = %d", len(got.ClosedTrades))
	}
	gt, wt := got.ClosedTrades[0], want.ClosedTrades[0]
	if gt.ID != wt.ID || !gt.RealizedPnL.Equal(wt.RealizedPnL) || !gt.ExitPrice.Equal(wt.ExitPrice) || !gt.ClosedAt.Equal(wt.ClosedAt) {
		t.Errorf("trade = %+v", gt)
	}
	if !got.SavedAt.Equal(want.SavedAt) || len(got.EquityHistory) != 1 {
		t.Errorf("saved_at/equity = %v/%d", got.SavedAt, len(got.EquityHistory))
	}
}

func TestEmptyPortfolioRoundTrip(t *testing.T) {
	data, err := Encode(domain.PortfolioSnapshot{CashBalance: d("100"), InitialCapital: d("100")})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"positions": []`) {
		t.Errorf("empty positions should encode as []: %s", data)
	}
	if _, err := Decode(data); err != nil {
		t.Fatal(err)
	}
}

func TestDecodeRejectsCorruptDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{`},
		{"missing cash", `{"initial_capital":"1","positions":[],"closed_trades":[],"saved_at":"2024-01-01T00:00:00Z"}`},
		{"missing positions", `{"cash_balance":"1","initial_capital":"1","closed_trades":[],"saved_at":"2024-01-01T00:00:00Z"}`},
		{"missing saved_at", `{"cash_balance":"1","initial_capital":"1","positions":[],"closed_trades":[]}`},
		{"negative cash", `{"cash_balance":"-1","initial_capital":"1","positions":[],"closed_trades":[],"saved_at":"2024-01-01T00:00:00Z"}`},
		{"negative quantity", `{"cash_balance":"1","initial_capital":"1","positions":[{"symbol":"A","quantity":"-2","average_entry_price":"1","opened_at":"2024-01-01T00:00:00Z"}],"closed_trades":[],"saved_at":"2024-01-01T00:00:00Z"}`},
		{"position missing price", `{"cash_balance":"1","initial_capital":"1","positions":[{"symbol":"A","quantity":"2","opened_at":"2024-01-01T00:00:00Z"}],"closed_trades":[],"saved_at":"2024-01-01T00:00:00Z"}`},
		{"non numeric", `{"cash_balance":"abc","initial_capital":"1","positions":[],"closed_trades":[],"saved_at":"2024-01-01T00:00:00Z"}`},
		{"future version", `{"version":99,"cash_balance":"1","initial_capital":"1","positions":[],"closed_trades":[],"saved_at":"2024-01-01T00:00:00Z"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.doc)); !errors.Is(err, domain.ErrCorruptState) {
				t.Errorf("err = %v, want ErrCorruptState", err)
			}
		})
	}
}
