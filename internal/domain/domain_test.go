package domain

import (
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestParseSignalType(t *testing.T) {
	tests := []struct {
		in      string
		want    SignalType
		wantErr bool
	}{
		{"STRONG_BUY", SignalStrongBuy, false},
		{"strong buy", SignalStrongBuy, false},
		{" strong-buy ", SignalStrongBuy, false},
		{"avoid", SignalAvoid, false},
		{"moon", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseSignalType(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseSignalType(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestDecodeSignal(t *testing.T) {
	ev, err := DecodeSignal([]byte(`{"symbol":"sol","signal_type":"strong buy","confidence_score":92.5,"price":101.25,"timestamp":"2024-01-02T03:04:05Z"}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Type != SignalStrongBuy || ev.Confidence != 92.5 || ev.Price != 101.25 {
		t.Errorf("event = %+v", ev)
	}
	if err := ev.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
	if got := ev.Key(); got != "SOL|STRONG_BUY|"+strconv.FormatInt(ev.Timestamp.UnixNano(), 10) {
		t.Errorf("key = %q", got)
	}

	unknown, err := DecodeSignal([]byte(`{"symbol":"sol","signal_type":"MOON","confidence_score":90,"price":1}`))
	if err != nil {
		t.Fatalf("unknown type should decode: %v", err)
	}
	if err := unknown.Validate(); err == nil {
		t.Error("unknown type passed validation")
	}

	if _, err := DecodeSignal([]byte(`{`)); err == nil {
		t.Error("bad json decoded")
	}
}

func TestSignalKeyPrefersID(t *testing.T) {
	ev := SignalEvent{ID: "abc", Symbol: "SOL", Type: SignalBuy}
	if ev.Key() != "abc" {
		t.Errorf("key = %q", ev.Key())
	}
}

func TestSignalKeyWithoutTimestamp(t *testing.T) {
	ev := SignalEvent{Symbol: "sol", Type: SignalSell, Confidence: 95, Price: 110.5}
	if got := ev.Key(); got != "SOL|SELL|110.5|95" {
		t.Errorf("key = %q", got)
	}
	if strings.Contains(ev.Key(), strconv.FormatInt(time.Time{}.UnixNano(), 10)) {
		t.Errorf("key %q carries the zero time", ev.Key())
	}
	other := ev
	other.Price = 111
	if other.Key() == ev.Key() {
		t.Error("different prices share a key")
	}
}

func TestSignalValidate(t *testing.T) {
	base := SignalEvent{Symbol: "SOL", Type: SignalBuy, Confidence: 50, Price: 1}
	tests := []struct {
		name string
		mod  func(*SignalEvent)
	}{
		{"blank symbol", func(e *SignalEvent) { e.Symbol = "  " }},
		{"bad type", func(e *SignalEvent) { e.Type = "HOLD" }},
		{"confidence high", func(e *SignalEvent) { e.Confidence = 100.1 }},
		{"confidence negative", func(e *SignalEvent) { e.Confidence = -1 }},
		{"zero price", func(e *SignalEvent) { e.Price = 0 }},
	}
	for _, tt := range tests {
		ev := base
		tt.mod(&ev)
		if err := ev.Validate(); err == nil {
			t.Errorf("%s: accepted", tt.name)
		}
	}
	if err := base.Validate(); err != nil {
		t.Errorf("base: %v", err)
	}
}

func TestManualTradeRequestIntent(t *testing.T) {
	qty := d("2")
	notional := d("1000")
	zero := d("0")

	tests := []struct {
		name    string
		req     ManualTradeRequest
		wantQty string
		wantErr bool
	}{
		{"quantity", ManualTradeRequest{Symbol: " sol ", Side: SideBuy, Quantity: &qty, Price: d("10")}, "2", false},
		{"notional", ManualTradeRequest{Symbol: "btc", Side: SideBuy, NotionalAmount: &notional, Price: d("30000")}, "0.03333333", false},
		{"both", ManualTradeRequest{Symbol: "sol", Side: SideBuy, Quantity: &qty, NotionalAmount: &notional, Price: d("10")}, "", true},
		{"neither", ManualTradeRequest{Symbol: "sol", Side: SideBuy, Price: d("10")}, "", true},
		{"zero notional", ManualTradeRequest{Symbol: "sol", Side: SideBuy, NotionalAmount: &zero, Price: d("10")}, "", true},
		{"zero price", ManualTradeRequest{Symbol: "sol", Side: SideBuy, Quantity: &qty, Price: zero}, "", true},
		{"bad side", ManualTradeRequest{Symbol: "sol", Side: "HOLD", Quantity: &qty, Price: d("10")}, "", true},
	}
	for _, tt := range tests {
		intent, err := tt.req.Intent()
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidIntent) {
				t.Errorf("%s: err = %v, want ErrInvalidIntent", tt.name, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tt.name, err)
			continue
		}
		if !intent.Quantity.Equal(d(tt.wantQty)) || intent.Source != SourceManual {
			t.Errorf("%s: intent = %+v", tt.name, intent)
		}
	}
}

func TestQuantityForNotionalNeverOverspends(t *testing.T) {
	cases := [][2]string{{"500", "3"}, {"100", "7.77"}, {"1", "0.3"}, {"500", "101.25"}}
	for _, c := range cases {
		n, p := d(c[0]), d(c[1])
		q := QuantityForNotional(n, p)
		if q.Mul(p).GreaterThan(n) {
			t.Errorf("%s/%s: %s * %s exceeds notional", c[0], c[1], q, p)
		}
		if q.Exponent() < -QuantityPrecision {
			t.Errorf("%s/%s: %s has too many decimals", c[0], c[1], q)
		}
	}
	if !QuantityForNotional(d("1"), d("0")).IsZero() {
		t.Error("zero price should give zero quantity")
	}
}

func TestAutoTradeConfigValidate(t *testing.T) {
	if err := DefaultAutoTradeConfig().Validate(); err != nil {
		t.Fatalf("default: %v", err)
	}
	bad := []func(*AutoTradeConfig){
		func(c *AutoTradeConfig) { c.MinConfidence = 101 },
		func(c *AutoTradeConfig) { c.DefaultPositionSize = decimal.Zero },
		func(c *AutoTradeConfig) { c.MaxOpenPositions = 0 },
		func(c *AutoTradeConfig) { c.Cooldown = -time.Second },
		func(c *AutoTradeConfig) { c.PollInterval = 0 },
	}
	for i, mod := range bad {
		cfg := DefaultAutoTradeConfig()
		mod(&cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("case %d: err = %v", i, err)
		}
	}
}

func TestSnapshotValidate(t *testing.T) {
	good := func() PortfolioSnapshot {
		return PortfolioSnapshot{
			CashBalance:    d("100"),
			InitialCapital: d("1000"),
			Positions:      []Position{{Symbol: "SOL", Quantity: d("1"), AverageEntryPrice: d("900")}},
			ClosedTrades: []ClosedTrade{{
				Symbol: "ETH", Side: CloseSideSell, Quantity: d("1"), EntryPrice: d("1"), ExitPrice: d("2"),
			}},
		}
	}
	if err := good().Validate(); err != nil {
		t.Fatalf("good: %v", err)
	}
	bad := map[string]func(*PortfolioSnapshot){
		"negative cash": func(s *PortfolioSnapshot) { s.CashBalance = d("-1") },
		"zero capital":  func(s *PortfolioSnapshot) { s.InitialCapital = decimal.Zero },
		"duplicate":     func(s *PortfolioSnapshot) { s.Positions = append(s.Positions, s.Positions[0]) },
		"zero qty":      func(s *PortfolioSnapshot) { s.Positions[0].Quantity = decimal.Zero },
		"zero entry":    func(s *PortfolioSnapshot) { s.Positions[0].AverageEntryPrice = decimal.Zero },
		"bad side":      func(s *PortfolioSnapshot) { s.ClosedTrades[0].Side = "LONG" },
		"negative equity": func(s *PortfolioSnapshot) {
			s.EquityHistory = []EquitySample{{Equity: d("-5")}}
		},
	}
	for name, mod := range bad {
		s := good()
		mod(&s)
		if err := s.Validate(); !errors.Is(err, ErrCorruptState) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
}

func TestPositionMath(t *testing.T) {
	p := Position{Symbol: "SOL", Quantity: d("4"), AverageEntryPrice: d("25")}
	if !p.CostBasis().Equal(d("100")) || !p.MarketValue(d("30")).Equal(d("120")) || !p.UnrealizedPnL(d("20")).Equal(d("-20")) {
		t.Errorf("position math wrong")
	}
}
