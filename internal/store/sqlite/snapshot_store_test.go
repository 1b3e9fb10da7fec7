package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/paperbot/internal/domain"
)

func snapWithCash(cash int64, at time.Time) domain.PortfolioSnapshot {
	return domain.PortfolioSnapshot{
		CashBalance:    decimal.NewFromInt(cash),
		InitialCapital: decimal.NewFromInt(10000),
		CreatedAt:      at,
		SavedAt:        at,
	}
}

func TestSaveLoadKeepsNewest(t *testing.T) {
	ctx := context.Background()
	store, err := Open(filepath.Join(t.TempDir(), "db", "paperbot.db"), "main", 2)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if _, err := store.Load(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("load empty: %v", err)
	}

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, cash := range []int64{10000, 9500, 9000} {
		if err := store.Save(ctx, snapWithCash(cash, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !got.CashBalance.Equal(decimal.NewFromInt(9000)) {
		t.Errorf("cash = %s, want 9000", got.CashBalance)
	}

	var rows int
	if err := store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM portfolio_snapshots WHERE portfolio_id = 'main'`).Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != 2 {
		t.Errorf("retained rows = %d, want 2", rows)
	}
}

func TestPortfoliosAreIsolated(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "paperbot.db")
	a, err := Open(path, "a", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := Open(path, "b", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if err := a.Save(ctx, snapWithCash(1234, time.Now().UTC())); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Load(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("portfolio b sees a's snapshot: %v", err)
	}
}

func TestLoadCorruptPayload(t *testing.T) {
	ctx := context.Background()
	store, err := Open(filepath.Join(t.TempDir(), "paperbot.db"), "main", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if _, err := store.db.ExecContext(ctx,
		`INSERT INTO portfolio_snapshots (portfolio_id, saved_at, payload) VALUES ('main', '', '{"cash_balance":"-1"}')`); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load(ctx); !errors.Is(err, domain.ErrCorruptState) {
		t.Fatalf("err = %v, want ErrCorruptState", err)
	}
}
