package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/paperbot/internal/config"
)

func testApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Defaults()
	cfg.Persistence.FilePath = filepath.Join(t.TempDir(), "portfolio.json")
	a := New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(a.Close)
	return a
}

func TestOpenStartsFreshThenRestores(t *testing.T) {
	ctx := context.Background()
	a := testApp(t)

	core, err := a.Open(ctx)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := core.Portfolio.Snapshot().CashBalance; !got.Equal(decimal.NewFromInt(10000)) {
		t.Fatalf("cash = %s, want 10000", got)
	}
	if _, err := core.Portfolio.Reset(ctx, decimal.NewFromInt(2500)); err != nil {
		t.Fatal(err)
	}
	if _, err := core.Portfolio.Save(ctx); err != nil {
		t.Fatal(err)
	}

	again := New(a.cfg, a.logger)
	defer again.Close()
	restored, err := again.Open(ctx)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := restored.Portfolio.Snapshot().InitialCapital; !got.Equal(decimal.NewFromInt(2500)) {
		t.Fatalf("restored capital = %s, want 2500", got)
	}
}

func TestRunRejectsUnknownMode(t *testing.T) {
	a := testApp(t)
	a.cfg.Mode = "backtest"
	if err := a.Run(context.Background()); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestServerModeStopsOnCancel(t *testing.T) {
	a := testApp(t)
	a.cfg.Mode = config.ModeServer
	a.cfg.Server.Port = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server mode did not stop")
	}
}

type fakeArchiver struct {
	mu    sync.Mutex
	kinds []string
	cut   time.Time
}

func (f *fakeArchiver) record(kind string, before time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kinds = append(f.kinds, kind)
	f.cut = before
}

func (f *fakeArchiver) ArchiveClosedTrades(_ context.Context, before time.Time) (int64, error) {
	f.record("closed_trades", before)
	return 3, nil
}

func (f *fakeArchiver) ArchiveDecisions(_ context.Context, before time.Time) (int64, error) {
	f.record("decisions", before)
	return 0, errors.New("bucket unavailable")
}

func (f *fakeArchiver) ArchiveAudit(_ context.Context, before time.Time) (int64, error) {
	f.record("audit", before)
	return 1, nil
}

func TestArchiveOnceContinuesPastFailures(t *testing.T) {
	a := testApp(t)
	a.cfg.Archive.RetentionDays = 7
	arch := &fakeArchiver{}

	a.archiveOnce(context.Background(), arch)

	if len(arch.kinds) != 3 {
		t.Fatalf("kinds = %v, want all three", arch.kinds)
	}
	age := time.Since(arch.cut)
	if age < 7*24*time.Hour || age > 7*24*time.Hour+time.Minute {
		t.Fatalf("cutoff age = %s, want ~7d", age)
	}
}
