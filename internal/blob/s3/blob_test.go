package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/paperbot/internal/domain"
)

// memBlob is an in-memory object store.
type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlob() *memBlob { return &memBlob{objects: map[string][]byte{}} }

func (m *memBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	return nil
}

func (m *memBlob) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlob) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BlobInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.BlobInfo{Path: k, Size: int64(len(v))})
		}
	}
	return out, nil
}

func (m *memBlob) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, path)
	return nil
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in     string
		useSSL bool
		want   string
	}{
		{"localhost:9000", false, "http://localhost:9000"},
		{"s3.example.com", true, "https://s3.example.com"},
		{"https://already.example.com", false, "https://already.example.com"},
	}
	for _, tt := range tests {
		if got := normaliseEndpoint(tt.in, tt.useSSL); got != tt.want {
			t.Errorf("normaliseEndpoint(%q, %v) = %q, want %q", tt.in, tt.useSSL, got, tt.want)
		}
	}
}

func TestSnapshotStoreSaveLoadPrune(t *testing.T) {
	ctx := context.Background()
	blob := newMemBlob()
	store := NewSnapshotStore(blob, blob, blob, "main", 2)

	if _, err := store.Load(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("load before save: %v", err)
	}

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		store.now = func() time.Time { return at }
		snap := domain.PortfolioSnapshot{
			CashBalance:    decimal.NewFromInt(int64(10000 - i)),
			InitialCapital: decimal.NewFromInt(10000),
			SavedAt:        at,
		}
		if err := store.Save(ctx, snap); err != nil {
			t.Fatal(err)
		}
	}

	hist, _ := blob.List(ctx, "snapshots/main/history/")
	if len(hist) != 2 {
		t.Errorf("history entries = %d, want 2", len(hist))
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !got.CashBalance.Equal(decimal.NewFromInt(9997)) {
		t.Errorf("latest cash = %s", got.CashBalance)
	}
}

func TestSnapshotStoreCorrupt(t *testing.T) {
	ctx := context.Background()
	blob := newMemBlob()
	blob.objects["snapshots/main/latest.json"] = []byte(`{"cash_balance":`)
	store := NewSnapshotStore(blob, blob, nil, "main", 0)
	if _, err := store.Load(ctx); !errors.Is(err, domain.ErrCorruptState) {
		t.Fatalf("err = %v, want ErrCorruptState", err)
	}
}

type fakeArchiveSource struct {
	trades    []domain.ClosedTrade
	decisions []domain.Decision
	audit     []domain.AuditEntry
	logged    []string
}

func (f *fakeArchiveSource) ListClosedTradesBefore(context.Context, time.Time) ([]domain.ClosedTrade, error) {
	return f.trades, nil
}

type decisionSource struct{ f *fakeArchiveSource }

func (d decisionSource) ListBefore(context.Context, time.Time) ([]domain.Decision, error) {
	return d.f.decisions, nil
}

type auditSource struct{ f *fakeArchiveSource }

func (a auditSource) ListBefore(context.Context, time.Time) ([]domain.AuditEntry, error) {
	return a.f.audit, nil
}

func (f *fakeArchiveSource) Log(_ context.Context, event string, _ map[string]any) error {
	f.logged = append(f.logged, event)
	return nil
}

func (f *fakeArchiveSource) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestArchiver(t *testing.T) {
	ctx := context.Background()
	blob := newMemBlob()
	src := &fakeArchiveSource{
		trades: []domain.ClosedTrade{
			{ID: "a", Symbol: "SOL", Side: domain.CloseSideSell, Quantity: decimal.NewFromInt(1)},
			{ID: "b", Symbol: "ETH", Side: domain.CloseSideSell, Quantity: decimal.NewFromInt(2)},
		},
	}
	arch := NewArchiver(blob, src, decisionSource{src}, auditSource{src}, src)
	cutoff := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	n, err := arch.ArchiveClosedTrades(ctx, cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("archived = %d", n)
	}
	data, ok := blob.objects["archive/closed_trades/2024-05-10.jsonl"]
	if !ok {
		t.Fatalf("archive object missing; have %v", blob.objects)
	}
	lines := 0
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var row map[string]any
		if err := json.Unmarshal(sc.Bytes(), &row); err != nil {
			t.Fatalf("line %d: %v", lines, err)
		}
		lines++
	}
	if lines != 2 {
		t.Errorf("lines = %d", lines)
	}
	if len(src.logged) != 1 || src.logged[0] != "archive.closed_trades" {
		t.Errorf("audit = %v", src.logged)
	}

	// Nothing to archive: no upload, no audit row.
	n, err = arch.ArchiveDecisions(ctx, cutoff)
	if err != nil || n != 0 {
		t.Fatalf("decisions = %d, %v", n, err)
	}
	if _, ok := blob.objects["archive/decisions/2024-05-10.jsonl"]; ok {
		t.Error("empty archive should not be uploaded")
	}
	if len(src.logged) != 1 {
		t.Errorf("audit = %v", src.logged)
	}
}
