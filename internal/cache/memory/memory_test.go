package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/paperbot/internal/domain"
)

func TestPriceCache(t *testing.T) {
	ctx := context.Background()
	c := NewPriceCache()
	if _, _, err := c.GetPrice(ctx, "SOL"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	_ = c.SetPrice(ctx, "SOL", 100, time.Unix(1, 0))
	got, _ := c.GetPrices(ctx, []string{"SOL", "ETH"})
	if len(got) != 1 || got["SOL"] != 100 {
		t.Errorf("prices = %v", got)
	}
}

func TestSignalBusStream(t *testing.T) {
	ctx := context.Background()
	b := NewSignalBus(3)
	b.now = func() time.Time { return time.UnixMilli(1000) }

	for _, p := range []string{"a", "b", "c", "d"} {
		if err := b.StreamAppend(ctx, "s", []byte(p)); err != nil {
			t.Fatal(err)
		}
	}
	msgs, err := b.StreamRead(ctx, "s", "0", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 || string(msgs[0].Payload) != "b" {
		t.Fatalf("msgs = %+v", msgs)
	}
	rest, _ := b.StreamRead(ctx, "s", msgs[0].ID, 1)
	if len(rest) != 1 || string(rest[0].Payload) != "c" {
		t.Errorf("rest = %+v", rest)
	}
	if _, err := b.StreamRead(ctx, "s", "garbage", 1); err == nil {
		t.Error("expected error for bad id")
	}
}

func TestSignalBusPubSub(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewSignalBus(0)
	ch, err := b.Subscribe(ctx, "paperbot:*")
	if err != nil {
		t.Fatal(err)
	}
	_ = b.Publish(ctx, "paperbot:trades", []byte("x"))
	_ = b.Publish(ctx, "other", []byte("y"))

	select {
	case got := <-ch:
		if string(got) != "x" {
			t.Errorf("got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no message")
	}
	cancel()
	for range ch {
	}
}

func TestLockManager(t *testing.T) {
	ctx := context.Background()
	m := NewLockManager()
	now := time.Unix(0, 0)
	m.now = func() time.Time { return now }

	unlock, err := m.Acquire(ctx, "k", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Acquire(ctx, "k", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("second acquire: %v", err)
	}
	unlock()
	unlock()
	if _, err := m.Acquire(ctx, "k", time.Minute); err != nil {
		t.Fatalf("after unlock: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := m.Acquire(ctx, "k", time.Minute); err != nil {
		t.Fatalf("after expiry: %v", err)
	}
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()
	r := NewRateLimiter()
	now := time.Unix(100, 0)
	r.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if ok, _ := r.Allow(ctx, "ip", 2, time.Second); !ok {
			t.Fatalf("hit %d rejected", i)
		}
	}
	if ok, _ := r.Allow(ctx, "ip", 2, time.Second); ok {
		t.Fatal("third hit allowed")
	}
	now = now.Add(2 * time.Second)
	if ok, _ := r.Allow(ctx, "ip", 2, time.Second); !ok {
		t.Fatal("hit after window rejected")
	}
}
