// Package memory provides in-process implementations of the cache and bus
// interfaces for single-node runs without Redis.
package memory

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/paperbot/internal/domain"
)

// PriceCache is a map-backed domain.PriceCache.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]priceEntry
}

type priceEntry struct {
	price float64
	ts    time.Time
}

var _ domain.PriceCache = (*PriceCache)(nil)

// NewPriceCache creates an empty PriceCache.
func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[string]priceEntry)}
}

// SetPrice stores the latest mark for symbol.
func (c *PriceCache) SetPrice(_ context.Context, symbol string, price float64, ts time.Time) error {
	c.mu.Lock()
	c.prices[symbol] = priceEntry{price: price, ts: ts}
	c.mu.Unlock()
	return nil
}

// GetPrice returns the mark for symbol or domain.ErrNotFound.
func (c *PriceCache) GetPrice(_ context.Context, symbol string) (float64, time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.prices[symbol]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("memory: get price %s: %w", symbol, domain.ErrNotFound)
	}
	return e.price, e.ts, nil
}

// GetPrices returns marks for the symbols that have one.
func (c *PriceCache) GetPrices(_ context.Context, symbols []string) (map[string]float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		if e, ok := c.prices[s]; ok {
			out[s] = e.price
		}
	}
	return out, nil
}

// SignalBus is an in-process domain.SignalBus. Streams are capped at maxLen
// entries and use Redis-style "<millis>-<seq>" IDs.
type SignalBus struct {
	mu      sync.Mutex
	subs    map[int]subscription
	nextSub int
	streams map[string][]domain.StreamMessage
	lastMs  int64
	seq     int64
	maxLen  int
	now     func() time.Time
}

type subscription struct {
	pattern string
	ch      chan []byte
}

var _ domain.SignalBus = (*SignalBus)(nil)

// NewSignalBus creates a SignalBus. maxLen <= 0 means 10000.
func NewSignalBus(maxLen int) *SignalBus {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &SignalBus{
		subs:    make(map[int]subscription),
		streams: make(map[string][]domain.StreamMessage),
		maxLen:  maxLen,
		now:     time.Now,
	}
}

// Publish delivers payload to matching subscribers. Slow subscribers drop
// messages rather than block the publisher.
func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		msg := append([]byte(nil), payload...)
		select {
		case s.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe registers a glob pattern until ctx is done.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = subscription{pattern: channel, ch: ch}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

// StreamAppend adds payload to stream with a monotonically increasing ID.
func (b *SignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ms := b.now().UnixMilli()
	if ms <= b.lastMs {
		ms = b.lastMs
		b.seq++
	} else {
		b.lastMs = ms
		b.seq = 0
	}
	msgs := append(b.streams[stream], domain.StreamMessage{
		ID:      fmt.Sprintf("%d-%d", ms, b.seq),
		Payload: append([]byte(nil), payload...),
	})
	if len(msgs) > b.maxLen {
		msgs = msgs[len(msgs)-b.maxLen:]
	}
	b.streams[stream] = msgs
	return nil
}

// StreamRead returns up to count entries with IDs greater than lastID.
func (b *SignalBus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	after, err := parseStreamID(lastID)
	if err != nil {
		return nil, fmt.Errorf("memory: stream read %s: %w", stream, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		id, _ := parseStreamID(m.ID)
		if !id.after(after) {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

type streamID struct{ ms, seq int64 }

func (a streamID) after(b streamID) bool {
	return a.ms > b.ms || (a.ms == b.ms && a.seq > b.seq)
}

func parseStreamID(s string) (streamID, error) {
	msPart, seqPart, hasSeq := strings.Cut(s, "-")
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil {
		return streamID{}, fmt.Errorf("invalid stream id %q", s)
	}
	var seq int64
	if hasSeq {
		if seq, err = strconv.ParseInt(seqPart, 10, 64); err != nil {
			return streamID{}, fmt.Errorf("invalid stream id %q", s)
		}
	}
	return streamID{ms: ms, seq: seq}, nil
}

// LockManager is an in-process domain.LockManager with TTL expiry.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]lockEntry
	now   func() time.Time
}

type lockEntry struct {
	token   int64
	expires time.Time
}

var _ domain.LockManager = (*LockManager)(nil)

var lockTokens struct {
	sync.Mutex
	next int64
}

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]lockEntry), now: time.Now}
}

// Acquire takes key for ttl or returns domain.ErrLockHeld.
func (m *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.locks[key]; ok && now.Before(e.expires) {
		return nil, fmt.Errorf("memory: acquire lock %s: %w", key, domain.ErrLockHeld)
	}

	lockTokens.Lock()
	lockTokens.next++
	token := lockTokens.next
	lockTokens.Unlock()

	m.locks[key] = lockEntry{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if e, ok := m.locks[key]; ok && e.token == token {
				delete(m.locks, key)
			}
		})
	}, nil
}

// RateLimiter is an in-process sliding-window domain.RateLimiter.
type RateLimiter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

var _ domain.RateLimiter = (*RateLimiter)(nil)

// NewRateLimiter creates an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{hits: make(map[string][]time.Time), now: time.Now}
}

// Allow records a hit for key when fewer than limit hits fall inside window.
func (r *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-window)
	hits := r.hits[key]
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	hits = hits[i:]
	if len(hits) >= limit {
		r.hits[key] = hits
		return false, nil
	}
	r.hits[key] = append(hits, now)
	return true, nil
}
