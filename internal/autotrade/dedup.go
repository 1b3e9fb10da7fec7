package autotrade

import (
	"sync"
	"time"
)

// Dedup remembers processed signal keys for a time-to-live window so a signal
// replayed by the source is not evaluated twice. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup that treats a key as a duplicate if it was seen
// within ttl.
func NewDedup(ttl time.Duration, now func() time.Time) *Dedup {
	if now == nil {
		now = time.Now
	}
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  now,
	}
}

// IsDuplicate returns true if key was seen within the TTL window. Otherwise
// it records key and returns false.
func (d *Dedup) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if lastSeen, ok := d.seen[key]; ok {
		if now.Sub(lastSeen) < d.ttl {
			return true
		}
	}
	d.seen[key] = now
	return false
}

// Cleanup drops expired keys.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for key, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, key)
		}
	}
}

// Reset forgets every key.
func (d *Dedup) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = make(map[string]time.Time)
}

// Len returns the number of remembered keys.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
