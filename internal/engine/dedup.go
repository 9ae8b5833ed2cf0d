package engine

import (
	"sync"
	"time"
)

// Dedup is the executor's idempotency registry. A signal's dedupe key is
// marked once its positions are opened; re-executing the same key within the
// TTL window is a no-op, so a duplicate dispatch never opens a second
// position. Safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedup creates a registry that remembers keys for ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// Seen reports whether key was marked within the TTL window.
func (d *Dedup) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.seen[key]
	return ok && time.Since(last) < d.ttl
}

// Mark records key as executed. Called only after positions are opened, so a
// failed attempt may be retried on a later cycle.
func (d *Dedup) Mark(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[key] = time.Now()
}

// Cleanup drops expired keys. Called periodically to bound memory.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	for key, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, key)
		}
	}
}
