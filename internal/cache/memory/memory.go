// Package memory provides in-process implementations of the price cache and
// signal bus for simulated runs that should not depend on Redis.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/openpredict/tradebot/internal/domain"
)

type mark struct {
	price float64
	ts    time.Time
}

// PriceCache is a map-backed domain.PriceCache.
type PriceCache struct {
	mu    sync.RWMutex
	marks map[string]mark
	ttl   time.Duration
}

// NewPriceCache creates a cache. A zero ttl means marks never expire.
func NewPriceCache(ttl time.Duration) *PriceCache {
	return &PriceCache{marks: make(map[string]mark), ttl: ttl}
}

func (pc *PriceCache) SetPrice(ctx context.Context, tokenID string, price float64, ts time.Time) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.marks[tokenID] = mark{price: price, ts: ts}
	return nil
}

func (pc *PriceCache) GetPrice(ctx context.Context, tokenID string) (float64, time.Time, error) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	m, ok := pc.marks[tokenID]
	if !ok || pc.expired(m) {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return m.price, m.ts, nil
}

func (pc *PriceCache) GetPrices(ctx context.Context, tokenIDs []string) (map[string]float64, error) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	out := make(map[string]float64, len(tokenIDs))
	for _, id := range tokenIDs {
		if m, ok := pc.marks[id]; ok && !pc.expired(m) {
			out[id] = m.price
		}
	}
	return out, nil
}

func (pc *PriceCache) expired(m mark) bool {
	return pc.ttl > 0 && time.Since(m.ts) > pc.ttl
}

// SignalBus is a channel-backed domain.SignalBus. Subscribers that fall
// behind drop messages rather than block the publisher.
type SignalBus struct {
	mu   sync.RWMutex
	subs map[string][]chan []byte
}

// NewSignalBus creates an empty bus.
func NewSignalBus() *SignalBus {
	return &SignalBus{subs: make(map[string][]chan []byte)}
}

func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	for _, ch := range sb.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)

	sb.mu.Lock()
	sb.subs[channel] = append(sb.subs[channel], ch)
	sb.mu.Unlock()

	go func() {
		<-ctx.Done()
		sb.mu.Lock()
		defer sb.mu.Unlock()

		chans := sb.subs[channel]
		for i, c := range chans {
			if c == ch {
				sb.subs[channel] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

var (
	_ domain.PriceCache = (*PriceCache)(nil)
	_ domain.SignalBus  = (*SignalBus)(nil)
)
