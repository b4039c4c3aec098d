package quote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stockarena/engine/internal/clock"
	"github.com/stockarena/engine/internal/metrics"
)

// Cache de-duplicates and time-bounds calls to the external quote source.
//
// A cached quote fetched within the caller's staleness bound is returned
// directly. Otherwise the source is called; if it fails but an expired
// cached value exists, that value is returned flagged Stale instead of
// failing the caller outright — callers decide whether to accept stale
// prices (order execution rejects them, display accepts them).
//
// Writes are last-writer-wins per symbol keyed by fetch timestamp: a slow
// fetch result arriving late never overwrites a fresher cached quote.
type Cache struct {
	src   Source
	clock clock.Clock

	mu      sync.RWMutex
	entries map[string]Quote
}

// NewCache creates a cache over src using clk for staleness arithmetic.
func NewCache(src Source, clk clock.Clock) *Cache {
	return &Cache{
		src:     src,
		clock:   clk,
		entries: make(map[string]Quote),
	}
}

// Price returns a quote for symbol no older than maxStaleness when the
// source is healthy. When the source fails, a previously cached quote of
// any age is returned with Stale set; with no cached value at all the call
// fails with ErrUnavailable.
func (c *Cache) Price(ctx context.Context, symbol string, maxStaleness time.Duration) (Quote, error) {
	now := c.clock.Now()

	c.mu.RLock()
	cached, ok := c.entries[symbol]
	c.mu.RUnlock()

	if ok && now.Sub(cached.FetchedAt) <= maxStaleness {
		metrics.QuoteCacheHits.Inc()
		return cached, nil
	}
	metrics.QuoteCacheMisses.Inc()

	q, err := c.src.Fetch(ctx, symbol)
	if err != nil {
		if ok {
			metrics.QuoteStaleServes.Inc()
			cached.Stale = true
			return cached, nil
		}
		// Both sentinels stay in the chain: callers distinguish "source
		// down" from "symbol does not exist".
		return Quote{}, fmt.Errorf("%w: %s: %w", ErrUnavailable, symbol, err)
	}
	q.FetchedAt = now

	c.store(q)
	return q, nil
}

// Prices batch-fetches quotes for a valuation snapshot. It returns every
// symbol it could price plus the list it could not; a failed symbol never
// aborts the rest. Stale quotes are included — the caller inspects Stale.
func (c *Cache) Prices(ctx context.Context, symbols []string, maxStaleness time.Duration) (map[string]Quote, []string) {
	quotes := make(map[string]Quote, len(symbols))
	var missing []string
	for _, sym := range symbols {
		if _, dup := quotes[sym]; dup {
			continue
		}
		q, err := c.Price(ctx, sym, maxStaleness)
		if err != nil {
			missing = append(missing, sym)
			continue
		}
		quotes[sym] = q
	}
	return quotes, missing
}

// store inserts q unless a fresher quote for the symbol is already cached.
func (c *Cache) store(q Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[q.Symbol]; ok && existing.FetchedAt.After(q.FetchedAt) {
		return
	}
	c.entries[q.Symbol] = q
}
