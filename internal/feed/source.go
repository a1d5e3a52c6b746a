// Package feed supplies quotes to the trading engine: a pluggable source
// (simulated walk or live HTTP API), a last-quote cache, a circuit breaker
// around flaky sources, and the polling loop that drives the whole engine.
package feed

import (
	"context"
	"sync"

	"paperdesk/internal/model"
)

// QuoteSource fetches the latest quotes for a set of symbols. A failed
// cycle returns an error and the loop skips it; the source must not block
// past ctx.
type QuoteSource interface {
	Fetch(ctx context.Context, symbols []string) ([]model.Tick, error)
}

// Cache holds the last observed tick per symbol.
type Cache struct {
	mu   sync.RWMutex
	last map[string]model.Tick
}

// NewCache creates an empty quote cache.
func NewCache() *Cache {
	return &Cache{last: make(map[string]model.Tick)}
}

// Put stores tick as the latest quote for its symbol.
func (c *Cache) Put(tick model.Tick) {
	c.mu.Lock()
	c.last[tick.Symbol] = tick
	c.mu.Unlock()
}

// Get returns the last tick for symbol, if any.
func (c *Cache) Get(symbol string) (model.Tick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tick, ok := c.last[symbol]
	return tick, ok
}

// Snapshot returns a copy of all cached quotes.
func (c *Cache) Snapshot() map[string]model.Tick {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]model.Tick, len(c.last))
	for sym, tick := range c.last {
		out[sym] = tick
	}
	return out
}
