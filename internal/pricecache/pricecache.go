// Package pricecache holds the latest mark price per instrument (§4.2).
// It is fed exclusively by the Exchange Adapter's subscription callback
// (single writer); the Monitor Loop and Reporting are its readers. This
// mirrors the teacher's lastPrices map in LevelService, generalized from
// an ad-hoc field into its own lock-guarded component.
package pricecache

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type entry struct {
	price decimal.Decimal
	ts    time.Time
}

// Cache is safe for concurrent use: one writer (OnUpdate), many readers.
type Cache struct {
	mu   sync.RWMutex
	data map[string]entry
}

func New() *Cache {
	return &Cache{data: make(map[string]entry)}
}

// OnUpdate is the callback registered with the adapter's
// SubscribeMarkPrice (§4.2, §6).
func (c *Cache) OnUpdate(symbol string, price decimal.Decimal, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[symbol] = entry{price: price, ts: ts}
}

// Get returns the latest price and whether it is present at all.
func (c *Cache) Get(symbol string) (decimal.Decimal, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.data[symbol]
	if !ok {
		return decimal.Zero, time.Time{}, false
	}
	return e.price, e.ts, true
}

// Fresh returns the price only if it is not older than maxAge, otherwise
// reports stale/missing via ok=false — the Risk Evaluator treats both the
// same way (§4.2).
func (c *Cache) Fresh(symbol string, now time.Time, maxAge time.Duration) (decimal.Decimal, bool) {
	price, ts, ok := c.Get(symbol)
	if !ok {
		return decimal.Zero, false
	}
	if now.Sub(ts) > maxAge {
		return decimal.Zero, false
	}
	return price, true
}
