// Package marketdata fetches OHLCV bars, keeps them in a TTL cache and
// assembles the MarketSnapshot an analysis cycle reads.
package marketdata

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"futures-bot/internal/errs"
	"futures-bot/internal/types"
)

// DefaultTTL is how long fetched bars stay fresh.
const DefaultTTL = 5 * time.Minute

type entry struct {
	bars      []types.Bar
	fetchedAt time.Time
}

// Cache is a lookaside store of bars per symbol and timeframe. The fetch task
// is its only writer; analysis only reads.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{entries: make(map[string]entry), ttl: ttl, now: time.Now}
}

func cacheKey(symbol string, tf types.Timeframe) string {
	return symbol + "|" + string(tf)
}

// Put stores a copy of bars as of now.
func (c *Cache) Put(symbol string, tf types.Timeframe, bars []types.Bar) {
	cp := make([]types.Bar, len(bars))
	copy(cp, bars)
	c.mu.Lock()
	c.entries[cacheKey(symbol, tf)] = entry{bars: cp, fetchedAt: c.now()}
	c.mu.Unlock()
}

// Get returns the cached bars. A missing or expired entry is DataUnavailable.
func (c *Cache) Get(symbol string, tf types.Timeframe) ([]types.Bar, error) {
	const op = "marketdata.Get"
	c.mu.RLock()
	e, ok := c.entries[cacheKey(symbol, tf)]
	c.mu.RUnlock()
	if !ok {
		return nil, errs.Newf(errs.KindDataUnavailable, op, "no bars cached for %s %s", symbol, tf)
	}
	if age := c.now().Sub(e.fetchedAt); age > c.ttl {
		return nil, errs.Newf(errs.KindDataUnavailable, op, "bars for %s %s are stale (%s old)", symbol, tf, age.Truncate(time.Second))
	}
	return e.bars, nil
}

// Age reports how long ago the entry was written, or false when absent.
func (c *Cache) Age(symbol string, tf types.Timeframe) (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[cacheKey(symbol, tf)]
	if !ok {
		return 0, false
	}
	return c.now().Sub(e.fetchedAt), true
}

// Keys lists the cached symbol|timeframe keys, sorted.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

func (c *Cache) String() string {
	return fmt.Sprintf("marketdata.Cache{entries: %d, ttl: %s}", len(c.Keys()), c.ttl)
}
