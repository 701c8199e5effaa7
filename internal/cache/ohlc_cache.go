package cache

import (
	"context"
	"sync"
	"time"

	"tradeengine/internal/models"
)

// OHLCCache is an in-process (not distributed) cache in front of
// ExchangeAdapter.GetOHLCV, used by RegimeDetector to avoid re-fetching
// 100 candles on every classification.
type OHLCCache struct {
	ttl   time.Duration
	mu    sync.RWMutex
	byKey map[string]ohlcEntry
}

type ohlcEntry struct {
	candles   []models.Candle
	fetchedAt time.Time
}

func NewOHLCCache(ttl time.Duration) *OHLCCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &OHLCCache{ttl: ttl, byKey: make(map[string]ohlcEntry)}
}

func ohlcCacheKey(pair models.Pair, timeframe string) string {
	return string(pair) + "|" + timeframe
}

// Get returns cached candles if fresh.
func (c *OHLCCache) Get(pair models.Pair, timeframe string) ([]models.Candle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.byKey[ohlcCacheKey(pair, timeframe)]
	if !ok || time.Since(entry.fetchedAt) > c.ttl {
		return nil, false
	}
	return entry.candles, true
}

func (c *OHLCCache) Put(pair models.Pair, timeframe string, candles []models.Candle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKey[ohlcCacheKey(pair, timeframe)] = ohlcEntry{candles: candles, fetchedAt: time.Now()}
}

// GetOrFetch serves from cache, falling back to fetch on miss/stale.
func (c *OHLCCache) GetOrFetch(ctx context.Context, pair models.Pair, timeframe string, limit int,
	fetch func(context.Context, models.Pair, string, int) ([]models.Candle, error)) ([]models.Candle, error) {

	if candles, ok := c.Get(pair, timeframe); ok {
		return candles, nil
	}
	candles, err := fetch(ctx, pair, timeframe, limit)
	if err != nil {
		return nil, err
	}
	c.Put(pair, timeframe, candles)
	return candles, nil
}
