// Package marketdata implements Aggregator, the REST-backed market-data
// resolver that sits behind PriceStream: a three-tier cache (in-process,
// distributed, exchange REST) that keeps the engine's per-pair snapshot
// fresh without tripping the exchange's rate limit.
package marketdata

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"tradeengine/internal/cache"
	"tradeengine/internal/exchange"
	"tradeengine/internal/metrics"
	"tradeengine/internal/models"
	"tradeengine/pkg/ratelimit"
	"tradeengine/pkg/retry"
)

const (
	localCacheTTL        = 10 * time.Second
	distributedStaleTTL  = 15 * time.Second
	inFlightPollInterval = 100 * time.Millisecond
	inFlightWaitCap      = 5 * time.Second
	maxBatchSize         = 10
	maxConcurrentBatches = 3

	tickerRate  = 10 // req/sec, conservative default for a generic REST ticker endpoint
	tickerBurst = 20
)

// Aggregator resolves fresh MarketData for a set of pairs using its own
// direct exchange client, independent of any per-bot adapter, so its
// request volume (roughly one batch of ≤10 pairs every few seconds)
// stays far below the exchange's overall rate limit. A token-bucket
// limiter throttles the underlying GetTicker calls directly, and a
// short retry absorbs the occasional transient network error instead
// of dropping the pair for that cycle.
type Aggregator struct {
	adapter   exchange.ExchangeAdapter
	distCache *cache.MarketDataCache
	log       *zap.SugaredLogger
	limiter   *ratelimit.RateLimiter

	mu         sync.Mutex
	local      map[models.Pair]models.MarketData
	fetchedAt  map[models.Pair]time.Time
	isFetching bool
}

func NewAggregator(adapter exchange.ExchangeAdapter, distCache *cache.MarketDataCache, log *zap.SugaredLogger) *Aggregator {
	return &Aggregator{
		adapter:   adapter,
		distCache: distCache,
		log:       log,
		limiter:   ratelimit.NewRateLimiter(tickerRate, tickerBurst),
		local:     make(map[models.Pair]models.MarketData),
		fetchedAt: make(map[models.Pair]time.Time),
	}
}

// GetMarketData never returns an error; a pair this call could not
// resolve is simply absent from the result. It tries the in-process
// cache, then waits out any in-flight fetch and retries the cache, and
// only then performs its own batched REST fetch for whatever is still
// missing.
func (a *Aggregator) GetMarketData(ctx context.Context, pairs []models.Pair) map[models.Pair]models.MarketData {
	result := a.freshSubset(pairs)
	missing := subtract(pairs, result)
	if len(missing) == 0 {
		return result
	}

	if a.waitForInFlight() {
		retried := a.freshSubset(missing)
		for p, md := range retried {
			result[p] = md
		}
		missing = subtract(missing, retried)
		if len(missing) == 0 {
			return result
		}
	}

	fetched := a.fetchBatched(ctx, missing)
	for p, md := range fetched {
		result[p] = md
	}
	return result
}

// FetchFresh always performs a batched REST fetch, bypassing the cache
// tiers; used by the background refresher tick.
func (a *Aggregator) FetchFresh(ctx context.Context, pairs []models.Pair) map[models.Pair]models.MarketData {
	return a.fetchBatched(ctx, pairs)
}

func (a *Aggregator) freshSubset(pairs []models.Pair) map[models.Pair]models.MarketData {
	a.mu.Lock()
	defer a.mu.Unlock()

	result := make(map[models.Pair]models.MarketData)
	now := time.Now()
	for _, p := range pairs {
		fetchedAt, ok := a.fetchedAt[p]
		if !ok || now.Sub(fetchedAt) >= localCacheTTL {
			continue
		}
		result[p] = a.local[p]
	}
	return result
}

// waitForInFlight polls the in-flight flag at inFlightPollInterval, up
// to inFlightWaitCap, returning whether a fetch was observed in flight
// (whether or not it finished before the cap).
func (a *Aggregator) waitForInFlight() bool {
	a.mu.Lock()
	inFlight := a.isFetching
	a.mu.Unlock()
	if !inFlight {
		return false
	}

	deadline := time.Now().Add(inFlightWaitCap)
	for time.Now().Before(deadline) {
		time.Sleep(inFlightPollInterval)
		a.mu.Lock()
		stillFetching := a.isFetching
		a.mu.Unlock()
		if !stillFetching {
			break
		}
	}
	return true
}

// fetchBatched partitions pairs into batches of at most maxBatchSize,
// runs up to maxConcurrentBatches of them concurrently, and merges each
// pair's result into the in-process cache as it resolves.
func (a *Aggregator) fetchBatched(ctx context.Context, pairs []models.Pair) map[models.Pair]models.MarketData {
	if len(pairs) == 0 {
		return map[models.Pair]models.MarketData{}
	}

	a.mu.Lock()
	a.isFetching = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.isFetching = false
		a.mu.Unlock()
	}()

	batches := batchPairs(pairs, maxBatchSize)
	sem := make(chan struct{}, maxConcurrentBatches)
	var wg sync.WaitGroup
	var resultMu sync.Mutex
	result := make(map[models.Pair]models.MarketData)

	for _, batch := range batches {
		wg.Add(1)
		sem <- struct{}{}
		go func(batch []models.Pair) {
			defer wg.Done()
			defer func() { <-sem }()
			for _, pair := range batch {
				md, ok := a.fetchOne(ctx, pair)
				if !ok {
					continue
				}
				resultMu.Lock()
				result[pair] = md
				resultMu.Unlock()
			}
		}(batch)
	}
	wg.Wait()

	a.mu.Lock()
	now := time.Now()
	for pair, md := range result {
		a.local[pair] = md
		a.fetchedAt[pair] = now
	}
	a.mu.Unlock()

	return result
}

// fetchOne resolves a single pair: distributed cache first, falling
// back to a direct ticker call on a miss. A per-pair failure returns
// (zero, false) rather than aborting the batch.
func (a *Aggregator) fetchOne(ctx context.Context, pair models.Pair) (models.MarketData, bool) {
	start := time.Now()
	defer func() {
		metrics.MarketDataFetchLatency.WithLabelValues(string(pair)).Observe(time.Since(start).Seconds())
	}()

	if a.distCache != nil {
		if md, ok, err := a.distCache.GetMarketData(ctx, pair); err == nil && ok && md.Valid(distributedStaleTTL) {
			return md, true
		} else if err != nil && a.log != nil {
			a.log.Warnw("marketdata: distributed cache read failed", "pair", pair, "error", err)
		}
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return models.MarketData{}, false
	}

	ticker, err := retry.DoWithResult(ctx, func() (*exchange.Ticker, error) {
		return a.adapter.GetTicker(ctx, pair)
	}, retry.NetworkConfig())
	if err != nil || ticker == nil {
		if a.log != nil {
			a.log.Warnw("marketdata: ticker fetch failed", "pair", pair, "error", err)
		}
		return models.MarketData{}, false
	}

	md := models.MarketData{
		Pair:      pair,
		Price:     ticker.LastPrice,
		Bid:       ticker.BidPrice,
		Ask:       ticker.AskPrice,
		Timestamp: ticker.Timestamp,
		FetchedAt: time.Now(),
	}
	if !md.Valid(distributedStaleTTL) {
		return models.MarketData{}, false
	}

	if a.distCache != nil {
		if err := a.distCache.SetMarketData(ctx, md); err != nil && a.log != nil {
			a.log.Warnw("marketdata: distributed cache write failed", "pair", pair, "error", err)
		}
	}
	return md, true
}

func batchPairs(pairs []models.Pair, size int) [][]models.Pair {
	var batches [][]models.Pair
	for i := 0; i < len(pairs); i += size {
		end := i + size
		if end > len(pairs) {
			end = len(pairs)
		}
		batches = append(batches, pairs[i:end])
	}
	return batches
}

func subtract(pairs []models.Pair, have map[models.Pair]models.MarketData) []models.Pair {
	var missing []models.Pair
	for _, p := range pairs {
		if _, ok := have[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing
}
