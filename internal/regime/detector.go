// Package regime classifies the recent trend quality of each traded pair
// from OHLC history, feeding both RiskManager's health gate and
// PositionTracker's erosion-cap table.
package regime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tradeengine/internal/cache"
	"tradeengine/internal/exchange"
	"tradeengine/internal/metrics"
	"tradeengine/internal/models"
	"tradeengine/internal/store"
)

const (
	candleCount     = 100
	candleTimeframe = "1h"
	minCandlesForADX = adxPeriod*2 + 1
)

// Detector pulls recent candles through an OHLCCache, computes ADX, and
// persists the resulting classification.
type Detector struct {
	ohlc  *cache.OHLCCache
	store *store.RegimeStore
	log   *zap.SugaredLogger
}

func NewDetector(ohlc *cache.OHLCCache, regimeStore *store.RegimeStore, log *zap.SugaredLogger) *Detector {
	return &Detector{ohlc: ohlc, store: regimeStore, log: log}
}

// Detect classifies one pair and persists the result.
func (d *Detector) Detect(ctx context.Context, adapter exchange.ExchangeAdapter, pair models.Pair) (models.Regime, error) {
	candles, err := d.ohlc.GetOrFetch(ctx, pair, candleTimeframe, candleCount, adapter.GetOHLCV)
	if err != nil {
		return models.Regime{}, fmt.Errorf("fetch candles for %s: %w", pair, err)
	}
	if len(candles) < minCandlesForADX {
		return models.Regime{}, fmt.Errorf("insufficient candle history for %s: have %d, need >= %d", pair, len(candles), minCandlesForADX)
	}

	adx, slope := computeADX(candles)
	regimeType := models.ClassifyFromADX(adx)

	result := models.Regime{
		Pair:       pair,
		Type:       regimeType,
		Confidence: adxConfidence(adx),
		Reason:     fmt.Sprintf("adx=%.2f slope=%.3f", adx, slope),
		Timestamp:  time.Now().UTC(),
	}

	if err := d.store.Insert(result); err != nil {
		return models.Regime{}, fmt.Errorf("persist regime for %s: %w", pair, err)
	}
	metrics.RegimeClassifications.WithLabelValues(string(pair), string(regimeType)).Inc()
	return result, nil
}

// DetectForAllPairs fans out Detect across pairs concurrently, collecting
// whichever results succeed; a per-pair failure does not abort the rest.
func (d *Detector) DetectForAllPairs(ctx context.Context, adapter exchange.ExchangeAdapter, pairs []models.Pair) map[models.Pair]models.Regime {
	var wg sync.WaitGroup
	var mu sync.Mutex
	results := make(map[models.Pair]models.Regime, len(pairs))

	for _, pair := range pairs {
		wg.Add(1)
		go func(p models.Pair) {
			defer wg.Done()
			regime, err := d.Detect(ctx, adapter, p)
			if err != nil {
				if d.log != nil {
					d.log.Warnw("regime detection failed", "pair", p, "error", err)
				}
				return
			}
			mu.Lock()
			results[p] = regime
			mu.Unlock()
		}(pair)
	}

	wg.Wait()
	return results
}

// adxConfidence maps ADX strength onto a 0-1 confidence score; it is a
// deliberately coarse proxy, not a statistical estimate.
func adxConfidence(adx float64) float64 {
	c := adx / 60.0
	if c > 1 {
		c = 1
	}
	if c < 0 {
		c = 0
	}
	return c
}
