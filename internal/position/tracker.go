// Package position implements PositionTracker: the peak-profit
// bookkeeping and exit-condition evaluation that runs on every open
// trade, independent of the signal/entry path.
package position

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"tradeengine/internal/config"
	"tradeengine/internal/models"
)

// Peak is the in-memory bookkeeping entry FlushPendingUpdates mirrors
// out through Persister. The essential-columns table list in this
// engine's schema has no dedicated peaks table, so Persister is an
// optional collaborator rather than a hard dependency: a nil Persister
// makes the tracker purely in-process.
type Peak = models.PositionPeak

// Persister receives a batch of peaks that changed since the last
// flush. Implementations decide how (or whether) to mirror them to
// durable storage.
type Persister interface {
	PersistPeaks(peaks []Peak) error
}

// Tracker holds one Peak per open trade, guarded by a single mutex; the
// peak tick calls into it once per trade every second, so contention is
// expected to be low and lock scope is kept tight.
type Tracker struct {
	cfg       config.TradingConfig
	persister Persister
	log       *zap.SugaredLogger

	mu    sync.Mutex
	peaks map[int]*Peak
	dirty map[int]bool
}

func NewTracker(cfg config.TradingConfig, persister Persister, log *zap.SugaredLogger) *Tracker {
	return &Tracker{
		cfg:       cfg,
		persister: persister,
		log:       log,
		peaks:     make(map[int]*Peak),
		dirty:     make(map[int]bool),
	}
}

// RecordPeak initialises tracking for a trade. It is a no-op if the
// trade is already tracked: the fast loop calls this on every tick
// before UpdatePeakIfHigher, and re-initialising on every call would
// reset a peak that has already risen.
func (t *Tracker) RecordPeak(tradeID int, pair models.Pair, netProfitPct float64, entryTimeMs int64, entryPrice, quantity, currentPrice, entryFeesDollars float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.peaks[tradeID]; exists {
		return
	}

	t.peaks[tradeID] = &Peak{
		TradeID:           tradeID,
		Pair:              pair,
		EntryPrice:        entryPrice,
		Quantity:          quantity,
		EntryTimeMs:       entryTimeMs,
		PeakPricePct:      netProfitPct,
		PeakPriceAbsolute: currentPrice,
		FeesAtPeak:        entryFeesDollars,
		LastUpdateMs:      time.Now().UnixMilli(),
	}
	t.dirty[tradeID] = true
}

// UpdatePeakIfHigher raises PeakPricePct when netProfitPct exceeds it.
// Never lowers it: PeakPricePct is monotonically non-decreasing for the
// life of the trade.
func (t *Tracker) UpdatePeakIfHigher(tradeID int, netProfitPct, currentPrice, feesDollars float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.peaks[tradeID]
	if !ok {
		return false
	}
	if netProfitPct <= p.PeakPricePct {
		return false
	}
	p.PeakPricePct = netProfitPct
	p.PeakPriceAbsolute = currentPrice
	p.FeesAtPeak = feesDollars
	p.LastUpdateMs = time.Now().UnixMilli()
	t.dirty[tradeID] = true
	return true
}

// Peek returns the current tracked peak, if any.
func (t *Tracker) Peek(tradeID int) (Peak, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peaks[tradeID]
	if !ok {
		return Peak{}, false
	}
	return *p, true
}

// Forget removes a trade's peak once it closes; callers must only do
// this on a confirmed close, never on a race-aborted one.
func (t *Tracker) Forget(tradeID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peaks, tradeID)
	delete(t.dirty, tradeID)
}

// ErosionResult is CheckErosionCap's verdict.
type ErosionResult struct {
	ShouldExit     bool
	Reason         string
	PeakProfitPct  float64
	ErosionUsedPct float64
}

// CheckErosionCap arms once the tracked peak exceeds EROSION_MIN_PEAK_PCT
// and evaluates whether the trade has given back more than its
// regime-scaled fraction of that peak.
func (t *Tracker) CheckErosionCap(tradeID int, netProfitPct float64, regime models.RegimeType) ErosionResult {
	t.mu.Lock()
	p, ok := t.peaks[tradeID]
	t.mu.Unlock()
	if !ok || p.PeakPricePct <= t.cfg.ErosionMinPeakPct {
		return ErosionResult{PeakProfitPct: peakOrZero(p)}
	}

	erosionUsed := p.PeakPricePct - netProfitPct
	if erosionUsed <= 0 {
		return ErosionResult{PeakProfitPct: p.PeakPricePct}
	}

	capAmount := p.PeakPricePct * models.ErosionCapFraction(regime)
	if erosionUsed < capAmount {
		return ErosionResult{PeakProfitPct: p.PeakPricePct, ErosionUsedPct: erosionUsed}
	}

	reason := models.ExitReasonErosionCapProtected
	if netProfitPct < 0 {
		reason = models.ExitReasonGreenToRed
	}
	return ErosionResult{
		ShouldExit:     true,
		Reason:         reason,
		PeakProfitPct:  p.PeakPricePct,
		ErosionUsedPct: erosionUsed,
	}
}

// UnderwaterResult is CheckUnderwaterExit's verdict.
type UnderwaterResult struct {
	ShouldExit    bool
	Reason        string
	PeakProfitPct float64
}

// CheckUnderwaterExit decides whether a trade that has crossed the
// regime-and-age-scaled loss threshold should close. A trade that was
// ever meaningfully profitable (peak above EROSION_MIN_PEAK_PCT) closes
// immediately on crossing threshold, never gated behind minMinutes;
// that gate only protects trades that had, at most, a small peak or
// none at all, giving them time to recover before being written off.
func (t *Tracker) CheckUnderwaterExit(tradeID int, netProfitPct float64, ageMinutes, threshold, minMinutes float64) UnderwaterResult {
	t.mu.Lock()
	p := t.peaks[tradeID]
	t.mu.Unlock()

	peak := peakOrZero(p)
	if netProfitPct > threshold {
		return UnderwaterResult{PeakProfitPct: peak}
	}

	switch {
	case peak > t.cfg.ErosionMinPeakPct:
		return UnderwaterResult{ShouldExit: true, Reason: models.ExitReasonUnderwaterProfitableCollapse, PeakProfitPct: peak}
	case peak > 0:
		if ageMinutes >= minMinutes {
			return UnderwaterResult{ShouldExit: true, Reason: models.ExitReasonUnderwaterSmallPeakTimeout, PeakProfitPct: peak}
		}
	default:
		if ageMinutes >= minMinutes {
			return UnderwaterResult{ShouldExit: true, Reason: models.ExitReasonUnderwaterNeverProfited, PeakProfitPct: peak}
		}
	}
	return UnderwaterResult{PeakProfitPct: peak}
}

// flatBandPct is how close to zero a trade's net profit must sit to
// count as "flat" for CheckStaleTrade.
const flatBandPct = 0.1

// CheckStaleTrade fires once a trade has run for StaleUnderwaterMinutes
// without either a profitable exit or an underwater exit catching it
// first, a backstop against trades that linger near breakeven.
func (t *Tracker) CheckStaleTrade(netProfitPct, ageMinutes float64) (shouldExit bool, reason string) {
	if ageMinutes < t.cfg.StaleUnderwaterMinutes {
		return false, ""
	}
	if netProfitPct < 0 {
		return true, models.ExitReasonStaleUnderwater
	}
	if netProfitPct >= -flatBandPct && netProfitPct <= flatBandPct {
		return true, models.ExitReasonStaleFlatTrade
	}
	return false, ""
}

// FlushPendingUpdates mirrors every peak changed since the last flush
// out through Persister, then clears the dirty set. A nil Persister
// makes this a cheap no-op.
func (t *Tracker) FlushPendingUpdates() error {
	if t.persister == nil {
		t.mu.Lock()
		t.dirty = make(map[int]bool)
		t.mu.Unlock()
		return nil
	}

	t.mu.Lock()
	batch := make([]Peak, 0, len(t.dirty))
	for id := range t.dirty {
		if p, ok := t.peaks[id]; ok {
			batch = append(batch, *p)
		}
	}
	t.dirty = make(map[int]bool)
	t.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return t.persister.PersistPeaks(batch)
}

func peakOrZero(p *Peak) float64 {
	if p == nil {
		return 0
	}
	return p.PeakPricePct
}
