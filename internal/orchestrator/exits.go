package orchestrator

import (
	"context"
	"strconv"
	"sync"
	"time"

	"tradeengine/internal/metrics"
	"tradeengine/internal/models"
	"tradeengine/internal/momentum"
	"tradeengine/pkg/utils"
)

// runExitPasses runs the momentum-failure, profit-target, and
// underwater-table exit passes concurrently over every open trade; all
// three complete before the pyramid pass starts. They never race on
// the same exit state: each only ever calls closeTrade for a trade it
// independently decided to close, and the store's open-status guard
// makes a double-close a no-op.
func (o *Orchestrator) runExitPasses(ctx context.Context, openTrades []*models.Trade) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); o.momentumFailurePass(ctx, openTrades) }()
	go func() { defer wg.Done(); o.profitTargetPass(ctx, openTrades) }()
	go func() { defer wg.Done(); o.underwaterPass(ctx, openTrades) }()
	wg.Wait()
}

// momentumFailurePass closes any trade the vote-counting detector flags,
// regardless of whether it is currently green or red: this is a
// risk-based exit, not a profit-protection one.
func (o *Orchestrator) momentumFailurePass(ctx context.Context, openTrades []*models.Trade) {
	now := time.Now()
	for _, trade := range openTrades {
		ind, ok := o.indicatorsFor(ctx, trade.Pair)
		if !ok {
			continue
		}
		if ind.RSI > 60 {
			o.mu.Lock()
			o.rsiExceeded60[trade.ID] = true
			o.mu.Unlock()
		}
		o.mu.Lock()
		exceeded60 := o.rsiExceeded60[trade.ID]
		o.mu.Unlock()

		snap := momentum.Snapshot{
			Momentum1h:       ind.Momentum1h,
			ADX:              ind.ADX,
			ADXSlope:         ind.ADXSlope,
			RSI:              ind.RSI,
			VolumeRatio:      ind.VolumeRatio,
			IntrabarMomentum: ind.IntrabarMomentum,
		}
		result := o.momentum.Evaluate(snap, momentum.EntryContext{RSIExceeded60: exceeded60}, trade.AgeMinutes(now))
		if !result.ShouldExit {
			continue
		}

		md := o.market.GetMarketData(ctx, []models.Pair{trade.Pair})
		price, ok := md[trade.Pair]
		if !ok {
			continue
		}
		metrics.MomentumExitsTriggered.WithLabelValues(string(trade.Pair)).Inc()
		o.closeAtPrice(trade, price.Price, result.Reason, false)
	}
}

// profitTargetPass closes any trade whose live price has reached its
// recorded take-profit level.
func (o *Orchestrator) profitTargetPass(ctx context.Context, openTrades []*models.Trade) {
	for _, trade := range openTrades {
		if trade.TakeProfit <= 0 {
			continue
		}
		md := o.market.GetMarketData(ctx, []models.Pair{trade.Pair})
		price, ok := md[trade.Pair]
		if !ok {
			continue
		}
		if price.Price < trade.TakeProfit {
			continue
		}
		o.closeAtPrice(trade, price.Price, models.ExitReasonProfitTarget, true)
	}
}

// underwaterPass applies the age-and-regime-scaled loss threshold
// table; this is the only loop that decides underwater exits, not the
// fast peak tick.
func (o *Orchestrator) underwaterPass(ctx context.Context, openTrades []*models.Trade) {
	now := time.Now()
	for _, trade := range openTrades {
		md := o.market.GetMarketData(ctx, []models.Pair{trade.Pair})
		price, ok := md[trade.Pair]
		if !ok {
			continue
		}

		entryFeePct, exitFeePct := feePercents(trade, o.trade.TakerFeePct)
		netProfitPct := utils.NetProfitPct(trade.EntryPrice, price.Price, entryFeePct, exitFeePct)
		ageMinutes := trade.AgeMinutes(now)
		regime := o.regimeFor(trade.Pair)
		threshold := underwaterThreshold(ageMinutes, regime.Type.Trending())

		result := o.tracker.CheckUnderwaterExit(trade.ID, netProfitPct, ageMinutes, threshold, underwaterMinMinutes)
		if !result.ShouldExit {
			continue
		}

		profitLoss := (price.Price - trade.EntryPrice) * trade.Quantity
		metrics.UnderwaterExits.WithLabelValues(result.Reason).Inc()
		o.closeTrade(trade, price.Price, profitLoss, netProfitPct, result.Reason, false)
	}
}

// closeAtPrice derives the dollar P&L for trade at price and closes it.
func (o *Orchestrator) closeAtPrice(trade *models.Trade, price float64, reason string, isProfitProtection bool) {
	entryFeePct, exitFeePct := feePercents(trade, o.trade.TakerFeePct)
	netProfitPct := utils.NetProfitPct(trade.EntryPrice, price, entryFeePct, exitFeePct)
	profitLoss := (price - trade.EntryPrice) * trade.Quantity
	o.closeTrade(trade, price, profitLoss, netProfitPct, reason, isProfitProtection)
}

// underwaterThreshold implements the age-bucket x trending/choppy
// table. Returns a negative percent: netProfitPct at or below this
// value (once minMinutes has elapsed, or immediately for a trade that
// was ever meaningfully profitable) triggers an exit.
func underwaterThreshold(ageMinutes float64, trending bool) float64 {
	switch {
	case ageMinutes <= 5:
		if trending {
			return -1.5
		}
		return -1.0
	case ageMinutes <= 30:
		if trending {
			return -2.5
		}
		return -0.8
	case ageMinutes <= 180:
		if trending {
			return -3.5
		}
		return -0.6
	case ageMinutes <= 1440:
		if trending {
			return -4.5
		}
		return -0.4
	default:
		if trending {
			return -5.5
		}
		return -0.3
	}
}

// pyramidPass offers a pyramid add-on to every open trade that is
// eligible: profitable, under its level cap, and passing the AI
// confidence bar for the next level. Runs only after every exit pass
// has completed, so it never pyramids a trade the same cycle closed.
func (o *Orchestrator) pyramidPass(ctx context.Context, openTrades []*models.Trade) {
	for _, trade := range openTrades {
		level := trade.NextPyramidLevel()
		if level == 0 {
			continue
		}

		md := o.market.GetMarketData(ctx, []models.Pair{trade.Pair})
		price, ok := md[trade.Pair]
		if !ok {
			continue
		}

		entryFeePct, exitFeePct := feePercents(trade, o.trade.TakerFeePct)
		netProfitPct := utils.NetProfitPct(trade.EntryPrice, price.Price, entryFeePct, exitFeePct)
		if netProfitPct <= 0 {
			continue
		}

		signal, err := o.signals.AnalyzeMarket(ctx, signalRequest(trade.Pair, price.Price))
		if err != nil || signal == nil {
			continue
		}
		if !o.risk.CanAddPyramidLevel(level, signal.Confidence) {
			continue
		}

		pyramidLevel := models.PyramidLevel{
			Level:            level,
			EntryPrice:       price.Price,
			Quantity:         trade.Quantity,
			EntryTime:        time.Now().UTC(),
			TriggerProfitPct: netProfitPct,
			Status:           models.PyramidFilled,
			AIConfidence:     signal.Confidence,
		}
		if err := o.trades.AddPyramidLevel(trade.ID, pyramidLevel); err != nil {
			if o.log != nil {
				o.log.Warnw("pyramid level add failed", "trade_id", trade.ID, "level", level, "error", err)
			}
			continue
		}
		metrics.PyramidLevelsAdded.WithLabelValues(string(trade.Pair), strconv.Itoa(level)).Inc()
	}
}

// peakTick is the fast loop: for every open trade, resolve the current
// price, compute NET profit, advance the tracker's peak, and enforce
// the erosion cap on a currently-profitable trade. A trade that cannot
// be priced this tick is skipped rather than tracked in degraded mode.
func (o *Orchestrator) peakTick(ctx context.Context) {
	openTrades, err := o.trades.ListOpenTrades()
	if err != nil {
		if o.log != nil {
			o.log.Warnw("peak tick: list open trades failed", "error", err)
		}
		return
	}
	if len(openTrades) == 0 {
		return
	}

	pairs := make([]models.Pair, 0, len(openTrades))
	seen := make(map[models.Pair]bool)
	for _, t := range openTrades {
		if !seen[t.Pair] {
			seen[t.Pair] = true
			pairs = append(pairs, t.Pair)
		}
	}
	md := o.market.GetMarketData(ctx, pairs)

	var wg sync.WaitGroup
	for _, trade := range openTrades {
		price, ok := md[trade.Pair]
		if !ok {
			continue
		}
		wg.Add(1)
		go func(trade *models.Trade, price models.MarketData) {
			defer wg.Done()
			o.trackPeak(trade, price)
		}(trade, price)
	}
	wg.Wait()

	if err := o.tracker.FlushPendingUpdates(); err != nil && o.log != nil {
		o.log.Warnw("peak flush failed", "error", err)
	}
}

func (o *Orchestrator) trackPeak(trade *models.Trade, price models.MarketData) {
	if trade.EntryPrice <= 0 {
		return
	}

	entryFeePct, exitFeePct := feePercents(trade, o.trade.TakerFeePct)
	netProfitPct := utils.NetProfitPct(trade.EntryPrice, price.Price, entryFeePct, exitFeePct)

	o.tracker.RecordPeak(trade.ID, trade.Pair, netProfitPct, trade.EntryTime.UnixMilli(), trade.EntryPrice, trade.Quantity, price.Price, trade.Fee)
	o.tracker.UpdatePeakIfHigher(trade.ID, netProfitPct, price.Price, trade.Fee)

	if netProfitPct <= 0 {
		return
	}

	regime := o.regimeFor(trade.Pair)
	result := o.tracker.CheckErosionCap(trade.ID, netProfitPct, regime.Type)
	if !result.ShouldExit {
		return
	}

	profitLoss := (price.Price - trade.EntryPrice) * trade.Quantity
	o.closeTrade(trade, price.Price, profitLoss, netProfitPct, result.Reason, true)
}
