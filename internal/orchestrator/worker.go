package orchestrator

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"tradeengine/internal/models"
)

// priceSource is the subset of *streaming.PriceStream TradeWorker needs.
type priceSource interface {
	Subscribe() <-chan models.PriceUpdate
}

// TradeWorker is the event-driven alternative to the main tick's entry
// pass: instead of polling every pair on a fixed interval, it reacts to
// each live price update by running the exit passes and a single-pair
// entry check for just that pair. It shares all state and collaborators
// with Orchestrator and never runs concurrently with mainTick's own
// entry pass for the same pair in a way that matters: both paths route
// through the same store-level close/execute guards.
type TradeWorker struct {
	orch   *Orchestrator
	prices priceSource
	log    *zap.SugaredLogger

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewTradeWorker(orch *Orchestrator, prices priceSource, log *zap.SugaredLogger) *TradeWorker {
	return &TradeWorker{
		orch:   orch,
		prices: prices,
		log:    log,
		stopCh: make(chan struct{}),
	}
}

// Run consumes price updates until ctx is cancelled or Stop is called.
func (w *TradeWorker) Run(ctx context.Context) {
	updates := w.prices.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			w.handleUpdate(ctx, update)
		}
	}
}

func (w *TradeWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// handleUpdate runs the exit passes against every open trade on the
// updated pair, then attempts a single entry for that pair if it is not
// in cooldown. Regime and BTC momentum come from the last main-tick
// reading rather than being recomputed on every tick.
func (w *TradeWorker) handleUpdate(ctx context.Context, update models.PriceUpdate) {
	trades, err := w.orch.trades.ListOpenTrades()
	if err != nil {
		if w.log != nil {
			w.log.Warnw("trade worker: list open trades failed", "error", err)
		}
		return
	}

	var pairTrades []*models.Trade
	for _, t := range trades {
		if t.Pair == update.Pair {
			pairTrades = append(pairTrades, t)
		}
	}
	if len(pairTrades) > 0 {
		w.orch.runExitPasses(ctx, pairTrades)
		w.orch.pyramidPass(ctx, pairTrades)
	}

	if w.orch.inCooldown(update.Pair) {
		return
	}
	regime := w.orch.regimeFor(update.Pair)
	w.orch.entryPass(ctx, update.Pair, regime, w.orch.cachedBTCMomentum())
}
