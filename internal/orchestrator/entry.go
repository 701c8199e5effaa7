package orchestrator

import (
	"context"
	"strconv"

	"tradeengine/internal/exchange"
	"tradeengine/internal/execution"
	"tradeengine/internal/metrics"
	"tradeengine/internal/models"
	"tradeengine/internal/risk"
)

// mainTick runs one full cycle: reload bots, auto-pause lapsed
// subscriptions, detect BTC momentum and regime, run the exit passes,
// then the pyramid pass, then the entry pass. Each step's own failures
// are logged and do not abort the cycle.
func (o *Orchestrator) mainTick(ctx context.Context) {
	bots, err := o.bots.ListAllRunning()
	if err != nil {
		if o.log != nil {
			o.log.Warnw("main tick: list running bots failed", "error", err)
		}
		return
	}

	o.autoPauseLapsedSubscriptions()

	pairs := distinctEnabledPairs(bots)
	if len(pairs) == 0 {
		return
	}

	btcMomentum := o.btcMomentum(ctx)
	regimes := o.regime.DetectForAllPairs(ctx, o.marketAdapter, pairs)
	o.setRegimes(regimes)

	openTrades, err := o.trades.ListOpenTrades()
	if err != nil {
		if o.log != nil {
			o.log.Warnw("main tick: list open trades failed", "error", err)
		}
		openTrades = nil
	}

	o.runExitPasses(ctx, openTrades)

	// Re-list: the exit passes may have closed some of openTrades.
	survivors, err := o.trades.ListOpenTrades()
	if err != nil {
		survivors = nil
	}
	o.pyramidPass(ctx, survivors)

	for _, pair := range pairs {
		o.entryPass(ctx, pair, regimes[pair], btcMomentum)
	}
}

// autoPauseLapsedSubscriptions pauses every running bot whose owner's
// subscription is no longer active/trialing. Existing open trades on a
// paused bot are left alone: position tracking never depends on bot
// status, only the entry pass's eligibility query does.
func (o *Orchestrator) autoPauseLapsedSubscriptions() {
	lapsed, err := o.bots.ListRunningWithLapsedSubscription()
	if err != nil {
		if o.log != nil {
			o.log.Warnw("lapsed-subscription query failed", "error", err)
		}
		return
	}
	for _, bot := range lapsed {
		if err := o.bots.SetStatus(bot.ID, models.BotStatusPaused); err != nil {
			if o.log != nil {
				o.log.Warnw("auto-pause failed", "bot_id", bot.ID, "error", err)
			}
			continue
		}
		metrics.BotsAutoPaused.WithLabelValues("lapsed_subscription").Inc()
		o.notify(models.NewNotification(models.NotificationBotAutoPaused, models.SeverityWarn, "bot auto-paused: subscription lapsed"))
	}
}

// entryPass runs the cooldown check, indicator fetch, risk filter, AI
// confidence gate, and fan-out/execution for one pair.
func (o *Orchestrator) entryPass(ctx context.Context, pair models.Pair, pairRegime models.Regime, btcMomentum float64) {
	if o.inCooldown(pair) {
		metrics.RecordEntryOutcome(string(pair), "cooldown")
		return
	}

	md := o.market.GetMarketData(ctx, []models.Pair{pair})
	marketData, ok := md[pair]
	if !ok {
		return
	}

	ind, ok := o.indicatorsFor(ctx, pair)
	if !ok {
		return
	}

	preFilterSpread := 0.0
	if marketData.Bid > 0 {
		preFilterSpread = (marketData.Ask - marketData.Bid) / marketData.Bid
	}

	result := o.risk.CheckEntry(risk.EntryInput{
		Pair:            pair,
		MarketData:      marketData,
		Indicators:      ind,
		PreFilterSpread: preFilterSpread,
		BTCMomentum:     btcMomentum,
	})
	if !result.Approved {
		if o.log != nil {
			o.log.Debugw("entry rejected", "pair", pair, "stage", result.Stage, "reason", result.Reason)
		}
		metrics.RecordEntryOutcome(string(pair), "rejected_risk")
		return
	}

	signal, err := o.signals.AnalyzeMarket(ctx, signalRequest(pair, marketData.Price))
	if err != nil || signal == nil {
		metrics.RecordEntryOutcome(string(pair), "rejected_signal")
		return
	}
	if signal.Signal != models.SignalBuy {
		metrics.RecordEntryOutcome(string(pair), "rejected_signal")
		return
	}
	if !o.risk.MeetsAIConfidence(signal.Confidence) {
		if o.log != nil {
			o.log.Debugw("entry rejected", "pair", pair, "stage", "ai_confidence", "confidence", signal.Confidence)
		}
		metrics.RecordEntryOutcome(string(pair), "rejected_confidence")
		return
	}

	effectiveRegime := pairRegime.Type
	if effectiveRegime == "" {
		effectiveRegime = models.RegimeChoppy
	}

	decision := execution.TradeDecision{
		Pair:            pair,
		Signal:          *signal,
		Regime:          effectiveRegime,
		IsTransitioning: result.IsTransitioning,
	}

	plans, rejections, err := o.fanout.FanOutTradeDecision(ctx, decision)
	if err != nil {
		if o.log != nil {
			o.log.Warnw("fan-out failed", "pair", pair, "error", err)
		}
		return
	}
	metrics.PlansGenerated.WithLabelValues(string(pair)).Add(float64(len(plans)))
	for _, r := range rejections {
		metrics.PlansRejected.WithLabelValues(string(pair), "fan_out").Inc()
		o.notify(models.NewNotification(models.NotificationFanOutRejected, models.SeverityInfo, "fan-out rejected bot "+strconv.Itoa(r.BotID)+": "+r.Reason))
	}

	executed, execRejections := o.fanout.ExecuteTradesDirect(ctx, plans)
	for _, r := range execRejections {
		metrics.PlansRejected.WithLabelValues(string(pair), "execute").Inc()
		o.notify(models.NewNotification(models.NotificationFanOutRejected, models.SeverityInfo, "execution rejected bot "+strconv.Itoa(r.BotID)+": "+r.Reason))
	}
	if len(executed) > 0 {
		metrics.RecordEntryOutcome(string(pair), "executed")
	}
	if o.log != nil && len(executed) > 0 {
		o.log.Infow("entry pass executed trades", "pair", pair, "count", len(executed))
	}
}

func signalRequest(pair models.Pair, currentPrice float64) exchange.AnalyzeRequest {
	return exchange.AnalyzeRequest{
		Pair:          pair,
		Timeframe:     "1h",
		IncludeSignal: true,
		IncludeRegime: false,
		CurrentPrice:  currentPrice,
	}
}

func distinctEnabledPairs(bots []*models.BotInstance) []models.Pair {
	seen := make(map[models.Pair]bool)
	var pairs []models.Pair
	for _, b := range bots {
		for _, p := range b.EnabledPairs {
			if !seen[p] {
				seen[p] = true
				pairs = append(pairs, p)
			}
		}
	}
	return pairs
}

