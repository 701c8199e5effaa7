// Package orchestrator ties every other component into the two
// independent tick loops that drive the engine: the main tick (reload
// bots, detect regime, run exits/pyramid/entry) and the peak tick (the
// fast per-second loop that tracks profit peaks and enforces the
// erosion cap). It also implements TradeWorker, the event-driven
// alternative to the main tick's entry pass.
package orchestrator

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"tradeengine/internal/cache"
	"tradeengine/internal/config"
	"tradeengine/internal/exchange"
	"tradeengine/internal/execution"
	"tradeengine/internal/indicators"
	"tradeengine/internal/metrics"
	"tradeengine/internal/models"
	"tradeengine/internal/momentum"
	"tradeengine/internal/position"
	"tradeengine/internal/risk"
	"tradeengine/internal/store"
)

// btcReferencePair is the pair the drop-protection override is derived
// from; it is not itself a traded pair requirement, any bot trading it
// is incidental.
const btcReferencePair = models.Pair("BTC/USD")

// underwaterMinMinutes is the minimum age a trade that was never (or
// only briefly) profitable must reach before an underwater exit fires.
// Historically the main loop used 15 min here while the fast loop used
// 0; the fast loop no longer decides underwater exits at all, so only
// this one value survives.
const underwaterMinMinutes = 15.0

// notificationChannel is where operator-facing Notification events are
// published; the engine persists no notifications, so delivery is
// pub-sub only.
const notificationChannel = "notifications"

// botLister is the subset of *store.BotStore the orchestrator needs.
type botLister interface {
	ListAllRunning() ([]*models.BotInstance, error)
	ListRunningWithLapsedSubscription() ([]*models.BotInstance, error)
	SetStatus(botID int, status models.BotStatus) error
}

// tradeLister is the subset of *store.TradeStore the orchestrator needs.
type tradeLister interface {
	ListOpenTrades() ([]*models.Trade, error)
	Close(tradeID int, exitTime time.Time, exitPrice, profitLoss, profitLossPercent float64, exitReason string, isProfitProtection bool) (store.CloseResult, error)
	AddPyramidLevel(tradeID int, level models.PyramidLevel) error
}

// marketDataSource is the subset of *marketdata.Aggregator used here.
type marketDataSource interface {
	GetMarketData(ctx context.Context, pairs []models.Pair) map[models.Pair]models.MarketData
}

// regimeSource is the subset of *regime.Detector used here.
type regimeSource interface {
	DetectForAllPairs(ctx context.Context, adapter exchange.ExchangeAdapter, pairs []models.Pair) map[models.Pair]models.Regime
}

// entryFilter is the subset of *risk.Manager used here.
type entryFilter interface {
	CheckEntry(in risk.EntryInput) risk.EntryResult
	MeetsAIConfidence(confidence float64) bool
	CanAddPyramidLevel(level int, aiConfidence float64) bool
}

// momentumFilter is the subset of *momentum.Detector used here.
type momentumFilter interface {
	Evaluate(snap momentum.Snapshot, entry momentum.EntryContext, ageMinutes float64) momentum.Result
}

// fanOutExecutor is the subset of *execution.FanOut used here.
type fanOutExecutor interface {
	FanOutTradeDecision(ctx context.Context, decision execution.TradeDecision) ([]execution.ExecutionPlan, []execution.Rejection, error)
	ExecuteTradesDirect(ctx context.Context, plans []execution.ExecutionPlan) ([]*models.Trade, []execution.Rejection)
}

// candleFetcher is the subset of *cache.OHLCCache used here.
type candleFetcher interface {
	GetOrFetch(ctx context.Context, pair models.Pair, timeframe string, limit int,
		fetch func(context.Context, models.Pair, string, int) ([]models.Candle, error)) ([]models.Candle, error)
}

// notifier is the subset of *pubsub.Bus used here.
type notifier interface {
	Publish(channel string, payload interface{}) error
}

// Orchestrator owns the main/peak tick loops and the per-pair cooldown
// and loss-streak bookkeeping.
type Orchestrator struct {
	bots     botLister
	trades   tradeLister
	market   marketDataSource
	regime   regimeSource
	risk     entryFilter
	momentum momentumFilter
	fanout   fanOutExecutor
	ohlc     candleFetcher
	tracker  *position.Tracker
	signals  exchange.SignalSource
	bus      notifier

	// capPreserv is shared with the FanOut this process constructs:
	// Orchestrator updates it, FanOut only reads it through Multiplier.
	capPreserv *CapitalPreservation

	// marketAdapter is the single reference exchange used for regime
	// classification, indicator candles, and the BTC drop-protection
	// override. Per-bot order execution uses the adapter registered
	// under each bot's own exchange field inside FanOut instead; the
	// two are deliberately independent; see DESIGN.md.
	marketAdapter exchange.ExchangeAdapter

	cfg    config.OrchestratorConfig
	trade  config.TradingConfig
	log    *zap.SugaredLogger

	mu               sync.Mutex
	pairLossCooldown map[models.Pair]time.Time
	pairLossStreak   map[models.Pair]int
	latestRegimes    map[models.Pair]models.Regime
	rsiExceeded60    map[int]bool // tradeID -> has RSI exceeded 60 since entry
	lastBTCMomentum  float64      // most recent main-tick reading; TradeWorker reuses this rather than refetching per price update

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Deps bundles every collaborator Orchestrator needs, to keep
// NewOrchestrator's signature from sprawling across a dozen positional
// arguments.
type Deps struct {
	Bots          *store.BotStore
	Trades        *store.TradeStore
	Market        marketDataSource
	Regime        regimeSource
	Risk          entryFilter
	Momentum      momentumFilter
	FanOut        fanOutExecutor
	OHLC          candleFetcher
	Tracker       *position.Tracker
	Signals       exchange.SignalSource
	Bus           notifier
	MarketAdapter exchange.ExchangeAdapter
	CapPreserv    *CapitalPreservation
}

func NewOrchestrator(deps Deps, cfg config.OrchestratorConfig, tradeCfg config.TradingConfig, log *zap.SugaredLogger) *Orchestrator {
	return &Orchestrator{
		bots:             deps.Bots,
		trades:           deps.Trades,
		market:           deps.Market,
		regime:           deps.Regime,
		risk:             deps.Risk,
		momentum:         deps.Momentum,
		fanout:           deps.FanOut,
		ohlc:             deps.OHLC,
		tracker:          deps.Tracker,
		signals:          deps.Signals,
		bus:              deps.Bus,
		marketAdapter:    deps.MarketAdapter,
		capPreserv:       deps.CapPreserv,
		cfg:              cfg,
		trade:            tradeCfg,
		log:              log,
		pairLossCooldown: make(map[models.Pair]time.Time),
		pairLossStreak:   make(map[models.Pair]int),
		latestRegimes:    make(map[models.Pair]models.Regime),
		rsiExceeded60:    make(map[int]bool),
		stopCh:           make(chan struct{}),
	}
}

// Run starts both tick loops and blocks until ctx is cancelled or Stop
// is called; in-flight iterations are allowed to finish but no new one
// starts. On return, pending peak updates are flushed.
func (o *Orchestrator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		o.loop(ctx, "main", o.cfg.MainTickInterval, o.mainTick)
	}()
	go func() {
		defer wg.Done()
		o.loop(ctx, "peak", o.cfg.PeakTickInterval, o.peakTick)
	}()
	wg.Wait()

	if err := o.tracker.FlushPendingUpdates(); err != nil && o.log != nil {
		o.log.Warnw("final peak flush failed", "error", err)
	}
}

// Stop requests both loops end after their current iteration.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopCh) })
}

func (o *Orchestrator) loop(ctx context.Context, label string, interval time.Duration, tick func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-ticker.C:
			start := time.Now()
			tick(ctx)
			metrics.RecordTickDuration(label, time.Since(start).Seconds())
		}
	}
}

// indicatorsFor fetches 100 recent 1h candles through the shared OHLC
// cache and computes the full indicator set, mirroring RegimeDetector's
// own candle fetch so the two stay consistent.
func (o *Orchestrator) indicatorsFor(ctx context.Context, pair models.Pair) (models.Indicators, bool) {
	candles, err := o.ohlc.GetOrFetch(ctx, pair, "1h", 100, o.marketAdapter.GetOHLCV)
	if err != nil || len(candles) == 0 {
		if err != nil && o.log != nil {
			o.log.Warnw("indicator candle fetch failed", "pair", pair, "error", err)
		}
		return models.Indicators{}, false
	}
	return indicators.Compute(candles), true
}

// btcMomentum computes the drop-protection override shared by every
// pair's entry decision this cycle, and caches it for TradeWorker.
func (o *Orchestrator) btcMomentum(ctx context.Context) float64 {
	ind, ok := o.indicatorsFor(ctx, btcReferencePair)
	if !ok {
		return 0
	}
	o.mu.Lock()
	o.lastBTCMomentum = ind.Momentum1h
	o.mu.Unlock()
	if o.capPreserv != nil {
		o.capPreserv.SetBTCMomentum(ind.Momentum1h)
	}
	return ind.Momentum1h
}

// cachedBTCMomentum returns the main tick's most recent BTC momentum
// reading, used by TradeWorker so a price event doesn't itself trigger
// an extra candle fetch.
func (o *Orchestrator) cachedBTCMomentum() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastBTCMomentum
}

// regimeFor returns the most recently detected regime for pair, or the
// choppy default if none has been classified yet this process's life.
func (o *Orchestrator) regimeFor(pair models.Pair) models.Regime {
	o.mu.Lock()
	defer o.mu.Unlock()
	if r, ok := o.latestRegimes[pair]; ok {
		return r
	}
	return models.Regime{Pair: pair, Type: models.RegimeChoppy}
}

func (o *Orchestrator) setRegimes(regimes map[models.Pair]models.Regime) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for pair, r := range regimes {
		o.latestRegimes[pair] = r
	}
}

// closeTrade runs the full close contract against the store and, on a
// real close, clears the position tracker's entry and the per-pair
// cooldown/streak bookkeeping.
func (o *Orchestrator) closeTrade(trade *models.Trade, exitPrice, profitLoss, profitLossPct float64, reason string, isProfitProtection bool) {
	result, err := o.trades.Close(trade.ID, time.Now().UTC(), exitPrice, profitLoss, profitLossPct, reason, isProfitProtection)
	if err != nil {
		if o.log != nil {
			o.log.Warnw("trade close failed", "trade_id", trade.ID, "error", err)
		}
		return
	}
	if !result.Closed {
		// Lost the race, already closed, or a profit-protection exit
		// on a trade that flipped red in the meantime: leave the
		// tracker untouched and let the next tick retry.
		return
	}

	o.tracker.Forget(trade.ID)
	delete(o.rsiExceeded60, trade.ID)
	o.recordTradeOutcome(trade.Pair, profitLossPct)
	if o.capPreserv != nil {
		o.capPreserv.RecordOutcome(trade.BotInstanceID, profitLossPct)
		metrics.SetCapitalPreservationMultiplier(strconv.Itoa(trade.BotInstanceID), o.capPreserv.Multiplier(trade.BotInstanceID))
	}
	metrics.RecordExit(string(trade.Pair), reason)
	o.notify(models.NewNotification(models.NotificationTradeClosed, models.SeverityInfo, "trade closed: "+reason))
}

// recordTradeOutcome updates the per-pair loss cooldown/streak state: a
// losing close extends the cooldown and bumps the streak (sidelining
// the pair entirely once RISK_MAX_LOSS_STREAK is reached); a winning
// close clears both.
func (o *Orchestrator) recordTradeOutcome(pair models.Pair, profitLossPct float64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if profitLossPct >= 0 {
		delete(o.pairLossCooldown, pair)
		delete(o.pairLossStreak, pair)
		return
	}

	streak := o.pairLossStreak[pair] + 1
	o.pairLossStreak[pair] = streak

	if streak >= o.trade.MaxLossStreak {
		o.pairLossCooldown[pair] = time.Now().Add(o.trade.LossCooldownHours)
		return
	}

	mult := streak
	if mult > 3 {
		mult = 3
	}
	o.pairLossCooldown[pair] = time.Now().Add(o.trade.LossCooldownBase * time.Duration(mult))
}

// inCooldown reports whether pair is currently sidelined.
func (o *Orchestrator) inCooldown(pair models.Pair) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	expiry, ok := o.pairLossCooldown[pair]
	if !ok {
		return false
	}
	return time.Now().Before(expiry)
}

func (o *Orchestrator) notify(n models.Notification) {
	if o.bus == nil {
		return
	}
	if err := o.bus.Publish(notificationChannel, n); err != nil && o.log != nil {
		o.log.Warnw("notification publish failed", "type", n.Type, "error", err)
	}
}

// feePercents resolves the (entryFeePct, exitFeePct) pair NetProfitPct
// needs from a trade's recorded entry fee dollars plus the configured
// taker fee assumption for the (unrealized) exit leg.
func feePercents(trade *models.Trade, takerFeePct float64) (entryFeePct, exitFeePct float64) {
	notional := trade.EntryPrice * trade.Quantity
	if notional > 0 {
		entryFeePct = trade.Fee / notional * 100
	}
	exitFeePct = takerFeePct * 100
	return
}
