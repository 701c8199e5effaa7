// Package execution converts one trade decision into per-bot execution
// plans and executes them synchronously, one at a time, to remove the
// race window an async job queue would reopen.
package execution

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tradeengine/internal/config"
	"tradeengine/internal/exchange"
	"tradeengine/internal/metrics"
	"tradeengine/internal/models"
	"tradeengine/internal/store"
	"tradeengine/pkg/utils"
)

// balanceSafetyBuffer shaves this fraction off an unlimited bot's
// fetched exchange balance before sizing, to leave headroom for fees
// and price movement between sizing and fill.
const balanceSafetyBuffer = 0.95

// defaultStopLossPct is used when a signal's stop-loss distance isn't
// meaningful (missing or non-positive).
const defaultStopLossPct = 0.05

// driftOverrideThreshold is how far a live ticker may drift from the
// signal price before ExecuteTradesDirect re-prices the fill.
const driftOverrideThreshold = 0.001

// TradeDecision is one signal evaluated for one pair, ready to fan out
// across every eligible bot.
type TradeDecision struct {
	Pair            models.Pair
	Signal          models.SignalResult
	Regime          models.RegimeType
	IsTransitioning bool
	Blocked         bool // true when the pair carries a global regime block
}

// ExecutionPlan is one bot's sized, not-yet-executed order.
type ExecutionPlan struct {
	BotID       int
	Exchange    string
	Pair        models.Pair
	Side        models.Side
	Quantity    float64
	Price       float64
	StopLoss    float64
	TakeProfit  float64
	Confidence  float64
	TradingMode models.TradingMode
}

// Rejection records why a bot was skipped during fan-out, for the
// per-cycle audit log.
type Rejection struct {
	BotID  int
	Reason string
}

// CapitalPreservationFn returns the already-floored (>= 0.25) capital
// preservation multiplier for one bot: the product of the BTC-trend
// gate, the bot's drawdown state, and its current loss-streak penalty.
// Those three inputs live in the orchestrator's per-cycle state, so
// FanOut takes the combined result as a callback rather than owning
// that state itself.
type CapitalPreservationFn func(botID int) float64

// FanOut implements FanOutTradeDecision and ExecuteTradesDirect.
type FanOut struct {
	bots       *store.BotStore
	trades     *store.TradeStore
	adapters   map[string]exchange.ExchangeAdapter
	capPreserv CapitalPreservationFn
	cfg        config.TradingConfig
	log        *zap.SugaredLogger
}

func NewFanOut(bots *store.BotStore, trades *store.TradeStore, adapters map[string]exchange.ExchangeAdapter, capPreserv CapitalPreservationFn, cfg config.TradingConfig, log *zap.SugaredLogger) *FanOut {
	return &FanOut{bots: bots, trades: trades, adapters: adapters, capPreserv: capPreserv, cfg: cfg, log: log}
}

// FanOutTradeDecision turns one decision into a sized plan per eligible
// bot. A per-bot failure produces a Rejection instead of aborting the
// batch.
func (f *FanOut) FanOutTradeDecision(ctx context.Context, decision TradeDecision) ([]ExecutionPlan, []Rejection, error) {
	if decision.Blocked {
		return nil, nil, nil
	}

	bots, err := f.bots.ListRunningWithValidSubscription(decision.Pair)
	if err != nil {
		return nil, nil, fmt.Errorf("list eligible bots: %w", err)
	}

	effectiveRegime := decision.Regime
	if decision.IsTransitioning {
		effectiveRegime = models.RegimeTransitioning
	}

	var plans []ExecutionPlan
	var rejections []Rejection

	for _, bot := range bots {
		hasOpen, err := f.trades.HasOpenTrade(bot.ID, decision.Pair)
		if err != nil {
			rejections = append(rejections, Rejection{BotID: bot.ID, Reason: "open_trade_check_failed"})
			continue
		}
		if hasOpen {
			rejections = append(rejections, Rejection{BotID: bot.ID, Reason: "open_position_exists"})
			continue
		}

		balance, err := f.resolveBalance(ctx, bot)
		if err != nil {
			rejections = append(rejections, Rejection{BotID: bot.ID, Reason: "balance_resolution_failed"})
			continue
		}

		quantity := f.sizeQuantity(decision.Signal, balance, effectiveRegime, bot.ID)
		if !utils.IsFiniteAndPositive(quantity) {
			rejections = append(rejections, Rejection{BotID: bot.ID, Reason: "non_positive_quantity"})
			continue
		}

		plans = append(plans, ExecutionPlan{
			BotID:       bot.ID,
			Exchange:    bot.Exchange,
			Pair:        decision.Pair,
			Side:        models.SideBuy,
			Quantity:    quantity,
			Price:       decision.Signal.EntryPrice,
			StopLoss:    decision.Signal.StopLoss,
			TakeProfit:  decision.Signal.TakeProfit,
			Confidence:  decision.Signal.Confidence,
			TradingMode: bot.TradingMode,
		})
	}

	return plans, rejections, nil
}

func (f *FanOut) resolveBalance(ctx context.Context, bot *models.BotInstance) (float64, error) {
	if bot.Config.InitialCapital > 0 {
		return bot.Config.InitialCapital, nil
	}

	adapter, ok := f.adapters[bot.Exchange]
	if !ok {
		return 0, fmt.Errorf("no adapter registered for exchange %s", bot.Exchange)
	}
	balances, err := adapter.GetBalances(ctx)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, b := range balances {
		total += b.Free
	}
	return bot.EffectiveCapital(total * balanceSafetyBuffer), nil
}

func (f *FanOut) sizeQuantity(signal models.SignalResult, balance float64, regime models.RegimeType, botID int) float64 {
	if signal.EntryPrice <= 0 {
		return 0
	}

	stopLossPct := defaultStopLossPct
	if signal.StopLoss > 0 {
		if pct := absPct(signal.StopLoss, signal.EntryPrice); pct > 0 {
			stopLossPct = pct
		}
	}
	takeProfitPct := absPct(signal.TakeProfit, signal.EntryPrice)
	if takeProfitPct <= 0 {
		takeProfitPct = stopLossPct * 2
	}

	kelly := utils.KellyFraction(signal.Confidence, takeProfitPct/stopLossPct)
	baseQuantity := (balance * kelly) / signal.EntryPrice

	regimeMult := models.RegimeSizeMultiplier(regime)
	capMult := 1.0
	if f.capPreserv != nil {
		capMult = f.capPreserv(botID)
	}

	return baseQuantity * regimeMult * capMult
}

func absPct(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	pct := (a - b) / b
	if pct < 0 {
		return -pct
	}
	return pct
}

// ExecuteTradesDirect runs each plan synchronously, re-checking the
// open-position guard and overriding the signal price with a fresh
// ticker when it has drifted, then places (or simulates) the order and
// persists the trade idempotently.
func (f *FanOut) ExecuteTradesDirect(ctx context.Context, plans []ExecutionPlan) ([]*models.Trade, []Rejection) {
	var executed []*models.Trade
	var rejections []Rejection

	for _, plan := range plans {
		trade, rejection := f.executeOne(ctx, plan)
		if rejection != nil {
			rejections = append(rejections, *rejection)
			continue
		}
		executed = append(executed, trade)
	}
	return executed, rejections
}

func (f *FanOut) executeOne(ctx context.Context, plan ExecutionPlan) (*models.Trade, *Rejection) {
	hasOpen, err := f.trades.HasOpenTrade(plan.BotID, plan.Pair)
	if err != nil {
		return nil, &Rejection{BotID: plan.BotID, Reason: "recheck_failed"}
	}
	if hasOpen {
		return nil, &Rejection{BotID: plan.BotID, Reason: "open_position_exists"}
	}

	adapter, ok := f.adapters[plan.Exchange]
	if !ok {
		return nil, &Rejection{BotID: plan.BotID, Reason: "no_adapter"}
	}

	price := plan.Price
	if ticker, err := adapter.GetTicker(ctx, plan.Pair); err == nil && ticker != nil && ticker.LastPrice > 0 {
		if absPct(ticker.LastPrice, plan.Price) > driftOverrideThreshold {
			price = ticker.LastPrice
		}
	}

	now := time.Now().UTC()
	trade := &models.Trade{
		BotInstanceID:  plan.BotID,
		Pair:           plan.Pair,
		Side:           plan.Side,
		EntryPrice:     price,
		Quantity:       plan.Quantity,
		EntryTime:      now,
		StopLoss:       plan.StopLoss,
		TakeProfit:     plan.TakeProfit,
		Status:         models.TradeStatusOpen,
		TradingMode:    plan.TradingMode,
		IdempotencyKey: models.BuildIdempotencyKey(plan.BotID, plan.Pair, plan.Side, now),
	}

	if plan.TradingMode == models.TradingModeLive {
		orderStart := time.Now()
		result, err := adapter.PlaceOrder(ctx, exchange.OrderRequest{
			Pair:   plan.Pair,
			Side:   plan.Side,
			Amount: plan.Quantity,
			Price:  price,
		})
		metrics.OrderLatency.WithLabelValues(adapter.Name(), string(plan.Side)).Observe(time.Since(orderStart).Seconds())
		if err != nil {
			metrics.RecordOrder(adapter.Name(), "error")
			return nil, &Rejection{BotID: plan.BotID, Reason: "place_order_failed"}
		}
		metrics.RecordOrder(adapter.Name(), "filled")
		trade.EntryPrice = result.AvgPrice
		trade.Quantity = result.FilledAmount
		trade.Fee = result.Fee
	} else {
		trade.Fee = price * plan.Quantity * f.cfg.TakerFeePct
	}

	id, err := f.trades.Insert(trade)
	if err != nil {
		return nil, &Rejection{BotID: plan.BotID, Reason: "persist_failed"}
	}
	if id == 0 {
		// ON CONFLICT DO NOTHING: another cycle already inserted this
		// idempotency key.
		return nil, &Rejection{BotID: plan.BotID, Reason: "duplicate_idempotency_key"}
	}
	trade.ID = id
	return trade, nil
}
