package models

// TradeStatus is the lifecycle state of a Trade. The engine uses a two-state
// machine (unlike the richer per-leg state machines older revisions of this
// engine used for cross-exchange arbitrage): a trade is open from the moment
// its entry order fills until exactly one exit path closes it.
type TradeStatus string

const (
	TradeStatusOpen   TradeStatus = "open"
	TradeStatusClosed TradeStatus = "closed"
)

// tradeTransitions enumerates the only legal TradeStatus transition. Kept as
// a table (rather than an inline comparison) because a future status would
// only require adding a row here.
var tradeTransitions = map[TradeStatus][]TradeStatus{
	TradeStatusOpen:   {TradeStatusClosed},
	TradeStatusClosed: {},
}

// CanTransition reports whether moving a trade from `from` to `to` is legal.
func CanTransition(from, to TradeStatus) bool {
	for _, allowed := range tradeTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// BotStatus is the operator-facing run state of a BotInstance.
type BotStatus string

const (
	BotStatusRunning BotStatus = "running"
	BotStatusPaused  BotStatus = "paused"
)

// SubscriptionStatus mirrors the subset of the billing system's states this
// engine must check before acting on a bot. The subscription system itself
// is out of scope; only these string values are consumed.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionTrialing SubscriptionStatus = "trialing"
)

// IsValidForTrading reports whether a subscription status permits the
// engine to open new trades on the owner's behalf.
func (s SubscriptionStatus) IsValidForTrading() bool {
	return s == SubscriptionActive || s == SubscriptionTrialing
}
