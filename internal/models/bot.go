package models

import "time"

// TradingMode distinguishes a bot that actually sends orders to an exchange
// from one that simulates fills against live prices.
type TradingMode string

const (
	TradingModePaper TradingMode = "paper"
	TradingModeLive  TradingMode = "live"
)

// BotConfig is the user-configured sizing/behaviour block for one bot
// instance, stored as the `config jsonb` column.
type BotConfig struct {
	// InitialCapital > 0 fixes the bot's tradeable balance. 0 (or the
	// legacy string "unlimited", normalized to 0 at load time) means the
	// effective balance is resolved from the exchange at fan-out time.
	InitialCapital float64 `json:"initialCapital"`
	MaxPositionPct float64 `json:"maxPositionPct"`
}

// BotInstance is one user's configured trading bot.
type BotInstance struct {
	ID           int
	UserID       int
	Exchange     string
	EnabledPairs []Pair
	Status       BotStatus
	TradingMode  TradingMode
	Config       BotConfig
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EnabledFor reports whether the bot is configured to trade this pair.
func (b BotInstance) EnabledFor(p Pair) bool {
	for _, ep := range b.EnabledPairs {
		if ep == p {
			return true
		}
	}
	return false
}

// EffectiveCapital resolves the fixed/unlimited balance rule given a
// quote-equivalent exchange balance (already summed and fee-bufferred by
// the caller for the unlimited case).
func (b BotInstance) EffectiveCapital(exchangeQuoteBalance float64) float64 {
	if b.Config.InitialCapital > 0 {
		return b.Config.InitialCapital
	}
	return exchangeQuoteBalance
}
