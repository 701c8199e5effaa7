package models

import (
	"strconv"
	"time"
)

// Side is the direction of a Trade. The engine is spot-only: "sell" only
// ever appears as an exit, never as a short entry.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Exit reasons, used verbatim in trades.exit_reason.
const (
	ExitReasonErosionCapProtected        = "erosion_cap_protected"
	ExitReasonGreenToRed                 = "green_to_red"
	ExitReasonUnderwaterProfitableCollapse = "underwater_profitable_collapse"
	ExitReasonUnderwaterSmallPeakTimeout  = "underwater_small_peak_timeout"
	ExitReasonUnderwaterNeverProfited     = "underwater_never_profited"
	ExitReasonStaleUnderwater             = "stale_underwater"
	ExitReasonStaleFlatTrade              = "stale_flat_trade"
	ExitReasonStopLoss                    = "stop_loss"
	ExitReasonProfitTarget                = "profit_target"
	ExitReasonEmergencyStop               = "emergency_stop"
	ExitReasonMomentumFailureEarly        = "momentum_failure_early"
	ExitReasonMomentumFailureLate         = "momentum_failure_late"
)

// TimeExitReason formats the variable "time_exit_<N>_hours" reason.
func TimeExitReason(hours int) string {
	return "time_exit_" + strconv.Itoa(hours) + "_hours"
}

// PyramidLevelStatus is the fill state of one pyramid add-on.
type PyramidLevelStatus string

const (
	PyramidPendingExecution PyramidLevelStatus = "pending_execution"
	PyramidFilled           PyramidLevelStatus = "filled"
	PyramidFailed           PyramidLevelStatus = "failed"
)

// PyramidLevel is one add-on to an existing profitable Trade. Levels are
// 1 and 2 only; level 2 requires level 1 to already exist in the trade's
// PyramidLevels slice.
type PyramidLevel struct {
	Level            int
	EntryPrice       float64
	Quantity         float64
	EntryTime        time.Time
	TriggerProfitPct float64
	Status           PyramidLevelStatus
	AIConfidence     float64
}

// Trade is one bot's position in one pair, from entry fill to close.
type Trade struct {
	ID                int
	BotInstanceID     int
	Pair              Pair
	Side              Side
	EntryPrice        float64
	Quantity          float64
	EntryTime         time.Time
	StopLoss          float64
	TakeProfit        float64
	Fee               float64 // entry fee, in quote currency
	PyramidLevels     []PyramidLevel
	Status            TradeStatus
	ExitPrice         float64
	ExitTime          time.Time
	ProfitLoss        float64
	ProfitLossPercent float64
	ExitReason        string
	IdempotencyKey    string
	TradingMode       TradingMode
}

// AgeMinutes returns the trade's age in minutes relative to now, clamping
// a future-dated EntryTime to 0.
func (t Trade) AgeMinutes(now time.Time) float64 {
	age := now.Sub(t.EntryTime).Minutes()
	if age < 0 {
		return 0
	}
	return age
}

// NextPyramidLevel returns the next pyramid level number that may legally
// be added (1 if none exist, 2 if exactly level 1 exists, 0 if both exist
// or levels are out of order).
func (t Trade) NextPyramidLevel() int {
	switch len(t.PyramidLevels) {
	case 0:
		return 1
	case 1:
		if t.PyramidLevels[0].Level == 1 {
			return 2
		}
		return 0
	default:
		return 0
	}
}

// BuildIdempotencyKey builds the deterministic key: (botId, pair, side,
// second-resolution timestamp). Replaying the same inputs within the same
// wall-clock second always produces the same key.
func BuildIdempotencyKey(botID int, pair Pair, side Side, at time.Time) string {
	return strconv.Itoa(botID) + ":" + string(pair) + ":" + string(side) + ":" + strconv.FormatInt(at.Unix(), 10)
}
