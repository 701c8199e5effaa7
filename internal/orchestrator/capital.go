package orchestrator

import "sync"

// btcDropThreshold is the BTC 1h momentum reading (percent) below which
// the global trend gate halves every bot's sizing.
const btcDropThreshold = -1.0

// capitalPreservationFloor is the hard minimum the combined multiplier
// never drops below.
const capitalPreservationFloor = 0.25

// lossStreakHaircut is the per-consecutive-loss multiplier decay applied
// to a bot's sizing; three straight losses cut it to roughly 0.61.
const lossStreakHaircut = 0.85

// CapitalPreservation tracks the three inputs ExecutionFanOut's sizing
// multiplier needs but does not itself own: the BTC-trend gate (global),
// each bot's loss streak, and each bot's running drawdown. Orchestrator
// owns one instance, updates it from the main tick and every trade
// close, and hands its Multiplier method to FanOut as a
// CapitalPreservationFn.
type CapitalPreservation struct {
	mu sync.Mutex

	btcMomentum float64
	lossStreak  map[int]int
	drawdownPct map[int]float64 // EMA of recent realized P&L percent, <= 0
}

func NewCapitalPreservation() *CapitalPreservation {
	return &CapitalPreservation{
		lossStreak:  make(map[int]int),
		drawdownPct: make(map[int]float64),
	}
}

// SetBTCMomentum records the latest BTC 1h momentum reading.
func (c *CapitalPreservation) SetBTCMomentum(momentum float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.btcMomentum = momentum
}

// RecordOutcome folds one closed trade's result into botID's streak and
// drawdown state. A winning close resets the streak to zero and decays
// the drawdown back toward zero; a losing close extends the streak and
// pulls the drawdown EMA further negative.
func (c *CapitalPreservation) RecordOutcome(botID int, profitLossPct float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if profitLossPct >= 0 {
		c.lossStreak[botID] = 0
		c.drawdownPct[botID] = minFloat(0, c.drawdownPct[botID]*0.5+profitLossPct*0.1)
		return
	}

	c.lossStreak[botID]++
	c.drawdownPct[botID] = c.drawdownPct[botID]*0.7 + profitLossPct*0.3
}

// Multiplier computes the combined capital-preservation multiplier for
// botID: the BTC-trend gate times a per-loss-streak haircut times a
// drawdown discount, floored at capitalPreservationFloor. It is passed
// to execution.NewFanOut as an execution.CapitalPreservationFn.
func (c *CapitalPreservation) Multiplier(botID int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	mult := 1.0
	if c.btcMomentum <= btcDropThreshold {
		mult *= 0.5
	}

	streak := c.lossStreak[botID]
	for i := 0; i < streak; i++ {
		mult *= lossStreakHaircut
	}

	drawdown := c.drawdownPct[botID]
	if drawdown < 0 {
		discount := 1 + drawdown/100
		if discount < 0 {
			discount = 0
		}
		mult *= discount
	}

	if mult < capitalPreservationFloor {
		return capitalPreservationFloor
	}
	return mult
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
