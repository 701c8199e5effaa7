package models

// PositionPeak is the in-memory, mirror-to-DB-on-write bookkeeping record
// PositionTracker keeps per open trade. PeakPricePct is NET profit
// percent and is monotonically non-decreasing while the trade is open.
type PositionPeak struct {
	TradeID           int
	Pair              Pair
	EntryPrice        float64
	Quantity          float64
	EntryTimeMs       int64
	PeakPricePct      float64
	PeakPriceAbsolute float64
	FeesAtPeak        float64
	LastUpdateMs      int64

	// Degraded is true when position size/entry data was unavailable at
	// creation time; only PeakPricePct is then meaningful.
	Degraded bool
}
