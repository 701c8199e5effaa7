package models

// Candle is one OHLCV bar returned by ExchangeAdapter.GetOHLCV.
type Candle struct {
	OpenTimeMs int64
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
}

// Indicators is the pure-function output of indicator math over recent
// candles. The engine never computes indicator math itself in the hot
// path without going through the OHLC/indicator cache first.
type Indicators struct {
	ADX              float64
	ADXSlope         float64
	RSI              float64
	Momentum1h       float64
	Momentum4h       float64
	VolumeRatio      float64
	IntrabarMomentum float64
}

// Signal is the AI signal generator's verdict, consumed through
// SignalSource. The concrete AI prompting is out of scope; this engine
// only interprets the resulting struct.
type Signal string

const (
	SignalBuy  Signal = "buy"
	SignalSell Signal = "sell"
	SignalHold Signal = "hold"
)

// SignalResult is what SignalSource.AnalyzeMarket returns.
type SignalResult struct {
	Signal     Signal
	Confidence float64 // 0-100
	Strength   float64
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	Regime     RegimeAnalysis
}

// RegimeAnalysis is the regime half of a SignalSource response, distinct
// from the engine's own RegimeDetector output, which is computed
// in-process from OHLC rather than returned by the AI collaborator.
type RegimeAnalysis struct {
	Regime     RegimeType
	Confidence float64
	Analysis   string
	Timestamp  int64
}
