// Package exchange provides the unified spot-market adapter contract the
// rest of the engine depends on, plus the AI signal collaborator contract.
package exchange

import (
	"context"
	"time"

	"tradeengine/internal/models"
)

// ExchangeAdapter is the narrow capability set the engine needs from a
// spot exchange: ticker reads, OHLCV history, order placement, and
// balance reads. Concrete adapters (Bybit, OKX, ...) are chosen at
// startup; nothing upstream depends on a specific exchange's package.
type ExchangeAdapter interface {
	// Connect establishes credentials for private endpoints (order
	// placement, balances). Public endpoints work without it.
	Connect(apiKey, secret, passphrase string) error

	// Name identifies the adapter for logging and metrics labels.
	Name() string

	// GetTicker returns the current best bid/ask/last for pair.
	GetTicker(ctx context.Context, pair models.Pair) (*Ticker, error)

	// GetOHLCV returns up to limit most recent candles for pair at the
	// given timeframe (e.g. "1h"), oldest first.
	GetOHLCV(ctx context.Context, pair models.Pair, timeframe string, limit int) ([]models.Candle, error)

	// PlaceOrder submits a market order and blocks until it fills or
	// the context is cancelled.
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)

	// GetBalances returns the account's spot balances.
	GetBalances(ctx context.Context) ([]Balance, error)

	// Close releases any held connections.
	Close() error
}

// OrderRequest describes a market order to place.
type OrderRequest struct {
	Pair   models.Pair
	Side   models.Side
	Amount float64 // base-asset quantity
	Price  float64 // reference price used only to size minimum-notional checks
}

// OrderResult is what the exchange reports back after a fill.
type OrderResult struct {
	OrderID      string
	AvgPrice     float64
	FilledAmount float64
	Fee          float64
	FeeAsset     string
	FilledAt     time.Time
}

// Balance is one asset's spot balance.
type Balance struct {
	Asset string
	Total float64
	Free  float64
}

// Ticker is a snapshot best bid/ask/last for one pair.
type Ticker struct {
	Pair      models.Pair
	BidPrice  float64
	AskPrice  float64
	LastPrice float64
	Timestamp time.Time
}

// SignalSource is the AI/indicator collaborator the engine consults for
// entry/exit signals and regime context. A concrete implementation may
// call out to an external model or run local indicator math; the engine
// treats it as an opaque capability.
type SignalSource interface {
	AnalyzeMarket(ctx context.Context, req AnalyzeRequest) (*models.SignalResult, error)
}

// AnalyzeRequest bundles the inputs a SignalSource needs to produce a
// signal and/or regime analysis for one pair.
type AnalyzeRequest struct {
	Pair          models.Pair
	Timeframe     string
	IncludeSignal bool
	IncludeRegime bool
	CurrentPrice  float64
	Indicators    models.Indicators
}

// Error wraps an adapter-reported failure with the exchange name and an
// optional machine-readable code, preserving Unwrap for errors.Is/As.
type Error struct {
	Exchange string
	Code     string
	Message  string
	Original error
}

func (e *Error) Error() string {
	return e.Exchange + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Original
}
