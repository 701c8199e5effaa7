package models

import "time"

// MarketData is an immutable snapshot of a pair's current price state, as
// produced by the aggregator's REST resolver or the price stream. Never
// mutated in place: a refresh produces a new value.
type MarketData struct {
	Pair       Pair      `json:"pair"`
	Price      float64   `json:"price"`
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	Volume     float64   `json:"volume"`
	Change24h  float64   `json:"change24h"`
	High24h    float64   `json:"high24h"`
	Low24h     float64   `json:"low24h"`
	Timestamp  time.Time `json:"timestamp"`
	FetchedAt  time.Time `json:"-"`
}

// Valid reports whether the snapshot is usable: a positive price and a
// timestamp no older than staleTTL.
func (m MarketData) Valid(staleTTL time.Duration) bool {
	if m.Price <= 0 {
		return false
	}
	return time.Since(m.Timestamp) <= staleTTL
}

// PriceUpdate is the payload published by PriceStream to the distributed
// cache and to the per-pair PubSubBus channel.
type PriceUpdate struct {
	Pair      Pair      `json:"pair"`
	Price     float64   `json:"price"`
	Bid       float64   `json:"bid,omitempty"`
	Ask       float64   `json:"ask,omitempty"`
	Spread    float64   `json:"spread,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
