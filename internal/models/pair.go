package models

import "strings"

// Pair is the canonical BASE/QUOTE identifier a bot is configured with,
// e.g. "BTC/USD". The internal pair is always what bots and trades store;
// the wire pair (e.g. "BTC/USDT") only exists at exchange I/O boundaries.
type Pair string

// quoteWireOverride maps an internal quote asset to the quote asset actually
// traded on exchanges that have no direct market for it.
var quoteWireOverride = map[string]string{
	"USD": "USDT",
}

// Base returns the base asset of the pair ("BTC" for "BTC/USD").
func (p Pair) Base() string {
	base, _, _ := strings.Cut(string(p), "/")
	return base
}

// Quote returns the quote asset of the pair ("USD" for "BTC/USD").
func (p Pair) Quote() string {
	_, quote, _ := strings.Cut(string(p), "/")
	return quote
}

// Valid reports whether the pair has the BASE/QUOTE shape with non-empty
// uppercase-alnum components.
func (p Pair) Valid() bool {
	base, quote, found := strings.Cut(string(p), "/")
	if !found || base == "" || quote == "" {
		return false
	}
	return isUpperAlnum(base) && isUpperAlnum(quote)
}

func isUpperAlnum(s string) bool {
	for _, r := range s {
		if !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// WirePair returns the pair as it should be presented to an ExchangeAdapter,
// substituting the quote asset when the exchange has no market for the
// internal quote (USD -> USDT).
func (p Pair) WirePair() string {
	base, quote := p.Base(), p.Quote()
	if wire, ok := quoteWireOverride[quote]; ok {
		quote = wire
	}
	return base + "/" + quote
}

// NormalizePair converts a wire-format pair (as delivered by a stream event,
// frequently without a separator, e.g. "BTCUSDT") back to the internal Pair
// given the set of pairs the caller is actually subscribed to. It prefers an
// exact internal match over the USD->USDT substitution so a subscriber of
// "BTC/USD" recognizes a "BTCUSDT" stream event as that pair.
func NormalizePair(wireSymbol string, subscribed map[Pair]bool) (Pair, bool) {
	wireSymbol = strings.ToUpper(strings.TrimSpace(wireSymbol))
	if strings.Contains(wireSymbol, "/") {
		p := Pair(wireSymbol)
		if subscribed[p] {
			return p, true
		}
	}
	for p := range subscribed {
		if strings.ReplaceAll(string(p), "/", "") == wireSymbol {
			return p, true
		}
	}
	for p := range subscribed {
		if strings.ReplaceAll(p.WirePair(), "/", "") == wireSymbol {
			return p, true
		}
	}
	return "", false
}

// ChannelName derives the PubSubBus channel name for a pair:
// "price_updates_<BASE>_<QUOTE>", lower-cased.
func (p Pair) ChannelName() string {
	return "price_updates_" + strings.ToLower(p.Base()) + "_" + strings.ToLower(p.Quote())
}
