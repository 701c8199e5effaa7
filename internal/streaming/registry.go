package streaming

import (
	"fmt"
	"sync"
)

// Feed bundles the exchange-specific wire-protocol pieces PriceStream
// needs but deliberately does not implement itself: how to dial the
// websocket, how to parse a raw frame into a PriceUpdate, and how to
// build that exchange's subscription messages.
type Feed struct {
	URL       string
	Dialer    Dialer
	Parse     MessageParser
	BuildSubs SubscriptionBuilder
}

// FeedFactory builds a fresh Feed for one exchange.
type FeedFactory func() Feed

var (
	feedMu       sync.RWMutex
	feedFactories = map[string]FeedFactory{}
)

// RegisterFeed makes a Feed factory available under name (e.g. "bybit").
// Concrete exchange wire protocols are out of scope for this module; a
// deployment links in its own feed package and calls RegisterFeed from
// that package's init, mirroring exchange.Register and database/sql's
// driver registry.
func RegisterFeed(name string, factory FeedFactory) {
	feedMu.Lock()
	defer feedMu.Unlock()
	if _, exists := feedFactories[name]; exists {
		panic(fmt.Sprintf("streaming: RegisterFeed called twice for feed %q", name))
	}
	feedFactories[name] = factory
}

// GetFeed constructs a fresh Feed for name, or reports ok=false if
// nothing registered that name.
func GetFeed(name string) (Feed, bool) {
	feedMu.RLock()
	factory, ok := feedFactories[name]
	feedMu.RUnlock()
	if !ok {
		return Feed{}, false
	}
	return factory(), true
}
