package streaming

import (
	"sync"
	"time"
)

// circuitBreaker trips after consecutive dial/read failures and refuses
// further reconnect attempts until its timeout elapses, preventing a
// dead exchange endpoint from spinning the reconnect loop in a hot
// retry cycle.
type circuitBreaker struct {
	threshold int
	timeout   time.Duration

	mu       sync.Mutex
	failures int
	openedAt time.Time
}

func newCircuitBreaker(threshold int, timeout time.Duration) *circuitBreaker {
	return &circuitBreaker{threshold: threshold, timeout: timeout}
}

// Allow reports whether a connection attempt may proceed. Once open, it
// stays open until timeout has elapsed since it tripped, at which point
// it allows a single half-open probe.
func (b *circuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures < b.threshold {
		return true
	}
	return time.Since(b.openedAt) >= b.timeout
}

func (b *circuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.failures == b.threshold {
		b.openedAt = time.Now()
	}
	// A failed half-open probe re-opens the breaker for another full timeout.
	if b.failures > b.threshold {
		b.openedAt = time.Now()
	}
}

func (b *circuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.openedAt = time.Time{}
}
