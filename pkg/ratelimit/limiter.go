// Package ratelimit implements a token-bucket limiter for throttling
// outbound calls to an exchange's REST API.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token-bucket limiter: tokens refill at rate
// tokens/sec up to a burst capacity, and each call to Wait consumes one
// token, blocking until one is available.
type RateLimiter struct {
	rate       float64 // tokens per second
	burst      float64 // bucket capacity
	tokens     float64 // tokens currently available
	lastRefill time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a limiter allowing rate requests/sec with
// bursts up to burst. Non-positive rate defaults to 10/sec; non-positive
// burst defaults to 2x rate, and a burst below rate is raised to rate.
func NewRateLimiter(rate, burst float64) *RateLimiter {
	if rate <= 0 {
		rate = 10
	}
	if burst <= 0 {
		burst = rate * 2
	}
	if burst < rate {
		burst = rate
	}

	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     burst,
		lastRefill: time.Now(),
	}
}

// refill tops up tokens for elapsed time since the last refill, capped
// at burst. Must be called under rl.mu.
func (rl *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()

	rl.tokens += elapsed * rl.rate
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}
	rl.lastRefill = now
}

// Wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		rl.refill()

		if rl.tokens >= 1 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}

		waitTime := time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
		rl.mu.Unlock()

		select {
		case <-time.After(waitTime):
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
