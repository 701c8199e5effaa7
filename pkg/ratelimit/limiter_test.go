package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestNewRateLimiterDefaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	if rl.rate != 10 {
		t.Fatalf("expected default rate 10, got %v", rl.rate)
	}
	if rl.burst != 20 {
		t.Fatalf("expected default burst 2x rate, got %v", rl.burst)
	}
}

func TestNewRateLimiterBurstFloor(t *testing.T) {
	rl := NewRateLimiter(10, 1)
	if rl.burst != 10 {
		t.Fatalf("expected burst floored to rate, got %v", rl.burst)
	}
}

func TestWaitConsumesAvailableTokenImmediately(t *testing.T) {
	rl := NewRateLimiter(10, 5)
	start := time.Now()
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Fatalf("expected immediate return with tokens available")
	}
}

func TestWaitBlocksUntilCancelledWhenExhausted(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error draining the bucket: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); err == nil {
		t.Fatalf("expected context deadline error once the bucket is empty")
	}
}
