package server

import (
	"sync"
	"time"
)

// rateLimiter is a token bucket throttling one connection's inbound frames.
// The bucket starts full at Burst tokens and refills continuously at
// Burst per RefillInterval.
type rateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	perSecond  float64
	lastRefill time.Time
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}

	return &rateLimiter{
		tokens:     float64(burst),
		capacity:   float64(burst),
		perSecond:  float64(burst) / interval.Seconds(),
		lastRefill: time.Now(),
	}
}

// allow consumes a token if one is available, refilling for the time elapsed
// since the previous call first.
func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if elapsed := now.Sub(rl.lastRefill).Seconds(); elapsed > 0 {
		rl.tokens = min(rl.tokens+elapsed*rl.perSecond, rl.capacity)
	}
	rl.lastRefill = now

	if rl.tokens < 1 {
		return false
	}
	rl.tokens--
	return true
}
