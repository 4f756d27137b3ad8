// Package relay implements a token bucket that throttles inbound frames per
// connection so one noisy client cannot monopolise the router.
package relay

import (
	"sync"
	"time"
)

// RateLimit configures the per-connection token bucket. A zero Burst disables
// throttling.
type RateLimit struct {
	Burst          int
	RefillInterval time.Duration
}

type rateLimiter struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	perSec   float64
	last     time.Time
	now      func() time.Time
}

func newRateLimiter(cfg RateLimit) *rateLimiter {
	if cfg.Burst <= 0 {
		return nil
	}
	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}

	capacity := float64(cfg.Burst)
	return &rateLimiter{
		tokens:   capacity,
		capacity: capacity,
		perSec:   capacity / interval.Seconds(),
		last:     time.Now(),
		now:      time.Now,
	}
}

// allow consumes one token. A nil limiter always allows.
func (rl *rateLimiter) allow() bool {
	if rl == nil {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if elapsed := now.Sub(rl.last).Seconds(); elapsed > 0 {
		rl.tokens = min(rl.capacity, rl.tokens+elapsed*rl.perSec)
	}
	rl.last = now

	if rl.tokens < 1 {
		return false
	}
	rl.tokens--
	return true
}
