package dbrest

import (
	"sync"
	"time"
)

// NewRateLimiter returns a full bucket of maxTokens that regains one token
// every refillRate. A zero refillRate never refills.
func NewRateLimiter(maxTokens int, refillRate time.Duration) *RateLimiter {
	return &RateLimiter{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Allow takes a token if one is available.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill(time.Now())
	if rl.tokens <= 0 {
		return false
	}
	rl.tokens--
	return true
}

// Tokens reports the tokens available now.
func (rl *RateLimiter) Tokens() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill(time.Now())
	return rl.tokens
}

// refill credits the whole intervals elapsed since lastRefill; the partial
// interval carries over. rl.mu must be held.
func (rl *RateLimiter) refill(now time.Time) {
	if rl.refillRate <= 0 {
		return
	}
	earned := now.Sub(rl.lastRefill) / rl.refillRate
	if earned <= 0 {
		return
	}
	rl.lastRefill = rl.lastRefill.Add(earned * rl.refillRate)
	rl.tokens = int(min(int64(rl.tokens)+int64(earned), int64(rl.maxTokens)))
}
