package drive

import (
	"context"
	"sync"
	"time"
)

// limiter is a token bucket shared by every request of a client, keeping
// a sync pass under the per-key Drive quota. rpm=0 means unlimited.
type limiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newLimiter(rpm int) *limiter {
	if rpm <= 0 {
		return nil
	}
	return &limiter{
		tokens:     float64(rpm),
		maxTokens:  float64(rpm),
		refillRate: float64(rpm) / 60.0,
		lastRefill: time.Now(),
	}
}

// reserve takes a token if one is available and otherwise returns how
// long until the next one.
func (l *limiter) reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.tokens += now.Sub(l.lastRefill).Seconds() * l.refillRate
	if l.tokens > l.maxTokens {
		l.tokens = l.maxTokens
	}
	l.lastRefill = now

	if l.tokens >= 1 {
		l.tokens--
		return 0
	}
	needed := 1.0 - l.tokens
	return time.Duration(needed / l.refillRate * float64(time.Second))
}

// Wait blocks until a request may be sent or ctx is done.
func (l *limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	for {
		wait := l.reserve()
		if wait == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
