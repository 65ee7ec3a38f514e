// Package ratelimit spaces outbound fetches so the source site never
// sees back-to-back requests. This is the primary politeness mechanism.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

type Limiter interface {
	Wait(ctx context.Context) error
}

// DelayLimiter enforces a minimum delay between actions, measured from
// the start of the previous action.
type DelayLimiter struct {
	delay      time.Duration
	lastAction time.Time
	mu         sync.Mutex
}

func NewDelayLimiter(delay time.Duration) *DelayLimiter {
	return &DelayLimiter{delay: delay}
}

func (l *DelayLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	elapsed := time.Since(l.lastAction)
	if elapsed < l.delay {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.delay - elapsed):
		}
	}

	l.lastAction = time.Now()
	return nil
}
