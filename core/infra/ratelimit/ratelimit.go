// Package ratelimit enforces a fixed-window request budget per client.
// The window aligned to the wall clock makes the N-th request in a
// window the last allowed one; the N+1-th is rejected until the next
// window starts.
package ratelimit

import (
	"context"
	"time"
)

// Limiter answers whether one more request from key fits the budget.
type Limiter interface {
	// Allow consumes one slot from key's budget of limit requests per
	// window. It returns false when the budget is exhausted.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Close() error
}

// windowStart aligns an instant to its fixed window.
func windowStart(now time.Time, window time.Duration) time.Time {
	return now.Truncate(window)
}
