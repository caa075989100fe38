// Package clients provides the HTTP transport stack for the refdata engine:
// a tuned HTTP client, per-source request pacing and a retry policy with
// exponential backoff.
package clients

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// RateLimiter paces requests. Implementations must be safe for concurrent use.
type RateLimiter interface {
	// Allow checks if a request may proceed immediately.
	Allow() bool

	// Wait blocks until a request may proceed or the context is cancelled.
	Wait(ctx context.Context) error

	// GetStats returns rate limiter statistics.
	GetStats() RateLimiterStats
}

// RateLimiterStats provides statistics for monitoring and debugging.
type RateLimiterStats struct {
	Interval        time.Duration `json:"interval"`
	AllowedRequests int64         `json:"allowed_requests"`
	BlockedRequests int64         `json:"blocked_requests"`
	LastRequest     time.Time     `json:"last_request"`
	AverageWaitTime time.Duration `json:"average_wait_time"`
}

// IntervalLimiter enforces a minimum spacing between successive requests.
// Reference sites publish a kindly fetch interval rather than a rate, so the
// limiter is expressed the same way: at most one request per interval, with
// the first request passing immediately.
type IntervalLimiter struct {
	interval time.Duration
	last     time.Time

	allowedRequests int64
	blockedRequests int64
	totalWaitTime   int64

	mu sync.Mutex
}

// NewIntervalLimiter creates a limiter with the given minimum spacing.
// A zero or negative interval disables pacing.
func NewIntervalLimiter(interval time.Duration) *IntervalLimiter {
	return &IntervalLimiter{interval: interval}
}

// Allow checks if a request may proceed immediately and claims the slot if so.
func (il *IntervalLimiter) Allow() bool {
	il.mu.Lock()
	defer il.mu.Unlock()

	now := time.Now()
	if il.last.IsZero() || now.Sub(il.last) >= il.interval {
		il.last = now
		atomic.AddInt64(&il.allowedRequests, 1)
		return true
	}
	atomic.AddInt64(&il.blockedRequests, 1)
	return false
}

// Wait blocks until the minimum spacing since the previous request has
// elapsed, then claims the slot. Waiting is the only suspension point of a
// pipeline besides the fetch itself.
func (il *IntervalLimiter) Wait(ctx context.Context) error {
	start := time.Now()

	for {
		il.mu.Lock()
		now := time.Now()
		if il.last.IsZero() || now.Sub(il.last) >= il.interval {
			il.last = now
			atomic.AddInt64(&il.allowedRequests, 1)
			atomic.AddInt64(&il.totalWaitTime, time.Since(start).Nanoseconds())
			il.mu.Unlock()
			return nil
		}
		wait := il.interval - now.Sub(il.last)
		il.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			continue
		case <-ctx.Done():
			timer.Stop()
			atomic.AddInt64(&il.blockedRequests, 1)
			return ctx.Err()
		}
	}
}

// GetStats returns rate limiter statistics.
func (il *IntervalLimiter) GetStats() RateLimiterStats {
	il.mu.Lock()
	defer il.mu.Unlock()

	allowed := atomic.LoadInt64(&il.allowedRequests)
	blocked := atomic.LoadInt64(&il.blockedRequests)
	totalWait := atomic.LoadInt64(&il.totalWaitTime)

	avgWait := time.Duration(0)
	if allowed > 0 {
		avgWait = time.Duration(totalWait / allowed)
	}

	return RateLimiterStats{
		Interval:        il.interval,
		AllowedRequests: allowed,
		BlockedRequests: blocked,
		LastRequest:     il.last,
		AverageWaitTime: avgWait,
	}
}
