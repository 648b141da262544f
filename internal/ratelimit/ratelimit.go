// Package ratelimit enforces a process-global outbound-call budget: a
// single token bucket shared by every poll against the forum source,
// refilling on a wall-clock schedule independent of when work arrives.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Bucket wraps a token-bucket limiter for a single outbound source
// account. Wait blocks the caller (cooperatively) until a token is
// available or ctx is cancelled.
type Bucket struct {
	limiter *rate.Limiter
}

// New creates a Bucket that allows up to perMinute calls per minute,
// with a burst equal to perMinute so a cold start doesn't immediately
// throttle the first batch of subreddits.
func New(perMinute int) *Bucket {
	return &Bucket{
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
	}
}

// Wait blocks until a token is available or ctx is done.
func (b *Bucket) Wait(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}

// Allow reports whether a token is available right now, without
// blocking, consuming one if so. Used by tests that want to assert
// burst exhaustion without waiting out real time.
func (b *Bucket) Allow() bool {
	return b.limiter.Allow()
}
