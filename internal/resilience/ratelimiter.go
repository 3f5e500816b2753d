package resilience

import (
	"context"

	"golang.org/x/time/rate"
)

// FetchLimiter optionally throttles outbound upstream fetches to a steady
// rate, complementing Semaphore's concurrency cap with a rate cap (the
// bounded-concurrency knob called out for the fetcher boundary). A nil
// *FetchLimiter disables throttling entirely.
type FetchLimiter struct {
	limiter *rate.Limiter
}

// NewFetchLimiter builds a limiter allowing ratePerSecond sustained requests
// with a burst of burst. A ratePerSecond <= 0 disables throttling.
func NewFetchLimiter(ratePerSecond float64, burst int) *FetchLimiter {
	if ratePerSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &FetchLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Wait blocks until a token is available or ctx is cancelled. A nil receiver
// is a no-op, so callers can hold an optional *FetchLimiter without a nil
// check at every call site.
func (l *FetchLimiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}
