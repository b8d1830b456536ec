package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// DefaultInterval keeps request rate near 15/s, under the feed's per-second quota.
const DefaultInterval = 65 * time.Millisecond

// DefaultPerMinute stays below the feed's 1,000 requests/minute quota.
const DefaultPerMinute = 900

// Pacer spaces outbound requests.
type Pacer interface {
	// Wait blocks until the next request may be issued or ctx is done.
	Wait(ctx context.Context) error
}

// Limiter combines a fixed-interval gate with a per-minute ceiling.
type Limiter struct {
	interval  *rate.Limiter
	perMinute *rate.Limiter
}

// New creates a limiter that admits one request per interval and at most
// perMinute requests in any minute. A non-positive perMinute disables the ceiling.
func New(interval time.Duration, perMinute int) (*Limiter, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("ratelimit: interval must be positive, got %s", interval)
	}
	l := &Limiter{
		interval: rate.NewLimiter(rate.Every(interval), 1),
	}
	if perMinute > 0 {
		l.perMinute = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	}
	return l, nil
}

// NewPerSecond creates a limiter from a requests-per-second budget.
func NewPerSecond(rps float64, perMinute int) (*Limiter, error) {
	if rps <= 0 {
		return nil, fmt.Errorf("ratelimit: rate must be positive, got %f", rps)
	}
	return New(time.Duration(float64(time.Second)/rps), perMinute)
}

// Wait blocks until both the interval gate and the per-minute ceiling admit a request.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.interval.Wait(ctx); err != nil {
		return err
	}
	if l.perMinute != nil {
		if err := l.perMinute.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Interval returns the minimum spacing between requests.
func (l *Limiter) Interval() time.Duration {
	return time.Duration(float64(time.Second) / float64(l.interval.Limit()))
}

// Unlimited is a Pacer that never waits. Intended for tests and replays.
type Unlimited struct{}

func (Unlimited) Wait(ctx context.Context) error { return ctx.Err() }
