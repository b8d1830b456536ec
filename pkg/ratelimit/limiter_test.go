package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqimebaby/aqialert/pkg/ratelimit"
)

func TestNew_InvalidInterval(t *testing.T) {
	_, err := ratelimit.New(0, 100)
	assert.Error(t, err)

	_, err = ratelimit.NewPerSecond(0, 100)
	assert.Error(t, err)
}

func TestLimiter_Interval(t *testing.T) {
	l, err := ratelimit.New(ratelimit.DefaultInterval, ratelimit.DefaultPerMinute)
	require.NoError(t, err)
	assert.InDelta(t, float64(65*time.Millisecond), float64(l.Interval()), float64(time.Microsecond))

	l, err = ratelimit.NewPerSecond(15, 0)
	require.NoError(t, err)
	assert.InDelta(t, float64(time.Second/15), float64(l.Interval()), float64(time.Microsecond))
}

func TestLimiter_WaitSpacesRequests(t *testing.T) {
	l, err := ratelimit.New(20*time.Millisecond, 0)
	require.NoError(t, err)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, l.Wait(ctx))
	}
	elapsed := time.Since(start)

	// First request passes immediately, the next three each wait one interval.
	assert.GreaterOrEqual(t, elapsed, 55*time.Millisecond)
}

func TestLimiter_PerMinuteCeiling(t *testing.T) {
	l, err := ratelimit.New(time.Millisecond, 2)
	require.NoError(t, err)
	require.NoError(t, l.Wait(context.Background()))
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx), "third request inside the same minute must wait past the deadline")
}

func TestLimiter_WaitContextCancelled(t *testing.T) {
	l, err := ratelimit.New(time.Hour, 0)
	require.NoError(t, err)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err = l.Wait(ctx)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_WaitDeadlineTooShort(t *testing.T) {
	l, err := ratelimit.New(time.Hour, 0)
	require.NoError(t, err)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.Error(t, l.Wait(ctx))
}

func TestUnlimited(t *testing.T) {
	var p ratelimit.Pacer = ratelimit.Unlimited{}
	assert.NoError(t, p.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Wait(ctx), context.Canceled)
}
