package clients

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntervalLimiterFirstRequestImmediate(t *testing.T) {
	il := NewIntervalLimiter(time.Second)
	assert.True(t, il.Allow())
	assert.False(t, il.Allow(), "second request inside the interval must be blocked")
}

func TestIntervalLimiterZeroIntervalDisablesPacing(t *testing.T) {
	il := NewIntervalLimiter(0)
	for i := 0; i < 10; i++ {
		assert.True(t, il.Allow())
	}
}

func TestIntervalLimiterWaitEnforcesSpacing(t *testing.T) {
	il := NewIntervalLimiter(30 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, il.Wait(ctx))
	require.NoError(t, il.Wait(ctx))
	require.NoError(t, il.Wait(ctx))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)

	stats := il.GetStats()
	assert.Equal(t, int64(3), stats.AllowedRequests)
	assert.Equal(t, 30*time.Millisecond, stats.Interval)
}

func TestIntervalLimiterWaitCancellation(t *testing.T) {
	il := NewIntervalLimiter(time.Hour)
	require.NoError(t, il.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := il.Wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetryPolicyDelaysGrow(t *testing.T) {
	rp := &RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}
	assert.Equal(t, 100*time.Millisecond, rp.GetDelay(0))
	assert.Equal(t, 200*time.Millisecond, rp.GetDelay(1))
	assert.Equal(t, 400*time.Millisecond, rp.GetDelay(2))
	assert.Equal(t, time.Second, rp.GetDelay(5), "delay is capped at MaxDelay")
}

func TestExecuteWithConditionStopsOnRejectedError(t *testing.T) {
	rp := &RetryPolicy{MaxAttempts: 5, InitialDelay: time.Millisecond, Multiplier: 2.0}

	calls := 0
	fatal := assert.AnError
	err := rp.ExecuteWithCondition(context.Background(), func() error {
		calls++
		return fatal
	}, func(error) bool { return false })

	require.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestExecuteWithConditionRetriesApprovedError(t *testing.T) {
	rp := &RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 2.0}

	calls := 0
	err := rp.ExecuteWithCondition(context.Background(), func() error {
		calls++
		if calls < 3 {
			return assert.AnError
		}
		return nil
	}, func(error) bool { return true })

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}
