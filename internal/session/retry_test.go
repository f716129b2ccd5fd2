package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPolicy_DoSucceedsAfterRetries(t *testing.T) {
	var calls atomic.Int32
	p := Policy{MaxAttempts: 3, Interval: time.Millisecond}

	err := p.Do(context.Background(), func(context.Context) error {
		if calls.Add(1) < 3 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
}

func TestPolicy_DoExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	p := Policy{MaxAttempts: 3, Interval: time.Millisecond}

	err := p.Do(context.Background(), func(context.Context) error {
		calls.Add(1)
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, int32(3), calls.Load())
}

func TestPolicy_DoBoundsHungAttempt(t *testing.T) {
	p := Policy{MaxAttempts: 2, PerAttemptTimeout: 20 * time.Millisecond, Interval: time.Millisecond}

	start := time.Now()
	err := p.Do(context.Background(), func(ctx context.Context) error {
		// Ignores its context entirely, like a wedged browser round-trip.
		time.Sleep(time.Second)
		return nil
	})
	require.ErrorIs(t, err, errAttemptTimeout)
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestPolicy_DoHonorsCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := Policy{MaxAttempts: 5, Interval: 10 * time.Millisecond}
	err := p.Do(ctx, func(context.Context) error { return errBoom })
	require.ErrorIs(t, err, context.Canceled)
}

func TestPolicy_PollReportsConditionMet(t *testing.T) {
	var calls atomic.Int32
	p := Policy{MaxAttempts: 5, Interval: time.Millisecond}

	ok := p.Poll(context.Background(), func(context.Context) bool {
		return calls.Add(1) >= 3
	})
	require.True(t, ok)
	require.Equal(t, int32(3), calls.Load())
}

func TestPolicy_PollGivesUpAfterBudget(t *testing.T) {
	var calls atomic.Int32
	p := Policy{MaxAttempts: 4, Interval: time.Millisecond}

	ok := p.Poll(context.Background(), func(context.Context) bool {
		calls.Add(1)
		return false
	})
	require.False(t, ok)
	require.Equal(t, int32(4), calls.Load())
}
