package weibo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimiterConfig() LimiterConfig {
	return LimiterConfig{
		RequestsPerSecond: 50,
		Burst:             1,
		AcquireTimeout:    time.Second,
		BackoffInitial:    100 * time.Millisecond,
		BackoffMax:        time.Second,
	}
}

func TestLimiter_ExcessCallsWaitNeverBypass(t *testing.T) {
	l := NewLimiter(testLimiterConfig())

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(context.Background(), ClassContainer))
	}
	elapsed := time.Since(start)

	// Burst of 1 at 50 rps: the second and third call each wait ~20ms.
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond, "excess calls must wait for a slot")
}

func TestLimiter_AcquireTimeoutSignalsRateLimited(t *testing.T) {
	cfg := testLimiterConfig()
	cfg.RequestsPerSecond = 0.1 // one slot per 10s
	cfg.AcquireTimeout = 30 * time.Millisecond
	l := NewLimiter(cfg)

	require.NoError(t, l.Acquire(context.Background(), ClassContainer))

	err := l.Acquire(context.Background(), ClassContainer)
	require.Error(t, err)
	assert.Equal(t, KindRateLimited, KindOf(err))
}

func TestLimiter_ThrottledSetsSharedClassHold(t *testing.T) {
	l := NewLimiter(testLimiterConfig())

	base := time.Now()
	l.now = func() time.Time { return base }

	var slept time.Duration
	l.sleep = func(ctx context.Context, d time.Duration) error {
		slept = d
		return nil
	}

	cs := l.class(ClassContainer)
	cs.backoff.RandomizationFactor = 0

	d := l.Throttled(ClassContainer)
	assert.Equal(t, 100*time.Millisecond, d)

	require.NoError(t, l.Acquire(context.Background(), ClassContainer))
	assert.Equal(t, d, slept, "acquire must honor the shared hold")

	// A second caller in the same class observes the same hold.
	slept = 0
	require.NoError(t, l.Acquire(context.Background(), ClassContainer))
	assert.Equal(t, d, slept)
}

func TestLimiter_BackoffGrowsAndSettles(t *testing.T) {
	l := NewLimiter(testLimiterConfig())
	cs := l.class(ClassContainer)
	cs.backoff.RandomizationFactor = 0

	d1 := l.Throttled(ClassContainer)
	d2 := l.Throttled(ClassContainer)
	assert.Greater(t, d2, d1, "repeated throttling must back off exponentially")

	l.Settled(ClassContainer)
	cs.backoff.RandomizationFactor = 0
	d3 := l.Throttled(ClassContainer)
	assert.Equal(t, d1, d3, "a successful call resets the schedule")
}

func TestLimiter_ClassesAreIndependent(t *testing.T) {
	l := NewLimiter(testLimiterConfig())

	base := time.Now()
	l.now = func() time.Time { return base }

	var slept time.Duration
	l.sleep = func(ctx context.Context, d time.Duration) error {
		slept = d
		return nil
	}

	l.Throttled(ClassContainer)

	require.NoError(t, l.Acquire(context.Background(), ClassDetail))
	assert.Zero(t, slept, "a hold on one class must not slow another")
}

func TestLimiter_CanceledContextStopsHoldWait(t *testing.T) {
	l := NewLimiter(testLimiterConfig())

	base := time.Now()
	l.now = func() time.Time { return base }
	l.Throttled(ClassContainer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Acquire(ctx, ClassContainer)
	require.Error(t, err)
	assert.Equal(t, KindRateLimited, KindOf(err))
}
