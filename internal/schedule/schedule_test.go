package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestNextDelay(t *testing.T) {
	p := Policy{Interval: 30 * time.Minute, Flex: 5 * time.Minute, Backoff: 15 * time.Minute}
	zero := func(int64) int64 { return 0 }
	top := func(n int64) int64 { return n - 1 }

	assert.Equal(t, 25*time.Minute, NextDelay(p, OutcomeSuccess, 0, zero))
	assert.Equal(t, 30*time.Minute, NextDelay(p, OutcomeSuccess, 0, top))
	assert.Equal(t, 15*time.Minute, NextDelay(p, OutcomeRetry, 1, zero))
	assert.Equal(t, 45*time.Minute, NextDelay(p, OutcomeRetry, 3, zero))
	assert.Equal(t, MaxBackoff, NextDelay(p, OutcomeRetry, 40, zero))
	assert.Equal(t, time.Hour, NextDelay(Policy{Interval: time.Hour}, OutcomeSuccess, 0, zero))
}

func TestNextDelayStaysInFlexWindow(t *testing.T) {
	p := Policy{Interval: 30 * time.Minute, Flex: 5 * time.Minute}
	r := NewRunner()
	for i := 0; i < 1000; i++ {
		d := NextDelay(p, OutcomeSuccess, 0, r.jitter)
		require.GreaterOrEqual(t, d, 25*time.Minute)
		require.LessOrEqual(t, d, 30*time.Minute)
	}
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "success", OutcomeSuccess.String())
	assert.Equal(t, "retry", OutcomeRetry.String())
	assert.Equal(t, "failure", OutcomeFailure.String())
}

func newTestRunner() *Runner {
	return NewRunner(WithLogger(zerolog.Nop()))
}

func TestRunnerRunsPeriodically(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var runs atomic.Int32
	r := newTestRunner()
	require.True(t, r.Register(Task{
		Name:   "tick",
		Policy: Policy{Interval: 10 * time.Millisecond, Flex: 5 * time.Millisecond},
		Run: func(context.Context) Outcome {
			runs.Add(1)
			return OutcomeSuccess
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestRunnerKeepsExistingTask(t *testing.T) {
	r := newTestRunner()
	var which atomic.Value
	mk := func(tag string) Task {
		return Task{Name: "monitor", Policy: Policy{Interval: time.Hour}, Run: func(context.Context) Outcome {
			which.Store(tag)
			return OutcomeSuccess
		}}
	}
	assert.True(t, r.Register(mk("first")))
	assert.False(t, r.Register(mk("second")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()
	require.Eventually(t, func() bool { return which.Load() != nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "first", which.Load())
}

func TestRunnerFailureUnregisters(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	r := newTestRunner()
	var runs atomic.Int32
	r.Register(Task{Name: "doomed", Policy: Policy{Interval: time.Millisecond}, Run: func(context.Context) Outcome {
		runs.Add(1)
		return OutcomeFailure
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	require.Eventually(t, func() bool { return !r.Scheduled("doomed") }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, runs.Load())
	cancel()
	require.NoError(t, <-done)
}

func TestRunnerRetryBacksOff(t *testing.T) {
	r := newTestRunner()
	var stamps []time.Time
	stampCh := make(chan time.Time, 8)
	r.Register(Task{Name: "flaky", Policy: Policy{Interval: time.Hour, Backoff: 30 * time.Millisecond}, Run: func(context.Context) Outcome {
		stampCh <- time.Now()
		return OutcomeRetry
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()
	for len(stamps) < 3 {
		select {
		case s := <-stampCh:
			stamps = append(stamps, s)
		case <-time.After(2 * time.Second):
			t.Fatal("retries did not happen")
		}
	}
	// Linear: the second gap is about twice the first.
	assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), 30*time.Millisecond)
	assert.GreaterOrEqual(t, stamps[2].Sub(stamps[1]), 60*time.Millisecond)
}

func TestRunnerCancelAndPanic(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	r := newTestRunner()
	var runs atomic.Int32
	r.Register(Task{Name: "panicky", Policy: Policy{Interval: time.Hour, Backoff: 5 * time.Millisecond}, Run: func(context.Context) Outcome {
		runs.Add(1)
		panic("boom")
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	require.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, time.Millisecond)
	r.Cancel("panicky")
	assert.False(t, r.Scheduled("panicky"))
	cancel()
	require.NoError(t, <-done)
}
