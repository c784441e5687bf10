package guard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func newTestGuard(sleeps *recordedSleeps) *Guard {
	return New(
		WithSleep(sleeps.sleep),
		WithJitter(func() time.Duration { return 0 }),
	)
}

type rateLimitErr struct {
	after time.Duration
}

func (e *rateLimitErr) Error() string             { return "rate limited" }
func (e *rateLimitErr) RetryAfter() time.Duration { return e.after }

func TestInvoke_SucceedsFirstAttempt(t *testing.T) {
	sleeps := &recordedSleeps{}
	v, err := Invoke(context.Background(), newTestGuard(sleeps), Policy{Timeout: time.Second, MaxRetries: 2, BaseDelay: time.Second},
		func(context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	require.Equal(t, "ok", v)
	require.Empty(t, sleeps.delays)
}

func TestInvoke_AlwaysFailingIsAttemptedMaxRetriesPlusOne(t *testing.T) {
	sleeps := &recordedSleeps{}
	var calls atomic.Int32
	boom := errors.New("upstream 503")

	_, err := Invoke(context.Background(), newTestGuard(sleeps), Policy{Timeout: time.Second, MaxRetries: 2, BaseDelay: time.Second},
		func(context.Context) (int, error) {
			calls.Add(1)
			return 0, boom
		})

	require.Equal(t, int32(3), calls.Load())
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 3, exhausted.Attempts)
	require.Same(t, boom, exhausted.Err)
	require.ErrorIs(t, err, boom)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps.delays)
}

func TestInvoke_RecoversOnRetry(t *testing.T) {
	sleeps := &recordedSleeps{}
	calls := 0
	v, err := Invoke(context.Background(), newTestGuard(sleeps), Policy{Timeout: time.Second, MaxRetries: 2, BaseDelay: 10 * time.Millisecond},
		func(context.Context) (string, error) {
			calls++
			if calls == 1 {
				return "", errors.New("transient")
			}
			return "second", nil
		})
	require.NoError(t, err)
	require.Equal(t, "second", v)
	require.Equal(t, 2, calls)
	require.Len(t, sleeps.delays, 1)
}

func TestInvoke_TimeoutRace(t *testing.T) {
	sleeps := &recordedSleeps{}
	block := make(chan struct{})
	defer close(block)

	timeout := 50 * time.Millisecond
	start := time.Now()
	_, err := Invoke(context.Background(), newTestGuard(sleeps), Policy{Timeout: timeout, MaxRetries: 0},
		func(context.Context) (string, error) {
			<-block // ignores cancellation, like a provider that keeps running
			return "late", nil
		})
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeout)
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Less(t, elapsed, timeout+500*time.Millisecond)
}

func TestInvoke_TimedOutAttemptsAreRetried(t *testing.T) {
	sleeps := &recordedSleeps{}
	var calls atomic.Int32
	_, err := Invoke(context.Background(), newTestGuard(sleeps), Policy{Timeout: 20 * time.Millisecond, MaxRetries: 2, BaseDelay: time.Second},
		func(ctx context.Context) (string, error) {
			calls.Add(1)
			<-ctx.Done()
			return "", ctx.Err()
		})
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, int32(3), calls.Load())
}

func TestInvoke_RetryAfterOverridesBackoff(t *testing.T) {
	sleeps := &recordedSleeps{}
	calls := 0
	_, err := Invoke(context.Background(), newTestGuard(sleeps), Policy{Timeout: time.Second, MaxRetries: 1, BaseDelay: time.Second},
		func(context.Context) (string, error) {
			calls++
			if calls == 1 {
				return "", &rateLimitErr{after: 7 * time.Second}
			}
			return "ok", nil
		})
	require.NoError(t, err)
	require.Equal(t, []time.Duration{7 * time.Second}, sleeps.delays)
}

func TestInvoke_PermanentErrorIsNotRetried(t *testing.T) {
	sleeps := &recordedSleeps{}
	calls := 0
	cfgErr := errors.New("missing credential")
	_, err := Invoke(context.Background(), newTestGuard(sleeps), Policy{Timeout: time.Second, MaxRetries: 2},
		func(context.Context) (string, error) {
			calls++
			return "", Permanent(cfgErr)
		})
	require.Same(t, cfgErr, err)
	require.Equal(t, 1, calls)
	require.Empty(t, sleeps.delays)
}

func TestInvoke_ParentContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Invoke(ctx, New(), Policy{Timeout: time.Second, MaxRetries: 2},
		func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})
	require.ErrorIs(t, err, context.Canceled)
}

func TestInvoke_SleepInterruptedByContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := New(WithSleep(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))
	calls := 0
	_, err := Invoke(ctx, g, Policy{Timeout: time.Second, MaxRetries: 5},
		func(context.Context) (string, error) {
			calls++
			return "", errors.New("transient")
		})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestBackoff(t *testing.T) {
	g := New(WithJitter(func() time.Duration { return 250 * time.Millisecond }))
	base := time.Second
	plain := errors.New("x")

	require.Equal(t, 1250*time.Millisecond, g.Backoff(0, base, plain))
	require.Equal(t, 2250*time.Millisecond, g.Backoff(1, base, plain))
	require.Equal(t, 8250*time.Millisecond, g.Backoff(3, base, plain))
	require.Equal(t, 10250*time.Millisecond, g.Backoff(4, base, plain))
	require.Equal(t, 10250*time.Millisecond, g.Backoff(62, base, plain))
	require.Equal(t, 3*time.Second, g.Backoff(0, base, &rateLimitErr{after: 3 * time.Second}))
	require.Equal(t, 1250*time.Millisecond, g.Backoff(0, base, &rateLimitErr{}))
}

func TestDefaultJitterIsBounded(t *testing.T) {
	g := New()
	for i := 0; i < 100; i++ {
		d := g.Backoff(0, 0, errors.New("x"))
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.Less(t, d, time.Second)
	}
}
