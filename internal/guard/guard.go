// Package guard bounds calls to unreliable upstreams with a per-attempt
// timeout and capped exponential backoff between attempts.
package guard

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
)

const (
	maxBackoff = 10 * time.Second
	maxJitter  = time.Second
)

// ErrTimeout is returned for an attempt that did not finish within the
// policy timeout.
var ErrTimeout = errors.New("guard: attempt timed out")

// Policy configures a single Invoke call.
type Policy struct {
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
}

// ExhaustedError is returned once the final attempt has failed. Err is the
// last attempt's error, unmodified.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("guard: giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// retryAfter is implemented by upstream errors that carry a server-chosen
// delay, e.g. rate-limit responses.
type retryAfter interface {
	RetryAfter() time.Duration
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Invoke returns it (unwrapped)
// immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Guard runs operations under a Policy. A Guard holds no per-call state and
// is safe for concurrent use.
type Guard struct {
	logger zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

type Option func(*Guard)

func WithLogger(logger zerolog.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

// WithSleep replaces the backoff sleep; tests use it to record delays.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Guard) {
		g.sleep = sleep
	}
}

func WithJitter(jitter func() time.Duration) Option {
	return func(g *Guard) {
		g.jitter = jitter
	}
}

func New(opts ...Option) *Guard {
	g := &Guard{
		logger: zerolog.Nop(),
		sleep:  sleepContext,
		jitter: func() time.Duration { return rand.N(maxJitter) },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Invoke runs op, racing each attempt against p.Timeout, and retries failed
// attempts up to p.MaxRetries times. A timed-out attempt is abandoned: its
// context is cancelled but Invoke does not wait for it to return.
func Invoke[T any](ctx context.Context, g *Guard, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		v, err := runAttempt(ctx, p.Timeout, op)
		if err == nil {
			return v, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		if attempt >= p.MaxRetries {
			g.logger.Error().Err(err).Int("attempt", attempt+1).Msg("guard: final attempt failed")
			return zero, &ExhaustedError{Attempts: attempt + 1, Err: err}
		}

		delay := g.Backoff(attempt, p.BaseDelay, err)
		g.logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_retries", p.MaxRetries).
			Dur("delay", delay).
			Msg("guard: attempt failed, retrying")
		if err := g.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}

// Backoff returns the delay before retry number attempt+1:
// min(base*2^attempt, 10s) plus up to one second of jitter, unless err
// carries a retry-after hint.
func (g *Guard) Backoff(attempt int, base time.Duration, err error) time.Duration {
	var ra retryAfter
	if errors.As(err, &ra) {
		if d := ra.RetryAfter(); d > 0 {
			return d
		}
	}
	delay := base
	for i := 0; i < attempt && delay < maxBackoff; i++ {
		delay *= 2
	}
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay + g.jitter()
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so an abandoned attempt can still deliver and exit.
	done := make(chan result, 1)
	go func() {
		v, err := op(attemptCtx)
		done <- result{v: v, err: err}
	}()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	var zero T
	select {
	case r := <-done:
		return r.v, r.err
	case <-timer:
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
