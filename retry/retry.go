// Package retry runs upstream calls under a bounded attempt budget with linear
// ("exponential" in config terms) or constant backoff between attempts.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/twitch-herald/telemetry"
)

// Policy is the per call site retry configuration.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Exponential grows the delay with the attempt number (BaseDelay*(n-1)).
	// When false every retry waits BaseDelay.
	Exponential bool
}

// Operation is a single attempt of an upstream call.
type Operation[T any] func(ctx context.Context) (T, error)

// sleep is swapped in tests to observe delays without waiting.
var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Delay returns the wait before the given 1-indexed attempt. The first attempt never waits.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	if p.Exponential {
		return p.BaseDelay * time.Duration(attempt-1)
	}
	return p.BaseDelay
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Do invokes op until it succeeds, fails with a fatal error, or the policy's
// attempts are used up. Fatal errors are returned unchanged after the attempt
// that produced them; exhaustion returns an *UpstreamError wrapping the last error.
func Do[T any](ctx context.Context, p Policy, op Operation[T]) (T, error) {
	var zero T
	maxAttempts := p.attempts()
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if d := p.Delay(attempt); d > 0 {
			slog.Info("retrying upstream call", slog.Int("attempt", attempt), slog.Int("max_attempts", maxAttempts), slog.Duration("delay", d))
			if err := sleep(ctx, d); err != nil {
				return zero, &UpstreamError{Attempts: attempt - 1, Err: lastErr}
			}
		}

		val, err := op(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return zero, err
		}

		slog.Warn("upstream attempt failed", slog.Int("attempt", attempt), slog.Int("max_attempts", maxAttempts), slog.Any("err", err))
		if attempt < maxAttempts {
			telemetry.Inc(telemetry.UpstreamRetries)
		}
	}

	return zero, &UpstreamError{Attempts: maxAttempts, Err: lastErr}
}
