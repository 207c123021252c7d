// Package oauth keeps a cached credential warm. It performs jittered checks and
// refreshes when the remaining lifetime falls within a configured window, so
// request paths rarely pay for an exchange.
package oauth

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// Refreshable is a credential cache that can report its deadline and renew itself.
type Refreshable interface {
	ExpiresAt() time.Time
	Refresh(ctx context.Context) (string, error)
}

// refreshTimeout bounds one refresh including its retries.
const refreshTimeout = time.Minute

// StartRefresher launches a goroutine that periodically checks src and refreshes it.
// name: label used in logs.
// interval: how often to wake up and check.
// window: refresh when remaining lifetime <= window.
// An empty cache is left alone; the next request fetches lazily.
func StartRefresher(ctx context.Context, name string, src Refreshable, interval, window time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval/2) + 1))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			if refreshDue(src, window) {
				ctx2, cancel := context.WithTimeout(ctx, refreshTimeout)
				_, err := src.Refresh(ctx2)
				cancel()
				if err != nil {
					slog.Warn("token refresh failed", slog.String("provider", name), slog.Any("err", err))
				} else {
					slog.Info("token refreshed ahead of expiry", slog.String("provider", name))
				}
			}

			// Add per-iteration jitter (±20% of interval) for scheduling diversity.
			jitterRange := int64(interval / 5)
			var jitter time.Duration
			if jitterRange > 0 {
				//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
				jitter = time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			}
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
		}
	}()
}

func refreshDue(src Refreshable, window time.Duration) bool {
	exp := src.ExpiresAt()
	if exp.IsZero() {
		return false
	}
	return time.Until(exp) <= window
}
