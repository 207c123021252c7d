package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"syscall"
	"testing"
	"time"
)

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) StatusCode() int { return int(e) }

// recordSleeps replaces the package sleeper for the duration of the test.
func recordSleeps(t *testing.T) *[]time.Duration {
	t.Helper()
	var got []time.Duration
	orig := sleep
	sleep = func(ctx context.Context, d time.Duration) error {
		got = append(got, d)
		return ctx.Err()
	}
	t.Cleanup(func() { sleep = orig })
	return &got
}

func TestDo_SucceedsOnThirdAttemptWithLinearDelays(t *testing.T) {
	sleeps := recordSleeps(t)
	calls := 0
	p := Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, Exponential: true}

	val, err := Do(context.Background(), p, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", statusErr(503)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if val != "ok" {
		t.Errorf("Do() = %q, want ok", val)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(*sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", *sleeps, want)
	}
	for i := range want {
		if (*sleeps)[i] != want[i] {
			t.Errorf("sleep[%d] = %v, want %v", i, (*sleeps)[i], want[i])
		}
	}
}

func TestDo_ConstantDelay(t *testing.T) {
	sleeps := recordSleeps(t)
	p := Policy{MaxAttempts: 4, BaseDelay: 50 * time.Millisecond}

	_, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
		return 0, statusErr(429)
	})
	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UpstreamError, got %T: %v", err, err)
	}
	if upErr.Attempts != 4 {
		t.Errorf("Attempts = %d, want 4", upErr.Attempts)
	}
	for i, d := range *sleeps {
		if d != 50*time.Millisecond {
			t.Errorf("sleep[%d] = %v, want 50ms", i, d)
		}
	}
	if len(*sleeps) != 3 {
		t.Errorf("expected 3 sleeps, got %d", len(*sleeps))
	}
}

func TestDo_NonRetryableFailsImmediately(t *testing.T) {
	sleeps := recordSleeps(t)
	calls := 0
	notFound := statusErr(404)

	_, err := Do(context.Background(), Policy{MaxAttempts: 3, BaseDelay: time.Second, Exponential: true}, func(ctx context.Context) (struct{}, error) {
		calls++
		return struct{}{}, notFound
	})
	if !errors.Is(err, notFound) {
		t.Fatalf("Do() error = %v, want %v", err, notFound)
	}
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		t.Errorf("fatal error should not be tagged as UpstreamError")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if len(*sleeps) != 0 {
		t.Errorf("expected no sleeps, got %v", *sleeps)
	}
}

func TestDo_ExhaustionWrapsLastError(t *testing.T) {
	recordSleeps(t)
	calls := 0
	_, err := Do(context.Background(), Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}, func(ctx context.Context) (int, error) {
		calls++
		return 0, statusErr(500 + calls)
	})
	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UpstreamError, got %T", err)
	}
	var sc StatusCoder
	if !errors.As(err, &sc) || sc.StatusCode() != 502 {
		t.Errorf("expected last error (502) to be wrapped, got %v", err)
	}
}

func TestDo_ZeroMaxAttemptsRunsOnce(t *testing.T) {
	recordSleeps(t)
	calls := 0
	_, _ = Do(context.Background(), Policy{}, func(ctx context.Context) (int, error) {
		calls++
		return 0, statusErr(500)
	})
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, Policy{MaxAttempts: 5, BaseDelay: time.Hour}, func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, statusErr(503)
	})
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if calls != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", calls)
	}
}

func TestPolicyDelay(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		attempt int
		want    time.Duration
	}{
		{"first attempt never waits", Policy{BaseDelay: time.Second, Exponential: true}, 1, 0},
		{"second attempt linear", Policy{BaseDelay: time.Second, Exponential: true}, 2, time.Second},
		{"fourth attempt linear", Policy{BaseDelay: time.Second, Exponential: true}, 4, 3 * time.Second},
		{"constant", Policy{BaseDelay: time.Second}, 4, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Delay(tt.attempt); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ErrorClassFatal},
		{"429", statusErr(429), ErrorClassRetryable},
		{"500", statusErr(500), ErrorClassRetryable},
		{"503 wrapped", fmt.Errorf("helix: %w", statusErr(503)), ErrorClassRetryable},
		{"400", statusErr(400), ErrorClassFatal},
		{"401", statusErr(401), ErrorClassFatal},
		{"404", statusErr(404), ErrorClassFatal},
		{"connection reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, ErrorClassRetryable},
		{"connection refused", &url.Error{Op: "Get", URL: "http://x", Err: &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}}, ErrorClassRetryable},
		{"host unreachable", &net.OpError{Op: "dial", Err: syscall.EHOSTUNREACH}, ErrorClassRetryable},
		{"dns", &net.DNSError{Err: "no such host", Name: "api.twitch.tv"}, ErrorClassRetryable},
		{"client timeout", &url.Error{Op: "Get", URL: "http://x", Err: timeoutErr{}}, ErrorClassRetryable},
		{"deadline", context.DeadlineExceeded, ErrorClassRetryable},
		{"malformed", errors.New("invalid character '<' looking for beginning of value"), ErrorClassFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
