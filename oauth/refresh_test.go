package oauth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSource struct {
	mu        sync.Mutex
	expiresAt time.Time
	err       error
	calls     atomic.Int32
}

func (f *fakeSource) ExpiresAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.expiresAt
}

func (f *fakeSource) Refresh(ctx context.Context) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	f.mu.Lock()
	f.expiresAt = time.Now().Add(time.Hour)
	f.mu.Unlock()
	return "fresh", nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestStartRefresher_RefreshesInsideWindow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &fakeSource{expiresAt: time.Now().Add(2 * time.Minute)}

	StartRefresher(ctx, "twitch", src, 20*time.Millisecond, 15*time.Minute)

	waitFor(t, func() bool { return src.calls.Load() >= 1 })
	// After the refresh the token is outside the window again.
	time.Sleep(100 * time.Millisecond)
	if got := src.calls.Load(); got != 1 {
		t.Errorf("Refresh called %d times, want 1", got)
	}
}

func TestStartRefresher_SkipsOutsideWindow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &fakeSource{expiresAt: time.Now().Add(time.Hour)}

	StartRefresher(ctx, "twitch", src, 20*time.Millisecond, 15*time.Minute)
	time.Sleep(150 * time.Millisecond)

	if got := src.calls.Load(); got != 0 {
		t.Errorf("Refresh called %d times, want 0", got)
	}
}

func TestStartRefresher_SkipsEmptyCache(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &fakeSource{}

	StartRefresher(ctx, "twitch", src, 20*time.Millisecond, 15*time.Minute)
	time.Sleep(150 * time.Millisecond)

	if got := src.calls.Load(); got != 0 {
		t.Errorf("Refresh called %d times, want 0", got)
	}
}

func TestStartRefresher_KeepsTryingAfterFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &fakeSource{expiresAt: time.Now().Add(time.Minute), err: errors.New("upstream down")}

	StartRefresher(ctx, "twitch", src, 20*time.Millisecond, 15*time.Minute)

	waitFor(t, func() bool { return src.calls.Load() >= 2 })
}

func TestStartRefresher_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &fakeSource{expiresAt: time.Now().Add(time.Minute), err: errors.New("upstream down")}

	StartRefresher(ctx, "twitch", src, 20*time.Millisecond, 15*time.Minute)
	waitFor(t, func() bool { return src.calls.Load() >= 1 })
	cancel()
	time.Sleep(50 * time.Millisecond)
	after := src.calls.Load()
	time.Sleep(100 * time.Millisecond)

	if got := src.calls.Load(); got != after {
		t.Errorf("Refresh called after cancel: %d -> %d", after, got)
	}
}
