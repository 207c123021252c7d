// Package live watches a single Twitch channel and announces when it goes live.
//
// The Poller is an edge-triggered two state machine (offline, live). A
// notification is sent only on the offline to live edge; repeated live
// observations are ignored. Checks never overlap: a tick that arrives while a
// check is still running is dropped, not queued.
package live

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/twitch-herald/telemetry"
	"github.com/onnwee/twitch-herald/twitchapi"
)

// StreamFetcher returns the current live snapshot, nil when offline.
type StreamFetcher interface {
	GetStream(ctx context.Context, login string) (*twitchapi.Stream, error)
}

// TokenInvalidator drops a cached credential after an auth failure.
type TokenInvalidator interface {
	Invalidate()
}

// Notifier delivers the live announcement.
type Notifier interface {
	SendLiveNotification(ctx context.Context, stream *twitchapi.Stream) error
}

// Status is a point-in-time view of the poller for the status endpoint.
type Status struct {
	Login     string    `json:"login"`
	Live      bool      `json:"live"`
	Checking  bool      `json:"checking"`
	LastCheck time.Time `json:"last_check,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	LiveSince time.Time `json:"live_since,omitempty"`
}

// Poller owns the monitor state for one channel.
type Poller struct {
	login    string
	interval time.Duration
	streams  StreamFetcher
	tokens   TokenInvalidator
	notifier Notifier
	clock    clockwork.Clock
	logger   *slog.Logger

	inProgress atomic.Bool
	wg         sync.WaitGroup

	mu        sync.RWMutex
	live      bool
	liveSince time.Time
	lastCheck time.Time
	lastErr   string
}

// Option customizes a Poller.
type Option func(*Poller)

// WithClock sets the clock used for ticks and status timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// NewPoller builds a poller starting in the offline state.
func NewPoller(login string, interval time.Duration, streams StreamFetcher, tokens TokenInvalidator, notifier Notifier, opts ...Option) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	p := &Poller{
		login:    login,
		interval: interval,
		streams:  streams,
		tokens:   tokens,
		notifier: notifier,
		clock:    clockwork.NewRealClock(),
		logger:   slog.Default().With(slog.String("component", "live"), slog.String("channel", login)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run checks immediately, then on every tick until ctx is cancelled. Ticks fire
// on a fixed cadence regardless of how long a check takes; overlapping ticks are
// dropped by CheckOnce. Run returns after in-flight checks have finished.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("live monitor started", slog.Duration("interval", p.interval))
	// In-flight checks are not cancelled on shutdown; they run to completion.
	checkCtx := context.WithoutCancel(ctx)
	p.dispatch(checkCtx)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.Wait()
			p.logger.Info("live monitor stopped")
			return
		case <-ticker.Chan():
			p.dispatch(checkCtx)
		}
	}
}

// Wait blocks until dispatched checks have finished.
func (p *Poller) Wait() { p.wg.Wait() }

func (p *Poller) dispatch(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.CheckOnce(ctx)
	}()
}

// CheckOnce fetches the current snapshot and applies the transition rules.
// It returns immediately when another check is in progress. Errors are logged
// and never change state.
func (p *Poller) CheckOnce(ctx context.Context) {
	if !p.inProgress.CompareAndSwap(false, true) {
		telemetry.Inc(telemetry.LiveChecksSkipped)
		p.logger.Debug("check already in progress, skipping")
		return
	}
	defer p.inProgress.Store(false)

	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	ctx, span := telemetry.StartSpan(ctx, "live", "live.check", attribute.String("twitch.login", p.login))
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "live"), slog.String("channel", p.login))
	telemetry.Inc(telemetry.LiveChecks)

	var stream *twitchapi.Stream
	var err error
	telemetry.TimeFunc(telemetry.LiveCheckDuration, func() {
		stream, err = p.streams.GetStream(ctx, p.login)
	})
	telemetry.EndSpan(span, err)

	p.mu.Lock()
	p.lastCheck = p.clock.Now()
	if err != nil {
		p.lastErr = err.Error()
	} else {
		p.lastErr = ""
	}
	p.mu.Unlock()

	if err != nil {
		telemetry.Inc(telemetry.LiveCheckFailures)
		if twitchapi.IsUnauthorized(err) {
			p.tokens.Invalidate()
		}
		logger.Error("error checking stream status", slog.Any("err", err))
		return
	}
	p.apply(ctx, logger, stream)
}

func (p *Poller) apply(ctx context.Context, logger *slog.Logger, stream *twitchapi.Stream) {
	p.mu.Lock()
	wasLive := p.live
	isLive := stream != nil
	switch {
	case isLive && !wasLive:
		p.live = true
		p.liveSince = p.clock.Now()
	case !isLive && wasLive:
		p.live = false
		p.liveSince = time.Time{}
	}
	p.mu.Unlock()

	switch {
	case isLive && !wasLive:
		telemetry.IncVec(telemetry.LiveTransitions, "live")
		telemetry.SetLive(true)
		logger.Info("channel is now LIVE", slog.String("user_name", stream.UserName), slog.String("title", stream.Title))
		if err := p.notifier.SendLiveNotification(ctx, stream); err != nil {
			telemetry.IncVec(telemetry.NotificationsFailed, "live")
			logger.Error("failed to send live notification", slog.Any("err", err))
			return
		}
		telemetry.IncVec(telemetry.NotificationsSent, "live")
	case !isLive && wasLive:
		telemetry.IncVec(telemetry.LiveTransitions, "offline")
		telemetry.SetLive(false)
		logger.Info("stream has ended")
	case isLive:
		logger.Debug("still live", slog.Int("viewers", stream.ViewerCount))
	default:
		logger.Debug("offline")
	}
}

// IsLive reports the current state.
func (p *Poller) IsLive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.live
}

// Status returns a snapshot of the monitor state.
func (p *Poller) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Status{
		Login:     p.login,
		Live:      p.live,
		Checking:  p.inProgress.Load(),
		LastCheck: p.lastCheck,
		LastError: p.lastErr,
		LiveSince: p.liveSince,
	}
}
