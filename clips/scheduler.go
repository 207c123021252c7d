// Package clips runs the scheduled "top clips of the last 24 hours" job.
package clips

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/twitch-herald/telemetry"
	"github.com/onnwee/twitch-herald/twitchapi"
)

// Window is the width of the trailing range clips are taken from.
const Window = 24 * time.Hour

// Fetcher is the subset of the Helix client the job needs.
type Fetcher interface {
	GetUserID(ctx context.Context, login string) (string, error)
	GetClips(ctx context.Context, broadcasterID string, start, end time.Time, first int) ([]twitchapi.Clip, error)
}

// TokenInvalidator drops a cached credential after an auth failure.
type TokenInvalidator interface {
	Invalidate()
}

// Notifier delivers the ranked clip list.
type Notifier interface {
	SendClipsNotification(ctx context.Context, clips []twitchapi.Clip) error
}

// Options configures a Scheduler.
type Options struct {
	Login    string
	Count    int
	Schedule string
	// Timezone is an IANA zone name; empty means UTC.
	Timezone string
	// SortByViews re-sorts clips by view count before truncation instead of
	// trusting the upstream order.
	SortByViews bool
	Clock       clockwork.Clock
}

// Status is a point-in-time view of the job for the status endpoint.
type Status struct {
	Enabled    bool      `json:"enabled"`
	Schedule   string    `json:"schedule"`
	Next       time.Time `json:"next,omitempty"`
	LastRun    time.Time `json:"last_run,omitempty"`
	LastResult string    `json:"last_result,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// Scheduler owns the cron trigger and the cached broadcaster id.
type Scheduler struct {
	opts     Options
	helix    Fetcher
	tokens   TokenInvalidator
	notifier Notifier
	clock    clockwork.Clock
	logger   *slog.Logger

	cron    *cron.Cron
	entryID cron.EntryID

	mu            sync.Mutex
	broadcasterID string
	lastRun       time.Time
	lastResult    string
	lastErr       string
}

// NewScheduler builds a scheduler; call Start to arm the trigger.
func NewScheduler(opts Options, helix Fetcher, tokens TokenInvalidator, notifier Notifier) *Scheduler {
	if opts.Count <= 0 {
		opts.Count = 5
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		opts:     opts,
		helix:    helix,
		tokens:   tokens,
		notifier: notifier,
		clock:    clock,
		logger:   slog.Default().With(slog.String("component", "clips"), slog.String("channel", opts.Login)),
	}
}

// ParseSchedule validates a standard 5-field cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", expr, err)
	}
	return sched, nil
}

// ParseTimezone resolves an IANA zone name; empty means UTC.
func ParseTimezone(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}

// Start validates the schedule and timezone and arms the trigger. An invalid
// value returns an error and leaves the job disabled.
func (s *Scheduler) Start(ctx context.Context) error {
	sched, err := ParseSchedule(s.opts.Schedule)
	if err != nil {
		return err
	}
	loc, err := ParseTimezone(s.opts.Timezone)
	if err != nil {
		return err
	}
	logger := cronLogger{l: s.logger}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	// Scheduled runs are not cancelled by shutdown; Stop waits for them.
	jobCtx := context.WithoutCancel(ctx)
	s.entryID = s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(jobCtx) }))
	s.cron.Start()
	s.logger.Info("top clips job scheduled",
		slog.String("schedule", s.opts.Schedule),
		slog.String("timezone", loc.String()),
		slog.Time("next", s.cron.Entry(s.entryID).Next),
	)
	return nil
}

// Stop prevents new firings and waits for a running job to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info("top clips job stopped")
}

// fire is the error boundary around one scheduled run.
func (s *Scheduler) fire(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("top clips job panicked", slog.Any("panic", r))
		}
	}()
	if err := s.RunJob(ctx); err != nil {
		s.logger.Error("error during top clips job", slog.Any("err", err))
	}
}

// RunJob fetches the top clips of the trailing window and sends them when
// there is at least one.
func (s *Scheduler) RunJob(ctx context.Context) (err error) {
	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	ctx, span := telemetry.StartSpan(ctx, "clips", "clips.job", attribute.String("twitch.login", s.opts.Login))
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "clips"))
	start := s.clock.Now()
	result := "error"
	defer func() {
		telemetry.EndSpan(span, err)
		if telemetry.ClipsJobDuration != nil {
			telemetry.ClipsJobDuration.Observe(s.clock.Since(start).Seconds())
		}
		telemetry.IncVec(telemetry.ClipsJobRuns, result)
		s.record(start, result, err)
		if err != nil && twitchapi.IsUnauthorized(err) {
			s.tokens.Invalidate()
		}
	}()

	logger.Info("running top clips job")
	end := start
	from := end.Add(-Window)

	id, err := s.resolveBroadcaster(ctx)
	if err != nil {
		return err
	}
	clips, err := s.helix.GetClips(ctx, id, from, end, s.opts.Count)
	if err != nil {
		return fmt.Errorf("fetch clips: %w", err)
	}
	if len(clips) == 0 {
		result = "empty"
		logger.Info("no clips found for the period; skipping notification")
		return nil
	}

	if s.opts.SortByViews {
		sort.SliceStable(clips, func(i, j int) bool { return clips[i].ViewCount > clips[j].ViewCount })
	}
	if len(clips) > s.opts.Count {
		clips = clips[:s.opts.Count]
	}

	if err := s.notifier.SendClipsNotification(ctx, clips); err != nil {
		telemetry.IncVec(telemetry.NotificationsFailed, "clips")
		return fmt.Errorf("send clips notification: %w", err)
	}
	telemetry.IncVec(telemetry.NotificationsSent, "clips")
	result = "sent"
	logger.Info("top clips sent", slog.Int("count", len(clips)))
	return nil
}

// resolveBroadcaster returns the cached id, resolving it on first use.
func (s *Scheduler) resolveBroadcaster(ctx context.Context) (string, error) {
	s.mu.Lock()
	id := s.broadcasterID
	s.mu.Unlock()
	if id != "" {
		return id, nil
	}
	id, err := s.helix.GetUserID(ctx, s.opts.Login)
	if err != nil {
		return "", fmt.Errorf("resolve broadcaster: %w", err)
	}
	s.mu.Lock()
	s.broadcasterID = id
	s.mu.Unlock()
	return id, nil
}

func (s *Scheduler) record(at time.Time, result string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = at
	s.lastResult = result
	if err != nil {
		s.lastErr = err.Error()
	} else {
		s.lastErr = ""
	}
}

// Status returns a snapshot of the job state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	st := Status{
		Enabled:    s.cron != nil,
		Schedule:   s.opts.Schedule,
		LastRun:    s.lastRun,
		LastResult: s.lastResult,
		LastError:  s.lastErr,
	}
	s.mu.Unlock()
	if s.cron != nil {
		st.Next = s.cron.Entry(s.entryID).Next
	}
	return st
}

// cronLogger routes cron's logr-style logging into slog.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
