// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	LiveChecks          prometheus.Counter
	LiveChecksSkipped   prometheus.Counter
	LiveCheckFailures   prometheus.Counter
	LiveTransitions     *prometheus.CounterVec // label: to=live|offline
	NotificationsSent   *prometheus.CounterVec // label: kind=live|clips
	NotificationsFailed *prometheus.CounterVec // label: kind=live|clips
	ClipsJobRuns        *prometheus.CounterVec // label: result=sent|empty|error
	UpstreamRetries     prometheus.Counter
	TokenRefreshes      prometheus.Counter
	TokenInvalidations  prometheus.Counter

	// Histograms (seconds)
	LiveCheckDuration prometheus.Observer
	ClipsJobDuration  prometheus.Observer

	// Gauges
	LiveGauge prometheus.Gauge // 1=live,0=offline
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		LiveChecks = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_live_checks_total", Help: "Number of live status checks executed"})
		LiveChecksSkipped = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_live_checks_skipped_total", Help: "Number of live status checks dropped because one was already running"})
		LiveCheckFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_live_check_failures_total", Help: "Number of live status checks that failed to fetch a snapshot"})
		LiveTransitions = promauto.NewCounterVec(prometheus.CounterOpts{Name: "herald_live_transitions_total", Help: "Number of observed live state transitions"}, []string{"to"})
		NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{Name: "herald_notifications_sent_total", Help: "Number of notifications delivered"}, []string{"kind"})
		NotificationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{Name: "herald_notifications_failed_total", Help: "Number of notifications that failed delivery"}, []string{"kind"})
		ClipsJobRuns = promauto.NewCounterVec(prometheus.CounterOpts{Name: "herald_clips_job_runs_total", Help: "Number of top clips job runs by outcome"}, []string{"result"})
		UpstreamRetries = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_upstream_retries_total", Help: "Number of retried upstream attempts"})
		TokenRefreshes = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_token_refreshes_total", Help: "Number of app access token exchanges"})
		TokenInvalidations = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_token_invalidations_total", Help: "Number of forced app access token invalidations"})
		LiveCheckDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "herald_live_check_duration_seconds", Help: "Live status check duration seconds", Buckets: prometheus.DefBuckets})
		ClipsJobDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "herald_clips_job_duration_seconds", Help: "Top clips job duration seconds", Buckets: prometheus.DefBuckets})
		LiveGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "herald_channel_live", Help: "Monitored channel live=1 offline=0"})
	})
}

// SetLive records the current live state.
func SetLive(live bool) {
	if LiveGauge == nil {
		return
	}
	if live {
		LiveGauge.Set(1)
	} else {
		LiveGauge.Set(0)
	}
}

// IncVec increments a labelled counter if metrics were initialized.
func IncVec(vec *prometheus.CounterVec, label string) {
	if vec != nil {
		vec.WithLabelValues(label).Inc()
	}
}

// Inc increments a counter if metrics were initialized.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
