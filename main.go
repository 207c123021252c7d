// Command twitch-herald watches one Twitch channel and announces it on Discord.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects the Discord bot and waits for the gateway to become ready.
//   - Starts the live monitor (poll Helix, announce offline→live edges) and the
//     daily top clips job, each only when its channel id is configured.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/joho/godotenv"
	"github.com/onnwee/twitch-herald/clips"
	"github.com/onnwee/twitch-herald/config"
	"github.com/onnwee/twitch-herald/discord"
	"github.com/onnwee/twitch-herald/live"
	"github.com/onnwee/twitch-herald/oauth"
	"github.com/onnwee/twitch-herald/server"
	"github.com/onnwee/twitch-herald/telemetry"
	"github.com/onnwee/twitch-herald/twitchapi"
)

const version = "1.0.0"

// Replaced in tests.
var (
	initTracing    = telemetry.InitTracing
	connectGateway = func(ctx context.Context, g *discord.Gateway) error { return g.Connect(ctx) }
)

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup, including the
// tracer flush, completes before the process exits.
func run() int {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		// unknown level -> keep info but note once using temporary logger
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		return 1
	}
	if !cfg.LiveEnabled() && !cfg.ClipsEnabled() {
		slog.Warn("no feature enabled; set LIVE_NOTIFICATION_CHANNEL_ID and/or TOP_CLIPS_CHANNEL_ID")
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	tracingCfg, err := telemetry.TracingConfigFromEnv("twitch-herald", version, cfg.TwitchUsername)
	if err != nil {
		slog.Error("tracing config invalid", slog.Any("err", err))
		return 1
	}
	flushTraces, err := initTracing(tracingCfg)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		return 1
	}
	defer flushTraces()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Discord: create the session, then block until the gateway reports ready.
	gateway, err := discord.New(discord.Options{
		Token:          cfg.DiscordToken,
		Login:          cfg.TwitchUsername,
		LiveChannelID:  cfg.LiveChannelID,
		ClipsChannelID: cfg.ClipsChannelID,
		ReadyTimeout:   cfg.DiscordReadyTimeout,
	})
	if err != nil {
		slog.Error("failed to create discord session", slog.Any("err", err))
		return 1
	}
	if err := connectGateway(ctx, gateway); err != nil {
		slog.Error("failed to connect to discord", slog.Any("err", err))
		return 1
	}

	// Every outbound Twitch call shares this client; its timeout counts as a retryable network fault.
	httpClient := &http.Client{
		Timeout:   cfg.APIRequestTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	tokens := &twitchapi.TokenSource{
		ClientID:     cfg.TwitchClientID,
		ClientSecret: cfg.TwitchClientSecret,
		HTTPClient:   httpClient,
		Retry:        cfg.RetryPolicy(),
	}
	var limiter *rate.Limiter
	if cfg.HelixRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.HelixRateLimit), max(1, int(cfg.HelixRateLimit)))
	}
	helix := &twitchapi.HelixClient{
		AppTokenSource: tokens,
		ClientID:       cfg.TwitchClientID,
		HTTPClient:     httpClient,
		Retry:          cfg.RetryPolicy(),
		Limiter:        limiter,
	}

	// Best-effort: warm the app access token so bad credentials show up at startup.
	// Failures are not fatal; the next poll cycle retries the exchange.
	warmCtx, cancelWarm := context.WithTimeout(ctx, cfg.APIRequestTimeout)
	if tok, err := tokens.Get(warmCtx); err != nil {
		slog.Warn("twitch app token fetch failed", slog.Any("err", err))
	} else if len(tok) > 6 {
		masked := "***" + tok[len(tok)-6:]
		slog.Info("twitch app token acquired", slog.String("tail", masked))
	}
	cancelWarm()
	oauth.StartRefresher(ctx, "twitch", tokens, 5*time.Minute, 15*time.Minute)

	handlers := &server.Handlers{
		Login:     cfg.TwitchUsername,
		Version:   version,
		Gateway:   gateway,
		StartedAt: time.Now(),
	}

	// Live monitor
	pollerDone := make(chan struct{})
	if cfg.LiveEnabled() {
		poller := live.NewPoller(cfg.TwitchUsername, cfg.LiveCheckInterval, helix, tokens, gateway)
		handlers.Live = poller
		go func() {
			defer close(pollerDone)
			poller.Run(ctx)
		}()
	} else {
		close(pollerDone)
		slog.Info("live notifications disabled (LIVE_NOTIFICATION_CHANNEL_ID not set)")
	}

	// Top clips job
	var scheduler *clips.Scheduler
	if cfg.ClipsEnabled() {
		scheduler = clips.NewScheduler(clips.Options{
			Login:       cfg.TwitchUsername,
			Count:       cfg.ClipCount,
			Schedule:    cfg.ClipsSchedule,
			Timezone:    cfg.ClipsTimezone,
			SortByViews: cfg.ClipsSortByViews,
		}, helix, tokens, gateway)
		handlers.Clips = scheduler
		if err := scheduler.Start(ctx); err != nil {
			slog.Error("top clips job disabled", slog.Any("err", err))
		}
	} else {
		slog.Info("top clips disabled (TOP_CLIPS_CHANNEL_ID not set)")
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (health/status/metrics)
	if cfg.HTTPAddr != "" {
		go func() {
			if err := server.Start(ctx, cfg.HTTPAddr, handlers); err != nil {
				slog.Error("http server exited with error", slog.Any("err", err))
			}
		}()
	}

	slog.Info("twitch-herald running", slog.String("channel", cfg.TwitchUsername), slog.String("version", version))

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")

	if scheduler != nil {
		scheduler.Stop()
	}
	<-pollerDone
	if err := gateway.Close(); err != nil {
		slog.Error("discord close failed", slog.Any("err", err))
	}
	slog.Info("shutdown complete")
	return 0
}
