// Package config loads environment variables and provides a typed Config used across the service.
// Optional features are enabled by setting their channel id; required credentials are
// checked by Validate, which reports every problem at once.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/twitch-herald/retry"
)

// Defaults applied when a variable is unset.
const (
	DefaultMaxRetries     = 3
	DefaultRetryDelay     = 2000 * time.Millisecond
	DefaultRequestTimeout = 10000 * time.Millisecond
	DefaultCheckInterval  = 60000 * time.Millisecond
	DefaultClipsSchedule  = "0 20 * * *"
	DefaultClipsTimezone  = "Europe/Paris"
	DefaultClipCount      = 5
	DefaultReadyTimeout   = 10000 * time.Millisecond
	DefaultHelixRateLimit = 10
	DefaultHTTPAddr       = ":8080"
)

// clipsKeys are validated only when TOP_CLIPS_CHANNEL_ID is set.
var clipsKeys = []string{"TOP_CLIP_COUNT", "TOP_CLIPS_SORT_BY_VIEWS"}

type Config struct {
	// Discord
	DiscordToken        string
	DiscordReadyTimeout time.Duration

	// Twitch
	TwitchClientID     string
	TwitchClientSecret string
	TwitchUsername     string

	// Upstream calls
	APIMaxRetries     int
	APIRetryDelay     time.Duration
	APIRequestTimeout time.Duration
	HelixRateLimit    float64

	// Live notifications
	LiveChannelID     string
	LiveCheckInterval time.Duration

	// Top clips
	ClipsChannelID   string
	ClipsSchedule    string
	// ClipsTimezone is resolved by the scheduler; an unknown zone disables
	// the clips job only.
	ClipsTimezone    string
	ClipCount        int
	ClipsSortByViews bool

	// Health and metrics listener; empty disables it.
	HTTPAddr string

	invalid map[string]string
}

// ConfigError lists every missing or malformed variable.
type ConfigError struct {
	Missing []string
	Invalid map[string]string
}

func (e *ConfigError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required env: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		keys := make([]string, 0, len(e.Invalid))
		for k := range e.Invalid {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		bad := make([]string, 0, len(keys))
		for _, k := range keys {
			bad = append(bad, fmt.Sprintf("%s (%s)", k, e.Invalid[k]))
		}
		parts = append(parts, "invalid env: "+strings.Join(bad, ", "))
	}
	return "config: " + strings.Join(parts, "; ")
}

// Load reads environment variables, applies defaults and validates the result.
// The returned Config is usable for logging even when err is non-nil.
func Load() (*Config, error) {
	cfg := &Config{invalid: make(map[string]string)}

	cfg.DiscordToken = os.Getenv("DISCORD_TOKEN")
	cfg.DiscordReadyTimeout = cfg.millis("DISCORD_READY_TIMEOUT", DefaultReadyTimeout)

	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")
	cfg.TwitchUsername = strings.ToLower(strings.TrimSpace(os.Getenv("TWITCH_USERNAME")))

	cfg.APIMaxRetries = cfg.positiveInt("API_MAX_RETRIES", DefaultMaxRetries)
	cfg.APIRetryDelay = cfg.millis("API_RETRY_DELAY", DefaultRetryDelay)
	cfg.APIRequestTimeout = cfg.millis("API_REQUEST_TIMEOUT", DefaultRequestTimeout)

	cfg.HelixRateLimit = DefaultHelixRateLimit
	if v := os.Getenv("HELIX_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			cfg.invalid["HELIX_RATE_LIMIT"] = "must be a non-negative number"
		} else {
			cfg.HelixRateLimit = f
		}
	}

	// Live
	cfg.LiveChannelID = os.Getenv("LIVE_NOTIFICATION_CHANNEL_ID")
	cfg.LiveCheckInterval = cfg.millis("LIVE_NOTIFICATION_CHECK_INTERVAL", DefaultCheckInterval)

	// Clips
	cfg.ClipsChannelID = os.Getenv("TOP_CLIPS_CHANNEL_ID")
	cfg.ClipsSchedule = os.Getenv("TOP_CLIPS_SCHEDULE")
	if cfg.ClipsSchedule == "" {
		cfg.ClipsSchedule = DefaultClipsSchedule
	}
	cfg.ClipsTimezone = os.Getenv("TOP_CLIPS_TIMEZONE")
	if cfg.ClipsTimezone == "" {
		cfg.ClipsTimezone = DefaultClipsTimezone
	}
	cfg.ClipCount = cfg.positiveInt("TOP_CLIP_COUNT", DefaultClipCount)
	if cfg.ClipCount > 100 {
		cfg.invalid["TOP_CLIP_COUNT"] = "must be at most 100"
	}
	if v := os.Getenv("TOP_CLIPS_SORT_BY_VIEWS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			cfg.invalid["TOP_CLIPS_SORT_BY_VIEWS"] = "must be a boolean"
		}
		cfg.ClipsSortByViews = b
	}
	if !cfg.ClipsEnabled() {
		// Clips keys only matter when the job runs.
		for _, k := range clipsKeys {
			delete(cfg.invalid, k)
		}
	}

	// HTTP
	cfg.HTTPAddr = DefaultHTTPAddr
	if v, ok := os.LookupEnv("HTTP_ADDR"); ok {
		cfg.HTTPAddr = strings.TrimSpace(v)
		if strings.EqualFold(cfg.HTTPAddr, "off") {
			cfg.HTTPAddr = ""
		}
	}

	return cfg, cfg.Validate()
}

// Validate checks required credentials and values rejected during Load.
func (c *Config) Validate() error {
	var missing []string
	for _, kv := range []struct{ key, val string }{
		{"DISCORD_TOKEN", c.DiscordToken},
		{"TWITCH_CLIENT_ID", c.TwitchClientID},
		{"TWITCH_CLIENT_SECRET", c.TwitchClientSecret},
		{"TWITCH_USERNAME", c.TwitchUsername},
	} {
		if kv.val == "" {
			missing = append(missing, kv.key)
		}
	}
	if len(missing) == 0 && len(c.invalid) == 0 {
		return nil
	}
	return &ConfigError{Missing: missing, Invalid: c.invalid}
}

// LiveEnabled reports whether live notifications are configured.
func (c *Config) LiveEnabled() bool { return c.LiveChannelID != "" }

// ClipsEnabled reports whether the top clips job is configured.
func (c *Config) ClipsEnabled() bool { return c.ClipsChannelID != "" }

// RetryPolicy is the policy applied to every upstream call.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: c.APIMaxRetries, BaseDelay: c.APIRetryDelay, Exponential: true}
}

// millis parses a millisecond count.
func (c *Config) millis(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		c.invalid[key] = "must be a positive number of milliseconds"
		return def
	}
	return time.Duration(n) * time.Millisecond
}

func (c *Config) positiveInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		c.invalid[key] = "must be a positive integer"
		return def
	}
	return n
}
