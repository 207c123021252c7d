package twitchapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"github.com/onnwee/twitch-herald/retry"
	"github.com/onnwee/twitch-herald/telemetry"
)

// DefaultTokenURL is the Twitch OAuth token endpoint.
const DefaultTokenURL = "https://id.twitch.tv/oauth2/token"

// expirySafetyMargin is subtracted from the advertised validity so a token never
// expires in the middle of a request.
const expirySafetyMargin = 5 * time.Minute

// TokenSource fetches and caches a Twitch app access (client credentials) token.
// It is safe for concurrent use; concurrent refreshes collapse into one exchange.
type TokenSource struct {
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	TokenURL     string
	Retry        retry.Policy
	Clock        clockwork.Clock

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
	group     singleflight.Group
}

func (ts *TokenSource) clock() clockwork.Clock {
	if ts.Clock != nil {
		return ts.Clock
	}
	return clockwork.NewRealClock()
}

func (ts *TokenSource) cached() (string, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	if ts.token != "" && ts.clock().Now().Before(ts.expiresAt) {
		return ts.token, true
	}
	return "", false
}

// Get returns a valid (fresh or cached) app access token.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	if tok, ok := ts.cached(); ok {
		return tok, nil
	}
	v, err, _ := ts.group.Do("token", func() (interface{}, error) {
		if tok, ok := ts.cached(); ok {
			return tok, nil
		}
		return ts.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Refresh exchanges a new token regardless of the cache. Concurrent callers
// share one exchange with Get.
func (ts *TokenSource) Refresh(ctx context.Context) (string, error) {
	v, err, _ := ts.group.Do("token", func() (interface{}, error) {
		return ts.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// ExpiresAt reports when the cached token stops being served; zero when nothing is cached.
func (ts *TokenSource) ExpiresAt() time.Time {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	if ts.token == "" {
		return time.Time{}
	}
	return ts.expiresAt
}

// Invalidate drops the cached token so the next Get performs a new exchange.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	ts.token = ""
	ts.expiresAt = time.Time{}
	ts.mu.Unlock()
	telemetry.Inc(telemetry.TokenInvalidations)
	slog.Warn("twitch app token invalidated; will refresh on next request")
}

// SetToken seeds the cache, e.g. with a token obtained out of band.
func (ts *TokenSource) SetToken(token string, expiresAt time.Time) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.token = token
	ts.expiresAt = expiresAt
}

func (ts *TokenSource) refresh(ctx context.Context) (string, error) {
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return "", &AuthError{Err: errors.New("missing client id/secret for twitch app token")}
	}
	tok, err := retry.Do(ctx, ts.Retry, ts.exchange)
	if err != nil {
		slog.Error("failed to get twitch app token", slog.Any("err", err))
		return "", &AuthError{Err: err}
	}

	validity := time.Until(tok.Expiry)
	if tok.Expiry.IsZero() {
		validity = 60 * time.Minute
	}
	ts.mu.Lock()
	ts.token = tok.AccessToken
	ts.expiresAt = ts.clock().Now().Add(cacheLifetime(validity))
	ts.mu.Unlock()

	telemetry.Inc(telemetry.TokenRefreshes)
	slog.Info("twitch app token obtained", slog.Duration("valid_for", validity))
	return tok.AccessToken, nil
}

// exchange performs one client-credentials grant.
func (ts *TokenSource) exchange(ctx context.Context) (*oauth2.Token, error) {
	tokenURL := ts.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	cc := clientcredentials.Config{
		ClientID:     ts.ClientID,
		ClientSecret: ts.ClientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if ts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, ts.HTTPClient)
	}
	tok, err := cc.Token(ctx)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return nil, &StatusError{Op: "token", Code: re.Response.StatusCode, Body: string(re.Body)}
		}
		return nil, err
	}
	return tok, nil
}

// cacheLifetime is how long a token with the given validity is served from
// cache. The safety margin never consumes more than half the validity.
func cacheLifetime(validity time.Duration) time.Duration {
	return max(validity/2, validity-expirySafetyMargin)
}
