// Package twitchapi contains minimal helpers to interact with the Twitch Helix API
// (live status, user id resolution, top clips) using an app access token.
package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/onnwee/twitch-herald/retry"
	"github.com/onnwee/twitch-herald/telemetry"
)

// DefaultHelixURL is the Helix API root.
const DefaultHelixURL = "https://api.twitch.tv/helix"

// maxClipsPerPage is the Helix upper bound for the first parameter.
const maxClipsPerPage = 100

// HelixClient provides the Helix calls needed for live and clips notifications.
// Each call fetches a token once, then retries the request itself under Retry.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
	BaseURL        string
	Retry          retry.Policy
	// Limiter paces outgoing requests; nil means unlimited.
	Limiter *rate.Limiter
}

// Stream is a live stream snapshot as returned by /helix/streams.
type Stream struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	UserLogin    string    `json:"user_login"`
	UserName     string    `json:"user_name"`
	GameName     string    `json:"game_name"`
	Title        string    `json:"title"`
	ViewerCount  int       `json:"viewer_count"`
	StartedAt    time.Time `json:"started_at"`
	ThumbnailURL string    `json:"thumbnail_url"`
}

// Clip is an entry of /helix/clips.
type Clip struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	CreatorName  string    `json:"creator_name"`
	ViewCount    int       `json:"view_count"`
	ThumbnailURL string    `json:"thumbnail_url"`
	CreatedAt    time.Time `json:"created_at"`
}

type dataEnvelope[T any] struct {
	Data []T `json:"data"`
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) baseURL() string {
	if hc.BaseURL != "" {
		return strings.TrimRight(hc.BaseURL, "/")
	}
	return DefaultHelixURL
}

// GetStream returns the live stream of login, or nil when the channel is offline.
func (hc *HelixClient) GetStream(ctx context.Context, login string) (_ *Stream, err error) {
	if login == "" {
		return nil, fmt.Errorf("login empty")
	}
	ctx, span := telemetry.StartSpan(ctx, "twitchapi", "helix.GetStream", attribute.String("twitch.login", login))
	defer func() { telemetry.EndSpan(span, err) }()

	q := url.Values{}
	q.Set("user_login", login)
	body, err := getData[Stream](ctx, hc, "streams", q)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}
	return &body[0], nil
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (_ string, err error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	ctx, span := telemetry.StartSpan(ctx, "twitchapi", "helix.GetUserID", attribute.String("twitch.login", login))
	defer func() { telemetry.EndSpan(span, err) }()

	q := url.Values{}
	q.Set("login", login)
	users, err := getData[struct {
		ID string `json:"id"`
	}](ctx, hc, "users", q)
	if err != nil {
		return "", err
	}
	if len(users) == 0 {
		return "", &NotFoundError{Login: login}
	}
	return users[0].ID, nil
}

// GetClips lists up to first clips of a broadcaster created within [start, end].
func (hc *HelixClient) GetClips(ctx context.Context, broadcasterID string, start, end time.Time, first int) (_ []Clip, err error) {
	if broadcasterID == "" {
		return nil, fmt.Errorf("broadcasterID empty")
	}
	if first <= 0 {
		first = 20
	}
	if first > maxClipsPerPage {
		first = maxClipsPerPage
	}
	ctx, span := telemetry.StartSpan(ctx, "twitchapi", "helix.GetClips",
		attribute.String("twitch.broadcaster_id", broadcasterID),
		attribute.Int("twitch.first", first),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	q.Set("started_at", start.UTC().Format(time.RFC3339))
	q.Set("ended_at", end.UTC().Format(time.RFC3339))
	q.Set("first", strconv.Itoa(first))
	return getData[Clip](ctx, hc, "clips", q)
}

// getData performs an authenticated GET on a Helix resource and decodes its data array.
func getData[T any](ctx context.Context, hc *HelixClient, resource string, q url.Values) ([]T, error) {
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return nil, err
	}
	endpoint := hc.baseURL() + "/" + resource + "?" + q.Encode()

	return retry.Do(ctx, hc.Retry, func(ctx context.Context) ([]T, error) {
		if hc.Limiter != nil {
			if err := hc.Limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Client-Id", hc.ClientID)
		req.Header.Set("Authorization", "Bearer "+tok)
		resp, err := hc.http().Do(req)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := resp.Body.Close(); err != nil {
				slog.Warn("failed to close response body", slog.Any("err", err))
			}
		}()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return nil, &StatusError{Op: resource, Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
		}
		var body dataEnvelope[T]
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("decode helix %s: %w", resource, err)
		}
		return body.Data, nil
	})
}
