package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/twitch-herald/clips"
	"github.com/onnwee/twitch-herald/live"
)

type fakeGateway struct{ ready bool }

func (f fakeGateway) Ready() bool { return f.ready }

type fakeLive struct{ st live.Status }

func (f fakeLive) Status() live.Status { return f.st }

type fakeClips struct{ st clips.Status }

func (f fakeClips) Status() clips.Status { return f.st }

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(NewMux(&Handlers{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get("X-Correlation-ID") == "" {
		t.Error("missing X-Correlation-ID header")
	}
}

func TestCorrelationHeaderIsReused(t *testing.T) {
	h := NewMux(&Handlers{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Correlation-ID"); got != "abc-123" {
		t.Errorf("X-Correlation-ID = %q, want abc-123", got)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name       string
		h          *Handlers
		wantStatus int
		wantCheck  string
	}{
		{"not connected", &Handlers{Gateway: fakeGateway{ready: false}, Live: fakeLive{}}, http.StatusServiceUnavailable, "discord"},
		{"no gateway", &Handlers{Live: fakeLive{}}, http.StatusServiceUnavailable, "discord"},
		{"no features", &Handlers{Gateway: fakeGateway{ready: true}}, http.StatusServiceUnavailable, "features"},
		{"ready", &Handlers{Gateway: fakeGateway{ready: true}, Clips: fakeClips{}}, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewMux(tt.h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body["failed_check"] != tt.wantCheck {
				t.Errorf("failed_check = %q, want %q", body["failed_check"], tt.wantCheck)
			}
		})
	}
}

func TestStatusReflectsPollerState(t *testing.T) {
	since := time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)
	h := &Handlers{
		Login:     "streamer",
		Gateway:   fakeGateway{ready: true},
		Live:      fakeLive{st: live.Status{Login: "streamer", Live: true, LiveSince: since}},
		StartedAt: time.Now(),
	}
	rec := httptest.NewRecorder()
	NewMux(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Channel string       `json:"channel"`
		Discord bool         `json:"discord_ready"`
		Live    *live.Status `json:"live"`
		Clips   *clips.Status
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Channel != "streamer" || !body.Discord {
		t.Errorf("body = %+v", body)
	}
	if body.Live == nil || !body.Live.Live || !body.Live.LiveSince.Equal(since) {
		t.Errorf("live = %+v", body.Live)
	}
	if body.Clips != nil {
		t.Errorf("clips = %+v, want omitted when disabled", body.Clips)
	}
}

func TestStatusRejectsPost(t *testing.T) {
	rec := httptest.NewRecorder()
	NewMux(&Handlers{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", strings.NewReader("")))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	NewMux(&Handlers{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("metrics output missing go runtime collector")
	}
}
