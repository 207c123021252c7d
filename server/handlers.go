package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/onnwee/twitch-herald/clips"
	"github.com/onnwee/twitch-herald/live"
)

// ReadyChecker reports whether the notification gateway can deliver.
type ReadyChecker interface {
	Ready() bool
}

// LiveStatusProvider exposes the live monitor state.
type LiveStatusProvider interface {
	Status() live.Status
}

// ClipsStatusProvider exposes the top clips job state.
type ClipsStatusProvider interface {
	Status() clips.Status
}

// Handlers holds the components surfaced over HTTP. Live and Clips are nil
// when the feature is disabled.
type Handlers struct {
	Login     string
	Version   string
	Gateway   ReadyChecker
	Live      LiveStatusProvider
	Clips     ClipsStatusProvider
	StartedAt time.Time
}

type statusResponse struct {
	Channel string        `json:"channel"`
	Version string        `json:"version,omitempty"`
	Uptime  string        `json:"uptime"`
	Discord bool          `json:"discord_ready"`
	Live    *live.Status  `json:"live,omitempty"`
	Clips   *clips.Status `json:"clips,omitempty"`
}

// HandleStatus returns the monitor and scheduler state as JSON.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := statusResponse{
		Channel: h.Login,
		Version: h.Version,
		Uptime:  time.Since(h.StartedAt).Round(time.Second).String(),
		Discord: h.Gateway != nil && h.Gateway.Ready(),
	}
	if h.Live != nil {
		st := h.Live.Status()
		resp.Live = &st
	}
	if h.Clips != nil {
		st := h.Clips.Status()
		resp.Clips = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
