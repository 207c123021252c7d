// Package discord posts live and top-clips announcements through a bot session.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jonboulle/clockwork"

	"github.com/onnwee/twitch-herald/twitchapi"
)

// DefaultReadyTimeout bounds how long Connect waits for the Ready event.
const DefaultReadyTimeout = 10 * time.Second

// session is the part of *discordgo.Session the gateway drives.
type session interface {
	AddHandler(handler interface{}) func()
	AddHandlerOnce(handler interface{}) func()
	Open() error
	Close() error
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Options configures a Gateway.
type Options struct {
	Token          string
	Login          string
	LiveChannelID  string
	ClipsChannelID string
	ReadyTimeout   time.Duration
	HTTPClient     *http.Client
	Clock          clockwork.Clock
}

// Gateway owns the bot session. It is safe for concurrent use.
type Gateway struct {
	sess           session
	login          string
	liveChannelID  string
	clipsChannelID string
	readyTimeout   time.Duration
	clock          clockwork.Clock
	logger         *slog.Logger

	mu        sync.RWMutex
	ready     bool
	connected bool
	botUser   string
}

// New creates a gateway backed by a discordgo session. The session is not
// opened until Connect.
func New(opts Options) (*Gateway, error) {
	s, err := discordgo.New("Bot " + opts.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds
	if opts.HTTPClient != nil {
		s.Client = opts.HTTPClient
	}
	return newGateway(s, opts), nil
}

func newGateway(s session, opts Options) *Gateway {
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	g := &Gateway{
		sess:           s,
		login:          opts.Login,
		liveChannelID:  opts.LiveChannelID,
		clipsChannelID: opts.ClipsChannelID,
		readyTimeout:   opts.ReadyTimeout,
		clock:          clock,
		logger:         slog.Default().With(slog.String("component", "discord")),
	}
	s.AddHandler(g.onDisconnect)
	s.AddHandler(g.onResumed)
	s.AddHandler(g.onReady)
	return g
}

// Connect opens the session and blocks until the gateway reports Ready, the
// ready timeout elapses, or ctx is done.
func (g *Gateway) Connect(ctx context.Context) error {
	readyCh := make(chan *discordgo.Ready, 1)
	remove := g.sess.AddHandlerOnce(func(_ *discordgo.Session, r *discordgo.Ready) {
		select {
		case readyCh <- r:
		default:
		}
	})

	if err := g.sess.Open(); err != nil {
		remove()
		return fmt.Errorf("discord: open session: %w", err)
	}

	timer := g.clock.NewTimer(g.readyTimeout)
	defer timer.Stop()

	select {
	case r := <-readyCh:
		name := ""
		if r != nil && r.User != nil {
			name = r.User.Username
		}
		g.mu.Lock()
		g.ready = true
		g.connected = true
		g.botUser = name
		g.mu.Unlock()
		g.logger.Info("discord bot connected", slog.String("user", name))
		return nil
	case <-timer.Chan():
		remove()
		_ = g.sess.Close()
		return &ReadyTimeoutError{Timeout: g.readyTimeout}
	case <-ctx.Done():
		remove()
		_ = g.sess.Close()
		return ctx.Err()
	}
}

func (g *Gateway) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	g.mu.Lock()
	g.connected = false
	g.mu.Unlock()
	g.logger.Warn("discord gateway disconnected")
}

// onReady covers reconnects that open a new session instead of resuming.
func (g *Gateway) onReady(_ *discordgo.Session, _ *discordgo.Ready) {
	g.mu.Lock()
	wasConnected := g.connected
	g.connected = true
	g.mu.Unlock()
	if !wasConnected {
		g.logger.Info("discord gateway reconnected with a new session")
	}
}

func (g *Gateway) onResumed(_ *discordgo.Session, _ *discordgo.Resumed) {
	g.mu.Lock()
	g.connected = true
	g.mu.Unlock()
	g.logger.Info("discord gateway resumed")
}

// Ready reports whether Connect completed and the gateway is currently connected.
func (g *Gateway) Ready() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.ready && g.connected
}

// Close shuts the session down.
func (g *Gateway) Close() error {
	g.mu.Lock()
	g.ready = false
	g.connected = false
	g.mu.Unlock()
	if err := g.sess.Close(); err != nil {
		return fmt.Errorf("discord: close session: %w", err)
	}
	g.logger.Info("discord session closed")
	return nil
}

// SendLiveNotification announces that the stream went live.
func (g *Gateway) SendLiveNotification(ctx context.Context, s *twitchapi.Stream) error {
	return g.send(ctx, "live", g.liveChannelID, BuildLiveMessage(g.login, s, g.clock.Now()))
}

// SendClipsNotification posts the ranked clip digest.
func (g *Gateway) SendClipsNotification(ctx context.Context, clips []twitchapi.Clip) error {
	return g.send(ctx, "clips", g.clipsChannelID, BuildClipsMessage(g.login, clips, g.clock.Now()))
}

func (g *Gateway) send(ctx context.Context, kind, channelID string, msg *discordgo.MessageSend) error {
	g.mu.RLock()
	ready := g.ready
	g.mu.RUnlock()
	if !ready {
		return &DeliveryError{Kind: kind, ChannelID: channelID, Err: ErrNotReady}
	}
	if channelID == "" {
		return &DeliveryError{Kind: kind, ChannelID: channelID, Err: fmt.Errorf("no channel configured")}
	}
	if _, err := g.sess.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx)); err != nil {
		return &DeliveryError{Kind: kind, ChannelID: channelID, Err: err}
	}
	g.logger.Info("notification sent", slog.String("kind", kind), slog.String("channel_id", channelID))
	return nil
}
