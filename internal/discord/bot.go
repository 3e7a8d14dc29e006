// Package discord runs the bot on a discordgo session: it wires the router,
// the player registry and the presence monitor to gateway events and owns the
// session lifecycle.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"github.com/keshon/musicbot/internal/aliases"
	"github.com/keshon/musicbot/internal/command"
	"github.com/keshon/musicbot/internal/commands"
	"github.com/keshon/musicbot/internal/config"
	"github.com/keshon/musicbot/internal/core"
	"github.com/keshon/musicbot/internal/permissions"
	"github.com/keshon/musicbot/internal/player"
	"github.com/keshon/musicbot/internal/presence"
	"github.com/keshon/musicbot/internal/render"
	"github.com/keshon/musicbot/internal/router"
	"github.com/keshon/musicbot/internal/telemetry"
	"github.com/keshon/musicbot/pkg/keylock"
	"github.com/keshon/musicbot/pkg/retrylimit"
)

const ownerLookupAttempts = 3

const intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsDirectMessages |
	discordgo.IntentsGuildVoiceStates |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsMessageContent

// Bot is a single gateway session.
type Bot struct {
	cfg     *config.Config
	metrics *telemetry.Metrics

	s        *discordgo.Session
	gw       *Gateway
	perms    *permissions.Permissions
	out      *render.Dispatcher
	players  *player.Registry
	monitor  *presence.Monitor
	registry *command.Registry
	router   *router.Router

	// logoutDelay is the grace period between a fatal HelpfulError and
	// stopping the session.
	logoutDelay time.Duration
	lookupOwner func() (string, error)
	ownerRetry  retrylimit.RetryConfig

	ready  atomic.Bool
	opened atomic.Bool

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	known  map[string]struct{}
	signal core.Signal
	fatal  error
}

// New builds a Bot and everything it dispatches to. The session is not opened
// until Run.
func New(cfg *config.Config, metrics *telemetry.Metrics) (*Bot, error) {
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.Identify.Intents = intents
	s.StateEnabled = true

	perms, err := permissions.Load(cfg.PermissionsFile)
	if err != nil {
		return nil, err
	}
	als, err := aliases.Load(cfg.AliasesFile)
	if err != nil {
		return nil, err
	}

	b := &Bot{
		cfg:         cfg,
		metrics:     metrics,
		s:           s,
		gw:          NewGateway(s),
		perms:       perms,
		logoutDelay: 2 * time.Second,
		known:       make(map[string]struct{}),
		ctx:         context.Background(),
	}

	b.lookupOwner = b.gw.ApplicationOwner
	b.ownerRetry = retrylimit.DefaultRetryConfig()
	b.ownerRetry.MaxAttempts = ownerLookupAttempts

	locks := keylock.New()
	b.out = render.NewDispatcher(b.gw)
	b.players = player.NewRegistry(b.gw, locks, metrics)
	b.players.OnUpdate(b.onPlayerUpdate)
	b.monitor = presence.NewMonitor(presence.Options{
		AutoPause: cfg.AutoPause,
		Players:   presence.RegistryPlayers{Registry: b.players},
		Roster:    b.gw,
		Voice:     b.gw,
		Locks:     locks,
		Metrics:   metrics,
	})

	b.registry = command.NewRegistry()
	err = commands.Register(b.registry, commands.Deps{
		Config:   cfg,
		Players:  b.players,
		Voice:    b.gw,
		Gateway:  b.gw,
		Presence: b.monitor,
		Jobs:     b.out.Jobs(),
	}, commands.WithLogging())
	if err != nil {
		return nil, fmt.Errorf("register commands: %w", err)
	}

	b.router = router.New(router.Options{
		Config:      cfg,
		Registry:    b.registry,
		Aliases:     als,
		Permissions: perms,
		Players:     b.players,
		Gateway:     b.gw,
		Dispatcher:  b.out,
		Metrics:     metrics,
	})

	s.AddHandler(b.onReady)
	s.AddHandler(b.onMessageCreate)
	s.AddHandler(b.onVoiceStateUpdate)
	s.AddHandler(b.onGuildCreate)
	s.AddHandler(b.onGuildUpdate)
	s.AddHandler(b.onGuildDelete)

	log.Debug().Int("commands", b.registry.Len()).Int("aliases", als.Len()).Msg("Bot assembled")
	return b, nil
}

// Run logs in and blocks until ctx is done or a terminal signal is raised by
// a command. Players, voice connections, pending deletions and the session
// are always cleaned up before it returns. The signal is SignalNone when the
// session ended because ctx was cancelled or a fatal error occurred.
func (b *Bot) Run(ctx context.Context) (core.Signal, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.mu.Lock()
	b.ctx, b.cancel = runCtx, cancel
	b.mu.Unlock()

	defer b.cleanup()

	if err := b.login(); err != nil {
		return core.SignalNone, err
	}

	if err := b.s.Open(); err != nil {
		return core.SignalNone, fmt.Errorf("failed to open Discord session: %w", err)
	}
	b.opened.Store(true)

	if b.cfg.MetricsAddr != "" {
		go b.metrics.Serve(runCtx, b.cfg.MetricsAddr)
	}

	<-runCtx.Done()
	log.Info().Msg("❎ Session stopping, cleaning up...")

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.signal, b.fatal
}

func (b *Bot) login() error {
	_, err := b.s.User("@me")
	if err == nil {
		return nil
	}
	var re *discordgo.RESTError
	if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode == http.StatusUnauthorized {
		return core.NewHelpfulError("Bot cannot login, bad credentials.", "Fix your token in the options file.")
	}
	return fmt.Errorf("login: %w", err)
}

func (b *Bot) cleanup() {
	b.ready.Store(false)
	b.monitor.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b.players.KillAll(ctx)
	for _, guildID := range b.voiceGuilds() {
		b.gw.DisconnectVoice(guildID)
	}
	b.out.Close()

	if !b.opened.Swap(false) {
		return
	}
	if err := b.s.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close session")
	}
	log.Info().Msg("Session closed")
}

func (b *Bot) voiceGuilds() []string {
	b.s.RLock()
	defer b.s.RUnlock()
	ids := make([]string, 0, len(b.s.VoiceConnections))
	for id := range b.s.VoiceConnections {
		ids = append(ids, id)
	}
	return ids
}

func (b *Bot) context() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ctx
}

// stop records the outcome of the session and stops it. The first terminal
// signal and the first fatal error win.
func (b *Bot) stop(sig core.Signal, fatal error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.signal.Terminal() && sig.Terminal() {
		b.signal = sig
	}
	if b.fatal == nil && fatal != nil {
		b.fatal = fatal
	}
	if b.cancel != nil {
		b.cancel()
	}
}

// Outcome returns what the session has recorded so far.
func (b *Bot) Outcome() (core.Signal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.signal, b.fatal
}

func (b *Bot) onPlayerUpdate(p *player.Player, u player.Update) {
	if u.Status != player.StatusPlaying || u.Track == nil {
		return
	}
	channelID := p.TextChannel()
	if channelID == "" {
		return
	}

	ctx := b.context()
	out := render.Outbound{Content: fmt.Sprintf("Now playing in <#%s>: **%s**", p.ChannelID(), u.Track.Name())}
	if b.cfg.Embeds {
		out = render.Outbound{Embed: commands.NowPlayingEmbed(p, u.Track)}
	}

	msg, err := b.out.Send(ctx, channelID, out, 0, nil)
	if err != nil {
		log.Warn().Err(err).Str("guild", u.GuildID).Msg("Failed to send now playing message")
		return
	}
	prev := b.monitor.Store().SwapNowPlaying(u.GuildID, core.RefOf(msg))
	if prev != nil && b.cfg.DeleteMessages {
		b.out.Delete(ctx, *prev)
	}
}
