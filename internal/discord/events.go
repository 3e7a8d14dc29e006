package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"github.com/keshon/musicbot/internal/config"
	"github.com/keshon/musicbot/internal/core"
	"github.com/keshon/musicbot/internal/presence"
	"github.com/keshon/musicbot/pkg/retrylimit"
	"github.com/keshon/musicbot/pkg/util"
)

// guildSweepWorkers bounds concurrent owner lookups during the startup sweep.
const guildSweepWorkers = 4

// guard runs an event handler. A panic or a returned error never escapes into
// the session's event loop.
func (b *Bot) guard(event string, fn func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", event).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Event handler panicked")
		}
	}()
	b.handleEventError(event, fn(b.context()))
}

func (b *Bot) handleEventError(event string, err error) {
	if err == nil {
		return
	}

	var (
		sig     core.Signal
		helpful *core.HelpfulError
	)
	switch {
	case errors.As(err, &sig):
		if sig.Terminal() {
			log.Info().Str("event", event).Stringer("signal", sig).Msg("Stopping session")
			b.stop(sig, nil)
		}
	case errors.As(err, &helpful):
		log.Error().Str("event", event).Str("solution", helpful.Solution).Msg(helpful.Issue)
		go func() {
			<-time.After(b.logoutDelay)
			b.stop(core.SignalNone, helpful)
		}()
	case errors.Is(err, context.Canceled):
		log.Debug().Str("event", event).Msg("Event cancelled")
	default:
		log.Error().Err(err).Str("event", event).Msg("Error in event handler")
	}
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.guard("ready", func(ctx context.Context) error {
		return b.startup(ctx, r)
	})
}

func (b *Bot) startup(ctx context.Context, r *discordgo.Ready) error {
	b.resolveOwner(ctx)

	guildIDs := make([]string, 0, len(r.Guilds))
	b.mu.Lock()
	for _, g := range r.Guilds {
		b.known[g.ID] = struct{}{}
		guildIDs = append(guildIDs, g.ID)
	}
	b.mu.Unlock()

	user := &discordgo.User{}
	if r.User != nil {
		user = r.User
	}
	log.Info().
		Str("user", user.Username).
		Str("id", user.ID).
		Str("owner", b.cfg.OwnerID).
		Int("guilds", len(guildIDs)).
		Msg("✅ Connected")
	for _, id := range guildIDs {
		log.Info().Str("guild", id).Str("name", b.guildName(id)).Msg("Member of guild")
	}

	switch {
	case b.cfg.LeaveNonOwners && !b.ownerKnown():
		log.Warn().Msg("Owner unknown, not leaving any guild")
	case b.cfg.LeaveNonOwners:
		util.ForEach(ctx, guildIDs, guildSweepWorkers, func(ctx context.Context, guildID string) {
			if b.ownerPresent(guildID) {
				return
			}
			log.Info().Str("guild", guildID).Msg("Owner not found in guild, leaving")
			if err := b.gw.LeaveGuild(ctx, guildID); err != nil {
				log.Warn().Err(err).Str("guild", guildID).Msg("Failed to leave guild")
			}
		})
	}

	b.pruneBoundChannels()
	b.logOptions()

	b.monitor.SetReady(true)
	b.ready.Store(true)
	return nil
}

// resolveOwner replaces OWNER_ID=auto with the application owner. When the
// lookup keeps failing the owner stays unresolved and the bot still becomes
// ready; owner-only commands are then refused for everyone.
func (b *Bot) resolveOwner(ctx context.Context) {
	if b.ownerKnown() {
		b.perms.GrantAll(b.cfg.OwnerID)
		return
	}

	var owner string
	err := retrylimit.WithRetryConfig(ctx, func() error {
		id, err := b.lookupOwner()
		owner = id
		return err
	}, nil, b.ownerRetry)
	if err != nil {
		log.Warn().Err(err).Msg("Could not resolve the bot owner, set OWNER_ID in the options file")
		return
	}

	b.cfg.OwnerID = owner
	b.perms.GrantAll(owner)
	log.Info().Str("owner", owner).Msg("Resolved bot owner from application info")
}

func (b *Bot) ownerKnown() bool { return b.cfg.OwnerID != config.OwnerAuto }

// pruneBoundChannels drops voice channels from the bound set; commands are
// never read from them.
func (b *Bot) pruneBoundChannels() {
	for _, id := range b.cfg.BoundChannels() {
		ch, err := b.gw.Channel(id)
		if err != nil {
			log.Warn().Err(err).Str("channel", id).Msg("Bound channel not found")
			continue
		}
		if isVoiceChannel(ch) {
			b.cfg.UnbindChannel(id)
			log.Info().Str("channel", id).Str("name", ch.Name).Msg("Not binding to voice channel")
		}
	}
}

func isVoiceChannel(ch *discordgo.Channel) bool {
	return ch.Type == discordgo.ChannelTypeGuildVoice || ch.Type == discordgo.ChannelTypeGuildStageVoice
}

func (b *Bot) logOptions() {
	bound := "any"
	if b.cfg.HasBoundChannels() {
		bound = strings.Join(b.cfg.BoundChannels(), ",")
	}
	log.Info().
		Str("prefix", b.cfg.CommandPrefix).
		Str("bound_channels", bound).
		Bool("unbound_servers", b.cfg.UnboundServers).
		Bool("embeds", b.cfg.Embeds).
		Bool("delete_messages", b.cfg.DeleteMessages).
		Bool("delete_invoking", b.cfg.DeleteInvoking).
		Bool("auto_pause", b.cfg.AutoPause).
		Bool("leave_non_owners", b.cfg.LeaveNonOwners).
		Bool("use_alias", b.cfg.UseAlias).
		Bool("debug", b.cfg.DebugMode).
		Msg("Options")
}

func (b *Bot) guildName(guildID string) string {
	if g, err := b.s.State.Guild(guildID); err == nil && g.Name != "" {
		return g.Name
	}
	return guildID
}

// ownerPresent reports whether the owner is a member of the guild. Lookup
// failures other than not-found count as present.
func (b *Bot) ownerPresent(guildID string) bool {
	_, err := b.gw.Member(guildID, b.cfg.OwnerID)
	if err == nil {
		return true
	}
	return !isNotFound(err)
}

func isNotFound(err error) bool {
	var re *restError
	if errors.As(err, &re) {
		return re.StatusCode() == http.StatusNotFound
	}
	return false
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if !b.ready.Load() || m.Author == nil {
		return
	}
	b.guard("message_create", func(ctx context.Context) error {
		if sig := b.router.Handle(ctx, m.Message); sig.Terminal() {
			return sig
		}
		return nil
	})
}

func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if v.VoiceState == nil {
		return
	}
	b.guard("voice_state_update", func(ctx context.Context) error {
		ev := voiceEvent(v, b.gw.BotID())
		if !ev.Member.Bot && (v.Member == nil || v.Member.User == nil) {
			if m, err := b.gw.Member(v.GuildID, v.UserID); err == nil && m.User != nil {
				ev.Member.Bot = m.User.Bot
			}
		}
		return b.monitor.VoiceStateChanged(ctx, ev)
	})
}

// voiceEvent maps a gateway voice state update onto the monitor's event.
func voiceEvent(v *discordgo.VoiceStateUpdate, botID string) presence.VoiceEvent {
	ev := presence.VoiceEvent{
		GuildID: v.GuildID,
		Self:    v.UserID == botID,
		After:   v.ChannelID,
		Member: presence.Listener{
			UserID:   v.UserID,
			Deaf:     v.Deaf,
			SelfDeaf: v.SelfDeaf,
		},
	}
	if v.BeforeUpdate != nil {
		ev.Before = v.BeforeUpdate.ChannelID
	}
	if v.Member != nil && v.Member.User != nil {
		ev.Member.Bot = v.Member.User.Bot
	}
	if ev.Self {
		ev.Member.Bot = true
	}
	return ev
}

func (b *Bot) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	if g.Guild == nil {
		return
	}
	b.mu.Lock()
	_, known := b.known[g.ID]
	b.known[g.ID] = struct{}{}
	b.mu.Unlock()

	if !b.ready.Load() {
		return
	}
	b.guard("guild_create", func(ctx context.Context) error {
		if known {
			return b.monitor.GuildAvailable(ctx, g.ID)
		}
		return b.guildJoined(ctx, g.Guild)
	})
}

func (b *Bot) guildJoined(ctx context.Context, g *discordgo.Guild) error {
	log.Info().Str("guild", g.ID).Str("name", g.Name).Msg("Bot has been added to guild")
	if !b.cfg.LeaveNonOwners || !b.ownerKnown() || b.ownerPresent(g.ID) {
		return nil
	}

	log.Info().Str("guild", g.ID).Msg("Owner not found in new guild, leaving")
	if err := b.gw.LeaveGuild(ctx, g.ID); err != nil {
		return err
	}
	return b.gw.SendDirectMessage(ctx, b.cfg.OwnerID, fmt.Sprintf("Left `%s` due to bot owner not being found in it.", g.Name))
}

func (b *Bot) onGuildUpdate(s *discordgo.Session, g *discordgo.GuildUpdate) {
	if g.Guild == nil {
		return
	}
	log.Debug().Str("guild", g.ID).Str("name", g.Name).Msg("Guild updated")
}

func (b *Bot) onGuildDelete(s *discordgo.Session, g *discordgo.GuildDelete) {
	if g.Guild == nil || !b.ready.Load() {
		return
	}
	b.guard("guild_delete", func(ctx context.Context) error {
		if g.Unavailable {
			return b.monitor.GuildUnavailable(ctx, g.ID)
		}

		b.mu.Lock()
		delete(b.known, g.ID)
		b.mu.Unlock()

		log.Info().Str("guild", g.ID).Msg("Bot has been removed from guild")
		b.monitor.GuildRemoved(g.ID)
		return b.players.Teardown(ctx, g.ID)
	})
}
