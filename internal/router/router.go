// Package router is the command dispatch pipeline: it turns an inbound chat
// message into at most one handler call and renders the outcome.
package router

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"runtime/debug"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/keshon/musicbot/internal/aliases"
	"github.com/keshon/musicbot/internal/command"
	"github.com/keshon/musicbot/internal/config"
	"github.com/keshon/musicbot/internal/core"
	"github.com/keshon/musicbot/internal/permissions"
	"github.com/keshon/musicbot/internal/player"
	"github.com/keshon/musicbot/internal/render"
	"github.com/keshon/musicbot/internal/telemetry"
)

// JoinServerCommand is the only command accepted in private channels, and
// only from the owner.
const JoinServerCommand = "joinserver"

const (
	privateRefusal = "You cannot use this bot in private messages."
	usageExpire    = 60 * time.Second
	denyExpire     = 20 * time.Second
	voiceExpire    = 30 * time.Second
)

var channelMention = regexp.MustCompile(`<#(\d+)>`)

// Players is the player lookup used for context injection.
type Players interface {
	GetOrCreate(ctx context.Context, guildID, channelID string) (*player.Player, error)
	Get(guildID string) *player.Player
}

// Options wires a Router.
type Options struct {
	Config      *config.Config
	Registry    *command.Registry
	Aliases     aliases.Resolver
	Permissions permissions.Evaluator
	Players     Players
	Gateway     core.Gateway
	Dispatcher  *render.Dispatcher
	Metrics     *telemetry.Metrics
}

// Router dispatches messages. It is safe for concurrent use.
type Router struct {
	cfg     *config.Config
	reg     *command.Registry
	aliases aliases.Resolver
	perms   permissions.Evaluator
	players Players
	gw      core.Gateway
	out     *render.Dispatcher
	metrics *telemetry.Metrics
}

func New(opts Options) *Router {
	return &Router{
		cfg:     opts.Config,
		reg:     opts.Registry,
		aliases: opts.Aliases,
		perms:   opts.Permissions,
		players: opts.Players,
		gw:      opts.Gateway,
		out:     opts.Dispatcher,
		metrics: opts.Metrics,
	}
}

// Tokenize splits a message into the command name and its arguments. The
// argument tokens are re-joined and split again, collapsing repeated
// whitespace.
func Tokenize(content, prefix string) (string, []string) {
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return "", nil
	}
	name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(fields[0], prefix)))
	args := strings.Fields(strings.Join(fields[1:], " "))
	return name, args
}

func eligibleChannel(ch *discordgo.Channel) bool {
	switch ch.Type {
	case discordgo.ChannelTypeGuildText,
		discordgo.ChannelTypeGuildNews,
		discordgo.ChannelTypeGuildVoice,
		discordgo.ChannelTypeGuildStageVoice,
		discordgo.ChannelTypeGuildNewsThread,
		discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread,
		discordgo.ChannelTypeDM,
		discordgo.ChannelTypeGroupDM:
		return true
	}
	return false
}

func isPrivate(ch *discordgo.Channel) bool {
	return ch.Type == discordgo.ChannelTypeDM || ch.Type == discordgo.ChannelTypeGroupDM
}

// lookup resolves name through the registry, then through aliases.
func (r *Router) lookup(name string) *command.Descriptor {
	if d := r.reg.Get(name); d != nil {
		return d
	}
	if !r.cfg.UseAlias || r.aliases == nil {
		return nil
	}
	if canonical := r.aliases.Get(name); canonical != "" {
		return r.reg.Get(canonical)
	}
	return nil
}

// Handle runs the pipeline for one message. The returned signal is
// core.SignalNone unless a handler asked the session to stop.
func (r *Router) Handle(ctx context.Context, m *discordgo.Message) core.Signal {
	if m == nil || m.Author == nil {
		return core.SignalNone
	}
	content := strings.TrimSpace(m.Content)
	if !strings.HasPrefix(content, r.cfg.CommandPrefix) {
		return core.SignalNone
	}

	if m.Author.ID == r.gw.BotID() {
		log.Warn().Str("content", m.Content).Msg("Ignoring command from myself")
		return core.SignalNone
	}
	if m.Author.Bot && !r.cfg.IsBotException(m.Author.ID) {
		log.Warn().Str("content", m.Content).Msg("Ignoring command from other bot")
		return core.SignalNone
	}

	ch, err := r.gw.Channel(m.ChannelID)
	if err != nil {
		log.Debug().Err(err).Str("channel", m.ChannelID).Msg("Unknown channel")
		return core.SignalNone
	}
	if !eligibleChannel(ch) {
		return core.SignalNone
	}

	name, args := Tokenize(content, r.cfg.CommandPrefix)
	d := r.lookup(name)
	if d == nil {
		return core.SignalNone
	}
	name = d.Name

	private := isPrivate(ch)
	if private && !(r.cfg.IsOwner(m.Author.ID) && name == JoinServerCommand) {
		_, _ = r.out.Send(ctx, ch.ID, render.Outbound{Content: privateRefusal}, 0, nil)
		r.metrics.ObserveCommand(name, telemetry.OutcomeNotAllowed)
		return core.SignalNone
	}

	if !private && r.cfg.HasBoundChannels() && !r.cfg.IsBound(ch.ID) {
		if !r.cfg.UnboundServers {
			return core.SignalNone
		}
		for _, id := range r.gw.GuildChannelIDs(m.GuildID) {
			if r.cfg.IsBound(id) {
				return core.SignalNone
			}
		}
	}

	if r.cfg.IsBlacklisted(m.Author.ID) && !r.cfg.IsOwner(m.Author.ID) {
		log.Warn().Str("user", m.Author.ID).Str("username", m.Author.Username).Str("command", name).Msg("User blacklisted")
		r.metrics.ObserveCommand(name, telemetry.OutcomeBlacklist)
		return core.SignalNone
	}

	inv := command.NewInvocation(d, uuid.NewString(), r.cfg.CommandPrefix)
	logger := log.With().
		Str("invocation", inv.ID).
		Str("command", name).
		Str("user", m.Author.ID).
		Str("guild", m.GuildID).
		Str("channel", ch.ID).
		Logger()
	ctx = logger.WithContext(ctx)
	logger.Info().Msgf("%s/%s: %s", m.Author.ID, m.Author.Username, strings.ReplaceAll(content, "\n", "\n... "))

	start := time.Now()
	res := r.dispatch(ctx, m, ch, d, inv, args)
	r.metrics.ObserveDuration(name, time.Since(start))
	r.metrics.ObserveCommand(name, res.outcome)

	if !res.sent && !res.responded && r.cfg.DeleteInvoking {
		r.out.DeleteAfter(core.MessageRef{ChannelID: m.ChannelID, MessageID: m.ID}, r.cfg.InvokingDeleteDelay)
	}
	return res.signal
}

type result struct {
	outcome   string
	sent      bool
	responded bool
	signal    core.Signal
}

func (r *Router) dispatch(ctx context.Context, m *discordgo.Message, ch *discordgo.Channel, d *command.Descriptor, inv *command.Invocation, args []string) (res result) {
	logger := zerolog.Ctx(ctx)
	member := m.Member
	if member == nil && m.GuildID != "" {
		member, _ = r.gw.Member(m.GuildID, m.Author.ID)
	}
	perms := r.perms.ForUser(m.Author, member)

	resp, err := r.run(ctx, m, ch, d, inv, args, perms)
	if err == nil {
		if resp == nil {
			res.outcome = telemetry.OutcomeOK
			return res
		}
		if resp.usage {
			res.outcome = telemetry.OutcomeUsage
			return res
		}
		res.responded = true
		res.outcome = telemetry.OutcomeOK
		out := render.Render(resp.Response, d.Name, m.Author.Mention(), r.cfg.Embeds)
		sent, _ := r.out.Send(ctx, ch.ID, out, r.expire(resp.DeleteAfter), r.alsoDelete(m))
		res.sent = sent != nil
		return res
	}

	var sig core.Signal
	if errors.As(err, &sig) {
		logger.Info().Str("signal", sig.String()).Msg("Command raised process signal")
		res.outcome = telemetry.OutcomeSignal
		res.signal = sig
		return res
	}

	var uf core.UserFacing
	if errors.As(err, &uf) {
		logger.Error().Err(err).Str("type", fmt.Sprintf("%T", uf)).Msgf("Error in %s", d.Name)
		res.outcome = telemetry.OutcomeUserError
		var perr *core.PermissionsError
		if errors.As(err, &perr) {
			res.outcome = telemetry.OutcomeDenied
		}
		_, _ = r.out.Send(ctx, ch.ID, render.RenderError(uf.UserMessage(), r.cfg.Embeds), r.expire(uf.ExpireIn()), r.alsoDelete(m))
		return res
	}

	logger.Error().Err(err).Msg("Exception in message handler")
	res.outcome = telemetry.OutcomeFailure
	if r.cfg.DebugMode {
		_, _ = r.out.Send(ctx, ch.ID, render.Outbound{Content: render.CodeBlock(err.Error())}, 0, nil)
	}
	return res
}

func (r *Router) expire(d time.Duration) time.Duration {
	if !r.cfg.DeleteMessages {
		return 0
	}
	return d
}

func (r *Router) alsoDelete(m *discordgo.Message) *core.MessageRef {
	if !r.cfg.DeleteInvoking {
		return nil
	}
	return core.RefOf(m)
}

type runResult struct {
	*core.Response
	usage bool
}

// run covers the stages that may fail with a user-facing error: voice
// requirement, binding, authorization, usage and the handler itself.
func (r *Router) run(ctx context.Context, m *discordgo.Message, ch *discordgo.Channel, d *command.Descriptor, inv *command.Invocation, args []string, perms *permissions.Set) (*runResult, error) {
	if perms.RequiresVoice(d.Name) {
		if err := r.checkVoice(m, perms); err != nil {
			return nil, err
		}
	}

	b, err := command.Bind(d, inv, args, r.resolver(ctx, m, ch, perms, args))
	if err != nil {
		return nil, err
	}

	if !r.cfg.IsOwner(m.Author.ID) {
		if perms.HasWhitelist() && !perms.Whitelisted(d.Name) {
			return nil, core.NewPermissionsError(
				fmt.Sprintf("This command is not enabled for your group (%s).", perms.Name()), perms.Name(), denyExpire)
		}
		if perms.Blacklisted(d.Name) {
			return nil, core.NewPermissionsError(
				fmt.Sprintf("This command is disabled for your group (%s).", perms.Name()), perms.Name(), denyExpire)
		}
		if d.OwnerOnly {
			return nil, core.NewPermissionsError("Only the owner can use this command.", perms.Name(), denyExpire)
		}
	}
	if d.DevOnly && !r.cfg.IsDev(m.Author.ID) {
		return nil, core.NewPermissionsError("Only dev users can use this command.", perms.Name(), denyExpire)
	}

	if len(b.Missing) > 0 {
		docs := command.UsageText(d, r.cfg.CommandPrefix, b.Expected)
		_, _ = r.out.Send(ctx, ch.ID, render.Outbound{Content: render.CodeBlock(docs)}, usageExpire, nil)
		return &runResult{usage: true}, nil
	}

	resp, err := r.invoke(ctx, d, inv)
	if err != nil {
		return nil, err
	}
	if resp.Empty() {
		return nil, nil
	}
	return &runResult{Response: resp}, nil
}

// invoke calls the handler, turning a panic into an error.
func (r *Router) invoke(ctx context.Context, d *command.Descriptor, inv *command.Invocation) (resp *core.Response, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			zerolog.Ctx(ctx).Error().Interface("panic", rec).Bytes("stack", debug.Stack()).Msg("Handler panicked")
			err = fmt.Errorf("panic in %s: %v", d.Name, rec)
		}
	}()
	return d.Handler(ctx, inv)
}

func (r *Router) checkVoice(m *discordgo.Message, perms *permissions.Set) error {
	if m.GuildID == "" {
		return nil
	}
	userVC := r.gw.UserVoiceChannel(m.GuildID, m.Author.ID)
	if userVC == "" {
		return core.NewPermissionsError("You cannot use this command when not in a voice channel.", perms.Name(), voiceExpire)
	}
	if p := r.players.Get(m.GuildID); p != nil {
		if botVC := p.ChannelID(); botVC != "" && botVC != userVC {
			name := botVC
			if ch, err := r.gw.Channel(botVC); err == nil && ch.Name != "" {
				name = ch.Name
			}
			return core.NewPermissionsError(
				fmt.Sprintf("You cannot use this command when not in the voice channel (%s).", name), perms.Name(), voiceExpire)
		}
	}
	return nil
}

// resolver supplies context-injected parameters.
func (r *Router) resolver(ctx context.Context, m *discordgo.Message, ch *discordgo.Channel, perms *permissions.Set, args []string) command.Resolver {
	return func(key command.ContextKey) (any, error) {
		switch key {
		case command.CtxMessage:
			return m, nil
		case command.CtxChannel:
			return ch, nil
		case command.CtxAuthor:
			return m.Author, nil
		case command.CtxGuild:
			return m.GuildID, nil
		case command.CtxPlayer:
			return r.player(ctx, m)
		case command.CtxRawPlayer:
			if m.GuildID == "" {
				return (*player.Player)(nil), nil
			}
			return r.players.Get(m.GuildID), nil
		case command.CtxPermissions:
			return perms, nil
		case command.CtxUserMentions:
			return r.userMentions(m), nil
		case command.CtxChannelMentions:
			return r.channelMentions(m), nil
		case command.CtxVoiceChannel:
			if m.GuildID == "" {
				return "", nil
			}
			return r.gw.UserVoiceChannel(m.GuildID, m.Author.ID), nil
		case command.CtxLeftoverArgs:
			return append([]string(nil), args...), nil
		}
		return nil, fmt.Errorf("unknown context parameter %q", key)
	}
}

func (r *Router) player(ctx context.Context, m *discordgo.Message) (*player.Player, error) {
	if m.GuildID == "" {
		return nil, core.Errorf("This command is not available in private messages.")
	}
	if p := r.players.Get(m.GuildID); p != nil {
		return p, nil
	}
	vc := r.gw.UserVoiceChannel(m.GuildID, m.Author.ID)
	if vc == "" {
		return nil, core.Errorf("The bot is not in a voice channel. Use %ssummon to summon it to your voice channel.", r.cfg.CommandPrefix)
	}
	p, err := r.players.GetOrCreate(ctx, m.GuildID, vc)
	if err != nil {
		return nil, core.NewCommandError(fmt.Sprintf("Could not join your voice channel: %v", err), 30*time.Second)
	}
	return p, nil
}

func (r *Router) userMentions(m *discordgo.Message) []*discordgo.Member {
	out := make([]*discordgo.Member, 0, len(m.Mentions))
	if m.GuildID == "" {
		return out
	}
	for _, u := range m.Mentions {
		mem, err := r.gw.Member(m.GuildID, u.ID)
		if err != nil || mem == nil {
			continue
		}
		if mem.User == nil {
			mem.User = u
		}
		out = append(out, mem)
	}
	return out
}

func (r *Router) channelMentions(m *discordgo.Message) []*discordgo.Channel {
	matches := channelMention.FindAllStringSubmatch(m.Content, -1)
	out := make([]*discordgo.Channel, 0, len(matches))
	for _, match := range matches {
		ch, err := r.gw.Channel(match[1])
		if err != nil || ch.GuildID != m.GuildID {
			continue
		}
		out = append(out, ch)
	}
	return out
}

// CommandList returns the prefixed names of the commands visible to a user.
func (r *Router) CommandList(perms *permissions.Set, all bool) []string {
	var out []string
	for _, d := range r.reg.Visible(perms, all) {
		out = append(out, r.cfg.CommandPrefix+d.Name)
	}
	return out
}
