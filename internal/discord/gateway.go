package discord

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/musicbot/internal/core"
	"github.com/keshon/musicbot/internal/player"
	"github.com/keshon/musicbot/internal/presence"
	"github.com/keshon/musicbot/pkg/retrylimit"
)

// invitePermissions: view channels, send messages, manage messages, embed
// links, read history, connect, speak.
const invitePermissions = discordgo.PermissionViewChannel |
	discordgo.PermissionSendMessages |
	discordgo.PermissionManageMessages |
	discordgo.PermissionEmbedLinks |
	discordgo.PermissionReadMessageHistory |
	discordgo.PermissionVoiceConnect |
	discordgo.PermissionVoiceSpeak

// restError exposes the HTTP status of a discordgo REST failure to the retry
// loop.
type restError struct {
	err *discordgo.RESTError
}

func (e *restError) Error() string   { return e.err.Error() }
func (e *restError) Unwrap() error   { return e.err }
func (e *restError) StatusCode() int { return e.err.Response.StatusCode }

func wrapREST(err error) error {
	var re *discordgo.RESTError
	if errors.As(err, &re) && re.Response != nil {
		return &restError{err: re}
	}
	return err
}

// Gateway implements core.Gateway, player.VoiceConnector and presence.Roster
// on a discordgo session.
type Gateway struct {
	s *discordgo.Session
}

func NewGateway(s *discordgo.Session) *Gateway {
	return &Gateway{s: s}
}

var (
	_ core.Gateway          = (*Gateway)(nil)
	_ player.VoiceConnector = (*Gateway)(nil)
	_ presence.Roster       = (*Gateway)(nil)
)

func (g *Gateway) BotID() string {
	if g.s.State == nil || g.s.State.User == nil {
		return ""
	}
	return g.s.State.User.ID
}

func (g *Gateway) SendMessage(ctx context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error) {
	m, err := g.s.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx))
	return m, wrapREST(err)
}

func (g *Gateway) DeleteMessage(ctx context.Context, ref core.MessageRef) error {
	return wrapREST(g.s.ChannelMessageDelete(ref.ChannelID, ref.MessageID, discordgo.WithContext(ctx)))
}

func (g *Gateway) SendDirectMessage(ctx context.Context, userID, content string) error {
	ch, err := g.s.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("open dm with %s: %w", userID, wrapREST(err))
	}
	_, err = g.s.ChannelMessageSend(ch.ID, content, discordgo.WithContext(ctx))
	return wrapREST(err)
}

func (g *Gateway) LeaveGuild(ctx context.Context, guildID string) error {
	return wrapREST(g.s.GuildLeave(guildID, discordgo.WithContext(ctx)))
}

// InviteLink builds the OAuth2 link adding the bot to a server. The
// application lookup cannot be cancelled.
func (g *Gateway) InviteLink(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	app, err := g.s.Application("@me")
	if err != nil {
		return "", wrapREST(err)
	}
	return fmt.Sprintf("https://discord.com/oauth2/authorize?client_id=%s&scope=bot&permissions=%d", app.ID, invitePermissions), nil
}

// ApplicationOwner returns the user id owning the bot's application.
func (g *Gateway) ApplicationOwner() (string, error) {
	app, err := g.s.Application("@me")
	if err != nil {
		return "", wrapREST(err)
	}
	if app.Owner == nil || app.Owner.ID == "" {
		return "", retrylimit.Fatal(errors.New("application has no owner"))
	}
	return app.Owner.ID, nil
}

// Channel looks the channel up in the state cache, then over REST.
func (g *Gateway) Channel(channelID string) (*discordgo.Channel, error) {
	if ch, err := g.s.State.Channel(channelID); err == nil {
		return ch, nil
	}
	ch, err := g.s.Channel(channelID)
	return ch, wrapREST(err)
}

func (g *Gateway) GuildChannelIDs(guildID string) []string {
	guild, err := g.s.State.Guild(guildID)
	if err != nil {
		return nil
	}
	g.s.State.RLock()
	defer g.s.State.RUnlock()
	ids := make([]string, 0, len(guild.Channels))
	for _, ch := range guild.Channels {
		ids = append(ids, ch.ID)
	}
	return ids
}

// Member looks the member up in the state cache, then over REST.
func (g *Gateway) Member(guildID, userID string) (*discordgo.Member, error) {
	if m, err := g.s.State.Member(guildID, userID); err == nil {
		return m, nil
	}
	m, err := g.s.GuildMember(guildID, userID)
	return m, wrapREST(err)
}

func (g *Gateway) UserVoiceChannel(guildID, userID string) string {
	vs, err := g.s.State.VoiceState(guildID, userID)
	if err != nil || vs == nil {
		return ""
	}
	return vs.ChannelID
}

// VoiceMembers implements presence.Roster from cached voice states.
func (g *Gateway) VoiceMembers(guildID, channelID string) []presence.Listener {
	guild, err := g.s.State.Guild(guildID)
	if err != nil {
		return nil
	}

	g.s.State.RLock()
	states := make([]*discordgo.VoiceState, 0, len(guild.VoiceStates))
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID == channelID {
			states = append(states, vs)
		}
	}
	g.s.State.RUnlock()

	out := make([]presence.Listener, 0, len(states))
	for _, vs := range states {
		l := presence.Listener{UserID: vs.UserID, Deaf: vs.Deaf, SelfDeaf: vs.SelfDeaf}
		switch {
		case vs.Member != nil && vs.Member.User != nil:
			l.Bot = vs.Member.User.Bot
		default:
			if m, err := g.Member(guildID, vs.UserID); err == nil && m.User != nil {
				l.Bot = m.User.Bot
			}
		}
		out = append(out, l)
	}
	return out
}

// voiceLink is a player.VoiceLink over a discordgo voice connection. The
// session keeps one connection per guild and moves it between channels, so a
// link only disconnects while the connection is still in its own channel.
type voiceLink struct {
	vc      *discordgo.VoiceConnection
	channel string
}

func (l *voiceLink) ChannelID() string {
	l.vc.RLock()
	defer l.vc.RUnlock()
	return l.vc.ChannelID
}

func (l *voiceLink) Speaking(on bool) error { return l.vc.Speaking(on) }

func (l *voiceLink) Disconnect() error {
	if l.ChannelID() != l.channel {
		return nil
	}
	return l.vc.Disconnect()
}

// JoinVoice implements player.VoiceConnector.
func (g *Gateway) JoinVoice(ctx context.Context, guildID, channelID string) (player.VoiceLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vc, err := g.s.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return nil, err
	}
	return &voiceLink{vc: vc, channel: channelID}, nil
}

// DisconnectVoice closes the guild's voice connection, if any, whichever
// channel it is in.
func (g *Gateway) DisconnectVoice(guildID string) {
	g.s.RLock()
	vc, ok := g.s.VoiceConnections[guildID]
	g.s.RUnlock()
	if ok {
		_ = vc.Disconnect()
	}
}
