package command

import (
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/musicbot/internal/permissions"
	"github.com/keshon/musicbot/internal/player"
)

// Invocation is the argument set assembled for one handler call. It is
// created per inbound message and discarded after handling.
type Invocation struct {
	ID     string
	Name   string
	Prefix string

	desc   *Descriptor
	values map[string]any
}

// NewInvocation returns an empty invocation of d.
func NewInvocation(d *Descriptor, id, prefix string) *Invocation {
	return &Invocation{
		ID:     id,
		Name:   d.Name,
		Prefix: prefix,
		desc:   d,
		values: make(map[string]any, len(d.Params)),
	}
}

// Set binds a value to a parameter name.
func (inv *Invocation) Set(name string, v any) { inv.values[name] = v }

// Has reports whether name was bound.
func (inv *Invocation) Has(name string) bool {
	_, ok := inv.values[name]
	return ok
}

// Value returns the raw bound value.
func (inv *Invocation) Value(name string) any { return inv.values[name] }

// String returns a bound string parameter, falling back to the declared default
// when the parameter was skipped.
func (inv *Invocation) String(name string) string {
	if v, ok := inv.values[name].(string); ok {
		return v
	}
	if p, ok := inv.desc.Param(name); ok {
		return p.Default
	}
	return ""
}

// Strings returns a bound list parameter.
func (inv *Invocation) Strings(name string) []string {
	v, _ := inv.values[name].([]string)
	return v
}

// Message is the invoking message.
func (inv *Invocation) Message() *discordgo.Message {
	v, _ := inv.values[string(CtxMessage)].(*discordgo.Message)
	return v
}

// Channel is the channel the command was sent in.
func (inv *Invocation) Channel() *discordgo.Channel {
	v, _ := inv.values[string(CtxChannel)].(*discordgo.Channel)
	return v
}

// Author is the sender.
func (inv *Invocation) Author() *discordgo.User {
	v, _ := inv.values[string(CtxAuthor)].(*discordgo.User)
	return v
}

// GuildID is the guild of the invocation, "" in private channels.
func (inv *Invocation) GuildID() string {
	v, _ := inv.values[string(CtxGuild)].(string)
	return v
}

// Player is the guild's player, created on demand.
func (inv *Invocation) Player() *player.Player {
	v, _ := inv.values[string(CtxPlayer)].(*player.Player)
	return v
}

// RawPlayer is the guild's player if one exists, or nil.
func (inv *Invocation) RawPlayer() *player.Player {
	v, _ := inv.values[string(CtxRawPlayer)].(*player.Player)
	return v
}

// Permissions is the sender's permission set.
func (inv *Invocation) Permissions() *permissions.Set {
	v, _ := inv.values[string(CtxPermissions)].(*permissions.Set)
	return v
}

// UserMentions are the mentioned members resolved in the guild.
func (inv *Invocation) UserMentions() []*discordgo.Member {
	v, _ := inv.values[string(CtxUserMentions)].([]*discordgo.Member)
	return v
}

// ChannelMentions are the mentioned channels.
func (inv *Invocation) ChannelMentions() []*discordgo.Channel {
	v, _ := inv.values[string(CtxChannelMentions)].([]*discordgo.Channel)
	return v
}

// VoiceChannel is the sender's current voice channel id, or "".
func (inv *Invocation) VoiceChannel() string {
	v, _ := inv.values[string(CtxVoiceChannel)].(string)
	return v
}

// LeftoverArgs are the raw argument tokens.
func (inv *Invocation) LeftoverArgs() []string {
	return inv.Strings(string(CtxLeftoverArgs))
}

// Resolver supplies context values during binding.
type Resolver func(key ContextKey) (any, error)

// Binding is the result of Bind.
type Binding struct {
	Invocation *Invocation
	// Expected lists the positional parameters in usage form.
	Expected []string
	// Missing lists parameters left unsatisfied.
	Missing []string
}

// Bind assembles an invocation of d from the argument tokens. Context
// parameters come from resolve in declaration order. Then a variadic parameter
// takes the remaining tokens, a rest-joined parameter takes them joined by
// spaces, and ordinary parameters pop tokens left to right; an optional one is
// skipped once the tokens run out.
func Bind(d *Descriptor, inv *Invocation, args []string, resolve Resolver) (*Binding, error) {
	remaining := make([]Param, 0, len(d.Params))
	for _, p := range d.Params {
		if p.Kind != Context {
			remaining = append(remaining, p)
			continue
		}
		v, err := resolve(ContextKey(p.Name))
		if err != nil {
			return nil, err
		}
		inv.Set(p.Name, v)
	}

	args = append([]string(nil), args...)
	b := &Binding{Invocation: inv}

	for _, p := range remaining {
		switch p.Kind {
		case Variadic:
			inv.Set(p.Name, append([]string(nil), args...))
			continue
		case RestJoined:
			inv.Set(p.Name, strings.Join(args, " "))
			continue
		}

		b.Expected = append(b.Expected, usageToken(p))

		if len(args) == 0 {
			if p.Kind != Optional {
				b.Missing = append(b.Missing, p.Name)
			}
			continue
		}
		inv.Set(p.Name, args[0])
		args = args[1:]
	}

	return b, nil
}
