// Package core holds the types shared by the dispatch engine, the presence
// monitor and the gateway adapter: the error taxonomy, structured responses,
// process-control signals and the narrow Gateway interface.
package core

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

// MessageRef identifies a sent or received message.
type MessageRef struct {
	ChannelID string
	MessageID string
}

// RefOf returns the reference of m, or nil.
func RefOf(m *discordgo.Message) *MessageRef {
	if m == nil {
		return nil
	}
	return &MessageRef{ChannelID: m.ChannelID, MessageID: m.ID}
}

// Gateway is the outbound side of the chat platform as seen by the core.
type Gateway interface {
	// BotID is the bot's own user id.
	BotID() string

	SendMessage(ctx context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error)
	DeleteMessage(ctx context.Context, ref MessageRef) error
	SendDirectMessage(ctx context.Context, userID, content string) error
	LeaveGuild(ctx context.Context, guildID string) error
	InviteLink(ctx context.Context) (string, error)

	Channel(channelID string) (*discordgo.Channel, error)
	GuildChannelIDs(guildID string) []string
	Member(guildID, userID string) (*discordgo.Member, error)
	// UserVoiceChannel returns the voice channel the user is connected to, or "".
	UserVoiceChannel(guildID, userID string) string
}
