// Package render turns structured responses into outbound messages and
// dispatches them with the configured auto-delete timers.
package render

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/musicbot/internal/core"
)

// Outbound is the wire form of a reply.
type Outbound struct {
	Content string
	Embed   *discordgo.MessageEmbed
}

// MessageSend converts o for the gateway.
func (o Outbound) MessageSend() *discordgo.MessageSend {
	ms := &discordgo.MessageSend{Content: o.Content}
	if o.Embed != nil {
		ms.Embeds = []*discordgo.MessageEmbed{o.Embed}
	}
	return ms
}

// Empty reports whether there is nothing to send.
func (o Outbound) Empty() bool { return o.Content == "" && o.Embed == nil }

// Render applies the rich-content toggle and reply policy to resp. Plain text
// is wrapped in an embed titled after the command when embeds are enabled;
// rich content is used as-is. A reply prefixes the sender's mention.
func Render(resp *core.Response, command, mention string, embeds bool) Outbound {
	var out Outbound

	switch {
	case resp.Embed != nil:
		e := *resp.Embed
		out.Embed = &e
	case embeds:
		out.Embed = &discordgo.MessageEmbed{
			Title:       command,
			Description: resp.Content,
			Color:       core.EmbedColor,
		}
	default:
		out.Content = resp.Content
	}

	if resp.Reply {
		if out.Embed != nil {
			out.Embed.Description = fmt.Sprintf("%s %s", mention, out.Embed.Description)
		} else {
			out.Content = fmt.Sprintf("%s: %s", mention, out.Content)
		}
	}
	return out
}

// RenderError renders a user-facing error: an embed with a red "Error" field,
// or a code block when embeds are off.
func RenderError(msg string, embeds bool) Outbound {
	if embeds {
		return Outbound{Embed: &discordgo.MessageEmbed{
			Color:  core.ErrorColor,
			Fields: []*discordgo.MessageEmbedField{{Name: "Error", Value: msg, Inline: false}},
		}}
	}
	return Outbound{Content: CodeBlock(msg)}
}

// CodeBlock wraps s in a fenced block.
func CodeBlock(s string) string {
	return "```\n" + s + "\n```"
}
