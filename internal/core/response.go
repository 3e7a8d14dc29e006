package core

import (
	"time"

	"github.com/bwmarrin/discordgo"
)

// EmbedColor is the accent colour of rich replies.
const EmbedColor = 0x7289da

// ErrorColor is used for rendered command errors.
const ErrorColor = 13369344

// Response is a handler's structured reply. Exactly one of Content or Embed
// is expected to be set.
type Response struct {
	Content     string
	Embed       *discordgo.MessageEmbed
	Reply       bool
	DeleteAfter time.Duration
}

// Text builds a plain-text Response.
func Text(content string) *Response {
	return &Response{Content: content}
}

// Rich builds a rich-content Response.
func Rich(embed *discordgo.MessageEmbed) *Response {
	return &Response{Embed: embed}
}

// WithReply marks the response to be prefixed with the sender's mention.
func (r *Response) WithReply() *Response {
	r.Reply = true
	return r
}

// Expire sets the auto-delete delay.
func (r *Response) Expire(d time.Duration) *Response {
	r.DeleteAfter = d
	return r
}

// Empty reports whether the response carries nothing to send.
func (r *Response) Empty() bool {
	return r == nil || (r.Content == "" && r.Embed == nil)
}
