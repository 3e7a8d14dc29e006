package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/musicbot/internal/core"
)

func TestRender_PlainWithEmbedsWrapsInTitledEmbed(t *testing.T) {
	out := Render(core.Text("queued"), "play", "<@1>", true)

	require.NotNil(t, out.Embed)
	assert.Equal(t, "play", out.Embed.Title)
	assert.Equal(t, "queued", out.Embed.Description)
	assert.Equal(t, core.EmbedColor, out.Embed.Color)
	assert.Empty(t, out.Content)
}

func TestRender_PlainWithoutEmbeds(t *testing.T) {
	out := Render(core.Text("queued"), "play", "<@1>", false)
	assert.Nil(t, out.Embed)
	assert.Equal(t, "queued", out.Content)
}

func TestRender_ReplyPrefixesMention(t *testing.T) {
	out := Render(core.Text("hi").WithReply(), "say", "<@1>", false)
	assert.Equal(t, "<@1>: hi", out.Content)

	out = Render(core.Text("hi").WithReply(), "say", "<@1>", true)
	assert.Equal(t, "<@1> hi", out.Embed.Description)
}

func TestRender_RichContentNotMutated(t *testing.T) {
	embed := &discordgo.MessageEmbed{Title: "Now playing", Description: "song"}
	out := Render(core.Rich(embed).WithReply(), "np", "<@1>", false)

	require.NotNil(t, out.Embed)
	assert.Equal(t, "<@1> song", out.Embed.Description)
	assert.Equal(t, "song", embed.Description)
}

func TestRenderError(t *testing.T) {
	out := RenderError("boom", true)
	require.NotNil(t, out.Embed)
	require.Len(t, out.Embed.Fields, 1)
	assert.Equal(t, "Error", out.Embed.Fields[0].Name)
	assert.Equal(t, "boom", out.Embed.Fields[0].Value)
	assert.Equal(t, core.ErrorColor, out.Embed.Color)

	out = RenderError("boom", false)
	assert.Equal(t, "```\nboom\n```", out.Content)
}

type fakeGateway struct {
	core.Gateway

	mu      sync.Mutex
	sent    []*discordgo.MessageSend
	deleted []core.MessageRef
	sendErr error
	nextID  int
}

func (g *fakeGateway) SendMessage(_ context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return nil, g.sendErr
	}
	g.nextID++
	g.sent = append(g.sent, msg)
	return &discordgo.Message{ID: fmt.Sprintf("m%d", g.nextID), ChannelID: channelID}, nil
}

func (g *fakeGateway) DeleteMessage(_ context.Context, ref core.MessageRef) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = append(g.deleted, ref)
	return nil
}

func (g *fakeGateway) deletedRefs() []core.MessageRef {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]core.MessageRef(nil), g.deleted...)
}

func TestDispatcher_SendSchedulesDeletes(t *testing.T) {
	gw := &fakeGateway{}
	d := NewDispatcher(gw)
	defer d.Close()

	invoking := &core.MessageRef{ChannelID: "c1", MessageID: "in"}
	msg, err := d.Send(context.Background(), "c1", Outbound{Content: "ok"}, 10*time.Millisecond, invoking)
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Eventually(t, func() bool { return len(gw.deletedRefs()) == 2 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []core.MessageRef{
		{ChannelID: "c1", MessageID: "m1"},
		{ChannelID: "c1", MessageID: "in"},
	}, gw.deletedRefs())
}

func TestDispatcher_NoExpireKeepsMessage(t *testing.T) {
	gw := &fakeGateway{}
	d := NewDispatcher(gw)

	_, err := d.Send(context.Background(), "c1", Outbound{Content: "ok"}, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, d.Jobs().List())

	d.Close()
	assert.Empty(t, gw.deletedRefs())
}

func TestDispatcher_AlsoDeleteOnSendFailure(t *testing.T) {
	gw := &fakeGateway{sendErr: errors.New("forbidden")}
	d := NewDispatcher(gw)
	defer d.Close()

	invoking := &core.MessageRef{ChannelID: "c1", MessageID: "in"}
	msg, err := d.Send(context.Background(), "c1", Outbound{Content: "ok"}, time.Millisecond, invoking)
	assert.Error(t, err)
	assert.Nil(t, msg)

	assert.Eventually(t, func() bool { return len(gw.deletedRefs()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestDispatcher_CloseCancelsPending(t *testing.T) {
	gw := &fakeGateway{}
	d := NewDispatcher(gw)

	d.DeleteAfter(core.MessageRef{ChannelID: "c1", MessageID: "x"}, time.Hour)
	assert.Len(t, d.Jobs().List(), 1)

	d.Close()
	assert.Empty(t, gw.deletedRefs())
	assert.Empty(t, d.Jobs().List())
}
