package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/musicbot/internal/config"
	"github.com/keshon/musicbot/internal/core"
	"github.com/keshon/musicbot/internal/telemetry"
	"github.com/keshon/musicbot/pkg/retrylimit"
)

func restErr(status int) *discordgo.RESTError {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: status, Status: http.StatusText(status)}}
}

func TestWrapREST(t *testing.T) {
	err := wrapREST(fmt.Errorf("send: %w", restErr(http.StatusTooManyRequests)))

	var se retrylimit.HTTPError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode())

	var re *discordgo.RESTError
	assert.True(t, errors.As(err, &re))

	plain := errors.New("boom")
	assert.Same(t, plain, wrapREST(plain))
	assert.Nil(t, wrapREST(nil))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(wrapREST(restErr(http.StatusNotFound))))
	assert.False(t, isNotFound(wrapREST(restErr(http.StatusForbidden))))
	assert.False(t, isNotFound(errors.New("timeout")))
}

func TestVoiceEvent(t *testing.T) {
	v := &discordgo.VoiceStateUpdate{
		VoiceState: &discordgo.VoiceState{
			GuildID:   "g",
			UserID:    "u",
			ChannelID: "room",
			SelfDeaf:  true,
			Member:    &discordgo.Member{User: &discordgo.User{ID: "u", Bot: true}},
		},
		BeforeUpdate: &discordgo.VoiceState{ChannelID: "lobby"},
	}

	ev := voiceEvent(v, "bot")
	assert.Equal(t, "g", ev.GuildID)
	assert.Equal(t, "lobby", ev.Before)
	assert.Equal(t, "room", ev.After)
	assert.False(t, ev.Self)
	assert.True(t, ev.Member.Bot)
	assert.True(t, ev.Member.SelfDeaf)
	assert.False(t, ev.Member.Active())
}

func TestVoiceEvent_SelfDisconnect(t *testing.T) {
	v := &discordgo.VoiceStateUpdate{
		VoiceState:   &discordgo.VoiceState{GuildID: "g", UserID: "bot"},
		BeforeUpdate: &discordgo.VoiceState{ChannelID: "room"},
	}

	ev := voiceEvent(v, "bot")
	assert.True(t, ev.Self)
	assert.True(t, ev.Member.Bot)
	assert.Equal(t, "room", ev.Before)
	assert.Empty(t, ev.After)
}

func TestIsVoiceChannel(t *testing.T) {
	assert.True(t, isVoiceChannel(&discordgo.Channel{Type: discordgo.ChannelTypeGuildVoice}))
	assert.True(t, isVoiceChannel(&discordgo.Channel{Type: discordgo.ChannelTypeGuildStageVoice}))
	assert.False(t, isVoiceChannel(&discordgo.Channel{Type: discordgo.ChannelTypeGuildText}))
}

func newTestBot(t *testing.T) (*Bot, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &Bot{
		logoutDelay: 10 * time.Millisecond,
		ctx:         ctx,
		cancel:      cancel,
		known:       make(map[string]struct{}),
	}, ctx
}

func TestGuard_SignalStopsSession(t *testing.T) {
	b, ctx := newTestBot(t)

	b.guard("message_create", func(context.Context) error { return core.SignalRestart })

	<-ctx.Done()
	sig, err := b.Outcome()
	assert.Equal(t, core.SignalRestart, sig)
	assert.NoError(t, err)
}

func TestGuard_FirstSignalWins(t *testing.T) {
	b, _ := newTestBot(t)

	b.handleEventError("a", core.SignalShutdown)
	b.handleEventError("b", core.SignalRestart)

	sig, _ := b.Outcome()
	assert.Equal(t, core.SignalShutdown, sig)
}

func TestGuard_HelpfulErrorStopsAfterDelay(t *testing.T) {
	b, ctx := newTestBot(t)
	helpful := core.NewHelpfulError("Bot cannot login, bad credentials.", "Fix your token in the options file.")

	b.guard("ready", func(context.Context) error { return helpful })

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("session was not stopped")
	}
	sig, err := b.Outcome()
	assert.Equal(t, core.SignalNone, sig)
	assert.Same(t, helpful, err)
}

func TestGuard_OtherErrorsAndPanicsAreContained(t *testing.T) {
	b, ctx := newTestBot(t)

	b.guard("voice_state_update", func(context.Context) error { return errors.New("boom") })
	b.guard("guild_create", func(context.Context) error { panic("bad event") })
	b.guard("guild_delete", func(context.Context) error { return core.SignalNone })

	assert.NoError(t, ctx.Err())
	sig, err := b.Outcome()
	assert.Equal(t, core.SignalNone, sig)
	assert.NoError(t, err)
}

func TestVoiceLink_MovedLinkDoesNotDisconnect(t *testing.T) {
	vc := &discordgo.VoiceConnection{GuildID: "g", ChannelID: "new"}
	old := &voiceLink{vc: vc, channel: "old"}

	assert.Equal(t, "new", old.ChannelID())
	assert.NoError(t, old.Disconnect())
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func newOfflineBot(t *testing.T) *Bot {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Token:           "token",
		OwnerID:         config.OwnerAuto,
		CommandPrefix:   "!",
		LeaveNonOwners:  true,
		PermissionsFile: filepath.Join(dir, "permissions.toml"),
		AliasesFile:     filepath.Join(dir, "aliases.toml"),
	}
	b, err := New(cfg, telemetry.New())
	require.NoError(t, err)
	b.ownerRetry.InitialDelay = time.Millisecond
	b.ownerRetry.Jitter = false
	return b
}

func TestStartup_OwnerLookupFailureStillBecomesReady(t *testing.T) {
	b := newOfflineBot(t)
	attempts := 0
	b.lookupOwner = func() (string, error) {
		attempts++
		return "", errors.New("connection reset")
	}

	b.onReady(b.s, &discordgo.Ready{User: &discordgo.User{ID: "bot", Username: "musicbot"}})

	assert.True(t, b.ready.Load())
	assert.Equal(t, ownerLookupAttempts, attempts)
	assert.Equal(t, config.OwnerAuto, b.cfg.OwnerID)
	assert.False(t, b.ownerKnown())
}

func TestStartup_ResolvesOwner(t *testing.T) {
	b := newOfflineBot(t)
	b.lookupOwner = func() (string, error) { return "42", nil }

	b.onReady(b.s, &discordgo.Ready{})

	assert.True(t, b.ready.Load())
	assert.Equal(t, "42", b.cfg.OwnerID)
	assert.Equal(t, "Owner (auto)", b.perms.ForUser(&discordgo.User{ID: "42"}, nil).Name())
}

func TestRun_CleansUpWhenLoginFails(t *testing.T) {
	b := newOfflineBot(t)
	b.s.Client = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusUnauthorized,
			Status:     "401 Unauthorized",
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader(`{"message": "401: Unauthorized", "code": 0}`)),
			Request:    r,
		}, nil
	})}
	b.out.DeleteAfter(core.MessageRef{ChannelID: "c", MessageID: "m"}, time.Hour)
	require.Len(t, b.out.Jobs().List(), 1)

	sig, err := b.Run(context.Background())

	var helpful *core.HelpfulError
	require.ErrorAs(t, err, &helpful)
	assert.Equal(t, "Bot cannot login, bad credentials.", helpful.Issue)
	assert.Equal(t, core.SignalNone, sig)
	assert.Empty(t, b.out.Jobs().List(), "pending deletions are cancelled")
	assert.False(t, b.opened.Load())
}
