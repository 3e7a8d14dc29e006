package presence

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/musicbot/internal/core"
)

type fakePlayback struct {
	channel string
	state   string // "playing" | "paused" | "stopped"
	pauses  int
	resumes int
}

func (p *fakePlayback) ChannelID() string { return p.channel }
func (p *fakePlayback) IsPlaying() bool   { return p.state == "playing" }
func (p *fakePlayback) IsPaused() bool    { return p.state == "paused" }
func (p *fakePlayback) Pause() error      { p.state = "paused"; p.pauses++; return nil }
func (p *fakePlayback) Resume() error     { p.state = "playing"; p.resumes++; return nil }

type fakePlayers struct {
	mu        sync.Mutex
	byGuild   map[string]*fakePlayback
	teardowns []string
}

func (f *fakePlayers) Playback(guildID string) Playback {
	if p, ok := f.byGuild[guildID]; ok {
		return p
	}
	return nil
}

func (f *fakePlayers) Teardown(_ context.Context, guildID string) error {
	f.mu.Lock()
	f.teardowns = append(f.teardowns, guildID)
	f.mu.Unlock()
	return nil
}

type fakeRoster map[string][]Listener

func (r fakeRoster) VoiceMembers(_, channelID string) []Listener { return r[channelID] }

var (
	human    = Listener{UserID: "u1"}
	deafened = Listener{UserID: "u2", SelfDeaf: true}
	botUser  = Listener{UserID: "bot", Bot: true}
)

func setup(t *testing.T, state string, roster fakeRoster) (*Monitor, *fakePlayback, *fakePlayers) {
	t.Helper()
	pb := &fakePlayback{channel: "room", state: state}
	players := &fakePlayers{byGuild: map[string]*fakePlayback{"g1": pb}}
	m := NewMonitor(Options{AutoPause: true, Players: players, Roster: roster})
	m.SetReady(true)
	return m, pb, players
}

func TestMonitor_LastListenerLeavesPauses(t *testing.T) {
	m, pb, _ := setup(t, "playing", fakeRoster{"room": {botUser}})

	require.NoError(t, m.VoiceStateChanged(context.Background(), VoiceEvent{GuildID: "g1", Member: human, Before: "room"}))
	assert.True(t, pb.IsPaused())
	assert.True(t, m.Store().Get("g1").AutoPaused)
}

func TestMonitor_LeaveWithOthersPresentKeepsPlaying(t *testing.T) {
	m, pb, _ := setup(t, "playing", fakeRoster{"room": {botUser, {UserID: "u3"}}})

	require.NoError(t, m.VoiceStateChanged(context.Background(), VoiceEvent{GuildID: "g1", Member: human, Before: "room", After: "other"}))
	assert.True(t, pb.IsPlaying())
	assert.False(t, m.Store().Get("g1").AutoPaused)
}

func TestMonitor_JoinResumesAutoPaused(t *testing.T) {
	roster := fakeRoster{"room": {botUser}}
	m, pb, _ := setup(t, "playing", roster)
	ctx := context.Background()

	require.NoError(t, m.VoiceStateChanged(ctx, VoiceEvent{GuildID: "g1", Member: human, Before: "room"}))
	require.True(t, pb.IsPaused())

	roster["room"] = append(roster["room"], human)
	require.NoError(t, m.VoiceStateChanged(ctx, VoiceEvent{GuildID: "g1", Member: human, After: "room"}))
	assert.True(t, pb.IsPlaying())
	assert.False(t, m.Store().Get("g1").AutoPaused)
}

func TestMonitor_JoinDoesNotResumeManualPause(t *testing.T) {
	m, pb, _ := setup(t, "paused", fakeRoster{"room": {botUser, human}})

	require.NoError(t, m.VoiceStateChanged(context.Background(), VoiceEvent{GuildID: "g1", Member: human, After: "room"}))
	assert.True(t, pb.IsPaused())
	assert.Equal(t, 0, pb.resumes)
}

func TestMonitor_DeafenThenUndeafen(t *testing.T) {
	roster := fakeRoster{"room": {botUser, deafened}}
	m, pb, _ := setup(t, "playing", roster)
	ctx := context.Background()

	// A deafened member is inactive; the room is re-evaluated as a whole.
	require.NoError(t, m.VoiceStateChanged(ctx, VoiceEvent{GuildID: "g1", Member: deafened, Before: "room", After: "room"}))
	assert.True(t, pb.IsPaused())

	undeafened := Listener{UserID: "u2"}
	roster["room"] = []Listener{botUser, undeafened}
	require.NoError(t, m.VoiceStateChanged(ctx, VoiceEvent{GuildID: "g1", Member: undeafened, Before: "room", After: "room"}))
	assert.True(t, pb.IsPlaying())
}

func TestMonitor_TransitionsAreIdempotent(t *testing.T) {
	m, pb, _ := setup(t, "playing", fakeRoster{"room": {botUser}})
	ctx := context.Background()
	ev := VoiceEvent{GuildID: "g1", Member: human, Before: "room"}

	require.NoError(t, m.VoiceStateChanged(ctx, ev))
	require.NoError(t, m.VoiceStateChanged(ctx, ev))
	assert.Equal(t, 1, pb.pauses)
}

func TestMonitor_BotDisconnectTearsDown(t *testing.T) {
	m, pb, players := setup(t, "playing", fakeRoster{})

	require.NoError(t, m.VoiceStateChanged(context.Background(), VoiceEvent{GuildID: "g1", Self: true, Member: botUser, Before: "room"}))
	assert.Equal(t, []string{"g1"}, players.teardowns)
	assert.True(t, pb.IsPlaying())
	assert.Equal(t, GuildState{}, m.Store().Get("g1"))
}

type fakeVoice struct {
	dropped []string
}

func (v *fakeVoice) DisconnectVoice(guildID string) { v.dropped = append(v.dropped, guildID) }

func TestMonitor_BotDisconnectDropsVoiceAfterExternalMove(t *testing.T) {
	voice := &fakeVoice{}
	players := &fakePlayers{byGuild: map[string]*fakePlayback{"g1": {channel: "room", state: "playing"}}}
	m := NewMonitor(Options{AutoPause: true, Players: players, Roster: fakeRoster{}, Voice: voice})
	m.SetReady(true)
	ctx := context.Background()

	// dragged from room to stage, then kicked from stage
	require.NoError(t, m.VoiceStateChanged(ctx, VoiceEvent{GuildID: "g1", Self: true, Member: botUser, Before: "stage"}))
	assert.Equal(t, []string{"g1"}, players.teardowns)
	assert.Equal(t, []string{"g1"}, voice.dropped)

	// no player left, the connection is still dropped
	require.NoError(t, m.VoiceStateChanged(ctx, VoiceEvent{GuildID: "g2", Self: true, Member: botUser, Before: "lobby"}))
	assert.Equal(t, []string{"g1", "g2"}, voice.dropped)
}

func TestMonitor_BotMovedReevaluatesRoom(t *testing.T) {
	m, pb, _ := setup(t, "playing", fakeRoster{"room": {botUser}})

	require.NoError(t, m.VoiceStateChanged(context.Background(), VoiceEvent{GuildID: "g1", Self: true, Member: botUser, Before: "old", After: "room"}))
	assert.True(t, pb.IsPaused())
}

func TestMonitor_AutoPauseDisabled(t *testing.T) {
	pb := &fakePlayback{channel: "room", state: "playing"}
	m := NewMonitor(Options{Players: &fakePlayers{byGuild: map[string]*fakePlayback{"g1": pb}}, Roster: fakeRoster{}})
	m.SetReady(true)

	require.NoError(t, m.VoiceStateChanged(context.Background(), VoiceEvent{GuildID: "g1", Member: human, Before: "room"}))
	assert.True(t, pb.IsPlaying())
}

func TestMonitor_NoPlayerIgnored(t *testing.T) {
	m := NewMonitor(Options{AutoPause: true, Players: &fakePlayers{}, Roster: fakeRoster{}})
	m.SetReady(true)

	require.NoError(t, m.VoiceStateChanged(context.Background(), VoiceEvent{GuildID: "g1", Member: human, Before: "room"}))
	assert.Equal(t, 0, m.Store().Len())
}

func TestMonitor_IgnoredBeforeReady(t *testing.T) {
	m, pb, _ := setup(t, "playing", fakeRoster{})
	m.SetReady(false)

	require.NoError(t, m.VoiceStateChanged(context.Background(), VoiceEvent{GuildID: "g1", Member: human, Before: "room"}))
	assert.True(t, pb.IsPlaying())
}

func TestMonitor_Availability(t *testing.T) {
	m, pb, _ := setup(t, "playing", fakeRoster{"room": {botUser, human}})
	ctx := context.Background()

	require.NoError(t, m.GuildUnavailable(ctx, "g1"))
	assert.True(t, pb.IsPaused())
	assert.True(t, m.Store().Get("g1").AvailabilityPaused)

	require.NoError(t, m.GuildUnavailable(ctx, "g1"))
	assert.Equal(t, 1, pb.pauses)

	require.NoError(t, m.GuildAvailable(ctx, "g1"))
	assert.True(t, pb.IsPlaying())
	assert.False(t, m.Store().Get("g1").AvailabilityPaused)

	require.NoError(t, m.GuildAvailable(ctx, "g1"))
	assert.Equal(t, 1, pb.resumes)
}

func TestMonitor_AvailableDoesNotResumeManualPause(t *testing.T) {
	m, pb, _ := setup(t, "paused", fakeRoster{"room": {human}})

	require.NoError(t, m.GuildAvailable(context.Background(), "g1"))
	assert.True(t, pb.IsPaused())
}

func TestMonitor_NoAutoResumeWhileUnavailable(t *testing.T) {
	roster := fakeRoster{"room": {botUser}}
	m, pb, _ := setup(t, "playing", roster)
	ctx := context.Background()

	require.NoError(t, m.VoiceStateChanged(ctx, VoiceEvent{GuildID: "g1", Member: human, Before: "room"}))
	require.True(t, m.Store().Get("g1").AutoPaused)
	m.Store().Update("g1", func(s *GuildState) { s.AvailabilityPaused = true })

	roster["room"] = []Listener{botUser, human}
	require.NoError(t, m.VoiceStateChanged(ctx, VoiceEvent{GuildID: "g1", Member: human, After: "room"}))
	assert.True(t, pb.IsPaused())

	require.NoError(t, m.GuildAvailable(ctx, "g1"))
	assert.True(t, pb.IsPlaying())
}

func TestMonitor_AvailableWithEmptyRoomHandsOverToAutoPause(t *testing.T) {
	roster := fakeRoster{"room": {botUser, human}}
	m, pb, _ := setup(t, "playing", roster)
	ctx := context.Background()

	require.NoError(t, m.GuildUnavailable(ctx, "g1"))
	roster["room"] = []Listener{botUser}

	require.NoError(t, m.GuildAvailable(ctx, "g1"))
	assert.True(t, pb.IsPaused())
	st := m.Store().Get("g1")
	assert.True(t, st.AutoPaused)
	assert.False(t, st.AvailabilityPaused)
}

func TestStore_SwapNowPlaying(t *testing.T) {
	s := NewStore()
	first := &core.MessageRef{ChannelID: "c", MessageID: "1"}
	assert.Nil(t, s.SwapNowPlaying("g1", first))
	assert.Equal(t, first, s.SwapNowPlaying("g1", &core.MessageRef{ChannelID: "c", MessageID: "2"}))

	s.Remove("g1")
	assert.Nil(t, s.Get("g1").LastNowPlaying)
}
