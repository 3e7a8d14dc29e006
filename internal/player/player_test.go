package player

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLink struct {
	channel string

	mu           sync.Mutex
	speaking     bool
	disconnected bool
}

func (l *fakeLink) ChannelID() string { return l.channel }

func (l *fakeLink) Speaking(on bool) error {
	l.mu.Lock()
	l.speaking = on
	l.mu.Unlock()
	return nil
}

func (l *fakeLink) Disconnect() error {
	l.mu.Lock()
	l.disconnected = true
	l.mu.Unlock()
	return nil
}

func (l *fakeLink) isSpeaking() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.speaking
}

func tracks(names ...string) []Track {
	out := make([]Track, len(names))
	for i, n := range names {
		out[i] = Track{URL: n}
	}
	return out
}

func TestPlayer_EnqueueStartsPlayback(t *testing.T) {
	link := &fakeLink{channel: "v1"}
	p := New("g1", link)

	pos, err := p.Enqueue(tracks("a", "b")...)
	require.NoError(t, err)
	assert.Equal(t, 0, pos)
	assert.True(t, p.IsPlaying())
	assert.True(t, link.isSpeaking())

	cur, err := p.Current()
	require.NoError(t, err)
	assert.Equal(t, "a", cur.Name())
	assert.Len(t, p.Queue(), 1)

	pos, err = p.Enqueue(tracks("c")...)
	require.NoError(t, err)
	assert.Equal(t, 2, pos)
}

func TestPlayer_PauseResume(t *testing.T) {
	link := &fakeLink{channel: "v1"}
	p := New("g1", link)

	assert.ErrorIs(t, p.Pause(), ErrNoTrackPlaying)
	assert.ErrorIs(t, p.Resume(), ErrNotPaused)

	_, err := p.Enqueue(tracks("a")...)
	require.NoError(t, err)

	require.NoError(t, p.Pause())
	assert.True(t, p.IsPaused())
	assert.False(t, link.isSpeaking())

	require.NoError(t, p.Resume())
	assert.True(t, p.IsPlaying())
	assert.True(t, link.isSpeaking())
}

func TestPlayer_SkipAdvancesThenStops(t *testing.T) {
	p := New("g1", &fakeLink{channel: "v1"})
	_, _ = p.Enqueue(tracks("a", "b")...)

	skipped, err := p.Skip()
	require.NoError(t, err)
	assert.Equal(t, "a", skipped.URL)
	cur, _ := p.Current()
	assert.Equal(t, "b", cur.URL)

	_, err = p.Skip()
	require.NoError(t, err)
	assert.True(t, p.IsStopped())

	_, err = p.Skip()
	assert.ErrorIs(t, err, ErrNoTrackPlaying)
	assert.Len(t, p.History(), 2)
}

func TestPlayer_StopAndClear(t *testing.T) {
	p := New("g1", &fakeLink{channel: "v1"})
	_, _ = p.Enqueue(tracks("a", "b", "c")...)

	assert.Equal(t, 2, p.Clear())
	assert.True(t, p.IsPlaying())

	require.NoError(t, p.Stop())
	assert.True(t, p.IsStopped())
	assert.ErrorIs(t, p.Stop(), ErrNoTrackPlaying)
}

func TestPlayer_KillIsFinal(t *testing.T) {
	p := New("g1", &fakeLink{channel: "v1"})
	_, _ = p.Enqueue(tracks("a")...)

	p.Kill()
	p.Kill()
	assert.True(t, p.Killed())
	_, err := p.Enqueue(tracks("b")...)
	assert.ErrorIs(t, err, ErrKilled)

	var statuses []Status
	for u := range p.Updates {
		statuses = append(statuses, u.Status)
	}
	assert.Equal(t, []Status{StatusPlaying, StatusStopped}, statuses)
}

func TestPlayer_MoveToClosesOldLink(t *testing.T) {
	old := &fakeLink{channel: "v1"}
	p := New("g1", old)
	next := &fakeLink{channel: "v2"}

	p.MoveTo(next)
	assert.True(t, old.disconnected)
	assert.Equal(t, "v2", p.ChannelID())
}

type fakeConnector struct {
	joins atomic.Int32
	err   error
}

func (c *fakeConnector) JoinVoice(_ context.Context, _, channelID string) (VoiceLink, error) {
	c.joins.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	time.Sleep(time.Millisecond)
	return &fakeLink{channel: channelID}, nil
}

func TestRegistry_GetOrCreateSinglePlayerPerGuild(t *testing.T) {
	conn := &fakeConnector{}
	r := NewRegistry(conn, nil, nil)

	var wg sync.WaitGroup
	got := make([]*Player, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := r.GetOrCreate(context.Background(), "g1", "v1")
			assert.NoError(t, err)
			got[i] = p
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, conn.joins.Load())
	for _, p := range got {
		assert.Same(t, got[0], p)
	}
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_GetDoesNotCreate(t *testing.T) {
	r := NewRegistry(&fakeConnector{}, nil, nil)
	assert.Nil(t, r.Get("g1"))

	_, err := r.GetOrCreate(context.Background(), "g1", "")
	assert.ErrorIs(t, err, ErrNoVoiceChannel)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_JoinFailure(t *testing.T) {
	r := NewRegistry(&fakeConnector{err: errors.New("no perms")}, nil, nil)
	_, err := r.GetOrCreate(context.Background(), "g1", "v1")
	assert.ErrorContains(t, err, "no perms")
	assert.Nil(t, r.Get("g1"))
}

func TestRegistry_TeardownDisconnects(t *testing.T) {
	r := NewRegistry(&fakeConnector{}, nil, nil)
	p, err := r.GetOrCreate(context.Background(), "g1", "v1")
	require.NoError(t, err)
	link := p.link.(*fakeLink)

	require.NoError(t, r.Teardown(context.Background(), "g1"))
	assert.True(t, p.Killed())
	assert.True(t, link.disconnected)
	assert.Nil(t, r.Get("g1"))
	assert.NoError(t, r.Teardown(context.Background(), "g1"))
}

func TestRegistry_OnUpdate(t *testing.T) {
	r := NewRegistry(&fakeConnector{}, nil, nil)
	got := make(chan Update, 4)
	r.OnUpdate(func(_ *Player, u Update) { got <- u })

	p, err := r.GetOrCreate(context.Background(), "g1", "v1")
	require.NoError(t, err)
	_, _ = p.Enqueue(Track{URL: "a", Title: "Song A"})

	select {
	case u := <-got:
		assert.Equal(t, StatusPlaying, u.Status)
		require.NotNil(t, u.Track)
		assert.Equal(t, "Song A", u.Track.Name())
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}

	assert.True(t, r.Kill(context.Background(), "g1"))
	assert.False(t, r.Kill(context.Background(), "g1"))
}
