// Package player holds the per-guild playback state and the registry that
// guarantees at most one player per guild.
package player

import (
	"errors"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
)

type Status string

const (
	StatusPlaying Status = "Playing"
	StatusAdded   Status = "Track(s) Added"
	StatusStopped Status = "Playback Stopped"
	StatusPaused  Status = "Playback Paused"
	StatusResumed Status = "Playback Resumed"
	StatusError   Status = "Error"
)

func (s Status) StringEmoji() string {
	m := map[Status]string{
		StatusPlaying: "▶️",
		StatusAdded:   "🎶",
		StatusStopped: "⏹",
		StatusPaused:  "⏸",
		StatusResumed: "▶️",
		StatusError:   "❌",
	}
	return m[s]
}

// State is the playback state.
type State int

const (
	Stopped State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "stopped"
	}
}

var (
	ErrNoTrackPlaying  = errors.New("no track is currently playing")
	ErrNoTracksInQueue = errors.New("no tracks in queue")
	ErrNotPaused       = errors.New("playback is not paused")
	ErrKilled          = errors.New("player has been killed")
)

// Track is a queued entry. Title falls back to the URL.
type Track struct {
	URL         string
	Title       string
	RequestedBy string
}

// Name is the display name of t.
func (t Track) Name() string {
	if t.Title != "" {
		return t.Title
	}
	return t.URL
}

// VoiceLink is the player's voice connection.
type VoiceLink interface {
	ChannelID() string
	Speaking(bool) error
	Disconnect() error
}

// Update is a status change published on Player.Updates.
type Update struct {
	GuildID string
	Status  Status
	Track   *Track
}

type Player struct {
	mu      sync.Mutex
	guildID string
	link    VoiceLink
	text    string
	state   State
	current *Track
	queue   []Track
	history []Track
	killed  bool

	Updates chan Update
}

// New creates a stopped player bound to link.
func New(guildID string, link VoiceLink) *Player {
	return &Player{
		guildID: guildID,
		link:    link,
		queue:   make([]Track, 0),
		history: make([]Track, 0),
		Updates: make(chan Update, 10), // buffered to reduce drops
	}
}

func (p *Player) GuildID() string { return p.guildID }

// ChannelID is the voice channel the player is connected to.
func (p *Player) ChannelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.link == nil {
		return ""
	}
	return p.link.ChannelID()
}

// SetTextChannel records where status messages for this player go.
func (p *Player) SetTextChannel(channelID string) {
	p.mu.Lock()
	p.text = channelID
	p.mu.Unlock()
}

func (p *Player) TextChannel() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.text
}

// Enqueue appends tracks and returns the position of the first one (1-based).
// A stopped player starts playing.
func (p *Player) Enqueue(tracks ...Track) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.killed {
		return 0, ErrKilled
	}
	pos := len(p.queue) + 1
	p.queue = append(p.queue, tracks...)
	log.Debug().Str("guild", p.guildID).Int("added", len(tracks)).Int("queue", len(p.queue)).Msg("Tracks enqueued")

	if p.state == Stopped {
		if err := p.playNextLocked(); err != nil {
			return 0, err
		}
		return 0, nil
	}
	p.emit(StatusAdded, nil)
	return pos, nil
}

// Play starts the next queued track when stopped.
func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.killed {
		return ErrKilled
	}
	if p.state != Stopped {
		return nil
	}
	return p.playNextLocked()
}

func (p *Player) playNextLocked() error {
	if len(p.queue) == 0 {
		p.state = Stopped
		return ErrNoTracksInQueue
	}
	track := p.queue[0]
	p.queue = p.queue[1:]
	p.current = &track
	p.state = Playing
	p.history = append(p.history, track)
	p.speaking(true)

	log.Info().Str("guild", p.guildID).Str("track", track.Name()).Int("queue", len(p.queue)).Msg("Now playing")
	p.emit(StatusPlaying, &track)
	return nil
}

// Skip ends the current track and moves on. It returns the skipped track.
func (p *Player) Skip() (*Track, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return nil, ErrNoTrackPlaying
	}
	skipped := p.current
	p.current = nil
	if err := p.playNextLocked(); err != nil {
		p.speaking(false)
		p.emit(StatusStopped, nil)
	}
	return skipped, nil
}

// Stop ends playback and empties the queue.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil && len(p.queue) == 0 {
		return ErrNoTrackPlaying
	}
	p.stopLocked()
	return nil
}

func (p *Player) stopLocked() {
	p.current = nil
	p.queue = nil
	p.state = Stopped
	p.speaking(false)
	p.emit(StatusStopped, nil)
}

// Clear empties the queue without touching the current track.
func (p *Player) Clear() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.queue)
	p.queue = nil
	return n
}

func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Playing {
		return ErrNoTrackPlaying
	}
	p.state = Paused
	p.speaking(false)
	p.emit(StatusPaused, p.current)
	return nil
}

func (p *Player) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Paused {
		return ErrNotPaused
	}
	p.state = Playing
	p.speaking(true)
	p.emit(StatusResumed, p.current)
	return nil
}

// Shuffle randomizes the queue order.
func (p *Player) Shuffle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	rand.Shuffle(len(p.queue), func(i, j int) { p.queue[i], p.queue[j] = p.queue[j], p.queue[i] })
}

// Kill stops the player for good and closes Updates. Further operations fail
// with ErrKilled.
func (p *Player) Kill() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.killed {
		return
	}
	p.killed = true
	p.stopLocked()
	close(p.Updates)
}

// Disconnect kills the player and closes its voice link.
func (p *Player) Disconnect() error {
	p.Kill()

	p.mu.Lock()
	link := p.link
	p.link = nil
	p.mu.Unlock()

	if link == nil {
		return nil
	}
	return link.Disconnect()
}

// MoveTo replaces the voice link, closing the previous one.
func (p *Player) MoveTo(link VoiceLink) {
	p.mu.Lock()
	old := p.link
	p.link = link
	if p.state == Playing {
		p.speaking(true)
	}
	p.mu.Unlock()

	if old != nil && old != link {
		if err := old.Disconnect(); err != nil {
			log.Warn().Err(err).Str("guild", p.guildID).Msg("Failed to close previous voice link")
		}
	}
}

func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Player) IsPlaying() bool { return p.State() == Playing }
func (p *Player) IsPaused() bool  { return p.State() == Paused }
func (p *Player) IsStopped() bool { return p.State() == Stopped }

func (p *Player) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// Current returns the current track, or ErrNoTrackPlaying.
func (p *Player) Current() (*Track, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil, ErrNoTrackPlaying
	}
	t := *p.current
	return &t, nil
}

// Queue returns a copy of the queue.
func (p *Player) Queue() []Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.queue)
}

// History returns a copy of played tracks.
func (p *Player) History() []Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.history)
}

func (p *Player) speaking(on bool) {
	if p.link == nil {
		return
	}
	if err := p.link.Speaking(on); err != nil {
		log.Debug().Err(err).Str("guild", p.guildID).Bool("speaking", on).Msg("Speaking update failed")
	}
}

// emit safely publishes a status update.
func (p *Player) emit(status Status, track *Track) {
	u := Update{GuildID: p.guildID, Status: status}
	if track != nil {
		t := *track
		u.Track = &t
	}
	select {
	case p.Updates <- u:
	default:
		log.Debug().Str("guild", p.guildID).Str("status", string(status)).Msg("Player status dropped (channel full)")
	}
}
