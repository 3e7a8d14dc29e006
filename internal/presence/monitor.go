package presence

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/keshon/musicbot/internal/player"
	"github.com/keshon/musicbot/internal/telemetry"
	"github.com/keshon/musicbot/pkg/keylock"
)

// Listener is a voice room member.
type Listener struct {
	UserID   string
	Bot      bool
	Deaf     bool
	SelfDeaf bool
}

// Active reports whether l can hear playback.
func (l Listener) Active() bool {
	return !l.Bot && !l.Deaf && !l.SelfDeaf
}

// Roster lists the members currently connected to a voice room.
type Roster interface {
	VoiceMembers(guildID, channelID string) []Listener
}

// Playback is the part of a player the monitor drives.
type Playback interface {
	ChannelID() string
	IsPlaying() bool
	IsPaused() bool
	Pause() error
	Resume() error
}

// Players looks up playback without creating it.
type Players interface {
	Playback(guildID string) Playback
	Teardown(ctx context.Context, guildID string) error
}

// RegistryPlayers adapts a player.Registry.
type RegistryPlayers struct {
	*player.Registry
}

func (r RegistryPlayers) Playback(guildID string) Playback {
	if p := r.Get(guildID); p != nil {
		return p
	}
	return nil
}

// VoiceEvent is one member's voice state change. Before and After are voice
// channel ids, "" meaning not connected.
type VoiceEvent struct {
	GuildID string
	Member  Listener
	// Self is set when the member is the bot.
	Self   bool
	Before string
	After  string
}

// VoiceDropper closes a guild's voice connection whether or not a player
// owns it.
type VoiceDropper interface {
	DisconnectVoice(guildID string)
}

// Options configures a Monitor.
type Options struct {
	AutoPause bool
	Store     *Store
	Players   Players
	Roster    Roster
	Voice     VoiceDropper
	Locks     *keylock.Manager
	Metrics   *telemetry.Metrics
}

// Monitor applies the auto-pause and availability transitions. Each guild's
// transitions are serialized.
type Monitor struct {
	autoPause bool
	store     *Store
	players   Players
	roster    Roster
	voice     VoiceDropper
	locks     *keylock.Manager
	metrics   *telemetry.Metrics
	ready     atomic.Bool
}

func NewMonitor(opts Options) *Monitor {
	if opts.Store == nil {
		opts.Store = NewStore()
	}
	if opts.Locks == nil {
		opts.Locks = keylock.New()
	}
	return &Monitor{
		autoPause: opts.AutoPause,
		store:     opts.Store,
		players:   opts.Players,
		roster:    opts.Roster,
		voice:     opts.Voice,
		locks:     opts.Locks,
		metrics:   opts.Metrics,
	}
}

// SetReady enables event handling. Events before ready are ignored.
func (m *Monitor) SetReady(ready bool) { m.ready.Store(ready) }

// Store exposes the per-guild state.
func (m *Monitor) Store() *Store { return m.store }

func lockKey(guildID string) string { return "presence:" + guildID }

func (m *Monitor) activeListeners(guildID, channelID string) int {
	n := 0
	for _, l := range m.roster.VoiceMembers(guildID, channelID) {
		if l.Active() {
			n++
		}
	}
	return n
}

// VoiceStateChanged handles a member's voice state change. When the bot itself
// leaves voice the guild's player and voice connection are torn down and both
// pause flags are cleared, so a later player starts from a clean state.
func (m *Monitor) VoiceStateChanged(ctx context.Context, ev VoiceEvent) error {
	if !m.ready.Load() {
		return nil
	}
	if ev.Before == "" && ev.After == "" {
		return nil
	}

	if ev.Self && ev.After == "" {
		log.Info().Str("guild", ev.GuildID).Str("channel", ev.Before).Msg("Bot was disconnected from voice")
		err := m.players.Teardown(ctx, ev.GuildID)
		if m.voice != nil {
			m.voice.DisconnectVoice(ev.GuildID)
		}
		if err != nil {
			return err
		}
		return m.Reset(ctx, ev.GuildID)
	}

	if !m.autoPause {
		return nil
	}

	return m.locks.With(ctx, lockKey(ev.GuildID), func() error {
		pb := m.players.Playback(ev.GuildID)
		if pb == nil {
			return nil
		}
		room := pb.ChannelID()

		if !ev.Self && ev.Member.Active() {
			switch {
			case room != ev.Before && room == ev.After:
				m.resume(ev.GuildID, pb, "member joined")
			case room == ev.Before && room != ev.After:
				if m.activeListeners(ev.GuildID, room) == 0 {
					m.pause(ev.GuildID, pb, "empty channel")
				}
			case room == ev.Before && room == ev.After:
				m.resume(ev.GuildID, pb, "member undeafen")
			}
			return nil
		}

		if m.activeListeners(ev.GuildID, room) > 0 {
			m.resume(ev.GuildID, pb, "listeners present")
		} else {
			m.pause(ev.GuildID, pb, "empty channel or member deafened")
		}
		return nil
	})
}

// pause auto-pauses pb unless already auto-paused or not playing.
func (m *Monitor) pause(guildID string, pb Playback, reason string) {
	st := m.store.Get(guildID)
	if st.AutoPaused || !pb.IsPlaying() {
		return
	}
	if err := pb.Pause(); err != nil {
		log.Warn().Err(err).Str("guild", guildID).Msg("Auto-pause failed")
		return
	}
	m.store.Update(guildID, func(s *GuildState) { s.AutoPaused = true })
	m.metrics.ObserveTransition("auto", "pause")
	log.Info().Str("guild", guildID).Str("channel", pb.ChannelID()).Str("reason", reason).Msg("Pausing")
}

// resume clears an auto-pause. While the guild is availability-paused the
// flag is cleared but playback stays paused.
func (m *Monitor) resume(guildID string, pb Playback, reason string) {
	st := m.store.Get(guildID)
	if !st.AutoPaused || !pb.IsPaused() {
		return
	}
	m.store.Update(guildID, func(s *GuildState) { s.AutoPaused = false })
	if st.AvailabilityPaused {
		log.Debug().Str("guild", guildID).Msg("Listeners back but guild unavailable, staying paused")
		return
	}
	if err := pb.Resume(); err != nil {
		log.Warn().Err(err).Str("guild", guildID).Msg("Auto-resume failed")
		return
	}
	m.metrics.ObserveTransition("auto", "resume")
	log.Info().Str("guild", guildID).Str("channel", pb.ChannelID()).Str("reason", reason).Msg("Unpausing")
}

// GuildUnavailable pauses a playing player of a guild that became unreachable.
func (m *Monitor) GuildUnavailable(ctx context.Context, guildID string) error {
	log.Debug().Str("guild", guildID).Msg("Guild has become unavailable")

	return m.locks.With(ctx, lockKey(guildID), func() error {
		pb := m.players.Playback(guildID)
		if pb == nil || !pb.IsPlaying() {
			return nil
		}
		if err := pb.Pause(); err != nil {
			return err
		}
		m.store.Update(guildID, func(s *GuildState) { s.AvailabilityPaused = true })
		m.metrics.ObserveTransition("availability", "pause")
		log.Info().Str("guild", guildID).Msg("Pausing player due to unavailability")
		return nil
	})
}

// GuildAvailable resumes a player paused by GuildUnavailable. If the room
// emptied in the meantime the pause is handed over to auto-pause instead.
func (m *Monitor) GuildAvailable(ctx context.Context, guildID string) error {
	if !m.ready.Load() {
		return nil
	}
	log.Debug().Str("guild", guildID).Msg("Guild has become available")

	return m.locks.With(ctx, lockKey(guildID), func() error {
		st := m.store.Get(guildID)
		if !st.AvailabilityPaused {
			return nil
		}
		m.store.Update(guildID, func(s *GuildState) { s.AvailabilityPaused = false })

		pb := m.players.Playback(guildID)
		if pb == nil || !pb.IsPaused() {
			return nil
		}
		if st.AutoPaused || (m.autoPause && m.activeListeners(guildID, pb.ChannelID()) == 0) {
			m.store.Update(guildID, func(s *GuildState) { s.AutoPaused = true })
			log.Debug().Str("guild", guildID).Msg("Guild available but room is empty, staying auto-paused")
			return nil
		}
		if err := pb.Resume(); err != nil {
			return err
		}
		m.metrics.ObserveTransition("availability", "resume")
		log.Info().Str("guild", guildID).Msg("Resuming player due to availability")
		return nil
	})
}

// Reset clears both pause flags, used when the player is torn down on
// request.
func (m *Monitor) Reset(ctx context.Context, guildID string) error {
	return m.locks.With(ctx, lockKey(guildID), func() error {
		m.store.Update(guildID, func(s *GuildState) {
			s.AutoPaused = false
			s.AvailabilityPaused = false
		})
		return nil
	})
}

// GuildRemoved forgets the guild's state.
func (m *Monitor) GuildRemoved(guildID string) {
	m.store.Remove(guildID)
}
