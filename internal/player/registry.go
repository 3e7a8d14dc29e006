package player

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/keshon/musicbot/internal/telemetry"
	"github.com/keshon/musicbot/pkg/keylock"
)

// ErrNoVoiceChannel is returned when a player must be created but no voice
// channel is known.
var ErrNoVoiceChannel = errors.New("no voice channel to join")

// VoiceConnector opens voice links.
type VoiceConnector interface {
	JoinVoice(ctx context.Context, guildID, channelID string) (VoiceLink, error)
}

// Registry owns the players, one per guild.
type Registry struct {
	voice    VoiceConnector
	locks    *keylock.Manager
	metrics  *telemetry.Metrics
	onUpdate func(*Player, Update)

	mu      sync.RWMutex
	players map[string]*Player
}

// NewRegistry returns an empty registry. locks may be shared with other
// components; keys are prefixed with "player:".
func NewRegistry(voice VoiceConnector, locks *keylock.Manager, metrics *telemetry.Metrics) *Registry {
	if locks == nil {
		locks = keylock.New()
	}
	return &Registry{
		voice:   voice,
		locks:   locks,
		metrics: metrics,
		players: make(map[string]*Player),
	}
}

// OnUpdate installs a listener fed with every status update of players
// created afterwards.
func (r *Registry) OnUpdate(fn func(*Player, Update)) {
	r.mu.Lock()
	r.onUpdate = fn
	r.mu.Unlock()
}

func lockKey(guildID string) string { return "player:" + guildID }

// GetOrCreate returns the guild's player, joining channelID to create one when
// none exists. Concurrent callers for the same guild get the same player.
func (r *Registry) GetOrCreate(ctx context.Context, guildID, channelID string) (*Player, error) {
	release, err := r.locks.Acquire(ctx, lockKey(guildID))
	if err != nil {
		return nil, err
	}
	defer release()

	if p := r.Get(guildID); p != nil {
		return p, nil
	}
	if channelID == "" {
		return nil, ErrNoVoiceChannel
	}

	link, err := r.voice.JoinVoice(ctx, guildID, channelID)
	if err != nil {
		return nil, fmt.Errorf("join voice channel %s: %w", channelID, err)
	}

	p := New(guildID, link)

	r.mu.Lock()
	r.players[guildID] = p
	listener := r.onUpdate
	n := len(r.players)
	r.mu.Unlock()

	r.metrics.SetPlayers(n)
	log.Info().Str("guild", guildID).Str("channel", channelID).Msg("Created player")

	go func() {
		for u := range p.Updates {
			if listener != nil {
				listener(p, u)
			}
		}
	}()
	return p, nil
}

// Get returns the live player of a guild without creating one.
func (r *Registry) Get(guildID string) *Player {
	r.mu.RLock()
	p := r.players[guildID]
	r.mu.RUnlock()
	if p == nil || p.Killed() {
		return nil
	}
	return p
}

func (r *Registry) take(guildID string) *Player {
	r.mu.Lock()
	p := r.players[guildID]
	delete(r.players, guildID)
	n := len(r.players)
	r.mu.Unlock()

	r.metrics.SetPlayers(n)
	return p
}

// Kill removes and kills the guild's player, keeping its voice link open.
func (r *Registry) Kill(ctx context.Context, guildID string) bool {
	release, err := r.locks.Acquire(ctx, lockKey(guildID))
	if err != nil {
		return false
	}
	defer release()

	p := r.take(guildID)
	if p == nil {
		return false
	}
	p.Kill()
	log.Info().Str("guild", guildID).Msg("Killed player")
	return true
}

// Teardown kills the guild's player and disconnects its voice link.
func (r *Registry) Teardown(ctx context.Context, guildID string) error {
	release, err := r.locks.Acquire(ctx, lockKey(guildID))
	if err != nil {
		return err
	}
	defer release()

	p := r.take(guildID)
	if p == nil {
		return nil
	}
	log.Info().Str("guild", guildID).Msg("Tearing down player")
	return p.Disconnect()
}

// KillAll tears down every player.
func (r *Registry) KillAll(ctx context.Context) {
	for _, guildID := range r.Guilds() {
		if err := r.Teardown(ctx, guildID); err != nil {
			log.Warn().Err(err).Str("guild", guildID).Msg("Teardown failed")
		}
	}
}

// Guilds lists guilds with a player, sorted.
func (r *Registry) Guilds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.players))
	for id := range r.players {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}
