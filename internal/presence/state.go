// Package presence pauses and resumes playback as listeners come and go and
// as guilds lose and regain availability.
package presence

import (
	"sync"

	"github.com/keshon/musicbot/internal/core"
)

// GuildState is the per-guild presence record.
type GuildState struct {
	AutoPaused         bool
	AvailabilityPaused bool
	LastNowPlaying     *core.MessageRef
}

// Store holds GuildState values, created lazily on first access.
type Store struct {
	mu     sync.Mutex
	guilds map[string]*GuildState
}

func NewStore() *Store {
	return &Store{guilds: make(map[string]*GuildState)}
}

func (s *Store) entry(guildID string) *GuildState {
	st, ok := s.guilds[guildID]
	if !ok {
		st = &GuildState{}
		s.guilds[guildID] = st
	}
	return st
}

// Get returns a snapshot of the guild's state.
func (s *Store) Get(guildID string) GuildState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := *s.entry(guildID)
	if st.LastNowPlaying != nil {
		ref := *st.LastNowPlaying
		st.LastNowPlaying = &ref
	}
	return st
}

// Update applies fn to the guild's state.
func (s *Store) Update(guildID string, fn func(*GuildState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.entry(guildID))
}

// SwapNowPlaying records ref as the latest now-playing message and returns
// the one it replaces.
func (s *Store) SwapNowPlaying(guildID string, ref *core.MessageRef) *core.MessageRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.entry(guildID)
	prev := st.LastNowPlaying
	st.LastNowPlaying = ref
	return prev
}

// Remove forgets the guild.
func (s *Store) Remove(guildID string) {
	s.mu.Lock()
	delete(s.guilds, guildID)
	s.mu.Unlock()
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.guilds)
}
