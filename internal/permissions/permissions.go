// Package permissions resolves a user's immutable permission set from a TOML
// file of groups.
//
//	[default]
//	command_blacklist = ["shutdown", "restart"]
//
//	[[group]]
//	name = "DJ"
//	users = ["123456789012345678"]
//	roles = ["234567890123456789"]
//	ignore_non_voice = ["play", "skip"]
package permissions

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
)

// Set is a user's permission set. It is never mutated after construction.
type Set struct {
	name      string
	whitelist map[string]struct{}
	blacklist map[string]struct{}
	nonVoice  map[string]struct{}
}

// NewSet builds a Set. Command names are lower-cased.
func NewSet(name string, whitelist, blacklist, ignoreNonVoice []string) *Set {
	return &Set{
		name:      name,
		whitelist: toSet(whitelist),
		blacklist: toSet(blacklist),
		nonVoice:  toSet(ignoreNonVoice),
	}
}

func toSet(names []string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" {
			out[n] = struct{}{}
		}
	}
	return out
}

// Name is the group label used in error messages.
func (s *Set) Name() string { return s.name }

// HasWhitelist reports whether the group restricts commands to a whitelist.
func (s *Set) HasWhitelist() bool { return len(s.whitelist) > 0 }

// Whitelisted reports whether cmd is on the whitelist.
func (s *Set) Whitelisted(cmd string) bool {
	_, ok := s.whitelist[cmd]
	return ok
}

// Blacklisted reports whether cmd is on the blacklist.
func (s *Set) Blacklisted(cmd string) bool {
	_, ok := s.blacklist[cmd]
	return ok
}

// RequiresVoice reports whether cmd needs the sender to be in a voice channel.
func (s *Set) RequiresVoice(cmd string) bool {
	_, ok := s.nonVoice[cmd]
	return ok
}

// Lists returns the sorted whitelist, blacklist and voice-required commands.
func (s *Set) Lists() (whitelist, blacklist, nonVoice []string) {
	return sortedKeys(s.whitelist), sortedKeys(s.blacklist), sortedKeys(s.nonVoice)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Allows reports whether the set permits cmd. A non-empty whitelist is
// checked first; a whitelisted command is still refused when blacklisted.
func (s *Set) Allows(cmd string) bool {
	if s.HasWhitelist() && !s.Whitelisted(cmd) {
		return false
	}
	return !s.Blacklisted(cmd)
}

// Evaluator returns the permission set of a sender. member is nil in private
// channels.
type Evaluator interface {
	ForUser(user *discordgo.User, member *discordgo.Member) *Set
}

// GroupConfig is one group entry of the permissions file.
type GroupConfig struct {
	Name             string   `toml:"name"`
	Users            []string `toml:"users"`
	Roles            []string `toml:"roles"`
	CommandWhitelist []string `toml:"command_whitelist"`
	CommandBlacklist []string `toml:"command_blacklist"`
	IgnoreNonVoice   []string `toml:"ignore_non_voice"`
}

// File is the permissions file layout.
type File struct {
	Default GroupConfig   `toml:"default"`
	Groups  []GroupConfig `toml:"group"`
}

type group struct {
	cfg GroupConfig
	set *Set
}

// Permissions evaluates senders against configured groups. Users listed
// explicitly win over role grants; the first matching group wins within each
// pass.
type Permissions struct {
	mu       sync.RWMutex
	def      *Set
	owner    *Set
	grantAll []string
	groups   []group
}

// Load reads the permissions file at path. A missing file yields the default
// group only. Users in grantAll get an unrestricted set.
func Load(path string, grantAll ...string) (*Permissions, error) {
	var f File
	if _, err := toml.DecodeFile(path, &f); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load permissions %s: %w", path, err)
		}
		log.Warn().Str("path", path).Msg("Permissions file not found, using defaults")
	}
	return New(f, grantAll...), nil
}

// Parse decodes permissions from TOML text.
func Parse(data string, grantAll ...string) (*Permissions, error) {
	var f File
	if _, err := toml.Decode(data, &f); err != nil {
		return nil, fmt.Errorf("parse permissions: %w", err)
	}
	return New(f, grantAll...), nil
}

// New builds Permissions from a decoded file.
func New(f File, grantAll ...string) *Permissions {
	if f.Default.Name == "" {
		f.Default.Name = "Default"
	}
	p := &Permissions{
		def:      fromConfig(f.Default),
		owner:    NewSet("Owner (auto)", nil, nil, nil),
		grantAll: slices.Clone(grantAll),
	}
	for i, g := range f.Groups {
		if g.Name == "" {
			g.Name = fmt.Sprintf("Group %d", i+1)
		}
		p.groups = append(p.groups, group{cfg: g, set: fromConfig(g)})
	}
	return p
}

func fromConfig(g GroupConfig) *Set {
	return NewSet(g.Name, g.CommandWhitelist, g.CommandBlacklist, g.IgnoreNonVoice)
}

// GrantAll adds user ids that receive the unrestricted set, used once the
// owner id is resolved at startup.
func (p *Permissions) GrantAll(ids ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.grantAll = append(p.grantAll, ids...)
}

// ForUser implements Evaluator.
func (p *Permissions) ForUser(user *discordgo.User, member *discordgo.Member) *Set {
	if user == nil {
		return p.def
	}
	p.mu.RLock()
	granted := slices.Contains(p.grantAll, user.ID)
	p.mu.RUnlock()
	if granted {
		return p.owner
	}

	for _, g := range p.groups {
		if slices.Contains(g.cfg.Users, user.ID) {
			return g.set
		}
	}

	if member != nil {
		for _, g := range p.groups {
			for _, role := range member.Roles {
				if slices.Contains(g.cfg.Roles, role) {
					return g.set
				}
			}
		}
	}

	return p.def
}

// Default returns the fallback set.
func (p *Permissions) Default() *Set { return p.def }
