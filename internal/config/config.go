// Package config loads the bot's read-only configuration surface from the
// environment (optionally seeded from a .env file).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// OwnerAuto asks the bot to resolve the owner from the application info.
const OwnerAuto = "auto"

// Config is the configuration consumed by the dispatch core and the presence
// monitor. It is read-only once loaded, except for the owner id resolution and
// bound channel pruning performed at startup.
type Config struct {
	Token string `env:"DISCORD_TOKEN,required,notEmpty"`

	OwnerID string   `env:"OWNER_ID"  envDefault:"auto"`
	DevIDs  []string `env:"DEV_IDS"   envSeparator:","`

	CommandPrefix string `env:"COMMAND_PREFIX" envDefault:"!"`

	BoundChannelIDs []string `env:"BOUND_CHANNELS"  envSeparator:","`
	UnboundServers  bool     `env:"UNBOUND_SERVERS" envDefault:"false"`

	Embeds         bool `env:"EMBEDS"          envDefault:"true"`
	DeleteMessages bool `env:"DELETE_MESSAGES" envDefault:"true"`
	DeleteInvoking bool `env:"DELETE_INVOKING" envDefault:"false"`

	BotExceptionIDs []string `env:"BOT_EXCEPTION_IDS" envSeparator:","`
	UserBlacklist   []string `env:"USER_BLACKLIST"    envSeparator:","`

	AutoPause      bool `env:"AUTO_PAUSE"       envDefault:"true"`
	LeaveNonOwners bool `env:"LEAVE_NON_OWNERS" envDefault:"false"`
	UseAlias       bool `env:"USE_ALIAS"        envDefault:"true"`
	DebugMode      bool `env:"DEBUG_MODE"       envDefault:"false"`

	PermissionsFile string `env:"PERMISSIONS_FILE" envDefault:"config/permissions.toml"`
	AliasesFile     string `env:"ALIASES_FILE"     envDefault:"config/aliases.toml"`

	// InvokingDeleteDelay is the grace period before deleting an invoking
	// message that produced no reply.
	InvokingDeleteDelay time.Duration `env:"INVOKING_DELETE_DELAY" envDefault:"5s"`

	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
	LogFile   string `env:"LOG_FILE"`

	MetricsAddr string `env:"METRICS_ADDR"`

	boundChannels map[string]struct{}
	botExceptions map[string]struct{}
	blacklist     map[string]struct{}
	devs          map[string]struct{}
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Failed to read .env file, using process environment only")
	}
	return Parse()
}

// Parse builds a Config from the process environment only.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	c.CommandPrefix = strings.TrimSpace(c.CommandPrefix)
	if c.CommandPrefix == "" {
		return fmt.Errorf("COMMAND_PREFIX must not be empty")
	}
	if strings.ContainsAny(c.CommandPrefix, " \t\n") {
		return fmt.Errorf("COMMAND_PREFIX must not contain whitespace")
	}
	c.OwnerID = strings.TrimSpace(c.OwnerID)
	if c.OwnerID == "" {
		c.OwnerID = OwnerAuto
	}

	c.boundChannels = toSet(c.BoundChannelIDs)
	c.botExceptions = toSet(c.BotExceptionIDs)
	c.blacklist = toSet(c.UserBlacklist)
	c.devs = toSet(c.DevIDs)
	return nil
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}

func has(set map[string]struct{}, id string) bool {
	_, ok := set[id]
	return ok
}

// IsOwner reports whether id is the resolved owner.
func (c *Config) IsOwner(id string) bool {
	return c.OwnerID != OwnerAuto && id == c.OwnerID
}

// IsDev reports whether id is in the developer list.
func (c *Config) IsDev(id string) bool { return has(c.devs, id) }

// IsBotException reports whether another bot may issue commands.
func (c *Config) IsBotException(id string) bool { return has(c.botExceptions, id) }

// IsBlacklisted reports whether id is on the global user blacklist.
func (c *Config) IsBlacklisted(id string) bool { return has(c.blacklist, id) }

// HasBoundChannels reports whether commands are restricted to channels.
func (c *Config) HasBoundChannels() bool { return len(c.boundChannels) > 0 }

// IsBound reports whether channelID is a bound channel.
func (c *Config) IsBound(channelID string) bool { return has(c.boundChannels, channelID) }

// UnbindChannel removes a channel from the bound set.
func (c *Config) UnbindChannel(channelID string) {
	delete(c.boundChannels, channelID)
}

// BoundChannels returns the bound channel ids.
func (c *Config) BoundChannels() []string {
	out := make([]string, 0, len(c.boundChannels))
	for id := range c.boundChannels {
		out = append(out, id)
	}
	return out
}
