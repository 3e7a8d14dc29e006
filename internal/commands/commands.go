// Package commands holds the bot's chat commands.
package commands

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshon/musicbot/internal/command"
	"github.com/keshon/musicbot/internal/config"
	"github.com/keshon/musicbot/internal/core"
	"github.com/keshon/musicbot/internal/player"
	"github.com/keshon/musicbot/internal/presence"
	"github.com/keshon/musicbot/pkg/jobmgr"
)

const (
	CategoryMusic   = "🎵 Music"
	CategoryVoice   = "🔊 Voice"
	CategoryGeneral = "🕯️ Information"
	CategoryOwner   = "🛡️ Owner"
)

// Deps are the collaborators commands act on.
type Deps struct {
	Config   *config.Config
	Registry *command.Registry
	Players  *player.Registry
	Voice    player.VoiceConnector
	Gateway  core.Gateway
	Presence *presence.Monitor
	Jobs     *jobmgr.Manager
	Started  time.Time
}

// Register adds every command to reg, wrapping handlers with mws.
func Register(reg *command.Registry, deps Deps, mws ...command.Middleware) error {
	deps.Registry = reg
	if deps.Started.IsZero() {
		deps.Started = time.Now()
	}

	all := []command.Descriptor{
		helpCommand(deps),
		sayCommand(),
		idCommand(),
		permsCommand(deps),

		playCommand(),
		pauseCommand(),
		resumeCommand(),
		skipCommand(),
		stopCommand(),
		clearCommand(),
		shuffleCommand(),
		queueCommand(deps),
		npCommand(deps),

		summonCommand(deps),
		disconnectCommand(deps),

		joinServerCommand(deps),
		leaveServerCommand(deps),
		restartCommand(deps),
		shutdownCommand(deps),
		debugCommand(deps),
	}

	for _, d := range all {
		if err := reg.Register(d, mws...); err != nil {
			return err
		}
	}
	return nil
}

// WithLogging logs each handler call at debug level.
func WithLogging() command.Middleware {
	return func(next command.HandlerFunc) command.HandlerFunc {
		return func(ctx context.Context, inv *command.Invocation) (*core.Response, error) {
			start := time.Now()
			resp, err := next(ctx, inv)
			zerolog.Ctx(ctx).Debug().
				Dur("took", time.Since(start)).
				Bool("response", !resp.Empty()).
				AnErr("error", err).
				Msg("Handler finished")
			return resp, err
		}
	}
}
