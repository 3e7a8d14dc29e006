package commands

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/keshon/musicbot/internal/command"
	"github.com/keshon/musicbot/internal/core"
)

func joinServerCommand(deps Deps) command.Descriptor {
	return command.Descriptor{
		Name:        "joinserver",
		Description: "Get a link to add the bot to a server",
		Category:    CategoryOwner,
		Handler: func(ctx context.Context, inv *command.Invocation) (*core.Response, error) {
			link, err := deps.Gateway.InviteLink(ctx)
			if err != nil {
				return nil, fmt.Errorf("build invite link: %w", err)
			}
			return core.Text("Click here to add me to a server: \n" + link).WithReply().Expire(30 * time.Second), nil
		},
	}
}

func leaveServerCommand(deps Deps) command.Descriptor {
	return command.Descriptor{
		Name:        "leaveserver",
		Description: "Make the bot leave a server",
		Category:    CategoryOwner,
		Usage: `
			Usage:
			    {command_prefix}leaveserver <server id>

			Forces the bot to leave a server.`,
		OwnerOnly: true,
		Params:    []command.Param{command.Arg("server_id")},
		Handler: func(ctx context.Context, inv *command.Invocation) (*core.Response, error) {
			id := inv.String("server_id")
			if err := deps.Gateway.LeaveGuild(ctx, id); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Str("target", id).Msg("Leave guild failed")
				return nil, core.Errorf("No guild was found with the ID `%s`", id)
			}
			return core.Text(fmt.Sprintf("Left the guild: `%s`", id)), nil
		},
	}
}

// say sends text directly, ahead of returning a signal.
func say(ctx context.Context, deps Deps, channelID, text string) {
	if _, err := deps.Gateway.SendMessage(ctx, channelID, &discordgo.MessageSend{Content: text}); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("Farewell message not sent")
	}
}

func restartCommand(deps Deps) command.Descriptor {
	return command.Descriptor{
		Name:        "restart",
		Description: "Restart the bot",
		Category:    CategoryOwner,
		OwnerOnly:   true,
		Params:      []command.Param{command.Ctx(command.CtxChannel)},
		Handler: func(ctx context.Context, inv *command.Invocation) (*core.Response, error) {
			say(ctx, deps, inv.Channel().ID, "👋 Restarting.")
			return nil, core.SignalRestart
		},
	}
}

func shutdownCommand(deps Deps) command.Descriptor {
	return command.Descriptor{
		Name:        "shutdown",
		Description: "Shut the bot down",
		Category:    CategoryOwner,
		OwnerOnly:   true,
		Params:      []command.Param{command.Ctx(command.CtxChannel)},
		Handler: func(ctx context.Context, inv *command.Invocation) (*core.Response, error) {
			say(ctx, deps, inv.Channel().ID, "👋")
			return nil, core.SignalShutdown
		},
	}
}

func debugCommand(deps Deps) command.Descriptor {
	return command.Descriptor{
		Name:        "debug",
		Description: "Show runtime statistics",
		Category:    CategoryOwner,
		DevOnly:     true,
		Handler: func(ctx context.Context, inv *command.Invocation) (*core.Response, error) {
			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)

			var b strings.Builder
			fmt.Fprintf(&b, "Uptime: %s\n", time.Since(deps.Started).Round(time.Second))
			fmt.Fprintf(&b, "Goroutines: %d\n", runtime.NumGoroutine())
			fmt.Fprintf(&b, "Heap: %.1f MiB\n", float64(mem.HeapAlloc)/(1<<20))
			fmt.Fprintf(&b, "Players: %s\n", listOrNone(deps.Players.Guilds()))
			if deps.Jobs != nil {
				fmt.Fprintf(&b, "Jobs: %s", deps.Jobs.Status())
			}
			return core.Text(fmt.Sprintf("```\n%s\n```", strings.TrimRight(b.String(), "\n"))), nil
		},
	}
}
