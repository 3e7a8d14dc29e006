package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/keshon/musicbot/internal/command"
	"github.com/keshon/musicbot/internal/core"
)

func summonCommand(deps Deps) command.Descriptor {
	return command.Descriptor{
		Name:        "summon",
		Description: "Call the bot to your voice channel",
		Category:    CategoryVoice,
		Params: []command.Param{
			command.Ctx(command.CtxGuild),
			command.Ctx(command.CtxChannel),
			command.Ctx(command.CtxVoiceChannel),
		},
		Handler: func(ctx context.Context, inv *command.Invocation) (*core.Response, error) {
			guildID, target := inv.GuildID(), inv.VoiceChannel()
			if target == "" {
				return nil, core.NewCommandError("You are not connected to voice. Try joining a voice channel!", 20*time.Second)
			}

			if p := deps.Players.Get(guildID); p != nil {
				if p.ChannelID() != target {
					link, err := deps.Voice.JoinVoice(ctx, guildID, target)
					if err != nil {
						return nil, core.NewCommandError(fmt.Sprintf("Could not join your voice channel: %v", err), 30*time.Second)
					}
					p.MoveTo(link)
				}
				p.SetTextChannel(inv.Channel().ID)
			} else {
				p, err := deps.Players.GetOrCreate(ctx, guildID, target)
				if err != nil {
					return nil, core.NewCommandError(fmt.Sprintf("Could not join your voice channel: %v", err), 30*time.Second)
				}
				p.SetTextChannel(inv.Channel().ID)
			}

			return core.Text(fmt.Sprintf("Connected to <#%s>", target)).Expire(20 * time.Second), nil
		},
	}
}

func disconnectCommand(deps Deps) command.Descriptor {
	return command.Descriptor{
		Name:        "disconnect",
		Description: "Leave the voice channel and drop the queue",
		Category:    CategoryVoice,
		Params:      []command.Param{command.Ctx(command.CtxRawPlayer), command.Ctx(command.CtxGuild)},
		Handler: func(ctx context.Context, inv *command.Invocation) (*core.Response, error) {
			if inv.RawPlayer() == nil {
				return nil, core.NewCommandError("The bot is not in a voice channel.", 20*time.Second)
			}
			if err := deps.Players.Teardown(ctx, inv.GuildID()); err != nil {
				return nil, fmt.Errorf("teardown guild %s: %w", inv.GuildID(), err)
			}
			if deps.Presence != nil {
				if err := deps.Presence.Reset(ctx, inv.GuildID()); err != nil {
					return nil, err
				}
			}
			return core.Text("👋 Disconnected.").Expire(20 * time.Second), nil
		},
	}
}
