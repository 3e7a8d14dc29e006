package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/keshon/musicbot/internal/command"
	"github.com/keshon/musicbot/internal/core"
)

func helpCommand(deps Deps) command.Descriptor {
	return command.Descriptor{
		Name:        "help",
		Description: "Show the commands you can use",
		Category:    CategoryGeneral,
		Usage: `
			Usage:
			    {command_prefix}help [command]

			Prints a help message. If a command is given, its usage is shown.
			"{command_prefix}help all" lists every command.`,
		Params: []command.Param{
			command.Ctx(command.CtxPermissions),
			command.OptArg("command", ""),
		},
		Handler: func(ctx context.Context, inv *command.Invocation) (*core.Response, error) {
			prefix := deps.Config.CommandPrefix
			name := strings.ToLower(strings.TrimPrefix(inv.String("command"), prefix))

			if name != "" && name != "all" {
				d := deps.Registry.Get(name)
				if d == nil || d.DevOnly {
					return nil, core.NewCommandError("No such command", 10*time.Second)
				}
				usage := command.UsageText(d, prefix, command.ExpectedParams(d))
				return core.Text(fmt.Sprintf("```\n%s\n```", usage)).Expire(60 * time.Second), nil
			}

			visible := deps.Registry.Visible(inv.Permissions(), name == "all")
			return core.Text(formatHelp(visible, prefix)).Expire(60 * time.Second), nil
		},
	}
}

func formatHelp(cmds []*command.Descriptor, prefix string) string {
	byCategory := make(map[string][]*command.Descriptor)
	for _, d := range cmds {
		byCategory[d.Category] = append(byCategory[d.Category], d)
	}
	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	var b strings.Builder
	for _, c := range categories {
		if c != "" {
			fmt.Fprintf(&b, "**%s**\n", c)
		}
		for _, d := range byCategory[c] {
			fmt.Fprintf(&b, "`%s%s` %s\n", prefix, d.Name, d.Description)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "For information about a particular command, run `%shelp [command]`", prefix)
	return b.String()
}

func sayCommand() command.Descriptor {
	return command.Descriptor{
		Name:        "say",
		Description: "Repeat a message",
		Category:    CategoryGeneral,
		Params:      []command.Param{command.Rest("text")},
		Handler: func(ctx context.Context, inv *command.Invocation) (*core.Response, error) {
			text := inv.String("text")
			if text == "" {
				return nil, core.NewCommandError("Nothing to say.", 10*time.Second)
			}
			return core.Text(text), nil
		},
	}
}

func idCommand() command.Descriptor {
	return command.Descriptor{
		Name:        "id",
		Description: "Show your id or the id of a mentioned user",
		Category:    CategoryGeneral,
		Params: []command.Param{
			command.Ctx(command.CtxAuthor),
			command.Ctx(command.CtxUserMentions),
		},
		Handler: func(ctx context.Context, inv *command.Invocation) (*core.Response, error) {
			if mentions := inv.UserMentions(); len(mentions) > 0 && mentions[0].User != nil {
				u := mentions[0].User
				return core.Text(fmt.Sprintf("**%s**'s ID is `%s`", u.Username, u.ID)).WithReply().Expire(35 * time.Second), nil
			}
			return core.Text(fmt.Sprintf("your ID is `%s`", inv.Author().ID)).WithReply().Expire(35 * time.Second), nil
		},
	}
}

func permsCommand(deps Deps) command.Descriptor {
	return command.Descriptor{
		Name:        "perms",
		Description: "Send your permissions by direct message",
		Category:    CategoryGeneral,
		Params: []command.Param{
			command.Ctx(command.CtxAuthor),
			command.Ctx(command.CtxPermissions),
		},
		Handler: func(ctx context.Context, inv *command.Invocation) (*core.Response, error) {
			perms := inv.Permissions()
			white, black, voice := perms.Lists()

			var b strings.Builder
			fmt.Fprintf(&b, "Your command permissions (group **%s**):\n", perms.Name())
			fmt.Fprintf(&b, "Command whitelist: %s\n", listOrNone(white))
			fmt.Fprintf(&b, "Command blacklist: %s\n", listOrNone(black))
			fmt.Fprintf(&b, "Requires voice: %s", listOrNone(voice))

			if err := deps.Gateway.SendDirectMessage(ctx, inv.Author().ID, b.String()); err != nil {
				return nil, core.NewCommandError("I could not send you a direct message.", 20*time.Second)
			}
			return core.Text("📬").WithReply().Expire(20 * time.Second), nil
		},
	}
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
