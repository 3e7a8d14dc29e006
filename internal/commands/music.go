package commands

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/musicbot/internal/command"
	"github.com/keshon/musicbot/internal/core"
	"github.com/keshon/musicbot/internal/player"
)

const queuePageSize = 10

func playCommand() command.Descriptor {
	return command.Descriptor{
		Name:        "play",
		Description: "Add a song to the queue",
		Category:    CategoryMusic,
		Usage: `
			Usage:
			    {command_prefix}play song_link
			    {command_prefix}play text to search for

			Adds the song to the playlist. If no link is provided, the rest of
			the message is used as the search query.`,
		Params: []command.Param{
			command.Ctx(command.CtxPlayer),
			command.Ctx(command.CtxChannel),
			command.Ctx(command.CtxAuthor),
			command.Ctx(command.CtxLeftoverArgs),
			command.Arg("song_url"),
		},
		Handler: func(ctx context.Context, inv *command.Invocation) (*core.Response, error) {
			p := inv.Player()
			query := strings.Join(inv.LeftoverArgs(), " ")
			if query == "" {
				query = inv.String("song_url")
			}
			if err := checkLink(query); err != nil {
				return nil, core.NewExtractionError("Could not extract info from the link you provided.", err)
			}
			p.SetTextChannel(inv.Channel().ID)

			track := player.Track{URL: query, RequestedBy: inv.Author().ID}
			pos, err := p.Enqueue(track)
			if err != nil {
				return nil, core.NewCommandError(fmt.Sprintf("Could not queue **%s**: %v", track.Name(), err), 30*time.Second)
			}
			if pos == 0 {
				return core.Text(fmt.Sprintf("Playing **%s** now.", track.Name())).Expire(30 * time.Second), nil
			}
			return core.Text(fmt.Sprintf("Enqueued **%s** to be played. Position in queue: %d", track.Name(), pos)).
				Expire(30 * time.Second), nil
		},
	}
}

// checkLink rejects a query that looks like a link but cannot be one.
// Anything without a scheme is a search query.
func checkLink(query string) error {
	if !strings.Contains(query, "://") {
		return nil
	}
	u, err := url.Parse(query)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return fmt.Errorf("link %q has no host", query)
	}
	return nil
}

func pauseCommand() command.Descriptor {
	return command.Descriptor{
		Name:        "pause",
		Description: "Pause playback of the current song",
		Category:    CategoryMusic,
		Params:      []command.Param{command.Ctx(command.CtxPlayer)},
		Handler: func(ctx context.Context, inv *command.Invocation) (*core.Response, error) {
			if err := inv.Player().Pause(); err != nil {
				return nil, core.NewCommandError("Player is not playing.", 30*time.Second)
			}
			return core.Text("⏸ Paused music.").Expire(15 * time.Second), nil
		},
	}
}

func resumeCommand() command.Descriptor {
	return command.Descriptor{
		Name:        "resume",
		Description: "Resume playback of a paused song",
		Category:    CategoryMusic,
		Params:      []command.Param{command.Ctx(command.CtxPlayer)},
		Handler: func(ctx context.Context, inv *command.Invocation) (*core.Response, error) {
			if err := inv.Player().Resume(); err != nil {
				return nil, core.NewCommandError("Player is not paused.", 30*time.Second)
			}
			return core.Text("▶️ Resumed music.").Expire(15 * time.Second), nil
		},
	}
}

func skipCommand() command.Descriptor {
	return command.Descriptor{
		Name:        "skip",
		Description: "Skip the current song",
		Category:    CategoryMusic,
		Params:      []command.Param{command.Ctx(command.CtxPlayer)},
		Handler: func(ctx context.Context, inv *command.Invocation) (*core.Response, error) {
			skipped, err := inv.Player().Skip()
			if err != nil {
				return nil, core.NewCommandError("Can't skip! The player is not playing!", 20*time.Second)
			}
			return core.Text(fmt.Sprintf("⏭ Skipped **%s**.", skipped.Name())).Expire(20 * time.Second), nil
		},
	}
}

func stopCommand() command.Descriptor {
	return command.Descriptor{
		Name:        "stop",
		Description: "Stop playback and empty the queue",
		Category:    CategoryMusic,
		Params:      []command.Param{command.Ctx(command.CtxPlayer)},
		Handler: func(ctx context.Context, inv *command.Invocation) (*core.Response, error) {
			if err := inv.Player().Stop(); err != nil {
				return nil, core.NewCommandError("Nothing is playing.", 20*time.Second)
			}
			return core.Text("⏹ Stopped.").Expire(20 * time.Second), nil
		},
	}
}

func clearCommand() command.Descriptor {
	return command.Descriptor{
		Name:        "clear",
		Description: "Remove every queued song",
		Category:    CategoryMusic,
		Params:      []command.Param{command.Ctx(command.CtxPlayer)},
		Handler: func(ctx context.Context, inv *command.Invocation) (*core.Response, error) {
			n := inv.Player().Clear()
			return core.Text(fmt.Sprintf("🗑 Cleared `%d` entries from the queue.", n)).Expire(20 * time.Second), nil
		},
	}
}

func shuffleCommand() command.Descriptor {
	return command.Descriptor{
		Name:        "shuffle",
		Description: "Shuffle the queue",
		Category:    CategoryMusic,
		Params:      []command.Param{command.Ctx(command.CtxPlayer)},
		Handler: func(ctx context.Context, inv *command.Invocation) (*core.Response, error) {
			p := inv.Player()
			p.Shuffle()
			return core.Text(fmt.Sprintf("🔀 Shuffled `%d` songs.", len(p.Queue()))).Expire(15 * time.Second), nil
		},
	}
}

func queueCommand(deps Deps) command.Descriptor {
	return command.Descriptor{
		Name:        "queue",
		Description: "Show the queue",
		Category:    CategoryMusic,
		Params: []command.Param{
			command.Ctx(command.CtxRawPlayer),
			command.OptArg("page", "1"),
		},
		Handler: func(ctx context.Context, inv *command.Invocation) (*core.Response, error) {
			p := inv.RawPlayer()
			if p == nil {
				return nil, core.Errorf("There are no songs queued! Queue something with %splay.", deps.Config.CommandPrefix)
			}
			page, err := strconv.Atoi(inv.String("page"))
			if err != nil || page < 1 {
				return nil, core.NewCommandError(fmt.Sprintf("`%s` is not a valid page number.", inv.String("page")), 20*time.Second)
			}
			return core.Text(formatQueue(p, page, deps.Config.CommandPrefix)).Expire(60 * time.Second), nil
		},
	}
}

func formatQueue(p *player.Player, page int, prefix string) string {
	var b strings.Builder

	if cur, err := p.Current(); err == nil {
		state := "Now playing"
		if p.IsPaused() {
			state = "Paused"
		}
		fmt.Fprintf(&b, "%s: **%s**\n", state, cur.Name())
	}

	queue := p.Queue()
	if len(queue) == 0 {
		if b.Len() == 0 {
			return fmt.Sprintf("There are no songs queued! Queue something with %splay.", prefix)
		}
		return strings.TrimRight(b.String(), "\n")
	}

	pages := (len(queue) + queuePageSize - 1) / queuePageSize
	if page > pages {
		page = pages
	}
	start := (page - 1) * queuePageSize
	end := min(start+queuePageSize, len(queue))
	for i := start; i < end; i++ {
		fmt.Fprintf(&b, "`%d.` %s\n", i+1, queue[i].Name())
	}
	if pages > 1 {
		fmt.Fprintf(&b, "Page %d/%d", page, pages)
	}
	return strings.TrimRight(b.String(), "\n")
}

func npCommand(deps Deps) command.Descriptor {
	return command.Descriptor{
		Name:        "np",
		Description: "Show the current song",
		Category:    CategoryMusic,
		Params:      []command.Param{command.Ctx(command.CtxRawPlayer)},
		Handler: func(ctx context.Context, inv *command.Invocation) (*core.Response, error) {
			p := inv.RawPlayer()
			if p == nil {
				return nil, core.Errorf("There are no songs queued! Queue something with %splay.", deps.Config.CommandPrefix)
			}
			if p.IsStopped() {
				if history := p.History(); len(history) > 0 {
					last := history[len(history)-1]
					return nil, core.Errorf("Nothing is playing. Last played: **%s**. Queue something with %splay.", last.Name(), deps.Config.CommandPrefix)
				}
				return nil, core.Errorf("There are no songs queued! Queue something with %splay.", deps.Config.CommandPrefix)
			}
			cur, err := p.Current()
			if err != nil {
				return nil, core.Errorf("There are no songs queued! Queue something with %splay.", deps.Config.CommandPrefix)
			}
			return core.Rich(NowPlayingEmbed(p, cur)).Expire(30 * time.Second), nil
		},
	}
}

// NowPlayingEmbed renders the current track of p.
func NowPlayingEmbed(p *player.Player, t *player.Track) *discordgo.MessageEmbed {
	status := player.StatusPlaying
	if p.IsPaused() {
		status = player.StatusPaused
	}
	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("%s %s", status.StringEmoji(), status),
		Description: fmt.Sprintf("**%s**", t.Name()),
		Color:       core.EmbedColor,
	}
	if t.RequestedBy != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: "Requested by", Value: "<@" + t.RequestedBy + ">", Inline: true,
		})
	}
	if n := len(p.Queue()); n > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: "Up next", Value: strconv.Itoa(n), Inline: true,
		})
	}
	return embed
}
