package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/keshon/musicbot/internal/config"
	"github.com/keshon/musicbot/internal/core"
	"github.com/keshon/musicbot/internal/discord"
	"github.com/keshon/musicbot/internal/logging"
	"github.com/keshon/musicbot/internal/telemetry"
)

const appName = "musicbot"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          appName,
		Short:        "Chat-driven music bot for Discord",
		SilenceUsage: true,
	}
	cmd.AddCommand(newRunCommand(), newVersionCommand())
	return cmd
}

func newRunCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to Discord and serve commands until shut down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			metrics := telemetry.New()
			return runLoop(ctx, func(ctx context.Context) (core.Signal, error) {
				return session(ctx, metrics, debug)
			})
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Force debug logging")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", appName, version)
		},
	}
}

// session runs one bot session with freshly loaded configuration.
func session(ctx context.Context, metrics *telemetry.Metrics, debug bool) (core.Signal, error) {
	cfg, err := config.Load()
	if err != nil {
		return core.SignalNone, err
	}
	opts := logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile}
	if debug {
		opts.Level = "debug"
	}
	_, logFile := logging.Setup(opts)
	defer logFile.Close()

	log.Info().Str("version", version).Msgf("Starting %s", appName)

	bot, err := discord.New(cfg, metrics)
	if err != nil {
		return core.SignalNone, err
	}
	return bot.Run(ctx)
}

// runLoop starts sessions until one ends without asking for a restart.
func runLoop(ctx context.Context, start func(context.Context) (core.Signal, error)) error {
	for {
		sig, err := start(ctx)
		if err != nil {
			var helpful *core.HelpfulError
			if errors.As(err, &helpful) {
				log.Error().Str("solution", helpful.Solution).Msg(helpful.Issue)
			}
			return err
		}
		if sig != core.SignalRestart || ctx.Err() != nil {
			log.Info().Stringer("signal", sig).Msg("Bot exited cleanly")
			return nil
		}
		log.Info().Msg("Restarting")
	}
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
