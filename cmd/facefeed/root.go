package main

import (
	"errors"
	"io/fs"
	"log/slog"

	"github.com/spf13/cobra"

	"facefeed/internal/platform/config"
	"facefeed/internal/platform/logger"
)

// commandContext carries what every subcommand needs once flags are parsed.
type commandContext struct {
	envFile string
	cfg     config.Config
	log     *slog.Logger
}

func newRootCommand() *cobra.Command {
	cc := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "facefeed",
		Short:         "Live face detection feed reconciler",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Load(cc.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			cc.cfg = cfg
			cc.log = logger.New(cfg.LogLevel, cfg.LogFormat)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&cc.envFile, "env-file", ".env", "Path to a .env file")

	rootCmd.AddCommand(newServeCommand(cc))
	rootCmd.AddCommand(newWatchCommand(cc))
	return rootCmd
}
