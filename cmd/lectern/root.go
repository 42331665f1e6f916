package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	c := &commandContext{level: new(slog.LevelVar)}

	rootCmd := &cobra.Command{
		Use:           "lectern",
		Short:         "Score how accurately a text was read aloud",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", "", "configuration file (.yaml or .toml); built-in defaults when empty")
	flags.StringVar(&c.logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
	flags.BoolVar(&c.jsonOut, "json", false, "write JSON even when stdout is a terminal")

	rootCmd.AddCommand(
		newScoreCommand(c),
		newRespeakCommand(c),
		newExplainCommand(c),
		newTokensCommand(c),
		newTranscribeCommand(c),
		newBatchCommand(c),
		newServeCommand(c),
		newMCPCommand(c),
		newConfigCommand(c),
	)
	return rootCmd
}
