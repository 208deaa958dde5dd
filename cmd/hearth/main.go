// Package main is the hearth CLI: the serve daemon plus the eval,
// config and tool subcommands.
//
// Start the daemon:
//
//	hearth serve --config ~/.config/hearth/config.toml
//
// Run the scheduling evaluation scenarios against the configured model:
//
//	hearth eval
//
// Environment variables override the config file; see HEARTH_HA_TOKEN,
// HEARTH_ANTHROPIC_API_KEY and friends in the config package.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configPath string
	debugMode  bool
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hearth",
		Short: "Hearth - natural-language home automation",
		Long: `Hearth compiles plain-English automation files into persisted triggers
with an LLM, keeps them live against a Home Assistant hub, and executes
firings through a tool-calling loop.

Without a subcommand it starts the daemon.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (default ~/.config/hearth/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&debugMode, "debug", "d", false, "Force debug logging")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildEvalCmd(),
		buildConfigCmd(),
		buildToolCmd(),
	)
	return rootCmd
}
