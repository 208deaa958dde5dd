package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/hearth/internal/agent"
	"github.com/haasonsaas/hearth/internal/config"
	"github.com/haasonsaas/hearth/internal/hub"
	"github.com/haasonsaas/hearth/internal/observability"
	"github.com/haasonsaas/hearth/internal/rpc"
	"github.com/haasonsaas/hearth/internal/tools/homeassistant"
	"github.com/haasonsaas/hearth/internal/tools/notify"
)

// buildToolCmd exposes tool servers on stdin/stdout as NDJSON, so other
// processes can borrow hearth's hub access.
func buildToolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tool",
		Short: "Serve a tool server over stdio",
	}
	cmd.AddCommand(buildToolHomeAssistantCmd(), buildToolNotifyCmd(), buildToolCallServiceCmd())
	return cmd
}

func buildToolHomeAssistantCmd() *cobra.Command {
	var full bool
	var testMode bool
	cmd := &cobra.Command{
		Use:   "home-assistant",
		Short: "Serve the home-assistant tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := homeassistant.ModeReadOnly
			if full {
				mode = homeassistant.ModeFull
			}
			return serveTool(cmd, func(client *hub.Client) agent.ToolServer {
				return homeassistant.NewServer(client, mode, testMode)
			})
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "Allow service calls")
	cmd.Flags().BoolVar(&testMode, "test-mode", false, "Log would-be service calls instead of making them")
	return cmd
}

func buildToolNotifyCmd() *cobra.Command {
	var testMode bool
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Serve the notification tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveTool(cmd, func(client *hub.Client) agent.ToolServer {
				return notify.NewServer(client, testMode)
			})
		},
	}
	cmd.Flags().BoolVar(&testMode, "test-mode", false, "Log would-be notifications instead of sending them")
	return cmd
}

func buildToolCallServiceCmd() *cobra.Command {
	var testMode bool
	cmd := &cobra.Command{
		Use:   "call-service",
		Short: "Serve the home-assistant tools with service calls enabled",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveTool(cmd, func(client *hub.Client) agent.ToolServer {
				return homeassistant.NewServer(client, homeassistant.ModeFull, testMode)
			})
		},
	}
	cmd.Flags().BoolVar(&testMode, "test-mode", false, "Log would-be service calls instead of making them")
	return cmd
}

// serveTool connects the hub client, mounts the tool server on stdio,
// and serves until stdin closes. Diagnostics go to stderr; stdout
// carries only protocol lines.
func serveTool(cmd *cobra.Command, build func(*hub.Client) agent.ToolServer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logLevel := cfg.LogLevel
	if debugMode {
		logLevel = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  logLevel,
		Output: os.Stderr,
	})

	client := hub.New(cfg.HABaseURL, cfg.HAToken, hub.WithLogger(logger))
	if err := client.Connect(cmd.Context()); err != nil {
		return fmt.Errorf("connect to hub at %s: %w", cfg.HABaseURL, err)
	}
	defer client.Close()

	return rpc.ServeStdio(cmd.Context(), build(client), os.Stdin, os.Stdout)
}
