package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/hearth/internal/agent"
	"github.com/haasonsaas/hearth/internal/config"
	"github.com/haasonsaas/hearth/internal/eval"
	"github.com/haasonsaas/hearth/internal/observability"
)

func buildEvalCmd() *cobra.Command {
	var scenarioName string
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Run the scheduling scenarios against the configured model",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			location, err := cfg.Location()
			if err != nil {
				return err
			}

			logLevel := cfg.LogLevel
			if debugMode {
				logLevel = "debug"
			}
			logger := observability.NewLogger(observability.LogConfig{Level: logLevel})

			ref := cfg.AutomationModelRef()
			driver, err := buildDriver(cfg, ref, logger)
			if err != nil {
				return err
			}

			workDir, err := os.MkdirTemp("", "hearth-eval-*")
			if err != nil {
				return err
			}
			defer os.RemoveAll(workDir)

			runner := &eval.Runner{
				Driver:   driver,
				Model:    modelName(ref),
				Engine:   agent.NewEngine(agent.WithLogger(logger)),
				Location: location,
				Logger:   logger,
				WorkDir:  workDir,
			}
			results, err := runner.Run(cmd.Context(), scenarioName)
			if err != nil {
				return err
			}
			if !eval.Report(cmd.OutOrStdout(), results) {
				return fmt.Errorf("%d scenario(s) failed", countFailed(results))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&scenarioName, "scenario", "", "Run only the named scenario")
	return cmd
}

func countFailed(results []eval.Result) int {
	n := 0
	for _, r := range results {
		if !r.Pass {
			n++
		}
	}
	return n
}
