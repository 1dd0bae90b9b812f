package main

import (
	"time"

	"github.com/spf13/cobra"
)

// buildTaskCmd creates the "task" command: a bounded Engine.RunTask loop.
func buildTaskCmd() *cobra.Command {
	var (
		configPath    string
		provider      string
		model         string
		maxIterations int
		wallClock     time.Duration
		tokenBudget   int
	)

	cmd := &cobra.Command{
		Use:   "task [prompt]",
		Short: "Run a bounded task to completion",
		Long: `Create a new agent and drive Engine.RunTask until a stop condition
fires: the iteration bound, an optional wall-clock timeout, an optional
token budget, or the engine's own completion/error conditions.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTask(cmd, taskOptions{
				configPath:    configPath,
				provider:      provider,
				model:         model,
				prompt:        args[0],
				maxIterations: maxIterations,
				wallClock:     wallClock,
				tokenBudget:   tokenBudget,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVar(&provider, "provider", "", "Model provider (defaults to llm.default_provider)")
	cmd.Flags().StringVar(&model, "model", "", "Model name (defaults to the provider's default_model)")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "Override engine.max_iterations")
	cmd.Flags().DurationVar(&wallClock, "timeout", 0, "Stop the task after this long")
	cmd.Flags().IntVar(&tokenBudget, "token-budget", 0, "Stop the task once this many tokens have been used")
	return cmd
}
