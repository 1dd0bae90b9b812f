package main

import (
	"github.com/spf13/cobra"
)

// buildRunCmd creates the "run" command: one Engine.RunTurn against a
// freshly created agent.
func buildRunCmd() *cobra.Command {
	var (
		configPath string
		provider   string
		model      string
	)

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run a single turn against a fresh agent",
		Long: `Create a new agent and run exactly one Engine.RunTurn: append the
prompt, stream a model response, parse and execute any actions it contains,
and print the resulting assistant message.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, configPath, provider, model, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVar(&provider, "provider", "", "Model provider (defaults to llm.default_provider)")
	cmd.Flags().StringVar(&model, "model", "", "Model name (defaults to the provider's default_model)")
	return cmd
}
