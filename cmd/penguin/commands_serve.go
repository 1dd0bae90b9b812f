package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command: keep a Runtime resident,
// printing every EventBus event to stdout until interrupted.
func buildServeCmd() *cobra.Command {
	var (
		configPath  string
		metricsPort int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Keep the runtime resident, streaming engine events",
		Long: `Start a Runtime and hold it open: subscribe to every EventBus topic and
print each event as it is published, expose Prometheus metrics on
--metrics-port, and run the Checkpointer's periodic cleanup pass. Exits on
SIGINT/SIGTERM.`,
		Example: `  # Start with default config
  penguin serve

  # Start with a custom config
  penguin serve --config /etc/penguin/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, metricsPort)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().IntVar(&metricsPort, "metrics-port", 0, "Override server.metrics_port")
	return cmd
}
