package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile     string
	metricsAddr string
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "agentcore",
	Short: "Agent pool and task orchestration core",
	Long: `agentcore keeps a bounded, supervised pool of agents and runs task
batches on it.

Tasks are read from a YAML file. 'run' drains them through a priority and
dependency aware queue. 'fanout' issues them concurrently under a completion
policy (race, any or all).

Configuration is read from --config, ./agentcore.yaml or
$XDG_CONFIG_HOME/agentcore/config.yaml, and can be overridden with
AGENTCORE_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		current = a
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if current != nil {
			current.close()
		}
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ./agentcore.yaml or the user config)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address, e.g. :9090")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override: debug, info, warn, error")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(fanoutCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
