// Licensed under the MIT license which can be found in the LICENSE file.

package main

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	logLevel   string
	logFile    string

	// cfg is loaded before any subcommand runs.
	cfg *Config
)

var rootCmd = &cobra.Command{
	Use:   "knxctl",
	Short: "Talk to KNXnet/IP gateways",
	Long: `knxctl discovers and describes KNXnet/IP servers and writes group values through
KNX IP Secure tunnels.

Credentials are read from the configuration file or from KNXCTL_ environment
variables, e.g. KNXCTL_GATEWAY_USER_PASSWORD. Group keys for Data Secure are
read from the key store file named by key_store.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write the log to this file")

	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(describeCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(monitorCmd)
}

// setup loads the configuration and applies the global flags on top of it.
func setup(cmd *cobra.Command, args []string) error {
	loaded, err := LoadConfig(configFile)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("log-level") {
		loaded.Log.Level = logLevel
	}
	if cmd.Flags().Changed("log-file") {
		loaded.Log.File.Filename = logFile
	}

	if err := loaded.Validate(); err != nil {
		return err
	}

	if _, err := setupLogging(loaded.Log); err != nil {
		return err
	}

	cfg = loaded
	return nil
}
