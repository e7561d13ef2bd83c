// Package cmd provides the command-line interface for Actionpipe with
// configuration management supporting multiple configuration sources.
//
// Configuration System:
//
//	The CLI supports flexible configuration through multiple sources with clear precedence:
//	1. Command-line flags (--config, --port, etc.) - highest priority
//	2. ACTIONPIPE_CONFIG_FILE environment variable - custom config file path
//	3. Individual environment variables (ACTIONPIPE_SERVER_PORT, etc.)
//	4. Configuration files (.actionpipe.yml) - lowest priority
//
// Environment Variables:
//
//	ACTIONPIPE_CONFIG_FILE: Path to custom configuration file
//	ACTIONPIPE_SERVER_PORT: Override stream server port
//	ACTIONPIPE_SERVER_HOST: Override stream server host
//	ACTIONPIPE_DISPATCH_MODE: Override the default dispatch mode
//	And many more following the ACTIONPIPE_<SECTION>_<OPTION> pattern
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "actionpipe",
	Short: "A typed action dispatcher with priority pipelines and guards",
	Long: `Actionpipe runs named actions through priority-ordered handler pipelines
with sequential, parallel, and race dispatch strategies, debounce and throttle
guards, and live event streaming.

Key Features:
  • Priority-ordered handler chains with per-handler options
  • Sequential, parallel, and race dispatch modes
  • Debounce and throttle action guards
  • Lifecycle event streaming over WebSocket
  • Registration manifests with drift detection
  • Per-action dispatch metrics

Quick Start:
  actionpipe run script.yml       Execute a dispatch script
  actionpipe serve script.yml     Run a script and stream events
  actionpipe inspect script.yml   Show the handler pipeline for a script
  actionpipe version              Show version information

Command Aliases (for faster typing):
  run (r), serve (s), inspect (i)

Documentation: https://github.com/actionpipe/actionpipe`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .actionpipe.yml, can also use ACTIONPIPE_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// initConfig initializes the configuration system with support for multiple config sources.
//
// Configuration Loading Priority (highest to lowest):
//  1. --config flag: Explicitly specified config file path
//  2. ACTIONPIPE_CONFIG_FILE environment variable: Custom config file path
//  3. Default: .actionpipe.yml in current directory
//
// Environment Variable Usage:
//
//	export ACTIONPIPE_CONFIG_FILE=/path/to/custom-config.yml
//	actionpipe serve  # Uses custom-config.yml
//
//	export ACTIONPIPE_CONFIG_FILE=./configs/dev.yml
//	actionpipe serve --config prod.yml  # Uses prod.yml (flag overrides env var)
//
// The function also enables automatic environment variable binding for all
// configuration values with the ACTIONPIPE_ prefix (e.g., ACTIONPIPE_SERVER_PORT=8080).
func initConfig() {
	// Priority 1: Use config file specified via --config flag (highest priority)
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("ACTIONPIPE_CONFIG_FILE"); envConfigFile != "" {
		// Priority 2: Use config file specified via ACTIONPIPE_CONFIG_FILE environment variable
		// This allows users to set a project-specific config without modifying command line
		// Supports both relative paths (./custom-config.yml) and absolute paths
		viper.SetConfigFile(envConfigFile)
	} else {
		// Priority 3: Search for default .actionpipe.yml in current directory (lowest priority)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".actionpipe")
	}

	// Enable automatic environment variable binding with ACTIONPIPE_ prefix
	// Examples: ACTIONPIPE_SERVER_PORT, ACTIONPIPE_SERVER_HOST, ACTIONPIPE_DISPATCH_MODE
	viper.SetEnvPrefix("ACTIONPIPE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Attempt to read the configuration file
	// If file doesn't exist or has errors, Viper will use defaults without failing
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
