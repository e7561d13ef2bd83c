package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/actionpipe/actionpipe/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage actionpipe configuration",
	Long: `Manage actionpipe configuration files and settings.

This command provides subcommands for:
- Validating existing configuration files
- Showing current configuration values

Examples:
  actionpipe config validate              # Validate current configuration
  actionpipe config show                  # Show current configuration
  actionpipe config validate --file .actionpipe.yml  # Validate specific config file`,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate an actionpipe configuration file for correctness.

This command checks for:
- Valid port ranges and hostnames
- Known dispatch modes and error policies
- Known log levels and formats
- Proper script and manifest paths

Examples:
  actionpipe config validate              # Validate .actionpipe.yml in current directory
  actionpipe config validate --file config.yml  # Validate specific file
  actionpipe config validate --strict    # Treat warnings as errors`,
	RunE: runConfigValidate,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Display the current actionpipe configuration including all resolved values.

This shows the final configuration after:
- Loading from configuration file
- Applying environment variable overrides
- Setting default values

Examples:
  actionpipe config show                  # Show all configuration
  actionpipe config show --format yaml   # Show in YAML format
  actionpipe config show --format json   # Show in JSON format`,
	RunE: runConfigShow,
}

var (
	configFile   string
	configFormat string
	configStrict bool
)

func init() {
	rootCmd.AddCommand(configCmd)

	// Add subcommands
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)

	// Validate flags
	configValidateCmd.Flags().
		StringVarP(&configFile, "file", "f", "", "Configuration file to validate (default: .actionpipe.yml)")
	configValidateCmd.Flags().BoolVar(&configStrict, "strict", false, "Treat warnings as errors")

	// Show flags
	configShowCmd.Flags().StringVar(&configFormat, "format", "yaml", "Output format (yaml, json)")
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	// Determine config file to validate
	targetFile := configFile
	if targetFile == "" {
		if _, err := os.Stat(".actionpipe.yml"); err == nil {
			targetFile = ".actionpipe.yml"
		} else {
			return fmt.Errorf("no configuration file found, use --file to specify one")
		}
	}

	if _, err := os.Stat(targetFile); os.IsNotExist(err) {
		return fmt.Errorf("configuration file %s does not exist", targetFile)
	}

	fmt.Printf("Validating configuration file: %s\n", targetFile)

	// Load the configuration from the target file only, without the
	// ambient environment overrides
	v := viper.New()
	v.SetConfigFile(targetFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read configuration file: %w", err)
	}

	cfg, err := config.Decode(v)
	if err != nil {
		return fmt.Errorf("failed to parse configuration: %w", err)
	}

	// Run detailed validation
	validation := config.ValidateConfigWithDetails(cfg)

	if validation.Valid && !validation.HasWarnings() {
		fmt.Println("Configuration is valid.")

		return nil
	}

	fmt.Print(validation.String())

	if validation.HasErrors() {
		return fmt.Errorf("configuration validation failed with %d errors", len(validation.Errors))
	}

	if configStrict {
		return fmt.Errorf(
			"configuration validation failed in strict mode with %d warnings",
			len(validation.Warnings),
		)
	}

	fmt.Printf(
		"Configuration is valid with %d warnings. Use --strict to treat warnings as errors.\n",
		len(validation.Warnings),
	)

	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	// Load current configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Show configuration in requested format
	switch configFormat {
	case "yaml", "yml":
		return showConfigYAML(cfg)
	case "json":
		return showConfigJSON(cfg)
	default:
		return fmt.Errorf("unsupported format: %s (supported: yaml, json)", configFormat)
	}
}

func showConfigYAML(cfg *config.Config) error {
	fmt.Println("# Current actionpipe configuration")
	fmt.Println("# Resolved from all sources (file, env vars, defaults)")
	fmt.Println()

	// Server configuration
	fmt.Println("server:")
	fmt.Printf("  port: %d\n", cfg.Server.Port)
	fmt.Printf("  host: %s\n", cfg.Server.Host)
	fmt.Printf("  environment: %s\n", cfg.Server.Environment)
	if len(cfg.Server.AllowedOrigins) > 0 {
		fmt.Println("  allowed_origins:")
		for _, origin := range cfg.Server.AllowedOrigins {
			fmt.Printf("    - %s\n", origin)
		}
	}
	fmt.Println()

	// Dispatch configuration
	fmt.Println("dispatch:")
	fmt.Printf("  mode: %s\n", cfg.Dispatch.Mode)
	fmt.Printf("  error_policy: %s\n", cfg.Dispatch.ErrorPolicy)
	fmt.Println()

	// Log configuration
	fmt.Println("log:")
	fmt.Printf("  level: %s\n", cfg.Log.Level)
	fmt.Printf("  format: %s\n", cfg.Log.Format)
	fmt.Printf("  add_source: %t\n", cfg.Log.AddSource)
	fmt.Println()

	// Script configuration
	if cfg.Script.Path != "" {
		fmt.Println("script:")
		fmt.Printf("  path: \"%s\"\n", cfg.Script.Path)
		fmt.Println()
	}

	// Manifest configuration
	fmt.Println("manifest:")
	fmt.Printf("  path: \"%s\"\n", cfg.Manifest.Path)
	fmt.Printf("  debounce: %s\n", cfg.Manifest.Debounce)
	fmt.Printf("  watch: %t\n", cfg.Manifest.Watch)

	return nil
}

func showConfigJSON(cfg *config.Config) error {
	doc := map[string]interface{}{
		"server": map[string]interface{}{
			"port":            cfg.Server.Port,
			"host":            cfg.Server.Host,
			"environment":     cfg.Server.Environment,
			"allowed_origins": cfg.Server.AllowedOrigins,
		},
		"dispatch": map[string]interface{}{
			"mode":         cfg.Dispatch.Mode,
			"error_policy": cfg.Dispatch.ErrorPolicy,
		},
		"log": map[string]interface{}{
			"level":      cfg.Log.Level,
			"format":     cfg.Log.Format,
			"add_source": cfg.Log.AddSource,
		},
		"script": map[string]interface{}{
			"path": cfg.Script.Path,
		},
		"manifest": map[string]interface{}{
			"path":     cfg.Manifest.Path,
			"debounce": cfg.Manifest.Debounce.String(),
			"watch":    cfg.Manifest.Watch,
		},
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))

	return nil
}
