// Package config provides configuration management for actionpipe
// applications using Viper for flexible configuration loading from files,
// environment variables, and command-line flags.
//
// The configuration system supports YAML files, environment variable overrides
// with ACTIONPIPE_ prefix, validation, and security checks. It manages server
// settings for the event stream, default dispatch strategy and error policy,
// structured logging options, script execution, and the registry manifest
// recorder.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/actionpipe/actionpipe/internal/pipeline"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Log      LogConfig      `yaml:"log"`
	Script   ScriptConfig   `yaml:"script"`
	Manifest ManifestConfig `yaml:"manifest"`
	Targets  []string       `yaml:"-"` // CLI arguments, not from config file
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	Environment    string   `yaml:"environment"`
}

type DispatchConfig struct {
	Mode        string `yaml:"mode"`
	ErrorPolicy string `yaml:"error_policy"`
}

type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

type ScriptConfig struct {
	Path string `yaml:"path"`
}

type ManifestConfig struct {
	Path     string        `yaml:"path"`
	Debounce time.Duration `yaml:"debounce"`
	Watch    bool          `yaml:"watch"`
}

func Load() (*Config, error) {
	config, err := Decode(viper.GetViper())
	if err != nil {
		return nil, err
	}

	// Apply default values for ServerConfig if not set
	if config.Server.Host == "" {
		config.Server.Host = "localhost"
	}
	if config.Server.Environment == "" {
		config.Server.Environment = "development"
	}

	// Apply default values for DispatchConfig if not set
	if config.Dispatch.Mode == "" {
		config.Dispatch.Mode = pipeline.ModeSequential.String()
	}
	if config.Dispatch.ErrorPolicy == "" {
		config.Dispatch.ErrorPolicy = pipeline.ErrorPolicyFailFast.String()
	}

	// Apply default values for LogConfig if not set
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}

	// Apply default values for ManifestConfig if not set
	if config.Manifest.Path == "" {
		config.Manifest.Path = ".actionpipe/manifest.yml"
	}
	if config.Manifest.Debounce <= 0 {
		config.Manifest.Debounce = 250 * time.Millisecond
	}

	// Validate configuration values
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Decode unmarshals a configuration from the given viper instance without
// applying defaults or validation.
func Decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Handle allowed_origins set via viper (workaround for viper slice handling)
	if v.IsSet("server.allowed_origins") && len(config.Server.AllowedOrigins) == 0 {
		origins := v.GetStringSlice("server.allowed_origins")
		if len(origins) > 0 {
			config.Server.AllowedOrigins = origins
		}
	}

	// Handle error_policy set via viper (workaround for viper underscore keys)
	if v.IsSet("dispatch.error_policy") && config.Dispatch.ErrorPolicy == "" {
		config.Dispatch.ErrorPolicy = v.GetString("dispatch.error_policy")
	}

	// Handle log settings set via viper (workaround for viper bool handling)
	if v.IsSet("log.add_source") {
		config.Log.AddSource = v.GetBool("log.add_source")
	}

	// Handle manifest settings set via viper
	if v.IsSet("manifest.watch") {
		config.Manifest.Watch = v.GetBool("manifest.watch")
	}
	if v.IsSet("manifest.debounce") && config.Manifest.Debounce == 0 {
		config.Manifest.Debounce = v.GetDuration("manifest.debounce")
	}

	return &config, nil
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	// Validate server configuration
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	// Validate dispatch configuration
	if err := validateDispatchConfig(&config.Dispatch); err != nil {
		return fmt.Errorf("dispatch config: %w", err)
	}

	// Validate log configuration
	if err := validateLogConfig(&config.Log); err != nil {
		return fmt.Errorf("log config: %w", err)
	}

	// Validate script configuration
	if err := validateScriptConfig(&config.Script); err != nil {
		return fmt.Errorf("script config: %w", err)
	}

	// Validate manifest configuration
	if err := validateManifestConfig(&config.Manifest); err != nil {
		return fmt.Errorf("manifest config: %w", err)
	}

	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// Validate port range (allow 0 for system-assigned ports in testing)
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	// Validate host
	if config.Host != "" {
		// Basic validation - no dangerous characters
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
		for _, char := range dangerousChars {
			if strings.Contains(config.Host, char) {
				return fmt.Errorf("host contains dangerous character: %s", char)
			}
		}
	}

	return nil
}

// validateDispatchConfig validates dispatch configuration values
func validateDispatchConfig(config *DispatchConfig) error {
	if _, err := pipeline.ParseMode(config.Mode); err != nil {
		return fmt.Errorf("mode %q is not one of %s", config.Mode, strings.Join(pipeline.ModeNames(), ", "))
	}

	if _, err := pipeline.ParseErrorPolicy(config.ErrorPolicy); err != nil {
		return fmt.Errorf("error_policy %q is not one of fail-fast, aggregate", config.ErrorPolicy)
	}

	return nil
}

// validateLogConfig validates log configuration values
func validateLogConfig(config *LogConfig) error {
	if config.Level != "" {
		validLevels := []string{"debug", "info", "warn", "error", "fatal"}
		levelOK := false
		for _, level := range validLevels {
			if config.Level == level {
				levelOK = true
				break
			}
		}
		if !levelOK {
			return fmt.Errorf("level %q is not one of %s", config.Level, strings.Join(validLevels, ", "))
		}
	}

	if config.Format != "" && config.Format != "text" && config.Format != "json" {
		return fmt.Errorf("format %q is not one of text, json", config.Format)
	}

	return nil
}

// validateScriptConfig validates script configuration values
func validateScriptConfig(config *ScriptConfig) error {
	if config.Path != "" {
		if err := validatePath(config.Path); err != nil {
			return fmt.Errorf("invalid script path '%s': %w", config.Path, err)
		}
	}

	return nil
}

// validateManifestConfig validates manifest configuration values
func validateManifestConfig(config *ManifestConfig) error {
	if config.Path != "" {
		// Clean the path
		cleanPath := filepath.Clean(config.Path)

		// Reject path traversal attempts
		if strings.Contains(cleanPath, "..") {
			return fmt.Errorf("path contains traversal: %s", config.Path)
		}
	}

	return nil
}

// validatePath validates a file path for security
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	// Clean the path
	cleanPath := filepath.Clean(path)

	// Reject path traversal attempts
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains traversal: %s", path)
	}

	// Reject dangerous characters
	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}
