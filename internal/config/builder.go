package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// ConfigBuilder provides a fluent interface for building configurations
// programmatically, for embedders that do not go through Load.
//
// Usage:
//
//	config, err := NewConfigBuilder().
//	    WithDefaults().
//	    WithServer("localhost", 8080).
//	    WithDispatch("parallel", "aggregate").
//	    Build()
type ConfigBuilder struct {
	config     *Config
	validators []ValidatorFunc
}

// ValidatorFunc represents a configuration validation function
type ValidatorFunc func(*Config) error

// NewConfigBuilder creates a new configuration builder
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{
		config:     &Config{},
		validators: []ValidatorFunc{},
	}
}

// WithDefaults applies the same defaults Load applies when a setting is absent
func (cb *ConfigBuilder) WithDefaults() *ConfigBuilder {
	cb.config.Server = ServerConfig{
		Host:        "localhost",
		Environment: "development",
	}
	cb.config.Dispatch = DispatchConfig{
		Mode:        "sequential",
		ErrorPolicy: "fail-fast",
	}
	cb.config.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}
	cb.config.Manifest = ManifestConfig{
		Path:     ".actionpipe/manifest.yml",
		Debounce: 250 * time.Millisecond,
	}
	return cb
}

// WithServer sets the event stream server address
func (cb *ConfigBuilder) WithServer(host string, port int) *ConfigBuilder {
	cb.config.Server.Host = host
	cb.config.Server.Port = port
	cb.addValidator(validateServerConfig(&cb.config.Server))
	return cb
}

// WithAllowedOrigins sets the origins accepted by the event stream server
func (cb *ConfigBuilder) WithAllowedOrigins(origins ...string) *ConfigBuilder {
	cb.config.Server.AllowedOrigins = origins
	return cb
}

// WithDispatch sets the default execution mode and parallel error policy
func (cb *ConfigBuilder) WithDispatch(mode, errorPolicy string) *ConfigBuilder {
	cb.config.Dispatch.Mode = mode
	cb.config.Dispatch.ErrorPolicy = errorPolicy
	cb.addValidator(validateDispatchConfig(&cb.config.Dispatch))
	return cb
}

// WithLogging sets the log level and output format
func (cb *ConfigBuilder) WithLogging(level, format string) *ConfigBuilder {
	cb.config.Log.Level = level
	cb.config.Log.Format = format
	cb.addValidator(validateLogConfig(&cb.config.Log))
	return cb
}

// WithScript sets the default pipeline script path
func (cb *ConfigBuilder) WithScript(path string) *ConfigBuilder {
	cb.config.Script.Path = path
	cb.addValidator(validateScriptConfig(&cb.config.Script))
	return cb
}

// WithManifest configures the registry manifest recorder
func (cb *ConfigBuilder) WithManifest(path string, debounce time.Duration, watch bool) *ConfigBuilder {
	cb.config.Manifest = ManifestConfig{
		Path:     path,
		Debounce: debounce,
		Watch:    watch,
	}
	cb.addValidator(validateManifestConfig(&cb.config.Manifest))
	return cb
}

// WithEnvironment applies environment-specific overrides
func (cb *ConfigBuilder) WithEnvironment(env string) *ConfigBuilder {
	switch env {
	case "development":
		cb.config.Server.Environment = "development"
		cb.config.Log.Level = "debug"
		cb.config.Log.Format = "text"
	case "production":
		cb.config.Server.Environment = "production"
		cb.config.Log.Level = "warn"
		cb.config.Log.Format = "json"
	case "testing":
		cb.config.Server.Environment = "testing"
		cb.config.Log.Level = "error"
	}
	return cb
}

// FromViper loads settings from viper configuration
func (cb *ConfigBuilder) FromViper() *ConfigBuilder {
	var viperConfig Config
	if err := viper.Unmarshal(&viperConfig); err == nil {
		cb.mergeViperConfig(&viperConfig)
	}
	return cb
}

// AddValidator adds a custom validation function
func (cb *ConfigBuilder) AddValidator(validator ValidatorFunc) *ConfigBuilder {
	cb.validators = append(cb.validators, validator)
	return cb
}

// Build creates the final configuration after applying all settings and validations
func (cb *ConfigBuilder) Build() (*Config, error) {
	// Apply viper overrides for known issues
	cb.applyViperWorkarounds()

	// Run all validators
	for _, validator := range cb.validators {
		if err := validator(cb.config); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}

	// Final validation
	if err := validateConfig(cb.config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cb.config, nil
}

// addValidator is a helper to add validator functions
func (cb *ConfigBuilder) addValidator(err error) {
	if err != nil {
		cb.validators = append(cb.validators, func(*Config) error {
			return err
		})
	}
}

// mergeViperConfig merges settings from viper into the current config
func (cb *ConfigBuilder) mergeViperConfig(viperConfig *Config) {
	// Only merge non-zero values to avoid overriding builder settings
	if viperConfig.Server.Port != 0 {
		cb.config.Server.Port = viperConfig.Server.Port
	}
	if viperConfig.Server.Host != "" {
		cb.config.Server.Host = viperConfig.Server.Host
	}
	if viperConfig.Dispatch.Mode != "" {
		cb.config.Dispatch.Mode = viperConfig.Dispatch.Mode
	}
	if viperConfig.Log.Level != "" {
		cb.config.Log.Level = viperConfig.Log.Level
	}
	if viperConfig.Script.Path != "" {
		cb.config.Script.Path = viperConfig.Script.Path
	}
	if viperConfig.Manifest.Path != "" {
		cb.config.Manifest.Path = viperConfig.Manifest.Path
	}
}

// applyViperWorkarounds handles known viper issues with slice and boolean handling
func (cb *ConfigBuilder) applyViperWorkarounds() {
	// Handle allowed_origins set via viper
	if viper.IsSet("server.allowed_origins") {
		if origins := viper.GetStringSlice("server.allowed_origins"); len(origins) > 0 {
			cb.config.Server.AllowedOrigins = origins
		}
	}

	// Handle error_policy set via viper
	if viper.IsSet("dispatch.error_policy") {
		cb.config.Dispatch.ErrorPolicy = viper.GetString("dispatch.error_policy")
	}

	// Handle log settings
	if viper.IsSet("log.add_source") {
		cb.config.Log.AddSource = viper.GetBool("log.add_source")
	}

	// Handle manifest settings
	if viper.IsSet("manifest.watch") {
		cb.config.Manifest.Watch = viper.GetBool("manifest.watch")
	}
}
