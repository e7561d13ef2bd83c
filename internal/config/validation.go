package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/actionpipe/actionpipe/internal/pipeline"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	if len(vr.Errors) > 0 {
		builder.WriteString("❌ Validation Errors:\n")
		for _, err := range vr.Errors {
			builder.WriteString(fmt.Sprintf("  • %s: %s\n", err.Field, err.Message))
			for _, suggestion := range err.Suggestions {
				builder.WriteString(fmt.Sprintf("    💡 %s\n", suggestion))
			}
		}
		builder.WriteString("\n")
	}

	if len(vr.Warnings) > 0 {
		builder.WriteString("⚠️  Validation Warnings:\n")
		for _, warning := range vr.Warnings {
			builder.WriteString(fmt.Sprintf("  • %s: %s\n", warning.Field, warning.Message))
			for _, suggestion := range warning.Suggestions {
				builder.WriteString(fmt.Sprintf("    💡 %s\n", suggestion))
			}
		}
	}

	return builder.String()
}

// ValidateConfigWithDetails performs comprehensive validation with detailed feedback
func ValidateConfigWithDetails(config *Config) *ValidationResult {
	result := &ValidationResult{
		Valid:    true,
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	// Validate server configuration
	validateServerConfigDetails(&config.Server, result)

	// Validate dispatch configuration
	validateDispatchConfigDetails(&config.Dispatch, result)

	// Validate log configuration
	validateLogConfigDetails(&config.Log, result)

	// Validate script configuration
	validateScriptConfigDetails(&config.Script, result)

	// Validate manifest configuration
	validateManifestConfigDetails(&config.Manifest, result)

	// Set overall validity
	result.Valid = !result.HasErrors()

	return result
}

func validateServerConfigDetails(config *ServerConfig, result *ValidationResult) {
	// Validate port
	if config.Port < 0 || config.Port > 65535 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.port",
			Value:   config.Port,
			Message: fmt.Sprintf("port %d is not in valid range 0-65535", config.Port),
			Suggestions: []string{
				"Use a port between 1024-65535 for non-privileged access",
				"Common development ports: 3000, 8080, 8000, 3001",
				"Port 0 allows system to assign an available port",
			},
		})
	} else if config.Port > 0 && config.Port < 1024 {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "server.port",
			Value:   config.Port,
			Message: "port below 1024 requires elevated privileges",
			Suggestions: []string{
				"Consider using a port above 1024 for development",
				"Use sudo if you need to bind to privileged ports",
			},
		})
	}

	// Validate host
	if config.Host != "" {
		if err := validateHostname(config.Host); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.host",
				Value:   config.Host,
				Message: err.Error(),
				Suggestions: []string{
					"Use 'localhost' for local development",
					"Use '0.0.0.0' to bind to all interfaces",
					"Use a valid IP address or hostname",
				},
			})
		}
	}

	// Validate environment
	validEnvs := []string{"development", "production", "testing"}
	if config.Environment != "" && !contains(validEnvs, config.Environment) {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "server.environment",
			Value:   config.Environment,
			Message: "unknown environment type",
			Suggestions: []string{
				"Use 'development' for local development",
				"Use 'production' for production deployments",
				"Use 'testing' for automated testing",
			},
		})
	}
}

func validateDispatchConfigDetails(config *DispatchConfig, result *ValidationResult) {
	// Validate execution mode
	if _, err := pipeline.ParseMode(config.Mode); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "dispatch.mode",
			Value:   config.Mode,
			Message: fmt.Sprintf("unknown mode '%s'", config.Mode),
			Suggestions: []string{
				"Available modes: " + strings.Join(pipeline.ModeNames(), ", "),
				"Use 'sequential' to run handlers one at a time in priority order",
				"Use 'parallel' or 'race' for concurrent execution",
			},
		})
	}

	// Validate parallel error policy
	if _, err := pipeline.ParseErrorPolicy(config.ErrorPolicy); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "dispatch.error_policy",
			Value:   config.ErrorPolicy,
			Message: fmt.Sprintf("unknown error policy '%s'", config.ErrorPolicy),
			Suggestions: []string{
				"Use 'fail-fast' to surface the first handler failure immediately",
				"Use 'aggregate' to wait for the whole batch and join all failures",
			},
		})
	}

	// The error policy only changes behavior in parallel mode
	if config.Mode == "race" && config.ErrorPolicy == "aggregate" {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "dispatch.error_policy",
			Value:   config.ErrorPolicy,
			Message: "error policy has no effect in race mode",
			Suggestions: []string{
				"Race mode always settles with the first outcome",
				"Set dispatch.mode to 'parallel' to use aggregate error collection",
			},
		})
	}
}

func validateLogConfigDetails(config *LogConfig, result *ValidationResult) {
	// Validate log level
	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if config.Level != "" && !contains(validLevels, config.Level) {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "log.level",
			Value:   config.Level,
			Message: fmt.Sprintf("unknown log level '%s'", config.Level),
			Suggestions: []string{
				"Available levels: " + strings.Join(validLevels, ", "),
				"Use 'debug' to see per-handler dispatch traces",
			},
		})
	}

	// Validate log format
	if config.Format != "" && config.Format != "text" && config.Format != "json" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "log.format",
			Value:   config.Format,
			Message: fmt.Sprintf("unknown log format '%s'", config.Format),
			Suggestions: []string{
				"Use 'text' for human-readable development output",
				"Use 'json' for machine-parseable production output",
			},
		})
	}
}

func validateScriptConfigDetails(config *ScriptConfig, result *ValidationResult) {
	if config.Path != "" {
		if err := validatePath(config.Path); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "script.path",
				Value:   config.Path,
				Message: err.Error(),
				Suggestions: []string{
					"Use relative paths from project root",
					"Avoid parent directory references (..)",
				},
			})
		} else if !pathExists(config.Path) {
			result.Warnings = append(result.Warnings, ValidationError{
				Field:   "script.path",
				Value:   config.Path,
				Message: "script file does not exist",
				Suggestions: []string{
					"Check for typos in the path",
					"Remove the setting if scripts are passed as arguments",
				},
			})
		}
	}
}

func validateManifestConfigDetails(config *ManifestConfig, result *ValidationResult) {
	// Validate manifest path
	if config.Path != "" {
		if err := validatePath(config.Path); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "manifest.path",
				Value:   config.Path,
				Message: err.Error(),
				Suggestions: []string{
					"Use relative paths like '.actionpipe/manifest.yml'",
					"Avoid parent directory references (..)",
				},
			})
		}
	}

	// Validate debounce window
	if config.Debounce > 5*time.Second {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "manifest.debounce",
			Value:   config.Debounce,
			Message: "long debounce window delays snapshot writes",
			Suggestions: []string{
				"Use a window between 100ms and 1s for timely snapshots",
				"Registrations during the window are still captured by the next write",
			},
		})
	}

	// Drift watching needs a file to watch
	if config.Watch && config.Path == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "manifest.watch",
			Value:   config.Watch,
			Message: "watch enabled without a manifest path",
			Suggestions: []string{
				"Set manifest.path to the snapshot file location",
				"Disable manifest.watch if no snapshot is written",
			},
		})
	}
}

// Helper validation functions

func validateHostname(host string) error {
	// Check for dangerous characters
	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
	for _, char := range dangerousChars {
		if strings.Contains(host, char) {
			return fmt.Errorf("contains dangerous character: %s", char)
		}
	}

	// Check if it's a valid IP address
	if net.ParseIP(host) != nil {
		return nil
	}

	// Check if it's localhost
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return nil
	}

	// Basic hostname validation
	hostnameRegex := regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)
	if !hostnameRegex.MatchString(host) {
		return fmt.Errorf("invalid hostname format")
	}

	return nil
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
