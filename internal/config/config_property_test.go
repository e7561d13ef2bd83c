//go:build property
// +build property

package config

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestConfigurationProperties tests configuration validation properties
func TestConfigurationProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	// Property: Valid configurations should always validate without error
	properties.Property("valid config validation", prop.ForAll(
		func(port int, host string, mode string) bool {
			cfg := &Config{
				Server: ServerConfig{
					Port: port,
					Host: host,
				},
				Dispatch: DispatchConfig{
					Mode:        mode,
					ErrorPolicy: "fail-fast",
				},
				Log: LogConfig{
					Level:  "info",
					Format: "text",
				},
			}

			return validateConfig(cfg) == nil
		},
		gen.IntRange(1000, 9999),
		gen.OneConstOf("localhost", "127.0.0.1", "0.0.0.0", "pipeline.internal"),
		gen.OneConstOf("sequential", "parallel", "race"),
	))

	// Property: Path validation should be deterministic
	properties.Property("path validation consistency", prop.ForAll(
		func(path string) bool {
			err1 := validatePath(path)
			err2 := validatePath(path)
			err3 := validatePath(path)

			return (err1 == nil) == (err2 == nil) && (err2 == nil) == (err3 == nil)
		},
		gen.OneConstOf("./pipelines", "../pipelines", "/etc/passwd", "pipelines", ".", ""),
	))

	// Property: Builder defaults should always produce a valid config
	properties.Property("builder default validity", prop.ForAll(
		func() bool {
			cfg, err := NewConfigBuilder().WithDefaults().Build()
			return err == nil && cfg != nil
		},
	))

	properties.TestingRun(t)
}

// TestServerConfigProperties tests server configuration properties
func TestServerConfigProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	// Property: Port validation should reject invalid ranges
	properties.Property("port validation", prop.ForAll(
		func(port int) bool {
			cfg := ServerConfig{
				Port: port,
				Host: "localhost",
			}

			err := validateServerConfig(&cfg)

			// Valid only for the inclusive range, 0 means system-assigned
			if port >= 0 && port <= 65535 {
				return err == nil
			}
			return err != nil
		},
		gen.IntRange(-1000, 70000), // Include invalid ranges
	))

	// Property: Host validation should handle edge cases
	properties.Property("host validation", prop.ForAll(
		func(host string) bool {
			cfg := ServerConfig{
				Port: 8080,
				Host: host,
			}

			err := validateServerConfig(&cfg)

			// Hosts with dangerous characters should be invalid
			if strings.ContainsAny(host, ";|&`$()<>\"'\\") {
				return err != nil
			}

			return err == nil
		},
		gen.OneConstOf("localhost", "127.0.0.1", "0.0.0.0", "", "host;rm -rf /", "host`whoami`", "host$(cmd)"),
	))

	properties.TestingRun(t)
}

// TestDispatchConfigProperties tests dispatch configuration properties
func TestDispatchConfigProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	// Property: Known mode and policy names always validate, unknown never do
	properties.Property("mode and policy acceptance", prop.ForAll(
		func(mode, policy string) bool {
			cfg := DispatchConfig{
				Mode:        mode,
				ErrorPolicy: policy,
			}

			err := validateDispatchConfig(&cfg)

			knownMode := mode == "" || mode == "sequential" || mode == "parallel" || mode == "race"
			knownPolicy := policy == "" || policy == "fail-fast" || policy == "aggregate"

			if knownMode && knownPolicy {
				return err == nil
			}
			return err != nil
		},
		gen.OneConstOf("", "sequential", "parallel", "race", "broadcast", "PARALLEL"),
		gen.OneConstOf("", "fail-fast", "aggregate", "retry"),
	))

	properties.TestingRun(t)
}
