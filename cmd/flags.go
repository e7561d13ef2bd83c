package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/actionpipe/actionpipe/internal/pipeline"
)

// StandardFlags provides consistent flag definitions across commands
type StandardFlags struct {
	// Server flags
	Port int    `flag:"port,p" desc:"Port for the event stream server" default:"8080"`
	Host string `flag:"host" desc:"Host to bind to" default:"localhost"`

	// Dispatch flags
	Payload     string `flag:"payload" desc:"Dispatch payload (JSON or @file.json)" default:""`
	PayloadFile string `flag:"payload-file,f" desc:"Payload file (JSON)" default:""`
	Mode        string `flag:"mode,m" desc:"Dispatch mode (sequential|parallel|race)" default:""`
	Policy      string `flag:"policy" desc:"Parallel error policy (fail-fast|aggregate)" default:""`

	// Output flags
	OutputFormat string `flag:"output,o" desc:"Output format (table|json|yaml)" default:"table"`
	Verbose      bool   `flag:"verbose,v" desc:"Enable verbose output" default:"false"`
	Quiet        bool   `flag:"quiet,q" desc:"Suppress output" default:"false"`
}

// AddStandardFlags adds standard flags to a command
func AddStandardFlags(cmd *cobra.Command, flagTypes ...string) *StandardFlags {
	flags := &StandardFlags{}

	for _, flagType := range flagTypes {
		switch flagType {
		case "server":
			addServerFlags(cmd, flags)
		case "dispatch":
			addDispatchFlags(cmd, flags)
		case "output":
			addOutputFlags(cmd, flags)
		}
	}

	return flags
}

func addServerFlags(cmd *cobra.Command, flags *StandardFlags) {
	cmd.Flags().IntVarP(&flags.Port, "port", "p", 8080, "Port for the event stream server")
	cmd.Flags().StringVar(&flags.Host, "host", "localhost", "Host to bind to")
}

func addDispatchFlags(cmd *cobra.Command, flags *StandardFlags) {
	cmd.Flags().StringVar(&flags.Payload, "payload", "", "Dispatch payload (JSON or @file.json)")
	cmd.Flags().StringVarP(&flags.PayloadFile, "payload-file", "f", "", "Payload file (JSON)")
	cmd.Flags().StringVarP(&flags.Mode, "mode", "m", "", "Dispatch mode (sequential|parallel|race)")
	cmd.Flags().StringVar(&flags.Policy, "policy", "", "Parallel error policy (fail-fast|aggregate)")
}

func addOutputFlags(cmd *cobra.Command, flags *StandardFlags) {
	cmd.Flags().StringVarP(&flags.OutputFormat, "output", "o", "table", "Output format (table|json|yaml)")
	cmd.Flags().BoolVarP(&flags.Verbose, "verbose", "v", false, "Enable verbose output")
	cmd.Flags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Suppress output")
}

// ParsePayload parses the dispatch payload with support for file references.
// A nil map is returned when no payload was supplied so callers can tell
// "no payload" apart from an explicit empty object.
func (f *StandardFlags) ParsePayload() (map[string]interface{}, error) {
	var payload map[string]interface{}

	// If PayloadFile is specified, use it
	if f.PayloadFile != "" {
		data, err := os.ReadFile(f.PayloadFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read payload file %s: %w", f.PayloadFile, err)
		}

		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("invalid JSON in payload file %s: %w", f.PayloadFile, err)
		}

		return payload, nil
	}

	// If Payload starts with @, treat as file reference
	if strings.HasPrefix(f.Payload, "@") {
		filename := strings.TrimPrefix(f.Payload, "@")
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read payload file %s: %w", filename, err)
		}

		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("invalid JSON in payload file %s: %w", filename, err)
		}

		return payload, nil
	}

	// Parse as inline JSON
	if f.Payload != "" {
		if err := json.Unmarshal([]byte(f.Payload), &payload); err != nil {
			return nil, fmt.Errorf("invalid JSON in payload: %w", err)
		}

		return payload, nil
	}

	return nil, nil
}

// DispatchOptions converts the mode and policy flags into dispatch options.
func (f *StandardFlags) DispatchOptions() ([]pipeline.DispatchOption, error) {
	var opts []pipeline.DispatchOption

	if f.Mode != "" {
		mode, err := pipeline.ParseMode(f.Mode)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithMode(mode))
	}

	if f.Policy != "" {
		policy, err := pipeline.ParseErrorPolicy(f.Policy)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithPolicy(policy))
	}

	return opts, nil
}

// ValidateFlags validates flag combinations and values
func (f *StandardFlags) ValidateFlags() error {
	// Port and host only exist on server commands; both at their zero
	// value means that flag group was never registered.
	if f.Port != 0 || f.Host != "" {
		if f.Port < 1 || f.Port > 65535 {
			return fmt.Errorf("port must be between 1 and 65535, got %d", f.Port)
		}
		if f.Host == "" {
			return fmt.Errorf("host cannot be empty")
		}
	}

	// Payload validation
	if f.Payload != "" && f.PayloadFile != "" {
		return fmt.Errorf("cannot specify both --payload and --payload-file")
	}

	// Mode validation
	if f.Mode != "" {
		if _, err := pipeline.ParseMode(f.Mode); err != nil {
			return fmt.Errorf("invalid mode %s, must be one of: %s",
				f.Mode, strings.Join(pipeline.ModeNames(), ", "))
		}
	}

	// Policy validation
	if f.Policy != "" {
		if _, err := pipeline.ParseErrorPolicy(f.Policy); err != nil {
			return fmt.Errorf("invalid policy %s, must be one of: fail-fast, aggregate", f.Policy)
		}
	}

	// Output format validation
	validFormats := []string{"table", "json", "yaml"}
	if f.OutputFormat != "" {
		valid := false
		for _, format := range validFormats {
			if f.OutputFormat == format {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("invalid output format %s, must be one of: %s",
				f.OutputFormat, strings.Join(validFormats, ", "))
		}
	}

	// Quiet and verbose are mutually exclusive
	if f.Quiet && f.Verbose {
		return fmt.Errorf("cannot specify both --quiet and --verbose")
	}

	return nil
}

// AddFlagValidation adds validation for a specific flag
func AddFlagValidation(cmd *cobra.Command, flagName string, validator func(string) error) {
	flag := cmd.Flags().Lookup(flagName)
	if flag == nil {
		return
	}

	// Store original value setter
	originalSet := flag.Value.Set

	// Create wrapper that validates
	flag.Value = &validatingValue{
		Value:       flag.Value,
		validator:   validator,
		originalSet: originalSet,
	}
}

type validatingValue struct {
	pflag.Value
	validator   func(string) error
	originalSet func(string) error
}

func (v *validatingValue) Set(val string) error {
	if v.validator != nil {
		if err := v.validator(val); err != nil {
			return err
		}
	}
	return v.originalSet(val)
}

// Port validation helper
func ValidatePort(portStr string) error {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port number: %s", portStr)
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}

	return nil
}

// File existence validation helper
func ValidateFileExists(filename string) error {
	if filename == "" {
		return nil // Empty is valid for optional files
	}

	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return fmt.Errorf("file does not exist: %s", filename)
	}

	return nil
}

// JSON validation helper
func ValidateJSON(jsonStr string) error {
	if jsonStr == "" {
		return nil
	}

	var temp interface{}
	if err := json.Unmarshal([]byte(jsonStr), &temp); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	return nil
}
