// Package cmd provides the command-line interface for actionpipe.
//
// This package implements all CLI commands using the Cobra framework,
// providing a set of tools for running and inspecting action pipelines.
//
// # Available Commands
//
//   - run: Execute the dispatch sequence of one or more scripts
//   - serve: Run a script and stream lifecycle events over WebSocket
//   - inspect: Show the handler pipeline a script or manifest describes
//   - config: Validate and show configuration
//   - init: Scaffold a new project with a config file and example script
//   - version: Show version and build information
//
// # Command Examples
//
//	// Run a script and print the dispatch report
//	actionpipe run script.yml
//
//	// Dispatch a single action with an inline payload
//	actionpipe run script.yml --action checkout --payload '{"sku":"A1"}'
//
//	// Serve with event streaming, re-running the sequence every 5s
//	actionpipe serve script.yml --port 3000 --loop 5s
//
//	// Inspect a script as JSON
//	actionpipe inspect script.yml --output json
//
//	// Compare a saved manifest against the script's registrations
//	actionpipe inspect script.yml --drift .actionpipe/manifest.yml
//
//	// Validate the resolved configuration
//	actionpipe inspect --check-config
//
// # Configuration Integration
//
// Commands respect configuration from multiple sources in order of precedence:
//
//  1. Command-line flags (highest priority)
//  2. Environment variables (ACTIONPIPE_*)
//  3. Configuration file (.actionpipe.yml)
//  4. Default values (lowest priority)
//
// # Error Handling
//
// All commands provide structured error reporting with:
//
//   - Clear error messages for common issues
//   - Actionable suggestions for configuration and script failures
//   - Exit codes following Unix conventions
//   - Graceful handling of interrupts (Ctrl+C)
//
// For detailed usage of individual commands, see their respective documentation.
package cmd
