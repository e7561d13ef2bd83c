package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init [name]",
	Short: "Initialize a new actionpipe project",
	Long: `Initialize a new actionpipe project with a configuration file and an
example dispatch script. If no name is provided, initializes in the current
directory.

Examples:
  actionpipe init                      # Initialize in current directory
  actionpipe init my-pipeline          # Initialize in new directory 'my-pipeline'
  actionpipe init --minimal            # Configuration file only, no example script
  actionpipe init --force              # Overwrite existing files`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

var (
	initMinimal bool
	initForce   bool
)

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVar(&initMinimal, "minimal", false, "Configuration file only, no example script")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing files")
}

const initConfigContent = `# actionpipe configuration
# Every value can be overridden with ACTIONPIPE_* environment variables,
# e.g. ACTIONPIPE_SERVER_PORT=3000

server:
  port: 8080
  host: localhost

dispatch:
  mode: sequential
  error_policy: fail-fast

log:
  level: info
  format: text

manifest:
  path: .actionpipe/manifest.yml
  watch: false
`

const initScriptContent = `# Example dispatch script
# Handlers run highest priority first for each dispatched action.
name: example
description: Starter pipeline with one guarded action

handlers:
  - action: greet
    id: announce
    priority: 10
    behavior: echo
    value: hello from the pipeline
  - action: greet
    id: respond
    priority: 5
    behavior: transform
    prefix: "reply: "

guards:
  - action: greet
    policy: debounce
    window: 150ms

dispatches:
  - action: greet
    payload: world
`

func runInit(cmd *cobra.Command, args []string) error {
	var projectDir string

	if len(args) == 0 {
		// Initialize in current directory
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		projectDir = cwd
	} else {
		// Create new directory
		projectDir = args[0]
		if err := os.MkdirAll(projectDir, 0755); err != nil {
			return fmt.Errorf("failed to create project directory: %w", err)
		}
	}

	fmt.Printf("Initializing actionpipe project in %s\n", projectDir)

	// Manifest snapshots land here once a server runs
	if err := os.MkdirAll(filepath.Join(projectDir, ".actionpipe"), 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	files := []struct {
		name    string
		content string
	}{
		{".actionpipe.yml", initConfigContent},
	}
	if !initMinimal {
		files = append(files, struct {
			name    string
			content string
		}{"script.yml", initScriptContent})
	}

	for _, file := range files {
		path := filepath.Join(projectDir, file.name)
		if _, err := os.Stat(path); err == nil && !initForce {
			return fmt.Errorf("%s already exists, use --force to overwrite", path)
		}
		if err := os.WriteFile(path, []byte(file.content), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", file.name, err)
		}
		fmt.Printf("  created %s\n", file.name)
	}

	fmt.Println("\nNext steps:")
	if initMinimal {
		fmt.Println("  1. Write a dispatch script (see 'actionpipe run --help')")
		fmt.Println("  2. Run 'actionpipe run <script.yml>'")
	} else {
		fmt.Println("  1. Run 'actionpipe run script.yml'")
		fmt.Println("  2. Run 'actionpipe serve script.yml' and open http://localhost:8080/status")
		fmt.Println("  3. Edit script.yml to build your own pipeline")
	}

	return nil
}
