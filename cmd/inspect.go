package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/actionpipe/actionpipe/internal/config"
	"github.com/actionpipe/actionpipe/internal/errors"
	"github.com/actionpipe/actionpipe/internal/guard"
	"github.com/actionpipe/actionpipe/internal/manifest"
	"github.com/actionpipe/actionpipe/internal/pipeline"
	"github.com/actionpipe/actionpipe/internal/script"
)

var inspectCmd = &cobra.Command{
	Use:     "inspect [file.yml]",
	Aliases: []string{"i"},
	Short:   "Show the handler pipeline a script or manifest describes",
	Long: `Load a dispatch script or a manifest snapshot and print its handler
pipeline in execution order, without dispatching anything. Scripts are bound
to a throwaway dispatcher so the table reflects the real priority ordering.

Examples:
  actionpipe inspect script.yml              # Handler table for a script
  actionpipe inspect script.yml -o json      # Output as JSON
  actionpipe inspect manifest.yml --manifest # Read a manifest snapshot
  actionpipe inspect script.yml --drift manifest.yml
                                             # Diff a snapshot against the script
  actionpipe inspect --check-config          # Validate the configuration`,
	RunE: runInspect,
}

var (
	inspectFlags       *StandardFlags
	inspectManifest    bool
	inspectDrift       string
	inspectCheckConfig bool
)

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectFlags = AddStandardFlags(inspectCmd, "output")

	inspectCmd.Flags().BoolVar(&inspectManifest, "manifest", false, "Treat the file as a manifest snapshot")
	inspectCmd.Flags().StringVar(&inspectDrift, "drift", "", "Compare a manifest snapshot against the script's registrations")
	inspectCmd.Flags().BoolVar(&inspectCheckConfig, "check-config", false, "Validate the configuration and report issues")

	AddFlagValidation(inspectCmd, "drift", ValidateFileExists)
}

// inspection is the format-independent view of a pipeline description. The
// handler rows are in execution order.
type inspection struct {
	Source     string
	Kind       string
	Handlers   []handlerRow
	Guards     []guardRow
	Dispatches []dispatchRow
	Drift      *manifest.Drift
}

type handlerRow struct {
	Action          string
	ID              string
	Priority        int
	Blocking        bool
	Behavior        string
	Once            bool
	ContinueOnError bool
	Conditional     bool
	Timeout         time.Duration
}

type guardRow struct {
	Action string
	Policy string
}

type dispatchRow struct {
	Action     string
	Mode       string
	Repeat     int
	Concurrent bool
	Interval   time.Duration
}

func runInspect(cmd *cobra.Command, args []string) error {
	if err := inspectFlags.ValidateFlags(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if inspectCheckConfig {
		if err := checkConfig(); err != nil {
			return err
		}
		if len(args) == 0 {
			return nil
		}
	}

	if len(args) != 1 {
		return fmt.Errorf("expected exactly one file to inspect, got %d", len(args))
	}
	path := args[0]

	var (
		view *inspection
		err  error
	)
	if inspectManifest {
		view, err = inspectSnapshot(path)
	} else {
		view, err = inspectScript(path)
	}
	if err != nil {
		return err
	}

	switch strings.ToLower(inspectFlags.OutputFormat) {
	case "json":
		return outputInspectionJSON(view)
	case "yaml":
		return outputInspectionYAML(view)
	default:
		return outputInspectionTable(view)
	}
}

// checkConfig prints detailed validation results for the loaded
// configuration.
func checkConfig() error {
	cfg, err := config.Load()
	if err != nil {
		sctx := &errors.SuggestionContext{ConfigPath: ".actionpipe.yml"}
		suggestions := errors.ConfigurationSuggestions(err.Error(), ".actionpipe.yml", sctx)
		return errors.NewEnhancedError("Failed to load configuration", err, suggestions)
	}

	result := config.ValidateConfigWithDetails(cfg)
	if !result.HasErrors() && !result.HasWarnings() {
		fmt.Println("Configuration is valid.")
		return nil
	}

	fmt.Print(result.String())
	if result.HasErrors() {
		return fmt.Errorf("configuration has %d error(s)", len(result.Errors))
	}
	return nil
}

// inspectScript binds the script to a throwaway dispatcher and reads the
// resulting registrations back in execution order.
func inspectScript(path string) (*inspection, error) {
	s, err := script.Load(path)
	if err != nil {
		sctx := &errors.SuggestionContext{ScriptPath: path}
		suggestions := errors.ScriptLoadError(err.Error(), path, sctx)
		return nil, errors.NewEnhancedError("Failed to load script "+path, err, suggestions)
	}

	dispatcher := pipeline.New()
	defer dispatcher.Close()
	g := guard.New(dispatcher)
	defer g.Close()

	runner := script.NewRunner(dispatcher, g)
	if err := runner.Bind(s); err != nil {
		return nil, fmt.Errorf("failed to bind script: %w", err)
	}

	// Behaviors live in the script, not in the registry; correlate them
	// through explicitly declared IDs.
	behaviors := make(map[string]string, len(s.Handlers))
	for _, spec := range s.Handlers {
		if spec.ID != "" {
			behaviors[spec.Action+"/"+spec.ID] = spec.Behavior
		}
	}

	view := &inspection{Source: path, Kind: "script"}
	registry := dispatcher.Registry()
	for _, action := range registry.Actions() {
		for _, r := range registry.Snapshot(action) {
			view.Handlers = append(view.Handlers, handlerRow{
				Action:          r.Action,
				ID:              r.ID,
				Priority:        r.Priority,
				Blocking:        r.Blocking,
				Behavior:        behaviors[r.Action+"/"+r.ID],
				Once:            r.Once,
				ContinueOnError: r.ContinueOnError,
				Conditional:     r.Condition != nil,
				Timeout:         r.Timeout,
			})
		}
	}

	for _, action := range g.Guarded() {
		desc, _ := g.Describe(action)
		view.Guards = append(view.Guards, guardRow{Action: action, Policy: desc})
	}

	for _, step := range s.Dispatches {
		mode := step.Mode
		if mode == "" {
			mode = s.Defaults.Mode
		}
		if mode == "" {
			mode = pipeline.ModeSequential.String()
		}
		view.Dispatches = append(view.Dispatches, dispatchRow{
			Action:     step.Action,
			Mode:       mode,
			Repeat:     step.Times(),
			Concurrent: step.Concurrent,
			Interval:   step.Interval,
		})
	}

	if inspectDrift != "" {
		saved, err := manifest.Load(inspectDrift)
		if err != nil {
			return nil, err
		}
		view.Drift = manifest.Diff(saved, manifest.Capture(registry))
	}

	return view, nil
}

// inspectSnapshot reads a manifest snapshot without touching a dispatcher.
func inspectSnapshot(path string) (*inspection, error) {
	snap, err := manifest.Load(path)
	if err != nil {
		return nil, err
	}

	view := &inspection{Source: path, Kind: "manifest"}
	for _, record := range snap.Actions {
		for _, h := range record.Handlers {
			view.Handlers = append(view.Handlers, handlerRow{
				Action:          record.Action,
				ID:              h.ID,
				Priority:        h.Priority,
				Blocking:        h.Blocking,
				Once:            h.Once,
				ContinueOnError: h.ContinueOnError,
				Conditional:     h.Conditional,
				Timeout:         h.Timeout,
			})
		}
	}

	return view, nil
}

func outputInspectionTable(view *inspection) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	title := cases.Title(language.English)

	fmt.Fprintf(w, "%s: %s\n\n", title.String(view.Kind), view.Source)

	fmt.Fprintln(w, title.String("handlers"))
	fmt.Fprintln(w, "ACTION\tID\tPRIORITY\tBLOCKING\tBEHAVIOR\tFLAGS\tTIMEOUT")
	fmt.Fprintln(w, strings.Repeat("-", 6)+"\t"+strings.Repeat("-", 2)+"\t"+
		strings.Repeat("-", 8)+"\t"+strings.Repeat("-", 8)+"\t"+
		strings.Repeat("-", 8)+"\t"+strings.Repeat("-", 5)+"\t"+strings.Repeat("-", 7))
	for _, h := range view.Handlers {
		fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%s\t%s\t%s\n",
			h.Action, h.ID, h.Priority, h.Blocking,
			orDash(h.Behavior), flagsText(h), timeoutText(h.Timeout))
	}
	fmt.Fprintf(w, "\nTotal: %d handlers\n", len(view.Handlers))

	if len(view.Guards) > 0 {
		fmt.Fprintf(w, "\n%s\n", title.String("guards"))
		fmt.Fprintln(w, "ACTION\tPOLICY")
		for _, g := range view.Guards {
			fmt.Fprintf(w, "%s\t%s\n", g.Action, g.Policy)
		}
	}

	if len(view.Dispatches) > 0 {
		fmt.Fprintf(w, "\n%s\n", title.String("dispatches"))
		fmt.Fprintln(w, "ACTION\tMODE\tREPEAT\tCONCURRENT\tINTERVAL")
		for _, d := range view.Dispatches {
			fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%s\n",
				d.Action, d.Mode, d.Repeat, d.Concurrent, timeoutText(d.Interval))
		}
	}

	if view.Drift != nil {
		fmt.Fprintf(w, "\n%s\n", title.String("drift"))
		fmt.Fprintf(w, "%s\n", view.Drift.String())
		for _, key := range view.Drift.Missing {
			fmt.Fprintf(w, "  missing\t%s\n", key)
		}
		for _, key := range view.Drift.Extra {
			fmt.Fprintf(w, "  extra\t%s\n", key)
		}
		for _, key := range view.Drift.Changed {
			fmt.Fprintf(w, "  changed\t%s\n", key)
		}
	}

	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func flagsText(h handlerRow) string {
	var flags []string
	if h.Once {
		flags = append(flags, "once")
	}
	if h.ContinueOnError {
		flags = append(flags, "continue-on-error")
	}
	if h.Conditional {
		flags = append(flags, "conditional")
	}
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, ",")
}

func timeoutText(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.String()
}

func outputInspectionJSON(view *inspection) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(inspectionDocument(view))
}

func outputInspectionYAML(view *inspection) error {
	encoder := yaml.NewEncoder(os.Stdout)
	defer encoder.Close()
	return encoder.Encode(inspectionDocument(view))
}

func inspectionDocument(view *inspection) map[string]interface{} {
	handlers := make([]map[string]interface{}, len(view.Handlers))
	for i, h := range view.Handlers {
		item := map[string]interface{}{
			"action":   h.Action,
			"id":       h.ID,
			"priority": h.Priority,
			"blocking": h.Blocking,
		}
		if h.Behavior != "" {
			item["behavior"] = h.Behavior
		}
		if h.Once {
			item["once"] = true
		}
		if h.ContinueOnError {
			item["continue_on_error"] = true
		}
		if h.Conditional {
			item["conditional"] = true
		}
		if h.Timeout > 0 {
			item["timeout"] = h.Timeout.String()
		}
		handlers[i] = item
	}

	doc := map[string]interface{}{
		"source":   view.Source,
		"kind":     view.Kind,
		"handlers": handlers,
	}

	if len(view.Guards) > 0 {
		guards := make([]map[string]interface{}, len(view.Guards))
		for i, g := range view.Guards {
			guards[i] = map[string]interface{}{"action": g.Action, "policy": g.Policy}
		}
		doc["guards"] = guards
	}

	if len(view.Dispatches) > 0 {
		dispatches := make([]map[string]interface{}, len(view.Dispatches))
		for i, d := range view.Dispatches {
			item := map[string]interface{}{
				"action": d.Action,
				"mode":   d.Mode,
				"repeat": d.Repeat,
			}
			if d.Concurrent {
				item["concurrent"] = true
			}
			if d.Interval > 0 {
				item["interval"] = d.Interval.String()
			}
			dispatches[i] = item
		}
		doc["dispatches"] = dispatches
	}

	if view.Drift != nil {
		doc["drift"] = map[string]interface{}{
			"clean":   view.Drift.Empty(),
			"missing": view.Drift.Missing,
			"extra":   view.Drift.Extra,
			"changed": view.Drift.Changed,
		}
	}

	return doc
}
