package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/actionpipe/actionpipe/internal/config"
	"github.com/actionpipe/actionpipe/internal/errors"
	"github.com/actionpipe/actionpipe/internal/guard"
	"github.com/actionpipe/actionpipe/internal/logging"
	"github.com/actionpipe/actionpipe/internal/pipeline"
	"github.com/actionpipe/actionpipe/internal/script"
)

var runCmd = &cobra.Command{
	Use:     "run [script.yml...]",
	Aliases: []string{"r"},
	Short:   "Execute dispatch scripts through the pipeline",
	Long: `Execute one or more YAML dispatch scripts. Each script declares handlers,
guard policies, and a dispatch sequence; the command binds them to a fresh
dispatcher, runs the sequence, and reports per-dispatch results with a
metrics summary.

With --action the script's dispatch sequence is skipped: its handlers and
guards are bound, then the named action is dispatched once with the payload
and mode given on the command line.

Examples:
  actionpipe run script.yml            # Run a single script
  actionpipe run a.yml b.yml           # Run scripts in order
  actionpipe run script.yml -o json    # Output report as JSON
  actionpipe run script.yml -v         # Include per-handler outcomes
  actionpipe run script.yml --action order:place --payload '{"sku":"A1"}'`,
	RunE: runRun,
}

var (
	runFlags  *StandardFlags
	runAction string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runFlags = AddStandardFlags(runCmd, "dispatch", "output")

	runCmd.Flags().StringVar(&runAction, "action", "", "Dispatch a single action instead of the script's sequence")

	AddFlagValidation(runCmd, "payload-file", ValidateFileExists)
	AddFlagValidation(runCmd, "payload", func(val string) error {
		if strings.HasPrefix(val, "@") {
			return ValidateFileExists(strings.TrimPrefix(val, "@"))
		}
		return ValidateJSON(val)
	})
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		sctx := &errors.SuggestionContext{ConfigPath: ".actionpipe.yml"}
		suggestions := errors.ConfigurationSuggestions(err.Error(), ".actionpipe.yml", sctx)
		return errors.NewEnhancedError("Failed to load configuration", err, suggestions)
	}
	cfg.Targets = args

	if err := runFlags.ValidateFlags(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	targets := cfg.Targets
	if len(targets) == 0 && cfg.Script.Path != "" {
		targets = []string{cfg.Script.Path}
	}
	if len(targets) == 0 {
		return fmt.Errorf("no script specified: pass a script path or set script.path in the config")
	}

	logger := loggerFromConfig(cfg)
	results := make([]*scriptResult, 0, len(targets))

	for _, target := range targets {
		result, err := runScript(cmd.Context(), cfg, logger, target)
		if err != nil {
			return err
		}
		results = append(results, result)
	}

	if !runFlags.Quiet {
		switch strings.ToLower(runFlags.OutputFormat) {
		case "json":
			if err := outputReportJSON(results); err != nil {
				return err
			}
		case "yaml":
			if err := outputReportYAML(results); err != nil {
				return err
			}
		default:
			if err := outputReportTable(results, runFlags.Verbose); err != nil {
				return err
			}
		}
	}

	failed := 0
	total := 0
	for _, result := range results {
		failed += result.Report.Failed()
		total += len(result.Report.Dispatches)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d dispatches failed", failed, total)
	}
	return nil
}

// scriptResult pairs a script's report with the metrics its dispatcher
// collected while running it.
type scriptResult struct {
	Report *script.Report
	Stats  metricsSummary
}

type metricsSummary struct {
	Dispatches uint64
	Errors     uint64
	Panics     uint64
	Average    time.Duration
	Actions    []*pipeline.ActionMetrics
}

// runScript binds and executes one script against a fresh dispatcher so
// scripts never see each other's handlers or metrics.
func runScript(ctx context.Context, cfg *config.Config, logger logging.Logger, path string) (*scriptResult, error) {
	s, err := script.Load(path)
	if err != nil {
		sctx := &errors.SuggestionContext{ScriptPath: path}
		suggestions := errors.ScriptLoadError(err.Error(), path, sctx)
		return nil, errors.NewEnhancedError("Failed to load script "+path, err, suggestions)
	}

	mode, err := pipeline.ParseMode(cfg.Dispatch.Mode)
	if err != nil {
		sctx := &errors.SuggestionContext{KnownModes: pipeline.ModeNames()}
		suggestions := errors.UnknownModeError(cfg.Dispatch.Mode, sctx)
		return nil, errors.NewEnhancedError("Unknown dispatch mode "+cfg.Dispatch.Mode, err, suggestions)
	}
	policy, err := pipeline.ParseErrorPolicy(cfg.Dispatch.ErrorPolicy)
	if err != nil {
		return nil, err
	}

	dispatcher := pipeline.New(
		pipeline.WithLogger(logger),
		pipeline.WithDefaultMode(mode),
		pipeline.WithErrorPolicy(policy),
	)
	defer dispatcher.Close()

	g := guard.New(dispatcher, guard.WithLogger(logger))
	defer g.Close()

	runner := script.NewRunner(dispatcher, g, script.WithLogger(logger))

	var report *script.Report
	if runAction != "" {
		report, err = dispatchSingle(ctx, dispatcher, runner, g, s, path)
	} else {
		report, err = runner.Run(ctx, s)
	}
	if err != nil {
		return nil, err
	}

	return &scriptResult{
		Report: report,
		Stats:  summarizeMetrics(dispatcher.Metrics()),
	}, nil
}

// dispatchSingle binds the script and issues one CLI-driven dispatch through
// the guard so registered policies still apply.
func dispatchSingle(ctx context.Context, dispatcher *pipeline.Dispatcher, runner *script.Runner, g *guard.Guard, s *script.Script, path string) (*script.Report, error) {
	if err := runner.Bind(s); err != nil {
		return nil, err
	}

	if dispatcher.Registry().Count(runAction) == 0 {
		sctx := &errors.SuggestionContext{
			KnownActions: dispatcher.Registry().Actions(),
			ScriptPath:   path,
		}
		suggestions := errors.ActionNotFoundError(runAction, sctx)
		return nil, errors.NewEnhancedError(
			fmt.Sprintf("No handlers registered for action %q", runAction),
			fmt.Errorf("action %q has no handlers", runAction),
			suggestions,
		)
	}

	parsed, err := runFlags.ParsePayload()
	if err != nil {
		return nil, err
	}
	var payload interface{}
	if parsed != nil {
		payload = parsed
	}
	opts, err := runFlags.DispatchOptions()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, dispatchErr := g.Dispatch(ctx, runAction, payload, opts...)

	report := &script.Report{
		Script: s.Name,
		Dispatches: []script.DispatchReport{{
			Action:   runAction,
			Payload:  payload,
			Status:   script.StatusOf(res, dispatchErr),
			Err:      dispatchErr,
			Result:   res,
			Duration: time.Since(start),
		}},
		Duration: time.Since(start),
	}
	return report, nil
}

func summarizeMetrics(m *pipeline.Metrics) metricsSummary {
	snap := m.Snapshot()
	actions := make([]*pipeline.ActionMetrics, 0, snap.ActionCount)
	for _, am := range m.AllActionStats() {
		actions = append(actions, am)
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i].Name < actions[j].Name })

	return metricsSummary{
		Dispatches: snap.TotalDispatches,
		Errors:     snap.TotalErrors,
		Panics:     snap.TotalPanics,
		Average:    snap.AverageDuration,
		Actions:    actions,
	}
}

func outputReportTable(results []*scriptResult, verbose bool) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	for _, result := range results {
		report := result.Report
		fmt.Fprintf(w, "Script: %s\n", report.Script)

		fmt.Fprintln(w, "ACTION\tSTATUS\tMODE\tDURATION\tERROR")
		fmt.Fprintln(w, strings.Repeat("-", 6)+"\t"+strings.Repeat("-", 6)+"\t"+
			strings.Repeat("-", 4)+"\t"+strings.Repeat("-", 8)+"\t"+strings.Repeat("-", 5))

		for _, d := range report.Dispatches {
			mode := ""
			if d.Result != nil {
				mode = d.Result.Mode.String()
			}
			errText := ""
			if d.Err != nil {
				errText = d.Err.Error()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.Action, d.Status, mode, d.Duration, errText)

			if verbose && d.Result != nil {
				for _, outcome := range d.Result.Outcomes {
					fmt.Fprintf(w, "  %s\t%s\t\t%s\t\n",
						outcome.HandlerID, outcomeText(outcome), outcome.Duration)
				}
			}
		}

		fmt.Fprintf(w, "\nDispatches: %d  Errors: %d  Panics: %d  Avg: %s\n",
			result.Stats.Dispatches, result.Stats.Errors, result.Stats.Panics, result.Stats.Average)
		for _, am := range result.Stats.Actions {
			fmt.Fprintf(w, "  %s\tdispatches=%d\terrors=%d\taborts=%d\tavg=%s\n",
				am.Name, am.DispatchCount, am.ErrorCount, am.AbortCount, actionAverage(am))
		}
		fmt.Fprintf(w, "\nTotal: %d dispatches, %d failed\n\n", len(report.Dispatches), report.Failed())
	}

	return nil
}

func outcomeText(outcome pipeline.HandlerOutcome) string {
	switch {
	case outcome.Skipped:
		return fmt.Sprintf("skipped (%s)", outcome.SkipCause)
	case outcome.Err != nil:
		return "error: " + outcome.Err.Error()
	default:
		return "ok"
	}
}

func actionAverage(am *pipeline.ActionMetrics) time.Duration {
	if am.DispatchCount == 0 {
		return 0
	}
	return am.TotalDuration / time.Duration(am.DispatchCount)
}

func outputReportJSON(results []*scriptResult) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(reportDocuments(results))
}

func outputReportYAML(results []*scriptResult) error {
	encoder := yaml.NewEncoder(os.Stdout)
	defer encoder.Close()
	return encoder.Encode(reportDocuments(results))
}

func reportDocuments(results []*scriptResult) []map[string]interface{} {
	output := make([]map[string]interface{}, len(results))

	for i, result := range results {
		report := result.Report
		dispatches := make([]map[string]interface{}, len(report.Dispatches))
		for j, d := range report.Dispatches {
			item := map[string]interface{}{
				"action":   d.Action,
				"status":   d.Status,
				"duration": d.Duration.String(),
			}
			if d.Result != nil {
				item["mode"] = d.Result.Mode.String()
				item["dispatch_id"] = d.Result.DispatchID
			}
			if d.Err != nil {
				item["error"] = d.Err.Error()
			}
			dispatches[j] = item
		}

		actions := make([]map[string]interface{}, len(result.Stats.Actions))
		for k, am := range result.Stats.Actions {
			actions[k] = map[string]interface{}{
				"name":       am.Name,
				"dispatches": am.DispatchCount,
				"errors":     am.ErrorCount,
				"aborts":     am.AbortCount,
			}
		}

		output[i] = map[string]interface{}{
			"script":     report.Script,
			"duration":   report.Duration.String(),
			"failed":     report.Failed(),
			"dispatches": dispatches,
			"metrics": map[string]interface{}{
				"dispatches": result.Stats.Dispatches,
				"errors":     result.Stats.Errors,
				"panics":     result.Stats.Panics,
				"average":    result.Stats.Average.String(),
				"actions":    actions,
			},
		}
	}

	return output
}

// loggerFromConfig builds the CLI logger from the log section. An explicit
// --log-level flag wins over the config file.
func loggerFromConfig(cfg *config.Config) logging.Logger {
	level := cfg.Log.Level
	if rootCmd.PersistentFlags().Changed("log-level") {
		level = viper.GetString("log-level")
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:     logging.ParseLevel(level),
		Format:    cfg.Log.Format,
		Output:    os.Stderr,
		AddSource: cfg.Log.AddSource,
	})
}
