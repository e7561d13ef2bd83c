package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/actionpipe/actionpipe/internal/config"
	"github.com/actionpipe/actionpipe/internal/errors"
	"github.com/actionpipe/actionpipe/internal/guard"
	"github.com/actionpipe/actionpipe/internal/logging"
	"github.com/actionpipe/actionpipe/internal/manifest"
	"github.com/actionpipe/actionpipe/internal/middleware"
	"github.com/actionpipe/actionpipe/internal/pipeline"
	"github.com/actionpipe/actionpipe/internal/script"
	"github.com/actionpipe/actionpipe/internal/stream"
)

var serveCmd = &cobra.Command{
	Use:     "serve [script.yml]",
	Aliases: []string{"s"},
	Short:   "Run a script workload and stream dispatcher events",
	Long: `Run a dispatch script while streaming the dispatcher's lifecycle events
to WebSocket clients. Handler registrations are backed up to a manifest
snapshot, and external edits to that snapshot are reported as drift.

Endpoints:
  /events   WebSocket stream of dispatcher lifecycle events
  /status   JSON summary of the registry, metrics, and connected clients

Examples:
  actionpipe serve script.yml              # Run once and keep streaming
  actionpipe serve script.yml --loop 5s    # Re-run the sequence every 5s
  actionpipe serve script.yml -p 9090      # Stream on port 9090`,
	RunE: runServe,
}

var serveLoop time.Duration

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "Port for the event stream server")
	serveCmd.Flags().String("host", "localhost", "Host to bind to")
	serveCmd.Flags().DurationVar(&serveLoop, "loop", 0, "Re-run the dispatch sequence at this interval (0 runs once)")

	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))

	AddFlagValidation(serveCmd, "port", ValidatePort)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		sctx := &errors.SuggestionContext{ConfigPath: ".actionpipe.yml"}
		suggestions := errors.ConfigurationSuggestions(err.Error(), ".actionpipe.yml", sctx)
		return errors.NewEnhancedError("Failed to load configuration", err, suggestions)
	}

	scriptPath := cfg.Script.Path
	if len(args) > 0 {
		scriptPath = args[0]
	}
	if scriptPath == "" {
		return fmt.Errorf("no script specified: pass a script path or set script.path in the config")
	}

	s, err := script.Load(scriptPath)
	if err != nil {
		sctx := &errors.SuggestionContext{ScriptPath: scriptPath}
		suggestions := errors.ScriptLoadError(err.Error(), scriptPath, sctx)
		return errors.NewEnhancedError("Failed to load script "+scriptPath, err, suggestions)
	}

	logger := loggerFromConfig(cfg)

	mode, err := pipeline.ParseMode(cfg.Dispatch.Mode)
	if err != nil {
		sctx := &errors.SuggestionContext{KnownModes: pipeline.ModeNames()}
		suggestions := errors.UnknownModeError(cfg.Dispatch.Mode, sctx)
		return errors.NewEnhancedError("Unknown dispatch mode "+cfg.Dispatch.Mode, err, suggestions)
	}
	policy, err := pipeline.ParseErrorPolicy(cfg.Dispatch.ErrorPolicy)
	if err != nil {
		return err
	}

	dispatcher := pipeline.New(
		pipeline.WithLogger(logger),
		pipeline.WithDefaultMode(mode),
		pipeline.WithErrorPolicy(policy),
	)
	defer dispatcher.Close()

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	g := guard.New(dispatcher, guard.WithLogger(logger), guard.WithContext(ctx))
	defer g.Close()

	runner := script.NewRunner(dispatcher, g, script.WithLogger(logger))
	if err := runner.Bind(s); err != nil {
		return fmt.Errorf("failed to bind script: %w", err)
	}

	recorder, err := manifest.NewRecorder(dispatcher, cfg.Manifest.Path,
		manifest.WithDebounce(cfg.Manifest.Debounce),
		manifest.WithWatch(cfg.Manifest.Watch),
		manifest.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create manifest recorder: %w", err)
	}
	if err := recorder.Start(); err != nil {
		return fmt.Errorf("failed to start manifest recorder: %w", err)
	}
	defer recorder.Close()

	broadcaster := stream.New(dispatcher,
		stream.WithOrigins(stream.OriginList(cfg.Server.AllowedOrigins)),
		stream.WithLogger(logger),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/events", broadcaster.HandleWebSocket)
	mux.HandleFunc("/status", statusHandler(dispatcher, broadcaster))

	chain := middleware.NewChain(
		middleware.Logging(logger),
		middleware.CORS(stream.OriginList(cfg.Server.AllowedOrigins), cfg.Server.Environment),
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: chain.Apply(mux),
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "Shutting down...")
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if shutdownErr := broadcaster.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Error(shutdownCtx, shutdownErr, "broadcaster shutdown failed")
		}
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Error(shutdownCtx, shutdownErr, "server shutdown failed")
		}
		cancel()
	}()

	// Run the script workload while the server accepts connections.
	go runWorkload(ctx, runner, s, logger)

	fmt.Printf("Streaming dispatcher events at ws://%s/events\n", addr)
	fmt.Printf("Status endpoint at http://%s/status\n", addr)
	fmt.Printf("Manifest snapshot at %s\n", recorder.Path())

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		if suggestions := errors.ServerStartError(err, cfg.Server.Port, &errors.SuggestionContext{}); len(suggestions) > 0 {
			return errors.NewEnhancedError(
				fmt.Sprintf("Failed to start server on port %d", cfg.Server.Port),
				err,
				suggestions,
			)
		}
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// runWorkload executes the script's dispatch sequence, re-running it on the
// loop interval when one is set.
func runWorkload(ctx context.Context, runner *script.Runner, s *script.Script, logger logging.Logger) {
	run := func() {
		report, err := runner.Execute(ctx, s)
		if err != nil {
			logger.Error(ctx, err, "workload run failed", "script", s.Name)
			return
		}
		logger.Info(ctx, "workload run complete",
			"script", s.Name,
			"dispatches", len(report.Dispatches),
			"failed", report.Failed(),
		)
	}

	run()
	if serveLoop <= 0 {
		return
	}

	ticker := time.NewTicker(serveLoop)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

// statusHandler reports the live registry, metrics, and stream state as JSON.
func statusHandler(dispatcher *pipeline.Dispatcher, broadcaster *stream.Broadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := dispatcher.Metrics().Snapshot()

		actions := make([]map[string]interface{}, 0)
		for _, am := range dispatcher.Metrics().TopActions(10) {
			actions = append(actions, map[string]interface{}{
				"name":       am.Name,
				"dispatches": am.DispatchCount,
				"errors":     am.ErrorCount,
				"aborts":     am.AbortCount,
				"last":       am.LastStatus,
			})
		}

		status := map[string]interface{}{
			"actions":        dispatcher.Registry().Actions(),
			"handlers":       dispatcher.Registry().TotalCount(),
			"clients":        broadcaster.ClientCount(),
			"dropped_frames": broadcaster.Dropped(),
			"metrics": map[string]interface{}{
				"dispatches": snap.TotalDispatches,
				"errors":     snap.TotalErrors,
				"panics":     snap.TotalPanics,
				"average":    snap.AverageDuration.String(),
				"top":        actions,
			},
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			http.Error(w, "failed to encode status", http.StatusInternalServerError)
		}
	}
}
