package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/actionpipe/actionpipe/internal/emitter"
	"github.com/actionpipe/actionpipe/internal/logging"
)

// Dispatcher orchestrates action pipelines: it snapshots the registry,
// builds a per-dispatch Controller, drives the selected execution strategy,
// records metrics, and emits lifecycle events. A Dispatcher is safe for
// concurrent use.
type Dispatcher struct {
	registry    *Registry
	events      *emitter.Emitter
	metrics     *Metrics
	logger      logging.Logger
	defaultMode Mode
	errorPolicy ErrorPolicy
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher's logger. Logging is diagnostics only; the
// default discards everything and absence never changes control flow.
func WithLogger(logger logging.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithRegistry makes the dispatcher operate on a caller-owned registry
// instead of creating its own. The registry's emitter becomes the
// dispatcher's unless WithEmitter overrides it.
func WithRegistry(registry *Registry) Option {
	return func(d *Dispatcher) {
		if registry != nil {
			d.registry = registry
		}
	}
}

// WithEmitter sets the emitter carrying dispatch lifecycle events.
func WithEmitter(events *emitter.Emitter) Option {
	return func(d *Dispatcher) {
		if events != nil {
			d.events = events
		}
	}
}

// WithDefaultMode sets the execution mode used when a dispatch does not
// select one. The initial default is Sequential.
func WithDefaultMode(mode Mode) Option {
	return func(d *Dispatcher) {
		d.defaultMode = mode
	}
}

// WithErrorPolicy sets how Parallel dispatches report failures. The initial
// default is fail-fast.
func WithErrorPolicy(policy ErrorPolicy) Option {
	return func(d *Dispatcher) {
		d.errorPolicy = policy
	}
}

// New creates a Dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:      logging.NewDiscardLogger(),
		defaultMode: ModeSequential,
		errorPolicy: ErrorPolicyFailFast,
	}

	for _, opt := range opts {
		opt(d)
	}

	d.logger = d.logger.WithComponent("dispatcher")

	if d.events == nil {
		if d.registry != nil {
			d.events = d.registry.Events()
		} else {
			d.events = emitter.New(emitter.WithLogger(d.logger))
		}
	}
	if d.registry == nil {
		d.registry = NewRegistry(
			WithRegistryEmitter(d.events),
			WithRegistryLogger(d.logger),
		)
	}
	if d.metrics == nil {
		d.metrics = NewMetrics()
	}

	return d
}

// Registry returns the dispatcher's handler registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Events returns the emitter carrying lifecycle events.
func (d *Dispatcher) Events() *emitter.Emitter {
	return d.events
}

// Metrics returns the dispatch metrics collector.
func (d *Dispatcher) Metrics() *Metrics {
	return d.metrics
}

// Register binds a handler to an action on the dispatcher's registry.
func (d *Dispatcher) Register(action string, fn HandlerFunc, opts ...HandlerOption) (UnregisterFunc, error) {
	return d.registry.Register(action, fn, opts...)
}

// Unregister removes a handler from the dispatcher's registry.
func (d *Dispatcher) Unregister(action, id string) bool {
	return d.registry.Unregister(action, id)
}

// On subscribes to a lifecycle event; the returned function unsubscribes.
func (d *Dispatcher) On(eventType emitter.EventType, fn emitter.Callback) func() {
	return d.events.On(eventType, fn)
}

// Close shuts the lifecycle emitter down. In-flight dispatches still
// complete; their events are dropped.
func (d *Dispatcher) Close() {
	d.events.Close()
}

type dispatchConfig struct {
	mode       Mode
	policy     ErrorPolicy
	dispatchID string
}

// DispatchOption adjusts a single dispatch.
type DispatchOption func(*dispatchConfig)

// WithMode selects the execution strategy for this dispatch.
func WithMode(mode Mode) DispatchOption {
	return func(cfg *dispatchConfig) {
		cfg.mode = mode
	}
}

// WithPolicy selects the Parallel error policy for this dispatch.
func WithPolicy(policy ErrorPolicy) DispatchOption {
	return func(cfg *dispatchConfig) {
		cfg.policy = policy
	}
}

// WithDispatchID sets an explicit dispatch ID instead of a generated one.
func WithDispatchID(id string) DispatchOption {
	return func(cfg *dispatchConfig) {
		if id != "" {
			cfg.dispatchID = id
		}
	}
}

// Dispatch runs an action's handler pipeline against a payload and returns
// the aggregate result. The Result is non-nil even when an error is
// returned, so callers always have per-handler diagnostics. An abort is not
// an error: the Result comes back with Aborted set and a nil error. An
// action with no handlers resolves immediately with an empty Result.
func (d *Dispatcher) Dispatch(ctx context.Context, action string, payload interface{}, opts ...DispatchOption) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg := dispatchConfig{
		mode:       d.defaultMode,
		policy:     d.errorPolicy,
		dispatchID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	start := time.Now()

	snapshot := d.registry.Snapshot(action)
	eligible := d.eligible(snapshot, payload)
	pc := newController(action, cfg.mode, cfg.dispatchID, payload)

	d.events.Emit(emitter.Event{
		Type:       emitter.EventDispatchStart,
		Action:     action,
		DispatchID: cfg.dispatchID,
		Mode:       cfg.mode.String(),
	})
	d.logger.Debug(ctx, "dispatch started",
		"action", action,
		"dispatch_id", cfg.dispatchID,
		"mode", cfg.mode.String(),
		"handlers", len(eligible))

	var outcomes []HandlerOutcome
	var err error

	switch cfg.mode {
	case ModeParallel:
		outcomes, err = d.runParallel(ctx, eligible, pc, cfg.policy)
	case ModeRace:
		outcomes, err = d.runRace(ctx, eligible, pc)
	default:
		outcomes, err = d.runSequential(ctx, eligible, pc)
	}

	aborted, abortReason := pc.Aborted()
	res := &Result{
		Action:      action,
		Mode:        cfg.mode,
		DispatchID:  cfg.dispatchID,
		Payload:     pc.Payload(),
		Aborted:     aborted,
		AbortReason: abortReason,
		Terminated:  pc.Terminated(),
		Outcomes:    outcomes,
		Duration:    time.Since(start),
	}

	status := StatusSuccess
	switch {
	case err != nil:
		status = StatusError
	case res.Terminated:
		status = StatusTerminated
	case res.Aborted:
		status = StatusAborted
	}
	d.metrics.RecordDispatch(action, res.Duration, len(eligible), status)

	if err != nil {
		d.events.Emit(emitter.Event{
			Type:       emitter.EventDispatchError,
			Action:     action,
			DispatchID: cfg.dispatchID,
			Mode:       cfg.mode.String(),
			Err:        err,
			Duration:   res.Duration,
		})
		d.logger.Error(ctx, err, "dispatch failed",
			"action", action,
			"dispatch_id", cfg.dispatchID,
			"mode", cfg.mode.String(),
			"duration", res.Duration.String())
	}

	d.events.Emit(emitter.Event{
		Type:       emitter.EventDispatchEnd,
		Action:     action,
		DispatchID: cfg.dispatchID,
		Mode:       cfg.mode.String(),
		Aborted:    res.Aborted,
		Terminated: res.Terminated,
		Err:        err,
		Duration:   res.Duration,
	})
	d.logger.Debug(ctx, "dispatch finished",
		"action", action,
		"dispatch_id", cfg.dispatchID,
		"status", string(status),
		"duration", res.Duration.String())

	return res, err
}
