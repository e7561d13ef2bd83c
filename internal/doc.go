// Package internal contains the core implementation packages for actionpipe.
//
// This package follows Go's internal package convention, making these
// packages unavailable for import by external modules while providing
// all the core functionality for the actionpipe CLI tool.
//
// # Package Organization
//
// The internal packages are organized by functional domain:
//
//   - pipeline: Dispatcher, handler registry, execution strategies, and metrics
//   - guard: Debounce and throttle policies in front of the dispatcher
//   - emitter: Lifecycle event fan-out for dispatch observers
//   - script: YAML dispatch scripts, binding, and the script runner
//   - manifest: Registry snapshots, drift detection, and the recorder
//   - stream: WebSocket broadcasting of lifecycle events
//   - middleware: HTTP middleware stack for the stream server
//   - config: Configuration management with validation
//   - logging: Structured logging on top of log/slog
//   - errors: Error taxonomy, collection, and actionable suggestions
//   - version: Build metadata injected at link time
//
// # Inter-Package Communication
//
// Packages communicate through well-defined seams:
//
//   - The dispatcher owns the registry and drives handler chains
//   - The emitter publishes dispatch lifecycle events to subscribers
//   - Guards wrap the dispatcher and apply per-action timing policies
//   - The script runner registers handlers and replays dispatch sequences
//   - The manifest recorder subscribes to registry changes and persists them
//   - The stream broadcaster subscribes to the emitter and feeds clients
//
// # Design Principles
//
// All internal packages follow these design principles:
//
//   - Concurrent safety with proper mutex usage and race protection
//   - Explicit error returns with typed codes and context
//   - Testability with package-level unit and property-based tests
//   - Observability with structured logging throughout
//
// For detailed documentation, see the individual package documentation.
package internal
