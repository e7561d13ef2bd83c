package manifest

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/actionpipe/actionpipe/internal/emitter"
	pipeerrors "github.com/actionpipe/actionpipe/internal/errors"
	"github.com/actionpipe/actionpipe/internal/logging"
	"github.com/actionpipe/actionpipe/internal/pipeline"
)

// DefaultDebounce groups registration bursts into one snapshot write.
const DefaultDebounce = 250 * time.Millisecond

// DriftFunc receives drift reports when the snapshot file is edited
// externally.
type DriftFunc func(*Drift)

// Recorder keeps a YAML snapshot of the registry on disk. It subscribes to
// registration lifecycle events, debounces bursts into single writes, and
// optionally watches the file for external edits to report drift.
type Recorder struct {
	dispatcher *pipeline.Dispatcher
	path       string
	debounce   time.Duration
	watchFile  bool
	onDrift    DriftFunc
	logger     logging.Logger

	mu          sync.Mutex
	writeTimer  *time.Timer
	driftTimer  *time.Timer
	lastWritten []byte
	started     bool
	closed      bool

	unsubscribe []func()
	watcher     *fsnotify.Watcher
	done        chan struct{}
	loopDone    chan struct{}
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithDebounce sets the quiet window before a snapshot write. Non-positive
// values keep the default.
func WithDebounce(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.debounce = d
		}
	}
}

// WithWatch enables the file watcher that reports external edits as drift.
func WithWatch(watch bool) Option {
	return func(r *Recorder) {
		r.watchFile = watch
	}
}

// OnDrift sets a callback invoked with each drift report.
func OnDrift(fn DriftFunc) Option {
	return func(r *Recorder) {
		r.onDrift = fn
	}
}

// WithLogger sets the recorder's logger.
func WithLogger(logger logging.Logger) Option {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger.WithComponent("manifest")
		}
	}
}

// NewRecorder creates a recorder for a dispatcher. Nothing happens until
// Start.
func NewRecorder(dispatcher *pipeline.Dispatcher, path string, opts ...Option) (*Recorder, error) {
	if dispatcher == nil {
		return nil, pipeerrors.NewConfigError(
			pipeerrors.ErrCodeInvalidOption,
			"manifest recorder needs a dispatcher",
		)
	}
	if path == "" {
		return nil, pipeerrors.NewConfigError(
			pipeerrors.ErrCodeInvalidOption,
			"manifest recorder needs a snapshot path",
		)
	}

	r := &Recorder{
		dispatcher: dispatcher,
		path:       filepath.Clean(path),
		debounce:   DefaultDebounce,
		logger:     logging.NewDiscardLogger(),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Path returns the snapshot file path.
func (r *Recorder) Path() string {
	return r.path
}

// Start writes an initial snapshot of the current registry state, subscribes
// to registration events, and begins watching the file when enabled.
func (r *Recorder) Start() error {
	r.mu.Lock()
	if r.started || r.closed {
		r.mu.Unlock()
		return pipeerrors.NewConfigError(
			pipeerrors.ErrCodeInvalidOption,
			"manifest recorder already started",
		)
	}
	r.started = true
	r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return pipeerrors.NewIOError(
			pipeerrors.ErrCodeFileWrite,
			fmt.Sprintf("cannot create manifest directory for %s", r.path),
			err,
		)
	}

	if err := r.Flush(); err != nil {
		return err
	}

	r.unsubscribe = append(r.unsubscribe,
		r.dispatcher.On(emitter.EventHandlerRegistered, r.onRegistryEvent),
		r.dispatcher.On(emitter.EventHandlerUnregistered, r.onRegistryEvent),
	)

	if r.watchFile {
		if err := r.startWatcher(); err != nil {
			r.detach()
			return err
		}
	}

	r.logger.Debug(context.Background(), "manifest recorder started",
		"path", r.path,
		"debounce", r.debounce,
		"watch", r.watchFile,
	)
	return nil
}

// onRegistryEvent runs on the registering goroutine, so it only arms the
// debounce timer.
func (r *Recorder) onRegistryEvent(emitter.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	if r.writeTimer != nil {
		r.writeTimer.Stop()
	}
	r.writeTimer = time.AfterFunc(r.debounce, func() {
		if err := r.Flush(); err != nil {
			r.logger.Error(context.Background(), err, "manifest write failed", "path", r.path)
		}
	})
}

// Flush captures the registry and writes the snapshot now. Writes are
// skipped when the document has not changed since the last one.
func (r *Recorder) Flush() error {
	snap := Capture(r.dispatcher.Registry())
	data, err := Encode(snap)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lastWritten != nil && bytes.Equal(stripTimestamp(data), stripTimestamp(r.lastWritten)) {
		return nil
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		return pipeerrors.NewIOError(
			pipeerrors.ErrCodeFileWrite,
			fmt.Sprintf("cannot write manifest %s", r.path),
			err,
		)
	}
	r.lastWritten = data

	r.logger.Debug(context.Background(), "manifest written",
		"path", r.path,
		"actions", len(snap.Actions),
		"handlers", snap.TotalHandlers(),
	)
	return nil
}

// CheckDrift compares the snapshot file against the live registry.
func (r *Recorder) CheckDrift() (*Drift, error) {
	file, err := Load(r.path)
	if err != nil {
		return nil, err
	}
	return Diff(file, Capture(r.dispatcher.Registry())), nil
}

// Close flushes pending state, stops the watcher, and unsubscribes from the
// dispatcher. The recorder cannot be restarted.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	if r.writeTimer != nil {
		r.writeTimer.Stop()
	}
	if r.driftTimer != nil {
		r.driftTimer.Stop()
	}
	started := r.started
	r.mu.Unlock()

	r.detach()

	close(r.done)
	if r.watcher != nil {
		r.watcher.Close()
		<-r.loopDone
	}

	if !started {
		return nil
	}
	return r.Flush()
}

func (r *Recorder) detach() {
	for _, off := range r.unsubscribe {
		off()
	}
	r.unsubscribe = nil
}

func (r *Recorder) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return pipeerrors.NewIOError(
			pipeerrors.ErrCodeInternalError,
			"cannot create manifest file watcher",
			err,
		)
	}

	// Watch the directory rather than the file: editors replace files by
	// rename, which drops a direct file watch.
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		watcher.Close()
		return pipeerrors.NewIOError(
			pipeerrors.ErrCodeInternalError,
			fmt.Sprintf("cannot watch manifest directory for %s", r.path),
			err,
		)
	}

	r.watcher = watcher
	r.loopDone = make(chan struct{})
	go r.watchLoop()
	return nil
}

func (r *Recorder) watchLoop() {
	defer close(r.loopDone)

	for {
		select {
		case <-r.done:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			r.handleFileEvent(event)
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn(context.Background(), err, "manifest watcher error", "path", r.path)
		}
	}
}

func (r *Recorder) handleFileEvent(event fsnotify.Event) {
	if filepath.Base(event.Name) != filepath.Base(r.path) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}

	// Editors emit bursts of events per save; coalesce them before reading.
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if r.driftTimer != nil {
		r.driftTimer.Stop()
	}
	r.driftTimer = time.AfterFunc(r.debounce, r.reportDrift)
	r.mu.Unlock()
}

func (r *Recorder) reportDrift() {
	data, err := os.ReadFile(r.path)
	if err != nil {
		r.logger.Warn(context.Background(), err, "manifest file unreadable after edit", "path", r.path)
		return
	}

	r.mu.Lock()
	own := r.closed || (r.lastWritten != nil && bytes.Equal(data, r.lastWritten))
	r.mu.Unlock()
	if own {
		return
	}

	file, err := Decode(data, r.path)
	if err != nil {
		r.logger.Warn(context.Background(), err, "manifest file corrupted by external edit", "path", r.path)
		return
	}

	drift := Diff(file, Capture(r.dispatcher.Registry()))
	if drift.Empty() {
		return
	}

	r.logger.Warn(context.Background(), nil, "manifest drifted from registry",
		"path", r.path,
		"drift", drift.String(),
	)
	if r.onDrift != nil {
		r.onDrift(drift)
	}
}

// stripTimestamp drops the saved_at line so unchanged registry states
// compare equal across writes.
func stripTimestamp(data []byte) []byte {
	lines := bytes.Split(data, []byte("\n"))
	kept := make([][]byte, 0, len(lines))
	for _, line := range lines {
		if bytes.HasPrefix(bytes.TrimSpace(line), []byte("saved_at:")) {
			continue
		}
		kept = append(kept, line)
	}
	return bytes.Join(kept, []byte("\n"))
}
