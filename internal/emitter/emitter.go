package emitter

import (
	"context"
	"sync"
	"time"

	"github.com/actionpipe/actionpipe/internal/logging"
)

// EventType identifies a lifecycle event emitted by the dispatcher or
// registry.
type EventType string

const (
	EventHandlerRegistered   EventType = "handlerRegistered"
	EventHandlerUnregistered EventType = "handlerUnregistered"
	EventDispatchStart       EventType = "dispatchStart"
	EventDispatchEnd         EventType = "dispatchEnd"
	EventDispatchError       EventType = "dispatchError"
)

// Event describes a single lifecycle occurrence. Fields not relevant to the
// event type are left zero.
type Event struct {
	Type       EventType     `json:"type"`
	Action     string        `json:"action"`
	HandlerID  string        `json:"handler_id,omitempty"`
	DispatchID string        `json:"dispatch_id,omitempty"`
	Mode       string        `json:"mode,omitempty"`
	Priority   int           `json:"priority,omitempty"`
	Aborted    bool          `json:"aborted,omitempty"`
	Terminated bool          `json:"terminated,omitempty"`
	Err        error         `json:"-"`
	ErrMessage string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration_ns,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Callback receives lifecycle events. Callbacks run synchronously on the
// emitting goroutine; panics are recovered so emission never feeds back into
// pipeline control flow.
type Callback func(Event)

type entry struct {
	seq uint64
	fn  Callback
}

// Emitter fans lifecycle events out to callback subscribers and watcher
// channels.
type Emitter struct {
	mu        sync.RWMutex
	nextSeq   uint64
	listeners map[EventType][]entry
	watchers  []chan Event
	closed    bool
	logger    logging.Logger
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithLogger sets the logger used to report recovered callback panics.
func WithLogger(logger logging.Logger) Option {
	return func(e *Emitter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an event emitter.
func New(opts ...Option) *Emitter {
	e := &Emitter{
		listeners: make(map[EventType][]entry),
		logger:    logging.NewDiscardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithComponent("emitter")
	return e
}

// On subscribes a callback to an event type. The returned function removes
// the subscription; calling it more than once is a no-op.
func (e *Emitter) On(eventType EventType, fn Callback) func() {
	if fn == nil {
		return func() {}
	}

	e.mu.Lock()
	e.nextSeq++
	seq := e.nextSeq
	e.listeners[eventType] = append(e.listeners[eventType], entry{seq: seq, fn: fn})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.off(eventType, seq)
		})
	}
}

func (e *Emitter) off(eventType EventType, seq uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries := e.listeners[eventType]
	for i, ent := range entries {
		if ent.seq == seq {
			e.listeners[eventType] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
}

// ListenerCount returns the number of callbacks subscribed to an event type.
func (e *Emitter) ListenerCount(eventType EventType) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.listeners[eventType])
}

// Watch returns a channel that receives all lifecycle events. Slow
// consumers have events dropped rather than blocking emission.
func (e *Emitter) Watch() <-chan Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan Event, 100)
	e.watchers = append(e.watchers, ch)
	return ch
}

// Unwatch removes a watcher channel and closes it
func (e *Emitter) Unwatch(ch <-chan Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, watcher := range e.watchers {
		if watcher == ch {
			close(watcher)
			e.watchers = append(e.watchers[:i], e.watchers[i+1:]...)
			break
		}
	}
}

// Emit delivers an event to every subscriber. Callbacks are invoked in
// subscription order outside the emitter lock; watcher channels get
// non-blocking sends.
func (e *Emitter) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Err != nil && event.ErrMessage == "" {
		event.ErrMessage = event.Err.Error()
	}

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return
	}
	callbacks := make([]Callback, 0, len(e.listeners[event.Type]))
	for _, ent := range e.listeners[event.Type] {
		callbacks = append(callbacks, ent.fn)
	}
	watchers := make([]chan Event, len(e.watchers))
	copy(watchers, e.watchers)
	e.mu.RUnlock()

	for _, fn := range callbacks {
		e.invoke(fn, event)
	}

	for _, watcher := range watchers {
		select {
		case watcher <- event:
		default:
			// Skip if channel is full
		}
	}
}

func (e *Emitter) invoke(fn Callback, event Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(context.Background(), nil, "event callback panicked",
				"event_type", string(event.Type),
				"action", event.Action,
				"panic", r)
		}
	}()

	fn(event)
}

// Close closes all watcher channels and drops all subscriptions. Emit
// becomes a no-op afterwards.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true

	for _, watcher := range e.watchers {
		close(watcher)
	}
	e.watchers = nil
	e.listeners = make(map[EventType][]entry)
}
