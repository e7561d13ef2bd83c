package pipeline

import (
	"sort"
	"sync"

	"github.com/actionpipe/actionpipe/internal/emitter"
	pipeerrors "github.com/actionpipe/actionpipe/internal/errors"
	"github.com/actionpipe/actionpipe/internal/logging"
)

// Registry owns, per action name, the ordered collection of handler
// registrations. Ordering is priority descending with ties broken by
// registration order. Dispatches never iterate live state: they take a
// Snapshot, so register/unregister can never affect an in-flight dispatch.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]*Registration
	nextSeq  uint64
	events   *emitter.Emitter
	logger   logging.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the registry's logger.
func WithRegistryLogger(logger logging.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRegistryEmitter sets the emitter used for handlerRegistered and
// handlerUnregistered events.
func WithRegistryEmitter(events *emitter.Emitter) RegistryOption {
	return func(r *Registry) {
		if events != nil {
			r.events = events
		}
	}
}

// NewRegistry creates an empty handler registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		handlers: make(map[string][]*Registration),
		events:   emitter.New(),
		logger:   logging.NewDiscardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithComponent("registry")
	return r
}

// Events returns the emitter carrying this registry's lifecycle events.
func (r *Registry) Events() *emitter.Emitter {
	return r.events
}

// Register binds a handler to an action. It returns an idempotent
// unregister function, or a configuration error for an invalid option or a
// duplicate handler ID on the same action.
func (r *Registry) Register(action string, fn HandlerFunc, opts ...HandlerOption) (UnregisterFunc, error) {
	reg, err := newRegistration(action, fn, opts...)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	for _, existing := range r.handlers[action] {
		if existing.ID == reg.ID {
			r.mu.Unlock()
			return nil, pipeerrors.ErrDuplicateHandler(action, reg.ID)
		}
	}

	r.nextSeq++
	reg.seq = r.nextSeq

	regs := append(r.handlers[action], reg)
	sort.Slice(regs, func(i, j int) bool {
		if regs[i].Priority != regs[j].Priority {
			return regs[i].Priority > regs[j].Priority
		}
		return regs[i].seq < regs[j].seq
	})
	r.handlers[action] = regs
	r.mu.Unlock()

	r.events.Emit(emitter.Event{
		Type:      emitter.EventHandlerRegistered,
		Action:    action,
		HandlerID: reg.ID,
		Priority:  reg.Priority,
	})

	var once sync.Once
	return func() bool {
		removed := false
		once.Do(func() {
			removed = r.Unregister(action, reg.ID)
		})
		return removed
	}, nil
}

// Unregister removes a handler from an action. It returns false when the
// handler was not registered; removing an absent handler is never an error.
// Unregistering from inside a handler is safe and affects only future
// dispatches.
func (r *Registry) Unregister(action, id string) bool {
	r.mu.Lock()
	regs := r.handlers[action]
	removed := false
	for i, reg := range regs {
		if reg.ID == id {
			next := make([]*Registration, 0, len(regs)-1)
			next = append(next, regs[:i]...)
			next = append(next, regs[i+1:]...)
			if len(next) == 0 {
				delete(r.handlers, action)
			} else {
				r.handlers[action] = next
			}
			removed = true
			break
		}
	}
	r.mu.Unlock()

	if removed {
		r.events.Emit(emitter.Event{
			Type:      emitter.EventHandlerUnregistered,
			Action:    action,
			HandlerID: id,
		})
	}

	return removed
}

// Snapshot returns an immutable copy of an action's handler chain in
// execution order. Later mutations of the registry never affect a snapshot
// already taken.
func (r *Registry) Snapshot(action string) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	regs := r.handlers[action]
	snapshot := make([]*Registration, len(regs))
	copy(snapshot, regs)
	return snapshot
}

// Get returns the registration for a handler ID on an action.
func (r *Registry) Get(action, id string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, reg := range r.handlers[action] {
		if reg.ID == id {
			return reg, true
		}
	}
	return nil, false
}

// Actions returns the sorted names of all actions with at least one
// handler.
func (r *Registry) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	actions := make([]string, 0, len(r.handlers))
	for action := range r.handlers {
		actions = append(actions, action)
	}
	sort.Strings(actions)
	return actions
}

// Count returns the number of handlers registered for an action.
func (r *Registry) Count(action string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.handlers[action])
}

// TotalCount returns the number of handlers across all actions.
func (r *Registry) TotalCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, regs := range r.handlers {
		total += len(regs)
	}
	return total
}

// Clear removes every registration. Snapshots already taken by in-flight
// dispatches are unaffected.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers = make(map[string][]*Registration)
}
