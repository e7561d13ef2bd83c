package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	pipeerrors "github.com/actionpipe/actionpipe/internal/errors"
)

// HandlerFunc is the unit of work registered against an action. It receives
// the dispatch payload and the per-dispatch controller, and returns a result
// value or an error.
type HandlerFunc func(ctx context.Context, payload interface{}, pc *Controller) (interface{}, error)

// UnregisterFunc removes the registration it was returned for. It reports
// whether the handler was still registered; calling it again is a no-op.
type UnregisterFunc func() bool

// Registration describes one handler bound to an action. Registrations are
// immutable once created; changing a handler's configuration means
// unregistering and registering again.
type Registration struct {
	ID              string
	Action          string
	Priority        int
	Blocking        bool
	Once            bool
	Condition       func(payload interface{}) bool
	ContinueOnError bool
	Timeout         time.Duration
	RegisteredAt    time.Time

	fn      HandlerFunc
	seq     uint64
	claimed atomic.Bool
}

// claim marks a once handler as consumed. It returns true exactly once, no
// matter how many dispatches race for the handler.
func (r *Registration) claim() bool {
	return r.claimed.CompareAndSwap(false, true)
}

// HandlerOption configures a Registration.
type HandlerOption func(*Registration) error

// WithID sets an explicit handler ID. IDs must be unique per action; when no
// ID is given a generated one is used.
func WithID(id string) HandlerOption {
	return func(r *Registration) error {
		if id == "" {
			return pipeerrors.ErrInvalidOption("handler id must not be empty")
		}
		r.ID = id
		return nil
	}
}

// WithPriority sets the handler's priority. Higher priorities run earlier in
// Sequential mode; the default is 0.
func WithPriority(priority int) HandlerOption {
	return func(r *Registration) error {
		r.Priority = priority
		return nil
	}
}

// NonBlocking marks the handler as non-blocking: Sequential mode starts it
// and moves on without waiting, though the dispatch as a whole still waits
// for it to settle.
func NonBlocking() HandlerOption {
	return func(r *Registration) error {
		r.Blocking = false
		return nil
	}
}

// Once unregisters the handler after its first invocation settles,
// guaranteeing at most one execution even under concurrent dispatches.
func Once() HandlerOption {
	return func(r *Registration) error {
		r.Once = true
		return nil
	}
}

// WithCondition attaches a payload predicate; the handler only participates
// in dispatches whose payload satisfies it.
func WithCondition(condition func(payload interface{}) bool) HandlerOption {
	return func(r *Registration) error {
		if condition == nil {
			return pipeerrors.ErrInvalidOption("condition must not be nil")
		}
		r.Condition = condition
		return nil
	}
}

// ContinueOnError keeps the pipeline running when this handler fails; the
// error is still recorded in the dispatch result.
func ContinueOnError() HandlerOption {
	return func(r *Registration) error {
		r.ContinueOnError = true
		return nil
	}
}

// WithTimeout fails the handler's slot once the duration elapses. The
// underlying goroutine is not killed; its eventual result is logged and
// dropped.
func WithTimeout(timeout time.Duration) HandlerOption {
	return func(r *Registration) error {
		if timeout < 0 {
			return pipeerrors.ErrInvalidOption("timeout must not be negative")
		}
		r.Timeout = timeout
		return nil
	}
}

func newRegistration(action string, fn HandlerFunc, opts ...HandlerOption) (*Registration, error) {
	if action == "" {
		return nil, pipeerrors.ErrInvalidOption("action name must not be empty")
	}
	if fn == nil {
		return nil, pipeerrors.ErrInvalidOption("handler function must not be nil").WithAction(action)
	}

	reg := &Registration{
		Action:       action,
		Blocking:     true,
		RegisteredAt: time.Now(),
		fn:           fn,
	}

	for _, opt := range opts {
		if err := opt(reg); err != nil {
			return nil, err
		}
	}

	if reg.ID == "" {
		reg.ID = uuid.NewString()
	}

	return reg, nil
}
