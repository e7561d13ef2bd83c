package pipeline

import (
	"context"
	"errors"
	"runtime"
	"time"

	pipeerrors "github.com/actionpipe/actionpipe/internal/errors"
)

// invoke drives a single handler slot: once-claim bookkeeping, context
// check, panic recovery, and the optional per-handler timeout. It always
// returns an outcome; it never panics.
func (d *Dispatcher) invoke(ctx context.Context, reg *Registration, payload interface{}, pc *Controller) HandlerOutcome {
	if reg.Once {
		if !reg.claim() {
			// Another dispatch won the claim; this slot never runs.
			return skippedOutcome(reg, SkipCauseOnce)
		}
		// The claim is consumed whether the invocation succeeds or fails.
		defer d.registry.Unregister(reg.Action, reg.ID)
	}

	if ctx.Err() != nil {
		return skippedOutcome(reg, SkipCauseContext)
	}

	start := time.Now()

	if reg.Timeout <= 0 {
		value, err := d.call(ctx, reg, payload, pc)
		return HandlerOutcome{
			HandlerID: reg.ID,
			Priority:  reg.Priority,
			Value:     value,
			Err:       err,
			Duration:  time.Since(start),
		}
	}

	return d.invokeWithTimeout(ctx, reg, payload, pc, start)
}

type settled struct {
	value interface{}
	err   error
}

func (d *Dispatcher) invokeWithTimeout(ctx context.Context, reg *Registration, payload interface{}, pc *Controller, start time.Time) HandlerOutcome {
	timeoutCtx, cancel := context.WithTimeout(ctx, reg.Timeout)

	done := make(chan settled, 1)
	go func() {
		value, err := d.call(timeoutCtx, reg, payload, pc)
		done <- settled{value: value, err: err}
	}()

	select {
	case s := <-done:
		cancel()
		return HandlerOutcome{
			HandlerID: reg.ID,
			Priority:  reg.Priority,
			Value:     s.value,
			Err:       s.err,
			Duration:  time.Since(start),
		}
	case <-timeoutCtx.Done():
		// The handler goroutine keeps running; drain its eventual result so
		// nothing leaks, then drop it.
		go func() {
			s := <-done
			cancel()
			d.logger.Debug(context.Background(), "timed-out handler settled late",
				"action", reg.Action,
				"handler", reg.ID,
				"late_error", s.err)
		}()

		var err error
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = pipeerrors.ErrHandlerTimeout(reg.Action, reg.ID, reg.Timeout)
		} else {
			err = pipeerrors.ErrHandlerFailed(reg.Action, reg.ID, ctx.Err())
		}
		return HandlerOutcome{
			HandlerID: reg.ID,
			Priority:  reg.Priority,
			Err:       err,
			Duration:  time.Since(start),
		}
	}
}

// call runs the handler function itself, converting panics and returned
// errors into the structured execution error carrying action and handler
// context.
func (d *Dispatcher) call(ctx context.Context, reg *Registration, payload interface{}, pc *Controller) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := make([]byte, 4096)
			n := runtime.Stack(stack, false)
			d.logger.Error(ctx, nil, "handler panicked",
				"action", reg.Action,
				"handler", reg.ID,
				"panic", r,
				"stack", string(stack[:n]))
			d.metrics.RecordPanic(reg.Action)
			value = nil
			err = pipeerrors.ErrHandlerPanic(reg.Action, reg.ID, r)
		}
	}()

	value, err = reg.fn(ctx, payload, pc)
	if err != nil {
		err = pipeerrors.ErrHandlerFailed(reg.Action, reg.ID, err)
	}
	return value, err
}

// eligible filters a snapshot by each registration's condition against the
// dispatch payload. A panicking condition excludes its handler.
func (d *Dispatcher) eligible(regs []*Registration, payload interface{}) []*Registration {
	out := make([]*Registration, 0, len(regs))
	for _, reg := range regs {
		if reg.Condition == nil || d.conditionHolds(reg, payload) {
			out = append(out, reg)
		}
	}
	return out
}

func (d *Dispatcher) conditionHolds(reg *Registration, payload interface{}) (holds bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn(context.Background(), nil, "handler condition panicked, excluding handler",
				"action", reg.Action,
				"handler", reg.ID,
				"panic", r)
			holds = false
		}
	}()

	return reg.Condition(payload)
}
