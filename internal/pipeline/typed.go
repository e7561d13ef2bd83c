package pipeline

import (
	"context"
	"fmt"

	pipeerrors "github.com/actionpipe/actionpipe/internal/errors"
)

// TypedHandlerFunc is a handler that receives the payload as a concrete type
// instead of interface{}.
type TypedHandlerFunc[T any] func(ctx context.Context, payload T, pc *Controller) (interface{}, error)

// Typed adapts a TypedHandlerFunc to the untyped HandlerFunc contract. A
// payload that does not assert to T fails that handler with an execution
// error; the dispatch itself keeps going per the usual error rules. A nil
// payload is passed through as T's zero value.
func Typed[T any](fn TypedHandlerFunc[T]) HandlerFunc {
	return func(ctx context.Context, payload interface{}, pc *Controller) (interface{}, error) {
		if payload == nil {
			var zero T
			return fn(ctx, zero, pc)
		}
		typed, ok := payload.(T)
		if !ok {
			var zero T
			return nil, pipeerrors.NewExecutionError(
				pipeerrors.ErrCodeValidationFailed,
				fmt.Sprintf("payload type %T does not match handler payload type %T", payload, zero),
				nil,
			)
		}
		return fn(ctx, typed, pc)
	}
}

// RegisterTyped binds a typed handler to an action. It is a package-level
// function because methods cannot carry type parameters.
func RegisterTyped[T any](d *Dispatcher, action string, fn TypedHandlerFunc[T], opts ...HandlerOption) (UnregisterFunc, error) {
	return d.Register(action, Typed(fn), opts...)
}
