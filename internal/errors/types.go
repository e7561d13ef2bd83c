package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeExecution  ErrorType = "execution"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeInternal   ErrorType = "internal"
)

// PipeError is a structured error type with context.
type PipeError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Action      string
	HandlerID   string
	Recoverable bool
}

// Error implements the error interface.
func (e *PipeError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Action != "" {
		parts = append(parts, "action:"+e.Action)
	}

	if e.HandlerID != "" {
		parts = append(parts, "handler:"+e.HandlerID)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *PipeError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *PipeError) Is(target error) bool {
	var t *PipeError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *PipeError) WithContext(key string, value interface{}) *PipeError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithAction adds action context.
func (e *PipeError) WithAction(action string) *PipeError {
	e.Action = action

	return e
}

// WithHandler adds handler context.
func (e *PipeError) WithHandler(handlerID string) *PipeError {
	e.HandlerID = handlerID

	return e
}

// Error creation functions

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *PipeError {
	return &PipeError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *PipeError {
	return &PipeError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewExecutionError creates a handler execution error.
func NewExecutionError(code, message string, cause error) *PipeError {
	return &PipeError{
		Type:        ErrorTypeExecution,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(code, message string) *PipeError {
	return &PipeError{
		Type:        ErrorTypeTimeout,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *PipeError {
	return &PipeError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *PipeError {
	return &PipeError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// Error recovery and handling utilities

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var pe *PipeError
	if errors.As(err, &pe) {
		return pe.Recoverable
	}

	return false
}

// IsConfigError checks if an error is configuration-related.
func IsConfigError(err error) bool {
	var pe *PipeError
	if errors.As(err, &pe) {
		return pe.Type == ErrorTypeConfig
	}

	return false
}

// IsExecutionError checks if an error is a handler execution failure.
func IsExecutionError(err error) bool {
	var pe *PipeError
	if errors.As(err, &pe) {
		return pe.Type == ErrorTypeExecution
	}

	return false
}

// IsTimeoutError checks if an error is a handler timeout.
func IsTimeoutError(err error) bool {
	var pe *PipeError
	if errors.As(err, &pe) {
		return pe.Type == ErrorTypeTimeout
	}

	return false
}

// Common error codes.
const (
	ErrCodeDuplicateHandler = "ERR_DUPLICATE_HANDLER"
	ErrCodeInvalidOption    = "ERR_INVALID_OPTION"
	ErrCodeUnknownMode      = "ERR_UNKNOWN_MODE"
	ErrCodeHandlerFailed    = "ERR_HANDLER_FAILED"
	ErrCodeHandlerPanic     = "ERR_HANDLER_PANIC"
	ErrCodeHandlerTimeout   = "ERR_HANDLER_TIMEOUT"
	ErrCodeGuardConflict    = "ERR_GUARD_CONFLICT"
	ErrCodeConfigInvalid    = "ERR_CONFIG_INVALID"
	ErrCodeScriptInvalid    = "ERR_SCRIPT_INVALID"
	ErrCodeManifestInvalid  = "ERR_MANIFEST_INVALID"
	ErrCodeFileNotFound     = "ERR_FILE_NOT_FOUND"
	ErrCodeFileWrite        = "ERR_FILE_WRITE"
	ErrCodeInternalError    = "ERR_INTERNAL"
	ErrCodeValidationFailed = "ERR_VALIDATION_FAILED"
)

// Helper functions for common errors

// ErrDuplicateHandler creates an error for a handler ID already registered
// on the same action.
func ErrDuplicateHandler(action, id string) *PipeError {
	return NewConfigError(
		ErrCodeDuplicateHandler,
		"handler id already registered: "+id,
	).WithAction(action).WithHandler(id)
}

// ErrInvalidOption creates an error for a rejected registration option.
func ErrInvalidOption(message string) *PipeError {
	return NewConfigError(ErrCodeInvalidOption, message)
}

// ErrUnknownMode creates an error for an unrecognized execution mode.
func ErrUnknownMode(mode string) *PipeError {
	return NewConfigError(
		ErrCodeUnknownMode,
		"unknown execution mode: "+mode,
	).WithContext("mode", mode)
}

// ErrHandlerFailed creates an execution error for a handler that returned
// an error.
func ErrHandlerFailed(action, id string, cause error) *PipeError {
	return NewExecutionError(
		ErrCodeHandlerFailed,
		"handler failed",
		cause,
	).WithAction(action).WithHandler(id)
}

// ErrHandlerPanic creates an execution error for a handler that panicked.
func ErrHandlerPanic(action, id string, value interface{}) *PipeError {
	return NewExecutionError(
		ErrCodeHandlerPanic,
		fmt.Sprintf("handler panicked: %v", value),
		nil,
	).WithAction(action).WithHandler(id).WithContext("panic_value", value)
}

// ErrHandlerTimeout creates a timeout error for a handler that exceeded its
// configured deadline.
func ErrHandlerTimeout(action, id string, timeout time.Duration) *PipeError {
	return NewTimeoutError(
		ErrCodeHandlerTimeout,
		fmt.Sprintf("handler exceeded timeout of %s", timeout),
	).WithAction(action).WithHandler(id).WithContext("timeout", timeout.String())
}

// ErrGuardConflict creates an error for conflicting guard policies on the
// same action key.
func ErrGuardConflict(action string) *PipeError {
	return NewConfigError(
		ErrCodeGuardConflict,
		"action already has a guard policy",
	).WithAction(action)
}
