package errors

import (
	"errors"
)

// Wrap wraps an error with additional context, creating a PipeError if the
// input is not already one
func Wrap(err error, errType ErrorType, code, message string) *PipeError {
	if err == nil {
		return nil
	}

	// If it's already a PipeError, preserve its properties but update the message
	var pe *PipeError
	if errors.As(err, &pe) {
		return &PipeError{
			Type:        errType,
			Code:        code,
			Message:     message,
			Cause:       pe,
			Context:     pe.Context,
			Action:      pe.Action,
			HandlerID:   pe.HandlerID,
			Recoverable: pe.Recoverable,
		}
	}

	return &PipeError{
		Type:        errType,
		Code:        code,
		Message:     message,
		Cause:       err,
		Recoverable: errType == ErrorTypeValidation || errType == ErrorTypeExecution,
	}
}

// WrapValidation wraps an error as a validation error
func WrapValidation(err error, code, message string) *PipeError {
	return Wrap(err, ErrorTypeValidation, code, message)
}

// WrapConfig wraps an error as a configuration error
func WrapConfig(err error, code, message string) *PipeError {
	pipeErr := Wrap(err, ErrorTypeConfig, code, message)
	if pipeErr != nil {
		pipeErr.Recoverable = false
	}
	return pipeErr
}

// WrapExecution wraps an error as a handler execution error with action and
// handler context
func WrapExecution(err error, code, message, action, handlerID string) *PipeError {
	pipeErr := Wrap(err, ErrorTypeExecution, code, message)
	if pipeErr != nil {
		pipeErr.Action = action
		pipeErr.HandlerID = handlerID
	}
	return pipeErr
}

// WrapIO wraps an error as an I/O error
func WrapIO(err error, code, message string) *PipeError {
	pipeErr := Wrap(err, ErrorTypeIO, code, message)
	if pipeErr != nil {
		pipeErr.Recoverable = false
	}
	return pipeErr
}

// WrapInternal wraps an error as an internal error
func WrapInternal(err error, code, message string) *PipeError {
	pipeErr := Wrap(err, ErrorTypeInternal, code, message)
	if pipeErr != nil {
		pipeErr.Recoverable = false
	}
	return pipeErr
}

// FormatError formats an error for user display
func FormatError(err error) string {
	if err == nil {
		return ""
	}

	var pe *PipeError
	if errors.As(err, &pe) {
		return pe.Error()
	}

	return err.Error()
}

// GetErrorContext extracts context information from a PipeError
func GetErrorContext(err error) map[string]interface{} {
	var pe *PipeError
	if errors.As(err, &pe) {
		context := make(map[string]interface{})
		if pe.Context != nil {
			for k, v := range pe.Context {
				context[k] = v
			}
		}
		if pe.Action != "" {
			context["action"] = pe.Action
		}
		if pe.HandlerID != "" {
			context["handler"] = pe.HandlerID
		}
		context["type"] = string(pe.Type)
		context["code"] = pe.Code
		context["recoverable"] = pe.Recoverable
		return context
	}

	return map[string]interface{}{
		"message": err.Error(),
		"type":    "unknown",
	}
}

// IsFatalError checks if an error is fatal and should stop execution
func IsFatalError(err error) bool {
	var pe *PipeError
	if errors.As(err, &pe) {
		return pe.Type == ErrorTypeInternal
	}
	return false
}

// ExtractCause extracts the root cause from a wrapped error
func ExtractCause(err error) error {
	for err != nil {
		var pe *PipeError
		if errors.As(err, &pe) {
			if pe.Cause == nil {
				return pe
			}
			err = pe.Cause
		} else {
			return err
		}
	}
	return nil
}

// FirstError returns the first non-nil error from a list
func FirstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
