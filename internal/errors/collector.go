package errors

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Issue represents a single validation finding while loading a script or
// manifest document.
type Issue struct {
	Source    string
	Field     string
	Message   string
	Severity  ErrorSeverity
	Timestamp time.Time
}

// ErrorSeverity represents the severity of an error
type ErrorSeverity int

const (
	ErrorSeverityInfo ErrorSeverity = iota
	ErrorSeverityWarning
	ErrorSeverityError
	ErrorSeverityFatal
)

// String returns the string representation of the severity
func (s ErrorSeverity) String() string {
	switch s {
	case ErrorSeverityInfo:
		return "info"
	case ErrorSeverityWarning:
		return "warning"
	case ErrorSeverityError:
		return "error"
	case ErrorSeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error implements the error interface
func (i *Issue) Error() string {
	return fmt.Sprintf("%s: %s: %s: %s", i.Source, i.Field, i.Severity, i.Message)
}

// ErrorCollector collects validation issues and general errors
type ErrorCollector struct {
	issues []Issue
	errors []error
	mutex  sync.RWMutex
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{
		issues: make([]Issue, 0),
		errors: make([]error, 0),
	}
}

// Add adds a validation issue to the collector
func (ec *ErrorCollector) Add(issue Issue) {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	issue.Timestamp = time.Now()
	ec.issues = append(ec.issues, issue)
}

// AddField records an issue against a specific document field
func (ec *ErrorCollector) AddField(source, field, message string) {
	ec.Add(Issue{
		Source:   source,
		Field:    field,
		Message:  message,
		Severity: ErrorSeverityError,
	})
}

// AddError adds a general error to the collector
func (ec *ErrorCollector) AddError(err error) {
	if err == nil {
		return
	}
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.errors = append(ec.errors, err)
}

// GetIssues returns all collected validation issues
func (ec *ErrorCollector) GetIssues() []Issue {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	// Return a copy to avoid race conditions
	result := make([]Issue, len(ec.issues))
	copy(result, ec.issues)
	return result
}

// GetAllErrors returns all collected errors (issues and general)
func (ec *ErrorCollector) GetAllErrors() []error {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()

	allErrors := make([]error, 0, len(ec.issues)+len(ec.errors))

	for _, issue := range ec.issues {
		allErrors = append(allErrors, &issue)
	}

	allErrors = append(allErrors, ec.errors...)

	return allErrors
}

// HasErrors returns true if there are any errors
func (ec *ErrorCollector) HasErrors() bool {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	return len(ec.issues) > 0 || len(ec.errors) > 0
}

// Clear clears all errors
func (ec *ErrorCollector) Clear() {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.issues = ec.issues[:0]
	ec.errors = ec.errors[:0]
}

// GetIssuesBySource returns issues for a specific document
func (ec *ErrorCollector) GetIssuesBySource(source string) []Issue {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	var sourceIssues []Issue
	for _, issue := range ec.issues {
		if issue.Source == source {
			sourceIssues = append(sourceIssues, issue)
		}
	}
	return sourceIssues
}

// ToError collapses the collected issues into a single validation error, or
// nil when nothing was recorded.
func (ec *ErrorCollector) ToError() *PipeError {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()

	total := len(ec.issues) + len(ec.errors)
	if total == 0 {
		return nil
	}

	var messages []string
	for _, issue := range ec.issues {
		messages = append(messages, fmt.Sprintf("%s: %s", issue.Field, issue.Message))
	}
	for _, err := range ec.errors {
		messages = append(messages, err.Error())
	}

	return NewValidationError(
		ErrCodeValidationFailed,
		strings.Join(messages, "; "),
	).WithContext("issue_count", total)
}
