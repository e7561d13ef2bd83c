package errors

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorSeverityString(t *testing.T) {
	testCases := []struct {
		severity ErrorSeverity
		expected string
	}{
		{ErrorSeverityInfo, "info"},
		{ErrorSeverityWarning, "warning"},
		{ErrorSeverityError, "error"},
		{ErrorSeverityFatal, "fatal"},
		{ErrorSeverity(999), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.severity.String())
		})
	}
}

func TestPipeErrorError(t *testing.T) {
	testCases := []struct {
		name     string
		err      *PipeError
		contains []string
	}{
		{
			name: "full context",
			err: &PipeError{
				Type:      ErrorTypeExecution,
				Code:      ErrCodeHandlerFailed,
				Message:   "handler failed",
				Action:    "user:save",
				HandlerID: "validate",
				Cause:     errors.New("boom"),
			},
			contains: []string{"[ERR_HANDLER_FAILED]", "action:user:save", "handler:validate", "handler failed", "boom"},
		},
		{
			name: "message only",
			err: &PipeError{
				Type:    ErrorTypeConfig,
				Message: "bad option",
			},
			contains: []string{"bad option"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			errorStr := tc.err.Error()
			for _, want := range tc.contains {
				assert.Contains(t, errorStr, want)
			}
		})
	}
}

func TestPipeErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewExecutionError(ErrCodeHandlerFailed, "handler failed", cause)

	assert.Equal(t, cause, err.Unwrap())
	assert.True(t, errors.Is(err, cause))
}

func TestPipeErrorIs(t *testing.T) {
	err1 := ErrDuplicateHandler("save", "h1")
	err2 := ErrDuplicateHandler("load", "h2")
	err3 := ErrUnknownMode("bogus")

	// Same type and code match regardless of action/handler context
	assert.True(t, errors.Is(err1, err2))
	assert.False(t, errors.Is(err1, err3))
}

func TestErrorConstructors(t *testing.T) {
	testCases := []struct {
		name        string
		err         *PipeError
		errType     ErrorType
		recoverable bool
	}{
		{"validation", NewValidationError("ERR_X", "msg"), ErrorTypeValidation, true},
		{"config", NewConfigError("ERR_X", "msg"), ErrorTypeConfig, false},
		{"execution", NewExecutionError("ERR_X", "msg", nil), ErrorTypeExecution, true},
		{"timeout", NewTimeoutError("ERR_X", "msg"), ErrorTypeTimeout, true},
		{"io", NewIOError("ERR_X", "msg", nil), ErrorTypeIO, false},
		{"internal", NewInternalError("ERR_X", "msg", nil), ErrorTypeInternal, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.errType, tc.err.Type)
			assert.Equal(t, tc.recoverable, tc.err.Recoverable)
		})
	}
}

func TestErrorPredicates(t *testing.T) {
	configErr := ErrDuplicateHandler("save", "h1")
	execErr := ErrHandlerFailed("save", "h1", errors.New("boom"))
	timeoutErr := ErrHandlerTimeout("save", "h1", 50*time.Millisecond)
	plain := errors.New("plain")

	assert.True(t, IsConfigError(configErr))
	assert.False(t, IsConfigError(execErr))

	assert.True(t, IsExecutionError(execErr))
	assert.False(t, IsExecutionError(timeoutErr))

	assert.True(t, IsTimeoutError(timeoutErr))
	assert.False(t, IsTimeoutError(plain))

	assert.True(t, IsRecoverable(execErr))
	assert.False(t, IsRecoverable(configErr))
	assert.False(t, IsRecoverable(plain))
}

func TestErrorPredicatesWrapped(t *testing.T) {
	inner := ErrHandlerTimeout("save", "h1", time.Second)
	wrapped := fmt.Errorf("dispatch failed: %w", inner)

	assert.True(t, IsTimeoutError(wrapped))

	var pe *PipeError
	require.True(t, errors.As(wrapped, &pe))
	assert.Equal(t, ErrCodeHandlerTimeout, pe.Code)
	assert.Equal(t, "save", pe.Action)
	assert.Equal(t, "h1", pe.HandlerID)
}

func TestWithContext(t *testing.T) {
	err := NewConfigError(ErrCodeConfigInvalid, "bad setting").
		WithContext("setting", "mode").
		WithContext("value", 42)

	require.NotNil(t, err.Context)
	assert.Equal(t, "mode", err.Context["setting"])
	assert.Equal(t, 42, err.Context["value"])
}

func TestErrHandlerPanic(t *testing.T) {
	err := ErrHandlerPanic("save", "h3", "kaboom")

	assert.Equal(t, ErrorTypeExecution, err.Type)
	assert.Equal(t, ErrCodeHandlerPanic, err.Code)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Equal(t, "kaboom", err.Context["panic_value"])
}

func TestWrap(t *testing.T) {
	t.Run("nil error", func(t *testing.T) {
		assert.Nil(t, Wrap(nil, ErrorTypeInternal, "ERR_X", "msg"))
	})

	t.Run("plain error", func(t *testing.T) {
		cause := errors.New("plain")
		wrapped := Wrap(cause, ErrorTypeExecution, "ERR_X", "wrapped")

		assert.Equal(t, ErrorTypeExecution, wrapped.Type)
		assert.Equal(t, cause, wrapped.Cause)
		assert.True(t, wrapped.Recoverable)
	})

	t.Run("pipe error preserves context", func(t *testing.T) {
		inner := ErrHandlerFailed("save", "h1", nil)
		wrapped := Wrap(inner, ErrorTypeInternal, "ERR_OUTER", "outer")

		assert.Equal(t, "save", wrapped.Action)
		assert.Equal(t, "h1", wrapped.HandlerID)
		assert.Equal(t, inner, wrapped.Cause)
	})
}

func TestExtractCause(t *testing.T) {
	root := errors.New("root")
	mid := WrapExecution(root, ErrCodeHandlerFailed, "mid", "save", "h1")
	outer := WrapInternal(mid, ErrCodeInternalError, "outer")

	assert.Equal(t, root, ExtractCause(outer))
	assert.Nil(t, ExtractCause(nil))
}

func TestFirstError(t *testing.T) {
	err := errors.New("first")
	assert.Equal(t, err, FirstError(nil, err, errors.New("second")))
	assert.Nil(t, FirstError(nil, nil))
}

func TestNewErrorCollector(t *testing.T) {
	collector := NewErrorCollector()

	assert.NotNil(t, collector)
	assert.Empty(t, collector.GetIssues())
	assert.False(t, collector.HasErrors())
	assert.Nil(t, collector.ToError())
}

func TestErrorCollectorAdd(t *testing.T) {
	collector := NewErrorCollector()

	issue := Issue{
		Source:   "pipeline.yml",
		Field:    "handlers[0].behavior",
		Message:  "unknown behavior",
		Severity: ErrorSeverityError,
	}

	before := time.Now()
	collector.Add(issue)
	after := time.Now()

	assert.True(t, collector.HasErrors())
	require.Len(t, collector.GetIssues(), 1)

	added := collector.GetIssues()[0]
	assert.Equal(t, "pipeline.yml", added.Source)
	assert.Equal(t, "handlers[0].behavior", added.Field)
	assert.Equal(t, "unknown behavior", added.Message)

	// Check that timestamp was set
	assert.True(t, added.Timestamp.After(before) || added.Timestamp.Equal(before))
	assert.True(t, added.Timestamp.Before(after) || added.Timestamp.Equal(after))
}

func TestErrorCollectorToError(t *testing.T) {
	collector := NewErrorCollector()
	collector.AddField("pipeline.yml", "dispatches[1].mode", "unknown execution mode")
	collector.AddError(errors.New("general failure"))

	err := collector.ToError()
	require.NotNil(t, err)
	assert.Equal(t, ErrorTypeValidation, err.Type)
	assert.Contains(t, err.Error(), "unknown execution mode")
	assert.Contains(t, err.Error(), "general failure")
	assert.Equal(t, 2, err.Context["issue_count"])
}

func TestErrorCollectorGetIssuesBySource(t *testing.T) {
	collector := NewErrorCollector()
	collector.AddField("a.yml", "f1", "m1")
	collector.AddField("b.yml", "f2", "m2")
	collector.AddField("a.yml", "f3", "m3")

	assert.Len(t, collector.GetIssuesBySource("a.yml"), 2)
	assert.Len(t, collector.GetIssuesBySource("b.yml"), 1)
	assert.Empty(t, collector.GetIssuesBySource("c.yml"))
}

func TestErrorCollectorClear(t *testing.T) {
	collector := NewErrorCollector()
	collector.AddField("a.yml", "f1", "m1")
	collector.AddError(errors.New("x"))
	require.True(t, collector.HasErrors())

	collector.Clear()
	assert.False(t, collector.HasErrors())
	assert.Empty(t, collector.GetAllErrors())
}

func TestErrorCollectorConcurrent(t *testing.T) {
	collector := NewErrorCollector()

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				collector.AddField("script.yml", fmt.Sprintf("field_%d_%d", id, i), "bad value")
			}
		}(g)
	}
	wg.Wait()

	assert.Len(t, collector.GetIssues(), 200)
}

func TestFormatSuggestions(t *testing.T) {
	suggestions := []ErrorSuggestion{
		{
			Title:       "Use a supported execution mode",
			Description: "Valid modes are: sequential, parallel, race",
			Command:     "actionpipe inspect script.yml",
		},
	}

	output := FormatSuggestions("unknown mode 'paralel'", suggestions)
	assert.Contains(t, output, "unknown mode 'paralel'")
	assert.Contains(t, output, "Suggestions:")
	assert.Contains(t, output, "Use a supported execution mode")
	assert.Contains(t, output, "Run: actionpipe inspect script.yml")
}

func TestUnknownModeErrorSuggestions(t *testing.T) {
	ctx := &SuggestionContext{}
	suggestions := UnknownModeError("paral", ctx)

	require.NotEmpty(t, suggestions)
	assert.Contains(t, suggestions[0].Description, "sequential")

	var foundDidYouMean bool
	for _, s := range suggestions {
		if s.Title == "Did you mean 'parallel'?" {
			foundDidYouMean = true
		}
	}
	assert.True(t, foundDidYouMean)
}

func TestActionNotFoundErrorSuggestions(t *testing.T) {
	ctx := &SuggestionContext{
		KnownActions: []string{"user:save", "user:load"},
		ScriptPath:   "script.yml",
	}

	suggestions := ActionNotFoundError("user:sav", ctx)

	var foundSimilar bool
	for _, s := range suggestions {
		if s.Title == "Did you mean 'user:save'?" {
			foundSimilar = true
		}
	}
	assert.True(t, foundSimilar)
}

func TestEnhancedError(t *testing.T) {
	original := errors.New("bind: address already in use")
	enhanced := NewEnhancedError("failed to start event stream", original, ServerStartError(original, 8080, &SuggestionContext{}))

	assert.Contains(t, enhanced.Error(), "failed to start event stream")
	assert.Contains(t, enhanced.Error(), "Port already in use")
	assert.Equal(t, original, errors.Unwrap(enhanced))
}
