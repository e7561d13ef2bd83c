package errors

import (
	"fmt"
	"strings"
)

// ErrorSuggestion represents a suggestion for fixing an error
type ErrorSuggestion struct {
	Title       string
	Description string
	Command     string
	Example     string
}

// SuggestionContext provides context for generating suggestions
type SuggestionContext struct {
	KnownActions []string
	KnownModes   []string
	ConfigPath   string
	ScriptPath   string
}

// ActionNotFoundError generates suggestions for an action name with no
// registered handlers
func ActionNotFoundError(actionName string, ctx *SuggestionContext) []ErrorSuggestion {
	suggestions := []ErrorSuggestion{
		{
			Title:       "Check the action name",
			Description: "Verify the action is declared in the handlers section of your script",
			Example:     "handlers:\n  - action: " + actionName + "\n    behavior: echo",
		},
		{
			Title:       "List registered actions",
			Description: "See what actions currently have handlers",
			Command:     "actionpipe inspect " + ctx.ScriptPath,
		},
	}

	if len(ctx.KnownActions) > 0 {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Registered actions",
			Description: "These actions currently have handlers: " + strings.Join(ctx.KnownActions, ", "),
		})

		// Suggest similar action names
		for _, known := range ctx.KnownActions {
			if strings.Contains(strings.ToLower(known), strings.ToLower(actionName)) ||
				strings.Contains(strings.ToLower(actionName), strings.ToLower(known)) {
				suggestions = append(suggestions, ErrorSuggestion{
					Title:       "Did you mean '" + known + "'?",
					Description: "Similar action found",
				})
				break
			}
		}
	}

	return suggestions
}

// UnknownModeError generates suggestions for an unrecognized execution mode
func UnknownModeError(mode string, ctx *SuggestionContext) []ErrorSuggestion {
	valid := ctx.KnownModes
	if len(valid) == 0 {
		valid = []string{"sequential", "parallel", "race"}
	}

	suggestions := []ErrorSuggestion{
		{
			Title:       "Use a supported execution mode",
			Description: "Valid modes are: " + strings.Join(valid, ", "),
			Example:     "dispatches:\n  - action: save\n    mode: parallel",
		},
	}

	lowered := strings.ToLower(mode)
	for _, known := range valid {
		if strings.Contains(known, lowered) || strings.Contains(lowered, known) {
			suggestions = append(suggestions, ErrorSuggestion{
				Title:       "Did you mean '" + known + "'?",
				Description: "Similar mode name found",
			})
			break
		}
	}

	return suggestions
}

// ServerStartError generates suggestions for server startup failures
func ServerStartError(err error, port int, ctx *SuggestionContext) []ErrorSuggestion {
	suggestions := []ErrorSuggestion{}

	errStr := err.Error()

	if strings.Contains(errStr, "address already in use") || strings.Contains(errStr, "bind") {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Port already in use",
			Description: fmt.Sprintf("Port %d is already being used by another process", port),
			Command:     fmt.Sprintf("lsof -i :%d", port),
		})

		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Use a different port",
			Description: "Start the event stream on a different port",
			Command:     fmt.Sprintf("actionpipe serve --port %d", port+1000),
		})
	}

	if strings.Contains(errStr, "permission denied") {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Permission denied",
			Description: "You don't have permission to bind to this port",
		})

		if port < 1024 {
			suggestions = append(suggestions, ErrorSuggestion{
				Title:       "Use unprivileged port",
				Description: "Ports below 1024 require root privileges",
				Command:     "actionpipe serve --port 8080",
			})
		}
	}

	return suggestions
}

// ScriptLoadError generates suggestions for script loading failures
func ScriptLoadError(scriptError string, scriptPath string, ctx *SuggestionContext) []ErrorSuggestion {
	suggestions := []ErrorSuggestion{
		{
			Title:       "Check the script file",
			Description: "Verify the script exists and has valid syntax",
			Command:     "cat " + scriptPath,
		},
		{
			Title:       "Validate without dispatching",
			Description: "Use the inspect command to check the script for issues",
			Command:     "actionpipe inspect " + scriptPath,
		},
	}

	if strings.Contains(scriptError, "yaml") || strings.Contains(scriptError, "unmarshal") {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Fix YAML syntax",
			Description: "There's a syntax error in your YAML script",
			Example:     "Use proper indentation and avoid tabs",
		})
	}

	if strings.Contains(scriptError, "behavior") {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Check handler behaviors",
			Description: "Each handler declares one of: echo, delay, fail, transform",
			Example:     "handlers:\n  - action: save\n    behavior: delay\n    duration: 20ms",
		})
	}

	return suggestions
}

// ConfigurationSuggestions generates suggestions for configuration issues
func ConfigurationSuggestions(configError string, configPath string, ctx *SuggestionContext) []ErrorSuggestion {
	suggestions := []ErrorSuggestion{
		{
			Title:       "Check configuration file",
			Description: "Verify your .actionpipe.yml file exists and has valid syntax",
			Command:     "cat " + configPath,
		},
	}

	if strings.Contains(configError, "yaml") || strings.Contains(configError, "unmarshal") {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Fix YAML syntax",
			Description: "There's a syntax error in your YAML configuration",
			Example:     "Use proper indentation and avoid tabs",
		})
	}

	return suggestions
}

// FormatSuggestions formats suggestions into a user-friendly string
func FormatSuggestions(title string, suggestions []ErrorSuggestion) string {
	if len(suggestions) == 0 {
		return title
	}

	var output strings.Builder
	output.WriteString(title + "\n\n")
	output.WriteString("Suggestions:\n")

	for i, suggestion := range suggestions {
		output.WriteString(fmt.Sprintf("  %d. %s\n", i+1, suggestion.Title))
		if suggestion.Description != "" {
			output.WriteString(fmt.Sprintf("     %s\n", suggestion.Description))
		}
		if suggestion.Command != "" {
			output.WriteString(fmt.Sprintf("     Run: %s\n", suggestion.Command))
		}
		if suggestion.Example != "" {
			output.WriteString(fmt.Sprintf("     Example: %s\n", suggestion.Example))
		}
		output.WriteString("\n")
	}

	return output.String()
}

// EnhancedError wraps an error with suggestions
type EnhancedError struct {
	OriginalError error
	Title         string
	Suggestions   []ErrorSuggestion
}

// Error implements the error interface
func (e *EnhancedError) Error() string {
	return FormatSuggestions(e.Title, e.Suggestions)
}

// Unwrap returns the original error
func (e *EnhancedError) Unwrap() error {
	return e.OriginalError
}

// NewEnhancedError creates a new enhanced error with suggestions
func NewEnhancedError(title string, originalError error, suggestions []ErrorSuggestion) *EnhancedError {
	return &EnhancedError{
		OriginalError: originalError,
		Title:         title,
		Suggestions:   suggestions,
	}
}
