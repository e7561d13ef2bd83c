package script

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	pipeerrors "github.com/actionpipe/actionpipe/internal/errors"
	"github.com/actionpipe/actionpipe/internal/guard"
	"github.com/actionpipe/actionpipe/internal/pipeline"
)

// Load reads and parses a script file.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pipeerrors.NewIOError(
			pipeerrors.ErrCodeFileNotFound,
			fmt.Sprintf("cannot read script %s", path),
			err,
		)
	}
	return Parse(data, path)
}

// Parse decodes and validates a script document. The source name appears in
// validation messages.
func Parse(data []byte, source string) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, pipeerrors.NewConfigError(
			pipeerrors.ErrCodeScriptInvalid,
			fmt.Sprintf("script %s is not valid YAML: %v", source, err),
		).WithContext("source", source)
	}

	if err := s.validate(source); err != nil {
		return nil, err
	}

	return &s, nil
}

// validate checks every declaration and reports all findings at once.
func (s *Script) validate(source string) error {
	collector := pipeerrors.NewErrorCollector()

	if s.Defaults.Mode != "" {
		if _, err := pipeline.ParseMode(s.Defaults.Mode); err != nil {
			collector.AddField(source, "defaults.mode", unknownNameMessage(s.Defaults.Mode, pipeline.ModeNames()))
		}
	}
	if s.Defaults.ErrorPolicy != "" {
		if _, err := pipeline.ParseErrorPolicy(s.Defaults.ErrorPolicy); err != nil {
			collector.AddField(source, "defaults.error_policy", unknownNameMessage(s.Defaults.ErrorPolicy, []string{"fail-fast", "aggregate"}))
		}
	}

	seenIDs := make(map[string]bool)
	for i, h := range s.Handlers {
		field := func(name string) string { return fmt.Sprintf("handlers[%d].%s", i, name) }

		if h.Action == "" {
			collector.AddField(source, field("action"), "action name is required")
		}
		if h.Behavior != "" && !knownBehavior(h.Behavior) {
			collector.AddField(source, field("behavior"), unknownNameMessage(h.Behavior, BehaviorNames()))
		}
		if h.Behavior == BehaviorDelay && h.Delay <= 0 {
			collector.AddField(source, field("delay"), "delay behavior needs a positive delay")
		}
		if h.Delay < 0 {
			collector.AddField(source, field("delay"), "delay cannot be negative")
		}
		if h.Timeout < 0 {
			collector.AddField(source, field("timeout"), "timeout cannot be negative")
		}
		if h.Condition != nil && h.Condition.Equals == "" && h.Condition.Contains == "" {
			collector.AddField(source, field("condition"), "condition needs equals or contains")
		}
		if h.ID != "" && h.Action != "" {
			key := h.Action + "\x00" + h.ID
			if seenIDs[key] {
				collector.AddField(source, field("id"), fmt.Sprintf("duplicate handler id %q for action %q", h.ID, h.Action))
			}
			seenIDs[key] = true
		}
	}

	for i, g := range s.Guards {
		field := func(name string) string { return fmt.Sprintf("guards[%d].%s", i, name) }

		if g.Action == "" {
			collector.AddField(source, field("action"), "action name is required")
		}
		if g.Policy != "debounce" && g.Policy != "throttle" {
			collector.AddField(source, field("policy"), unknownNameMessage(g.Policy, []string{"debounce", "throttle"}))
		}
		if g.Window <= 0 {
			collector.AddField(source, field("window"), "window must be positive")
		}
		if g.ThrottlePolicy != "" {
			if g.Policy == "debounce" {
				collector.AddField(source, field("throttle_policy"), "throttle_policy only applies to throttle guards")
			} else if _, err := guard.ParseThrottlePolicy(g.ThrottlePolicy); err != nil {
				collector.AddField(source, field("throttle_policy"), unknownNameMessage(g.ThrottlePolicy, []string{"leading", "trailing"}))
			}
		}
	}

	for i, d := range s.Dispatches {
		field := func(name string) string { return fmt.Sprintf("dispatches[%d].%s", i, name) }

		if d.Action == "" {
			collector.AddField(source, field("action"), "action name is required")
		}
		if d.Mode != "" {
			if _, err := pipeline.ParseMode(d.Mode); err != nil {
				collector.AddField(source, field("mode"), unknownNameMessage(d.Mode, pipeline.ModeNames()))
			}
		}
		if d.ErrorPolicy != "" {
			if _, err := pipeline.ParseErrorPolicy(d.ErrorPolicy); err != nil {
				collector.AddField(source, field("error_policy"), unknownNameMessage(d.ErrorPolicy, []string{"fail-fast", "aggregate"}))
			}
		}
		if d.Repeat < 0 {
			collector.AddField(source, field("repeat"), "repeat cannot be negative")
		}
		if d.Interval < 0 {
			collector.AddField(source, field("interval"), "interval cannot be negative")
		}
	}

	if collector.HasErrors() {
		issues := collector.GetIssues()
		messages := make([]string, 0, len(issues))
		for _, issue := range issues {
			messages = append(messages, fmt.Sprintf("%s: %s", issue.Field, issue.Message))
		}
		return pipeerrors.NewConfigError(
			pipeerrors.ErrCodeScriptInvalid,
			fmt.Sprintf("script %s is invalid: %s", source, strings.Join(messages, "; ")),
		).WithContext("source", source).WithContext("issue_count", len(issues))
	}

	return nil
}

func knownBehavior(name string) bool {
	for _, b := range BehaviorNames() {
		if name == b {
			return true
		}
	}
	return false
}

func unknownNameMessage(got string, accepted []string) string {
	return fmt.Sprintf("unknown name %q, accepted: %s", got, strings.Join(accepted, ", "))
}
