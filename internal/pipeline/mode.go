package pipeline

import (
	pipeerrors "github.com/actionpipe/actionpipe/internal/errors"
)

// Mode selects the execution strategy for a dispatch.
type Mode int

const (
	// ModeSequential runs handlers one after another in priority order.
	ModeSequential Mode = iota
	// ModeParallel starts all eligible handlers at once and waits for the
	// batch to settle.
	ModeParallel
	// ModeRace starts all eligible handlers at once and settles with the
	// first outcome.
	ModeRace
)

// String returns the mode's configuration name.
func (m Mode) String() string {
	switch m {
	case ModeSequential:
		return "sequential"
	case ModeParallel:
		return "parallel"
	case ModeRace:
		return "race"
	default:
		return "unknown"
	}
}

// ModeNames lists the accepted mode names in configuration order.
func ModeNames() []string {
	return []string{"sequential", "parallel", "race"}
}

// ParseMode converts a configuration name into a Mode.
func ParseMode(name string) (Mode, error) {
	switch name {
	case "sequential", "":
		return ModeSequential, nil
	case "parallel":
		return ModeParallel, nil
	case "race":
		return ModeRace, nil
	default:
		return ModeSequential, pipeerrors.ErrUnknownMode(name)
	}
}

// ErrorPolicy controls how Parallel mode reports handler failures.
type ErrorPolicy int

const (
	// ErrorPolicyFailFast surfaces the first observed failure immediately;
	// still-running handlers finish in the background and their outcomes are
	// dropped.
	ErrorPolicyFailFast ErrorPolicy = iota
	// ErrorPolicyAggregate waits for the whole batch and joins every
	// failure into one error.
	ErrorPolicyAggregate
)

// String returns the policy's configuration name.
func (p ErrorPolicy) String() string {
	switch p {
	case ErrorPolicyFailFast:
		return "fail-fast"
	case ErrorPolicyAggregate:
		return "aggregate"
	default:
		return "unknown"
	}
}

// ParseErrorPolicy converts a configuration name into an ErrorPolicy.
func ParseErrorPolicy(name string) (ErrorPolicy, error) {
	switch name {
	case "fail-fast", "":
		return ErrorPolicyFailFast, nil
	case "aggregate":
		return ErrorPolicyAggregate, nil
	default:
		return ErrorPolicyFailFast, pipeerrors.NewConfigError(
			pipeerrors.ErrCodeInvalidOption,
			"unknown error policy: "+name,
		).WithContext("policy", name)
	}
}
