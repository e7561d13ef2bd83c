package pipeline

import (
	"time"
)

// Skip causes recorded on handler outcomes.
const (
	// SkipCauseAbort marks slots behind an Abort call.
	SkipCauseAbort = "abort"
	// SkipCauseTerminate marks slots behind a Terminate call.
	SkipCauseTerminate = "terminate"
	// SkipCauseJump marks slots below an active JumpToPriority threshold.
	SkipCauseJump = "jump"
	// SkipCauseError marks slots behind a failed blocking handler.
	SkipCauseError = "error"
	// SkipCauseOnce marks a once handler another dispatch already claimed.
	SkipCauseOnce = "once"
	// SkipCauseContext marks slots not started because the dispatch context
	// was done.
	SkipCauseContext = "context"
)

// HandlerOutcome records what one handler slot produced.
type HandlerOutcome struct {
	HandlerID string
	Priority  int
	Value     interface{}
	Err       error
	Duration  time.Duration
	Skipped   bool
	SkipCause string
}

// Result is the aggregate outcome of one dispatch. A Result is returned
// even when Dispatch also returns an error, so callers always have the
// per-handler diagnostics.
type Result struct {
	Action      string
	Mode        Mode
	DispatchID  string
	Payload     interface{}
	Aborted     bool
	AbortReason string
	Terminated  bool
	Skipped     bool
	Outcomes    []HandlerOutcome
	Duration    time.Duration
}

// Errs returns the errors recorded across all handler outcomes, in slot
// order.
func (r *Result) Errs() []error {
	var errs []error
	for _, outcome := range r.Outcomes {
		if outcome.Err != nil {
			errs = append(errs, outcome.Err)
		}
	}
	return errs
}

// Values returns the non-skipped, non-failed outcome values in slot order.
func (r *Result) Values() []interface{} {
	var values []interface{}
	for _, outcome := range r.Outcomes {
		if !outcome.Skipped && outcome.Err == nil {
			values = append(values, outcome.Value)
		}
	}
	return values
}

// Outcome returns the outcome recorded for a handler ID.
func (r *Result) Outcome(handlerID string) (HandlerOutcome, bool) {
	for _, outcome := range r.Outcomes {
		if outcome.HandlerID == handlerID {
			return outcome, true
		}
	}
	return HandlerOutcome{}, false
}

// GuardSkipped reports whether the Action Guard suppressed this call
// without running the pipeline.
func (r *Result) GuardSkipped() bool {
	return r.Skipped
}

func skippedOutcome(reg *Registration, cause string) HandlerOutcome {
	return HandlerOutcome{
		HandlerID: reg.ID,
		Priority:  reg.Priority,
		Skipped:   true,
		SkipCause: cause,
	}
}
