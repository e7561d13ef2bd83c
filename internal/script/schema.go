// Package script loads and runs declarative pipeline scripts. A script is a
// YAML document that declares probe handlers, guard policies, and a dispatch
// sequence; the runner binds it to a dispatcher and executes the sequence.
package script

import (
	"time"
)

// Handler behaviors a script can declare.
const (
	// BehaviorEcho returns the configured value, or the payload when none is
	// set.
	BehaviorEcho = "echo"
	// BehaviorDelay sleeps for the configured delay before returning.
	BehaviorDelay = "delay"
	// BehaviorFail returns an error carrying the configured message.
	BehaviorFail = "fail"
	// BehaviorTransform rewrites the payload by prepending the configured
	// prefix, visible to handlers later in the chain.
	BehaviorTransform = "transform"
	// BehaviorAbort aborts the dispatch with the configured message.
	BehaviorAbort = "abort"
	// BehaviorTerminate stops the chain while keeping the dispatch
	// successful.
	BehaviorTerminate = "terminate"
	// BehaviorJump skips the rest of the chain below the target priority.
	BehaviorJump = "jump"
)

// BehaviorNames lists the accepted handler behaviors.
func BehaviorNames() []string {
	return []string{
		BehaviorEcho,
		BehaviorDelay,
		BehaviorFail,
		BehaviorTransform,
		BehaviorAbort,
		BehaviorTerminate,
		BehaviorJump,
	}
}

// Script is a parsed pipeline script document.
type Script struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Defaults    DefaultsSpec   `yaml:"defaults"`
	Handlers    []HandlerSpec  `yaml:"handlers"`
	Guards      []GuardSpec    `yaml:"guards"`
	Dispatches  []DispatchSpec `yaml:"dispatches"`
}

// DefaultsSpec sets the execution mode and error policy used by dispatches
// that do not override them.
type DefaultsSpec struct {
	Mode        string `yaml:"mode"`
	ErrorPolicy string `yaml:"error_policy"`
}

// HandlerSpec declares one probe handler.
type HandlerSpec struct {
	Action          string         `yaml:"action"`
	ID              string         `yaml:"id"`
	Priority        int            `yaml:"priority"`
	Behavior        string         `yaml:"behavior"`
	Value           interface{}    `yaml:"value"`
	Message         string         `yaml:"message"`
	Delay           time.Duration  `yaml:"delay"`
	Prefix          string         `yaml:"prefix"`
	Target          int            `yaml:"target"`
	Blocking        *bool          `yaml:"blocking"`
	Once            bool           `yaml:"once"`
	ContinueOnError bool           `yaml:"continue_on_error"`
	Timeout         time.Duration  `yaml:"timeout"`
	Condition       *ConditionSpec `yaml:"condition"`
}

// IsBlocking reports whether the handler runs in the blocking lane. Handlers
// block unless the document says otherwise.
func (h *HandlerSpec) IsBlocking() bool {
	return h.Blocking == nil || *h.Blocking
}

// ConditionSpec filters a handler by the dispatch payload's string form.
// When both checks are set, both must match.
type ConditionSpec struct {
	Equals   string `yaml:"equals"`
	Contains string `yaml:"contains"`
}

// GuardSpec installs an admission policy for an action.
type GuardSpec struct {
	Action         string        `yaml:"action"`
	Policy         string        `yaml:"policy"`
	Window         time.Duration `yaml:"window"`
	ThrottlePolicy string        `yaml:"throttle_policy"`
}

// DispatchSpec is one step of the dispatch sequence.
//
// Repeat re-issues the dispatch; Interval spaces the repeats out. Sequential
// repeats block on each result, so set Concurrent to exercise debounce
// collapse or trailing throttle, where suppressed callers wait for the
// shared result.
type DispatchSpec struct {
	Action      string        `yaml:"action"`
	Payload     interface{}   `yaml:"payload"`
	Mode        string        `yaml:"mode"`
	ErrorPolicy string        `yaml:"error_policy"`
	Repeat      int           `yaml:"repeat"`
	Interval    time.Duration `yaml:"interval"`
	Concurrent  bool          `yaml:"concurrent"`
}

// Times returns the number of dispatches this step issues.
func (d *DispatchSpec) Times() int {
	if d.Repeat < 1 {
		return 1
	}
	return d.Repeat
}
