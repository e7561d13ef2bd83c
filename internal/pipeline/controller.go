package pipeline

import (
	"sync"
)

// Controller is the mutable per-dispatch execution context handed to every
// handler. Handlers use it to steer pipeline flow: rewrite the payload,
// abort or terminate the remainder of the pipeline, or fast-forward past
// low-priority handlers. A single Controller is shared by all handlers of
// one dispatch, including concurrently running ones, so every accessor is
// safe for concurrent use.
type Controller struct {
	mu          sync.Mutex
	action      string
	mode        Mode
	dispatchID  string
	payload     interface{}
	aborted     bool
	abortReason string
	terminated  bool
	jumpTarget  int
	jumpSet     bool
	index       int
}

func newController(action string, mode Mode, dispatchID string, payload interface{}) *Controller {
	return &Controller{
		action:     action,
		mode:       mode,
		dispatchID: dispatchID,
		payload:    payload,
	}
}

// Action returns the action name being dispatched.
func (c *Controller) Action() string {
	return c.action
}

// Mode returns the execution mode of the current dispatch.
func (c *Controller) Mode() Mode {
	return c.mode
}

// DispatchID returns the unique ID of the current dispatch.
func (c *Controller) DispatchID() string {
	return c.dispatchID
}

// Payload returns the controller's current payload. In Sequential mode this
// reflects every modification made by earlier handlers; handlers started
// concurrently were handed the payload as of their batch start and should
// prefer their argument.
func (c *Controller) Payload() interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.payload
}

// ModifyPayload replaces the current payload with fn(current). Handlers that
// run later in Sequential order observe the new payload.
func (c *Controller) ModifyPayload(fn func(current interface{}) interface{}) {
	if fn == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.payload = fn(c.payload)
}

// Next signals voluntary continuation. The strategies already proceed on
// handler completion, so this is advisory; it exists so handlers can make
// their continuation intent explicit.
func (c *Controller) Next() {}

// Abort stops the pipeline: Sequential mode invokes no handler scheduled
// after the aborting one, concurrent modes only suppress handlers not yet
// started. Abort is not an error; the dispatch still resolves with
// Result.Aborted set.
func (c *Controller) Abort(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.aborted {
		return
	}
	c.aborted = true
	c.abortReason = reason
}

// Aborted reports whether the pipeline was aborted, and the reason.
func (c *Controller) Aborted() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.aborted, c.abortReason
}

// Terminate is a stronger abort: remaining handlers are recorded as skipped
// by termination, distinguishable from an abort in the dispatch result.
func (c *Controller) Terminate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.terminated = true
}

// Terminated reports whether the pipeline was terminated.
func (c *Controller) Terminated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.terminated
}

// JumpToPriority skips all remaining handlers whose priority is below the
// threshold. Only Sequential mode honors the jump; concurrent modes have
// already started their batch, so it is a no-op there.
func (c *Controller) JumpToPriority(threshold int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.jumpTarget = threshold
	c.jumpSet = true
}

// JumpTarget returns the active jump threshold, if any.
func (c *Controller) JumpTarget() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.jumpTarget, c.jumpSet
}

// Index returns the slot index of the handler the Sequential strategy is
// currently driving.
func (c *Controller) Index() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.index
}

func (c *Controller) setIndex(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.index = index
}
