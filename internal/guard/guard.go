// Package guard provides per-action admission policies in front of a
// dispatcher: debouncing collapses call bursts into one trailing dispatch
// whose result every caller shares, and throttling rate-limits dispatches to
// one per interval.
package guard

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eapache/queue"

	pipeerrors "github.com/actionpipe/actionpipe/internal/errors"
	"github.com/actionpipe/actionpipe/internal/logging"
	"github.com/actionpipe/actionpipe/internal/pipeline"
)

// ThrottlePolicy selects which edge of a throttle interval dispatches.
type ThrottlePolicy int

const (
	// ThrottleLeading runs the first call of a fresh interval immediately;
	// calls landing inside the interval resolve at once with the skip marker
	// set on their Result.
	ThrottleLeading ThrottlePolicy = iota
	// ThrottleTrailing coalesces the interval's calls into one dispatch at
	// interval end; every suppressed caller shares that dispatch's Result.
	ThrottleTrailing
)

// String returns the policy's configuration name.
func (p ThrottlePolicy) String() string {
	switch p {
	case ThrottleLeading:
		return "leading"
	case ThrottleTrailing:
		return "trailing"
	default:
		return "unknown"
	}
}

// ParseThrottlePolicy converts a configuration name into a ThrottlePolicy.
func ParseThrottlePolicy(name string) (ThrottlePolicy, error) {
	switch name {
	case "leading", "":
		return ThrottleLeading, nil
	case "trailing":
		return ThrottleTrailing, nil
	default:
		return ThrottleLeading, pipeerrors.NewConfigError(
			pipeerrors.ErrCodeInvalidOption,
			"unknown throttle policy: "+name,
		).WithContext("policy", name)
	}
}

type policyKind int

const (
	policyDebounce policyKind = iota
	policyThrottle
)

// settled carries one shared dispatch resolution to a waiter.
type settled struct {
	res *pipeline.Result
	err error
}

// policy holds the admission state for one guarded action. Waiters are kept
// on a FIFO ring so a burst's callers are released in arrival order.
type policy struct {
	mu       sync.Mutex
	kind     policyKind
	action   string
	window   time.Duration
	throttle ThrottlePolicy

	timer   *time.Timer
	seq     uint64
	payload interface{}
	opts    []pipeline.DispatchOption
	waiters *queue.Queue

	lastRun time.Time
}

// Guard fronts a Dispatcher with per-action debounce and throttle policies.
// Actions without a policy pass straight through. A Guard is safe for
// concurrent use.
type Guard struct {
	mu         sync.RWMutex
	dispatcher *pipeline.Dispatcher
	policies   map[string]*policy
	logger     logging.Logger
	baseCtx    context.Context
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the guard's logger.
func WithLogger(logger logging.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithContext sets the base context used for deferred dispatches. A
// trailing-edge dispatch fires after its callers may have moved on, so it
// cannot borrow any single caller's context; it runs on this one instead.
func WithContext(ctx context.Context) Option {
	return func(g *Guard) {
		if ctx != nil {
			g.baseCtx = ctx
		}
	}
}

// New creates a Guard in front of a dispatcher.
func New(dispatcher *pipeline.Dispatcher, opts ...Option) *Guard {
	g := &Guard{
		dispatcher: dispatcher,
		policies:   make(map[string]*policy),
		logger:     logging.NewDiscardLogger(),
		baseCtx:    context.Background(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.WithComponent("guard")
	return g
}

// Debounce installs a trailing-edge debounce on an action: a burst of calls
// collapses into one dispatch of the burst's last payload, fired once the
// calls have been quiet for the full delay. Every caller in the burst blocks
// until that dispatch resolves and receives the same Result.
func (g *Guard) Debounce(action string, delay time.Duration) error {
	if delay <= 0 {
		return pipeerrors.ErrInvalidOption("debounce delay must be positive").WithAction(action)
	}
	return g.install(&policy{
		kind:    policyDebounce,
		action:  action,
		window:  delay,
		waiters: queue.New(),
	})
}

// Throttle installs a rate limit on an action: at most one dispatch per
// interval. ThrottleLeading runs the first call and marks the rest skipped;
// ThrottleTrailing coalesces them into one dispatch at interval end.
func (g *Guard) Throttle(action string, interval time.Duration, throttlePolicy ThrottlePolicy) error {
	if interval <= 0 {
		return pipeerrors.ErrInvalidOption("throttle interval must be positive").WithAction(action)
	}
	return g.install(&policy{
		kind:     policyThrottle,
		action:   action,
		window:   interval,
		throttle: throttlePolicy,
		waiters:  queue.New(),
	})
}

func (g *Guard) install(p *policy) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.policies[p.action]; exists {
		return pipeerrors.ErrGuardConflict(p.action)
	}
	g.policies[p.action] = p

	g.logger.Debug(g.baseCtx, "guard installed",
		"action", p.action,
		"policy", g.describe(p),
	)
	return nil
}

// Remove uninstalls an action's policy. A pending deferred dispatch is
// flushed immediately so no waiter is left hanging. It returns false when
// the action had no policy.
func (g *Guard) Remove(action string) bool {
	g.mu.Lock()
	p, exists := g.policies[action]
	if exists {
		delete(g.policies, action)
	}
	g.mu.Unlock()

	if !exists {
		return false
	}

	g.flush(p)
	return true
}

// Close uninstalls every policy, flushing any pending deferred dispatches so
// no waiter is left hanging. The guard passes calls straight through to the
// dispatcher afterwards.
func (g *Guard) Close() {
	for _, action := range g.Guarded() {
		g.Remove(action)
	}
}

// Flush fires an action's pending deferred dispatch now instead of waiting
// out the window. It returns false when nothing was pending.
func (g *Guard) Flush(action string) bool {
	g.mu.RLock()
	p := g.policies[action]
	g.mu.RUnlock()

	if p == nil {
		return false
	}
	return g.flush(p)
}

// Pending reports whether an action has callers waiting on a deferred
// dispatch.
func (g *Guard) Pending(action string) bool {
	g.mu.RLock()
	p := g.policies[action]
	g.mu.RUnlock()

	if p == nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiters.Length() > 0
}

// Guarded returns the sorted names of all actions with a policy installed.
func (g *Guard) Guarded() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	actions := make([]string, 0, len(g.policies))
	for action := range g.policies {
		actions = append(actions, action)
	}
	sort.Strings(actions)
	return actions
}

// Describe returns a human-readable summary of an action's policy.
func (g *Guard) Describe(action string) (string, bool) {
	g.mu.RLock()
	p := g.policies[action]
	g.mu.RUnlock()

	if p == nil {
		return "", false
	}
	return g.describe(p), true
}

func (g *Guard) describe(p *policy) string {
	if p.kind == policyDebounce {
		return fmt.Sprintf("debounce(%s)", p.window)
	}
	return fmt.Sprintf("throttle(%s, %s)", p.window, p.throttle)
}

// Dispatch routes a call through the action's admission policy. Unguarded
// actions dispatch directly.
func (g *Guard) Dispatch(ctx context.Context, action string, payload interface{}, opts ...pipeline.DispatchOption) (*pipeline.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	g.mu.RLock()
	p := g.policies[action]
	g.mu.RUnlock()

	if p == nil {
		return g.dispatcher.Dispatch(ctx, action, payload, opts...)
	}

	switch p.kind {
	case policyDebounce:
		return g.debounced(ctx, p, payload, opts)
	default:
		return g.throttled(ctx, p, payload, opts)
	}
}

// debounced enqueues the caller and restarts the quiet-period timer. The
// last payload of the burst wins.
func (g *Guard) debounced(ctx context.Context, p *policy, payload interface{}, opts []pipeline.DispatchOption) (*pipeline.Result, error) {
	ch := make(chan settled, 1)

	p.mu.Lock()
	p.payload = payload
	p.opts = opts
	p.waiters.Add(ch)
	p.seq++
	seq := p.seq
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.window, func() {
		g.fire(p, seq)
	})
	p.mu.Unlock()

	return g.await(ctx, p, ch)
}

// throttled admits, suppresses, or defers the caller depending on the
// policy's edge and where the call lands in the interval.
func (g *Guard) throttled(ctx context.Context, p *policy, payload interface{}, opts []pipeline.DispatchOption) (*pipeline.Result, error) {
	now := time.Now()

	p.mu.Lock()
	fresh := p.lastRun.IsZero() || now.Sub(p.lastRun) >= p.window

	if p.throttle == ThrottleLeading {
		if fresh {
			p.lastRun = now
			p.mu.Unlock()
			return g.dispatcher.Dispatch(ctx, p.action, payload, opts...)
		}
		p.mu.Unlock()

		g.logger.Debug(ctx, "throttled call suppressed", "action", p.action)
		return &pipeline.Result{Action: p.action, Skipped: true}, nil
	}

	ch := make(chan settled, 1)
	p.payload = payload
	p.opts = opts
	p.waiters.Add(ch)
	if p.timer == nil {
		p.seq++
		seq := p.seq
		wait := p.window
		if !fresh {
			wait = p.window - now.Sub(p.lastRun)
		}
		p.timer = time.AfterFunc(wait, func() {
			g.fire(p, seq)
		})
	}
	p.mu.Unlock()

	return g.await(ctx, p, ch)
}

// await blocks until the shared dispatch settles or the caller's context is
// done. A caller that gives up does not disturb the burst; its slot in the
// shared dispatch simply goes unread.
func (g *Guard) await(ctx context.Context, p *policy, ch chan settled) (*pipeline.Result, error) {
	select {
	case s := <-ch:
		return s.res, s.err
	case <-ctx.Done():
		g.logger.Debug(ctx, "guarded caller gave up waiting", "action", p.action)
		return &pipeline.Result{Action: p.action, Skipped: true}, ctx.Err()
	}
}

// fire runs the deferred dispatch for a window, unless a later call has
// superseded this timer, and hands the shared result to every waiter in
// arrival order.
func (g *Guard) fire(p *policy, seq uint64) {
	p.mu.Lock()
	if p.seq != seq {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	if p.kind == policyThrottle {
		p.lastRun = time.Now()
	}
	payload := p.payload
	opts := p.opts
	waiters := g.drainWaiters(p)
	p.mu.Unlock()

	if len(waiters) == 0 {
		return
	}
	g.deliver(p, payload, opts, waiters)
}

// flush fires a pending window immediately. It returns false when no caller
// was waiting.
func (g *Guard) flush(p *policy) bool {
	p.mu.Lock()
	if p.waiters.Length() == 0 {
		p.mu.Unlock()
		return false
	}
	p.seq++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.kind == policyThrottle {
		p.lastRun = time.Now()
	}
	payload := p.payload
	opts := p.opts
	waiters := g.drainWaiters(p)
	p.mu.Unlock()

	g.deliver(p, payload, opts, waiters)
	return true
}

func (g *Guard) drainWaiters(p *policy) []chan settled {
	waiters := make([]chan settled, 0, p.waiters.Length())
	for p.waiters.Length() > 0 {
		waiters = append(waiters, p.waiters.Remove().(chan settled))
	}
	return waiters
}

// deliver runs the coalesced dispatch on the guard's base context and fans
// the shared result out. Waiter channels are buffered, so an abandoned
// waiter never blocks delivery to the rest.
func (g *Guard) deliver(p *policy, payload interface{}, opts []pipeline.DispatchOption, waiters []chan settled) {
	res, err := g.dispatcher.Dispatch(g.baseCtx, p.action, payload, opts...)

	g.logger.Debug(g.baseCtx, "deferred dispatch fired",
		"action", p.action,
		"waiters", len(waiters),
	)

	for _, ch := range waiters {
		ch <- settled{res: res, err: err}
	}
}
