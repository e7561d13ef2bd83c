package script

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actionpipe/actionpipe/internal/guard"
	"github.com/actionpipe/actionpipe/internal/pipeline"
)

func newTestRunner(t *testing.T) (*Runner, *pipeline.Dispatcher) {
	t.Helper()
	d := pipeline.New()
	t.Cleanup(d.Close)
	return NewRunner(d, guard.New(d)), d
}

func TestRunner_BindRegistersHandlers(t *testing.T) {
	r, d := newTestRunner(t)

	s := &Script{
		Handlers: []HandlerSpec{
			{Action: "cart:add", ID: "validate", Priority: 100},
			{Action: "cart:add", ID: "persist", Priority: 50},
			{Action: "cart:clear", ID: "wipe"},
		},
	}

	require.NoError(t, r.Bind(s))
	assert.Equal(t, 2, d.Registry().Count("cart:add"))
	assert.Equal(t, 1, d.Registry().Count("cart:clear"))

	reg, ok := d.Registry().Get("cart:add", "validate")
	require.True(t, ok)
	assert.Equal(t, 100, reg.Priority)
}

func TestRunner_BindDuplicateID(t *testing.T) {
	r, _ := newTestRunner(t)

	s := &Script{
		Handlers: []HandlerSpec{
			{Action: "cart:add", ID: "h1"},
			{Action: "cart:add", ID: "h1"},
		},
	}

	err := r.Bind(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handlers[1]")
}

func TestRunner_BindGuardsWithoutGuard(t *testing.T) {
	d := pipeline.New()
	defer d.Close()
	r := NewRunner(d, nil)

	s := &Script{
		Guards: []GuardSpec{{Action: "search:suggest", Policy: "debounce", Window: 10 * time.Millisecond}},
	}

	err := r.Bind(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no guard is attached")
}

func TestRunner_ExecuteSequence(t *testing.T) {
	r, _ := newTestRunner(t)

	s := &Script{
		Name: "two-step",
		Handlers: []HandlerSpec{
			{Action: "order:place", Value: "placed"},
			{Action: "order:ship", Value: "shipped"},
		},
		Dispatches: []DispatchSpec{
			{Action: "order:place", Payload: "o-1"},
			{Action: "order:ship", Payload: "o-1"},
		},
	}

	report, err := r.Run(context.Background(), s)

	require.NoError(t, err)
	assert.Equal(t, "two-step", report.Script)
	require.Len(t, report.Dispatches, 2)
	for _, d := range report.Dispatches {
		assert.Equal(t, string(pipeline.StatusSuccess), d.Status)
		assert.NoError(t, d.Err)
		require.NotNil(t, d.Result)
	}
	assert.Equal(t, 0, report.Failed())
}

func TestRunner_TransformChangesPayload(t *testing.T) {
	r, _ := newTestRunner(t)

	s := &Script{
		Handlers: []HandlerSpec{
			{Action: "msg:send", ID: "tag", Priority: 10, Behavior: BehaviorTransform, Prefix: "tagged:"},
			{Action: "msg:send", ID: "echo", Priority: 5},
		},
		Dispatches: []DispatchSpec{{Action: "msg:send", Payload: "hello"}},
	}

	report, err := r.Run(context.Background(), s)

	require.NoError(t, err)
	require.Len(t, report.Dispatches, 1)
	res := report.Dispatches[0].Result
	require.NotNil(t, res)
	assert.Equal(t, "tagged:hello", res.Payload)

	// The lower-priority echo sees the transformed payload.
	out, ok := res.Outcome("echo")
	require.True(t, ok)
	assert.Equal(t, "tagged:hello", out.Value)
}

func TestRunner_FailureStatus(t *testing.T) {
	r, _ := newTestRunner(t)

	s := &Script{
		Handlers: []HandlerSpec{
			{Action: "pay:charge", Behavior: BehaviorFail, Message: "card declined"},
		},
		Dispatches: []DispatchSpec{{Action: "pay:charge", Payload: "tx-1"}},
	}

	report, err := r.Run(context.Background(), s)

	require.NoError(t, err)
	require.Len(t, report.Dispatches, 1)
	assert.Equal(t, string(pipeline.StatusError), report.Dispatches[0].Status)
	require.Error(t, report.Dispatches[0].Err)
	assert.Contains(t, report.Dispatches[0].Err.Error(), "card declined")
	assert.Equal(t, 1, report.Failed())
}

func TestRunner_AbortStatus(t *testing.T) {
	r, _ := newTestRunner(t)

	s := &Script{
		Handlers: []HandlerSpec{
			{Action: "order:cancel", Behavior: BehaviorAbort, Message: "already shipped"},
		},
		Dispatches: []DispatchSpec{{Action: "order:cancel", Payload: "o-9"}},
	}

	report, err := r.Run(context.Background(), s)

	require.NoError(t, err)
	require.Len(t, report.Dispatches, 1)
	assert.Equal(t, string(pipeline.StatusAborted), report.Dispatches[0].Status)
	assert.NoError(t, report.Dispatches[0].Err)
	require.NotNil(t, report.Dispatches[0].Result)
	assert.Equal(t, "already shipped", report.Dispatches[0].Result.AbortReason)
	assert.Equal(t, 0, report.Failed())
}

func TestRunner_TerminateStatus(t *testing.T) {
	r, _ := newTestRunner(t)

	s := &Script{
		Handlers: []HandlerSpec{
			{Action: "feed:refresh", ID: "gate", Priority: 100, Behavior: BehaviorTerminate},
			{Action: "feed:refresh", ID: "load", Priority: 10},
		},
		Dispatches: []DispatchSpec{{Action: "feed:refresh"}},
	}

	report, err := r.Run(context.Background(), s)

	require.NoError(t, err)
	require.Len(t, report.Dispatches, 1)
	assert.Equal(t, string(pipeline.StatusTerminated), report.Dispatches[0].Status)

	res := report.Dispatches[0].Result
	require.NotNil(t, res)
	out, ok := res.Outcome("load")
	require.True(t, ok)
	assert.True(t, out.Skipped)
	assert.Equal(t, pipeline.SkipCauseTerminate, out.SkipCause)
}

func TestRunner_RepeatCountsDispatches(t *testing.T) {
	r, d := newTestRunner(t)

	s := &Script{
		Handlers:   []HandlerSpec{{Action: "tick:beat"}},
		Dispatches: []DispatchSpec{{Action: "tick:beat", Repeat: 3, Interval: time.Millisecond}},
	}

	report, err := r.Run(context.Background(), s)

	require.NoError(t, err)
	assert.Len(t, report.Dispatches, 3)
	assert.Equal(t, uint64(3), d.Metrics().TotalDispatches())

	stats := d.Metrics().ActionStats("tick:beat")
	require.NotNil(t, stats)
	assert.Equal(t, uint64(3), stats.DispatchCount)
}

func TestRunner_ConcurrentDebounceCollapses(t *testing.T) {
	r, d := newTestRunner(t)

	s := &Script{
		Handlers: []HandlerSpec{{Action: "search:suggest", Value: "results"}},
		Guards: []GuardSpec{
			{Action: "search:suggest", Policy: "debounce", Window: 40 * time.Millisecond},
		},
		Dispatches: []DispatchSpec{
			{Action: "search:suggest", Payload: "lapto", Repeat: 4, Interval: 2 * time.Millisecond, Concurrent: true},
		},
	}

	report, err := r.Run(context.Background(), s)

	require.NoError(t, err)
	require.Len(t, report.Dispatches, 4)

	// The burst collapses into one pipeline run whose result every caller
	// shares.
	assert.Equal(t, uint64(1), d.Metrics().TotalDispatches())
	first := report.Dispatches[0].Result
	require.NotNil(t, first)
	for _, dr := range report.Dispatches[1:] {
		assert.Same(t, first, dr.Result)
		assert.Equal(t, string(pipeline.StatusSuccess), dr.Status)
	}
}

func TestRunner_ThrottleLeadingSkips(t *testing.T) {
	r, d := newTestRunner(t)

	s := &Script{
		Handlers: []HandlerSpec{{Action: "scroll:update"}},
		Guards: []GuardSpec{
			{Action: "scroll:update", Policy: "throttle", Window: 200 * time.Millisecond},
		},
		Dispatches: []DispatchSpec{{Action: "scroll:update", Payload: 1, Repeat: 3}},
	}

	report, err := r.Run(context.Background(), s)

	require.NoError(t, err)
	require.Len(t, report.Dispatches, 3)
	assert.Equal(t, string(pipeline.StatusSuccess), report.Dispatches[0].Status)
	for _, dr := range report.Dispatches[1:] {
		assert.Equal(t, StatusSkipped, dr.Status)
		assert.NoError(t, dr.Err)
		require.NotNil(t, dr.Result)
		assert.True(t, dr.Result.GuardSkipped())
	}
	assert.Equal(t, uint64(1), d.Metrics().TotalDispatches())
}

func TestRunner_ModeOverride(t *testing.T) {
	r, _ := newTestRunner(t)

	s := &Script{
		Defaults: DefaultsSpec{Mode: "sequential"},
		Handlers: []HandlerSpec{{Action: "data:sync"}},
		Dispatches: []DispatchSpec{
			{Action: "data:sync"},
			{Action: "data:sync", Mode: "parallel", ErrorPolicy: "aggregate"},
		},
	}

	report, err := r.Run(context.Background(), s)

	require.NoError(t, err)
	require.Len(t, report.Dispatches, 2)
	assert.Equal(t, pipeline.ModeSequential, report.Dispatches[0].Result.Mode)
	assert.Equal(t, pipeline.ModeParallel, report.Dispatches[1].Result.Mode)
}

func TestRunner_UnknownModeFailsExecute(t *testing.T) {
	r, _ := newTestRunner(t)

	s := &Script{
		Handlers:   []HandlerSpec{{Action: "data:sync"}},
		Dispatches: []DispatchSpec{{Action: "data:sync", Mode: "broadcast"}},
	}

	_, err := r.Run(context.Background(), s)
	require.Error(t, err)
}

func TestRunner_ConditionFiltersHandler(t *testing.T) {
	r, _ := newTestRunner(t)

	s := &Script{
		Handlers: []HandlerSpec{
			{Action: "doc:save", ID: "draft-only", Condition: &ConditionSpec{Equals: "draft"}},
		},
		Dispatches: []DispatchSpec{
			{Action: "doc:save", Payload: "draft"},
			{Action: "doc:save", Payload: "final"},
		},
	}

	report, err := r.Run(context.Background(), s)

	require.NoError(t, err)
	require.Len(t, report.Dispatches, 2)

	matched := report.Dispatches[0].Result
	require.Len(t, matched.Outcomes, 1)
	assert.Equal(t, "draft-only", matched.Outcomes[0].HandlerID)

	// A payload the condition rejects leaves an empty chain, which still
	// dispatches successfully.
	unmatched := report.Dispatches[1].Result
	assert.Empty(t, unmatched.Outcomes)
	assert.Equal(t, string(pipeline.StatusSuccess), report.Dispatches[1].Status)
}

func TestRunner_NonBlockingHandler(t *testing.T) {
	r, _ := newTestRunner(t)

	blocking := false
	s := &Script{
		Handlers: []HandlerSpec{
			{Action: "audit:log", ID: "bg", Behavior: BehaviorDelay, Delay: 300 * time.Millisecond, Blocking: &blocking},
		},
		Dispatches: []DispatchSpec{{Action: "audit:log", Payload: "entry"}},
	}

	start := time.Now()
	report, err := r.Run(context.Background(), s)
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Len(t, report.Dispatches, 1)
	assert.Equal(t, string(pipeline.StatusSuccess), report.Dispatches[0].Status)
	// The dispatch does not wait out the non-blocking handler's delay.
	assert.Less(t, elapsed, 150*time.Millisecond)
}
