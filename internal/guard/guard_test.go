package guard

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeerrors "github.com/actionpipe/actionpipe/internal/errors"
	"github.com/actionpipe/actionpipe/internal/pipeline"
)

// countingDispatcher returns a dispatcher with one handler on the action
// that counts executions and records the payload it saw.
func countingDispatcher(t *testing.T, action string) (*pipeline.Dispatcher, *atomic.Int64, *atomic.Value) {
	t.Helper()

	d := pipeline.New()
	var count atomic.Int64
	var lastPayload atomic.Value

	_, err := d.Register(action, func(ctx context.Context, payload interface{}, pc *pipeline.Controller) (interface{}, error) {
		count.Add(1)
		if payload != nil {
			lastPayload.Store(payload)
		}
		return payload, nil
	}, pipeline.WithID("counter"))
	require.NoError(t, err)

	return d, &count, &lastPayload
}

func TestGuard_Passthrough(t *testing.T) {
	d, count, _ := countingDispatcher(t, "plain")
	g := New(d)

	res, err := g.Dispatch(context.Background(), "plain", "x")
	require.NoError(t, err)

	assert.False(t, res.GuardSkipped())
	assert.Equal(t, int64(1), count.Load())
}

func TestGuard_DebounceCollapsesBurst(t *testing.T) {
	d, count, lastPayload := countingDispatcher(t, "search")
	g := New(d)
	require.NoError(t, g.Debounce("search", 60*time.Millisecond))

	var mu sync.Mutex
	var results []*pipeline.Result

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Staggered starts keep every call inside one burst and make
			// the last payload deterministic.
			time.Sleep(time.Duration(i) * 5 * time.Millisecond)
			res, err := g.Dispatch(context.Background(), "search", i)
			assert.NoError(t, err)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	// One dispatch for the whole burst, carrying the last payload.
	assert.Equal(t, int64(1), count.Load())
	assert.Equal(t, 4, lastPayload.Load())

	// Every caller got the same Result.
	require.Len(t, results, 5)
	for _, res := range results {
		assert.Same(t, results[0], res)
	}
	assert.Equal(t, []interface{}{4}, results[0].Values())
}

func TestGuard_DebounceSeparateBursts(t *testing.T) {
	d, count, _ := countingDispatcher(t, "search")
	g := New(d)
	require.NoError(t, g.Debounce("search", 20*time.Millisecond))

	_, err := g.Dispatch(context.Background(), "search", "first")
	require.NoError(t, err)
	_, err = g.Dispatch(context.Background(), "search", "second")
	require.NoError(t, err)

	// Each call waited out its own quiet period, so each dispatched.
	assert.Equal(t, int64(2), count.Load())
}

func TestGuard_ThrottleLeading(t *testing.T) {
	d, count, _ := countingDispatcher(t, "refresh")
	g := New(d)
	require.NoError(t, g.Throttle("refresh", 80*time.Millisecond, ThrottleLeading))

	// First call of the interval runs immediately.
	res, err := g.Dispatch(context.Background(), "refresh", 1)
	require.NoError(t, err)
	assert.False(t, res.GuardSkipped())
	assert.Equal(t, int64(1), count.Load())

	// Calls inside the interval are suppressed, not failed.
	for i := 0; i < 2; i++ {
		res, err = g.Dispatch(context.Background(), "refresh", 2)
		require.NoError(t, err)
		assert.True(t, res.GuardSkipped())
		assert.Empty(t, res.Outcomes)
	}
	assert.Equal(t, int64(1), count.Load())

	// A fresh interval admits again.
	time.Sleep(100 * time.Millisecond)
	res, err = g.Dispatch(context.Background(), "refresh", 3)
	require.NoError(t, err)
	assert.False(t, res.GuardSkipped())
	assert.Equal(t, int64(2), count.Load())
}

func TestGuard_ThrottleTrailing(t *testing.T) {
	d, count, lastPayload := countingDispatcher(t, "sync")
	g := New(d)
	require.NoError(t, g.Throttle("sync", 50*time.Millisecond, ThrottleTrailing))

	var mu sync.Mutex
	var results []*pipeline.Result

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			time.Sleep(time.Duration(i) * 5 * time.Millisecond)
			res, err := g.Dispatch(context.Background(), "sync", i)
			assert.NoError(t, err)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	// The burst coalesced into one trailing dispatch shared by all callers.
	assert.Equal(t, int64(1), count.Load())
	assert.Equal(t, 2, lastPayload.Load())
	require.Len(t, results, 3)
	for _, res := range results {
		assert.Same(t, results[0], res)
		assert.False(t, res.GuardSkipped())
	}
}

func TestGuard_Flush(t *testing.T) {
	d, count, _ := countingDispatcher(t, "slow")
	g := New(d)
	require.NoError(t, g.Debounce("slow", 10*time.Second))

	done := make(chan struct{})
	go func() {
		defer close(done)
		res, err := g.Dispatch(context.Background(), "slow", "payload")
		assert.NoError(t, err)
		assert.False(t, res.GuardSkipped())
	}()

	require.Eventually(t, func() bool {
		return g.Pending("slow")
	}, time.Second, 5*time.Millisecond)

	// Nothing has fired yet; flush releases the waiter without the wait.
	assert.Equal(t, int64(0), count.Load())
	assert.True(t, g.Flush("slow"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("flushed caller did not unblock")
	}
	assert.Equal(t, int64(1), count.Load())

	// A second flush has nothing to do.
	assert.False(t, g.Flush("slow"))
	assert.False(t, g.Flush("unguarded"))
}

func TestGuard_RemoveFlushesPending(t *testing.T) {
	d, count, _ := countingDispatcher(t, "slow")
	g := New(d)
	require.NoError(t, g.Debounce("slow", 10*time.Second))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := g.Dispatch(context.Background(), "slow", nil)
		assert.NoError(t, err)
	}()

	require.Eventually(t, func() bool {
		return g.Pending("slow")
	}, time.Second, 5*time.Millisecond)

	assert.True(t, g.Remove("slow"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("removed guard left its waiter hanging")
	}
	assert.Equal(t, int64(1), count.Load())

	// The action now passes straight through.
	_, err := g.Dispatch(context.Background(), "slow", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count.Load())

	assert.False(t, g.Remove("slow"))
}

func TestGuard_CloseFlushesEverything(t *testing.T) {
	d, count, _ := countingDispatcher(t, "slow")
	g := New(d)
	require.NoError(t, g.Debounce("slow", 10*time.Second))
	require.NoError(t, g.Throttle("other", 10*time.Second, ThrottleLeading))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := g.Dispatch(context.Background(), "slow", nil)
		assert.NoError(t, err)
	}()

	require.Eventually(t, func() bool {
		return g.Pending("slow")
	}, time.Second, 5*time.Millisecond)

	g.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("closed guard left its waiter hanging")
	}
	assert.Equal(t, int64(1), count.Load())
	assert.Empty(t, g.Guarded())

	// Dispatches now pass straight through.
	_, err := g.Dispatch(context.Background(), "slow", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count.Load())
}

func TestGuard_PolicyConflict(t *testing.T) {
	g := New(pipeline.New())

	require.NoError(t, g.Debounce("search", time.Millisecond))

	err := g.Throttle("search", time.Millisecond, ThrottleLeading)
	require.Error(t, err)

	var pe *pipeerrors.PipeError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, pipeerrors.ErrCodeGuardConflict, pe.Code)
	assert.Equal(t, "search", pe.Action)

	// Remove makes room for a replacement policy.
	assert.True(t, g.Remove("search"))
	assert.NoError(t, g.Throttle("search", time.Millisecond, ThrottleLeading))
}

func TestGuard_InvalidWindows(t *testing.T) {
	g := New(pipeline.New())

	assert.Error(t, g.Debounce("a", 0))
	assert.Error(t, g.Debounce("a", -time.Second))
	assert.Error(t, g.Throttle("b", 0, ThrottleLeading))
	assert.Empty(t, g.Guarded())
}

func TestGuard_GuardedAndDescribe(t *testing.T) {
	g := New(pipeline.New())

	require.NoError(t, g.Debounce("search", 150*time.Millisecond))
	require.NoError(t, g.Throttle("refresh", time.Second, ThrottleLeading))

	assert.Equal(t, []string{"refresh", "search"}, g.Guarded())

	desc, ok := g.Describe("search")
	require.True(t, ok)
	assert.Equal(t, "debounce(150ms)", desc)

	desc, ok = g.Describe("refresh")
	require.True(t, ok)
	assert.Equal(t, "throttle(1s, leading)", desc)

	_, ok = g.Describe("missing")
	assert.False(t, ok)
}

func TestGuard_CallerContextCancel(t *testing.T) {
	d, count, _ := countingDispatcher(t, "slow")
	g := New(d)
	require.NoError(t, g.Debounce("slow", 10*time.Second))

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		res, err := g.Dispatch(ctx, "slow", nil)
		// The giving-up caller gets a skip-marked result and the context
		// error; the burst itself is not disturbed.
		assert.ErrorIs(t, err, context.Canceled)
		require.NotNil(t, res)
		assert.True(t, res.GuardSkipped())
	}()

	require.Eventually(t, func() bool {
		return g.Pending("slow")
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("canceled caller did not unblock")
	}

	assert.Equal(t, int64(0), count.Load())
	g.Remove("slow")
}

func TestParseThrottlePolicy(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ThrottlePolicy
		wantErr bool
	}{
		{name: "leading", input: "leading", want: ThrottleLeading},
		{name: "trailing", input: "trailing", want: ThrottleTrailing},
		{name: "empty defaults to leading", input: "", want: ThrottleLeading},
		{name: "unknown", input: "sideways", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy, err := ParseThrottlePolicy(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, pipeerrors.IsConfigError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, policy)
		})
	}
}

func TestThrottlePolicyString(t *testing.T) {
	assert.Equal(t, "leading", ThrottleLeading.String())
	assert.Equal(t, "trailing", ThrottleTrailing.String())
	assert.Equal(t, "unknown", ThrottlePolicy(9).String())
}
