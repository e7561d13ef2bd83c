package emitter

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEmitter(t *testing.T) {
	e := New()

	assert.NotNil(t, e)
	assert.Equal(t, 0, e.ListenerCount(EventDispatchStart))
}

func TestOnAndEmit(t *testing.T) {
	e := New()

	var received []Event
	e.On(EventDispatchStart, func(event Event) {
		received = append(received, event)
	})

	e.Emit(Event{Type: EventDispatchStart, Action: "user:save"})
	e.Emit(Event{Type: EventDispatchEnd, Action: "user:save"})

	require.Len(t, received, 1)
	assert.Equal(t, EventDispatchStart, received[0].Type)
	assert.Equal(t, "user:save", received[0].Action)
	assert.False(t, received[0].Timestamp.IsZero())
}

func TestCallbackOrder(t *testing.T) {
	e := New()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		e.On(EventDispatchEnd, func(Event) {
			order = append(order, i)
		})
	}

	e.Emit(Event{Type: EventDispatchEnd, Action: "x"})

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestOffIsIdempotent(t *testing.T) {
	e := New()

	var calls int
	off := e.On(EventDispatchStart, func(Event) {
		calls++
	})

	e.Emit(Event{Type: EventDispatchStart})
	off()
	off() // second call must be a no-op

	e.Emit(Event{Type: EventDispatchStart})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, e.ListenerCount(EventDispatchStart))
}

func TestOffRemovesOnlyItsSubscription(t *testing.T) {
	e := New()

	var first, second int
	offFirst := e.On(EventDispatchStart, func(Event) { first++ })
	e.On(EventDispatchStart, func(Event) { second++ })

	offFirst()
	e.Emit(Event{Type: EventDispatchStart})

	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
}

func TestCallbackPanicIsRecovered(t *testing.T) {
	e := New()

	var after int
	e.On(EventDispatchError, func(Event) {
		panic("listener exploded")
	})
	e.On(EventDispatchError, func(Event) {
		after++
	})

	assert.NotPanics(t, func() {
		e.Emit(Event{Type: EventDispatchError, Err: errors.New("boom")})
	})
	assert.Equal(t, 1, after)
}

func TestErrMessagePopulated(t *testing.T) {
	e := New()

	var got Event
	e.On(EventDispatchError, func(event Event) {
		got = event
	})

	e.Emit(Event{Type: EventDispatchError, Err: errors.New("handler failed")})

	assert.Equal(t, "handler failed", got.ErrMessage)
}

func TestWatch(t *testing.T) {
	e := New()

	ch := e.Watch()
	e.Emit(Event{Type: EventHandlerRegistered, Action: "user:save", HandlerID: "h1"})

	select {
	case event := <-ch:
		assert.Equal(t, EventHandlerRegistered, event.Type)
		assert.Equal(t, "h1", event.HandlerID)
	case <-time.After(time.Second):
		t.Fatal("expected event on watcher channel")
	}
}

func TestWatchReceivesAllEventTypes(t *testing.T) {
	e := New()

	ch := e.Watch()
	e.Emit(Event{Type: EventDispatchStart, Action: "a"})
	e.Emit(Event{Type: EventDispatchEnd, Action: "a"})

	assert.Equal(t, EventDispatchStart, (<-ch).Type)
	assert.Equal(t, EventDispatchEnd, (<-ch).Type)
}

func TestUnwatch(t *testing.T) {
	e := New()

	ch := e.Watch()
	e.Unwatch(ch)

	// Channel must be closed after Unwatch
	_, ok := <-ch
	assert.False(t, ok)

	// Emitting after Unwatch must not panic
	assert.NotPanics(t, func() {
		e.Emit(Event{Type: EventDispatchStart})
	})
}

func TestSlowWatcherDoesNotBlockEmit(t *testing.T) {
	e := New()

	// Never read from this watcher; fill past its buffer
	_ = e.Watch()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 250; i++ {
			e.Emit(Event{Type: EventDispatchEnd, Action: fmt.Sprintf("a%d", i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emit blocked on a slow watcher")
	}
}

func TestClose(t *testing.T) {
	e := New()

	ch := e.Watch()
	var calls atomic.Int64
	e.On(EventDispatchStart, func(Event) { calls.Add(1) })

	e.Close()

	_, ok := <-ch
	assert.False(t, ok)

	e.Emit(Event{Type: EventDispatchStart})
	assert.Equal(t, int64(0), calls.Load())

	// Double close must be safe
	assert.NotPanics(t, func() { e.Close() })
}

func TestConcurrentEmitAndSubscribe(t *testing.T) {
	e := New()

	var calls atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				off := e.On(EventDispatchEnd, func(Event) { calls.Add(1) })
				e.Emit(Event{Type: EventDispatchEnd, Action: "x"})
				off()
			}
		}()
	}

	wg.Wait()

	// At least each goroutine's own emission while subscribed must land
	assert.GreaterOrEqual(t, calls.Load(), int64(8*50))
}
