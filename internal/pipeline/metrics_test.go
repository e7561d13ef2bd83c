package pipeline

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordDispatch(t *testing.T) {
	m := NewMetrics()

	m.RecordDispatch("user:save", 10*time.Millisecond, 2, StatusSuccess)
	m.RecordDispatch("user:save", 30*time.Millisecond, 2, StatusSuccess)
	m.RecordDispatch("user:save", 20*time.Millisecond, 3, StatusError)

	assert.Equal(t, uint64(3), m.TotalDispatches())
	assert.Equal(t, uint64(1), m.TotalErrors())
	assert.Equal(t, 60*time.Millisecond, m.TotalDuration())
	assert.Equal(t, 20*time.Millisecond, m.AverageDuration())

	stats := m.ActionStats("user:save")
	require.NotNil(t, stats)
	assert.Equal(t, uint64(3), stats.DispatchCount)
	assert.Equal(t, uint64(1), stats.ErrorCount)
	assert.Equal(t, 3, stats.HandlerCount)
	assert.Equal(t, 10*time.Millisecond, stats.MinDuration)
	assert.Equal(t, 30*time.Millisecond, stats.MaxDuration)
	assert.Equal(t, StatusError, stats.LastStatus)
	assert.False(t, stats.LastDispatch.IsZero())
	assert.Equal(t, 20*time.Millisecond, stats.AverageActionDuration())
}

func TestMetrics_AbortCounting(t *testing.T) {
	m := NewMetrics()

	m.RecordDispatch("guarded", time.Millisecond, 1, StatusAborted)
	m.RecordDispatch("guarded", time.Millisecond, 1, StatusTerminated)
	m.RecordDispatch("guarded", time.Millisecond, 1, StatusSuccess)

	stats := m.ActionStats("guarded")
	require.NotNil(t, stats)
	assert.Equal(t, uint64(2), stats.AbortCount)
	assert.Equal(t, uint64(0), stats.ErrorCount)
	// Aborts are not errors.
	assert.Equal(t, uint64(0), m.TotalErrors())
}

func TestMetrics_UnknownAction(t *testing.T) {
	m := NewMetrics()

	assert.Nil(t, m.ActionStats("missing"))
	assert.Equal(t, time.Duration(0), m.AverageDuration())
}

func TestMetrics_StatsAreCopies(t *testing.T) {
	m := NewMetrics()
	m.RecordDispatch("user:save", 10*time.Millisecond, 1, StatusSuccess)

	stats := m.ActionStats("user:save")
	stats.DispatchCount = 999

	fresh := m.ActionStats("user:save")
	assert.Equal(t, uint64(1), fresh.DispatchCount)
}

func TestMetrics_TopActions(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 5; i++ {
		m.RecordDispatch("hot", time.Millisecond, 1, StatusSuccess)
	}
	for i := 0; i < 3; i++ {
		m.RecordDispatch("warm", time.Millisecond, 1, StatusSuccess)
	}
	m.RecordDispatch("cold", time.Millisecond, 1, StatusSuccess)

	top := m.TopActions(2)
	require.Len(t, top, 2)
	assert.Equal(t, "hot", top[0].Name)
	assert.Equal(t, "warm", top[1].Name)

	// Asking for more than exists returns everything.
	all := m.TopActions(10)
	assert.Len(t, all, 3)
}

func TestMetrics_SlowestActions(t *testing.T) {
	m := NewMetrics()

	m.RecordDispatch("quick", time.Millisecond, 1, StatusSuccess)
	m.RecordDispatch("glacial", 500*time.Millisecond, 1, StatusSuccess)
	m.RecordDispatch("steady", 50*time.Millisecond, 1, StatusSuccess)

	slowest := m.SlowestActions(2)
	require.Len(t, slowest, 2)
	assert.Equal(t, "glacial", slowest[0].Name)
	assert.Equal(t, "steady", slowest[1].Name)
}

func TestMetrics_ErrorRate(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 3; i++ {
		m.RecordDispatch("flaky", time.Millisecond, 1, StatusSuccess)
	}
	m.RecordDispatch("flaky", time.Millisecond, 1, StatusError)

	stats := m.ActionStats("flaky")
	require.NotNil(t, stats)
	assert.InDelta(t, 25.0, stats.ErrorRate(), 0.001)
}

func TestMetrics_Snapshot(t *testing.T) {
	m := NewMetrics()

	m.RecordDispatch("a", 10*time.Millisecond, 1, StatusSuccess)
	m.RecordDispatch("b", 20*time.Millisecond, 1, StatusError)
	m.RecordPanic("b")

	snapshot := m.Snapshot()
	assert.Equal(t, uint64(2), snapshot.TotalDispatches)
	assert.Equal(t, uint64(1), snapshot.TotalErrors)
	assert.Equal(t, uint64(1), snapshot.TotalPanics)
	assert.Equal(t, 30*time.Millisecond, snapshot.TotalDuration)
	assert.Equal(t, 15*time.Millisecond, snapshot.AverageDuration)
	assert.Equal(t, 2, snapshot.ActionCount)
	assert.False(t, snapshot.Timestamp.IsZero())
}

func TestMetrics_Reset(t *testing.T) {
	m := NewMetrics()

	m.RecordDispatch("a", time.Millisecond, 1, StatusSuccess)
	m.RecordPanic("a")
	require.Equal(t, uint64(1), m.TotalDispatches())

	m.Reset()

	assert.Equal(t, uint64(0), m.TotalDispatches())
	assert.Equal(t, uint64(0), m.TotalPanics())
	assert.Nil(t, m.ActionStats("a"))
	assert.Empty(t, m.AllActionStats())
}

func TestMetrics_ConcurrentRecording(t *testing.T) {
	m := NewMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			action := fmt.Sprintf("action-%d", i%3)
			for j := 0; j < 50; j++ {
				m.RecordDispatch(action, time.Millisecond, 1, StatusSuccess)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, uint64(500), m.TotalDispatches())

	total := uint64(0)
	for _, stats := range m.AllActionStats() {
		total += stats.DispatchCount
	}
	assert.Equal(t, uint64(500), total)
}
