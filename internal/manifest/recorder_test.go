package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actionpipe/actionpipe/internal/pipeline"
)

func newTestRecorder(t *testing.T, opts ...Option) (*Recorder, *pipeline.Dispatcher, string) {
	t.Helper()

	d := pipeline.New()
	t.Cleanup(d.Close)

	path := filepath.Join(t.TempDir(), "manifest.yml")
	opts = append([]Option{WithDebounce(30 * time.Millisecond)}, opts...)
	r, err := NewRecorder(d, path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	return r, d, path
}

// waitForSnapshot polls the file until the predicate holds or the deadline
// passes.
func waitForSnapshot(t *testing.T, path string, ok func(*Snapshot) bool) *Snapshot {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap, err := Load(path); err == nil && ok(snap) {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("snapshot at %s never reached expected state", path)
	return nil
}

func TestNewRecorderValidation(t *testing.T) {
	d := pipeline.New()
	defer d.Close()

	_, err := NewRecorder(nil, "manifest.yml")
	assert.Error(t, err)

	_, err = NewRecorder(d, "")
	assert.Error(t, err)
}

func TestRecorderInitialSnapshot(t *testing.T) {
	r, d, path := newTestRecorder(t)

	_, err := d.Register("order:place", noop, pipeline.WithID("validate"), pipeline.WithPriority(10))
	require.NoError(t, err)

	require.NoError(t, r.Start())

	snap, err := Load(path)
	require.NoError(t, err)
	require.Len(t, snap.Actions, 1)
	assert.Equal(t, "validate", snap.Actions[0].Handlers[0].ID)
}

func TestRecorderDebouncedWrites(t *testing.T) {
	r, d, path := newTestRecorder(t)
	require.NoError(t, r.Start())

	for _, id := range []string{"h1", "h2", "h3"} {
		_, err := d.Register("cart:add", noop, pipeline.WithID(id))
		require.NoError(t, err)
	}

	snap := waitForSnapshot(t, path, func(s *Snapshot) bool { return s.TotalHandlers() == 3 })
	assert.Equal(t, "cart:add", snap.Actions[0].Action)
}

func TestRecorderUnregisterUpdates(t *testing.T) {
	r, d, path := newTestRecorder(t)

	off, err := d.Register("cart:add", noop, pipeline.WithID("h1"))
	require.NoError(t, err)
	_, err = d.Register("cart:add", noop, pipeline.WithID("h2"))
	require.NoError(t, err)

	require.NoError(t, r.Start())

	assert.True(t, off())
	snap := waitForSnapshot(t, path, func(s *Snapshot) bool { return s.TotalHandlers() == 1 })
	assert.Equal(t, "h2", snap.Actions[0].Handlers[0].ID)
}

func TestRecorderCloseFlushesPending(t *testing.T) {
	d := pipeline.New()
	defer d.Close()

	path := filepath.Join(t.TempDir(), "manifest.yml")
	r, err := NewRecorder(d, path, WithDebounce(10*time.Second))
	require.NoError(t, err)
	require.NoError(t, r.Start())

	_, err = d.Register("order:place", noop, pipeline.WithID("late"))
	require.NoError(t, err)

	// The debounce window is still open; Close must not lose the update.
	require.NoError(t, r.Close())

	snap, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.TotalHandlers())
}

func TestRecorderStartTwice(t *testing.T) {
	r, _, _ := newTestRecorder(t)

	require.NoError(t, r.Start())
	assert.Error(t, r.Start())
}

func TestRecorderCheckDrift(t *testing.T) {
	r, d, path := newTestRecorder(t)

	_, err := d.Register("order:place", noop, pipeline.WithID("validate"), pipeline.WithPriority(10))
	require.NoError(t, err)
	require.NoError(t, r.Start())

	// Rewrite the file claiming an extra handler and a different priority.
	edited := &Snapshot{
		Version: SnapshotVersion,
		SavedAt: time.Now().UTC(),
		Actions: []ActionRecord{
			{Action: "order:place", Handlers: []HandlerRecord{
				{ID: "validate", Priority: 99, Blocking: true},
				{ID: "phantom", Priority: 1, Blocking: true},
			}},
		},
	}
	data, err := Encode(edited)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	drift, err := r.CheckDrift()
	require.NoError(t, err)
	assert.Equal(t, []string{"order:place/phantom"}, drift.Missing)
	assert.Equal(t, []string{"order:place/validate"}, drift.Changed)
	assert.Empty(t, drift.Extra)
}

func TestRecorderWatchReportsDrift(t *testing.T) {
	drifts := make(chan *Drift, 1)
	r, d, path := newTestRecorder(t,
		WithWatch(true),
		OnDrift(func(dr *Drift) {
			select {
			case drifts <- dr:
			default:
			}
		}),
	)

	_, err := d.Register("order:place", noop, pipeline.WithID("validate"), pipeline.WithPriority(10))
	require.NoError(t, err)
	require.NoError(t, r.Start())

	edited := &Snapshot{
		Version: SnapshotVersion,
		SavedAt: time.Now().UTC(),
		Actions: []ActionRecord{
			{Action: "order:place", Handlers: []HandlerRecord{
				{ID: "validate", Priority: 42, Blocking: true},
			}},
		},
	}
	data, err := Encode(edited)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	select {
	case drift := <-drifts:
		assert.Equal(t, []string{"order:place/validate"}, drift.Changed)
	case <-time.After(3 * time.Second):
		t.Fatal("no drift report after external edit")
	}
}

func TestRecorderOwnWritesAreNotDrift(t *testing.T) {
	drifts := make(chan *Drift, 4)
	r, d, _ := newTestRecorder(t,
		WithWatch(true),
		OnDrift(func(dr *Drift) { drifts <- dr }),
	)
	require.NoError(t, r.Start())

	_, err := d.Register("cart:add", noop, pipeline.WithID("h1"))
	require.NoError(t, err)

	// Let the debounced self-write land and its file event settle.
	time.Sleep(300 * time.Millisecond)

	select {
	case drift := <-drifts:
		t.Fatalf("self-write reported as drift: %s", drift)
	default:
	}
}

func TestRecorderSkipsUnchangedWrites(t *testing.T) {
	r, d, path := newTestRecorder(t)

	_, err := d.Register("order:place", noop, pipeline.WithID("validate"))
	require.NoError(t, err)
	require.NoError(t, r.Start())

	before, err := os.Stat(path)
	require.NoError(t, err)

	// Same registry state writes nothing new.
	require.NoError(t, r.Flush())
	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
}
