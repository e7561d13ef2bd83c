// Package manifest backs up handler registrations to a YAML snapshot file
// and detects drift between the file and the live registry. It touches the
// dispatcher only through its public event and read surfaces.
package manifest

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	pipeerrors "github.com/actionpipe/actionpipe/internal/errors"
	"github.com/actionpipe/actionpipe/internal/pipeline"
)

// SnapshotVersion is the document version written by this package.
const SnapshotVersion = 1

// HandlerRecord is the serializable metadata of one registration. Handler
// functions and condition predicates cannot be persisted; Conditional only
// records that a predicate was attached.
type HandlerRecord struct {
	ID              string        `yaml:"id"`
	Priority        int           `yaml:"priority"`
	Blocking        bool          `yaml:"blocking"`
	Once            bool          `yaml:"once,omitempty"`
	ContinueOnError bool          `yaml:"continue_on_error,omitempty"`
	Timeout         time.Duration `yaml:"timeout,omitempty"`
	Conditional     bool          `yaml:"conditional,omitempty"`
	RegisteredAt    time.Time     `yaml:"registered_at,omitempty"`
}

// ActionRecord groups the handlers bound to one action, in execution order.
type ActionRecord struct {
	Action   string          `yaml:"action"`
	Handlers []HandlerRecord `yaml:"handlers"`
}

// Snapshot is the manifest document.
type Snapshot struct {
	Version int            `yaml:"version"`
	SavedAt time.Time      `yaml:"saved_at"`
	Actions []ActionRecord `yaml:"actions"`
}

// TotalHandlers counts the handlers across all actions.
func (s *Snapshot) TotalHandlers() int {
	total := 0
	for _, a := range s.Actions {
		total += len(a.Handlers)
	}
	return total
}

// Capture builds a snapshot of the live registry. Actions come out sorted by
// name and each chain in execution order, so identical registry states
// produce identical documents.
func Capture(reg *pipeline.Registry) *Snapshot {
	snap := &Snapshot{
		Version: SnapshotVersion,
		SavedAt: time.Now().UTC(),
	}

	for _, action := range reg.Actions() {
		record := ActionRecord{Action: action}
		for _, r := range reg.Snapshot(action) {
			record.Handlers = append(record.Handlers, HandlerRecord{
				ID:              r.ID,
				Priority:        r.Priority,
				Blocking:        r.Blocking,
				Once:            r.Once,
				ContinueOnError: r.ContinueOnError,
				Timeout:         r.Timeout,
				Conditional:     r.Condition != nil,
				RegisteredAt:    r.RegisteredAt.UTC(),
			})
		}
		snap.Actions = append(snap.Actions, record)
	}

	return snap
}

// Encode serializes a snapshot to YAML.
func Encode(s *Snapshot) ([]byte, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return nil, pipeerrors.NewInternalError(
			pipeerrors.ErrCodeInternalError,
			"cannot encode manifest snapshot",
			err,
		)
	}
	return data, nil
}

// Decode parses a snapshot document. The source name appears in error
// messages.
func Decode(data []byte, source string) (*Snapshot, error) {
	var s Snapshot
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, pipeerrors.NewConfigError(
			pipeerrors.ErrCodeManifestInvalid,
			fmt.Sprintf("manifest %s is not valid YAML: %v", source, err),
		).WithContext("source", source)
	}
	if s.Version > SnapshotVersion {
		return nil, pipeerrors.NewConfigError(
			pipeerrors.ErrCodeManifestInvalid,
			fmt.Sprintf("manifest %s has version %d, this build reads up to %d", source, s.Version, SnapshotVersion),
		).WithContext("source", source)
	}
	return &s, nil
}

// Load reads and parses a snapshot file.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pipeerrors.NewIOError(
			pipeerrors.ErrCodeFileNotFound,
			fmt.Sprintf("cannot read manifest %s", path),
			err,
		)
	}
	return Decode(data, path)
}

// Drift describes how a snapshot file differs from the live registry. Keys
// are "action/handler-id".
type Drift struct {
	Missing []string // in the file, absent from the registry
	Extra   []string // in the registry, absent from the file
	Changed []string // in both, with different metadata
}

// Empty reports whether the two sides matched.
func (d *Drift) Empty() bool {
	return len(d.Missing) == 0 && len(d.Extra) == 0 && len(d.Changed) == 0
}

// String summarizes the drift for logs and CLI output.
func (d *Drift) String() string {
	if d.Empty() {
		return "manifest matches registry"
	}
	return fmt.Sprintf("missing=%d extra=%d changed=%d", len(d.Missing), len(d.Extra), len(d.Changed))
}

// Diff compares a snapshot file against the live state. RegisteredAt is not
// compared; a re-registered handler with identical metadata reads as
// unchanged.
func Diff(file, live *Snapshot) *Drift {
	fileRecords := flatten(file)
	liveRecords := flatten(live)
	drift := &Drift{}

	for key, fr := range fileRecords {
		lr, ok := liveRecords[key]
		if !ok {
			drift.Missing = append(drift.Missing, key)
			continue
		}
		if !sameMetadata(fr, lr) {
			drift.Changed = append(drift.Changed, key)
		}
	}
	for key := range liveRecords {
		if _, ok := fileRecords[key]; !ok {
			drift.Extra = append(drift.Extra, key)
		}
	}

	sort.Strings(drift.Missing)
	sort.Strings(drift.Extra)
	sort.Strings(drift.Changed)
	return drift
}

func flatten(s *Snapshot) map[string]HandlerRecord {
	records := make(map[string]HandlerRecord)
	if s == nil {
		return records
	}
	for _, a := range s.Actions {
		for _, h := range a.Handlers {
			records[a.Action+"/"+h.ID] = h
		}
	}
	return records
}

func sameMetadata(a, b HandlerRecord) bool {
	return a.Priority == b.Priority &&
		a.Blocking == b.Blocking &&
		a.Once == b.Once &&
		a.ContinueOnError == b.ContinueOnError &&
		a.Timeout == b.Timeout &&
		a.Conditional == b.Conditional
}
