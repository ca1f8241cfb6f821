package progress

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ErrConflict is returned when a job of the same source is already running.
var ErrConflict = errors.New("import already in progress")

// ErrNotRunning is returned when cancelling a source with no running job.
var ErrNotRunning = errors.New("no import in progress")

// Registry keeps the most recent tracker of each source.
type Registry struct {
	mu       sync.Mutex
	trackers map[string]*Tracker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{trackers: make(map[string]*Tracker)}
}

// Begin creates an in-progress tracker for source with a fresh job id.
// It fails with ErrConflict if the source already has a job in progress.
func (r *Registry) Begin(source string) (*Tracker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.trackers[source]; ok && !cur.Snapshot().Status.Terminal() {
		return nil, fmt.Errorf("%s: %w", source, ErrConflict)
	}

	t := NewTracker(uuid.NewString(), source)
	t.Start()
	r.trackers[source] = t
	return t, nil
}

// Get returns the latest tracker of a source.
func (r *Registry) Get(source string) (*Tracker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trackers[source]
	return t, ok
}

// Cancel requests cancellation of the running job of a source.
func (r *Registry) Cancel(source string) error {
	t, ok := r.Get(source)
	if !ok || t.Snapshot().Status.Terminal() {
		return fmt.Errorf("%s: %w", source, ErrNotRunning)
	}
	t.RequestCancel()
	return nil
}

// List returns a snapshot of every known source's latest job, ordered by
// source name.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	out := make([]Snapshot, 0, len(r.trackers))
	for _, t := range r.trackers {
		out = append(out, t.Snapshot())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}
