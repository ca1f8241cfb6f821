// Package progress tracks the state of running import jobs and fans state
// changes out to observers.
package progress

import (
	"sync"
	"sync/atomic"
	"time"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusError      Status = "error"
)

// Terminal reports whether no further transitions follow s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusError
}

// Snapshot is a point-in-time copy of a job's progress.
type Snapshot struct {
	JobID       string    `json:"job_id"`
	Source      string    `json:"source"`
	Status      Status    `json:"status"`
	CurrentUnit string    `json:"current_unit,omitempty"`
	Processed   int       `json:"processed"`
	Total       int       `json:"total"`
	Created     int       `json:"created"`
	Updated     int       `json:"updated"`
	Errors      int       `json:"errors"`
	Missing     int       `json:"attachments_missing"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
	// Stats is the last full stats report of the importer, if any.
	Stats any `json:"stats,omitempty"`
}

// Tracker holds the progress of one job. All methods are safe for
// concurrent use.
type Tracker struct {
	cancelled atomic.Bool

	mu      sync.Mutex
	snap    Snapshot
	subs    map[int]chan Snapshot
	nextSub int
	dropped int
	done    chan struct{}
}

// NewTracker returns an idle tracker for a job.
func NewTracker(jobID, source string) *Tracker {
	return &Tracker{
		snap: Snapshot{JobID: jobID, Source: source, Status: StatusIdle},
		subs: make(map[int]chan Snapshot),
		done: make(chan struct{}),
	}
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// Update applies fn to the state and notifies observers. Once the state is
// terminal, further updates are ignored and observer channels are closed.
func (t *Tracker) Update(fn func(*Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap.Status.Terminal() {
		return
	}

	fn(&t.snap)
	if t.snap.Status == StatusInProgress && t.snap.StartedAt.IsZero() {
		t.snap.StartedAt = time.Now()
	}
	terminal := t.snap.Status.Terminal()
	if terminal && t.snap.FinishedAt.IsZero() {
		t.snap.FinishedAt = time.Now()
	}

	for _, ch := range t.subs {
		select {
		case ch <- t.snap:
		default:
			t.dropped++
		}
	}

	if terminal {
		for id, ch := range t.subs {
			close(ch)
			delete(t.subs, id)
		}
		close(t.done)
	}
}

// Start moves the job to in_progress.
func (t *Tracker) Start() {
	t.Update(func(s *Snapshot) { s.Status = StatusInProgress })
}

// Finish moves the job to a terminal status. A non-nil err is recorded as
// the error text.
func (t *Tracker) Finish(status Status, err error) {
	t.Update(func(s *Snapshot) {
		s.Status = status
		s.CurrentUnit = ""
		if err != nil {
			s.Error = err.Error()
		}
	})
}

// RequestCancel asks the job to stop at the next unit boundary.
func (t *Tracker) RequestCancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether cancellation was requested.
func (t *Tracker) Cancelled() bool {
	return t.cancelled.Load()
}

// Done is closed when the job reaches a terminal status.
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

// Dropped returns how many notifications were discarded because an
// observer's queue was full.
func (t *Tracker) Dropped() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

// Subscribe registers an observer with a queue of the given size. The
// current state is queued immediately. The channel is closed when the job
// finishes or the returned cancel func is called. A full queue drops
// updates for that observer only.
func (t *Tracker) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)

	t.mu.Lock()
	defer t.mu.Unlock()

	ch <- t.snap
	if t.snap.Status.Terminal() {
		close(ch)
		return ch, func() {}
	}

	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if c, ok := t.subs[id]; ok {
				close(c)
				delete(t.subs, id)
			}
		})
	}
}
