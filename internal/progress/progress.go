// Package progress projects raw transfer callbacks into monotonic
// completed/total snapshots for status reporting.
package progress

import (
	"sync"

	"inferd/pkg/types"
)

// Func receives transfer progress as completed/total byte counts.
type Func func(completed, total int64)

// Tracker accumulates progress updates for one long-running operation.
// Updates that would move completed backwards are dropped, so readers always
// observe a non-decreasing projection regardless of how the underlying
// transfer reports.
type Tracker struct {
	mu        sync.Mutex
	completed int64
	total     int64
}

// NewTracker returns a tracker with an optional known total. Total may also
// arrive later through Update.
func NewTracker(total int64) *Tracker {
	return &Tracker{total: total}
}

// Update records a progress sample. Regressing completed values are ignored;
// a zero total never overwrites a known one.
func (t *Tracker) Update(completed, total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if total > 0 {
		t.total = total
	}
	if completed > t.completed {
		t.completed = completed
	}
}

// Snapshot returns the current projection.
func (t *Tracker) Snapshot() types.Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return types.Progress{Completed: t.completed, Total: t.total}
}

// Func returns an update callback bound to this tracker, optionally chaining
// to next after recording.
func (t *Tracker) Func(next Func) Func {
	return func(completed, total int64) {
		t.Update(completed, total)
		if next != nil {
			snap := t.Snapshot()
			next(snap.Completed, snap.Total)
		}
	}
}

// Monotonic wraps fn so that regressing completed values are swallowed
// before they reach fn. Useful when the underlying transfer restarts.
func Monotonic(fn Func) Func {
	t := &Tracker{}
	return t.Func(fn)
}
