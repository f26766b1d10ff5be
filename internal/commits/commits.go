package commits

import (
	"sync"
	"time"
)

// DefaultNotifyInterval is how long queued SHAs accumulate before a batched
// announcement. An interval of zero disables batching and reports immediately.
const DefaultNotifyInterval = 300 * time.Second

// Tracker owns the per-session record of pushed and announced commits.
// It is constructed once per session and passed to every call site; both
// discovery paths (the post-commit queue file and the periodic remote diff)
// must route through the same instance so a SHA is announced at most once.
type Tracker struct {
	mu           sync.Mutex
	announced    map[string]bool
	pending      []string
	pendingSet   map[string]bool
	lastNotified time.Time
	now          func() time.Time
}

// NewTracker returns an empty tracker using the wall clock.
func NewTracker() *Tracker {
	return NewTrackerWithClock(time.Now)
}

// NewTrackerWithClock returns a tracker with an injected clock for tests.
func NewTrackerWithClock(now func() time.Time) *Tracker {
	t := &Tracker{now: now}
	t.reset()
	return t
}

func (t *Tracker) reset() {
	t.announced = make(map[string]bool)
	t.pending = nil
	t.pendingSet = make(map[string]bool)
	t.lastNotified = t.now()
}

// TrackPushed records pushed SHAs and returns only those not seen before.
// Duplicate SHAs, including ones seeded by Rehydrate, are dropped, so
// re-pushes and overlapping discovery paths never double-report.
func (t *Tracker) TrackPushed(shas []string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var newly []string
	for _, sha := range shas {
		if sha == "" || t.announced[sha] {
			continue
		}
		t.announced[sha] = true
		newly = append(newly, sha)
	}
	return newly
}

// Announced reports whether a SHA is already in the announced set.
func (t *Tracker) Announced(sha string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.announced[sha]
}

// QueueForNotification adds SHAs to the pending notification batch.
// SHAs already pending are not queued twice.
func (t *Tracker) QueueForNotification(shas []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, sha := range shas {
		if sha == "" || t.pendingSet[sha] {
			continue
		}
		t.pendingSet[sha] = true
		t.pending = append(t.pending, sha)
	}
}

// PendingCount returns the number of SHAs awaiting notification.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// ShouldNotify reports whether a batched notification is due: the queue is
// non-empty and at least interval has elapsed since the last notification.
// A zero interval disables batching, so any pending SHA is due immediately.
func (t *Tracker) ShouldNotify(interval time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pending) == 0 {
		return false
	}
	if interval <= 0 {
		return true
	}
	return t.now().Sub(t.lastNotified) >= interval
}

// DrainPending atomically empties the pending queue and returns its contents
// in insertion order. A second drain returns nothing.
func (t *Tracker) DrainPending() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	drained := t.pending
	t.pending = nil
	t.pendingSet = make(map[string]bool)
	return drained
}

// MarkNotified records that a notification went out, restarting the interval.
func (t *Tracker) MarkNotified() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastNotified = t.now()
}

// ResetSession clears all per-session state for a new work item. The next
// session rehydrates its announced set from the item's own comment history.
func (t *Tracker) ResetSession() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset()
}

// Rehydrate seeds the announced set from prior announcement comment bodies.
// Parsing is best-effort: bodies without the announcement markers, and
// malformed or legacy entries within them, are skipped without error.
// Returns the number of SHAs recovered.
func (t *Tracker) Rehydrate(bodies []string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	added := 0
	for _, body := range bodies {
		for _, sha := range ExtractSHAs(body) {
			if !t.announced[sha] {
				t.announced[sha] = true
				added++
			}
		}
	}
	return added
}
