package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jawhnycooke/longhaul/internal/tracker"
)

// ErrHeld is returned by TryClaim when another issue already carries the lock.
var ErrHeld = errors.New("lock already held")

// TrackerAPI is the tracker surface the lock needs.
type TrackerAPI interface {
	ListOpenIssues(ctx context.Context) ([]tracker.Issue, error)
	AddLabel(ctx context.Context, number int, label string) error
	RemoveLabel(ctx context.Context, number int, label string) error
	LabelEvents(ctx context.Context, number int) ([]tracker.LabelEvent, error)
}

// Manager implements mutual exclusion over the tracker using a single
// well-known label as the lock token. The label add is not compare-and-swap,
// so exclusivity holds only under the single-active-coordinator assumption;
// callers re-check CurrentHolder after claiming to catch the lost race.
type Manager struct {
	api       TrackerAPI
	label     string
	doneLabel string
	now       func() time.Time
}

// New returns a manager using the given lock and terminal labels.
func New(api TrackerAPI, label, doneLabel string) *Manager {
	return &Manager{api: api, label: label, doneLabel: doneLabel, now: time.Now}
}

// NewWithClock is New with an injected clock for tests.
func NewWithClock(api TrackerAPI, label, doneLabel string, now func() time.Time) *Manager {
	return &Manager{api: api, label: label, doneLabel: doneLabel, now: now}
}

// CurrentHolder returns the open issue carrying the lock label, if any.
func (m *Manager) CurrentHolder(ctx context.Context) (int, bool, error) {
	issues, err := m.api.ListOpenIssues(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("list issues: %w", err)
	}
	for _, is := range issues {
		if is.HasLabel(m.label) {
			return is.Number, true, nil
		}
	}
	return 0, false, nil
}

// TryClaim takes the lock for issue number. Claiming the issue we already
// hold succeeds (idempotent); claiming while another issue holds the lock
// fails with ErrHeld.
func (m *Manager) TryClaim(ctx context.Context, number int) error {
	holder, held, err := m.CurrentHolder(ctx)
	if err != nil {
		return err
	}
	if held {
		if holder == number {
			return nil
		}
		return fmt.Errorf("%w by issue %d", ErrHeld, holder)
	}
	if err := m.api.AddLabel(ctx, number, m.label); err != nil {
		return fmt.Errorf("claim issue %d: %w", number, err)
	}
	slog.Info("issue claimed", slog.Int("issue", number), slog.String("label", m.label))
	return nil
}

// Release drops the lock. When markDone the terminal label is added first,
// so an observer never sees the item unlocked without its outcome. Removal
// of an already-absent label is not an error; release may run twice.
// Clearing the externally-visible current-item pointer is the coordinator's
// job, since it owns the session state document.
func (m *Manager) Release(ctx context.Context, number int, markDone bool) error {
	if markDone {
		if err := m.api.AddLabel(ctx, number, m.doneLabel); err != nil {
			return fmt.Errorf("mark issue %d done: %w", number, err)
		}
	}
	if err := m.api.RemoveLabel(ctx, number, m.label); err != nil {
		return fmt.Errorf("release issue %d: %w", number, err)
	}
	slog.Info("issue released", slog.Int("issue", number), slog.Bool("done", markDone))
	return nil
}

// HeldSince returns when the lock label was last applied to the issue,
// taken from the tracker's own label-change history rather than local
// memory: the holder may be a dead process on another host.
func (m *Manager) HeldSince(ctx context.Context, number int) (time.Time, error) {
	events, err := m.api.LabelEvents(ctx, number)
	if err != nil {
		return time.Time{}, fmt.Errorf("label events for issue %d: %w", number, err)
	}
	var since time.Time
	for _, ev := range events {
		if ev.Event == "labeled" && ev.Label.Name == m.label {
			since = ev.CreatedAt
		}
	}
	if since.IsZero() {
		return time.Time{}, fmt.Errorf("issue %d has no %s label history", number, m.label)
	}
	return since, nil
}

// IsStale reports whether the lock on the issue is strictly older than
// timeout, and its age. A stale lock is only reported; a non-holding
// coordinator never removes it.
func (m *Manager) IsStale(ctx context.Context, number int, timeout time.Duration) (bool, time.Duration, error) {
	since, err := m.HeldSince(ctx, number)
	if err != nil {
		return false, 0, err
	}
	age := m.now().Sub(since)
	return age > timeout, age, nil
}
