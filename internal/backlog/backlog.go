package backlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jawhnycooke/longhaul/internal/idgen"
	"github.com/jawhnycooke/longhaul/internal/workspace"
)

// Priority values, highest first.
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

// Status values. Blocked items are parked after a failed or exhausted
// session; selection skips them until an operator resets the status.
const (
	StatusBacklog    = "backlog"
	StatusInProgress = "in-progress"
	StatusBlocked    = "blocked"
	StatusDone       = "done"
)

// Item types, mapped from tracker labels at sync time.
const (
	TypeBug         = "bug"
	TypeEnhancement = "enhancement"
	TypeFeature     = "feature"
)

// ErrNotFound is returned by UpdateStatus for an unknown item ID.
var ErrNotFound = errors.New("backlog item not found")

// Item is one work item mirrored from the tracker. Items are created on sync,
// moved to in-progress on claim, to done on completion, and never deleted.
type Item struct {
	ID          string `json:"id"`
	Issue       int    `json:"issue"`
	Title       string `json:"title"`
	Details     string `json:"details,omitempty"`
	Type        string `json:"type"`
	Priority    string `json:"priority"`
	Status      string `json:"status"`
	VoteCount   int    `json:"vote_count"`
	Completed   bool   `json:"completed"`
	AddedAt     int64  `json:"added"`
	CompletedAt int64  `json:"completed_at,omitempty"`
}

// NewID returns a unique time-sortable backlog item ID like "b-00sw2hk9q000".
func NewID() string {
	return idgen.New("b")
}

// Store persists the backlog as a single JSON document. Every mutation
// rewrites the whole document atomically; the file order is insertion order.
type Store struct {
	path string
	now  func() time.Time
}

// NewStore returns a store backed by the document at path.
func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// document is the on-disk shape.
type document struct {
	Items []Item `json:"items"`
}

// Load reads all items. A missing document is an empty backlog.
func (s *Store) Load() ([]Item, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse backlog %s: %w", s.path, err)
	}
	return doc.Items, nil
}

// loadLenient returns the items, treating a corrupt document as empty so one
// bad record cannot wedge the scheduler.
func (s *Store) loadLenient() []Item {
	items, err := s.Load()
	if err != nil {
		slog.Warn("backlog unreadable, treating as empty", slog.Any("error", err))
		return nil
	}
	return items
}

// Save rewrites the full document.
func (s *Store) Save(items []Item) error {
	data, err := json.MarshalIndent(document{Items: items}, "", "  ")
	if err != nil {
		return err
	}
	return workspace.AtomicWrite(s.path, data)
}

// Get returns the item with the given ID.
func (s *Store) Get(id string) (*Item, error) {
	items, err := s.Load()
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ID == id {
			return &items[i], nil
		}
	}
	return nil, ErrNotFound
}

// UpdateStatus sets the item's status and completion flag, rewriting the whole
// document. Completion stamps completed_at.
func (s *Store) UpdateStatus(id, status string, completed bool) error {
	items, err := s.Load()
	if err != nil {
		return err
	}
	for i := range items {
		if items[i].ID != id {
			continue
		}
		items[i].Status = status
		items[i].Completed = completed
		if completed && items[i].CompletedAt == 0 {
			items[i].CompletedAt = s.now().Unix()
		}
		return s.Save(items)
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// priorityRank orders priorities for selection. Unknown priorities sort last.
func priorityRank(p string) int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// SelectNext picks the next claimable item. Order, first match wins:
// an in-progress, not-completed item (a crashed session resumes before
// anything new starts); then critical; then high with ties broken by
// descending vote count and document order; then medium; then low.
func SelectNext(items []Item) (*Item, bool) {
	for i := range items {
		if items[i].Status == StatusInProgress && !items[i].Completed {
			return &items[i], true
		}
	}

	var best *Item
	for i := range items {
		it := &items[i]
		if it.Status != StatusBacklog || it.Completed {
			continue
		}
		if best == nil {
			best = it
			continue
		}
		br, ir := priorityRank(best.Priority), priorityRank(it.Priority)
		switch {
		case ir < br:
			best = it
		case ir == br && it.VoteCount > best.VoteCount:
			// Document order is insertion order, so equal votes keep the
			// earlier item.
			best = it
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

// SelectNextFromStore is SelectNext over the persisted document.
func (s *Store) SelectNextFromStore() (*Item, bool) {
	return SelectNext(s.loadLenient())
}
