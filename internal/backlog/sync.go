package backlog

import (
	"context"
	"log/slog"

	"github.com/jawhnycooke/longhaul/internal/tracker"
)

// DefaultVoteThreshold is the vote count above which a synced item is
// promoted from medium to high priority.
const DefaultVoteThreshold = 3

// IssueSource is the tracker surface Sync needs.
type IssueSource interface {
	ListOpenIssues(ctx context.Context) ([]tracker.Issue, error)
	Reactions(ctx context.Context, number int) ([]tracker.Reaction, error)
}

// SyncOptions configures which tracker issues are eligible.
type SyncOptions struct {
	LockLabel     string   // issues carrying this are already claimed
	DoneLabel     string   // issues carrying this are finished
	Approvers     []string // principals whose approval reaction counts
	VoteThreshold int      // zero means DefaultVoteThreshold
}

// approvedBy reports whether any rocket or hooray reaction comes from an
// authorized approver.
func approvedBy(reactions []tracker.Reaction, approvers []string) bool {
	for _, r := range reactions {
		if r.Content != "rocket" && r.Content != "hooray" {
			continue
		}
		for _, a := range approvers {
			if r.User.Login == a {
				return true
			}
		}
	}
	return false
}

// classify maps tracker labels to an item type, defaulting to feature.
func classify(is tracker.Issue) string {
	switch {
	case is.HasLabel("bug"):
		return TypeBug
	case is.HasLabel("enhancement"):
		return TypeEnhancement
	default:
		return TypeFeature
	}
}

// countVotes counts +1 reactions.
func countVotes(reactions []tracker.Reaction) int {
	n := 0
	for _, r := range reactions {
		if r.Content == "+1" {
			n++
		}
	}
	return n
}

// Sync merges externally-approved tracker issues into the backlog and returns
// the newly added items. Issues already present, already claimed, or already
// finished are skipped. A failure on one issue (e.g. its reactions endpoint)
// is logged and skipped; it never aborts the rest of the sync.
func (s *Store) Sync(ctx context.Context, src IssueSource, opts SyncOptions) ([]Item, error) {
	threshold := opts.VoteThreshold
	if threshold == 0 {
		threshold = DefaultVoteThreshold
	}

	issues, err := src.ListOpenIssues(ctx)
	if err != nil {
		return nil, err
	}

	items := s.loadLenient()
	known := make(map[int]bool, len(items))
	for _, it := range items {
		known[it.Issue] = true
	}

	var added []Item
	for _, is := range issues {
		if known[is.Number] {
			continue
		}
		if is.HasLabel(opts.LockLabel) || is.HasLabel(opts.DoneLabel) {
			continue
		}

		reactions, err := src.Reactions(ctx, is.Number)
		if err != nil {
			slog.Warn("skipping issue during sync",
				slog.Int("issue", is.Number), slog.Any("error", err))
			continue
		}
		if !approvedBy(reactions, opts.Approvers) {
			continue
		}

		votes := countVotes(reactions)
		priority := PriorityMedium
		if votes > threshold {
			priority = PriorityHigh
		}
		item := Item{
			ID:        NewID(),
			Issue:     is.Number,
			Title:     is.Title,
			Details:   is.Body,
			Type:      classify(is),
			Priority:  priority,
			Status:    StatusBacklog,
			VoteCount: votes,
			AddedAt:   s.now().Unix(),
		}
		items = append(items, item)
		added = append(added, item)
		slog.Info("backlog item added",
			slog.String("id", item.ID),
			slog.Int("issue", item.Issue),
			slog.String("priority", item.Priority),
			slog.Int("votes", item.VoteCount))
	}

	if len(added) > 0 {
		if err := s.Save(items); err != nil {
			return nil, err
		}
	}
	return added, nil
}
