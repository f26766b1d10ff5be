package coordinator

import (
	"context"
	"log/slog"
	"time"

	"github.com/jawhnycooke/longhaul/internal/backlog"
	"github.com/jawhnycooke/longhaul/internal/commits"
	"github.com/jawhnycooke/longhaul/internal/harness"
	"github.com/jawhnycooke/longhaul/internal/lock"
	"github.com/jawhnycooke/longhaul/internal/session"
	"github.com/jawhnycooke/longhaul/internal/tracker"
	"github.com/jawhnycooke/longhaul/internal/workspace"
)

// tickInterval is a package-level variable (not a constant) so tests can
// override it without waiting for real tick intervals to fire.
var tickInterval = 5 * time.Second

// Tracker is the external tracker surface the coordinator needs. It is the
// union of what the lock, the backlog sync, and progress reporting use;
// *tracker.Client satisfies it.
type Tracker interface {
	ListOpenIssues(ctx context.Context) ([]tracker.Issue, error)
	AddLabel(ctx context.Context, number int, label string) error
	RemoveLabel(ctx context.Context, number int, label string) error
	LabelEvents(ctx context.Context, number int) ([]tracker.LabelEvent, error)
	Reactions(ctx context.Context, number int) ([]tracker.Reaction, error)
	ListComments(ctx context.Context, number int) ([]tracker.Comment, error)
	PostComment(ctx context.Context, number int, body string) error
	CloseIssue(ctx context.Context, number int) error
}

// Coordinator is the single active loop for one repository. All durable
// state lives in the tracker, the VCS remote, and the .lh/ documents; the
// coordinator itself can die at any tick and be resumed by a successor.
type Coordinator struct {
	ws       *workspace.Workspace
	api      Tracker
	locks    *lock.Manager
	items    *backlog.Store
	sessions *session.Store
	pushed   *commits.Tracker
	queue    commits.QueueFile

	// Per-claim harness machinery. worker is bound to the current item's
	// ledger and rebuilt on every claim; cycle is the in-flight supervised
	// cycle, nil when idle. execute, smoke and seedLedger are the agent
	// touchpoints, overridable in tests.
	worker     *harness.Harness
	cycle      *cycleRun
	execute    harness.ExecuteFunc
	smoke      harness.SmokeFunc
	seedLedger func(ctx context.Context, item *backlog.Item) error

	repoDir string // working tree the agent edits and commits in
	now     func() time.Time

	// last-run marks for the per-responsibility timers.
	lastQueueCheck time.Time
	lastPushFlush  time.Time
	lastNotify     time.Time
	lastSync       time.Time
	lastHeartbeat  time.Time
	lastStaleCheck time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithRepoDir sets the working tree; defaults to the workspace root.
func WithRepoDir(dir string) Option {
	return func(c *Coordinator) { c.repoDir = dir }
}

// New wires a coordinator from the workspace config.
func New(ws *workspace.Workspace, api Tracker, opts ...Option) *Coordinator {
	c := &Coordinator{
		ws:       ws,
		api:      api,
		locks:    lock.New(api, ws.Config.Lock.Label, ws.Config.Lock.DoneLabel),
		items:    backlog.NewStore(ws.BacklogPath()),
		sessions: session.NewStore(ws.SessionPath(), ws.DesiredPath()),
		pushed:   commits.NewTracker(),
		queue:    commits.NewQueueFile(ws.QueuePath()),
		repoDir:  ws.Root,
		now:      time.Now,
	}
	c.execute = c.executeWithAgent
	c.smoke = c.smokeCheck
	c.seedLedger = c.generateLedger
	for _, o := range opts {
		o(c)
	}
	return c
}

// buildWorker constructs the harness for one claim, bound to that item's own
// ledger so a finished item's results never leak into the next claim.
func (c *Coordinator) buildWorker(item *backlog.Item) *harness.Harness {
	var opts []harness.Option
	if c.smoke != nil {
		opts = append(opts, harness.WithSmokeCheck(c.smoke))
	}
	return harness.New(harness.NewLedger(c.ws.LedgerPathFor(item.ID)), c.execute, opts...)
}

// Run drives the tick loop until ctx ends or desired state says terminated.
func (c *Coordinator) Run(ctx context.Context) error {
	st := c.startup(ctx)
	slog.Info("coordinator running",
		slog.String("session", st.SessionID),
		slog.String("repo", c.ws.RepoSlug()))

	tick := time.NewTicker(tickInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("coordinator shutting down")
			return nil
		case <-tick.C:
			if done := c.tick(ctx); done {
				return nil
			}
		}
	}
}

// startup performs the fresh-start vs. resume decision and rehydrates the
// announced-commit set from the tracker's comment history.
func (c *Coordinator) startup(ctx context.Context) *session.State {
	st := c.sessions.Recover(session.DefaultStaleThresholdSecs)
	if st == nil || st.Status == session.StatusTerminated {
		st = &session.State{
			SessionID: session.NewSessionID(),
			Status:    session.StatusRunning,
		}
		if err := c.sessions.Write(st); err != nil {
			slog.Error("write session state failed", slog.Any("error", err))
		}
		return st
	}

	if st.Status == session.StatusNeedsRestart {
		slog.Info("resuming predecessor session",
			slog.String("session", st.SessionID),
			slog.Int("restart_count", st.RestartCount))
		st.Status = session.StatusRunning
		if err := c.sessions.Write(st); err != nil {
			slog.Error("write session state failed", slog.Any("error", err))
		}
	}

	if st.CurrentIssue != 0 {
		c.rehydrate(ctx, st.CurrentIssue)
	}
	return st
}

// rehydrate rebuilds the announced set from prior progress comments. The
// tracker is ground truth, local memory is cache; failure here only risks a
// duplicate announcement, so it is logged and ignored.
func (c *Coordinator) rehydrate(ctx context.Context, issue int) {
	comments, err := c.api.ListComments(ctx, issue)
	if err != nil {
		slog.Warn("rehydration skipped", slog.Int("issue", issue), slog.Any("error", err))
		return
	}
	bodies := make([]string, 0, len(comments))
	for _, cm := range comments {
		bodies = append(bodies, cm.Body)
	}
	n := c.pushed.Rehydrate(bodies)
	slog.Info("announced set rehydrated", slog.Int("issue", issue), slog.Int("commits", n))
}

// tick runs one loop iteration. Returns true when the loop should exit.
func (c *Coordinator) tick(ctx context.Context) bool {
	desired := c.sessions.ReadDesired()

	switch desired {
	case session.DesiredTerminated:
		c.shutdown(ctx)
		return true

	case session.DesiredPause:
		c.pauseWork(ctx)
		c.maintain(ctx, false)
		return false

	case session.DesiredRunCleanup:
		c.maintain(ctx, true)
		c.requestPause()
		return false

	case session.DesiredRunOnce:
		c.maintain(ctx, false)
		c.workCycle(ctx)
		// Pause only once the cycle has been collected; an in-flight agent
		// run keeps ticking until it hands back a result.
		if c.cycle == nil {
			c.requestPause()
		}
		return false

	default: // continuous
		c.maintain(ctx, false)
		c.workCycle(ctx)
		return false
	}
}

func (c *Coordinator) requestPause() {
	if err := c.sessions.SetDesired(session.DesiredPause); err != nil {
		slog.Error("set desired state failed", slog.Any("error", err))
	}
}

// due reports whether a responsibility's interval has elapsed, stamping the
// mark when it has. A non-positive interval disables the responsibility.
func (c *Coordinator) due(last *time.Time, secs int) bool {
	if secs <= 0 {
		return false
	}
	now := c.now()
	if !last.IsZero() && now.Sub(*last) < time.Duration(secs)*time.Second {
		return false
	}
	*last = now
	return true
}
