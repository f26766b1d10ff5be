package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jawhnycooke/longhaul/internal/backlog"
	"github.com/jawhnycooke/longhaul/internal/commits"
	"github.com/jawhnycooke/longhaul/internal/harness"
	"github.com/jawhnycooke/longhaul/internal/lock"
	"github.com/jawhnycooke/longhaul/internal/session"
)

// cycleRun supervises one harness cycle running in its own goroutine. The
// done channel is buffered so the goroutine can always hand back its result,
// even when nobody is waiting anymore.
type cycleRun struct {
	cancel context.CancelFunc
	done   chan harness.Result
}

// poll collects the result without blocking. The second return is false while
// the cycle is still running.
func (r *cycleRun) poll() (harness.Result, bool) {
	select {
	case res := <-r.done:
		r.cancel()
		return res, true
	default:
		return harness.Result{}, false
	}
}

// startCycle launches one harness cycle off the tick goroutine, so heartbeats
// and desired-state changes keep being serviced while the agent runs.
func (c *Coordinator) startCycle(ctx context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	run := &cycleRun{cancel: cancel, done: make(chan harness.Result, 1)}
	w := c.worker
	go func() { run.done <- w.Cycle(cctx) }()
	c.cycle = run
}

// stopCycle cancels the in-flight cycle and waits for its result. Returns
// false when nothing was running. Cancellation reaches the agent process,
// which gets SIGTERM, a grace period, then SIGKILL.
func (c *Coordinator) stopCycle() (harness.Result, bool) {
	if c.cycle == nil {
		return harness.Result{}, false
	}
	c.cycle.cancel()
	res := <-c.cycle.done
	c.cycle = nil
	return res, true
}

// workCycle advances the current item: collect a finished cycle if one is in
// flight, otherwise claim an item and start the next cycle.
func (c *Coordinator) workCycle(ctx context.Context) {
	if c.cycle != nil {
		res, done := c.cycle.poll()
		if !done {
			return // agent still running; maintenance keeps ticking
		}
		c.cycle = nil
		st, err := c.sessions.Read()
		if err != nil || st == nil {
			slog.Error("session state unreadable after cycle", slog.Any("error", err))
			return
		}
		c.handleOutcome(ctx, st, res)
		return
	}

	st, err := c.sessions.Read()
	if err != nil {
		slog.Error("session state unreadable", slog.Any("error", err))
		return
	}
	if st == nil {
		st = &session.State{SessionID: session.NewSessionID(), Status: session.StatusRunning}
		if err := c.sessions.Write(st); err != nil {
			slog.Error("write session state failed", slog.Any("error", err))
			return
		}
	}
	if st.Status == session.StatusPaused {
		// Pause released the lock, so the kept item must be re-claimed.
		if st.CurrentIssue != 0 {
			if err := c.locks.TryClaim(ctx, st.CurrentIssue); err != nil {
				slog.Warn("cannot re-claim paused item", slog.Int("issue", st.CurrentIssue), slog.Any("error", err))
				return
			}
		}
		slog.Info("resuming from pause", slog.String("session", st.SessionID))
		st.Status = session.StatusRunning
		if err := c.sessions.Write(st); err != nil {
			slog.Error("write session state failed", slog.Any("error", err))
		}
	}

	if st.CurrentIssue == 0 {
		if !c.claimNext(ctx, st) {
			return
		}
	} else if c.worker == nil {
		// Pointer inherited from a predecessor; rebind the item's ledger.
		item, err := c.items.Get(st.BacklogItemID)
		if err != nil {
			slog.Error("current item unreadable", slog.String("item", st.BacklogItemID), slog.Any("error", err))
			return
		}
		c.worker = c.buildWorker(item)
	}

	c.startCycle(ctx)
}

// handleOutcome routes a collected cycle result.
func (c *Coordinator) handleOutcome(ctx context.Context, st *session.State, res harness.Result) {
	switch res.Outcome {
	case harness.OutcomeContinue:
		// More tasks remain; the next tick starts another cycle.
	case harness.OutcomeComplete:
		c.finishItem(ctx, st)
	case harness.OutcomeFailed, harness.OutcomeBrokenState:
		c.abandonItem(ctx, st, res)
	}
}

// claimNext selects the next backlog item, takes the lock for it, and makes
// sure its acceptance ledger exists before any cycle runs. The label add is
// not compare-and-swap, so the holder is re-checked after claiming to catch a
// lost race.
func (c *Coordinator) claimNext(ctx context.Context, st *session.State) bool {
	item, ok := c.items.SelectNextFromStore()
	if !ok {
		return false
	}

	if err := c.locks.TryClaim(ctx, item.Issue); err != nil {
		if errors.Is(err, lock.ErrHeld) {
			slog.Info("backlog item locked elsewhere", slog.Int("issue", item.Issue), slog.Any("error", err))
		} else {
			slog.Error("claim failed", slog.Int("issue", item.Issue), slog.Any("error", err))
		}
		return false
	}
	holder, held, err := c.locks.CurrentHolder(ctx)
	if err != nil || !held || holder != item.Issue {
		slog.Warn("claim race lost, backing off", slog.Int("issue", item.Issue), slog.Any("error", err))
		return false
	}

	if err := c.seedLedger(ctx, item); err != nil {
		slog.Error("ledger generation failed", slog.String("item", item.ID), slog.Any("error", err))
		if rerr := c.locks.Release(ctx, item.Issue, false); rerr != nil {
			slog.Error("release after failed generation failed", slog.Int("issue", item.Issue), slog.Any("error", rerr))
		}
		return false
	}
	c.worker = c.buildWorker(item)

	if err := c.items.UpdateStatus(item.ID, backlog.StatusInProgress, false); err != nil {
		slog.Error("mark item in-progress failed", slog.String("item", item.ID), slog.Any("error", err))
	}
	st.CurrentIssue = item.Issue
	st.BacklogItemID = item.ID
	st.Status = session.StatusRunning
	if err := c.sessions.Write(st); err != nil {
		slog.Error("write session state failed", slog.Any("error", err))
	}
	c.rehydrate(ctx, item.Issue)

	slog.Info("backlog item claimed",
		slog.String("item", item.ID),
		slog.Int("issue", item.Issue),
		slog.String("title", item.Title))
	return true
}

// finishItem reports completion: a final summary comment with any still
// pending commits, the terminal label, issue closure, and a clean pointer.
func (c *Coordinator) finishItem(ctx context.Context, st *session.State) {
	issue := st.CurrentIssue

	shas := c.pushed.DrainPending()
	body := commits.FormatAnnouncement(c.ws.RepoSlug(), shas, true)
	if err := c.api.PostComment(ctx, issue, body); err != nil {
		slog.Error("posting final summary failed", slog.Int("issue", issue), slog.Any("error", err))
	}
	if err := c.locks.Release(ctx, issue, true); err != nil {
		slog.Error("release failed", slog.Int("issue", issue), slog.Any("error", err))
	}
	if err := c.api.CloseIssue(ctx, issue); err != nil {
		slog.Error("closing issue failed", slog.Int("issue", issue), slog.Any("error", err))
	}
	if err := c.items.UpdateStatus(st.BacklogItemID, backlog.StatusDone, true); err != nil {
		slog.Error("mark item done failed", slog.String("item", st.BacklogItemID), slog.Any("error", err))
	}

	slog.Info("backlog item completed", slog.Int("issue", issue), slog.String("item", st.BacklogItemID))
	c.clearCurrent(st)
}

// abandonItem releases a stuck item without marking it done. A failed or
// exhausted item is parked as blocked so selection stops re-claiming it; a
// broken environment keeps the item claimable and pauses the session instead,
// since the fault is the host's, not the item's.
func (c *Coordinator) abandonItem(ctx context.Context, st *session.State, res harness.Result) {
	issue := st.CurrentIssue
	returnStatus := backlog.StatusBlocked

	var body string
	switch {
	case res.Outcome == harness.OutcomeBrokenState:
		body = fmt.Sprintf("Session stopped: environment is broken (%s). Pausing until an operator intervenes.", res.Reason)
		slog.Error("environment broken", slog.Int("issue", issue), slog.String("reason", res.Reason))
		returnStatus = backlog.StatusBacklog
		c.requestPause()
	case res.Exhausted:
		body = fmt.Sprintf("Session stopped: every remaining task has exhausted its retries (%s). Item is blocked until a human intervenes.", res.Reason)
		slog.Error("item exhausted", slog.Int("issue", issue), slog.String("reason", res.Reason))
	default:
		body = fmt.Sprintf("Session stopped: %s. Item is blocked until a human intervenes.", res.Reason)
		slog.Error("item failed", slog.Int("issue", issue), slog.String("reason", res.Reason))
	}
	if err := c.api.PostComment(ctx, issue, body); err != nil {
		slog.Error("posting failure report failed", slog.Int("issue", issue), slog.Any("error", err))
	}
	if err := c.locks.Release(ctx, issue, false); err != nil {
		slog.Error("release failed", slog.Int("issue", issue), slog.Any("error", err))
	}
	if err := c.items.UpdateStatus(st.BacklogItemID, returnStatus, false); err != nil {
		slog.Error("park abandoned item failed", slog.String("item", st.BacklogItemID), slog.Any("error", err))
	}
	c.clearCurrent(st)
}

func (c *Coordinator) clearCurrent(st *session.State) {
	st.CurrentIssue = 0
	st.BacklogItemID = ""
	c.worker = nil
	c.pushed.ResetSession()
	if err := c.sessions.Write(st); err != nil {
		slog.Error("write session state failed", slog.Any("error", err))
	}
}

// pauseWork honors desired_state=pause: interrupt any in-flight cycle, flush
// pending announcements, release the claim without an outcome, and keep the
// item pointer so a resume picks the same item back up.
func (c *Coordinator) pauseWork(ctx context.Context) {
	if res, interrupted := c.stopCycle(); interrupted {
		// The interrupted result is deliberately not routed to handleOutcome;
		// pause is not a verdict on the item.
		slog.Info("in-flight cycle interrupted for pause", slog.String("outcome", res.Outcome))
	}

	st, err := c.sessions.Read()
	if err != nil || st == nil || st.Status == session.StatusPaused || st.Status == session.StatusTerminated {
		return
	}

	if st.CurrentIssue != 0 {
		slog.Info("pausing in-flight work", slog.Int("issue", st.CurrentIssue))
		c.flushNotifications(ctx, true)
		if err := c.locks.Release(ctx, st.CurrentIssue, false); err != nil {
			slog.Error("release on pause failed", slog.Any("error", err))
		}
	}
	st.Status = session.StatusPaused
	if err := c.sessions.Write(st); err != nil {
		slog.Error("write paused state failed", slog.Any("error", err))
	}
}
