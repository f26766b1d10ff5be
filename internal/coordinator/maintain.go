package coordinator

import (
	"context"
	"log/slog"
	"time"

	"github.com/jawhnycooke/longhaul/internal/backlog"
	"github.com/jawhnycooke/longhaul/internal/commits"
	"github.com/jawhnycooke/longhaul/internal/gitutil"
	"github.com/jawhnycooke/longhaul/internal/session"
)

// maintain runs every due periodic responsibility. Each one catches and logs
// its own failure; a broken external call never halts the tick, because the
// loop itself is the session's liveness signal. When force is set every
// responsibility runs regardless of its timer (used by run_cleanup).
func (c *Coordinator) maintain(ctx context.Context, force bool) {
	iv := c.ws.Config.Intervals

	if force || c.due(&c.lastQueueCheck, iv.QueueCheckSecs) {
		c.drainQueue()
	}
	if force || c.due(&c.lastPushFlush, iv.PushFlushSecs) {
		c.flushPushes(ctx)
	}
	c.flushNotifications(ctx, force)
	if force || c.due(&c.lastSync, iv.BacklogSyncSecs) {
		c.syncBacklog(ctx)
	}
	if force || c.due(&c.lastHeartbeat, iv.HeartbeatSecs) {
		if err := c.sessions.Heartbeat(); err != nil {
			slog.Error("heartbeat failed", slog.Any("error", err))
		}
	}
	if force || c.due(&c.lastStaleCheck, iv.StaleCheckSecs) {
		c.checkStaleLock(ctx)
	}
}

// drainQueue pulls SHAs the post-commit hook appended. The queue and the
// remote-diff fallback both funnel through c.pushed, which is what keeps
// announcements exactly-once.
func (c *Coordinator) drainQueue() {
	shas, err := c.queue.Drain()
	if err != nil {
		slog.Error("drain commit queue failed", slog.Any("error", err))
		return
	}
	if len(shas) == 0 {
		return
	}
	newly := c.pushed.TrackPushed(shas)
	c.pushed.QueueForNotification(newly)
	if len(newly) > 0 {
		slog.Info("commits discovered via hook queue", slog.Int("count", len(newly)))
	}
}

// flushPushes is the fallback discovery path: diff local HEAD against the
// remote branch and push anything the hook missed.
func (c *Coordinator) flushPushes(ctx context.Context) {
	remote, branch := "origin", c.ws.Config.Repo.Branch

	if err := gitutil.Fetch(ctx, c.repoDir, remote, branch); err != nil {
		slog.Warn("fetch failed", slog.Any("error", err))
		return
	}
	shas, err := gitutil.UnpushedSHAs(ctx, c.repoDir, remote, branch)
	if err != nil {
		slog.Warn("listing unpushed commits failed", slog.Any("error", err))
		return
	}
	if len(shas) == 0 {
		return
	}
	if err := gitutil.Push(ctx, c.repoDir, remote, branch); err != nil {
		slog.Warn("push failed", slog.Any("error", err))
		return
	}
	newly := c.pushed.TrackPushed(shas)
	c.pushed.QueueForNotification(newly)
	slog.Info("commits pushed via fallback", slog.Int("count", len(shas)), slog.Int("new", len(newly)))
}

// flushNotifications posts the batched commit announcement to the current
// issue. Batching is governed by the tracker's notify clock, not the tick
// timers, so a zero interval reports immediately.
func (c *Coordinator) flushNotifications(ctx context.Context, force bool) {
	interval := time.Duration(c.ws.Config.Intervals.NotifySecs) * time.Second
	if !force && !c.pushed.ShouldNotify(interval) {
		return
	}
	if c.pushed.PendingCount() == 0 {
		return
	}
	st, err := c.sessions.Read()
	if err != nil || st == nil || st.CurrentIssue == 0 {
		return // nowhere to announce yet; the batch keeps accumulating
	}

	shas := c.pushed.DrainPending()
	body := commits.FormatAnnouncement(c.ws.RepoSlug(), shas, false)
	if err := c.api.PostComment(ctx, st.CurrentIssue, body); err != nil {
		slog.Error("posting commit announcement failed",
			slog.Int("issue", st.CurrentIssue), slog.Any("error", err))
		// Requeue so the batch is retried next flush.
		c.pushed.QueueForNotification(shas)
		return
	}
	c.pushed.MarkNotified()
	slog.Info("commits announced", slog.Int("issue", st.CurrentIssue), slog.Int("count", len(shas)))
}

// syncBacklog merges newly approved tracker items into the local backlog.
func (c *Coordinator) syncBacklog(ctx context.Context) {
	added, err := c.items.Sync(ctx, c.api, backlog.SyncOptions{
		LockLabel: c.ws.Config.Lock.Label,
		DoneLabel: c.ws.Config.Lock.DoneLabel,
		Approvers: c.ws.Config.Approvers,
	})
	if err != nil {
		slog.Error("backlog sync failed", slog.Any("error", err))
		return
	}
	if len(added) > 0 {
		slog.Info("backlog items added", slog.Int("count", len(added)))
	}
}

// checkStaleLock reports a lock held past its timeout by someone else. A
// stale lock is never removed by a non-holder.
func (c *Coordinator) checkStaleLock(ctx context.Context) {
	holder, held, err := c.locks.CurrentHolder(ctx)
	if err != nil {
		slog.Warn("lock holder check failed", slog.Any("error", err))
		return
	}
	if !held {
		return
	}
	st, err := c.sessions.Read()
	if err == nil && st != nil && st.CurrentIssue == holder {
		return // our own claim
	}

	timeout := time.Duration(c.ws.Config.Lock.StaleTimeoutSecs) * time.Second
	stale, age, err := c.locks.IsStale(ctx, holder, timeout)
	if err != nil {
		slog.Warn("lock staleness check failed", slog.Int("issue", holder), slog.Any("error", err))
		return
	}
	if stale {
		slog.Warn("stale lock detected",
			slog.Int("issue", holder),
			slog.Duration("age", age),
			slog.Duration("timeout", timeout))
	}
}

// shutdown handles desired_state=terminated: flush what we can, release any
// claim without marking it done, and leave a terminated record behind.
func (c *Coordinator) shutdown(ctx context.Context) {
	slog.Info("terminating on request")
	if res, interrupted := c.stopCycle(); interrupted {
		slog.Info("in-flight cycle interrupted for terminate", slog.String("outcome", res.Outcome))
	}
	c.drainQueue()
	c.flushNotifications(ctx, true)

	st, err := c.sessions.Read()
	if err != nil || st == nil {
		return
	}
	if st.CurrentIssue != 0 {
		if err := c.locks.Release(ctx, st.CurrentIssue, false); err != nil {
			slog.Error("release on terminate failed", slog.Any("error", err))
		}
	}
	st.Status = session.StatusTerminated
	st.CurrentIssue = 0
	st.BacklogItemID = ""
	if err := c.sessions.Write(st); err != nil {
		slog.Error("write terminated state failed", slog.Any("error", err))
	}
}
