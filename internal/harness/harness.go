package harness

import (
	"context"
	"fmt"
	"log/slog"
)

// Phases of one cycle. Exposed so callers can report where a cycle is.
const (
	PhaseSelecting  = "selecting_task"
	PhaseExecuting  = "executing_task"
	PhaseValidating = "validating"
)

// Outcome of one cycle.
const (
	OutcomeContinue    = "continue"     // progress possible, run another cycle
	OutcomeComplete    = "complete"     // every task passes
	OutcomeFailed      = "failed"       // no task can make further progress
	OutcomeBrokenState = "broken_state" // environment or ledger unusable
)

// Result describes how a cycle ended. Exhausted distinguishes "failing tasks
// remain but all are out of retries" from an environment failure.
type Result struct {
	Outcome   string
	Reason    string
	Exhausted bool
	Task      *TestTask // the task this cycle worked on, if any
}

// ExecuteFunc runs the agent against one task. The agent is expected to edit
// the ledger file itself; the returned error only reports whether the run
// itself came up, not whether the task passed.
type ExecuteFunc func(ctx context.Context, task *TestTask) error

// SmokeFunc verifies the working tree is healthy enough to attempt work
// (build compiles, repo present). Failure aborts the cycle without charging
// any task a retry.
type SmokeFunc func(ctx context.Context) error

// AcceptFunc judges a pass claim: before is the task as selected, after is
// the task as the agent left it. Returning false blocks the mutation and the
// task stays failing.
type AcceptFunc func(before, after *TestTask) bool

// Harness drives select, execute, validate cycles over the ledger.
type Harness struct {
	ledger     *Ledger
	execute    ExecuteFunc
	smoke      SmokeFunc
	accept     AcceptFunc
	maxRetries int
}

// Option configures a Harness.
type Option func(*Harness)

func WithSmokeCheck(fn SmokeFunc) Option { return func(h *Harness) { h.smoke = fn } }
func WithAccept(fn AcceptFunc) Option    { return func(h *Harness) { h.accept = fn } }
func WithMaxRetries(n int) Option        { return func(h *Harness) { h.maxRetries = n } }

func New(ledger *Ledger, execute ExecuteFunc, opts ...Option) *Harness {
	h := &Harness{
		ledger:     ledger,
		execute:    execute,
		maxRetries: DefaultMaxRetries,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// selectNext returns the first task that is failing and still has retries.
func (h *Harness) selectNext(tasks []*TestTask) *TestTask {
	for _, t := range tasks {
		if !t.Passes && t.RetryCount < h.maxRetries {
			return t
		}
	}
	return nil
}

func anyFailing(tasks []*TestTask) bool {
	for _, t := range tasks {
		if !t.Passes {
			return true
		}
	}
	return false
}

// Cycle runs one select, execute, validate pass and reports how it ended.
func (h *Harness) Cycle(ctx context.Context) Result {
	if h.smoke != nil {
		if err := h.smoke(ctx); err != nil {
			return Result{Outcome: OutcomeBrokenState, Reason: fmt.Sprintf("smoke check: %v", err)}
		}
	}

	tasks, err := h.ledger.Load()
	if err != nil {
		return Result{Outcome: OutcomeBrokenState, Reason: fmt.Sprintf("load ledger: %v", err)}
	}

	task := h.selectNext(tasks)
	if task == nil {
		if anyFailing(tasks) {
			return Result{
				Outcome:   OutcomeFailed,
				Reason:    "all failing tasks have exhausted their retries",
				Exhausted: true,
			}
		}
		return Result{Outcome: OutcomeComplete, Reason: "all tasks pass"}
	}
	before := *task

	slog.Info("executing task",
		slog.String("task", task.ID),
		slog.Int("attempt", task.RetryCount+1),
		slog.Int("max", h.maxRetries))
	execErr := h.execute(ctx, task)
	if ctx.Err() != nil {
		return Result{Outcome: OutcomeFailed, Reason: ctx.Err().Error(), Task: task}
	}
	if execErr != nil {
		slog.Warn("task execution error", slog.String("task", task.ID), slog.Any("error", execErr))
	}

	// Validate against the ledger as the agent left it, not our copy.
	after, err := h.ledger.Load()
	if err != nil {
		return Result{Outcome: OutcomeBrokenState, Reason: fmt.Sprintf("reload ledger: %v", err), Task: task}
	}
	cur := Get(after, task.ID)
	if cur == nil {
		return Result{
			Outcome: OutcomeBrokenState,
			Reason:  fmt.Sprintf("task %s removed from ledger during execution", task.ID),
			Task:    task,
		}
	}

	if cur.Passes && execErr == nil {
		if h.accept != nil && !h.accept(&before, cur) {
			slog.Warn("pass claim rejected, reverting", slog.String("task", cur.ID))
			cur.Passes = false
		}
	} else if cur.Passes && execErr != nil {
		// A pass recorded by a run that itself errored is not trusted.
		slog.Warn("pass claim discarded after execution error", slog.String("task", cur.ID))
		cur.Passes = false
	}

	if cur.Passes {
		if err := h.ledger.Save(after); err != nil {
			return Result{Outcome: OutcomeBrokenState, Reason: fmt.Sprintf("save ledger: %v", err), Task: cur}
		}
		if !anyFailing(after) {
			return Result{Outcome: OutcomeComplete, Reason: "all tasks pass", Task: cur}
		}
		return Result{Outcome: OutcomeContinue, Task: cur}
	}

	// Failed attempt: the retry is charged here, never by the agent.
	cur.RetryCount = before.RetryCount + 1
	if err := h.ledger.Save(after); err != nil {
		return Result{Outcome: OutcomeBrokenState, Reason: fmt.Sprintf("save ledger: %v", err), Task: cur}
	}
	slog.Info("task still failing",
		slog.String("task", cur.ID),
		slog.Int("retry_count", cur.RetryCount))

	if h.selectNext(after) != nil {
		return Result{Outcome: OutcomeContinue, Task: cur}
	}
	if anyFailing(after) {
		return Result{
			Outcome:   OutcomeFailed,
			Reason:    "all failing tasks have exhausted their retries",
			Exhausted: true,
			Task:      cur,
		}
	}
	return Result{Outcome: OutcomeComplete, Reason: "all tasks pass", Task: cur}
}

// Run cycles until the outcome is terminal or the context ends.
func (h *Harness) Run(ctx context.Context) Result {
	for {
		res := h.Cycle(ctx)
		if res.Outcome != OutcomeContinue {
			return res
		}
		if ctx.Err() != nil {
			return Result{Outcome: OutcomeFailed, Reason: ctx.Err().Error()}
		}
	}
}
