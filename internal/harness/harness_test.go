package harness_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jawhnycooke/longhaul/internal/harness"
)

// newLedger writes tasks to a fresh ledger file and returns it.
func newLedger(t *testing.T, tasks []*harness.TestTask) *harness.Ledger {
	t.Helper()
	l := harness.NewLedger(filepath.Join(t.TempDir(), "tests.json"))
	if tasks != nil {
		if err := l.Save(tasks); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	return l
}

// passTask is an executor that marks the given task passing in the ledger,
// the way the agent edits the file between attempts.
func passTask(l *harness.Ledger) harness.ExecuteFunc {
	return func(ctx context.Context, task *harness.TestTask) error {
		tasks, err := l.Load()
		if err != nil {
			return err
		}
		if cur := harness.Get(tasks, task.ID); cur != nil {
			cur.Passes = true
		}
		return l.Save(tasks)
	}
}

// noop leaves the ledger alone, so the task keeps failing.
func noop(ctx context.Context, task *harness.TestTask) error { return nil }

func TestCycleCompleteWhenAllPass(t *testing.T) {
	t.Parallel()
	l := newLedger(t, []*harness.TestTask{
		{ID: "t1", Description: "build", Passes: true},
		{ID: "t2", Description: "lint", Passes: true},
	})
	h := harness.New(l, noop)

	res := h.Cycle(context.Background())
	if res.Outcome != harness.OutcomeComplete {
		t.Errorf("Outcome = %s, want complete", res.Outcome)
	}
	if res.Exhausted {
		t.Error("complete result should not be marked exhausted")
	}
}

func TestCycleEmptyLedgerIsComplete(t *testing.T) {
	t.Parallel()
	h := harness.New(newLedger(t, nil), noop)
	if res := h.Cycle(context.Background()); res.Outcome != harness.OutcomeComplete {
		t.Errorf("Outcome = %s, want complete", res.Outcome)
	}
}

func TestCycleSelectsFirstFailingTask(t *testing.T) {
	t.Parallel()
	l := newLedger(t, []*harness.TestTask{
		{ID: "t1", Passes: true},
		{ID: "t2", Passes: false},
		{ID: "t3", Passes: false},
	})
	var executed string
	h := harness.New(l, func(ctx context.Context, task *harness.TestTask) error {
		executed = task.ID
		return nil
	})

	h.Cycle(context.Background())
	if executed != "t2" {
		t.Errorf("executed %q, want t2", executed)
	}
}

// A failing attempt charges exactly one retry, recorded by the harness.
func TestFailedAttemptIncrementsRetryCount(t *testing.T) {
	t.Parallel()
	l := newLedger(t, []*harness.TestTask{
		{ID: "t1", Passes: false},
		{ID: "t2", Passes: false},
	})
	h := harness.New(l, noop)

	res := h.Cycle(context.Background())
	if res.Outcome != harness.OutcomeContinue {
		t.Fatalf("Outcome = %s, want continue", res.Outcome)
	}
	tasks, err := l.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := harness.Get(tasks, "t1").RetryCount; got != 1 {
		t.Errorf("t1 retry_count = %d, want 1", got)
	}
	if got := harness.Get(tasks, "t2").RetryCount; got != 0 {
		t.Errorf("t2 retry_count = %d, want 0 (not attempted)", got)
	}
}

// Once a task reaches max retries it is skipped; when every failing task is
// out of retries the run fails with the exhausted marker, which is a
// different terminal state from complete.
func TestRetryExhaustion(t *testing.T) {
	t.Parallel()
	l := newLedger(t, []*harness.TestTask{{ID: "t1", Passes: false}})
	attempts := 0
	h := harness.New(l, func(ctx context.Context, task *harness.TestTask) error {
		attempts++
		return nil
	})

	res := h.Run(context.Background())
	if attempts != harness.DefaultMaxRetries {
		t.Errorf("attempts = %d, want %d", attempts, harness.DefaultMaxRetries)
	}
	if res.Outcome != harness.OutcomeFailed {
		t.Errorf("Outcome = %s, want failed", res.Outcome)
	}
	if !res.Exhausted {
		t.Error("exhausted runs must be marked Exhausted")
	}

	// An exhausted ledger is terminal immediately on the next cycle.
	res = h.Cycle(context.Background())
	if res.Outcome != harness.OutcomeFailed || !res.Exhausted {
		t.Errorf("re-run on exhausted ledger = %+v, want failed/exhausted", res)
	}
}

func TestLastFailingTaskPassingCompletes(t *testing.T) {
	t.Parallel()
	l := newLedger(t, []*harness.TestTask{
		{ID: "t1", Passes: true},
		{ID: "t2", Passes: false},
	})
	h := harness.New(l, passTask(l))

	res := h.Cycle(context.Background())
	if res.Outcome != harness.OutcomeComplete {
		t.Errorf("Outcome = %s, want complete", res.Outcome)
	}
	if res.Task == nil || res.Task.ID != "t2" {
		t.Errorf("Task = %+v, want t2", res.Task)
	}
}

func TestRunDrivesAllTasksToComplete(t *testing.T) {
	t.Parallel()
	l := newLedger(t, []*harness.TestTask{
		{ID: "t1", Passes: false},
		{ID: "t2", Passes: false},
		{ID: "t3", Passes: false},
	})
	h := harness.New(l, passTask(l))

	res := h.Run(context.Background())
	if res.Outcome != harness.OutcomeComplete {
		t.Fatalf("Outcome = %s, want complete", res.Outcome)
	}
	tasks, _ := l.Load()
	for _, task := range tasks {
		if !task.Passes {
			t.Errorf("task %s still failing", task.ID)
		}
	}
}

// Smoke failure aborts before selection and charges no retries.
func TestSmokeFailureIsBrokenState(t *testing.T) {
	t.Parallel()
	l := newLedger(t, []*harness.TestTask{{ID: "t1", Passes: false}})
	executed := false
	h := harness.New(l,
		func(ctx context.Context, task *harness.TestTask) error {
			executed = true
			return nil
		},
		harness.WithSmokeCheck(func(ctx context.Context) error {
			return errors.New("build does not compile")
		}),
	)

	res := h.Cycle(context.Background())
	if res.Outcome != harness.OutcomeBrokenState {
		t.Errorf("Outcome = %s, want broken_state", res.Outcome)
	}
	if executed {
		t.Error("no task should execute when the smoke check fails")
	}
	tasks, _ := l.Load()
	if got := harness.Get(tasks, "t1").RetryCount; got != 0 {
		t.Errorf("retry_count = %d, want 0 (smoke failures are free)", got)
	}
}

func TestCorruptLedgerIsBrokenState(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "tests.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	h := harness.New(harness.NewLedger(path), noop)
	if res := h.Cycle(context.Background()); res.Outcome != harness.OutcomeBrokenState {
		t.Errorf("Outcome = %s, want broken_state", res.Outcome)
	}
}

func TestTaskRemovedDuringExecutionIsBrokenState(t *testing.T) {
	t.Parallel()
	l := newLedger(t, []*harness.TestTask{{ID: "t1", Passes: false}})
	h := harness.New(l, func(ctx context.Context, task *harness.TestTask) error {
		return l.Save([]*harness.TestTask{{ID: "other", Passes: true}})
	})

	res := h.Cycle(context.Background())
	if res.Outcome != harness.OutcomeBrokenState {
		t.Errorf("Outcome = %s, want broken_state", res.Outcome)
	}
}

// A rejected pass claim is reverted and the attempt is charged.
func TestAcceptRejectionKeepsTaskFailing(t *testing.T) {
	t.Parallel()
	l := newLedger(t, []*harness.TestTask{{ID: "t1", Passes: false}})
	h := harness.New(l, passTask(l),
		harness.WithAccept(func(before, after *harness.TestTask) bool {
			return false
		}),
	)

	res := h.Cycle(context.Background())
	if res.Outcome != harness.OutcomeContinue {
		t.Errorf("Outcome = %s, want continue", res.Outcome)
	}
	tasks, _ := l.Load()
	got := harness.Get(tasks, "t1")
	if got.Passes {
		t.Error("rejected pass claim should be reverted")
	}
	if got.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", got.RetryCount)
	}
}

// A pass recorded by a run that itself errored is not trusted.
func TestPassDiscardedAfterExecutionError(t *testing.T) {
	t.Parallel()
	l := newLedger(t, []*harness.TestTask{{ID: "t1", Passes: false}})
	h := harness.New(l, func(ctx context.Context, task *harness.TestTask) error {
		if err := passTask(l)(ctx, task); err != nil {
			return err
		}
		return errors.New("agent crashed after editing ledger")
	})

	res := h.Cycle(context.Background())
	if res.Outcome == harness.OutcomeComplete {
		t.Error("errored run must not complete the ledger")
	}
	tasks, _ := l.Load()
	if harness.Get(tasks, "t1").Passes {
		t.Error("pass claim from errored run should be discarded")
	}
}

func TestWithMaxRetries(t *testing.T) {
	t.Parallel()
	l := newLedger(t, []*harness.TestTask{{ID: "t1", Passes: false}})
	attempts := 0
	h := harness.New(l,
		func(ctx context.Context, task *harness.TestTask) error {
			attempts++
			return nil
		},
		harness.WithMaxRetries(1),
	)

	res := h.Run(context.Background())
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if res.Outcome != harness.OutcomeFailed || !res.Exhausted {
		t.Errorf("result = %+v, want failed/exhausted", res)
	}
}

func TestCancelledContextFails(t *testing.T) {
	t.Parallel()
	l := newLedger(t, []*harness.TestTask{{ID: "t1", Passes: false}})
	ctx, cancel := context.WithCancel(context.Background())
	h := harness.New(l, func(ctx context.Context, task *harness.TestTask) error {
		cancel()
		return ctx.Err()
	})

	res := h.Cycle(ctx)
	if res.Outcome != harness.OutcomeFailed {
		t.Errorf("Outcome = %s, want failed", res.Outcome)
	}
	if res.Exhausted {
		t.Error("cancellation is not retry exhaustion")
	}
}
