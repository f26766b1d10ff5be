package coordinator

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jawhnycooke/longhaul/internal/agent"
	"github.com/jawhnycooke/longhaul/internal/backlog"
	"github.com/jawhnycooke/longhaul/internal/gitutil"
	"github.com/jawhnycooke/longhaul/internal/harness"
)

// smokeCheck verifies the working tree is a usable repository before any
// task result is trusted.
func (c *Coordinator) smokeCheck(ctx context.Context) error {
	if _, err := gitutil.Head(ctx, c.repoDir); err != nil {
		return fmt.Errorf("working tree unusable: %w", err)
	}
	return nil
}

// executeWithAgent is the default harness executor: one bounded, supervised
// agent invocation for one ledger task.
func (c *Coordinator) executeWithAgent(ctx context.Context, task *harness.TestTask) error {
	st, err := c.sessions.Read()
	if err != nil || st == nil {
		return fmt.Errorf("no session state for agent run")
	}
	if st.BacklogItemID == "" {
		return fmt.Errorf("no backlog item bound to session %s", st.SessionID)
	}
	item, err := c.items.Get(st.BacklogItemID)
	if err != nil {
		return fmt.Errorf("backlog item %s: %w", st.BacklogItemID, err)
	}

	spec := agent.Spec{
		Prompt:          c.buildPrompt(item, task),
		Dir:             c.repoDir,
		LogPath:         c.ws.LogPath(st.SessionID),
		SkipPermissions: true,
	}
	return agent.Run(ctx, spec, agent.DefaultKillGrace)
}

// generateLedger makes sure a claimed item has a populated acceptance ledger
// before the first cycle. A non-empty ledger is a resume and is left alone;
// otherwise one agent invocation plans the item and writes the task list. An
// item the agent cannot break into tasks is never run, since the harness
// would read an empty ledger as already complete.
func (c *Coordinator) generateLedger(ctx context.Context, item *backlog.Item) error {
	ledger := harness.NewLedger(c.ws.LedgerPathFor(item.ID))
	if tasks, err := ledger.Load(); err == nil && len(tasks) > 0 {
		return nil
	}

	if err := os.MkdirAll(c.ws.LedgersDir(), 0755); err != nil {
		return err
	}
	st, err := c.sessions.Read()
	if err != nil || st == nil {
		return fmt.Errorf("no session state for ledger generation")
	}
	spec := agent.Spec{
		Prompt:          c.buildLedgerPrompt(item, ledger.Path()),
		Dir:             c.repoDir,
		LogPath:         c.ws.LogPath(st.SessionID),
		SkipPermissions: true,
	}
	if err := agent.Run(ctx, spec, agent.DefaultKillGrace); err != nil {
		return fmt.Errorf("ledger generation run: %w", err)
	}

	tasks, err := ledger.Load()
	if err != nil {
		return fmt.Errorf("generated ledger unreadable: %w", err)
	}
	if len(tasks) == 0 {
		return fmt.Errorf("ledger generation produced no tasks for %s", item.ID)
	}
	return nil
}

// buildLedgerPrompt instructs the agent to break one item into verifiable
// acceptance tasks and persist them as that item's ledger.
func (c *Coordinator) buildLedgerPrompt(item *backlog.Item, path string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are planning work on: %s\n", item.Title)
	if item.Details != "" {
		fmt.Fprintf(&b, "\nContext:\n%s\n", item.Details)
	}
	fmt.Fprintf(&b, `
Break this item into concrete acceptance tasks and write them as a JSON array
to %s. Each task is an object with:
- "id": a short stable identifier
- "description": what must demonstrably work
- "steps": the commands or checks that verify it
- "passes": false
- "retry_count": 0
Order the tasks so earlier ones unblock later ones. Write the file and stop;
do not start implementing.
`, path)
	return b.String()
}

// buildPrompt assembles the instruction for one task attempt. The agent owns
// editing the ledger; retry arithmetic stays with the harness.
func (c *Coordinator) buildPrompt(item *backlog.Item, task *harness.TestTask) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are working on: %s\n", item.Title)
	if item.Details != "" {
		fmt.Fprintf(&b, "\nContext:\n%s\n", item.Details)
	}
	fmt.Fprintf(&b, "\nCurrent task (%s): %s\n", task.ID, task.Description)
	if len(task.Steps) > 0 {
		b.WriteString("\nVerification steps:\n")
		for _, s := range task.Steps {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	if task.RetryCount > 0 {
		fmt.Fprintf(&b, "\nThis is attempt %d; previous attempts did not pass. Re-check the verification steps before declaring success.\n", task.RetryCount+1)
	}

	fmt.Fprintf(&b, `
Rules:
- Work only inside this repository.
- Commit completed work with clear messages; commits are pushed for you.
- When the verification steps all succeed, set "passes": true for task %q in %s. Do not touch retry_count.
- If you cannot make the task pass, leave it failing and stop.
`, task.ID, c.ws.LedgerPathFor(item.ID))
	return b.String()
}
