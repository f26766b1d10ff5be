package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"github.com/jawhnycooke/longhaul/internal/backlog"
	"github.com/jawhnycooke/longhaul/internal/commits"
	"github.com/jawhnycooke/longhaul/internal/coordinator"
	"github.com/jawhnycooke/longhaul/internal/lock"
	"github.com/jawhnycooke/longhaul/internal/logbuf"
	"github.com/jawhnycooke/longhaul/internal/logger"
	"github.com/jawhnycooke/longhaul/internal/session"
	"github.com/jawhnycooke/longhaul/internal/tracker"
	"github.com/jawhnycooke/longhaul/internal/web"
	"github.com/jawhnycooke/longhaul/internal/workspace"
)

var version = "dev" // injected via ldflags at build time

// Globals holds shared state injected into Run methods that need a workspace.
type Globals struct {
	once sync.Once
	ws   *workspace.Workspace
}

// WS lazily opens the workspace on first call.
// Commands that don't need a workspace (init, version) must not call this.
func (g *Globals) WS() *workspace.Workspace {
	g.once.Do(func() {
		g.ws = openWS()
	})
	return g.ws
}

// Tracker builds an authenticated tracker client for the workspace repo.
func (g *Globals) Tracker() *tracker.Client {
	ws := g.WS()
	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		fatal("GITHUB_TOKEN is not set; tracker commands need an API token")
	}
	return tracker.New(ws.RepoSlug(), token)
}

// ─── Top-level CLI struct ────────────────────────────────────────────────────

type CLI struct {
	Init    InitCmd    `cmd:"" group:"workspace" help:"Create a new workspace in a repository."`
	Run     RunCmd     `cmd:"" group:"execution" help:"Run the session coordinator loop."`
	Status  StatusCmd  `cmd:"" group:"observe"   help:"Show session and backlog status."`
	Serve   ServeCmd   `cmd:"" group:"observe"   help:"Serve the read-only web dashboard."`
	Backlog BacklogCmd `cmd:"" group:"backlog"   help:"Manage the backlog (sync/list/next)."`
	Lock    LockCmd    `cmd:"" group:"lock"      help:"Inspect or release the work-claim lock."`
	State   StateCmd   `cmd:"" group:"control"   help:"Read or write the desired session state."`
	Commits CommitsCmd `cmd:"" group:"commits"   help:"Inspect the commit announcement pipeline."`
	Version VersionCmd `cmd:"" group:"maint"     help:"Print version and platform info."`
}

// ─── init ────────────────────────────────────────────────────────────────────

type InitCmd struct {
	Dir      string   `arg:"" help:"Directory to initialize (usually the repo root)."`
	Owner    string   `required:"" help:"Tracker repository owner."`
	Name     string   `required:"" help:"Tracker repository name."`
	Branch   string   `help:"Branch sessions push to (default: main)."`
	Approver []string `name:"approver" help:"Principal whose approval admits an issue to the backlog (repeatable)."`
	SkipHook bool     `name:"skip-hook" help:"Do not install the post-commit announcement hook."`
}

func (c *InitCmd) Run() error {
	cfg := workspace.Config{Approvers: c.Approver}
	cfg.Repo.Owner = c.Owner
	cfg.Repo.Name = c.Name
	cfg.Repo.Branch = c.Branch

	ws, err := workspace.Init(c.Dir, cfg)
	if err != nil {
		return fmt.Errorf("init failed: %v", err)
	}
	fmt.Printf("initialized longhaul workspace at %s (repo %s)\n", ws.Root, ws.RepoSlug())

	gitDir := filepath.Join(ws.Root, ".git")
	if _, err := os.Stat(gitDir); err == nil && !c.SkipHook {
		q := commits.NewQueueFile(ws.QueuePath())
		if err := q.InstallHook(gitDir); err != nil {
			return fmt.Errorf("installing post-commit hook: %v", err)
		}
		fmt.Println("installed post-commit announcement hook")
	} else if !c.SkipHook {
		fmt.Println("no .git directory found; run from the repo root or install the hook later with: lh commits install-hook")
	}
	return nil
}

// ─── run ─────────────────────────────────────────────────────────────────────

type RunCmd struct {
	Port    int    `default:"0" help:"Web dashboard port (0 = disabled)."`
	RepoDir string `name:"repo-dir" help:"Working tree the agent edits (default: workspace root)."`
}

func (c *RunCmd) Run(g *Globals) error {
	ws := g.WS()
	api := g.Tracker()

	buf := logbuf.New(500)
	logger.SetMirror(buf)
	defer logger.SetMirror(nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if c.Port > 0 {
		addr := fmt.Sprintf(":%d", c.Port)
		go func() {
			if err := web.Serve(ctx, ws, addr, buf); err != nil {
				slog.Error("web server error", slog.Any("error", err))
			}
		}()
		fmt.Printf("dashboard: http://localhost:%d\n", c.Port)
	}

	var opts []coordinator.Option
	if c.RepoDir != "" {
		opts = append(opts, coordinator.WithRepoDir(c.RepoDir))
	}

	fmt.Println("longhaul coordinator running. ctrl+c to exit.")
	if err := coordinator.New(ws, api, opts...).Run(ctx); err != nil {
		return fmt.Errorf("coordinator: %v", err)
	}
	return nil
}

// ─── status ──────────────────────────────────────────────────────────────────

type StatusCmd struct{}

func (c *StatusCmd) Run(g *Globals) error {
	ws := g.WS()
	sessions := session.NewStore(ws.SessionPath(), ws.DesiredPath())

	st, err := sessions.Read()
	if err != nil {
		return fmt.Errorf("session state unreadable: %v", err)
	}
	if st == nil {
		fmt.Println("no session yet")
	} else {
		fmt.Printf("session:  %s\n", st.SessionID)
		fmt.Printf("status:   %s\n", st.Status)
		if st.CurrentIssue != 0 {
			fmt.Printf("working:  issue #%d (%s)\n", st.CurrentIssue, st.BacklogItemID)
		}
		if st.RestartCount > 0 {
			fmt.Printf("restarts: %d\n", st.RestartCount)
		}
		fmt.Printf("heartbeat: %s\n", fmtAge(st.LastHeartbeat))
	}
	fmt.Printf("desired:  %s\n", sessions.ReadDesired())

	items, err := backlog.NewStore(ws.BacklogPath()).Load()
	if err != nil {
		return fmt.Errorf("backlog unreadable: %v", err)
	}
	summary := make(map[string]int)
	for _, it := range items {
		summary[it.Status]++
	}
	fmt.Printf("backlog:  %d items (%d in-progress, %d done)\n",
		len(items), summary[backlog.StatusInProgress], summary[backlog.StatusDone])
	return nil
}

// ─── serve ───────────────────────────────────────────────────────────────────

type ServeCmd struct {
	Port int `default:"8080" help:"Dashboard port (default 8080)."`
}

func (c *ServeCmd) Run(g *Globals) error {
	ws := g.WS()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	fmt.Printf("dashboard: http://localhost:%d\n", c.Port)
	return web.Serve(ctx, ws, fmt.Sprintf(":%d", c.Port), nil)
}

// ─── backlog ─────────────────────────────────────────────────────────────────

type BacklogCmd struct {
	Sync BacklogSyncCmd `cmd:"" help:"Merge approved tracker issues into the backlog."`
	List BacklogListCmd `cmd:"" help:"List backlog items."`
	Next BacklogNextCmd `cmd:"" help:"Show the item the coordinator would pick next."`
}

type BacklogSyncCmd struct{}

func (c *BacklogSyncCmd) Run(g *Globals) error {
	ws := g.WS()
	api := g.Tracker()

	store := backlog.NewStore(ws.BacklogPath())
	added, err := store.Sync(context.Background(), api, backlog.SyncOptions{
		LockLabel: ws.Config.Lock.Label,
		DoneLabel: ws.Config.Lock.DoneLabel,
		Approvers: ws.Config.Approvers,
	})
	if err != nil {
		return fmt.Errorf("sync: %v", err)
	}
	if len(added) == 0 {
		fmt.Println("backlog up to date")
		return nil
	}
	for _, it := range added {
		fmt.Printf("added %s: #%d %s (%s)\n", it.ID, it.Issue, it.Title, it.Priority)
	}
	return nil
}

type BacklogListCmd struct{}

func (c *BacklogListCmd) Run(g *Globals) error {
	ws := g.WS()
	items, err := backlog.NewStore(ws.BacklogPath()).Load()
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("backlog empty")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tISSUE\tPRIORITY\tSTATUS\tVOTES\tTITLE")
	for _, it := range items {
		title := it.Title
		if len(title) > 60 {
			title = title[:57] + "..."
		}
		fmt.Fprintf(w, "%s\t#%d\t%s\t%s\t%d\t%s\n", it.ID, it.Issue, it.Priority, it.Status, it.VoteCount, title)
	}
	w.Flush()
	return nil
}

type BacklogNextCmd struct{}

func (c *BacklogNextCmd) Run(g *Globals) error {
	ws := g.WS()
	item, ok := backlog.NewStore(ws.BacklogPath()).SelectNextFromStore()
	if !ok {
		fmt.Println("nothing claimable")
		return nil
	}
	fmt.Printf("%s: #%d %s (%s, %d votes, %s)\n",
		item.ID, item.Issue, item.Title, item.Priority, item.VoteCount, item.Status)
	return nil
}

// ─── lock ────────────────────────────────────────────────────────────────────

type LockCmd struct {
	Status  LockStatusCmd  `cmd:"" help:"Show the current lock holder and its age."`
	Release LockReleaseCmd `cmd:"" help:"Release the lock on an issue (operator override)."`
}

type LockStatusCmd struct{}

func (c *LockStatusCmd) Run(g *Globals) error {
	ws := g.WS()
	m := lock.New(g.Tracker(), ws.Config.Lock.Label, ws.Config.Lock.DoneLabel)
	ctx := context.Background()

	holder, held, err := m.CurrentHolder(ctx)
	if err != nil {
		return err
	}
	if !held {
		fmt.Println("lock is free")
		return nil
	}
	fmt.Printf("held by issue #%d\n", holder)

	timeout := time.Duration(ws.Config.Lock.StaleTimeoutSecs) * time.Second
	stale, age, err := m.IsStale(ctx, holder, timeout)
	if err != nil {
		fmt.Printf("age unknown: %v\n", err)
		return nil
	}
	fmt.Printf("held for %s", age.Round(time.Second))
	if stale {
		fmt.Printf(" — STALE (timeout %s)", timeout)
	}
	fmt.Println()
	return nil
}

type LockReleaseCmd struct {
	Issue int  `arg:"" help:"Issue number holding the lock."`
	Done  bool `help:"Also mark the issue done."`
}

func (c *LockReleaseCmd) Run(g *Globals) error {
	ws := g.WS()
	m := lock.New(g.Tracker(), ws.Config.Lock.Label, ws.Config.Lock.DoneLabel)
	if err := m.Release(context.Background(), c.Issue, c.Done); err != nil {
		return err
	}
	fmt.Printf("released lock on issue #%d\n", c.Issue)
	return nil
}

// ─── state ───────────────────────────────────────────────────────────────────

type StateCmd struct {
	Get StateGetCmd `cmd:"" help:"Print the desired session state."`
	Set StateSetCmd `cmd:"" help:"Set the desired session state."`
}

type StateGetCmd struct{}

func (c *StateGetCmd) Run(g *Globals) error {
	ws := g.WS()
	sessions := session.NewStore(ws.SessionPath(), ws.DesiredPath())
	fmt.Println(sessions.ReadDesired())
	return nil
}

type StateSetCmd struct {
	Value string `arg:"" help:"One of: continuous, run_once, run_cleanup, pause, terminated."`
}

func (c *StateSetCmd) Run(g *Globals) error {
	ws := g.WS()
	sessions := session.NewStore(ws.SessionPath(), ws.DesiredPath())
	if err := sessions.SetDesired(c.Value); err != nil {
		return err
	}
	fmt.Printf("desired state set to %s\n", c.Value)
	return nil
}

// ─── commits ─────────────────────────────────────────────────────────────────

type CommitsCmd struct {
	Pending     CommitsPendingCmd     `cmd:"" help:"List SHAs queued for announcement."`
	Queue       CommitsQueueCmd       `cmd:"" help:"Append a SHA to the announcement queue. (Called by the post-commit hook.)"`
	InstallHook CommitsInstallHookCmd `cmd:"install-hook" help:"Install the post-commit announcement hook."`
}

type CommitsPendingCmd struct{}

func (c *CommitsPendingCmd) Run(g *Globals) error {
	ws := g.WS()
	data, err := os.ReadFile(ws.QueuePath())
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("queue empty")
			return nil
		}
		return err
	}
	lines := strings.Fields(string(data))
	if len(lines) == 0 {
		fmt.Println("queue empty")
		return nil
	}
	for _, sha := range lines {
		fmt.Println(sha)
	}
	return nil
}

type CommitsQueueCmd struct {
	SHA string `arg:"" help:"Commit SHA to queue."`
}

func (c *CommitsQueueCmd) Run(g *Globals) error {
	ws := g.WS()
	return commits.NewQueueFile(ws.QueuePath()).Append(c.SHA)
}

type CommitsInstallHookCmd struct{}

func (c *CommitsInstallHookCmd) Run(g *Globals) error {
	ws := g.WS()
	gitDir := filepath.Join(ws.Root, ".git")
	if _, err := os.Stat(gitDir); err != nil {
		return fmt.Errorf("no .git directory at %s", ws.Root)
	}
	q := commits.NewQueueFile(ws.QueuePath())
	if err := q.InstallHook(gitDir); err != nil {
		return err
	}
	fmt.Println("installed post-commit announcement hook")
	return nil
}

// ─── version ─────────────────────────────────────────────────────────────────

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("lh %s %s/%s\n", version, runtime.GOOS, runtime.GOARCH)
	return nil
}

// ─── main ────────────────────────────────────────────────────────────────────

func main() {
	logger.Init()

	var cli CLI
	globals := &Globals{}

	ctx := kong.Parse(&cli,
		kong.Name("lh"),
		kong.Description("longhaul — unattended build sessions against a tracker backlog\n\nClaim an approved issue, drive an agent through its acceptance tasks, and report progress back.\n\nUSAGE:  lh <command> [arguments]"),
		kong.UsageOnError(),
		kong.Bind(globals),
		kong.ExplicitGroups([]kong.Group{
			{Key: "workspace", Title: "── WORKSPACE ────────────────────────────────────────────────────────────────────"},
			{Key: "execution", Title: "── EXECUTION ─────────────────────────────────────────────────────────────────────"},
			{Key: "backlog", Title: "── BACKLOG ───────────────────────────────────────────────────────────────────────"},
			{Key: "lock", Title: "── LOCK ──────────────────────────────────────────────────────────────────────────"},
			{Key: "control", Title: "── CONTROL ───────────────────────────────────────────────────────────────────────"},
			{Key: "commits", Title: "── COMMITS ───────────────────────────────────────────────────────────────────────"},
			{Key: "observe", Title: "── MONITORING ────────────────────────────────────────────────────────────────────"},
			{Key: "maint", Title: "── MAINTENANCE ───────────────────────────────────────────────────────────────────"},
		}),
	)

	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// openWS finds the workspace from LH_WORKSPACE env var (preferred) or CWD.
// LH_WORKSPACE takes priority so that subprocesses (agents, hooks) always use
// the workspace they were explicitly given, even when their CWD is inside a
// different workspace tree.
func openWS() *workspace.Workspace {
	if dir := os.Getenv("LH_WORKSPACE"); dir != "" {
		ws, err := workspace.Open(dir)
		if err != nil {
			fatal("open workspace from LH_WORKSPACE: %v", err)
		}
		return ws
	}
	cwd, err := os.Getwd()
	if err != nil {
		fatal("cannot determine current directory and LH_WORKSPACE is not set")
	}
	ws, err := workspace.FindRoot(cwd)
	if err != nil {
		fatal("not inside a longhaul workspace (no .lh/config.yaml found in %s or any parent directory)\n\nTo create a new workspace here:    lh init . --owner <owner> --name <repo>\nTo use an existing workspace:      export LH_WORKSPACE=/path/to/workspace", cwd)
	}
	return ws
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "lh: "+format+"\n", args...)
	os.Exit(1)
}

func fmtAge(unix int64) string {
	if unix == 0 {
		return "never"
	}
	d := time.Since(time.Unix(unix, 0))
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}
