package workspace_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jawhnycooke/longhaul/internal/workspace"
)

func TestInit(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ws, err := workspace.Init(dir, workspace.Config{
		Repo: workspace.Repo{Owner: "acme", Name: "webapp", Branch: "main"},
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if ws.Root != dir {
		t.Errorf("Root = %s, want %s", ws.Root, dir)
	}
	if ws.Config.Version != 1 {
		t.Errorf("Version = %d, want 1", ws.Config.Version)
	}
	if ws.Config.Repo.Owner != "acme" || ws.Config.Repo.Name != "webapp" {
		t.Errorf("Repo = %+v, want acme/webapp", ws.Config.Repo)
	}

	// Verify directory structure under .lh/.
	for _, sub := range []string{
		".lh",
		filepath.Join(".lh", "logs"),
	} {
		path := filepath.Join(dir, sub)
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected directory %s to exist: %v", sub, err)
		}
	}

	if _, err := os.Stat(filepath.Join(dir, ".lh", "config.yaml")); err != nil {
		t.Error(".lh/config.yaml not created")
	}
}

func TestInitDefaults(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ws, err := workspace.Init(dir, workspace.Config{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if ws.Config.Lock.Label != "agent-building" {
		t.Errorf("Lock.Label = %q, want agent-building", ws.Config.Lock.Label)
	}
	if ws.Config.Lock.DoneLabel != "agent-complete" {
		t.Errorf("Lock.DoneLabel = %q, want agent-complete", ws.Config.Lock.DoneLabel)
	}
	if ws.Config.Repo.Branch != "main" {
		t.Errorf("Repo.Branch = %q, want main", ws.Config.Repo.Branch)
	}
	if ws.Config.Intervals.QueueCheckSecs != 30 {
		t.Errorf("QueueCheckSecs = %d, want 30", ws.Config.Intervals.QueueCheckSecs)
	}
	if ws.Config.Intervals.HeartbeatSecs != 60 {
		t.Errorf("HeartbeatSecs = %d, want 60", ws.Config.Intervals.HeartbeatSecs)
	}
}

func TestInitAlreadyExists(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if _, err := workspace.Init(dir, workspace.Config{}); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	if _, err := workspace.Init(dir, workspace.Config{}); err == nil {
		t.Error("second Init should fail, got nil")
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ws1, err := workspace.Init(dir, workspace.Config{
		Repo:      workspace.Repo{Owner: "acme", Name: "webapp"},
		Approvers: []string{"alice", "bob"},
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	ws2, err := workspace.Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if ws2.Root != ws1.Root {
		t.Errorf("Root mismatch: %s vs %s", ws2.Root, ws1.Root)
	}
	if len(ws2.Config.Approvers) != 2 || ws2.Config.Approvers[0] != "alice" {
		t.Errorf("Approvers = %v, want [alice bob]", ws2.Config.Approvers)
	}
}

func TestOpenNonWorkspace(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if _, err := workspace.Open(dir); err == nil {
		t.Error("Open on non-workspace should fail")
	}
}

func TestOpenMalformedYAML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	lhDir := filepath.Join(dir, ".lh")
	if err := os.MkdirAll(lhDir, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(lhDir, "config.yaml"), []byte("\t{{not yaml"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := workspace.Open(dir)
	if err == nil {
		t.Error("Open with malformed YAML should return an error, got nil")
	}
}

func TestSaveConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ws, err := workspace.Init(dir, workspace.Config{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	ws.Config.Approvers = append(ws.Config.Approvers, "carol")
	if err := ws.SaveConfig(); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	ws2, err := workspace.Open(dir)
	if err != nil {
		t.Fatalf("Open after save: %v", err)
	}
	if len(ws2.Config.Approvers) != 1 || ws2.Config.Approvers[0] != "carol" {
		t.Error("SaveConfig did not persist approvers")
	}
}

// TestFindRoot verifies that FindRoot walks up from a nested subdirectory to
// find the workspace root, and returns a clear error when no workspace ancestor exists.
func TestFindRoot(t *testing.T) {
	t.Parallel()

	t.Run("finds root from nested subdir", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		ws, err := workspace.Init(dir, workspace.Config{})
		if err != nil {
			t.Fatalf("Init: %v", err)
		}

		nested := filepath.Join(dir, "subdir", "nested")
		if err := os.MkdirAll(nested, 0755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}

		found, err := workspace.FindRoot(nested)
		if err != nil {
			t.Fatalf("FindRoot: %v", err)
		}
		if found.Root != ws.Root {
			t.Errorf("FindRoot.Root = %s, want %s", found.Root, ws.Root)
		}
	})

	t.Run("fails when no workspace ancestor", func(t *testing.T) {
		t.Parallel()
		noWS := t.TempDir()

		_, err := workspace.FindRoot(noWS)
		if err == nil {
			t.Error("FindRoot from non-workspace dir should return an error, got nil")
		}
	})
}

// TestPathHelpers is a table-driven test covering the workspace path helpers.
func TestPathHelpers(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ws, err := workspace.Init(dir, workspace.Config{
		Repo: workspace.Repo{Owner: "acme", Name: "webapp"},
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	lhDir := filepath.Join(dir, ".lh")
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"LhDir", ws.LhDir(), lhDir},
		{"LogsDir", ws.LogsDir(), filepath.Join(lhDir, "logs")},
		{"BacklogPath", ws.BacklogPath(), filepath.Join(lhDir, "backlog.json")},
		{"SessionPath", ws.SessionPath(), filepath.Join(lhDir, "session.json")},
		{"DesiredPath", ws.DesiredPath(), filepath.Join(lhDir, "desired_state")},
		{"LedgersDir", ws.LedgersDir(), filepath.Join(lhDir, "ledgers")},
		{"LedgerPathFor", ws.LedgerPathFor("b-1"), filepath.Join(lhDir, "ledgers", "b-1.json")},
		{"QueuePath", ws.QueuePath(), filepath.Join(lhDir, "commits_to_announce")},
		{"LogPath", ws.LogPath("s-abc"), filepath.Join(lhDir, "logs", "s-abc.log")},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if tc.got != tc.want {
				t.Errorf("%s = %q, want %q", tc.name, tc.got, tc.want)
			}
		})
	}

	if got := ws.RepoSlug(); got != "acme/webapp" {
		t.Errorf("RepoSlug = %q, want acme/webapp", got)
	}
}

func TestAtomicWrite(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	if err := workspace.AtomicWrite(path, []byte("one")); err != nil {
		t.Fatalf("AtomicWrite: %v", err)
	}
	if err := workspace.AtomicWrite(path, []byte("two")); err != nil {
		t.Fatalf("AtomicWrite overwrite: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "two" {
		t.Errorf("content = %q, want two", data)
	}
	// No temp file left behind.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should not remain after AtomicWrite")
	}
}
