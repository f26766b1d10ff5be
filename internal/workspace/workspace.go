package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the .lh/config.yaml content.
type Config struct {
	Version   int       `yaml:"version"`
	Repo      Repo      `yaml:"repo"`
	Lock      Lock      `yaml:"lock"`
	Approvers []string  `yaml:"approvers"`
	Intervals Intervals `yaml:"intervals"`
}

// Repo identifies the tracked repository and the branch sessions push to.
type Repo struct {
	Owner  string `yaml:"owner"`
	Name   string `yaml:"name"`
	Branch string `yaml:"branch"`
}

// Lock configures the tracker-label lock.
type Lock struct {
	Label            string `yaml:"label"`
	DoneLabel        string `yaml:"done_label"`
	StaleTimeoutSecs int64  `yaml:"stale_timeout_secs"`
}

// Intervals holds the per-responsibility timer periods in seconds.
// Zero for push_flush or notify disables that responsibility's batching.
type Intervals struct {
	QueueCheckSecs  int `yaml:"queue_check_secs"`
	PushFlushSecs   int `yaml:"push_flush_secs"`
	NotifySecs      int `yaml:"notify_secs"`
	BacklogSyncSecs int `yaml:"backlog_sync_secs"`
	HeartbeatSecs   int `yaml:"heartbeat_secs"`
	StaleCheckSecs  int `yaml:"stale_check_secs"`
}

// Workspace holds the root path and validated config.
type Workspace struct {
	Root   string
	Config Config
}

// configPath returns the path to .lh/config.yaml for the given root.
func configPath(root string) string {
	return filepath.Join(root, ".lh", "config.yaml")
}

// applyDefaults fills in zero-valued config fields.
func applyDefaults(cfg *Config) {
	if cfg.Repo.Branch == "" {
		cfg.Repo.Branch = "main"
	}
	if cfg.Lock.Label == "" {
		cfg.Lock.Label = "agent-building"
	}
	if cfg.Lock.DoneLabel == "" {
		cfg.Lock.DoneLabel = "agent-complete"
	}
	if cfg.Lock.StaleTimeoutSecs == 0 {
		cfg.Lock.StaleTimeoutSecs = 7200
	}
	iv := &cfg.Intervals
	if iv.QueueCheckSecs == 0 {
		iv.QueueCheckSecs = 30
	}
	if iv.BacklogSyncSecs == 0 {
		iv.BacklogSyncSecs = 300
	}
	if iv.HeartbeatSecs == 0 {
		iv.HeartbeatSecs = 60
	}
	if iv.StaleCheckSecs == 0 {
		iv.StaleCheckSecs = 3600
	}
}

// Open reads .lh/config.yaml and returns a Workspace.
func Open(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(configPath(abs))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s is not a longhaul workspace (.lh/config.yaml not found)", abs)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf(".lh/config.yaml is malformed: %w", err)
	}
	applyDefaults(&cfg)
	return &Workspace{Root: abs, Config: cfg}, nil
}

// FindRoot walks up from dir until a .lh/config.yaml is found.
func FindRoot(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	for {
		if _, err := os.Stat(configPath(abs)); err == nil {
			return Open(abs)
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return nil, fmt.Errorf("no longhaul workspace found (.lh/config.yaml not found in %s or any parent)", dir)
		}
		abs = parent
	}
}

// Path helpers — all coordinator data lives under <root>/.lh/

func (ws *Workspace) LhDir() string      { return filepath.Join(ws.Root, ".lh") }
func (ws *Workspace) LogsDir() string    { return filepath.Join(ws.Root, ".lh", "logs") }
func (ws *Workspace) LedgersDir() string { return filepath.Join(ws.Root, ".lh", "ledgers") }

func (ws *Workspace) BacklogPath() string { return filepath.Join(ws.LhDir(), "backlog.json") }
func (ws *Workspace) SessionPath() string { return filepath.Join(ws.LhDir(), "session.json") }
func (ws *Workspace) DesiredPath() string { return filepath.Join(ws.LhDir(), "desired_state") }
func (ws *Workspace) QueuePath() string   { return filepath.Join(ws.LhDir(), "commits_to_announce") }
func (ws *Workspace) LogPath(id string) string {
	return filepath.Join(ws.LogsDir(), id+".log")
}

// LedgerPathFor returns the acceptance ledger for one backlog item. Each item
// owns its ledger; a finished item's ledger never bleeds into the next claim.
func (ws *Workspace) LedgerPathFor(itemID string) string {
	return filepath.Join(ws.LedgersDir(), itemID+".json")
}

// RepoSlug returns "owner/name" for comment links and API paths.
func (ws *Workspace) RepoSlug() string {
	return ws.Config.Repo.Owner + "/" + ws.Config.Repo.Name
}

// SaveConfig writes the config back to .lh/config.yaml.
func (ws *Workspace) SaveConfig() error {
	data, err := yaml.Marshal(ws.Config)
	if err != nil {
		return err
	}
	return AtomicWrite(configPath(ws.Root), data)
}

// AtomicWrite writes data to path atomically via temp file + rename.
func AtomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
