package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Init creates a new longhaul workspace at root for the given repo.
func Init(root string, cfg Config) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	// Check if already a workspace.
	if _, err := os.Stat(configPath(abs)); err == nil {
		return nil, fmt.Errorf("%s is already a longhaul workspace", abs)
	}

	dirs := []string{
		abs,
		filepath.Join(abs, ".lh"),
		filepath.Join(abs, ".lh", "logs"),
		filepath.Join(abs, ".lh", "ledgers"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", d, err)
		}
	}

	if cfg.Version == 0 {
		cfg.Version = 1
	}
	applyDefaults(&cfg)
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(configPath(abs), data, 0644); err != nil {
		return nil, err
	}

	return &Workspace{Root: abs, Config: cfg}, nil
}
