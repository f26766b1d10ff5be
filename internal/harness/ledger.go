package harness

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jawhnycooke/longhaul/internal/workspace"
)

// DefaultMaxRetries is how many attempts a task gets before it is exhausted.
const DefaultMaxRetries = 3

// TestTask is one verifiable unit of work in the ledger. A task is done when
// passes is true; retry_count only ever grows.
type TestTask struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Steps       []string `json:"steps,omitempty"`
	Passes      bool     `json:"passes"`
	RetryCount  int      `json:"retry_count"`
}

// Ledger persists the task list as a single JSON document. The agent edits
// the same file between attempts, so every read goes back to disk.
type Ledger struct {
	path string
}

func NewLedger(path string) *Ledger {
	return &Ledger{path: path}
}

func (l *Ledger) Path() string { return l.path }

// Load reads the ledger. A missing file is an empty ledger; a corrupt file is
// an error, because silently dropping tasks would make the run look complete.
func (l *Ledger) Load() ([]*TestTask, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var tasks []*TestTask
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("malformed ledger %s: %w", l.path, err)
	}
	return tasks, nil
}

// Save atomically rewrites the whole ledger.
func (l *Ledger) Save(tasks []*TestTask) error {
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return err
	}
	return workspace.AtomicWrite(l.path, data)
}

// Get returns the task with the given ID, or nil.
func Get(tasks []*TestTask, id string) *TestTask {
	for _, t := range tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}
