package commits

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// QueueFile is the local handoff between the post-commit hook and the polling
// coordinator: the hook appends one SHA per line, the coordinator drains.
// Truncation happens only after a successful read, so a failed poll never
// loses queued SHAs.
type QueueFile struct {
	path string
}

// NewQueueFile returns a queue backed by the file at path.
func NewQueueFile(path string) QueueFile {
	return QueueFile{path: path}
}

// Path returns the backing file location (for hook installation).
func (q QueueFile) Path() string { return q.path }

// Append adds one SHA to the queue.
func (q QueueFile) Append(sha string) error {
	f, err := os.OpenFile(q.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, sha); err != nil {
		return fmt.Errorf("append to queue: %w", err)
	}
	return nil
}

// Drain returns all queued SHAs and truncates the file. A missing file reads
// as empty. Blank lines are skipped.
func (q QueueFile) Drain() ([]string, error) {
	data, err := os.ReadFile(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read queue: %w", err)
	}

	var shas []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			shas = append(shas, line)
		}
	}

	// Read succeeded; now it is safe to truncate.
	if err := os.Truncate(q.path, 0); err != nil {
		return nil, fmt.Errorf("truncate queue: %w", err)
	}
	return shas, nil
}

// hookScript pushes the new commit and hands its SHA to the queue file. The
// push happens in the hook so work survives even if the coordinator dies
// before its next flush.
const hookScript = `#!/bin/sh
# Installed by lh. Pushes each commit and queues its SHA for announcement.
sha=$(git rev-parse HEAD)
git push origin HEAD >/dev/null 2>&1 || true
echo "$sha" >> %q
`

// InstallHook writes a post-commit hook into gitDir (the repo's .git
// directory) that appends each new commit's SHA to the queue.
func (q QueueFile) InstallHook(gitDir string) error {
	hooksDir := filepath.Join(gitDir, "hooks")
	if err := os.MkdirAll(hooksDir, 0755); err != nil {
		return err
	}
	script := fmt.Sprintf(hookScript, q.path)
	return os.WriteFile(filepath.Join(hooksDir, "post-commit"), []byte(script), 0755)
}
