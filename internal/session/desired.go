package session

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jawhnycooke/longhaul/internal/workspace"
)

// Desired-state values. This is the cooperative control channel: an external
// writer sets it, the coordinator polls it between actions.
const (
	DesiredContinuous = "continuous"
	DesiredRunOnce    = "run_once"
	DesiredRunCleanup = "run_cleanup"
	DesiredPause      = "pause"
	DesiredTerminated = "terminated"
)

var validDesired = map[string]bool{
	DesiredContinuous: true,
	DesiredRunOnce:    true,
	DesiredRunCleanup: true,
	DesiredPause:      true,
	DesiredTerminated: true,
}

// SetDesired writes the control value. Unknown values are rejected rather
// than persisted, so the file on disk is always well-formed when we wrote it.
func (s *Store) SetDesired(v string) error {
	if !validDesired[v] {
		return fmt.Errorf("invalid desired state %q", v)
	}
	return workspace.AtomicWrite(s.desiredPath, []byte(v+"\n"))
}

// ReadDesired returns the control value. An absent file or an unrecognized
// value reads as pause: an ambiguous control channel must stop work, never
// continue it.
func (s *Store) ReadDesired() string {
	data, err := os.ReadFile(s.desiredPath)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("desired state unreadable, defaulting to pause", slog.Any("error", err))
		}
		return DesiredPause
	}
	v := strings.TrimSpace(string(data))
	if !validDesired[v] {
		slog.Warn("malformed desired state, defaulting to pause", slog.String("value", v))
		return DesiredPause
	}
	return v
}
