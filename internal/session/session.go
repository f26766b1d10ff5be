package session

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/jawhnycooke/longhaul/internal/workspace"
)

// Session status values.
const (
	StatusRunning      = "running"
	StatusNeedsRestart = "needs_restart"
	StatusPaused       = "paused"
	StatusTerminated   = "terminated"
)

// State is the resumable coordinator state. It is written on every
// significant transition and read once at startup to decide fresh-start
// versus resume.
type State struct {
	SessionID     string `json:"session_id"`
	CurrentIssue  int    `json:"current_issue,omitempty"`
	BacklogItemID string `json:"backlog_item_id,omitempty"`
	Status        string `json:"status"`
	RestartCount  int    `json:"restart_count"`
	LastHeartbeat int64  `json:"last_heartbeat"`
	LastCommit    string `json:"last_commit,omitempty"`
	WorkingDir    string `json:"working_directory,omitempty"`
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return "s-" + uuid.NewString()
}

// Store persists session state and the desired-state control value as two
// separate files: the state document changes on every transition, while the
// desired state is a small externally-writable channel.
type Store struct {
	statePath   string
	desiredPath string
	now         func() time.Time
}

// NewStore returns a store over the given file paths.
func NewStore(statePath, desiredPath string) *Store {
	return &Store{statePath: statePath, desiredPath: desiredPath, now: time.Now}
}

// NewStoreWithClock is NewStore with an injected clock for tests.
func NewStoreWithClock(statePath, desiredPath string, now func() time.Time) *Store {
	return &Store{statePath: statePath, desiredPath: desiredPath, now: now}
}

// Write persists the state atomically (write-temp-then-rename), so a reader
// never observes a partial document. A zero heartbeat is stamped with now.
func (s *Store) Write(st *State) error {
	if st.LastHeartbeat == 0 {
		st.LastHeartbeat = s.now().Unix()
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return workspace.AtomicWrite(s.statePath, data)
}

// Read returns the persisted state, (nil, nil) when no state exists, or an
// error when the document is corrupt.
func (s *Store) Read() (*State, error) {
	data, err := os.ReadFile(s.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse session state %s: %w", s.statePath, err)
	}
	return &st, nil
}

// Heartbeat refreshes the state's last_heartbeat. Without persisted state it
// is a no-op; there is no session to keep alive yet.
func (s *Store) Heartbeat() error {
	st, err := s.Read()
	if err != nil {
		return err
	}
	if st == nil {
		return nil
	}
	st.LastHeartbeat = s.now().Unix()
	return s.Write(st)
}
