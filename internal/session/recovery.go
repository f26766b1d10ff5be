package session

import (
	"log/slog"
)

// DefaultStaleThresholdSecs is how old a heartbeat may be before the previous
// session is presumed dead.
const DefaultStaleThresholdSecs int64 = 300

// Recover inspects persisted state at startup. A predecessor with a stale
// heartbeat is marked needs_restart with restart_count incremented, so the
// new session knows it is resuming rather than starting fresh. Corrupt state
// is logged and treated as absent; recovery must never block startup.
func (s *Store) Recover(staleThresholdSecs int64) *State {
	st, err := s.Read()
	if err != nil {
		slog.Warn("session state unreadable, starting fresh", slog.Any("error", err))
		return nil
	}
	if st == nil {
		return nil
	}
	if st.Status == StatusTerminated {
		return st
	}

	age := s.now().Unix() - st.LastHeartbeat
	if age > staleThresholdSecs {
		slog.Info("previous session stale, marking for restart",
			slog.String("session", st.SessionID),
			slog.Int64("heartbeat_age_secs", age),
			slog.Int("restart_count", st.RestartCount+1))
		st.Status = StatusNeedsRestart
		st.RestartCount++
		if err := s.Write(st); err != nil {
			slog.Warn("could not persist restart marker", slog.Any("error", err))
		}
	}
	return st
}
