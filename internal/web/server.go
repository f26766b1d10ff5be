package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jawhnycooke/longhaul/internal/backlog"
	"github.com/jawhnycooke/longhaul/internal/logbuf"
	"github.com/jawhnycooke/longhaul/internal/session"
	"github.com/jawhnycooke/longhaul/internal/workspace"
)

// itemJSON is the JSON representation of a backlog item for the dashboard.
type itemJSON struct {
	ID        string `json:"id"`
	Issue     int    `json:"issue"`
	Title     string `json:"title"`
	Priority  string `json:"priority"`
	Status    string `json:"status"`
	Votes     int    `json:"votes"`
	Completed bool   `json:"completed"`
}

// statusJSON is the full status payload sent to the dashboard.
type statusJSON struct {
	Repo          string         `json:"repo"`
	Session       *session.State `json:"session"`
	Desired       string         `json:"desired_state"`
	CurrentItem   *itemJSON      `json:"current_item,omitempty"`
	Backlog       []itemJSON     `json:"backlog"`
	Summary       map[string]int `json:"summary"`
	QueuedCommits int            `json:"queued_commits"`
	UpdatedAt     int64          `json:"updated_at"`
}

// Server holds the HTTP server state. The dashboard is strictly read-only;
// control goes through the CLI and the desired-state file.
type Server struct {
	ws  *workspace.Workspace
	buf *logbuf.Buffer
}

// buildStatusJSON reads the workspace documents and builds the payload.
func buildStatusJSON(ws *workspace.Workspace) *statusJSON {
	payload := &statusJSON{
		Repo:      ws.RepoSlug(),
		Summary:   make(map[string]int),
		UpdatedAt: time.Now().Unix(),
	}

	sessions := session.NewStore(ws.SessionPath(), ws.DesiredPath())
	st, err := sessions.Read()
	if err != nil {
		slog.Warn("dashboard: session state unreadable", slog.Any("error", err))
	}
	payload.Session = st
	payload.Desired = sessions.ReadDesired()

	items, err := backlog.NewStore(ws.BacklogPath()).Load()
	if err != nil {
		slog.Warn("dashboard: backlog unreadable", slog.Any("error", err))
	}
	for _, it := range items {
		j := itemJSON{
			ID:        it.ID,
			Issue:     it.Issue,
			Title:     it.Title,
			Priority:  it.Priority,
			Status:    it.Status,
			Votes:     it.VoteCount,
			Completed: it.Completed,
		}
		payload.Backlog = append(payload.Backlog, j)
		payload.Summary[it.Status]++
		if st != nil && st.BacklogItemID == it.ID {
			cur := j
			payload.CurrentItem = &cur
		}
	}

	payload.QueuedCommits = countQueuedCommits(ws.QueuePath())
	return payload
}

// countQueuedCommits peeks at the hook queue without truncating it; only the
// coordinator may drain.
func countQueuedCommits(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	n := 0
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

// Serve starts the HTTP dashboard on the given address.
// It shuts down gracefully when ctx is cancelled.
func Serve(ctx context.Context, ws *workspace.Workspace, addr string, buf *logbuf.Buffer) error {
	srv := &Server{ws: ws, buf: buf}

	mux := http.NewServeMux()
	mux.HandleFunc("/", srv.handleIndex)
	mux.HandleFunc("/api/status", srv.handleAPIStatus)
	mux.HandleFunc("/api/logs", srv.handleAPILogs)

	httpSrv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown failed", slog.Any("error", err))
		}
	}()

	slog.Info("dashboard listening", slog.String("addr", addr))
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// handleIndex serves the embedded HTML dashboard.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(dashboardHTML))
}

// handleAPIStatus returns the current status as JSON.
func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	data, err := json.Marshal(buildStatusJSON(s.ws))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(data)
}

// handleAPILogs returns the buffered log lines as a JSON array.
func (s *Server) handleAPILogs(w http.ResponseWriter, r *http.Request) {
	var lines []string
	if s.buf != nil {
		lines = s.buf.Lines()
	}
	if lines == nil {
		lines = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	json.NewEncoder(w).Encode(lines) //nolint:errcheck
}
