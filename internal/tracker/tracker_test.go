package tracker_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jawhnycooke/longhaul/internal/retry"
	"github.com/jawhnycooke/longhaul/internal/tracker"
)

// fakeTracker is a minimal in-memory issue API for tests.
type fakeTracker struct {
	mu       sync.Mutex
	labels   map[int][]string
	comments map[int][]string
	failures int // number of 500s to serve before succeeding
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		labels:   make(map[int][]string),
		comments: make(map[int][]string),
	}
}

func (f *fakeTracker) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/webapp/issues/7/labels", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failures > 0 {
			f.failures--
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		var body struct {
			Labels []string `json:"labels"`
		}
		json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck
		f.labels[7] = append(f.labels[7], body.Labels...)
		w.Write([]byte("[]")) //nolint:errcheck
	})
	mux.HandleFunc("/repos/acme/webapp/issues/7/labels/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		name := strings.TrimPrefix(r.URL.Path, "/repos/acme/webapp/issues/7/labels/")
		for i, l := range f.labels[7] {
			if l == name {
				f.labels[7] = append(f.labels[7][:i], f.labels[7][i+1:]...)
				w.Write([]byte("[]")) //nolint:errcheck
				return
			}
		}
		http.Error(w, `{"message":"Label does not exist"}`, http.StatusNotFound)
	})
	mux.HandleFunc("/repos/acme/webapp/issues/7/comments", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.Method == http.MethodPost {
			var body struct {
				Body string `json:"body"`
			}
			json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck
			f.comments[7] = append(f.comments[7], body.Body)
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte("{}")) //nolint:errcheck
			return
		}
		page := r.URL.Query().Get("page")
		var out []tracker.Comment
		if page == "" || page == "1" {
			for i, b := range f.comments[7] {
				out = append(out, tracker.Comment{ID: int64(i + 1), Body: b})
			}
		}
		json.NewEncoder(w).Encode(out) //nolint:errcheck
	})
	mux.HandleFunc("/repos/acme/webapp/issues", func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		var out []map[string]any
		if page == "" || page == "1" {
			out = []map[string]any{
				{"number": 7, "title": "fix login", "state": "open"},
				{"number": 8, "title": "a pr", "state": "open", "pull_request": map[string]any{}},
			}
		}
		json.NewEncoder(w).Encode(out) //nolint:errcheck
	})
	mux.HandleFunc("/repos/acme/webapp/issues/7/events", func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		var out []map[string]any
		if page == "" || page == "1" {
			out = []map[string]any{
				{"event": "labeled", "label": map[string]string{"name": "agent-building"}, "created_at": "2026-08-01T10:00:00Z"},
				{"event": "assigned"},
				{"event": "unlabeled", "label": map[string]string{"name": "agent-building"}, "created_at": "2026-08-01T11:00:00Z"},
			}
		}
		json.NewEncoder(w).Encode(out) //nolint:errcheck
	})
	return mux
}

// newClient starts a fake server and returns a client with fast retries.
func newClient(t *testing.T, f *fakeTracker) *tracker.Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	c := tracker.NewWithBaseURL("acme/webapp", "test-token", srv.URL)
	c.SetRetryPolicy(retry.Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Factor: 2.0})
	return c
}

func TestAddAndRemoveLabel(t *testing.T) {
	t.Parallel()
	f := newFakeTracker()
	c := newClient(t, f)
	ctx := context.Background()

	if err := c.AddLabel(ctx, 7, "agent-building"); err != nil {
		t.Fatalf("AddLabel: %v", err)
	}
	f.mu.Lock()
	got := len(f.labels[7])
	f.mu.Unlock()
	if got != 1 {
		t.Fatalf("labels = %d, want 1", got)
	}

	if err := c.RemoveLabel(ctx, 7, "agent-building"); err != nil {
		t.Fatalf("RemoveLabel: %v", err)
	}
	f.mu.Lock()
	got = len(f.labels[7])
	f.mu.Unlock()
	if got != 0 {
		t.Fatalf("labels = %d after remove, want 0", got)
	}
}

// Removing an absent label must not fail: release paths may run twice.
func TestRemoveLabelAlreadyGone(t *testing.T) {
	t.Parallel()
	c := newClient(t, newFakeTracker())
	if err := c.RemoveLabel(context.Background(), 7, "agent-building"); err != nil {
		t.Errorf("RemoveLabel on absent label: %v, want nil", err)
	}
}

func TestAddLabelRetriesTransient(t *testing.T) {
	t.Parallel()
	f := newFakeTracker()
	f.failures = 2
	c := newClient(t, f)

	if err := c.AddLabel(context.Background(), 7, "agent-building"); err != nil {
		t.Fatalf("AddLabel should succeed after transient failures: %v", err)
	}
}

func TestListOpenIssuesSkipsPullRequests(t *testing.T) {
	t.Parallel()
	c := newClient(t, newFakeTracker())
	issues, err := c.ListOpenIssues(context.Background())
	if err != nil {
		t.Fatalf("ListOpenIssues: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("got %d issues, want 1 (PR excluded)", len(issues))
	}
	if issues[0].Number != 7 || issues[0].Title != "fix login" {
		t.Errorf("issue = %+v", issues[0])
	}
}

func TestPostAndListComments(t *testing.T) {
	t.Parallel()
	c := newClient(t, newFakeTracker())
	ctx := context.Background()

	if err := c.PostComment(ctx, 7, "**Commits Pushed**"); err != nil {
		t.Fatalf("PostComment: %v", err)
	}
	comments, err := c.ListComments(ctx, 7)
	if err != nil {
		t.Fatalf("ListComments: %v", err)
	}
	if len(comments) != 1 || comments[0].Body != "**Commits Pushed**" {
		t.Errorf("comments = %+v", comments)
	}
}

func TestLabelEventsFiltersNonLabelEvents(t *testing.T) {
	t.Parallel()
	c := newClient(t, newFakeTracker())
	events, err := c.LabelEvents(context.Background(), 7)
	if err != nil {
		t.Fatalf("LabelEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Event != "labeled" || events[1].Event != "unlabeled" {
		t.Errorf("events = %+v", events)
	}
	if events[0].Label.Name != "agent-building" {
		t.Errorf("label = %q", events[0].Label.Name)
	}
}

func TestPermanentErrorNotRetried(t *testing.T) {
	t.Parallel()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, `{"message":"Bad credentials"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := tracker.NewWithBaseURL("acme/webapp", "bad", srv.URL)
	c.SetRetryPolicy(retry.Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Factor: 2.0})

	_, err := c.Issue(context.Background(), 7)
	if err == nil {
		t.Fatal("Issue should fail on 401")
	}
	if calls != 1 {
		t.Errorf("server called %d times, want 1 (401 is permanent)", calls)
	}
}

func TestHasLabel(t *testing.T) {
	t.Parallel()
	is := tracker.Issue{Labels: []tracker.Label{{Name: "bug"}, {Name: "agent-building"}}}
	if !is.HasLabel("agent-building") {
		t.Error("HasLabel(agent-building) = false, want true")
	}
	if is.HasLabel("agent-complete") {
		t.Error("HasLabel(agent-complete) = true, want false")
	}
}

func TestReactionsPagination(t *testing.T) {
	t.Parallel()
	// Serve exactly perPage (100) reactions on page 1 and 3 on page 2 to force
	// a second fetch.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		var out []tracker.Reaction
		switch page {
		case "", "1":
			for i := 0; i < 100; i++ {
				out = append(out, tracker.Reaction{Content: "+1", User: tracker.User{Login: fmt.Sprintf("u%d", i)}})
			}
		case "2":
			out = []tracker.Reaction{
				{Content: "rocket", User: tracker.User{Login: "alice"}},
				{Content: "+1", User: tracker.User{Login: "bob"}},
				{Content: "heart", User: tracker.User{Login: "carol"}},
			}
		}
		json.NewEncoder(w).Encode(out) //nolint:errcheck
	}))
	defer srv.Close()

	c := tracker.NewWithBaseURL("acme/webapp", "t", srv.URL)
	got, err := c.Reactions(context.Background(), 7)
	if err != nil {
		t.Fatalf("Reactions: %v", err)
	}
	if len(got) != 103 {
		t.Errorf("got %d reactions, want 103", len(got))
	}
}
