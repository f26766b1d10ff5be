package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jawhnycooke/longhaul/internal/retry"
)

const defaultBaseURL = "https://api.github.com"

// perPage is the page size for list endpoints.
const perPage = 100

// Client is a REST client for a GitHub-style issue tracker.
type Client struct {
	repo       string // "owner/name"
	token      string
	baseURL    string
	httpClient *http.Client
	policy     retry.Policy
}

// New creates a client for the given "owner/name" repository.
func New(repo, token string) *Client {
	return NewWithBaseURL(repo, token, defaultBaseURL)
}

// NewWithBaseURL creates a client against a non-default API endpoint
// (GitHub Enterprise, or a test server).
func NewWithBaseURL(repo, token, baseURL string) *Client {
	return &Client{
		repo:    repo,
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		policy: retry.Default(),
	}
}

// SetRetryPolicy overrides the default backoff policy.
func (c *Client) SetRetryPolicy(p retry.Policy) { c.policy = p }

// User is the author of a reaction or comment.
type User struct {
	Login string `json:"login"`
}

// Label is a tracker label attached to an issue.
type Label struct {
	Name string `json:"name"`
}

// Issue is one tracker work item.
type Issue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	State     string    `json:"state"`
	Labels    []Label   `json:"labels"`
	CreatedAt time.Time `json:"created_at"`
}

// HasLabel reports whether the issue carries the named label.
func (is *Issue) HasLabel(name string) bool {
	for _, l := range is.Labels {
		if l.Name == name {
			return true
		}
	}
	return false
}

// Comment is one issue comment.
type Comment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Reaction is one per-user reaction on an issue.
type Reaction struct {
	Content string `json:"content"` // "+1", "rocket", "hooray", ...
	User    User   `json:"user"`
}

// LabelEvent is one entry from the issue's label-change history.
type LabelEvent struct {
	Event     string    `json:"event"` // "labeled" or "unlabeled"
	Label     Label     `json:"label"`
	CreatedAt time.Time `json:"created_at"`
}

// do executes one API request with retry on transient failures, decoding the
// response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	op := method + " " + path
	return c.policy.Do(ctx, op, func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return retry.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= 400 {
			return &retry.StatusError{Code: resp.StatusCode, Body: truncate(string(respBody), 200)}
		}
		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return retry.Permanent(fmt.Errorf("unmarshal response: %w", err))
			}
		}
		return nil
	})
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n]
	}
	return s
}

// issuePath returns the API path for one issue, with an optional suffix.
func (c *Client) issuePath(number int, suffix string) string {
	p := fmt.Sprintf("/repos/%s/issues/%d", c.repo, number)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

// ListOpenIssues returns all open issues, paginating until exhausted.
// Pull requests are excluded.
func (c *Client) ListOpenIssues(ctx context.Context) ([]Issue, error) {
	var all []Issue
	for page := 1; ; page++ {
		var batch []struct {
			Issue
			PullRequest *struct{} `json:"pull_request"`
		}
		path := fmt.Sprintf("/repos/%s/issues?state=open&per_page=%d&page=%d", c.repo, perPage, page)
		if err := c.do(ctx, http.MethodGet, path, nil, &batch); err != nil {
			return nil, err
		}
		for _, item := range batch {
			if item.PullRequest != nil {
				continue
			}
			all = append(all, item.Issue)
		}
		if len(batch) < perPage {
			break
		}
	}
	return all, nil
}

// Issue returns a single issue by number.
func (c *Client) Issue(ctx context.Context, number int) (*Issue, error) {
	var is Issue
	if err := c.do(ctx, http.MethodGet, c.issuePath(number, ""), nil, &is); err != nil {
		return nil, err
	}
	return &is, nil
}

// AddLabel attaches a label to an issue.
func (c *Client) AddLabel(ctx context.Context, number int, label string) error {
	body := map[string][]string{"labels": {label}}
	return c.do(ctx, http.MethodPost, c.issuePath(number, "labels"), body, nil)
}

// RemoveLabel detaches a label from an issue. A 404 (label already absent)
// is not an error: removal is idempotent so release paths can run twice.
func (c *Client) RemoveLabel(ctx context.Context, number int, label string) error {
	path := c.issuePath(number, "labels/"+url.PathEscape(label))
	err := c.do(ctx, http.MethodDelete, path, nil, nil)
	var se *retry.StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return nil
	}
	return err
}

// ListComments returns all comments on an issue in creation order.
func (c *Client) ListComments(ctx context.Context, number int) ([]Comment, error) {
	var all []Comment
	for page := 1; ; page++ {
		var batch []Comment
		path := fmt.Sprintf("%s?per_page=%d&page=%d", c.issuePath(number, "comments"), perPage, page)
		if err := c.do(ctx, http.MethodGet, path, nil, &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < perPage {
			break
		}
	}
	return all, nil
}

// PostComment adds a comment to an issue.
func (c *Client) PostComment(ctx context.Context, number int, body string) error {
	return c.do(ctx, http.MethodPost, c.issuePath(number, "comments"), map[string]string{"body": body}, nil)
}

// Reactions returns all per-user reactions on an issue.
func (c *Client) Reactions(ctx context.Context, number int) ([]Reaction, error) {
	var all []Reaction
	for page := 1; ; page++ {
		var batch []Reaction
		path := fmt.Sprintf("%s?per_page=%d&page=%d", c.issuePath(number, "reactions"), perPage, page)
		if err := c.do(ctx, http.MethodGet, path, nil, &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < perPage {
			break
		}
	}
	return all, nil
}

// LabelEvents returns the issue's label-change history, oldest first.
// Non-label events are filtered out.
func (c *Client) LabelEvents(ctx context.Context, number int) ([]LabelEvent, error) {
	var all []LabelEvent
	for page := 1; ; page++ {
		var batch []LabelEvent
		path := fmt.Sprintf("%s?per_page=%d&page=%d", c.issuePath(number, "events"), perPage, page)
		if err := c.do(ctx, http.MethodGet, path, nil, &batch); err != nil {
			return nil, err
		}
		for _, ev := range batch {
			if ev.Event == "labeled" || ev.Event == "unlabeled" {
				all = append(all, ev)
			}
		}
		if len(batch) < perPage {
			break
		}
	}
	return all, nil
}

// CloseIssue closes an issue.
func (c *Client) CloseIssue(ctx context.Context, number int) error {
	return c.do(ctx, http.MethodPatch, c.issuePath(number, ""), map[string]string{"state": "closed"}, nil)
}
