// Package ganttlinesdk is a small client for the Ganttline HTTP API.
package ganttlinesdk

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
)

// Client is a minimal Ganttline HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no credentials are set.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// Node is one entry of the work breakdown.
type Node struct {
	ID        string  `json:"id"`
	ProjectID string  `json:"project_id"`
	ParentID  *string `json:"parent_id"`
	Name      string  `json:"name"`
	Order     int     `json:"order"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

type TreeNode struct {
	ID            string      `json:"id"`
	ParentID      *string     `json:"parent_id,omitempty"`
	Name          string      `json:"name"`
	Order         int         `json:"order"`
	IsProjectRoot bool        `json:"is_project_root,omitempty"`
	Children      []*TreeNode `json:"children"`
}

type Move struct {
	Node     Node   `json:"node"`
	Case     string `json:"case"`
	NoOp     bool   `json:"noop"`
	Index    int    `json:"index"`
	Shifted  int    `json:"shifted"`
	Healed   int    `json:"healed"`
	Attempts int    `json:"attempts"`
}

type Deletion struct {
	NodeID        string   `json:"node_id"`
	Deleted       int      `json:"deleted"`
	DescendantIDs []string `json:"descendant_ids"`
	Compacted     int      `json:"compacted"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

func (c *Client) CreateProject(ctx context.Context, id, name string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, "v0/projects", map[string]any{"id": id, "name": name}, &resp)
	return resp, err
}

// ListTree returns the project's roots, optionally under the synthetic project root.
func (c *Client) ListTree(ctx context.Context, includeRoot bool) ([]*TreeNode, error) {
	var resp struct {
		Roots []*TreeNode `json:"roots"`
	}
	endpoint := c.projectPath("wbs")
	if includeRoot {
		endpoint += "?include_root=true"
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Roots, err
}

// AddNode appends a node under parentID; nil means root level.
func (c *Client) AddNode(ctx context.Context, parentID *string, name string) (Node, error) {
	body := map[string]any{"name": name}
	if parentID != nil {
		body["parent_id"] = *parentID
	}
	var resp Node
	err := c.do(ctx, http.MethodPost, c.projectPath("wbs-nodes"), body, &resp)
	return resp, err
}

func (c *Client) EditNode(ctx context.Context, id, name string) (Node, error) {
	var resp Node
	err := c.do(ctx, http.MethodPatch, "v0/wbs-nodes/"+url.PathEscape(id), map[string]any{"name": name}, &resp)
	return resp, err
}

// MoveNode places id at index among parentID's children.
func (c *Client) MoveNode(ctx context.Context, id string, parentID *string, index int) (Move, error) {
	body := map[string]any{
		"node_id":          id,
		"target_parent_id": parentID,
		"target_index":     index,
	}
	var resp Move
	err := c.do(ctx, http.MethodPut, "v0/wbs-nodes/move", body, &resp)
	return resp, err
}

func (c *Client) DeleteNode(ctx context.Context, id string) (Deletion, error) {
	var resp Deletion
	err := c.do(ctx, http.MethodDelete, "v0/wbs-nodes/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Events returns the latest events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	var resp struct {
		Items []Event `json:"items"`
	}
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	endpoint := c.projectPath("events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
