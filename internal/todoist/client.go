// Package todoist is the remote list client adapter: a thin, stateless
// gateway over the Todoist REST v2 API with retry/backoff and error
// normalization into the synerr taxonomy.
package todoist

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/shopsync/internal/logfields"
	"git.home.luguber.info/inful/shopsync/internal/retry"
	"git.home.luguber.info/inful/shopsync/internal/synerr"
)

const defaultBaseURL = "https://api.todoist.com/rest/v2"

// Item is a validated task row from the remote list.
type Item struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	SectionID string    `json:"section_id"`
	ParentID  string    `json:"parent_id"`
	CreatedAt time.Time `json:"created_at"`
	Completed bool      `json:"is_completed"`
}

// Section is a named subdivision of a project.
type Section struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
}

// Project identifies the remote list container.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Client talks to the Todoist API. It holds no list state; every call hits
// the remote.
type Client struct {
	baseURL string
	token   string
	policy  retry.Policy
	http    *http.Client
}

// New creates a client. An empty baseURL selects the production endpoint.
func New(token, baseURL string, policy retry.Policy) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		policy:  policy,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// ResolveProject finds the configured project: by id when given (falling
// back to name search when the id is stale), otherwise by name. A project
// that cannot be found is KindRemoteNotFound.
func (c *Client) ResolveProject(ctx context.Context, projectID, projectName string) (Project, error) {
	if projectID != "" {
		var p Project
		err := c.get(ctx, "/projects/"+url.PathEscape(projectID), &p)
		if err == nil {
			return p, nil
		}
		if synerr.KindOf(err) != synerr.KindRemoteNotFound {
			return Project{}, err
		}
		slog.Warn("Configured project id not found, falling back to name search",
			slog.String("project_id", projectID))
	}

	var projects []Project
	if err := c.get(ctx, "/projects", &projects); err != nil {
		return Project{}, err
	}
	for _, p := range projects {
		if p.Name == projectName {
			return p, nil
		}
	}
	return Project{}, synerr.Newf(synerr.KindRemoteNotFound, "project %q not found", projectName)
}

// FetchItems returns the project's items in API order, excluding completed
// tasks and sub-tasks (sub-tasks follow their parent and are never
// re-sectioned independently).
func (c *Client) FetchItems(ctx context.Context, projectID string) ([]Item, error) {
	var all []Item
	if err := c.get(ctx, "/tasks?project_id="+url.QueryEscape(projectID), &all); err != nil {
		return nil, err
	}
	items := all[:0]
	for _, it := range all {
		if it.Completed || it.ParentID != "" {
			continue
		}
		items = append(items, it)
	}
	return items, nil
}

// FetchSections lists the project's sections.
func (c *Client) FetchSections(ctx context.Context, projectID string) ([]Section, error) {
	var sections []Section
	if err := c.get(ctx, "/sections?project_id="+url.QueryEscape(projectID), &sections); err != nil {
		return nil, err
	}
	return sections, nil
}

// EnsureSection returns the id of the section with the given name, creating
// it when absent. Idempotent: repeated calls return the existing id.
func (c *Client) EnsureSection(ctx context.Context, projectID, name string) (string, error) {
	sections, err := c.FetchSections(ctx, projectID)
	if err != nil {
		return "", err
	}
	for _, s := range sections {
		if s.Name == name {
			return s.ID, nil
		}
	}

	slog.Info("Creating section", logfields.Section(name))
	var created Section
	err = c.post(ctx, "/sections", map[string]string{"project_id": projectID, "name": name}, &created)
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

// MoveItem places the item into the target section. Moving an item already
// there is a no-op. When the API rejects the move outright the adapter
// falls back to recreating the task inside the target section and deleting
// the original; the returned id is the item's id afterwards (which differs
// from the input only on that fallback path).
func (c *Client) MoveItem(ctx context.Context, item Item, projectID, sectionID string) (string, error) {
	if item.SectionID == sectionID {
		return item.ID, nil
	}

	err := c.post(ctx, "/tasks/"+url.PathEscape(item.ID)+"/move", map[string]string{"section_id": sectionID}, nil)
	if err == nil {
		return item.ID, nil
	}
	if synerr.KindOf(err) != synerr.KindRemoteNotFound {
		return "", err
	}

	// Some task states reject moves; recreate in place of the original.
	slog.Warn("Move rejected, recreating task in target section",
		logfields.ItemID(item.ID), logfields.Error(err))
	var created Item
	err = c.post(ctx, "/tasks", map[string]string{
		"content":    item.Content,
		"project_id": projectID,
		"section_id": sectionID,
	}, &created)
	if err != nil {
		return "", err
	}
	if err := c.DeleteItem(ctx, item.ID); err != nil {
		slog.Warn("Failed to delete original after recreate", logfields.ItemID(item.ID), logfields.Error(err))
	}
	return created.ID, nil
}

// DeleteItem removes an item. A missing id is success: deletions replayed
// after an interrupted cycle must not fail.
func (c *Client) DeleteItem(ctx context.Context, itemID string) error {
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(itemID), nil, nil)
	})
	if synerr.KindOf(err) == synerr.KindRemoteNotFound {
		return nil
	}
	return err
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.policy.Do(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, path, nil, out)
	})
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.policy.Do(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, path, body, out)
	})
}

// do issues a single request and normalizes the outcome into the synerr
// taxonomy. Retrying is the caller's concern (via the policy).
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return synerr.Wrap(synerr.KindConfig, "encode request", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return synerr.Wrap(synerr.KindConfig, "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		// Lets the API deduplicate a replayed mutation.
		req.Header.Set("X-Request-Id", uuid.NewString())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return synerr.Wrap(synerr.KindTransient, "todoist request", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return err
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return synerr.Wrap(synerr.KindTransient, "decode todoist response", err)
	}
	return nil
}

func classifyStatus(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}
	snippet := readSnippet(resp.Body)
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return synerr.Newf(synerr.KindRemoteAuth, "todoist rejected credentials (%d)", resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return synerr.Newf(synerr.KindRemoteNotFound, "todoist: %s", snippet)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return synerr.Newf(synerr.KindTransient, "todoist status %d: %s", resp.StatusCode, snippet)
	default:
		// Remaining 4xx: the request is unusable as-is. Treated like a
		// missing resource so moves take the recreate fallback.
		return synerr.Newf(synerr.KindRemoteNotFound, "todoist status %d: %s", resp.StatusCode, snippet)
	}
}

func readSnippet(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 256))
	s := strings.TrimSpace(string(data))
	if s == "" {
		return "(empty body)"
	}
	return s
}
