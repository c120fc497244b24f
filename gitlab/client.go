// Package gitlab provides the HTTP client for the hosted-git API backing
// released sites: project and namespace lookup, project creation, CI
// variables, commits, and merge requests.
package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultDelay is the minimum gap between consecutive outbound requests.
const DefaultDelay = 600 * time.Millisecond

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 30 * time.Second

// ErrProjectExists indicates InitProject found an existing project with the
// requested name.
var ErrProjectExists = errors.New("project already exists")

// ErrNamespaceNotFound indicates the configured namespace does not exist.
var ErrNamespaceNotFound = errors.New("namespace not found")

// APIError represents a non-success response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

// Error returns a human-readable error message.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gitlab: %s (status %d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("gitlab: %s", http.StatusText(e.StatusCode))
}

// MergeRequest is the subset of merge-request fields the engine reports.
type MergeRequest struct {
	IID          int    `json:"iid"`
	Title        string `json:"title"`
	State        string `json:"state"`
	SourceBranch string `json:"source_branch"`
	TargetBranch string `json:"target_branch"`
	WebURL       string `json:"web_url"`
}

// Options configures a Client.
type Options struct {
	// BaseURL is the API host, e.g. https://gitlab.example.com.
	BaseURL string
	// Token is sent as a Bearer authorization header.
	Token string
	// Namespace is the namespace new projects are created under.
	Namespace string
	// Delay overrides the request throttle gap. Defaults to DefaultDelay.
	Delay time.Duration
	// HTTPClient overrides the underlying HTTP client.
	HTTPClient *http.Client
	// Logger defaults to log.Default().
	Logger *log.Logger
}

// Client is the hosted-git API client. All requests pass through a shared
// throttle preserving FIFO order.
type Client struct {
	baseURL    string
	token      string
	namespace  string
	httpClient *http.Client
	throttle   *throttle
	logger     *log.Logger
}

// New creates a Client.
func New(opts Options) *Client {
	delay := opts.Delay
	if delay == 0 {
		delay = DefaultDelay
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		baseURL:    opts.BaseURL,
		token:      opts.Token,
		namespace:  opts.Namespace,
		httpClient: httpClient,
		throttle:   newThrottle(delay),
		logger:     logger,
	}
}

// Namespace returns the configured namespace.
func (c *Client) Namespace() string {
	return c.namespace
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if err := c.throttle.wait(ctx); err != nil {
		return err
	}

	endpoint := c.baseURL + "/api/v4" + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(data))}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// NamespaceID resolves a namespace name to its id.
func (c *Client) NamespaceID(ctx context.Context, name string) (int, error) {
	var namespaces []struct {
		ID   int    `json:"id"`
		Path string `json:"path"`
	}
	query := url.Values{"search": {name}}
	if err := c.do(ctx, http.MethodGet, "/namespaces", query, nil, &namespaces); err != nil {
		return 0, err
	}
	for _, ns := range namespaces {
		if ns.Path == name {
			return ns.ID, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrNamespaceNotFound, name)
}

// ProjectID resolves a namespaced project path ("group/name") to its id.
// The second return is false when no such project exists.
func (c *Client) ProjectID(ctx context.Context, path string) (int, bool, error) {
	var project struct {
		ID int `json:"id"`
	}
	err := c.do(ctx, http.MethodGet, "/projects/"+url.PathEscape(path), nil, nil, &project)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return 0, false, nil
		}
		return 0, false, err
	}
	return project.ID, true, nil
}

// Project holds the fields returned on project creation.
type Project struct {
	ID     int    `json:"id"`
	SSHURL string `json:"ssh_url_to_repo"`
}

// CreateProject creates a private project in the given namespace.
func (c *Client) CreateProject(ctx context.Context, name string, namespaceID int, defaultBranch string) (Project, error) {
	body := map[string]any{
		"name":           name,
		"namespace_id":   namespaceID,
		"default_branch": defaultBranch,
		"visibility":     "private",
	}
	var project Project
	if err := c.do(ctx, http.MethodPost, "/projects", nil, body, &project); err != nil {
		return Project{}, err
	}
	return project, nil
}

// SetProjectVariable sets a file-type CI variable on the project.
func (c *Client) SetProjectVariable(ctx context.Context, projectID int, key, value string) error {
	body := map[string]any{
		"key":           key,
		"value":         value,
		"variable_type": "file",
	}
	return c.do(ctx, http.MethodPost, "/projects/"+strconv.Itoa(projectID)+"/variables", nil, body, nil)
}

// CreateInitialCommit seeds an empty commit on the branch so that the
// default ref exists before the first push.
func (c *Client) CreateInitialCommit(ctx context.Context, projectID int, branch string) error {
	body := map[string]any{
		"branch":         branch,
		"commit_message": "Initial commit",
		"actions":        []any{},
	}
	return c.do(ctx, http.MethodPost, "/projects/"+strconv.Itoa(projectID)+"/repository/commits", nil, body, nil)
}

// MergeRequests lists open merge requests for the project.
func (c *Client) MergeRequests(ctx context.Context, projectID int) ([]MergeRequest, error) {
	var out []MergeRequest
	query := url.Values{"state": {"opened"}}
	if err := c.do(ctx, http.MethodGet, "/projects/"+strconv.Itoa(projectID)+"/merge_requests", query, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateMergeRequest opens a merge request.
func (c *Client) CreateMergeRequest(ctx context.Context, projectID int, source, target, title string) (MergeRequest, error) {
	body := map[string]any{
		"source_branch": source,
		"target_branch": target,
		"title":         title,
	}
	var out MergeRequest
	if err := c.do(ctx, http.MethodPost, "/projects/"+strconv.Itoa(projectID)+"/merge_requests", nil, body, &out); err != nil {
		return MergeRequest{}, err
	}
	return out, nil
}

// InitProject creates a project for the site in the configured namespace,
// injects object-store credentials as CI variables, and seeds the initial
// commit. It returns the SSH remote URL. Fails with ErrProjectExists when a
// project with the name already exists.
func (c *Client) InitProject(ctx context.Context, name, defaultBranch string) (string, error) {
	namespaceID, err := c.NamespaceID(ctx, c.namespace)
	if err != nil {
		return "", err
	}

	if _, exists, err := c.ProjectID(ctx, c.namespace+"/"+name); err != nil {
		return "", err
	} else if exists {
		return "", fmt.Errorf("%w: %s/%s", ErrProjectExists, c.namespace, name)
	}

	project, err := c.CreateProject(ctx, name, namespaceID, defaultBranch)
	if err != nil {
		return "", err
	}

	for _, key := range []string{"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY"} {
		value := os.Getenv(key)
		if value == "" {
			c.logger.Warn("skipping CI variable, not set in environment", "key", key)
			continue
		}
		if err := c.SetProjectVariable(ctx, project.ID, key, value); err != nil {
			return "", err
		}
	}

	if err := c.CreateInitialCommit(ctx, project.ID, defaultBranch); err != nil {
		return "", err
	}

	c.logger.Info("initialized remote project", "name", name, "namespace", c.namespace)
	return project.SSHURL, nil
}
