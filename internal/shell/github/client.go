// Package github is a minimal client for the GitHub REST endpoints the
// deploy pipeline needs: latest commit lookup and push webhook management.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/R1ck404/mercel/internal/core/domain"
)

// DefaultBaseURL is the public GitHub API.
const DefaultBaseURL = "https://api.github.com"

// ErrNoCommits is returned when the branch has no commits.
var ErrNoCommits = errors.New("branch has no commits")

// Config holds GitHub client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client calls the GitHub REST API with a per-project access token.
type Client struct {
	baseURL string
	timeout time.Duration
	base    http.RoundTripper
	logger  *slog.Logger
}

// NewClient creates a new GitHub client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		timeout: timeout,
		base:    http.DefaultTransport,
		logger:  logger.With("component", "github"),
	}
}

// httpClient authenticates every request with token. An empty token makes
// anonymous requests, which only work for public repositories.
func (c *Client) httpClient(token string) *http.Client {
	if token == "" {
		return &http.Client{Timeout: c.timeout, Transport: c.base}
	}
	return &http.Client{
		Timeout: c.timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
			Base:   c.base,
		},
	}
}

func (c *Client) repoURL(fullName, suffix string) string {
	return c.baseURL + "/repos/" + fullName + suffix
}

func setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if req.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
}

// =============================================================================
// Commits
// =============================================================================

type commitResponse struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Name string `json:"name"`
		} `json:"author"`
	} `json:"commit"`
}

// LatestCommit returns the head commit of branch.
func (c *Client) LatestCommit(ctx context.Context, fullName, branch, token string) (domain.Revision, error) {
	q := url.Values{"per_page": {"1"}}
	if branch != "" {
		q.Set("sha", branch)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.repoURL(fullName, "/commits?"+q.Encode()), nil)
	if err != nil {
		return domain.Revision{}, fmt.Errorf("create request: %w", err)
	}
	setHeaders(req)

	resp, err := c.httpClient(token).Do(req)
	if err != nil {
		return domain.Revision{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return domain.Revision{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var commits []commitResponse
	if err := json.NewDecoder(resp.Body).Decode(&commits); err != nil {
		return domain.Revision{}, fmt.Errorf("decode response: %w", err)
	}
	if len(commits) == 0 {
		return domain.Revision{}, ErrNoCommits
	}

	head := commits[0]
	return domain.Revision{
		SHA:     head.SHA,
		Message: head.Commit.Message,
		Author:  head.Commit.Author.Name,
		Branch:  branch,
	}, nil
}

// =============================================================================
// Webhooks
// =============================================================================

type hookConfig struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Secret      string `json:"secret,omitempty"`
	InsecureSSL string `json:"insecure_ssl"`
}

type hookRequest struct {
	Name   string     `json:"name"`
	Active bool       `json:"active"`
	Events []string   `json:"events"`
	Config hookConfig `json:"config"`
}

type hookResponse struct {
	ID int64 `json:"id"`
}

// CreateWebhook registers a push webhook delivering to hookURL and returns its id.
func (c *Client) CreateWebhook(ctx context.Context, fullName, hookURL, secret, token string) (int64, error) {
	body, err := json.Marshal(hookRequest{
		Name:   "web",
		Active: true,
		Events: []string{"push"},
		Config: hookConfig{URL: hookURL, ContentType: "json", Secret: secret, InsecureSSL: "0"},
	})
	if err != nil {
		return 0, fmt.Errorf("marshal webhook: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.repoURL(fullName, "/hooks"), bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	setHeaders(req)

	resp, err := c.httpClient(token).Do(req)
	if err != nil {
		return 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result hookResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}

	c.logger.Info("webhook created", "repo", fullName, "webhook_id", result.ID)
	return result.ID, nil
}

// DeleteWebhook removes a webhook. A webhook that no longer exists is not an error.
func (c *Client) DeleteWebhook(ctx context.Context, fullName string, hookID int64, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.repoURL(fullName, fmt.Sprintf("/hooks/%d", hookID)), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	setHeaders(req)

	resp, err := c.httpClient(token).Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	c.logger.Info("webhook deleted", "repo", fullName, "webhook_id", hookID)
	return nil
}
