package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	llmhttp "github.com/openreview/openreview/internal/adapter/llm/http"
)

const (
	providerName = "github"

	defaultBaseURL = "https://api.github.com"
	defaultTimeout = 30 * time.Second

	apiVersion = "2022-11-28"
)

// Client is an HTTP client for the subset of the GitHub REST API the
// review pipeline needs: diff retrieval and comment creation.
//
// Diff fetches and comment posts are deliberately not retried here; the
// pipeline only retries the LLM call, and a failed GitHub call maps
// directly to a failed or partially-published review.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     llmhttp.Logger
}

// NewClient creates a new GitHub API client with the given token.
// The token should be a personal access token or GITHUB_TOKEN from Actions.
func NewClient(token string) *Client {
	return &Client{
		token:      token,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// SetBaseURL sets a custom base URL (GitHub Enterprise, tests).
func (c *Client) SetBaseURL(url string) {
	c.baseURL = strings.TrimRight(url, "/")
}

// SetTimeout sets the HTTP timeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.httpClient.Timeout = timeout
}

// SetLogger attaches a structured logger.
func (c *Client) SetLogger(logger llmhttp.Logger) {
	c.logger = logger
}

// GetCommitDiff returns the unified diff for a single commit.
// A 404 or 422 response means GitHub has no diff for the target (empty
// commit, diff too large to render) and yields an empty string, not an
// error; the pipeline treats that as nothing to review.
func (c *Client) GetCommitDiff(ctx context.Context, repoFullName, sha string) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/commits/%s", c.baseURL, repoFullName, sha)
	return c.getDiff(ctx, url)
}

// GetPullRequestDiff returns the unified diff for a pull request.
// No-diff conditions are reported as an empty string, as for commits.
func (c *Client) GetPullRequestDiff(ctx context.Context, repoFullName string, number int) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/pulls/%d", c.baseURL, repoFullName, number)
	return c.getDiff(ctx, url)
}

func (c *Client) getDiff(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "application/vnd.github.diff")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", llmhttp.NewTransportError(providerName, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", llmhttp.NewTransportError(providerName, err.Error())
	}

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnprocessableEntity:
		// No diff available for this target.
		if c.logger != nil {
			c.logger.LogInfo(ctx, "no diff available", map[string]interface{}{
				"url":    url,
				"status": resp.StatusCode,
			})
		}
		return "", nil
	case resp.StatusCode >= 400:
		return "", llmhttp.FromStatusCode(providerName, resp.StatusCode, apiErrorMessage(body))
	}

	return string(body), nil
}

// PostCommitComment creates a comment on a commit and returns the new
// comment's id.
func (c *Client) PostCommitComment(ctx context.Context, repoFullName, sha, body string) (int64, error) {
	url := fmt.Sprintf("%s/repos/%s/commits/%s/comments", c.baseURL, repoFullName, sha)
	return c.postComment(ctx, url, body)
}

// PostPullRequestComment creates an issue comment on a pull request and
// returns the new comment's id.
func (c *Client) PostPullRequestComment(ctx context.Context, repoFullName string, number int, body string) (int64, error) {
	url := fmt.Sprintf("%s/repos/%s/issues/%d/comments", c.baseURL, repoFullName, number)
	return c.postComment(ctx, url, body)
}

func (c *Client) postComment(ctx context.Context, url, body string) (int64, error) {
	payload, err := json.Marshal(commentRequest{Body: body})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, llmhttp.NewTransportError(providerName, err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, llmhttp.NewTransportError(providerName, err.Error())
	}

	if resp.StatusCode >= 400 {
		return 0, llmhttp.FromStatusCode(providerName, resp.StatusCode, apiErrorMessage(respBody))
	}

	var created commentResponse
	if err := json.Unmarshal(respBody, &created); err != nil {
		return 0, fmt.Errorf("failed to parse response: %w", err)
	}

	return created.ID, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
}

// apiErrorMessage extracts the message field from a GitHub error body,
// falling back to empty so FromStatusCode supplies "HTTP <code>".
func apiErrorMessage(body []byte) string {
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err != nil {
		return ""
	}
	return apiErr.Message
}
