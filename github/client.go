package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"trafficlog/logger"
)

const perPage = 100

// ErrRateLimited is returned when the rate limit is still exhausted after
// waiting for a reset.
var ErrRateLimited = errors.New("github rate limit exceeded")

// RateLimit represents GitHub's rate limit information
type RateLimit struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// Client represents a GitHub API client
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    *url.URL
	maxRetries int
}

// RepoResponse carries the repository counters that are tracked
type RepoResponse struct {
	FullName        string `json:"full_name"`
	Name            string `json:"name"`
	Owner           Owner  `json:"owner"`
	ForksCount      int64  `json:"forks_count"`
	StargazersCount int64  `json:"stargazers_count"`
	Archived        bool   `json:"archived"`
}

type Owner struct {
	Login string `json:"login"`
}

// TrafficPoint is one day of clone or view traffic
type TrafficPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Count     int64     `json:"count"`
	Uniques   int64     `json:"uniques"`
}

type ClonesResponse struct {
	Count   int64          `json:"count"`
	Uniques int64          `json:"uniques"`
	Clones  []TrafficPoint `json:"clones"`
}

type ViewsResponse struct {
	Count   int64          `json:"count"`
	Uniques int64          `json:"uniques"`
	Views   []TrafficPoint `json:"views"`
}

type ReferrerResponse struct {
	Referrer string `json:"referrer"`
	Count    int64  `json:"count"`
	Uniques  int64  `json:"uniques"`
}

type PathResponse struct {
	Path    string `json:"path"`
	Title   string `json:"title"`
	Count   int64  `json:"count"`
	Uniques int64  `json:"uniques"`
}

func NewClient(token string) *Client {
	baseURL, _ := url.Parse("https://api.github.com")
	logger.Info("Initializing GitHub client", zap.String("base_url", baseURL.String()))
	return &Client{
		token: token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:    baseURL,
		maxRetries: 1,
	}
}

func (c *Client) FetchRepo(ctx context.Context, owner, name string) (*RepoResponse, error) {
	var repo RepoResponse
	if _, err := c.get(ctx, fmt.Sprintf("/repos/%s/%s", owner, name), nil, &repo); err != nil {
		return nil, fmt.Errorf("failed to fetch repository %s/%s: %w", owner, name, err)
	}
	return &repo, nil
}

// FetchClones returns the daily clone counts of the last two weeks
func (c *Client) FetchClones(ctx context.Context, owner, name string) (*ClonesResponse, error) {
	var clones ClonesResponse
	q := url.Values{"per": {"day"}}
	if _, err := c.get(ctx, fmt.Sprintf("/repos/%s/%s/traffic/clones", owner, name), q, &clones); err != nil {
		return nil, fmt.Errorf("failed to fetch clones for %s/%s: %w", owner, name, err)
	}
	return &clones, nil
}

// FetchViews returns the daily view counts of the last two weeks
func (c *Client) FetchViews(ctx context.Context, owner, name string) (*ViewsResponse, error) {
	var views ViewsResponse
	q := url.Values{"per": {"day"}}
	if _, err := c.get(ctx, fmt.Sprintf("/repos/%s/%s/traffic/views", owner, name), q, &views); err != nil {
		return nil, fmt.Errorf("failed to fetch views for %s/%s: %w", owner, name, err)
	}
	return &views, nil
}

func (c *Client) FetchReferrers(ctx context.Context, owner, name string) ([]ReferrerResponse, error) {
	var referrers []ReferrerResponse
	if _, err := c.get(ctx, fmt.Sprintf("/repos/%s/%s/traffic/popular/referrers", owner, name), nil, &referrers); err != nil {
		return nil, fmt.Errorf("failed to fetch referrers for %s/%s: %w", owner, name, err)
	}
	return referrers, nil
}

func (c *Client) FetchPaths(ctx context.Context, owner, name string) ([]PathResponse, error) {
	var paths []PathResponse
	if _, err := c.get(ctx, fmt.Sprintf("/repos/%s/%s/traffic/popular/paths", owner, name), nil, &paths); err != nil {
		return nil, fmt.Errorf("failed to fetch paths for %s/%s: %w", owner, name, err)
	}
	return paths, nil
}

// ListRepos lists every repository visible to the token owner, following
// pagination.
func (c *Client) ListRepos(ctx context.Context) ([]RepoResponse, error) {
	var all []RepoResponse
	page := 1

	for {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("per_page", strconv.Itoa(perPage))
		q.Set("affiliation", "owner,collaborator,organization_member")

		var repos []RepoResponse
		header, err := c.get(ctx, "/user/repos", q, &repos)
		if err != nil {
			return nil, fmt.Errorf("failed to list repositories: %w", err)
		}
		if len(repos) == 0 {
			break
		}
		all = append(all, repos...)

		if !containsNextPage(header.Get("Link")) {
			break
		}
		page++
	}

	logger.Info("Listed repositories", zap.Int("total_count", len(all)))
	return all, nil
}

// get performs an authenticated GET and decodes the JSON body into out.
// A rate-limited response is retried once the limit resets.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) (http.Header, error) {
	reqURL := c.baseURL.ResolveReference(&url.URL{Path: path, RawQuery: query.Encode()})

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", fmt.Sprintf("token %s", c.token))
		req.Header.Set("Accept", "application/vnd.github.v3+json")

		logger.Debug("GitHub request", zap.String("url", reqURL.String()), zap.Int("attempt", attempt))

		resp, err := c.httpClient.Do(req)
		if err != nil {
			logger.Error("GitHub request failed", zap.Error(err), zap.String("path", path))
			return nil, fmt.Errorf("request failed: %w", err)
		}

		if isRateLimited(resp) {
			resp.Body.Close()
			if attempt >= c.maxRetries {
				return nil, ErrRateLimited
			}
			if err := c.waitForReset(ctx, parseRateLimit(resp)); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			logger.Error("GitHub request failed",
				zap.Int("status_code", resp.StatusCode),
				zap.String("path", path))
			return nil, fmt.Errorf("status code %d", resp.StatusCode)
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return resp.Header, nil
	}
}

// parseRateLimit parses rate limit information from response headers
func parseRateLimit(resp *http.Response) RateLimit {
	limit, _ := strconv.Atoi(resp.Header.Get("X-RateLimit-Limit"))
	remaining, _ := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining"))
	reset, _ := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64)

	return RateLimit{
		Limit:     limit,
		Remaining: remaining,
		Reset:     time.Unix(reset, 0),
	}
}

func isRateLimited(resp *http.Response) bool {
	return (resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests) &&
		resp.Header.Get("X-RateLimit-Remaining") == "0"
}

// waitForReset blocks until the rate limit resets or ctx is done
func (c *Client) waitForReset(ctx context.Context, rl RateLimit) error {
	wait := time.Until(rl.Reset)
	if wait < 0 {
		wait = 0
	}
	logger.Info("Rate limit exceeded, waiting for reset",
		zap.Int("limit", rl.Limit),
		zap.Time("reset_time", rl.Reset),
		zap.Duration("wait_time", wait))

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("waiting for rate limit reset: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// containsNextPage checks if the Link header contains a next page
func containsNextPage(linkHeader string) bool {
	return strings.Contains(linkHeader, `rel="next"`)
}
