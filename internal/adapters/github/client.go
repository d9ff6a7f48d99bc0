// Package github implements the snapshot fetcher and commit resolver against the GitHub REST API.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/devion-industries/maintainer-brief/config"
	"github.com/devion-industries/maintainer-brief/internal/observability/statsd"
	"github.com/devion-industries/maintainer-brief/internal/retry"
)

const (
	userAgent  = "maintainer-brief/1.0"
	apiVersion = "2022-11-28"
	// maxErrorBody bounds how much of an error response is read for its message.
	maxErrorBody = 8 * 1024
)

// ErrNotFound is returned when GitHub answers 404.
var ErrNotFound = errors.New("github: not found")

// ClientOptions configures Client.
type ClientOptions struct {
	Config     config.GitHubConfig
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    statsd.Sink
	// Sleep overrides the wait between retries; tests use it to skip delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client talks to the GitHub REST API through a shared token bucket and the retry policy.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	policy  retry.Policy
	logger  *slog.Logger
	metrics statsd.Sink

	// fallback authenticates requests for repositories without an App installation.
	fallback oauth2.TokenSource
	app      *appAuth

	mu            sync.Mutex
	installations map[int64]oauth2.TokenSource
}

// NewClient constructs a Client.
func NewClient(opts ClientOptions) (*Client, error) {
	cfg := opts.Config
	cfg.Sanitize()

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		baseURL: cfg.APIURL,
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		policy: retry.Policy{
			MaxAttempts: cfg.RetryAttempts,
			BaseDelay:   cfg.RetryDelay,
			Multiplier:  2,
			MaxDelay:    30 * time.Second,
			Jitter:      0.1,
			Sleep:       opts.Sleep,
		},
		logger:        logger.With("component", "github_client"),
		metrics:       opts.Metrics,
		installations: make(map[int64]oauth2.TokenSource),
	}
	c.policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.logger.Warn("retrying github request", "attempt", attempt, "delay", delay, "error", err)
	}

	if tok := strings.TrimSpace(cfg.Token); tok != "" {
		c.fallback = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok, TokenType: "Bearer"})
	}
	if cfg.AppAuthEnabled() {
		app, err := newAppAuth(cfg.AppID, cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("github app auth: %w", err)
		}
		c.app = app
	}
	return c, nil
}

// tokenSource picks installation credentials when the repository has an installation and App auth
// is configured, otherwise the fallback token. A nil source sends unauthenticated requests.
func (c *Client) tokenSource(installationID *int64) oauth2.TokenSource {
	if installationID == nil || c.app == nil {
		return c.fallback
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.installations[*installationID]; ok {
		return ts
	}
	ts := oauth2.ReuseTokenSource(nil, &installationTokenSource{client: c, installationID: *installationID})
	c.installations[*installationID] = ts
	return ts
}

// getJSON issues a GET against path and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, ts oauth2.TokenSource, path string, query url.Values, out any) error {
	start := time.Now()
	err := retry.Do(ctx, c.policy, func(ctx context.Context, _ int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return c.send(ctx, request{method: http.MethodGet, path: path, query: query, ts: ts}, out)
	})
	c.emit(path, time.Since(start), err)
	return err
}

type request struct {
	method string
	path   string
	query  url.Values
	ts     oauth2.TokenSource
	bearer string
}

func (c *Client) send(ctx context.Context, r request, out any) error {
	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u, nil)
	if err != nil {
		return retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	switch {
	case r.bearer != "":
		req.Header.Set("Authorization", "Bearer "+r.bearer)
	case r.ts != nil:
		tok, err := r.ts.Token()
		if err != nil {
			return fmt.Errorf("github token: %w", err)
		}
		tok.SetAuthHeader(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("github %s %s: %w", r.method, r.path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return retry.Permanent(fmt.Errorf("decode github %s: %w", r.path, err))
	}
	return nil
}

// statusError converts a non-2xx response. Exhausted rate limits surface as "rate limit exceeded"
// so the retry policy treats them as transient.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &payload)
	msg := payload.Message

	if resp.StatusCode == http.StatusNotFound {
		return retry.Permanent(fmt.Errorf("%w: %s", ErrNotFound, resp.Request.URL.Path))
	}
	if (resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests) &&
		resp.Header.Get("X-RateLimit-Remaining") == "0" {
		msg = "rate limit exceeded"
		if reset, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
			msg += " (resets " + time.Unix(reset, 0).UTC().Format(time.RFC3339) + ")"
		}
	}
	return &retry.StatusError{Service: "github", StatusCode: resp.StatusCode, Message: msg}
}

func (c *Client) emit(path string, d time.Duration, err error) {
	if c.metrics == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	tags := map[string]string{"endpoint": endpointTag(path), "result": result}
	c.metrics.Count("github.request", 1, tags)
	c.metrics.Timing("github.request_duration", d, tags)
}

// endpointTag collapses a request path into a low-cardinality tag such as "repos.commits".
func endpointTag(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 4 && parts[0] == "repos" {
		return "repos." + parts[3]
	}
	if len(parts) == 3 && parts[0] == "repos" {
		return "repos.get"
	}
	if len(parts) > 0 {
		return parts[0]
	}
	return "unknown"
}
