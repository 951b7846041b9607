// Package teamtailor is the transport client for the Teamtailor JSON:API:
// authenticated GETs, jittered exponential retry, link-following pagination
// and endpoint fallback.
package teamtailor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/jonathan/ats-sync/internal/jsonapi"
	"github.com/jonathan/ats-sync/internal/logging"
	"github.com/jonathan/ats-sync/internal/metrics"
)

const (
	// DefaultBaseURL is the production API root.
	DefaultBaseURL = "https://api.teamtailor.com/v1"
	// DefaultAPIVersion is sent as X-Api-Version.
	DefaultAPIVersion = "20240904"
	// DefaultUserAgent identifies the sync engine.
	DefaultUserAgent = "ats-sync/1.0"
	// DefaultTimeout bounds a single HTTP request.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxRetries is the retry ceiling for transient failures.
	DefaultMaxRetries = 5

	maxBodyBytes      = 32 << 20
	maxErrorBodyBytes = 64 << 10
	breakerName       = "teamtailor-api"
)

// Options configures the client.
type Options struct {
	APIKey     string
	BaseURL    string
	APIVersion string
	UserAgent  string
	Timeout    time.Duration
	// MaxRetries is the number of retries after the first attempt. Zero
	// disables retrying.
	MaxRetries int
	// BackoffUnit scales the rand(2^n, 2^n+1) delay. Defaults to one second.
	BackoffUnit time.Duration
	// RequestsPerSecond paces outgoing requests; zero disables pacing.
	RequestsPerSecond float64
	// ValidateResponses checks every body against the envelope schema.
	ValidateResponses bool
	// CircuitBreaker wraps requests in a circuit breaker.
	CircuitBreaker bool
	HTTPClient     *http.Client
}

// DefaultOptions returns production defaults without credentials.
func DefaultOptions() *Options {
	return &Options{
		BaseURL:           DefaultBaseURL,
		APIVersion:        DefaultAPIVersion,
		UserAgent:         DefaultUserAgent,
		Timeout:           DefaultTimeout,
		MaxRetries:        DefaultMaxRetries,
		BackoffUnit:       time.Second,
		RequestsPerSecond: 5,
		ValidateResponses: true,
		CircuitBreaker:    true,
	}
}

// Client performs requests against the provider API. Safe for concurrent use.
type Client struct {
	opts    Options
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
	jitter  func() float64
	sleep   func(context.Context, time.Duration) error
}

// NewClient validates opts and builds a client.
func NewClient(opts *Options) (*Client, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if strings.TrimSpace(o.APIKey) == "" {
		return nil, errors.New("teamtailor API key is required")
	}
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	if o.APIVersion == "" {
		o.APIVersion = DefaultAPIVersion
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.BackoffUnit <= 0 {
		o.BackoffUnit = time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}

	base, err := url.Parse(strings.TrimRight(o.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid teamtailor base URL %q", o.BaseURL)
	}

	httpClient := o.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: o.Timeout}
	}

	c := &Client{
		opts:   o,
		base:   base,
		http:   httpClient,
		jitter: rand.Float64,
		sleep:  sleepCtx,
	}
	if o.RequestsPerSecond > 0 {
		burst := int(o.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(o.RequestsPerSecond), burst)
	}
	if o.CircuitBreaker {
		c.breaker = newBreaker(breakerName)
	}
	return c, nil
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Get fetches one document. path may be relative to the base URL or absolute.
func (c *Client) Get(ctx context.Context, path string, params url.Values) (*jsonapi.Document, error) {
	u, err := c.resolve(path, params)
	if err != nil {
		return nil, err
	}
	return c.getURL(ctx, u)
}

// GetFirst tries each path in order; a 404 falls through to the next one.
// Returns the path that answered.
func (c *Client) GetFirst(ctx context.Context, paths []string, params url.Values) (*jsonapi.Document, string, error) {
	for _, path := range paths {
		doc, err := c.Get(ctx, path, params)
		if err == nil {
			return doc, path, nil
		}
		if !IsNotFound(err) {
			return nil, path, err
		}
		logging.Debug().Str("path", path).Msg("endpoint not found, trying next")
	}
	return nil, "", fmt.Errorf("%w: tried %s", ErrNotFound, strings.Join(paths, ", "))
}

// Paginate fetches pages starting at path and calls visit for each, following
// links.next until it is absent or visit returns jsonapi.Stop. params apply
// to the first request only; next links carry their own query.
func (c *Client) Paginate(ctx context.Context, path string, params url.Values, visit jsonapi.Visitor) error {
	next, err := c.resolve(path, params)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{})
	for next != "" {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, dup := seen[next]; dup {
			logging.Warn().Str("url", next).Msg("pagination loop detected, stopping")
			return nil
		}
		seen[next] = struct{}{}

		doc, err := c.getURL(ctx, next)
		if err != nil {
			return err
		}

		step, err := visit(doc)
		if err != nil {
			return err
		}
		if step == jsonapi.Stop || doc.Links.Next == "" {
			return nil
		}

		next, err = c.resolve(doc.Links.Next, nil)
		if err != nil {
			return err
		}
	}
	return nil
}

// PaginateFirst paginates the first path whose first page does not 404.
// Exhausting every path returns an error matching ErrNotFound.
func (c *Client) PaginateFirst(ctx context.Context, paths []string, params url.Values, visit jsonapi.Visitor) (string, error) {
	for _, path := range paths {
		started := false
		err := c.Paginate(ctx, path, params, func(doc *jsonapi.Document) (jsonapi.Step, error) {
			started = true
			return visit(doc)
		})
		if err == nil {
			return path, nil
		}
		if started || !IsNotFound(err) {
			return path, err
		}
		logging.Debug().Str("path", path).Msg("endpoint not found, trying next")
	}
	return "", fmt.Errorf("%w: tried %s", ErrNotFound, strings.Join(paths, ", "))
}

func (c *Client) getURL(ctx context.Context, u string) (*jsonapi.Document, error) {
	body, err := c.doWithRetry(ctx, u)
	if err != nil {
		return nil, err
	}
	if c.opts.ValidateResponses {
		if err := jsonapi.ValidateEnvelope(body); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrMalformedResponse, u, err)
		}
	}
	doc, err := jsonapi.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedResponse, u, err)
	}
	return doc, nil
}

// doWithRetry retries transient failures, sleeping rand(2^n, 2^n+1) backoff
// units where n counts the retries already made.
func (c *Client) doWithRetry(ctx context.Context, u string) ([]byte, error) {
	for retries := 0; ; retries++ {
		body, err := c.execute(ctx, u)
		if err == nil {
			return body, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !IsTransient(err) {
			return nil, err
		}
		if retries >= c.opts.MaxRetries {
			return nil, fmt.Errorf("%w after %d retries: %w", ErrRetriesExhausted, retries, err)
		}

		delay := c.backoffDelay(retries)
		metrics.APIRetries.WithLabelValues(retryReason(err)).Inc()
		logging.Warn().Err(err).Str("url", u).Int("retry", retries+1).Dur("delay", delay).Msg("retrying provider request")

		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (c *Client) backoffDelay(n int) time.Duration {
	base := float64(int64(1) << n)
	return time.Duration((base + c.jitter()) * float64(c.opts.BackoffUnit))
}

func (c *Client) execute(ctx context.Context, u string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if c.breaker == nil {
		return c.do(ctx, u)
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.do(ctx, u)
	})
	if IsCircuitOpen(err) {
		logging.Warn().Err(err).Str("url", u).Msg("[CIRCUIT BREAKER] request rejected")
	}
	return body, err
}

func (c *Client) do(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", u, err)
	}
	req.Header.Set("Authorization", "Token token="+c.opts.APIKey)
	req.Header.Set("X-Api-Version", c.opts.APIVersion)
	req.Header.Set("Accept", "application/vnd.api+json")
	req.Header.Set("Content-Type", "application/vnd.api+json")
	req.Header.Set("User-Agent", c.opts.UserAgent)

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveAPIRequest(0, started)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &Error{URL: u, Message: "HTTP request failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.ObserveAPIRequest(resp.StatusCode, started)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			Method:     http.MethodGet,
			URL:        u,
			StatusCode: resp.StatusCode,
			Body:       readBodyForError(resp.Body),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &Error{URL: u, Message: "failed to read response body", Cause: err}
	}
	return body, nil
}

// resolve turns a relative path, an absolute-path link or a full URL into a
// request URL, merging params into its query.
func (c *Client) resolve(path string, params url.Values) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid request path %q: %w", path, err)
	}

	var u *url.URL
	switch {
	case ref.IsAbs():
		u = ref
	case c.base.Path != "" && strings.HasPrefix(ref.Path, c.base.Path+"/"):
		u = c.base.ResolveReference(ref)
	default:
		joined := *c.base
		joined.Path = c.base.Path + "/" + strings.TrimLeft(ref.Path, "/")
		joined.RawQuery = ref.RawQuery
		u = &joined
	}

	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			q[k] = vs
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func readBodyForError(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, maxErrorBodyBytes))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func retryReason(err error) string {
	var apiErr *APIError
	switch {
	case IsRateLimited(err):
		return "rate_limited"
	case errors.As(err, &apiErr):
		return "server_error"
	default:
		return "transport"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
