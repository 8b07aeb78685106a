package wheelhouse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"wheelhouse-etl/config"
	"wheelhouse-etl/utils"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 30 * time.Second
	defaultMaxPages    = 10000
	defaultUserAgent   = "wheelhouse-etl/1.0"
	maxErrorBody       = 512
)

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string

	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// RatePerSec caps outbound requests across every caller of the client;
	// zero or negative disables the cap.
	RatePerSec int
	Burst      int
	MaxPages   int
	UserAgent  string

	HTTPClient *http.Client
	Logger     *utils.Logger
	// Sleep overrides the backoff wait, mainly for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// OptionsFromConfig maps the application config onto client options.
func OptionsFromConfig(cfg *config.Config, logger *utils.Logger) Options {
	return Options{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Timeout:     cfg.HTTPTimeout,
		MaxAttempts: cfg.MaxRetries,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		RatePerSec:  cfg.RateLimitPerSec,
		Burst:       cfg.RateLimitBurst,
		MaxPages:    cfg.MaxPages,
		Logger:      logger,
	}
}

// Client talks to the Wheelhouse API. It is safe for concurrent use; the
// rate limiter and connection pool are shared by all callers.
type Client struct {
	baseURL   *url.URL
	apiKey    string
	userAgent string
	maxPages  int

	http    *http.Client
	limiter *rate.Limiter
	retry   *utils.RetryConfig
	logger  *utils.Logger
}

// New validates opts and returns a ready-to-use Client.
func New(opts Options) (*Client, error) {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		return nil, errors.New("wheelhouse: base URL is required")
	}
	parsed, err := url.Parse(strings.TrimRight(base, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("wheelhouse: invalid base URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("wheelhouse: invalid base URL %q: scheme must be http or https", base)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = defaultMaxDelay
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = defaultMaxPages
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Logger == nil {
		opts.Logger = utils.NewLogger()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 5 * time.Second,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	var limiter *rate.Limiter
	if opts.RatePerSec > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}

	return &Client{
		baseURL:   parsed,
		apiKey:    opts.APIKey,
		userAgent: opts.UserAgent,
		maxPages:  opts.MaxPages,
		http:      httpClient,
		limiter:   limiter,
		logger:    opts.Logger,
		retry: &utils.RetryConfig{
			MaxAttempts: opts.MaxAttempts,
			BaseDelay:   opts.BaseDelay,
			MaxDelay:    opts.MaxDelay,
			Retryable:   IsTransient,
			Logger:      opts.Logger,
			Sleep:       opts.Sleep,
		},
	}, nil
}

// Get fetches path (relative to the base URL) with the given query and
// returns the JSON body. Transient failures are retried.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	endpoint, err := c.buildURL(path, query)
	if err != nil {
		return nil, err
	}
	return c.getURL(ctx, endpoint)
}

// GetPaginated returns an iterator over every page served for path.
func (c *Client) GetPaginated(ctx context.Context, path string, query url.Values) *Pager {
	return newPager(ctx, c, path, query)
}

func (c *Client) getURL(ctx context.Context, endpoint *url.URL) (json.RawMessage, error) {
	var body []byte
	err := c.retry.Do(ctx, "GET "+endpoint.Path, func(attempt int) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		b, err := c.doRequest(ctx, endpoint, attempt)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) doRequest(ctx context.Context, endpoint *url.URL, attempt int) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("wheelhouse: read body: %w", err)
	}
	c.logger.Debug("[wheelhouse] GET %s -> %d (attempt %d, %v)",
		endpoint.Path, resp.StatusCode, attempt, time.Since(start).Round(time.Millisecond))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			URL:        endpoint.Path,
			Body:       snippet,
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w (GET %s)", ErrMalformedJSON, endpoint.Path)
	}
	return body, nil
}

func (c *Client) buildURL(path string, query url.Values) (*url.URL, error) {
	rel, err := url.Parse(strings.TrimLeft(path, "/"))
	if err != nil {
		return nil, fmt.Errorf("wheelhouse: invalid path %q: %w", path, err)
	}
	endpoint := c.baseURL.ResolveReference(rel)
	if len(query) > 0 {
		q := endpoint.Query()
		for key, values := range query {
			for _, value := range values {
				q.Add(key, value)
			}
		}
		endpoint.RawQuery = q.Encode()
	}
	return endpoint, nil
}

// resolve turns a "next" link from a page into an absolute URL on the
// API host.
func (c *Client) resolve(link string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return nil, fmt.Errorf("wheelhouse: invalid next link %q: %w", link, err)
	}
	next := c.baseURL.ResolveReference(ref)
	if !strings.EqualFold(next.Scheme, c.baseURL.Scheme) || !strings.EqualFold(next.Host, c.baseURL.Host) {
		return nil, fmt.Errorf("%w: %s://%s", ErrForeignLink, next.Scheme, next.Host)
	}
	return next, nil
}
