// Package http provides the HTTP transport for Channel Plus interactions
// with built-in retry logic, request pacing, and error handling.
package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"chplus/retry"
)

// Client wraps an HTTP client with retry logic and rate limit handling.
// It is constructed once and passed down to the scraper and downloader,
// so connection pooling is shared and tests can inject a fake server URL.
type Client struct {
	base           *http.Client
	config         *Config
	pacer          *Pacer
	circuitBreaker *CircuitBreaker
}

// Config holds HTTP client configuration including retry and pacing settings.
type Config struct {
	// Timeout for individual HTTP requests
	Timeout time.Duration

	// Retry configuration used by Get/Do
	Retry retry.Config

	// User agent for HTTP requests
	UserAgent string

	// Referer sent with every request when the target host matches
	// RefererHost (empty RefererHost matches all hosts). The site serves
	// audio only with a same-site referer.
	Referer     string
	RefererHost string

	// Pacer configuration (inter-request delay)
	Pacer PacerConfig

	// Circuit breaker configuration
	CircuitBreaker CircuitBreakerConfig

	// Connection pool configuration
	Transport TransportConfig
}

// TransportConfig configures the HTTP transport (connection pooling).
type TransportConfig struct {
	// MaxIdleConns is the maximum number of idle connections across all hosts.
	// Default: 20
	MaxIdleConns int

	// MaxIdleConnsPerHost is the maximum idle connections per host.
	// Default: 10
	MaxIdleConnsPerHost int

	// MaxConnsPerHost is the maximum concurrent connections per host.
	// Default: 20
	MaxConnsPerHost int

	// IdleConnTimeout is the maximum amount of time an idle connection can remain open.
	// Default: 90 seconds
	IdleConnTimeout time.Duration

	// ForceAttemptHTTP2 forces HTTP/2 for connections to servers that don't explicitly support it.
	// Default: true
	ForceAttemptHTTP2 bool
}

// defaultUserAgent mimics a standard browser; the site rejects obvious bots.
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// DefaultConfig returns sensible defaults for HTTP client configuration.
func DefaultConfig() *Config {
	cbConfig := DefaultCircuitBreakerConfig()
	cbConfig.IsTransientError = IsTransientHTTPError
	return &Config{
		Timeout:        300 * time.Second,
		Retry:          retry.DefaultConfig(),
		UserAgent:      defaultUserAgent,
		Pacer:          DefaultPacerConfig(),
		CircuitBreaker: cbConfig,
		Transport:      DefaultTransportConfig(),
	}
}

// DefaultTransportConfig returns sensible defaults for HTTP transport configuration.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
}

// New creates a new HTTP client with the given configuration.
func New(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.Transport.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Transport.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.Transport.MaxConnsPerHost,
		IdleConnTimeout:     cfg.Transport.IdleConnTimeout,
		ForceAttemptHTTP2:   cfg.Transport.ForceAttemptHTTP2,
	}

	base := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}

	return &Client{
		base:           base,
		config:         cfg,
		pacer:          NewPacer(cfg.Pacer),
		circuitBreaker: NewCircuitBreaker(cfg.CircuitBreaker),
	}
}

// Response represents an HTTP response with status code and body.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Get performs a GET request with retry logic.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, url, nil)
}

// GetOnce performs a single GET attempt without the client's retry loop.
// It still honors pacing, backoff state, and the circuit breaker, and
// returns the same typed errors as Do. Callers that drive their own retry
// policy (the download orchestrator) use this to keep attempt accounting
// in one place.
func (c *Client) GetOnce(ctx context.Context, url string) (*Response, error) {
	return c.doOnce(ctx, http.MethodGet, url, nil)
}

// Do performs an HTTP request with retry logic and rate limit handling.
// It automatically retries on transient failures and detects rate limiting.
func (c *Client) Do(ctx context.Context, method, urlStr string, headers map[string]string) (*Response, error) {
	var resp *Response

	err := retry.Do(ctx, c.config.Retry, c.isRetryableHTTPError, func(ctx context.Context) error {
		r, err := c.doOnce(ctx, method, urlStr, headers)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// doOnce performs one request attempt. The circuit breaker is consulted
// before the request and updated with the result; rate limit responses
// (429/503) update the pacer's backoff state so the next attempt waits.
func (c *Client) doOnce(ctx context.Context, method, urlStr string, headers map[string]string) (*Response, error) {
	host := hostOf(urlStr)

	// Fail fast if the circuit is open
	if err := c.circuitBreaker.Allow(host); err != nil {
		return nil, err
	}

	// Wait out any backoff from previous rate limit errors
	if err := c.pacer.WaitForBackoff(ctx, urlStr); err != nil {
		c.circuitBreaker.RecordFailure(host, err)
		return nil, err
	}

	// Wait for the pacing interval
	if err := c.pacer.Wait(ctx, urlStr); err != nil {
		c.circuitBreaker.RecordFailure(host, err)
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, nil)
	if err != nil {
		return nil, err
	}

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if c.config.Referer != "" && req.Header.Get("Referer") == "" {
		if c.config.RefererHost == "" || req.URL.Hostname() == c.config.RefererHost {
			req.Header.Set("Referer", c.config.Referer)
		}
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrRequestFailed, err)
		c.circuitBreaker.RecordFailure(host, wrapped)
		return nil, wrapped
	}
	defer resp.Body.Close()

	// Rate limiting (429) or temporary unavailability (503)
	if resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode == http.StatusServiceUnavailable {
		retryAfter := c.parseRetryAfter(resp.Header)

		recommendedBackoff := c.pacer.RecordRateLimitError(urlStr, retryAfter)
		if recommendedBackoff > retryAfter {
			retryAfter = recommendedBackoff
		}

		rateErr := &RateLimitError{
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter,
		}
		c.circuitBreaker.RecordFailure(host, rateErr)
		return nil, rateErr
	}

	// Non-2xx status codes
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		httpErr := &HTTPError{
			StatusCode: resp.StatusCode,
			Body:       bodyBytes,
		}
		c.circuitBreaker.RecordFailure(host, httpErr)
		return nil, httpErr
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		err = fmt.Errorf("read response body: %w", err)
		c.circuitBreaker.RecordFailure(host, err)
		return nil, err
	}

	// Record success to recover backoff and circuit breaker state
	c.pacer.RecordSuccess(urlStr)
	c.circuitBreaker.RecordSuccess(host)

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}

// isRetryableHTTPError determines if an HTTP error is retryable.
func (c *Client) isRetryableHTTPError(err error) bool {
	if !retry.IsRetryable(err) {
		return false
	}

	// Once the circuit opens, stop retrying and surface the failure
	if err == ErrCircuitOpen {
		return false
	}

	// Rate limit errors are retryable
	if _, ok := err.(*RateLimitError); ok {
		return true
	}

	// HTTP errors are retryable only for 5xx
	if httpErr, ok := err.(*HTTPError); ok {
		return httpErr.StatusCode >= 500
	}

	return true
}

// parseRetryAfter extracts the Retry-After header value.
// Returns the duration to wait, or 0 if not present.
func (c *Client) parseRetryAfter(header http.Header) time.Duration {
	retryAfter := header.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(retryAfter); err == nil {
		return time.Until(t)
	}

	return 0
}

// Close closes the HTTP client connections and releases all resources.
func (c *Client) Close() error {
	if c.base != nil && c.base.Transport != nil {
		c.base.CloseIdleConnections()
	}
	return nil
}

// hostOf extracts the hostname from a URL string for circuit tracking.
func hostOf(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Hostname()
}
