// Package transport provides the rate-limit-aware HTTP client used by every
// metadata-pulling flow. One call to Do performs exactly one request; retries
// belong to the retry package and are layered on top by GetJSON and GetBytes.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/contractooor/pkg/logging"
	"github.com/Sternrassler/contractooor/pkg/ratelimit"
	"github.com/Sternrassler/contractooor/pkg/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for transport operations.
var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contractooor_http_requests_total",
		Help: "Total HTTP requests by host and status",
	}, []string{"host", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "contractooor_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds by host",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"host"})

	rateLimitWaitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contractooor_rate_limit_waits_total",
		Help: "Total number of server-directed rate limit waits by host",
	}, []string{"host"})

	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "contractooor_rate_limit_wait_seconds",
		Help:    "Duration of server-directed rate limit waits",
		Buckets: []float64{1, 2, 5, 10, 30, 60},
	})
)

// maxErrorBody bounds how much of a failed response body is kept on StatusError.
const maxErrorBody = 512

// Config holds the client configuration.
type Config struct {
	// Timeout bounds a single request.
	Timeout time.Duration

	// UserAgent is sent with every request when set.
	UserAgent string

	// Headers are static headers sent with every request (e.g. X-API-KEY).
	Headers map[string]string
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:   30 * time.Second,
		UserAgent: "contractooor/0.1.0",
	}
}

// Client performs single HTTP requests and converts 429 responses into a
// cooperative wait followed by a RateLimitedError.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client (for testing).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithSleep replaces the rate-limit wait (for testing).
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		c.sleep = sleep
	}
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a new transport client.
func New(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	c := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		config:     cfg,
		logger:     logging.NewLogger("transport"),
		sleep:      retry.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do performs exactly one HTTP request.
//
// A 2xx response is returned to the caller, who owns the body. A 429 response
// makes Do sleep for the Retry-After hint plus ratelimit.SafetyMargin and then
// fail with *RateLimitedError. Any other status fails with *StatusError and
// network failures with *TransientError.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	host := req.URL.Host
	target := req.URL.Redacted()

	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	for key, value := range c.config.Headers {
		req.Header.Set(key, value)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	httpRequestDuration.WithLabelValues(host).Observe(time.Since(startTime).Seconds())
	if err != nil {
		httpRequestsTotal.WithLabelValues(host, "network_error").Inc()
		c.logger.Debug().Err(err).Str("url", target).Msg("HTTP request failed")
		return nil, &TransientError{URL: target, Err: err}
	}
	httpRequestsTotal.WithLabelValues(host, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	if signal := ratelimit.FromResponse(resp); signal.Limited {
		drain(resp)
		wait := signal.Wait()

		c.logger.Warn().
			Str("url", target).
			Dur("retry_after", signal.RetryAfter).
			Dur("wait", wait).
			Msg("Rate limited, waiting before retry")
		rateLimitWaitsTotal.WithLabelValues(host).Inc()
		rateLimitWaitSeconds.Observe(wait.Seconds())

		if err := c.sleep(ctx, wait); err != nil {
			return nil, fmt.Errorf("rate limit wait for %s: %w", target, err)
		}
		return nil, &RateLimitedError{URL: target, RetryAfter: signal.RetryAfter, Waited: wait}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	drain(resp)

	c.logger.Warn().
		Str("url", target).
		Int("status", resp.StatusCode).
		Msg("HTTP request error")

	return nil, &StatusError{
		URL:        target,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header.Clone(),
		Body:       body,
	}
}

// Get performs one GET request.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.Do(ctx, req)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
