package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Sternrassler/contractooor/pkg/retry"
)

// Response is a fully read successful response.
type Response struct {
	Body        []byte
	ContentType string
}

// GetBytes performs a GET guarded by the retrier and returns the whole body.
// Rate-limited and transient failures are retried; anything else surfaces
// immediately. A retryable failure that outlives the budget is returned
// wrapped with ErrRetryExhausted.
func GetBytes(ctx context.Context, c *Client, rawURL string, cfg retry.Config) (*Response, error) {
	if cfg.Retryable == nil {
		cfg.Retryable = Retryable
	}

	resp, err := retry.Do(ctx, cfg, func() (*Response, error) {
		return c.getOnce(ctx, rawURL)
	})
	if err != nil {
		return nil, exhausted(err, cfg)
	}
	return resp, nil
}

// GetJSON performs a GET guarded by the retrier and decodes the body into T.
// Decode failures are returned as *DecodeError and are never retried.
func GetJSON[T any](ctx context.Context, c *Client, rawURL string, cfg retry.Config) (T, error) {
	var out T

	resp, err := GetBytes(ctx, c, rawURL, cfg)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return out, &DecodeError{URL: rawURL, Err: err}
	}
	return out, nil
}

// FetchJSON performs exactly one GET and decodes the body into T. Callers that
// drive their own retrier (such as a paginator) use it instead of GetJSON.
func FetchJSON[T any](ctx context.Context, c *Client, rawURL string) (T, error) {
	var out T

	resp, err := c.getOnce(ctx, rawURL)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return out, &DecodeError{URL: rawURL, Err: err}
	}
	return out, nil
}

func (c *Client) getOnce(ctx context.Context, rawURL string) (*Response, error) {
	resp, err := c.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{URL: rawURL, Err: fmt.Errorf("read body: %w", err)}
	}
	return &Response{Body: body, ContentType: resp.Header.Get("Content-Type")}, nil
}

// exhausted marks a retryable terminal failure as RetryExhausted. Aborted
// retries and non-retryable failures are returned unchanged.
func exhausted(err error, cfg retry.Config) error {
	var aborted *retry.AbortedError
	if errors.As(err, &aborted) || !cfg.Retryable(err) {
		return err
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, cfg.MaxRetries+1, err)
}
