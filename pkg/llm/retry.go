package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryClient wraps a Client with exponential-backoff retries for
// transient failures. Non-transient errors fail immediately.
type RetryClient struct {
	inner      Client
	maxRetries int
	initDelay  time.Duration
}

// NewRetryClient wraps inner. maxRetries counts retries after the
// first attempt; zero disables retrying.
func NewRetryClient(inner Client, maxRetries int, initDelay time.Duration) *RetryClient {
	if initDelay <= 0 {
		initDelay = 500 * time.Millisecond
	}
	return &RetryClient{inner: inner, maxRetries: maxRetries, initDelay: initDelay}
}

// Generate implements Client.
func (r *RetryClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	var resp *Response

	operation := func() error {
		var err error
		resp, err = r.inner.Generate(ctx, req)
		if err == nil {
			return nil
		}
		if !r.inner.IsTransientError(err) {
			return backoff.Permanent(err)
		}
		slog.WarnContext(ctx, "Transient provider error, will retry",
			"provider", r.inner.Provider(), "error", err)
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.initDelay
	policy := backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(r.maxRetries)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return resp, nil
}

// Provider implements Client.
func (r *RetryClient) Provider() string { return r.inner.Provider() }

// IsTransientError implements Client.
func (r *RetryClient) IsTransientError(err error) bool {
	return r.inner.IsTransientError(err)
}
