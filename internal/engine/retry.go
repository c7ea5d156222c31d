package engine

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig controls retry behavior.
type RetryConfig struct {
	MaxTries    uint
	InitialWait time.Duration
	MaxWait     time.Duration
	MaxElapsed  time.Duration
}

// DefaultRetryConfig is suitable for media downloads.
var DefaultRetryConfig = RetryConfig{
	MaxTries:    3,
	InitialWait: 1 * time.Second,
	MaxWait:     10 * time.Second,
	MaxElapsed:  30 * time.Second,
}

// Retry runs op with exponential backoff. op marks non-retryable failures with
// backoff.Permanent; context cancellation stops retries immediately.
func Retry[T any](ctx context.Context, rc RetryConfig, op func() (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = rc.InitialWait
	bo.MaxInterval = rc.MaxWait

	opts := []backoff.RetryOption{backoff.WithBackOff(bo)}
	if rc.MaxTries > 0 {
		opts = append(opts, backoff.WithMaxTries(rc.MaxTries))
	}
	if rc.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(rc.MaxElapsed))
	}
	return backoff.Retry(ctx, op, opts...)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// HTTPStatusError reports an unexpected HTTP status.
type HTTPStatusError struct {
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return "unexpected status " + http.StatusText(e.StatusCode)
}

// IsRetryableStatus returns true for HTTP status codes worth retrying.
func IsRetryableStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// IsRetryableError returns true for transient transport errors worth retrying.
func IsRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return IsRetryableStatus(httpErr.StatusCode)
	}

	// Connection errors (dial failures, connection refused, etc.)
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
