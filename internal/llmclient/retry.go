package llmclient

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// defaultMaxRetryElapsed bounds the retry loop when the config leaves it unset.
const defaultMaxRetryElapsed = 20 * time.Second

func newBackoffFactory(maxElapsed time.Duration) func() backoff.BackOff {
	if maxElapsed <= 0 {
		maxElapsed = defaultMaxRetryElapsed
	}
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = maxElapsed
		b.MaxInterval = 5 * time.Second
		return b
	}
}

// isTransientStatus reports whether an HTTP status from a provider is worth retrying.
func isTransientStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError, http.StatusBadGateway:
		return true
	default:
		return false
	}
}

// isContextError reports whether err came from the caller's context rather
// than the provider. Those are never retried.
func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// retry runs op under b until it succeeds, returns a permanent error, or ctx ends.
func retry(ctx context.Context, b backoff.BackOff, op func() error) error {
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}
