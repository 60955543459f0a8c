// Package retry re-runs operations that failed with a retryable error (storage failures and
// lock timeouts) using exponential backoff. Every other error is returned at once.
package retry

import (
	"context"
	"github.com/eapache/go-resiliency/retrier"
	"restaurant-service/internal/apperr"
	"time"
)

type classifier struct{}

func (classifier) Classify(err error) retrier.Action {
	switch {
	case err == nil:
		return retrier.Succeed
	case apperr.IsRetryable(err):
		return retrier.Retry
	default:
		return retrier.Fail
	}
}

// Policy retries up to Attempts more times, starting at Backoff and doubling.
type Policy struct {
	Attempts int
	Backoff  time.Duration
}

func (p Policy) retrier() *retrier.Retrier {
	if p.Attempts <= 0 {
		return retrier.New(nil, classifier{})
	}
	return retrier.New(retrier.ExponentialBackoff(p.Attempts, p.Backoff), classifier{})
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the attempts run out.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return p.retrier().RunCtx(ctx, fn)
}

// Value is Do for functions that return a result.
func Value[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
