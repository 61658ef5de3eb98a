package ledgererr

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	retryInitialInterval = 5 * time.Millisecond
	retryMaxInterval     = 100 * time.Millisecond
)

// RetryOnConflict runs fn until it stops failing with ErrConcurrentModification
// or attempts are exhausted, sleeping a jittered, growing interval between
// attempts. fn must re-read whatever state it depends on.
func RetryOnConflict(ctx context.Context, attempts int, onRetry func(attempt int, err error), fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitialInterval
	policy.MaxInterval = retryMaxInterval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := fn(ctx)
		switch {
		case err == nil:
			return struct{}{}, nil
		case !errors.Is(err, ErrConcurrentModification):
			return struct{}{}, backoff.Permanent(err)
		case ctx.Err() != nil:
			return struct{}{}, backoff.Permanent(FromPersistence(ctx.Err()))
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, _ time.Duration) {
			if onRetry != nil {
				onRetry(attempt, err)
			}
		}),
	)
	if err != nil && KindOf(err) == KindUnknown && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		// deadline hit while waiting between attempts
		return FromPersistence(err)
	}
	return err
}
