// Package poll provides the one bounded wait loop every DOM stage uses.
// A poll runs at most maxAttempts iterations, so the worst case per stage
// is attempts times interval and no wait is unbounded.
package poll

import (
	"context"
	"time"
)

// Until calls fn up to maxAttempts times, interval apart, until fn reports
// done. It returns (true, nil) on success, (false, nil) when the budget is
// exhausted, and (false, err) when fn fails or the context is cancelled.
func Until(ctx context.Context, interval time.Duration, maxAttempts int, fn func(context.Context) (bool, error)) (bool, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		done, err := fn(ctx)
		if err != nil {
			return false, err
		}
		if done {
			return true, nil
		}

		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(interval):
		}
	}

	return false, nil
}
