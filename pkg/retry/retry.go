package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Defaults for the exponential policy applied to orchestrator API calls.
const (
	expoBase     = 1 * time.Second
	expoFactor   = 2.0
	expoMaxTries = 10
)

// Expo retries op with exponential backoff (base 1s, factor 2) up to 10
// attempts. Used for orchestrator API calls, where transient engine errors
// during deployment windows are routine.
func Expo[T any](ctx context.Context, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = expoBase
	b.Multiplier = expoFactor

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(expoMaxTries),
	)
}

// Fixed runs op up to attempts times with a constant delay between attempts,
// stopping early on success or context cancellation. The last error is
// returned when the budget is exhausted. The replSetReconfig window uses
// Fixed; the primary-election, admin-creation and config-gathering waits are
// loops around Sleep in their owning packages, each with its own budget.
func Fixed(ctx context.Context, attempts int, delay time.Duration, op func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if serr := Sleep(ctx, delay); serr != nil {
				return serr
			}
		}
		if err = op(); err == nil {
			return nil
		}
	}
	return err
}

// Sleep blocks for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
