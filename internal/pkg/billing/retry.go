package billing

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// RetryPolicy bounds how often a transient store failure is retried.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetry waits 100ms, then 200ms, before giving up after the third try.
var DefaultRetry = RetryPolicy{Attempts: 3, Backoff: 100 * time.Millisecond}

// do runs fn until it succeeds, fails with anything other than
// ErrStoreUnavailable, runs out of attempts or ctx is done.
func (p RetryPolicy) do(ctx context.Context, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, ErrStoreUnavailable) || attempt == attempts {
			return err
		}

		wait := p.Backoff * time.Duration(attempt)
		log.Warnf("[Billing] store unavailable (attempt %d/%d), retrying in %s: %v", attempt, attempts, wait, err)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}
