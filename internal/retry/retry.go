// Package retry provides the bounded exponential backoff shared by the
// backend client and the fetch utility.
package retry

import (
	"context"
	"net/http"
	"time"

	"kolibri/internal/utils"
)

// Policy bounds how often and how slowly an operation is retried.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultPolicy retries three times starting at two seconds.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second}
}

// Backoff returns the delay before retry number n (1-based).
func (p Policy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Transient reports whether a request error is worth another attempt:
// network failures, timeouts, 429 and 5xx. A 401 or a canceled request
// never is.
func Transient(err error) bool {
	if err == nil || utils.IsCanceled(err) {
		return false
	}
	apiErr, ok := utils.AsAPIError(err)
	if !ok {
		return true
	}
	switch {
	case apiErr.Status == http.StatusUnauthorized:
		return false
	case apiErr.Status == http.StatusRequestTimeout, apiErr.Status == http.StatusTooManyRequests:
		return true
	case apiErr.Status >= 500:
		return true
	}
	return false
}

// AnyButAuth retries every failure except 401 and cancellation.
func AnyButAuth(err error) bool {
	return err != nil && !utils.IsCanceled(err) && !utils.IsUnauthorized(err)
}

// Do runs op until it succeeds, shouldRetry rejects the error, the retry
// budget is spent, or ctx is done. onRetry, if set, is called before each
// wait.
func Do(ctx context.Context, p Policy, shouldRetry func(error) bool, onRetry func(attempt int, err error), op func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			if onRetry != nil {
				onRetry(attempt, lastErr)
			}
			timer := time.NewTimer(p.Backoff(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !shouldRetry(err) {
			return err
		}
	}
	return lastErr
}
