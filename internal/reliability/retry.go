// Package reliability provides bounded retries for persistence writes.
package reliability

import (
	"context"
	"errors"
	"time"

	"github.com/rcliao/chat-memory/internal/model"
)

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

// IsRetryable classifies errors worth another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, model.ErrStoreUnavailable) || errors.Is(err, model.ErrEmbeddingUnavailable)
}

// Policy bounds a retry loop.
type Policy struct {
	Retries int
	Base    time.Duration
	Cap     time.Duration
}

// DefaultPolicy retries twice starting at 50ms.
func DefaultPolicy() Policy {
	return Policy{Retries: 2, Base: 50 * time.Millisecond, Cap: time.Second}
}

// Retry runs fn until it succeeds, returns a non-retryable error, the
// retries are spent, or ctx is done. It returns the last error.
func Retry(ctx context.Context, p Policy, fn func(context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt >= p.Retries || !IsRetryable(err) {
			return err
		}
		t := time.NewTimer(ExponentialBackoff(attempt, p.Base, p.Cap))
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
}
