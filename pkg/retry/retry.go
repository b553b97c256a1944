// Package retry provides a bounded exponential-backoff retry helper for
// idempotent operations. Order submission must never go through this path:
// a submit with uncertain delivery risks duplicate fills.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy defines how to retry an operation.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy is a sensible default for cancel and status calls.
var DefaultPolicy = Policy{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
}

// IsTransientFunc reports whether an error is transient and worth retrying.
type IsTransientFunc func(error) bool

// Do executes fn with retries according to the policy, sleeping a jittered
// backoff between attempts. The last error is returned when attempts are
// exhausted; non-transient errors return immediately.
func Do(ctx context.Context, policy Policy, isTransient IsTransientFunc, fn func() error) error {
	var err error
	backoff := policy.InitialBackoff

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if !isTransient(err) {
			return err
		}

		if attempt == policy.MaxAttempts-1 {
			break
		}

		// backoff + random(0, 50% of backoff)
		var jitter time.Duration
		if half := int64(backoff / 2); half > 0 {
			jitter = time.Duration(rand.Int63n(half))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff + jitter):
			backoff = min(backoff*2, policy.MaxBackoff)
		}
	}

	return err
}
