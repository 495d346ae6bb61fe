package orchestrator

import (
	"context"
	"math/rand"
	"time"

	"github.com/forestshield/core/internal/errs"
)

// RetryPolicy is the per-task-invoking-state retry policy from spec
// §4.5: exponential backoff with jitter, bounded by MaxAttempts (the
// delay itself has no ceiling), applied only to retriable error kinds.
type RetryPolicy struct {
	MaxAttempts     int
	InitialBackoff  time.Duration
	Multiplier      float64
	JitterFraction  float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.2,
	}
}

// withRetry runs fn up to policy.MaxAttempts times, backing off between
// attempts. Non-retriable error kinds (validation, fatal, not-found)
// abort immediately — only Transient and Conflict are worth a retry.
func withRetry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	delay := policy.InitialBackoff
	var err error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !errs.KindOf(err).Retriable() {
			return err
		}
		if attempt == policy.MaxAttempts {
			break
		}
		jitter := time.Duration(rand.Float64() * policy.JitterFraction * float64(delay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay = time.Duration(float64(delay) * policy.Multiplier)
	}
	return err
}
