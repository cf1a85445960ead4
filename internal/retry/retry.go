// Package retry runs operations under a bounded exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retry loop. The n-th retry waits Base * 2^(n-1).
type Policy struct {
	Base        time.Duration
	MaxAttempts int // retries after the first call
}

// DefaultPolicy waits 2s, 4s, 8s, 16s and 32s before giving up.
var DefaultPolicy = Policy{Base: 2 * time.Second, MaxAttempts: 5}

// Retryable decides whether an error is worth another attempt.
type Retryable func(error) bool

// Notify is called before each wait with the failure that caused it.
type Notify func(err error, wait time.Duration)

func (p Policy) backOff(ctx context.Context) backoff.BackOffContext {
	if p.Base <= 0 {
		p.Base = DefaultPolicy.Base
	}
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.Base),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxInterval(p.Base<<p.MaxAttempts),
		backoff.WithMaxElapsedTime(0),
	)
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.MaxAttempts)), ctx)
}

// Do calls op until it succeeds, returns an error rejected by retryable,
// the policy is exhausted or ctx is done. The last error is returned.
func Do(ctx context.Context, p Policy, retryable Retryable, op func(context.Context) error, notify Notify) error {
	_, err := Value(ctx, p, retryable, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, notify)
	return err
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, p Policy, retryable Retryable, op func(context.Context) (T, error), notify Notify) (T, error) {
	wrapped := func() (T, error) {
		v, err := op(ctx)
		if err != nil && (retryable == nil || !retryable(err)) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	var n backoff.Notify
	if notify != nil {
		n = backoff.Notify(notify)
	}
	return backoff.RetryNotifyWithData(wrapped, p.backOff(ctx), n)
}
