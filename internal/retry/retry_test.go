package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func always(error) bool { return true }

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	var waits []time.Duration
	err := Do(context.Background(), Policy{Base: time.Millisecond, MaxAttempts: 5}, always,
		func(context.Context) error {
			calls++
			if calls < 3 {
				return errFlaky
			}
			return nil
		},
		func(_ error, d time.Duration) { waits = append(waits, d) })
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, waits)
}

func TestDo_Exhausted(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Base: time.Millisecond, MaxAttempts: 3}, always,
		func(context.Context) error {
			calls++
			return errFlaky
		}, nil)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 4, calls)
}

func TestDo_NotRetryable(t *testing.T) {
	errFatal := errors.New("fatal")
	calls := 0
	err := Do(context.Background(), Policy{Base: time.Millisecond, MaxAttempts: 5},
		func(err error) bool { return errors.Is(err, errFlaky) },
		func(context.Context) error {
			calls++
			return errFatal
		}, nil)
	assert.ErrorIs(t, err, errFatal)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, Policy{Base: time.Hour, MaxAttempts: 5}, always,
		func(context.Context) error { return errFlaky }, nil)
	require.Error(t, err)
}

func TestValue(t *testing.T) {
	calls := 0
	v, err := Value(context.Background(), Policy{Base: time.Millisecond, MaxAttempts: 2}, always,
		func(context.Context) (string, error) {
			calls++
			if calls == 1 {
				return "", errFlaky
			}
			return "ok", nil
		}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}
