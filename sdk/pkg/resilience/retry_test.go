package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryExhaustsExactlyMaxAttempts(t *testing.T) {
	r := NewBackoffRetry()
	calls := 0
	boom := errors.New("boom")

	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return boom
	}, "p-1", 3, time.Millisecond)

	assert.Equal(t, 3, calls)
	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, "p-1", exhausted.PartitionKey)
	assert.ErrorIs(t, err, boom)
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	r := NewBackoffRetry()
	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, "p-1", 5, time.Millisecond)

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPermanentStopsEarly(t *testing.T) {
	r := NewBackoffRetry()
	calls := 0
	cause := errors.New("no route")
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(cause)
	}, "p-1", 5, time.Millisecond)

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, cause)
	var exhausted *RetryExhaustedError
	assert.False(t, errors.As(err, &exhausted))
}

func TestRetryNonPositiveAttempts(t *testing.T) {
	r := NewBackoffRetry()
	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("x")
	}, "p", 0, time.Millisecond)
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryContextCanceled(t *testing.T) {
	r := NewBackoffRetry()
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := r.Execute(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("x")
	}, "p", 10, time.Second)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestPermanentHelpers(t *testing.T) {
	assert.Nil(t, Permanent(nil))
	assert.True(t, IsPermanent(Permanent(errors.New("x"))))
	assert.False(t, IsPermanent(errors.New("x")))
}
