package space

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryOptimistic_SucceedsAfterLostRounds(t *testing.T) {
	calls := 0
	got, err := retryOptimistic(context.Background(), 5, time.Millisecond, func(context.Context) (int, bool, error) {
		calls++
		return calls, calls == 3, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, got)
	assert.Equal(t, 3, calls)
}

func TestRetryOptimistic_Exhausted(t *testing.T) {
	calls := 0
	_, err := retryOptimistic(context.Background(), 4, 0, func(context.Context) (string, bool, error) {
		calls++
		return "", false, nil
	})

	requireCode(t, err, ErrConflictExhausted)
	assert.Equal(t, 4, calls)
	assert.Contains(t, err.Error(), "after 4 retries")
}

func TestRetryOptimistic_ErrorAborts(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, err := retryOptimistic(context.Background(), 10, 0, func(context.Context) (int, bool, error) {
		calls++
		return 0, false, boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetryOptimistic_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := retryOptimistic(ctx, 10, time.Hour, func(context.Context) (int, bool, error) {
		return 0, false, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
}
