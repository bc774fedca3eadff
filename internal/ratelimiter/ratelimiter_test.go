package ratelimiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		perSecond uint
		burst     uint
		unlimited bool
	}{
		{name: "standard rate", perSecond: 100, burst: 200},
		{name: "zero burst", perSecond: 5, burst: 0},
		{name: "unlimited", perSecond: 0, burst: 0, unlimited: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.perSecond, tt.burst)
			require.NotNil(t, limiter)
			assert.Equal(t, tt.unlimited, limiter.Unlimited())
			assert.True(t, limiter.Allow(), "a fresh bucket grants a token")
		})
	}
}

func TestAllow(t *testing.T) {
	limiter := New(10, 10)

	for i := 0; i < 10; i++ {
		require.True(t, limiter.Allow(), "request %d is within burst", i)
	}
	assert.False(t, limiter.Allow(), "burst exhausted")

	time.Sleep(110 * time.Millisecond)
	assert.True(t, limiter.Allow(), "token replenished")
}

func TestWait(t *testing.T) {
	limiter := New(10, 1)
	ctx := context.Background()

	require.NoError(t, limiter.Wait(ctx))

	start := time.Now()
	require.NoError(t, limiter.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestWaitContextCancellation(t *testing.T) {
	limiter := New(1, 1)
	require.True(t, limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := limiter.Wait(ctx)
	require.Error(t, err)

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	err = New(1, 1).Wait(cancelled)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestWaitNCapsAtBurst(t *testing.T) {
	limiter := New(1000, 2)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, limiter.WaitN(ctx, 50))
}

func TestUnlimitedRate(t *testing.T) {
	limiter := New(0, 0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 10000; i++ {
		require.True(t, limiter.Allow())
	}
	require.NoError(t, limiter.WaitN(ctx, 500))
	assert.Less(t, time.Since(start), time.Second)
}

func BenchmarkAllow(b *testing.B) {
	limiter := New(0, 0)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		limiter.Allow()
	}
}
