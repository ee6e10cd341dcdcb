package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitor-tracker/internal/common/errors"
	"visitor-tracker/internal/redis"
)

func setupLimiter(t *testing.T, window time.Duration) (*Limiter, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return NewLimiter(client, &Config{Window: window, Enabled: true}), mr
}

func TestLimiter_CheckLimit(t *testing.T) {
	ctx := context.Background()

	t.Run("allows up to the threshold", func(t *testing.T) {
		limiter, _ := setupLimiter(t, time.Minute)

		for i := 0; i < 5; i++ {
			quota, err := limiter.CheckLimit(ctx, "visitor-1", 5)
			require.NoError(t, err)
			assert.Equal(t, 5-(i+1), quota.Remaining)
		}
	})

	t.Run("sixth call in a window is rejected", func(t *testing.T) {
		limiter, _ := setupLimiter(t, time.Minute)

		for i := 0; i < 5; i++ {
			_, err := limiter.CheckLimit(ctx, "visitor-2", 5)
			require.NoError(t, err)
		}

		_, err := limiter.CheckLimit(ctx, "visitor-2", 5)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeRateLimit))
	})

	t.Run("counter resets after the window elapses", func(t *testing.T) {
		limiter, mr := setupLimiter(t, time.Second)

		for i := 0; i < 5; i++ {
			_, err := limiter.CheckLimit(ctx, "visitor-3", 5)
			require.NoError(t, err)
		}
		_, err := limiter.CheckLimit(ctx, "visitor-3", 5)
		require.Error(t, err)

		mr.FastForward(2 * time.Second)

		quota, err := limiter.CheckLimit(ctx, "visitor-3", 5)
		require.NoError(t, err)
		assert.Equal(t, 4, quota.Remaining)
	})

	t.Run("keys are isolated", func(t *testing.T) {
		limiter, _ := setupLimiter(t, time.Minute)

		for i := 0; i < 3; i++ {
			_, err := limiter.CheckLimit(ctx, "busy", 3)
			require.NoError(t, err)
		}
		_, err := limiter.CheckLimit(ctx, "busy", 3)
		require.Error(t, err)

		_, err = limiter.CheckLimit(ctx, "quiet", 3)
		assert.NoError(t, err)
	})

	t.Run("threshold varies per call on one window", func(t *testing.T) {
		limiter, _ := setupLimiter(t, time.Minute)

		// Two units consumed at the high threshold still block a
		// subsequent low-threshold check on the same key.
		_, err := limiter.CheckLimit(ctx, "shared", 100)
		require.NoError(t, err)
		_, err = limiter.CheckLimit(ctx, "shared", 100)
		require.NoError(t, err)

		_, err = limiter.CheckLimit(ctx, "shared", 2)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeRateLimit))
	})
}

func TestLimiter_Disabled(t *testing.T) {
	limiter := NewLimiter(nil, &Config{Window: time.Minute, Enabled: false})

	for i := 0; i < 10; i++ {
		quota, err := limiter.CheckLimit(context.Background(), "anyone", 2)
		require.NoError(t, err)
		assert.Equal(t, 2, quota.Remaining)
	}
}

func TestLimiter_BackendFailure(t *testing.T) {
	limiter := NewLimiter(failingBackend{}, &Config{Window: time.Minute, Enabled: true})

	_, err := limiter.CheckLimit(context.Background(), "visitor", 5)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeTransientStore))
}

type failingBackend struct{}

func (failingBackend) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	return 0, fmt.Errorf("connection refused")
}
