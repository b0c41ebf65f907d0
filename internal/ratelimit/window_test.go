package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/surge/internal/clock"
	"github.com/smallbiznis/surge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowLimiter_AllowsUpToLimitPerWindow(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	limiter := NewWindowLimiter(clk)

	for i := 0; i < 3; i++ {
		res := limiter.Allow("k", 3, time.Minute)
		require.True(t, res.Allowed, "call %d", i)
		assert.Equal(t, 2-i, res.Remaining)
	}

	denied := limiter.Allow("k", 3, time.Minute)
	assert.False(t, denied.Allowed)
	assert.Equal(t, time.Minute, denied.RetryAfter)

	assert.True(t, limiter.Allow("other", 3, time.Minute).Allowed)

	clk.Advance(time.Minute)
	assert.True(t, limiter.Allow("k", 3, time.Minute).Allowed)
}

func TestPrepareLimiter_UsesPipelineConfig(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	holder := config.NewStaticPipelineConfig(config.PipelineConfig{PrepareLimit: 2, PrepareWindow: 30 * time.Second})
	limiter := NewPrepareLimiter(nil, NewWindowLimiter(clk), holder)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := limiter.Allow(ctx, "actor-1")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := limiter.Allow(ctx, "actor-1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	res, err = limiter.Allow(ctx, "actor-2")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	_, err = limiter.Allow(ctx, " ")
	assert.Error(t, err)
}

func TestBuildGuard_InProcess(t *testing.T) {
	guard := NewBuildGuard(nil, time.Minute)
	ctx := context.Background()

	release, ok, err := guard.Acquire(ctx, 1, 2)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = guard.Acquire(ctx, 1, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = guard.Acquire(ctx, 1, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	release()
	release()

	_, ok, err = guard.Acquire(ctx, 1, 2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBuildGuard_ConcurrentAcquireAdmitsOne(t *testing.T) {
	guard := NewBuildGuard(nil, time.Minute)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, _ := guard.Acquire(ctx, 9, 9)
			if ok {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, admitted)
}
