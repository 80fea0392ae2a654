package rediscache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_GetSetDel(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	b, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), b)

	require.NoError(t, c.Del(ctx, "k"))
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisCache_GetMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())

	_, ok, err := c.Get(context.Background(), "absent")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRateLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr())

	ctx := context.Background()
	ok, n, retryAfter, err := rl.Allow(ctx, "rl:dev1:scan", 2, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)
	require.Greater(t, retryAfter, time.Duration(0))

	ok, n, _, _ = rl.Allow(ctx, "rl:dev1:scan", 2, time.Hour)
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	ok, n, retryAfter, _ = rl.Allow(ctx, "rl:dev1:scan", 2, time.Hour)
	require.False(t, ok)
	require.Equal(t, int64(3), n)
	require.LessOrEqual(t, retryAfter, time.Hour)
}

func TestRateLimiter_WindowNotProlonged(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr())

	ctx := context.Background()
	_, _, _, err := rl.Allow(ctx, "rl:dev2:scan", 10, time.Hour)
	require.NoError(t, err)

	// Инкременты внутри окна не должны двигать его границу.
	mr.FastForward(30 * time.Minute)
	_, _, retryAfter, err := rl.Allow(ctx, "rl:dev2:scan", 10, time.Hour)
	require.NoError(t, err)
	require.LessOrEqual(t, retryAfter, 30*time.Minute)
}
