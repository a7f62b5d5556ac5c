// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/qtrader/internal/config"
)

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewRedisCache(context.Background(), config.RedisConfig{Addr: mr.Addr()}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func TestRedisCache_SetGet(t *testing.T) {
	mr, c := setupMiniRedis(t)
	ctx := context.Background()

	c.Set(ctx, "dashboard", []byte(`{"type":"dashboard_update"}`), 5*time.Minute)
	val, ok := c.Get(ctx, "dashboard")
	require.True(t, ok)
	assert.JSONEq(t, `{"type":"dashboard_update"}`, string(val))

	assert.True(t, mr.Exists(KeyPrefix+"dashboard"))
	assert.Equal(t, 5*time.Minute, mr.TTL(KeyPrefix+"dashboard"))

	_, ok = c.Get(ctx, "missing")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, "redis", stats.Backend)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.Equal(t, 1, stats.CurrentSize)
}

func TestRedisCache_Expiration(t *testing.T) {
	mr, c := setupMiniRedis(t)
	ctx := context.Background()

	c.Set(ctx, "k", []byte("1"), time.Second)
	mr.FastForward(2 * time.Second)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestRedisCache_ClearKeepsForeignKeys(t *testing.T) {
	mr, c := setupMiniRedis(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("other:key", "x"))
	c.Set(ctx, "a", []byte("1"), time.Minute)
	c.Set(ctx, "b", []byte("2"), time.Minute)
	c.Delete(ctx, "a")
	assert.False(t, mr.Exists(KeyPrefix+"a"))

	c.Clear(ctx)
	assert.False(t, mr.Exists(KeyPrefix+"b"))
	assert.True(t, mr.Exists("other:key"))
}

func TestRedisCache_PublishAndPing(t *testing.T) {
	mr, c := setupMiniRedis(t)
	ctx := context.Background()

	// The subscriber channel is unbuffered, so it is drained before publishing.
	sub := mr.NewSubscriber()
	sub.Subscribe("qtrader:dashboard")
	got := make(chan string, 1)
	go func() {
		if msg, ok := <-sub.Messages(); ok {
			got <- msg.Message
		}
	}()
	defer func() {
		sub.Unsubscribe("qtrader:dashboard")
		sub.Close()
	}()
	assert.Equal(t, map[string]int{"qtrader:dashboard": 1}, mr.PubSubNumSub("qtrader:dashboard"))

	require.NoError(t, c.Publish(ctx, "qtrader:dashboard", []byte("snap")))
	select {
	case msg := <-got:
		assert.Equal(t, "snap", msg)
	case <-time.After(time.Second):
		t.Fatal("no message published")
	}

	require.NoError(t, c.Ping(ctx))
	mr.Close()
	assert.Error(t, c.Ping(ctx))
}

func TestNewRedisCache_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisCache(context.Background(), config.RedisConfig{Addr: addr}, zerolog.Nop())
	assert.Error(t, err)
}
