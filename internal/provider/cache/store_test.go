package cache_test

import (
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"marketdata/internal/provider/cache"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})
	return client, server
}

func TestRedisStore_SetAndGet(t *testing.T) {
	client, server := newTestRedis(t)
	store := cache.NewRedisStore(client, "test")

	ttl := 5 * time.Minute
	require.NoError(t, store.Set(t.Context(), "yahoo:quote:AAPL", []byte(`{"ok":true}`), ttl))

	got, ok, err := store.Get(t.Context(), "yahoo:quote:AAPL")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"ok":true}`, string(got))

	remaining := server.TTL("test:yahoo:quote:AAPL")
	require.True(t, remaining > 0 && remaining <= ttl, "unexpected ttl %v", remaining)
}

func TestRedisStore_MissAndExpiry(t *testing.T) {
	client, server := newTestRedis(t)
	store := cache.NewRedisStore(client, "")

	_, ok, err := store.Get(t.Context(), "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set(t.Context(), "k", []byte("v"), time.Second))
	server.FastForward(2 * time.Second)
	_, ok, err = store.Get(t.Context(), "k")
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, server.Exists("marketdata:body:k"))
}

func TestRedisStore_NonPositiveTTLIsSkipped(t *testing.T) {
	client, server := newTestRedis(t)
	store := cache.NewRedisStore(client, "p")

	require.NoError(t, store.Set(t.Context(), "k", []byte("v"), 0))
	require.False(t, server.Exists("p:k"))
}

func TestDialRedis(t *testing.T) {
	_, server := newTestRedis(t)

	client, err := cache.DialRedis(t.Context(), server.Addr(), "", 0)
	require.NoError(t, err)
	require.NoError(t, client.Close())

	server.Close()
	_, err = cache.DialRedis(t.Context(), server.Addr(), "", 0)
	require.Error(t, err)
}
