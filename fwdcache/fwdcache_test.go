package fwdcache_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/go-secops/fwdcache"
)

// exercise runs the behaviour every Cache implementation shares.
func exercise(t *testing.T, c fwdcache.Cache) {
	t.Helper()
	ctx := context.Background()
	key := fwdcache.Key("projects/p/locations/us/instances/"+uuid.NewString(), "Wrapper-SDK-Forwarder")

	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "fresh key must miss")

	require.NoError(t, c.Set(ctx, key, "fwd-1"))
	id, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "fwd-1", id)

	require.NoError(t, c.Set(ctx, key, "fwd-2"))
	id, _, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "fwd-2", id)

	require.NoError(t, c.Delete(ctx, key))
	_, ok, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKey(t *testing.T) {
	assert.NotEqual(t,
		fwdcache.Key("projects/a", "f"),
		fwdcache.Key("projects/b", "f"))
	assert.NotEqual(t,
		fwdcache.Key("projects/a", "f1"),
		fwdcache.Key("projects/a", "f2"))
}

func TestMemory(t *testing.T) {
	t.Run("shared behaviour", func(t *testing.T) {
		exercise(t, fwdcache.NewMemory(0))
	})

	t.Run("entries expire", func(t *testing.T) {
		ctx := context.Background()
		m := fwdcache.NewMemory(20 * time.Millisecond)
		require.NoError(t, m.Set(ctx, "k", "fwd"))

		_, ok, _ := m.Get(ctx, "k")
		require.True(t, ok)

		time.Sleep(50 * time.Millisecond)
		_, ok, err := m.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestRedis(t *testing.T) {
	url := os.Getenv("SECOPS_TEST_REDIS_URL")
	if url == "" {
		t.Skip("SECOPS_TEST_REDIS_URL not set")
	}

	c, err := fwdcache.NewRedis(context.Background(), fwdcache.RedisConfig{URL: url, TTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	exercise(t, c)
}

func TestNewRedis_BadURL(t *testing.T) {
	_, err := fwdcache.NewRedis(context.Background(), fwdcache.RedisConfig{URL: "not a url"})
	require.Error(t, err)
}
