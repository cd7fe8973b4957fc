package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGet_NotFound(t *testing.T) {
	ctx := context.Background()
	cache, err := NewMemory[CacheTestDummy](time.Minute, 100)
	require.NoError(t, err)

	token, found, err := cache.Get(ctx, "nonexistent")

	assert.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, CacheTestDummy{}, token)
}

func TestMemorySetAndGet_Success(t *testing.T) {
	ctx := context.Background()
	cache, err := NewMemory[CacheTestDummy](time.Minute, 100)
	require.NoError(t, err)

	expectedToken := CacheTestDummy{Data: "testdata"}

	err = cache.Set(ctx, "test-key", expectedToken)
	require.NoError(t, err)

	token, found, err := cache.Get(ctx, "test-key")

	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, expectedToken, token)
}

func TestMemoryInvalidate_RemovesToken(t *testing.T) {
	ctx := context.Background()
	cache, err := NewMemory[CacheTestDummy](time.Minute, 100)
	require.NoError(t, err)

	dummy := CacheTestDummy{Data: "testdata"}

	err = cache.Set(ctx, "test-key", dummy)
	require.NoError(t, err)

	err = cache.Invalidate(ctx, "test-key")
	require.NoError(t, err)

	_, found, err := cache.Get(ctx, "test-key")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryTTLExpiry(t *testing.T) {
	ctx := context.Background()
	// Use very short TTL for testing
	cache, err := NewMemory[CacheTestDummy](100*time.Millisecond, 100)
	require.NoError(t, err)

	dummy := CacheTestDummy{Data: "testdata"}

	err = cache.Set(ctx, "test-key", dummy)
	require.NoError(t, err)

	// Verify token is present immediately
	_, found, err := cache.Get(ctx, "test-key")
	assert.NoError(t, err)
	assert.True(t, found)

	// Wait for TTL to expire
	time.Sleep(150 * time.Millisecond)

	// Verify token is no longer present
	_, found, err = cache.Get(ctx, "test-key")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryClose_DropsTokens(t *testing.T) {
	ctx := context.Background()
	cache, err := NewMemory[string](time.Minute, 100)
	require.NoError(t, err)

	require.NoError(t, cache.Set(ctx, "repository:library/nginx:pull", "first"))
	require.NoError(t, cache.Set(ctx, "repository:myorg/nginx:pull", "second"))

	err = cache.Close()
	require.NoError(t, err)

	_, found, err := cache.Get(ctx, "repository:library/nginx:pull")
	assert.NoError(t, err)
	assert.False(t, found)

	_, found, err = cache.Get(ctx, "repository:myorg/nginx:pull")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestMemorySet_OverwritesExisting(t *testing.T) {
	ctx := context.Background()
	cache, err := NewMemory[string](time.Minute, 100)
	require.NoError(t, err)

	require.NoError(t, cache.Set(ctx, "scope", "first"))
	require.NoError(t, cache.Set(ctx, "scope", "second"))

	token, found, err := cache.Get(ctx, "scope")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "second", token)
}

// CacheTestDummy is a simple struct used for testing the generic memory cache
// with a non-string value type.
type CacheTestDummy struct {
	Data string
}

type expiringDummy struct {
	Data     string
	lifetime time.Duration
}

func (d expiringDummy) Lifetime() time.Duration { return d.lifetime }

func TestMemoryExpiring_ShorterLifetimeWins(t *testing.T) {
	ctx := context.Background()
	cache, err := NewMemory[expiringDummy](time.Minute, 100)
	require.NoError(t, err)

	err = cache.Set(ctx, "short", expiringDummy{Data: "short", lifetime: 50 * time.Millisecond})
	require.NoError(t, err)
	err = cache.Set(ctx, "unset", expiringDummy{Data: "unset"})
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)

	_, found, err := cache.Get(ctx, "short")
	assert.NoError(t, err)
	assert.False(t, found, "value should expire at its own lifetime")

	_, found, err = cache.Get(ctx, "unset")
	assert.NoError(t, err)
	assert.True(t, found, "value without a lifetime should live for the cache TTL")
}

func TestLifetime(t *testing.T) {
	ttl := time.Minute

	assert.Equal(t, ttl, lifetime(CacheTestDummy{}, ttl))
	assert.Equal(t, ttl, lifetime(expiringDummy{lifetime: 0}, ttl))
	assert.Equal(t, ttl, lifetime(expiringDummy{lifetime: time.Hour}, ttl))
	assert.Equal(t, 10*time.Second, lifetime(expiringDummy{lifetime: 10 * time.Second}, ttl))
}
