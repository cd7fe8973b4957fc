package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter/v2"
)

// Expiring is implemented by cached values that carry their own lifetime,
// such as tokens whose issuer announces an expiry. A value expires at the
// earlier of its own lifetime and the cache TTL.
type Expiring interface {
	Lifetime() time.Duration
}

// Memory is an in-memory cache implementation using otter. It is safe for
// concurrent use. The generic type T represents the token type being cached.
type Memory[T any] struct {
	cache *otter.Cache[string, T]
	ttl   time.Duration
}

// NewMemory creates a new in-memory cache with the specified TTL and max size.
func NewMemory[T any](ttl time.Duration, maxSize int) (*Memory[T], error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("cache TTL must be positive, got %s", ttl)
	}
	if maxSize <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", maxSize)
	}

	cache, err := otter.New(&otter.Options[string, T]{
		MaximumSize:      maxSize,
		ExpiryCalculator: otter.ExpiryCreatingFunc(func(entry otter.Entry[string, T]) time.Duration {
			return lifetime(entry.Value, ttl)
		}),
	})
	if err != nil {
		return nil, err
	}

	return &Memory[T]{
		cache: cache,
		ttl:   ttl,
	}, nil
}

func lifetime[T any](value T, ttl time.Duration) time.Duration {
	exp, ok := any(value).(Expiring)
	if !ok {
		return ttl
	}
	if d := exp.Lifetime(); d > 0 && d < ttl {
		return d
	}
	return ttl
}

// Get retrieves a token from the cache.
// Returns the token, whether it was found, and any error.
func (m *Memory[T]) Get(ctx context.Context, key string) (T, bool, error) {
	entry, ok := m.cache.GetEntry(key)
	if !ok {
		var zero T
		return zero, false, nil
	}

	return entry.Value, true, nil
}

// Set stores a token in the cache.
func (m *Memory[T]) Set(ctx context.Context, key string, token T) error {
	m.cache.Set(key, token)
	return nil
}

// Invalidate removes a token from the cache.
func (m *Memory[T]) Invalidate(ctx context.Context, key string) error {
	m.cache.Invalidate(key)
	return nil
}

// Close drops every cached token. Tokens are never shared beyond the owner
// of the cache, so nothing is kept once it is closed.
func (m *Memory[T]) Close() error {
	m.cache.InvalidateAll()
	return nil
}
