package cache

import (
	"context"
	"fmt"
	"time"
)

// TokenCache defines the interface for token caching implementations.
// The generic type T represents the token type being cached.
type TokenCache[T any] interface {
	// Get retrieves a token from the cache.
	// Returns the token, whether it was found, and any error.
	Get(ctx context.Context, key string) (T, bool, error)

	// Set stores a token in the cache.
	Set(ctx context.Context, key string, token T) error

	// Invalidate removes a token from the cache.
	Invalidate(ctx context.Context, key string) error

	// Close releases any resources held by the cache.
	Close() error
}

// New creates the instrumented in-memory cache used for registry tokens.
// Entries live for ttl after they are written.
func New[T any](ttl time.Duration, maxSize int) (TokenCache[T], error) {
	memory, err := NewMemory[T](ttl, maxSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}

	return NewInstrumented(memory, "memory"), nil
}
