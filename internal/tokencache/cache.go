package tokencache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// Backend stores provider access tokens with a TTL. Implementations must
// be safe for concurrent use.
type Backend interface {
	GetToken(ctx context.Context, key string) (string, bool, error)
	SetToken(ctx context.Context, key, token string, ttl time.Duration) error
	DeleteToken(ctx context.Context, key string) error
}

// Cache fronts a Backend with single-flight refresh: concurrent misses
// for the same key share one upstream fetch instead of issuing parallel
// token requests that waste quota and can invalidate each other.
type Cache struct {
	backend Backend
	group   singleflight.Group
}

func New(backend Backend) *Cache {
	return &Cache{backend: backend}
}

func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	return c.backend.GetToken(ctx, key)
}

func (c *Cache) Set(ctx context.Context, key, token string, ttl time.Duration) error {
	return c.backend.SetToken(ctx, key, token, ttl)
}

// GetOrFetch returns the cached token for key, or collapses concurrent
// misses into a single call to fetch and caches its result for ttl.
func (c *Cache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch func(ctx context.Context) (string, error)) (string, error) {
	if token, ok, err := c.backend.GetToken(ctx, key); err == nil && ok {
		return token, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Re-check under the flight: a racing caller may have already
		// stored a fresh token.
		if token, ok, err := c.backend.GetToken(ctx, key); err == nil && ok {
			return token, nil
		}

		token, err := fetch(ctx)
		if err != nil {
			return "", err
		}
		if err := c.backend.SetToken(ctx, key, token, ttl); err != nil {
			return "", err
		}
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token so the next caller refreshes.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.backend.DeleteToken(ctx, key)
}
