package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	cacheVersionKey = "billing:version"
	bumpChannel     = "billing.bump"
)

// CacheObserver is told the outcome of every cache lookup.
type CacheObserver interface {
	ObserveCacheLookup(hit bool)
}

// Cache wraps Redis read-through caching with a global version that writes
// bump to invalidate every cached view at once.
type Cache struct {
	client   *redis.Client
	ttl      time.Duration
	observer CacheObserver
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// SetObserver installs o. Call before the cache is shared.
func (c *Cache) SetObserver(o CacheObserver) {
	if c != nil {
		c.observer = o
	}
}

func (c *Cache) observe(hit bool) {
	if c.observer != nil {
		c.observer.ObserveCacheLookup(hit)
	}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// BuildKey composes a versioned cache key.
func (c *Cache) BuildKey(ctx context.Context, parts ...string) (string, error) {
	joined := strings.Join(parts, ":")
	if c == nil || c.client == nil {
		return joined, nil
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:v%d", joined, ver), nil
}

// FetchJSON returns the cached value for key or populates it using loader.
func FetchJSON[T any](ctx context.Context, c *Cache, key string, loader func(context.Context) (T, error)) (T, error) {
	var zero T
	if loader == nil {
		return zero, errors.New("billing cache: loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var dest T
		if err := json.Unmarshal(payload, &dest); err == nil {
			c.observe(true)
			return dest, nil
		}
	case !errors.Is(err, redis.Nil):
		// Redis unavailable: serve from the loader without caching.
		c.observe(false)
		return loader(ctx)
	}
	c.observe(false)
	value, err := loader(ctx)
	if err != nil {
		return zero, err
	}
	if raw, err := json.Marshal(value); err == nil {
		_ = c.client.Set(ctx, key, raw, c.ttl).Err()
	}
	return value, nil
}

// Bump invalidates cached views by incrementing the version. Every instance
// reads the version from the same Redis, so the increment alone is enough;
// the new version is also published on billing.bump for outside consumers.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, cacheVersionKey).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, bumpChannel, strconv.FormatInt(ver, 10)).Err()
}

func customerToken(customerID uuid.UUID) string {
	if customerID == uuid.Nil {
		return "default"
	}
	return customerID.String()
}

func keyDashboard(customerID uuid.UUID) []string {
	return []string{"billing", "dashboard", customerToken(customerID)}
}

func keyActivity(customerID uuid.UUID, limit int) []string {
	return []string{"billing", "activity", customerToken(customerID), strconv.Itoa(limit)}
}
