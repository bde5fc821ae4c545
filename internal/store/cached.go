package store

import (
	"context"
	"errors"
	"time"

	"github.com/divitsinghall/Vortex/internal/logging"
	"github.com/redis/go-redis/v9"
)

// defaultCacheTTL bounds staleness for cached source. Functions are
// immutable once deployed, so the TTL exists only to cap memory.
const defaultCacheTTL = 10 * time.Minute

// CachedStore is a Redis read-through decorator over another Store.
// Cache failures are never fatal: reads fall through to the backing
// store and a warning is logged.
type CachedStore struct {
	backing Store
	client  *redis.Client
	prefix  string
	ttl     time.Duration
}

// CachedConfig holds connection settings for the store cache.
type CachedConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string        // default "vortex:source:"
	TTL       time.Duration // default 10m
}

// NewCachedStore wraps backing with a Redis cache.
func NewCachedStore(backing Store, cfg CachedConfig) *CachedStore {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "vortex:source:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedStore{
		backing: backing,
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix: prefix,
		ttl:    ttl,
	}
}

// NewCachedStoreFromClient wraps backing using an existing Redis client.
func NewCachedStoreFromClient(backing Store, client *redis.Client, prefix string, ttl time.Duration) *CachedStore {
	if prefix == "" {
		prefix = "vortex:source:"
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedStore{backing: backing, client: client, prefix: prefix, ttl: ttl}
}

func (c *CachedStore) key(id string) string {
	return c.prefix + id
}

func (c *CachedStore) Save(ctx context.Context, id, source string) error {
	if err := c.backing.Save(ctx, id, source); err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.key(id), source, c.ttl).Err(); err != nil {
		logging.Op().Warn("store cache: set failed", "id", id, "error", err)
	}
	return nil
}

func (c *CachedStore) Get(ctx context.Context, id string) (string, error) {
	cached, err := c.client.Get(ctx, c.key(id)).Result()
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, redis.Nil) {
		logging.Op().Warn("store cache: get failed", "id", id, "error", err)
	}

	source, err := c.backing.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if err := c.client.Set(ctx, c.key(id), source, c.ttl).Err(); err != nil {
		logging.Op().Warn("store cache: backfill failed", "id", id, "error", err)
	}
	return source, nil
}

func (c *CachedStore) Exists(ctx context.Context, id string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(id)).Result()
	if err == nil && n > 0 {
		return true, nil
	}
	return c.backing.Exists(ctx, id)
}

// Ping verifies the cache connection, then pings the backing store too
// when it implements Pinger.
func (c *CachedStore) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return err
	}
	if p, ok := c.backing.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
