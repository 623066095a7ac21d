package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	defaultPrefix = "eqas:vocab:"
	defaultTTL    = 10 * time.Minute
	scanCount     = 200
	versionKey    = "#version"
)

// Cache is a Redis read cache for mapping queries. Keys are namespaced by a
// prefix; invalidating a key also drops every key nested under "key:".
//
// Every invalidation bumps a namespace version before deleting keys. A read
// that captured the version before loading stores its result only if the
// version is unchanged, so a load racing a mutation is never cached.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// Option configures the cache.
type Option func(*Cache)

// WithPrefix overrides the key namespace.
func WithPrefix(prefix string) Option {
	return func(c *Cache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithTTL overrides the entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// NewCache constructs a cache over client.
func NewCache(client *redis.Client, logger *zap.Logger, opts ...Option) (*Cache, error) {
	if client == nil {
		return nil, errors.New("vocab cache: nil redis client")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{client: client, prefix: defaultPrefix, ttl: defaultTTL, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewRedisClient builds a client from connection settings.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// Ping checks the connection.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// GetJSON decodes the cached value of key into dest. It reports false on a
// miss.
func (c *Cache) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("vocab cache: get %s: %w", key, err)
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return false, fmt.Errorf("vocab cache: decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores value under key for the configured TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("vocab cache: encode %s: %w", key, err)
	}
	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("vocab cache: set %s: %w", key, err)
	}
	return nil
}

// Version returns the current namespace version.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	v, err := c.client.Get(ctx, c.prefix+versionKey).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("vocab cache: version: %w", err)
	}
	return v, nil
}

var errStaleVersion = errors.New("vocab cache: stale version")

// SetJSONIfVersion stores value under key unless the namespace version moved
// past version. It reports whether the value was stored.
func (c *Cache) SetJSONIfVersion(ctx context.Context, key string, value any, version int64) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("vocab cache: encode %s: %w", key, err)
	}
	vkey := c.prefix + versionKey
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, vkey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return errStaleVersion
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.prefix+key, data, c.ttl)
			return nil
		})
		return err
	}, vkey)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errStaleVersion), errors.Is(err, redis.TxFailedErr):
		return false, nil
	}
	return false, fmt.Errorf("vocab cache: set %s: %w", key, err)
}

func (c *Cache) bumpVersion(ctx context.Context) error {
	if err := c.client.Incr(ctx, c.prefix+versionKey).Err(); err != nil {
		return fmt.Errorf("vocab cache: bump version: %w", err)
	}
	return nil
}

// Invalidate deletes each key and every key nested under it.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.bumpVersion(ctx); err != nil {
		return err
	}
	doomed := make([]string, 0, len(keys))
	for _, key := range keys {
		doomed = append(doomed, c.prefix+key)
		nested, err := c.scan(ctx, c.prefix+key+":*")
		if err != nil {
			return err
		}
		doomed = append(doomed, nested...)
	}
	if err := c.client.Del(ctx, doomed...).Err(); err != nil {
		return fmt.Errorf("vocab cache: delete: %w", err)
	}
	c.logger.Debug("cache invalidated", zap.Strings("keys", keys), zap.Int("deleted", len(doomed)))
	return nil
}

// Clear deletes every cached value in the namespace.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.bumpVersion(ctx); err != nil {
		return err
	}
	found, err := c.scan(ctx, c.prefix+"*")
	if err != nil {
		return err
	}
	keys := found[:0]
	for _, key := range found {
		if key != c.prefix+versionKey {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("vocab cache: clear: %w", err)
	}
	c.logger.Info("cache cleared", zap.Int("deleted", len(keys)))
	return nil
}

func (c *Cache) scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := c.client.Scan(ctx, 0, pattern, scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("vocab cache: scan %s: %w", pattern, err)
	}
	return keys, nil
}
