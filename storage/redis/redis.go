// Package redis provides a storage.Cache backed by Redis, giving tool-result
// caching that survives process restarts and is shared across replicas.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcpstream/streamcore/storage"
)

// Config configures the Redis cache.
type Config struct {
	// Client is the Redis client instance.
	Client *redis.Client

	// KeyPrefix namespaces all cache keys. Default: "streamcore:cache:".
	KeyPrefix string
}

// Cache implements storage.Cache on Redis.
type Cache struct {
	client    *redis.Client
	keyPrefix string
}

// storedItem is the JSON document written to Redis. ExpiresAt is carried
// redundantly with the Redis key TTL so reads can double-check expiry.
type storedItem struct {
	Data      []byte     `json:"data"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// New creates a Redis-backed cache.
func New(config Config) (*Cache, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "streamcore:cache:"
	}
	return &Cache{client: config.Client, keyPrefix: config.KeyPrefix}, nil
}

func (c *Cache) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.Item, error) {
	options := &storage.Options{}
	for _, opt := range opts {
		opt(options)
	}
	redisKey := c.buildKey(options.SessionID, key)

	val, err := c.client.Get(ctx, redisKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s: %w", redisKey, err)
	}

	var item storedItem
	if err := json.Unmarshal([]byte(val), &item); err != nil {
		return nil, fmt.Errorf("unmarshal cached item: %w", err)
	}
	out := &storage.Item{Data: item.Data, CreatedAt: item.CreatedAt, ExpiresAt: item.ExpiresAt}
	if out.IsExpired() {
		c.client.Del(ctx, redisKey)
		return nil, nil
	}
	return out, nil
}

func (c *Cache) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	options := &storage.Options{}
	for _, opt := range opts {
		opt(options)
	}
	redisKey := c.buildKey(options.SessionID, key)

	now := time.Now()
	item := storedItem{Data: data, CreatedAt: now}
	var redisTTL time.Duration
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
		redisTTL = *options.TTL
	}

	b, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal cache item: %w", err)
	}
	if err := c.client.Set(ctx, redisKey, b, redisTTL).Err(); err != nil {
		return fmt.Errorf("set %s: %w", redisKey, err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, opts ...storage.Option) error {
	options := &storage.Options{}
	for _, opt := range opts {
		opt(options)
	}

	if options.Key != nil {
		redisKey := c.buildKey(options.SessionID, *options.Key)
		if err := c.client.Del(ctx, redisKey).Err(); err != nil {
			return fmt.Errorf("delete %s: %w", redisKey, err)
		}
		return nil
	}

	pattern := c.buildKey(options.SessionID, "*")
	keys, err := c.scanKeys(ctx, pattern)
	if err != nil {
		return fmt.Errorf("scan %s: %w", pattern, err)
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("delete scope: %w", err)
		}
	}
	return nil
}

// Close closes the underlying Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) buildKey(sessionID, key string) string {
	if sessionID == "" {
		return c.keyPrefix + "global:" + key
	}
	return c.keyPrefix + "session:" + sessionID + ":" + key
}

// scanKeys collects all keys matching pattern in SCAN batches.
func (c *Cache) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

var _ storage.Cache = (*Cache)(nil)
