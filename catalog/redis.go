package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/liamcoop/screener/screener"
)

const (
	// Redis key prefix for cached definitions
	definitionKeyPrefix = "screener:def:"
)

// RedisCache is a Redis-backed DefinitionCache shared between server instances.
// Redis failures degrade to cache misses.
type RedisCache struct {
	client *redis.Client
	config CacheConfig
	logger *slog.Logger
}

// NewRedisCache creates a Redis-backed definition cache
func NewRedisCache(client *redis.Client, config CacheConfig, logger *slog.Logger) *RedisCache {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RedisCache{
		client: client,
		config: config,
		logger: logger,
	}
}

// NewRedisClient parses url and verifies the connection
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func redisKey(key Key) string {
	return fmt.Sprintf("%s%s:%d", definitionKeyPrefix, key.ScreenerID, key.Version)
}

// Get retrieves a cached definition
func (c *RedisCache) Get(ctx context.Context, key Key) (*screener.Definition, bool) {
	raw, err := c.client.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("redis cache get failed", "key", key.String(), "error", err)
		return nil, false
	}

	def, err := screener.ParseDefinition(raw)
	if err != nil {
		c.logger.Warn("redis cache entry is corrupt", "key", key.String(), "error", err)
		return nil, false
	}
	return def, true
}

// Set stores a definition with the configured TTL
func (c *RedisCache) Set(ctx context.Context, key Key, def *screener.Definition) {
	raw, err := json.Marshal(def)
	if err != nil {
		c.logger.Warn("redis cache encode failed", "key", key.String(), "error", err)
		return
	}
	if err := c.client.Set(ctx, redisKey(key), raw, c.config.TTL).Err(); err != nil {
		c.logger.Warn("redis cache set failed", "key", key.String(), "error", err)
	}
}

// Invalidate removes every cached definition
func (c *RedisCache) Invalidate(ctx context.Context) {
	iter := c.client.Scan(ctx, 0, definitionKeyPrefix+"*", 100).Iterator()

	pipe := c.client.Pipeline()
	queued := 0
	for iter.Next(ctx) {
		pipe.Del(ctx, iter.Val())
		queued++
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("redis cache scan failed", "error", err)
		return
	}
	if queued == 0 {
		return
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("redis cache invalidate failed", "error", err)
	}
}
