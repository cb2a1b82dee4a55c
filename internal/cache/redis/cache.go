// Package redis implements the page cache on Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/batch-crawler/internal/crawler"
)

const scanBatch = 100

// Config controls the Redis connection and key layout.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// Cache stores CachedPage values as JSON strings.
type Cache struct {
	client goredis.Cmdable
	prefix string
	ttl    time.Duration
}

// New dials Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Cache, *goredis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil, fmt.Errorf("cache.redis.address is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWithClient(client, cfg), client, nil
}

// NewWithClient wraps an existing client (primarily for testing).
func NewWithClient(client goredis.Cmdable, cfg Config) *Cache {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "batchcrawler:page:"
	}
	return &Cache{client: client, prefix: prefix, ttl: cfg.TTL}
}

// Get returns the cached page for url. A missing key is not an error.
func (c *Cache) Get(ctx context.Context, url string) (crawler.CachedPage, bool, error) {
	raw, err := c.client.Get(ctx, c.key(url)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return crawler.CachedPage{}, false, nil
	}
	if err != nil {
		return crawler.CachedPage{}, false, fmt.Errorf("redis get: %w", err)
	}
	var page crawler.CachedPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return crawler.CachedPage{}, false, fmt.Errorf("decode cached page: %w", err)
	}
	return page, true, nil
}

// Set stores page under url with the configured TTL.
func (c *Cache) Set(ctx context.Context, url string, page crawler.CachedPage) error {
	raw, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("encode cached page: %w", err)
	}
	if err := c.client.Set(ctx, c.key(url), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Clear deletes every key under the cache prefix.
func (c *Cache) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", scanBatch).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (c *Cache) key(url string) string {
	return c.prefix + url
}
