package database

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResultCache abstracts the read-side result cache. RedisResultCache is the
// implementation the bootstrap attaches when a Redis URL is configured;
// MemoryResultCache is a process-local implementation.
type ResultCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// RedisResultCache caches query results as JSON under a short TTL, keyed by
// query shape plus arguments.
type RedisResultCache struct {
	client *redis.Client
}

// NewRedisResultCache wraps an existing Redis client for result caching.
func NewRedisResultCache(client *redis.Client) *RedisResultCache {
	return &RedisResultCache{client: client}
}

func (c *RedisResultCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisResultCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, ttl).Err()
}

func (c *RedisResultCache) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// MemoryResultCache is a process-local ResultCache; its entries are not
// shared across instances.
type MemoryResultCache struct {
	mu    sync.RWMutex
	store map[string]memoryEntry
}

type memoryEntry struct {
	value      []byte
	expiresAt  time.Time
}

// NewMemoryResultCache constructs an empty in-memory cache.
func NewMemoryResultCache() *MemoryResultCache {
	return &MemoryResultCache{store: make(map[string]memoryEntry)}
}

func (c *MemoryResultCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	c.mu.RLock()
	entry, ok := c.store[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return false, nil
	}
	if err := json.Unmarshal(entry.value, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *MemoryResultCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.store[key] = memoryEntry{value: raw, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

func (c *MemoryResultCache) Invalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.store, key)
	c.mu.Unlock()
	return nil
}
