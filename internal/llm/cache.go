package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"tabprep/internal/schema"
)

// Answer is a cached resolver decision.
type Answer struct {
	Role       schema.Role `json:"role"`
	Confidence float64     `json:"confidence"`
}

// Cache stores resolver answers by key.
type Cache interface {
	Get(ctx context.Context, key string) (Answer, bool, error)
	Set(ctx context.Context, key string, a Answer) error
}

// CacheKey hashes what the model sees for a column.
func CacheKey(column string, current schema.Role, p schema.Profile) string {
	h := sha256.New()
	h.Write([]byte(column))
	h.Write([]byte{0})
	h.Write([]byte(current))
	h.Write([]byte{0})
	b, _ := json.Marshal(p)
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu sync.RWMutex
	m  map[string]Answer
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{m: map[string]Answer{}}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Answer, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.m[key]
	return a, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, a Answer) error {
	c.mu.Lock()
	c.m[key] = a
	c.mu.Unlock()
	return nil
}

// redisKeyPrefix namespaces resolver answers.
const redisKeyPrefix = "tabprep:role:"

// redisCmdable is the part of *redis.Client the cache uses.
type redisCmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisCache stores answers in Redis with a TTL.
type RedisCache struct {
	rdb redisCmdable
	ttl time.Duration
}

// NewRedisCache wraps a go-redis client. A zero ttl keeps keys forever.
func NewRedisCache(rdb redis.Cmdable, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

// DialRedis connects to addr and checks it with PING.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis at %s: %w", addr, err)
	}
	return rdb, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (Answer, bool, error) {
	s, err := c.rdb.Get(ctx, redisKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return Answer{}, false, nil
	}
	if err != nil {
		return Answer{}, false, fmt.Errorf("redis get: %w", err)
	}
	var a Answer
	if err := json.Unmarshal([]byte(s), &a); err != nil {
		return Answer{}, false, fmt.Errorf("decode cached answer: %w", err)
	}
	return a, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, a Answer) error {
	b, err := json.Marshal(a)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, redisKeyPrefix+key, b, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
