package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores the ledger part of projected balances.
//
// Every Invalidate advances the key's generation. A projection read from
// the ledger is only stored with SetIf under the generation observed before
// the read, so an append that lands mid-read is never hidden.
type Cache interface {
	Get(ctx context.Context, key BalanceKey) (Balance, bool, error)
	Generation(ctx context.Context, key BalanceKey) (uint64, error)
	SetIf(ctx context.Context, key BalanceKey, b Balance, gen uint64) (bool, error)
	Invalidate(ctx context.Context, keys ...BalanceKey) error
}

// =============================================================================
// MEMORY CACHE
// =============================================================================

type memoryEntry struct {
	balance   Balance
	expiresAt time.Time
}

// MemoryCache is a process-local cache with a fixed TTL.
type MemoryCache struct {
	mu          sync.RWMutex
	ttl         time.Duration
	entries     map[BalanceKey]memoryEntry
	generations map[BalanceKey]uint64
	now         func() time.Time
}

// NewMemoryCache creates a cache. ttl <= 0 means entries never expire.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:         ttl,
		entries:     make(map[BalanceKey]memoryEntry),
		generations: make(map[BalanceKey]uint64),
		now:         time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key BalanceKey) (Balance, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return Balance{}, false, nil
	}
	if !e.expiresAt.IsZero() && c.now().After(e.expiresAt) {
		return Balance{}, false, nil
	}
	return e.balance, true, nil
}

func (c *MemoryCache) Generation(_ context.Context, key BalanceKey) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generations[key], nil
}

func (c *MemoryCache) SetIf(_ context.Context, key BalanceKey, b Balance, gen uint64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[key] != gen {
		return false, nil
	}
	e := memoryEntry{balance: b}
	if c.ttl > 0 {
		e.expiresAt = c.now().Add(c.ttl)
	}
	c.entries[key] = e
	return true, nil
}

func (c *MemoryCache) Invalidate(_ context.Context, keys ...BalanceKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		c.generations[k]++
		delete(c.entries, k)
	}
	return nil
}

// Len returns the number of entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// =============================================================================
// REDIS CACHE
// =============================================================================

// RedisCache shares projected balances between server instances. The
// generation of a key lives next to it under "<prefix>:gen:<key>" and
// SetIf watches it, so an invalidation from any instance wins.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed cache. Keys are "<prefix>:<emp>:<category>:<year>".
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "hours:balance"
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) redisKey(key BalanceKey) string {
	return fmt.Sprintf("%s:%s", c.prefix, key.String())
}

func (c *RedisCache) Get(ctx context.Context, key BalanceKey) (Balance, bool, error) {
	raw, err := c.client.Get(ctx, c.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Balance{}, false, nil
	}
	if err != nil {
		return Balance{}, false, err
	}
	var b Balance
	if err := json.Unmarshal(raw, &b); err != nil {
		return Balance{}, false, fmt.Errorf("decode cached balance: %w", err)
	}
	return b, true, nil
}

func (c *RedisCache) generationKey(key BalanceKey) string {
	return fmt.Sprintf("%s:gen:%s", c.prefix, key.String())
}

func (c *RedisCache) Generation(ctx context.Context, key BalanceKey) (uint64, error) {
	gen, err := c.client.Get(ctx, c.generationKey(key)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisCache) SetIf(ctx context.Context, key BalanceKey, b Balance, gen uint64) (bool, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return false, err
	}
	genKey := c.generationKey(key)
	stored := false
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Uint64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.redisKey(key), raw, c.ttl)
			return nil
		})
		if err == nil {
			stored = true
		}
		return err
	}, genKey)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	return stored, err
}

func (c *RedisCache) Invalidate(ctx context.Context, keys ...BalanceKey) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range keys {
			pipe.Incr(ctx, c.generationKey(k))
			pipe.Del(ctx, c.redisKey(k))
		}
		return nil
	})
	return err
}
