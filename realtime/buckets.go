package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Buckets de-duplicates periodic saves. Claim succeeds once per key until
// the TTL expires or the key is released.
type Buckets interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// MemoryBuckets is a process-local Buckets.
type MemoryBuckets struct {
	mu      sync.Mutex
	claimed map[string]time.Time
	now     func() time.Time
}

func NewMemoryBuckets() *MemoryBuckets {
	return &MemoryBuckets{claimed: make(map[string]time.Time), now: time.Now}
}

func (b *MemoryBuckets) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	if exp, ok := b.claimed[key]; ok && now.Before(exp) {
		return false, nil
	}
	b.claimed[key] = now.Add(ttl)
	return true, nil
}

func (b *MemoryBuckets) Release(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.claimed, key)
	return nil
}

// RedisBuckets shares claims between server instances with SET NX.
type RedisBuckets struct {
	client *redis.Client
	prefix string
}

func NewRedisBuckets(client *redis.Client, prefix string) *RedisBuckets {
	if prefix == "" {
		prefix = "hours:autosave"
	}
	return &RedisBuckets{client: client, prefix: prefix}
}

func (b *RedisBuckets) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return b.client.SetNX(ctx, b.prefix+":"+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

func (b *RedisBuckets) Release(ctx context.Context, key string) error {
	return b.client.Del(ctx, b.prefix+":"+key).Err()
}
