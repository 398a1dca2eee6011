package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultCacheSize = 10000
	DefaultCacheTTL  = 24 * time.Hour
)

// Cache stores terminal verdicts keyed by transaction reference. Put keeps
// the first verdict stored for a reference and returns whichever verdict the
// cache holds afterwards.
type Cache interface {
	Get(ctx context.Context, reference string) (Verdict, bool, error)
	Put(ctx context.Context, v Verdict) (Verdict, error)
}

// ── Memory ────────────────────────────────────────────────────────────────────

// MemoryCache is a capacity-bounded LRU whose entries also expire after ttl.
// Verdict lifetime is therefore min(ttl, time until evicted); both are
// bounded, so memory use is too.
type MemoryCache struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, Verdict]
}

func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryCache{lru: expirable.NewLRU[string, Verdict](size, nil, ttl)}
}

func (m *MemoryCache) Get(_ context.Context, reference string) (Verdict, bool, error) {
	v, ok := m.lru.Get(reference)
	return v, ok, nil
}

func (m *MemoryCache) Put(_ context.Context, v Verdict) (Verdict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.lru.Peek(v.Reference); ok {
		return existing, nil
	}
	m.lru.Add(v.Reference, v)
	return v, nil
}

// Len returns the number of cached entries.
func (m *MemoryCache) Len() int { return m.lru.Len() }

// ── Redis ─────────────────────────────────────────────────────────────────────

// RedisCache shares verdicts across gateway instances. Values are JSON under
// verdict:<reference>; SET NX makes the first writer win.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func verdictKey(reference string) string { return "verdict:" + reference }

func (r *RedisCache) Get(ctx context.Context, reference string) (Verdict, bool, error) {
	raw, err := r.rdb.Get(ctx, verdictKey(reference)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Verdict{}, false, nil
	}
	if err != nil {
		return Verdict{}, false, fmt.Errorf("redis get verdict: %w", err)
	}
	var v Verdict
	if err := json.Unmarshal(raw, &v); err != nil {
		return Verdict{}, false, fmt.Errorf("decode cached verdict: %w", err)
	}
	return v, true, nil
}

func (r *RedisCache) Put(ctx context.Context, v Verdict) (Verdict, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return v, fmt.Errorf("encode verdict: %w", err)
	}
	set, err := r.rdb.SetNX(ctx, verdictKey(v.Reference), data, r.ttl).Result()
	if err != nil {
		return v, fmt.Errorf("redis setnx verdict: %w", err)
	}
	if set {
		return v, nil
	}
	// another instance got there first
	existing, ok, err := r.Get(ctx, v.Reference)
	if err != nil || !ok {
		return v, err
	}
	return existing, nil
}
