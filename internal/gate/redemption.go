package gate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redemptions records which transaction references have been turned into an
// admission. Claim succeeds once per reference; Release undoes a claim whose
// admission could not be completed.
type Redemptions interface {
	Claim(ctx context.Context, reference string) (bool, error)
	Release(ctx context.Context, reference string) error
}

// MemoryRedemptions holds claims for the life of the process.
type MemoryRedemptions struct {
	mu      sync.Mutex
	claimed map[string]struct{}
}

func NewMemoryRedemptions() *MemoryRedemptions {
	return &MemoryRedemptions{claimed: make(map[string]struct{})}
}

func (m *MemoryRedemptions) Claim(_ context.Context, reference string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.claimed[reference]; ok {
		return false, nil
	}
	m.claimed[reference] = struct{}{}
	return true, nil
}

func (m *MemoryRedemptions) Release(_ context.Context, reference string) error {
	m.mu.Lock()
	delete(m.claimed, reference)
	m.mu.Unlock()
	return nil
}

// RedisRedemptions stores claims as redeemed:<reference> with no expiry, so a
// payment stays spent across restarts and instances.
type RedisRedemptions struct {
	rdb *redis.Client
}

func NewRedisRedemptions(rdb *redis.Client) *RedisRedemptions {
	return &RedisRedemptions{rdb: rdb}
}

func redeemedKey(reference string) string { return "redeemed:" + reference }

func (r *RedisRedemptions) Claim(ctx context.Context, reference string) (bool, error) {
	set, err := r.rdb.SetNX(ctx, redeemedKey(reference), time.Now().Unix(), 0).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", reference, err)
	}
	return set, nil
}

func (r *RedisRedemptions) Release(ctx context.Context, reference string) error {
	if err := r.rdb.Del(ctx, redeemedKey(reference)).Err(); err != nil {
		return fmt.Errorf("release %s: %w", reference, err)
	}
	return nil
}
