package dialer

import (
	"context"
	"sync"
	"time"

	"settlement-crm/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// LineLimiter caps how many calls a campaign may have in flight at once,
// across all sessions.
type LineLimiter interface {
	Acquire(ctx context.Context, campaignID string) (bool, error)
	Release(ctx context.Context, campaignID string) error
	InUse(ctx context.Context, campaignID string) (int, error)
}

// RedisLineLimiter shares the cap through Redis so it also holds when the API
// runs more than one replica for webhooks.
type RedisLineLimiter struct {
	rdb   redis.UniversalClient
	limit int
	ttl   time.Duration
}

func NewRedisLineLimiter(rdb redis.UniversalClient, limit int, ttl time.Duration) *RedisLineLimiter {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisLineLimiter{rdb: rdb, limit: limit, ttl: ttl}
}

func lineKey(campaignID string) string { return "dialer:lines:campaign:" + campaignID }

func (l *RedisLineLimiter) Acquire(ctx context.Context, campaignID string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, l.rdb, lineKey(campaignID), l.limit, l.ttl)
}

func (l *RedisLineLimiter) Release(ctx context.Context, campaignID string) error {
	return utils.ReleaseConcurrencyCap(ctx, l.rdb, lineKey(campaignID))
}

func (l *RedisLineLimiter) InUse(ctx context.Context, campaignID string) (int, error) {
	return utils.ConcurrencyInUse(ctx, l.rdb, lineKey(campaignID))
}

// MemoryLineLimiter is the single-process variant.
type MemoryLineLimiter struct {
	mu    sync.Mutex
	limit int
	held  map[string]int
}

func NewMemoryLineLimiter(limit int) *MemoryLineLimiter {
	return &MemoryLineLimiter{limit: limit, held: make(map[string]int)}
}

func (l *MemoryLineLimiter) Acquire(ctx context.Context, campaignID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[campaignID] >= l.limit {
		return false, nil
	}
	l.held[campaignID]++
	return true, nil
}

func (l *MemoryLineLimiter) Release(ctx context.Context, campaignID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[campaignID] <= 1 {
		delete(l.held, campaignID)
		return nil
	}
	l.held[campaignID]--
	return nil
}

func (l *MemoryLineLimiter) InUse(ctx context.Context, campaignID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[campaignID], nil
}
