package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"callbridge/pkg/utils"
)

// Guard dedupes submissions across process restarts: the first claim for a
// (call id, entity type) pair wins, later claims are rejected until the TTL
// lapses. Guard availability must never gate correlation, so callers treat
// errors as "claim granted".
type Guard interface {
	Claim(ctx context.Context, callID, entityType string) (bool, error)
	// Release frees a claim this process took, so a dead-lettered pair can
	// be requeued without waiting out the TTL.
	Release(ctx context.Context, callID, entityType string) error
}

const (
	claimKeyPrefix = "callbridge:routed:"
	// claimTTL comfortably exceeds the longest plausible call plus retry
	// horizon.
	claimTTL = 24 * time.Hour
)

// RedisGuard claims through redis so dedupe survives restarts and spans
// instances.
type RedisGuard struct {
	rdb   *redis.Client
	owner string
}

func NewRedisGuard(rdb *redis.Client, owner string) *RedisGuard {
	return &RedisGuard{rdb: rdb, owner: owner}
}

func (g *RedisGuard) Claim(ctx context.Context, callID, entityType string) (bool, error) {
	return utils.ClaimOnce(ctx, g.rdb, claimKeyPrefix+callID+":"+entityType, g.owner, claimTTL)
}

func (g *RedisGuard) Release(ctx context.Context, callID, entityType string) error {
	return utils.ReleaseClaim(ctx, g.rdb, claimKeyPrefix+callID+":"+entityType, g.owner)
}

// MemoryGuard is a process-local Guard for tests and redis-less runs.
type MemoryGuard struct {
	mu      sync.Mutex
	claimed map[string]bool
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{claimed: make(map[string]bool)}
}

func (g *MemoryGuard) Claim(ctx context.Context, callID, entityType string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := callID + ":" + entityType
	if g.claimed[key] {
		return false, nil
	}
	g.claimed[key] = true
	return true, nil
}

func (g *MemoryGuard) Release(ctx context.Context, callID, entityType string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claimed, callID+":"+entityType)
	return nil
}
