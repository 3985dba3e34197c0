package session

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"coparent-platform/pkg/utils"
)

// LiveGate caps how many calls a family can have live at once.
type LiveGate interface {
	Acquire(ctx context.Context, familyID string) (bool, error)
	Release(ctx context.Context, familyID string) error
}

// RedisLiveGate enforces the cap across API instances with an atomic Lua
// counter. The TTL reclaims slots leaked by a crashed process.
type RedisLiveGate struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
}

func NewRedisLiveGate(rdb *redis.Client, limit int, ttl time.Duration) *RedisLiveGate {
	if limit <= 0 {
		limit = 1
	}
	if ttl <= 0 {
		// Longest allowed call plus slack.
		ttl = 2 * time.Hour
	}
	return &RedisLiveGate{rdb: rdb, limit: limit, ttl: ttl}
}

func (g *RedisLiveGate) Acquire(ctx context.Context, familyID string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, g.rdb, gateKey(familyID), g.limit, g.ttl)
}

func (g *RedisLiveGate) Release(ctx context.Context, familyID string) error {
	return utils.ReleaseConcurrencyCap(ctx, g.rdb, gateKey(familyID))
}

func gateKey(familyID string) string {
	return "live_calls:" + familyID
}
