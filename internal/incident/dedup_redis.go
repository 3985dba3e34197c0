package incident

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper implements Deduper with SET NX plus a TTL, so identical manual
// report retries collapse across API instances.
type RedisDeduper struct {
	rdb *redis.Client
}

func NewRedisDeduper(rdb *redis.Client) *RedisDeduper {
	return &RedisDeduper{rdb: rdb}
}

func (d *RedisDeduper) FirstSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return d.rdb.SetNX(ctx, key, "1", ttl).Result()
}
