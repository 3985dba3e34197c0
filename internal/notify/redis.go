package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "coparent.events."

// RedisNotifier publishes events on a per-family Redis channel.
// Consumers (email worker, UI push) subscribe to coparent.events.<family_id>.
type RedisNotifier struct {
	rdb *redis.Client
	log *slog.Logger

	// publishTimeout bounds the publish call so a slow Redis cannot stall callers.
	publishTimeout time.Duration
}

func NewRedisNotifier(rdb *redis.Client, log *slog.Logger) *RedisNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &RedisNotifier{rdb: rdb, log: log, publishTimeout: 2 * time.Second}
}

func (n *RedisNotifier) Publish(ctx context.Context, e Event) error {
	if n.rdb == nil {
		return nil
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(e)
	if err != nil {
		n.log.Error("notify marshal failed", "type", e.Type, "err", err)
		return err
	}

	pubCtx, cancel := context.WithTimeout(ctx, n.publishTimeout)
	defer cancel()

	if err := n.rdb.Publish(pubCtx, channelPrefix+e.FamilyID, payload).Err(); err != nil {
		// Best-effort: log and report, callers are expected to ignore.
		n.log.Warn("notify publish failed", "type", e.Type, "family_id", e.FamilyID, "err", err)
		return err
	}
	return nil
}
