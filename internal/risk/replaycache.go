package risk

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayCache is a fast, best-effort dedup check for quantum hashes: a
// positive hit means "almost certainly already minted", letting the
// orchestrator skip a chain RPC round trip before falling back to the
// authoritative chainadapter.Adapter.IsProcessed check. A cache miss or
// Redis outage never blocks the swap — it only means the slower
// authoritative check still runs.
type ReplayCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewReplayCache wraps an existing Redis client. entryTTL bounds how long
// a hash is remembered — long enough to outlast the swap's own expiry
// window, short enough not to grow Redis memory unbounded.
func NewReplayCache(rdb *redis.Client, entryTTL time.Duration) *ReplayCache {
	return &ReplayCache{rdb: rdb, ttl: entryTTL}
}

func replayKey(hash [32]byte) string {
	return "kembridge:replay:" + hex.EncodeToString(hash[:])
}

// Seen reports whether hash was already recorded. A Redis error is
// reported to the caller rather than silently treated as "unseen" —
// callers decide whether to fall back to the authoritative check or
// propagate the error.
func (c *ReplayCache) Seen(ctx context.Context, hash [32]byte) (bool, error) {
	n, err := c.rdb.Exists(ctx, replayKey(hash)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Remember records hash as processed. Safe to call even if a concurrent
// writer already recorded the same hash — it is idempotent.
func (c *ReplayCache) Remember(ctx context.Context, hash [32]byte) error {
	return c.rdb.Set(ctx, replayKey(hash), 1, c.ttl).Err()
}
