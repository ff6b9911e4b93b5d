package risk

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestReplayKeyIsNamespacedAndHexEncoded(t *testing.T) {
	hash := [32]byte{0xde, 0xad, 0xbe, 0xef}
	key := replayKey(hash)

	want := "kembridge:replay:" + hex.EncodeToString(hash[:])
	if key != want {
		t.Fatalf("replayKey: got %q, want %q", key, want)
	}
}

func TestReplayCacheSeenPropagatesBackendError(t *testing.T) {
	// Point at a port nothing listens on so Seen exercises the error path
	// rather than silently treating an unreachable cache as "unseen".
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
	})
	defer rdb.Close()

	c := NewReplayCache(rdb, time.Hour)
	_, err := c.Seen(context.Background(), [32]byte{1})
	if err == nil {
		t.Fatalf("expected an error from an unreachable redis backend")
	}
}
