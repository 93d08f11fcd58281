package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// SeenCache implements domain.SeenCache with one Redis key per observed
// trade, expiring after the TTL. Restarts share the same dedup state, so an
// already-copied trade is never re-emitted.
type SeenCache struct {
	rdb *redis.Client
}

// NewSeenCache creates a SeenCache backed by the given Client.
func NewSeenCache(c *Client) *SeenCache {
	return &SeenCache{rdb: c.Underlying()}
}

func seenKey(wallet, tradeID string) string {
	return "seen:" + strings.ToLower(wallet) + ":" + tradeID
}

// Seen reports whether the trade was already recorded.
func (s *SeenCache) Seen(ctx context.Context, wallet, tradeID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, seenKey(wallet, tradeID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis: seen %s: %w", tradeID, err)
	}
	return n > 0, nil
}

// MarkSeen records the trade with the given TTL.
func (s *SeenCache) MarkSeen(ctx context.Context, wallet, tradeID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	if err := s.rdb.Set(ctx, seenKey(wallet, tradeID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis: mark seen %s: %w", tradeID, err)
	}
	return nil
}
