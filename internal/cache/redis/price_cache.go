package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/polymirror/copybot/internal/domain"
)

// priceTTL bounds staleness: a price nobody refreshed for this long is
// better reported as missing.
const priceTTL = 10 * time.Minute

// PriceCache implements domain.PriceCache using one Redis hash per token,
// fields "price" and "ts" (Unix nanoseconds).
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(tokenID string) string {
	return "price:" + tokenID
}

// SetPrice stores the latest observed price for a token.
func (pc *PriceCache) SetPrice(ctx context.Context, tokenID string, price float64, ts time.Time) error {
	key := priceKey(tokenID)
	fields := map[string]any{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	pipe := pc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, priceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", tokenID, err)
	}
	return nil
}

// GetPrice returns the latest price and its observation time, or
// domain.ErrNotFound when no fresh price exists.
func (pc *PriceCache) GetPrice(ctx context.Context, tokenID string) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(tokenID)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", tokenID, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	price, err := strconv.ParseFloat(vals["price"], 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price %s: %w", tokenID, err)
	}
	nanos, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price ts %s: %w", tokenID, err)
	}
	return price, time.Unix(0, nanos).UTC(), nil
}
