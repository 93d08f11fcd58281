package domain

import (
	"context"
	"time"
)

// SeenCache remembers trade IDs the wallet monitor has already reported, so
// a restart does not re-copy old trades. Entries carry a TTL so the set stays
// prunable.
type SeenCache interface {
	Seen(ctx context.Context, wallet, tradeID string) (bool, error)
	MarkSeen(ctx context.Context, wallet, tradeID string, ttl time.Duration) error
}

// PriceCache publishes the latest observed price per token. The detector
// writes it each scan; other processes (dashboards, notifiers) read it.
type PriceCache interface {
	SetPrice(ctx context.Context, tokenID string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, tokenID string) (float64, time.Time, error)
}

// BlobWriter uploads an object to cold storage.
type BlobWriter interface {
	Write(ctx context.Context, key string, data []byte, contentType string) error
}
