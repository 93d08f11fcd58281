package domain

import (
	"context"
	"time"
)

// Gateway is the narrow interface to the exchange. All calls are
// request/response with bounded timeouts; failures are returned as errors,
// never panics. Implemented by the polymarket platform package; faked in
// tests.
type Gateway interface {
	// WalletActivity returns trades made by address since the given time,
	// newest last. limit bounds the page size.
	WalletActivity(ctx context.Context, address string, since time.Time, limit int) ([]WalletActivity, error)

	// Snapshot returns the current pricing/liquidity view of one market.
	Snapshot(ctx context.Context, marketID string) (MarketSnapshot, error)

	// ActiveMarkets lists currently tradeable markets, most liquid first.
	ActiveMarkets(ctx context.Context, limit int) ([]Market, error)

	// SubmitOrder places an immediate-or-cancel order. A venue-side
	// rejection is reported via the ack's status, not an error; errors mean
	// the submission outcome is unknown or the call failed.
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderAck, error)

	// OrderStatus polls the current state of a previously submitted order.
	OrderStatus(ctx context.Context, orderID string) (OrderUpdate, error)

	// CancelOrder cancels an open order.
	CancelOrder(ctx context.Context, orderID string) error

	// Balance returns the available collateral balance in USD.
	Balance(ctx context.Context) (float64, error)
}

// WinRateSource provides historical performance for a wallet. Implementations
// may compute it from closed-position P&L; a false ok means stats are
// unavailable and the filter treats them as advisory.
type WinRateSource interface {
	WinRate(ctx context.Context, address string) (rate float64, ok bool, err error)
}

// VenueQuoter supplies an external venue's YES/NO quotes for cross-venue
// arbitrage. The detector works without one; its absence never affects
// internal-arbitrage detection.
type VenueQuoter interface {
	Quote(ctx context.Context, marketID string) (yes, no float64, ok bool, err error)
}

// Redeemer claims settlement proceeds for resolved markets. Trading is paused
// while it runs.
type Redeemer interface {
	Redeem(ctx context.Context) error
}
