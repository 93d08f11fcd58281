package domain

import "time"

// OrderSource identifies why an order request was created.
type OrderSource string

const (
	OrderSourceCopyTrade OrderSource = "copy_trade"
	OrderSourceArbitrage OrderSource = "arbitrage"
	OrderSourceHedge     OrderSource = "hedge"
)

// OrderRequest is a fully-sized, not-yet-validated order. It is created by
// the copy trader or the arbitrage detector, validated by the risk manager,
// and consumed by the executor. Immutable.
type OrderRequest struct {
	ID         string // UUID assigned at creation
	MarketID   string
	TokenID    string
	Outcome    Outcome
	Side       TradeSide
	Price      float64 // limit price; orders execute immediate-or-cancel
	Shares     float64
	SizeUSD    float64
	Source     OrderSource
	CopiedFrom string // wallet address when Source is copy_trade
	PairID     string // shared by the two legs of an arbitrage pair
	CreatedAt  time.Time
}

// OrderStatus tracks a submitted order's lifecycle at the exchange.
type OrderStatus string

const (
	OrderStatusSubmitted       OrderStatus = "submitted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Terminal reports whether the status is final. A pending order reaching a
// terminal status is removed from the executor's pending set.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// PendingOrder is an OrderRequest that has been accepted by the gateway and
// is being tracked to a terminal state. Owned by the executor.
type PendingOrder struct {
	Request      OrderRequest
	OrderID      string // gateway-assigned
	Status       OrderStatus
	FilledShares float64
	FilledPrice  float64
	SubmittedAt  time.Time
	UpdatedAt    time.Time
}

// Fill reports the executed part of an order back to the risk manager.
type Fill struct {
	OrderID string
	Price   float64
	Shares  float64
	SizeUSD float64
	Time    time.Time
}

// OrderAck is the gateway's synchronous response to a submission.
type OrderAck struct {
	OrderID string
	Status  OrderStatus
	Message string // venue-supplied reason on rejection
}

// OrderUpdate is the result of polling a pending order's status.
type OrderUpdate struct {
	Status       OrderStatus
	FilledShares float64
	FilledPrice  float64
}
