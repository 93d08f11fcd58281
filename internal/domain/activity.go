// Package domain defines the core types and interfaces shared by every
// stage of the copy-trading pipeline. It has no dependencies on the
// platform, storage, or pipeline packages.
package domain

import "time"

// TradeSide is the direction of a trade.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// Outcome is one leg of a binary market.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// Opposite returns the other leg.
func (o Outcome) Opposite() Outcome {
	if o == OutcomeYes {
		return OutcomeNo
	}
	return OutcomeYes
}

// WalletActivity is one observed trade by a tracked wallet, as reported by
// the exchange's activity feed. Immutable once emitted by the monitor.
type WalletActivity struct {
	Wallet     string // address of the tracked wallet
	WalletName string // operator-assigned label from config
	MarketID   string
	Question   string
	Outcome    Outcome
	Side       TradeSide
	Price      float64
	Shares     float64
	SizeUSD    float64
	TradeID    string // venue-unique, used for dedup
	TxHash     string
	Timestamp  time.Time
}
