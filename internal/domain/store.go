package domain

import (
	"context"
	"time"
)

// PositionStore persists positions so the bot can resume exposure state
// after a restart.
type PositionStore interface {
	Upsert(ctx context.Context, p Position) error
	Delete(ctx context.Context, marketID string, outcome Outcome) error
	ListOpen(ctx context.Context) ([]Position, error)
}

// CopyDecision records what the pipeline did with an observed trade.
type CopyDecision string

const (
	DecisionCopied   CopyDecision = "copied"
	DecisionSkipped  CopyDecision = "skipped"
	DecisionRejected CopyDecision = "rejected"
)

// CopyLogEntry is one row of the copy-decision audit trail.
type CopyLogEntry struct {
	ID        string
	Wallet    string
	MarketID  string
	Outcome   Outcome
	Side      TradeSide
	Price     float64
	SizeUSD   float64
	Decision  CopyDecision
	Reason    string // veto or rejection reason, empty when copied
	OrderID   string // gateway order id when copied
	CreatedAt time.Time
}

// CopyLogStore persists the copy-decision audit trail.
type CopyLogStore interface {
	Record(ctx context.Context, e CopyLogEntry) error
	ListBefore(ctx context.Context, before time.Time) ([]CopyLogEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
