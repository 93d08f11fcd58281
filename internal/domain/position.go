package domain

import "time"

// Position is the net holding in one market+outcome pair. Positions are
// owned exclusively by the risk manager and mutated only on confirmed fills.
type Position struct {
	MarketID      string
	Outcome       Outcome
	Shares        float64
	SizeUSD       float64 // open notional at entry prices
	AvgEntryPrice float64
	RealizedPnL   float64
	OpenedAt      time.Time
	UpdatedAt     time.Time
}

// ExposureReport is a consistent snapshot of the risk manager's state, taken
// under its lock. Used for logging, hedge decisions, and notifications.
type ExposureReport struct {
	TotalExposureUSD float64
	ReservedUSD      float64
	DailyPnLUSD      float64
	BalanceUSD       float64
	OpenPositions    int
	MarketExposures  map[string]float64
	AvailableUSD     float64
}

// RiskLimits is the static risk configuration. Read-only after startup.
type RiskLimits struct {
	MaxTotalExposureUSD     float64
	MaxPositionPerMarketUSD float64
	MaxOrderUSD             float64 // global per-order cap
	MaxDailyLossUSD         float64
	MinLiquidityUSD         float64
	MaxSlippagePct          float64
	MinBalanceUSD           float64 // floor reserve never spent
	MinOrderUSD             float64 // fallback when a snapshot has no venue minimum
	EnableAutoHedge         bool
	HedgeImbalancePct       float64 // leg imbalance tolerance, e.g. 0.20
}
