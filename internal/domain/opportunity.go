package domain

import "time"

// OpportunityKind distinguishes same-market arbitrage from cross-venue
// mispricing.
type OpportunityKind string

const (
	OpportunityInternal   OpportunityKind = "internal"
	OpportunityCrossVenue OpportunityKind = "cross_venue"
)

// ArbOpportunity is a detected risk-free pricing mismatch. Opportunities live
// only inside one detection cycle: the detector rebuilds the active map on
// every scan and anything that no longer qualifies is dropped.
type ArbOpportunity struct {
	MarketID        string
	Question        string
	Kind            OpportunityKind
	YesPrice        float64
	NoPrice         float64
	TotalCost       float64 // yes + no, before fee adjustment
	ProfitPct       float64 // fraction, e.g. 0.03 for 3%
	LiquidityYesUSD float64
	LiquidityNoUSD  float64
	DetectedAt      time.Time
}
