package domain

import "time"

// Market describes a binary-outcome prediction market as listed by the
// exchange.
type Market struct {
	ID          string
	Question    string
	Slug        string
	YesTokenID  string
	NoTokenID   string
	ConditionID string
	NegRisk     bool
	Volume24h   float64
	Active      bool
}

// MarketSnapshot is a point-in-time view of one market's pricing and
// liquidity. Each snapshot supersedes the previous one for the same market;
// no history is retained beyond the latest.
type MarketSnapshot struct {
	MarketID        string
	Question        string
	YesTokenID      string
	NoTokenID       string
	YesAsk          float64 // best ask for the YES token
	NoAsk           float64 // best ask for the NO token
	YesBid          float64
	NoBid           float64
	LiquidityYesUSD float64 // notional available at the YES best ask
	LiquidityNoUSD  float64 // notional available at the NO best ask
	TickSize        float64 // minimum price/size increment
	MinOrderUSD     float64 // exchange minimum order notional
	NegRisk         bool
	Timestamp       time.Time
}

// AskFor returns the best ask price for the given outcome.
func (s MarketSnapshot) AskFor(o Outcome) float64 {
	if o == OutcomeYes {
		return s.YesAsk
	}
	return s.NoAsk
}

// TokenFor returns the token ID for the given outcome.
func (s MarketSnapshot) TokenFor(o Outcome) string {
	if o == OutcomeYes {
		return s.YesTokenID
	}
	return s.NoTokenID
}

// LiquidityFor returns the available notional at the best ask for the given
// outcome.
func (s MarketSnapshot) LiquidityFor(o Outcome) float64 {
	if o == OutcomeYes {
		return s.LiquidityYesUSD
	}
	return s.LiquidityNoUSD
}
