// Package arbitrage scans market snapshots for risk-free pricing mismatches
// and maintains the live map of active opportunities read by the copy trader.
package arbitrage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/polymirror/copybot/internal/domain"
)

// Gate reports whether the pipeline is allowed to produce new orders. The
// orchestrator's pause state implements it.
type Gate interface {
	TradingAllowed() bool
}

// Config holds detection and execution parameters.
type Config struct {
	InternalEnabled   bool
	CrossVenueEnabled bool
	AutoExecute       bool
	MinProfitPct      float64
	MaxProfitPct      float64
	FeePct            float64 // applied to the combined leg cost
	MinLiquidityUSD   float64
	SizePerPairUSD    float64
	ScanInterval      time.Duration
	ScanMarkets       int
}

// view is one scan cycle's output. The whole struct is replaced by pointer
// swap so readers always see a consistent snapshot, never a half-updated map.
type view struct {
	opportunities map[string]domain.ArbOpportunity
	snapshots     map[string]domain.MarketSnapshot
	scannedAt     time.Time
}

// Detector polls market snapshots on its own interval and rebuilds the
// active-opportunity map wholesale each cycle. Opportunities that no longer
// qualify are dropped; nothing outlives a scan without re-confirmation.
type Detector struct {
	gateway domain.Gateway
	cfg     Config
	logger  *slog.Logger

	quoter domain.VenueQuoter // optional cross-venue quote source
	prices domain.PriceCache  // optional publication of observed prices
	gate   Gate               // optional; nil means always allowed

	requests chan<- domain.OrderRequest // non-nil enables pure-arb execution

	current atomic.Pointer[view]

	mu       sync.Mutex
	markets  []string // explicit scan list; empty means discover per cycle
	lastOpps map[string]bool
}

// NewDetector creates a Detector. Cross-venue quoting, price publication,
// the pause gate, and auto-execution are attached via the setters before Run.
func NewDetector(cfg Config, gateway domain.Gateway, logger *slog.Logger) *Detector {
	d := &Detector{
		gateway:  gateway,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "arb_detector")),
		lastOpps: make(map[string]bool),
	}
	d.current.Store(&view{
		opportunities: map[string]domain.ArbOpportunity{},
		snapshots:     map[string]domain.MarketSnapshot{},
	})
	return d
}

// SetVenueQuoter attaches an external venue's quote source. Its absence never
// affects internal-arbitrage detection.
func (d *Detector) SetVenueQuoter(q domain.VenueQuoter) { d.quoter = q }

// SetPriceCache attaches a cache that receives the best-ask prices observed
// each scan.
func (d *Detector) SetPriceCache(pc domain.PriceCache) { d.prices = pc }

// SetGate attaches the global trading-pause gate.
func (d *Detector) SetGate(g Gate) { d.gate = g }

// SetRequestChannel enables pure-arbitrage execution: newly qualifying
// opportunities are emitted as paired YES+NO order requests.
func (d *Detector) SetRequestChannel(ch chan<- domain.OrderRequest) { d.requests = ch }

// SetMarkets fixes the scan list. With an empty list the detector discovers
// active markets from the gateway every cycle.
func (d *Detector) SetMarkets(ids []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.markets = append([]string(nil), ids...)
}

// Run scans on the configured interval until ctx is cancelled.
func (d *Detector) Run(ctx context.Context) error {
	d.logger.Info("arb detector started",
		slog.Duration("scan_interval", d.cfg.ScanInterval),
		slog.Bool("auto_execute", d.cfg.AutoExecute && d.requests != nil),
	)
	defer d.logger.Info("arb detector stopped")

	ticker := time.NewTicker(d.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.Scan(ctx); err != nil {
				d.logger.Warn("scan cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Scan runs one detection cycle: fetch a snapshot per market, evaluate each,
// and swap in the new view. Per-market gateway errors are logged and skipped;
// the cycle continues with the remaining markets.
func (d *Detector) Scan(ctx context.Context) error {
	ids, err := d.scanList(ctx)
	if err != nil {
		return fmt.Errorf("arbitrage: resolve scan list: %w", err)
	}

	next := &view{
		opportunities: make(map[string]domain.ArbOpportunity),
		snapshots:     make(map[string]domain.MarketSnapshot, len(ids)),
		scannedAt:     time.Now().UTC(),
	}

	for _, id := range ids {
		snap, err := d.gateway.Snapshot(ctx, id)
		if err != nil {
			d.logger.Debug("snapshot fetch failed",
				slog.String("market", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		next.snapshots[id] = snap
		d.publishPrices(ctx, snap)

		if d.cfg.InternalEnabled {
			if opp, ok := d.evaluateInternal(snap); ok {
				next.opportunities[id] = opp
				continue
			}
		}
		if d.cfg.CrossVenueEnabled && d.quoter != nil {
			if opp, ok := d.evaluateCrossVenue(ctx, snap); ok {
				next.opportunities[id] = opp
			}
		}
	}

	d.current.Store(next)
	d.emitNew(ctx, next)
	return nil
}

// scanList returns the market IDs for this cycle.
func (d *Detector) scanList(ctx context.Context) ([]string, error) {
	d.mu.Lock()
	fixed := append([]string(nil), d.markets...)
	d.mu.Unlock()
	if len(fixed) > 0 {
		return fixed, nil
	}

	markets, err := d.gateway.ActiveMarkets(ctx, d.cfg.ScanMarkets)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(markets))
	for _, m := range markets {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// evaluateInternal checks one snapshot for same-market YES+NO mispricing.
// Profit is 1.0 minus the fee-adjusted combined cost; the opportunity is
// active only inside the configured band (profit at or above the max is
// treated as suspect pricing) and with both legs meeting the liquidity
// minimum.
func (d *Detector) evaluateInternal(snap domain.MarketSnapshot) (domain.ArbOpportunity, bool) {
	if snap.YesAsk <= 0 || snap.NoAsk <= 0 {
		return domain.ArbOpportunity{}, false
	}

	cost := snap.YesAsk + snap.NoAsk
	profit := 1.0 - cost*(1.0+d.cfg.FeePct)

	if profit < d.cfg.MinProfitPct || profit >= d.cfg.MaxProfitPct {
		return domain.ArbOpportunity{}, false
	}
	if snap.LiquidityYesUSD < d.cfg.MinLiquidityUSD || snap.LiquidityNoUSD < d.cfg.MinLiquidityUSD {
		return domain.ArbOpportunity{}, false
	}

	return domain.ArbOpportunity{
		MarketID:        snap.MarketID,
		Question:        snap.Question,
		Kind:            domain.OpportunityInternal,
		YesPrice:        snap.YesAsk,
		NoPrice:         snap.NoAsk,
		TotalCost:       cost,
		ProfitPct:       profit,
		LiquidityYesUSD: snap.LiquidityYesUSD,
		LiquidityNoUSD:  snap.LiquidityNoUSD,
		DetectedAt:      time.Now().UTC(),
	}, true
}

// evaluateCrossVenue compares the local YES ask against an external venue's
// quote for the same event. Same band and liquidity rules as internal.
func (d *Detector) evaluateCrossVenue(ctx context.Context, snap domain.MarketSnapshot) (domain.ArbOpportunity, bool) {
	extYes, extNo, ok, err := d.quoter.Quote(ctx, snap.MarketID)
	if err != nil {
		d.logger.Debug("venue quote failed",
			slog.String("market", snap.MarketID),
			slog.String("error", err.Error()),
		)
		return domain.ArbOpportunity{}, false
	}
	if !ok {
		return domain.ArbOpportunity{}, false
	}

	// Cheapest way to hold both legs across venues.
	cost := snap.YesAsk + extNo
	if alt := extYes + snap.NoAsk; alt < cost {
		cost = alt
	}
	profit := 1.0 - cost*(1.0+d.cfg.FeePct)

	if profit < d.cfg.MinProfitPct || profit >= d.cfg.MaxProfitPct {
		return domain.ArbOpportunity{}, false
	}
	if snap.LiquidityYesUSD < d.cfg.MinLiquidityUSD || snap.LiquidityNoUSD < d.cfg.MinLiquidityUSD {
		return domain.ArbOpportunity{}, false
	}

	return domain.ArbOpportunity{
		MarketID:        snap.MarketID,
		Question:        snap.Question,
		Kind:            domain.OpportunityCrossVenue,
		YesPrice:        snap.YesAsk,
		NoPrice:         extNo,
		TotalCost:       cost,
		ProfitPct:       profit,
		LiquidityYesUSD: snap.LiquidityYesUSD,
		LiquidityNoUSD:  snap.LiquidityNoUSD,
		DetectedAt:      time.Now().UTC(),
	}, true
}

// emitNew sends paired order requests for opportunities that appeared this
// cycle. Rising-edge only: a market keeps its opportunity across consecutive
// scans without re-emitting.
func (d *Detector) emitNew(ctx context.Context, v *view) {
	if !d.cfg.AutoExecute || d.requests == nil {
		d.rememberOpps(v)
		return
	}
	if d.gate != nil && !d.gate.TradingAllowed() {
		d.rememberOpps(v)
		return
	}

	d.mu.Lock()
	prev := d.lastOpps
	d.mu.Unlock()

	for id, opp := range v.opportunities {
		if prev[id] || opp.Kind != domain.OpportunityInternal {
			continue
		}
		yes, no := PairRequests(opp, d.cfg.SizePerPairUSD)
		for _, req := range []domain.OrderRequest{yes, no} {
			select {
			case d.requests <- req:
			case <-ctx.Done():
				return
			}
		}
		d.logger.Info("arbitrage pair emitted",
			slog.String("market", id),
			slog.Float64("profit_pct", opp.ProfitPct),
			slog.Float64("size_usd", d.cfg.SizePerPairUSD),
		)
	}
	d.rememberOpps(v)
}

func (d *Detector) rememberOpps(v *view) {
	seen := make(map[string]bool, len(v.opportunities))
	for id := range v.opportunities {
		seen[id] = true
	}
	d.mu.Lock()
	d.lastOpps = seen
	d.mu.Unlock()
}

func (d *Detector) publishPrices(ctx context.Context, snap domain.MarketSnapshot) {
	if d.prices == nil {
		return
	}
	if err := d.prices.SetPrice(ctx, snap.YesTokenID, snap.YesAsk, snap.Timestamp); err != nil {
		d.logger.Debug("price publish failed", slog.String("error", err.Error()))
		return
	}
	if err := d.prices.SetPrice(ctx, snap.NoTokenID, snap.NoAsk, snap.Timestamp); err != nil {
		d.logger.Debug("price publish failed", slog.String("error", err.Error()))
	}
}

// Opportunity returns the active opportunity for a market, if any, as of the
// latest completed scan.
func (d *Detector) Opportunity(marketID string) (domain.ArbOpportunity, bool) {
	opp, ok := d.current.Load().opportunities[marketID]
	return opp, ok
}

// HasOpportunity reports whether a market currently qualifies.
func (d *Detector) HasOpportunity(marketID string) bool {
	_, ok := d.Opportunity(marketID)
	return ok
}

// Snapshot returns the latest market snapshot seen by the scanner.
func (d *Detector) Snapshot(marketID string) (domain.MarketSnapshot, bool) {
	snap, ok := d.current.Load().snapshots[marketID]
	return snap, ok
}

// Opportunities returns all active opportunities from the latest scan.
func (d *Detector) Opportunities() []domain.ArbOpportunity {
	cur := d.current.Load()
	out := make([]domain.ArbOpportunity, 0, len(cur.opportunities))
	for _, opp := range cur.opportunities {
		out = append(out, opp)
	}
	return out
}

// ObserveSnapshot folds an externally sourced snapshot (e.g. the websocket
// price stream) into the current view without waiting for the next REST
// scan. The opportunity map is not touched; the scan cycle remains the
// authority on what qualifies.
func (d *Detector) ObserveSnapshot(snap domain.MarketSnapshot) {
	for {
		cur := d.current.Load()
		if existing, ok := cur.snapshots[snap.MarketID]; ok && existing.Timestamp.After(snap.Timestamp) {
			return
		}
		next := &view{
			opportunities: cur.opportunities,
			snapshots:     make(map[string]domain.MarketSnapshot, len(cur.snapshots)+1),
			scannedAt:     cur.scannedAt,
		}
		for k, s := range cur.snapshots {
			next.snapshots[k] = s
		}
		next.snapshots[snap.MarketID] = snap
		if d.current.CompareAndSwap(cur, next) {
			return
		}
	}
}

// PairRequests builds the two buy legs for an internal arbitrage
// opportunity, splitting the notional evenly and tagging both with a shared
// pair ID so the executor can treat them as a group.
func PairRequests(opp domain.ArbOpportunity, sizeUSD float64) (yes, no domain.OrderRequest) {
	pairID := uuid.New().String()
	now := time.Now().UTC()
	half := sizeUSD / 2

	yes = domain.OrderRequest{
		ID:        uuid.New().String(),
		MarketID:  opp.MarketID,
		Outcome:   domain.OutcomeYes,
		Side:      domain.TradeSideBuy,
		Price:     opp.YesPrice,
		Shares:    half / opp.YesPrice,
		SizeUSD:   half,
		Source:    domain.OrderSourceArbitrage,
		PairID:    pairID,
		CreatedAt: now,
	}
	no = domain.OrderRequest{
		ID:        uuid.New().String(),
		MarketID:  opp.MarketID,
		Outcome:   domain.OutcomeNo,
		Side:      domain.TradeSideBuy,
		Price:     opp.NoPrice,
		Shares:    half / opp.NoPrice,
		SizeUSD:   half,
		Source:    domain.OrderSourceArbitrage,
		PairID:    pairID,
		CreatedAt: now,
	}
	return yes, no
}
