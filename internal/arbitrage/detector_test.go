package arbitrage

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polymirror/copybot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGateway serves canned snapshots and records nothing else.
type fakeGateway struct {
	mu        sync.Mutex
	snapshots map[string]domain.MarketSnapshot
	markets   []domain.Market
}

func (f *fakeGateway) Snapshot(_ context.Context, marketID string) (domain.MarketSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.snapshots[marketID]
	if !ok {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

func (f *fakeGateway) ActiveMarkets(context.Context, int) ([]domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markets, nil
}

func (f *fakeGateway) WalletActivity(context.Context, string, time.Time, int) ([]domain.WalletActivity, error) {
	return nil, nil
}

func (f *fakeGateway) SubmitOrder(context.Context, domain.OrderRequest) (domain.OrderAck, error) {
	return domain.OrderAck{}, nil
}

func (f *fakeGateway) OrderStatus(context.Context, string) (domain.OrderUpdate, error) {
	return domain.OrderUpdate{}, nil
}

func (f *fakeGateway) CancelOrder(context.Context, string) error { return nil }
func (f *fakeGateway) Balance(context.Context) (float64, error)  { return 10000, nil }

func snapshot(marketID string, yesAsk, noAsk float64) domain.MarketSnapshot {
	return domain.MarketSnapshot{
		MarketID:        marketID,
		Question:        "test market " + marketID,
		YesTokenID:      marketID + "-yes",
		NoTokenID:       marketID + "-no",
		YesAsk:          yesAsk,
		NoAsk:           noAsk,
		LiquidityYesUSD: 5000,
		LiquidityNoUSD:  5000,
		Timestamp:       time.Now().UTC(),
	}
}

func testConfig() Config {
	return Config{
		InternalEnabled: true,
		MinProfitPct:    0.01,
		MaxProfitPct:    0.05,
		FeePct:          0,
		MinLiquidityUSD: 1000,
		SizePerPairUSD:  50,
		ScanInterval:    time.Second,
		ScanMarkets:     10,
	}
}

func TestScanFindsUnderpricedPair(t *testing.T) {
	gw := &fakeGateway{snapshots: map[string]domain.MarketSnapshot{
		"mkt-1": snapshot("mkt-1", 0.48, 0.49),
	}}
	d := NewDetector(testConfig(), gw, testLogger())
	d.SetMarkets([]string{"mkt-1"})

	require.NoError(t, d.Scan(context.Background()))

	opp, ok := d.Opportunity("mkt-1")
	require.True(t, ok)
	assert.InDelta(t, 0.03, opp.ProfitPct, 1e-9)
	assert.Equal(t, domain.OpportunityInternal, opp.Kind)
	assert.InDelta(t, 0.97, opp.TotalCost, 1e-9)
}

func TestScanIgnoresFairlyPricedPair(t *testing.T) {
	gw := &fakeGateway{snapshots: map[string]domain.MarketSnapshot{
		"mkt-1": snapshot("mkt-1", 0.52, 0.50),
	}}
	d := NewDetector(testConfig(), gw, testLogger())
	d.SetMarkets([]string{"mkt-1"})

	require.NoError(t, d.Scan(context.Background()))
	assert.False(t, d.HasOpportunity("mkt-1"))
}

func TestScanTreatsExtremeProfitAsSuspect(t *testing.T) {
	// 0.40 + 0.40 = 0.80: a 20% "profit" means stale or broken pricing.
	gw := &fakeGateway{snapshots: map[string]domain.MarketSnapshot{
		"mkt-1": snapshot("mkt-1", 0.40, 0.40),
	}}
	d := NewDetector(testConfig(), gw, testLogger())
	d.SetMarkets([]string{"mkt-1"})

	require.NoError(t, d.Scan(context.Background()))
	assert.False(t, d.HasOpportunity("mkt-1"))
}

func TestScanRequiresLiquidityOnBothLegs(t *testing.T) {
	thin := snapshot("mkt-1", 0.48, 0.49)
	thin.LiquidityNoUSD = 500
	gw := &fakeGateway{snapshots: map[string]domain.MarketSnapshot{"mkt-1": thin}}
	d := NewDetector(testConfig(), gw, testLogger())
	d.SetMarkets([]string{"mkt-1"})

	require.NoError(t, d.Scan(context.Background()))
	assert.False(t, d.HasOpportunity("mkt-1"))
}

func TestFeeAdjustmentShrinksProfit(t *testing.T) {
	cfg := testConfig()
	cfg.FeePct = 0.01
	gw := &fakeGateway{snapshots: map[string]domain.MarketSnapshot{
		"mkt-1": snapshot("mkt-1", 0.48, 0.49),
	}}
	d := NewDetector(cfg, gw, testLogger())
	d.SetMarkets([]string{"mkt-1"})

	require.NoError(t, d.Scan(context.Background()))
	opp, ok := d.Opportunity("mkt-1")
	require.True(t, ok)
	// 1 - 0.97*1.01 = 0.0203
	assert.InDelta(t, 0.0203, opp.ProfitPct, 1e-9)
}

func TestScanDropsVanishedOpportunities(t *testing.T) {
	gw := &fakeGateway{snapshots: map[string]domain.MarketSnapshot{
		"mkt-1": snapshot("mkt-1", 0.48, 0.49),
	}}
	d := NewDetector(testConfig(), gw, testLogger())
	d.SetMarkets([]string{"mkt-1"})

	require.NoError(t, d.Scan(context.Background()))
	require.True(t, d.HasOpportunity("mkt-1"))

	gw.mu.Lock()
	gw.snapshots["mkt-1"] = snapshot("mkt-1", 0.55, 0.50)
	gw.mu.Unlock()

	require.NoError(t, d.Scan(context.Background()))
	assert.False(t, d.HasOpportunity("mkt-1"))
}

func TestAutoExecuteEmitsPairOnRisingEdgeOnly(t *testing.T) {
	cfg := testConfig()
	cfg.AutoExecute = true
	gw := &fakeGateway{snapshots: map[string]domain.MarketSnapshot{
		"mkt-1": snapshot("mkt-1", 0.48, 0.49),
	}}
	d := NewDetector(cfg, gw, testLogger())
	d.SetMarkets([]string{"mkt-1"})

	requests := make(chan domain.OrderRequest, 4)
	d.SetRequestChannel(requests)

	require.NoError(t, d.Scan(context.Background()))
	require.Len(t, requests, 2)

	yes := <-requests
	no := <-requests
	assert.Equal(t, domain.TradeSideBuy, yes.Side)
	assert.Equal(t, domain.TradeSideBuy, no.Side)
	assert.Equal(t, domain.OutcomeYes, yes.Outcome)
	assert.Equal(t, domain.OutcomeNo, no.Outcome)
	assert.Equal(t, yes.PairID, no.PairID)
	assert.NotEmpty(t, yes.PairID)
	assert.Equal(t, domain.OrderSourceArbitrage, yes.Source)
	assert.InDelta(t, 25.0, yes.SizeUSD, 1e-9)

	// Second scan, same opportunity: nothing new emitted.
	require.NoError(t, d.Scan(context.Background()))
	assert.Empty(t, requests)
}

type closedGate struct{}

func (closedGate) TradingAllowed() bool { return false }

func TestAutoExecuteRespectsGate(t *testing.T) {
	cfg := testConfig()
	cfg.AutoExecute = true
	gw := &fakeGateway{snapshots: map[string]domain.MarketSnapshot{
		"mkt-1": snapshot("mkt-1", 0.48, 0.49),
	}}
	d := NewDetector(cfg, gw, testLogger())
	d.SetMarkets([]string{"mkt-1"})
	d.SetGate(closedGate{})

	requests := make(chan domain.OrderRequest, 4)
	d.SetRequestChannel(requests)

	require.NoError(t, d.Scan(context.Background()))
	assert.True(t, d.HasOpportunity("mkt-1"), "detection continues while paused")
	assert.Empty(t, requests, "emission stops while paused")
}

func TestObserveSnapshotRefreshesView(t *testing.T) {
	gw := &fakeGateway{snapshots: map[string]domain.MarketSnapshot{}}
	d := NewDetector(testConfig(), gw, testLogger())

	fresh := snapshot("mkt-1", 0.45, 0.46)
	d.ObserveSnapshot(fresh)

	got, ok := d.Snapshot("mkt-1")
	require.True(t, ok)
	assert.Equal(t, 0.45, got.YesAsk)

	// An older snapshot must not clobber a newer one.
	stale := snapshot("mkt-1", 0.60, 0.60)
	stale.Timestamp = fresh.Timestamp.Add(-time.Minute)
	d.ObserveSnapshot(stale)

	got, _ = d.Snapshot("mkt-1")
	assert.Equal(t, 0.45, got.YesAsk)
}

func TestScanDiscoversMarketsWhenListEmpty(t *testing.T) {
	gw := &fakeGateway{
		snapshots: map[string]domain.MarketSnapshot{
			"mkt-1": snapshot("mkt-1", 0.48, 0.49),
		},
		markets: []domain.Market{{ID: "mkt-1", Active: true}},
	}
	d := NewDetector(testConfig(), gw, testLogger())

	require.NoError(t, d.Scan(context.Background()))
	assert.True(t, d.HasOpportunity("mkt-1"))
}
