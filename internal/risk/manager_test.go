package risk

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polymirror/copybot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testLimits() domain.RiskLimits {
	return domain.RiskLimits{
		MaxTotalExposureUSD:     10000,
		MaxPositionPerMarketUSD: 2000,
		MaxOrderUSD:             2000,
		MaxDailyLossUSD:         500,
		MinLiquidityUSD:         1000,
		MaxSlippagePct:          0.02,
		MinBalanceUSD:           100,
		MinOrderUSD:             10,
		EnableAutoHedge:         true,
		HedgeImbalancePct:       0.20,
	}
}

func buyRequest(marketID string, sizeUSD float64) domain.OrderRequest {
	return domain.OrderRequest{
		ID:        uuid.New().String(),
		MarketID:  marketID,
		Outcome:   domain.OutcomeYes,
		Side:      domain.TradeSideBuy,
		Price:     0.50,
		Shares:    sizeUSD / 0.50,
		SizeUSD:   sizeUSD,
		Source:    domain.OrderSourceCopyTrade,
		CreatedAt: time.Now().UTC(),
	}
}

func liquidSnapshot(marketID string) domain.MarketSnapshot {
	return domain.MarketSnapshot{
		MarketID:        marketID,
		YesAsk:          0.50,
		NoAsk:           0.50,
		LiquidityYesUSD: 5000,
		LiquidityNoUSD:  5000,
		MinOrderUSD:     10,
		Timestamp:       time.Now().UTC(),
	}
}

func TestValidateReservesExposure(t *testing.T) {
	m := NewManager(testLimits(), nil, testLogger())
	m.SetBalance(50000)

	req := buyRequest("mkt-1", 500)
	require.NoError(t, m.Validate(req, liquidSnapshot("mkt-1")))

	report := m.Report()
	assert.Equal(t, 500.0, report.ReservedUSD)
	assert.Equal(t, 0.0, report.TotalExposureUSD)

	m.Release(req.ID)
	assert.Equal(t, 0.0, m.Report().ReservedUSD)
}

func TestValidateRejectsPerOrderCap(t *testing.T) {
	m := NewManager(testLimits(), nil, testLogger())
	m.SetBalance(50000)

	err := m.Validate(buyRequest("mkt-1", 2500), liquidSnapshot("mkt-1"))
	re, ok := domain.IsRejection(err)
	require.True(t, ok)
	assert.Equal(t, domain.RejectInvalidSize, re.Reason)
}

func TestValidateRejectsBelowVenueMinimum(t *testing.T) {
	m := NewManager(testLimits(), nil, testLogger())
	m.SetBalance(50000)

	err := m.Validate(buyRequest("mkt-1", 5), liquidSnapshot("mkt-1"))
	re, ok := domain.IsRejection(err)
	require.True(t, ok)
	assert.Equal(t, domain.RejectInvalidSize, re.Reason)

	// Without a snapshot the configured minimum applies instead.
	err = m.Validate(buyRequest("mkt-2", 5), domain.MarketSnapshot{})
	re, ok = domain.IsRejection(err)
	require.True(t, ok)
	assert.Equal(t, domain.RejectInvalidSize, re.Reason)
}

func TestValidateRejectsMarketCap(t *testing.T) {
	m := NewManager(testLimits(), nil, testLogger())
	m.SetBalance(50000)

	req := buyRequest("mkt-1", 1800)
	require.NoError(t, m.Validate(req, liquidSnapshot("mkt-1")))
	m.OnFill(context.Background(), req, domain.Fill{
		OrderID: "o-1", Price: 0.50, Shares: 3600, SizeUSD: 1800, Time: time.Now(),
	}, true)

	err := m.Validate(buyRequest("mkt-1", 300), liquidSnapshot("mkt-1"))
	re, ok := domain.IsRejection(err)
	require.True(t, ok)
	assert.Equal(t, domain.RejectMarketCap, re.Reason)

	// A different market still has headroom.
	assert.NoError(t, m.Validate(buyRequest("mkt-2", 300), liquidSnapshot("mkt-2")))
}

func TestValidateCountsReservationsAgainstTotalCap(t *testing.T) {
	limits := testLimits()
	limits.MaxPositionPerMarketUSD = 10000
	limits.MaxOrderUSD = 10000
	m := NewManager(limits, nil, testLogger())
	m.SetBalance(100000)

	require.NoError(t, m.Validate(buyRequest("mkt-1", 6000), liquidSnapshot("mkt-1")))

	// Nothing filled yet, but the reservation alone must block this.
	err := m.Validate(buyRequest("mkt-2", 6000), liquidSnapshot("mkt-2"))
	re, ok := domain.IsRejection(err)
	require.True(t, ok)
	assert.Equal(t, domain.RejectTotalCap, re.Reason)
}

func TestConcurrentValidateNeverOvercommits(t *testing.T) {
	limits := testLimits()
	limits.MaxPositionPerMarketUSD = 10000
	m := NewManager(limits, nil, testLogger())
	m.SetBalance(1000000)

	const workers = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0.0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := buyRequest("mkt-1", 400)
			if err := m.Validate(req, liquidSnapshot("mkt-1")); err == nil {
				mu.Lock()
				accepted += req.SizeUSD
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, accepted, limits.MaxTotalExposureUSD)
	assert.Equal(t, accepted, m.Report().ReservedUSD)
}

func TestDailyLossBlocksAllOrders(t *testing.T) {
	m := NewManager(testLimits(), nil, testLogger())
	m.SetBalance(50000)

	// Build a position, then realize a loss past the limit.
	buy := buyRequest("mkt-1", 1000)
	require.NoError(t, m.Validate(buy, liquidSnapshot("mkt-1")))
	m.OnFill(context.Background(), buy, domain.Fill{
		OrderID: "o-1", Price: 0.50, Shares: 2000, SizeUSD: 1000, Time: time.Now(),
	}, true)

	sell := buyRequest("mkt-1", 400)
	sell.Side = domain.TradeSideSell
	sell.Price = 0.20
	require.NoError(t, m.Validate(sell, liquidSnapshot("mkt-1")))
	// 2000 shares sold at 0.20 against 0.50 entry: -600 realized.
	m.OnFill(context.Background(), sell, domain.Fill{
		OrderID: "o-2", Price: 0.20, Shares: 2000, SizeUSD: 400, Time: time.Now(),
	}, true)

	require.True(t, m.DailyLossBreached())

	err := m.Validate(buyRequest("mkt-2", 100), liquidSnapshot("mkt-2"))
	re, ok := domain.IsRejection(err)
	require.True(t, ok)
	assert.Equal(t, domain.RejectDailyLoss, re.Reason)
}

func TestDailyCountersResetOnDateChange(t *testing.T) {
	m := NewManager(testLimits(), nil, testLogger())
	m.RecordPnL(-600)
	require.True(t, m.DailyLossBreached())

	now := time.Now().UTC().Add(25 * time.Hour)
	m.mu.Lock()
	m.now = func() time.Time { return now }
	m.mu.Unlock()

	assert.False(t, m.DailyLossBreached())
	assert.Equal(t, 0.0, m.Report().DailyPnLUSD)
}

func TestValidateRejectsSlippage(t *testing.T) {
	m := NewManager(testLimits(), nil, testLogger())
	m.SetBalance(50000)

	snap := liquidSnapshot("mkt-1")
	snap.YesAsk = 0.53 // 6% above the 0.50 signal price

	err := m.Validate(buyRequest("mkt-1", 500), snap)
	re, ok := domain.IsRejection(err)
	require.True(t, ok)
	assert.Equal(t, domain.RejectSlippage, re.Reason)
}

func TestValidateRejectsThinLiquidity(t *testing.T) {
	m := NewManager(testLimits(), nil, testLogger())
	m.SetBalance(50000)

	snap := liquidSnapshot("mkt-1")
	snap.LiquidityYesUSD = 200

	err := m.Validate(buyRequest("mkt-1", 500), snap)
	re, ok := domain.IsRejection(err)
	require.True(t, ok)
	assert.Equal(t, domain.RejectLiquidity, re.Reason)
}

func TestValidateRejectsBalanceFloor(t *testing.T) {
	m := NewManager(testLimits(), nil, testLogger())
	m.SetBalance(550)

	// 550 - 500 leaves 50, under the 100 floor.
	err := m.Validate(buyRequest("mkt-1", 500), liquidSnapshot("mkt-1"))
	re, ok := domain.IsRejection(err)
	require.True(t, ok)
	assert.Equal(t, domain.RejectBalance, re.Reason)
}

func TestPartialFillConsumesReservationIncrementally(t *testing.T) {
	m := NewManager(testLimits(), nil, testLogger())
	m.SetBalance(50000)

	req := buyRequest("mkt-1", 1000)
	require.NoError(t, m.Validate(req, liquidSnapshot("mkt-1")))

	m.OnFill(context.Background(), req, domain.Fill{
		OrderID: "o-1", Price: 0.50, Shares: 800, SizeUSD: 400, Time: time.Now(),
	}, false)

	report := m.Report()
	assert.Equal(t, 600.0, report.ReservedUSD)
	assert.Equal(t, 400.0, report.TotalExposureUSD)

	// Terminal update releases the remainder.
	m.OnFill(context.Background(), req, domain.Fill{
		OrderID: "o-1", Price: 0.50, Shares: 200, SizeUSD: 100, Time: time.Now(),
	}, true)
	report = m.Report()
	assert.Equal(t, 0.0, report.ReservedUSD)
	assert.Equal(t, 500.0, report.TotalExposureUSD)
}

func TestSuggestHedgesTopsUpShortLeg(t *testing.T) {
	m := NewManager(testLimits(), nil, testLogger())
	m.SetBalance(50000)

	yes := buyRequest("mkt-1", 500)
	require.NoError(t, m.Validate(yes, liquidSnapshot("mkt-1")))
	m.OnFill(context.Background(), yes, domain.Fill{
		OrderID: "o-1", Price: 0.50, Shares: 1000, SizeUSD: 500, Time: time.Now(),
	}, true)

	no := buyRequest("mkt-1", 250)
	no.Outcome = domain.OutcomeNo
	require.NoError(t, m.Validate(no, liquidSnapshot("mkt-1")))
	m.OnFill(context.Background(), no, domain.Fill{
		OrderID: "o-2", Price: 0.50, Shares: 500, SizeUSD: 250, Time: time.Now(),
	}, true)

	hedges := m.SuggestHedges(func(string, domain.Outcome) (float64, bool) {
		return 0.50, true
	})
	require.Len(t, hedges, 1)
	assert.Equal(t, domain.OutcomeNo, hedges[0].Outcome)
	assert.Equal(t, domain.OrderSourceHedge, hedges[0].Source)
	assert.InDelta(t, 500.0, hedges[0].Shares, 1e-9)
}

func TestSuggestHedgesIgnoresBalancedAndOneSided(t *testing.T) {
	m := NewManager(testLimits(), nil, testLogger())
	m.SetBalance(50000)

	// One-sided directional position: no hedge.
	yes := buyRequest("mkt-1", 500)
	require.NoError(t, m.Validate(yes, liquidSnapshot("mkt-1")))
	m.OnFill(context.Background(), yes, domain.Fill{
		OrderID: "o-1", Price: 0.50, Shares: 1000, SizeUSD: 500, Time: time.Now(),
	}, true)

	// Balanced pair within tolerance: no hedge.
	for i, o := range []domain.Outcome{domain.OutcomeYes, domain.OutcomeNo} {
		req := buyRequest("mkt-2", 500)
		req.Outcome = o
		require.NoError(t, m.Validate(req, liquidSnapshot("mkt-2")))
		shares := 1000.0
		if i == 1 {
			shares = 900 // 10% gap, under the 20% tolerance
		}
		m.OnFill(context.Background(), req, domain.Fill{
			OrderID: "o", Price: 0.50, Shares: shares, SizeUSD: shares * 0.50, Time: time.Now(),
		}, true)
	}

	hedges := m.SuggestHedges(func(string, domain.Outcome) (float64, bool) {
		return 0.50, true
	})
	assert.Empty(t, hedges)
}

func TestResumeLoadsPositions(t *testing.T) {
	store := &fakePositionStore{
		open: []domain.Position{
			{MarketID: "mkt-1", Outcome: domain.OutcomeYes, Shares: 100, SizeUSD: 50},
			{MarketID: "mkt-2", Outcome: domain.OutcomeNo, Shares: 200, SizeUSD: 90},
		},
	}
	m := NewManager(testLimits(), store, testLogger())
	require.NoError(t, m.Resume(context.Background()))

	report := m.Report()
	assert.Equal(t, 2, report.OpenPositions)
	assert.Equal(t, 140.0, report.TotalExposureUSD)
}

type fakePositionStore struct {
	mu   sync.Mutex
	open []domain.Position
}

func (f *fakePositionStore) Upsert(_ context.Context, p domain.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.open {
		if f.open[i].MarketID == p.MarketID && f.open[i].Outcome == p.Outcome {
			f.open[i] = p
			return nil
		}
	}
	f.open = append(f.open, p)
	return nil
}

func (f *fakePositionStore) Delete(_ context.Context, marketID string, outcome domain.Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.open {
		if f.open[i].MarketID == marketID && f.open[i].Outcome == outcome {
			f.open = append(f.open[:i], f.open[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakePositionStore) ListOpen(context.Context) ([]domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Position(nil), f.open...), nil
}
