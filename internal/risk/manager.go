// Package risk enforces the global exposure, balance, and loss limits. Every
// order request passes through the Manager before reaching the executor.
package risk

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/polymirror/copybot/internal/domain"
)

// positionKey identifies one market+outcome holding.
type positionKey struct {
	marketID string
	outcome  domain.Outcome
}

// reservation is notional held against exposure between Validate and the
// order's settlement.
type reservation struct {
	usd      float64
	marketID string
}

// Manager owns all position and exposure state. Validate both checks the
// limits and reserves the order's notional under one lock, so two concurrent
// requests can never both pass against the same remaining headroom.
type Manager struct {
	limits domain.RiskLimits
	logger *slog.Logger
	store  domain.PositionStore // optional persistence

	mu          sync.Mutex
	positions   map[positionKey]*domain.Position
	reserved    map[string]reservation // keyed by order request ID
	reservedMkt map[string]float64     // reserved USD per market
	reservedSum float64
	balanceUSD  float64
	dailyPnLUSD float64
	dailyDate   string // UTC date the daily counters belong to
	now         func() time.Time
}

// NewManager creates a Manager with the given limits. A nil store disables
// persistence.
func NewManager(limits domain.RiskLimits, store domain.PositionStore, logger *slog.Logger) *Manager {
	return &Manager{
		limits:      limits,
		logger:      logger.With(slog.String("component", "risk_manager")),
		store:       store,
		positions:   make(map[positionKey]*domain.Position),
		reserved:    make(map[string]reservation),
		reservedMkt: make(map[string]float64),
		dailyDate:   time.Now().UTC().Format("2006-01-02"),
		now:         time.Now,
	}
}

// Resume loads open positions from the store so exposure accounting survives
// a restart. Call before starting the pipeline.
func (m *Manager) Resume(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	positions, err := m.store.ListOpen(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	for i := range positions {
		p := positions[i]
		m.positions[positionKey{p.MarketID, p.Outcome}] = &p
	}
	count := len(m.positions)
	m.mu.Unlock()

	m.logger.Info("positions resumed", slog.Int("count", count))
	return nil
}

// SetBalance records the latest observed collateral balance.
func (m *Manager) SetBalance(balanceUSD float64) {
	m.mu.Lock()
	m.balanceUSD = balanceUSD
	m.mu.Unlock()
}

// Validate checks an order request against every limit and, on success,
// reserves its notional against total exposure until Release or OnFill.
// Check and reserve happen under one lock: concurrent requests see each
// other's reservations. Failures return a *domain.RejectionError.
//
// The market snapshot supplies liquidity and slippage context; a zero-value
// snapshot skips those two checks (used for hedge orders sized off held
// positions rather than the book).
func (m *Manager) Validate(req domain.OrderRequest, snap domain.MarketSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDailyLocked()

	if _, dup := m.reserved[req.ID]; dup {
		return domain.Reject(domain.RejectDuplicate, "request %s already reserved", req.ID)
	}
	if req.SizeUSD <= 0 || req.Shares <= 0 || req.Price <= 0 || req.Price >= 1 {
		return domain.Reject(domain.RejectInvalidSize,
			"size=%.2f shares=%.4f price=%.4f", req.SizeUSD, req.Shares, req.Price)
	}
	minOrder := snap.MinOrderUSD
	if minOrder <= 0 {
		minOrder = m.limits.MinOrderUSD
	}
	if req.SizeUSD < minOrder {
		return domain.Reject(domain.RejectInvalidSize,
			"size %.2f below venue minimum %.2f", req.SizeUSD, minOrder)
	}
	if req.SizeUSD > m.limits.MaxOrderUSD {
		return domain.Reject(domain.RejectInvalidSize,
			"size %.2f exceeds per-order cap %.2f", req.SizeUSD, m.limits.MaxOrderUSD)
	}

	// A breached daily loss blocks everything until the UTC date changes.
	if m.dailyPnLUSD <= -m.limits.MaxDailyLossUSD {
		return domain.Reject(domain.RejectDailyLoss,
			"daily pnl %.2f breaches limit %.2f", m.dailyPnLUSD, m.limits.MaxDailyLossUSD)
	}

	if req.Side == domain.TradeSideBuy {
		marketExp := m.marketExposureLocked(req.MarketID) + m.reservedMkt[req.MarketID]
		if marketExp+req.SizeUSD > m.limits.MaxPositionPerMarketUSD {
			return domain.Reject(domain.RejectMarketCap,
				"market %s exposure %.2f + %.2f exceeds cap %.2f",
				req.MarketID, marketExp, req.SizeUSD, m.limits.MaxPositionPerMarketUSD)
		}

		total := m.totalExposureLocked() + m.reservedSum
		if total+req.SizeUSD > m.limits.MaxTotalExposureUSD {
			return domain.Reject(domain.RejectTotalCap,
				"total exposure %.2f + %.2f exceeds cap %.2f",
				total, req.SizeUSD, m.limits.MaxTotalExposureUSD)
		}

		if m.balanceUSD > 0 && m.balanceUSD-m.reservedSum-req.SizeUSD < m.limits.MinBalanceUSD {
			return domain.Reject(domain.RejectBalance,
				"balance %.2f minus reserved %.2f leaves less than floor %.2f after %.2f order",
				m.balanceUSD, m.reservedSum, m.limits.MinBalanceUSD, req.SizeUSD)
		}
	}

	if !snap.Timestamp.IsZero() {
		if liq := snap.LiquidityFor(req.Outcome); liq < m.limits.MinLiquidityUSD {
			return domain.Reject(domain.RejectLiquidity,
				"liquidity %.2f below minimum %.2f", liq, m.limits.MinLiquidityUSD)
		}
		// Slippage guards buys: the book moving above the signal price is
		// what turns a copy into an overpay.
		if req.Side == domain.TradeSideBuy {
			ask := snap.AskFor(req.Outcome)
			if ask > 0 && req.Price > 0 {
				slip := (ask - req.Price) / req.Price
				if slip > m.limits.MaxSlippagePct {
					return domain.Reject(domain.RejectSlippage,
						"ask %.4f vs signal price %.4f is %.2f%% slippage", ask, req.Price, slip*100)
				}
			}
		}
	}

	if req.Side == domain.TradeSideBuy {
		m.reserved[req.ID] = reservation{usd: req.SizeUSD, marketID: req.MarketID}
		m.reservedMkt[req.MarketID] += req.SizeUSD
		m.reservedSum += req.SizeUSD
	} else {
		m.reserved[req.ID] = reservation{marketID: req.MarketID}
	}
	return nil
}

// Release drops the reservation for a request whose order was cancelled,
// rejected by the venue, or never submitted. Safe to call for unknown IDs.
func (m *Manager) Release(requestID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked(requestID)
}

func (m *Manager) releaseLocked(requestID string) {
	if res, ok := m.reserved[requestID]; ok {
		m.reservedSum -= res.usd
		m.reservedMkt[res.marketID] -= res.usd
		if m.reservedMkt[res.marketID] <= 0 {
			delete(m.reservedMkt, res.marketID)
		}
		delete(m.reserved, requestID)
	}
}

// OnFill settles a confirmed (possibly partial) fill: the reservation is
// consumed and the position updated. terminal marks the order done, releasing
// any unfilled remainder of the reservation.
func (m *Manager) OnFill(ctx context.Context, req domain.OrderRequest, fill domain.Fill, terminal bool) {
	m.mu.Lock()
	m.rollDailyLocked()

	if res, ok := m.reserved[req.ID]; ok {
		if terminal {
			m.releaseLocked(req.ID)
		} else {
			consumed := math.Min(res.usd, fill.SizeUSD)
			res.usd -= consumed
			m.reserved[req.ID] = res
			m.reservedMkt[res.marketID] -= consumed
			m.reservedSum -= consumed
		}
	}

	pos := m.applyFillLocked(req, fill)
	m.mu.Unlock()

	if m.store != nil && pos != nil {
		if pos.Shares <= 0 {
			if err := m.store.Delete(ctx, pos.MarketID, pos.Outcome); err != nil {
				m.logger.Warn("position delete failed", slog.String("error", err.Error()))
			}
		} else if err := m.store.Upsert(ctx, *pos); err != nil {
			m.logger.Warn("position persist failed", slog.String("error", err.Error()))
		}
	}
}

// applyFillLocked folds one fill into the position book and returns a copy of
// the affected position.
func (m *Manager) applyFillLocked(req domain.OrderRequest, fill domain.Fill) *domain.Position {
	key := positionKey{req.MarketID, req.Outcome}
	now := m.now().UTC()

	pos, ok := m.positions[key]
	if !ok {
		if req.Side == domain.TradeSideSell {
			// Sell against a position we do not hold; nothing to book.
			return nil
		}
		pos = &domain.Position{
			MarketID: req.MarketID,
			Outcome:  req.Outcome,
			OpenedAt: now,
		}
		m.positions[key] = pos
	}

	switch req.Side {
	case domain.TradeSideBuy:
		newShares := pos.Shares + fill.Shares
		if newShares > 0 {
			pos.AvgEntryPrice = (pos.AvgEntryPrice*pos.Shares + fill.Price*fill.Shares) / newShares
		}
		pos.Shares = newShares
		pos.SizeUSD += fill.SizeUSD
	case domain.TradeSideSell:
		sold := math.Min(fill.Shares, pos.Shares)
		pnl := (fill.Price - pos.AvgEntryPrice) * sold
		pos.RealizedPnL += pnl
		m.dailyPnLUSD += pnl
		pos.Shares -= sold
		pos.SizeUSD = math.Max(0, pos.SizeUSD-pos.AvgEntryPrice*sold)
		if pos.Shares <= 1e-9 {
			pos.Shares = 0
			pos.SizeUSD = 0
		}
		if m.dailyPnLUSD <= -m.limits.MaxDailyLossUSD {
			m.logger.Error("daily loss limit breached, order flow blocked until UTC midnight",
				slog.Float64("daily_pnl_usd", m.dailyPnLUSD),
				slog.Float64("limit_usd", m.limits.MaxDailyLossUSD),
			)
		}
	}
	pos.UpdatedAt = now

	out := *pos
	if pos.Shares == 0 {
		delete(m.positions, key)
	}
	return &out
}

// RecordPnL folds an externally realized P&L amount (e.g. redemption
// proceeds) into the daily counter.
func (m *Manager) RecordPnL(amountUSD float64) {
	m.mu.Lock()
	m.rollDailyLocked()
	m.dailyPnLUSD += amountUSD
	m.mu.Unlock()
}

// Report returns a consistent snapshot of exposure state.
func (m *Manager) Report() domain.ExposureReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDailyLocked()

	perMarket := make(map[string]float64)
	for key, pos := range m.positions {
		perMarket[key.marketID] += pos.SizeUSD
	}
	total := m.totalExposureLocked()

	return domain.ExposureReport{
		TotalExposureUSD: total,
		ReservedUSD:      m.reservedSum,
		DailyPnLUSD:      m.dailyPnLUSD,
		BalanceUSD:       m.balanceUSD,
		OpenPositions:    len(m.positions),
		MarketExposures:  perMarket,
		AvailableUSD:     math.Max(0, m.limits.MaxTotalExposureUSD-total-m.reservedSum),
	}
}

// Positions returns a copy of all open positions.
func (m *Manager) Positions() []domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	return out
}

// SuggestHedges scans paired holdings for leg imbalance and returns buy
// orders that top up the short leg. A market holding both YES and NO within
// the imbalance tolerance is considered hedged; one-sided holdings are left
// alone (they are directional copies, not broken pairs).
func (m *Manager) SuggestHedges(priceFor func(marketID string, o domain.Outcome) (float64, bool)) []domain.OrderRequest {
	if !m.limits.EnableAutoHedge {
		return nil
	}

	m.mu.Lock()
	type legs struct{ yes, no float64 }
	byMarket := make(map[string]legs)
	for key, pos := range m.positions {
		l := byMarket[key.marketID]
		if key.outcome == domain.OutcomeYes {
			l.yes = pos.Shares
		} else {
			l.no = pos.Shares
		}
		byMarket[key.marketID] = l
	}
	m.mu.Unlock()

	var out []domain.OrderRequest
	now := m.now().UTC()
	for marketID, l := range byMarket {
		if l.yes <= 0 || l.no <= 0 {
			continue
		}
		larger := math.Max(l.yes, l.no)
		gap := math.Abs(l.yes - l.no)
		if gap/larger <= m.limits.HedgeImbalancePct {
			continue
		}

		short := domain.OutcomeYes
		if l.no < l.yes {
			short = domain.OutcomeNo
		}
		price, ok := priceFor(marketID, short)
		if !ok || price <= 0 || price >= 1 {
			continue
		}

		out = append(out, domain.OrderRequest{
			ID:        uuid.New().String(),
			MarketID:  marketID,
			Outcome:   short,
			Side:      domain.TradeSideBuy,
			Price:     price,
			Shares:    gap,
			SizeUSD:   gap * price,
			Source:    domain.OrderSourceHedge,
			CreatedAt: now,
		})
	}
	return out
}

// DailyLossBreached reports whether new orders are currently blocked by the
// daily loss limit.
func (m *Manager) DailyLossBreached() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDailyLocked()
	return m.dailyPnLUSD <= -m.limits.MaxDailyLossUSD
}

func (m *Manager) marketExposureLocked(marketID string) float64 {
	var sum float64
	for key, pos := range m.positions {
		if key.marketID == marketID {
			sum += pos.SizeUSD
		}
	}
	return sum
}

func (m *Manager) totalExposureLocked() float64 {
	var sum float64
	for _, pos := range m.positions {
		sum += pos.SizeUSD
	}
	return sum
}

// rollDailyLocked resets the daily counters when the UTC date changes.
func (m *Manager) rollDailyLocked() {
	today := m.now().UTC().Format("2006-01-02")
	if today != m.dailyDate {
		m.logger.Info("daily counters reset",
			slog.String("date", today),
			slog.Float64("previous_daily_pnl_usd", m.dailyPnLUSD),
		)
		m.dailyDate = today
		m.dailyPnLUSD = 0
	}
}
