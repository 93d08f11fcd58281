// Package trader turns observed wallet activity into sized order requests,
// applying each wallet's copy rules.
package trader

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/polymirror/copybot/internal/arbitrage"
	"github.com/polymirror/copybot/internal/config"
	"github.com/polymirror/copybot/internal/domain"
)

// OpportunityView is the slice of the detector the trader needs: the latest
// opportunity and snapshot per market.
type OpportunityView interface {
	Opportunity(marketID string) (domain.ArbOpportunity, bool)
	Snapshot(marketID string) (domain.MarketSnapshot, bool)
}

// CopyTrader consumes wallet activity and emits order requests. Decisions
// follow a fixed veto sequence per wallet; a copied trade keeps the source
// trade's side and outcome, only its size changes.
type CopyTrader struct {
	wallets   map[string]config.WalletConfig // keyed by lowercase address
	view      OpportunityView
	winRates  domain.WinRateSource // optional
	copyLog   domain.CopyLogStore  // optional audit trail
	gate      arbitrage.Gate       // optional pause gate
	logger    *slog.Logger
	maxSize   float64 // global per-order cap from risk limits
	in        <-chan domain.WalletActivity
	out       chan<- domain.OrderRequest
}

// New creates a CopyTrader reading activity from in and writing requests to
// out.
func New(
	wallets []config.WalletConfig,
	view OpportunityView,
	maxOrderUSD float64,
	in <-chan domain.WalletActivity,
	out chan<- domain.OrderRequest,
	logger *slog.Logger,
) *CopyTrader {
	byAddr := make(map[string]config.WalletConfig, len(wallets))
	for _, w := range wallets {
		byAddr[strings.ToLower(w.Address)] = w
	}
	return &CopyTrader{
		wallets: byAddr,
		view:    view,
		maxSize: maxOrderUSD,
		in:      in,
		out:     out,
		logger:  logger.With(slog.String("component", "copy_trader")),
	}
}

// SetWinRateSource attaches historical wallet stats. Without one the win-rate
// filter is skipped entirely.
func (t *CopyTrader) SetWinRateSource(s domain.WinRateSource) { t.winRates = s }

// SetCopyLog attaches the decision audit trail.
func (t *CopyTrader) SetCopyLog(s domain.CopyLogStore) { t.copyLog = s }

// SetGate attaches the global trading-pause gate.
func (t *CopyTrader) SetGate(g arbitrage.Gate) { t.gate = g }

// Run consumes activity until ctx is cancelled or the input channel closes.
func (t *CopyTrader) Run(ctx context.Context) error {
	t.logger.Info("copy trader started", slog.Int("wallets", len(t.wallets)))
	defer t.logger.Info("copy trader stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case act, ok := <-t.in:
			if !ok {
				return nil
			}
			t.handle(ctx, act)
		}
	}
}

// handle runs the veto sequence for one observed trade and emits zero, one,
// or two order requests.
func (t *CopyTrader) handle(ctx context.Context, act domain.WalletActivity) {
	if t.gate != nil && !t.gate.TradingAllowed() {
		t.record(ctx, act, domain.DecisionSkipped, "trading paused", "", 0)
		return
	}

	wallet, ok := t.wallets[strings.ToLower(act.Wallet)]
	if !ok || !wallet.Enabled {
		t.record(ctx, act, domain.DecisionSkipped, "wallet disabled", "", 0)
		return
	}
	if !wallet.AllowsMarket(act.MarketID) {
		t.record(ctx, act, domain.DecisionSkipped, "market not in allow-list", "", 0)
		return
	}

	if wallet.MinWinRate > 0 && t.winRates != nil {
		rate, known, err := t.winRates.WinRate(ctx, act.Wallet)
		if err != nil {
			t.logger.Warn("win-rate lookup failed",
				slog.String("wallet", act.Wallet),
				slog.String("error", err.Error()),
			)
		} else if known && rate < wallet.MinWinRate {
			// Unknown stats pass through; the filter only vetoes on
			// evidence of a poor record, never on its absence.
			t.record(ctx, act, domain.DecisionSkipped, "win rate below minimum", "", 0)
			return
		}
	}

	hasArb := false
	if t.view != nil {
		_, hasArb = t.view.Opportunity(act.MarketID)
	}
	if wallet.RequireArbSignal && !hasArb {
		t.record(ctx, act, domain.DecisionSkipped, "no arbitrage signal", "", 0)
		return
	}

	sizeUSD := t.size(wallet, act)
	snap, haveSnap := t.snapshot(act.MarketID)
	minOrder := 1.0
	if haveSnap && snap.MinOrderUSD > 0 {
		minOrder = snap.MinOrderUSD
	}
	if sizeUSD < minOrder {
		t.record(ctx, act, domain.DecisionSkipped, "scaled size below venue minimum", "", sizeUSD)
		return
	}

	req := t.buildRequest(wallet, act, snap, sizeUSD, "")

	// When a copy is gated on an arbitrage signal, take both legs: the copy
	// itself plus the opposite outcome at its current ask, so the position
	// is a hedged pair rather than a directional bet.
	var sibling *domain.OrderRequest
	if wallet.RequireArbSignal && hasArb && act.Side == domain.TradeSideBuy && haveSnap {
		opposite := act.Outcome.Opposite()
		if ask := snap.AskFor(opposite); ask > 0 && ask < 1 {
			pairID := uuid.New().String()
			req.PairID = pairID
			s := t.buildRequest(wallet, act, snap, sizeUSD, pairID)
			s.Outcome = opposite
			s.TokenID = snap.TokenFor(opposite)
			s.Price = ask
			s.Shares = sizeUSD / ask
			sibling = &s
		}
	}

	if !t.send(ctx, req) {
		return
	}
	t.record(ctx, act, domain.DecisionCopied, "", req.ID, req.SizeUSD)
	t.logger.Info("trade copied",
		slog.String("wallet", act.WalletName),
		slog.String("market", act.MarketID),
		slog.String("side", string(act.Side)),
		slog.String("outcome", string(act.Outcome)),
		slog.Float64("source_size_usd", act.SizeUSD),
		slog.Float64("copied_size_usd", req.SizeUSD),
	)
	if sibling != nil {
		if t.send(ctx, *sibling) {
			t.logger.Info("hedge leg attached",
				slog.String("market", act.MarketID),
				slog.String("outcome", string(sibling.Outcome)),
				slog.String("pair_id", sibling.PairID),
			)
		}
	}
}

// size scales the source trade's notional by the wallet's multiplier and
// clamps to the wallet and global per-order caps.
func (t *CopyTrader) size(wallet config.WalletConfig, act domain.WalletActivity) float64 {
	sized := act.SizeUSD * wallet.PositionSizeMultiplier
	sized = math.Min(sized, wallet.MaxPositionSizeUSD)
	if t.maxSize > 0 {
		sized = math.Min(sized, t.maxSize)
	}
	return sized
}

func (t *CopyTrader) snapshot(marketID string) (domain.MarketSnapshot, bool) {
	if t.view == nil {
		return domain.MarketSnapshot{}, false
	}
	return t.view.Snapshot(marketID)
}

func (t *CopyTrader) buildRequest(
	wallet config.WalletConfig,
	act domain.WalletActivity,
	snap domain.MarketSnapshot,
	sizeUSD float64,
	pairID string,
) domain.OrderRequest {
	price := act.Price
	tokenID := ""
	if !snap.Timestamp.IsZero() {
		tokenID = snap.TokenFor(act.Outcome)
	}
	shares := 0.0
	if price > 0 {
		shares = sizeUSD / price
	}
	return domain.OrderRequest{
		ID:         uuid.New().String(),
		MarketID:   act.MarketID,
		TokenID:    tokenID,
		Outcome:    act.Outcome,
		Side:       act.Side,
		Price:      price,
		Shares:     shares,
		SizeUSD:    sizeUSD,
		Source:     domain.OrderSourceCopyTrade,
		CopiedFrom: act.Wallet,
		PairID:     pairID,
		CreatedAt:  time.Now().UTC(),
	}
}

func (t *CopyTrader) send(ctx context.Context, req domain.OrderRequest) bool {
	select {
	case t.out <- req:
		return true
	case <-ctx.Done():
		return false
	}
}

// record writes one row of the decision audit trail. Log-only on failure;
// the pipeline never blocks on the audit store.
func (t *CopyTrader) record(ctx context.Context, act domain.WalletActivity, decision domain.CopyDecision, reason, orderID string, sizeUSD float64) {
	if decision == domain.DecisionSkipped {
		t.logger.Debug("trade skipped",
			slog.String("wallet", act.Wallet),
			slog.String("market", act.MarketID),
			slog.String("reason", reason),
		)
	}
	if t.copyLog == nil {
		return
	}
	entry := domain.CopyLogEntry{
		ID:        uuid.New().String(),
		Wallet:    act.Wallet,
		MarketID:  act.MarketID,
		Outcome:   act.Outcome,
		Side:      act.Side,
		Price:     act.Price,
		SizeUSD:   sizeUSD,
		Decision:  decision,
		Reason:    reason,
		OrderID:   orderID,
		CreatedAt: time.Now().UTC(),
	}
	if err := t.copyLog.Record(ctx, entry); err != nil {
		t.logger.Warn("copy log write failed", slog.String("error", err.Error()))
	}
}
