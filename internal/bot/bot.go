// Package bot wires the pipeline stages together and runs them under one
// errgroup with a shared lifecycle.
package bot

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polymirror/copybot/internal/arbitrage"
	"github.com/polymirror/copybot/internal/config"
	"github.com/polymirror/copybot/internal/domain"
	"github.com/polymirror/copybot/internal/executor"
	"github.com/polymirror/copybot/internal/monitor"
	"github.com/polymirror/copybot/internal/risk"
	"github.com/polymirror/copybot/internal/trader"
)

// Notifier receives operational events. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, event, message string)
}

// Options carries the optional collaborators. Every field may be nil; the
// pipeline degrades gracefully (no dedup cache, no persistence, no
// notifications, no redemption).
type Options struct {
	SeenCache  domain.SeenCache
	PriceCache domain.PriceCache
	Positions  domain.PositionStore
	CopyLog    domain.CopyLogStore
	WinRates   domain.WinRateSource
	Quoter     domain.VenueQuoter
	Redeemer   domain.Redeemer
	Notifier   Notifier
}

// Bot owns the five pipeline stages, the channels between them, and the
// periodic maintenance loops (balance refresh, hedging, redemption).
type Bot struct {
	cfg     *config.Config
	gateway domain.Gateway
	logger  *slog.Logger
	opts    Options

	state    *State
	riskMgr  *risk.Manager
	detector *arbitrage.Detector
	monitor  *monitor.WalletMonitor
	trader   *trader.CopyTrader
	executor *executor.Executor

	activity chan domain.WalletActivity
	requests chan domain.OrderRequest
}

// New assembles the pipeline. Channel buffers absorb bursts without letting
// stages run unboundedly ahead of the executor.
func New(cfg *config.Config, gateway domain.Gateway, opts Options, logger *slog.Logger) *Bot {
	b := &Bot{
		cfg:      cfg,
		gateway:  gateway,
		logger:   logger.With(slog.String("component", "bot")),
		opts:     opts,
		state:    NewState(),
		activity: make(chan domain.WalletActivity, 256),
		requests: make(chan domain.OrderRequest, 256),
	}

	limits := domain.RiskLimits{
		MaxTotalExposureUSD:     cfg.Risk.MaxTotalExposureUSD,
		MaxPositionPerMarketUSD: cfg.Risk.MaxPositionPerMarketUSD,
		MaxOrderUSD:             cfg.Risk.MaxOrderUSD,
		MaxDailyLossUSD:         cfg.Risk.MaxDailyLossUSD,
		MinLiquidityUSD:         cfg.Risk.MinLiquidityUSD,
		MaxSlippagePct:          cfg.Risk.MaxSlippagePct,
		MinBalanceUSD:           cfg.Risk.MinBalanceUSD,
		MinOrderUSD:             cfg.Risk.MinOrderUSD,
		EnableAutoHedge:         cfg.Risk.EnableAutoHedge,
		HedgeImbalancePct:       cfg.Risk.HedgeImbalancePct,
	}
	b.riskMgr = risk.NewManager(limits, opts.Positions, logger)

	b.detector = arbitrage.NewDetector(arbitrage.Config{
		InternalEnabled:   cfg.Arbitrage.InternalEnabled,
		CrossVenueEnabled: cfg.Arbitrage.CrossVenueEnabled,
		AutoExecute:       cfg.Arbitrage.AutoExecute,
		MinProfitPct:      cfg.Arbitrage.MinProfitPct,
		MaxProfitPct:      cfg.Arbitrage.MaxProfitPct,
		FeePct:            cfg.Arbitrage.FeePct,
		MinLiquidityUSD:   cfg.Arbitrage.MinLiquidityUSD,
		SizePerPairUSD:    cfg.Arbitrage.SizePerPairUSD,
		ScanInterval:      cfg.Arbitrage.ScanInterval.Duration,
		ScanMarkets:       cfg.Arbitrage.ScanMarkets,
	}, gateway, logger)
	b.detector.SetGate(b.state)
	if opts.Quoter != nil {
		b.detector.SetVenueQuoter(opts.Quoter)
	}
	if opts.PriceCache != nil {
		b.detector.SetPriceCache(opts.PriceCache)
	}
	if cfg.Arbitrage.AutoExecute {
		b.detector.SetRequestChannel(b.requests)
	}

	b.monitor = monitor.New(monitor.Config{
		CheckInterval: cfg.Monitor.WalletCheckInterval.Duration,
		PageLimit:     cfg.Monitor.ActivityPageLimit,
		SeenTTL:       cfg.Monitor.SeenTTL.Duration,
	}, gateway, cfg.Wallets, b.activity, logger)
	b.monitor.SetGate(b.state)
	if opts.SeenCache != nil {
		b.monitor.SetSeenCache(opts.SeenCache)
	}

	b.trader = trader.New(cfg.Wallets, b.detector, cfg.Risk.MaxOrderUSD, b.activity, b.requests, logger)
	b.trader.SetGate(b.state)
	if opts.WinRates != nil {
		b.trader.SetWinRateSource(opts.WinRates)
	}
	if opts.CopyLog != nil {
		b.trader.SetCopyLog(opts.CopyLog)
	}

	b.executor = executor.New(executor.Config{
		StatusPollInterval: cfg.Monitor.StatusPollInterval.Duration,
		MaxRetries:         3,
		ObserveOnly:        cfg.Mode == "observe",
	}, gateway, b.riskMgr, b.detector, b.requests, logger)
	b.executor.SetRejectHook(func(req domain.OrderRequest, reason string) {
		b.notify(context.Background(), "order_rejected", "order for "+req.MarketID+" rejected: "+reason)
	})
	b.executor.SetFillHook(func(req domain.OrderRequest, fill domain.Fill) {
		b.notify(context.Background(), "order_filled", "filled "+req.MarketID+" "+string(req.Outcome))
	})

	return b
}

// State exposes the pause flag, mainly for tests and status reporting.
func (b *Bot) State() *State { return b.state }

// Risk exposes the risk manager for status reporting.
func (b *Bot) Risk() *risk.Manager { return b.riskMgr }

// Detector exposes the arbitrage detector.
func (b *Bot) Detector() *arbitrage.Detector { return b.detector }

// Run starts every stage and blocks until ctx is cancelled or a stage fails.
// Position state is resumed and the initial balance fetched before any
// producer starts.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.riskMgr.Resume(ctx); err != nil {
		return err
	}
	if balance, err := b.gateway.Balance(ctx); err != nil {
		b.logger.Warn("initial balance fetch failed", slog.String("error", err.Error()))
	} else {
		b.riskMgr.SetBalance(balance)
		b.logger.Info("starting balance", slog.Float64("balance_usd", balance))
	}

	b.logger.Info("bot starting",
		slog.String("mode", b.cfg.Mode),
		slog.Int("wallets", len(b.cfg.Wallets)),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.monitor.Run(ctx) })
	g.Go(func() error { return b.detector.Run(ctx) })
	g.Go(func() error { return b.trader.Run(ctx) })
	g.Go(func() error { return b.executor.Run(ctx) })
	g.Go(func() error { return b.balanceLoop(ctx) })
	g.Go(func() error { return b.hedgeLoop(ctx) })
	if b.opts.Redeemer != nil {
		g.Go(func() error { return b.redemptionLoop(ctx) })
	}

	err := g.Wait()
	if err != nil && ctx.Err() == nil {
		b.notify(context.Background(), "error", "pipeline stage failed: "+err.Error())
	}
	return err
}

// balanceLoop refreshes the collateral balance on an interval so risk checks
// work against fresh numbers.
func (b *Bot) balanceLoop(ctx context.Context) error {
	interval := b.cfg.Monitor.BalanceInterval.Duration
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			balance, err := b.gateway.Balance(ctx)
			if err != nil {
				b.logger.Warn("balance refresh failed", slog.String("error", err.Error()))
				continue
			}
			b.riskMgr.SetBalance(balance)
		}
	}
}

// hedgeLoop periodically rebalances broken arbitrage pairs by buying the
// short leg at its current ask.
func (b *Bot) hedgeLoop(ctx context.Context) error {
	if !b.cfg.Risk.EnableAutoHedge {
		return nil
	}
	interval := b.cfg.Monitor.HedgeInterval.Duration
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !b.state.TradingAllowed() {
				continue
			}
			hedges := b.riskMgr.SuggestHedges(func(marketID string, o domain.Outcome) (float64, bool) {
				snap, ok := b.detector.Snapshot(marketID)
				if !ok {
					return 0, false
				}
				return snap.AskFor(o), true
			})
			for _, req := range hedges {
				select {
				case b.requests <- req:
					b.logger.Info("hedge order queued",
						slog.String("market", req.MarketID),
						slog.String("outcome", string(req.Outcome)),
						slog.Float64("size_usd", req.SizeUSD),
					)
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// redemptionLoop pauses trading on an interval, claims settlement proceeds
// for resolved markets, refreshes the balance, and resumes. New order
// production stops while paused; in-flight orders continue to settle.
func (b *Bot) redemptionLoop(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.Monitor.RedemptionInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.runRedemption(ctx)
		}
	}
}

func (b *Bot) runRedemption(ctx context.Context) {
	b.state.Pause()
	defer b.state.Resume()
	b.logger.Info("trading paused for redemption")
	b.notify(ctx, "trading_paused", "redemption cycle started")

	before := 0.0
	if bal, err := b.gateway.Balance(ctx); err == nil {
		before = bal
	}

	if err := b.opts.Redeemer.Redeem(ctx); err != nil {
		b.logger.Error("redemption failed", slog.String("error", err.Error()))
	}

	if after, err := b.gateway.Balance(ctx); err == nil {
		b.riskMgr.SetBalance(after)
		if before > 0 && after > before {
			b.riskMgr.RecordPnL(after - before)
			b.logger.Info("redemption proceeds claimed",
				slog.Float64("amount_usd", after-before),
			)
		}
	}
	b.logger.Info("trading resumed after redemption")
}

func (b *Bot) notify(ctx context.Context, event, message string) {
	if b.opts.Notifier == nil {
		return
	}
	b.opts.Notifier.Notify(ctx, event, message)
}
