// Package monitor watches tracked wallets for new trades and feeds them into
// the pipeline.
package monitor

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polymirror/copybot/internal/arbitrage"
	"github.com/polymirror/copybot/internal/config"
	"github.com/polymirror/copybot/internal/domain"
)

// Config holds the monitor's scheduling parameters.
type Config struct {
	CheckInterval time.Duration
	PageLimit     int
	SeenTTL       time.Duration
	Lookback      time.Duration // how far back the first poll reaches
}

// WalletMonitor polls each enabled wallet's activity feed on its own
// goroutine and emits every not-yet-seen trade in ascending timestamp order.
// Dedup state is layered: an in-process set answers first, backed by an
// optional shared cache that survives restarts.
type WalletMonitor struct {
	cfg     Config
	gateway domain.Gateway
	wallets []config.WalletConfig
	logger  *slog.Logger
	out     chan<- domain.WalletActivity

	cache domain.SeenCache // optional
	gate  arbitrage.Gate   // optional

	mu   sync.Mutex
	seen map[string]time.Time // wallet|tradeID -> first seen
}

// New creates a WalletMonitor emitting into out. Disabled wallets are still
// polled so their trades land in the audit trail as skips downstream.
func New(cfg Config, gateway domain.Gateway, wallets []config.WalletConfig, out chan<- domain.WalletActivity, logger *slog.Logger) *WalletMonitor {
	if cfg.Lookback <= 0 {
		cfg.Lookback = time.Hour
	}
	return &WalletMonitor{
		cfg:     cfg,
		gateway: gateway,
		wallets: wallets,
		out:     out,
		logger:  logger.With(slog.String("component", "wallet_monitor")),
		seen:    make(map[string]time.Time),
	}
}

// SetSeenCache attaches the shared dedup cache.
func (m *WalletMonitor) SetSeenCache(c domain.SeenCache) { m.cache = c }

// SetGate attaches the global trading-pause gate. While paused the monitor
// keeps polling (so dedup state stays warm) but emits nothing.
func (m *WalletMonitor) SetGate(g arbitrage.Gate) { m.gate = g }

// Run polls every wallet until ctx is cancelled. One goroutine per wallet;
// a poll error for one wallet never stalls the others.
func (m *WalletMonitor) Run(ctx context.Context) error {
	m.logger.Info("wallet monitor started",
		slog.Int("wallets", len(m.wallets)),
		slog.Duration("check_interval", m.cfg.CheckInterval),
	)
	defer m.logger.Info("wallet monitor stopped")

	g, ctx := errgroup.WithContext(ctx)
	for _, w := range m.wallets {
		wallet := w
		g.Go(func() error {
			return m.pollLoop(ctx, wallet)
		})
	}
	g.Go(func() error {
		return m.pruneLoop(ctx)
	})
	return g.Wait()
}

func (m *WalletMonitor) pollLoop(ctx context.Context, wallet config.WalletConfig) error {
	logger := m.logger.With(
		slog.String("wallet", wallet.Address),
		slog.String("name", wallet.Name),
	)

	since := time.Now().UTC().Add(-m.cfg.Lookback)
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			next, err := m.pollOnce(ctx, wallet, since)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Warn("wallet poll failed", slog.String("error", err.Error()))
				continue
			}
			since = next
		}
	}
}

// pollOnce fetches activity since the watermark, filters already-seen trades,
// and emits the rest oldest-first. Returns the new watermark. The watermark
// is backed off slightly so a trade landing exactly on the boundary is still
// fetched next cycle; dedup absorbs the overlap.
func (m *WalletMonitor) pollOnce(ctx context.Context, wallet config.WalletConfig, since time.Time) (time.Time, error) {
	acts, err := m.gateway.WalletActivity(ctx, wallet.Address, since, m.cfg.PageLimit)
	if err != nil {
		return since, err
	}
	if len(acts) == 0 {
		return since, nil
	}

	sort.Slice(acts, func(i, j int) bool { return acts[i].Timestamp.Before(acts[j].Timestamp) })

	watermark := since
	for _, act := range acts {
		if act.Timestamp.After(watermark) {
			watermark = act.Timestamp
		}
		if m.alreadySeen(ctx, act) {
			continue
		}
		m.markSeen(ctx, act)

		if m.gate != nil && !m.gate.TradingAllowed() {
			continue
		}
		act.WalletName = wallet.Name
		select {
		case m.out <- act:
		case <-ctx.Done():
			return watermark, ctx.Err()
		}
	}
	return watermark.Add(-time.Second), nil
}

func (m *WalletMonitor) alreadySeen(ctx context.Context, act domain.WalletActivity) bool {
	key := seenKey(act)
	m.mu.Lock()
	_, ok := m.seen[key]
	m.mu.Unlock()
	if ok {
		return true
	}
	if m.cache != nil {
		hit, err := m.cache.Seen(ctx, act.Wallet, act.TradeID)
		if err != nil {
			m.logger.Debug("seen-cache read failed", slog.String("error", err.Error()))
			return false
		}
		return hit
	}
	return false
}

func (m *WalletMonitor) markSeen(ctx context.Context, act domain.WalletActivity) {
	key := seenKey(act)
	m.mu.Lock()
	m.seen[key] = time.Now().UTC()
	m.mu.Unlock()
	if m.cache != nil {
		if err := m.cache.MarkSeen(ctx, act.Wallet, act.TradeID, m.cfg.SeenTTL); err != nil {
			m.logger.Debug("seen-cache write failed", slog.String("error", err.Error()))
		}
	}
}

// pruneLoop evicts in-process dedup entries older than the TTL so the set
// does not grow unbounded on long runs.
func (m *WalletMonitor) pruneLoop(ctx context.Context) error {
	ttl := m.cfg.SeenTTL
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	ticker := time.NewTicker(ttl / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-ttl)
			m.mu.Lock()
			for k, at := range m.seen {
				if at.Before(cutoff) {
					delete(m.seen, k)
				}
			}
			m.mu.Unlock()
		}
	}
}

func seenKey(act domain.WalletActivity) string {
	return strings.ToLower(act.Wallet) + "|" + act.TradeID
}
