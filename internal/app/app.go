// Package app wires configuration into a runnable bot: the exchange
// gateway, optional storage and cache backends, notification channels, and
// the pipeline itself.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/polymirror/copybot/internal/blob/s3"
	"github.com/polymirror/copybot/internal/bot"
	rediscache "github.com/polymirror/copybot/internal/cache/redis"
	"github.com/polymirror/copybot/internal/config"
	"github.com/polymirror/copybot/internal/crypto"
	"github.com/polymirror/copybot/internal/monitor"
	"github.com/polymirror/copybot/internal/notify"
	"github.com/polymirror/copybot/internal/platform/polymarket"
	"github.com/polymirror/copybot/internal/store/postgres"
)

// App owns every long-lived resource and the bot built on top of them.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	bot      *bot.Bot
	gateway  *polymarket.Client
	pg       *postgres.Client
	redis    *rediscache.Client
	chain    *monitor.ChainMonitor
	redeemer *polymarket.Redeemer
	archiver *s3blob.Archiver
}

// gasFloorMatic is the native balance below which startup warns that the
// trading wallet cannot pay for redemption transactions.
const gasFloorMatic = 0.1

// redemptionConfirmations is the block depth required before a redemption
// transaction counts as settled. Polygon reorgs deeper than this are rare.
const redemptionConfirmations = 12

// New builds the application. Optional backends that are disabled in config
// are simply left nil; the bot runs without them.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	var signer *crypto.Signer
	var keyHex string
	if cfg.Mode == "live" {
		var err error
		keyHex, err = crypto.ResolveKey(crypto.KeySource{
			RawHex:        cfg.Signer.PrivateKey,
			EncryptedPath: cfg.Signer.EncryptedKeyPath,
			Password:      cfg.Signer.KeyPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("app: resolve trading key: %w", err)
		}
		signer, err = crypto.NewSigner(keyHex, cfg.Polymarket.ChainID)
		if err != nil {
			return nil, fmt.Errorf("app: build signer: %w", err)
		}
	}

	a.gateway = polymarket.NewClient(cfg.Polymarket, signer)
	if cfg.Mode == "live" {
		if err := a.gateway.Authenticate(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: authenticate gateway: %w", err)
		}
		logger.Info("gateway authenticated")
	}

	opts := bot.Options{WinRates: a.gateway}

	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app: connect postgres: %w", err)
		}
		a.pg = pg
		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				a.Close()
				return nil, fmt.Errorf("app: run migrations: %w", err)
			}
		}
		opts.Positions = postgres.NewPositionStore(pg.Pool())
		opts.CopyLog = postgres.NewCopyLogStore(pg.Pool())
		logger.Info("postgres connected")
	}

	if cfg.Redis.Enabled {
		rc, err := rediscache.New(ctx, cfg.Redis)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app: connect redis: %w", err)
		}
		a.redis = rc
		opts.SeenCache = rediscache.NewSeenCache(rc)
		opts.PriceCache = rediscache.NewPriceCache(rc)
		logger.Info("redis connected")
	}

	if cfg.S3.Enabled && opts.CopyLog != nil {
		s3c, err := s3blob.New(ctx, cfg.S3)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app: connect object storage: %w", err)
		}
		a.archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3c), opts.CopyLog,
			cfg.S3.RetentionDays, cfg.S3.ArchiveEvery.Duration, logger,
		)
		logger.Info("archiver enabled", slog.String("bucket", cfg.S3.Bucket))
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		opts.Notifier = notify.New(senders, cfg.Notify.Events, logger)
	}

	if cfg.Mode == "live" && cfg.Polymarket.RPCURL != "" {
		chain, err := monitor.NewChainMonitor(ctx, cfg.Polymarket.RPCURL, redemptionConfirmations, logger)
		if err != nil {
			logger.Warn("chain monitor unavailable", slog.String("error", err.Error()))
		} else {
			a.chain = chain
			if matic, err := chain.BalanceAt(ctx, signer.Address().Hex()); err != nil {
				logger.Warn("gas balance check failed", slog.String("error", err.Error()))
			} else if matic < gasFloorMatic {
				logger.Warn("trading wallet low on gas",
					slog.Float64("balance_matic", matic),
					slog.Float64("floor_matic", gasFloorMatic),
				)
			}
		}

		redeemer, err := polymarket.NewRedeemer(ctx, a.gateway, cfg.Polymarket.RPCURL, keyHex, cfg.Polymarket.ChainID, logger)
		if err != nil {
			logger.Warn("redeemer unavailable, settlement claims disabled",
				slog.String("error", err.Error()),
			)
		} else {
			if a.chain != nil {
				redeemer.SetConfirmer(a.chain.WaitConfirmed)
			}
			a.redeemer = redeemer
			opts.Redeemer = redeemer
		}
	}

	a.bot = bot.New(cfg, a.gateway, opts, logger)
	return a, nil
}

// Run starts the bot and the auxiliary loops, blocking until ctx is
// cancelled or something fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.bot.Run(ctx) })
	if a.archiver != nil {
		g.Go(func() error { return a.archiver.Run(ctx) })
	}
	if a.cfg.Polymarket.WsHost != "" {
		g.Go(func() error { return a.runPriceFeed(ctx) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	return err
}

// runPriceFeed streams book updates for the most liquid markets into the
// detector so its snapshots stay fresh between REST scans. A failed market
// listing downgrades to REST-only operation instead of killing the bot.
func (a *App) runPriceFeed(ctx context.Context) error {
	markets, err := a.gateway.ActiveMarkets(ctx, a.cfg.Arbitrage.ScanMarkets)
	if err != nil {
		a.logger.Warn("price feed disabled, market listing failed",
			slog.String("error", err.Error()),
		)
		return nil
	}
	feed := polymarket.NewPriceFeed(
		a.cfg.Polymarket.WsHost, markets,
		a.bot.Detector().ObserveSnapshot, a.logger,
	)
	return feed.Run(ctx)
}

// Close releases every held resource. Safe on a partially constructed App.
func (a *App) Close() {
	if a.redeemer != nil {
		a.redeemer.Close()
	}
	if a.chain != nil {
		a.chain.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pg != nil {
		a.pg.Close()
	}
}
