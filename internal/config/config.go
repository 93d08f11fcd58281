// Package config defines the top-level configuration for the copy-trading
// bot and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by COPYBOT_* environment
// variables.
type Config struct {
	Wallets    []WalletConfig   `toml:"wallets"`
	Arbitrage  ArbitrageConfig  `toml:"arbitrage"`
	Risk       RiskConfig       `toml:"risk"`
	Monitor    MonitorConfig    `toml:"monitor"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Signer     SignerConfig     `toml:"signer"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig describes one monitored wallet and the copy rules applied to
// its trades. Loaded once at startup; read-only thereafter.
type WalletConfig struct {
	Address                string   `toml:"address"`
	Name                   string   `toml:"name"`
	Enabled                bool     `toml:"enabled"`
	MinWinRate             float64  `toml:"min_win_rate"`
	MaxPositionSizeUSD     float64  `toml:"max_position_size_usd"`
	PositionSizeMultiplier float64  `toml:"position_size_multiplier"` // 0.0-1.0
	MarketsFilter          []string `toml:"markets_filter"`           // empty = all markets
	RequireArbSignal       bool     `toml:"require_arb_signal"`
}

// AllowsMarket reports whether the wallet's allow-list permits the market.
// An empty filter allows everything.
func (w WalletConfig) AllowsMarket(marketID string) bool {
	if len(w.MarketsFilter) == 0 {
		return true
	}
	for _, m := range w.MarketsFilter {
		if m == marketID {
			return true
		}
	}
	return false
}

// ArbitrageConfig holds arbitrage detection and execution parameters.
type ArbitrageConfig struct {
	InternalEnabled   bool     `toml:"internal_enabled"`
	CrossVenueEnabled bool     `toml:"cross_venue_enabled"`
	AutoExecute       bool     `toml:"auto_execute"`
	MinProfitPct      float64  `toml:"min_profit_pct"` // e.g. 0.01
	MaxProfitPct      float64  `toml:"max_profit_pct"` // above this pricing is suspect
	FeePct            float64  `toml:"fee_pct"`        // applied to combined cost
	MinLiquidityUSD   float64  `toml:"min_liquidity_usd"`
	SizePerPairUSD    float64  `toml:"size_per_pair_usd"`
	ScanInterval      duration `toml:"scan_interval"`
	ScanMarkets       int      `toml:"scan_markets"` // how many active markets per scan
}

// RiskConfig holds the global risk limits.
type RiskConfig struct {
	MaxTotalExposureUSD     float64 `toml:"max_total_exposure_usd"`
	MaxPositionPerMarketUSD float64 `toml:"max_position_per_market_usd"`
	MaxOrderUSD             float64 `toml:"max_order_usd"`
	MaxDailyLossUSD         float64 `toml:"max_daily_loss_usd"`
	MinLiquidityUSD         float64 `toml:"min_liquidity_usd"`
	MaxSlippagePct          float64 `toml:"max_slippage_pct"`
	MinBalanceUSD           float64 `toml:"min_balance_usd"`
	MinOrderUSD             float64 `toml:"min_order_usd"`
	EnableAutoHedge         bool    `toml:"enable_auto_hedge"`
	HedgeImbalancePct       float64 `toml:"hedge_imbalance_pct"`
}

// MonitorConfig holds pipeline scheduling parameters.
type MonitorConfig struct {
	WalletCheckInterval duration `toml:"wallet_check_interval"`
	StatusPollInterval  duration `toml:"status_poll_interval"`
	BalanceInterval     duration `toml:"balance_interval"`
	RedemptionInterval  duration `toml:"redemption_interval"`
	HedgeInterval       duration `toml:"hedge_interval"`
	SeenTTL             duration `toml:"seen_ttl"` // retention of dedup entries
	ActivityPageLimit   int      `toml:"activity_page_limit"`
}

// PolymarketConfig holds Polymarket API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost  string `toml:"clob_host"`
	GammaHost string `toml:"gamma_host"`
	DataHost  string `toml:"data_host"`
	WsHost    string `toml:"ws_host"`
	RPCURL    string `toml:"rpc_url"`
	ChainID   int    `toml:"chain_id"`
}

// SignerConfig holds trading-wallet credentials. Either a raw private key or
// an encrypted key file plus password.
type SignerConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the archiver.
type S3Config struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	RetentionDays  int      `toml:"retention_days"`
	ArchiveEvery   duration `toml:"archive_every"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Arbitrage: ArbitrageConfig{
			InternalEnabled: true,
			MinProfitPct:    0.01,
			MaxProfitPct:    0.05,
			FeePct:          0.01,
			MinLiquidityUSD: 1000.0,
			SizePerPairUSD:  50.0,
			ScanInterval:    duration{2 * time.Second},
			ScanMarkets:     50,
		},
		Risk: RiskConfig{
			MaxTotalExposureUSD:     10000.0,
			MaxPositionPerMarketUSD: 2000.0,
			MaxOrderUSD:             2000.0,
			MaxDailyLossUSD:         500.0,
			MinLiquidityUSD:         1000.0,
			MaxSlippagePct:          0.02,
			MinBalanceUSD:           100.0,
			MinOrderUSD:             10.0,
			EnableAutoHedge:         true,
			HedgeImbalancePct:       0.20,
		},
		Monitor: MonitorConfig{
			WalletCheckInterval: duration{time.Second},
			StatusPollInterval:  duration{2 * time.Second},
			BalanceInterval:     duration{time.Minute},
			RedemptionInterval:  duration{6 * time.Hour},
			HedgeInterval:       duration{5 * time.Minute},
			SeenTTL:             duration{48 * time.Hour},
			ActivityPageLimit:   100,
		},
		Polymarket: PolymarketConfig{
			ClobHost:  "https://clob.polymarket.com",
			GammaHost: "https://gamma-api.polymarket.com",
			DataHost:  "https://data-api.polymarket.com",
			WsHost:    "wss://ws-subscriptions-clob.polymarket.com",
			RPCURL:    "https://polygon-rpc.com",
			ChainID:   137,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "copybot",
			User:          "copybot",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "copybot-archive",
			ForcePathStyle: true,
			RetentionDays:  90,
			ArchiveEvery:   duration{24 * time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"order_filled", "order_rejected", "trading_paused", "daily_loss_breach", "error"},
		},
		Mode:     "live",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode. "observe" runs
// the full pipeline but suppresses order submission.
var validModes = map[string]bool{
	"live":    true,
	"observe": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, observe)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if len(c.Wallets) == 0 {
		errs = append(errs, "wallets: at least one monitored wallet must be configured")
	}
	seen := map[string]bool{}
	for i, w := range c.Wallets {
		if w.Address == "" {
			errs = append(errs, fmt.Sprintf("wallets[%d]: address must not be empty", i))
		}
		if seen[w.Address] {
			errs = append(errs, fmt.Sprintf("wallets[%d]: duplicate address %s", i, w.Address))
		}
		seen[w.Address] = true
		if w.PositionSizeMultiplier < 0 || w.PositionSizeMultiplier > 1 {
			errs = append(errs, fmt.Sprintf("wallets[%d]: position_size_multiplier must be in [0,1], got %g", i, w.PositionSizeMultiplier))
		}
		if w.MaxPositionSizeUSD <= 0 {
			errs = append(errs, fmt.Sprintf("wallets[%d]: max_position_size_usd must be > 0", i))
		}
		if w.MinWinRate < 0 || w.MinWinRate > 1 {
			errs = append(errs, fmt.Sprintf("wallets[%d]: min_win_rate must be in [0,1], got %g", i, w.MinWinRate))
		}
	}

	if c.Arbitrage.MinProfitPct <= 0 {
		errs = append(errs, "arbitrage: min_profit_pct must be > 0")
	}
	if c.Arbitrage.MaxProfitPct <= c.Arbitrage.MinProfitPct {
		errs = append(errs, "arbitrage: max_profit_pct must exceed min_profit_pct")
	}
	if c.Arbitrage.ScanInterval.Duration <= 0 {
		errs = append(errs, "arbitrage: scan_interval must be positive")
	}

	if c.Risk.MaxTotalExposureUSD <= 0 {
		errs = append(errs, "risk: max_total_exposure_usd must be > 0")
	}
	if c.Risk.MaxPositionPerMarketUSD <= 0 {
		errs = append(errs, "risk: max_position_per_market_usd must be > 0")
	}
	if c.Risk.MaxPositionPerMarketUSD > c.Risk.MaxTotalExposureUSD {
		errs = append(errs, "risk: max_position_per_market_usd must not exceed max_total_exposure_usd")
	}
	if c.Risk.MaxDailyLossUSD <= 0 {
		errs = append(errs, "risk: max_daily_loss_usd must be > 0")
	}
	if c.Risk.MaxSlippagePct <= 0 {
		errs = append(errs, "risk: max_slippage_pct must be > 0")
	}

	if c.Monitor.WalletCheckInterval.Duration <= 0 {
		errs = append(errs, "monitor: wallet_check_interval must be positive")
	}
	if c.Monitor.RedemptionInterval.Duration <= 0 {
		errs = append(errs, "monitor: redemption_interval must be positive")
	}

	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.DataHost == "" {
		errs = append(errs, "polymarket: data_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}

	if c.Mode == "live" {
		if c.Signer.PrivateKey == "" && c.Signer.EncryptedKeyPath == "" {
			errs = append(errs, "signer: either private_key or encrypted_key_path must be set for live mode")
		}
		if c.Signer.EncryptedKeyPath != "" && c.Signer.KeyPassword == "" {
			errs = append(errs, "signer: key_password is required when encrypted_key_path is set")
		}
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" && c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
