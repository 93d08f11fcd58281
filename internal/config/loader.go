package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies COPYBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known COPYBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Signer ──
	setStr(&cfg.Signer.PrivateKey, "COPYBOT_SIGNER_PRIVATE_KEY")
	setStr(&cfg.Signer.EncryptedKeyPath, "COPYBOT_SIGNER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Signer.KeyPassword, "COPYBOT_SIGNER_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "COPYBOT_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "COPYBOT_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.DataHost, "COPYBOT_POLYMARKET_DATA_HOST")
	setStr(&cfg.Polymarket.WsHost, "COPYBOT_POLYMARKET_WS_HOST")
	setStr(&cfg.Polymarket.RPCURL, "COPYBOT_POLYMARKET_RPC_URL")
	setInt(&cfg.Polymarket.ChainID, "COPYBOT_POLYMARKET_CHAIN_ID")

	// ── Arbitrage ──
	setBool(&cfg.Arbitrage.InternalEnabled, "COPYBOT_ARBITRAGE_INTERNAL_ENABLED")
	setBool(&cfg.Arbitrage.CrossVenueEnabled, "COPYBOT_ARBITRAGE_CROSS_VENUE_ENABLED")
	setBool(&cfg.Arbitrage.AutoExecute, "COPYBOT_ARBITRAGE_AUTO_EXECUTE")
	setFloat64(&cfg.Arbitrage.MinProfitPct, "COPYBOT_ARBITRAGE_MIN_PROFIT_PCT")
	setFloat64(&cfg.Arbitrage.MaxProfitPct, "COPYBOT_ARBITRAGE_MAX_PROFIT_PCT")
	setFloat64(&cfg.Arbitrage.MinLiquidityUSD, "COPYBOT_ARBITRAGE_MIN_LIQUIDITY_USD")
	setFloat64(&cfg.Arbitrage.SizePerPairUSD, "COPYBOT_ARBITRAGE_SIZE_PER_PAIR_USD")
	setDuration(&cfg.Arbitrage.ScanInterval, "COPYBOT_ARBITRAGE_SCAN_INTERVAL")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxTotalExposureUSD, "COPYBOT_RISK_MAX_TOTAL_EXPOSURE_USD")
	setFloat64(&cfg.Risk.MaxPositionPerMarketUSD, "COPYBOT_RISK_MAX_POSITION_PER_MARKET_USD")
	setFloat64(&cfg.Risk.MaxOrderUSD, "COPYBOT_RISK_MAX_ORDER_USD")
	setFloat64(&cfg.Risk.MaxDailyLossUSD, "COPYBOT_RISK_MAX_DAILY_LOSS_USD")
	setFloat64(&cfg.Risk.MinBalanceUSD, "COPYBOT_RISK_MIN_BALANCE_USD")
	setBool(&cfg.Risk.EnableAutoHedge, "COPYBOT_RISK_ENABLE_AUTO_HEDGE")

	// ── Monitor ──
	setDuration(&cfg.Monitor.WalletCheckInterval, "COPYBOT_MONITOR_WALLET_CHECK_INTERVAL")
	setDuration(&cfg.Monitor.StatusPollInterval, "COPYBOT_MONITOR_STATUS_POLL_INTERVAL")
	setDuration(&cfg.Monitor.RedemptionInterval, "COPYBOT_MONITOR_REDEMPTION_INTERVAL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "COPYBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "COPYBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "COPYBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "COPYBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "COPYBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "COPYBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "COPYBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "COPYBOT_POSTGRES_SSLMODE")
	setBool(&cfg.Postgres.RunMigrations, "COPYBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "COPYBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "COPYBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "COPYBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "COPYBOT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "COPYBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "COPYBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "COPYBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "COPYBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "COPYBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "COPYBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "COPYBOT_S3_SECRET_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "COPYBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "COPYBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "COPYBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "COPYBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "COPYBOT_MODE")
	setStr(&cfg.LogLevel, "COPYBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
