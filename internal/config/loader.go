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
// built-in defaults, applies POLYARB_* environment variable overrides, and
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

// applyEnvOverrides reads well-known POLYARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "POLYARB_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "POLYARB_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "POLYARB_WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "POLYARB_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "POLYARB_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "POLYARB_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "POLYARB_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "POLYARB_POLYMARKET_SIGNATURE_TYPE")
	setStr(&cfg.Polymarket.ApiKey, "POLYARB_POLYMARKET_API_KEY")
	setStr(&cfg.Polymarket.ApiSecret, "POLYARB_POLYMARKET_API_SECRET")
	setStr(&cfg.Polymarket.ApiPassphrase, "POLYARB_POLYMARKET_API_PASSPHRASE")
	setFloat64(&cfg.Polymarket.RequestsPerSecond, "POLYARB_POLYMARKET_REQUESTS_PER_SECOND")

	// ── Chain ──
	setStr(&cfg.Chain.RpcURL, "POLYARB_CHAIN_RPC_URL")
	setStr(&cfg.Chain.CtfAddress, "POLYARB_CHAIN_CTF_ADDRESS")
	setStr(&cfg.Chain.CtfExchangeAddress, "POLYARB_CHAIN_CTF_EXCHANGE_ADDRESS")
	setStr(&cfg.Chain.UsdcAddress, "POLYARB_CHAIN_USDC_ADDRESS")
	setUint64(&cfg.Chain.GasLimit, "POLYARB_CHAIN_GAS_LIMIT")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "POLYARB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POLYARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYARB_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "POLYARB_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "POLYARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYARB_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "POLYARB_S3_FORCE_PATH_STYLE")

	// ── Scan ──
	setFloat64(&cfg.Scan.MinProfit, "POLYARB_SCAN_MIN_PROFIT")
	setFloat64(&cfg.Scan.MinLiquidityUSD, "POLYARB_SCAN_MIN_LIQUIDITY_USD")
	setFloat64(&cfg.Scan.FeeRate, "POLYARB_SCAN_FEE_RATE")
	setInt(&cfg.Scan.MarketLimit, "POLYARB_SCAN_MARKET_LIMIT")
	setDuration(&cfg.Scan.PollInterval, "POLYARB_SCAN_POLL_INTERVAL")
	setStringSlice(&cfg.Scan.Active, "POLYARB_SCAN_ACTIVE")
	setFloat64(&cfg.Scan.Endgame.MinConfidence, "POLYARB_SCAN_ENDGAME_MIN_CONFIDENCE")
	setFloat64(&cfg.Scan.Endgame.MinHours, "POLYARB_SCAN_ENDGAME_MIN_HOURS")
	setFloat64(&cfg.Scan.Endgame.MaxHours, "POLYARB_SCAN_ENDGAME_MAX_HOURS")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxPositionSizeUSD, "POLYARB_RISK_MAX_POSITION_SIZE_USD")
	setInt(&cfg.Risk.MaxConcurrentPositions, "POLYARB_RISK_MAX_CONCURRENT_POSITIONS")
	setFloat64(&cfg.Risk.MaxMarketExposureUSD, "POLYARB_RISK_MAX_MARKET_EXPOSURE_USD")
	setFloat64(&cfg.Risk.MaxTotalExposureUSD, "POLYARB_RISK_MAX_TOTAL_EXPOSURE_USD")
	setFloat64(&cfg.Risk.DailyLossLimitUSD, "POLYARB_RISK_DAILY_LOSS_LIMIT_USD")
	setFloat64(&cfg.Risk.DrawdownLimitPct, "POLYARB_RISK_DRAWDOWN_LIMIT_PCT")

	// ── Executor ──
	setBool(&cfg.Executor.AutoExecute, "POLYARB_EXECUTOR_AUTO_EXECUTE")
	setInt(&cfg.Executor.MaxTradesPerHour, "POLYARB_EXECUTOR_MAX_TRADES_PER_HOUR")
	setInt(&cfg.Executor.OrderMaxRetries, "POLYARB_EXECUTOR_ORDER_MAX_RETRIES")
	setDuration(&cfg.Executor.RetryBase, "POLYARB_EXECUTOR_RETRY_BASE")

	// ── Ledger ──
	setStr(&cfg.Ledger.DBPath, "POLYARB_LEDGER_DB_PATH")
	setDuration(&cfg.Ledger.ReconcileInterval, "POLYARB_LEDGER_RECONCILE_INTERVAL")

	// ── Feed ──
	setBool(&cfg.Feed.Enabled, "POLYARB_FEED_ENABLED")
	setInt(&cfg.Feed.MaxAssets, "POLYARB_FEED_MAX_ASSETS")
	setDuration(&cfg.Feed.ReconnectMax, "POLYARB_FEED_RECONNECT_MAX")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POLYARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POLYARB_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "POLYARB_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYARB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYARB_MODE")
	setStr(&cfg.LogLevel, "POLYARB_LOG_LEVEL")
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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
