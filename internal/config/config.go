// Package config defines the top-level configuration for the polyarb bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYARB_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Chain      ChainConfig      `toml:"chain"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Scan       ScanConfig       `toml:"scan"`
	Risk       RiskConfig       `toml:"risk"`
	Executor   ExecutorConfig   `toml:"executor"`
	Ledger     LedgerConfig     `toml:"ledger"`
	Feed       FeedConfig       `toml:"feed"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds Ethereum wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds Polymarket API endpoints, chain parameters and
// CLOB API credentials.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	GammaHost     string `toml:"gamma_host"`
	WsHost        string `toml:"ws_host"`
	ChainID       int    `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`
	// RequestsPerSecond throttles REST calls against the Gamma and CLOB
	// hosts; the public endpoints start rejecting around 10 rps.
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// ChainConfig holds the Polygon RPC endpoint and contract overrides.
// Empty addresses fall back to the mainnet deployments.
type ChainConfig struct {
	RpcURL             string `toml:"rpc_url"`
	CtfAddress         string `toml:"ctf_address"`
	CtfExchangeAddress string `toml:"ctf_exchange_address"`
	UsdcAddress        string `toml:"usdc_address"`
	GasLimit           uint64 `toml:"gas_limit"`
}

// RedisConfig holds Redis connection parameters. Redis is optional: when
// disabled, the trade rate limiter and market cache fall back to in-process
// implementations.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for report archiving.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ScanConfig holds the shared scanner parameters and per-detector tuning.
type ScanConfig struct {
	MinProfit       float64  `toml:"min_profit"`        // fraction, e.g. 0.005
	MinLiquidityUSD float64  `toml:"min_liquidity_usd"`
	FeeRate         float64  `toml:"fee_rate"` // taker fee per token
	MarketLimit     int      `toml:"market_limit"`
	PollInterval    duration `toml:"poll_interval"`
	Active          []string `toml:"active"` // detector names to run

	Endgame EndgameScanConfig `toml:"endgame"`
}

// EndgameScanConfig tunes the near-resolution detector.
type EndgameScanConfig struct {
	MinConfidence float64 `toml:"min_confidence"`
	MinHours      float64 `toml:"min_hours"`
	MaxHours      float64 `toml:"max_hours"`
}

// RiskConfig holds the pre-trade gate limits.
type RiskConfig struct {
	MaxPositionSizeUSD     float64 `toml:"max_position_size_usd"`
	MaxConcurrentPositions int     `toml:"max_concurrent_positions"`
	MaxMarketExposureUSD   float64 `toml:"max_market_exposure_usd"`
	MaxTotalExposureUSD    float64 `toml:"max_total_exposure_usd"`
	DailyLossLimitUSD      float64 `toml:"daily_loss_limit_usd"`
	DrawdownLimitPct       float64 `toml:"drawdown_limit_pct"` // fraction of initial portfolio value
}

// ExecutorConfig holds execution pipeline parameters.
type ExecutorConfig struct {
	AutoExecute      bool     `toml:"auto_execute"`
	MaxTradesPerHour int      `toml:"max_trades_per_hour"`
	OrderMaxRetries  int      `toml:"order_max_retries"`
	RetryBase        duration `toml:"retry_base"`
}

// LedgerConfig holds record store and reconciliation parameters.
type LedgerConfig struct {
	DBPath            string   `toml:"db_path"`
	ReconcileInterval duration `toml:"reconcile_interval"`
}

// FeedConfig holds the streaming price feed parameters.
type FeedConfig struct {
	Enabled      bool     `toml:"enabled"`
	MaxAssets    int      `toml:"max_assets"`
	ReconnectMax duration `toml:"reconnect_max"`
}

// ServerConfig holds status HTTP server parameters. An empty APIKey leaves
// the API unauthenticated.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	APIKey  string `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:          "https://clob.polymarket.com",
			GammaHost:         "https://gamma-api.polymarket.com",
			WsHost:            "wss://ws-subscriptions-clob.polymarket.com",
			ChainID:           137,
			SignatureType:     1,
			RequestsPerSecond: 8,
		},
		Chain: ChainConfig{
			RpcURL:   "https://polygon-rpc.com",
			GasLimit: 500_000,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "",
			Region:         "us-east-1",
			Bucket:         "polyarb-reports",
			ForcePathStyle: false,
		},
		Scan: ScanConfig{
			MinProfit:       0.005,
			MinLiquidityUSD: 100,
			FeeRate:         0.001,
			MarketLimit:     200,
			PollInterval:    duration{60 * time.Second},
			Active:          []string{"pair_cost", "combinatorial", "endgame"},
			Endgame: EndgameScanConfig{
				MinConfidence: 0.95,
				MinHours:      1,
				MaxHours:      72,
			},
		},
		Risk: RiskConfig{
			MaxPositionSizeUSD:     500,
			MaxConcurrentPositions: 10,
			MaxMarketExposureUSD:   1000,
			MaxTotalExposureUSD:    5000,
			DailyLossLimitUSD:      200,
			DrawdownLimitPct:       0.10,
		},
		Executor: ExecutorConfig{
			AutoExecute:      false,
			MaxTradesPerHour: 10,
			OrderMaxRetries:  5,
			RetryBase:        duration{1 * time.Second},
		},
		Ledger: LedgerConfig{
			DBPath:            "polyarb.db",
			ReconcileInterval: duration{15 * time.Minute},
		},
		Feed: FeedConfig{
			Enabled:      true,
			MaxAssets:    500,
			ReconnectMax: duration{60 * time.Second},
		},
		Server: ServerConfig{
			Enabled: false,
			Port:    8000,
		},
		Notify: NotifyConfig{
			Events: []string{"trade_executed", "kill_switch", "reconcile_mismatch", "error"},
		},
		Mode:     "scan",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"scan":    true,
	"trade":   true,
	"monitor": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validDetectors enumerates the accepted values for Scan.Active.
var validDetectors = map[string]bool{
	"pair_cost":     true,
	"combinatorial": true,
	"endgame":       true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: scan, trade, monitor, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet: a credential source is required whenever trades can be placed.
	needsWallet := c.Mode == "trade" || c.Mode == "full"
	if needsWallet {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Polymarket endpoints
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.SignatureType != 1 && c.Polymarket.SignatureType != 2 {
		errs = append(errs, fmt.Sprintf("polymarket: signature_type must be 1 (EOA) or 2 (Safe), got %d", c.Polymarket.SignatureType))
	}
	if c.Polymarket.RequestsPerSecond <= 0 {
		errs = append(errs, "polymarket: requests_per_second must be > 0")
	}

	// CLOB API credentials: all three set together, or all empty.
	ak := c.Polymarket.ApiKey != ""
	as := c.Polymarket.ApiSecret != ""
	ap := c.Polymarket.ApiPassphrase != ""
	if (ak || as || ap) && !(ak && as && ap) {
		errs = append(errs, "polymarket: api_key, api_secret, and api_passphrase must all be set together")
	}

	// Chain
	if needsWallet && c.Chain.RpcURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty for mode "+c.Mode)
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty when enabled")
	}

	// Scan
	if c.Scan.MinProfit <= 0 {
		errs = append(errs, "scan: min_profit must be > 0")
	}
	if c.Scan.FeeRate < 0 {
		errs = append(errs, "scan: fee_rate must be >= 0")
	}
	if c.Scan.MarketLimit < 1 {
		errs = append(errs, "scan: market_limit must be >= 1")
	}
	if c.Scan.PollInterval.Duration < time.Second {
		errs = append(errs, "scan: poll_interval must be >= 1s")
	}
	for _, name := range c.Scan.Active {
		if !validDetectors[name] {
			errs = append(errs, fmt.Sprintf("scan: unknown detector %q (valid: pair_cost, combinatorial, endgame)", name))
		}
	}
	eg := c.Scan.Endgame
	if eg.MinConfidence <= 0.5 || eg.MinConfidence > 1 {
		errs = append(errs, "scan.endgame: min_confidence must be in (0.5, 1]")
	}
	if eg.MinHours < 0 || eg.MaxHours <= eg.MinHours {
		errs = append(errs, "scan.endgame: require 0 <= min_hours < max_hours")
	}

	// Risk
	if c.Risk.MaxPositionSizeUSD <= 0 {
		errs = append(errs, "risk: max_position_size_usd must be > 0")
	}
	if c.Risk.MaxConcurrentPositions < 1 {
		errs = append(errs, "risk: max_concurrent_positions must be >= 1")
	}
	if c.Risk.MaxMarketExposureUSD <= 0 {
		errs = append(errs, "risk: max_market_exposure_usd must be > 0")
	}
	if c.Risk.MaxTotalExposureUSD < c.Risk.MaxMarketExposureUSD {
		errs = append(errs, "risk: max_total_exposure_usd must be >= max_market_exposure_usd")
	}
	if c.Risk.DailyLossLimitUSD <= 0 {
		errs = append(errs, "risk: daily_loss_limit_usd must be > 0")
	}
	if c.Risk.DrawdownLimitPct <= 0 || c.Risk.DrawdownLimitPct >= 1 {
		errs = append(errs, "risk: drawdown_limit_pct must be in (0, 1)")
	}

	// Executor
	if c.Executor.MaxTradesPerHour < 1 {
		errs = append(errs, "executor: max_trades_per_hour must be >= 1")
	}
	if c.Executor.OrderMaxRetries < 0 {
		errs = append(errs, "executor: order_max_retries must be >= 0")
	}

	// Ledger
	if c.Ledger.DBPath == "" {
		errs = append(errs, "ledger: db_path must not be empty")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
