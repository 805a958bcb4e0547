package app

import (
	"context"
	"fmt"

	s3blob "github.com/quantfish/polyarb/internal/blob/s3"
	"github.com/quantfish/polyarb/internal/cache/redis"
	"github.com/quantfish/polyarb/internal/crypto"
	"github.com/quantfish/polyarb/internal/domain"
	"github.com/quantfish/polyarb/internal/executor"
	"github.com/quantfish/polyarb/internal/feed"
	"github.com/quantfish/polyarb/internal/ledger"
	"github.com/quantfish/polyarb/internal/notify"
	"github.com/quantfish/polyarb/internal/platform/chain"
	"github.com/quantfish/polyarb/internal/platform/polymarket"
	"github.com/quantfish/polyarb/internal/risk"
	"github.com/quantfish/polyarb/internal/store/sqlite"
)

// Dependencies bundles everything the run modes assemble their goroutines
// from. Fields that a mode does not need stay nil.
type Dependencies struct {
	Positions   domain.PositionStore
	Ledger      *ledger.Ledger
	Gate        *risk.Gate
	Gamma       *polymarket.GammaClient
	Clob        *polymarket.ClobClient
	Chain       *chain.Client
	Limiter     domain.TradeRateLimiter
	MarketCache domain.MarketCache
	Executor    *executor.Executor
	Notifier    *notify.Notifier
	Archiver    *s3blob.Archiver
	PriceCache  *feed.PriceCache
}

// needsLedger returns true for modes that persist positions.
func needsLedger(mode string) bool {
	return mode != "scan"
}

// needsWallet returns true for modes that sign transactions and orders.
func needsWallet(mode string) bool {
	return mode == "trade" || mode == "full"
}

// wire constructs the concrete dependencies for the given mode and returns
// them with a cleanup function for shutdown.
func (a *App) wire(ctx context.Context, mode string) (*Dependencies, func(), error) {
	cfg := a.cfg

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Gamma:      polymarket.NewGammaClient(cfg.Polymarket.GammaHost, cfg.Polymarket.RequestsPerSecond),
		PriceCache: feed.NewPriceCache(),
	}

	// Notifications.
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, a.logger)

	// Position store, ledger, risk gate.
	if needsLedger(mode) {
		store, err := sqlite.New(cfg.Ledger.DBPath)
		if err != nil {
			return fail(fmt.Errorf("wire: sqlite: %w", err))
		}
		closers = append(closers, func() { _ = store.Close() })

		deps.Positions = sqlite.NewPositionStore(store)
		deps.Ledger = ledger.New(deps.Positions, a.logger)
		deps.Gate = risk.NewGate(deps.Positions, risk.Limits{
			MaxPositionSizeUSD:     cfg.Risk.MaxPositionSizeUSD,
			MaxConcurrentPositions: cfg.Risk.MaxConcurrentPositions,
			MaxMarketExposureUSD:   cfg.Risk.MaxMarketExposureUSD,
			MaxTotalExposureUSD:    cfg.Risk.MaxTotalExposureUSD,
			DailyLossLimitUSD:      cfg.Risk.DailyLossLimitUSD,
			DrawdownLimitPct:       cfg.Risk.DrawdownLimitPct,
		}, a.logger)
	}

	// Redis-backed rate limiter and market cache, in-process fallbacks
	// otherwise.
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Limiter = redis.NewRateLimiter(redisClient)
		deps.MarketCache = redis.NewMarketCache(redisClient)
	} else {
		deps.Limiter = executor.NewRateWindow()
	}

	// Wallet, chain client, CLOB client and executor.
	if needsWallet(mode) {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: wallet key: %w", err))
		}

		chainClient, err := chain.Dial(ctx, chain.Config{
			RpcURL:             cfg.Chain.RpcURL,
			ChainID:            int64(cfg.Polymarket.ChainID),
			CtfAddress:         cfg.Chain.CtfAddress,
			CtfExchangeAddress: cfg.Chain.CtfExchangeAddress,
			UsdcAddress:        cfg.Chain.UsdcAddress,
			GasLimit:           cfg.Chain.GasLimit,
		}, key, a.logger)
		if err != nil {
			return fail(fmt.Errorf("wire: chain: %w", err))
		}
		closers = append(closers, chainClient.Close)
		deps.Chain = chainClient

		exchangeAddr := cfg.Chain.CtfExchangeAddress
		if exchangeAddr == "" {
			exchangeAddr = chain.DefaultCtfExchangeAddress
		}
		signer, err := crypto.NewSigner(key, cfg.Polymarket.ChainID, exchangeAddr)
		if err != nil {
			return fail(fmt.Errorf("wire: signer: %w", err))
		}

		var hmacAuth *crypto.HMACAuth
		if cfg.Polymarket.ApiKey != "" {
			hmacAuth = &crypto.HMACAuth{
				Key:        cfg.Polymarket.ApiKey,
				Secret:     cfg.Polymarket.ApiSecret,
				Passphrase: cfg.Polymarket.ApiPassphrase,
			}
		}
		clob := polymarket.NewClobClient(cfg.Polymarket.ClobHost, signer, hmacAuth)
		if hmacAuth == nil {
			if err := clob.DeriveAPIKey(ctx); err != nil {
				return fail(fmt.Errorf("wire: derive clob api key: %w", err))
			}
		}
		deps.Clob = clob

		deps.Executor = executor.New(
			chainClient,
			clob,
			deps.Ledger,
			deps.Gamma,
			deps.Limiter,
			deps.Notifier,
			executor.Config{
				MaxTradesPerHour: cfg.Executor.MaxTradesPerHour,
				FeeRate:          cfg.Scan.FeeRate,
				Retry:            executor.NewRetryPolicy(cfg.Executor.OrderMaxRetries, cfg.Executor.RetryBase.Duration),
			},
			a.logger,
		)
	}

	// Report archiving.
	if cfg.S3.Enabled && deps.Ledger != nil {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Ledger, deps.Positions, a.logger)
	}

	return deps, cleanup, nil
}
