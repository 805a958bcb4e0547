package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantfish/polyarb/internal/engine"
	"github.com/quantfish/polyarb/internal/feed"
	"github.com/quantfish/polyarb/internal/scanner"
	"github.com/quantfish/polyarb/internal/server"
	"github.com/quantfish/polyarb/internal/server/handler"
)

// ScanMode runs every active detector once against the live API and prints
// the ranked opportunities, then exits.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "running one-shot scan",
		slog.Int("market_limit", a.cfg.Scan.MarketLimit),
	)

	markets, err := deps.Gamma.FetchSnapshot(ctx, a.cfg.Scan.MarketLimit)
	if err != nil {
		return fmt.Errorf("scan mode: fetch markets: %w", err)
	}

	now := time.Now().UTC()
	params := a.scanParams()
	report := scanReport{FetchedMarkets: len(markets)}

	for _, name := range a.cfg.Scan.Active {
		switch name {
		case "pair_cost":
			report.PairCost = scanner.ScanPairCost(markets, params, now)
		case "combinatorial":
			events, err := deps.Gamma.FetchNegRiskEvents(ctx, a.cfg.Scan.MarketLimit)
			if err != nil {
				a.logger.WarnContext(ctx, "scan mode: fetch neg-risk events failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			report.FetchedEvents = len(events)
			report.Combinatorial = scanner.ScanCombinatorial(events, params, now)
		case "endgame":
			report.Endgame = scanner.ScanEndgame(markets, a.endgameParams(), now)
		}
	}

	printScanReport(report)
	return nil
}

// TradeMode runs the engine with execution wired through the risk gate.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.Bool("auto_execute", a.cfg.Executor.AutoExecute),
	)
	if err := a.prepareWallet(ctx, deps); err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}
	return a.runEngineMode(ctx, deps, modeOpts{
		autoExecute: a.cfg.Executor.AutoExecute,
		reconcile:   true,
	})
}

// MonitorMode runs the engine with execution disabled and always serves the
// status API. No orders or transactions are ever produced.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	return a.runEngineMode(ctx, deps, modeOpts{
		serveAlways: true,
	})
}

// FullMode runs trading plus the reconciler and report archiver.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode",
		slog.Bool("auto_execute", a.cfg.Executor.AutoExecute),
	)
	if err := a.prepareWallet(ctx, deps); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	return a.runEngineMode(ctx, deps, modeOpts{
		autoExecute: a.cfg.Executor.AutoExecute,
		reconcile:   true,
		archive:     true,
	})
}

// modeOpts select the goroutines runEngineMode starts.
type modeOpts struct {
	autoExecute bool
	serveAlways bool
	reconcile   bool
	archive     bool
}

// runEngineMode assembles engine, feed, reconciler, archiver and status
// server per opts and blocks until the first fatal error or cancellation.
func (a *App) runEngineMode(ctx context.Context, deps *Dependencies, opts modeOpts) error {
	g, ctx := errgroup.WithContext(ctx)

	eng, priceFeed := a.buildEngine(deps, opts.autoExecute)

	g.Go(func() error {
		return eng.Run(ctx)
	})

	if priceFeed != nil {
		g.Go(func() error {
			defer priceFeed.Close()
			return priceFeed.Run(ctx)
		})
	}

	if opts.reconcile && deps.Chain != nil {
		g.Go(func() error {
			return a.runReconciler(ctx, deps)
		})
	}

	if opts.archive && deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiver(ctx, deps)
		})
	}

	if opts.serveAlways || a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps, eng)
	}

	return g.Wait()
}

// buildEngine constructs the strategy set from scan.active and, when the
// feed is enabled, a streaming feed whose updates fan out through the engine.
func (a *App) buildEngine(deps *Dependencies, autoExecute bool) (*engine.Engine, *feed.Feed) {
	trader := engine.NewTrader(deps.Gate, deps.Executor, deps.Notifier, autoExecute, a.logger)
	params := a.scanParams()

	var strategies []engine.Strategy
	if deps.MarketCache != nil {
		strategies = append(strategies, engine.NewSnapshotCache(deps.MarketCache))
	}
	for _, name := range a.cfg.Scan.Active {
		switch name {
		case "pair_cost":
			strategies = append(strategies, engine.NewPairCostStrategy(params, trader))
		case "combinatorial":
			strategies = append(strategies, engine.NewCombinatorialStrategy(deps.Gamma, a.cfg.Scan.MarketLimit, params, trader))
		case "endgame":
			strategies = append(strategies, engine.NewEndgameStrategy(a.endgameParams(), trader))
		}
	}

	var priceFeed *feed.Feed
	var eng *engine.Engine
	if a.cfg.Feed.Enabled && a.cfg.Polymarket.WsHost != "" {
		onChange := func(tokenID string, upd feed.PriceUpdate) {
			if eng != nil {
				eng.HandlePriceChange(tokenID, upd)
			}
		}
		priceFeed = feed.New(
			a.cfg.Polymarket.WsHost+"/ws/market",
			nil,
			a.cfg.Feed.MaxAssets,
			a.cfg.Feed.ReconnectMax.Duration,
			deps.PriceCache,
			onChange,
			a.logger,
		)
	}

	eng = engine.New(deps.Gamma, strategies, a.cfg.Scan.PollInterval.Duration, a.cfg.Scan.MarketLimit, priceFeed, a.logger)
	return eng, priceFeed
}

// prepareWallet logs wallet status, seeds the drawdown baseline and makes
// sure the contract approvals are in place before any trade runs.
func (a *App) prepareWallet(ctx context.Context, deps *Dependencies) error {
	status, err := deps.Chain.Status(ctx)
	if err != nil {
		return fmt.Errorf("wallet status: %w", err)
	}
	a.logger.InfoContext(ctx, "wallet ready",
		slog.String("address", status.Address),
		slog.Float64("native_balance", status.NativeBalance),
		slog.Float64("collateral_balance", status.CollateralBalance),
	)
	deps.Gate.SetInitialPortfolioValue(status.CollateralBalance)

	approvals, err := deps.Chain.EnsureApprovals(ctx)
	if err != nil {
		return fmt.Errorf("ensure approvals: %w", err)
	}
	for _, ap := range approvals {
		a.logger.InfoContext(ctx, "approval",
			slog.String("label", ap.Label),
			slog.String("status", ap.Status),
			slog.String("tx_hash", ap.TxHash),
		)
	}
	return nil
}

// runReconciler checks local positions against on-chain balances on a fixed
// interval. Mismatches are corrected by the ledger and reported.
func (a *App) runReconciler(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Ledger.ReconcileInterval.Duration
	a.logger.InfoContext(ctx, "reconciler started", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			report, err := deps.Ledger.Reconcile(ctx, deps.Chain)
			if err != nil {
				a.logger.WarnContext(ctx, "reconcile failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			if len(report.Discrepancies) > 0 {
				deps.Notifier.Event(ctx, "reconcile_mismatch",
					"Reconciliation mismatch",
					fmt.Sprintf("%d of %d positions diverged from chain", len(report.Discrepancies), report.Checked),
				)
			}
			a.logger.InfoContext(ctx, "reconcile complete",
				slog.Int("checked", report.Checked),
				slog.Int("discrepancies", len(report.Discrepancies)),
				slog.Int("synced", report.Synced),
			)
		}
	}
}

// runArchiver uploads the P&L report and closed-position export once per
// UTC day, shortly after midnight.
func (a *App) runArchiver(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "archiver started")

	for {
		now := time.Now().UTC()
		next := now.Truncate(24 * time.Hour).Add(24*time.Hour + 5*time.Minute)

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		day := time.Now().UTC().AddDate(0, 0, -1)
		if err := deps.Archiver.ArchiveDailyReport(ctx, day); err != nil {
			a.logger.WarnContext(ctx, "daily report archive failed",
				slog.String("error", err.Error()),
			)
		}
		if _, err := deps.Archiver.ArchiveClosedPositions(ctx, time.Now().UTC()); err != nil {
			a.logger.WarnContext(ctx, "closed position archive failed",
				slog.String("error", err.Error()),
			)
		}
	}
}

// startServer registers the status API goroutines on the errgroup.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *engine.Engine) {
	var stats handler.EngineStats
	if eng != nil {
		stats = eng
	}

	srv := server.New(server.Config{
		Port:   a.cfg.Server.Port,
		APIKey: a.cfg.Server.APIKey,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(),
		Status:    handler.NewStatusHandler(stats, deps.Ledger, a.cfg.Mode, a.logger),
		Positions: handler.NewPositionHandler(deps.Positions, a.logger),
		Risk:      handler.NewRiskHandler(deps.Gate, a.logger),
	}, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func (a *App) scanParams() scanner.Params {
	return scanner.Params{
		MinProfit:          a.cfg.Scan.MinProfit,
		MinLiquidityUSD:    a.cfg.Scan.MinLiquidityUSD,
		FeeRate:            a.cfg.Scan.FeeRate,
		MaxPositionSizeUSD: a.cfg.Risk.MaxPositionSizeUSD,
	}
}

func (a *App) endgameParams() scanner.EndgameParams {
	return scanner.EndgameParams{
		MinConfidence:      a.cfg.Scan.Endgame.MinConfidence,
		MinHours:           a.cfg.Scan.Endgame.MinHours,
		MaxHours:           a.cfg.Scan.Endgame.MaxHours,
		MaxPositionSizeUSD: a.cfg.Risk.MaxPositionSizeUSD,
	}
}
