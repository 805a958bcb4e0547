// Package executor turns authorized opportunities into collateral-split and
// hedge-sell operations. The split is the only fatal step: a failed hedge
// leaves tokens held and the position recorded, never a half-written ledger.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantfish/polyarb/internal/domain"
)

// CollateralSplitter submits the on-chain split converting collateral into
// equal amounts of every outcome token. Implemented by the chain client.
type CollateralSplitter interface {
	SplitCollateral(ctx context.Context, conditionID string, amountUSD float64) (txHash string, err error)
}

// OrderPlacer submits CLOB orders. Implemented by the CLOB client.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, tokenID string, side domain.OrderSide, size, price float64) (domain.OrderResult, error)
}

// PositionRecorder is the slice of the ledger the executor writes through.
type PositionRecorder interface {
	Record(ctx context.Context, conditionID string, side domain.Side, tokenID string, sizeUSD, entryPrice float64, strategy string) (domain.Position, error)
}

// MarketRefresher re-reads live market state for the stale-opportunity
// check. Implemented by the Gamma client.
type MarketRefresher interface {
	FetchDetail(ctx context.Context, conditionID string) (*domain.MarketSnapshot, error)
}

// Notifier delivers fire-and-forget trade events.
type Notifier interface {
	Event(ctx context.Context, event, title, message string)
}

// rateKey is the sliding-window counter key shared by every trade.
const rateKey = "polyarb:trades"

// Config holds executor tuning. FeeRate matches the scan config so the
// stale-opportunity check prices fees the same way the detector did.
type Config struct {
	MaxTradesPerHour int
	FeeRate          float64
	Retry            RetryPolicy
}

// Executor executes opportunities against the chain and the CLOB.
type Executor struct {
	splitter CollateralSplitter
	orders   OrderPlacer
	ledger   PositionRecorder
	markets  MarketRefresher
	limiter  domain.TradeRateLimiter
	notify   Notifier
	cfg      Config
	logger   *slog.Logger
}

// New creates an Executor with all collaborators injected.
func New(
	splitter CollateralSplitter,
	orders OrderPlacer,
	ledger PositionRecorder,
	markets MarketRefresher,
	limiter domain.TradeRateLimiter,
	notify Notifier,
	cfg Config,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		splitter: splitter,
		orders:   orders,
		ledger:   ledger,
		markets:  markets,
		limiter:  limiter,
		notify:   notify,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "executor")),
	}
}

// Execute refreshes the opportunity against live prices, then runs its legs.
// A stale opportunity aborts before any transaction is built. Pair-cost
// trades hedge the unwanted side; combinatorial and endgame legs hold their
// tokens unhedged to resolution.
func (e *Executor) Execute(ctx context.Context, opp domain.Opportunity) (domain.TradeResult, error) {
	result := domain.TradeResult{Opportunity: opp, ExecutedAt: time.Now().UTC()}

	fresh, err := e.refresh(ctx, opp)
	if err != nil {
		return result, err
	}
	opp = fresh
	result.Opportunity = opp

	switch opp.Kind {
	case domain.OpportunityPairCost:
		pc := opp.PairCost
		leg := e.executeBuy(ctx, buyRequest{
			ConditionID:  pc.ConditionID,
			Side:         domain.SideYes,
			AmountUSD:    opp.MaxSizeUSD,
			CurrentPrice: pc.YesPrice,
			YesTokenID:   pc.YesTokenID,
			NoTokenID:    pc.NoTokenID,
			SkipHedge:    false,
			Strategy:     string(opp.Kind),
		})
		result.Legs = append(result.Legs, leg)

	case domain.OpportunityCombinatorial:
		co := opp.Combinatorial
		perOutcome := opp.MaxSizeUSD / float64(len(co.Outcomes))
		for _, out := range co.Outcomes {
			leg := e.executeBuy(ctx, buyRequest{
				ConditionID:  out.ConditionID,
				Side:         domain.SideYes,
				AmountUSD:    perOutcome,
				CurrentPrice: out.YesPrice,
				YesTokenID:   out.YesTokenID,
				SkipHedge:    true,
				Strategy:     string(opp.Kind),
			})
			result.Legs = append(result.Legs, leg)
			// A failed leg does not roll back the earlier ones; each
			// completed split holds independently valid tokens.
		}

	case domain.OpportunityEndgame:
		eg := opp.Endgame
		tokens := buyRequest{
			ConditionID:  eg.ConditionID,
			Side:         eg.Side,
			AmountUSD:    opp.MaxSizeUSD,
			CurrentPrice: eg.Price,
			SkipHedge:    true,
			Strategy:     string(opp.Kind),
		}
		if eg.Side == domain.SideYes {
			tokens.YesTokenID = eg.TokenID
		} else {
			tokens.NoTokenID = eg.TokenID
		}
		leg := e.executeBuy(ctx, tokens)
		result.Legs = append(result.Legs, leg)

	default:
		return result, fmt.Errorf("polyarb/executor: unknown opportunity kind %q", opp.Kind)
	}

	if result.Succeeded() {
		e.notify.Event(ctx, "trade_executed", "Trade executed",
			fmt.Sprintf("%s %q size=$%.2f cost=%.4f", opp.Kind, opp.Question, opp.MaxSizeUSD, opp.NetCost))
	}
	return result, nil
}

// buyRequest carries one leg's parameters.
type buyRequest struct {
	ConditionID  string
	Side         domain.Side
	AmountUSD    float64
	CurrentPrice float64
	YesTokenID   string
	NoTokenID    string
	SkipHedge    bool
	Strategy     string
}

// executeBuy runs one split-then-hedge leg. The trade-rate window is
// consumed before anything else; a refused slot produces a rate-limited
// leg with no side effects.
func (e *Executor) executeBuy(ctx context.Context, req buyRequest) domain.LegResult {
	leg := domain.LegResult{
		ConditionID: req.ConditionID,
		Side:        req.Side,
		AmountUSD:   req.AmountUSD,
	}

	allowed, err := e.limiter.Allow(ctx, rateKey, e.cfg.MaxTradesPerHour, time.Hour)
	if err != nil {
		leg.Err = fmt.Errorf("polyarb/executor: rate limiter: %w", err)
		return leg
	}
	if !allowed {
		e.logger.InfoContext(ctx, "trade refused by rate window",
			slog.String("condition_id", req.ConditionID),
			slog.Int("max_per_hour", e.cfg.MaxTradesPerHour),
		)
		leg.Err = domain.ErrRateLimited
		return leg
	}

	// Step 1: split collateral into both outcome tokens. Failure aborts the
	// leg with no ledger write.
	txHash, err := e.splitter.SplitCollateral(ctx, req.ConditionID, req.AmountUSD)
	if err != nil {
		leg.Err = fmt.Errorf("polyarb/executor: %w: %w", domain.ErrSplitFailed, err)
		return leg
	}
	leg.SplitTxHash = txHash

	// Step 2: hedge-sell the unwanted side at 1 - currentPrice. The split
	// minted req.AmountUSD tokens of each side.
	hedged := false
	if !req.SkipHedge {
		unwantedToken := req.NoTokenID
		if req.Side == domain.SideNo {
			unwantedToken = req.YesTokenID
		}
		if unwantedToken == "" {
			e.logger.WarnContext(ctx, "no token id for unwanted side, skipping hedge",
				slog.String("condition_id", req.ConditionID))
		} else {
			hedged, err = e.hedgeSell(ctx, unwantedToken, req.AmountUSD, 1-req.CurrentPrice)
			if err != nil {
				// Recoverable degradation: tokens stay held, flow continues.
				leg.HedgeError = err.Error()
				e.logger.WarnContext(ctx, "hedge sell failed, holding both sides",
					slog.String("condition_id", req.ConditionID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	leg.HedgePlaced = hedged

	// Step 3: recovered collateral counts only when the sell was confirmed
	// placed, not merely attempted.
	recovered := 0.0
	if hedged {
		recovered = (1 - req.CurrentPrice) * req.AmountUSD
	}
	leg.EntryPrice = (req.AmountUSD - recovered) / req.AmountUSD

	// Step 4: record the position.
	wantedToken := req.YesTokenID
	if req.Side == domain.SideNo {
		wantedToken = req.NoTokenID
	}
	pos, err := e.ledger.Record(ctx, req.ConditionID, req.Side, wantedToken, req.AmountUSD, leg.EntryPrice, req.Strategy)
	if err != nil {
		leg.Err = err
		return leg
	}
	leg.PositionID = pos.ID
	return leg
}

// hedgeSell places the sell with the retry policy. It reports placed=true
// only when the exchange accepted the order.
func (e *Executor) hedgeSell(ctx context.Context, tokenID string, size, price float64) (bool, error) {
	var res domain.OrderResult
	err := e.cfg.Retry.Do(ctx, func() error {
		var perr error
		res, perr = e.orders.PlaceOrder(ctx, tokenID, domain.OrderSideSell, size, price)
		if perr != nil {
			return perr
		}
		if !res.Success && res.ShouldRetry {
			return fmt.Errorf("polyarb/executor: order rejected: %s", res.Message)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: %w", domain.ErrHedgeSellFailed, err)
	}
	if !res.Success {
		return false, fmt.Errorf("%w: %s", domain.ErrHedgeSellFailed, res.Message)
	}
	return true, nil
}

// refresh re-reads live prices for the opportunity's markets and aborts with
// ErrStaleOpportunity when the refreshed cost no longer clears the $1 payout.
// The returned opportunity carries the refreshed prices.
func (e *Executor) refresh(ctx context.Context, opp domain.Opportunity) (domain.Opportunity, error) {
	switch opp.Kind {
	case domain.OpportunityPairCost:
		snap, err := e.markets.FetchDetail(ctx, opp.PairCost.ConditionID)
		if err != nil {
			return opp, fmt.Errorf("polyarb/executor: refresh %s: %w", opp.PairCost.ConditionID, err)
		}
		if snap == nil || snap.YesPrice == nil || snap.NoPrice == nil {
			return opp, domain.ErrStaleOpportunity
		}
		pc := *opp.PairCost
		pc.YesPrice, pc.NoPrice = *snap.YesPrice, *snap.NoPrice
		cost := pc.YesPrice + pc.NoPrice + 2*e.cfg.FeeRate
		if cost >= 1 {
			return opp, domain.ErrStaleOpportunity
		}
		opp.PairCost = &pc
		opp.NetCost = cost
		return opp, nil

	case domain.OpportunityCombinatorial:
		co := *opp.Combinatorial
		sum := 0.0
		legs := make([]domain.ComboLeg, len(co.Outcomes))
		for i, out := range co.Outcomes {
			snap, err := e.markets.FetchDetail(ctx, out.ConditionID)
			if err != nil {
				return opp, fmt.Errorf("polyarb/executor: refresh %s: %w", out.ConditionID, err)
			}
			if snap == nil || snap.YesPrice == nil || *snap.YesPrice <= 0 {
				return opp, domain.ErrStaleOpportunity
			}
			legs[i] = out
			legs[i].YesPrice = *snap.YesPrice
			sum += *snap.YesPrice
		}
		cost := sum + float64(len(co.Outcomes))*e.cfg.FeeRate
		if cost >= 1 {
			return opp, domain.ErrStaleOpportunity
		}
		co.Outcomes = legs
		opp.Combinatorial = &co
		opp.NetCost = cost
		return opp, nil

	case domain.OpportunityEndgame:
		snap, err := e.markets.FetchDetail(ctx, opp.Endgame.ConditionID)
		if err != nil {
			return opp, fmt.Errorf("polyarb/executor: refresh %s: %w", opp.Endgame.ConditionID, err)
		}
		if snap == nil {
			return opp, domain.ErrStaleOpportunity
		}
		price := snap.YesPrice
		if opp.Endgame.Side == domain.SideNo {
			price = snap.NoPrice
		}
		if price == nil || *price <= 0 || *price >= 1 {
			return opp, domain.ErrStaleOpportunity
		}
		eg := *opp.Endgame
		eg.Price = *price
		opp.Endgame = &eg
		opp.NetCost = *price
		return opp, nil
	}
	return opp, nil
}
