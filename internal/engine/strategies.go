package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quantfish/polyarb/internal/domain"
	"github.com/quantfish/polyarb/internal/scanner"
)

// Authorizer is the pre-trade risk gate.
type Authorizer interface {
	Authorize(ctx context.Context, proposedSizeUSD float64, conditionID string) (domain.RiskDecision, error)
}

// OpportunityExecutor turns an authorized opportunity into trades.
type OpportunityExecutor interface {
	Execute(ctx context.Context, opp domain.Opportunity) (domain.TradeResult, error)
}

// Notifier delivers fire-and-forget alerts.
type Notifier interface {
	Event(ctx context.Context, event, title, message string)
}

// EventSource supplies neg-risk events for the combinatorial detector.
type EventSource interface {
	FetchNegRiskEvents(ctx context.Context, limit int) ([]domain.Event, error)
}

// Trader is the shared authorize-then-execute tail of every strategy. With
// AutoExecute off it only reports opportunities, which is what monitor mode
// runs.
type Trader struct {
	gate        Authorizer
	exec        OpportunityExecutor
	notify      Notifier
	autoExecute bool
	logger      *slog.Logger
}

// NewTrader wires the risk gate, executor and notifier behind one dispatch
// point for the strategies.
func NewTrader(gate Authorizer, exec OpportunityExecutor, notify Notifier, autoExecute bool, logger *slog.Logger) *Trader {
	return &Trader{
		gate:        gate,
		exec:        exec,
		notify:      notify,
		autoExecute: autoExecute,
		logger:      logger.With(slog.String("component", "trader")),
	}
}

// handle authorizes and, when enabled, executes each opportunity in rank
// order. Multi-leg opportunities are authorized per market with an equal
// share of the capped size; every leg must clear the gate.
func (t *Trader) handle(ctx context.Context, strategy string, opps []domain.Opportunity) {
	for _, opp := range opps {
		if ctx.Err() != nil {
			return
		}

		refs := opp.MarketRefs()
		if len(refs) == 0 {
			continue
		}
		perLeg := opp.MaxSizeUSD / float64(len(refs))

		rejected := false
		for _, ref := range refs {
			decision, err := t.gate.Authorize(ctx, perLeg, ref)
			if err != nil {
				t.logger.WarnContext(ctx, "risk check failed",
					slog.String("strategy", strategy),
					slog.String("condition_id", ref),
					slog.String("error", err.Error()),
				)
				rejected = true
				break
			}
			if !decision.Allowed {
				t.logger.InfoContext(ctx, "opportunity rejected",
					slog.String("strategy", strategy),
					slog.String("condition_id", ref),
					slog.String("violations", strings.Join(decision.Violations, "; ")),
				)
				rejected = true
				break
			}
		}
		if rejected {
			continue
		}

		t.notify.Event(ctx, "opportunity",
			fmt.Sprintf("%s opportunity", strategy),
			fmt.Sprintf("%s\nprofit %.2f%%, size $%.2f", opp.Question, opp.NetProfitPct, opp.MaxSizeUSD),
		)

		if !t.autoExecute {
			t.logger.InfoContext(ctx, "opportunity found (execution disabled)",
				slog.String("strategy", strategy),
				slog.String("question", opp.Question),
				slog.Float64("profit_pct", opp.NetProfitPct),
			)
			continue
		}

		result, err := t.exec.Execute(ctx, opp)
		switch {
		case errors.Is(err, domain.ErrStaleOpportunity):
			t.logger.DebugContext(ctx, "opportunity went stale before execution",
				slog.String("strategy", strategy),
				slog.String("question", opp.Question),
			)
		case err != nil:
			t.logger.WarnContext(ctx, "execution failed",
				slog.String("strategy", strategy),
				slog.String("question", opp.Question),
				slog.String("error", err.Error()),
			)
		default:
			t.logger.InfoContext(ctx, "execution complete",
				slog.String("strategy", strategy),
				slog.String("question", opp.Question),
				slog.Bool("succeeded", result.Succeeded()),
				slog.Int("legs", len(result.Legs)),
			)
		}
	}
}

// SnapshotCache publishes each tick's batch into the shared market cache so
// other consumers read tick-fresh snapshots instead of hitting the API.
type SnapshotCache struct {
	cache domain.MarketCache
}

// NewSnapshotCache creates the cache-publishing strategy.
func NewSnapshotCache(cache domain.MarketCache) *SnapshotCache {
	return &SnapshotCache{cache: cache}
}

// Name returns the strategy identifier.
func (s *SnapshotCache) Name() string { return "snapshot_cache" }

// OnTick writes the batch through to the cache. The first write failure is
// returned; the engine logs it and the tick carries on.
func (s *SnapshotCache) OnTick(ctx context.Context, markets []domain.MarketSnapshot) error {
	for _, m := range markets {
		if err := s.cache.Set(ctx, m); err != nil {
			return fmt.Errorf("engine: cache snapshot %s: %w", m.ConditionID, err)
		}
	}
	return nil
}

// PairCostStrategy runs the yes+no underpricing detector on each tick.
type PairCostStrategy struct {
	params scanner.Params
	trader *Trader
	now    func() time.Time
}

// NewPairCostStrategy creates the pair-cost strategy.
func NewPairCostStrategy(params scanner.Params, trader *Trader) *PairCostStrategy {
	return &PairCostStrategy{params: params, trader: trader, now: time.Now}
}

// Name returns the strategy identifier.
func (s *PairCostStrategy) Name() string { return "pair_cost" }

// OnTick scans the batch and dispatches any opportunities.
func (s *PairCostStrategy) OnTick(ctx context.Context, markets []domain.MarketSnapshot) error {
	opps := scanner.ScanPairCost(markets, s.params, s.now())
	s.trader.handle(ctx, s.Name(), opps)
	return nil
}

// CombinatorialStrategy runs the multi-outcome detector. It fetches neg-risk
// events itself rather than using the binary-market batch.
type CombinatorialStrategy struct {
	events     EventSource
	eventLimit int
	params     scanner.Params
	trader     *Trader
	now        func() time.Time
}

// NewCombinatorialStrategy creates the combinatorial strategy.
func NewCombinatorialStrategy(events EventSource, eventLimit int, params scanner.Params, trader *Trader) *CombinatorialStrategy {
	return &CombinatorialStrategy{
		events:     events,
		eventLimit: eventLimit,
		params:     params,
		trader:     trader,
		now:        time.Now,
	}
}

// Name returns the strategy identifier.
func (s *CombinatorialStrategy) Name() string { return "combinatorial" }

// OnTick fetches neg-risk events, scans them and dispatches opportunities.
func (s *CombinatorialStrategy) OnTick(ctx context.Context, _ []domain.MarketSnapshot) error {
	events, err := s.events.FetchNegRiskEvents(ctx, s.eventLimit)
	if err != nil {
		return fmt.Errorf("engine: fetch neg-risk events: %w", err)
	}
	opps := scanner.ScanCombinatorial(events, s.params, s.now())
	s.trader.handle(ctx, s.Name(), opps)
	return nil
}

// EndgameStrategy runs the near-resolution detector on each tick.
type EndgameStrategy struct {
	params scanner.EndgameParams
	trader *Trader
	now    func() time.Time
}

// NewEndgameStrategy creates the endgame strategy.
func NewEndgameStrategy(params scanner.EndgameParams, trader *Trader) *EndgameStrategy {
	return &EndgameStrategy{params: params, trader: trader, now: time.Now}
}

// Name returns the strategy identifier.
func (s *EndgameStrategy) Name() string { return "endgame" }

// OnTick scans the batch and dispatches any opportunities.
func (s *EndgameStrategy) OnTick(ctx context.Context, markets []domain.MarketSnapshot) error {
	opps := scanner.ScanEndgame(markets, s.params, s.now())
	s.trader.handle(ctx, s.Name(), opps)
	return nil
}
