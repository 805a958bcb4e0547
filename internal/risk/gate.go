// Package risk implements the pre-trade authorization gate. The gate is a
// two-state machine: Normal, where trades are checked against the configured
// caps, and Halted, where the kill switch rejects everything until an
// operator resets it. A breach of the daily-loss or drawdown cap trips the
// switch; it never clears itself.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/quantfish/polyarb/internal/domain"
)

// Limits holds the tunable parameters for pre-trade risk checks.
type Limits struct {
	MaxPositionSizeUSD     float64
	MaxConcurrentPositions int
	MaxMarketExposureUSD   float64
	MaxTotalExposureUSD    float64
	DailyLossLimitUSD      float64
	DrawdownLimitPct       float64
}

// Gate authorizes trades against the ledger and its own mutable state.
// All state mutation happens behind the mutex; the position store is
// read-only from here.
type Gate struct {
	positions domain.PositionStore
	limits    Limits
	logger    *slog.Logger

	mu    sync.Mutex
	state domain.RiskState
	now   func() time.Time
}

// NewGate creates a Gate in the Normal state.
func NewGate(positions domain.PositionStore, limits Limits, logger *slog.Logger) *Gate {
	return &Gate{
		positions: positions,
		limits:    limits,
		logger:    logger.With(slog.String("component", "risk_gate")),
		now:       time.Now,
	}
}

// Authorize evaluates the proposed trade. The kill switch short-circuits;
// every other check accumulates violations so the caller sees the full
// picture. A daily-loss or drawdown breach both rejects and trips the
// switch.
func (g *Gate) Authorize(ctx context.Context, proposedSizeUSD float64, conditionID string) (domain.RiskDecision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	// Check 1: kill switch.
	if g.state.KillSwitchActive {
		return domain.RiskDecision{
			Allowed:    false,
			Violations: []string{fmt.Sprintf("kill switch active: %s", g.state.KillSwitchReason)},
		}, nil
	}

	open, err := g.positions.ListOpen(ctx)
	if err != nil {
		return domain.RiskDecision{}, fmt.Errorf("polyarb/risk: list open positions: %w", err)
	}

	var violations []string

	// Check 2: per-trade size cap.
	if proposedSizeUSD > g.limits.MaxPositionSizeUSD {
		violations = append(violations, fmt.Sprintf(
			"size %.2f exceeds per-trade cap %.2f", proposedSizeUSD, g.limits.MaxPositionSizeUSD))
	}

	// Check 3: concurrent position cap.
	if len(open) >= g.limits.MaxConcurrentPositions {
		violations = append(violations, fmt.Sprintf(
			"open positions %d at cap %d", len(open), g.limits.MaxConcurrentPositions))
	}

	// Check 4: per-market exposure.
	marketExposure := exposure(open, conditionID)
	if marketExposure+proposedSizeUSD > g.limits.MaxMarketExposureUSD {
		violations = append(violations, fmt.Sprintf(
			"market exposure %.2f+%.2f exceeds cap %.2f",
			marketExposure, proposedSizeUSD, g.limits.MaxMarketExposureUSD))
	}

	// Check 5: total exposure.
	totalExposure := exposure(open, "")
	if totalExposure+proposedSizeUSD > g.limits.MaxTotalExposureUSD {
		violations = append(violations, fmt.Sprintf(
			"total exposure %.2f+%.2f exceeds cap %.2f",
			totalExposure, proposedSizeUSD, g.limits.MaxTotalExposureUSD))
	}

	// Check 6: daily realized loss. A breach halts the gate.
	dailyLoss, err := g.dailyRealizedLoss(ctx)
	if err != nil {
		return domain.RiskDecision{}, err
	}
	if dailyLoss >= g.limits.DailyLossLimitUSD {
		violations = append(violations, fmt.Sprintf(
			"daily loss %.2f at cap %.2f", dailyLoss, g.limits.DailyLossLimitUSD))
		g.tripLocked(ctx, fmt.Sprintf("daily loss limit: %.2f USD", dailyLoss))
	}

	// Check 7: drawdown against the initial portfolio value, when recorded.
	if g.state.InitialPortfolioValue != nil && *g.state.InitialPortfolioValue > 0 {
		drawdown := dailyLoss / *g.state.InitialPortfolioValue
		if drawdown >= g.limits.DrawdownLimitPct {
			violations = append(violations, fmt.Sprintf(
				"drawdown %.1f%% at cap %.1f%%", drawdown*100, g.limits.DrawdownLimitPct*100))
			g.tripLocked(ctx, fmt.Sprintf("drawdown limit: %.1f%%", drawdown*100))
		}
	}

	if len(violations) > 0 {
		g.logger.WarnContext(ctx, "trade rejected",
			slog.String("condition_id", conditionID),
			slog.Float64("size_usd", proposedSizeUSD),
			slog.Any("violations", violations),
		)
	}
	return domain.RiskDecision{Allowed: len(violations) == 0, Violations: violations}, nil
}

// TripKillSwitch halts the gate until ResetKillSwitch is called.
func (g *Gate) TripKillSwitch(ctx context.Context, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tripLocked(ctx, reason)
}

func (g *Gate) tripLocked(ctx context.Context, reason string) {
	if g.state.KillSwitchActive {
		return
	}
	ts := g.now().UTC()
	g.state.KillSwitchActive = true
	g.state.KillSwitchReason = reason
	g.state.KillSwitchTrippedAt = &ts
	g.logger.ErrorContext(ctx, "kill switch tripped", slog.String("reason", reason))
}

// ResetKillSwitch returns the gate to Normal. Operator action only.
func (g *Gate) ResetKillSwitch(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.state.KillSwitchActive {
		return
	}
	g.state.KillSwitchActive = false
	g.state.KillSwitchReason = ""
	g.state.KillSwitchTrippedAt = nil
	g.logger.InfoContext(ctx, "kill switch reset")
}

// SetInitialPortfolioValue records the drawdown baseline. The first call
// wins; later calls are ignored so a restart mid-session cannot move the
// baseline under the drawdown check.
func (g *Gate) SetInitialPortfolioValue(v float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state.InitialPortfolioValue != nil {
		return
	}
	g.state.InitialPortfolioValue = &v
}

// State returns a copy of the current risk state.
func (g *Gate) State() domain.RiskState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Summary builds the reporting view: open exposure, today's realized loss,
// drawdown and the five largest market exposures.
func (g *Gate) Summary(ctx context.Context) (domain.RiskSummary, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	open, err := g.positions.ListOpen(ctx)
	if err != nil {
		return domain.RiskSummary{}, fmt.Errorf("polyarb/risk: list open positions: %w", err)
	}
	dailyLoss, err := g.dailyRealizedLoss(ctx)
	if err != nil {
		return domain.RiskSummary{}, err
	}

	byMarket := make(map[string]float64)
	for _, p := range open {
		byMarket[p.ConditionID] += p.Size * p.EntryPrice
	}
	top := make([]domain.MarketExposure, 0, len(byMarket))
	for id, exp := range byMarket {
		top = append(top, domain.MarketExposure{ConditionID: id, Exposure: exp})
	}
	sort.Slice(top, func(i, j int) bool { return top[i].Exposure > top[j].Exposure })
	if len(top) > 5 {
		top = top[:5]
	}

	summary := domain.RiskSummary{
		KillSwitchActive: g.state.KillSwitchActive,
		KillSwitchReason: g.state.KillSwitchReason,
		OpenPositions:    len(open),
		TotalExposure:    exposure(open, ""),
		DailyRealizedPnL: -dailyLoss,
		TopMarkets:       top,
	}
	if g.state.InitialPortfolioValue != nil && *g.state.InitialPortfolioValue > 0 {
		summary.Drawdown = dailyLoss / *g.state.InitialPortfolioValue
	}
	return summary, nil
}

// dailyRealizedLoss sums the absolute value of negative realized PnL over
// positions closed since UTC midnight. Winning closes do not offset losses.
func (g *Gate) dailyRealizedLoss(ctx context.Context) (float64, error) {
	midnight := g.now().UTC().Truncate(24 * time.Hour)
	closed, err := g.positions.ListClosed(ctx, domain.ListOpts{Since: &midnight})
	if err != nil {
		return 0, fmt.Errorf("polyarb/risk: list closed positions: %w", err)
	}
	var loss float64
	for _, p := range closed {
		if p.RealizedPnL < 0 {
			loss += math.Abs(p.RealizedPnL)
		}
	}
	return loss, nil
}

// exposure sums size*entryPrice over open positions, optionally filtered
// to one market.
func exposure(open []domain.Position, conditionID string) float64 {
	var total float64
	for _, p := range open {
		if conditionID != "" && p.ConditionID != conditionID {
			continue
		}
		total += p.Size * p.EntryPrice
	}
	return total
}
