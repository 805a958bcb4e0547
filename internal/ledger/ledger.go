// Package ledger owns the position record store. Every open, close and
// reconciliation correction flows through here; no other component writes
// positions.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/quantfish/polyarb/internal/domain"
)

// BalanceReader reads on-chain outcome token balances, expressed in whole
// tokens. Implemented by the chain client.
type BalanceReader interface {
	TokenBalance(ctx context.Context, tokenID string) (float64, error)
}

// reconcileTolerance is the largest local/on-chain gap treated as noise.
const reconcileTolerance = 0.01

// Ledger wraps the position store with lifecycle and reporting operations.
type Ledger struct {
	store  domain.PositionStore
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Ledger over the given store.
func New(store domain.PositionStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger.With(slog.String("component", "ledger")),
		now:    time.Now,
	}
}

// Record appends a new open position and returns it.
func (l *Ledger) Record(ctx context.Context, conditionID string, side domain.Side, tokenID string, sizeUSD, entryPrice float64, strategy string) (domain.Position, error) {
	openedAt := l.now().UTC()
	pos := domain.Position{
		ID:          domain.PositionID(conditionID, side, openedAt),
		ConditionID: conditionID,
		Side:        side,
		TokenID:     tokenID,
		Size:        sizeUSD,
		EntryPrice:  entryPrice,
		Status:      domain.PositionStatusOpen,
		Strategy:    strategy,
		OpenedAt:    openedAt,
	}
	if err := l.store.Create(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("polyarb/ledger: record position: %w", err)
	}
	l.logger.InfoContext(ctx, "position opened",
		slog.String("id", pos.ID),
		slog.String("side", string(side)),
		slog.Float64("size_usd", sizeUSD),
		slog.Float64("entry_price", entryPrice),
	)
	return pos, nil
}

// Close marks the position closed. When exitPrice is non-nil the realized
// PnL is (exit-entry)*size; a nil exit leaves PnL at zero (resolution
// outcome unknown). Returns false when the id is unknown or already closed.
func (l *Ledger) Close(ctx context.Context, positionID string, exitPrice *float64) (bool, error) {
	pos, err := l.store.GetByID(ctx, positionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("polyarb/ledger: close position: %w", err)
	}
	if pos.Status == domain.PositionStatusClosed {
		return false, nil
	}
	return true, l.closePosition(ctx, pos, exitPrice, "")
}

// CloseByMarket closes the most recently opened still-open position
// matching market and side (LIFO). Returns false when nothing matches.
func (l *Ledger) CloseByMarket(ctx context.Context, conditionID string, side domain.Side, exitPrice *float64) (bool, error) {
	open, err := l.store.ListOpen(ctx)
	if err != nil {
		return false, fmt.Errorf("polyarb/ledger: close by market: %w", err)
	}
	// ListOpen is newest-first, so the first match is the LIFO candidate.
	for _, pos := range open {
		if pos.ConditionID == conditionID && pos.Side == side {
			return true, l.closePosition(ctx, pos, exitPrice, "")
		}
	}
	return false, nil
}

func (l *Ledger) closePosition(ctx context.Context, pos domain.Position, exitPrice *float64, tag string) error {
	closedAt := l.now().UTC()
	pos.Status = domain.PositionStatusClosed
	pos.ClosedAt = &closedAt
	pos.Tag = tag
	if exitPrice != nil {
		pos.ExitPrice = exitPrice
		pos.RealizedPnL = (*exitPrice - pos.EntryPrice) * pos.Size
	}
	if err := l.store.Update(ctx, pos); err != nil {
		return fmt.Errorf("polyarb/ledger: close position %s: %w", pos.ID, err)
	}
	l.logger.InfoContext(ctx, "position closed",
		slog.String("id", pos.ID),
		slog.Float64("realized_pnl", pos.RealizedPnL),
		slog.String("tag", tag),
	)
	return nil
}

// PnLSummary aggregates the whole record store.
func (l *Ledger) PnLSummary(ctx context.Context) (domain.PnLSummary, error) {
	all, err := l.store.ListAll(ctx)
	if err != nil {
		return domain.PnLSummary{}, fmt.Errorf("polyarb/ledger: pnl summary: %w", err)
	}

	sum := domain.PnLSummary{DailyPnL: make(map[string]float64)}
	wins := 0
	for _, p := range all {
		switch p.Status {
		case domain.PositionStatusOpen:
			sum.OpenCount++
			sum.OpenExposure += p.Size * p.EntryPrice
		case domain.PositionStatusClosed:
			sum.ClosedCount++
			sum.RealizedPnL += p.RealizedPnL
			if p.RealizedPnL > 0 {
				wins++
			}
			if p.ClosedAt != nil {
				day := p.ClosedAt.UTC().Format("2006-01-02")
				sum.DailyPnL[day] += p.RealizedPnL
			}
		}
	}
	if sum.ClosedCount > 0 {
		sum.WinRate = float64(wins) / float64(sum.ClosedCount)
	}
	return sum, nil
}

// Reconcile compares every open position against its on-chain token
// balance. A zero balance means the market resolved or the tokens left the
// wallet, so the position is force-closed; any other gap beyond the
// tolerance overwrites the local size. Chain balances win every time.
func (l *Ledger) Reconcile(ctx context.Context, chain BalanceReader) (domain.ReconcileReport, error) {
	report := domain.ReconcileReport{
		RunID:     uuid.NewString(),
		StartedAt: l.now().UTC(),
	}

	open, err := l.store.ListOpen(ctx)
	if err != nil {
		return report, fmt.Errorf("polyarb/ledger: reconcile: %w", err)
	}

	for _, pos := range open {
		report.Checked++
		onchain, err := chain.TokenBalance(ctx, pos.TokenID)
		if err != nil {
			l.logger.WarnContext(ctx, "reconcile balance read failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		diff := math.Abs(onchain - pos.Size)
		if diff <= reconcileTolerance {
			continue
		}

		disc := domain.Discrepancy{
			PositionID:  pos.ID,
			ConditionID: pos.ConditionID,
			LocalSize:   pos.Size,
			OnChainSize: onchain,
		}
		if onchain == 0 {
			disc.Action = domain.TagClosedByChainSync
			if err := l.closePosition(ctx, pos, nil, domain.TagClosedByChainSync); err != nil {
				return report, err
			}
		} else {
			disc.Action = domain.TagSizeAdjustedByChainSync
			pos.Size = onchain
			pos.Tag = domain.TagSizeAdjustedByChainSync
			if err := l.store.Update(ctx, pos); err != nil {
				return report, fmt.Errorf("polyarb/ledger: reconcile adjust %s: %w", pos.ID, err)
			}
		}
		report.Discrepancies = append(report.Discrepancies, disc)
		report.Synced++
		l.logger.WarnContext(ctx, "reconcile discrepancy",
			slog.String("position_id", pos.ID),
			slog.Float64("local_size", disc.LocalSize),
			slog.Float64("onchain_size", onchain),
			slog.String("action", disc.Action),
		)
	}

	report.FinishedAt = l.now().UTC()
	return report, nil
}
