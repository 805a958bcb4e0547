package domain

import (
	"fmt"
	"time"
)

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// Reconciliation tags recorded on positions the chain sync corrected.
const (
	TagClosedByChainSync       = "closed_by_chain_sync"
	TagSizeAdjustedByChainSync = "size_adjusted_by_chain_sync"
)

// Position is the ledger's unit of record. Created only by a successful
// buy; mutated only by Close or by chain reconciliation; never deleted.
type Position struct {
	ID          string
	ConditionID string
	Side        Side
	TokenID     string
	Size        float64 // notional USD
	EntryPrice  float64
	Status      PositionStatus
	Tag         string // reconciliation tag, empty otherwise
	Strategy    string
	OpenedAt    time.Time
	ClosedAt    *time.Time
	ExitPrice   *float64
	RealizedPnL float64
}

// PositionID derives the record key from market, side and open time. The
// nanosecond suffix keeps same-second entries on one market distinct.
func PositionID(conditionID string, side Side, openedAt time.Time) string {
	return fmt.Sprintf("%s_%s_%d", conditionID, side, openedAt.UnixNano())
}

// LegResult reports one split-and-hedge leg of a trade.
type LegResult struct {
	ConditionID string
	Side        Side
	AmountUSD   float64
	EntryPrice  float64
	SplitTxHash string
	HedgePlaced bool
	HedgeError  string
	PositionID  string
	Err         error
}

// TradeResult aggregates the legs of one executed opportunity.
type TradeResult struct {
	Opportunity Opportunity
	Legs        []LegResult
	ExecutedAt  time.Time
}

// Succeeded reports whether every leg completed its split.
func (r TradeResult) Succeeded() bool {
	for _, leg := range r.Legs {
		if leg.Err != nil {
			return false
		}
	}
	return len(r.Legs) > 0
}

// PnLSummary aggregates the record store.
type PnLSummary struct {
	RealizedPnL  float64
	OpenCount    int
	ClosedCount  int
	WinRate      float64            // fraction of closed positions with positive PnL
	DailyPnL     map[string]float64 // UTC date (2006-01-02) -> realized PnL
	OpenExposure float64            // sum of size*entryPrice over open positions
}

// Discrepancy is one reconciliation finding.
type Discrepancy struct {
	PositionID   string
	ConditionID  string
	LocalSize    float64
	OnChainSize  float64
	Action       string // reconciliation tag applied
}

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	RunID         string
	Checked       int
	Discrepancies []Discrepancy
	Synced        int
	StartedAt     time.Time
	FinishedAt    time.Time
}
