package domain

import "time"

// RiskState is the process-scoped mutable state behind the risk gate.
// Mutated only by the gate; InitialPortfolioValue is set once at start.
type RiskState struct {
	KillSwitchActive      bool
	KillSwitchReason      string
	KillSwitchTrippedAt   *time.Time
	InitialPortfolioValue *float64
}

// RiskDecision is the structured result of a pre-trade authorization.
// A rejection is an expected outcome, not an error.
type RiskDecision struct {
	Allowed    bool
	Violations []string
}

// MarketExposure pairs a market with its open notional at entry.
type MarketExposure struct {
	ConditionID string
	Exposure    float64
}

// RiskSummary is a reporting view over the gate and the ledger.
type RiskSummary struct {
	KillSwitchActive bool
	KillSwitchReason string
	OpenPositions    int
	TotalExposure    float64
	DailyRealizedPnL float64
	Drawdown         float64 // fraction of initial portfolio value, 0 when unset
	TopMarkets       []MarketExposure
}
