// Package scanner implements the three opportunity detectors. Each is a
// pure function from market snapshots to a ranked slice of opportunities;
// nothing here touches the network or mutates its inputs.
package scanner

// Params are the shared knobs for the pair-cost and combinatorial detectors.
type Params struct {
	MinProfit          float64 // minimum (1-cost)/cost fraction, e.g. 0.005
	MinLiquidityUSD    float64
	FeeRate            float64 // taker fee per token per side
	MaxPositionSizeUSD float64
}

// EndgameParams tune the near-resolution detector.
type EndgameParams struct {
	MinConfidence      float64 // qualifying side price floor, e.g. 0.95
	MinHours           float64
	MaxHours           float64
	MaxPositionSizeUSD float64
}

// hoursPerYear is used to annualize endgame returns.
const hoursPerYear = 8760.0
