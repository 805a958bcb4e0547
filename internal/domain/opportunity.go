package domain

import "time"

// OpportunityKind tags which variant of Opportunity is populated.
type OpportunityKind string

const (
	OpportunityPairCost      OpportunityKind = "pair_cost"
	OpportunityCombinatorial OpportunityKind = "combinatorial"
	OpportunityEndgame       OpportunityKind = "endgame"
)

// PairCostOpp is a single binary market whose YES+NO legs, fees included,
// cost less than the guaranteed $1 payout.
type PairCostOpp struct {
	ConditionID string
	YesPrice    float64
	NoPrice     float64
	YesTokenID  string
	NoTokenID   string
}

// ComboLeg is one outcome of a combinatorial opportunity.
type ComboLeg struct {
	ConditionID string
	Question    string
	YesPrice    float64
	YesTokenID  string
}

// CombinatorialOpp spans every outcome of a neg-risk event; buying all
// YES legs for under $1 locks in the difference.
type CombinatorialOpp struct {
	EventID  string
	Title    string
	Outcomes []ComboLeg // ordered as scanned
}

// EndgameOpp is a near-certain side bought close to resolution.
type EndgameOpp struct {
	ConditionID       string
	Side              Side
	Price             float64
	TokenID           string
	HoursToResolution float64
	AnnualizedReturn  float64 // percent
}

// Opportunity is a tagged union over the three detector outputs.
// Exactly one variant pointer matching Kind is non-nil; the common
// fields are always populated. NetProfitPct is only ever set at or
// above the scan's profit threshold: detectors filter before emitting.
type Opportunity struct {
	Kind          OpportunityKind
	Question      string
	NetCost       float64
	NetProfit     float64 // per $1 of payout
	NetProfitPct  float64
	MaxSizeUSD    float64
	DetectedAt    time.Time
	PairCost      *PairCostOpp
	Combinatorial *CombinatorialOpp
	Endgame       *EndgameOpp
}

// MarketRefs lists the condition ids the opportunity touches.
func (o Opportunity) MarketRefs() []string {
	switch o.Kind {
	case OpportunityPairCost:
		return []string{o.PairCost.ConditionID}
	case OpportunityCombinatorial:
		refs := make([]string, 0, len(o.Combinatorial.Outcomes))
		for _, leg := range o.Combinatorial.Outcomes {
			refs = append(refs, leg.ConditionID)
		}
		return refs
	case OpportunityEndgame:
		return []string{o.Endgame.ConditionID}
	}
	return nil
}
