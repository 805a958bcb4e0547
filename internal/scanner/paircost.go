package scanner

import (
	"math"
	"sort"
	"time"

	"github.com/quantfish/polyarb/internal/domain"
)

// ScanPairCost finds binary markets where buying both sides, fees included,
// costs less than the guaranteed $1 payout. Markets missing either price or
// below the liquidity floor are skipped. Results are sorted by net profit
// percentage, best first.
func ScanPairCost(markets []domain.MarketSnapshot, p Params, now time.Time) []domain.Opportunity {
	var opps []domain.Opportunity
	for _, m := range markets {
		if m.YesPrice == nil || m.NoPrice == nil {
			continue
		}
		yes, no := *m.YesPrice, *m.NoPrice
		if yes <= 0 || no <= 0 {
			continue
		}
		if m.LiquidityUSD < p.MinLiquidityUSD {
			continue
		}

		cost := yes + no + 2*p.FeeRate
		if cost >= 1 {
			continue
		}
		profitPct := (1 - cost) / cost
		if profitPct < p.MinProfit {
			continue
		}

		opps = append(opps, domain.Opportunity{
			Kind:         domain.OpportunityPairCost,
			Question:     m.Question,
			NetCost:      cost,
			NetProfit:    1 - cost,
			NetProfitPct: profitPct * 100,
			MaxSizeUSD:   math.Min(p.MaxPositionSizeUSD, m.LiquidityUSD*0.1),
			DetectedAt:   now,
			PairCost: &domain.PairCostOpp{
				ConditionID: m.ConditionID,
				YesPrice:    yes,
				NoPrice:     no,
				YesTokenID:  m.YesTokenID,
				NoTokenID:   m.NoTokenID,
			},
		})
	}

	sort.SliceStable(opps, func(i, j int) bool {
		return opps[i].NetProfitPct > opps[j].NetProfitPct
	})
	return opps
}
