package scanner

import (
	"math"
	"sort"
	"time"

	"github.com/quantfish/polyarb/internal/domain"
)

// ScanCombinatorial finds neg-risk events whose YES legs can all be bought
// for less than the $1 the winning outcome pays. Only events with at least
// three outcomes qualify; an event is rejected outright when any outcome
// lacks a usable price or its thinnest outcome is below the liquidity floor.
func ScanCombinatorial(events []domain.Event, p Params, now time.Time) []domain.Opportunity {
	var opps []domain.Opportunity
	for _, ev := range events {
		if !ev.NegRisk || len(ev.Outcomes) < 3 {
			continue
		}

		legs := make([]domain.ComboLeg, 0, len(ev.Outcomes))
		sum := 0.0
		minLiquidity := math.MaxFloat64
		priced := true
		for _, out := range ev.Outcomes {
			if out.YesPrice == nil || *out.YesPrice <= 0 {
				priced = false
				break
			}
			sum += *out.YesPrice
			if out.LiquidityUSD < minLiquidity {
				minLiquidity = out.LiquidityUSD
			}
			legs = append(legs, domain.ComboLeg{
				ConditionID: out.ConditionID,
				Question:    out.Question,
				YesPrice:    *out.YesPrice,
				YesTokenID:  out.YesTokenID,
			})
		}
		if !priced || minLiquidity < p.MinLiquidityUSD {
			continue
		}

		cost := sum + float64(len(legs))*p.FeeRate
		if cost >= 1 {
			continue
		}
		profitPct := (1 - cost) / cost
		if profitPct < p.MinProfit {
			continue
		}

		opps = append(opps, domain.Opportunity{
			Kind:         domain.OpportunityCombinatorial,
			Question:     ev.Title,
			NetCost:      cost,
			NetProfit:    1 - cost,
			NetProfitPct: profitPct * 100,
			MaxSizeUSD:   math.Min(p.MaxPositionSizeUSD, minLiquidity*0.1),
			DetectedAt:   now,
			Combinatorial: &domain.CombinatorialOpp{
				EventID:  ev.ID,
				Title:    ev.Title,
				Outcomes: legs,
			},
		})
	}

	sort.SliceStable(opps, func(i, j int) bool {
		return opps[i].NetProfitPct > opps[j].NetProfitPct
	})
	return opps
}
