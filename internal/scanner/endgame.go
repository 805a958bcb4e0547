package scanner

import (
	"math"
	"sort"
	"time"

	"github.com/quantfish/polyarb/internal/domain"
)

// ScanEndgame finds near-certain sides close to resolution. A market
// qualifies when it resolves within [MinHours, MaxHours] and one side
// already trades at or above MinConfidence but below 1.0; the payout gap
// on that side, annualized over the hours left, is the return. Results
// are sorted by annualized return, best first.
func ScanEndgame(markets []domain.MarketSnapshot, p EndgameParams, now time.Time) []domain.Opportunity {
	var opps []domain.Opportunity
	for _, m := range markets {
		hours, ok := m.HoursToResolution(now)
		if !ok || hours < p.MinHours || hours > p.MaxHours {
			continue
		}

		side, price, tokenID, ok := confidentSide(m, p.MinConfidence)
		if !ok {
			continue
		}
		profitPerToken := 1 - price
		if profitPerToken <= 0 {
			continue
		}

		annualized := (profitPerToken / price) * (hoursPerYear / hours) * 100
		netCost := price
		opps = append(opps, domain.Opportunity{
			Kind:         domain.OpportunityEndgame,
			Question:     m.Question,
			NetCost:      netCost,
			NetProfit:    profitPerToken,
			NetProfitPct: profitPerToken / price * 100,
			MaxSizeUSD:   math.Min(2*p.MaxPositionSizeUSD, m.LiquidityUSD*0.05),
			DetectedAt:   now,
			Endgame: &domain.EndgameOpp{
				ConditionID:       m.ConditionID,
				Side:              side,
				Price:             price,
				TokenID:           tokenID,
				HoursToResolution: hours,
				AnnualizedReturn:  annualized,
			},
		})
	}

	sort.SliceStable(opps, func(i, j int) bool {
		return opps[i].Endgame.AnnualizedReturn > opps[j].Endgame.AnnualizedReturn
	})
	return opps
}

// confidentSide picks the side priced at or above the confidence floor.
// When both qualify (prices sum above 1), the higher one wins.
func confidentSide(m domain.MarketSnapshot, minConfidence float64) (domain.Side, float64, string, bool) {
	var side domain.Side
	var price float64
	var tokenID string
	if m.YesPrice != nil && *m.YesPrice >= minConfidence {
		side, price, tokenID = domain.SideYes, *m.YesPrice, m.YesTokenID
	}
	if m.NoPrice != nil && *m.NoPrice >= minConfidence && *m.NoPrice > price {
		side, price, tokenID = domain.SideNo, *m.NoPrice, m.NoTokenID
	}
	if side == "" {
		return "", 0, "", false
	}
	return side, price, tokenID, true
}
