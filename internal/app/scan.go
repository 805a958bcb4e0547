package app

import (
	"fmt"
	"os"
	"sort"

	"github.com/olekukonko/tablewriter"

	"github.com/quantfish/polyarb/internal/domain"
)

// scanReport collects one-shot scan results for printing.
type scanReport struct {
	FetchedMarkets int
	FetchedEvents  int
	PairCost       []domain.Opportunity
	Combinatorial  []domain.Opportunity
	Endgame        []domain.Opportunity
}

func printScanReport(r scanReport) {
	fmt.Printf("\nscanned %d markets", r.FetchedMarkets)
	if r.FetchedEvents > 0 {
		fmt.Printf(", %d neg-risk events", r.FetchedEvents)
	}
	fmt.Println()

	printed := 0
	if len(r.PairCost) > 0 {
		printPairCostTable(r.PairCost)
		printed += len(r.PairCost)
	}
	if len(r.Combinatorial) > 0 {
		printComboTable(r.Combinatorial)
		printed += len(r.Combinatorial)
	}
	if len(r.Endgame) > 0 {
		printEndgameTable(r.Endgame)
		printed += len(r.Endgame)
	}
	if printed == 0 {
		fmt.Println("no opportunities above threshold")
		return
	}
	fmt.Printf("\n%d opportunities found\n", printed)
}

func printPairCostTable(opps []domain.Opportunity) {
	byProfit(opps)

	fmt.Println("\nPAIR COST")
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("#", "Market", "Yes", "No", "Cost", "Profit%", "Max$")
	for i, opp := range opps {
		table.Append(
			fmt.Sprintf("%d", i+1),
			truncate(opp.Question, 48),
			fmt.Sprintf("%.3f", opp.PairCost.YesPrice),
			fmt.Sprintf("%.3f", opp.PairCost.NoPrice),
			fmt.Sprintf("%.4f", opp.NetCost),
			fmt.Sprintf("%.2f%%", opp.NetProfitPct),
			fmt.Sprintf("%.0f", opp.MaxSizeUSD),
		)
	}
	table.Render()
}

func printComboTable(opps []domain.Opportunity) {
	byProfit(opps)

	fmt.Println("\nCOMBINATORIAL")
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("#", "Event", "Legs", "Cost", "Profit%", "Max$")
	for i, opp := range opps {
		table.Append(
			fmt.Sprintf("%d", i+1),
			truncate(opp.Question, 48),
			fmt.Sprintf("%d", len(opp.Combinatorial.Outcomes)),
			fmt.Sprintf("%.4f", opp.NetCost),
			fmt.Sprintf("%.2f%%", opp.NetProfitPct),
			fmt.Sprintf("%.0f", opp.MaxSizeUSD),
		)
	}
	table.Render()
}

func printEndgameTable(opps []domain.Opportunity) {
	byProfit(opps)

	fmt.Println("\nENDGAME")
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("#", "Market", "Side", "Price", "Hours", "Ann%", "Max$")
	for i, opp := range opps {
		table.Append(
			fmt.Sprintf("%d", i+1),
			truncate(opp.Question, 48),
			string(opp.Endgame.Side),
			fmt.Sprintf("%.3f", opp.Endgame.Price),
			fmt.Sprintf("%.1f", opp.Endgame.HoursToResolution),
			fmt.Sprintf("%.1f", opp.Endgame.AnnualizedReturn),
			fmt.Sprintf("%.0f", opp.MaxSizeUSD),
		)
	}
	table.Render()
}

func byProfit(opps []domain.Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		return opps[i].NetProfitPct > opps[j].NetProfitPct
	})
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
