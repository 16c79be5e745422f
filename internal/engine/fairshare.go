package engine

import (
	"github.com/shopspring/decimal"

	"spotcheck/internal/model"
)

// FairShare compares each station's share of spots and of spend with an
// equal split across all stations present in spots.
func FairShare(spots []model.Spot) map[string]model.FairShareEntry {
	out := make(map[string]model.FairShareEntry)
	if len(spots) == 0 {
		return out
	}
	counts := make(map[string]int)
	costs := make(map[string]decimal.Decimal)
	totalCost := decimal.Zero
	for i := range spots {
		ch := spots[i].Channel
		counts[ch]++
		costs[ch] = costs[ch].Add(spots[i].Cost.Decimal)
		totalCost = totalCost.Add(spots[i].Cost.Decimal)
	}
	fair := 100.0 / float64(len(counts))
	for ch, n := range counts {
		actual := percentOf(n, len(spots))
		spend := costPercent(costs[ch], totalCost)
		entry := model.FairShareEntry{
			Spots:            n,
			Cost:             model.NewAmount(costs[ch]),
			ActualPercent:    actual,
			FairSharePercent: fair,
			Difference:       actual - fair,
		}
		if totalCost.IsPositive() {
			entry.SpendPercent = spend
			entry.SpendDifference = spend - fair
		}
		out[ch] = entry
	}
	return out
}
