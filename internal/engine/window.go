package engine

import (
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"spotcheck/internal/model"
)

var hundred = decimal.NewFromInt(100)

func minutes(m int) time.Duration {
	return time.Duration(m) * time.Minute
}

// flagged marks every spot that has at least one match within window.
func (s *scanner) flagged(parts []partition, window time.Duration) []bool {
	out := make([]bool, len(s.spots))
	for _, p := range parts {
		s.scan(p, window, func(i, j int, _ time.Duration) {
			out[i] = true
			out[j] = true
		})
	}
	return out
}

// summarizeWindows evaluates every threshold independently against the full
// spot set, sharing the sorted partitions between thresholds.
func (s *scanner) summarizeWindows(parts []partition, thresholds []int, totalCost decimal.Decimal) []model.WindowSummary {
	out := make([]model.WindowSummary, len(thresholds))
	var g errgroup.Group
	g.SetLimit(workerLimit())
	for k, threshold := range thresholds {
		k, threshold := k, threshold
		g.Go(func() error {
			out[k] = s.summarizeWindow(parts, threshold, totalCost)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (s *scanner) summarizeWindow(parts []partition, threshold int, totalCost decimal.Decimal) model.WindowSummary {
	flags := s.flagged(parts, minutes(threshold))
	count := 0
	cost := decimal.Zero
	for i, f := range flags {
		if !f {
			continue
		}
		count++
		cost = cost.Add(s.spots[i].Cost.Decimal)
	}
	return model.WindowSummary{
		ThresholdMinutes: threshold,
		Spots:            count,
		SpotsPercent:     percentOf(count, len(s.spots)),
		Cost:             model.NewAmount(cost),
		CostPercent:      costPercent(cost, totalCost),
	}
}

func percentOf(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

func costPercent(part, total decimal.Decimal) float64 {
	if !total.IsPositive() {
		return 0
	}
	return part.Div(total).Mul(hundred).InexactFloat64()
}
