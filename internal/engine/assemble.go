package engine

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"spotcheck/internal/model"
)

type annotation struct {
	spots    []model.AnnotatedSpot
	edges    []model.MatchEdge
	clusters []model.Cluster
}

func annotate(spots []model.Spot, matches []channelMatches) annotation {
	ann := annotation{
		spots:    make([]model.AnnotatedSpot, len(spots)),
		edges:    []model.MatchEdge{},
		clusters: []model.Cluster{},
	}
	for i := range spots {
		ann.spots[i] = model.AnnotatedSpot{Spot: spots[i], Matches: []int{}}
	}
	for _, cm := range matches {
		for _, e := range cm.edges {
			a, b := &ann.spots[e.A], &ann.spots[e.B]
			a.IsDoubleBooked = true
			b.IsDoubleBooked = true
			a.Matches = append(a.Matches, e.B)
			b.Matches = append(b.Matches, e.A)
			if e.SameProgram {
				a.SameProgramMatch = true
				b.SameProgramMatch = true
			} else {
				a.DiffProgramMatch = true
				b.DiffProgramMatch = true
			}
			ann.edges = append(ann.edges, e)
		}
		for _, members := range cm.clusters {
			id := len(ann.clusters) + 1
			for _, idx := range members {
				ann.spots[idx].ClusterID = id
			}
			ann.clusters = append(ann.clusters, model.Cluster{
				ID:      id,
				Channel: spots[members[0]].Channel,
				Members: members,
				First:   spots[members[0]].Timestamp,
				Last:    spots[members[len(members)-1]].Timestamp,
			})
		}
	}
	for i := range ann.spots {
		sort.Ints(ann.spots[i].Matches)
	}
	return ann
}

// computeMetrics rolls up per spot, so a spot shared by overlapping pairs is
// counted once.
func computeMetrics(spots []model.AnnotatedSpot) (model.Metrics, decimal.Decimal) {
	var m model.Metrics
	totalCost, doubleCost := decimal.Zero, decimal.Zero
	stations := make(map[string]struct{})
	for i := range spots {
		sp := &spots[i]
		m.TotalSpots++
		totalCost = totalCost.Add(sp.Cost.Decimal)
		m.TotalXRP += sp.XRP
		m.TotalReach += sp.Reach
		stations[sp.Channel] = struct{}{}
		if sp.CostMissing {
			m.CostMissingSpots++
		}
		if !sp.IsDoubleBooked {
			continue
		}
		m.DoubleSpots++
		doubleCost = doubleCost.Add(sp.Cost.Decimal)
		m.DoubleXRP += sp.XRP
		m.DoubleReach += sp.Reach
		if sp.SameProgramMatch {
			m.SameProgramSpots++
		}
		if sp.DiffProgramMatch {
			m.DiffProgramSpots++
		}
	}
	efficientCost := totalCost.Sub(doubleCost)
	m.EfficientSpots = m.TotalSpots - m.DoubleSpots
	m.LowIncrementalSpots = max(0, m.TotalSpots-m.EfficientSpots-m.DoubleSpots)
	m.TotalCost = model.NewAmount(totalCost)
	m.DoubleCost = model.NewAmount(doubleCost)
	m.EfficientCost = model.NewAmount(efficientCost)
	m.PercentSpots = percentOf(m.DoubleSpots, m.TotalSpots)
	m.PercentCost = costPercent(doubleCost, totalCost)
	m.EfficientPercentSpots = percentOf(m.EfficientSpots, m.TotalSpots)
	m.EfficientPercentCost = costPercent(efficientCost, totalCost)
	m.TotalStations = len(stations)
	if m.TotalXRP > 0 {
		m.PercentXRP = m.DoubleXRP / m.TotalXRP * 100
	}
	if m.TotalReach > 0 {
		m.PercentReach = m.DoubleReach / m.TotalReach * 100
	}
	return m, totalCost
}

func assemble(cfg model.AnalysisConfig, ann annotation, metrics model.Metrics, windows []model.WindowSummary, fair map[string]model.FairShareEntry, expected int) (*model.Result, error) {
	if len(ann.spots) != expected {
		return nil, fmt.Errorf("assemble result: %d spots in, %d annotated", expected, len(ann.spots))
	}
	for i := range ann.spots {
		if ann.spots[i].Index != i {
			return nil, fmt.Errorf("assemble result: spot at position %d carries index %d", i, ann.spots[i].Index)
		}
	}
	return &model.Result{
		Config:          cfg,
		Metrics:         metrics,
		WindowSummaries: windows,
		FairShare:       fair,
		Clusters:        ann.clusters,
		Edges:           ann.edges,
		Data:            ann.spots,
	}, nil
}
