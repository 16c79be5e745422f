package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"spotcheck/internal/model"
)

var base = time.Date(2025, 11, 30, 10, 0, 0, 0, time.UTC)

func spot(channel string, minute int, creative string, cost string) model.Spot {
	return model.Spot{
		Channel:     channel,
		Timestamp:   base.Add(time.Duration(minute) * time.Minute),
		Cost:        model.Amount{Decimal: decimal.RequireFromString(cost)},
		Creative:    creative,
		CreativeKey: model.CreativeKey(creative),
	}
}

func exactConfig(window int) model.AnalysisConfig {
	cfg := model.DefaultAnalysisConfig()
	cfg.TimeWindowMinutes = window
	return cfg
}

func containsConfig(window int, text string) model.AnalysisConfig {
	cfg := exactConfig(window)
	cfg.CreativeMatchMode = model.MatchContains
	cfg.CreativeMatchText = text
	return cfg
}

func mustAnalyze(t *testing.T, spots []model.Spot, cfg model.AnalysisConfig) *model.Result {
	t.Helper()
	res, err := Analyze(spots, cfg)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	return res
}

func TestDoubleBookingWithinWindow(t *testing.T) {
	spots := []model.Spot{
		spot("RTL", 0, "buy-now", "100"),
		spot("RTL", 30, "buy-now", "50"),
	}
	res := mustAnalyze(t, spots, exactConfig(60))
	for _, s := range res.Data {
		if !s.IsDoubleBooked {
			t.Fatalf("spot %d not flagged", s.Index)
		}
	}
	if res.Metrics.DoubleSpots != 2 || res.Metrics.EfficientSpots != 0 {
		t.Fatalf("metrics: double=%d efficient=%d", res.Metrics.DoubleSpots, res.Metrics.EfficientSpots)
	}
	if !res.Metrics.DoubleCost.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("double cost: %s", res.Metrics.DoubleCost)
	}
	if len(res.Edges) != 1 || res.Edges[0].DeltaMinutes != 30 {
		t.Fatalf("edges: %+v", res.Edges)
	}
	if len(res.Clusters) != 1 || len(res.Clusters[0].Members) != 2 {
		t.Fatalf("clusters: %+v", res.Clusters)
	}
}

func TestNoMatchOutsideWindow(t *testing.T) {
	spots := []model.Spot{
		spot("RTL", 0, "buy-now", "100"),
		spot("RTL", 30, "buy-now", "50"),
	}
	res := mustAnalyze(t, spots, exactConfig(25))
	if res.Metrics.DoubleSpots != 0 || res.Metrics.EfficientSpots != 2 {
		t.Fatalf("metrics: double=%d efficient=%d", res.Metrics.DoubleSpots, res.Metrics.EfficientSpots)
	}
	if len(res.Edges) != 0 {
		t.Fatalf("unexpected edges: %+v", res.Edges)
	}
}

func TestWindowBoundaryInclusive(t *testing.T) {
	spots := []model.Spot{
		spot("RTL", 0, "a", "1"),
		spot("RTL", 30, "a", "1"),
	}
	res := mustAnalyze(t, spots, exactConfig(30))
	if res.Metrics.DoubleSpots != 2 {
		t.Fatalf("expected match at delta == window, got %d", res.Metrics.DoubleSpots)
	}
}

func TestChannelsNeverMatch(t *testing.T) {
	spots := []model.Spot{
		spot("RTL", 0, "buy-now", "10"),
		spot("SAT1", 0, "buy-now", "10"),
	}
	res := mustAnalyze(t, spots, exactConfig(120))
	if res.Metrics.DoubleSpots != 0 {
		t.Fatalf("cross-channel match reported")
	}
}

func TestIdenticalTimestampsMatch(t *testing.T) {
	spots := []model.Spot{
		spot("RTL", 0, "x", "1"),
		spot("RTL", 0, "x", "1"),
		spot("RTL", 0, "y", "1"),
	}
	res := mustAnalyze(t, spots, exactConfig(5))
	if res.Metrics.DoubleSpots != 2 {
		t.Fatalf("double spots: %d", res.Metrics.DoubleSpots)
	}
	if res.Data[2].IsDoubleBooked {
		t.Fatalf("different creative matched")
	}
}

func TestContainsMode(t *testing.T) {
	cases := []struct {
		name   string
		second string
		want   int
	}{
		{"both contain text", "buy today", 2},
		{"second lacks text", "Sell Now", 0},
		{"inner spacing differs", "b uy today", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spots := []model.Spot{
				spot("RTL", 0, "Buy Now Sale", "1"),
				spot("RTL", 10, tc.second, "1"),
			}
			res := mustAnalyze(t, spots, containsConfig(60, "buy"))
			if res.Metrics.DoubleSpots != tc.want {
				t.Fatalf("double spots: got %d want %d", res.Metrics.DoubleSpots, tc.want)
			}
		})
	}
}

func TestContainsModeKeepsInnerWhitespace(t *testing.T) {
	spots := []model.Spot{
		spot("RTL", 0, "  BUY NOW today", "1"),
		spot("RTL", 10, "buy   now", "1"),
	}
	if res := mustAnalyze(t, spots, containsConfig(60, " buy now ")); res.Metrics.DoubleSpots != 0 {
		t.Fatalf("collapsed whitespace matched: %d doubles", res.Metrics.DoubleSpots)
	}
	spots[1].Creative = "Buy Now!"
	if res := mustAnalyze(t, spots, containsConfig(60, " buy now ")); res.Metrics.DoubleSpots != 2 {
		t.Fatalf("expected both spots to match: %d doubles", res.Metrics.DoubleSpots)
	}
}

func TestExactModeComparesNormalizedKey(t *testing.T) {
	spots := []model.Spot{
		spot("RTL", 0, "Buy  Now", "1"),
		spot("RTL", 10, "buy now", "1"),
	}
	res := mustAnalyze(t, spots, exactConfig(60))
	if res.Metrics.DoubleSpots != 2 {
		t.Fatalf("normalized creatives should match")
	}
}

func TestSameDayOnly(t *testing.T) {
	spots := []model.Spot{
		spot("RTL", 13*60+50, "a", "1"),
		spot("RTL", 14*60+10, "a", "1"),
	}
	cfg := exactConfig(60)
	if res := mustAnalyze(t, spots, cfg); res.Metrics.DoubleSpots != 2 {
		t.Fatalf("expected match across midnight without same_day_only")
	}
	cfg.SameDayOnly = true
	if res := mustAnalyze(t, spots, cfg); res.Metrics.DoubleSpots != 0 {
		t.Fatalf("expected no match across midnight with same_day_only")
	}
}

func TestInvalidConfiguration(t *testing.T) {
	cases := []model.AnalysisConfig{
		exactConfig(4),
		exactConfig(121),
		containsConfig(60, "   "),
		{TimeWindowMinutes: 60, CreativeMatchMode: "fuzzy"},
		{TimeWindowMinutes: 60, CreativeMatchMode: model.MatchExact, Thresholds: []int{15, 0}},
		{TimeWindowMinutes: 60, CreativeMatchMode: model.MatchExact, Thresholds: []int{60, 200000000}},
		{TimeWindowMinutes: 60, CreativeMatchMode: model.MatchExact, Thresholds: []int{model.MaxThresholdMinutes + 1}},
	}
	for _, cfg := range cases {
		_, err := Analyze([]model.Spot{spot("RTL", 0, "a", "1")}, cfg)
		if !errors.Is(err, model.ErrInvalidConfiguration) {
			t.Fatalf("config %+v: expected invalid configuration, got %v", cfg, err)
		}
		var cerr *model.ConfigError
		if !errors.As(err, &cerr) || cerr.Field == "" {
			t.Fatalf("config %+v: expected ConfigError with field", cfg)
		}
	}
}

func TestEmptyInput(t *testing.T) {
	res := mustAnalyze(t, nil, exactConfig(60))
	if res.Metrics.TotalSpots != 0 || res.Metrics.DoubleSpots != 0 || !res.Metrics.TotalCost.IsZero() {
		t.Fatalf("expected zero metrics: %+v", res.Metrics)
	}
	if len(res.Data) != 0 || len(res.FairShare) != 0 || len(res.Edges) != 0 || len(res.Clusters) != 0 {
		t.Fatalf("expected empty collections")
	}
	for _, w := range res.WindowSummaries {
		if w.Spots != 0 || w.SpotsPercent != 0 || w.CostPercent != 0 {
			t.Fatalf("expected zero window row: %+v", w)
		}
	}
	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if bytes.Contains(data, []byte("null")) {
		t.Fatalf("empty result should not encode null collections: %s", data)
	}
}

func randomSpots(n int) []model.Spot {
	channels := []string{"RTL", "SAT1", "PRO7", "VOX"}
	creatives := []string{"buy now", "buy today", "sale", "brand film"}
	out := make([]model.Spot, 0, n)
	seed := uint32(7)
	next := func() int {
		seed = seed*1664525 + 1013904223
		return int(seed >> 8)
	}
	for i := 0; i < n; i++ {
		out = append(out, spot(
			channels[next()%len(channels)],
			next()%(24*60),
			creatives[next()%len(creatives)],
			fmt.Sprintf("%d.%02d", next()%500, next()%100),
		))
	}
	return out
}

func TestDeterministicOutput(t *testing.T) {
	spots := randomSpots(400)
	cfg := containsConfig(30, "buy")
	first, err := json.Marshal(mustAnalyze(t, spots, cfg))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for i := 0; i < 3; i++ {
		again, _ := json.Marshal(mustAnalyze(t, spots, cfg))
		if !bytes.Equal(first, again) {
			t.Fatalf("run %d differs", i)
		}
	}
}

func TestWindowMonotonicity(t *testing.T) {
	spots := randomSpots(500)
	cfg := exactConfig(60)
	cfg.Thresholds = []int{60, 5, 30, 15, 90, 15}
	res := mustAnalyze(t, spots, cfg)
	want := []int{5, 15, 30, 60, 90}
	if len(res.WindowSummaries) != len(want) {
		t.Fatalf("thresholds: %+v", res.WindowSummaries)
	}
	for i, w := range res.WindowSummaries {
		if w.ThresholdMinutes != want[i] {
			t.Fatalf("threshold order: got %d want %d", w.ThresholdMinutes, want[i])
		}
		if i > 0 && w.Spots < res.WindowSummaries[i-1].Spots {
			t.Fatalf("spots decreased from %d to %d at %d minutes", res.WindowSummaries[i-1].Spots, w.Spots, w.ThresholdMinutes)
		}
	}
	for _, w := range res.WindowSummaries {
		if w.ThresholdMinutes == 60 && w.Spots != res.Metrics.DoubleSpots {
			t.Fatalf("60 minute row %d disagrees with main run %d", w.Spots, res.Metrics.DoubleSpots)
		}
	}
}

func TestConservation(t *testing.T) {
	res := mustAnalyze(t, randomSpots(300), exactConfig(45))
	m := res.Metrics
	if m.EfficientSpots+m.DoubleSpots != m.TotalSpots {
		t.Fatalf("spots not conserved: %+v", m)
	}
	if !m.EfficientCost.Add(m.DoubleCost.Decimal).Sub(m.TotalCost.Decimal).Abs().LessThanOrEqual(decimal.RequireFromString("0.01")) {
		t.Fatalf("cost not conserved: %s + %s != %s", m.EfficientCost, m.DoubleCost, m.TotalCost)
	}
	if m.LowIncrementalSpots != 0 {
		t.Fatalf("residual should be zero: %d", m.LowIncrementalSpots)
	}
}

func TestEdgesAreSymmetricAndChannelIsolated(t *testing.T) {
	res := mustAnalyze(t, randomSpots(300), exactConfig(120))
	for _, e := range res.Edges {
		a, b := res.Data[e.A], res.Data[e.B]
		if a.Channel != b.Channel || e.Channel != a.Channel {
			t.Fatalf("edge crosses channels: %+v", e)
		}
		if !containsInt(a.Matches, e.B) || !containsInt(b.Matches, e.A) {
			t.Fatalf("edge not symmetric: %+v", e)
		}
		if a.ClusterID == 0 || a.ClusterID != b.ClusterID {
			t.Fatalf("edge endpoints in different clusters: %+v", e)
		}
	}
	for _, s := range res.Data {
		if s.IsDoubleBooked != (len(s.Matches) > 0) {
			t.Fatalf("spot %d flag disagrees with matches", s.Index)
		}
	}
}

func TestEverySpotAppearsOnce(t *testing.T) {
	spots := randomSpots(200)
	res := mustAnalyze(t, spots, exactConfig(60))
	if len(res.Data) != len(spots) {
		t.Fatalf("data length: %d want %d", len(res.Data), len(spots))
	}
	for i, s := range res.Data {
		if s.Index != i || !s.Timestamp.Equal(spots[i].Timestamp) {
			t.Fatalf("spot %d out of place", i)
		}
	}
}

func TestClustersGroupTransitiveMatches(t *testing.T) {
	spots := []model.Spot{
		spot("RTL", 0, "a", "1"),
		spot("RTL", 50, "a", "1"),
		spot("RTL", 100, "a", "1"),
		spot("RTL", 300, "a", "1"),
	}
	res := mustAnalyze(t, spots, exactConfig(60))
	if len(res.Clusters) != 1 {
		t.Fatalf("clusters: %+v", res.Clusters)
	}
	c := res.Clusters[0]
	if len(c.Members) != 3 || !c.First.Equal(spots[0].Timestamp) || !c.Last.Equal(spots[2].Timestamp) {
		t.Fatalf("cluster: %+v", c)
	}
	if res.Data[0].ClusterID != c.ID || res.Data[3].ClusterID != 0 {
		t.Fatalf("cluster ids not propagated")
	}
	if len(res.Data[1].Matches) != 2 {
		t.Fatalf("middle spot should match both neighbours: %v", res.Data[1].Matches)
	}
}

func TestSameAndDifferentProgramSplit(t *testing.T) {
	a := spot("RTL", 0, "buy", "1")
	a.Program = "News"
	b := spot("RTL", 10, "buy", "1")
	b.Program = "News"
	c := spot("RTL", 200, "buy", "1")
	c.Program = "Film"
	d := spot("RTL", 210, "buy", "1")
	d.Program = "Show"
	res := mustAnalyze(t, []model.Spot{a, b, c, d}, exactConfig(30))
	if res.Metrics.SameProgramSpots != 2 || res.Metrics.DiffProgramSpots != 2 {
		t.Fatalf("program split: same=%d diff=%d", res.Metrics.SameProgramSpots, res.Metrics.DiffProgramSpots)
	}
}

func TestReachAndXRPTotals(t *testing.T) {
	a := spot("RTL", 0, "buy", "1")
	a.Reach, a.XRP = 300, 1.5
	b := spot("RTL", 10, "buy", "1")
	b.Reach, b.XRP = 100, 0.5
	c := spot("VOX", 0, "buy", "1")
	c.Reach, c.XRP = 400, 2
	m := mustAnalyze(t, []model.Spot{a, b, c}, exactConfig(30)).Metrics
	if m.TotalReach != 800 || m.DoubleReach != 400 || m.PercentReach != 50 {
		t.Fatalf("reach: total=%v double=%v percent=%v", m.TotalReach, m.DoubleReach, m.PercentReach)
	}
	if m.TotalXRP != 4 || m.DoubleXRP != 2 || m.PercentXRP != 50 {
		t.Fatalf("xrp: total=%v double=%v percent=%v", m.TotalXRP, m.DoubleXRP, m.PercentXRP)
	}
	if zero := mustAnalyze(t, []model.Spot{spot("RTL", 0, "buy", "1")}, exactConfig(30)).Metrics; zero.PercentReach != 0 {
		t.Fatalf("percent reach without reach: %v", zero.PercentReach)
	}
}

func TestInputNotMutated(t *testing.T) {
	spots := []model.Spot{spot("", 0, "a", "1"), spot("", 5, "a", "1")}
	spots[0].Index = 42
	res := mustAnalyze(t, spots, exactConfig(10))
	if spots[0].Index != 42 || spots[0].Channel != "" {
		t.Fatalf("input was modified")
	}
	if res.Data[0].Channel != model.UnknownChannel {
		t.Fatalf("empty channel not normalized: %q", res.Data[0].Channel)
	}
}

func TestFairShare(t *testing.T) {
	spots := []model.Spot{
		spot("RTL", 0, "a", "60"),
		spot("RTL", 1, "b", "20"),
		spot("RTL", 2, "c", "10"),
		spot("SAT1", 0, "a", "10"),
	}
	fs := FairShare(spots)
	rtl := fs["RTL"]
	if rtl.Spots != 3 || rtl.ActualPercent != 75 || rtl.FairSharePercent != 50 || rtl.Difference != 25 {
		t.Fatalf("rtl: %+v", rtl)
	}
	if rtl.SpendPercent != 90 || rtl.SpendDifference != 40 {
		t.Fatalf("rtl spend: %+v", rtl)
	}
	sat := fs["SAT1"]
	if sat.Difference != -25 || sat.SpendDifference != -40 {
		t.Fatalf("sat1: %+v", sat)
	}
}

func TestFairShareSums(t *testing.T) {
	fs := FairShare(randomSpots(333))
	var actual, fair, spend float64
	for _, e := range fs {
		actual += e.ActualPercent
		fair += e.FairSharePercent
		spend += e.SpendPercent
	}
	if math.Abs(actual-100) > 1e-9 || math.Abs(spend-100) > 1e-6 || math.Abs(fair-100) > 1e-9 {
		t.Fatalf("sums: actual=%f fair=%f spend=%f", actual, fair, spend)
	}
	if len(FairShare(nil)) != 0 {
		t.Fatalf("expected empty fair share for no spots")
	}
}

type recordingObserver struct {
	completed int
	rejected  int
}

func (r *recordingObserver) AnalysisCompleted(*model.Result, time.Duration) { r.completed++ }
func (r *recordingObserver) AnalysisRejected(error)                         { r.rejected++ }

func TestEngineNotifiesObserver(t *testing.T) {
	obs := &recordingObserver{}
	eng := NewEngine(nil, obs)
	if _, err := eng.Analyze([]model.Spot{spot("RTL", 0, "a", "1")}, exactConfig(60)); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if _, err := eng.Analyze(nil, exactConfig(1)); err == nil {
		t.Fatalf("expected error")
	}
	if obs.completed != 1 || obs.rejected != 1 {
		t.Fatalf("observer: %+v", obs)
	}
}

func BenchmarkAnalyze(b *testing.B) {
	spots := randomSpots(20000)
	cfg := exactConfig(60)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Analyze(spots, cfg); err != nil {
			b.Fatal(err)
		}
	}
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
