package model

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type MatchMode string

const (
	MatchExact    MatchMode = "exact"
	MatchContains MatchMode = "contains"
)

const UnknownChannel = "Unknown"

// Spot is one aired commercial. Index is the position in the engine input,
// Row the 1-based source row the normalizer read it from.
type Spot struct {
	Index       int       `json:"index"`
	Row         int       `json:"row,omitempty"`
	Channel     string    `json:"channel"`
	Timestamp   time.Time `json:"timestamp"`
	Cost        Amount    `json:"cost"`
	CostMissing bool      `json:"cost_missing,omitempty"`
	Creative    string    `json:"creative,omitempty"`
	CreativeKey string    `json:"creative_key"`
	Program     string    `json:"program,omitempty"`
	Duration    string    `json:"duration,omitempty"`
	Daypart     string    `json:"daypart,omitempty"`
	EPGCategory string    `json:"epg_category,omitempty"`
	Brand       string    `json:"brand,omitempty"`
	Company     string    `json:"company,omitempty"`
	XRP         float64   `json:"xrp,omitempty"`
	Reach       float64   `json:"reach,omitempty"`
}

type MatchEdge struct {
	A            int     `json:"a"`
	B            int     `json:"b"`
	Channel      string  `json:"channel"`
	DeltaMinutes float64 `json:"delta_minutes"`
	SameProgram  bool    `json:"same_program"`
}

type Cluster struct {
	ID      int       `json:"id"`
	Channel string    `json:"channel"`
	Members []int     `json:"members"`
	First   time.Time `json:"first"`
	Last    time.Time `json:"last"`
}

type AnnotatedSpot struct {
	Spot
	IsDoubleBooked   bool  `json:"is_double_booked"`
	Matches          []int `json:"matches"`
	ClusterID        int   `json:"cluster_id,omitempty"`
	SameProgramMatch bool  `json:"same_program_match,omitempty"`
	DiffProgramMatch bool  `json:"diff_program_match,omitempty"`
}

type Metrics struct {
	TotalSpots            int     `json:"total_spots"`
	DoubleSpots           int     `json:"double_spots"`
	EfficientSpots        int     `json:"efficient_spots"`
	LowIncrementalSpots   int     `json:"low_incremental_spots"`
	TotalCost             Amount  `json:"total_cost"`
	DoubleCost            Amount  `json:"double_cost"`
	EfficientCost         Amount  `json:"efficient_cost"`
	PercentSpots          float64 `json:"percent_spots"`
	PercentCost           float64 `json:"percent_cost"`
	EfficientPercentSpots float64 `json:"efficient_percent_spots"`
	EfficientPercentCost  float64 `json:"efficient_percent_cost"`
	SameProgramSpots      int     `json:"same_program_spots"`
	DiffProgramSpots      int     `json:"diff_program_spots"`
	TotalStations         int     `json:"total_stations"`
	CostMissingSpots      int     `json:"cost_missing_spots"`
	TotalXRP              float64 `json:"total_xrp"`
	DoubleXRP             float64 `json:"double_xrp"`
	PercentXRP            float64 `json:"percent_xrp"`
	TotalReach            float64 `json:"total_reach"`
	DoubleReach           float64 `json:"double_reach"`
	PercentReach          float64 `json:"percent_reach"`
}

type WindowSummary struct {
	ThresholdMinutes int     `json:"threshold_minutes"`
	Spots            int     `json:"spots"`
	SpotsPercent     float64 `json:"spots_percent"`
	Cost             Amount  `json:"cost"`
	CostPercent      float64 `json:"cost_percent"`
}

type FairShareEntry struct {
	Spots            int     `json:"spots"`
	Cost             Amount  `json:"cost"`
	ActualPercent    float64 `json:"actual_percent"`
	FairSharePercent float64 `json:"fair_share_percent"`
	Difference       float64 `json:"difference"`
	SpendPercent     float64 `json:"spend_percent"`
	SpendDifference  float64 `json:"spend_difference"`
}

type RowRejection struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

type NormalizationReport struct {
	RowsIn       int            `json:"rows_in"`
	RowsParsed   int            `json:"rows_parsed"`
	RowsRejected int            `json:"rows_rejected"`
	RowsFiltered int            `json:"rows_filtered"`
	CostMissing  int            `json:"cost_missing"`
	Rejections   []RowRejection `json:"rejections,omitempty"`
}

// Result is the complete output of one analysis run. It carries no run id or
// wall-clock time so identical input always encodes to identical bytes.
type Result struct {
	Config          AnalysisConfig            `json:"config"`
	Metrics         Metrics                   `json:"metrics"`
	WindowSummaries []WindowSummary           `json:"window_summaries"`
	FairShare       map[string]FairShareEntry `json:"fair_share"`
	Clusters        []Cluster                 `json:"clusters"`
	Edges           []MatchEdge               `json:"edges"`
	Data            []AnnotatedSpot           `json:"data"`
}

// CreativeKey is the identity two spots are compared on in exact mode.
func CreativeKey(creative string) string {
	return strings.Join(strings.Fields(strings.ToLower(creative)), " ")
}

// Amount is a currency value encoded as a JSON number with two decimals.
type Amount struct {
	decimal.Decimal
}

func NewAmount(d decimal.Decimal) Amount {
	return Amount{Decimal: d.Round(2)}
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.StringFixed(2)), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	return a.Decimal.UnmarshalJSON(data)
}

// ChannelStats is the double-booking picture of one station in the most
// recent analysis that contained it.
type ChannelStats struct {
	Channel      string    `json:"channel"`
	Spots        int       `json:"spots"`
	DoubleSpots  int       `json:"double_spots"`
	Cost         Amount    `json:"cost"`
	DoubleCost   Amount    `json:"double_cost"`
	PercentSpots float64   `json:"percent_spots"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Channels breaks the result down per station, sorted by channel name.
func (r *Result) Channels() []ChannelStats {
	if r == nil {
		return nil
	}
	type acc struct {
		spots, double    int
		cost, doubleCost decimal.Decimal
	}
	per := make(map[string]*acc)
	names := make([]string, 0)
	for i := range r.Data {
		sp := &r.Data[i]
		a, ok := per[sp.Channel]
		if !ok {
			a = &acc{}
			per[sp.Channel] = a
			names = append(names, sp.Channel)
		}
		a.spots++
		a.cost = a.cost.Add(sp.Cost.Decimal)
		if sp.IsDoubleBooked {
			a.double++
			a.doubleCost = a.doubleCost.Add(sp.Cost.Decimal)
		}
	}
	sort.Strings(names)
	out := make([]ChannelStats, 0, len(names))
	for _, ch := range names {
		a := per[ch]
		st := ChannelStats{
			Channel:     ch,
			Spots:       a.spots,
			DoubleSpots: a.double,
			Cost:        NewAmount(a.cost),
			DoubleCost:  NewAmount(a.doubleCost),
		}
		if a.spots > 0 {
			st.PercentSpots = float64(a.double) / float64(a.spots) * 100
		}
		out = append(out, st)
	}
	return out
}
