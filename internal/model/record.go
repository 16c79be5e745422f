package model

import "time"

// AnalysisRecord is a stored analysis run.
type AnalysisRecord struct {
	ID            string              `json:"id"`
	CreatedAt     time.Time           `json:"created_at"`
	Source        string              `json:"source"`
	Normalization NormalizationReport `json:"normalization"`
	Result        *Result             `json:"result"`
}

// AnalysisSummary is a record without the per-spot data, edges and clusters.
type AnalysisSummary struct {
	ID              string                    `json:"id"`
	CreatedAt       time.Time                 `json:"created_at"`
	Source          string                    `json:"source"`
	Config          AnalysisConfig            `json:"config"`
	Normalization   NormalizationReport       `json:"normalization"`
	Metrics         Metrics                   `json:"metrics"`
	WindowSummaries []WindowSummary           `json:"window_summaries"`
	FairShare       map[string]FairShareEntry `json:"fair_share"`
}

func (r *AnalysisRecord) Summary() AnalysisSummary {
	s := AnalysisSummary{
		ID:            r.ID,
		CreatedAt:     r.CreatedAt,
		Source:        r.Source,
		Normalization: r.Normalization,
	}
	if r.Result != nil {
		s.Config = r.Result.Config
		s.Metrics = r.Result.Metrics
		s.WindowSummaries = r.Result.WindowSummaries
		s.FairShare = r.Result.FairShare
	}
	return s
}
