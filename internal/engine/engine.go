package engine

import (
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"spotcheck/internal/model"
)

// Observer receives the outcome of every Analyze call.
type Observer interface {
	AnalysisCompleted(res *model.Result, elapsed time.Duration)
	AnalysisRejected(err error)
}

// Engine runs double-booking analyses. It keeps no state between calls, so
// one Engine may serve any number of concurrent analyses.
type Engine struct {
	logger   *slog.Logger
	observer Observer
}

func NewEngine(logger *slog.Logger, observer Observer) *Engine {
	return &Engine{logger: logger, observer: observer}
}

func (e *Engine) Analyze(spots []model.Spot, cfg model.AnalysisConfig) (*model.Result, error) {
	start := time.Now()
	res, err := Analyze(spots, cfg)
	if err != nil {
		if e.logger != nil {
			e.logger.Warn("analysis rejected", "err", err)
		}
		if e.observer != nil {
			e.observer.AnalysisRejected(err)
		}
		return nil, err
	}
	elapsed := time.Since(start)
	if e.logger != nil {
		e.logger.Debug("analysis complete",
			"spots", res.Metrics.TotalSpots,
			"double_spots", res.Metrics.DoubleSpots,
			"clusters", len(res.Clusters),
			"window_minutes", cfg.TimeWindowMinutes,
			"mode", string(cfg.CreativeMatchMode),
			"elapsed", elapsed,
		)
	}
	if e.observer != nil {
		e.observer.AnalysisCompleted(res, elapsed)
	}
	return res, nil
}

// Analyze is the pure engine entry point. Configuration errors are returned
// before any spot is looked at.
func Analyze(input []model.Spot, cfg model.AnalysisConfig) (*model.Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Thresholds = cfg.ThresholdLadder()

	spots := make([]model.Spot, len(input))
	copy(spots, input)
	for i := range spots {
		spots[i].Index = i
		if spots[i].Channel == "" {
			spots[i].Channel = model.UnknownChannel
		}
	}

	parts := partitionSpots(spots)
	s := &scanner{
		spots:    spots,
		creative: newCreativeMatcher(spots, cfg),
		sameDay:  cfg.SameDayOnly,
	}
	matches := s.matchAll(parts, minutes(cfg.TimeWindowMinutes))
	ann := annotate(spots, matches)
	metrics, totalCost := computeMetrics(ann.spots)
	windows := s.summarizeWindows(parts, cfg.Thresholds, totalCost)
	return assemble(cfg, ann, metrics, windows, FairShare(spots), len(input))
}

func (s *scanner) matchAll(parts []partition, window time.Duration) []channelMatches {
	out := make([]channelMatches, len(parts))
	var g errgroup.Group
	g.SetLimit(workerLimit())
	for k, p := range parts {
		k, p := k, p
		g.Go(func() error {
			out[k] = s.matchPartition(p, window)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func workerLimit() int {
	if n := runtime.GOMAXPROCS(0); n > 0 {
		return n
	}
	return 1
}
