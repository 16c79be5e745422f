package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"spotcheck/internal/config"
	"spotcheck/internal/engine"
	"spotcheck/internal/history"
	"spotcheck/internal/metrics"
	"spotcheck/internal/model"
	"spotcheck/internal/normalize"
	"spotcheck/internal/storage"
)

var (
	ErrNotFound    = storage.ErrNotFound
	ErrTooManyRows = errors.New("too many rows")
)

// Service runs analyses and keeps their records. Storage and metrics are
// optional.
type Service struct {
	cfg       *config.Manager
	engine    *engine.Engine
	history   *history.Store
	store     storage.Store
	collector *metrics.Collector
	logger    *slog.Logger
	now       func() time.Time
}

type Options struct {
	Config    *config.Manager
	History   *history.Store
	Store     storage.Store
	Collector *metrics.Collector
	Logger    *slog.Logger
}

func NewService(opts Options) *Service {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.NewStaticManager(nil)
	}
	hist := opts.History
	if hist == nil {
		hist = history.NewStore(cfg.Get().History.StoreLimit)
	}
	var observer engine.Observer
	if opts.Collector != nil {
		observer = opts.Collector
	}
	return &Service{
		cfg:       cfg,
		engine:    engine.NewEngine(opts.Logger, observer),
		history:   hist,
		store:     opts.Store,
		collector: opts.Collector,
		logger:    opts.Logger,
		now:       time.Now,
	}
}

// Resolve merges req over the running configuration and validates the
// result without touching any rows.
func (s *Service) Resolve(req Request) (model.AnalysisConfig, config.InputConfig, error) {
	cfg := s.cfg.Get()
	acfg, in := req.Config.apply(cfg.Analysis, cfg.Input)
	in.Columns = mergeColumns(in.Columns, req.Columns)
	if err := acfg.Validate(); err != nil {
		return acfg, in, err
	}
	if _, err := time.LoadLocation(in.Timezone); err != nil {
		return acfg, in, &model.ConfigError{Field: "timezone", Reason: fmt.Sprintf("unknown zone %q", in.Timezone)}
	}
	if in.Columns.Timestamp == "" && (in.Columns.Date == "" || in.Columns.Time == "") {
		return acfg, in, &model.ConfigError{Field: "columns", Reason: "need timestamp or both date and time"}
	}
	return acfg, in, nil
}

func (s *Service) Run(ctx context.Context, req Request) (*model.AnalysisRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	acfg, in, err := s.Resolve(req)
	if err != nil {
		if s.collector != nil {
			s.collector.AnalysisRejected(err)
		}
		return nil, err
	}
	if in.MaxRows > 0 && len(req.Rows) > in.MaxRows {
		return nil, fmt.Errorf("%w: %d rows, limit %d", ErrTooManyRows, len(req.Rows), in.MaxRows)
	}

	spots, report := normalize.New(in).Normalize(req.Rows)
	if s.collector != nil {
		s.collector.RecordNormalization(report)
	}
	if report.RowsRejected > 0 && s.logger != nil {
		s.logger.Warn("rows rejected", "source", req.Source, "rejected", report.RowsRejected, "rows", report.RowsIn)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := s.engine.Analyze(spots, acfg)
	if err != nil {
		return nil, err
	}

	rec := &model.AnalysisRecord{
		ID:            uuid.NewString(),
		CreatedAt:     s.now().UTC(),
		Source:        req.Source,
		Normalization: report,
		Result:        res,
	}
	s.history.Add(rec)
	if s.store != nil {
		if err := s.store.SaveAnalysis(ctx, rec); err != nil && s.logger != nil {
			s.logger.Error("persist analysis failed", "analysis_id", rec.ID, "err", err)
		}
	}
	if s.logger != nil {
		s.logger.Info("analysis recorded",
			"analysis_id", rec.ID,
			"source", rec.Source,
			"spots", res.Metrics.TotalSpots,
			"double_spots", res.Metrics.DoubleSpots,
			"percent_spots", res.Metrics.PercentSpots,
		)
	}
	return rec, nil
}

func (s *Service) Get(ctx context.Context, id string) (*model.AnalysisRecord, error) {
	if rec, ok := s.history.Get(id); ok {
		return rec, nil
	}
	if s.store == nil {
		return nil, ErrNotFound
	}
	return s.store.GetAnalysis(ctx, id)
}

// List returns up to limit summaries, newest first, from history and storage
// combined. A non-zero since drops records created before it.
func (s *Service) List(ctx context.Context, limit int, since time.Time) ([]model.AnalysisSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	recent := s.history.List(limit)
	if !since.IsZero() {
		recent = s.history.Since(since)
	}
	seen := make(map[string]struct{}, len(recent))
	out := make([]model.AnalysisSummary, 0, limit)
	for _, rec := range recent {
		seen[rec.ID] = struct{}{}
		out = append(out, rec.Summary())
	}
	if s.store != nil {
		stored, err := s.store.ListAnalyses(ctx, limit)
		if err != nil {
			return nil, err
		}
		for _, sum := range stored {
			if _, ok := seen[sum.ID]; ok || sum.CreatedAt.Before(since) {
				continue
			}
			out = append(out, sum)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	found := s.history.Delete(id)
	if s.store != nil {
		err := s.store.DeleteAnalysis(ctx, id)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// Channels reports the latest per-channel figures seen by the collector.
func (s *Service) Channels() []model.ChannelStats {
	if s.collector == nil || s.collector.Store() == nil {
		return []model.ChannelStats{}
	}
	return s.collector.Store().GetAll()
}

func (s *Service) ChannelHistory(ctx context.Context, channel string, limit int) ([]storage.ChannelRow, error) {
	if s.store == nil {
		return []storage.ChannelRow{}, nil
	}
	return s.store.ChannelHistory(ctx, channel, limit)
}

// ClearHistory drops in-memory records and channel figures. Stored analyses
// are kept.
func (s *Service) ClearHistory() {
	s.history.Clear()
	if s.collector != nil && s.collector.Store() != nil {
		s.collector.Store().Clear()
	}
}

func (s *Service) HistoryLen() int {
	return s.history.Len()
}

func (s *Service) StorageEnabled() bool {
	return s.store != nil
}

func (s *Service) Config() *config.Manager {
	return s.cfg
}
