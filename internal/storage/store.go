package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"spotcheck/internal/config"
	"spotcheck/internal/model"
)

var ErrNotFound = errors.New("analysis not found")

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveAnalysis(ctx context.Context, rec *model.AnalysisRecord) error
	GetAnalysis(ctx context.Context, id string) (*model.AnalysisRecord, error)
	ListAnalyses(ctx context.Context, limit int) ([]model.AnalysisSummary, error)
	DeleteAnalysis(ctx context.Context, id string) error
	ChannelHistory(ctx context.Context, channel string, limit int) ([]ChannelRow, error)
}

// ChannelRow is one channel's figures from one stored analysis.
type ChannelRow struct {
	AnalysisID  string       `json:"analysis_id"`
	CreatedAt   time.Time    `json:"created_at"`
	Channel     string       `json:"channel"`
	Spots       int          `json:"spots"`
	DoubleSpots int          `json:"double_spots"`
	Cost        model.Amount `json:"cost"`
	DoubleCost  model.Amount `json:"double_cost"`
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// dialect covers the differences between the supported databases.
type dialect struct {
	schema      []string
	placeholder func(n int) string
	timeArg     func(time.Time) any
}

type baseStore struct {
	db *sql.DB
	d  dialect
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) Init(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	for _, stmt := range b.d.schema {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// bind rewrites ? placeholders for the dialect.
func (b *baseStore) bind(query string) string {
	if b.d.placeholder == nil {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString(b.d.placeholder(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (b *baseStore) SaveAnalysis(ctx context.Context, rec *model.AnalysisRecord) error {
	if b.db == nil || rec == nil {
		return nil
	}
	summary, err := json.Marshal(rec.Summary())
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	result, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	var totalSpots, doubleSpots int
	if rec.Result != nil {
		totalSpots = rec.Result.Metrics.TotalSpots
		doubleSpots = rec.Result.Metrics.DoubleSpots
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, b.bind(
		`INSERT INTO analyses (id, created_at, source, total_spots, double_spots, summary_json, result_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		rec.ID,
		b.d.timeArg(rec.CreatedAt.UTC()),
		rec.Source,
		totalSpots,
		doubleSpots,
		string(summary),
		string(result),
	); err != nil {
		_ = tx.Rollback()
		return err
	}
	stmt, err := tx.PrepareContext(ctx, b.bind(
		`INSERT INTO channel_stats (analysis_id, created_at, channel, spots, double_spots, cost, double_cost)
		VALUES (?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, st := range rec.Result.Channels() {
		if _, err := stmt.ExecContext(ctx,
			rec.ID,
			b.d.timeArg(rec.CreatedAt.UTC()),
			st.Channel,
			st.Spots,
			st.DoubleSpots,
			st.Cost.StringFixed(2),
			st.DoubleCost.StringFixed(2),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (b *baseStore) GetAnalysis(ctx context.Context, id string) (*model.AnalysisRecord, error) {
	if b.db == nil {
		return nil, ErrNotFound
	}
	var (
		createdAt           any
		source, summaryText string
		resultText          string
	)
	err := b.db.QueryRowContext(ctx, b.bind(
		`SELECT created_at, source, summary_json, result_json FROM analyses WHERE id = ?`), id,
	).Scan(&createdAt, &source, &summaryText, &resultText)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ts, err := scanTime(createdAt)
	if err != nil {
		return nil, err
	}
	var summary model.AnalysisSummary
	if err := json.Unmarshal([]byte(summaryText), &summary); err != nil {
		return nil, fmt.Errorf("decode summary %s: %w", id, err)
	}
	rec := &model.AnalysisRecord{ID: id, CreatedAt: ts, Source: source, Normalization: summary.Normalization}
	if err := json.Unmarshal([]byte(resultText), &rec.Result); err != nil {
		return nil, fmt.Errorf("decode result %s: %w", id, err)
	}
	return rec, nil
}

// ListAnalyses returns summaries newest first.
func (b *baseStore) ListAnalyses(ctx context.Context, limit int) ([]model.AnalysisSummary, error) {
	out := make([]model.AnalysisSummary, 0)
	if b.db == nil {
		return out, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := b.db.QueryContext(ctx, b.bind(
		`SELECT summary_json FROM analyses ORDER BY created_at DESC, id LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, err
		}
		var s model.AnalysisSummary
		if err := json.Unmarshal([]byte(text), &s); err != nil {
			return nil, fmt.Errorf("decode summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (b *baseStore) DeleteAnalysis(ctx context.Context, id string) error {
	if b.db == nil {
		return ErrNotFound
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, b.bind(`DELETE FROM channel_stats WHERE analysis_id = ?`), id); err != nil {
		_ = tx.Rollback()
		return err
	}
	res, err := tx.ExecContext(ctx, b.bind(`DELETE FROM analyses WHERE id = ?`), id)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		_ = tx.Rollback()
		return ErrNotFound
	}
	return tx.Commit()
}

// ChannelHistory lists a channel's figures across stored analyses, newest
// first.
func (b *baseStore) ChannelHistory(ctx context.Context, channel string, limit int) ([]ChannelRow, error) {
	out := make([]ChannelRow, 0)
	if b.db == nil {
		return out, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := b.db.QueryContext(ctx, b.bind(
		`SELECT analysis_id, created_at, channel, spots, double_spots, cost, double_cost
		FROM channel_stats WHERE channel = ? ORDER BY created_at DESC, analysis_id LIMIT ?`), channel, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			row              ChannelRow
			createdAt        any
			cost, doubleCost string
		)
		if err := rows.Scan(&row.AnalysisID, &createdAt, &row.Channel, &row.Spots, &row.DoubleSpots, &cost, &doubleCost); err != nil {
			return nil, err
		}
		if row.CreatedAt, err = scanTime(createdAt); err != nil {
			return nil, err
		}
		if err := row.Cost.UnmarshalJSON([]byte(cost)); err != nil {
			return nil, fmt.Errorf("decode cost: %w", err)
		}
		if err := row.DoubleCost.UnmarshalJSON([]byte(doubleCost)); err != nil {
			return nil, fmt.Errorf("decode double cost: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func scanTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return parseStoredTime(t)
	case []byte:
		return parseStoredTime(string(t))
	case nil:
		return time.Time{}, nil
	}
	return time.Time{}, fmt.Errorf("unexpected time column type %T", v)
}

func parseStoredTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable stored time %q", s)
}
