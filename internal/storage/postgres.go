package storage

import (
	"database/sql"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/spotcheck?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db, d: dialect{
		schema: []string{
			`CREATE TABLE IF NOT EXISTS analyses (
				id TEXT PRIMARY KEY,
				created_at TIMESTAMPTZ NOT NULL,
				source TEXT NOT NULL,
				total_spots INTEGER NOT NULL,
				double_spots INTEGER NOT NULL,
				summary_json JSONB NOT NULL,
				result_json JSONB NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_analyses_created ON analyses(created_at)`,
			`CREATE TABLE IF NOT EXISTS channel_stats (
				id BIGSERIAL PRIMARY KEY,
				analysis_id TEXT NOT NULL REFERENCES analyses(id) ON DELETE CASCADE,
				created_at TIMESTAMPTZ NOT NULL,
				channel TEXT NOT NULL,
				spots INTEGER NOT NULL,
				double_spots INTEGER NOT NULL,
				cost NUMERIC(18,2) NOT NULL,
				double_cost NUMERIC(18,2) NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_channel_stats_channel ON channel_stats(channel, created_at)`,
		},
		placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
		timeArg:     func(t time.Time) any { return t.UTC() },
	}}}, nil
}
