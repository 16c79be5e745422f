package storage

import (
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Timestamps are stored as fixed-width RFC3339 text so they sort as strings.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:spotcheck.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return &sqliteStore{baseStore{db: db, d: dialect{
		schema: []string{
			`CREATE TABLE IF NOT EXISTS analyses (
				id TEXT PRIMARY KEY,
				created_at TEXT NOT NULL,
				source TEXT NOT NULL,
				total_spots INTEGER NOT NULL,
				double_spots INTEGER NOT NULL,
				summary_json TEXT NOT NULL,
				result_json TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_analyses_created ON analyses(created_at)`,
			`CREATE TABLE IF NOT EXISTS channel_stats (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				analysis_id TEXT NOT NULL,
				created_at TEXT NOT NULL,
				channel TEXT NOT NULL,
				spots INTEGER NOT NULL,
				double_spots INTEGER NOT NULL,
				cost TEXT NOT NULL,
				double_cost TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_channel_stats_channel ON channel_stats(channel, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_channel_stats_analysis ON channel_stats(analysis_id)`,
		},
		timeArg: func(t time.Time) any { return t.UTC().Format(sqliteTimeLayout) },
	}}}, nil
}
