package telemetry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// maxZeroResultRows bounds the persisted zero-result buffer.
const maxZeroResultRows = 100

// SQLiteMetricsStore persists flushed telemetry in a local SQLite file.
type SQLiteMetricsStore struct {
	db    *sql.DB
	owned bool
}

var _ MetricsStore = (*SQLiteMetricsStore)(nil)

// OpenSQLiteMetricsStore opens or creates the telemetry database at path.
// An empty path opens an in-memory database.
func OpenSQLiteMetricsStore(path string) (*SQLiteMetricsStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create telemetry directory: %w", err)
		}
		dsn = path
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open telemetry database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set pragma: %w", err)
	}

	s, err := NewSQLiteMetricsStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewSQLiteMetricsStore uses an existing connection and creates the
// telemetry tables if needed. The caller keeps ownership of db.
func NewSQLiteMetricsStore(db *sql.DB) (*SQLiteMetricsStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := InitTelemetrySchema(db); err != nil {
		return nil, err
	}
	return &SQLiteMetricsStore{db: db}, nil
}

// InitTelemetrySchema creates the telemetry tables.
func InitTelemetrySchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS intent_stats (
		date   TEXT NOT NULL,
		intent TEXT NOT NULL,
		count  INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, intent)
	);

	CREATE TABLE IF NOT EXISTS kind_stats (
		date  TEXT NOT NULL,
		kind  TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, kind)
	);

	CREATE TABLE IF NOT EXISTS query_latency_stats (
		date   TEXT NOT NULL,
		bucket TEXT NOT NULL,
		count  INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, bucket)
	);

	CREATE TABLE IF NOT EXISTS daily_counters (
		date              TEXT PRIMARY KEY,
		queries           INTEGER NOT NULL DEFAULT 0,
		zero_results      INTEGER NOT NULL DEFAULT 0,
		dropped           INTEGER NOT NULL DEFAULT 0,
		dense_unavailable INTEGER NOT NULL DEFAULT 0,
		numeric_reranked  INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS query_terms (
		term      TEXT PRIMARY KEY,
		count     INTEGER NOT NULL DEFAULT 1,
		last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

	CREATE TABLE IF NOT EXISTS zero_result_queries (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		query     TEXT NOT NULL,
		timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

// SaveDelta adds one flush worth of increments in a single transaction.
func (s *SQLiteMetricsStore) SaveDelta(d MetricsDelta) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	upserts := []struct {
		query  string
		counts map[string]int64
	}{
		{`INSERT INTO intent_stats (date, intent, count) VALUES (?, ?, ?)
		  ON CONFLICT(date, intent) DO UPDATE SET count = count + excluded.count`, d.Intents},
		{`INSERT INTO kind_stats (date, kind, count) VALUES (?, ?, ?)
		  ON CONFLICT(date, kind) DO UPDATE SET count = count + excluded.count`, d.Kinds},
		{`INSERT INTO query_latency_stats (date, bucket, count) VALUES (?, ?, ?)
		  ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count`, bucketsToStrings(d.Latencies)},
	}
	for _, u := range upserts {
		for key, count := range u.counts {
			if _, err := tx.Exec(u.query, d.Date, key, count); err != nil {
				return fmt.Errorf("upsert daily count: %w", err)
			}
		}
	}

	c := d.Counters
	if _, err := tx.Exec(`
		INSERT INTO daily_counters (date, queries, zero_results, dropped, dense_unavailable, numeric_reranked)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			queries = queries + excluded.queries,
			zero_results = zero_results + excluded.zero_results,
			dropped = dropped + excluded.dropped,
			dense_unavailable = dense_unavailable + excluded.dense_unavailable,
			numeric_reranked = numeric_reranked + excluded.numeric_reranked
	`, d.Date, c.Queries, c.ZeroResults, c.Dropped, c.DenseUnavailable, c.NumericReranked); err != nil {
		return fmt.Errorf("upsert counters: %w", err)
	}

	for term, count := range d.Terms {
		if _, err := tx.Exec(`
			INSERT INTO query_terms (term, count, last_seen) VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(term) DO UPDATE SET count = count + excluded.count, last_seen = CURRENT_TIMESTAMP
		`, term, count); err != nil {
			return fmt.Errorf("upsert term count: %w", err)
		}
	}

	for _, z := range d.ZeroResults {
		if _, err := tx.Exec(`INSERT INTO zero_result_queries (query, timestamp) VALUES (?, ?)`,
			z.Query, z.Timestamp); err != nil {
			return fmt.Errorf("insert zero-result query: %w", err)
		}
	}
	if len(d.ZeroResults) > 0 {
		if _, err := tx.Exec(`
			DELETE FROM zero_result_queries
			WHERE id NOT IN (SELECT id FROM zero_result_queries ORDER BY id DESC LIMIT ?)
		`, maxZeroResultRows); err != nil {
			return fmt.Errorf("trim zero-result queries: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func bucketsToStrings(m map[LatencyBucket]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}

// Report is the persisted view over a date range (inclusive,
// YYYY-MM-DD).
type Report struct {
	From                string                  `json:"from"`
	To                  string                  `json:"to"`
	Counters            Counters                `json:"counters"`
	IntentCounts        map[string]int64        `json:"intent_counts"`
	KindCounts          map[string]int64        `json:"kind_counts"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
}

// Report reads the aggregates between from and to, with up to limit top
// terms and recent zero-result queries.
func (s *SQLiteMetricsStore) Report(from, to string, limit int) (*Report, error) {
	r := &Report{From: from, To: to}

	err := s.db.QueryRow(`
		SELECT COALESCE(SUM(queries), 0), COALESCE(SUM(zero_results), 0), COALESCE(SUM(dropped), 0),
		       COALESCE(SUM(dense_unavailable), 0), COALESCE(SUM(numeric_reranked), 0)
		FROM daily_counters WHERE date >= ? AND date <= ?
	`, from, to).Scan(&r.Counters.Queries, &r.Counters.ZeroResults, &r.Counters.Dropped,
		&r.Counters.DenseUnavailable, &r.Counters.NumericReranked)
	if err != nil {
		return nil, fmt.Errorf("query counters: %w", err)
	}

	if r.IntentCounts, err = s.sumBy("intent_stats", "intent", from, to); err != nil {
		return nil, err
	}
	if r.KindCounts, err = s.sumBy("kind_stats", "kind", from, to); err != nil {
		return nil, err
	}
	latencies, err := s.sumBy("query_latency_stats", "bucket", from, to)
	if err != nil {
		return nil, err
	}
	r.LatencyDistribution = make(map[LatencyBucket]int64, len(latencies))
	for k, v := range latencies {
		r.LatencyDistribution[LatencyBucket(k)] = v
	}

	if r.TopTerms, err = s.TopTerms(limit); err != nil {
		return nil, err
	}
	if r.ZeroResultQueries, err = s.ZeroResultQueries(limit); err != nil {
		return nil, err
	}
	return r, nil
}

// table and column are package constants, never user input.
func (s *SQLiteMetricsStore) sumBy(table, column, from, to string) (map[string]int64, error) {
	rows, err := s.db.Query(fmt.Sprintf(
		`SELECT %s, SUM(count) FROM %s WHERE date >= ? AND date <= ? GROUP BY %s`, column, table, column),
		from, to)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out[key] = count
	}
	return out, rows.Err()
}

// TopTerms returns the most frequent top terms.
func (s *SQLiteMetricsStore) TopTerms(limit int) ([]TermCount, error) {
	rows, err := s.db.Query(`SELECT term, count FROM query_terms ORDER BY count DESC, term ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	defer rows.Close()

	var terms []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		terms = append(terms, tc)
	}
	return terms, rows.Err()
}

// ZeroResultQueries returns the most recent zero-result queries first.
func (s *SQLiteMetricsStore) ZeroResultQueries(limit int) ([]string, error) {
	rows, err := s.db.Query(`SELECT query FROM zero_result_queries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero-result queries: %w", err)
	}
	defer rows.Close()

	var queries []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

// Close closes the database when the store opened it.
func (s *SQLiteMetricsStore) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}
