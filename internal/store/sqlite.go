package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"

	rerrors "github.com/gravis-app/ragcore/internal/errors"
)

// ErrChunkNotFound is returned by Get for unknown IDs.
var ErrChunkNotFound = errors.New("chunk not found")

// SQLiteChunkStore implements ChunkStore on modernc.org/sqlite.
type SQLiteChunkStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ ChunkStore = (*SQLiteChunkStore)(nil)

// NewSQLiteChunkStore opens or creates the corpus database. An empty path
// opens an in-memory database.
func NewSQLiteChunkStore(path string) (*SQLiteChunkStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		if err := validateIntegrity(path); err != nil {
			return nil, rerrors.New(rerrors.ErrCodeStoreCorrupt, fmt.Sprintf("corpus database %s is corrupted", path), err).
				WithSuggestion("Delete the database and run 'ragcore ingest' again")
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection: ":memory:" databases are per-connection and the
	// store serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteChunkStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

func (s *SQLiteChunkStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id          TEXT PRIMARY KEY,
		document_id TEXT NOT NULL DEFAULT '',
		content     TEXT NOT NULL,
		source_kind TEXT NOT NULL,
		figure_id   TEXT NOT NULL DEFAULT '',
		dims        INTEGER NOT NULL DEFAULT 0,
		embedding   BLOB,
		created_at  INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);

	CREATE TABLE IF NOT EXISTS corpus_meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	INSERT OR IGNORE INTO corpus_meta (key, value) VALUES ('version', '');
	`
	_, err := s.db.Exec(schema)
	return err
}

// Path returns the database file, or "" for in-memory stores.
func (s *SQLiteChunkStore) Path() string {
	return s.path
}

func (s *SQLiteChunkStore) Put(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (id, document_id, content, source_kind, figure_id, dims, embedding, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				document_id = excluded.document_id,
				content     = excluded.content,
				source_kind = excluded.source_kind,
				figure_id   = excluded.figure_id,
				dims        = excluded.dims,
				embedding   = excluded.embedding`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := time.Now().Unix()
		for _, c := range chunks {
			kind := c.SourceKind
			if kind == "" {
				kind = SourceBodyText
			}
			if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.Content, string(kind), c.FigureID,
				len(c.Embedding), encodeVector(c.Embedding), now); err != nil {
				return fmt.Errorf("failed to store chunk %s: %w", c.ID, err)
			}
		}
		return bumpVersion(ctx, tx)
	})
}

func (s *SQLiteChunkStore) All(ctx context.Context) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, content, source_kind, figure_id, embedding, created_at
		FROM chunks ORDER BY id`)
	if err != nil {
		return nil, rerrors.StoreError("failed to list chunks", err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *SQLiteChunkStore) Get(ctx context.Context, id string) (*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, content, source_kind, figure_id, embedding, created_at
		FROM chunks WHERE id = ?`, id)
	c, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrChunkNotFound, id)
	}
	return c, err
}

func (s *SQLiteChunkStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
		args := make([]any, len(ids))
		for i, id := range ids {
			args[i] = id
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE id IN ("+placeholders+")", args...); err != nil {
			return err
		}
		return bumpVersion(ctx, tx)
	})
}

func (s *SQLiteChunkStore) Version(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", fmt.Errorf("store is closed")
	}

	var v string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM corpus_meta WHERE key = 'version'").Scan(&v)
	if err != nil {
		return "", rerrors.StoreError("failed to read corpus version", err)
	}
	return v, nil
}

func (s *SQLiteChunkStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	st := &Stats{BySource: make(map[string]int)}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN dims > 0 THEN 1 ELSE 0 END), 0),
		       COUNT(DISTINCT document_id),
		       COALESCE(MAX(dims), 0)
		FROM chunks`).Scan(&st.Chunks, &st.Embedded, &st.Documents, &st.Dimensions)
	if err != nil {
		return nil, rerrors.StoreError("failed to read corpus stats", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT source_kind, COUNT(*) FROM chunks GROUP BY source_kind")
	if err != nil {
		return nil, rerrors.StoreError("failed to read corpus stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		st.BySource[kind] = n
	}

	if err := s.db.QueryRowContext(ctx, "SELECT value FROM corpus_meta WHERE key = 'version'").Scan(&st.Version); err != nil {
		return nil, rerrors.StoreError("failed to read corpus version", err)
	}
	return st, rows.Err()
}

func (s *SQLiteChunkStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLiteChunkStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return writeError("failed to begin transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return writeError("corpus write failed", err)
	}
	if err := tx.Commit(); err != nil {
		return writeError("failed to commit", err)
	}
	return nil
}

// Primary SQLite result codes for lock contention.
const (
	sqliteBusy   = 5
	sqliteLocked = 6
)

// writeError reports lock contention that outlasted busy_timeout as a
// retryable ErrCodeStoreLocked; anything else is a store failure.
func writeError(msg string, err error) *rerrors.RagError {
	if isBusy(err) {
		return rerrors.New(rerrors.ErrCodeStoreLocked, msg+": database is busy", err).
			WithSuggestion("Another process is writing the corpus; retry when it finishes")
	}
	return rerrors.StoreError(msg, err)
}

func isBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code() & 0xff
	return code == sqliteBusy || code == sqliteLocked
}

func bumpVersion(ctx context.Context, tx *sql.Tx) error {
	v := uuid.NewString()
	_, err := tx.ExecContext(ctx, "UPDATE corpus_meta SET value = ? WHERE key = 'version'", v)
	if err == nil {
		slog.Debug("corpus_version_bumped", slog.String("version", v))
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChunk(row scanner) (*Chunk, error) {
	var (
		c       Chunk
		kind    string
		blob    []byte
		created int64
	)
	if err := row.Scan(&c.ID, &c.DocumentID, &c.Content, &kind, &c.FigureID, &blob, &created); err != nil {
		return nil, err
	}
	c.SourceKind = SourceKind(kind)
	c.CreatedAt = time.Unix(created, 0)

	vec, err := decodeVector(blob)
	if err != nil {
		return nil, rerrors.New(rerrors.ErrCodeStoreCorrupt, fmt.Sprintf("chunk %s has a malformed embedding", c.ID), err)
	}
	c.Embedding = vec
	return &c, nil
}

// encodeVector stores float32s little-endian; nil for absent embeddings.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
