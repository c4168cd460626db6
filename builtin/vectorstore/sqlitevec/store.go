// Package sqlitevec implements VectorStore using sqlite-vec for cosine
// similarity search over chunk records.
package sqlitevec

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"github.com/spetr/localchat/pkg/provider"
	"github.com/spetr/localchat/pkg/types"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

var (
	// Ensure sqlite-vec Auto() is called exactly once before any db connection
	vecAutoOnce sync.Once
)

// DefaultCollection is used when no collection name is configured.
const DefaultCollection = "data-localchatbot-ingested"

// Config contains sqlite-vec store configuration.
type Config struct {
	Path       string
	Collection string
}

// Store implements the VectorStore interface using sqlite-vec.
type Store struct {
	config     Config
	db         *sql.DB
	dimensions int

	recordsTable string
	vectorsTable string
}

// New creates a new sqlite-vec store.
func New(cfg Config) *Store {
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	ident := tableIdent(cfg.Collection)
	return &Store{
		config:       cfg,
		recordsTable: ident + "_records",
		vectorsTable: ident + "_vectors",
	}
}

// tableIdent turns a collection name into a safe SQL identifier. The hash
// suffix keeps names that sanitise alike (data-x, data_x, Data-X) apart.
func tableIdent(collection string) string {
	var b strings.Builder
	b.WriteString("c_")
	for _, r := range collection {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteByte('_')
		}
	}
	h := sha256.Sum256([]byte(collection))
	b.WriteByte('_')
	b.WriteString(hex.EncodeToString(h[:4]))
	return b.String()
}

// Name returns the store name.
func (s *Store) Name() string {
	return "sqlitevec"
}

// Init opens the database and creates or validates the collection.
func (s *Store) Init(ctx context.Context, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("%w: dimensions must be positive, got %d", types.ErrInvalidConfig, dimensions)
	}
	if s.config.Path == "" {
		return fmt.Errorf("%w: sqlitevec store needs a path", types.ErrInvalidConfig)
	}

	// Register sqlite-vec extension before opening any database connection.
	vecAutoOnce.Do(func() {
		sqlite_vec.Auto()
	})

	if err := os.MkdirAll(filepath.Dir(s.config.Path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// WAL mode for concurrent reads, busy_timeout to wait for locks instead of failing immediately
	db, err := sql.Open("sqlite3", s.config.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("%w: open database: %w", types.ErrStoreFailed, err)
	}
	s.db = db

	if _, err := db.ExecContext(ctx, "SELECT vec_version()"); err != nil {
		return fmt.Errorf("%w: sqlite-vec extension not available: %w", types.ErrStoreFailed, err)
	}

	if err := s.createSchema(ctx, dimensions); err != nil {
		return err
	}

	s.dimensions = dimensions
	return nil
}

// createSchema creates the collection tables, or checks the dimension of an existing collection.
func (s *Store) createSchema(ctx context.Context, dimensions int) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS collections (
			name TEXT PRIMARY KEY,
			dimensions INTEGER NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("%w: create collections table: %w", types.ErrStoreFailed, err)
	}

	var existing int
	err = s.db.QueryRowContext(ctx, "SELECT dimensions FROM collections WHERE name = ?", s.config.Collection).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("%w: read collection: %w", types.ErrStoreFailed, err)
	case existing != dimensions:
		return fmt.Errorf("%w: collection %s has %d dimensions, embedding provider produces %d (run 'localchat clear' to rebuild)",
			types.ErrDimensionMismatch, s.config.Collection, existing, dimensions)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrStoreFailed, err)
	}
	defer tx.Rollback()

	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				key TEXT PRIMARY KEY,
				source_name TEXT NOT NULL,
				position INTEGER NOT NULL,
				text TEXT NOT NULL
			)`, s.recordsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_source ON %s(source_name)`, s.recordsTable, s.recordsTable),
		fmt.Sprintf(`
			CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(
				chunk_id TEXT PRIMARY KEY,
				embedding float[%d]
			)`, s.vectorsTable, dimensions),
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: create schema: %w", types.ErrStoreFailed, err)
		}
	}

	_, err = tx.ExecContext(ctx, "INSERT OR IGNORE INTO collections (name, dimensions) VALUES (?, ?)", s.config.Collection, dimensions)
	if err != nil {
		return fmt.Errorf("%w: register collection: %w", types.ErrStoreFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", types.ErrStoreFailed, err)
	}
	return nil
}

// Dimensions returns the collection dimension.
func (s *Store) Dimensions() int {
	return s.dimensions
}

// Close releases resources and closes connections.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Upsert stores records with their embeddings in one transaction.
func (s *Store) Upsert(ctx context.Context, records []*types.ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if len(r.Vector) != s.dimensions {
			return fmt.Errorf("%w: record %s has %d dimensions, collection has %d",
				types.ErrDimensionMismatch, r.Key, len(r.Vector), s.dimensions)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrStoreFailed, err)
	}
	defer tx.Rollback()

	recordStmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (key, source_name, position, text) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			source_name = excluded.source_name,
			position = excluded.position,
			text = excluded.text
	`, s.recordsTable))
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrStoreFailed, err)
	}
	defer recordStmt.Close()

	// vec0 has no upsert; replace by delete + insert
	deleteVecStmt, err := tx.PrepareContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE chunk_id = ?", s.vectorsTable))
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrStoreFailed, err)
	}
	defer deleteVecStmt.Close()

	insertVecStmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (chunk_id, embedding) VALUES (?, ?)", s.vectorsTable))
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrStoreFailed, err)
	}
	defer insertVecStmt.Close()

	for _, r := range records {
		if _, err := recordStmt.ExecContext(ctx, r.Key, r.SourceName, r.Position, r.Text); err != nil {
			return fmt.Errorf("%w: store record %s: %w", types.ErrStoreFailed, r.Key, err)
		}
		if _, err := deleteVecStmt.ExecContext(ctx, r.Key); err != nil {
			return fmt.Errorf("%w: replace embedding %s: %w", types.ErrStoreFailed, r.Key, err)
		}
		if _, err := insertVecStmt.ExecContext(ctx, r.Key, floatsToBytes(r.Vector)); err != nil {
			return fmt.Errorf("%w: store embedding %s: %w", types.ErrStoreFailed, r.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", types.ErrStoreFailed, err)
	}
	return nil
}

// Delete removes records and their embeddings by key.
func (s *Store) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrStoreFailed, err)
	}
	defer tx.Rollback()

	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE chunk_id = ?", s.vectorsTable), key); err != nil {
			return fmt.Errorf("%w: delete embedding %s: %w", types.ErrStoreFailed, key, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE key = ?", s.recordsTable), key); err != nil {
			return fmt.Errorf("%w: delete record %s: %w", types.ErrStoreFailed, key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", types.ErrStoreFailed, err)
	}
	return nil
}

// Search performs a cosine similarity search with an optional source name filter.
func (s *Store) Search(ctx context.Context, req *types.SearchRequest) ([]*types.SearchResult, error) {
	if req.Limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", types.ErrInvalidArgument)
	}
	if len(req.QueryVec) != s.dimensions {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection has %d",
			types.ErrDimensionMismatch, len(req.QueryVec), s.dimensions)
	}

	query := fmt.Sprintf(`
		SELECT
			r.key, r.source_name, r.position, r.text,
			vec_distance_cosine(v.embedding, ?) AS distance
		FROM %s v
		JOIN %s r ON r.key = v.chunk_id
	`, s.vectorsTable, s.recordsTable)
	args := []any{floatsToBytes(req.QueryVec)}

	if req.Filter.SourceName != "" {
		query += " WHERE r.source_name = ?"
		args = append(args, req.Filter.SourceName)
	}

	query += " ORDER BY distance ASC, r.key ASC LIMIT ?"
	args = append(args, req.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: vector search: %w", types.ErrStoreFailed, err)
	}
	defer rows.Close()

	var results []*types.SearchResult
	for rows.Next() {
		var (
			rec      types.ChunkRecord
			distance float64
		)
		if err := rows.Scan(&rec.Key, &rec.SourceName, &rec.Position, &rec.Text, &distance); err != nil {
			return nil, fmt.Errorf("%w: scan result: %w", types.ErrStoreFailed, err)
		}

		// cosine distance -> similarity
		results = append(results, &types.SearchResult{
			Record: &rec,
			Score:  float32(1.0 - distance),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrStoreFailed, err)
	}

	return results, nil
}

// Keys returns record keys for a source name, sorted.
func (s *Store) Keys(ctx context.Context, sourceName string) ([]string, error) {
	query := fmt.Sprintf("SELECT key FROM %s", s.recordsTable)
	var args []any
	if sourceName != "" {
		query += " WHERE source_name = ?"
		args = append(args, sourceName)
	}
	query += " ORDER BY key"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrStoreFailed, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrStoreFailed, err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Stats returns store statistics.
func (s *Store) Stats(ctx context.Context) (*types.StoreStats, error) {
	stats := &types.StoreStats{
		Collection: s.config.Collection,
		Dimensions: s.dimensions,
	}

	row := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*), COUNT(DISTINCT source_name) FROM %s", s.recordsTable))
	if err := row.Scan(&stats.TotalChunks, &stats.Sources); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrStoreFailed, err)
	}

	if info, err := os.Stat(s.config.Path); err == nil {
		stats.SizeBytes = info.Size()
	}
	return stats, nil
}

// Clear removes every record in the collection.
func (s *Store) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrStoreFailed, err)
	}
	defer tx.Rollback()

	for _, table := range []string{s.vectorsTable, s.recordsTable} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("%w: clear %s: %w", types.ErrStoreFailed, table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", types.ErrStoreFailed, err)
	}
	return nil
}

// floatsToBytes converts float32 slice to little-endian bytes for sqlite-vec.
func floatsToBytes(floats []float32) []byte {
	bytes := make([]byte, len(floats)*4)
	for i, f := range floats {
		bits := math.Float32bits(f)
		bytes[i*4] = byte(bits)
		bytes[i*4+1] = byte(bits >> 8)
		bytes[i*4+2] = byte(bits >> 16)
		bytes[i*4+3] = byte(bits >> 24)
	}
	return bytes
}

var _ provider.VectorStore = (*Store)(nil)
