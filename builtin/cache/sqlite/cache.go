// Package sqlite implements IngestionCache on a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/spetr/localchat/builtin/cache/sqlite/migrations"
	"github.com/spetr/localchat/pkg/provider"
	"github.com/spetr/localchat/pkg/types"
)

// Cache is a durable ingestion cache.
type Cache struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the cache database at path and applies pending migrations.
func Open(path string) (*Cache, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: cache path is empty", types.ErrInvalidConfig)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: create directory: %w", types.ErrCacheFailed, err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %w", types.ErrCacheFailed, err)
	}

	c := &Cache{db: db, path: path}
	if err := c.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: running migrations: %w", types.ErrCacheFailed, err)
	}
	return c, nil
}

// migrate runs all pending *.up.sql migrations in version order.
func (c *Cache) migrate(fsys fs.FS) error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := c.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := c.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
	}
	return nil
}

// Name returns the cache backend name.
func (c *Cache) Name() string {
	return "sqlite"
}

// Path returns the database file path.
func (c *Cache) Path() string {
	return c.path
}

// GetKeys returns the recorded keys for a source.
func (c *Cache) GetKeys(ctx context.Context, sourceID string) (types.KeySet, error) {
	entry, err := c.GetEntry(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return types.NewKeySet(), nil
	}
	return entry.Keys, nil
}

// GetEntry returns the entry for a source, or nil if the source is unknown.
func (c *Cache) GetEntry(ctx context.Context, sourceID string) (*types.CacheEntry, error) {
	entry := &types.CacheEntry{SourceID: sourceID}
	err := c.db.QueryRowContext(ctx,
		"SELECT version, updated_at FROM sources WHERE source_id = ?", sourceID,
	).Scan(&entry.Version, &entry.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", types.ErrCacheFailed, sourceID, err)
	}

	rows, err := c.db.QueryContext(ctx, "SELECT chunk_key FROM source_keys WHERE source_id = ?", sourceID)
	if err != nil {
		return nil, fmt.Errorf("%w: read keys %s: %w", types.ErrCacheFailed, sourceID, err)
	}
	defer rows.Close()

	entry.Keys = types.NewKeySet()
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("%w: scan key: %w", types.ErrCacheFailed, err)
		}
		entry.Keys.Add(key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrCacheFailed, err)
	}
	return entry, nil
}

// RecordKeys atomically replaces the key set and version for a source.
func (c *Cache) RecordKeys(ctx context.Context, sourceID, version string, keys types.KeySet) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrCacheFailed, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sources (source_id, version, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			version = excluded.version,
			updated_at = excluded.updated_at
	`, sourceID, version, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%w: record %s: %w", types.ErrCacheFailed, sourceID, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM source_keys WHERE source_id = ?", sourceID); err != nil {
		return fmt.Errorf("%w: reset keys %s: %w", types.ErrCacheFailed, sourceID, err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO source_keys (source_id, chunk_key) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrCacheFailed, err)
	}
	defer stmt.Close()

	for _, key := range keys.Sorted() {
		if _, err := stmt.ExecContext(ctx, sourceID, key); err != nil {
			return fmt.Errorf("%w: record key %s: %w", types.ErrCacheFailed, key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit %s: %w", types.ErrCacheFailed, sourceID, err)
	}
	return nil
}

// DeleteSource removes a source and its keys.
func (c *Cache) DeleteSource(ctx context.Context, sourceID string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrCacheFailed, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM source_keys WHERE source_id = ?", sourceID); err != nil {
		return fmt.Errorf("%w: delete keys %s: %w", types.ErrCacheFailed, sourceID, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sources WHERE source_id = ?", sourceID); err != nil {
		return fmt.Errorf("%w: delete %s: %w", types.ErrCacheFailed, sourceID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", types.ErrCacheFailed, err)
	}
	return nil
}

// ListSources returns all known source ids, sorted.
func (c *Cache) ListSources(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT source_id FROM sources ORDER BY source_id")
	if err != nil {
		return nil, fmt.Errorf("%w: list sources: %w", types.ErrCacheFailed, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrCacheFailed, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrCacheFailed, err)
	}
	return ids, nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}

var _ provider.IngestionCache = (*Cache)(nil)
