package registry

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go sqlite driver, registers as "sqlite"
)

// indexRow is one row of the secondary LRU index: enough metadata to order
// and list entries without touching every CacheEntry's mutex.
type indexRow struct {
	Hash       string
	SourcePath string
	Artifact   string
	Size       int64
	AccessedAt int64
	CreatedAt  int64
}

// index is a thin SQLite-backed accelerator over the registry's in-memory
// map, used only for LRU ordering (spec §4.6
// "Rationale"). It is never the source of truth for ref_count or state;
// CacheEntry itself owns those.
type index struct {
	db *sql.DB
}

func openIndex(path string) (*index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open index db: %w", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping index db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if err := createIndexSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &index{db: db}, nil
}

func createIndexSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entries (
			hash TEXT PRIMARY KEY,
			source_path TEXT NOT NULL,
			artifact TEXT NOT NULL,
			size INTEGER NOT NULL,
			accessed_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		) WITHOUT ROWID`,
		"CREATE INDEX IF NOT EXISTS idx_entries_accessed ON entries(accessed_at)",
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("apply schema statement %q: %w", s, err)
		}
	}
	return nil
}

func (i *index) upsert(row indexRow) error {
	_, err := i.db.Exec(`
		INSERT INTO entries (hash, source_path, artifact, size, accessed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			size = excluded.size,
			accessed_at = excluded.accessed_at`,
		row.Hash, row.SourcePath, row.Artifact, row.Size, row.AccessedAt, row.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert entry: %w", err)
	}
	return nil
}

func (i *index) remove(hash string) {
	_, _ = i.db.Exec("DELETE FROM entries WHERE hash = ?", hash)
}

// leastRecentlyAccessed returns up to limit hashes ordered oldest-accessed
// first, for the eviction policy's LRU-by-accessed_at rule (spec §4.6).
func (i *index) leastRecentlyAccessed(limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := i.db.Query("SELECT hash FROM entries ORDER BY accessed_at ASC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query lru: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan lru row: %w", err)
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

// totalSize reports the sum of sizes across every indexed entry. Nothing
// in the registry calls it.
func (i *index) totalSize() (int64, error) {
	row := i.db.QueryRow("SELECT COALESCE(SUM(size), 0) FROM entries")
	var total int64
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("sum size: %w", err)
	}
	return total, nil
}

func (i *index) close() error { return i.db.Close() }
