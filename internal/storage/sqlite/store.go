// Package sqlite stores mirrored content in a single SQLite key-value table
// using the c-/m-/t- key namespaces.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	// Registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/wayback-mirror/internal/mirror"
)

const schema = `CREATE TABLE IF NOT EXISTS kv (
	k BLOB PRIMARY KEY,
	v BLOB NOT NULL
) WITHOUT ROWID`

const upsert = `INSERT INTO kv (k, v) VALUES (?, ?)
ON CONFLICT(k) DO UPDATE SET v = excluded.v`

// Config controls where the database lives.
type Config struct {
	Path string
	// BusyTimeout is the SQLite busy_timeout in milliseconds.
	BusyTimeout int
}

// Store is a mirror.ContentStore over SQLite. A put is one transaction over
// the three namespace rows; a get reads them with one statement.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at cfg.Path with WAL journaling.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 10_000
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite mkdir: %w", err)
	}
	db, err := sql.Open("sqlite", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create kv table: %w", err)
	}
	return &Store{db: db}, nil
}

func dsn(cfg Config) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout))
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Set("_txlock", "immediate")
	return "file:" + cfg.Path + "?" + q.Encode()
}

// Put overwrites all namespaces for key.
func (s *Store) Put(ctx context.Context, key string, payload []byte, mimetype, timestamp string) error {
	if key == "" {
		return fmt.Errorf("put: empty key: %w", mirror.ErrStoreIO)
	}
	if payload == nil {
		payload = []byte{}
	}
	ck, mk, tk := mirror.NamespacedKeys(key)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put %q: begin: %w: %w", key, mirror.ErrStoreIO, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, kv := range [][2][]byte{{ck, payload}, {mk, []byte(mimetype)}, {tk, []byte(timestamp)}} {
		if _, err := tx.ExecContext(ctx, upsert, kv[0], kv[1]); err != nil {
			return fmt.Errorf("put %q: %w: %w", key, mirror.ErrStoreIO, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("put %q: commit: %w: %w", key, mirror.ErrStoreIO, err)
	}
	return nil
}

// PutRedirect stores targetPath under the redirect sentinel.
func (s *Store) PutRedirect(ctx context.Context, key, targetPath, timestamp string) error {
	return s.Put(ctx, key, []byte(targetPath), mirror.RedirectSentinel, timestamp)
}

// Get returns the entry for key or mirror.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (mirror.Entry, error) {
	ck, mk, tk := mirror.NamespacedKeys(key)
	rows, err := s.db.QueryContext(ctx, `SELECT k, v FROM kv WHERE k IN (?, ?, ?)`, ck, mk, tk)
	if err != nil {
		return mirror.Entry{}, fmt.Errorf("get %q: %w", key, err)
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string][]byte, 3)
	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return mirror.Entry{}, fmt.Errorf("scan %q: %w", key, err)
		}
		found[string(k)] = v
	}
	if err := rows.Err(); err != nil {
		return mirror.Entry{}, fmt.Errorf("get %q: %w", key, err)
	}

	payload, ok := found[string(ck)]
	if !ok {
		return mirror.Entry{}, mirror.ErrNotFound
	}
	mimetype, ok := found[string(mk)]
	if !ok {
		return mirror.Entry{}, mirror.ErrNotFound
	}
	return mirror.Entry{Payload: payload, MimeType: string(mimetype), Timestamp: string(found[string(tk)])}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}
