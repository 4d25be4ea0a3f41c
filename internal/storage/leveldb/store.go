// Package leveldb stores mirrored content in a LevelDB database using the
// c-/m-/t- key namespaces.
package leveldb

import (
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/JakeFAU/wayback-mirror/internal/mirror"
)

// Config controls where the database lives.
type Config struct {
	Path string
	// ReadOnly opens the database without write access (serving).
	ReadOnly bool
}

// Store is a mirror.ContentStore over LevelDB. A put writes all three
// namespaces in one batch; a get reads them from one snapshot.
type Store struct {
	db *leveldb.DB
}

// Open opens or creates the database at cfg.Path.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("leveldb path is required")
	}
	db, err := leveldb.OpenFile(cfg.Path, &opt.Options{ReadOnly: cfg.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", cfg.Path, err)
	}
	return &Store{db: db}, nil
}

// Put overwrites all namespaces for key.
func (s *Store) Put(_ context.Context, key string, payload []byte, mimetype, timestamp string) error {
	if key == "" {
		return fmt.Errorf("put: empty key: %w", mirror.ErrStoreIO)
	}
	ck, mk, tk := mirror.NamespacedKeys(key)
	batch := new(leveldb.Batch)
	batch.Put(ck, payload)
	batch.Put(mk, []byte(mimetype))
	batch.Put(tk, []byte(timestamp))
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("put %q: %w: %w", key, mirror.ErrStoreIO, err)
	}
	return nil
}

// PutRedirect stores targetPath under the redirect sentinel.
func (s *Store) PutRedirect(ctx context.Context, key, targetPath, timestamp string) error {
	return s.Put(ctx, key, []byte(targetPath), mirror.RedirectSentinel, timestamp)
}

// Get returns the entry for key or mirror.ErrNotFound. A key missing either
// its content or its mimetype counts as not found.
func (s *Store) Get(_ context.Context, key string) (mirror.Entry, error) {
	snap, err := s.db.GetSnapshot()
	if err != nil {
		return mirror.Entry{}, fmt.Errorf("snapshot: %w", err)
	}
	defer snap.Release()

	ck, mk, tk := mirror.NamespacedKeys(key)
	payload, err := snap.Get(ck, nil)
	if err != nil {
		return mirror.Entry{}, notFound(key, err)
	}
	mimetype, err := snap.Get(mk, nil)
	if err != nil {
		return mirror.Entry{}, notFound(key, err)
	}
	timestamp, err := snap.Get(tk, nil)
	if err != nil && !errors.Is(err, leveldb.ErrNotFound) {
		return mirror.Entry{}, fmt.Errorf("get timestamp %q: %w", key, err)
	}
	return mirror.Entry{Payload: payload, MimeType: string(mimetype), Timestamp: string(timestamp)}, nil
}

func notFound(key string, err error) error {
	if errors.Is(err, leveldb.ErrNotFound) {
		return mirror.ErrNotFound
	}
	return fmt.Errorf("get %q: %w", key, err)
}

// Close releases the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close leveldb: %w", err)
	}
	return nil
}
