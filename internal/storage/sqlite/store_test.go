package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wayback-mirror/internal/mirror"
	"github.com/JakeFAU/wayback-mirror/internal/storage/storetest"
)

func open(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "nested", "content.sqlite")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, open(t))
}

func TestStoreLayoutUsesNamespaces(t *testing.T) {
	store := open(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "example.com/a", []byte("<html>"), "text/html", "20230601000000"))

	var n int
	require.NoError(t, store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv`).Scan(&n))
	assert.Equal(t, 3, n)

	var v []byte
	require.NoError(t, store.db.QueryRowContext(ctx, `SELECT v FROM kv WHERE k = ?`, []byte("m-example.com/a")).Scan(&v))
	assert.Equal(t, "text/html", string(v))
}

func TestStoreMissingMimetypeIsNotFound(t *testing.T) {
	store := open(t)
	ctx := context.Background()
	_, err := store.db.ExecContext(ctx, upsert, []byte("c-orphan"), []byte("x"))
	require.NoError(t, err)

	_, err = store.Get(ctx, "orphan")
	require.ErrorIs(t, err, mirror.ErrNotFound)
}

func TestStoreEmptyPayload(t *testing.T) {
	store := open(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "example.com/empty", nil, "text/plain", "20230601000000"))
	got, err := store.Get(ctx, "example.com/empty")
	require.NoError(t, err)
	assert.Empty(t, got.Payload)
}

func TestDSN(t *testing.T) {
	got := dsn(Config{Path: "/tmp/x.sqlite", BusyTimeout: 500})
	assert.Contains(t, got, "file:/tmp/x.sqlite?")
	assert.Contains(t, got, "_pragma=busy_timeout%28500%29")
	assert.Contains(t, got, "_pragma=journal_mode%28WAL%29")
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	require.Error(t, err)
}
