package leveldb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wayback-mirror/internal/mirror"
	"github.com/JakeFAU/wayback-mirror/internal/storage/storetest"
)

func TestStoreContract(t *testing.T) {
	store, err := Open(Config{Path: filepath.Join(t.TempDir(), "content.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	storetest.Run(t, store)
}

func TestStoreLayoutUsesNamespaces(t *testing.T) {
	store, err := Open(Config{Path: filepath.Join(t.TempDir(), "content.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Put(context.Background(), "example.com/a", []byte("<html>"), "text/html", "20230601000000"))

	for key, want := range map[string]string{
		"c-example.com/a": "<html>",
		"m-example.com/a": "text/html",
		"t-example.com/a": "20230601000000",
	} {
		got, err := store.db.Get([]byte(key), nil)
		require.NoError(t, err, key)
		assert.Equal(t, want, string(got), key)
	}
}

func TestStoreMissingMimetypeIsNotFound(t *testing.T) {
	store, err := Open(Config{Path: filepath.Join(t.TempDir(), "content.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.db.Put([]byte("c-orphan"), []byte("x"), nil))
	_, err = store.Get(context.Background(), "orphan")
	require.ErrorIs(t, err, mirror.ErrNotFound)
}

func TestStoreReopenAndReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "content.db")
	store, err := Open(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), "example.com/a", []byte("kept"), "text/plain", "20230601000000"))
	require.NoError(t, store.Close())

	ro, err := Open(Config{Path: path, ReadOnly: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ro.Close() })

	got, err := ro.Get(context.Background(), "example.com/a")
	require.NoError(t, err)
	assert.Equal(t, "kept", string(got.Payload))
	require.ErrorIs(t, ro.Put(context.Background(), "example.com/b", nil, "text/plain", "20230601000000"), mirror.ErrStoreIO)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
}
