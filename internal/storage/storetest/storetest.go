// Package storetest holds the behavior every mirror.ContentStore must show.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wayback-mirror/internal/mirror"
)

// Run exercises store against the content store contract. The store must be
// empty and open; Run does not close it.
func Run(t *testing.T, store mirror.ContentStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "example.com/a", []byte("<html>"), "text/html", "20230601000000"))
		got, err := store.Get(ctx, "example.com/a")
		require.NoError(t, err)
		assert.Equal(t, []byte("<html>"), got.Payload)
		assert.Equal(t, "text/html", got.MimeType)
		assert.Equal(t, "20230601000000", got.Timestamp)
		assert.False(t, got.IsRedirect())
	})

	t.Run("last writer wins", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "example.com/b", []byte("one"), "text/plain", "20230101000000"))
		require.NoError(t, store.Put(ctx, "example.com/b", []byte("two"), "text/html", "20230601000000"))
		got, err := store.Get(ctx, "example.com/b")
		require.NoError(t, err)
		assert.Equal(t, mirror.Entry{Payload: []byte("two"), MimeType: "text/html", Timestamp: "20230601000000"}, got)
	})

	t.Run("redirect", func(t *testing.T) {
		require.NoError(t, store.PutRedirect(ctx, "example.com/old", "example.com/new", "20230601000000"))
		got, err := store.Get(ctx, "example.com/old")
		require.NoError(t, err)
		assert.True(t, got.IsRedirect())
		assert.Equal(t, "example.com/new", string(got.Payload))
	})

	t.Run("miss", func(t *testing.T) {
		_, err := store.Get(ctx, "no/such/key")
		require.ErrorIs(t, err, mirror.ErrNotFound)
	})

	t.Run("empty key", func(t *testing.T) {
		require.ErrorIs(t, store.Put(ctx, "", []byte("x"), "text/plain", "20230601000000"), mirror.ErrStoreIO)
	})

	t.Run("keys are exact", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "https://example.com/q?a=1&b=%20", []byte("q"), "text/plain", "20230601000000"))
		_, err := store.Get(ctx, "https://example.com/q?a=1&b= ")
		require.ErrorIs(t, err, mirror.ErrNotFound)
		got, err := store.Get(ctx, "https://example.com/q?a=1&b=%20")
		require.NoError(t, err)
		assert.Equal(t, "q", string(got.Payload))
	})

	t.Run("concurrent writers", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				payload := fmt.Appendf(nil, "writer-%d", i)
				assert.NoError(t, store.Put(ctx, "example.com/shared", payload, fmt.Sprintf("text/x-%d", i), "20230601000000"))
				assert.NoError(t, store.Put(ctx, fmt.Sprintf("example.com/own/%d", i), payload, "text/plain", "20230601000000"))
			}()
		}
		wg.Wait()

		got, err := store.Get(ctx, "example.com/shared")
		require.NoError(t, err)
		var writer int
		_, err = fmt.Sscanf(string(got.Payload), "writer-%d", &writer)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("text/x-%d", writer), got.MimeType, "content and mimetype come from the same write")
		for i := range 8 {
			own, err := store.Get(ctx, fmt.Sprintf("example.com/own/%d", i))
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("writer-%d", i), string(own.Payload))
		}
	})
}
