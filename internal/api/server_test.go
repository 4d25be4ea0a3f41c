package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/wayback-mirror/internal/mirror"
	"github.com/JakeFAU/wayback-mirror/internal/storage/memory"
)

type readerFunc func(ctx context.Context, key string) (mirror.Entry, error)

func (f readerFunc) Get(ctx context.Context, key string) (mirror.Entry, error) { return f(ctx, key) }

func newTestServer(t *testing.T) (*Server, *memory.ContentStore) {
	t.Helper()
	store := memory.NewContentStore()
	return NewServer(store, Config{DefaultKey: "https://www.example.com/"}, zap.NewNop()), store
}

func serve(s *Server, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestServeRoundTrip(t *testing.T) {
	t.Parallel()

	s, store := newTestServer(t)
	require.NoError(t, store.Put(context.Background(), "example.com/a", []byte("<html>"), "text/html", "20230601000000"))

	rec := serve(s, "/example.com/a")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html>", rec.Body.String())
	assert.Equal(t, "text/html", rec.Header().Get("Content-Type"))
	assert.Equal(t, "20230601000000", rec.Header().Get("X-Archive-Timestamp"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServeRedirectSentinel(t *testing.T) {
	t.Parallel()

	s, store := newTestServer(t)
	require.NoError(t, store.PutRedirect(context.Background(), "example.com/old", "example.com/new", "20230601000000"))
	require.NoError(t, store.PutRedirect(context.Background(), "example.com/new", "example.com/newer", "20230601000000"))

	rec := serve(s, "/example.com/old")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/example.com/new", rec.Header().Get("Location"), "single hop only")
}

func TestServeMiss(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	rec := serve(s, "/no/such/key")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeRootRedirectsToDefaultKey(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	rec := serve(s, "/")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/https://www.example.com/", rec.Header().Get("Location"))
}

func TestServeRestoresCollapsedSchemeSlash(t *testing.T) {
	t.Parallel()

	s, store := newTestServer(t)
	require.NoError(t, store.Put(context.Background(), "https://www.example.com/page", []byte("ok"), "text/plain", "20230601000000"))

	for _, target := range []string{
		"/https:/www.example.com/page",
		"/https://www.example.com/page",
		"/https%3A%2F%2Fwww.example.com%2Fpage",
	} {
		rec := serve(s, target)
		assert.Equal(t, http.StatusOK, rec.Code, target)
		assert.Equal(t, "ok", rec.Body.String(), target)
	}
}

func TestServeKeepsQueryInKey(t *testing.T) {
	t.Parallel()

	s, store := newTestServer(t)
	require.NoError(t, store.Put(context.Background(), "https://www.example.com/search?q=flu", []byte("results"), "text/html", "20230601000000"))

	rec := serve(s, "/https://www.example.com/search?q=flu")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "results", rec.Body.String())
}

func TestServeStoreErrorIs500(t *testing.T) {
	t.Parallel()

	failing := readerFunc(func(context.Context, string) (mirror.Entry, error) {
		return mirror.Entry{}, errors.New("disk on fire")
	})
	s := NewServer(failing, Config{DefaultKey: "x"}, zap.NewNop())
	rec := serve(s, "/example.com/a")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServePanicIs500(t *testing.T) {
	t.Parallel()

	panicking := readerFunc(func(context.Context, string) (mirror.Entry, error) {
		panic("corrupt entry")
	})
	s := NewServer(panicking, Config{DefaultKey: "x"}, zap.NewNop())
	rec := serve(s, "/example.com/a")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServeRejectsOtherVerbs(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/example.com/a", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestDecodeKey(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"/example.com/a":                  "example.com/a",
		"/http:/example.com/a":            "http://example.com/a",
		"/https:/example.com/a%20b":       "https://example.com/a b",
		"/https://example.com/a?x=1&y=%2": "https://example.com/a?x=1&y=%2",
	}
	for raw, want := range cases {
		u, err := url.ParseRequestURI(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, DecodeKey(u), raw)
	}
}
