package ingest_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wayback-mirror/internal/hash/sha256"
	"github.com/JakeFAU/wayback-mirror/internal/id/uuid"
	"github.com/JakeFAU/wayback-mirror/internal/ingest"
	"github.com/JakeFAU/wayback-mirror/internal/mirror"
	"github.com/JakeFAU/wayback-mirror/internal/storage/memory"
	"github.com/JakeFAU/wayback-mirror/internal/warc"
)

const ts = "20230601000000"

func storeCapture(t *testing.T, blobs *memory.BlobStore, resp warc.Response) string {
	t.Helper()
	var buf bytes.Buffer
	w := warc.NewWriter(&buf, uuid.New(), sha256.New())
	require.NoError(t, w.WriteInfo(time.Now(), "x.warc.gz", warc.Info{Software: "test"}))
	require.NoError(t, w.WriteResponse(resp))
	ref, err := blobs.PutObject(context.Background(), "www.cdc.gov/x.warc.gz", warc.ContentType, &buf)
	require.NoError(t, err)
	return ref
}

func TestIngestFansOutToEveryAlias(t *testing.T) {
	ctx := context.Background()
	blobs := memory.NewBlobStore()
	store := memory.NewContentStore()
	rec := mirror.CanonicalRecord{
		Subdomain: "www.cdc.gov",
		Path:      "/a",
		Timestamp: ts,
		Original:  "https://www.cdc.gov/a",
		Aliases:   []string{"http://www.cdc.gov/a", "https://www.cdc.gov/a", "https://www.cdc.gov/a/"},
	}
	ref := storeCapture(t, blobs, warc.Response{
		TargetURI:  "https://www.cdc.gov/a",
		Date:       time.Now(),
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"text/html"}},
		Payload:    []byte("<html>a</html>"),
	})

	n, err := ingest.New(blobs, store, nil, nil).Ingest(ctx, rec, ref)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, store.Keys())
	for _, alias := range rec.Aliases {
		e, err := store.Get(ctx, alias)
		require.NoError(t, err)
		assert.Equal(t, []byte("<html>a</html>"), e.Payload, alias)
		assert.Equal(t, "text/html", e.MimeType)
		assert.Equal(t, ts, e.Timestamp)
	}
}

func TestIngestAddsTargetURIToAliases(t *testing.T) {
	ctx := context.Background()
	blobs := memory.NewBlobStore()
	store := memory.NewContentStore()
	rec := mirror.CanonicalRecord{Subdomain: "www.cdc.gov", Path: "/b", Timestamp: ts, Original: "https://www.cdc.gov/b"}
	ref := storeCapture(t, blobs, warc.Response{
		TargetURI:  "https://www.cdc.gov/b?utm=1",
		Date:       time.Now(),
		StatusCode: http.StatusOK,
		Payload:    []byte{0x01, 0x02},
	})

	n, err := ingest.New(blobs, store, nil, nil).Ingest(ctx, rec, ref)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	e, err := store.Get(ctx, "https://www.cdc.gov/b?utm=1")
	require.NoError(t, err)
	assert.Equal(t, ingest.DefaultMimeType, e.MimeType)
}

func TestIngestStoresArchivedRedirects(t *testing.T) {
	ctx := context.Background()
	store := memory.NewContentStore()
	rec := mirror.CanonicalRecord{Subdomain: "example.com", Path: "/old", Timestamp: ts, Original: "https://example.com/old"}
	ing := ingest.New(memory.NewBlobStore(), store, nil, nil)

	n, err := ing.IngestCapture(ctx, rec, mirror.Capture{
		TargetURI:  "https://example.com/old",
		StatusCode: http.StatusMovedPermanently,
		Headers:    http.Header{"Location": {"https://web.archive.org/web/20230601000000id_/https://example.com/new"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	e, err := store.Get(ctx, "https://example.com/old")
	require.NoError(t, err)
	assert.True(t, e.IsRedirect())
	assert.Equal(t, "https://example.com/new", string(e.Payload))

	_, err = ing.IngestCapture(ctx, rec, mirror.Capture{
		TargetURI:  "https://example.com/old",
		StatusCode: http.StatusFound,
		Headers:    http.Header{"Location": {"../other"}},
	})
	require.NoError(t, err)
	e, err = store.Get(ctx, "https://example.com/old")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/other", string(e.Payload))
}

func TestIngestDecodesGzipAndTransforms(t *testing.T) {
	ctx := context.Background()
	store := memory.NewContentStore()
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, err := zw.Write([]byte("<p>hi</p>"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	upper := func(_ mirror.Capture, payload []byte) ([]byte, error) {
		return bytes.ToUpper(payload), nil
	}
	rec := mirror.CanonicalRecord{Subdomain: "h", Path: "/p", Timestamp: ts, Original: "https://h/p"}
	_, err = ingest.New(memory.NewBlobStore(), store, upper, nil).IngestCapture(ctx, rec, mirror.Capture{
		TargetURI:   "https://h/p",
		StatusCode:  http.StatusOK,
		ContentType: "text/html",
		Headers:     http.Header{"Content-Encoding": {"gzip"}},
		Payload:     gz.Bytes(),
	})
	require.NoError(t, err)
	e, err := store.Get(ctx, "https://h/p")
	require.NoError(t, err)
	assert.Equal(t, "<P>HI</P>", string(e.Payload))
}

type brokenStore struct{ *memory.ContentStore }

func (brokenStore) Put(context.Context, string, []byte, string, string) error {
	return errors.New("disk full")
}

func TestIngestStoreErrorIsStoreIO(t *testing.T) {
	rec := mirror.CanonicalRecord{Subdomain: "h", Path: "/p", Timestamp: ts, Original: "https://h/p"}
	_, err := ingest.New(memory.NewBlobStore(), brokenStore{memory.NewContentStore()}, nil, nil).
		IngestCapture(context.Background(), rec, mirror.Capture{TargetURI: "https://h/p", StatusCode: http.StatusOK})
	assert.ErrorIs(t, err, mirror.ErrStoreIO)
}

func TestIngestMissingReference(t *testing.T) {
	ing := ingest.New(memory.NewBlobStore(), memory.NewContentStore(), nil, nil)
	rec := mirror.CanonicalRecord{Subdomain: "h", Path: "/p", Timestamp: ts, Original: "https://h/p"}
	_, err := ing.Ingest(context.Background(), rec, "")
	assert.Error(t, err)
	_, err = ing.Ingest(context.Background(), rec, "memory://nope")
	assert.ErrorIs(t, err, mirror.ErrStoreIO)
}

func TestIngested(t *testing.T) {
	ctx := context.Background()
	store := memory.NewContentStore()
	ing := ingest.New(memory.NewBlobStore(), store, nil, nil)
	rec := mirror.CanonicalRecord{
		Subdomain: "h", Path: "/p", Timestamp: ts, Original: "https://h/p",
		Aliases: []string{"http://h/p", "https://h/p"},
	}

	done, err := ing.Ingested(ctx, rec)
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, store.Put(ctx, "https://h/p", nil, "text/html", ts))
	require.NoError(t, store.Put(ctx, "http://h/p", nil, "text/html", "20200101000000"))
	done, err = ing.Ingested(ctx, rec)
	require.NoError(t, err)
	assert.False(t, done, "stale timestamp")

	require.NoError(t, store.Put(ctx, "http://h/p", nil, "text/html", ts))
	done, err = ing.Ingested(ctx, rec)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestIngestRedirectFromStoredCapture(t *testing.T) {
	ctx := context.Background()
	blobs := memory.NewBlobStore()
	store := memory.NewContentStore()
	rec := mirror.CanonicalRecord{
		Subdomain: "www.cdc.gov",
		Path:      "/flu",
		Timestamp: ts,
		Original:  "https://www.cdc.gov/flu",
		Aliases:   []string{"https://www.cdc.gov/flu", "http://www.cdc.gov/flu"},
	}
	ref := storeCapture(t, blobs, warc.Response{
		TargetURI:  "https://www.cdc.gov/flu",
		Date:       time.Now(),
		StatusCode: http.StatusMovedPermanently,
		Header: http.Header{
			"Content-Type": {"text/html"},
			"Location":     {"https://web.archive.org/web/20230601000000id_/https://www.cdc.gov/flu/"},
		},
		Payload: []byte("moved"),
	})

	n, err := ingest.New(blobs, store, nil, nil).Ingest(ctx, rec, ref)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	for _, alias := range rec.Aliases {
		e, err := store.Get(ctx, alias)
		require.NoError(t, err)
		assert.True(t, e.IsRedirect(), alias)
		assert.Equal(t, "https://www.cdc.gov/flu/", string(e.Payload))
	}
}
