package capture

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wayback-mirror/internal/hash/sha256"
	"github.com/JakeFAU/wayback-mirror/internal/id/uuid"
	"github.com/JakeFAU/wayback-mirror/internal/mirror"
	"github.com/JakeFAU/wayback-mirror/internal/storage/memory"
	"github.com/JakeFAU/wayback-mirror/internal/warc"
)

type fakeIndex struct {
	rows  []mirror.IndexRow
	err   error
	calls []string
}

func (f *fakeIndex) Captures(_ context.Context, rawURL string, window int) ([]mirror.IndexRow, error) {
	f.calls = append(f.calls, rawURL)
	if window <= 0 {
		return nil, errors.New("bad window")
	}
	return f.rows, f.err
}

type fakeFetcher struct {
	resp mirror.FetchResponse
	err  error
	urls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, req mirror.FetchRequest) (mirror.FetchResponse, error) {
	f.urls = append(f.urls, req.URL)
	return f.resp, f.err
}

type failingBlobs struct{}

func (failingBlobs) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("disk full")
}

func (failingBlobs) GetObject(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("disk full")
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var record = mirror.CanonicalRecord{
	Subdomain: "www.cdc.gov",
	Path:      "/flu/index.html",
	Timestamp: "20230601000000",
	Original:  "https://www.cdc.gov/flu/index.html",
	Aliases:   []string{"https://www.cdc.gov/flu/index.html"},
}

func newResolver(t *testing.T, index Index, f mirror.Fetcher, blobs mirror.BlobStore) *Resolver {
	t.Helper()
	r, err := NewResolver(index, f, blobs, uuid.New(), sha256.New(), fixedClock{time.Unix(0, 0)},
		Config{ReplayURL: "https://web.archive.org/web/", Window: 10, IsPartOf: "www.cdc.gov"}, nil)
	require.NoError(t, err)
	return r
}

func matchingRows() []mirror.IndexRow {
	return []mirror.IndexRow{
		{Timestamp: "20230101000000", StatusCode: "200"},
		{Timestamp: "20230601000000", StatusCode: "200"},
	}
}

func TestRetrieveStoresCapture(t *testing.T) {
	index := &fakeIndex{rows: matchingRows()}
	f := &fakeFetcher{resp: mirror.FetchResponse{
		StatusCode: http.StatusOK,
		Headers: http.Header{
			"Content-Type":                  {"text/html; charset=utf-8"},
			"X-Archive-Orig-Last-Modified":  {"Thu, 01 Jun 2023 00:00:00 GMT"},
			"X-Archive-Orig-Content-Length": {"99"},
			"Server":                        {"archive"},
		},
		Body: []byte("<html>flu</html>"),
	}}
	blobs := memory.NewBlobStore()
	r := newResolver(t, index, f, blobs)

	res, err := r.Retrieve(context.Background(), record)
	require.NoError(t, err)
	assert.False(t, res.Issues)
	assert.Equal(t, "memory://www.cdc.gov/flu_index.html-75c7c2301733-20230601000000.warc.gz", res.Reference)
	assert.Equal(t, []string{"https://www.cdc.gov/flu/index.html"}, index.calls)
	assert.Equal(t, []string{"https://web.archive.org/web/20230601000000id_/https://www.cdc.gov/flu/index.html"}, f.urls)

	rc, err := blobs.GetObject(context.Background(), res.Reference)
	require.NoError(t, err)
	captures, err := warc.ReadCaptures(rc)
	require.NoError(t, err)
	require.Len(t, captures, 1)
	got := captures[0]
	assert.Equal(t, record.Original, got.TargetURI)
	assert.Equal(t, "text/html; charset=utf-8", got.ContentType)
	assert.Equal(t, "Thu, 01 Jun 2023 00:00:00 GMT", got.Headers.Get("Last-Modified"))
	assert.Empty(t, got.Headers.Get("Server"))
	assert.Equal(t, "16", got.Headers.Get("Content-Length"))
	assert.Equal(t, "<html>flu</html>", string(got.Payload))
}

func TestRetrieveNoExactMatch(t *testing.T) {
	index := &fakeIndex{rows: []mirror.IndexRow{
		{Timestamp: "20230601000000", StatusCode: "404"},
		{Timestamp: "20230101000000", StatusCode: "200"},
	}}
	f := &fakeFetcher{}
	res, err := newResolver(t, index, f, memory.NewBlobStore()).Retrieve(context.Background(), record)
	require.NoError(t, err)
	assert.True(t, res.Issues)
	assert.Empty(t, res.Reference)
	assert.Empty(t, f.urls, "no replay fetch without a match")
}

func TestRetrieveExhaustedRetriesAreIssues(t *testing.T) {
	t.Run("Index", func(t *testing.T) {
		index := &fakeIndex{err: mirror.ErrTransient}
		res, err := newResolver(t, index, &fakeFetcher{}, memory.NewBlobStore()).Retrieve(context.Background(), record)
		require.NoError(t, err)
		assert.True(t, res.Issues)
	})
	t.Run("Replay", func(t *testing.T) {
		f := &fakeFetcher{err: mirror.ErrTransient}
		res, err := newResolver(t, &fakeIndex{rows: matchingRows()}, f, memory.NewBlobStore()).Retrieve(context.Background(), record)
		require.NoError(t, err)
		assert.True(t, res.Issues)
	})
	t.Run("ReplayStatus", func(t *testing.T) {
		f := &fakeFetcher{resp: mirror.FetchResponse{StatusCode: http.StatusFound}}
		res, err := newResolver(t, &fakeIndex{rows: matchingRows()}, f, memory.NewBlobStore()).Retrieve(context.Background(), record)
		require.NoError(t, err)
		assert.True(t, res.Issues)
		assert.Equal(t, http.StatusFound, res.StatusCode)
	})
}

func TestRetrieveBlobFailureIsStoreIO(t *testing.T) {
	f := &fakeFetcher{resp: mirror.FetchResponse{StatusCode: http.StatusOK, Body: []byte("x")}}
	_, err := newResolver(t, &fakeIndex{rows: matchingRows()}, f, failingBlobs{}).Retrieve(context.Background(), record)
	require.Error(t, err)
	assert.ErrorIs(t, err, mirror.ErrStoreIO)
}

func TestRetrieveCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	index := &fakeIndex{err: context.Canceled}
	_, err := newResolver(t, index, &fakeFetcher{}, memory.NewBlobStore()).Retrieve(ctx, record)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReplayURLEscapesOnlyTheQuery(t *testing.T) {
	r := newResolver(t, &fakeIndex{}, &fakeFetcher{}, memory.NewBlobStore())
	assert.Equal(t,
		"https://web.archive.org/web/20230601000000id_/https://www.cdc.gov/a b/search%3Fq%3Dflu%26x%3D1",
		r.replayURL("20230601000000", "https://www.cdc.gov/a b/search?q=flu&x=1"))
}

func TestEscapeFrom(t *testing.T) {
	assert.Equal(t, "abc%3Fd%3De", escapeFrom("abc?d=e", 3))
	assert.Equal(t, "abc", escapeFrom("abc", 3))
	assert.Equal(t, "abc", escapeFrom("abc", -1))
	assert.Equal(t, "%2Fa", escapeFrom("/a", 0))
}

func TestObjectPath(t *testing.T) {
	assert.Equal(t, "www.cdc.gov/_root-8a5edab28263-20230601000000.warc.gz",
		ObjectPath(mirror.CanonicalRecord{Subdomain: "www.cdc.gov", Path: "/", Timestamp: "20230601000000"}))
}

func TestObjectPathDistinguishesFlattenedPaths(t *testing.T) {
	long := "/search?q=" + strings.Repeat("x", 200)
	pairs := [][2]string{
		{"/a/b", "/a_b"},
		{"/a?b", "/a/b"},
		{long + "1", long + "2"},
	}
	for _, pair := range pairs {
		a := ObjectPath(mirror.CanonicalRecord{Subdomain: "www.cdc.gov", Path: pair[0], Timestamp: "20230601000000"})
		b := ObjectPath(mirror.CanonicalRecord{Subdomain: "www.cdc.gov", Path: pair[1], Timestamp: "20230601000000"})
		assert.NotEqual(t, a, b, "%s vs %s", pair[0], pair[1])
	}
}

func TestRetrieveKeepsCollidingPathsApart(t *testing.T) {
	blobs := memory.NewBlobStore()
	refs := make(map[string]string)
	for _, path := range []string{"/a/b", "/a_b"} {
		rec := mirror.CanonicalRecord{
			Subdomain: "www.cdc.gov",
			Path:      path,
			Timestamp: "20230601000000",
			Original:  "https://www.cdc.gov" + path,
			Aliases:   []string{"https://www.cdc.gov" + path},
		}
		index := &fakeIndex{rows: matchingRows()}
		f := &fakeFetcher{resp: mirror.FetchResponse{
			StatusCode: http.StatusOK,
			Headers:    http.Header{"Content-Type": {"text/html"}},
			Body:       []byte("<html>" + path + "</html>"),
		}}
		res, err := newResolver(t, index, f, blobs).Retrieve(context.Background(), rec)
		require.NoError(t, err)
		require.False(t, res.Issues)
		refs[path] = res.Reference
	}
	require.NotEqual(t, refs["/a/b"], refs["/a_b"])

	for path, ref := range refs {
		rc, err := blobs.GetObject(context.Background(), ref)
		require.NoError(t, err)
		captures, err := warc.ReadCaptures(rc)
		require.NoError(t, rc.Close())
		require.NoError(t, err)
		require.Len(t, captures, 1)
		assert.Equal(t, "<html>"+path+"</html>", string(captures[0].Payload))
	}
}

func TestNewResolverValidates(t *testing.T) {
	_, err := NewResolver(nil, nil, nil, nil, nil, nil, Config{}, nil)
	assert.Error(t, err)
	_, err = NewResolver(&fakeIndex{}, &fakeFetcher{}, memory.NewBlobStore(), uuid.New(), sha256.New(),
		fixedClock{}, Config{}, nil)
	assert.Error(t, err)
}
