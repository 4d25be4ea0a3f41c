package mirror

import (
	"context"
	"io"
	"time"
)

// Fetcher performs a single HTTP GET against the archive.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// IndexClient queries the archive index API.
type IndexClient interface {
	Query(ctx context.Context, query Query) ([]IndexRow, error)
}

// Query describes one index API request.
type Query struct {
	URL       string
	MatchType string
	From      string
	To        string
	Filters   []string
	Limit     int
}

// BlobStore persists capture containers and reads them back by reference.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, reference string) (io.ReadCloser, error)
}

// ContentStore is the multi-namespace key-value store holding mirrored content.
type ContentStore interface {
	Put(ctx context.Context, key string, payload []byte, mimetype, timestamp string) error
	PutRedirect(ctx context.Context, key, targetPath, timestamp string) error
	Get(ctx context.Context, key string) (Entry, error)
	Close() error
}

// Publisher pushes run summaries to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for capture integrity headers.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
