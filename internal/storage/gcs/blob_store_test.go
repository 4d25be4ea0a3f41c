package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestParseURI(t *testing.T) {
	t.Parallel()

	bucket, object, err := ParseURI("gs://captures/www.example.com/a_b-20230601000000.warc.gz")
	require.NoError(t, err)
	assert.Equal(t, "captures", bucket)
	assert.Equal(t, "www.example.com/a_b-20230601000000.warc.gz", object)

	for _, bad := range []string{"file:///tmp/x", "gs://bucket", "gs:///object", "::"} {
		_, _, err := ParseURI(bad)
		assert.Error(t, err, bad)
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = New(client, Config{})
	require.Error(t, err)

	store, err := New(client, Config{Bucket: "b", Prefix: "/mirror/"})
	require.NoError(t, err)
	assert.Equal(t, "mirror/www.example.com/a.warc.gz", store.objectName("/www.example.com/a.warc.gz"))

	_, err = store.PutObject(context.Background(), " ", "application/warc", nil)
	require.Error(t, err)
	_, err = store.GetObject(context.Background(), "file:///x")
	require.Error(t, err)
}
