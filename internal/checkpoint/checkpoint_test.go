package checkpoint_test

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wayback-mirror/internal/checkpoint"
	"github.com/JakeFAU/wayback-mirror/internal/mirror"
)

func TestLoadMissingFileIsEmpty(t *testing.T) {
	cp, err := checkpoint.Load(checkpoint.Path(t.TempDir(), "www.cdc.gov"))
	require.NoError(t, err)
	assert.Equal(t, 0, cp.Len())
	assert.Equal(t, mirror.StateUnseen, cp.State("/a"))
}

func TestRecordPersistsWireFormat(t *testing.T) {
	path := checkpoint.Path(t.TempDir(), "www.cdc.gov")
	cp, err := checkpoint.Load(path)
	require.NoError(t, err)

	require.NoError(t, cp.Record("/a", mirror.FetchOutcome{Reference: "file:///w/a.warc.gz"}))
	require.NoError(t, cp.Record("/b", mirror.FetchOutcome{Issues: true}))

	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"/a": {"file": "file:///w/a.warc.gz", "issues": false},
		"/b": {"file": null, "issues": true}
	}`, string(data))

	reloaded, err := checkpoint.Load(path)
	require.NoError(t, err)
	outcome, ok := reloaded.Get("/a")
	require.True(t, ok)
	assert.True(t, outcome.Succeeded())
	assert.Equal(t, mirror.StateFetched, reloaded.State("/a"))
	assert.Equal(t, mirror.StateFailed, reloaded.State("/b"))
	assert.Equal(t, []string{"/b"}, reloaded.Failed())
}

func TestRecordOverwritesOutcome(t *testing.T) {
	cp, err := checkpoint.Load(checkpoint.Path(t.TempDir(), "h"))
	require.NoError(t, err)
	require.NoError(t, cp.Record("/a", mirror.FetchOutcome{Issues: true}))
	require.NoError(t, cp.Record("/a", mirror.FetchOutcome{Reference: "ref"}))
	assert.Empty(t, cp.Failed())
	assert.Equal(t, 1, cp.Len())
}

func TestConcurrentRecordsAreSerialized(t *testing.T) {
	path := checkpoint.Path(t.TempDir(), "h")
	cp, err := checkpoint.Load(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, cp.Record(fmt.Sprintf("/p%02d", i), mirror.FetchOutcome{Reference: "r"}))
		}(i)
	}
	wg.Wait()

	reloaded, err := checkpoint.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 25, reloaded.Len())
}

func TestRecordFailureRollsBack(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	cp, err := checkpoint.Load(filepath.Join(dir, "checkpoint.h.json"))
	require.NoError(t, err)
	// The state directory is now a regular file, so the write must fail.
	require.NoError(t, os.WriteFile(dir, []byte("x"), 0o600))

	err = cp.Record("/a", mirror.FetchOutcome{Reference: "r"})
	require.Error(t, err)
	assert.ErrorIs(t, err, mirror.ErrStoreIO)
	_, ok := cp.Get("/a")
	assert.False(t, ok)
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.h.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := checkpoint.Load(path)
	assert.Error(t, err)
}
