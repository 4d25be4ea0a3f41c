package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubdomainsMergesListAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subdomains.csv")
	require.NoError(t, os.WriteFile(path, []byte("# host,notes\nblog.example.com,blog\n\nwww.example.com,dup\n  api.example.com\n"), 0o600))

	cfg := Config{Pipeline: PipelineConfig{
		Subdomains:    []string{"www.example.com", " "},
		SubdomainFile: path,
	}}
	got, err := cfg.Subdomains()
	require.NoError(t, err)
	assert.Equal(t, []string{"www.example.com", "blog.example.com", "api.example.com"}, got)
}

func TestSubdomainsRequiresOne(t *testing.T) {
	_, err := Config{}.Subdomains()
	require.Error(t, err)
}

func TestReadSubdomainFileMissing(t *testing.T) {
	_, err := ReadSubdomainFile(filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
}
