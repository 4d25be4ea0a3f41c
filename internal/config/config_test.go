package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", "")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7070", cfg.ServerAddr())
	assert.Equal(t, "https://www.cdc.gov/", cfg.Server.DefaultKey)
	assert.Equal(t, 60*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "https://web.archive.org/cdx/search/cdx", cfg.Archive.IndexURL)
	assert.Equal(t, "20200101", cfg.Archive.From)
	assert.Equal(t, "20250119", cfg.Archive.To)
	assert.Equal(t, 10, cfg.Archive.CaptureWindow)
	assert.Equal(t, 4*time.Second, cfg.HTTP.MinInterval)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout())
	assert.Equal(t, 3, cfg.HTTP.MaxRetries)
	assert.Equal(t, "leveldb", cfg.Store.Backend)
	assert.Equal(t, "local", cfg.Capture.Backend)
	assert.Equal(t, []string{"stderr"}, cfg.Logging.OutputPaths)
}

func TestLoadWithFileOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  default_key: https://blog.example.com/
archive:
  output: text
  capture_window: 5
http:
  min_interval: 6s
  max_retries: 5
pipeline:
  subdomains: [www.example.com, blog.example.com]
  workers: 4
store:
  backend: sqlite
  path: /tmp/mirror.sqlite
report:
  track_failed: true
  failed_list_path: /tmp/failed.jsonl
`)
	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "https://blog.example.com/", cfg.Server.DefaultKey)
	assert.Equal(t, "text", cfg.Archive.Output)
	assert.Equal(t, 5, cfg.Archive.CaptureWindow)
	assert.Equal(t, 6*time.Second, cfg.HTTP.MinInterval)
	assert.Equal(t, 5, cfg.HTTP.MaxRetries)
	assert.Equal(t, []string{"www.example.com", "blog.example.com"}, cfg.Pipeline.Subdomains)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.True(t, cfg.Report.TrackFailed)
}

func TestLoadRunModeSection(t *testing.T) {
	path := writeConfig(t, `
dev:
  server:
    port: 7071
  pipeline:
    state_dir: ../data/dev/state
prod:
  server:
    port: 80
  pipeline:
    state_dir: /var/lib/mirror
`)
	cfg, err := Load(path, "prod")
	require.NoError(t, err)
	assert.Equal(t, 80, cfg.Server.Port)
	assert.Equal(t, "/var/lib/mirror", cfg.Pipeline.StateDir)

	cfg, err = Load(path, "dev")
	require.NoError(t, err)
	assert.Equal(t, 7071, cfg.Server.Port)
	assert.Equal(t, "json", cfg.Archive.Output, "defaults still apply inside a section")

	_, err = Load(path, "staging")
	require.ErrorContains(t, err, `"staging"`)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")
	t.Setenv("MIRROR_SERVER_PORT", "9191")
	t.Setenv("MIRROR_HTTP_MIN_INTERVAL", "250ms")

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.HTTP.MinInterval)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), "")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base, err := Load("", "")
	require.NoError(t, err)

	cases := map[string]func(*Config){
		"port":           func(c *Config) { c.Server.Port = 0 },
		"output":         func(c *Config) { c.Archive.Output = "xml" },
		"window":         func(c *Config) { c.Archive.CaptureWindow = 0 },
		"timeout":        func(c *Config) { c.HTTP.TimeoutSeconds = 0 },
		"retries":        func(c *Config) { c.HTTP.MaxRetries = -1 },
		"interval":       func(c *Config) { c.HTTP.MinInterval = -time.Second },
		"state dir":      func(c *Config) { c.Pipeline.StateDir = "" },
		"workers":        func(c *Config) { c.Pipeline.Workers = 0 },
		"store backend":  func(c *Config) { c.Store.Backend = "redis" },
		"store path":     func(c *Config) { c.Store.Path = "" },
		"capture gcs":    func(c *Config) { c.Capture.Backend = "gcs" },
		"capture kind":   func(c *Config) { c.Capture.Backend = "s3" },
		"failed list":    func(c *Config) { c.Report.TrackFailed = true; c.Report.FailedListPath = "" },
		"pubsub pair":    func(c *Config) { c.Report.PubSub.ProjectID = "p" },
		"tracing":        func(c *Config) { c.Tracing.Enabled = true },
		"metrics port":   func(c *Config) { c.Server.MetricsPort = -1 },
		"archive urls":   func(c *Config) { c.Archive.IndexURL = "" },
		"local base dir": func(c *Config) { c.Capture.BaseDir = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	mem := base
	mem.Store.Backend = "memory"
	mem.Store.Path = ""
	assert.NoError(t, mem.Validate())
}
