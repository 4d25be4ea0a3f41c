// Package config loads and validates mirror configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Store    StoreConfig    `mapstructure:"store"`
	Capture  CaptureConfig  `mapstructure:"capture"`
	Report   ReportConfig   `mapstructure:"report"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ServerConfig controls the serving layer.
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	DefaultKey     string        `mapstructure:"default_key"`
	MetricsPort    int           `mapstructure:"metrics_port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool     `mapstructure:"development"`
	Level       string   `mapstructure:"level"`
	OutputPaths []string `mapstructure:"output_paths"`
}

// ArchiveConfig points at the remote archive.
type ArchiveConfig struct {
	IndexURL      string `mapstructure:"index_url"`
	ReplayURL     string `mapstructure:"replay_url"`
	From          string `mapstructure:"from"`
	To            string `mapstructure:"to"`
	MatchType     string `mapstructure:"match_type"`
	Output        string `mapstructure:"output"`
	CaptureWindow int    `mapstructure:"capture_window"`
}

// HTTPConfig configures the archive HTTP client.
type HTTPConfig struct {
	UserAgent        string        `mapstructure:"user_agent"`
	TimeoutSeconds   int           `mapstructure:"timeout_seconds"`
	MaxRetries       int           `mapstructure:"max_retries"`
	BackoffInitialMs int           `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int           `mapstructure:"backoff_max_ms"`
	MinInterval      time.Duration `mapstructure:"min_interval"`
}

// PipelineConfig governs discovery and fetching.
type PipelineConfig struct {
	Subdomains           []string `mapstructure:"subdomains"`
	SubdomainFile        string   `mapstructure:"subdomain_file"`
	StateDir             string   `mapstructure:"state_dir"`
	RetryFailed          bool     `mapstructure:"retry_failed"`
	Ingest               bool     `mapstructure:"ingest"`
	Workers              int      `mapstructure:"workers"`
	SubdomainConcurrency int      `mapstructure:"subdomain_concurrency"`
	RefreshIndex         bool     `mapstructure:"refresh_index"`
	// ProgressInterval logs a done/total line every N paths; 0 disables it.
	ProgressInterval int `mapstructure:"progress_interval"`
}

// StoreConfig selects the content store backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// CaptureConfig selects where capture containers are written.
type CaptureConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// ReportConfig controls run summaries and the failed-path list.
type ReportConfig struct {
	TrackFailed    bool         `mapstructure:"track_failed"`
	FailedListPath string       `mapstructure:"failed_list_path"`
	PubSub         PubSubConfig `mapstructure:"pubsub"`
	DB             DBConfig     `mapstructure:"db"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment. When runMode is set, the config
// file section of that name (e.g. "dev" or "prod") becomes the root.
func Load(path, runMode string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MIRROR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		file := viper.New()
		file.SetConfigFile(path)
		if err := file.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		settings := file.AllSettings()
		if runMode != "" {
			section := file.Sub(runMode)
			if section == nil {
				return Config{}, fmt.Errorf("config %s has no %q section", path, runMode)
			}
			settings = section.AllSettings()
		}
		if err := v.MergeConfigMap(settings); err != nil {
			return Config{}, fmt.Errorf("merge config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 7070)
	v.SetDefault("server.default_key", "https://www.cdc.gov/")
	v.SetDefault("server.metrics_port", 0)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output_paths", []string{"stderr"})
	v.SetDefault("archive.index_url", "https://web.archive.org/cdx/search/cdx")
	v.SetDefault("archive.replay_url", "https://web.archive.org/web")
	v.SetDefault("archive.from", "20200101")
	v.SetDefault("archive.to", "20250119")
	v.SetDefault("archive.match_type", "prefix")
	v.SetDefault("archive.output", "json")
	v.SetDefault("archive.capture_window", 10)
	v.SetDefault("http.user_agent", "wayback-mirror/1.0 (+https://github.com/JakeFAU/wayback-mirror)")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 1000)
	v.SetDefault("http.backoff_max_ms", 0)
	v.SetDefault("http.min_interval", "4s")
	v.SetDefault("pipeline.subdomains", []string{})
	v.SetDefault("pipeline.subdomain_file", "")
	v.SetDefault("pipeline.state_dir", "data/state")
	v.SetDefault("pipeline.retry_failed", false)
	v.SetDefault("pipeline.ingest", true)
	v.SetDefault("pipeline.workers", 1)
	v.SetDefault("pipeline.subdomain_concurrency", 1)
	v.SetDefault("pipeline.refresh_index", false)
	v.SetDefault("pipeline.progress_interval", 100)
	v.SetDefault("store.backend", "leveldb")
	v.SetDefault("store.path", "data/db/content")
	v.SetDefault("capture.backend", "local")
	v.SetDefault("capture.base_dir", "data/warc")
	v.SetDefault("capture.gcs_bucket", "")
	v.SetDefault("capture.prefix", "")
	v.SetDefault("report.track_failed", false)
	v.SetDefault("report.failed_list_path", "data/state/failed_urls.jsonl")
	v.SetDefault("report.pubsub.project_id", "")
	v.SetDefault("report.pubsub.topic", "")
	v.SetDefault("report.db.dsn", "")
	v.SetDefault("report.db.table", "mirror_runs")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "wayback-mirror")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.MetricsPort < 0 {
		return fmt.Errorf("server.metrics_port must be >= 0")
	}
	if c.Archive.IndexURL == "" || c.Archive.ReplayURL == "" {
		return fmt.Errorf("archive.index_url and archive.replay_url are required")
	}
	if c.Archive.Output != "json" && c.Archive.Output != "text" {
		return fmt.Errorf("archive.output must be json or text, got %q", c.Archive.Output)
	}
	if c.Archive.CaptureWindow <= 0 {
		return fmt.Errorf("archive.capture_window must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 || c.HTTP.BackoffInitialMs < 0 || c.HTTP.BackoffMaxMs < 0 {
		return fmt.Errorf("http retry settings must be >= 0")
	}
	if c.HTTP.MinInterval < 0 {
		return fmt.Errorf("http.min_interval must be >= 0")
	}
	if c.Pipeline.StateDir == "" {
		return fmt.Errorf("pipeline.state_dir is required")
	}
	if c.Pipeline.Workers <= 0 || c.Pipeline.SubdomainConcurrency <= 0 {
		return fmt.Errorf("pipeline.workers and pipeline.subdomain_concurrency must be > 0")
	}
	switch c.Store.Backend {
	case "leveldb", "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for backend %q", c.Store.Backend)
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	switch c.Capture.Backend {
	case "local":
		if c.Capture.BaseDir == "" {
			return fmt.Errorf("capture.base_dir is required for the local backend")
		}
	case "gcs":
		if c.Capture.GCSBucket == "" {
			return fmt.Errorf("capture.gcs_bucket is required for the gcs backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown capture.backend %q", c.Capture.Backend)
	}
	if c.Report.TrackFailed && c.Report.FailedListPath == "" {
		return fmt.Errorf("report.failed_list_path must be set when report.track_failed is enabled")
	}
	if (c.Report.PubSub.ProjectID == "") != (c.Report.PubSub.Topic == "") {
		return fmt.Errorf("report.pubsub.project_id and report.pubsub.topic must be set together")
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint must be set when tracing is enabled")
	}
	return nil
}

// HTTPTimeout converts the timeout seconds into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// ServerAddr is the serving listen address.
func (c Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
