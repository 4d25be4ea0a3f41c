// Package app builds the long-lived services of the mirror from configuration
// and owns their shutdown, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/wayback-mirror/internal/api"
	"github.com/JakeFAU/wayback-mirror/internal/canonical"
	"github.com/JakeFAU/wayback-mirror/internal/capture"
	"github.com/JakeFAU/wayback-mirror/internal/cdx"
	"github.com/JakeFAU/wayback-mirror/internal/clock/system"
	"github.com/JakeFAU/wayback-mirror/internal/config"
	"github.com/JakeFAU/wayback-mirror/internal/dispatcher"
	"github.com/JakeFAU/wayback-mirror/internal/fetcher"
	collyfetcher "github.com/JakeFAU/wayback-mirror/internal/fetcher/colly"
	"github.com/JakeFAU/wayback-mirror/internal/hash/sha256"
	"github.com/JakeFAU/wayback-mirror/internal/id/uuid"
	"github.com/JakeFAU/wayback-mirror/internal/ingest"
	"github.com/JakeFAU/wayback-mirror/internal/mirror"
	"github.com/JakeFAU/wayback-mirror/internal/policy/ratelimit"
	"github.com/JakeFAU/wayback-mirror/internal/policy/retry"
	"github.com/JakeFAU/wayback-mirror/internal/progress"
	progresssinks "github.com/JakeFAU/wayback-mirror/internal/progress/sinks"
	pubmemory "github.com/JakeFAU/wayback-mirror/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/wayback-mirror/internal/publisher/pubsub"
	"github.com/JakeFAU/wayback-mirror/internal/report"
	gcsstorage "github.com/JakeFAU/wayback-mirror/internal/storage/gcs"
	"github.com/JakeFAU/wayback-mirror/internal/storage/leveldb"
	localstorage "github.com/JakeFAU/wayback-mirror/internal/storage/local"
	memorystorage "github.com/JakeFAU/wayback-mirror/internal/storage/memory"
	pgstore "github.com/JakeFAU/wayback-mirror/internal/storage/postgres"
	"github.com/JakeFAU/wayback-mirror/internal/storage/sqlite"
	"github.com/JakeFAU/wayback-mirror/internal/telemetry"
	"github.com/JakeFAU/wayback-mirror/internal/worker"
)

// Version is stamped into traces and warcinfo records.
var Version = "dev"

// Mode selects which services Build wires.
type Mode int

// Build modes.
const (
	// ModePipeline wires the archive client, capture stores, content store and reporting.
	ModePipeline Mode = iota
	// ModeOffline wires capture stores and the content store without network clients.
	ModeOffline
	// ModeServe wires only the content store, read-only where the backend allows it.
	ModeServe
)

type closer struct {
	name string
	fn   func(context.Context) error
}

// App holds the shared services for one command invocation.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	mode   Mode

	content    mirror.ContentStore
	blobs      mirror.BlobStore
	index      *cdx.Client
	discoverer *canonical.Discoverer
	ingester   *ingest.Ingester
	dispatch   *dispatcher.Dispatcher
	failed     *report.FailedList
	publisher  mirror.Publisher

	closers []closer
}

// Build creates the services needed by mode. On error everything opened so
// far is closed again.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, mode Mode) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, mode: mode}
	if err := a.build(ctx); err != nil {
		_ = a.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg
	_, _, err := telemetry.InitTelemetry(ctx, telemetry.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     Version,
	})
	if err != nil {
		return fmt.Errorf("telemetry init failed: %w", err)
	}
	a.onClose("telemetry", telemetry.Shutdown)

	if a.content, err = a.openContentStore(ctx); err != nil {
		return err
	}
	if a.mode == ModeServe {
		return nil
	}

	if a.blobs, err = a.openBlobStore(ctx); err != nil {
		return err
	}
	a.ingester = ingest.New(a.blobs, a.content, nil, a.logger.Named("ingest"))
	if a.mode == ModeOffline {
		return nil
	}
	return a.buildPipeline(ctx)
}

func (a *App) buildPipeline(ctx context.Context) error {
	cfg := a.cfg
	policy := retry.New(retry.Config{
		MaxRetries: cfg.HTTP.MaxRetries,
		BaseDelay:  msDuration(cfg.HTTP.BackoffInitialMs),
		MaxDelay:   msDuration(cfg.HTTP.BackoffMaxMs),
		Jitter:     true,
	})
	limiter := ratelimit.New(ratelimit.Config{MinInterval: cfg.HTTP.MinInterval})
	base := collyfetcher.New(collyfetcher.Config{UserAgent: cfg.HTTP.UserAgent, Timeout: cfg.HTTPTimeout()})
	guarded := fetcher.NewGuarded(base, limiter, policy, a.logger.Named("fetcher"))

	var err error
	a.index, err = cdx.New(guarded, cdx.Config{BaseURL: cfg.Archive.IndexURL, Output: cfg.Archive.Output}, a.logger.Named("cdx"))
	if err != nil {
		return fmt.Errorf("index client init failed: %w", err)
	}
	a.discoverer = canonical.NewDiscoverer(a.index, canonical.DiscoverConfig{
		StateDir:  cfg.Pipeline.StateDir,
		MatchType: cfg.Archive.MatchType,
		From:      cfg.Archive.From,
		To:        cfg.Archive.To,
		Refresh:   cfg.Pipeline.RefreshIndex,
	}, a.logger.Named("discover"))

	ids := uuid.New()
	clock := system.New()
	resolver, err := capture.NewResolver(a.index, guarded, a.blobs, ids, sha256.New(), clock, capture.Config{
		ReplayURL: cfg.Archive.ReplayURL,
		Window:    cfg.Archive.CaptureWindow,
		IsPartOf:  "wayback-mirror " + Version,
	}, a.logger.Named("capture"))
	if err != nil {
		return fmt.Errorf("capture resolver init failed: %w", err)
	}

	reporter, err := a.buildReporter(ctx)
	if err != nil {
		return err
	}

	var ingester worker.Ingester
	if cfg.Pipeline.Ingest {
		ingester = a.ingester
	}
	a.dispatch, err = dispatcher.New(a.discoverer, resolver, ingester, reporter, ids, clock, dispatcher.Config{
		StateDir:             cfg.Pipeline.StateDir,
		Workers:              cfg.Pipeline.Workers,
		SubdomainConcurrency: cfg.Pipeline.SubdomainConcurrency,
		Ingest:               cfg.Pipeline.Ingest,
	}, a.logger.Named("dispatcher"))
	if err != nil {
		return fmt.Errorf("dispatcher init failed: %w", err)
	}

	promSink, err := progresssinks.NewPrometheusSink(nil)
	if err != nil {
		return fmt.Errorf("progress sink init failed: %w", err)
	}
	hub := progress.NewHub(progress.Config{Logger: a.logger.Named("progress")},
		progresssinks.NewLogSink(a.logger.Named("progress"), cfg.Pipeline.ProgressInterval),
		promSink,
	)
	a.onClose("progress hub", hub.Close)
	a.dispatch.WithProgress(hub)
	return nil
}

func (a *App) buildReporter(ctx context.Context) (report.Reporter, error) {
	cfg := a.cfg.Report
	reporters := report.Multi{report.NewLog(a.logger.Named("report"))}

	if cfg.TrackFailed {
		list, err := report.NewFailedList(cfg.FailedListPath)
		if err != nil {
			return nil, fmt.Errorf("failed list init failed: %w", err)
		}
		a.failed = list
		reporters = append(reporters, list)
	}

	if cfg.PubSub.ProjectID != "" {
		pub, closeFn, err := gcppublisher.Connect(ctx, cfg.PubSub.ProjectID, cfg.PubSub.Topic)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.onClose("pubsub", func(context.Context) error { return closeFn() })
		a.publisher = pub
		a.logger.Info("publishing run summaries", zap.String("topic", cfg.PubSub.Topic))
	} else {
		a.publisher = pubmemory.New()
	}
	reporters = append(reporters, report.NewPublisher(a.publisher))

	if cfg.DB.DSN != "" {
		store, err := pgstore.NewSummaryStore(ctx, pgstore.SummaryStoreConfig{DSN: cfg.DB.DSN, Table: cfg.DB.Table})
		if err != nil {
			return nil, fmt.Errorf("summary store init failed: %w", err)
		}
		a.onClose("postgres", func(context.Context) error { store.Close(); return nil })
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		reporters = append(reporters, report.NewStore(store))
	}
	return reporters, nil
}

func (a *App) openContentStore(ctx context.Context) (mirror.ContentStore, error) {
	var (
		store mirror.ContentStore
		err   error
	)
	switch a.cfg.Store.Backend {
	case "leveldb":
		store, err = leveldb.Open(leveldb.Config{Path: a.cfg.Store.Path, ReadOnly: a.mode == ModeServe})
	case "sqlite":
		store, err = sqlite.Open(ctx, sqlite.Config{Path: a.cfg.Store.Path})
	case "memory":
		store = memorystorage.NewContentStore()
	default:
		err = fmt.Errorf("unknown store backend %q", a.cfg.Store.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("content store init failed: %w", err)
	}
	a.onClose("content store", func(context.Context) error { return store.Close() })
	a.logger.Debug("content store ready", zap.String("backend", a.cfg.Store.Backend), zap.String("path", a.cfg.Store.Path))
	return store, nil
}

func (a *App) openBlobStore(ctx context.Context) (mirror.BlobStore, error) {
	switch a.cfg.Capture.Backend {
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Capture.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return store, nil
	case "gcs":
		store, closeFn, err := gcsstorage.Connect(ctx, gcsstorage.Config{Bucket: a.cfg.Capture.GCSBucket, Prefix: a.cfg.Capture.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.onClose("gcs", func(context.Context) error { return closeFn() })
		return store, nil
	case "memory":
		return memorystorage.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown capture backend %q", a.cfg.Capture.Backend)
	}
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Close releases services in reverse order of construction.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("service", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Content returns the content store.
func (a *App) Content() mirror.ContentStore { return a.content }

// Blobs returns the capture container store; nil in ModeServe.
func (a *App) Blobs() mirror.BlobStore { return a.blobs }

// Ingester returns the content store writer; nil in ModeServe.
func (a *App) Ingester() *ingest.Ingester { return a.ingester }

// Discoverer returns the canonical record source; nil outside ModePipeline.
func (a *App) Discoverer() *canonical.Discoverer { return a.discoverer }

// Dispatcher returns the fetch pipeline; nil outside ModePipeline.
func (a *App) Dispatcher() *dispatcher.Dispatcher { return a.dispatch }

// FailedList returns the failed-path list when tracking is enabled.
func (a *App) FailedList() *report.FailedList { return a.failed }

// Publisher returns the run summary publisher; nil outside ModePipeline.
func (a *App) Publisher() mirror.Publisher { return a.publisher }

// APIServer builds the serving layer over the content store.
func (a *App) APIServer() *api.Server {
	return api.NewServer(a.content, api.Config{
		DefaultKey:     a.cfg.Server.DefaultKey,
		RequestTimeout: a.cfg.Server.RequestTimeout,
	}, a.logger.Named("api"))
}
