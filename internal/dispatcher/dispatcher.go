// Package dispatcher fans canonical records out to path workers, one bounded
// pool per subdomain, and runs subdomains side by side.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/wayback-mirror/internal/checkpoint"
	"github.com/JakeFAU/wayback-mirror/internal/mirror"
	"github.com/JakeFAU/wayback-mirror/internal/progress"
	"github.com/JakeFAU/wayback-mirror/internal/queue/memory"
	"github.com/JakeFAU/wayback-mirror/internal/report"
	"github.com/JakeFAU/wayback-mirror/internal/telemetry"
	"github.com/JakeFAU/wayback-mirror/internal/worker"
)

// Discoverer yields the canonical records of a subdomain.
type Discoverer interface {
	Discover(ctx context.Context, subdomain string) ([]mirror.CanonicalRecord, error)
}

// Config controls worker fan-out.
type Config struct {
	StateDir string
	// Workers is the number of path workers per subdomain.
	Workers int
	// SubdomainConcurrency bounds how many subdomains run at once.
	SubdomainConcurrency int
	QueueSize            int
	Ingest               bool
}

// Dispatcher drives the fetch pipeline for a batch of subdomains.
type Dispatcher struct {
	discoverer Discoverer
	retriever  worker.Retriever
	ingester   worker.Ingester
	reporter   report.Reporter
	ids        mirror.IDGenerator
	clock      mirror.Clock
	progress   progress.Emitter
	cfg        Config
	logger     *zap.Logger
}

// New creates a Dispatcher. reporter and ingester may be nil.
func New(
	discoverer Discoverer,
	retriever worker.Retriever,
	ingester worker.Ingester,
	reporter report.Reporter,
	ids mirror.IDGenerator,
	clock mirror.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if discoverer == nil || retriever == nil {
		return nil, fmt.Errorf("discoverer and retriever are required")
	}
	if ids == nil || clock == nil {
		return nil, fmt.Errorf("id generator and clock are required")
	}
	if cfg.StateDir == "" {
		return nil, fmt.Errorf("state dir is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.SubdomainConcurrency <= 0 {
		cfg.SubdomainConcurrency = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		discoverer: discoverer,
		retriever:  retriever,
		ingester:   ingester,
		reporter:   reporter,
		ids:        ids,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// WithProgress streams per-path progress events to emitter.
func (d *Dispatcher) WithProgress(emitter progress.Emitter) *Dispatcher {
	d.progress = emitter
	return d
}

func (d *Dispatcher) emit(evt progress.Event) {
	if d.progress == nil {
		return
	}
	evt.TS = d.clock.Now()
	d.progress.Emit(evt)
}

// Run processes every subdomain. An aborted subdomain never stops the others;
// the returned error lists every abort.
func (d *Dispatcher) Run(ctx context.Context, subdomains []string, retry bool) ([]mirror.RunSummary, error) {
	summaries := make([]mirror.RunSummary, len(subdomains))
	errs := make([]error, len(subdomains))

	var g errgroup.Group
	g.SetLimit(d.cfg.SubdomainConcurrency)
	for i, sub := range subdomains {
		g.Go(func() error {
			summaries[i], errs[i] = d.RunSubdomain(ctx, sub, retry)
			return nil
		})
	}
	_ = g.Wait()

	var aborted []error
	for _, err := range errs {
		if err != nil {
			aborted = append(aborted, err)
		}
	}
	if len(aborted) > 0 {
		return summaries, fmt.Errorf("%d of %d subdomains aborted: %w", len(aborted), len(subdomains), errors.Join(aborted...))
	}
	return summaries, nil
}

// RunSubdomain discovers the records of one subdomain and pushes each through
// the fetch state machine. The summary is always reported, also on abort.
func (d *Dispatcher) RunSubdomain(ctx context.Context, subdomain string, retry bool) (mirror.RunSummary, error) {
	summary := mirror.RunSummary{Subdomain: subdomain, Started: d.clock.Now()}
	if id, err := d.ids.NewID(); err == nil {
		summary.RunID = id
	} else {
		d.logger.Warn("run id generation failed", zap.Error(err))
	}

	err := d.runSubdomain(ctx, subdomain, retry, &summary)
	summary.Finished = d.clock.Now()
	status := "ok"
	if err != nil {
		status = "aborted"
		summary.Err = err.Error()
		d.logger.Error("subdomain aborted", zap.String("subdomain", summary.Subdomain), zap.Error(err))
	}
	telemetry.ObserveSubdomainRun(status)
	stage := progress.StageRunDone
	if err != nil {
		stage = progress.StageRunAborted
	}
	d.emit(progress.Event{
		RunID:     summary.RunID,
		Stage:     stage,
		Subdomain: summary.Subdomain,
		Keys:      summary.Ingested,
		Total:     summary.Records,
		Dur:       max(summary.Finished.Sub(summary.Started), 0),
		Note:      summary.Err,
	})

	if d.reporter != nil {
		if rerr := d.reporter.Report(ctx, summary); rerr != nil {
			d.logger.Warn("report run summary", zap.String("subdomain", summary.Subdomain), zap.Error(rerr))
		}
	}
	if err != nil {
		return summary, fmt.Errorf("subdomain %s: %w", subdomain, err)
	}
	return summary, nil
}

func (d *Dispatcher) runSubdomain(ctx context.Context, subdomain string, retry bool, summary *mirror.RunSummary) error {
	host, err := mirror.SubdomainHost(subdomain)
	if err != nil {
		return err
	}
	summary.Subdomain = host
	logger := d.logger.With(zap.String("subdomain", host))

	records, err := d.discoverer.Discover(ctx, host)
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}
	summary.Records = len(records)
	d.emit(progress.Event{RunID: summary.RunID, Stage: progress.StageRunStart, Subdomain: host, Total: len(records)})

	cp, err := checkpoint.Load(checkpoint.Path(d.cfg.StateDir, host))
	if err != nil {
		return err
	}
	w, err := worker.New(d.retriever, d.ingester, worker.Config{Retry: retry, Ingest: d.cfg.Ingest}, logger)
	if err != nil {
		return fmt.Errorf("build worker: %w", err)
	}

	var mu sync.Mutex
	sink := func(o worker.Outcome) {
		mu.Lock()
		defer mu.Unlock()
		if o.Skipped {
			summary.Skipped++
		} else if o.State == mirror.StateFetched {
			summary.Fetched++
		}
		summary.Ingested += o.Ingested
		d.emit(progress.Event{
			RunID:     summary.RunID,
			Stage:     progress.StagePathDone,
			Subdomain: host,
			Path:      o.Record.Path,
			State:     o.State,
			Skipped:   o.Skipped,
			Issues:    o.Result.Issues,
			Keys:      o.Ingested,
		})
	}

	queue := memory.NewQueue(d.cfg.QueueSize)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer queue.Close()
		for _, rec := range records {
			if err := queue.Enqueue(gctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	for range d.cfg.Workers {
		g.Go(func() error {
			return w.Run(gctx, queue, cp, sink)
		})
	}
	runErr := g.Wait()

	summary.Failed = failedPaths(host, records, cp.Failed())
	logger.Info("subdomain processed",
		zap.Int("records", summary.Records),
		zap.Int("fetched", summary.Fetched),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", len(summary.Failed)),
	)
	return runErr
}

func failedPaths(host string, records []mirror.CanonicalRecord, failed []string) []mirror.FailedPath {
	if len(failed) == 0 {
		return nil
	}
	originals := make(map[string]string, len(records))
	for _, rec := range records {
		originals[rec.Path] = rec.Original
	}
	out := make([]mirror.FailedPath, 0, len(failed))
	for _, path := range failed {
		out = append(out, mirror.FailedPath{Subdomain: host, Path: path, Original: originals[path]})
	}
	return out
}
