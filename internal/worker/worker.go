// Package worker runs the per-path fetch state machine.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/wayback-mirror/internal/capture"
	"github.com/JakeFAU/wayback-mirror/internal/mirror"
	"github.com/JakeFAU/wayback-mirror/internal/queue/memory"
	"github.com/JakeFAU/wayback-mirror/internal/telemetry"
)

// Retriever resolves and stores the capture of a record.
type Retriever interface {
	Retrieve(ctx context.Context, rec mirror.CanonicalRecord) (capture.Result, error)
}

// Ingester writes a stored capture into the content store.
type Ingester interface {
	Ingest(ctx context.Context, rec mirror.CanonicalRecord, reference string) (int, error)
	Ingested(ctx context.Context, rec mirror.CanonicalRecord) (bool, error)
}

// Checkpoint is the per-subdomain outcome file.
type Checkpoint interface {
	Get(path string) (mirror.FetchOutcome, bool)
	Record(path string, outcome mirror.FetchOutcome) error
}

// Source yields records until it returns memory.ErrClosed.
type Source interface {
	Dequeue(ctx context.Context) (mirror.CanonicalRecord, error)
}

// Config controls Worker behavior.
type Config struct {
	// Retry re-fetches paths whose checkpoint entry has issues.
	Retry bool
	// Ingest writes fetched captures into the content store.
	Ingest bool
}

// Outcome describes what Process did with one path.
type Outcome struct {
	Record   mirror.CanonicalRecord
	State    mirror.PathState
	Result   mirror.FetchOutcome
	Skipped  bool
	Ingested int
}

// Worker executes the fetch state machine for canonical records.
type Worker struct {
	retriever Retriever
	ingester  Ingester
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. ingester may be nil when Config.Ingest is false.
func New(retriever Retriever, ingester Ingester, cfg Config, logger *zap.Logger) (*Worker, error) {
	if retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if cfg.Ingest && ingester == nil {
		return nil, fmt.Errorf("ingester is required when ingest is enabled")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{retriever: retriever, ingester: ingester, cfg: cfg, logger: logger}, nil
}

// Run consumes records from src until it is drained or ctx ends. The first
// error that must abort the subdomain is returned.
func (w *Worker) Run(ctx context.Context, src Source, cp Checkpoint, sink func(Outcome)) error {
	for {
		rec, err := src.Dequeue(ctx)
		if errors.Is(err, memory.ErrClosed) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("dequeue: %w", err)
		}
		outcome, err := w.Process(ctx, rec, cp)
		if err != nil {
			return err
		}
		if sink != nil {
			sink(outcome)
		}
	}
}

// Process moves one path through UNSEEN -> FETCHING -> {FETCHED, FAILED}.
//
// A checkpointed path is skipped without network access when it succeeded or
// retry is off. Otherwise the capture is resolved, optionally ingested, and the
// outcome is recorded. The checkpoint is written only after every dependent
// write finished, so an error leaves the path in its previous state.
func (w *Worker) Process(ctx context.Context, rec mirror.CanonicalRecord, cp Checkpoint) (Outcome, error) {
	logger := w.logger.With(zap.String("subdomain", rec.Subdomain), zap.String("path", rec.Path))

	if prev, ok := cp.Get(rec.Path); ok && (prev.Succeeded() || !w.cfg.Retry) {
		return w.short(ctx, rec, prev, logger)
	}

	ctx, span := telemetry.Tracer().Start(ctx, "worker.Process")
	defer span.End()
	span.SetAttributes(
		attribute.String("mirror.subdomain", rec.Subdomain),
		attribute.String("mirror.path", rec.Path),
	)
	telemetry.IncActiveWorkers()
	defer telemetry.DecActiveWorkers()
	logger.Debug("fetching", zap.String("state", string(mirror.StateFetching)), zap.String("timestamp", rec.Timestamp))

	res, err := w.retriever.Retrieve(ctx, rec)
	if err != nil {
		span.RecordError(err)
		return Outcome{}, fmt.Errorf("retrieve %s: %w", rec.Path, err)
	}
	result := mirror.FetchOutcome{Reference: res.Reference, Issues: res.Issues}
	if !result.Issues && result.Reference == "" {
		result.Issues = true
	}

	out := Outcome{Record: rec, Result: result, State: mirror.StateFailed}
	if !result.Issues && w.cfg.Ingest {
		n, err := w.ingester.Ingest(ctx, rec, result.Reference)
		if err != nil {
			span.RecordError(err)
			return Outcome{}, fmt.Errorf("ingest %s: %w", rec.Path, err)
		}
		out.Ingested = n
	}
	if err := cp.Record(rec.Path, result); err != nil {
		span.RecordError(err)
		return Outcome{}, fmt.Errorf("checkpoint %s: %w", rec.Path, err)
	}

	if result.Issues {
		telemetry.ObservePath(rec.Subdomain, string(mirror.StateFailed))
		logger.Warn("path has issues", zap.String("reason", res.Reason), zap.Int("status", res.StatusCode))
		return out, nil
	}
	out.State = mirror.StateFetched
	telemetry.ObservePath(rec.Subdomain, string(mirror.StateFetched))
	logger.Info("path fetched", zap.String("reference", result.Reference), zap.Int("keys", out.Ingested))
	return out, nil
}

func (w *Worker) short(ctx context.Context, rec mirror.CanonicalRecord, prev mirror.FetchOutcome, logger *zap.Logger) (Outcome, error) {
	out := Outcome{Record: rec, Result: prev, Skipped: true, State: mirror.StateFailed}
	if prev.Succeeded() {
		out.State = mirror.StateFetched
	}
	logger.Debug("checkpoint hit", zap.String("state", string(out.State)))
	telemetry.ObservePath(rec.Subdomain, "skipped")

	if !w.cfg.Ingest || !prev.Succeeded() {
		return out, nil
	}
	done, err := w.ingester.Ingested(ctx, rec)
	if err != nil {
		return Outcome{}, fmt.Errorf("check ingest %s: %w", rec.Path, err)
	}
	if done {
		return out, nil
	}
	n, err := w.ingester.Ingest(ctx, rec, prev.Reference)
	if err != nil {
		return Outcome{}, fmt.Errorf("ingest %s: %w", rec.Path, err)
	}
	out.Ingested = n
	return out, nil
}
