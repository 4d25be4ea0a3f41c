// Package report delivers per-subdomain run summaries and the failed-path list.
package report

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/wayback-mirror/internal/mirror"
)

// Topic is the attribute attached to published run summaries.
const Topic = "run_summary"

// Reporter receives the summary of each finished subdomain run.
type Reporter interface {
	Report(ctx context.Context, summary mirror.RunSummary) error
}

// Multi fans a summary out to every reporter and joins their errors.
type Multi []Reporter

// Report implements Reporter.
func (m Multi) Report(ctx context.Context, summary mirror.RunSummary) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Report(ctx, summary); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes a summary line per run.
type Log struct {
	logger *zap.Logger
}

// NewLog builds a logging reporter.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

// Report implements Reporter.
func (l *Log) Report(_ context.Context, s mirror.RunSummary) error {
	fields := []zap.Field{
		zap.String("run_id", s.RunID),
		zap.String("subdomain", s.Subdomain),
		zap.Int("records", s.Records),
		zap.Int("fetched", s.Fetched),
		zap.Int("skipped", s.Skipped),
		zap.Int("ingested", s.Ingested),
		zap.Int("failed", len(s.Failed)),
		zap.Duration("elapsed", s.Finished.Sub(s.Started)),
	}
	if s.Err != "" {
		l.logger.Error("subdomain aborted", append(fields, zap.String("error", s.Err))...)
		return nil
	}
	l.logger.Info("subdomain finished", fields...)
	return nil
}

// Publisher sends summaries to a message topic.
type Publisher struct {
	pub mirror.Publisher
}

// NewPublisher wraps a mirror.Publisher.
func NewPublisher(pub mirror.Publisher) *Publisher {
	return &Publisher{pub: pub}
}

// Report implements Reporter.
func (p *Publisher) Report(ctx context.Context, s mirror.RunSummary) error {
	if _, err := p.pub.Publish(ctx, Topic, s); err != nil {
		return fmt.Errorf("publish summary for %s: %w", s.Subdomain, err)
	}
	return nil
}

// SummaryStore persists run summaries.
type SummaryStore interface {
	StoreSummary(ctx context.Context, summary mirror.RunSummary) error
}

// Store writes summaries into a SummaryStore.
type Store struct {
	store SummaryStore
}

// NewStore wraps a SummaryStore.
func NewStore(store SummaryStore) *Store {
	return &Store{store: store}
}

// Report implements Reporter.
func (s *Store) Report(ctx context.Context, summary mirror.RunSummary) error {
	if err := s.store.StoreSummary(ctx, summary); err != nil {
		return fmt.Errorf("store summary for %s: %w", summary.Subdomain, err)
	}
	return nil
}
