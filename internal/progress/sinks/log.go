package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/wayback-mirror/internal/progress"
)

// LogSink logs run milestones at info and every path at debug. Every
// Interval-th path of a run is also logged at info as a done/total line.
type LogSink struct {
	logger   *zap.Logger
	interval int
	runs     map[string]*runCount
}

type runCount struct {
	done  int
	total int
}

// NewLogSink wires a Zap logger to the sink interface. interval <= 0 disables
// the periodic progress line.
func NewLogSink(logger *zap.Logger, interval int) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger, interval: interval, runs: make(map[string]*runCount)}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		logger := s.logger.With(zap.String("subdomain", evt.Subdomain), zap.String("run_id", evt.RunID))
		switch evt.Stage {
		case progress.StageRunStart:
			s.runs[evt.RunID] = &runCount{total: evt.Total}
			logger.Info("run started", zap.Int("records", evt.Total))
		case progress.StagePathDone:
			logger.Debug("path done",
				zap.String("path", evt.Path),
				zap.String("outcome", evt.Outcome()),
				zap.Int("keys", evt.Keys),
				zap.Duration("dur", evt.Dur),
			)
			rc := s.runs[evt.RunID]
			if rc == nil {
				continue
			}
			rc.done++
			if s.interval > 0 && rc.done%s.interval == 0 {
				logger.Info("run progress", zap.Int("done", rc.done), zap.Int("total", rc.total))
			}
		case progress.StageRunDone, progress.StageRunAborted:
			delete(s.runs, evt.RunID)
			logger.Info("run finished",
				zap.String("stage", string(evt.Stage)),
				zap.Duration("dur", evt.Dur),
				zap.String("note", evt.Note),
			)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
