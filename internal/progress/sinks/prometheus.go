package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/wayback-mirror/internal/progress"
)

// PrometheusSink exports per-subdomain run progress as gauges so a dashboard
// can show how far each subdomain has come.
type PrometheusSink struct {
	runsRunning prometheus.Gauge
	runsDone    *prometheus.CounterVec
	runRuntime  *prometheus.HistogramVec
	pathsTotal  *prometheus.GaugeVec
	pathsDone   *prometheus.GaugeVec
	pathEvents  *prometheus.CounterVec
	pathKeys    *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil. Sinks built on the same registry share collectors.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	var err error
	s := &PrometheusSink{}
	if s.runsRunning, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mirror_progress_runs_running",
		Help: "Subdomain runs currently in progress.",
	})); err != nil {
		return nil, err
	}
	if s.runsDone, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mirror_progress_runs_finished_total",
		Help: "Finished subdomain runs partitioned by result.",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if s.runRuntime, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mirror_progress_run_seconds",
		Help:    "Wall time per finished subdomain run.",
		Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200, 14400, 43200},
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if s.pathsTotal, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mirror_progress_paths_total",
		Help: "Canonical records in the current run of a subdomain.",
	}, []string{"subdomain"})); err != nil {
		return nil, err
	}
	if s.pathsDone, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mirror_progress_paths_done",
		Help: "Canonical records processed so far in the current run of a subdomain.",
	}, []string{"subdomain"})); err != nil {
		return nil, err
	}
	if s.pathEvents, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mirror_progress_path_events_total",
		Help: "Processed paths partitioned by subdomain and outcome.",
	}, []string{"subdomain", "outcome"})); err != nil {
		return nil, err
	}
	if s.pathKeys, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mirror_progress_alias_keys_total",
		Help: "Alias keys written to the content store per subdomain.",
	}, []string{"subdomain"})); err != nil {
		return nil, err
	}
	return s, nil
}

// register adds c to reg, handing back the collector that is already
// registered under the same descriptor instead of failing.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register progress collector: %w", err)
	}
	return c, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsRunning.Inc()
			s.pathsTotal.WithLabelValues(evt.Subdomain).Set(float64(evt.Total))
			s.pathsDone.WithLabelValues(evt.Subdomain).Set(0)
		case progress.StagePathDone:
			s.pathsDone.WithLabelValues(evt.Subdomain).Inc()
			s.pathEvents.WithLabelValues(evt.Subdomain, evt.Outcome()).Inc()
			if evt.Keys > 0 {
				s.pathKeys.WithLabelValues(evt.Subdomain).Add(float64(evt.Keys))
			}
		case progress.StageRunDone:
			s.finish("success", evt)
		case progress.StageRunAborted:
			s.finish("aborted", evt)
		}
	}
	return nil
}

func (s *PrometheusSink) finish(result string, evt progress.Event) {
	s.runsRunning.Dec()
	s.runsDone.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
