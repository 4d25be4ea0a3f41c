// Package telemetry unifies OpenTelemetry tracing and Prometheus metrics for the mirror.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/JakeFAU/wayback-mirror"

// --- CUSTOM METRIC DEFINITIONS ---

var (
	mirrorPathsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_paths_total",
			Help: "Total number of canonical paths processed, labeled by subdomain and outcome.",
		},
		[]string{"subdomain", "outcome"},
	)

	archiveRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_archive_requests_total",
			Help: "Total number of archive HTTP requests, labeled by host and code.",
		},
		[]string{"host", "code"},
	)

	archiveBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_archive_bytes_total",
			Help: "Total number of bytes fetched from the archive, labeled by host.",
		},
		[]string{"host"},
	)

	archiveRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_archive_retries_total",
			Help: "Total number of retried archive requests, labeled by host.",
		},
		[]string{"host"},
	)

	storeWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_store_writes_total",
			Help: "Total number of content store writes, labeled by kind.",
		},
		[]string{"kind"},
	)

	subdomainRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_subdomain_runs_total",
			Help: "Total number of subdomain runs, labeled by status.",
		},
		[]string{"status"},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mirror_active_workers",
			Help: "Number of workers currently processing a path.",
		},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mirror_rate_limit_delays_seconds",
			Help:    "Histogram of rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests served, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "route"},
	)
)

// Config controls tracing and metric export.
type Config struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
	Version     string
}

var (
	initOnce  sync.Once
	traceProv *sdktrace.TracerProvider
	meterProv *metric.MeterProvider
	initErr   error

	shutdownOnce sync.Once
	shutdownErr  error
)

// --- INITIALIZATION ---

// InitTelemetry sets up tracing (OTLP over HTTP when enabled) and bridges OTel metrics
// into the default Prometheus registry. Safe to call more than once.
func InitTelemetry(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, *metric.MeterProvider, error) {
	initOnce.Do(func() {
		serviceName := cfg.ServiceName
		if serviceName == "" {
			serviceName = "wayback-mirror"
		}
		res, err := resource.New(ctx,
			resource.WithAttributes(
				semconv.ServiceName(serviceName),
				semconv.ServiceVersion(cfg.Version),
			),
		)
		if err != nil {
			initErr = fmt.Errorf("failed to create resource: %w", err)
			return
		}

		opts := []sdktrace.TracerProviderOption{
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		}
		if cfg.Enabled {
			exporterOpts := []otlptracehttp.Option{}
			if cfg.Endpoint != "" {
				exporterOpts = append(exporterOpts, otlptracehttp.WithEndpointURL(cfg.Endpoint))
			}
			exporter, err := otlptracehttp.New(ctx, exporterOpts...)
			if err != nil {
				initErr = fmt.Errorf("failed to create otlp trace exporter: %w", err)
				return
			}
			opts = append(opts, sdktrace.WithBatcher(exporter))
		}

		tp := sdktrace.NewTracerProvider(opts...)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(
			propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
		)

		promExporter, err := otelprom.New(
			otelprom.WithRegisterer(prometheus.DefaultRegisterer),
		)
		if err != nil {
			initErr = fmt.Errorf("failed to create prometheus exporter: %w", err)
			return
		}
		mp := metric.NewMeterProvider(
			metric.WithResource(res),
			metric.WithReader(promExporter),
		)
		otel.SetMeterProvider(mp)
		traceProv = tp
		meterProv = mp
	})
	return traceProv, meterProv, initErr
}

// Shutdown flushes and stops the providers created by InitTelemetry. Only the
// first call does any work.
func Shutdown(ctx context.Context) error {
	shutdownOnce.Do(func() {
		var errs []error
		if traceProv != nil {
			errs = append(errs, traceProv.Shutdown(ctx))
		}
		if meterProv != nil {
			errs = append(errs, meterProv.Shutdown(ctx))
		}
		shutdownErr = errors.Join(errs...)
	})
	return shutdownErr
}

// Tracer returns the tracer used by pipeline components.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// --- HTTP HANDLER & MIDDLEWARE ---

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			routePattern = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, routePattern, ww.statusCode, time.Since(start))
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// --- HELPER FUNCTIONS ---

// SanitizeHost extracts the lowercase hostname from a URL.
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// ObserveArchiveRequest records one archive HTTP exchange.
func ObserveArchiveRequest(rawURL string, code int, bytesFetched int) {
	host := SanitizeHost(rawURL)
	archiveRequestsTotal.WithLabelValues(host, strconv.Itoa(code)).Inc()
	if bytesFetched > 0 {
		archiveBytesTotal.WithLabelValues(host).Add(float64(bytesFetched))
	}
}

// ObserveRetry records a retried archive request.
func ObserveRetry(rawURL string) {
	archiveRetriesTotal.WithLabelValues(SanitizeHost(rawURL)).Inc()
}

// ObservePath records the outcome of one canonical path.
func ObservePath(subdomain, outcome string) {
	mirrorPathsTotal.WithLabelValues(subdomain, outcome).Inc()
}

// ObserveStoreWrite records a content store write.
func ObserveStoreWrite(kind string) {
	storeWritesTotal.WithLabelValues(kind).Inc()
}

// ObserveSubdomainRun records the terminal status of one subdomain run.
func ObserveSubdomainRun(status string) {
	subdomainRunsTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest records metrics for an HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active worker count.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active worker count.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}
