// Package telemetry exposes acquisition metrics through OpenTelemetry with a
// Prometheus exporter.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"docharvest/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
}

// Telemetry holds metric instruments. The zero value and a nil *Telemetry
// are both valid and record nothing.
type Telemetry struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	exporter      *prometheus.Exporter

	apiRequestsTotal   metric.Int64Counter
	apiRequestDuration metric.Float64Histogram
	rateLimitEvents    metric.Int64Counter
	filesTotal         metric.Int64Counter
	bytesDownloaded    metric.Int64Counter
	pagesTotal         metric.Int64Counter
	tasksTotal         metric.Int64Counter
}

// New creates a telemetry instance. When disabled it returns an inert value.
func New(cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "docharvest"
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	t := &Telemetry{
		meterProvider: provider,
		meter:         provider.Meter(cfg.ServiceName, metric.WithInstrumentationVersion(cfg.ServiceVersion)),
		exporter:      exporter,
	}
	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	return t, nil
}

func (t *Telemetry) initializeMetrics() error {
	var err error

	if t.apiRequestsTotal, err = t.meter.Int64Counter(
		"docharvest_api_requests_total",
		metric.WithDescription("GitHub API requests by kind and status"),
	); err != nil {
		return err
	}
	if t.apiRequestDuration, err = t.meter.Float64Histogram(
		"docharvest_api_request_duration_seconds",
		metric.WithDescription("GitHub API request duration"),
		metric.WithUnit("s"),
	); err != nil {
		return err
	}
	if t.rateLimitEvents, err = t.meter.Int64Counter(
		"docharvest_rate_limit_events_total",
		metric.WithDescription("Rate limit slowdowns, waits and refusals"),
	); err != nil {
		return err
	}
	if t.filesTotal, err = t.meter.Int64Counter(
		"docharvest_files_total",
		metric.WithDescription("Repository files processed by outcome"),
	); err != nil {
		return err
	}
	if t.bytesDownloaded, err = t.meter.Int64Counter(
		"docharvest_downloaded_bytes",
		metric.WithDescription("Bytes written to the cache"),
	); err != nil {
		return err
	}
	if t.pagesTotal, err = t.meter.Int64Counter(
		"docharvest_pages_total",
		metric.WithDescription("Crawled pages by outcome"),
	); err != nil {
		return err
	}
	if t.tasksTotal, err = t.meter.Int64Counter(
		"docharvest_tasks_total",
		metric.WithDescription("Finished tasks by type and status"),
	); err != nil {
		return err
	}
	return nil
}

// Enabled reports whether metrics are being recorded.
func (t *Telemetry) Enabled() bool {
	return t != nil && t.exporter != nil
}

// RecordAPIRequest records one API round trip.
func (t *Telemetry) RecordAPIRequest(kind string, status int, duration time.Duration) {
	if !t.Enabled() {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Int("status", status),
	)
	t.apiRequestsTotal.Add(context.Background(), 1, attrs)
	t.apiRequestDuration.Record(context.Background(), duration.Seconds(), attrs)
}

// RecordRateLimit records a rate limit event such as "slowdown", "wait" or
// "refused".
func (t *Telemetry) RecordRateLimit(event string) {
	if !t.Enabled() {
		return
	}
	t.rateLimitEvents.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("event", event)))
}

// RecordFile records one processed repository file.
func (t *Telemetry) RecordFile(status string, size int) {
	if !t.Enabled() {
		return
	}
	t.filesTotal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("status", status)))
	if size > 0 {
		t.bytesDownloaded.Add(context.Background(), int64(size))
	}
}

// RecordPage records one crawled page.
func (t *Telemetry) RecordPage(status string) {
	if !t.Enabled() {
		return
	}
	t.pagesTotal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("status", status)))
}

// RecordTask records a finished task.
func (t *Telemetry) RecordTask(taskType, status string) {
	if !t.Enabled() {
		return
	}
	t.tasksTotal.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("type", taskType),
			attribute.String("status", status),
		))
}

// Handler returns the HTTP handler for the metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if !t.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.Handler()
}

// Router mounts /metrics and /healthz.
func (t *Telemetry) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", t.Handler())
	return r
}

// Serve runs the metrics server on addr until ctx is done.
func (t *Telemetry) Serve(ctx context.Context, addr string, log logger.Logger) error {
	log = logger.OrDefault(log)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           t.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.InfoWithFields("Metrics endpoint listening", map[string]interface{}{
		"addr": ln.Addr().String(),
	})
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown flushes and stops the meter provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.meterProvider == nil {
		return nil
	}
	return t.meterProvider.Shutdown(ctx)
}
