package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls observability initialisation.
type Config struct {
	Enabled      bool
	ServiceName  string
	Environment  string
	OTLPEndpoint string
	OTLPHeaders  map[string]string
	OTLPInsecure bool
}

// Providers exposes configured telemetry providers.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Propagator     propagation.TextMapPropagator
	MetricsHandler http.Handler
	Shutdown       func(ctx context.Context) error
	Config         Config
}

var (
	initOnce sync.Once

	queueTracer trace.Tracer

	claimTotal      metric.Int64Counter
	jobOutcomeTotal metric.Int64Counter
	jobDuration     metric.Float64Histogram
	recoveryTotal   metric.Int64Counter
	checkpointTotal metric.Int64Counter
	queueDepthGauge metric.Int64Gauge
)

// Init configures tracing and metrics exporters. When cfg.Enabled is false the function is a no-op.
func Init(ctx context.Context, cfg Config) (*Providers, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "harrier"
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	var spanExporter sdktrace.SpanExporter
	if cfg.OTLPEndpoint != "" {
		clientOpts := []otlptracehttp.Option{
			getOTLPEndpointOption(cfg.OTLPEndpoint),
		}
		if cfg.OTLPInsecure {
			clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
		}
		if len(cfg.OTLPHeaders) > 0 {
			clientOpts = append(clientOpts, otlptracehttp.WithHeaders(cfg.OTLPHeaders))
		}

		exp, err := otlptracehttp.New(ctx, clientOpts...)
		if err != nil {
			// Log but don't fail startup - the queue must run without traces
			fmt.Printf("WARN: Failed to create OTLP trace exporter (traces disabled): %v\n", err)
		} else {
			spanExporter = exp
		}
	}

	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}
	if spanExporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(spanExporter))
	}

	tracerProvider := sdktrace.NewTracerProvider(traceOpts...)
	otel.SetTracerProvider(tracerProvider)

	prop := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	otel.SetTextMapPropagator(prop)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	promExporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
	)
	if err != nil {
		_ = tracerProvider.Shutdown(ctx) // best-effort cleanup
		return nil, fmt.Errorf("create Prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	)
	otel.SetMeterProvider(meterProvider)

	initOnce.Do(func() {
		queueTracer = tracerProvider.Tracer("harrier/queue")
		_ = initQueueInstruments(meterProvider)
	})

	shutdown := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		var allErr error
		if err := meterProvider.Shutdown(ctx); err != nil {
			allErr = errors.Join(allErr, fmt.Errorf("metric provider shutdown: %w", err))
		}
		if err := tracerProvider.Shutdown(ctx); err != nil {
			allErr = errors.Join(allErr, fmt.Errorf("trace provider shutdown: %w", err))
		}
		return allErr
	}

	return &Providers{
		TracerProvider: tracerProvider,
		MeterProvider:  meterProvider,
		Propagator:     prop,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Shutdown:       shutdown,
		Config:         cfg,
	}, nil
}

func getOTLPEndpointOption(endpoint string) otlptracehttp.Option {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return otlptracehttp.WithEndpointURL(endpoint)
	}
	return otlptracehttp.WithEndpoint(endpoint)
}

// WrapHandler applies OpenTelemetry instrumentation to an http.Handler when the providers are active.
func WrapHandler(handler http.Handler, prov *Providers) http.Handler {
	if prov == nil || prov.TracerProvider == nil {
		return handler
	}

	options := []otelhttp.Option{
		otelhttp.WithTracerProvider(prov.TracerProvider),
		otelhttp.WithPropagators(prov.Propagator),
		otelhttp.WithMeterProvider(prov.MeterProvider),
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return fmt.Sprintf("%s %s", r.Method, r.URL.Path)
		}),
		// Skip tracing for health checks to reduce noise
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health"
		}),
	}

	return otelhttp.NewHandler(handler, "http.server", options...)
}

func initQueueInstruments(meterProvider *sdkmetric.MeterProvider) error {
	if meterProvider == nil {
		return nil
	}

	meter := meterProvider.Meter("harrier/queue")

	var err error
	claimTotal, err = meter.Int64Counter(
		"harrier.queue.claims.total",
		metric.WithDescription("Counts claim attempts by outcome (claimed/empty/error)"),
	)
	if err != nil {
		return err
	}

	jobOutcomeTotal, err = meter.Int64Counter(
		"harrier.job.outcomes.total",
		metric.WithDescription("Counts supervised jobs by terminal status"),
	)
	if err != nil {
		return err
	}

	jobDuration, err = meter.Float64Histogram(
		"harrier.job.duration_ms",
		metric.WithUnit("ms"),
		metric.WithDescription("Wall-clock time a runner held a job"),
	)
	if err != nil {
		return err
	}

	recoveryTotal, err = meter.Int64Counter(
		"harrier.watchdog.recoveries.total",
		metric.WithDescription("Counts watchdog recoveries by result (requeued/failed)"),
	)
	if err != nil {
		return err
	}

	checkpointTotal, err = meter.Int64Counter(
		"harrier.runner.checkpoints.total",
		metric.WithDescription("Counts checkpoint writes by runners"),
	)
	if err != nil {
		return err
	}

	queueDepthGauge, err = meter.Int64Gauge(
		"harrier.queue.depth",
		metric.WithDescription("Jobs per status at the last janitor sweep"),
	)
	return err
}

// RecordClaim counts one claim attempt. Outcome is claimed, empty or error.
func RecordClaim(ctx context.Context, outcome string) {
	if claimTotal != nil {
		claimTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("claim.outcome", outcome)))
	}
}

// RecordJobOutcome counts one supervised job reaching a settled status.
func RecordJobOutcome(ctx context.Context, status string, elapsed time.Duration) {
	if jobOutcomeTotal != nil {
		jobOutcomeTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("job.status", status)))
	}
	if jobDuration != nil {
		jobDuration.Record(ctx, float64(elapsed.Milliseconds()),
			metric.WithAttributes(attribute.String("job.status", status)))
	}
}

// RecordWatchdogRecovery counts one recovery. Result is requeued or failed.
func RecordWatchdogRecovery(ctx context.Context, result string) {
	if recoveryTotal != nil {
		recoveryTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("recovery.result", result)))
	}
}

// RecordCheckpoint counts one checkpoint write for a job.
func RecordCheckpoint(ctx context.Context, jobID string) {
	if checkpointTotal != nil {
		checkpointTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("job.id", jobID)))
	}
}

// SetQueueDepth records the current number of jobs in one status.
func SetQueueDepth(ctx context.Context, status string, count int64) {
	if queueDepthGauge != nil {
		queueDepthGauge.Record(ctx, count,
			metric.WithAttributes(attribute.String("job.status", status)))
	}
}

// StartSpan starts a queue-engine span when tracing is initialised.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	t := queueTracer
	if t == nil {
		t = otel.Tracer("harrier/queue")
	}
	return t.Start(ctx, name, trace.WithAttributes(attrs...))
}
