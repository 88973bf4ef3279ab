// Package telemetry provides OpenTelemetry OTLP gRPC export integration.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// OTLPConfig configures the OpenTelemetry OTLP gRPC exporter.
type OTLPConfig struct {
	// Endpoint is the OTLP gRPC endpoint (e.g., "localhost:4317")
	Endpoint string

	// ServiceName identifies this service in traces
	ServiceName string

	// ServiceVersion is the version of this service
	ServiceVersion string

	// Environment is the deployment environment (e.g., "production", "staging")
	Environment string

	// InsecureTLS disables TLS for the gRPC connection (use for local dev)
	InsecureTLS bool

	// Headers are additional headers to send with each request (e.g., auth tokens)
	Headers map[string]string

	// BatchTimeout is how long to wait before sending a batch of spans
	BatchTimeout time.Duration

	// MaxBatchSize is the maximum number of spans per batch
	MaxBatchSize int

	// MaxQueueSize is the maximum number of spans to queue before dropping
	MaxQueueSize int

	// ExportTimeout is the timeout for exporting a batch
	ExportTimeout time.Duration

	// SamplingRatio is the fraction of traces to sample (0.0 to 1.0)
	SamplingRatio float64
}

// DefaultOTLPConfig returns sensible defaults for OTLP configuration.
func DefaultOTLPConfig(serviceName string) OTLPConfig {
	return OTLPConfig{
		Endpoint:       "localhost:4317",
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    "development",
		InsecureTLS:    true,
		BatchTimeout:   5 * time.Second,
		MaxBatchSize:   512,
		MaxQueueSize:   2048,
		ExportTimeout:  30 * time.Second,
		SamplingRatio:  1.0,
	}
}

// OTLPExporter manages the OpenTelemetry OTLP gRPC exporter lifecycle.
type OTLPExporter struct {
	mu sync.Mutex

	cfg            OTLPConfig
	tracerProvider *sdktrace.TracerProvider
	shutdown       func(context.Context) error
	initialized    bool
}

// NewOTLPExporter creates a new OTLP gRPC exporter.
func NewOTLPExporter(cfg OTLPConfig) *OTLPExporter {
	return &OTLPExporter{cfg: cfg}
}

// Init initializes the OTLP exporter and sets up the global tracer provider.
// Returns a shutdown function that should be called to flush and close the exporter.
func (e *OTLPExporter) Init(ctx context.Context) (func(context.Context) error, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return e.shutdown, nil
	}

	opts := []grpc.DialOption{}
	if e.cfg.InsecureTLS {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	exporterOpts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(e.cfg.Endpoint),
		otlptracegrpc.WithDialOption(opts...),
		otlptracegrpc.WithTimeout(e.cfg.ExportTimeout),
	}

	if e.cfg.InsecureTLS {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithInsecure())
	}

	if len(e.cfg.Headers) > 0 {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithHeaders(e.cfg.Headers))
	}

	exporter, err := otlptracegrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(e.cfg.ServiceName),
			semconv.ServiceVersion(e.cfg.ServiceVersion),
			semconv.DeploymentEnvironment(e.cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var sampler sdktrace.Sampler
	if e.cfg.SamplingRatio >= 1.0 {
		sampler = sdktrace.AlwaysSample()
	} else if e.cfg.SamplingRatio <= 0 {
		sampler = sdktrace.NeverSample()
	} else {
		sampler = sdktrace.TraceIDRatioBased(e.cfg.SamplingRatio)
	}

	bspOpts := []sdktrace.BatchSpanProcessorOption{
		sdktrace.WithBatchTimeout(e.cfg.BatchTimeout),
		sdktrace.WithMaxExportBatchSize(e.cfg.MaxBatchSize),
		sdktrace.WithMaxQueueSize(e.cfg.MaxQueueSize),
		sdktrace.WithExportTimeout(e.cfg.ExportTimeout),
	}

	e.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, bspOpts...),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(e.tracerProvider)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	e.shutdown = func(ctx context.Context) error {
		e.mu.Lock()
		defer e.mu.Unlock()

		if !e.initialized {
			return nil
		}

		e.initialized = false
		return e.tracerProvider.Shutdown(ctx)
	}

	e.initialized = true
	return e.shutdown, nil
}

// InitOTLP initializes OpenTelemetry with gRPC exporter and returns shutdown function.
// This is the main entry point for enabling OTLP export.
func InitOTLP(cfg OTLPConfig) (func(context.Context) error, error) {
	exporter := NewOTLPExporter(cfg)
	return exporter.Init(context.Background())
}

// GlobalTracer returns the global OTEL tracer.
func GlobalTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartSpanFromContext starts a span using the global tracer.
func StartSpanFromContext(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer("").Start(ctx, name, opts...)
}

// RecordError records an error on the current span from context.
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if span != nil {
		span.RecordError(err)
	}
}

// AddSpanEvent adds an event to the current span from context.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span != nil {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

// SetSpanAttributes sets attributes on the current span from context.
func SetSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span != nil {
		span.SetAttributes(attrs...)
	}
}
