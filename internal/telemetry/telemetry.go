package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/rs/zerolog/log"
)

var (
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *metric.MeterProvider
)

// InitTelemetry initializes OpenTelemetry tracing and metrics for the
// ingress engine. The returned shutdown function flushes both pipelines.
func InitTelemetry(ctx context.Context, serviceName, serviceVersion string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
		),
		resource.WithHost(),
		resource.WithOS(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tracerShutdown, err := initTracing(ctx, res)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	metricsShutdown, err := initMetrics(res)
	if err != nil {
		tracerShutdown(ctx)
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	log.Info().
		Str("service", serviceName).
		Str("version", serviceVersion).
		Msg("OpenTelemetry initialized")

	return func(ctx context.Context) error {
		if err := tracerShutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown tracer")
		}
		if err := metricsShutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown metrics")
		}
		return nil
	}, nil
}

func initTracing(ctx context.Context, res *resource.Resource) (func(context.Context) error, error) {
	otlpEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otlpEndpoint == "" {
		otlpEndpoint = "localhost:4317"
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(otlpEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter,
			sdktrace.WithBatchTimeout(time.Second),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	log.Info().
		Str("endpoint", otlpEndpoint).
		Msg("OTLP trace exporter configured")

	return tracerProvider.Shutdown, nil
}

func initMetrics(res *resource.Resource) (func(context.Context) error, error) {
	prometheusExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	meterProvider = metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(prometheusExporter),
	)

	otel.SetMeterProvider(meterProvider)

	return meterProvider.Shutdown, nil
}
