// Package tracing wires OpenTelemetry. Until Init runs, spans come from the
// global noop provider.
package tracing

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/maxpert/cdcrelay/cfg"
)

const instrumentationName = "github.com/maxpert/cdcrelay"

var traceProvider *sdktrace.TracerProvider

// Tracer returns the relay's tracer from the current global provider
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Init installs an OTLP/HTTP exporting provider when tracing is enabled
func Init(ctx context.Context, conf cfg.TracingConfiguration, service, instanceID string) error {
	if !conf.Enabled {
		log.Debug().Msg("Tracing disabled")
		return nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(conf.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
		semconv.ServiceInstanceID(instanceID),
	)

	traceProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(traceProvider)

	log.Info().Str("endpoint", conf.Endpoint).Msg("OpenTelemetry tracing initialized")
	return nil
}

// Shutdown flushes pending spans
func Shutdown(ctx context.Context) {
	if traceProvider == nil {
		return
	}
	if err := traceProvider.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Error shutting down tracer")
		return
	}
	log.Info().Msg("Tracer shutdown complete")
}
