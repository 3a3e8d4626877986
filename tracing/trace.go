// Package tracing wires the process-wide OpenTelemetry tracer provider
// and offers a small helper for starting spans around session work.
package tracing

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "docstream"

// Options selects the span exporter. With Jaeger disabled the provider
// still runs so spans stay cheap no-ops for callers.
type Options struct {
	EnableJaeger   bool
	JaegerEndpoint string
}

// InitTracerProvider installs the global tracer provider and returns it
// so the caller can shut it down on exit.
func InitTracerProvider(log logr.Logger, o Options) (*tracesdk.TracerProvider, error) {
	providerOptions := []tracesdk.TracerProviderOption{
		tracesdk.WithSampler(tracesdk.AlwaysSample()),
		tracesdk.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		)),
	}
	if o.EnableJaeger {
		exp, err := jaeger.New(
			jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(o.JaegerEndpoint)),
		)
		if err != nil {
			log.Error(err, "failed to create jaeger exporter")
			return nil, err
		}
		providerOptions = append(providerOptions, tracesdk.WithBatcher(exp))
	}

	tp := tracesdk.NewTracerProvider(providerOptions...)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// Shutdown flushes pending spans, bounded to a few seconds so server
// shutdown is never held hostage by a slow collector.
func Shutdown(ctx context.Context, log logr.Logger, tp *tracesdk.TracerProvider) {
	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()
	if err := tp.Shutdown(ctx); err != nil {
		log.Error(err, "error shutting down tracer provider")
	}
}

// StartNewSpan begins a span on the global tracer with the given
// attributes attached.
func StartNewSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("").Start(ctx, name)
	span.SetAttributes(attrs...)
	return ctx, span
}
