// Package traces provides OpenTelemetry tracing for the onboarding service.
package traces

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/propline/onboarding"

// Init installs the global tracer provider.
// If otlpEndpoint is empty, the default no-op provider stays in place.
// The returned function flushes and stops the exporter.
func Init(ctx context.Context, otlpEndpoint, version string, logger *slog.Logger) (func(context.Context) error, error) {
	if otlpEndpoint == "" {
		logger.Info("tracing disabled (no OTEL_EXPORTER_OTLP_ENDPOINT set)")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(otlpEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("propline-onboarding"),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled", "endpoint", otlpEndpoint)
	return tp.Shutdown, nil
}

// StartSpan starts a span on the service tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// RecordError marks the span failed. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SessionToken tags a span with a shortened session token. Full tokens are
// bearer credentials and never leave the process.
func SessionToken(token string) attribute.KeyValue {
	if len(token) > 8 {
		token = token[:8]
	}
	return attribute.String("onboarding.token_prefix", token)
}

func Tier(tier string) attribute.KeyValue {
	return attribute.String("billing.tier", tier)
}

func IntentRef(ref string) attribute.KeyValue {
	return attribute.String("payment_intent.id", ref)
}

func EventID(id string) attribute.KeyValue {
	return attribute.String("webhook.event_id", id)
}

func EventType(t string) attribute.KeyValue {
	return attribute.String("webhook.event_type", t)
}

func Outcome(o string) attribute.KeyValue {
	return attribute.String("outcome", o)
}
