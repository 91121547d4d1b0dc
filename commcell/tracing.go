package commcell

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/fjacquet/commcell-go/internal/telemetry"
)

// tracerWrapper is a nil-safe wrapper around an OpenTelemetry tracer.
// When no TracerProvider is injected it falls back to a noop provider, so
// span operations are always safe to call and add no overhead when tracing
// is disabled.
type tracerWrapper struct {
	tracer trace.Tracer
}

// newTracerWrapper creates a tracer wrapper from the given provider.
// A nil provider yields a noop tracer.
func newTracerWrapper(tp trace.TracerProvider, name string) *tracerWrapper {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &tracerWrapper{tracer: tp.Tracer(name)}
}

// StartSpan starts a span with the given operation name and kind.
// The returned span is never nil.
func (w *tracerWrapper) StartSpan(ctx context.Context, operation string, kind trace.SpanKind) (context.Context, trace.Span) {
	return w.tracer.Start(ctx, operation, trace.WithSpanKind(kind))
}

// recordRequest records the outcome of a transport request on the span.
func recordRequest(span trace.Span, method, url, endpoint, requestID string, statusCode int, durationMS float64) {
	span.SetAttributes(
		attribute.String(telemetry.AttrHTTPMethod, method),
		attribute.String(telemetry.AttrHTTPURL, url),
		attribute.Int(telemetry.AttrHTTPStatusCode, statusCode),
		attribute.Float64(telemetry.AttrHTTPDurationMS, durationMS),
		attribute.String(telemetry.AttrCommcellEndpoint, endpoint),
		attribute.String(telemetry.AttrCommcellRequestID, requestID),
	)
}

// recordSpanError marks the span as failed and records the error, with the
// vendor error code as an attribute when the error carries one.
func recordSpanError(span trace.Span, err error) {
	var sdkErr *SDKError
	if errors.As(err, &sdkErr) && sdkErr.Code != 0 {
		span.SetAttributes(attribute.Int(telemetry.AttrCommcellErrorCode, sdkErr.Code))
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
