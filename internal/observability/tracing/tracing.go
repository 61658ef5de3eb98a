package tracing

import (
	"context"
	"errors"

	"github.com/smallbiznis/opsledger/internal/ledgererr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var allowedAttributeKeys = map[attribute.Key]struct{}{
	"http.method":             {},
	"http.route":              {},
	"http.status_code":        {},
	"http.server_duration_ms": {},
	"request_id":              {},
	"ledger.operation":        {},
	"ledger.account_id":       {},
	"ledger.transaction_id":   {},
	"ledger.payable_id":       {},
	"ledger.outcome":          {},
	"ledger.actor_id":         {},
	"ledger.actor_role":       {},
	"scheduler.job":           {},
}

// ExtractContext pulls propagated trace context from carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// SafeAttributes drops attributes that could carry amounts or free text.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedAttributeKeys[attr.Key]; ok {
			out = append(out, attr)
		}
	}
	return out
}

// SafeError reduces err to its taxonomy kind so span events never leak payloads.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	kind := ledgererr.KindOf(err)
	if kind == ledgererr.KindUnknown {
		return errors.New("internal_error")
	}
	return errors.New(string(kind))
}

// Start opens a span on the named tracer.
func Start(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(SafeAttributes(attrs...)...))
}

// End records the outcome of err on span and closes it.
func End(span trace.Span, err error) {
	if err != nil {
		span.SetAttributes(attribute.String("ledger.outcome", string(ledgererr.KindOf(err))))
		if !ledgererr.IsBusinessRule(err) {
			span.RecordError(SafeError(err))
			span.SetStatus(codes.Error, "operation failed")
		}
	} else {
		span.SetAttributes(attribute.String("ledger.outcome", "ok"))
	}
	span.End()
}
